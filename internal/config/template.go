package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Template is a commented starting configuration
const Template = `# backup-sentinel configuration
# Every key can be overridden with SENTINEL_<SECTION>_<KEY>, e.g. SENTINEL_DATABASE_PASSWORD.

log:
  level: normal           # quiet, normal, verbose, debug
  format: text            # text or json
  # file: /var/log/backup-sentinel.log

# Backup history database
database:
  host: localhost
  port: 3306
  username: sentinel
  password: ""            # prefer SENTINEL_DATABASE_PASSWORD
  database: backup_sentinel
  timeout: 30s

history:
  backend: mysql          # mysql or memory
  auto_migrate: true

# Where exports are written
storage:
  default_bucket: backup-bucket
  default_prefix: backups/
  default_scheme: gs      # gs, s3, azure, file
  gcs:
    enabled: true
    # credentials_path: /etc/backup-sentinel/gcp.json
  # s3:
  #   region: us-east-1
  # azure:
  #   account_name: ""
  #   account_key: ""
  # local:
  #   base_path: /var/backups

# Content scanning of sensitive columns
scan:
  provider: none          # none, dlp, dump
  location: global
  min_likelihood: POSSIBLE
  poll_interval: 2s
  timeout: 2m

catalog:
  source: mysql           # mysql, file, none
  # path: /etc/backup-sentinel/catalog.yaml

detection:
  sample_bytes: 65536

verification:
  min_backup_interval: 1h

dedup:
  capacity: 1000

alerts:
  enabled: true
  min_severity: WARNING
  # cloud_monitoring:
  #   project_id: my-project
  # slack:
  #   webhook_url: https://hooks.slack.com/services/...
  # webhook:
  #   url: https://alerts.example.com/hook
  # file:
  #   path: /var/log/backup-sentinel/alerts.jsonl

pubsub:
  enabled: true
  # project_id: my-project
  subscription: backup-request-subscription
  max_messages: 10
  workers: 4
  poll_interval: 5s

metrics:
  enabled: true
  listen_address: ":9090"
`

// WriteTemplate writes Template to path. An existing file is only replaced
// when force is set.
func WriteTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// YAML renders the effective configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.Database.Password = mask(masked.Database.Password)
	if c.Storage.S3 != nil {
		s3 := *c.Storage.S3
		s3.SecretKey = mask(s3.SecretKey)
		masked.Storage.S3 = &s3
	}
	if c.Storage.Azure != nil {
		az := *c.Storage.Azure
		az.AccountKey = mask(az.AccountKey)
		masked.Storage.Azure = &az
	}
	return yaml.Marshal(&masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
