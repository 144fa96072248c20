package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"backup-sentinel/internal/alerting"
	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/database"
	"backup-sentinel/internal/listener"
	"backup-sentinel/internal/logging"
	"backup-sentinel/internal/scan"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "SENTINEL"

// Config is the complete service configuration
type Config struct {
	Log          LogConfig               `mapstructure:"log" yaml:"log"`
	Database     database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	History      HistoryConfig           `mapstructure:"history" yaml:"history"`
	Storage      backup.StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Scan         scan.Config             `mapstructure:"scan" yaml:"scan"`
	Catalog      CatalogConfig           `mapstructure:"catalog" yaml:"catalog"`
	Detection    DetectionConfig         `mapstructure:"detection" yaml:"detection"`
	Verification VerificationConfig      `mapstructure:"verification" yaml:"verification"`
	Dedup        DedupConfig             `mapstructure:"dedup" yaml:"dedup"`
	Alerts       alerting.Config         `mapstructure:"alerts" yaml:"alerts"`
	PubSub       PubSubConfig            `mapstructure:"pubsub" yaml:"pubsub"`
	Metrics      MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig selects level and output format
type LogConfig struct {
	Level  logging.LogLevel `mapstructure:"level" yaml:"level"`
	Format string           `mapstructure:"format" yaml:"format"`
	File   string           `mapstructure:"file" yaml:"file,omitempty"`
}

// HistoryConfig selects the backup history store
type HistoryConfig struct {
	// Backend is mysql or memory
	Backend string `mapstructure:"backend" yaml:"backend"`
	// AutoMigrate applies pending migrations on startup
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// CatalogConfig selects where sensitive-field rules come from
type CatalogConfig struct {
	// Source is mysql, file or none
	Source string `mapstructure:"source" yaml:"source"`
	Path   string `mapstructure:"path" yaml:"path,omitempty"`
}

// DetectionConfig tunes the classifier
type DetectionConfig struct {
	SampleBytes int64 `mapstructure:"sample_bytes" yaml:"sample_bytes"`
}

// VerificationConfig tunes the compromise verifier
type VerificationConfig struct {
	MinBackupInterval time.Duration `mapstructure:"min_backup_interval" yaml:"min_backup_interval"`
}

// DedupConfig bounds the duplicate-request cache
type DedupConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// PubSubConfig is the subscription plus the pull loop settings
type PubSubConfig struct {
	Enabled               bool `mapstructure:"enabled" yaml:"enabled"`
	listener.PubSubConfig `mapstructure:",squash" yaml:",inline"`
	listener.Config       `mapstructure:",squash" yaml:",inline"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// Loader reads configuration from a YAML file, SENTINEL_* environment
// variables and bound command line flags, in increasing precedence.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader with defaults registered
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// secrets of optional sections are only known to viper once bound
	for _, key := range []string{"storage.s3.access_key", "storage.s3.secret_key", "storage.azure.account_key"} {
		_ = v.BindEnv(key)
	}
	return &Loader{viper: v}
}

// Viper exposes the underlying instance for flag binding
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// Load reads configPath (or searches the default locations when empty),
// applies defaults and validates the result.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath != "" {
		l.viper.SetConfigFile(configPath)
	} else {
		l.viper.SetConfigName("backup-sentinel")
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath(".")
		l.viper.AddConfigPath("$HOME/.config/backup-sentinel")
		l.viper.AddConfigPath("/etc/backup-sentinel")
	}

	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Load read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", string(logging.LogLevelNormal))
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "backup_sentinel")
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("history.backend", "mysql")
	v.SetDefault("history.auto_migrate", false)

	v.SetDefault("storage.default_bucket", "backup-bucket")
	v.SetDefault("storage.default_prefix", "backups/")
	v.SetDefault("storage.default_scheme", "gs")

	v.SetDefault("scan.provider", scan.ProviderNone)
	v.SetDefault("scan.project_id", "")
	v.SetDefault("scan.location", "global")
	v.SetDefault("scan.credentials_path", "")
	v.SetDefault("scan.min_likelihood", "POSSIBLE")
	v.SetDefault("scan.sample_bytes", 256*1024)
	v.SetDefault("scan.max_findings", 100)
	v.SetDefault("scan.poll_interval", "2s")
	v.SetDefault("scan.timeout", "2m")
	v.SetDefault("scan.job_timeout", "5m")

	v.SetDefault("catalog.source", "mysql")
	v.SetDefault("catalog.path", "")

	v.SetDefault("detection.sample_bytes", 64*1024)
	v.SetDefault("verification.min_backup_interval", "1h")
	v.SetDefault("dedup.capacity", backup.DefaultDedupCapacity)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.min_severity", string(backup.AlertSeverityInfo))

	v.SetDefault("pubsub.enabled", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "backup-request-subscription")
	v.SetDefault("pubsub.credentials_path", "")
	v.SetDefault("pubsub.max_messages", 10)
	v.SetDefault("pubsub.workers", 4)
	v.SetDefault("pubsub.poll_interval", "5s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_address", ":9090")
}

// SetDefaults fills values that may still be empty after unmarshalling.
// Google project IDs fall back to GOOGLE_CLOUD_PROJECT.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = logging.LogLevelNormal
	}
	if c.History.Backend == "" {
		c.History.Backend = "mysql"
	}
	if c.Storage.DefaultScheme == "" {
		c.Storage.DefaultScheme = "gs"
	}
	if c.Catalog.Source == "" {
		c.Catalog.Source = "none"
	}
	if c.Detection.SampleBytes <= 0 {
		c.Detection.SampleBytes = 64 * 1024
	}
	if c.Verification.MinBackupInterval <= 0 {
		c.Verification.MinBackupInterval = time.Hour
	}
	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = backup.DefaultDedupCapacity
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9090"
	}

	if c.History.Backend == "mysql" || c.Catalog.Source == "mysql" {
		c.Database.SetDefaults()
	}
	c.Scan.SetDefaults()
	c.PubSub.Config.SetDefaults()

	project := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if c.Scan.ProjectID == "" {
		c.Scan.ProjectID = project
	}
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = project
	}
	if c.Alerts.CloudMonitoring != nil && c.Alerts.CloudMonitoring.ProjectID == "" {
		c.Alerts.CloudMonitoring.ProjectID = project
	}
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Level {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("log.level must be quiet, normal, verbose or debug, got %q", c.Log.Level))
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	switch c.History.Backend {
	case "memory":
	case "mysql":
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend must be mysql or memory, got %q", c.History.Backend))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := c.Scan.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan: %w", err))
	}

	switch c.Catalog.Source {
	case "none":
	case "file":
		if c.Catalog.Path == "" {
			errs = append(errs, errors.New("catalog.path is required when catalog.source is file"))
		}
	case "mysql":
		if c.History.Backend != "mysql" {
			if err := c.Database.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.source must be mysql, file or none, got %q", c.Catalog.Source))
	}

	switch c.Alerts.MinSeverity {
	case "", backup.AlertSeverityInfo, backup.AlertSeverityWarning, backup.AlertSeverityCritical:
	default:
		errs = append(errs, fmt.Errorf("alerts.min_severity must be INFO, WARNING or CRITICAL, got %q", c.Alerts.MinSeverity))
	}
	if c.Alerts.Webhook != nil && c.Alerts.Webhook.URL == "" {
		errs = append(errs, errors.New("alerts.webhook.url is required when the webhook channel is configured"))
	}
	if c.Alerts.Slack != nil && c.Alerts.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("alerts.slack.webhook_url is required when the slack channel is configured"))
	}
	if c.Alerts.File != nil && c.Alerts.File.Path == "" {
		errs = append(errs, errors.New("alerts.file.path is required when the file channel is configured"))
	}

	if c.PubSub.Enabled && c.PubSub.Subscription == "" {
		errs = append(errs, errors.New("pubsub.subscription is required when pubsub is enabled"))
	}

	if len(errs) > 0 {
		return backup.NewConfigurationError("configuration validation failed", errors.Join(errs...))
	}
	return nil
}

// EnvironmentVariables lists the overrides the loader recognises
func (l *Loader) EnvironmentVariables() []string {
	var vars []string
	for _, key := range l.viper.AllKeys() {
		vars = append(vars, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	return vars
}
