package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// Provider names accepted in scan.provider
const (
	ProviderNone = "none"
	ProviderDLP  = "dlp"
	ProviderDump = "dump"
)

// Config selects and tunes the content-scan backend
type Config struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	ProjectID       string        `mapstructure:"project_id" yaml:"project_id"`
	Location        string        `mapstructure:"location" yaml:"location"`
	CredentialsPath string        `mapstructure:"credentials_path" yaml:"credentials_path"`
	MinLikelihood   string        `mapstructure:"min_likelihood" yaml:"min_likelihood"`
	SampleBytes     int64         `mapstructure:"sample_bytes" yaml:"sample_bytes"`
	MaxFindings     int64         `mapstructure:"max_findings" yaml:"max_findings"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	JobTimeout      time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	if c.Location == "" {
		c.Location = "global"
	}
	if c.MinLikelihood == "" {
		c.MinLikelihood = "POSSIBLE"
	}
	if c.SampleBytes <= 0 {
		c.SampleBytes = 256 * 1024
	}
	if c.MaxFindings <= 0 {
		c.MaxFindings = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
}

// Validate checks the provider name
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", ProviderNone, ProviderDLP, ProviderDump:
		return nil
	}
	return backup.NewValidationError(fmt.Sprintf("unknown scan provider %q", c.Provider), nil)
}

// Backend is a ScanBackend that owns background work
type Backend interface {
	backup.ScanBackend
	Close() error
}

// NewBackend builds the configured backend. A DLP provider without a
// project, or whose client cannot be created, is downgraded to the disabled
// backend.
func NewBackend(ctx context.Context, cfg Config, artifacts backup.ArtifactStore, logger *logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	switch strings.ToLower(cfg.Provider) {
	case ProviderDLP:
		if cfg.ProjectID == "" {
			logger.Warn("dlp scan provider selected without a project id, content scanning disabled")
			return Disabled(), nil
		}
		b, err := NewDLPBackend(ctx, cfg, artifacts, logger)
		if err != nil {
			logger.WithField("project_id", cfg.ProjectID).Warnf("dlp client unavailable, content scanning disabled: %v", err)
			return Disabled(), nil
		}
		return b, nil
	case ProviderDump:
		return NewDumpBackend(cfg, artifacts, logger), nil
	default:
		return Disabled(), nil
	}
}

type disabledBackend struct{}

// Disabled returns a backend that reports itself unavailable
func Disabled() Backend { return disabledBackend{} }

func (disabledBackend) Enabled() bool { return false }

func (disabledBackend) Submit(ctx context.Context, req backup.ScanRequest) (string, error) {
	return "", backup.NewConfigurationError("content scanning is disabled", nil)
}

func (disabledBackend) Poll(ctx context.Context, jobID string) (*backup.ScanJob, error) {
	return nil, backup.NewConfigurationError("content scanning is disabled", nil)
}

func (disabledBackend) Close() error { return nil }
