package backup

import (
	"context"
)

// StorageConfig configures the artifact stores and the default export layout
type StorageConfig struct {
	DefaultBucket string       `mapstructure:"default_bucket" yaml:"default_bucket"`
	DefaultPrefix string       `mapstructure:"default_prefix" yaml:"default_prefix"`
	DefaultScheme string       `mapstructure:"default_scheme" yaml:"default_scheme"`
	GCS           *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	S3            *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure         *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	Local         *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// Validate checks the storage section
func (c *StorageConfig) Validate() error {
	var errs ValidationErrors
	if c.DefaultBucket == "" {
		errs.Add("storage.default_bucket", "is required", nil)
	}
	switch c.DefaultScheme {
	case "", "gs", "s3", "azure", "file":
	default:
		errs.Add("storage.default_scheme", "must be one of gs, s3, azure, file", c.DefaultScheme)
	}
	if c.S3 != nil && c.S3.Region == "" {
		errs.Add("storage.s3.region", "is required when s3 is configured", nil)
	}
	if c.Azure != nil && (c.Azure.AccountName == "" || c.Azure.AccountKey == "") {
		errs.Add("storage.azure", "account_name and account_key are required", nil)
	}
	if c.Local != nil && c.Local.BasePath == "" {
		errs.Add("storage.local.base_path", "is required when local is configured", nil)
	}
	if errs.HasErrors() {
		return NewValidationError("invalid storage configuration", errs)
	}
	return nil
}

// NewStorageRouterFromConfig registers a provider for every configured section
func NewStorageRouterFromConfig(ctx context.Context, config StorageConfig) (*StorageRouter, error) {
	router := NewStorageRouter()

	if config.GCS != nil && config.GCS.Enabled {
		gcs, err := NewGCSObjectStore(ctx, config.GCS)
		if err != nil {
			return nil, err
		}
		router.Register("gs", gcs)
	}
	if config.S3 != nil {
		s3Store, err := NewS3ObjectStore(config.S3)
		if err != nil {
			router.Close()
			return nil, err
		}
		router.Register("s3", s3Store)
	}
	if config.Azure != nil {
		az, err := NewAzureObjectStore(config.Azure)
		if err != nil {
			router.Close()
			return nil, err
		}
		router.Register("azure", az)
	}
	if config.Local != nil {
		local, err := NewLocalObjectStore(config.Local)
		if err != nil {
			router.Close()
			return nil, err
		}
		router.Register("file", local)
	}

	if len(router.Schemes()) == 0 {
		return nil, NewConfigurationError("no artifact storage provider configured", nil)
	}
	return router, nil
}
