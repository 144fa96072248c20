package backup

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored backup artifact
type ObjectInfo struct {
	Location  string
	Size      int64
	CreatedAt time.Time
}

// ArtifactStore reads backup artifacts addressed by full location URI
// (gs://, s3://, azure://, file://).
type ArtifactStore interface {
	Exists(ctx context.Context, location string) (bool, error)
	Size(ctx context.Context, location string) (int64, error)
	// List returns artifacts under the prefix location, newest first
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// HistoryStore persists BackupEvents and answers history queries
type HistoryStore interface {
	// Create inserts a new event; returns a conflict error if the ID exists
	Create(ctx context.Context, event *BackupEvent) error
	Save(ctx context.Context, event *BackupEvent) error
	Get(ctx context.Context, backupID string) (*BackupEvent, error)
	// FindCompletedByDatabase returns COMPLETED events, newest first
	FindCompletedByDatabase(ctx context.Context, databaseName string) ([]*BackupEvent, error)
	FindCompletedBefore(ctx context.Context, databaseName string, before time.Time) ([]*BackupEvent, error)
	CountRansomwareSince(ctx context.Context, since time.Time) (int64, error)
}

// SensitiveCatalog exposes the table/column sensitivity rules
type SensitiveCatalog interface {
	ActiveRules(ctx context.Context) ([]SensitiveFieldRule, error)
	RulesByCategory(ctx context.Context, category DataCategory) ([]SensitiveFieldRule, error)
	RulesByTable(ctx context.Context, table string) ([]SensitiveFieldRule, error)
}

// ScanBackend runs content-scan jobs over backup artifacts
type ScanBackend interface {
	// Enabled is false when the backend has no configuration or credentials
	Enabled() bool
	Submit(ctx context.Context, req ScanRequest) (string, error)
	Poll(ctx context.Context, jobID string) (*ScanJob, error)
}

// AlertSink receives fire-and-forget notifications. Implementations log
// delivery failures and never return them.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert)
}
