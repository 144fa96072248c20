package pipeline

import (
	"context"
	"fmt"
	"time"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// LocatorConfig is the default export layout
type LocatorConfig struct {
	DefaultBucket string
	DefaultPrefix string
	Scheme        string
}

// ExportLocator confirms that the exported artifact for an event exists and
// resolves its final location.
type ExportLocator struct {
	artifacts backup.ArtifactStore
	config    LocatorConfig
	logger    *logging.Logger
}

// NewExportLocator creates a locator; an empty scheme means gs
func NewExportLocator(artifacts backup.ArtifactStore, config LocatorConfig, logger *logging.Logger) *ExportLocator {
	if config.Scheme == "" {
		config.Scheme = "gs"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExportLocator{artifacts: artifacts, config: config, logger: logger}
}

// ExpectedLocation returns where the export for event should be, in order of
// preference: the explicit location, the bucket override layout, the default
// layout. at supplies the date and time path components.
func (l *ExportLocator) ExpectedLocation(event *backup.BackupEvent, at time.Time) string {
	if event.StorageLocation != "" {
		return event.StorageLocation
	}

	at = at.UTC()
	day := at.Format("2006/01/02")
	stamp := at.Format("20060102_150405")

	if event.BackupBucket != "" {
		prefix := event.BackupPrefix
		if prefix == "" {
			prefix = l.config.DefaultPrefix
		}
		return fmt.Sprintf("%s://%s/%s%s/%s_%s.sql", l.config.Scheme, event.BackupBucket, prefix, day, event.DatabaseName, stamp)
	}
	return fmt.Sprintf("%s://%s/%s%s/%s/%s.sql.gz", l.config.Scheme, l.config.DefaultBucket, l.config.DefaultPrefix, day, event.DatabaseName, stamp)
}

// Resolve returns the confirmed artifact for event. When the expected object
// is missing, the newest object under <default prefix><database> in the same
// bucket is used instead.
func (l *ExportLocator) Resolve(ctx context.Context, event *backup.BackupEvent, at time.Time) (backup.ObjectInfo, error) {
	expected := l.ExpectedLocation(event, at)
	log := l.logger.WithField("backup_id", event.ID).WithField("database", event.DatabaseName)

	size, err := l.artifacts.Size(ctx, expected)
	if err == nil {
		log.WithField("location", expected).WithField("size", size).Info("backup export confirmed")
		return backup.ObjectInfo{Location: expected, Size: size}, nil
	}
	if !backup.IsNotFound(err) {
		return backup.ObjectInfo{}, err
	}

	loc, err := backup.ParseLocation(expected)
	if err != nil {
		return backup.ObjectInfo{}, err
	}
	prefix := backup.Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Key: l.config.DefaultPrefix + event.DatabaseName}.String()
	log.WithField("expected", expected).Warnf("backup not found at expected location, searching %s", prefix)

	objects, err := l.artifacts.List(ctx, prefix)
	if err != nil {
		return backup.ObjectInfo{}, err
	}
	if len(objects) == 0 {
		return backup.ObjectInfo{}, backup.NewNotFoundError(
			fmt.Sprintf("no backup found in storage for database %s", event.DatabaseName), nil).
			WithContext("expected", expected)
	}

	latest := objects[0]
	log.WithField("location", latest.Location).WithField("size", latest.Size).Info("using most recent backup export")
	return latest, nil
}
