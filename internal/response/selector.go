package response

import (
	"context"
	"fmt"
	"time"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// NoSafeBackupMessage is reported when history holds no restorable backup
const NoSafeBackupMessage = "no safe backup found"

// Restoration reports what the selector did
type Restoration struct {
	Restored bool
	BackupID string
	Location string
	Message  string
}

// Selector picks the newest clean backup and marks it restored
type Selector struct {
	history   backup.HistoryStore
	artifacts backup.ArtifactStore
	logger    *logging.Logger
	now       func() time.Time
}

// NewSelector creates a restoration selector
func NewSelector(history backup.HistoryStore, artifacts backup.ArtifactStore, logger *logging.Logger) *Selector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Selector{history: history, artifacts: artifacts, logger: logger, now: time.Now}
}

// Candidate returns the newest completed backup with both verdicts false,
// skipping the event identified by excludeID. nil means none qualifies.
func (s *Selector) Candidate(ctx context.Context, databaseName, excludeID string) (*backup.BackupEvent, error) {
	history, err := s.history.FindCompletedByDatabase(ctx, databaseName)
	if err != nil {
		return nil, err
	}
	for _, e := range history {
		if e.ID == excludeID || e.Status != backup.BackupStatusCompleted {
			continue
		}
		if e.RansomwareDetected != backup.VerdictFalse || e.DatabaseCompromised != backup.VerdictFalse {
			continue
		}
		return e, nil
	}
	return nil, nil
}

// Restore selects a safe backup for the current event's database, confirms
// its artifact, and moves it to RESTORED. Not finding one is reported, not
// returned as an error.
func (s *Selector) Restore(ctx context.Context, current *backup.BackupEvent) (Restoration, error) {
	log := s.logger.WithField("backup_id", current.ID).WithField("database", current.DatabaseName)

	candidate, err := s.Candidate(ctx, current.DatabaseName, current.ID)
	if err != nil {
		return Restoration{Message: "restore failed: " + err.Error()}, err
	}
	if candidate == nil {
		log.Error("no safe backup available for restoration")
		return Restoration{Message: NoSafeBackupMessage}, nil
	}

	res := Restoration{BackupID: candidate.ID, Location: candidate.StorageLocation}

	size, err := s.artifacts.Size(ctx, candidate.StorageLocation)
	switch {
	case backup.IsNotFound(err):
		log.WithField("candidate", candidate.ID).Error("restore candidate artifact is missing")
		res.Message = fmt.Sprintf("restore candidate %s missing at %s", candidate.ID, candidate.StorageLocation)
		return res, nil
	case err != nil:
		res.Message = fmt.Sprintf("restore candidate %s could not be checked: %v", candidate.ID, err)
		return res, nil
	case size == 0:
		log.WithField("candidate", candidate.ID).Error("restore candidate artifact is empty")
		res.Message = fmt.Sprintf("restore candidate %s is empty", candidate.ID)
		return res, nil
	}

	if err := candidate.Advance(backup.BackupStatusRestored, s.now()); err != nil {
		return Restoration{Message: "restore failed: " + err.Error()}, err
	}
	if err := s.history.Save(ctx, candidate); err != nil {
		return Restoration{Message: "restore failed: " + err.Error()}, err
	}

	log.WithField("restored_backup_id", candidate.ID).WithField("size", size).Warn("previous backup restored")
	res.Restored = true
	res.Message = "restored backup " + candidate.ID
	return res, nil
}
