package backup

import (
	"fmt"
	"time"
)

var allowedTransitions = map[BackupStatus][]BackupStatus{
	BackupStatusPending:    {BackupStatusExporting},
	BackupStatusExporting:  {BackupStatusInspecting},
	BackupStatusInspecting: {BackupStatusCompleted, BackupStatusVerifying},
	BackupStatusVerifying:  {BackupStatusCompleted, BackupStatusCancelled},
	// historical backups only
	BackupStatusCompleted: {BackupStatusRestored},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// FAILED is reachable from every non-terminal state.
func CanTransition(from, to BackupStatus) bool {
	if to == BackupStatusFailed {
		return !from.IsTerminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the event to the given status, stamping CompletedAt the first
// time the event reaches a terminal status.
func (e *BackupEvent) Advance(to BackupStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return NewTransitionError(fmt.Sprintf("illegal transition %s -> %s", e.Status, to), nil).
			WithContext("backup_id", e.ID)
	}
	e.Status = to
	if to.IsTerminal() && e.CompletedAt == nil {
		t := now
		e.CompletedAt = &t
	}
	return nil
}

// Fail moves a non-terminal event to FAILED and records the cause
func (e *BackupEvent) Fail(cause error, now time.Time) error {
	if err := e.Advance(BackupStatusFailed, now); err != nil {
		return err
	}
	if cause != nil {
		e.Message = "backup processing failed: " + cause.Error()
	} else {
		e.Message = "backup processing failed"
	}
	return nil
}
