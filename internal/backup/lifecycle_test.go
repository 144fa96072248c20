package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BackupStatus
		want     bool
	}{
		{BackupStatusPending, BackupStatusExporting, true},
		{BackupStatusExporting, BackupStatusInspecting, true},
		{BackupStatusInspecting, BackupStatusCompleted, true},
		{BackupStatusInspecting, BackupStatusVerifying, true},
		{BackupStatusVerifying, BackupStatusCompleted, true},
		{BackupStatusVerifying, BackupStatusCancelled, true},
		{BackupStatusCompleted, BackupStatusRestored, true},

		{BackupStatusPending, BackupStatusInspecting, false},
		{BackupStatusExporting, BackupStatusCompleted, false},
		{BackupStatusInspecting, BackupStatusCancelled, false},
		{BackupStatusVerifying, BackupStatusExporting, false},
		{BackupStatusCancelled, BackupStatusRestored, false},
		{BackupStatusRestored, BackupStatusCompleted, false},

		{BackupStatusPending, BackupStatusFailed, true},
		{BackupStatusVerifying, BackupStatusFailed, true},
		{BackupStatusCompleted, BackupStatusFailed, false},
		{BackupStatusFailed, BackupStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAdvanceStampsCompletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &BackupEvent{ID: "b-1", Status: BackupStatusPending}

	require.NoError(t, e.Advance(BackupStatusExporting, now))
	assert.Nil(t, e.CompletedAt)

	require.NoError(t, e.Advance(BackupStatusInspecting, now))
	require.NoError(t, e.Advance(BackupStatusCompleted, now))
	require.NotNil(t, e.CompletedAt)
	assert.Equal(t, now, *e.CompletedAt)
}

func TestAdvanceRejectsSkippedStage(t *testing.T) {
	e := &BackupEvent{ID: "b-2", Status: BackupStatusPending}

	err := e.Advance(BackupStatusCompleted, time.Now())
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeTransition, backupErr.Type)
	assert.Equal(t, BackupStatusPending, e.Status)
}

func TestFailRecordsCause(t *testing.T) {
	e := &BackupEvent{ID: "b-3", Status: BackupStatusInspecting}

	require.NoError(t, e.Fail(errors.New("history store down"), time.Now()))
	assert.Equal(t, BackupStatusFailed, e.Status)
	assert.Contains(t, e.Message, "history store down")

	assert.Error(t, e.Fail(nil, time.Now()), "failed is terminal")
}

func TestVerdict(t *testing.T) {
	assert.False(t, VerdictUnknown.IsKnown())
	assert.True(t, VerdictOf(false).IsKnown())
	assert.False(t, VerdictOf(false).IsTrue())
	assert.True(t, VerdictOf(true).IsTrue())
}

func TestAppendEvidence(t *testing.T) {
	e := &BackupEvent{}
	e.AppendEvidence("")
	assert.Empty(t, e.RansomwareEvidence)

	e.AppendEvidence("suspicious file extension: .locked")
	e.AppendEvidence("verification error: timeout")
	assert.Equal(t, "suspicious file extension: .locked; verification error: timeout", e.RansomwareEvidence)
}

func TestCloneIsDeep(t *testing.T) {
	done := time.Now()
	e := &BackupEvent{ID: "b-4", CompletedAt: &done}

	c := e.Clone()
	*c.CompletedAt = done.Add(time.Hour)
	c.ID = "other"

	assert.Equal(t, "b-4", e.ID)
	assert.Equal(t, done, *e.CompletedAt)
}
