package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-sentinel/internal/backup"
)

func TestMemoryHistoryCreateConflict(t *testing.T) {
	m := NewMemoryHistory()
	e := &backup.BackupEvent{ID: "b-1", Status: backup.BackupStatusPending}

	require.NoError(t, m.Create(context.Background(), e))
	assert.True(t, backup.IsConflict(m.Create(context.Background(), e)))
}

func TestMemoryHistoryReturnsCopies(t *testing.T) {
	m := NewMemoryHistory()
	e := &backup.BackupEvent{ID: "b-1", Status: backup.BackupStatusPending}
	require.NoError(t, m.Create(context.Background(), e))

	e.Status = backup.BackupStatusFailed
	got, err := m.Get(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusPending, got.Status)

	got.Status = backup.BackupStatusCompleted
	again, _ := m.Get(context.Background(), "b-1")
	assert.Equal(t, backup.BackupStatusPending, again.Status)

	_, err = m.Get(context.Background(), "nope")
	assert.True(t, backup.IsNotFound(err))
}

func TestMemoryHistoryQueries(t *testing.T) {
	m := NewMemoryHistory()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	seed := []*backup.BackupEvent{
		{ID: "a", DatabaseName: "orders", Status: backup.BackupStatusCompleted, CreatedAt: base, RansomwareDetected: backup.VerdictFalse},
		{ID: "b", DatabaseName: "orders", Status: backup.BackupStatusCompleted, CreatedAt: base.Add(time.Hour), RansomwareDetected: backup.VerdictTrue},
		{ID: "c", DatabaseName: "orders", Status: backup.BackupStatusCompleted, CreatedAt: base.Add(2 * time.Hour), RansomwareDetected: backup.VerdictFalse},
		{ID: "d", DatabaseName: "orders", Status: backup.BackupStatusCancelled, CreatedAt: base.Add(3 * time.Hour), RansomwareDetected: backup.VerdictTrue},
		{ID: "e", DatabaseName: "users", Status: backup.BackupStatusCompleted, CreatedAt: base.Add(4 * time.Hour)},
	}
	for _, e := range seed {
		require.NoError(t, m.Save(ctx, e))
	}

	completed, err := m.FindCompletedByDatabase(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(completed))

	before, err := m.FindCompletedBefore(ctx, "orders", base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(before))

	n, err := m.CountRansomwareSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func ids(events []*backup.BackupEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
