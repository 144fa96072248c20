package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"backup-sentinel/internal/backup"
)

// MemoryHistory is an in-process HistoryStore. Used when no history
// database is configured and in tests.
type MemoryHistory struct {
	mu     sync.RWMutex
	events map[string]*backup.BackupEvent
}

// NewMemoryHistory creates an empty store
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{events: make(map[string]*backup.BackupEvent)}
}

// Create inserts a new event
func (m *MemoryHistory) Create(ctx context.Context, event *backup.BackupEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return backup.NewConflictError("backup event already exists", nil).WithContext("backup_id", event.ID)
	}
	m.events[event.ID] = event.Clone()
	return nil
}

// Save upserts an event
func (m *MemoryHistory) Save(ctx context.Context, event *backup.BackupEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event.Clone()
	return nil
}

// Get returns a copy of the stored event
func (m *MemoryHistory) Get(ctx context.Context, backupID string) (*backup.BackupEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[backupID]
	if !ok {
		return nil, backup.NewNotFoundError("backup event not found", nil).WithContext("backup_id", backupID)
	}
	return e.Clone(), nil
}

// FindCompletedByDatabase returns completed events newest first
func (m *MemoryHistory) FindCompletedByDatabase(ctx context.Context, databaseName string) ([]*backup.BackupEvent, error) {
	return m.filter(func(e *backup.BackupEvent) bool {
		return e.DatabaseName == databaseName && e.Status == backup.BackupStatusCompleted
	}), nil
}

// FindCompletedBefore returns completed events created before the given time
func (m *MemoryHistory) FindCompletedBefore(ctx context.Context, databaseName string, before time.Time) ([]*backup.BackupEvent, error) {
	return m.filter(func(e *backup.BackupEvent) bool {
		return e.DatabaseName == databaseName && e.Status == backup.BackupStatusCompleted && e.CreatedAt.Before(before)
	}), nil
}

// CountRansomwareSince counts positive ransomware verdicts since the given time
func (m *MemoryHistory) CountRansomwareSince(ctx context.Context, since time.Time) (int64, error) {
	return int64(len(m.filter(func(e *backup.BackupEvent) bool {
		return e.RansomwareDetected.IsTrue() && !e.CreatedAt.Before(since)
	}))), nil
}

func (m *MemoryHistory) filter(keep func(*backup.BackupEvent) bool) []*backup.BackupEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.BackupEvent
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
