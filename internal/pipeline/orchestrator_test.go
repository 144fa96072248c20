package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/response"
	"backup-sentinel/internal/scan"
)

func TestCleanBackupCompletes(t *testing.T) {
	f := newFixture(t)
	loc := f.put("orders/clean.sql", "SELECT * FROM users;", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	e := res.Event
	assert.Equal(t, backup.BackupStatusCompleted, e.Status)
	assert.Equal(t, backup.VerdictFalse, e.RansomwareDetected)
	assert.Equal(t, backup.VerdictFalse, e.DatabaseCompromised)
	assert.Equal(t, MessageClean, e.Message)
	assert.Equal(t, fixedNow, e.RequestedAt)
	require.NotNil(t, e.CompletedAt)

	assert.Equal(t, []backup.BackupStatus{
		backup.BackupStatusPending, backup.BackupStatusExporting, backup.BackupStatusInspecting, backup.BackupStatusCompleted,
	}, f.history.history(e.ID))
	assert.Equal(t, []backup.AlertType{backup.AlertBackupClean}, f.alerts.types())

	stored, err := f.history.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusCompleted, stored.Status)
	assert.Equal(t, backup.VerdictFalse, stored.DatabaseCompromised)
}

func TestRealisticDumpCompletesClean(t *testing.T) {
	f := newFixture(t)
	loc := f.put("orders/20260701_000000.sql", mysqldump, fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusCompleted, res.Event.Status)
	assert.Equal(t, backup.VerdictFalse, res.Event.RansomwareDetected, res.Event.RansomwareEvidence)
	assert.Equal(t, MessageClean, res.Event.Message)
}

func TestCleanBackupFromPipelineIsLaterRestored(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	process := func(day time.Time, key, content string) *backup.BackupEvent {
		t.Helper()
		loc := f.put(key, content, day)
		o.now = func() time.Time { return day }
		res, err := o.Process(ctx, request(loc))
		require.NoError(t, err)
		require.False(t, res.Duplicate)
		return res.Event
	}

	clean := process(fixedNow.Add(-48*time.Hour), "orders/day1.sql", mysqldump)
	require.Equal(t, backup.BackupStatusCompleted, clean.Status)

	infected := process(fixedNow.Add(-24*time.Hour), "orders/day2.sql.locked", mysqldump)
	require.Equal(t, backup.BackupStatusCompleted, infected.Status)
	require.Equal(t, MessageRansomwareOnly, infected.Message)

	// a second infection in a row marks the database compromised
	repeat := process(fixedNow, "orders/day3.sql.locked", mysqldump)
	assert.Equal(t, backup.BackupStatusCancelled, repeat.Status)
	assert.Equal(t, backup.VerdictTrue, repeat.DatabaseCompromised)
	assert.True(t, repeat.PreviousBackupRestored)
	assert.Equal(t, clean.ID, repeat.RestoredBackupID)

	restored, err := f.history.Get(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusRestored, restored.Status)
}

func TestRansomwareWithoutHistoryCompletes(t *testing.T) {
	f := newFixture(t)
	loc := f.put("db.encrypted", "SELECT * FROM users;", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)

	e := res.Event
	assert.Equal(t, backup.BackupStatusCompleted, e.Status)
	assert.Equal(t, backup.VerdictTrue, e.RansomwareDetected)
	assert.Equal(t, backup.VerdictFalse, e.DatabaseCompromised)
	assert.Equal(t, MessageRansomwareOnly, e.Message)
	assert.Contains(t, e.RansomwareEvidence, ".encrypted")

	assert.Equal(t, []backup.BackupStatus{
		backup.BackupStatusPending, backup.BackupStatusExporting, backup.BackupStatusInspecting,
		backup.BackupStatusVerifying, backup.BackupStatusCompleted,
	}, f.history.history(e.ID))
	assert.Equal(t, []backup.AlertType{
		backup.AlertRansomwareDetected, backup.AlertDataManipulation, backup.AlertNotCompromised,
	}, f.alerts.types())
}

func TestRansomNoteContentDetected(t *testing.T) {
	f := newFixture(t)
	loc := f.put("orders/nightly.sql", "RANSOMWARE DECRYPT YOUR FILES PAY BITCOIN", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	assert.Equal(t, backup.VerdictTrue, res.Event.RansomwareDetected)
	assert.Contains(t, res.Event.RansomwareEvidence, "ransom note tokens")
}

func TestCompromisedDatabaseRestoresSafeBackup(t *testing.T) {
	f := newFixture(t)
	safeLoc := f.put("orders/safe.sql", "SELECT 1;", fixedNow.Add(-48*time.Hour))
	f.seed("safe", fixedNow.Add(-48*time.Hour), backup.VerdictFalse, safeLoc)
	f.seed("recent", fixedNow.Add(-10*time.Minute), backup.VerdictTrue, "file://bkt/orders/recent.sql")
	loc := f.put("orders/now.sql.locked", "x", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)

	e := res.Event
	assert.Equal(t, backup.BackupStatusCancelled, e.Status)
	assert.Equal(t, backup.VerdictTrue, e.DatabaseCompromised)
	assert.True(t, e.PreviousBackupRestored)
	assert.Equal(t, "safe", e.RestoredBackupID)
	assert.Contains(t, e.Message, "restored backup safe")

	restored, err := f.history.Get(context.Background(), "safe")
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusRestored, restored.Status)

	stored, err := f.history.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusCancelled, stored.Status)
	assert.True(t, stored.PreviousBackupRestored)

	types := f.alerts.types()
	require.Len(t, types, 3)
	assert.Equal(t, backup.AlertCompromiseConfirmed, types[2])
	assert.True(t, f.alerts.alerts[2].DatabaseCompromised)
	assert.Contains(t, f.alerts.alerts[2].Message, "previous backup restored: safe")
}

func TestCompromisedDatabaseWithoutSafeBackup(t *testing.T) {
	f := newFixture(t)
	f.seed("recent", fixedNow.Add(-10*time.Minute), backup.VerdictTrue, "file://bkt/orders/recent.sql")
	loc := f.put("orders/now.sql.crypt", "x", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)

	e := res.Event
	assert.Equal(t, backup.BackupStatusCancelled, e.Status)
	assert.False(t, e.PreviousBackupRestored)
	assert.Contains(t, e.Message, response.NoSafeBackupMessage)
}

func TestEncryptedFieldsDetectedByDumpScan(t *testing.T) {
	f := newFixture(t)
	dump := scan.NewDumpBackend(scan.Config{}, f.artifacts, nil)
	defer dump.Close()
	f.backend = dump
	f.catalog = staticCatalog{{Category: backup.CategoryEmail, TableName: "customers", ColumnName: "email", Active: true}}

	loc := f.put("orders/customers.sql",
		"INSERT INTO customers (`id`,`email`) VALUES (1,'U2FsdGVkX1+vupppZksvRf5pq5g5XjFRIipRkwB0K1Y=');", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	assert.Equal(t, backup.VerdictTrue, res.Event.RansomwareDetected)
	assert.Contains(t, res.Event.RansomwareEvidence, "sensitive fields appear encrypted")
	assert.Contains(t, res.Event.RansomwareEvidence, "EMAIL_ADDRESS value appears encrypted")
}

func TestDuplicateRequestProcessedOnce(t *testing.T) {
	f := newFixture(t)
	loc := f.put("orders/clean.sql", "SELECT 1;", fixedNow)
	o := f.orchestrator()

	first, err := o.Process(context.Background(), request(loc))
	require.NoError(t, err)
	second, err := o.Process(context.Background(), request(loc))
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Len(t, f.alerts.types(), 1)

	// a fresh dedup cache still finds the recorded event
	f.dedup = backup.NewDedupCache(0)
	third, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	require.NotNil(t, third.Event)
	assert.Equal(t, first.Event.ID, third.Event.ID)
	assert.Len(t, f.alerts.types(), 1)
}

func TestMissingArtifactFailsEvent(t *testing.T) {
	f := newFixture(t)

	res, err := f.orchestrator().Process(context.Background(), request("file://bkt/orders/missing.sql"))
	require.NoError(t, err)

	e := res.Event
	assert.Equal(t, backup.BackupStatusFailed, e.Status)
	assert.Contains(t, e.Message, "backup processing failed")
	assert.Contains(t, e.Message, "no backup found in storage for database orders")
	assert.Equal(t, []backup.AlertType{backup.AlertPipelineFailed}, f.alerts.types())
	assert.True(t, f.dedup.Contains(backup.DedupKey("prod-1", "orders", fixedNow)))

	stored, err := f.history.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusFailed, stored.Status)
}

func TestSaveFailureFailsEvent(t *testing.T) {
	f := newFixture(t)
	f.history.failSave = errors.New("disk full")
	f.history.failOn = backup.BackupStatusInspecting
	loc := f.put("orders/clean.sql", "SELECT 1;", fixedNow)

	res, err := f.orchestrator().Process(context.Background(), request(loc))
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusFailed, res.Event.Status)
	assert.Equal(t, "backup processing failed: disk full", res.Event.Message)
	assert.Equal(t, []backup.BackupStatus{
		backup.BackupStatusPending, backup.BackupStatusExporting, backup.BackupStatusFailed,
	}, f.history.history(res.Event.ID))
}

func TestInvalidRequestRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Process(context.Background(), backup.BackupRequest{DatabaseName: "orders"})
	assert.True(t, backup.IsValidation(err))
	assert.Equal(t, 0, f.dedup.Len())
}

type failingCreate struct {
	*statusRecorder
}

func (failingCreate) Create(ctx context.Context, e *backup.BackupEvent) error {
	return backup.NewDatabaseError("insert failed", errors.New("connection refused"))
}

func TestCreateFailureReleasesDedupKey(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	o.deps.History = failingCreate{f.history}

	_, err := o.Process(context.Background(), request("file://bkt/x.sql"))
	assert.Error(t, err)
	assert.Equal(t, 0, f.dedup.Len())
}

func TestEventIDIsStable(t *testing.T) {
	key := backup.DedupKey("prod-1", "orders", fixedNow)
	assert.Equal(t, EventID(key), EventID(key))
	assert.NotEqual(t, EventID(key), EventID(backup.DedupKey("prod-1", "orders", fixedNow.Add(24*time.Hour))))
}

func TestNewOrchestratorRequiresComponents(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{}, Config{})
	assert.Error(t, err)
}

type staticCatalog []backup.SensitiveFieldRule

func (s staticCatalog) ActiveRules(ctx context.Context) ([]backup.SensitiveFieldRule, error) {
	return s, nil
}

func (s staticCatalog) RulesByCategory(ctx context.Context, c backup.DataCategory) ([]backup.SensitiveFieldRule, error) {
	return nil, nil
}

func (s staticCatalog) RulesByTable(ctx context.Context, table string) ([]backup.SensitiveFieldRule, error) {
	return nil, nil
}
