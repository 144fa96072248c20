package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/detection"
	"backup-sentinel/internal/response"
	"backup-sentinel/internal/scan"
	"backup-sentinel/internal/store"
)

var fixedNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []backup.Alert
}

func (r *recordingSink) Notify(ctx context.Context, alert backup.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *recordingSink) types() []backup.AlertType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]backup.AlertType, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}

// statusRecorder wraps a history store and remembers every committed status
type statusRecorder struct {
	*store.MemoryHistory
	mu       sync.Mutex
	statuses map[string][]backup.BackupStatus
	failSave error
	failOn   backup.BackupStatus
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{MemoryHistory: store.NewMemoryHistory(), statuses: make(map[string][]backup.BackupStatus)}
}

func (s *statusRecorder) Create(ctx context.Context, e *backup.BackupEvent) error {
	if err := s.MemoryHistory.Create(ctx, e); err != nil {
		return err
	}
	s.mu.Lock()
	s.statuses[e.ID] = append(s.statuses[e.ID], e.Status)
	s.mu.Unlock()
	return nil
}

func (s *statusRecorder) Save(ctx context.Context, e *backup.BackupEvent) error {
	if s.failSave != nil && e.Status == s.failOn {
		return s.failSave
	}
	if err := s.MemoryHistory.Save(ctx, e); err != nil {
		return err
	}
	s.mu.Lock()
	s.statuses[e.ID] = append(s.statuses[e.ID], e.Status)
	s.mu.Unlock()
	return nil
}

func (s *statusRecorder) history(id string) []backup.BackupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backup.BackupStatus(nil), s.statuses[id]...)
}

type fixture struct {
	t         *testing.T
	base      string
	artifacts *backup.StorageRouter
	history   *statusRecorder
	alerts    *recordingSink
	dedup     *backup.DedupCache
	backend   backup.ScanBackend
	catalog   backup.SensitiveCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	local, err := backup.NewLocalObjectStore(&backup.LocalConfig{BasePath: base})
	require.NoError(t, err)
	router := backup.NewStorageRouter()
	router.Register("file", local)

	return &fixture{
		t:         t,
		base:      base,
		artifacts: router,
		history:   newStatusRecorder(),
		alerts:    &recordingSink{},
		dedup:     backup.NewDedupCache(0),
		backend:   scan.Disabled(),
	}
}

// put writes an artifact at file://bkt/<key>
func (f *fixture) put(key, content string, mtime time.Time) string {
	f.t.Helper()
	p := filepath.Join(f.base, "bkt", filepath.FromSlash(key))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(f.t, os.Chtimes(p, mtime, mtime))
	return "file://bkt/" + key
}

// mysqldump is an ordinary dump whose identifiers contain words like KEY,
// PAYMENT and ENCRYPTED
const mysqldump = "-- MySQL dump 10.13  Distrib 8.0.36, for Linux (x86_64)\n" +
	"DROP TABLE IF EXISTS `payments`;\n" +
	"CREATE TABLE `payments` (\n" +
	"  `id` int NOT NULL AUTO_INCREMENT,\n" +
	"  `card_number` varchar(32) DEFAULT NULL,\n" +
	"  `encrypted` tinyint(1) NOT NULL DEFAULT 0,\n" +
	"  `recovery_key_hash` char(64) DEFAULT NULL,\n" +
	"  PRIMARY KEY (`id`),\n" +
	"  KEY `idx_card` (`card_number`)\n" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;\n" +
	"LOCK TABLES `payments` WRITE;\n" +
	"INSERT INTO `payments` VALUES (1,'4111 1111 1111 1111',0,NULL),(2,'5500 0000 0000 0004',1,NULL);\n" +
	"UNLOCK TABLES;\n"

// seed stores a historical COMPLETED event
func (f *fixture) seed(id string, created time.Time, ransomware backup.Verdict, location string) {
	f.t.Helper()
	require.NoError(f.t, f.history.Save(context.Background(), &backup.BackupEvent{
		ID:                  id,
		DatabaseInstance:    "prod-1",
		DatabaseName:        "orders",
		StorageLocation:     location,
		Status:              backup.BackupStatusCompleted,
		RansomwareDetected:  ransomware,
		DatabaseCompromised: backup.VerdictFalse,
		CreatedAt:           created,
	}))
}

func (f *fixture) orchestrator() *Orchestrator {
	f.t.Helper()
	inspector := detection.NewInspector(f.catalog, f.backend, nil,
		detection.InspectorConfig{PollInterval: 5 * time.Millisecond, Timeout: 2 * time.Second})

	o, err := NewOrchestrator(Dependencies{
		History:    f.history,
		Artifacts:  f.artifacts,
		Locator:    NewExportLocator(f.artifacts, LocatorConfig{DefaultBucket: "bkt", DefaultPrefix: "backups/", Scheme: "file"}, nil),
		Inspector:  inspector,
		Classifier: detection.NewClassifier(nil),
		Verifier:   response.NewVerifier(f.history, time.Hour, nil),
		Selector:   response.NewSelector(f.history, f.artifacts, nil),
		Alerts:     f.alerts,
		Dedup:      f.dedup,
	}, Config{})
	require.NoError(f.t, err)
	o.now = func() time.Time { return fixedNow }
	return o
}

func request(location string) backup.BackupRequest {
	return backup.BackupRequest{
		DatabaseInstance: "prod-1",
		DatabaseName:     "orders",
		BackupLocation:   location,
		RequestedBy:      "scheduler",
	}
}
