package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backup-sentinel/internal/alerting"
	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/config"
	"backup-sentinel/internal/database"
	"backup-sentinel/internal/detection"
	"backup-sentinel/internal/logging"
	"backup-sentinel/internal/metrics"
	"backup-sentinel/internal/pipeline"
	"backup-sentinel/internal/response"
	"backup-sentinel/internal/scan"
	"backup-sentinel/internal/store"
)

// app is the wired component graph shared by the commands
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	dbService    *database.Service
	db           *sql.DB
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	artifacts    *backup.StorageRouter
	history      backup.HistoryStore
	scanner      scan.Backend
	orchestrator *pipeline.Orchestrator
}

// openDatabase connects to the history database when any component needs it
func openDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*database.Service, *sql.DB, error) {
	if cfg.History.Backend != "mysql" && cfg.Catalog.Source != "mysql" {
		return nil, nil, nil
	}
	svc := database.NewServiceWithOptions(logger, cfg.Database.Timeout, 3, time.Second)
	db, err := svc.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	return svc, db, nil
}

// newHistory returns the configured history store, migrating it first when
// auto_migrate is set.
func newHistory(cfg *config.Config, db *sql.DB, logger *logging.Logger) (backup.HistoryStore, error) {
	if cfg.History.Backend == "memory" {
		logger.Warn("using in-memory backup history, records are lost on exit")
		return store.NewMemoryHistory(), nil
	}
	if cfg.History.AutoMigrate {
		if err := store.RunMigrations(db); err != nil {
			return nil, err
		}
	}
	return store.NewMySQLHistory(db, logger), nil
}

func newCatalog(cfg *config.Config, db *sql.DB) (backup.SensitiveCatalog, error) {
	switch cfg.Catalog.Source {
	case "mysql":
		return store.NewMySQLCatalog(db), nil
	case "file":
		catalog, err := store.LoadFileCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		return catalog, nil
	}
	return nil, nil
}

// buildApp wires the full pipeline from cfg
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.dbService, a.db, err = openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if a.history, err = newHistory(cfg, a.db, logger); err != nil {
		return nil, err
	}

	if a.artifacts, err = backup.NewStorageRouterFromConfig(ctx, cfg.Storage); err != nil {
		return nil, err
	}

	catalog, err := newCatalog(cfg, a.db)
	if err != nil {
		return nil, err
	}

	if a.scanner, err = scan.NewBackend(ctx, cfg.Scan, a.artifacts, logger); err != nil {
		return nil, err
	}

	alerts, err := alerting.NewManagerFromConfig(ctx, logger, cfg.Alerts, a.metrics)
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.NewOrchestrator(pipeline.Dependencies{
		History:   a.history,
		Artifacts: a.artifacts,
		Locator: pipeline.NewExportLocator(a.artifacts, pipeline.LocatorConfig{
			DefaultBucket: cfg.Storage.DefaultBucket,
			DefaultPrefix: cfg.Storage.DefaultPrefix,
			Scheme:        cfg.Storage.DefaultScheme,
		}, logger),
		Inspector: detection.NewInspector(catalog, a.scanner, logger, detection.InspectorConfig{
			PollInterval: cfg.Scan.PollInterval,
			Timeout:      cfg.Scan.Timeout,
		}),
		Classifier: detection.NewClassifier(logger),
		Verifier:   response.NewVerifier(a.history, cfg.Verification.MinBackupInterval, logger),
		Selector:   response.NewSelector(a.history, a.artifacts, logger),
		Alerts:     alerts,
		Dedup:      backup.NewDedupCache(cfg.Dedup.Capacity),
		Metrics:    a.metrics,
		Logger:     logger,
	}, pipeline.Config{SampleBytes: cfg.Detection.SampleBytes})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases scanners, storage clients and the database pool
func (a *app) Close() {
	if a.scanner != nil {
		a.scanner.Close()
	}
	if a.artifacts != nil {
		a.artifacts.Close()
	}
	if a.dbService != nil {
		a.dbService.Close(a.db)
	}
}
