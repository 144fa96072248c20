package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backup-sentinel/internal/alerting"
	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/detection"
	"backup-sentinel/internal/logging"
	"backup-sentinel/internal/metrics"
	"backup-sentinel/internal/response"
)

// Final event messages
const (
	MessageClean             = "backup completed without anomalies"
	MessageRansomwareOnly    = "ransomware found in backup, database unaffected"
	MessageCancelledRestored = "backup cancelled, database compromised; restored backup %s"
	MessageCancelledNoBackup = "backup cancelled, database compromised; %s"
)

// DefaultSampleBytes is the size of the content sample given to the classifier
const DefaultSampleBytes = 64 * 1024

// eventNamespace derives stable event IDs from dedup keys
var eventNamespace = uuid.MustParse("5f0c1c7e-8c1e-4a53-9d0e-3b6f4a1f2d11")

// Dependencies are the collaborators the orchestrator drives
type Dependencies struct {
	History    backup.HistoryStore
	Artifacts  backup.ArtifactStore
	Locator    *ExportLocator
	Inspector  *detection.Inspector
	Classifier *detection.Classifier
	Verifier   *response.Verifier
	Selector   *response.Selector
	Alerts     backup.AlertSink
	Dedup      *backup.DedupCache
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Config tunes the orchestrator
type Config struct {
	SampleBytes int64
}

// Result is the outcome of one Process call
type Result struct {
	Event *backup.BackupEvent
	// Duplicate is true when the request was already accepted; Event is the
	// existing record when it could be loaded.
	Duplicate bool
}

// Orchestrator drives a backup event through export confirmation,
// inspection, compromise verification and restoration, committing the event
// after every stage.
type Orchestrator struct {
	deps   Dependencies
	config Config
	now    func() time.Time
}

// NewOrchestrator validates the dependencies and creates an orchestrator
func NewOrchestrator(deps Dependencies, config Config) (*Orchestrator, error) {
	switch {
	case deps.History == nil:
		return nil, backup.NewConfigurationError("history store is required", nil)
	case deps.Artifacts == nil:
		return nil, backup.NewConfigurationError("artifact store is required", nil)
	case deps.Locator == nil, deps.Inspector == nil, deps.Classifier == nil, deps.Verifier == nil, deps.Selector == nil:
		return nil, backup.NewConfigurationError("pipeline components are required", nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Dedup == nil {
		deps.Dedup = backup.NewDedupCache(backup.DefaultDedupCapacity)
	}
	if deps.Alerts == nil {
		deps.Alerts = alerting.NewManager(deps.Logger, alerting.Config{}, deps.Metrics)
	}
	if config.SampleBytes <= 0 {
		config.SampleBytes = DefaultSampleBytes
	}
	return &Orchestrator{deps: deps, config: config, now: time.Now}, nil
}

// EventID returns the stable identifier for a dedup key
func EventID(dedupKey string) string {
	return uuid.NewSHA1(eventNamespace, []byte(dedupKey)).String()
}

// Process accepts a backup request and runs it to a final status. An error
// is returned only when the request is invalid or the event record could not
// be created; pipeline failures end in a FAILED event instead.
func (o *Orchestrator) Process(ctx context.Context, req backup.BackupRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := o.now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}

	key := backup.DedupKey(req.DatabaseInstance, req.DatabaseName, now)
	log := o.deps.Logger.WithField("dedup_key", key).WithField("database", req.DatabaseName)
	if !o.deps.Dedup.Reserve(key) {
		log.Warn("backup already processed today, ignoring request")
		return &Result{Duplicate: true}, nil
	}

	event := &backup.BackupEvent{
		ID:               EventID(key),
		DatabaseInstance: req.DatabaseInstance,
		DatabaseName:     req.DatabaseName,
		BackupBucket:     req.BackupBucket,
		BackupPrefix:     req.BackupPrefix,
		StorageLocation:  req.BackupLocation,
		Status:           backup.BackupStatusPending,
		RequestedBy:      req.RequestedBy,
		RequestedAt:      req.RequestedAt,
		CreatedAt:        now,
	}

	if err := o.deps.History.Create(ctx, event); err != nil {
		if backup.IsConflict(err) {
			log.WithField("backup_id", event.ID).Warn("backup event already recorded, ignoring request")
			existing, getErr := o.deps.History.Get(ctx, event.ID)
			if getErr != nil {
				existing = nil
			}
			return &Result{Event: existing, Duplicate: true}, nil
		}
		o.deps.Dedup.Release(key)
		return nil, err
	}

	done := o.deps.Metrics.TrackInFlight()
	defer done()

	o.run(logging.ContextWithBackupID(ctx, event.ID), event)
	o.deps.Metrics.EventFinished(string(event.Status))
	return &Result{Event: event.Clone()}, nil
}

func (o *Orchestrator) run(ctx context.Context, event *backup.BackupEvent) {
	log := o.deps.Logger.WithContext(ctx).WithField("database", event.DatabaseName)
	log.Info("backup event accepted")

	err := o.stages(ctx, event)
	if err != nil {
		o.fail(ctx, event, err)
		return
	}
	log.WithField("status", string(event.Status)).
		WithField("ransomware_detected", string(event.RansomwareDetected)).
		Info("backup event finished")
}

// stages runs the pipeline. Panics are converted into errors.
func (o *Orchestrator) stages(ctx context.Context, event *backup.BackupEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := o.confirmExport(ctx, event); err != nil {
		return err
	}
	detected, err := o.inspect(ctx, event)
	if err != nil {
		return err
	}
	if !detected {
		// no ransomware means no reason to suspect the database, and a clean
		// backup must be selectable for a later restoration
		event.DatabaseCompromised = backup.VerdictFalse
		if err := o.advance(ctx, event, backup.BackupStatusCompleted, MessageClean); err != nil {
			return err
		}
		o.alert(ctx, backup.AlertBackupClean, backup.AlertSeverityInfo, event, MessageClean)
		return nil
	}

	o.deps.Metrics.RansomwareDetected()
	o.alert(ctx, backup.AlertRansomwareDetected, backup.AlertSeverityCritical, event,
		fmt.Sprintf("ransomware detected in backup %s of %s: %s", event.ID, event.DatabaseName, event.RansomwareEvidence))
	o.alert(ctx, backup.AlertDataManipulation, backup.AlertSeverityWarning, event,
		fmt.Sprintf("possible data manipulation in %s: %s", event.DatabaseName, event.RansomwareEvidence))

	return o.verify(ctx, event)
}

func (o *Orchestrator) confirmExport(ctx context.Context, event *backup.BackupEvent) error {
	start := o.now()
	object, err := o.deps.Locator.Resolve(ctx, event, event.RequestedAt)
	o.deps.Metrics.ObserveStage("exporting", o.now().Sub(start))
	if err != nil {
		return err
	}
	event.StorageLocation = object.Location
	return o.advance(ctx, event, backup.BackupStatusExporting, "")
}

// inspect records the ransomware verdict. Sampling and content-scan
// problems degrade to weaker evidence rather than failing the event.
func (o *Orchestrator) inspect(ctx context.Context, event *backup.BackupEvent) (bool, error) {
	start := o.now()
	log := o.deps.Logger.WithContext(ctx)

	sample, err := backup.ReadSample(ctx, o.deps.Artifacts, event.StorageLocation, o.config.SampleBytes)
	if err != nil {
		log.Warnf("could not sample backup content, classifying without it: %v", err)
		sample = nil
	}

	finishScan := o.deps.Logger.LogOperationStart("content_scan", map[string]interface{}{
		"backup_id": event.ID,
		"location":  event.StorageLocation,
	})
	inspection := o.deps.Inspector.Inspect(ctx, event.StorageLocation)
	var scanErr error
	if inspection.Outcome == detection.OutcomeError {
		scanErr = fmt.Errorf("content scan failed: %s", inspection.Evidence)
	}
	finishScan(scanErr)
	o.deps.Metrics.ScanOutcome(string(inspection.Outcome))

	verdict := o.deps.Classifier.Classify(event.StorageLocation, sample, inspection.EncryptionSuspected)
	event.RansomwareDetected = backup.VerdictOf(verdict.Detected)
	event.RansomwareEvidence = verdict.Evidence
	switch inspection.Outcome {
	case detection.OutcomeSuspected, detection.OutcomeInconclusive, detection.OutcomeError:
		event.AppendEvidence(inspection.Evidence)
	}
	o.deps.Logger.LogVerdict(event.ID, "ransomware", verdict.Detected, event.RansomwareEvidence)
	o.deps.Metrics.ObserveStage("inspecting", o.now().Sub(start))

	if err := o.advance(ctx, event, backup.BackupStatusInspecting, ""); err != nil {
		return false, err
	}
	return verdict.Detected, nil
}

func (o *Orchestrator) verify(ctx context.Context, event *backup.BackupEvent) error {
	if err := o.advance(ctx, event, backup.BackupStatusVerifying, ""); err != nil {
		return err
	}

	start := o.now()
	verification := o.deps.Verifier.Verify(ctx, event.DatabaseName, event.CreatedAt)
	o.deps.Metrics.ObserveStage("verifying", o.now().Sub(start))
	o.deps.Metrics.CompromiseChecked(verification.Compromised)

	event.DatabaseCompromised = backup.VerdictOf(verification.Compromised)
	if verification.Err != nil {
		for _, reason := range verification.Reasons {
			event.AppendEvidence(reason)
		}
	}
	o.deps.Logger.LogVerdict(event.ID, "compromise", verification.Compromised, fmt.Sprint(verification.Reasons))

	if !verification.Compromised {
		if err := o.advance(ctx, event, backup.BackupStatusCompleted, MessageRansomwareOnly); err != nil {
			return err
		}
		o.alert(ctx, backup.AlertNotCompromised, backup.AlertSeverityInfo, event, MessageRansomwareOnly)
		return nil
	}

	if err := o.advance(ctx, event, backup.BackupStatusCancelled, "backup cancelled, database compromised"); err != nil {
		return err
	}
	o.restore(ctx, event, verification.Reasons)
	return nil
}

// restore runs after the event is already cancelled, so its failures are
// reported in the message and the compromise alert only.
func (o *Orchestrator) restore(ctx context.Context, event *backup.BackupEvent, reasons []string) {
	start := o.now()
	finish := o.deps.Logger.LogOperationStart("restore", map[string]interface{}{
		"backup_id": event.ID,
		"database":  event.DatabaseName,
	})
	restoration, err := o.deps.Selector.Restore(ctx, event)
	finish(err)
	o.deps.Metrics.ObserveStage("restoring", o.now().Sub(start))

	if restoration.Restored {
		event.PreviousBackupRestored = true
		event.RestoredBackupID = restoration.BackupID
		event.Message = fmt.Sprintf(MessageCancelledRestored, restoration.BackupID)
		o.deps.Metrics.Restoration("restored")
	} else {
		event.Message = fmt.Sprintf(MessageCancelledNoBackup, restoration.Message)
		o.deps.Metrics.Restoration("not_restored")
	}
	if err != nil {
		o.deps.Logger.WithContext(ctx).Errorf("restoration failed: %v", err)
	}

	if err := o.deps.History.Save(ctx, event); err != nil {
		o.deps.Logger.WithContext(ctx).Errorf("failed to record restoration outcome: %v", err)
	}

	outcome := "restoration failed: " + restoration.Message
	if restoration.Restored {
		outcome = "previous backup restored: " + restoration.BackupID
	}
	o.alert(ctx, backup.AlertCompromiseConfirmed, backup.AlertSeverityCritical, event,
		fmt.Sprintf("database %s compromise confirmed (%s); %s", event.DatabaseName, strings.Join(reasons, "; "), outcome))
}

// advance moves the event to the next status and commits it. The in-memory
// event is rolled back if the commit fails.
func (o *Orchestrator) advance(ctx context.Context, event *backup.BackupEvent, to backup.BackupStatus, message string) error {
	from := event.Status
	previous := event.Clone()
	if err := event.Advance(to, o.now()); err != nil {
		return err
	}
	if message != "" {
		event.Message = message
	}
	if err := o.deps.History.Save(ctx, event); err != nil {
		*event = *previous
		return err
	}
	o.deps.Logger.LogStageTransition(event.ID, event.DatabaseName, string(from), string(to))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, event *backup.BackupEvent, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := o.deps.Logger.WithContext(ctx).WithField("status", string(event.Status))
	log.Errorf("backup processing failed: %v", cause)

	if event.Status.IsTerminal() {
		// The final status is already committed; only record the cause.
		event.Message = "backup processing failed: " + cause.Error()
	} else if err := event.Fail(cause, o.now()); err != nil {
		log.Errorf("could not mark event failed: %v", err)
		return
	}
	if err := o.deps.History.Save(ctx, event); err != nil {
		log.Errorf("could not record failed event: %v", err)
	}
	o.alert(ctx, backup.AlertPipelineFailed, backup.AlertSeverityCritical, event, event.Message)
}

func (o *Orchestrator) alert(ctx context.Context, alertType backup.AlertType, severity backup.AlertSeverity, event *backup.BackupEvent, message string) {
	o.deps.Alerts.Notify(ctx, alerting.NewAlert(alertType, severity, event, message, o.now()))
}
