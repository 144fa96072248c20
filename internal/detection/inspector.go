package detection

import (
	"context"
	"fmt"
	"time"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// Outcome summarises how a content inspection ended
type Outcome string

const (
	OutcomeClean        Outcome = "clean"
	OutcomeSuspected    Outcome = "suspected"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeError        Outcome = "error"
)

// InspectionResult is the inspector's report. Only OutcomeSuspected sets
// EncryptionSuspected; every other outcome leaves it false.
type InspectionResult struct {
	Outcome             Outcome
	EncryptionSuspected bool
	Evidence            string
	Finding             *backup.Finding
	JobID               string
	FindingsCount       int
	DetectorTypes       []string
}

// InspectorConfig bounds how long a scan job is waited for
type InspectorConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultInspectorConfig polls every two seconds for up to two minutes
func DefaultInspectorConfig() InspectorConfig {
	return InspectorConfig{PollInterval: 2 * time.Second, Timeout: 2 * time.Minute}
}

// Inspector submits content-scan jobs and looks for sensitive values that
// appear to have been encrypted. It never fails the caller: backend problems
// degrade to a non-suspected result.
type Inspector struct {
	catalog backup.SensitiveCatalog
	backend backup.ScanBackend
	logger  *logging.Logger
	config  InspectorConfig
}

// NewInspector creates an inspector; catalog may be nil
func NewInspector(catalog backup.SensitiveCatalog, backend backup.ScanBackend, logger *logging.Logger, config InspectorConfig) *Inspector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	defaults := DefaultInspectorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Inspector{catalog: catalog, backend: backend, logger: logger, config: config}
}

// DetectorTypes builds the detector set from active catalog rules, falling
// back to the default email/credit-card/phone set.
func (i *Inspector) DetectorTypes(ctx context.Context) ([]string, []backup.SensitiveFieldRule) {
	var rules []backup.SensitiveFieldRule
	if i.catalog != nil {
		var err error
		rules, err = i.catalog.ActiveRules(ctx)
		if err != nil {
			i.logger.Warnf("sensitive data catalog unavailable, using default detectors: %v", err)
			rules = nil
		}
	}

	seen := make(map[string]bool)
	var types []string
	for _, r := range rules {
		if !r.Active {
			continue
		}
		t, ok := r.ResolveDetectorType()
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}

	if len(types) == 0 {
		types = append(types, backup.DefaultDetectorTypes...)
	}
	return types, rules
}

// Inspect scans the artifact at location
func (i *Inspector) Inspect(ctx context.Context, location string) InspectionResult {
	if i.backend == nil || !i.backend.Enabled() {
		i.logger.Info("content scan backend disabled, relying on signature checks")
		return InspectionResult{Outcome: OutcomeDisabled}
	}

	types, rules := i.DetectorTypes(ctx)
	result := InspectionResult{DetectorTypes: types}

	jobID, err := i.backend.Submit(ctx, backup.ScanRequest{Location: location, DetectorTypes: types, Rules: rules})
	if err != nil {
		i.logger.WithField("location", location).Warnf("content scan submission failed: %v", err)
		result.Outcome = OutcomeError
		result.Evidence = fmt.Sprintf("content scan unavailable: %v", err)
		return result
	}
	result.JobID = jobID

	job, outcome := i.waitForJob(ctx, jobID)
	if outcome != "" {
		result.Outcome = outcome
		if outcome == OutcomeInconclusive {
			result.Evidence = fmt.Sprintf("content scan %s did not finish within %s", jobID, i.config.Timeout)
		} else {
			result.Evidence = fmt.Sprintf("content scan %s could not be read", jobID)
		}
		return result
	}

	if job.State != backup.ScanStateDone {
		i.logger.WithField("job_id", jobID).Warnf("content scan ended in state %s: %s", job.State, job.Error)
		result.Outcome = OutcomeError
		result.Evidence = fmt.Sprintf("content scan %s ended in state %s", jobID, job.State)
		return result
	}

	result.FindingsCount = len(job.Findings)
	for idx := range job.Findings {
		f := job.Findings[idx]
		if LooksEncrypted(f.Quote) {
			result.Outcome = OutcomeSuspected
			result.EncryptionSuspected = true
			result.Finding = &f
			result.Evidence = fmt.Sprintf("%s value appears encrypted: %s", f.DetectorType, abbreviate(f.Quote, 64))
			return result
		}
	}

	result.Outcome = OutcomeClean
	return result
}

// waitForJob polls until the job finishes, the timeout elapses or ctx ends.
// A non-empty outcome means no finished job is available.
func (i *Inspector) waitForJob(ctx context.Context, jobID string) (*backup.ScanJob, Outcome) {
	deadline := time.NewTimer(i.config.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(i.config.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		job, err := i.backend.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, OutcomeInconclusive
			}
			i.logger.WithField("job_id", jobID).Warnf("content scan poll failed: %v", err)
			return nil, OutcomeError
		}
		i.logger.LogScanPoll(jobID, string(job.State), attempt)
		if job.State.Finished() {
			return job, ""
		}

		select {
		case <-ctx.Done():
			return nil, OutcomeInconclusive
		case <-deadline.C:
			i.logger.WithField("job_id", jobID).Warn("content scan timed out, result inconclusive")
			return nil, OutcomeInconclusive
		case <-ticker.C:
		}
	}
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
