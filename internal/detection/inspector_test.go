package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-sentinel/internal/backup"
)

type fakeCatalog struct {
	rules []backup.SensitiveFieldRule
	err   error
}

func (f *fakeCatalog) ActiveRules(ctx context.Context) ([]backup.SensitiveFieldRule, error) {
	return f.rules, f.err
}

func (f *fakeCatalog) RulesByCategory(ctx context.Context, c backup.DataCategory) ([]backup.SensitiveFieldRule, error) {
	return nil, nil
}

func (f *fakeCatalog) RulesByTable(ctx context.Context, table string) ([]backup.SensitiveFieldRule, error) {
	return nil, nil
}

// scriptedBackend returns states in order, repeating the last one
type scriptedBackend struct {
	mu        sync.Mutex
	enabled   bool
	submitErr error
	pollErr   error
	states    []backup.ScanState
	findings  []backup.Finding
	polls     int
	submitted []backup.ScanRequest
}

func (s *scriptedBackend) Enabled() bool { return s.enabled }

func (s *scriptedBackend) Submit(ctx context.Context, req backup.ScanRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, req)
	return "job-1", nil
}

func (s *scriptedBackend) Poll(ctx context.Context, jobID string) (*backup.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	idx := s.polls
	if idx >= len(s.states) {
		idx = len(s.states) - 1
	}
	s.polls++
	job := &backup.ScanJob{ID: jobID, State: s.states[idx]}
	if job.State == backup.ScanStateDone {
		job.Findings = s.findings
	}
	return job, nil
}

func fastConfig() InspectorConfig {
	return InspectorConfig{PollInterval: time.Millisecond, Timeout: 200 * time.Millisecond}
}

func TestDetectorTypesFromCatalog(t *testing.T) {
	catalog := &fakeCatalog{rules: []backup.SensitiveFieldRule{
		{Category: backup.CategoryEmail, Active: true},
		{Category: backup.CategoryEmail, Active: true},
		{Category: backup.CategorySSN, Active: true},
		{Category: backup.CategoryAPIKey, Active: true},
		{Category: backup.CategoryPhone, Active: false},
	}}
	i := NewInspector(catalog, nil, nil, fastConfig())

	types, _ := i.DetectorTypes(context.Background())
	assert.Equal(t, []string{"EMAIL_ADDRESS", "US_SOCIAL_SECURITY_NUMBER"}, types)
}

func TestDetectorTypesFallback(t *testing.T) {
	tests := []struct {
		name    string
		catalog backup.SensitiveCatalog
	}{
		{"nil catalog", nil},
		{"empty catalog", &fakeCatalog{}},
		{"only unmapped", &fakeCatalog{rules: []backup.SensitiveFieldRule{{Category: backup.CategoryAPIKey, Active: true}}}},
		{"catalog error", &fakeCatalog{err: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := NewInspector(tt.catalog, nil, nil, fastConfig())
			types, _ := i.DetectorTypes(context.Background())
			assert.Equal(t, []string{"EMAIL_ADDRESS", "CREDIT_CARD_NUMBER", "PHONE_NUMBER"}, types)
		})
	}
}

func TestInspectDisabledBackend(t *testing.T) {
	i := NewInspector(nil, &scriptedBackend{enabled: false}, nil, fastConfig())
	res := i.Inspect(context.Background(), "gs://b/x.sql")
	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.False(t, res.EncryptionSuspected)

	i = NewInspector(nil, nil, nil, fastConfig())
	assert.Equal(t, OutcomeDisabled, i.Inspect(context.Background(), "gs://b/x.sql").Outcome)
}

func TestInspectSubmitErrorFailsOpen(t *testing.T) {
	backend := &scriptedBackend{enabled: true, submitErr: errors.New("permission denied")}
	res := NewInspector(nil, backend, nil, fastConfig()).Inspect(context.Background(), "gs://b/x.sql")

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.False(t, res.EncryptionSuspected)
	assert.Contains(t, res.Evidence, "permission denied")
}

func TestInspectFindsEncryptedValue(t *testing.T) {
	backend := &scriptedBackend{
		enabled: true,
		states:  []backup.ScanState{backup.ScanStatePending, backup.ScanStateRunning, backup.ScanStateDone},
		findings: []backup.Finding{
			{DetectorType: "EMAIL_ADDRESS", Quote: "bob@example.com"},
			{DetectorType: "EMAIL_ADDRESS", Quote: "ZW5jcnlwdGVkLWVtYWlsLXZhbHVl"},
			{DetectorType: "PHONE_NUMBER", Quote: "3031323334353637383930313233343536"},
		},
	}
	catalog := &fakeCatalog{rules: []backup.SensitiveFieldRule{{Category: backup.CategoryEmail, Active: true}}}

	res := NewInspector(catalog, backend, nil, fastConfig()).Inspect(context.Background(), "gs://b/x.sql")

	assert.Equal(t, OutcomeSuspected, res.Outcome)
	assert.True(t, res.EncryptionSuspected)
	require.NotNil(t, res.Finding)
	assert.Equal(t, "ZW5jcnlwdGVkLWVtYWlsLXZhbHVl", res.Finding.Quote, "first match wins")
	assert.Equal(t, 3, res.FindingsCount)
	assert.Equal(t, 3, backend.polls)
	require.Len(t, backend.submitted, 1)
	assert.Equal(t, []string{"EMAIL_ADDRESS"}, backend.submitted[0].DetectorTypes)
	assert.Equal(t, "gs://b/x.sql", backend.submitted[0].Location)
}

func TestInspectCleanFindings(t *testing.T) {
	backend := &scriptedBackend{
		enabled:  true,
		states:   []backup.ScanState{backup.ScanStateDone},
		findings: []backup.Finding{{DetectorType: "EMAIL_ADDRESS", Quote: "carol@example.org"}},
	}

	res := NewInspector(nil, backend, nil, fastConfig()).Inspect(context.Background(), "gs://b/x.sql")
	assert.Equal(t, OutcomeClean, res.Outcome)
	assert.False(t, res.EncryptionSuspected)
	assert.Nil(t, res.Finding)
}

func TestInspectTimeoutIsInconclusive(t *testing.T) {
	backend := &scriptedBackend{enabled: true, states: []backup.ScanState{backup.ScanStateRunning}}
	cfg := InspectorConfig{PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}

	res := NewInspector(nil, backend, nil, cfg).Inspect(context.Background(), "gs://b/x.sql")
	assert.Equal(t, OutcomeInconclusive, res.Outcome)
	assert.False(t, res.EncryptionSuspected)
	assert.Contains(t, res.Evidence, "did not finish")
}

func TestInspectCanceledContextIsInconclusive(t *testing.T) {
	backend := &scriptedBackend{enabled: true, states: []backup.ScanState{backup.ScanStateRunning}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewInspector(nil, backend, nil, InspectorConfig{PollInterval: time.Hour, Timeout: time.Hour}).
		Inspect(ctx, "gs://b/x.sql")
	assert.Equal(t, OutcomeInconclusive, res.Outcome)
}

func TestInspectFailedJob(t *testing.T) {
	backend := &scriptedBackend{enabled: true, states: []backup.ScanState{backup.ScanStateFailed}}

	res := NewInspector(nil, backend, nil, fastConfig()).Inspect(context.Background(), "gs://b/x.sql")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.False(t, res.EncryptionSuspected)
}

func TestInspectPollError(t *testing.T) {
	backend := &scriptedBackend{enabled: true, pollErr: errors.New("503"), states: []backup.ScanState{backup.ScanStateRunning}}

	res := NewInspector(nil, backend, nil, fastConfig()).Inspect(context.Background(), "gs://b/x.sql")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.False(t, res.EncryptionSuspected)
}
