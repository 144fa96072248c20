package scan

import (
	"context"
	"fmt"

	dlp "google.golang.org/api/dlp/v2"
	"google.golang.org/api/option"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// DLPBackend inspects a decompressed sample of each artifact with the
// Cloud DLP content.inspect method. Calls run in the background so the
// caller can poll like any other scan job.
type DLPBackend struct {
	service       *dlp.Service
	parent        string
	artifacts     backup.ArtifactStore
	sampleBytes   int64
	minLikelihood string
	maxFindings   int64
	registry      *jobRegistry
	logger        *logging.Logger
}

// NewDLPBackend creates a DLP client for cfg.ProjectID. Extra client options
// are appended after the credentials option.
func NewDLPBackend(ctx context.Context, cfg Config, artifacts backup.ArtifactStore, logger *logging.Logger, opts ...option.ClientOption) (*DLPBackend, error) {
	if cfg.ProjectID == "" {
		return nil, backup.NewConfigurationError("dlp project id is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg.SetDefaults()

	var clientOpts []option.ClientOption
	if cfg.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := dlp.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, backup.NewConfigurationError("failed to create dlp client", err)
	}

	return &DLPBackend{
		service:       service,
		parent:        fmt.Sprintf("projects/%s/locations/%s", cfg.ProjectID, cfg.Location),
		artifacts:     artifacts,
		sampleBytes:   cfg.SampleBytes,
		minLikelihood: cfg.MinLikelihood,
		maxFindings:   cfg.MaxFindings,
		registry:      newJobRegistry(cfg.JobTimeout),
		logger:        logger,
	}, nil
}

func (b *DLPBackend) Enabled() bool { return b != nil && b.service != nil }

// Submit starts an inspection of req.Location and returns the job ID
func (b *DLPBackend) Submit(ctx context.Context, req backup.ScanRequest) (string, error) {
	if req.Location == "" {
		return "", backup.NewValidationError("scan location is required", nil)
	}
	if len(req.DetectorTypes) == 0 {
		return "", backup.NewValidationError("at least one detector type is required", nil)
	}

	id, err := b.registry.start(func(ctx context.Context) ([]backup.Finding, error) {
		return b.inspect(ctx, req)
	})
	if err != nil {
		return "", err
	}
	b.logger.WithField("job_id", id).WithField("location", req.Location).
		WithField("info_types", len(req.DetectorTypes)).Info("dlp inspection submitted")
	return id, nil
}

// Poll returns the current view of a submitted job
func (b *DLPBackend) Poll(ctx context.Context, jobID string) (*backup.ScanJob, error) {
	return b.registry.get(jobID)
}

// Close cancels in-flight inspections
func (b *DLPBackend) Close() error {
	b.registry.close()
	return nil
}

func (b *DLPBackend) inspect(ctx context.Context, req backup.ScanRequest) ([]backup.Finding, error) {
	sample, err := backup.ReadSample(ctx, b.artifacts, req.Location, b.sampleBytes)
	if err != nil {
		return nil, err
	}
	if len(sample) == 0 {
		return nil, nil
	}

	infoTypes := make([]*dlp.GooglePrivacyDlpV2InfoType, 0, len(req.DetectorTypes))
	for _, t := range req.DetectorTypes {
		infoTypes = append(infoTypes, &dlp.GooglePrivacyDlpV2InfoType{Name: t})
	}

	call := b.service.Projects.Locations.Content.Inspect(b.parent, &dlp.GooglePrivacyDlpV2InspectContentRequest{
		InspectConfig: &dlp.GooglePrivacyDlpV2InspectConfig{
			InfoTypes:     infoTypes,
			MinLikelihood: b.minLikelihood,
			IncludeQuote:  true,
			Limits:        &dlp.GooglePrivacyDlpV2FindingLimits{MaxFindingsPerRequest: b.maxFindings},
		},
		Item: &dlp.GooglePrivacyDlpV2ContentItem{Value: string(sample)},
	})

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, backup.NewScanError("dlp content inspection failed", err).WithContext("location", req.Location)
	}
	if resp.Result == nil {
		return nil, nil
	}

	findings := make([]backup.Finding, 0, len(resp.Result.Findings))
	for _, f := range resp.Result.Findings {
		finding := backup.Finding{Quote: f.Quote}
		if f.InfoType != nil {
			finding.DetectorType = f.InfoType.Name
		}
		if f.Location != nil && f.Location.ByteRange != nil {
			finding.Location = fmt.Sprintf("bytes %d-%d", f.Location.ByteRange.Start, f.Location.ByteRange.End)
		}
		findings = append(findings, finding)
	}
	return findings, nil
}
