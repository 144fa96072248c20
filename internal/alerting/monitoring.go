package alerting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	monitoring "google.golang.org/api/monitoring/v3"
	"google.golang.org/api/option"

	"backup-sentinel/internal/backup"
)

// RansomwareMetricType is the custom metric written for threat alerts
const RansomwareMetricType = "custom.googleapis.com/backup/ransomware_detected"

const maxThreatLabelLength = 100

// CloudMonitoringConfig selects the project that receives the custom metric
type CloudMonitoringConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// MonitoringChannel writes a point of RansomwareMetricType for ransomware,
// data-manipulation and compromise alerts. Other alert types are skipped.
type MonitoringChannel struct {
	service *monitoring.Service
	project string
	now     func() time.Time
}

// NewMonitoringChannel creates a Cloud Monitoring client for config.ProjectID
func NewMonitoringChannel(ctx context.Context, config CloudMonitoringConfig, opts ...option.ClientOption) (*MonitoringChannel, error) {
	var clientOpts []option.ClientOption
	if config.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(config.CredentialsPath))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := monitoring.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, backup.NewConfigurationError("failed to create cloud monitoring client", err)
	}
	return &MonitoringChannel{service: service, project: config.ProjectID, now: time.Now}, nil
}

func (mc *MonitoringChannel) Send(ctx context.Context, alert backup.Alert) error {
	switch alert.Type {
	case backup.AlertRansomwareDetected, backup.AlertDataManipulation, backup.AlertCompromiseConfirmed:
	default:
		return nil
	}

	detected := true
	req := &monitoring.CreateTimeSeriesRequest{
		TimeSeries: []*monitoring.TimeSeries{{
			Metric: &monitoring.Metric{
				Type:   RansomwareMetricType,
				Labels: metricLabels(alert),
			},
			Resource: &monitoring.MonitoredResource{
				Type:   "global",
				Labels: map[string]string{"project_id": mc.project},
			},
			Points: []*monitoring.Point{{
				Interval: &monitoring.TimeInterval{EndTime: mc.now().UTC().Format(time.RFC3339Nano)},
				Value:    &monitoring.TypedValue{BoolValue: &detected},
			}},
		}},
	}

	if _, err := mc.service.Projects.TimeSeries.Create("projects/"+mc.project, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write %s: %w", RansomwareMetricType, err)
	}
	return nil
}

func (mc *MonitoringChannel) Type() string  { return "cloud_monitoring" }
func (mc *MonitoringChannel) Enabled() bool { return mc.project != "" }

func metricLabels(alert backup.Alert) map[string]string {
	labels := map[string]string{
		"backup_id":            alert.BackupID,
		"ransomware_detected":  strconv.FormatBool(alert.RansomwareDetected),
		"database_compromised": strconv.FormatBool(alert.DatabaseCompromised),
	}
	if alert.Evidence != "" {
		threat := []rune(alert.Evidence)
		if len(threat) > maxThreatLabelLength {
			threat = threat[:maxThreatLabelLength]
		}
		labels["threat_type"] = string(threat)
	}
	return labels
}
