package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
	"backup-sentinel/internal/metrics"
)

// Config holds configuration for alert delivery
type Config struct {
	Enabled         bool                   `mapstructure:"enabled" yaml:"enabled"`
	MinSeverity     backup.AlertSeverity   `mapstructure:"min_severity" yaml:"min_severity"`
	Webhook         *WebhookConfig         `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Slack           *SlackConfig           `mapstructure:"slack" yaml:"slack,omitempty"`
	File            *FileConfig            `mapstructure:"file" yaml:"file,omitempty"`
	CloudMonitoring *CloudMonitoringConfig `mapstructure:"cloud_monitoring" yaml:"cloud_monitoring,omitempty"`
}

// Channel is one delivery method for alerts
type Channel interface {
	Send(ctx context.Context, alert backup.Alert) error
	Type() string
	Enabled() bool
}

// Manager fans alerts out to the configured channels. Every alert is also
// written to the structured log, whether or not delivery is enabled.
type Manager struct {
	logger   *logging.Logger
	config   Config
	channels []Channel
	metrics  *metrics.Metrics
}

// NewManager creates a manager with the given channels
func NewManager(logger *logging.Logger, config Config, m *metrics.Metrics, channels ...Channel) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{logger: logger, config: config, channels: channels, metrics: m}
}

// NewManagerFromConfig builds the HTTP, file and Cloud Monitoring channels
// named in config. A Cloud Monitoring client that cannot be created is left
// out rather than failing startup.
func NewManagerFromConfig(ctx context.Context, logger *logging.Logger, config Config, m *metrics.Metrics) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var channels []Channel
	if config.Webhook != nil {
		channels = append(channels, NewWebhookChannel(*config.Webhook))
	}
	if config.Slack != nil {
		channels = append(channels, NewSlackChannel(*config.Slack))
	}
	if config.File != nil {
		channels = append(channels, NewFileChannel(*config.File))
	}
	if config.CloudMonitoring != nil && config.CloudMonitoring.ProjectID != "" {
		ch, err := NewMonitoringChannel(ctx, *config.CloudMonitoring)
		if err != nil {
			logger.Warnf("cloud monitoring channel disabled: %v", err)
		} else {
			channels = append(channels, ch)
		}
	}
	return NewManager(logger, config, m, channels...), nil
}

// Confirmations of a clean outcome are written to the log only
var logOnly = map[backup.AlertType]bool{
	backup.AlertBackupClean:    true,
	backup.AlertNotCompromised: true,
}

// Notify logs the alert and delivers it. Delivery failures are logged and
// counted, never returned.
func (am *Manager) Notify(ctx context.Context, alert backup.Alert) {
	am.log(alert)
	am.metrics.AlertEmitted(string(alert.Type), string(alert.Severity))

	if !am.config.Enabled || logOnly[alert.Type] {
		return
	}
	if !severityMeetsThreshold(alert.Severity, am.config.MinSeverity) {
		am.logger.WithField("alert_id", alert.ID).WithField("severity", string(alert.Severity)).
			Debug("alert below minimum severity, not delivered")
		return
	}

	for _, channel := range am.channels {
		if !channel.Enabled() {
			continue
		}
		if err := channel.Send(ctx, alert); err != nil {
			am.metrics.AlertFailed(channel.Type())
			am.logger.WithFields(map[string]interface{}{
				"channel":  channel.Type(),
				"alert_id": alert.ID,
				"error":    err.Error(),
			}).Error("failed to deliver alert")
			continue
		}
		am.logger.WithFields(map[string]interface{}{
			"channel":  channel.Type(),
			"alert_id": alert.ID,
		}).Debug("alert delivered")
	}
}

func (am *Manager) log(alert backup.Alert) {
	entry := am.logger.WithFields(map[string]interface{}{
		"alert_id":             alert.ID,
		"alert_type":           string(alert.Type),
		"severity":             string(alert.Severity),
		"backup_id":            alert.BackupID,
		"database":             alert.DatabaseName,
		"ransomware_detected":  alert.RansomwareDetected,
		"database_compromised": alert.DatabaseCompromised,
	})
	if alert.Evidence != "" {
		entry = entry.WithField("evidence", alert.Evidence)
	}

	switch alert.Severity {
	case backup.AlertSeverityCritical:
		entry.Error(alert.Message)
	case backup.AlertSeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
}

func severityMeetsThreshold(alertSeverity, minSeverity backup.AlertSeverity) bool {
	levels := map[backup.AlertSeverity]int{
		backup.AlertSeverityInfo:     1,
		backup.AlertSeverityWarning:  2,
		backup.AlertSeverityCritical: 3,
	}
	alertLevel, ok := levels[alertSeverity]
	if !ok {
		return false
	}
	minLevel, ok := levels[minSeverity]
	if !ok {
		return true
	}
	return alertLevel >= minLevel
}

// NewAlert builds an alert describing the event's current verdicts
func NewAlert(alertType backup.AlertType, severity backup.AlertSeverity, event *backup.BackupEvent, message string, now time.Time) backup.Alert {
	return backup.Alert{
		ID:                  uuid.NewString(),
		Type:                alertType,
		Severity:            severity,
		BackupID:            event.ID,
		DatabaseName:        event.DatabaseName,
		RansomwareDetected:  event.RansomwareDetected.IsTrue(),
		DatabaseCompromised: event.DatabaseCompromised.IsTrue(),
		Evidence:            event.RansomwareEvidence,
		Message:             message,
		Timestamp:           now,
		Metadata: map[string]string{
			"database_instance": event.DatabaseInstance,
			"storage_location":  event.StorageLocation,
			"status":            string(event.Status),
		},
	}
}

func title(alert backup.Alert) string {
	switch alert.Type {
	case backup.AlertRansomwareDetected:
		return "Ransomware detected in backup"
	case backup.AlertDataManipulation:
		return "Possible data manipulation detected"
	case backup.AlertCompromiseConfirmed:
		return "Database compromise confirmed"
	case backup.AlertNotCompromised:
		return "Database integrity confirmed"
	case backup.AlertBackupClean:
		return "Backup clean"
	case backup.AlertPipelineFailed:
		return "Backup processing failed"
	}
	return fmt.Sprintf("Backup alert: %s", alert.Type)
}
