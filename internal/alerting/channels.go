package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"backup-sentinel/internal/backup"
)

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// SlackConfig for Slack notifications
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
	Username   string `mapstructure:"username" yaml:"username"`
}

// FileConfig for JSON-lines alert files
type FileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// message is the JSON body posted to webhooks and written to files
type message struct {
	Title     string               `json:"title"`
	Alert     backup.Alert         `json:"alert"`
	Severity  backup.AlertSeverity `json:"severity"`
	Color     string               `json:"color,omitempty"`
	IconEmoji string               `json:"icon_emoji,omitempty"`
}

func formatMessage(alert backup.Alert) message {
	m := message{Title: title(alert), Alert: alert, Severity: alert.Severity}
	switch alert.Severity {
	case backup.AlertSeverityInfo:
		m.Color = "#36a64f"
		m.IconEmoji = ":information_source:"
	case backup.AlertSeverityWarning:
		m.Color = "#ff9900"
		m.IconEmoji = ":warning:"
	case backup.AlertSeverityCritical:
		m.Color = "#ff0000"
		m.IconEmoji = ":rotating_light:"
	}
	return m
}

func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned error status: %d", resp.StatusCode)
	}
	return nil
}

// WebhookChannel posts the alert as JSON to a URL
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	return &WebhookChannel{config: config, client: &http.Client{Timeout: timeout}}
}

func (wc *WebhookChannel) Send(ctx context.Context, alert backup.Alert) error {
	return postJSON(ctx, wc.client, wc.config.Method, wc.config.URL, wc.config.Headers, formatMessage(alert))
}

func (wc *WebhookChannel) Type() string  { return "webhook" }
func (wc *WebhookChannel) Enabled() bool { return wc.config.URL != "" }

// SlackChannel posts an attachment-style message to a Slack incoming webhook
type SlackChannel struct {
	config SlackConfig
	client *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(config SlackConfig) *SlackChannel {
	return &SlackChannel{config: config, client: &http.Client{Timeout: 30 * time.Second}}
}

func (sc *SlackChannel) Send(ctx context.Context, alert backup.Alert) error {
	msg := formatMessage(alert)

	fields := []map[string]interface{}{
		{"title": "Backup ID", "value": alert.BackupID, "short": true},
		{"title": "Database", "value": alert.DatabaseName, "short": true},
		{"title": "Ransomware", "value": fmt.Sprint(alert.RansomwareDetected), "short": true},
		{"title": "Compromised", "value": fmt.Sprint(alert.DatabaseCompromised), "short": true},
	}
	if alert.Evidence != "" {
		fields = append(fields, map[string]interface{}{"title": "Evidence", "value": alert.Evidence, "short": false})
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s %s", msg.IconEmoji, msg.Title),
		"attachments": []map[string]interface{}{
			{
				"color":  msg.Color,
				"title":  msg.Title,
				"text":   alert.Message,
				"ts":     alert.Timestamp.Unix(),
				"fields": fields,
			},
		},
	}
	if sc.config.Channel != "" {
		payload["channel"] = sc.config.Channel
	}
	if sc.config.Username != "" {
		payload["username"] = sc.config.Username
	}

	return postJSON(ctx, sc.client, http.MethodPost, sc.config.WebhookURL, nil, payload)
}

func (sc *SlackChannel) Type() string  { return "slack" }
func (sc *SlackChannel) Enabled() bool { return sc.config.WebhookURL != "" }

// FileChannel appends one JSON object per alert to a file
type FileChannel struct {
	config FileConfig
	mu     sync.Mutex
}

// NewFileChannel creates a new file notification channel
func NewFileChannel(config FileConfig) *FileChannel {
	return &FileChannel{config: config}
}

func (fc *FileChannel) Send(ctx context.Context, alert backup.Alert) error {
	line, err := json.Marshal(formatMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open alert file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}
	return nil
}

func (fc *FileChannel) Type() string  { return "file" }
func (fc *FileChannel) Enabled() bool { return fc.config.Path != "" }
