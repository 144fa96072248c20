package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose json",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerBadLogFile(t *testing.T) {
	_, err := NewLogger(Config{Level: LogLevelNormal, LogFile: "/nonexistent-dir/x/y.log"})
	if err == nil {
		t.Error("expected error for unwritable log file")
	}
}

func TestLogStageTransitionJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	if err != nil {
		t.Fatal(err)
	}

	logger.LogStageTransition("b-1", "orders", "pending", "exporting")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	if entry["backup_id"] != "b-1" || entry["to"] != "exporting" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestLogVerdictLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogVerdict("b-2", "ransomware", true, strings.Repeat("x", 400))
	out := buf.String()
	if !strings.Contains(out, "level=warning") {
		t.Errorf("positive verdict should log at warning: %s", out)
	}
	if !strings.Contains(out, "...") {
		t.Error("long evidence should be truncated")
	}

	buf.Reset()
	logger.LogVerdict("b-2", "compromise", false, "")
	if !strings.Contains(buf.String(), "level=info") {
		t.Errorf("negative verdict should log at info: %s", buf.String())
	}
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})

	logger.Info("hidden")
	logger.Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("quiet logger emitted info")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("quiet logger dropped error")
	}
}

func TestScanPollOnlyVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	logger.LogScanPoll("job", "RUNNING", 1)
	if buf.Len() != 0 {
		t.Errorf("normal level should not log polls: %s", buf.String())
	}

	logger.SetLevel(LogLevelVerbose)
	logger.LogScanPoll("job", "RUNNING", 2)
	if !strings.Contains(buf.String(), "attempt=2") {
		t.Errorf("verbose level should log polls: %s", buf.String())
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	done := logger.LogOperationStart("inspect", map[string]interface{}{"backup_id": "b-3"})
	done(errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "Operation failed") || !strings.Contains(out, "error=boom") {
		t.Errorf("unexpected output: %s", out)
	}

	buf.Reset()
	done = logger.LogOperationStart("inspect", nil)
	done(nil)
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestBackupIDContext(t *testing.T) {
	ctx := ContextWithBackupID(context.Background(), "b-9")
	if got := BackupIDFromContext(ctx); got != "b-9" {
		t.Errorf("BackupIDFromContext() = %q", got)
	}
	if got := BackupIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}

	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	logger.WithContext(ctx).Info("tagged")
	if !strings.Contains(buf.String(), "backup_id=b-9") {
		t.Errorf("context field missing: %s", buf.String())
	}
}
