package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enable  slog.Level
		disable *slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, nil},
		{"warn level", "warn", slog.LevelWarn, levelPtr(slog.LevelInfo)},
		{"error level", "error", slog.LevelError, levelPtr(slog.LevelWarn)},
		{"default info", "", slog.LevelInfo, levelPtr(slog.LevelDebug)},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if tt.disable != nil && logger.Enabled(ctx, *tt.disable) {
				t.Fatalf("expected level %s to be disabled", *tt.disable)
			}
		})
	}
}

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info").Component("queue")
	logger.Info("entry approved", "entry_id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["component"] != "queue" {
		t.Fatalf("expected component=queue, got %v", record["component"])
	}
	if record["entry_id"] != "abc" {
		t.Fatalf("expected entry_id attribute, got %v", record["entry_id"])
	}
}

func TestDefaultLoggerIsNewInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a == b {
		t.Error("Default() returned the same instance twice")
	}
	if a.Logger == nil {
		t.Fatal("Default() returned Logger with nil slog.Logger")
	}
}

func levelPtr(l slog.Level) *slog.Level { return &l }
