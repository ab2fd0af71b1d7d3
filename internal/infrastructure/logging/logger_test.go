package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
	"github.com/nerrad567/embedded-vault/internal/stream"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		for _, output := range []string{"stdout", "stderr", ""} {
			logger := New(config.LoggingConfig{Level: "info", Format: format, Output: output}, "1.0.0")
			if logger == nil {
				t.Fatalf("New(%q, %q) returned nil", format, output)
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter_DefaultAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "2.0.0", &buf)

	logger.Info("vault ready", "port", 8200)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	checks := map[string]any{
		"msg":     "vault ready",
		"service": "embedded-vault",
		"version": "2.0.0",
		"port":    float64(8200),
	}
	for key, want := range checks {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "dev", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

	logger.With("component", "supervisor").Info("starting vault")

	if !strings.Contains(buf.String(), `"component":"supervisor"`) {
		t.Errorf("component attribute missing: %s", buf.String())
	}
}

func TestLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "dev", &buf)

	var observer stream.LineObserver = logger.Lines("stderr")
	observer.OnLine("==> Vault server started!")
	observer.OnClosed()

	out := buf.String()
	if !strings.Contains(out, "Vault server started!") {
		t.Errorf("line not logged: %s", out)
	}
	if !strings.Contains(out, `"stream":"stderr"`) {
		t.Errorf("stream attribute missing: %s", out)
	}
	if !strings.Contains(out, "stream closed") {
		t.Errorf("close not logged: %s", out)
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
