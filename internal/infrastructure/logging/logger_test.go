package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
)

func TestNewWithWriter_JSONDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")

	logger.Info("login succeeded", "user_id", "usr-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "retail-auth" {
		t.Errorf("service = %v, want retail-auth", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["user_id"] != "usr-1" {
		t.Errorf("user_id = %v, want usr-1", entry["user_id"])
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "text"}, "dev")

	logger.Debug("sweep finished", "cleared", 2)

	out := buf.String()
	if !strings.Contains(out, "msg=\"sweep finished\"") || !strings.Contains(out, "cleared=2") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn"}, "dev")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn record was filtered")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{}, "dev")

	logger.Info("debugging", "password", "Admin123!", "Token", "eyJhbGciOi", "username", "admin")

	out := buf.String()
	for _, secret := range []string{"Admin123!", "eyJhbGciOi"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked into log: %s", secret, out)
		}
	}
	if !strings.Contains(out, "admin") {
		t.Errorf("non-sensitive attribute missing: %s", out)
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{}, "dev").With("component", "sessions")

	logger.Info("created")
	if !strings.Contains(buf.String(), `"component":"sessions"`) {
		t.Errorf("component attribute missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	Discard().Info("dropped")
}
