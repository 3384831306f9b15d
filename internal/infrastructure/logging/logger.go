package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "retail-auth"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys that never reach the log output verbatim.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"new_password":  true,
	"password_hash": true,
	"token":         true,
	"access_token":  true,
	"secret":        true,
	"authorization": true,
}

// Logger is the service's structured logger. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to the configured output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, version)
}

// NewWithWriter builds a Logger writing to w. JSON is the default encoding;
// "text" selects the human-readable handler.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// With returns a child Logger carrying extra attributes.
//
//	sessLog := logger.With("component", "sessions")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used until configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops every record. Used when a component
// is constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
