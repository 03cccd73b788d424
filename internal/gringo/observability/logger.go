// Package observability configures log/slog for Gringo Lingo and attaches
// per-message context (trace ID, platform, user) to log lines.
package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gringolingo/gringolingo/common/redact"
	"github.com/gringolingo/gringolingo/common/trace"
)

// Setup configures the global slog logger (level: debug|info|warn|error,
// format: text|json) writing to stdout.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger without installing it.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// WithTrace returns a child logger that includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

// RedactSecrets replaces sensitive values in msg with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}

// RedactErr returns err with sensitive values stripped from its message.
// Client libraries sometimes embed credentials in request URLs.
func RedactErr(err error, sensitiveValues ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := redact.String(msg, sensitiveValues...)
	if clean == msg {
		return err
	}
	return errors.New(clean)
}

// Preview shortens user text for debug logs. Message bodies are never logged
// above debug level.
func Preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
