package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

// slogLogger routes whatsmeow's printf-style logging into slog.
type slogLogger struct {
	logger *slog.Logger
	min    slog.Level
}

var _ waLog.Logger = (*slogLogger)(nil)

func newLogger(module, level string) waLog.Logger {
	return &slogLogger{
		logger: slog.Default().With("component", "whatsmeow", "module", module),
		min:    observability.ParseLevel(level),
	}
}

func (l *slogLogger) log(level slog.Level, msg string, args []any) {
	if level < l.min {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (l *slogLogger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Infof(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warnf(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Errorf(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{logger: l.logger.With("sub", module), min: l.min}
}
