// Package logging builds the JSON slog logger shared by both binaries and a
// few helpers for logging errors around cleanup.
package logging

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
)

type loggerKey struct{}

// NewStructuredLogger returns a JSON logger writing to w.
func NewStructuredLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// LogError logs err under message with extra attributes.
func LogError(logger *slog.Logger, message string, err error, attrs ...slog.Attr) {
	if logger == nil || err == nil {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("error", err.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	logger.Error(message, args...)
}

// LogOperation logs a completed step at info level. Zero durations are
// omitted.
func LogOperation(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "duration" && a.Value.Kind() == slog.KindDuration && a.Value.Duration() == 0 {
			continue
		}
		args = append(args, a)
	}
	logger.Info(operation, args...)
}

// SafeRollbackWithLogging rolls tx back, staying quiet when it was already
// committed. Meant for defer.
func SafeRollbackWithLogging(tx interface{ Rollback() error }, logger *slog.Logger, operation string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		LogError(logger, "failed to rollback transaction", err,
			slog.String("operation", operation),
			slog.String("component", "database"))
	}
}

// SafeCloseWithLogging closes c and logs a failure.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, operation string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "failed to close resource", err, slog.String("operation", operation))
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := FromContextOK(ctx); ok {
		return l
	}
	return slog.Default()
}

// FromContextOK reports whether ctx carries a logger.
func FromContextOK(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}
