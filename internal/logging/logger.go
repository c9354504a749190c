// Package logging wraps log/slog behind a small interface so components
// take a Logger via constructor injection instead of reaching for a
// global. Grounded on yndnr-tokmesh-go's internal/telemetry/logger
// package (an slog-backed Logger interface with With/WithContext),
// trimmed of its sensitive-field redaction hook, which has no use case
// here.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

// New builds a JSON-handler Logger writing to stderr at the given level.
func New(level slog.Level) Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{logger: slog.New(h), ctx: context.Background()}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.DebugContext(l.ctx, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.InfoContext(l.ctx, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.WarnContext(l.ctx, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.ErrorContext(l.ctx, msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	return &slogLogger{logger: l.logger, ctx: ctx}
}

// Slog exposes the underlying *slog.Logger for components (like the
// standard net/http server) that want a vanilla slog.Logger rather than
// this package's interface.
func (l *slogLogger) Slog() *slog.Logger { return l.logger }
