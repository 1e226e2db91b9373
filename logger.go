package semcache

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with request-pipeline context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogTransition logs a state machine transition.
func (l *Logger) LogTransition(ctx context.Context, from, to State) {
	l.DebugContext(ctx, "state transition",
		"from", from.String(),
		"to", to.String(),
	)
}

// LogAsk logs a completed request.
func (l *Logger) LogAsk(ctx context.Context, source Source, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "request failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "request completed",
			"source", string(source),
			"duration", duration,
		)
	}
}

// LogWriteBack logs the cache write-back outcome. Write-back failures are
// logged, never surfaced; the answer was already produced.
func (l *Logger) LogWriteBack(ctx context.Context, id string, err error) {
	if err != nil {
		l.WarnContext(ctx, "cache write-back failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cache write-back completed",
			"id", id,
		)
	}
}

// LogLookupDegraded logs a lookup error treated as a miss.
func (l *Logger) LogLookupDegraded(ctx context.Context, step State, err error) {
	l.WarnContext(ctx, "lookup degraded to miss",
		"step", step.String(),
		"error", err,
	)
}
