package hashtable

import (
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Logger wraps slog.Logger with hashtable-specific events.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger

	// refused throttles "resize refused" warnings, which repeat on every
	// insert once a memory budget is exhausted.
	refused *rate.Limiter
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
		Logger:  slog.New(handler),
		refused: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

var noopLogger = NoopLogger()

// WithTable adds a table name field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With("table", name),
		refused: l.refused,
	}
}

// LogResize logs a completed resize.
func (l *Logger) LogResize(oldCap, newCap, size int) {
	l.Debug("resize completed",
		"old_capacity", oldCap,
		"new_capacity", newCap,
		"size", size,
	)
}

// LogResizeRefused logs a resize that could not reserve memory.
// At most one warning per second is emitted.
func (l *Logger) LogResizeRefused(capacity, wanted int, err error) {
	if l.refused != nil && !l.refused.Allow() {
		return
	}
	l.Warn("resize refused",
		"capacity", capacity,
		"wanted", wanted,
		"error", err,
	)
}

// LogTreeify logs a chain promoted to a tree, or a tree demoted to a chain.
func (l *Logger) LogTreeify(index, count int, toTree bool) {
	if toTree {
		l.Debug("bucket treeified",
			"bucket", index,
			"count", count,
		)
	} else {
		l.Debug("bucket untreeified",
			"bucket", index,
			"count", count,
		)
	}
}
