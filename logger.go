package barrel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with barrel-specific context.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// newConfiguredLogger builds a logger from the log_level and log_format
// config keys. Unknown levels fall back to info.
func newConfiguredLogger(level, format string) *Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(lvl)
	}
	return NewTextLogger(lvl)
}

// WithBarrel adds a barrel name field to the logger.
func (l *Logger) WithBarrel(name string) *Logger {
	return &Logger{Logger: l.Logger.With("barrel", name)}
}

// WithTier adds a merge tier field to the logger.
func (l *Logger) WithTier(level int) *Logger {
	return &Logger{Logger: l.Logger.With("tier", level)}
}

// LogFlush logs the flush of a new barrel.
func (l *Logger) LogFlush(ctx context.Context, name string, docs uint64, bytes int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"barrel", name,
			"docs", docs,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush completed",
		"barrel", name,
		"docs", docs,
		"bytes", bytes,
		"duration", d,
	)
}

// LogMerge logs a completed merge.
func (l *Logger) LogMerge(ctx context.Context, inputs []string, output string, docs uint64, purged uint64, d time.Duration) {
	l.InfoContext(ctx, "merge completed",
		"barrels", inputs,
		"output", output,
		"docs", docs,
		"purged", purged,
		"duration", d,
	)
}

// LogOptimize logs a full optimize.
func (l *Logger) LogOptimize(ctx context.Context, barrels int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "optimize failed",
			"barrels", barrels,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "optimize completed",
		"barrels", barrels,
		"duration", d,
	)
}

// LogStateChange logs a compaction state transition.
func (l *Logger) LogStateChange(ctx context.Context, state string) {
	l.DebugContext(ctx, "compaction state changed", "state", state)
}
