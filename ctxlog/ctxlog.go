// Package ctxlog carries a slog.Logger through context.Context and maps the
// CLI verbosity scale onto slog levels.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
)

// LevelTrace sits below debug and is used for per-step engine chatter.
const LevelTrace = slog.Level(-8)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. If no logger is
// found, it returns the default global logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LevelForVerbosity converts 0 (error) .. 4 (trace) into a slog level.
func LevelForVerbosity(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	case verbosity == 3:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// New creates a logger writing to outW. It does not set the global logger.
func New(verbosity int, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: LevelForVerbosity(verbosity)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}
