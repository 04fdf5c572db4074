// Package app assembles the courier binaries from the internal packages:
// configuration, the broker connection, the Redis store, metrics backends
// and the channel worker runtime. The cmd/ entry points stay thin wrappers
// around it.
package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a JSON slog.Logger on stdout at the given level.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
