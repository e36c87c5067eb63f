// Package logging wires up a process-wide slog.Logger from the
// log.level/log.format configuration options, matching the structured
// logging idiom used throughout ai/agents/runner (slog.LogAttrs with
// slog.String/slog.Any attributes).
package logging

import (
	"log/slog"
	"os"
)

// New builds a *slog.Logger for the given level and format ("json" or
// "text"; anything else falls back to text).
func New(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
