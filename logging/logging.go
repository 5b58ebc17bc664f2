// Package logging builds the slog loggers used by the CLI and adds the STATS level.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LevelStats sits between INFO and WARN and carries run summaries.
const LevelStats = slog.LevelInfo + 2

// New returns a logger writing to w. Terminals get the text handler,
// anything else gets JSON lines.
func New(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

// Stats logs msg at LevelStats.
func Stats(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	OrDefault(logger).Log(ctx, LevelStats, msg, args...)
}

// defaultOutput receives the logs of components built without a logger.
var defaultOutput io.Writer = os.Stderr

// OrDefault returns logger, or a non-verbose logger from New writing to
// stderr when it is nil, so STATS lines keep their level name.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	fallback, _ := New(defaultOutput, false)
	return fallback
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelStats {
		a.Value = slog.StringValue("STATS")
	}
	return a
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
