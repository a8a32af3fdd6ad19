package cmd

import (
	"log/slog"
	"os"

	"github.com/marcus/settingsync/internal/syncconfig"
	"golang.org/x/term"
)

// newCommandLogger logs to stderr: text on a terminal, JSON when piped.
func newCommandLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// logLevel resolves the level from --verbose, then config.
func logLevel() slog.Level {
	if globalFlags.verbose {
		return slog.LevelDebug
	}
	return syncconfig.GetLogLevel()
}
