// Package cli wires the logging and configuration conventions shared by the
// service commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/helix-pages/preflight/internal/constants"
)

// SetVerbosity adjusts the default logger to the level selected by the
// repeated -v flag count.
func SetVerbosity(count int) {
	slog.SetLogLoggerLevel(levelFor(count))
}

// SetSlog installs the default logger for the chosen verbosity, optionally
// emitting JSON records on stdout.
func SetSlog(count int, jsonLogs bool) {
	if jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFor(count)})))
		return
	}

	SetVerbosity(count)
}

func levelFor(count int) slog.Level {
	switch {
	case count <= 0:
		return constants.DefaultLogLevel
	case count == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
