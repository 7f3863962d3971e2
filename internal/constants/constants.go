// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the preflight service command.
	CmdName = "preflight-service"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Fetch constants.
const (
	// DefaultRepoRoot is the raw-content host queried when no repo root is supplied.
	DefaultRepoRoot = "https://raw.githubusercontent.com/"

	// VersionMarkerFile is the well-known file whose content is treated as the version string.
	VersionMarkerFile = "helix-version.txt"

	// DefaultFetchTimeout bounds the single outbound GET for the version marker.
	DefaultFetchTimeout = 5 * time.Second
)
