// Package main is the entry point for the preflight version service.
package main

import (
	"log/slog"
	"os"

	"github.com/helix-pages/preflight/cmd/preflight-service/daemon"
)

func main() {
	a, err := daemon.New()
	if err != nil {
		slog.Error("Failed to initialize the service", "err", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		slog.Error(err.Error())
		if a.UsageError() {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
