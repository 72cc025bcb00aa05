package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/phoreus/rpmforge/internal"
	"github.com/phoreus/rpmforge/internal/cli"
)

// The entry point for the rpmforge tool.
//
// Initializes logging, displays startup information, and executes the root
// command. A systemically invalid run exits 2 so callers can distinguish an
// environment defect from ordinary package failures.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("rpmforge starting",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		if errors.Is(err, cli.ErrSystemicallyInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})
	return slog.New(handler).WithGroup(internal.Name)
}

// Returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
