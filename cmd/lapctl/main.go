// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/ux"
)

// logger is built by the pre-run hook once the configuration is loaded.
// Handlers must defer closeLogger so file logs get flushed.
var logger *logging.Logger

// appVersion is stamped by the build (-ldflags "-X main.appVersion=...").
var appVersion = "0.1.0-dev"

func main() {
	// SIGINT cancels the run context; handlers turn that into exit
	// code 130 after the partial report is archived.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailed)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Output mode first so everything below prints correctly.
		switch {
		case outputMode != "":
			ux.SetOutputMode(ux.ParseOutputMode(outputMode))
		case jsonOutput || quietOutput:
			ux.SetOutputMode(ux.OutputMachine)
		default:
			ux.InitOutputMode()
		}

		if err := config.Load(); err != nil {
			return fmt.Errorf("failed to load the configuration: %w", err)
		}

		// A deploy.yaml next to the compose files pins per-stack
		// settings between the global config and the flags.
		manifest, err := LoadDeployManifest(resolvedStackDir())
		switch {
		case errors.Is(err, ErrNoManifest):
			// Optional file.
		case err != nil:
			return err
		default:
			manifest.Apply(&config.Global)
		}

		level := logging.ParseLevel(config.Global.Logging.Level)
		if verboseOutput {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{
			Level:   level,
			LogDir:  config.Global.Logging.Dir,
			Service: "lapctl",
			JSON:    config.Global.Logging.JSON,
			Quiet:   quietOutput && !verboseOutput,
		})
		return nil
	}
}

// closeLogger flushes and closes the run logger. Safe before the hook
// has run.
func closeLogger() {
	if logger != nil {
		_ = logger.Close()
	}
}
