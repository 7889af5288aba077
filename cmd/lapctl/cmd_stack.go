// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/ux"
)

// runStop handles "lapctl stop": halt the stack's containers, keep
// everything else.
func runStop(cmd *cobra.Command, args []string) {
	os.Exit(stopMain(cmd))
}

func stopMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	deploy := deploySettings(cmd)
	parts, shutdown, err := newRunnerComponents(ctx, cmd, deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:     "stop",
		Profile:     deploy.Profile,
		Environment: deploy.Environment,
		SkipSave:    true,
	}, parts, logger)

	report, err := runner.Stop(ctx)
	return emitReport(ctx, report, err)
}

// runDestroy handles "lapctl destroy": remove the stack's containers
// and volumes after an explicit confirmation.
func runDestroy(cmd *cobra.Command, args []string) {
	os.Exit(destroyMain(cmd))
}

func destroyMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	prompter := NewDefaultPrompter(assumeYes)
	proceed, err := prompter.Confirm(ctx,
		"This removes every stack container AND volume. All data will be lost. Continue?")
	if err != nil {
		// Sessions without an operator never destroy implicitly.
		return emitReport(ctx, nil, fmt.Errorf("refusing to destroy without confirmation (run with --yes): %w", err))
	}
	if !proceed {
		if !quietOutput && !jsonOutput {
			ux.Info("Destroy cancelled.")
		}
		return ExitOK
	}

	// Destroy contends with deploy for the same containers; both run
	// under the same lock.
	lock := newDeployLock()
	if err := lock.Acquire(); err != nil {
		return emitReport(ctx, nil, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release the deploy lock", "error", err)
		}
	}()

	deploy := deploySettings(cmd)
	parts, shutdown, err := newRunnerComponents(ctx, cmd, deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:     "destroy",
		Profile:     deploy.Profile,
		Environment: deploy.Environment,
		SkipSave:    true,
	}, parts, logger)

	report, err := runner.Destroy(ctx)
	return emitReport(ctx, report, err)
}
