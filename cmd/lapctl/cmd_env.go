// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
)

// runEnvCheck handles "lapctl env check": validate the env file without
// touching it.
func runEnvCheck(cmd *cobra.Command, args []string) {
	os.Exit(envCheckMain(cmd))
}

func envCheckMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	parts, shutdown, err := newRunnerComponents(ctx, cmd, config.Global.Deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:  "env check",
		SkipSave: true,
	}, parts, logger)

	report, err := runner.EnvCheck(ctx)
	return emitReport(ctx, report, err)
}

// runEnvFix handles "lapctl env fix": mint strong values for missing
// and weak credentials, then re-validate.
func runEnvFix(cmd *cobra.Command, args []string) {
	os.Exit(envFixMain(cmd))
}

func envFixMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	parts, shutdown, err := newRunnerComponents(ctx, cmd, config.Global.Deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:  "env fix",
		SkipSave: true,
	}, parts, logger)

	report, err := runner.EnvFix(ctx)
	return emitReport(ctx, report, err)
}
