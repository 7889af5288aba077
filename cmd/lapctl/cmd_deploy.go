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

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
)

// runDeploy handles "lapctl deploy": the full pipeline from dependency
// probe to readiness polling.
func runDeploy(cmd *cobra.Command, args []string) {
	os.Exit(deployMain(cmd))
}

func deployMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	deploy := deploySettings(cmd)
	if err := validateDeploySettings(deploy); err != nil {
		return emitReport(ctx, nil, err)
	}

	// One deploy at a time. Two compose up runs against the same
	// project interleave container recreation and lose.
	lock := newDeployLock()
	if err := lock.Acquire(); err != nil {
		return emitReport(ctx, nil, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release the deploy lock", "error", err)
		}
	}()

	parts, shutdown, err := newRunnerComponents(ctx, cmd, deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:     "deploy",
		DeployType:  deploy.Type,
		Profile:     deploy.Profile,
		Environment: deploy.Environment,
		PortPolicy:  resolvedPortPolicy(cmd),
		AutoFix:     autoFix,
	}, parts, logger)

	report, err := runner.Deploy(ctx)
	return emitReport(ctx, report, err)
}

// runValidate handles "lapctl validate": the read-only phases, nothing
// started.
func runValidate(cmd *cobra.Command, args []string) {
	os.Exit(validateMain(cmd))
}

func validateMain(cmd *cobra.Command) int {
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
		Command:     "validate",
		DeployType:  deploy.Type,
		Profile:     deploy.Profile,
		Environment: deploy.Environment,
	}, parts, logger)

	report, err := runner.Validate(ctx)
	return emitReport(ctx, report, err)
}

// runPorts handles "lapctl ports": the conflict scan alone.
func runPorts(cmd *cobra.Command, args []string) {
	os.Exit(portsMain(cmd))
}

func portsMain(cmd *cobra.Command) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	parts, shutdown, err := newRunnerComponents(ctx, cmd, config.Global.Deploy)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	defer shutdown()

	runner := NewDeployRunner(RunnerConfig{
		Command:  "ports",
		SkipSave: true,
	}, parts, logger)

	report, err := runner.Ports(ctx)
	return emitReport(ctx, report, err)
}

// validateDeploySettings rejects resolved deploy settings the stack
// cannot start with. Reuses the manifest rules so a bad flag and a bad
// deploy.yaml fail identically.
func validateDeploySettings(deploy config.DeployConfig) error {
	resolved := DeployManifest{
		Type:        deploy.Type,
		Domain:      deploy.Domain,
		Email:       deploy.Email,
		Profile:     deploy.Profile,
		Environment: deploy.Environment,
		ProjectName: config.Global.Stack.ProjectName,
	}
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("invalid deploy settings: %w", err)
	}
	return nil
}
