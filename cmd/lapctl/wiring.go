// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/diagnostics"
	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/infra/process"
)

// This file turns the loaded configuration and the flag set into the
// concrete pipeline pieces the subcommand handlers hand to a
// DeployRunner. Precedence everywhere is flags over the deploy
// manifest over ~/.lapctl/lapctl.yaml; the manifest is already applied
// onto config.Global by the pre-run hook, so only the flag layer shows
// up here.

// outputSettings assembles the output configuration from the global
// flags.
func outputSettings() OutputConfig {
	return OutputConfig{JSON: jsonOutput, Compact: compactOutput, Quiet: quietOutput}
}

// stateDir is where lapctl keeps its own files (config, reports, logs,
// locks).
func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".lapctl")
}

// resolvedStackDir returns the compose stack directory after flag
// overrides.
func resolvedStackDir() string {
	if stackDir != "" {
		return stackDir
	}
	return config.Global.Stack.Dir
}

// resolvedEnvPath returns the environment file path after flag
// overrides. A relative configured name is anchored at the stack dir.
func resolvedEnvPath() string {
	if envFilePath != "" {
		return envFilePath
	}
	envFile := config.Global.Stack.EnvFile
	if filepath.IsAbs(envFile) {
		return envFile
	}
	return filepath.Join(resolvedStackDir(), envFile)
}

// deploySettings resolves the deploy identity fields for one command.
func deploySettings(cmd *cobra.Command) config.DeployConfig {
	d := config.Global.Deploy
	flags := cmd.Flags()
	if flags.Changed("type") {
		d.Type = deployType
	}
	if flags.Changed("domain") {
		d.Domain = deployDomain
	}
	if flags.Changed("email") {
		d.Email = deployEmail
	}
	if flags.Changed("profile") {
		d.Profile = hardwareProfile
	}
	if flags.Changed("env") {
		d.Environment = deployEnvironment
	}
	return d
}

// resolvedPortPolicy returns the port conflict policy for one command.
func resolvedPortPolicy(cmd *cobra.Command) string {
	if cmd.Flags().Changed("port-policy") {
		return portPolicy
	}
	return config.Global.Ports.Policy
}

// runContext derives the run context, applying the --timeout ceiling
// when one was given.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeoutSeconds > 0 {
		return context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// readinessSettings builds the poller configuration from config and
// flags. The configured budget acts as a ceiling on the per-endpoint
// defaults, never an extension.
func readinessSettings(cmd *cobra.Command) ReadinessConfig {
	r := config.Global.Readiness

	concurrent := r.Concurrent
	if cmd.Flags().Changed("concurrent-readiness") {
		concurrent = concurrentReadiness
	}

	rc := ReadinessConfig{
		Interval:   time.Duration(r.IntervalSeconds) * time.Second,
		Concurrent: concurrent,
	}
	if r.MaxProbesPerSec > 0 {
		rc.ProbeEvery = time.Second / time.Duration(r.MaxProbesPerSec)
	}
	if r.BudgetSeconds > 0 {
		budget := time.Duration(r.BudgetSeconds) * time.Second
		endpoints := DefaultEndpoints()
		for i := range endpoints {
			if endpoints[i].Budget > budget {
				endpoints[i].Budget = budget
			}
		}
		rc.Endpoints = endpoints
	}
	return rc
}

// newMetrics builds the metrics sink. Prometheus collectors register
// into the default registry so an embedding process can expose them; a
// plain CLI run just counts in memory.
func newMetrics() diagnostics.ValidationMetrics {
	metrics := diagnostics.NewDefaultValidationMetrics(config.Global.Telemetry.Metrics)
	if prom, ok := metrics.(*diagnostics.PrometheusValidationMetrics); ok {
		if err := prom.Register(); err != nil {
			logger.Warn("Prometheus registration failed, metrics stay process-local", "error", err)
		}
	}
	return metrics
}

// newTracer builds the run tracer from the telemetry configuration.
// Exporter setup failure downgrades to the no-op tracer; a validation
// run never fails because the collector is down.
func newTracer(ctx context.Context) diagnostics.RunTracer {
	t := config.Global.Telemetry
	if !t.Tracing {
		return diagnostics.NewNoOpRunTracer("lapctl")
	}

	exporter := "otlp"
	if t.TraceStdout {
		exporter = "stdout"
	}
	tracer, err := diagnostics.NewOTelRunTracer(ctx, diagnostics.OTelTracerConfig{
		ServiceName: "lapctl",
		Exporter:    exporter,
		Endpoint:    t.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		logger.Warn("Tracing disabled: exporter setup failed", "error", err)
		return diagnostics.NewNoOpRunTracer("lapctl")
	}
	return tracer
}

// newRunnerComponents wires every pipeline component from the resolved
// configuration. Construction is cheap across the board; subcommands
// that skip a phase simply never call into its component. The returned
// shutdown flushes the tracer and must run before the process exits.
func newRunnerComponents(ctx context.Context, cmd *cobra.Command, deploy config.DeployConfig) (RunnerComponents, func(), error) {
	cfg := config.Global
	processes := NewDefaultProcessManager()
	envPath := resolvedEnvPath()

	orchCfg := OrchestratorConfig{
		StackDir:      resolvedStackDir(),
		ProjectName:   cfg.Stack.ProjectName,
		Profile:       deploy.Profile,
		Environment:   deploy.Environment,
		DryRun:        dryRun,
		ForceRecreate: forceRecreate,
		SkipImagePull: skipImagePull,
		SkipCleanup:   skipCleanup,
	}

	store, err := NewFileReportStore(cfg.Reports.Dir, cfg.Reports.Retention)
	if err != nil {
		return RunnerComponents{}, nil, fmt.Errorf("failed to open the report archive: %w", err)
	}

	tracer := newTracer(ctx)
	shutdown := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(flushCtx); err != nil {
			logger.Debug("Tracer shutdown failed", "error", err)
		}
	}

	parts := RunnerComponents{
		Deps: NewDependencyChecker(DependencyCheckerConfig{
			EngineSocket: cfg.Stack.DockerSocket,
		}, processes, logger),
		Ports: NewPortScanner(PortScannerConfig{
			Ports: append(DefaultStackPorts(), cfg.Ports.Extra...),
		}, processes, logger),
		Env: NewEnvValidator(EnvValidatorConfig{
			EnvPath:  envPath,
			StackDir: resolvedStackDir(),
		}, processes, logger),
		Fixer: NewEnvFixer(EnvFixerConfig{EnvPath: envPath}, NewDefaultSecretGenerator(), logger),
		Services: func(toolchain *Toolchain) Orchestrator {
			return NewOrchestrator(orchCfg, toolchain, processes, logger)
		},
		Readiness: NewReadinessPoller(readinessSettings(cmd), logger),
		Prompter:  NewDefaultPrompter(assumeYes),
		Store:     store,
		Metrics:   newMetrics(),
		Tracer:    tracer,
	}
	return parts, shutdown, nil
}

// newDeployLock builds the flock guard that rejects overlapping
// deploy/destroy runs.
func newDeployLock() *process.DeployLock {
	return process.NewDeployLock(process.DeployLockConfig{
		LockDir:  stateDir(),
		LockName: "lapctl",
	})
}

// emitReport renders a finished run and maps it to the process exit
// code. Interrupts trump the report's own code.
func emitReport(ctx context.Context, report *RunReport, err error) int {
	out := outputSettings()
	if report != nil && !out.JSON && !out.Quiet {
		// The partial report still renders on a fatal abort; the
		// results gathered before the abort are the diagnosis.
		NewReportRenderer(verboseOutput).Render(report)
	}
	code := OutputReport(out, report, err)
	if interrupted(ctx) {
		fmt.Fprintln(os.Stderr, "Interrupted.")
		code = ExitInterrupted
	}
	return code
}
