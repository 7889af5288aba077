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

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/diagnostics"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// Port Conflict Policy
// -----------------------------------------------------------------------------

// Port conflict policies. They only matter for runs that go on to start
// services; pure validation runs record conflicts and keep going.
const (
	// PortPolicyWarn records conflicts and continues unconditionally.
	PortPolicyWarn = "warn"

	// PortPolicyPrompt asks the operator whether to continue. Sessions
	// without an operator fall back to warn-and-continue.
	PortPolicyPrompt = "prompt"

	// PortPolicyStrict stops the run before anything starts.
	PortPolicyStrict = "strict"
)

// -----------------------------------------------------------------------------
// Runner Configuration
// -----------------------------------------------------------------------------

// RunnerConfig carries the per-run knobs a subcommand resolved from
// flags, the deploy manifest and the global config.
type RunnerConfig struct {
	// Command is the subcommand name recorded on the report.
	Command string

	// DeployType, Profile and Environment are echoed into the report
	// for the archive.
	DeployType  string
	Profile     string
	Environment string

	// PortPolicy decides what a port conflict does to a deploy run.
	// Empty uses PortPolicyPrompt.
	PortPolicy string

	// AutoFix repairs the env file before validating it.
	AutoFix bool

	// SkipSave leaves the finalized report out of the archive.
	SkipSave bool
}

// OrchestratorFactory builds the orchestrator once the toolchain is
// known. The compose invocation comes out of the dependency probe, so
// construction has to wait for it. A nil toolchain falls back to
// "docker compose".
type OrchestratorFactory func(toolchain *Toolchain) Orchestrator

// RunnerComponents bundles the pipeline collaborators so the
// constructor stays readable and tests can swap any of them for mocks.
// A method only touches the components its phases need; the rest may be
// nil.
type RunnerComponents struct {
	Deps      DependencyChecker
	Ports     PortScanner
	Env       EnvValidator
	Fixer     EnvFixer
	Services  OrchestratorFactory
	Readiness ReadinessPoller
	Prompter  UserPrompter
	Store     ReportStore
	Metrics   diagnostics.ValidationMetrics
	Tracer    diagnostics.RunTracer
}

// -----------------------------------------------------------------------------
// DeployRunner
// -----------------------------------------------------------------------------

// DeployRunner executes the validation pipeline and owns its control
// flow.
//
// # Description
//
// Each public method is one subcommand's pipeline: a sequence of
// component phases appending ordered results to a single RunReport.
// Components never escalate past their boundary; the runner is the only
// place that decides whether a run keeps going. Three things stop a
// run early:
//
//   - an unusable container engine (missing, or daemon unreachable),
//   - the port conflict policy (strict, or an operator declining),
//   - compose rejecting the merged configuration.
//
// Everything else degrades into the counts. Results gathered before an
// abort are always in the returned report.
//
// # Thread Safety
//
// A DeployRunner is built for one run and discarded. Methods must not
// be called concurrently.
type DeployRunner struct {
	config RunnerConfig
	parts  RunnerComponents
	logger *logging.Logger
}

// NewDeployRunner creates a runner. Nil Metrics, Tracer and Prompter
// get no-op or default implementations; a nil logger uses the package
// default.
func NewDeployRunner(config RunnerConfig, parts RunnerComponents, logger *logging.Logger) *DeployRunner {
	if config.PortPolicy == "" {
		config.PortPolicy = PortPolicyPrompt
	}
	if parts.Metrics == nil {
		parts.Metrics = diagnostics.NewDefaultValidationMetrics(false)
	}
	if parts.Tracer == nil {
		parts.Tracer = diagnostics.NewNoOpRunTracer("lapctl")
	}
	if parts.Prompter == nil {
		parts.Prompter = NewDefaultPrompter(false)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DeployRunner{config: config, parts: parts, logger: logger}
}

// -----------------------------------------------------------------------------
// Pipelines
// -----------------------------------------------------------------------------

// Deploy runs the full pipeline: dependencies, ports, environment,
// orchestration, readiness.
//
// # Outputs
//
//   - *RunReport: The finalized report. Never nil.
//   - error: The fatal error that aborted the run, nil otherwise.
func (r *DeployRunner) Deploy(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)

	toolchain, err := r.probeDependencies(ctx, report)
	if err != nil {
		return r.finish(ctx, report, end, err)
	}

	if !r.scanPorts(ctx, report, true) {
		return r.finish(ctx, report, end, nil)
	}

	r.checkEnvironment(ctx, report)

	if err := r.startServices(ctx, report, toolchain); err != nil {
		return r.finish(ctx, report, end, err)
	}

	r.pollReadiness(ctx, report)

	return r.finish(ctx, report, end, nil)
}

// Validate runs the validation phases without starting anything:
// dependencies, ports, environment.
func (r *DeployRunner) Validate(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)

	if _, err := r.probeDependencies(ctx, report); err != nil {
		return r.finish(ctx, report, end, err)
	}

	// Nothing gets started, so conflicts carry no go/no-go decision.
	r.scanPorts(ctx, report, false)
	r.checkEnvironment(ctx, report)

	return r.finish(ctx, report, end, nil)
}

// Ports runs the port scan alone.
func (r *DeployRunner) Ports(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)
	r.scanPorts(ctx, report, false)
	return r.finish(ctx, report, end, nil)
}

// EnvCheck runs the environment validation alone.
func (r *DeployRunner) EnvCheck(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)
	r.validateEnvironment(ctx, report)
	return r.finish(ctx, report, end, nil)
}

// EnvFix repairs the environment file, then validates the result.
func (r *DeployRunner) EnvFix(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)
	r.repairEnvironment(ctx, report)
	r.validateEnvironment(ctx, report)
	return r.finish(ctx, report, end, nil)
}

// Stop halts the stack's containers without removing anything. The
// dependency probe runs first; stopping needs the same toolchain
// starting does.
func (r *DeployRunner) Stop(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)

	toolchain, err := r.probeDependencies(ctx, report)
	if err != nil {
		return r.finish(ctx, report, end, err)
	}

	spanCtx, endSpan := r.parts.Tracer.StartSpan(ctx, r.config.Command+".services", nil)
	results, err := r.parts.Services(toolchain).Stop(spanCtx)
	r.record(report, results)
	endSpan(err)
	if err != nil {
		r.parts.Metrics.RecordError(errorLabel(err))
	}

	return r.finish(ctx, report, end, err)
}

// Destroy removes the stack's containers and volumes. Confirmation is
// the caller's job; by the time this runs the decision is made.
func (r *DeployRunner) Destroy(ctx context.Context) (*RunReport, error) {
	ctx, report, end := r.begin(ctx)

	toolchain, err := r.probeDependencies(ctx, report)
	if err != nil {
		return r.finish(ctx, report, end, err)
	}

	spanCtx, endSpan := r.parts.Tracer.StartSpan(ctx, r.config.Command+".services", nil)
	results, err := r.parts.Services(toolchain).Destroy(spanCtx)
	r.record(report, results)
	endSpan(err)
	if err != nil {
		r.parts.Metrics.RecordError(errorLabel(err))
	}

	return r.finish(ctx, report, end, err)
}

// -----------------------------------------------------------------------------
// Phases
// -----------------------------------------------------------------------------

// probeDependencies runs the toolchain probe. A returned error means
// the host cannot run the stack and the caller must stop.
func (r *DeployRunner) probeDependencies(ctx context.Context, report *RunReport) (*Toolchain, error) {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".deps", nil)
	toolchain, results, err := r.parts.Deps.Check(ctx)
	r.record(report, results)
	end(err)

	if err != nil {
		r.parts.Metrics.RecordError(errorLabel(err))
		r.logger.Error("Dependency probe aborted the run", "error", err)
		return nil, err
	}
	if toolchain != nil {
		r.logger.Debug("Toolchain detected",
			"engine", toolchain.Engine,
			"engine_version", toolchain.EngineVersion,
			"compose", toolchain.ComposeCommand())
	}
	return toolchain, nil
}

// scanPorts probes the stack ports and, when gate is true, applies the
// conflict policy. Returns false when the run must stop before starting
// anything.
func (r *DeployRunner) scanPorts(ctx context.Context, report *RunReport, gate bool) bool {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".ports", nil)
	probes, results := r.parts.Ports.Scan(ctx)
	r.record(report, results)
	end(nil)

	conflicts := 0
	for _, probe := range probes {
		if probe.Occupied {
			conflicts++
			r.parts.Metrics.RecordPortConflict(probe.Port, probe.Service)
		}
	}
	if conflicts == 0 || !gate {
		return true
	}

	switch r.config.PortPolicy {
	case PortPolicyWarn:
		r.logger.Warn("Continuing past port conflicts", "conflicts", conflicts)
		return true
	case PortPolicyStrict:
		r.logger.Error("Stopping before startup: port conflicts under strict policy", "conflicts", conflicts)
		return false
	}

	prompt := fmt.Sprintf("%d stack port(s) are already in use. Continue anyway?", conflicts)
	proceed, err := r.parts.Prompter.Confirm(ctx, prompt)
	if err != nil {
		// No operator to ask. The conflicts are already WARNs in the
		// report, so continuing is the warn-and-continue default.
		r.logger.Warn("Port conflict prompt unavailable, continuing", "error", err)
		return true
	}
	if !proceed {
		r.logger.Info("Stopping at operator request after port conflicts", "conflicts", conflicts)
	}
	return proceed
}

// checkEnvironment repairs the env file first when auto-fix is on, then
// validates it. Any write happens here, strictly before the
// orchestrator phase reads the file.
func (r *DeployRunner) checkEnvironment(ctx context.Context, report *RunReport) {
	if r.config.AutoFix && r.parts.Fixer != nil {
		r.repairEnvironment(ctx, report)
	}
	r.validateEnvironment(ctx, report)
}

// repairEnvironment runs the env fixer phase.
func (r *DeployRunner) repairEnvironment(ctx context.Context, report *RunReport) {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".env_fix", nil)
	outcome, results := r.parts.Fixer.Fix(ctx)
	r.record(report, results)
	end(nil)

	fixed := len(outcome.MintedKeys) + len(outcome.SeededKeys)
	if fixed > 0 {
		r.parts.Metrics.RecordEnvFixes(fixed)
	}
	if outcome.Changed {
		r.logger.Info("Environment file repaired",
			"path", outcome.Path,
			"backup", outcome.BackupPath,
			"minted", len(outcome.MintedKeys),
			"seeded", len(outcome.SeededKeys))
	}
}

// validateEnvironment runs the env validator phase.
func (r *DeployRunner) validateEnvironment(ctx context.Context, report *RunReport) {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".env", nil)
	results := r.parts.Env.Validate(ctx)
	r.record(report, results)
	end(nil)
}

// startServices runs the orchestrator phase. A returned error means
// compose rejected the configuration; results gathered before the
// rejection are already in the report.
func (r *DeployRunner) startServices(ctx context.Context, report *RunReport, toolchain *Toolchain) error {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".services", nil)
	results, err := r.parts.Services(toolchain).Up(ctx)
	r.record(report, results)
	end(err)

	if err != nil {
		r.parts.Metrics.RecordError(errorLabel(err))
		r.logger.Error("Orchestrator aborted the run", "error", err)
	}
	return err
}

// pollReadiness runs the readiness phase.
func (r *DeployRunner) pollReadiness(ctx context.Context, report *RunReport) {
	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command+".readiness", nil)
	health, results := r.parts.Readiness.Poll(ctx)
	r.record(report, results)
	end(nil)

	for _, h := range health {
		outcome := "ready"
		if !h.Ready {
			outcome = "timeout"
		}
		r.parts.Metrics.RecordServiceReadiness(h.Service, outcome, h.Attempts)
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle
// -----------------------------------------------------------------------------

// begin opens the root span and seeds a report with the run
// configuration.
func (r *DeployRunner) begin(ctx context.Context) (context.Context, *RunReport, func(error)) {
	report := NewRunReport(r.config.Command)
	report.DeployType = r.config.DeployType
	report.Profile = r.config.Profile
	report.Environment = r.config.Environment

	ctx, end := r.parts.Tracer.StartSpan(ctx, r.config.Command, map[string]string{
		"lapctl.command":     r.config.Command,
		"lapctl.profile":     r.config.Profile,
		"lapctl.environment": r.config.Environment,
	})
	report.TraceID = r.parts.Tracer.GetTraceID(ctx)

	r.logger.Info("Run started",
		"command", r.config.Command,
		"run_id", report.ID,
		"profile", r.config.Profile,
		"environment", r.config.Environment)
	return ctx, report, end
}

// finish freezes the report, records run metrics, archives the report
// and closes the root span.
func (r *DeployRunner) finish(ctx context.Context, report *RunReport, end func(error), runErr error) (*RunReport, error) {
	report.Finalize()
	r.parts.Metrics.RecordRun(runOutcome(report, runErr), report.Duration())
	end(runErr)

	r.logger.Info("Run finished",
		"command", r.config.Command,
		"run_id", report.ID,
		"passed", report.Summary.Passed,
		"failed", report.Summary.Failed,
		"warnings", report.Summary.Warnings,
		"exit_code", report.ExitCode)

	if !r.config.SkipSave && r.parts.Store != nil {
		// Archiving outlives the run context on purpose; an
		// interrupted run's partial report is the one worth keeping.
		location, err := r.parts.Store.Save(context.WithoutCancel(ctx), report)
		if err != nil {
			r.logger.Warn("Failed to archive the report", "error", err)
		} else {
			r.logger.Debug("Report archived", "location", location)
		}
	}

	return report, runErr
}

// record appends results to the report and feeds the check metrics.
func (r *DeployRunner) record(report *RunReport, results []CheckResult) {
	for _, res := range results {
		report.Add(res)
		r.parts.Metrics.RecordCheck(res.Component, string(res.Status), res.Duration())
	}
}

// runOutcome maps a finished run to its metric label.
func runOutcome(report *RunReport, runErr error) string {
	switch {
	case runErr != nil:
		return "aborted"
	case report.Summary.Failed > 0:
		return "failed"
	case report.Summary.Warnings > 0:
		return "degraded"
	default:
		return "passed"
	}
}

// errorLabel extracts the metric label from a classified error.
func errorLabel(err error) string {
	var checkErr *CheckError
	if errors.As(err, &checkErr) {
		return checkErr.Class.MetricLabel()
	}
	return "unknown"
}

// interrupted reports whether the run context was cancelled, as opposed
// to running out its own deadline.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
