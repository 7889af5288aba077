// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides the Orchestrator that brings the compose stack up and down.

Services start in fixed-order groups, datastores first, so dependents find
their databases already listening. Each group is started detached and
followed by a settle sleep; actual readiness probing happens later in the
run, not here.

Both stacks share the compose project name "localai" so every container
appears under one project regardless of which compose file defined it.
*/
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	// DefaultProjectName groups both compose stacks under one project.
	DefaultProjectName = "localai"

	// defaultComposeFile is the local AI stack definition.
	defaultComposeFile = "docker-compose.yml"

	// defaultSupabaseComposeFile is the Supabase stack definition,
	// vendored via sparse checkout.
	defaultSupabaseComposeFile = "supabase/docker/docker-compose.yml"
)

// Hardware profiles selecting the Ollama variant.
const (
	ProfileCPU       = "cpu"
	ProfileGPUNvidia = "gpu-nvidia"
	ProfileGPUAMD    = "gpu-amd"
	ProfileNone      = "none"
)

// Exposure environments selecting the override files.
const (
	EnvironmentPrivate = "private"
	EnvironmentPublic  = "public"
)

// -----------------------------------------------------------------------------
// Service Groups
// -----------------------------------------------------------------------------

// ServiceGroup is one ordered bring-up unit.
type ServiceGroup struct {
	// Name labels the group in results and logs.
	Name string

	// ComposeFile is the stack definition for this group.
	ComposeFile string

	// OverrideFiles are appended after ComposeFile with additional -f
	// flags, in order.
	OverrideFiles []string

	// Services restricts the up invocation to these services. Empty
	// starts everything the file defines.
	Services []string

	// UsesProfile applies the configured hardware profile to this
	// group. The Supabase stack does not define profiles.
	UsesProfile bool

	// Settle is how long to wait after the group starts before the
	// next group is brought up.
	Settle time.Duration
}

// DefaultServiceGroups returns the bring-up order for an exposure
// environment: Supabase datastores, then queue and cache services, then
// the application layer.
//
// The queue and cache group shares the application layer's compose and
// override files so the later full up does not recreate its containers
// with different config.
func DefaultServiceGroups(environment string) []ServiceGroup {
	var supabaseOverrides, appOverrides []string
	switch environment {
	case EnvironmentPublic:
		supabaseOverrides = []string{"docker-compose.override.public.supabase.yml"}
		appOverrides = []string{"docker-compose.override.public.yml"}
	default:
		appOverrides = []string{"docker-compose.override.private.yml"}
	}

	return []ServiceGroup{
		{
			Name:          "supabase datastores",
			ComposeFile:   defaultSupabaseComposeFile,
			OverrideFiles: supabaseOverrides,
			Settle:        10 * time.Second,
		},
		{
			Name:          "queue and cache",
			ComposeFile:   defaultComposeFile,
			OverrideFiles: appOverrides,
			Services:      []string{"redis", "qdrant", "neo4j"},
			UsesProfile:   true,
			Settle:        5 * time.Second,
		},
		{
			Name:          "application layer",
			ComposeFile:   defaultComposeFile,
			OverrideFiles: appOverrides,
			UsesProfile:   true,
		},
	}
}

// -----------------------------------------------------------------------------
// Orchestrator Interface
// -----------------------------------------------------------------------------

// Orchestrator drives the compose lifecycle of the stack.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, though a run invokes
// at most one lifecycle method at a time.
type Orchestrator interface {
	// Up brings every service group up in order.
	//
	// # Description
	//
	// Validates each group's merged compose configuration, starts the
	// group detached, and sleeps the group's settle delay before
	// continuing. A non-zero up exit becomes a FAIL result with the
	// compose stderr folded into the detail; the remaining groups are
	// still attempted. Config rejection aborts the step.
	//
	// # Outputs
	//
	//   - []CheckResult: One result per group action, in order.
	//   - error: A *CheckError with ErrClassConfiguration when compose
	//     rejects a group's merged configuration. Results gathered
	//     before the rejection are still returned.
	Up(ctx context.Context) ([]CheckResult, error)

	// Stop halts the stack's containers without removing them.
	Stop(ctx context.Context) ([]CheckResult, error)

	// Destroy removes the stack's containers and volumes.
	Destroy(ctx context.Context) ([]CheckResult, error)
}

// -----------------------------------------------------------------------------
// DefaultOrchestrator
// -----------------------------------------------------------------------------

// OrchestratorConfig configures stack bring-up.
type OrchestratorConfig struct {
	// StackDir anchors the group compose files. Empty leaves them
	// relative to the working directory.
	StackDir string

	// ProjectName is the compose project. Empty uses DefaultProjectName.
	ProjectName string

	// Profile is the hardware profile (cpu, gpu-nvidia, gpu-amd, none).
	// ProfileNone and empty add no --profile flag.
	Profile string

	// Environment selects override files (private, public).
	Environment string

	// Groups overrides the bring-up order. Nil uses
	// DefaultServiceGroups(Environment).
	Groups []ServiceGroup

	// DryRun logs every compose command without executing anything.
	DryRun bool

	// ForceRecreate recreates containers even when their config is
	// unchanged.
	ForceRecreate bool

	// SkipImagePull starts from local images only.
	SkipImagePull bool

	// SkipCleanup leaves any previous project containers in place
	// instead of taking them down before the first group starts.
	SkipCleanup bool
}

// DefaultOrchestrator implements Orchestrator on a ProcessManager.
type DefaultOrchestrator struct {
	config    OrchestratorConfig
	compose   []string
	processes ProcessManager
	logger    *logging.Logger

	// sleep is injectable so tests skip the settle delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator using the detected compose
// provider. A nil toolchain falls back to the docker compose plugin.
func NewOrchestrator(config OrchestratorConfig, toolchain *Toolchain, processes ProcessManager, logger *logging.Logger) *DefaultOrchestrator {
	if config.ProjectName == "" {
		config.ProjectName = DefaultProjectName
	}
	if config.Groups == nil {
		config.Groups = DefaultServiceGroups(config.Environment)
	}
	compose := []string{"docker", "compose"}
	if toolchain.HasCompose() {
		compose = toolchain.Compose
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultOrchestrator{
		config:    config,
		compose:   compose,
		processes: processes,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// sleepContext waits for the duration or the context, whichever ends
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Up brings every service group up in order.
func (o *DefaultOrchestrator) Up(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult

	if !o.config.SkipCleanup {
		results = append(results, o.downExisting(ctx))
	}

	for i, group := range o.config.Groups {
		if err := ctx.Err(); err != nil {
			results = append(results, o.cancelledResult(group.Name, err))
			return results, nil
		}

		valid, result := o.validateGroup(ctx, group)
		if !valid {
			results = append(results, result)
			return results, NewCheckError(ErrClassConfiguration,
				fmt.Sprintf("compose rejected the %s configuration", group.Name),
				fmt.Sprintf("Run '%s config' to see the full error", o.describe(o.configArgs(group))),
				fmt.Errorf("%s", result.Detail))
		}

		results = append(results, o.upGroup(ctx, group))

		if group.Settle > 0 && i < len(o.config.Groups)-1 && !o.config.DryRun {
			o.logger.Debug("settling before next group", "group", group.Name, "settle", group.Settle)
			if err := o.sleep(ctx, group.Settle); err != nil {
				results = append(results, o.cancelledResult(o.config.Groups[i+1].Name, err))
				return results, nil
			}
		}
	}

	return results, nil
}

// Stop halts the stack's containers without removing them.
func (o *DefaultOrchestrator) Stop(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult
	for _, group := range o.reversedUniqueFileGroups() {
		args := append(o.baseArgs(group), "stop")
		results = append(results, o.runLifecycle(ctx, args,
			fmt.Sprintf("stop %s", group.Name),
			fmt.Sprintf("stopped %s", group.Name)))
	}
	return results, nil
}

// Destroy removes the stack's containers and volumes. Orphans are
// removed too so the Supabase containers go with the project even
// though the application compose file does not define them.
func (o *DefaultOrchestrator) Destroy(ctx context.Context) ([]CheckResult, error) {
	group := ServiceGroup{Name: "stack", ComposeFile: defaultComposeFile, UsesProfile: true}
	if len(o.config.Groups) > 0 {
		last := o.config.Groups[len(o.config.Groups)-1]
		group.ComposeFile = last.ComposeFile
		group.OverrideFiles = last.OverrideFiles
	}
	args := append(o.baseArgs(group), "down", "-v", "--remove-orphans")
	result := o.runLifecycle(ctx, args, "destroy stack", "removed stack containers and volumes")
	return []CheckResult{result}, nil
}

// -----------------------------------------------------------------------------
// Group Execution
// -----------------------------------------------------------------------------

// downExisting takes down whatever a previous run left in the project.
// Failures are advisory; a fresh host has nothing to take down.
func (o *DefaultOrchestrator) downExisting(ctx context.Context) CheckResult {
	group := ServiceGroup{Name: "previous containers", ComposeFile: defaultComposeFile, UsesProfile: true}
	args := append(o.baseArgs(group), "down")
	start := time.Now()

	if o.config.DryRun {
		return o.dryRunResult("cleanup", args, start)
	}

	o.logger.Info("taking down previous project containers", "command", o.describe(args))
	if _, err := o.processes.Run(ctx, args[0], args[1:]...); err != nil {
		return CheckResult{
			Component:   ComponentServices,
			Name:        "cleanup",
			Status:      StatusWarn,
			Detail:      failureDetail("compose down for previous containers failed", err),
			Remediation: fmt.Sprintf("Run '%s' manually and inspect the output", o.describe(args)),
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}
	return CheckResult{
		Component:  ComponentServices,
		Name:       "cleanup",
		Status:     StatusPass,
		Detail:     "previous project containers taken down",
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// validateGroup asks compose to parse the group's merged configuration
// without starting anything. Returns false when compose rejects it.
func (o *DefaultOrchestrator) validateGroup(ctx context.Context, group ServiceGroup) (bool, CheckResult) {
	if o.config.DryRun {
		return true, CheckResult{}
	}

	args := o.configArgs(group)
	start := time.Now()
	if _, err := o.processes.Run(ctx, args[0], args[1:]...); err != nil {
		return false, CheckResult{
			Component:   ComponentServices,
			Name:        group.Name,
			Status:      StatusFail,
			Detail:      failureDetail(fmt.Sprintf("compose rejected the %s configuration", group.Name), err),
			Remediation: fmt.Sprintf("Run '%s config' to see the full error", o.describe(o.baseArgs(group))),
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}
	return true, CheckResult{}
}

// upGroup starts one group detached.
func (o *DefaultOrchestrator) upGroup(ctx context.Context, group ServiceGroup) CheckResult {
	args := append(o.baseArgs(group), "up", "-d")
	if o.config.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	if o.config.SkipImagePull {
		args = append(args, "--pull", "never")
	}
	args = append(args, group.Services...)
	start := time.Now()

	if o.config.DryRun {
		return o.dryRunResult(group.Name, args, start)
	}

	o.logger.Info("starting service group", "group", group.Name, "command", o.describe(args))
	if _, err := o.processes.Run(ctx, args[0], args[1:]...); err != nil {
		return CheckResult{
			Component:   ComponentServices,
			Name:        group.Name,
			Status:      StatusFail,
			Detail:      failureDetail(fmt.Sprintf("compose up for %s failed", group.Name), err),
			Remediation: fmt.Sprintf("Inspect service logs with '%s logs' and verify the env file is complete", o.describe(o.baseArgs(group))),
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}

	detail := fmt.Sprintf("started %s detached", group.Name)
	if len(group.Services) > 0 {
		detail = fmt.Sprintf("started %s detached (%s)", group.Name, strings.Join(group.Services, ", "))
	}
	return CheckResult{
		Component:  ComponentServices,
		Name:       group.Name,
		Status:     StatusPass,
		Detail:     detail,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// runLifecycle executes one stop/down style command.
func (o *DefaultOrchestrator) runLifecycle(ctx context.Context, args []string, name, successDetail string) CheckResult {
	start := time.Now()
	if o.config.DryRun {
		return o.dryRunResult(name, args, start)
	}

	o.logger.Info("running compose lifecycle command", "name", name, "command", o.describe(args))
	if _, err := o.processes.Run(ctx, args[0], args[1:]...); err != nil {
		return CheckResult{
			Component:   ComponentServices,
			Name:        name,
			Status:      StatusFail,
			Detail:      failureDetail(name+" failed", err),
			Remediation: fmt.Sprintf("Run '%s' manually and inspect the output", o.describe(args)),
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}
	return CheckResult{
		Component:  ComponentServices,
		Name:       name,
		Status:     StatusPass,
		Detail:     successDetail,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (o *DefaultOrchestrator) dryRunResult(name string, args []string, start time.Time) CheckResult {
	o.logger.Info("dry run", "command", o.describe(args))
	return CheckResult{
		Component:  ComponentServices,
		Name:       name,
		Status:     StatusPass,
		Detail:     fmt.Sprintf("dry run: would execute '%s'", o.describe(args)),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (o *DefaultOrchestrator) cancelledResult(name string, err error) CheckResult {
	return CheckResult{
		Component: ComponentServices,
		Name:      name,
		Status:    StatusFail,
		Detail:    fmt.Sprintf("cancelled before %s started: %v", name, err),
	}
}

// failureDetail prefers the command's own stderr over the formatted
// error chain. Compose prints its diagnosis there and it reads better
// than the full command line.
func failureDetail(prefix string, err error) string {
	if stderr := ExtractStderr(err); stderr != "" {
		return fmt.Sprintf("%s: %s", prefix, stderr)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}

// -----------------------------------------------------------------------------
// Command Construction
// -----------------------------------------------------------------------------

// baseArgs builds the compose argv prefix for a group: provider,
// project, profile, and every -f flag in order.
func (o *DefaultOrchestrator) baseArgs(group ServiceGroup) []string {
	args := append([]string{}, o.compose...)
	args = append(args, "-p", o.config.ProjectName)
	if group.UsesProfile && o.config.Profile != "" && o.config.Profile != ProfileNone {
		args = append(args, "--profile", o.config.Profile)
	}
	args = append(args, "-f", o.anchored(group.ComposeFile))
	for _, f := range group.OverrideFiles {
		args = append(args, "-f", o.anchored(f))
	}
	return args
}

// anchored resolves a compose file path against the stack directory so
// the command works from any working directory.
func (o *DefaultOrchestrator) anchored(path string) string {
	if o.config.StackDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.config.StackDir, path)
}

func (o *DefaultOrchestrator) configArgs(group ServiceGroup) []string {
	return append(o.baseArgs(group), "config", "--quiet")
}

func (o *DefaultOrchestrator) describe(args []string) string {
	return strings.Join(args, " ")
}

// reversedUniqueFileGroups returns the configured groups newest-first,
// keeping only the first group seen per compose file so stop does not
// hit the same file twice.
func (o *DefaultOrchestrator) reversedUniqueFileGroups() []ServiceGroup {
	seen := make(map[string]bool)
	var groups []ServiceGroup
	for i := len(o.config.Groups) - 1; i >= 0; i-- {
		g := o.config.Groups[i]
		if seen[g.ComposeFile] {
			continue
		}
		seen[g.ComposeFile] = true
		g.Services = nil
		groups = append(groups, g)
	}
	return groups
}

// -----------------------------------------------------------------------------
// MockOrchestrator
// -----------------------------------------------------------------------------

// MockOrchestrator is a test double for Orchestrator.
type MockOrchestrator struct {
	// UpFunc is called when Up is invoked
	UpFunc func(ctx context.Context) ([]CheckResult, error)

	// StopFunc is called when Stop is invoked
	StopFunc func(ctx context.Context) ([]CheckResult, error)

	// DestroyFunc is called when Destroy is invoked
	DestroyFunc func(ctx context.Context) ([]CheckResult, error)

	// Calls records method invocations for verification
	Calls []string

	mu sync.Mutex
}

// Up delegates to UpFunc and records the call.
func (m *MockOrchestrator) Up(ctx context.Context) ([]CheckResult, error) {
	m.record("Up")
	if m.UpFunc == nil {
		panic("MockOrchestrator.UpFunc not set")
	}
	return m.UpFunc(ctx)
}

// Stop delegates to StopFunc and records the call.
func (m *MockOrchestrator) Stop(ctx context.Context) ([]CheckResult, error) {
	m.record("Stop")
	if m.StopFunc == nil {
		panic("MockOrchestrator.StopFunc not set")
	}
	return m.StopFunc(ctx)
}

// Destroy delegates to DestroyFunc and records the call.
func (m *MockOrchestrator) Destroy(ctx context.Context) ([]CheckResult, error) {
	m.record("Destroy")
	if m.DestroyFunc == nil {
		panic("MockOrchestrator.DestroyFunc not set")
	}
	return m.DestroyFunc(ctx)
}

// Reset clears all recorded calls.
func (m *MockOrchestrator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockOrchestrator) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
}

// Compile-time interface checks
var (
	_ Orchestrator = (*DefaultOrchestrator)(nil)
	_ Orchestrator = (*MockOrchestrator)(nil)
)
