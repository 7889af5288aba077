// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides DependencyChecker for host toolchain probing.

DependencyChecker is the first component of a deploy run. It answers one
question the rest of the pipeline depends on: which container engine and
compose provider should later steps execute? A host without a working
engine cannot run the stack at all, so a missing binary or an unreachable
daemon aborts the run; everything else lands in the report as FAIL or WARN
without stopping it.

# Probe Order

  - Engine: docker, then podman
  - Daemon: `<engine> info` must answer
  - Compose: `docker compose` plugin, then docker-compose, then podman-compose

The first hit wins and is reported in the Toolchain so the orchestrator
executes the same binary the prober validated.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/mod/semver"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// Minimums
// -----------------------------------------------------------------------------

const (
	// minEngineVersion is the oldest engine release the stack's compose
	// files are known to work with.
	minEngineVersion = "v20"

	// minComposeMajor is the compose file-format generation the stack
	// targets. v1 providers mostly work but parse profiles differently.
	minComposeMajor = "v2"

	// Host resource advisory floors. Below these the stack starts but
	// Ollama and Supabase contend badly.
	minMemoryBytes = 4 << 30  // 4 GiB
	minLogicalCPUs = 2        //
	minFreeDisk    = 20 << 30 // 20 GiB
)

// engineInstallURL is surfaced as remediation when no engine is found.
const engineInstallURL = "https://docs.docker.com/engine/install/"

// -----------------------------------------------------------------------------
// Toolchain
// -----------------------------------------------------------------------------

// Toolchain describes the container tooling detected on the host.
//
// Compose holds the argv prefix later steps prepend to compose arguments,
// e.g. {"docker", "compose"} for the plugin or {"docker-compose"} for the
// standalone binary.
type Toolchain struct {
	// Engine is the engine binary name ("docker" or "podman").
	Engine string `json:"engine"`

	// EngineVersion is the detected engine version ("27.3.1"), empty if
	// version output could not be parsed.
	EngineVersion string `json:"engine_version,omitempty"`

	// Compose is the compose invocation prefix. Empty when no provider
	// was found.
	Compose []string `json:"compose,omitempty"`

	// ComposeVersion is the detected compose version, empty if unknown.
	ComposeVersion string `json:"compose_version,omitempty"`
}

// HasCompose returns true when a compose provider was detected.
func (t *Toolchain) HasCompose() bool {
	return t != nil && len(t.Compose) > 0
}

// ComposeCommand describes the compose invocation for humans ("docker
// compose", "podman-compose").
func (t *Toolchain) ComposeCommand() string {
	if !t.HasCompose() {
		return ""
	}
	return strings.Join(t.Compose, " ")
}

// -----------------------------------------------------------------------------
// DependencyChecker Interface
// -----------------------------------------------------------------------------

// DependencyChecker probes the host for the tools a deploy needs.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type DependencyChecker interface {
	// Check probes the host and returns the detected toolchain plus
	// ordered results.
	//
	// # Outputs
	//
	//   - *Toolchain: Detected tooling. Nil when the probe aborted.
	//   - []CheckResult: One result per probe, in probe order.
	//   - error: A *CheckError with ErrClassEnvironment when no engine
	//     was found or its daemon is unreachable; nil otherwise. Results
	//     are always returned.
	Check(ctx context.Context) (*Toolchain, []CheckResult, error)
}

// -----------------------------------------------------------------------------
// DefaultDependencyChecker
// -----------------------------------------------------------------------------

// DependencyCheckerConfig configures host probing.
type DependencyCheckerConfig struct {
	// EngineSocket is the engine daemon socket, consulted when the
	// daemon probe fails to separate a stopped daemon from a permission
	// problem. Empty skips the socket inspection.
	EngineSocket string
}

// DefaultDependencyChecker implements DependencyChecker using ProcessManager.
//
// # Example
//
//	checker := NewDependencyChecker(DependencyCheckerConfig{}, NewDefaultProcessManager(), nil)
//	toolchain, results, err := checker.Check(ctx)
//	if err != nil {
//	    // no usable container engine: the run cannot continue
//	}
type DefaultDependencyChecker struct {
	config    DependencyCheckerConfig
	processes ProcessManager
	logger    *logging.Logger

	// memInfoPath and diskPath allow tests to point the resource
	// advisories at fixtures. Defaults: /proc/meminfo and the working
	// directory.
	memInfoPath string
	diskPath    string

	// numCPU allows tests to pin the logical CPU count.
	numCPU func() int
}

// NewDependencyChecker creates a checker. A nil logger uses the package
// default.
func NewDependencyChecker(config DependencyCheckerConfig, processes ProcessManager, logger *logging.Logger) *DefaultDependencyChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultDependencyChecker{
		config:      config,
		processes:   processes,
		logger:      logger,
		memInfoPath: "/proc/meminfo",
		diskPath:    ".",
		numCPU:      runtime.NumCPU,
	}
}

// Check probes engine, daemon, compose, supporting tools and host
// resources.
//
// # Description
//
// Result order is stable: engine, engine version, daemon, compose,
// compose version, git, curl, memory, cpu, disk. The engine and daemon
// probes are the only ones that can abort the run; a missing compose
// provider fails the check but the caller decides whether to continue
// (validate-only runs do).
func (c *DefaultDependencyChecker) Check(ctx context.Context) (*Toolchain, []CheckResult, error) {
	var results []CheckResult

	toolchain, engineResults, err := c.probeEngine(ctx)
	results = append(results, engineResults...)
	if err != nil {
		results = append(results, c.advisoryResults()...)
		return nil, results, err
	}

	daemonResult, err := c.probeDaemon(ctx, toolchain)
	results = append(results, daemonResult)
	if err != nil {
		results = append(results, c.advisoryResults()...)
		return nil, results, err
	}

	results = append(results, c.probeCompose(ctx, toolchain)...)
	results = append(results, c.probeSupportingTools(ctx)...)
	results = append(results, c.advisoryResults()...)

	c.logger.Debug("dependency probe finished",
		"engine", toolchain.Engine,
		"engine_version", toolchain.EngineVersion,
		"compose", toolchain.ComposeCommand(),
		"results", len(results))
	return toolchain, results, nil
}

// probeEngine finds a container engine and its version.
func (c *DefaultDependencyChecker) probeEngine(ctx context.Context) (*Toolchain, []CheckResult, error) {
	start := time.Now()

	var engine string
	for _, candidate := range []string{"docker", "podman"} {
		if _, err := c.processes.LookPath(candidate); err == nil {
			engine = candidate
			break
		}
	}

	if engine == "" {
		result := CheckResult{
			Component:   ComponentDeps,
			Name:        "container engine",
			Status:      StatusFail,
			Detail:      "neither docker nor podman found on PATH",
			Remediation: "Install Docker Engine: " + engineInstallURL,
			DurationMs:  time.Since(start).Milliseconds(),
		}
		err := NewCheckError(ErrClassEnvironment,
			"no container engine installed",
			"Install Docker Engine: "+engineInstallURL, nil)
		return nil, []CheckResult{result}, err
	}

	toolchain := &Toolchain{Engine: engine}

	version := ""
	if out, err := c.processes.Run(ctx, engine, "--version"); err == nil {
		version = parseVersionToken(string(out))
	}
	toolchain.EngineVersion = version

	detail := engine + " detected"
	if version != "" {
		detail = fmt.Sprintf("%s %s detected", engine, version)
	}
	results := []CheckResult{{
		Component:  ComponentDeps,
		Name:       "container engine",
		Status:     StatusPass,
		Detail:     detail,
		DurationMs: time.Since(start).Milliseconds(),
	}}

	results = append(results, c.checkEngineVersion(engine, version))
	return toolchain, results, nil
}

// checkEngineVersion compares the detected engine version to the minimum.
func (c *DefaultDependencyChecker) checkEngineVersion(engine, version string) CheckResult {
	start := time.Now()

	if version == "" {
		return CheckResult{
			Component:  ComponentDeps,
			Name:       "engine version",
			Status:     StatusSkip,
			Detail:     fmt.Sprintf("could not parse %s version output", engine),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	canonical := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(canonical) {
		return CheckResult{
			Component:  ComponentDeps,
			Name:       "engine version",
			Status:     StatusSkip,
			Detail:     fmt.Sprintf("%s reports unparseable version %q", engine, version),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if semver.Compare(canonical, minEngineVersion) < 0 {
		return CheckResult{
			Component:   ComponentDeps,
			Name:        "engine version",
			Status:      StatusWarn,
			Detail:      fmt.Sprintf("%s %s is older than the supported minimum %s", engine, version, strings.TrimPrefix(minEngineVersion, "v")),
			Remediation: fmt.Sprintf("Upgrade %s to %s or newer", engine, strings.TrimPrefix(minEngineVersion, "v")),
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}

	return CheckResult{
		Component:  ComponentDeps,
		Name:       "engine version",
		Status:     StatusPass,
		Detail:     fmt.Sprintf("%s %s meets minimum %s", engine, version, strings.TrimPrefix(minEngineVersion, "v")),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// probeDaemon verifies the detected engine can actually serve requests.
//
// The binary being on PATH says nothing about the runtime behind it: a
// stopped Docker service or podman machine is the most common reason a
// deploy fails minutes later. `<engine> info` only answers when the
// runtime is reachable.
func (c *DefaultDependencyChecker) probeDaemon(ctx context.Context, toolchain *Toolchain) (CheckResult, error) {
	start := time.Now()

	if _, err := c.processes.Run(ctx, toolchain.Engine, "info"); err != nil {
		result := CheckResult{
			Component:   ComponentDeps,
			Name:        "engine daemon",
			Status:      StatusFail,
			Detail:      failureDetail(toolchain.Engine+" daemon unreachable", err),
			Remediation: c.daemonRemediation(toolchain.Engine),
			DurationMs:  time.Since(start).Milliseconds(),
		}
		return result, NewCheckError(ErrClassEnvironment,
			toolchain.Engine+" daemon is not responding", result.Remediation, err)
	}

	return CheckResult{
		Component:  ComponentDeps,
		Name:       "engine daemon",
		Status:     StatusPass,
		Detail:     toolchain.Engine + " daemon reachable",
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// daemonRemediation picks the hint for an unreachable daemon. The
// socket state separates a stopped service from a permission problem.
func (c *DefaultDependencyChecker) daemonRemediation(engine string) string {
	if engine == "podman" {
		return "Check 'podman info'; the podman machine may be stopped"
	}
	if c.config.EngineSocket != "" {
		if _, err := os.Stat(c.config.EngineSocket); err != nil {
			return fmt.Sprintf("Start the Docker daemon (no socket at %s)", c.config.EngineSocket)
		}
		return fmt.Sprintf("The socket %s exists but answers nothing; check daemon health and your docker group membership", c.config.EngineSocket)
	}
	return "Start the Docker daemon (systemctl start docker)"
}

// probeCompose finds a compose provider for the detected engine.
//
// The docker compose plugin is preferred because it shares the engine's
// context and credential configuration. Standalone binaries are probed
// as fallbacks in ecosystem order.
func (c *DefaultDependencyChecker) probeCompose(ctx context.Context, toolchain *Toolchain) []CheckResult {
	start := time.Now()

	// Plugin probe: `docker compose version` exits non-zero when the
	// plugin is absent, so the error is the detection signal.
	if toolchain.Engine == "docker" {
		if out, err := c.processes.Run(ctx, "docker", "compose", "version", "--short"); err == nil {
			toolchain.Compose = []string{"docker", "compose"}
			toolchain.ComposeVersion = parseVersionToken(string(out))
			return c.composeResults(toolchain, "plugin", start)
		}
	}

	for _, candidate := range []string{"docker-compose", "podman-compose"} {
		if _, err := c.processes.LookPath(candidate); err != nil {
			continue
		}
		toolchain.Compose = []string{candidate}
		if out, err := c.processes.Run(ctx, candidate, "--version"); err == nil {
			toolchain.ComposeVersion = parseVersionToken(string(out))
		}
		return c.composeResults(toolchain, "standalone", start)
	}

	return []CheckResult{{
		Component:   ComponentDeps,
		Name:        "compose provider",
		Status:      StatusFail,
		Detail:      "no compose provider found (docker compose plugin, docker-compose, podman-compose)",
		Remediation: "Install the compose plugin: https://docs.docker.com/compose/install/",
		DurationMs:  time.Since(start).Milliseconds(),
	}}
}

// composeResults builds the provider result plus the version advisory.
func (c *DefaultDependencyChecker) composeResults(toolchain *Toolchain, flavor string, start time.Time) []CheckResult {
	detail := fmt.Sprintf("%s (%s) detected", toolchain.ComposeCommand(), flavor)
	if toolchain.ComposeVersion != "" {
		detail = fmt.Sprintf("%s %s (%s) detected", toolchain.ComposeCommand(), toolchain.ComposeVersion, flavor)
	}

	results := []CheckResult{{
		Component:  ComponentDeps,
		Name:       "compose provider",
		Status:     StatusPass,
		Detail:     detail,
		DurationMs: time.Since(start).Milliseconds(),
	}}

	if toolchain.ComposeVersion != "" {
		canonical := "v" + strings.TrimPrefix(toolchain.ComposeVersion, "v")
		if semver.IsValid(canonical) && semver.Compare(semver.Major(canonical), minComposeMajor) < 0 {
			results = append(results, CheckResult{
				Component:   ComponentDeps,
				Name:        "compose version",
				Status:      StatusWarn,
				Detail:      fmt.Sprintf("compose %s predates the v2 file format the stack targets", toolchain.ComposeVersion),
				Remediation: "Upgrade to Compose v2: https://docs.docker.com/compose/install/",
				DurationMs:  0,
			})
		}
	}
	return results
}

// probeSupportingTools checks for git and curl. Both are advisory: the
// stack runs without them, but upgrades (git pull) and manual health
// probes (curl) need them.
func (c *DefaultDependencyChecker) probeSupportingTools(ctx context.Context) []CheckResult {
	tools := []struct {
		name string
		why  string
	}{
		{"git", "stack upgrades use git pull"},
		{"curl", "manual endpoint checks use curl"},
	}

	var results []CheckResult
	for _, tool := range tools {
		start := time.Now()
		if _, err := c.processes.LookPath(tool.name); err != nil {
			results = append(results, CheckResult{
				Component:   ComponentDeps,
				Name:        tool.name,
				Status:      StatusWarn,
				Detail:      fmt.Sprintf("%s not found on PATH (%s)", tool.name, tool.why),
				Remediation: fmt.Sprintf("Install %s with your system package manager", tool.name),
				DurationMs:  time.Since(start).Milliseconds(),
			})
			continue
		}
		results = append(results, CheckResult{
			Component:  ComponentDeps,
			Name:       tool.name,
			Status:     StatusPass,
			Detail:     tool.name + " available",
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
	return results
}

// advisoryResults checks host memory, CPU and disk against the floors.
// Unreadable sources produce SKIP, never FAIL: resource advisories must
// not block a deploy on an unusual host.
func (c *DefaultDependencyChecker) advisoryResults() []CheckResult {
	return []CheckResult{
		c.checkMemory(),
		c.checkCPUs(),
		c.checkDisk(),
	}
}

// checkMemory reads MemTotal from the meminfo file.
func (c *DefaultDependencyChecker) checkMemory() CheckResult {
	start := time.Now()

	total, err := readMemTotal(c.memInfoPath)
	if err != nil {
		return CheckResult{
			Component:  ComponentDeps,
			Name:       "system memory",
			Status:     StatusSkip,
			Detail:     fmt.Sprintf("memory size unavailable: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if total < minMemoryBytes {
		return CheckResult{
			Component:   ComponentDeps,
			Name:        "system memory",
			Status:      StatusWarn,
			Detail:      fmt.Sprintf("%.1f GiB total memory, below the %d GiB floor", float64(total)/(1<<30), minMemoryBytes>>30),
			Remediation: "Use the cpu profile and disable optional services, or add memory",
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}

	return CheckResult{
		Component:  ComponentDeps,
		Name:       "system memory",
		Status:     StatusPass,
		Detail:     fmt.Sprintf("%.1f GiB total memory", float64(total)/(1<<30)),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// checkCPUs compares logical CPU count to the floor.
func (c *DefaultDependencyChecker) checkCPUs() CheckResult {
	start := time.Now()
	cpus := c.numCPU()

	if cpus < minLogicalCPUs {
		return CheckResult{
			Component:   ComponentDeps,
			Name:        "cpu count",
			Status:      StatusWarn,
			Detail:      fmt.Sprintf("%d logical CPU, below the %d CPU floor", cpus, minLogicalCPUs),
			Remediation: "Expect slow model inference; consider a larger host",
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}
	return CheckResult{
		Component:  ComponentDeps,
		Name:       "cpu count",
		Status:     StatusPass,
		Detail:     fmt.Sprintf("%d logical CPUs", cpus),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// checkDisk measures free space on the filesystem holding the stack.
func (c *DefaultDependencyChecker) checkDisk() CheckResult {
	start := time.Now()

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.diskPath, &stat); err != nil {
		return CheckResult{
			Component:  ComponentDeps,
			Name:       "free disk",
			Status:     StatusSkip,
			Detail:     fmt.Sprintf("disk usage unavailable: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	if free < minFreeDisk {
		return CheckResult{
			Component:   ComponentDeps,
			Name:        "free disk",
			Status:      StatusWarn,
			Detail:      fmt.Sprintf("%.1f GiB free, below the %d GiB floor (model images are large)", float64(free)/(1<<30), minFreeDisk>>30),
			Remediation: "Free disk space or move the stack to a larger volume",
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}

	return CheckResult{
		Component:  ComponentDeps,
		Name:       "free disk",
		Status:     StatusPass,
		Detail:     fmt.Sprintf("%.1f GiB free", float64(free)/(1<<30)),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// -----------------------------------------------------------------------------
// Version Parsing
// -----------------------------------------------------------------------------

// parseVersionToken extracts the first version-shaped token from tool
// output.
//
// Handles the formats the probed tools actually emit:
//
//	Docker version 27.3.1, build ce12230
//	podman version 5.2.3
//	docker-compose version 1.29.2, build unknown
//	2.29.7
func parseVersionToken(output string) string {
	fields := strings.Fields(output)
	for _, field := range fields {
		token := strings.TrimSuffix(strings.TrimPrefix(field, "v"), ",")
		if token == "" || token[0] < '0' || token[0] > '9' {
			continue
		}
		// Cut build metadata like "1.29.2-rc1" down to the dotted core
		// only if semver cannot parse the full token.
		if semver.IsValid("v" + token) {
			return token
		}
		if idx := strings.IndexAny(token, "-+"); idx > 0 && semver.IsValid("v"+token[:idx]) {
			return token
		}
	}
	return ""
}

// readMemTotal parses MemTotal (kB) from a meminfo-format file and
// returns bytes.
func readMemTotal(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		var kb uint64
		if _, err := fmt.Sscanf(fields[1], "%d", &kb); err != nil {
			return 0, fmt.Errorf("unparseable MemTotal %q: %w", fields[1], err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("no MemTotal line in %s", path)
}

// -----------------------------------------------------------------------------
// MockDependencyChecker
// -----------------------------------------------------------------------------

// MockDependencyChecker is a test double for DependencyChecker.
type MockDependencyChecker struct {
	// CheckFunc is called when Check is invoked
	CheckFunc func(ctx context.Context) (*Toolchain, []CheckResult, error)

	// Calls counts Check invocations
	Calls int

	mu sync.Mutex
}

// Check delegates to CheckFunc and records the call.
func (m *MockDependencyChecker) Check(ctx context.Context) (*Toolchain, []CheckResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.CheckFunc == nil {
		panic("MockDependencyChecker.CheckFunc not set")
	}
	return m.CheckFunc(ctx)
}

// Compile-time interface checks
var (
	_ DependencyChecker = (*DefaultDependencyChecker)(nil)
	_ DependencyChecker = (*MockDependencyChecker)(nil)
)
