// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides PortScanner for detecting stack port conflicts.

Every service the compose stack publishes binds a well-known host port. A
port already occupied by something else does not stop compose from starting
(the service just crash-loops later), so the scanner surfaces conflicts
before anything launches, names the likely owner, and suggests a free
alternative the user can remap to.

# Probe Semantics

A port is occupied when a TCP connect to it succeeds within the dial
timeout. Connection refused and timeout both mean free. This deliberately
probes the same way a stack service's client would, so firewalled-but-bound
ports read as free rather than scaring the user about conflicts that will
not materialize.
*/
package main

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/util"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// Stack Port Inventory
// -----------------------------------------------------------------------------

// stackPortServices maps well-known stack ports to the service expecting
// them, for remediation text.
var stackPortServices = map[int]string{
	80:    "HTTP edge (Caddy)",
	443:   "HTTPS edge (Caddy)",
	3000:  "Open WebUI",
	5432:  "PostgreSQL",
	5678:  "n8n",
	6333:  "Qdrant",
	6379:  "Redis",
	7474:  "Neo4j HTTP",
	7687:  "Neo4j Bolt",
	8000:  "Kong API",
	8001:  "Kong Admin",
	8080:  "Flowise",
	11434: "Ollama",
}

// DefaultStackPorts is the fixed probe list for a deploy run.
func DefaultStackPorts() []int {
	return []int{80, 443, 3000, 5432, 5678, 6379, 6333, 7474, 8000, 8001, 11434}
}

// ServiceForPort names the stack service for a port, or "unknown service".
func ServiceForPort(port int) string {
	if name, ok := stackPortServices[port]; ok {
		return name
	}
	return "unknown service"
}

// -----------------------------------------------------------------------------
// PortScanner Interface
// -----------------------------------------------------------------------------

// PortScanner probes the stack's host ports for conflicts.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PortScanner interface {
	// Scan probes every configured port and returns one PortProbe per
	// port plus ordered results. Conflicts are WARN, never FAIL; the
	// caller decides whether to continue.
	Scan(ctx context.Context) ([]PortProbe, []CheckResult)
}

// -----------------------------------------------------------------------------
// DefaultPortScanner
// -----------------------------------------------------------------------------

// PortScannerConfig configures the probe set and timing.
type PortScannerConfig struct {
	// Ports to probe. Empty uses DefaultStackPorts. Duplicates are
	// removed before probing.
	Ports []int

	// Host to probe. Empty means localhost.
	Host string

	// DialTimeout bounds a single connect attempt. Zero means
	// util.DefaultDialTimeout; values below util.MinDialTimeout are
	// raised to it.
	DialTimeout time.Duration

	// AlternativeOffset is added to an occupied port to start the
	// alternative scan. Zero means 1000.
	AlternativeOffset int

	// AlternativeLimit caps how many candidates the alternative scan
	// tries. Zero means 100.
	AlternativeLimit int
}

// withDefaults fills zero values.
func (c PortScannerConfig) withDefaults() PortScannerConfig {
	if len(c.Ports) == 0 {
		c.Ports = DefaultStackPorts()
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	c.DialTimeout = util.EnforceDefaultTimeout(c.DialTimeout, util.DefaultDialTimeout)
	c.DialTimeout = util.EnforceMinTimeout(c.DialTimeout, util.MinDialTimeout)
	if c.AlternativeOffset == 0 {
		c.AlternativeOffset = 1000
	}
	if c.AlternativeLimit == 0 {
		c.AlternativeLimit = 100
	}
	return c
}

// DefaultPortScanner implements PortScanner with TCP connect probes.
//
// # Example
//
//	scanner := NewPortScanner(PortScannerConfig{}, NewDefaultProcessManager(), nil)
//	probes, results := scanner.Scan(ctx)
//	for _, probe := range probes {
//	    if probe.Occupied {
//	        // prompt or warn
//	    }
//	}
type DefaultPortScanner struct {
	config    PortScannerConfig
	processes ProcessManager
	logger    *logging.Logger

	// dial allows tests to fake connect outcomes without binding
	// real sockets.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewPortScanner creates a scanner. A nil logger uses the package default.
func NewPortScanner(config PortScannerConfig, processes ProcessManager, logger *logging.Logger) *DefaultPortScanner {
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultPortScanner{
		config:    config.withDefaults(),
		processes: processes,
		logger:    logger,
		dial:      net.DialTimeout,
	}
}

// Scan probes every configured port.
//
// # Description
//
// Ports are deduplicated and probed in ascending order so output is
// stable across runs. Each occupied port gets a best-effort owner
// lookup and an alternative suggestion; both are optional extras that
// never fail the probe.
func (s *DefaultPortScanner) Scan(ctx context.Context) ([]PortProbe, []CheckResult) {
	ports := dedupePorts(s.config.Ports)

	probes := make([]PortProbe, 0, len(ports))
	results := make([]CheckResult, 0, len(ports))

	for _, port := range ports {
		start := time.Now()
		probe := PortProbe{
			Port:    port,
			Service: ServiceForPort(port),
		}

		if s.isOccupied(port) {
			probe.Occupied = true
			probe.Owner = s.detectOwner(ctx, port)
			probe.Alternative = s.suggestAlternative(port)
		}
		probes = append(probes, probe)
		results = append(results, s.probeResult(probe, start))
	}

	occupied := 0
	for _, p := range probes {
		if p.Occupied {
			occupied++
		}
	}
	s.logger.Debug("port scan finished",
		"ports", len(probes),
		"occupied", occupied)
	return probes, results
}

// probeResult converts a probe into its report entry.
func (s *DefaultPortScanner) probeResult(probe PortProbe, start time.Time) CheckResult {
	name := fmt.Sprintf("port %d", probe.Port)

	if !probe.Occupied {
		return CheckResult{
			Component:  ComponentPorts,
			Name:       name,
			Status:     StatusPass,
			Detail:     fmt.Sprintf("free for %s", probe.Service),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	detail := fmt.Sprintf("occupied (expected by %s)", probe.Service)
	if probe.Owner != "" && probe.Owner != "unknown" {
		detail = fmt.Sprintf("occupied by %s (expected by %s)", probe.Owner, probe.Service)
	}

	remediation := fmt.Sprintf("Stop the process listening on %d before deploying", probe.Port)
	if probe.Alternative != 0 {
		remediation = fmt.Sprintf("Stop the listener on %d, or remap %s to free port %d",
			probe.Port, probe.Service, probe.Alternative)
	}

	return CheckResult{
		Component:   ComponentPorts,
		Name:        name,
		Status:      StatusWarn,
		Detail:      detail,
		Remediation: remediation,
		DurationMs:  time.Since(start).Milliseconds(),
	}
}

// isOccupied reports whether something accepts connections on the port.
func (s *DefaultPortScanner) isOccupied(port int) bool {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(port))
	conn, err := s.dial("tcp", addr, s.config.DialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// suggestAlternative scans upward from port+offset for the first free
// port, trying at most AlternativeLimit candidates. Returns 0 when
// nothing in the window is free.
func (s *DefaultPortScanner) suggestAlternative(port int) int {
	base := port + s.config.AlternativeOffset
	for i := 0; i < s.config.AlternativeLimit; i++ {
		candidate := base + i
		if candidate > 65535 {
			return 0
		}
		if !s.isOccupied(candidate) {
			return candidate
		}
	}
	return 0
}

// detectOwner names the process listening on the port, best effort.
//
// ss is tried first (present on any modern Linux), lsof second (macOS
// and older hosts). Both failing means "unknown"; owner detection never
// blocks the scan.
func (s *DefaultPortScanner) detectOwner(ctx context.Context, port int) string {
	if out, err := s.processes.Run(ctx, "ss", "-ltnp"); err == nil {
		if owner := parseSSOwner(string(out), port); owner != "" {
			return owner
		}
	}

	if out, err := s.processes.Run(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN"); err == nil {
		if owner := parseLsofOwner(string(out)); owner != "" {
			return owner
		}
	}

	return "unknown"
}

// -----------------------------------------------------------------------------
// Listener Output Parsing
// -----------------------------------------------------------------------------

// parseSSOwner extracts the process name for the given port from
// `ss -ltnp` output.
//
// A matching line looks like:
//
//	LISTEN 0 4096 0.0.0.0:5432 0.0.0.0:* users:(("postgres",pid=1234,fd=5))
func parseSSOwner(output string, port int) string {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		// Local address is the 4th column in ss -ltnp output.
		if !strings.HasSuffix(fields[3], suffix) {
			continue
		}
		start := strings.Index(line, `(("`)
		if start < 0 {
			continue
		}
		rest := line[start+3:]
		end := strings.Index(rest, `"`)
		if end <= 0 {
			continue
		}
		name := rest[:end]

		// Append the pid when present for actionable remediation.
		if pidIdx := strings.Index(rest, "pid="); pidIdx >= 0 {
			pidRest := rest[pidIdx+4:]
			if comma := strings.IndexAny(pidRest, ",)"); comma > 0 {
				return name + " (pid " + pidRest[:comma] + ")"
			}
		}
		return name
	}
	return ""
}

// parseLsofOwner extracts the process name from lsof output.
//
// The first column of the first data row is the command name:
//
//	COMMAND  PID USER   FD  TYPE DEVICE SIZE/OFF NODE NAME
//	postgres 1234 postgres 5u IPv4 ...
func parseLsofOwner(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "COMMAND") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		return fields[0] + " (pid " + fields[1] + ")"
	}
	return ""
}

// dedupePorts removes duplicates and sorts ascending.
func dedupePorts(ports []int) []int {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// -----------------------------------------------------------------------------
// MockPortScanner
// -----------------------------------------------------------------------------

// MockPortScanner is a test double for PortScanner.
type MockPortScanner struct {
	// ScanFunc is called when Scan is invoked
	ScanFunc func(ctx context.Context) ([]PortProbe, []CheckResult)

	// Calls counts Scan invocations
	Calls int

	mu sync.Mutex
}

// Scan delegates to ScanFunc and records the call.
func (m *MockPortScanner) Scan(ctx context.Context) ([]PortProbe, []CheckResult) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ScanFunc == nil {
		panic("MockPortScanner.ScanFunc not set")
	}
	return m.ScanFunc(ctx)
}

// Compile-time interface checks
var (
	_ PortScanner = (*DefaultPortScanner)(nil)
	_ PortScanner = (*MockPortScanner)(nil)
)
