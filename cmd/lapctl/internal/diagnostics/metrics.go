// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package diagnostics provides Prometheus metrics and OpenTelemetry tracing
for deployment validation runs.

This file implements the ValidationMetrics interface, which records check
outcomes, run durations, port conflicts, and environment fixes.

# Implementations

  - InMemoryValidationMetrics: Records counters in memory, no export.
    The default for a CLI run on a laptop.
  - PrometheusValidationMetrics: Full Prometheus export with labels,
    for users scraping lapctl from a long-lived validation job.

# Metrics Exported

Check metrics (checks subsystem):

  - lapctl_checks_total: Counter by component and status
  - lapctl_checks_duration_seconds: Histogram of check durations by component
  - lapctl_checks_errors_total: Counter by error type
  - lapctl_checks_port_conflicts_total: Counter by port and expected service
  - lapctl_checks_env_fixes_total: Counter of generated env values

Deploy metrics (deploy subsystem):

  - lapctl_deploy_runs_total: Counter by outcome
  - lapctl_deploy_run_duration_seconds: Histogram of full run durations

Service metrics (service subsystem):

  - lapctl_service_ready: Gauge by service and outcome
  - lapctl_service_probe_attempts: Gauge of probe attempts per service
*/
package diagnostics

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// Metric namespace and subsystems.
const (
	// metricsNamespace is the namespace for all lapctl metrics.
	metricsNamespace = "lapctl"

	// metricsSubsystemChecks is the subsystem for validation check metrics.
	metricsSubsystemChecks = "checks"

	// metricsSubsystemDeploy is the subsystem for full-run metrics.
	metricsSubsystemDeploy = "deploy"

	// metricsSubsystemService is the subsystem for readiness metrics.
	metricsSubsystemService = "service"
)

// -----------------------------------------------------------------------------
// ValidationMetrics Interface
// -----------------------------------------------------------------------------

// ValidationMetrics records observability data for validation runs.
//
// # Description
//
// Abstracts metric recording so check components never depend on
// Prometheus directly. Components call the Record* methods; the
// implementation decides whether anything leaves the process.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. The readiness
// poller records from multiple goroutines.
type ValidationMetrics interface {
	// RecordCheck records one completed check with its outcome.
	//
	// component is the check family (e.g. "ports", "env", "readiness")
	// and status is the result string (e.g. "PASS", "WARN", "FAIL").
	RecordCheck(component, status string, duration time.Duration)

	// RecordRun records a completed validation run by overall outcome.
	RecordRun(outcome string, duration time.Duration)

	// RecordError records a classified failure (e.g. "environment",
	// "configuration", "conflict", "transient").
	RecordError(errorType string)

	// RecordServiceReadiness records the final state of one readiness
	// probe loop, including how many attempts it took.
	RecordServiceReadiness(service, outcome string, attempts int)

	// RecordPortConflict records an occupied port. The service label is
	// the stack service that expected the port, which keeps cardinality
	// bounded by the fixed port list.
	RecordPortConflict(port int, service string)

	// RecordEnvFixes records how many environment values were generated
	// by an auto-fix pass.
	RecordEnvFixes(count int)

	// Register registers collectors with Prometheus. No-op for the
	// in-memory implementation.
	Register() error
}

// -----------------------------------------------------------------------------
// InMemoryValidationMetrics Implementation
// -----------------------------------------------------------------------------

// InMemoryValidationMetrics records metrics in memory without export.
//
// # Description
//
// The default recorder for one-shot CLI runs. Tracks totals in memory so
// the report aggregator and tests can read them back, with zero network
// dependencies.
//
// # Thread Safety
//
// InMemoryValidationMetrics is safe for concurrent use.
type InMemoryValidationMetrics struct {
	// checksTotal is the total check count.
	checksTotal atomic.Int64

	// runsTotal is the total run count.
	runsTotal atomic.Int64

	// errorsTotal is the total classified error count.
	errorsTotal atomic.Int64

	// conflictsTotal is the total port conflict count.
	conflictsTotal atomic.Int64

	// envFixesTotal is the total generated env value count.
	envFixesTotal atomic.Int64

	// lastRunDuration is the duration of the most recent run.
	lastRunDuration atomic.Int64
}

// NewInMemoryValidationMetrics creates an in-memory metrics recorder.
//
// # Description
//
// Creates a recorder that tracks values in memory without export. This is
// what lapctl uses unless Prometheus export is enabled in config.
//
// # Outputs
//
//   - *InMemoryValidationMetrics: Ready-to-use metrics recorder
//
// # Examples
//
//	metrics := NewInMemoryValidationMetrics()
//	metrics.RecordCheck("ports", "WARN", 150*time.Millisecond)
//	fmt.Printf("Checks recorded: %d\n", metrics.GetChecksTotal())
//
// # Limitations
//
//   - Values are lost on process exit
//   - Labels are ignored; only totals are kept
func NewInMemoryValidationMetrics() *InMemoryValidationMetrics {
	return &InMemoryValidationMetrics{}
}

// RecordCheck increments the check counter.
func (m *InMemoryValidationMetrics) RecordCheck(component, status string, duration time.Duration) {
	m.checksTotal.Add(1)
}

// RecordRun increments the run counter and stores the duration.
func (m *InMemoryValidationMetrics) RecordRun(outcome string, duration time.Duration) {
	m.runsTotal.Add(1)
	m.lastRunDuration.Store(int64(duration))
}

// RecordError increments the error counter.
func (m *InMemoryValidationMetrics) RecordError(errorType string) {
	m.errorsTotal.Add(1)
}

// RecordServiceReadiness is label-only data; in-memory mode drops it.
func (m *InMemoryValidationMetrics) RecordServiceReadiness(service, outcome string, attempts int) {
	// No-op: per-service gauges are not tracked in memory
}

// RecordPortConflict increments the conflict counter.
func (m *InMemoryValidationMetrics) RecordPortConflict(port int, service string) {
	m.conflictsTotal.Add(1)
}

// RecordEnvFixes adds to the generated-value counter.
func (m *InMemoryValidationMetrics) RecordEnvFixes(count int) {
	m.envFixesTotal.Add(int64(count))
}

// Register is a no-op since there are no Prometheus collectors.
func (m *InMemoryValidationMetrics) Register() error {
	return nil
}

// GetChecksTotal returns the total check count for testing.
func (m *InMemoryValidationMetrics) GetChecksTotal() int64 {
	return m.checksTotal.Load()
}

// GetRunsTotal returns the total run count for testing.
func (m *InMemoryValidationMetrics) GetRunsTotal() int64 {
	return m.runsTotal.Load()
}

// GetErrorsTotal returns the total error count for testing.
func (m *InMemoryValidationMetrics) GetErrorsTotal() int64 {
	return m.errorsTotal.Load()
}

// GetConflictsTotal returns the total port conflict count for testing.
func (m *InMemoryValidationMetrics) GetConflictsTotal() int64 {
	return m.conflictsTotal.Load()
}

// GetEnvFixesTotal returns the total generated env value count for testing.
func (m *InMemoryValidationMetrics) GetEnvFixesTotal() int64 {
	return m.envFixesTotal.Load()
}

// GetLastRunDuration returns the most recent run duration for testing.
func (m *InMemoryValidationMetrics) GetLastRunDuration() time.Duration {
	return time.Duration(m.lastRunDuration.Load())
}

// -----------------------------------------------------------------------------
// PrometheusValidationMetrics Implementation
// -----------------------------------------------------------------------------

// PrometheusValidationMetrics exports validation metrics to Prometheus.
//
// # Description
//
// The opt-in recorder for users who run lapctl from cron or CI and scrape
// the results. Exports labeled counters, histograms, and gauges.
//
// # Metrics
//
// Check metrics:
//   - lapctl_checks_total (labels: component, status)
//   - lapctl_checks_duration_seconds (labels: component)
//   - lapctl_checks_errors_total (labels: error_type)
//   - lapctl_checks_port_conflicts_total (labels: port, service)
//   - lapctl_checks_env_fixes_total
//
// Deploy metrics:
//   - lapctl_deploy_runs_total (labels: outcome)
//   - lapctl_deploy_run_duration_seconds (labels: outcome)
//
// Service metrics:
//   - lapctl_service_ready (labels: service, outcome)
//   - lapctl_service_probe_attempts (labels: service)
//
// # Thread Safety
//
// PrometheusValidationMetrics is safe for concurrent use.
type PrometheusValidationMetrics struct {
	// checksTotal counts checks by component and status.
	checksTotal *prometheus.CounterVec

	// checkDuration is a histogram of check durations.
	checkDuration *prometheus.HistogramVec

	// errorsTotal counts classified errors by type.
	errorsTotal *prometheus.CounterVec

	// portConflicts counts occupied ports by port and expected service.
	portConflicts *prometheus.CounterVec

	// envFixes counts generated environment values.
	envFixes prometheus.Counter

	// runsTotal counts validation runs by outcome.
	runsTotal *prometheus.CounterVec

	// runDuration is a histogram of full run durations.
	runDuration *prometheus.HistogramVec

	// serviceReady tracks readiness outcome per service.
	serviceReady *prometheus.GaugeVec

	// probeAttempts tracks probe attempts per service.
	probeAttempts *prometheus.GaugeVec

	// registered tracks if metrics are registered.
	registered bool

	// mu protects registered flag.
	mu sync.Mutex
}

// NewPrometheusValidationMetrics creates a Prometheus-backed recorder.
//
// # Description
//
// Creates a metrics recorder that exports to Prometheus. Call Register()
// after creation to register with the default registry.
//
// # Outputs
//
//   - *PrometheusValidationMetrics: Ready-to-use metrics recorder
//
// # Examples
//
//	metrics := NewPrometheusValidationMetrics()
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
//	metrics.RecordCheck("ports", "PASS", 80*time.Millisecond)
//
// # Limitations
//
//   - Register() must be called before values are scrapeable
func NewPrometheusValidationMetrics() *PrometheusValidationMetrics {
	return &PrometheusValidationMetrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChecks,
				Name:      "total",
				Help:      "Total number of validation checks by component and status",
			},
			[]string{"component", "status"},
		),

		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChecks,
				Name:      "duration_seconds",
				Help:      "Duration of individual validation checks in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 120.0},
			},
			[]string{"component"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChecks,
				Name:      "errors_total",
				Help:      "Total number of classified check errors by type",
			},
			[]string{"error_type"},
		),

		portConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChecks,
				Name:      "port_conflicts_total",
				Help:      "Total number of occupied ports by port and expected service",
			},
			[]string{"port", "service"},
		),

		envFixes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChecks,
				Name:      "env_fixes_total",
				Help:      "Total number of environment values generated by auto-fix",
			},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemDeploy,
				Name:      "runs_total",
				Help:      "Total number of validation runs by outcome",
			},
			[]string{"outcome"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemDeploy,
				Name:      "run_duration_seconds",
				Help:      "Duration of full validation runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		serviceReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "ready",
				Help:      "Service readiness outcome (1=ready, 0=timeout, -1=unknown)",
			},
			[]string{"service", "outcome"},
		),

		probeAttempts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "probe_attempts",
				Help:      "Number of readiness probe attempts per service",
			},
			[]string{"service"},
		),
	}
}

// RecordCheck updates the check counter and duration histogram.
//
// # Inputs
//
//   - component: Check family, used as label (e.g. "ports", "env")
//   - status: Result string, used as label (e.g. "PASS", "WARN", "FAIL")
//   - duration: How long the check took
//
// # Limitations
//
//   - High-cardinality component names would cause metric explosion;
//     callers pass the fixed component set only
func (m *PrometheusValidationMetrics) RecordCheck(component, status string, duration time.Duration) {
	m.checksTotal.WithLabelValues(component, status).Inc()
	m.checkDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordRun updates the run counter and duration histogram.
func (m *PrometheusValidationMetrics) RecordRun(outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordError increments the error counter with the error type label.
func (m *PrometheusValidationMetrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordServiceReadiness updates the readiness gauge and attempt count.
//
// The gauge value encodes the outcome so dashboards can alert on it
// directly: 1 for ready, 0 for timeout, -1 for anything else.
func (m *PrometheusValidationMetrics) RecordServiceReadiness(service, outcome string, attempts int) {
	var value float64
	switch outcome {
	case "ready":
		value = 1
	case "timeout":
		value = 0
	default:
		value = -1
	}
	m.serviceReady.WithLabelValues(service, outcome).Set(value)
	m.probeAttempts.WithLabelValues(service).Set(float64(attempts))
}

// RecordPortConflict increments the conflict counter for the port.
func (m *PrometheusValidationMetrics) RecordPortConflict(port int, service string) {
	m.portConflicts.WithLabelValues(strconv.Itoa(port), service).Inc()
}

// RecordEnvFixes adds to the generated-value counter.
func (m *PrometheusValidationMetrics) RecordEnvFixes(count int) {
	m.envFixes.Add(float64(count))
}

// Register registers all metrics with Prometheus.
//
// # Description
//
// Registers metric collectors with the Prometheus default registry.
// Should be called once during application startup. Calling twice is
// a no-op.
//
// # Outputs
//
//   - error: Non-nil if registration fails (e.g. duplicate metrics)
//
// # Examples
//
//	if err := metrics.Register(); err != nil {
//	    log.Fatalf("Failed to register metrics: %v", err)
//	}
func (m *PrometheusValidationMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil // Already registered
	}

	collectors := []prometheus.Collector{
		m.checksTotal,
		m.checkDuration,
		m.errorsTotal,
		m.portConflicts,
		m.envFixes,
		m.runsTotal,
		m.runDuration,
		m.serviceReady,
		m.probeAttempts,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// NewDefaultValidationMetrics creates the appropriate recorder for the run.
//
// # Description
//
// Factory function that returns InMemoryValidationMetrics by default or
// PrometheusValidationMetrics when export is enabled in config.
//
// # Inputs
//
//   - enablePrometheus: Whether to enable Prometheus export
//
// # Outputs
//
//   - ValidationMetrics: Appropriate recorder for the environment
//
// # Examples
//
//	metrics := NewDefaultValidationMetrics(config.Global.Telemetry.Metrics)
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
func NewDefaultValidationMetrics(enablePrometheus bool) ValidationMetrics {
	if enablePrometheus {
		return NewPrometheusValidationMetrics()
	}
	return NewInMemoryValidationMetrics()
}

// Compile-time interface compliance checks.
var _ ValidationMetrics = (*InMemoryValidationMetrics)(nil)
var _ ValidationMetrics = (*PrometheusValidationMetrics)(nil)
