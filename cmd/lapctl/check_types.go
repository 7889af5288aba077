// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides type definitions for the deployment validator.

This file contains all data types shared by the validation components and
the report aggregator. Types are designed for:

  - JSON serialization for report export
  - OpenTelemetry trace correlation
  - Prometheus metric labeling
  - Stable ordering of check results across a run
*/
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// ReportVersion is the current schema version for exported reports.
const ReportVersion = "1.0.0"

// Exit codes for the deploy and validate commands. A failed check always
// dominates warnings; warnings only surface in the exit code when nothing
// failed outright.
const (
	// ExitOK means every check passed.
	ExitOK = 0

	// ExitFailed means at least one check failed.
	ExitFailed = 1

	// ExitWarnings means no check failed but at least one warned.
	ExitWarnings = 2

	// ExitInterrupted mirrors shell convention for SIGINT (128+2).
	ExitInterrupted = 130
)

// -----------------------------------------------------------------------------
// Check Status
// -----------------------------------------------------------------------------

// Status is the outcome of a single validation check.
//
// Status affects:
//   - The process exit code (FAIL dominates WARN dominates PASS)
//   - Prometheus metric labels
//   - Rendering in the summary table
type Status string

const (
	// StatusPass indicates the check succeeded with no findings.
	StatusPass Status = "PASS"

	// StatusWarn indicates a finding the run can proceed past.
	// Example: an occupied port with a free alternative.
	StatusWarn Status = "WARN"

	// StatusFail indicates a finding that makes the deployment unusable.
	// Example: a required environment variable is missing.
	StatusFail Status = "FAIL"

	// StatusSkip indicates the check did not run.
	// Example: readiness probes skipped because startup was aborted.
	StatusSkip Status = "SKIP"
)

// IsValid returns true if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPass, StatusWarn, StatusFail, StatusSkip:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// ErrorClass categorizes a check failure by blast radius.
//
// Fatal classes abort: environment errors abort the whole run,
// configuration errors abort the current step. Recoverable classes
// downgrade to warnings and let the run continue.
type ErrorClass string

const (
	// ErrClassEnvironment means the host cannot run the stack at all.
	// Example: no container engine installed. Aborts the run.
	ErrClassEnvironment ErrorClass = "fatal/environment"

	// ErrClassConfiguration means user-editable input is invalid.
	// Example: compose rejects the project file. Aborts the step;
	// earlier results are still reported.
	ErrClassConfiguration ErrorClass = "fatal/configuration"

	// ErrClassConflict means a resource is contended but the run can
	// continue. Example: a stack port is already bound.
	ErrClassConflict ErrorClass = "recoverable/conflict"

	// ErrClassTransient means the condition may clear on its own.
	// Example: a service not answering its health endpoint yet.
	ErrClassTransient ErrorClass = "recoverable/transient"
)

// IsValid returns true if the class is a known value.
func (c ErrorClass) IsValid() bool {
	switch c {
	case ErrClassEnvironment, ErrClassConfiguration, ErrClassConflict, ErrClassTransient:
		return true
	default:
		return false
	}
}

// IsFatal returns true for classes that abort rather than degrade.
func (c ErrorClass) IsFatal() bool {
	return c == ErrClassEnvironment || c == ErrClassConfiguration
}

// String returns the string representation of the class.
func (c ErrorClass) String() string {
	return string(c)
}

// MetricLabel returns the short form used as a Prometheus label value.
func (c ErrorClass) MetricLabel() string {
	switch c {
	case ErrClassEnvironment:
		return "environment"
	case ErrClassConfiguration:
		return "configuration"
	case ErrClassConflict:
		return "conflict"
	case ErrClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// CheckError is a classified failure from a validation component.
//
// # Description
//
// Carries the error class so the deploy runner can decide whether to
// abort, plus a remediation hint that surfaces verbatim in the report.
// Implements error and supports unwrapping.
//
// # Example
//
//	err := NewCheckError(ErrClassConfiguration, "compose rejected project file",
//	    "Run 'docker compose config' to see the full parse error", parseErr)
//	var checkErr *CheckError
//	if errors.As(err, &checkErr) && checkErr.Class.IsFatal() {
//	    // abort
//	}
type CheckError struct {
	// Class categorizes the failure.
	Class ErrorClass

	// Message is the human-readable failure description.
	Message string

	// Remediation is the suggested next step for the user.
	Remediation string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns a formatted error message.
func (e *CheckError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying error.
func (e *CheckError) Unwrap() error {
	return e.Wrapped
}

// NewCheckError creates a classified check error.
func NewCheckError(class ErrorClass, message, remediation string, wrapped error) *CheckError {
	return &CheckError{
		Class:       class,
		Message:     message,
		Remediation: remediation,
		Wrapped:     wrapped,
	}
}

// AsCheckError extracts a CheckError from an error chain.
func AsCheckError(err error) (*CheckError, bool) {
	var checkErr *CheckError
	if errors.As(err, &checkErr) {
		return checkErr, true
	}
	return nil, false
}

// -----------------------------------------------------------------------------
// Check Results
// -----------------------------------------------------------------------------

// Component names used by the built-in checks.
const (
	ComponentDeps      = "deps"
	ComponentPorts     = "ports"
	ComponentEnv       = "env"
	ComponentServices  = "services"
	ComponentReadiness = "readiness"
)

// CheckResult is the outcome of one validation check.
//
// Results are appended to the run report in execution order and never
// reordered, so the report reads as a timeline of the run.
type CheckResult struct {
	// Component is the check family.
	// Examples: "deps", "ports", "env", "services", "readiness"
	Component string `json:"component"`

	// Name identifies the specific check within the component.
	// Examples: "port 5432", "POSTGRES_PASSWORD", "ollama readiness"
	Name string `json:"name"`

	// Status is the check outcome.
	Status Status `json:"status"`

	// Detail is a one-line description of what was found.
	Detail string `json:"detail,omitempty"`

	// Remediation is the suggested next step. Required whenever
	// Status is WARN or FAIL.
	Remediation string `json:"remediation,omitempty"`

	// DurationMs is how long the check took (milliseconds).
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Duration returns the check duration as time.Duration.
func (r *CheckResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Component Data Structures
// -----------------------------------------------------------------------------

// PortProbe is the result of probing one stack port.
type PortProbe struct {
	// Port is the TCP port that was probed.
	Port int `json:"port"`

	// Service is the stack service that expects this port.
	Service string `json:"service"`

	// Occupied indicates something is already listening.
	Occupied bool `json:"occupied"`

	// Owner describes the listening process when discoverable,
	// "unknown" otherwise. Empty for free ports.
	Owner string `json:"owner,omitempty"`

	// Alternative is a free port suggestion for remapping.
	// Zero when the port is free or no alternative was found.
	Alternative int `json:"alternative,omitempty"`
}

// EnvVariable is one parsed entry from the environment file.
type EnvVariable struct {
	// Key is the variable name.
	Key string `json:"key"`

	// Value is the raw value as written in the file.
	Value string `json:"value"`

	// Sensitive marks values that must never appear in logs or
	// reports. Detected from the key name.
	Sensitive bool `json:"sensitive,omitempty"`
}

// Redacted returns the value, masked when it is sensitive.
func (v EnvVariable) Redacted() string {
	if v.Sensitive && v.Value != "" {
		return "[REDACTED]"
	}
	return v.Value
}

// ServiceHealth is the outcome of one readiness probe loop.
type ServiceHealth struct {
	// Service is the service name (e.g. "ollama", "neo4j").
	Service string `json:"service"`

	// URL is the health endpoint that was polled.
	URL string `json:"url"`

	// Ready indicates the endpoint answered within budget.
	Ready bool `json:"ready"`

	// Attempts is how many probes were sent, including the
	// successful one.
	Attempts int `json:"attempts"`

	// LastStatus is the HTTP status of the final probe (0 if the
	// probe never got a response).
	LastStatus int `json:"last_status,omitempty"`

	// LastError describes the final failure for unready services.
	LastError string `json:"last_error,omitempty"`

	// DurationMs is the wall-clock time spent polling (milliseconds).
	DurationMs int64 `json:"duration_ms"`
}

// Duration returns the polling duration as time.Duration.
func (h *ServiceHealth) Duration() time.Duration {
	return time.Duration(h.DurationMs) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Run Report
// -----------------------------------------------------------------------------

// RunSummary counts check outcomes for a run.
type RunSummary struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`
}

// RunReport is the aggregated result of one validation run.
//
// Checks are stored in execution order. Call Finalize exactly once after
// the last check; it computes the summary and exit code, after which the
// report must not be mutated.
type RunReport struct {
	// ID uniquely identifies this run.
	ID string `json:"id"`

	// Version is the report schema version.
	Version string `json:"version"`

	// Command is the lapctl subcommand that produced the report.
	Command string `json:"command"`

	// DeployType, Profile and Environment echo the run configuration.
	DeployType  string `json:"deploy_type,omitempty"`
	Profile     string `json:"profile,omitempty"`
	Environment string `json:"environment,omitempty"`

	// Hostname identifies the machine that ran the checks. Archived
	// reports from several hosts land in the same bucket.
	Hostname string `json:"hostname,omitempty"`

	// ToolVersion is the lapctl build that produced the report.
	ToolVersion string `json:"tool_version,omitempty"`

	// TraceID is the OpenTelemetry trace ID for this run.
	TraceID string `json:"trace_id,omitempty"`

	// StartedAtMs is when the run started (Unix milliseconds).
	StartedAtMs int64 `json:"started_at_ms"`

	// FinishedAtMs is when the run finished (Unix milliseconds).
	// Zero until Finalize is called.
	FinishedAtMs int64 `json:"finished_at_ms,omitempty"`

	// Checks holds every check result in execution order.
	Checks []CheckResult `json:"checks"`

	// Summary counts outcomes. Populated by Finalize.
	Summary RunSummary `json:"summary"`

	// ExitCode is the process exit code. Populated by Finalize.
	ExitCode int `json:"exit_code"`

	// finalized guards against mutation after Finalize.
	finalized bool
}

// NewRunReport creates a report for a run starting now.
func NewRunReport(command string) *RunReport {
	hostname, _ := os.Hostname()
	return &RunReport{
		ID:          uuid.New().String(),
		Version:     ReportVersion,
		Command:     command,
		Hostname:    hostname,
		ToolVersion: appVersion,
		StartedAtMs: time.Now().UnixMilli(),
	}
}

// Add appends a check result in execution order.
//
// Panics if called after Finalize; appending to a finalized report would
// silently desynchronize the summary.
func (r *RunReport) Add(result CheckResult) {
	if r.finalized {
		panic("RunReport.Add called after Finalize")
	}
	r.Checks = append(r.Checks, result)
}

// Finalize computes the summary and exit code and freezes the report.
// Safe to call once; subsequent calls are no-ops.
func (r *RunReport) Finalize() {
	if r.finalized {
		return
	}

	for _, c := range r.Checks {
		switch c.Status {
		case StatusPass:
			r.Summary.Passed++
		case StatusFail:
			r.Summary.Failed++
		case StatusWarn:
			r.Summary.Warnings++
		case StatusSkip:
			r.Summary.Skipped++
		}
	}

	switch {
	case r.Summary.Failed > 0:
		r.ExitCode = ExitFailed
	case r.Summary.Warnings > 0:
		r.ExitCode = ExitWarnings
	default:
		r.ExitCode = ExitOK
	}

	r.FinishedAtMs = time.Now().UnixMilli()
	r.finalized = true
}

// Finalized reports whether Finalize has run.
func (r *RunReport) Finalized() bool {
	return r.finalized
}

// StartedAt returns the run start time as time.Time.
func (r *RunReport) StartedAt() time.Time {
	return time.UnixMilli(r.StartedAtMs)
}

// FinishedAt returns the run finish time as time.Time.
func (r *RunReport) FinishedAt() time.Time {
	return time.UnixMilli(r.FinishedAtMs)
}

// Duration returns the wall-clock run duration.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAtMs == 0 {
		return 0
	}
	return time.Duration(r.FinishedAtMs-r.StartedAtMs) * time.Millisecond
}

// Outcome returns the run outcome as a metric label value.
func (r *RunReport) Outcome() string {
	switch r.ExitCode {
	case ExitOK:
		return "pass"
	case ExitWarnings:
		return "warn"
	default:
		return "fail"
	}
}
