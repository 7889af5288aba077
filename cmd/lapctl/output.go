// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// OutputConfig controls output behavior for a command invocation.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
	Quiet   bool // No output, exit code only
}

// CommandResult wraps command output with metadata.
//
// Every JSON-producing subcommand emits this envelope so scripts can parse
// one shape regardless of which command ran. Data carries the
// command-specific payload (usually a RunReport).
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// resultAPIVersion is bumped only on breaking envelope changes.
const resultAPIVersion = "1.0"

// OutputJSON writes structured data as JSON to stdout.
//
// # Inputs
//
//   - data: The data to encode. Must be JSON-serializable.
//   - compact: If true, output without indentation.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputJSON(data interface{}, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputError writes an error in the appropriate format.
//
// JSON mode keeps stdout parseable by emitting the error inside the
// envelope; human mode writes to stderr so redirected stdout stays clean.
//
// # Inputs
//
//   - jsonMode: If true, output as JSON to stdout.
//   - msg: Human-readable error message.
//   - err: The underlying error.
func OutputError(jsonMode bool, msg string, err error) {
	if jsonMode {
		result := CommandResult{
			APIVersion: resultAPIVersion,
			Timestamp:  time.Now().UTC(),
			Success:    false,
			Error:      fmt.Sprintf("%s: %v", msg, err),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(result)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
}

// OutputReport emits a finalized RunReport and maps it to a process exit code.
//
// # Description
//
// This is the single funnel between validation results and the shell. Every
// subcommand that produces a RunReport ends here, so the exit-code contract
// (0 clean, 1 failures, 2 warnings only) is enforced in exactly one place.
//
// # Inputs
//
//   - cfg: Output configuration.
//   - report: A finalized RunReport.
//   - err: Infrastructure error that prevented the run from completing.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputReport(cfg OutputConfig, report *RunReport, err error) int {
	if err != nil {
		if !cfg.Quiet {
			if cfg.JSON && report != nil {
				// The checks gathered before the abort still ship;
				// they are what explains the failure.
				result := CommandResult{
					APIVersion: resultAPIVersion,
					Command:    report.Command,
					Timestamp:  report.StartedAt(),
					DurationMs: report.Duration().Milliseconds(),
					Success:    false,
					Data:       report,
					Error:      err.Error(),
				}
				if encErr := OutputJSON(result, cfg.Compact); encErr != nil {
					fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
				}
			} else {
				OutputError(cfg.JSON, "command failed", err)
			}
		}
		return ExitFailed
	}

	if cfg.Quiet {
		return report.ExitCode
	}

	if cfg.JSON {
		result := CommandResult{
			APIVersion: resultAPIVersion,
			Command:    report.Command,
			Timestamp:  report.StartedAt(),
			DurationMs: report.Duration().Milliseconds(),
			Success:    report.ExitCode == ExitOK,
			Data:       report,
		}
		if encErr := OutputJSON(result, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return ExitFailed
		}
	}

	return report.ExitCode
}

// OutputData emits a non-report payload (port listings, stored report
// metadata) under the same envelope rules as OutputReport.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputData(cfg OutputConfig, cmd string, start time.Time, data interface{}, hasFindings bool, err error) int {
	if err != nil {
		if !cfg.Quiet {
			OutputError(cfg.JSON, "command failed", err)
		}
		return ExitFailed
	}

	if cfg.Quiet {
		if hasFindings {
			return ExitWarnings
		}
		return ExitOK
	}

	if cfg.JSON {
		result := CommandResult{
			APIVersion: resultAPIVersion,
			Command:    cmd,
			Timestamp:  time.Now().UTC(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    true,
			Data:       data,
		}
		if encErr := OutputJSON(result, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return ExitFailed
		}
	}

	if hasFindings {
		return ExitWarnings
	}
	return ExitOK
}
