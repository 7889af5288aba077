// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "time"

// =============================================================================
// Constants
// =============================================================================

// Timeout constants define minimum and default values for the network
// operations in the validation pipeline.
//
// These constants prevent accidental infinite hangs by ensuring all
// operations have a reasonable timeout even if misconfigured.
const (
	// MinDialTimeout is the absolute minimum for TCP port checks. A
	// shorter dial misreports occupied ports as free on a loaded
	// machine.
	MinDialTimeout = 200 * time.Millisecond

	// DefaultDialTimeout is the standard timeout for TCP port checks.
	// Connections to localhost either succeed or refuse almost
	// immediately, so one second covers even a loaded machine.
	DefaultDialTimeout = 1 * time.Second

	// DefaultProbeTimeout is the standard per-request timeout for HTTP
	// readiness probes. Kept short so one hung accept cannot eat the
	// whole per-endpoint budget.
	DefaultProbeTimeout = 5 * time.Second
)

// =============================================================================
// Utility Functions
// =============================================================================

// EnforceMinTimeout returns at least the minimum timeout.
//
// # Description
//
// Ensures a timeout is never below the specified minimum. If the requested
// timeout is zero, negative, or below the minimum, returns the minimum
// instead. This prevents misconfiguration from causing infinite hangs.
//
// # Inputs
//
//   - requested: The timeout value requested by the caller
//   - minimum: The absolute minimum acceptable timeout
//
// # Outputs
//
//   - time.Duration: The requested timeout if valid, otherwise the minimum
//
// # Example
//
//	timeout := util.EnforceMinTimeout(config.DialTimeout, util.MinDialTimeout)
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns the default if the requested is zero or negative.
//
// # Description
//
// Unlike EnforceMinTimeout, this only applies the default when the value
// is explicitly zero or negative. Useful when you want to allow any
// positive value but provide a sensible default.
//
// # Inputs
//
//   - requested: The timeout value requested by the caller
//   - defaultVal: The default timeout to use if requested is invalid
//
// # Outputs
//
//   - time.Duration: The requested timeout if positive, otherwise the default
//
// # Example
//
//	timeout := util.EnforceDefaultTimeout(config.Interval, defaultPollInterval)
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
