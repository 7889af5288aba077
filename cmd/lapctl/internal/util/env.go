// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Package-level Variables
// =============================================================================

// envVarKeyPattern validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This follows POSIX naming conventions and prevents shell metacharacter
// injection attacks.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// Key Functions
// =============================================================================

// ValidateEnvKey checks if a key follows POSIX naming conventions.
//
// # Description
//
// Validates an environment variable key name. Keys must start with a
// letter or underscore and contain only alphanumeric characters and
// underscores. The env file parser rejects lines with invalid keys
// instead of silently passing them to compose.
//
// # Inputs
//
//   - key: Environment variable name to check
//
// # Outputs
//
//   - error: ErrInvalidEnvVarKey wrapped with details if key is invalid
//
// # Example
//
//	if err := util.ValidateEnvKey("POSTGRES-PASSWORD"); err != nil {
//	    // hyphens are not valid in env keys
//	}
func ValidateEnvKey(key string) error {
	if !envVarKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, key)
	}
	return nil
}

// IsSensitiveKey detects common sensitive key patterns.
//
// # Description
//
// Checks if a key name contains common patterns that indicate sensitive
// data. Values under such keys are redacted in logs and reports.
//
// # Inputs
//
//   - key: Environment variable name to check
//
// # Outputs
//
//   - bool: true if key matches sensitive patterns
//
// # Example
//
//	util.IsSensitiveKey("N8N_ENCRYPTION_KEY") // true
//	util.IsSensitiveKey("POSTGRES_HOST")      // false
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "CREDENTIAL") ||
		strings.Contains(upper, "AUTH")
}
