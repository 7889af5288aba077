// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the lapctl CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages. All utilities depend only on the Go standard
// library, making this a leaf package in the dependency graph.
//
// # Overview
//
// The util package provides two categories of utilities:
//
//   - Timeout Management: Enforce minimum and default timeouts to prevent hangs
//   - Environment Variable Keys: POSIX key validation and sensitivity detection
//
// # Thread Safety
//
// All functions in this package are pure and safe for concurrent use.
//
// # Key Types
//
// Timeout utilities:
//
//	timeout := util.EnforceDefaultTimeout(config.DialTimeout, util.DefaultDialTimeout)
//	timeout = util.EnforceMinTimeout(timeout, util.MinDialTimeout)
//
// Environment variable keys:
//
//	if err := util.ValidateEnvKey("POSTGRES_PASSWORD"); err != nil {
//	    // reject the line
//	}
//	if util.IsSensitiveKey("JWT_SECRET") {
//	    // redact before logging
//	}
package util
