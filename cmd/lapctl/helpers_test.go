// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// testLogger returns a quiet logger so test output stays readable.
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.Config{
		Level: logging.LevelError,
		Quiet: true,
	})
}
