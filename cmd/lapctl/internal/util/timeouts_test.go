// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"testing"
	"time"
)

// =============================================================================
// EnforceMinTimeout Tests
// =============================================================================

// TestEnforceMinTimeout_ValidAboveMinimum verifies that values above minimum
// are returned unchanged.
//
// # Description
//
// When the requested timeout exceeds the minimum, the requested value
// should be returned as-is.
func TestEnforceMinTimeout_ValidAboveMinimum(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		minimum   time.Duration
		want      time.Duration
	}{
		{
			name:      "requested equals minimum",
			requested: 5 * time.Second,
			minimum:   5 * time.Second,
			want:      5 * time.Second,
		},
		{
			name:      "requested above minimum",
			requested: 10 * time.Second,
			minimum:   5 * time.Second,
			want:      10 * time.Second,
		},
		{
			name:      "large requested value",
			requested: 5 * time.Minute,
			minimum:   1 * time.Second,
			want:      5 * time.Minute,
		},
		{
			name:      "millisecond precision",
			requested: 1500 * time.Millisecond,
			minimum:   1000 * time.Millisecond,
			want:      1500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceMinTimeout(tt.requested, tt.minimum)
			if got != tt.want {
				t.Errorf("EnforceMinTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.minimum, got, tt.want)
			}
		})
	}
}

// TestEnforceMinTimeout_BelowMinimum verifies that values below minimum
// are raised to the minimum.
func TestEnforceMinTimeout_BelowMinimum(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		minimum   time.Duration
		want      time.Duration
	}{
		{
			name:      "requested below minimum",
			requested: 1 * time.Second,
			minimum:   5 * time.Second,
			want:      5 * time.Second,
		},
		{
			name:      "requested is zero",
			requested: 0,
			minimum:   5 * time.Second,
			want:      5 * time.Second,
		},
		{
			name:      "requested is negative",
			requested: -1 * time.Second,
			minimum:   5 * time.Second,
			want:      5 * time.Second,
		},
		{
			name:      "very small requested",
			requested: 1 * time.Nanosecond,
			minimum:   1 * time.Millisecond,
			want:      1 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceMinTimeout(tt.requested, tt.minimum)
			if got != tt.want {
				t.Errorf("EnforceMinTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.minimum, got, tt.want)
			}
		})
	}
}

// =============================================================================
// EnforceDefaultTimeout Tests
// =============================================================================

// TestEnforceDefaultTimeout_ValidPositive verifies that positive values
// are returned unchanged.
func TestEnforceDefaultTimeout_ValidPositive(t *testing.T) {
	tests := []struct {
		name       string
		requested  time.Duration
		defaultVal time.Duration
		want       time.Duration
	}{
		{
			name:       "small positive value",
			requested:  1 * time.Millisecond,
			defaultVal: 30 * time.Second,
			want:       1 * time.Millisecond,
		},
		{
			name:       "requested equals default",
			requested:  30 * time.Second,
			defaultVal: 30 * time.Second,
			want:       30 * time.Second,
		},
		{
			name:       "requested above default",
			requested:  5 * time.Minute,
			defaultVal: 30 * time.Second,
			want:       5 * time.Minute,
		},
		{
			name:       "requested below default but positive",
			requested:  1 * time.Second,
			defaultVal: 30 * time.Second,
			want:       1 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceDefaultTimeout(tt.requested, tt.defaultVal)
			if got != tt.want {
				t.Errorf("EnforceDefaultTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// TestEnforceDefaultTimeout_InvalidValues verifies that zero and negative
// values are replaced with the default.
func TestEnforceDefaultTimeout_InvalidValues(t *testing.T) {
	tests := []struct {
		name       string
		requested  time.Duration
		defaultVal time.Duration
		want       time.Duration
	}{
		{
			name:       "zero requested",
			requested:  0,
			defaultVal: 30 * time.Second,
			want:       30 * time.Second,
		},
		{
			name:       "negative requested",
			requested:  -5 * time.Second,
			defaultVal: 30 * time.Second,
			want:       30 * time.Second,
		},
		{
			name:       "large negative requested",
			requested:  -1 * time.Hour,
			defaultVal: 1 * time.Minute,
			want:       1 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceDefaultTimeout(tt.requested, tt.defaultVal)
			if got != tt.want {
				t.Errorf("EnforceDefaultTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Constant Sanity Tests
// =============================================================================

// TestTimeoutConstants_Ordering verifies that each default sits at or
// above its corresponding minimum.
func TestTimeoutConstants_Ordering(t *testing.T) {
	if DefaultDialTimeout < MinDialTimeout {
		t.Errorf("DefaultDialTimeout %v below MinDialTimeout %v",
			DefaultDialTimeout, MinDialTimeout)
	}
	if DefaultProbeTimeout <= 0 {
		t.Errorf("DefaultProbeTimeout = %v, want positive", DefaultProbeTimeout)
	}
}
