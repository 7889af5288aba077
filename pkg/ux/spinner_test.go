// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_ReturnsNonNil(t *testing.T) {
	spin := NewSpinner("Waiting for services...")
	if spin == nil {
		t.Fatal("NewSpinner returned nil")
	}
}

func TestNewSpinner_SetsMessage(t *testing.T) {
	spin := NewSpinner("Pulling images")
	if spin.message != "Pulling images" {
		t.Errorf("expected message 'Pulling images', got %q", spin.message)
	}
}

func TestNewSpinner_DefaultsToDotsType(t *testing.T) {
	spin := NewSpinner("Waiting...")
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
}

func TestSpinner_WithType(t *testing.T) {
	spin := NewSpinner("Waiting...").WithType(SpinnerClock)
	if spin.spinType != SpinnerClock {
		t.Errorf("expected SpinnerClock, got %v", spin.spinType)
	}
}

// =============================================================================
// Start/Stop Tests
// =============================================================================

func TestSpinner_MachineMode_PrintsOnce(t *testing.T) {
	setMode(t, OutputMachine)
	out := captureStdout(func() {
		spin := NewSpinner("polling supabase-auth")
		spin.Start()
		spin.Stop()
	})
	if !strings.Contains(out, "PROGRESS: polling supabase-auth") {
		t.Errorf("machine mode spinner output = %q", out)
	}
}

func TestSpinner_StartStop_NoDeadlock(t *testing.T) {
	setMode(t, OutputRich)
	_ = captureStdout(func() {
		spin := NewSpinner("settling datastores")
		spin.Start()
		time.Sleep(120 * time.Millisecond)
		spin.Stop()
	})
}

func TestSpinner_DoubleStop_Safe(t *testing.T) {
	setMode(t, OutputMachine)
	spin := NewSpinner("waiting")
	spin.Start()
	spin.Stop()
	spin.Stop() // must not panic or block
}

func TestSpinner_UpdateMessage(t *testing.T) {
	spin := NewSpinner("attempt 1")
	spin.UpdateMessage("attempt 2")
	spin.mu.Lock()
	got := spin.message
	spin.mu.Unlock()
	if got != "attempt 2" {
		t.Errorf("message = %q, want 'attempt 2'", got)
	}
}

// =============================================================================
// WithSpinner Tests
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	setMode(t, OutputMachine)
	var ran bool
	err := WithSpinner("checking engine", func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Errorf("WithSpinner returned error: %v", err)
	}
	if !ran {
		t.Error("WithSpinner did not run the function")
	}
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	setMode(t, OutputMachine)
	wantErr := errors.New("engine missing")
	err := WithSpinner("checking engine", func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpinner error = %v, want %v", err, wantErr)
	}
}

// =============================================================================
// ProgressSpinner Tests
// =============================================================================

func TestProgressSpinner_Increment(t *testing.T) {
	setMode(t, OutputRich)
	p := NewProgressSpinner("polling endpoints", 4)
	p.Increment()
	p.Increment()

	p.mu.Lock()
	got := p.message
	p.mu.Unlock()
	if !strings.Contains(got, "[2/4]") {
		t.Errorf("message = %q, want to contain [2/4]", got)
	}
	if !strings.HasPrefix(got, "polling endpoints") {
		t.Errorf("message lost its base text: %q", got)
	}
}

func TestProgressSpinner_SetProgress(t *testing.T) {
	setMode(t, OutputRich)
	p := NewProgressSpinner("polling endpoints", 6)
	p.SetProgress(5)

	p.mu.Lock()
	got := p.message
	p.mu.Unlock()
	if !strings.Contains(got, "[5/6]") {
		t.Errorf("message = %q, want to contain [5/6]", got)
	}
}

func TestProgressSpinner_RepeatedUpdates_NoAccumulation(t *testing.T) {
	setMode(t, OutputRich)
	p := NewProgressSpinner("polling", 3)
	p.Increment()
	p.Increment()
	p.Increment()

	p.mu.Lock()
	got := p.message
	p.mu.Unlock()
	if strings.Count(got, "[") != 1 {
		t.Errorf("counter should replace, not accumulate: %q", got)
	}
}
