// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// OutputMode defines the richness of CLI output
type OutputMode string

const (
	// OutputRich enables colors, icons, and boxes
	OutputRich OutputMode = "rich"

	// OutputMinimal uses icons and basic formatting only
	OutputMinimal OutputMode = "minimal"

	// OutputMachine emits plain text suitable for scripting and parsing
	OutputMachine OutputMode = "machine"
)

var (
	currentMode = OutputRich
	modeMu      sync.RWMutex
)

// GetOutputMode returns the current output mode
func GetOutputMode() OutputMode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetOutputMode updates the current output mode
func SetOutputMode(mode OutputMode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = mode
}

// ParseOutputMode converts a string to OutputMode
func ParseOutputMode(s string) OutputMode {
	switch strings.ToLower(s) {
	case "rich", "full", "r":
		return OutputRich
	case "minimal", "min", "m":
		return OutputMinimal
	case "machine", "plain", "quiet", "q":
		return OutputMachine
	default:
		return OutputRich
	}
}

// InitOutputMode initializes the mode from environment and TTY state
func InitOutputMode() {
	if envMode := os.Getenv("LAPCTL_OUTPUT"); envMode != "" {
		SetOutputMode(ParseOutputMode(envMode))
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		SetOutputMode(OutputMinimal)
		return
	}
	// Piped or redirected output gets the parseable form
	if !stdoutIsTerminal() {
		SetOutputMode(OutputMachine)
		return
	}
	SetOutputMode(OutputRich)
}

// stdoutIsTerminal reports whether stdout is attached to a terminal
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// StdinIsTerminal reports whether stdin is attached to a terminal.
// Piped stdin (CI, scripts) must never trigger interactive prompts.
func StdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive returns true if interactive prompts should be shown
func IsInteractive() bool {
	return GetOutputMode() != OutputMachine && StdinIsTerminal()
}

// ShouldShowProgress returns true if progress indicators should render
func ShouldShowProgress() bool {
	return GetOutputMode() != OutputMachine
}
