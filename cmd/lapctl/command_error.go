// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError carries the context of a failed external command.
//
// # Description
//
// ProcessManager.Run returns a *CommandError whenever a command exits
// non-zero, so callers can report what ran, how it exited, and what the
// command printed to stderr. Compose failures are the main producer:
// the stderr text is usually the only useful diagnostic ("port is
// already allocated", a compose parse error) and would otherwise be
// lost inside an opaque exec.ExitError.
//
// # Example
//
//	if _, err := pm.Run(ctx, "docker", "compose", "config", "-q"); err != nil {
//	    var cmdErr *CommandError
//	    if errors.As(err, &cmdErr) {
//	        fmt.Println(cmdErr.Stderr) // the compose parse error
//	    }
//	}
type CommandError struct {
	// Command is the full command line that was executed.
	Command string

	// ExitCode is the process exit code, -1 when the process never
	// ran or was killed by a signal.
	ExitCode int

	// Stderr is the trimmed standard error output. Empty when the
	// command printed nothing.
	Stderr string

	// Wrapped is the underlying exec error.
	Wrapped error
}

// Error formats the failure as "command (exit N): stderr". Falls back
// to the wrapped error when the command printed nothing.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap exposes the exec error so errors.Is sees context.Canceled and
// friends through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// NewCommandError creates a CommandError. Stderr is trimmed of
// surrounding whitespace.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr returns the stderr output of the first CommandError in
// the chain, or "" when the chain holds none. Lets check results quote
// the command's own words instead of the whole formatted error.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
		return cmdErr.Stderr
	}
	return ""
}
