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
	"testing"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  NewCommandError("docker compose up -d", 1, "port is already allocated", errors.New("exit status 1")),
			want: "docker compose up -d (exit 1): port is already allocated",
		},
		{
			name: "no stderr falls back to wrapped",
			err:  NewCommandError("docker info", 1, "", errors.New("exit status 1")),
			want: "docker info (exit 1): exit status 1",
		},
		{
			name: "bare",
			err:  &CommandError{Command: "docker info", ExitCode: -1},
			want: "docker info (exit -1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCommandError_TrimsStderr(t *testing.T) {
	err := NewCommandError("docker compose config -q", 15, "\nparse error\n\n", nil)
	if err.Stderr != "parse error" {
		t.Errorf("Stderr = %q, want trimmed text", err.Stderr)
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := NewCommandError("docker compose up", 1, "boom", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped exec error")
	}
}

func TestExtractStderr(t *testing.T) {
	cmdErr := NewCommandError("docker compose config -q", 15, "undefined volume", errors.New("exit status 15"))

	if got := ExtractStderr(cmdErr); got != "undefined volume" {
		t.Errorf("ExtractStderr(direct) = %q, want the stderr text", got)
	}

	wrapped := fmt.Errorf("validating datastores: %w", cmdErr)
	if got := ExtractStderr(wrapped); got != "undefined volume" {
		t.Errorf("ExtractStderr(wrapped) = %q, want the stderr text", got)
	}

	if got := ExtractStderr(errors.New("plain")); got != "" {
		t.Errorf("ExtractStderr(plain) = %q, want empty", got)
	}

	silent := NewCommandError("docker info", 1, "", errors.New("exit status 1"))
	if got := ExtractStderr(silent); got != "" {
		t.Errorf("ExtractStderr(no stderr) = %q, want empty", got)
	}

	if got := ExtractStderr(nil); got != "" {
		t.Errorf("ExtractStderr(nil) = %q, want empty", got)
	}
}
