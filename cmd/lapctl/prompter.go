// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides UserPrompter for interactive confirmation and selection.

Deployment touches shared host state (ports, the container engine, the .env
file), so destructive or surprising actions ask first. All prompting goes
through the UserPrompter interface so command handlers never read stdin
directly and tests never block on a terminal.

# Implementations

  - InteractivePrompter: plain line-based prompts against injected IO
  - HuhPrompter: styled terminal forms for rich TTY sessions
  - NonInteractivePrompter: rejects every prompt (piped stdin, CI)
  - AutoApprovePrompter: approves everything (--yes)
  - MockPrompter: scripted responses for tests
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/ux"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNonInteractive indicates a prompt was attempted without a terminal.
	// Callers should treat this as "no" and surface the flag that skips the
	// prompt (--yes) in their error message.
	ErrNonInteractive = errors.New("cannot prompt: no interactive terminal (use --yes to approve automatically)")

	// ErrCancelled indicates the user aborted the prompt (Ctrl+C / ESC).
	ErrCancelled = errors.New("prompt cancelled by user")

	// ErrInvalidSelection indicates the user's choice was outside the offered
	// options.
	ErrInvalidSelection = errors.New("invalid selection")
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// UserPrompter handles interactive user confirmation and selection.
//
// # Description
//
// UserPrompter abstracts terminal interaction so the deploy pipeline can ask
// "continue despite port conflicts?" or "regenerate weak credentials?" without
// binding handlers to stdin. Implementations decide how (or whether) to ask.
//
// # Thread Safety
//
// Implementations are safe for sequential use from a single command handler.
// Concurrent prompting is not supported; prompts are serialized by design.
type UserPrompter interface {
	// Confirm asks a yes/no question and returns the user's answer.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - prompt: Question text, without trailing hint (the implementation
	//     adds its own "[y/N]" or equivalent)
	//
	// # Outputs
	//
	//   - bool: true only on an explicit affirmative; EOF and unrecognized
	//     input count as "no"
	//   - error: Non-nil on context cancellation or IO failure
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Select asks the user to choose one of options and returns its index.
	//
	// # Outputs
	//
	//   - int: zero-based index into options
	//   - error: ErrInvalidSelection for out-of-range input, non-nil on
	//     cancellation or IO failure
	Select(ctx context.Context, prompt string, options []string) (int, error)

	// IsInteractive reports whether this prompter can actually reach a user.
	IsInteractive() bool
}

// -----------------------------------------------------------------------------
// Interactive Implementation (plain IO)
// -----------------------------------------------------------------------------

// InteractivePrompter prompts over plain reader/writer pairs.
//
// This is the fallback for terminals where styled forms are unwanted
// (LAPCTL_OUTPUT=minimal, dumb terminals) and the implementation unit tests
// exercise, since IO is injectable.
type InteractivePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewInteractivePrompter returns a prompter bound to stdin/stderr.
//
// Prompts write to stderr so they never contaminate machine-readable stdout.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO returns a prompter with injected IO for tests.
func NewInteractivePrompterWithIO(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{in: bufio.NewReader(in), out: out}
}

// Confirm implements UserPrompter.
//
// Accepts y/yes (any case) as affirmative. Everything else, including EOF and
// an empty line, is "no". The default is deliberately negative so an
// accidental Enter never approves a destructive action.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)

	line, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	// EOF with no input is a refusal, not a failure. EOF after a partial
	// line (no trailing newline) still counts as an answer.

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Select implements UserPrompter.
//
// Options are displayed as a numbered list; the user answers with a
// one-based number which is translated to a zero-based index.
func (p *InteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: no options offered", ErrInvalidSelection)
	}

	fmt.Fprintln(p.out, prompt)
	for i, opt := range options {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, opt)
	}
	fmt.Fprintf(p.out, "Enter choice [1-%d]: ", len(options))

	line, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	choice, convErr := strconv.Atoi(strings.TrimSpace(line))
	if convErr != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, strings.TrimSpace(line))
	}
	if choice < 1 || choice > len(options) {
		return 0, fmt.Errorf("%w: %d is outside 1-%d", ErrInvalidSelection, choice, len(options))
	}
	return choice - 1, nil
}

// IsInteractive implements UserPrompter.
func (p *InteractivePrompter) IsInteractive() bool {
	return true
}

// readLine reads a single line. The buffered reader is shared across prompts
// so a multi-question flow consumes input in order.
func (p *InteractivePrompter) readLine() (string, error) {
	return p.in.ReadString('\n')
}

// -----------------------------------------------------------------------------
// Huh Implementation (styled TTY forms)
// -----------------------------------------------------------------------------

// HuhPrompter renders styled confirm/select forms on a real terminal.
//
// Used only when stdout is a rich TTY and stdin is a terminal; otherwise the
// factory falls back to InteractivePrompter or NonInteractivePrompter.
type HuhPrompter struct{}

// NewHuhPrompter returns a HuhPrompter.
func NewHuhPrompter() *HuhPrompter {
	return &HuhPrompter{}
}

// Confirm implements UserPrompter.
func (p *HuhPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	confirmed := false
	err := huh.NewConfirm().
		Title(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrCancelled
		}
		return false, fmt.Errorf("confirm form failed: %w", err)
	}
	return confirmed, nil
}

// Select implements UserPrompter.
func (p *HuhPrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: no options offered", ErrInvalidSelection)
	}

	opts := make([]huh.Option[int], 0, len(options))
	for i, o := range options {
		opts = append(opts, huh.NewOption(o, i))
	}

	selected := 0
	err := huh.NewSelect[int]().
		Title(prompt).
		Options(opts...).
		Value(&selected).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return 0, ErrCancelled
		}
		return 0, fmt.Errorf("select form failed: %w", err)
	}
	return selected, nil
}

// IsInteractive implements UserPrompter.
func (p *HuhPrompter) IsInteractive() bool {
	return true
}

// -----------------------------------------------------------------------------
// Non-Interactive Implementation
// -----------------------------------------------------------------------------

// NonInteractivePrompter rejects every prompt.
//
// Used when stdin is not a terminal and --yes was not given. Forcing an
// explicit error here keeps piped and CI invocations deterministic: a script
// either passes --yes or the run fails with a clear message, it never hangs
// waiting for input that will not come.
type NonInteractivePrompter struct{}

// NewNonInteractivePrompter returns a NonInteractivePrompter.
func NewNonInteractivePrompter() *NonInteractivePrompter {
	return &NonInteractivePrompter{}
}

// Confirm implements UserPrompter. Always returns ErrNonInteractive.
func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, fmt.Errorf("%w (prompt was: %s)", ErrNonInteractive, prompt)
}

// Select implements UserPrompter. Always returns ErrNonInteractive.
func (p *NonInteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	return 0, fmt.Errorf("%w (prompt was: %s)", ErrNonInteractive, prompt)
}

// IsInteractive implements UserPrompter.
func (p *NonInteractivePrompter) IsInteractive() bool {
	return false
}

// -----------------------------------------------------------------------------
// Auto-Approve Implementation
// -----------------------------------------------------------------------------

// AutoApprovePrompter approves every confirmation without asking.
//
// Backs the --yes flag. Select always picks the first option, which by
// convention is the safest one offered.
type AutoApprovePrompter struct{}

// NewAutoApprovePrompter returns an AutoApprovePrompter.
func NewAutoApprovePrompter() *AutoApprovePrompter {
	return &AutoApprovePrompter{}
}

// Confirm implements UserPrompter. Always returns true.
func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

// Select implements UserPrompter. Always selects the first option.
func (p *AutoApprovePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: no options offered", ErrInvalidSelection)
	}
	return 0, nil
}

// IsInteractive implements UserPrompter.
func (p *AutoApprovePrompter) IsInteractive() bool {
	return false
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// NewDefaultPrompter selects the appropriate prompter for this invocation.
//
// # Selection
//
//   - assumeYes: AutoApprovePrompter (--yes)
//   - rich TTY with terminal stdin: HuhPrompter
//   - terminal stdin, minimal output: InteractivePrompter
//   - otherwise: NonInteractivePrompter
func NewDefaultPrompter(assumeYes bool) UserPrompter {
	if assumeYes {
		return NewAutoApprovePrompter()
	}
	if !ux.StdinIsTerminal() {
		return NewNonInteractivePrompter()
	}
	if ux.GetOutputMode() == ux.OutputRich {
		return NewHuhPrompter()
	}
	return NewInteractivePrompter()
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// PrompterCall records a single call to MockPrompter.
type PrompterCall struct {
	Method  string
	Prompt  string
	Options []string
}

// MockPrompter implements UserPrompter for testing.
//
// # Usage
//
//	mock := &MockPrompter{
//	    ConfirmFunc: func(ctx context.Context, prompt string) (bool, error) {
//	        return true, nil
//	    },
//	}
//	runner := NewDeployRunner(..., mock)
//
// # Thread Safety
//
// Safe for concurrent use. Call recording is mutex-protected.
type MockPrompter struct {
	mu    sync.Mutex
	Calls []PrompterCall

	ConfirmFunc       func(ctx context.Context, prompt string) (bool, error)
	SelectFunc        func(ctx context.Context, prompt string, options []string) (int, error)
	IsInteractiveFunc func() bool
}

// Confirm implements UserPrompter. Panics if ConfirmFunc is not set.
func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, PrompterCall{Method: "Confirm", Prompt: prompt})
	m.mu.Unlock()

	if m.ConfirmFunc == nil {
		panic("MockPrompter.Confirm called but ConfirmFunc not set")
	}
	return m.ConfirmFunc(ctx, prompt)
}

// Select implements UserPrompter. Panics if SelectFunc is not set.
func (m *MockPrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, PrompterCall{Method: "Select", Prompt: prompt, Options: append([]string(nil), options...)})
	m.mu.Unlock()

	if m.SelectFunc == nil {
		panic("MockPrompter.Select called but SelectFunc not set")
	}
	return m.SelectFunc(ctx, prompt, options)
}

// IsInteractive implements UserPrompter. Defaults to true when
// IsInteractiveFunc is not set, so code under test follows its interactive
// path unless a test opts out.
func (m *MockPrompter) IsInteractive() bool {
	if m.IsInteractiveFunc == nil {
		return true
	}
	return m.IsInteractiveFunc()
}

// Reset clears recorded calls.
func (m *MockPrompter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// -----------------------------------------------------------------------------
// Compile-Time Interface Checks
// -----------------------------------------------------------------------------

var (
	_ UserPrompter = (*InteractivePrompter)(nil)
	_ UserPrompter = (*HuhPrompter)(nil)
	_ UserPrompter = (*NonInteractivePrompter)(nil)
	_ UserPrompter = (*AutoApprovePrompter)(nil)
	_ UserPrompter = (*MockPrompter)(nil)
)
