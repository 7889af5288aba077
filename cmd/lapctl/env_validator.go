// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// EnvValidator Interface
// -----------------------------------------------------------------------------

// EnvValidator checks the stack env file for missing and weak
// credentials.
//
// # Description
//
// The validator never modifies the file. Missing required keys fail the
// run; weak or placeholder secret values warn. Repair is the fixer's
// job, and the runner invokes it before validation when auto-fix is
// enabled.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EnvValidator interface {
	// Validate runs every env check and returns results in check
	// order: file presence, required keys, value strength, file
	// permissions, git exposure.
	Validate(ctx context.Context) []CheckResult
}

// EnvValidatorConfig configures the env file checks.
type EnvValidatorConfig struct {
	// EnvPath is the env file to validate.
	EnvPath string

	// StackDir is the compose stack directory. Git exposure checks run
	// here. Empty disables the git check.
	StackDir string

	// Policy is the credential table. Nil uses the default stack
	// policy.
	Policy *CredentialPolicy
}

// -----------------------------------------------------------------------------
// DefaultEnvValidator
// -----------------------------------------------------------------------------

// DefaultEnvValidator implements EnvValidator against the filesystem.
//
// # Example
//
//	validator := NewEnvValidator(EnvValidatorConfig{
//	    EnvPath:  ".env",
//	    StackDir: ".",
//	}, NewDefaultProcessManager(), nil)
//	for _, result := range validator.Validate(ctx) {
//	    report.Add(result)
//	}
type DefaultEnvValidator struct {
	config    EnvValidatorConfig
	processes ProcessManager
	logger    *logging.Logger
}

// NewEnvValidator creates a validator. A nil policy uses the stack
// default; a nil logger uses the package default.
func NewEnvValidator(config EnvValidatorConfig, processes ProcessManager, logger *logging.Logger) *DefaultEnvValidator {
	if config.Policy == nil {
		config.Policy = DefaultCredentialPolicy()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultEnvValidator{
		config:    config,
		processes: processes,
		logger:    logger,
	}
}

// Validate runs every env check.
//
// # Description
//
// The result order is stable: file presence, malformed lines, required
// keys in policy order, strength warnings in policy order, file
// permissions, git exposure. A fully clean file produces a single PASS
// summarizing the key count.
func (v *DefaultEnvValidator) Validate(ctx context.Context) []CheckResult {
	start := time.Now()

	envFile, err := LoadEnvFile(v.config.EnvPath)
	if err != nil {
		return []CheckResult{{
			Component:   ComponentEnv,
			Name:        "env file",
			Status:      StatusFail,
			Detail:      fmt.Sprintf("environment file %s not readable: %v", v.config.EnvPath, err),
			Remediation: "Run 'lapctl env fix' to generate a complete environment file",
			DurationMs:  time.Since(start).Milliseconds(),
		}}
	}

	var results []CheckResult
	results = append(results, v.checkMalformed(envFile)...)
	results = append(results, v.checkRequired(envFile)...)
	results = append(results, v.checkStrength(envFile)...)
	results = append(results, v.checkPermissions()...)
	results = append(results, v.checkGitExposure(ctx)...)

	if len(results) == 0 {
		results = append(results, CheckResult{
			Component:  ComponentEnv,
			Name:       "env file",
			Status:     StatusPass,
			Detail:     fmt.Sprintf("%s validated (%d keys)", v.config.EnvPath, len(envFile.Keys())),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	v.logger.Debug("env validation finished",
		"path", v.config.EnvPath,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results
}

// checkMalformed reports lines that parse as neither assignment,
// comment, nor blank.
func (v *DefaultEnvValidator) checkMalformed(envFile *EnvFile) []CheckResult {
	nums := envFile.MalformedLines()
	if len(nums) == 0 {
		return nil
	}

	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return []CheckResult{{
		Component:   ComponentEnv,
		Name:        "env file syntax",
		Status:      StatusWarn,
		Detail:      fmt.Sprintf("lines %s are not KEY=VALUE assignments", strings.Join(parts, ", ")),
		Remediation: "Fix or comment out the listed lines; compose ignores them silently",
	}}
}

// checkRequired fails for each required key that is absent or empty.
// The key name appears verbatim in the result.
func (v *DefaultEnvValidator) checkRequired(envFile *EnvFile) []CheckResult {
	var results []CheckResult
	for _, key := range v.config.Policy.RequiredKeys() {
		value, ok := envFile.Get(key)
		if ok && value != "" {
			continue
		}

		detail := fmt.Sprintf("required key %s is missing", key)
		if ok {
			detail = fmt.Sprintf("required key %s is empty", key)
		}
		results = append(results, CheckResult{
			Component:   ComponentEnv,
			Name:        key,
			Status:      StatusFail,
			Detail:      detail,
			Remediation: fmt.Sprintf("Add %s to %s or run 'lapctl env fix'", key, v.config.EnvPath),
		})
	}
	return results
}

// checkStrength warns about weak secret values. Only keys with a
// secret class are judged; infrastructure keys carry no secret
// material.
func (v *DefaultEnvValidator) checkStrength(envFile *EnvFile) []CheckResult {
	var results []CheckResult
	for _, spec := range v.config.Policy.Specs() {
		if spec.Class == "" {
			continue
		}
		value, ok := envFile.Get(spec.Key)
		if !ok || value == "" {
			// Absence of a required key is already a FAIL; absence of
			// an optional secret is not a weakness.
			continue
		}

		warn := func(detail, remediation string) {
			results = append(results, CheckResult{
				Component:   ComponentEnv,
				Name:        spec.Key,
				Status:      StatusWarn,
				Detail:      detail,
				Remediation: remediation,
			})
		}

		if prefix, ok := PlaceholderPrefix(value); ok {
			warn(
				fmt.Sprintf("%s looks like an unreplaced placeholder (starts with %q)", spec.Key, prefix),
				fmt.Sprintf("Replace the placeholder value, or run 'lapctl env fix' if %s is generated", spec.Key),
			)
			continue
		}
		if prefix, ok := WeakPrefix(value); ok {
			warn(
				fmt.Sprintf("%s starts with the weak literal %q", spec.Key, prefix),
				"Generate a random credential with 'lapctl env fix'",
			)
			continue
		}
		if n := len(value); n < spec.MinimumLength() {
			warn(
				fmt.Sprintf("%s is too short (%d chars, minimum %d)", spec.Key, n, spec.MinimumLength()),
				"Generate a longer credential with 'lapctl env fix'",
			)
			continue
		}
		if spec.JWTShaped() && !IsJWTShaped(value) {
			warn(
				fmt.Sprintf("%s does not have the three-segment JWT shape Supabase expects", spec.Key),
				"Re-mint the key with 'lapctl env fix'",
			)
			continue
		}
		if HasRepeatedRun(value) {
			warn(
				fmt.Sprintf("%s contains a run of four or more repeated characters", spec.Key),
				"Generate a random credential with 'lapctl env fix'",
			)
		}
	}
	return results
}

// checkPermissions warns when the env file is readable by group or
// other.
func (v *DefaultEnvValidator) checkPermissions() []CheckResult {
	info, err := os.Stat(v.config.EnvPath)
	if err != nil {
		// Presence is checked first; a racing delete is not worth a
		// separate result.
		return nil
	}

	mode := info.Mode().Perm()
	if mode&0o077 == 0 {
		return nil
	}

	return []CheckResult{{
		Component:   ComponentEnv,
		Name:        "env file permissions",
		Status:      StatusWarn,
		Detail:      fmt.Sprintf("%s is mode %04o, readable beyond its owner", v.config.EnvPath, mode),
		Remediation: fmt.Sprintf("Run: chmod 600 %s", v.config.EnvPath),
	}}
}

// checkGitExposure fails when the env file is tracked by git.
func (v *DefaultEnvValidator) checkGitExposure(ctx context.Context) []CheckResult {
	if v.config.StackDir == "" || v.processes == nil {
		return nil
	}
	if _, err := v.processes.LookPath("git"); err != nil {
		return nil
	}

	// Exit 0 means the path is tracked. Anything else (untracked, not
	// a repository) is clean.
	_, err := v.processes.Run(ctx, "git", "-C", v.config.StackDir, "ls-files", "--error-unmatch", v.config.EnvPath)
	if err != nil {
		return nil
	}

	return []CheckResult{{
		Component:   ComponentEnv,
		Name:        "env file in git",
		Status:      StatusFail,
		Detail:      fmt.Sprintf("%s is tracked by git; its secrets are in the repository history", v.config.EnvPath),
		Remediation: fmt.Sprintf("Run: git rm --cached %s && echo %s >> .gitignore", v.config.EnvPath, v.config.EnvPath),
	}}
}

// -----------------------------------------------------------------------------
// MockEnvValidator
// -----------------------------------------------------------------------------

// MockEnvValidator is a test double for EnvValidator.
type MockEnvValidator struct {
	// ValidateFunc is called when Validate is invoked
	ValidateFunc func(ctx context.Context) []CheckResult

	// Calls counts Validate invocations
	Calls int

	mu sync.Mutex
}

// Validate delegates to ValidateFunc and records the call.
func (m *MockEnvValidator) Validate(ctx context.Context) []CheckResult {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ValidateFunc == nil {
		panic("MockEnvValidator.ValidateFunc not set")
	}
	return m.ValidateFunc(ctx)
}

// Compile-time interface checks
var (
	_ EnvValidator = (*DefaultEnvValidator)(nil)
	_ EnvValidator = (*MockEnvValidator)(nil)
)
