// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides EnvFixer for repairing the stack environment file.

The fixer is the write half of environment validation: it mints fresh
credentials for generated-class keys that are missing or weak, seeds
required infrastructure keys from their defaults, and leaves every other
byte of the file exactly as the user wrote it.

# Safety Invariants

  - The original file is preserved in a timestamped backup before any write
  - The env file is written at most once per Fix call
  - A file that needs no repair is not touched at all, so running fix
    twice is byte-for-byte idempotent and creates no second backup
  - The rewritten file is restricted to owner read/write
*/
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// backupTimestampLayout names backups like .env.20250114T203045Z.bak.
const backupTimestampLayout = "20060102T150405Z"

// -----------------------------------------------------------------------------
// EnvFixer Interface
// -----------------------------------------------------------------------------

// EnvFixOutcome summarizes what a Fix call did.
type EnvFixOutcome struct {
	// Path is the env file that was inspected.
	Path string `json:"path"`

	// Changed is true when the file was rewritten.
	Changed bool `json:"changed"`

	// BackupPath is where the pre-fix bytes live. Empty when no write
	// happened or no file existed to back up.
	BackupPath string `json:"backup_path,omitempty"`

	// MintedKeys lists generated-class keys that received a fresh
	// value, in policy order.
	MintedKeys []string `json:"minted_keys,omitempty"`

	// SeededKeys lists required infrastructure keys filled from their
	// defaults, in policy order.
	SeededKeys []string `json:"seeded_keys,omitempty"`
}

// EnvFixer repairs missing and weak credentials in the env file.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, though a deploy run
// calls Fix at most once.
type EnvFixer interface {
	// Fix inspects the env file and rewrites it when repair is needed.
	//
	// # Outputs
	//
	//   - *EnvFixOutcome: What changed. Never nil.
	//   - []CheckResult: One result per minted/seeded key plus a
	//     summary, in policy order.
	Fix(ctx context.Context) (*EnvFixOutcome, []CheckResult)
}

// -----------------------------------------------------------------------------
// DefaultEnvFixer
// -----------------------------------------------------------------------------

// EnvFixerConfig configures the fixer.
type EnvFixerConfig struct {
	// EnvPath is the env file to repair.
	EnvPath string

	// Policy is the credential table. Nil uses the default stack
	// policy.
	Policy *CredentialPolicy
}

// DefaultEnvFixer implements EnvFixer on the filesystem.
//
// # Example
//
//	fixer := NewEnvFixer(EnvFixerConfig{EnvPath: ".env"}, NewDefaultSecretGenerator(), nil)
//	outcome, results := fixer.Fix(ctx)
//	if outcome.Changed {
//	    fmt.Println("backup at", outcome.BackupPath)
//	}
type DefaultEnvFixer struct {
	config  EnvFixerConfig
	secrets SecretGenerator
	logger  *logging.Logger

	// now is injectable so tests can pin backup names.
	now func() time.Time
}

// NewEnvFixer creates a fixer. A nil policy uses the stack default; a
// nil logger uses the package default.
func NewEnvFixer(config EnvFixerConfig, secrets SecretGenerator, logger *logging.Logger) *DefaultEnvFixer {
	if config.Policy == nil {
		config.Policy = DefaultCredentialPolicy()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultEnvFixer{
		config:  config,
		secrets: secrets,
		logger:  logger,
		now:     time.Now,
	}
}

// Fix repairs the env file.
//
// # Description
//
// Walks the credential policy in table order. Generated keys that are
// absent, empty, or weak get a freshly minted value; required
// non-generated keys that are absent get their documented default.
// Everything else, including comments, ordering, and keys the policy
// does not know, is preserved byte-for-byte. The file is rewritten only
// when at least one key changed.
func (f *DefaultEnvFixer) Fix(ctx context.Context) (*EnvFixOutcome, []CheckResult) {
	start := time.Now()
	outcome := &EnvFixOutcome{Path: f.config.EnvPath}

	envFile, existed, err := f.loadOrEmpty()
	if err != nil {
		return outcome, []CheckResult{{
			Component:   ComponentEnv,
			Name:        "env auto-fix",
			Status:      StatusFail,
			Detail:      fmt.Sprintf("cannot read %s: %v", f.config.EnvPath, err),
			Remediation: "Check file permissions on the env file",
			DurationMs:  time.Since(start).Milliseconds(),
		}}
	}

	var results []CheckResult

	for _, spec := range f.config.Policy.Specs() {
		if err := ctx.Err(); err != nil {
			results = append(results, CheckResult{
				Component:  ComponentEnv,
				Name:       "env auto-fix",
				Status:     StatusFail,
				Detail:     fmt.Sprintf("cancelled: %v", err),
				DurationMs: time.Since(start).Milliseconds(),
			})
			return outcome, results
		}

		value, present := envFile.Get(spec.Key)

		switch {
		case spec.Generated && needsFreshValue(spec, value, present):
			minted, err := f.secrets.ValueFor(spec)
			if err != nil {
				results = append(results, CheckResult{
					Component:   ComponentEnv,
					Name:        spec.Key,
					Status:      StatusFail,
					Detail:      fmt.Sprintf("could not generate value for %s: %v", spec.Key, err),
					Remediation: "Set the key manually and re-run",
				})
				continue
			}
			if err := envFile.Set(spec.Key, minted); err != nil {
				results = append(results, CheckResult{
					Component: ComponentEnv,
					Name:      spec.Key,
					Status:    StatusFail,
					Detail:    fmt.Sprintf("could not set %s: %v", spec.Key, err),
				})
				continue
			}
			outcome.MintedKeys = append(outcome.MintedKeys, spec.Key)
			results = append(results, CheckResult{
				Component: ComponentEnv,
				Name:      spec.Key,
				Status:    StatusPass,
				Detail:    mintDetail(spec, present),
			})

		case !spec.Generated && spec.Required && spec.Default != "" && (!present || value == ""):
			if err := envFile.Set(spec.Key, spec.Default); err != nil {
				results = append(results, CheckResult{
					Component: ComponentEnv,
					Name:      spec.Key,
					Status:    StatusFail,
					Detail:    fmt.Sprintf("could not set %s: %v", spec.Key, err),
				})
				continue
			}
			outcome.SeededKeys = append(outcome.SeededKeys, spec.Key)
			results = append(results, CheckResult{
				Component: ComponentEnv,
				Name:      spec.Key,
				Status:    StatusPass,
				Detail:    fmt.Sprintf("%s seeded with default %q", spec.Key, spec.Default),
			})
		}
	}

	if len(outcome.MintedKeys) == 0 && len(outcome.SeededKeys) == 0 {
		results = append(results, CheckResult{
			Component:  ComponentEnv,
			Name:       "env auto-fix",
			Status:     StatusPass,
			Detail:     fmt.Sprintf("%s already complete; nothing rewritten", f.config.EnvPath),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return outcome, results
	}

	backupPath, err := f.writeRepaired(envFile, existed)
	if err != nil {
		results = append(results, CheckResult{
			Component:   ComponentEnv,
			Name:        "env auto-fix",
			Status:      StatusFail,
			Detail:      fmt.Sprintf("could not write %s: %v", f.config.EnvPath, err),
			Remediation: "Check directory permissions and free disk space",
			DurationMs:  time.Since(start).Milliseconds(),
		})
		return outcome, results
	}

	outcome.Changed = true
	outcome.BackupPath = backupPath

	detail := fmt.Sprintf("minted %d, seeded %d keys", len(outcome.MintedKeys), len(outcome.SeededKeys))
	if backupPath != "" {
		detail += fmt.Sprintf("; previous file saved as %s", backupPath)
	}
	results = append(results, CheckResult{
		Component:  ComponentEnv,
		Name:       "env auto-fix",
		Status:     StatusPass,
		Detail:     detail,
		DurationMs: time.Since(start).Milliseconds(),
	})

	f.logger.Info("env file repaired",
		"path", f.config.EnvPath,
		"minted", len(outcome.MintedKeys),
		"seeded", len(outcome.SeededKeys),
		"backup", backupPath)
	return outcome, results
}

// loadOrEmpty loads the env file, or starts an empty document when the
// file does not exist yet.
func (f *DefaultEnvFixer) loadOrEmpty() (*EnvFile, bool, error) {
	envFile, err := LoadEnvFile(f.config.EnvPath)
	if err == nil {
		return envFile, true, nil
	}
	if os.IsNotExist(err) {
		return ParseEnvFile(nil), false, nil
	}
	return nil, false, err
}

// writeRepaired backs up the existing file by rename, writes the
// repaired document, and restricts it to owner read/write.
//
// Rename (not copy) guarantees the backup holds exactly the bytes the
// user had, and makes the backup atomic with respect to the rewrite.
func (f *DefaultEnvFixer) writeRepaired(envFile *EnvFile, existed bool) (string, error) {
	backupPath := ""
	if existed {
		backupPath = fmt.Sprintf("%s.%s.bak", f.config.EnvPath, f.now().UTC().Format(backupTimestampLayout))
		if err := os.Rename(f.config.EnvPath, backupPath); err != nil {
			return "", fmt.Errorf("failed to back up env file: %w", err)
		}
	}

	if err := os.WriteFile(f.config.EnvPath, envFile.Bytes(), 0o600); err != nil {
		return backupPath, fmt.Errorf("failed to write repaired env file: %w", err)
	}
	// WriteFile's mode is masked by umask on some systems; enforce.
	if err := os.Chmod(f.config.EnvPath, 0o600); err != nil {
		return backupPath, fmt.Errorf("failed to restrict env file permissions: %w", err)
	}
	return backupPath, nil
}

// needsFreshValue decides whether a generated key must be re-minted.
// The rules mirror validation: a value the validator would warn about
// is a value the fixer replaces.
func needsFreshValue(spec CredentialSpec, value string, present bool) bool {
	if !present || value == "" {
		return true
	}
	if _, weak := PlaceholderPrefix(value); weak {
		return true
	}
	if _, weak := WeakPrefix(value); weak {
		return true
	}
	if len(value) < spec.MinimumLength() {
		return true
	}
	if spec.JWTShaped() && !IsJWTShaped(value) {
		return true
	}
	return HasRepeatedRun(value)
}

// mintDetail describes why a key was minted without echoing any value.
func mintDetail(spec CredentialSpec, present bool) string {
	reason := "was missing"
	if present {
		reason = "was weak"
	}
	if spec.JWTShaped() {
		return fmt.Sprintf("%s %s; minted a fresh %s token", spec.Key, reason, spec.JWTRole)
	}
	return fmt.Sprintf("%s %s; generated a fresh value", spec.Key, reason)
}

// -----------------------------------------------------------------------------
// MockEnvFixer
// -----------------------------------------------------------------------------

// MockEnvFixer is a test double for EnvFixer.
type MockEnvFixer struct {
	// FixFunc is called when Fix is invoked
	FixFunc func(ctx context.Context) (*EnvFixOutcome, []CheckResult)

	// Calls counts Fix invocations
	Calls int

	mu sync.Mutex
}

// Fix delegates to FixFunc and records the call.
func (m *MockEnvFixer) Fix(ctx context.Context) (*EnvFixOutcome, []CheckResult) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.FixFunc == nil {
		panic("MockEnvFixer.FixFunc not set")
	}
	return m.FixFunc(ctx)
}

// Compile-time interface checks
var (
	_ EnvFixer = (*DefaultEnvFixer)(nil)
	_ EnvFixer = (*MockEnvFixer)(nil)
)
