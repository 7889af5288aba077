// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// DeployLocker defines the interface for CLI instance locking.
//
// # Description
//
// DeployLocker prevents two lapctl instances from mutating the stack at
// the same time. Without it, races like these corrupt state:
//
//   - Terminal A: `lapctl deploy` (auto-fixing the env file)
//   - Terminal B: `lapctl destroy` (removing the containers A is starting)
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// provides inter-process synchronization, not intra-process.
type DeployLocker interface {
	// Acquire attempts to get an exclusive lock.
	// Returns nil if lock acquired, error otherwise.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock.
	// Returns 0 if no process holds the lock or if unable to determine.
	HolderPID() int
}

// DeployLockConfig configures lock file placement.
type DeployLockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for lock files.
	// Default: "lapctl"
	LockName string
}

// DefaultDeployLockConfig returns sensible defaults: the system temp
// directory and "lapctl" as the lock name.
func DefaultDeployLockConfig() DeployLockConfig {
	return DeployLockConfig{
		LockDir:  os.TempDir(),
		LockName: "lapctl",
	}
}

// DeployLock implements DeployLocker using flock(2) advisory locking.
//
// # How It Works
//
//  1. Creates a lock file at {LockDir}/{LockName}.lock
//  2. Attempts a non-blocking exclusive flock on the file
//  3. Writes the PID to {LockDir}/{LockName}.pid for debugging
//  4. On release, removes the PID file and releases the flock
//
// The lock file itself is left behind for faster subsequent acquires.
//
// # Assumptions
//
//   - LockDir exists and is writable
//   - Only one DeployLock instance per process
//   - OS supports flock(2)
type DeployLock struct {
	config   DeployLockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewDeployLock creates a lock for the given configuration. The lock is
// not acquired until Acquire is called.
func NewDeployLock(config DeployLockConfig) *DeployLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "lapctl"
	}

	return &DeployLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to get an exclusive lock.
//
// Uses a non-blocking flock. If another process holds the lock the
// error names the holder PID when the PID file is readable, so the user
// can decide whether the holder is stale.
func (p *DeployLock) Acquire() error {
	if p.held {
		return nil // Already held
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			holderPID := p.readHolderPID()
			if holderPID > 0 {
				return fmt.Errorf("another lapctl run is in progress (PID %d). "+
					"If this is stale, remove %s", holderPID, p.pidPath)
			}
			return fmt.Errorf("another lapctl run is in progress. "+
				"Check: lsof %s", p.lockPath)
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// Best effort; the flock is what actually guards the run
	_ = p.writePID()

	return nil
}

// Release releases the lock if held. Safe to call multiple times.
func (p *DeployLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	os.Remove(p.pidPath)

	err := syscall.Flock(int(p.lockFile.Fd()), syscall.LOCK_UN)

	// Close also releases the lock if the explicit unlock failed
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// IsHeld reports local state only; it does not re-verify the flock.
func (p *DeployLock) IsHeld() bool {
	return p.held
}

// HolderPID reads the PID file to find the holding process. Returns 0
// when the file is absent or unparseable. The value may be stale if the
// holder crashed without cleanup.
func (p *DeployLock) HolderPID() int {
	return p.readHolderPID()
}

// writePID writes the current process PID to the PID file.
func (p *DeployLock) writePID() error {
	pid := os.Getpid()
	content := fmt.Sprintf("%d\n", pid)
	return os.WriteFile(p.pidPath, []byte(content), 0644)
}

// readHolderPID reads the PID from the PID file.
func (p *DeployLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0
	}

	return pid
}

// LockPath returns the path to the lock file.
func (p *DeployLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the path to the PID file.
func (p *DeployLock) PIDPath() string {
	return p.pidPath
}

// ErrLockHeld is returned when the lock is held by another process.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another lapctl run is in progress (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another lapctl run is in progress (check: lsof %s)", e.LockPath)
}

// Compile-time interface satisfaction check
var _ DeployLocker = (*DeployLock)(nil)
