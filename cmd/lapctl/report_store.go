// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides FileReportStore for the local run-report archive.

Every deploy or validate run produces one RunReport. The store keeps those
reports as JSON files under the state directory so that `lapctl report`
can show, export or upload past runs without the stack being up.

# Design Goals

  - One file per run, named by start time and run ID for easy eyeballing
  - Newest-first listing for `report show` and `report upload`
  - Count-based retention cap so the archive never grows without bound
  - Atomic writes so a crash mid-save never leaves a truncated report

The storage directory is created automatically if it does not exist.
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultReportRetention is how many reports Save keeps on disk.
const DefaultReportRetention = 30

// ErrNoReports indicates the archive holds no reports yet.
var ErrNoReports = errors.New("no reports stored")

// -----------------------------------------------------------------------------
// ReportStore Interface
// -----------------------------------------------------------------------------

// ReportStore persists finalized run reports.
type ReportStore interface {
	// Save writes a report to the archive and returns its location.
	Save(ctx context.Context, report *RunReport) (string, error)

	// Load reads a previously saved report from a location returned by
	// Save or List.
	Load(ctx context.Context, location string) (*RunReport, error)

	// List returns report locations, newest first. A limit of 0 or less
	// returns all of them.
	List(ctx context.Context, limit int) ([]string, error)

	// Latest loads the most recent report, or ErrNoReports.
	Latest(ctx context.Context) (*RunReport, error)

	// Prune enforces the retention cap and returns how many files it
	// removed.
	Prune(ctx context.Context) (int, error)
}

// -----------------------------------------------------------------------------
// FileReportStore Implementation
// -----------------------------------------------------------------------------

// FileReportStore stores run reports in the local filesystem.
//
// # Capabilities
//
//   - Persistent local storage in a configurable directory
//   - Automatic file naming from the report's start time and run ID
//   - Retention cap enforced on every Save (newest reports win)
//   - Thread-safe concurrent access
//
// # Thread Safety
//
// FileReportStore uses a mutex to protect concurrent operations. Multiple
// goroutines can safely Save, Load, List and Prune concurrently.
type FileReportStore struct {
	// baseDir is the directory where reports are stored.
	baseDir string

	// retention is the number of reports to keep. Zero or negative
	// disables pruning.
	retention int

	// mu protects concurrent access to storage operations.
	mu sync.RWMutex

	// filePrefix is prepended to generated filenames.
	filePrefix string

	// fileExtension is the extension for stored files.
	fileExtension string
}

// NewFileReportStore creates a file-based report archive.
//
// # Description
//
// Creates a store that saves run reports to the local filesystem. The
// directory is created if it does not exist.
//
// # Inputs
//
//   - baseDir: Directory path for report files. Use empty string for the
//     default (~/.lapctl/reports)
//   - retention: Number of reports to keep on disk. Zero or negative
//     disables pruning.
//
// # Outputs
//
//   - *FileReportStore: Ready-to-use report archive
//   - error: Non-nil if directory creation fails
//
// # Examples
//
//	store, err := NewFileReportStore("", DefaultReportRetention)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Uses ~/.lapctl/reports, keeps the 30 newest reports
func NewFileReportStore(baseDir string, retention int) (*FileReportStore, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".lapctl", "reports")
	}

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create reports directory %s: %w", baseDir, err)
	}

	return &FileReportStore{
		baseDir:       baseDir,
		retention:     retention,
		filePrefix:    "report",
		fileExtension: ".json",
	}, nil
}

// Save writes a finalized report to the archive.
//
// # Description
//
// Marshals the report to indented JSON and writes it to a file named from
// the report's start time and run ID. Uses atomic write (temp file +
// rename) to prevent partial files on crash, then enforces the retention
// cap so the newest reports survive.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - report: Finalized report to archive
//
// # Outputs
//
//   - string: Absolute path to the stored file
//   - error: Non-nil if marshalling or the write fails
//
// # Examples
//
//	location, err := store.Save(ctx, report)
//	// location: "/home/user/.lapctl/reports/report-20250114-203045-1b9d6bcd.json"
func (s *FileReportStore) Save(ctx context.Context, report *RunReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("cannot save a nil report")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report %s: %w", report.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(s.baseDir, s.reportFilename(report))

	// Write to temp file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize report file: %w", err)
	}

	// The cap is an invariant of the archive, not a chore for callers.
	if _, err := s.pruneLocked(); err != nil {
		return filePath, fmt.Errorf("report saved but pruning failed: %w", err)
	}

	return filePath, nil
}

// Load reads a report back from the archive.
//
// # Description
//
// Reads and parses a previously stored report file. Includes path
// traversal protection so callers cannot read files outside the archive
// directory.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - location: Absolute path to the report file
//
// # Outputs
//
//   - *RunReport: Parsed report
//   - error: Non-nil if the read fails, the file is outside the archive,
//     or the content is not a valid report
func (s *FileReportStore) Load(ctx context.Context, location string) (*RunReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Only load files within the base directory (prevent path traversal).
	cleanPath := filepath.Clean(location)
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reports directory: %w", err)
	}
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return nil, fmt.Errorf("path outside reports directory: %s", location)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", filepath.Base(absPath), err)
	}

	return &report, nil
}

// List returns report locations, most recent first.
//
// # Description
//
// Returns absolute paths to report files, sorted by modification time in
// descending order (newest first). Files that are not reports are ignored,
// so the archive directory tolerates stray files.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - limit: Maximum number of paths to return. Use 0 or negative for all.
//
// # Outputs
//
//   - []string: Absolute paths to report files
//   - error: Non-nil if directory listing fails
func (s *FileReportStore) List(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.reportFilesLocked()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Latest loads the most recent report in the archive.
//
// # Outputs
//
//   - *RunReport: The newest stored report
//   - error: ErrNoReports when the archive is empty; otherwise any List
//     or Load failure
func (s *FileReportStore) Latest(ctx context.Context) (*RunReport, error) {
	paths, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoReports
	}
	return s.Load(ctx, paths[0])
}

// Prune removes reports beyond the retention cap.
//
// # Description
//
// Deletes the oldest report files until at most the configured number
// remain. Save already enforces the cap, so an explicit Prune is only
// needed after lowering the retention setting.
//
// # Outputs
//
//   - int: Number of files deleted
//   - error: Non-nil if deletion fails (partial deletion may have occurred)
func (s *FileReportStore) Prune(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

// pruneLocked deletes files past the retention cap. Callers must hold mu.
func (s *FileReportStore) pruneLocked() (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	files, err := s.reportFilesLocked()
	if err != nil {
		return 0, err
	}
	if len(files) <= s.retention {
		return 0, nil
	}

	var deleted int
	for _, f := range files[s.retention:] {
		if err := os.Remove(f.path); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", filepath.Base(f.path), err)
		}
		deleted++
	}
	return deleted, nil
}

// SetRetention configures the retention cap.
//
// # Inputs
//
//   - count: Number of reports to keep. Zero disables pruning.
//     Negative values are ignored.
func (s *FileReportStore) SetRetention(count int) {
	if count < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = count
}

// Retention returns the current retention cap.
func (s *FileReportStore) Retention() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retention
}

// BaseDir returns the archive directory path.
func (s *FileReportStore) BaseDir() string {
	return s.baseDir
}

// Count returns the number of stored report files.
func (s *FileReportStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.reportFilesLocked()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// reportFile pairs a path with its modification time for sorting.
type reportFile struct {
	path    string
	modTime time.Time
}

// reportFilesLocked lists report files newest first. Callers must hold mu
// (read or write).
func (s *FileReportStore) reportFilesLocked() ([]reportFile, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports directory: %w", err)
	}

	var files []reportFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, s.filePrefix) || !strings.HasSuffix(name, s.fileExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}
		files = append(files, reportFile{
			path:    filepath.Join(s.baseDir, name),
			modTime: info.ModTime(),
		})
	}

	// Newest first; filenames embed the start time, so they break ties
	// between files written within the same timestamp granularity.
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})

	return files, nil
}

// reportFilename names a file from the report's start time and run ID.
//
// A report that started 2025-01-14 20:30:45 UTC with run ID
// 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed is stored as
// report-20250114-203045-1b9d6bcd.json.
func (s *FileReportStore) reportFilename(report *RunReport) string {
	timestamp := report.StartedAt().UTC().Format("20060102-150405")
	id := shortRunID(report.ID)
	if id == "" {
		return fmt.Sprintf("%s-%s%s", s.filePrefix, timestamp, s.fileExtension)
	}
	return fmt.Sprintf("%s-%s-%s%s", s.filePrefix, timestamp, id, s.fileExtension)
}

// -----------------------------------------------------------------------------
// MockReportStore
// -----------------------------------------------------------------------------

// MockReportStore is a test double for ReportStore.
type MockReportStore struct {
	// SaveFunc is called when Save is invoked
	SaveFunc func(ctx context.Context, report *RunReport) (string, error)

	// LoadFunc is called when Load is invoked
	LoadFunc func(ctx context.Context, location string) (*RunReport, error)

	// ListFunc is called when List is invoked
	ListFunc func(ctx context.Context, limit int) ([]string, error)

	// LatestFunc is called when Latest is invoked
	LatestFunc func(ctx context.Context) (*RunReport, error)

	// PruneFunc is called when Prune is invoked
	PruneFunc func(ctx context.Context) (int, error)

	// Calls records method invocations for verification
	Calls []string

	mu sync.Mutex
}

// Save delegates to SaveFunc and records the call.
func (m *MockReportStore) Save(ctx context.Context, report *RunReport) (string, error) {
	m.record("Save")
	if m.SaveFunc == nil {
		panic("MockReportStore.SaveFunc not set")
	}
	return m.SaveFunc(ctx, report)
}

// Load delegates to LoadFunc and records the call.
func (m *MockReportStore) Load(ctx context.Context, location string) (*RunReport, error) {
	m.record("Load")
	if m.LoadFunc == nil {
		panic("MockReportStore.LoadFunc not set")
	}
	return m.LoadFunc(ctx, location)
}

// List delegates to ListFunc and records the call.
func (m *MockReportStore) List(ctx context.Context, limit int) ([]string, error) {
	m.record("List")
	if m.ListFunc == nil {
		panic("MockReportStore.ListFunc not set")
	}
	return m.ListFunc(ctx, limit)
}

// Latest delegates to LatestFunc and records the call.
func (m *MockReportStore) Latest(ctx context.Context) (*RunReport, error) {
	m.record("Latest")
	if m.LatestFunc == nil {
		panic("MockReportStore.LatestFunc not set")
	}
	return m.LatestFunc(ctx)
}

// Prune delegates to PruneFunc and records the call.
func (m *MockReportStore) Prune(ctx context.Context) (int, error) {
	m.record("Prune")
	if m.PruneFunc == nil {
		panic("MockReportStore.PruneFunc not set")
	}
	return m.PruneFunc(ctx)
}

// Reset clears all recorded calls.
func (m *MockReportStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockReportStore) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
}

// Compile-time interface checks
var (
	_ ReportStore = (*FileReportStore)(nil)
	_ ReportStore = (*MockReportStore)(nil)
)
