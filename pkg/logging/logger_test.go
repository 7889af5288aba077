// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := tt.level.toSlogLevel()
			if got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_QuietWithoutDestinations(t *testing.T) {
	// Quiet and no LogDir still yields a usable logger
	logger := New(Config{Quiet: true})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	logger.Info("goes nowhere")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir:  tmpDir,
		Service: "deploy",
		Quiet:   true,
	})
	logger.Info("port scan complete", "conflicts", 0)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	wantName := "deploy_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(tmpDir, wantName))
	if err != nil {
		t.Fatalf("expected log file %s: %v", wantName, err)
	}
	if !strings.Contains(string(data), "port scan complete") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"deploy"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestNew_WithLogDir_DefaultServiceName(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Quiet: true})
	logger.Info("hello")
	logger.Close()

	wantName := "lapctl_" + time.Now().Format("2006-01-02") + ".log"
	if _, err := os.Stat(filepath.Join(tmpDir, wantName)); err != nil {
		t.Errorf("expected default-named log file %s: %v", wantName, err)
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail; the
	// logger must still come up without the file destination.
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{LogDir: blocker, Quiet: true})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.file != nil {
		t.Error("expected no file handle for invalid LogDir")
	}
	logger.Close()
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
	if logger.config.Service != "lapctl" {
		t.Errorf("Default service = %v, want lapctl", logger.config.Service)
	}
	defer logger.Close()
}

// =============================================================================
// Logging and Export Tests
// =============================================================================

func TestLogger_ExportsEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "deploy",
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	logger.Info("check passed", "name", "ports:5432", "duration_ms", 12)
	logger.Warn("port occupied", "port", 9999)

	// Export is async
	time.Sleep(100 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 exported entries, got %d", len(entries))
	}
	if entries[0].Message != "check passed" {
		t.Errorf("first entry = %q, want %q", entries[0].Message, "check passed")
	}
	if entries[0].Service != "deploy" {
		t.Errorf("entry service = %q, want deploy", entries[0].Service)
	}
	if entries[1].Level != LevelWarn {
		t.Errorf("second entry level = %v, want LevelWarn", entries[1].Level)
	}
	if got, ok := entries[1].Attrs["port"]; !ok || got != 9999 {
		t.Errorf("second entry port attr = %v, want 9999", got)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	logger.Debug("not exported")
	logger.Info("not exported either")
	logger.Warn("exported")

	time.Sleep(100 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after filtering, got %d", len(entries))
	}
	if entries[0].Message != "exported" {
		t.Errorf("entry = %q, want %q", entries[0].Message, "exported")
	}
}

func TestLogger_With(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	child := logger.With("run_id", "run-abc")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	child.Info("phase started")

	time.Sleep(50 * time.Millisecond)
	if len(exporter.Entries()) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(exporter.Entries()))
	}
}

func TestLogger_With_SharesResources(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir:  tmpDir,
		Service: "deploy",
		Quiet:   true,
	})
	defer logger.Close()

	child := logger.With("child", true)
	if child.file != logger.file {
		t.Error("child logger should share the file handle")
	}
}

func TestLogger_Close_NoResources(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log/lapctl", "/var/log/lapctl"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"port", 5432, "owner", "postgres"})
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
	if got["port"] != 5432 {
		t.Errorf("port = %v, want 5432", got["port"])
	}
	if got["owner"] != "postgres" {
		t.Errorf("owner = %v, want postgres", got["owner"])
	}

	// Odd trailing arg is dropped
	got = argsToMap([]any{"key", "value", "dangling"})
	if len(got) != 1 {
		t.Errorf("expected dangling arg dropped, got %v", got)
	}

	// Non-string key is skipped
	got = argsToMap([]any{42, "value"})
	if len(got) != 0 {
		t.Errorf("expected non-string key skipped, got %v", got)
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestNopExporter(t *testing.T) {
	exporter := &NopExporter{}
	ctx := context.Background()

	if err := exporter.Export(ctx, LogEntry{Message: "discarded"}); err != nil {
		t.Errorf("Export() returned error: %v", err)
	}
	if err := exporter.Flush(ctx); err != nil {
		t.Errorf("Flush() returned error: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

func TestBufferedExporter_Concurrent(t *testing.T) {
	exporter := NewBufferedExporter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exporter.Export(ctx, LogEntry{Message: "concurrent"})
		}()
	}
	wg.Wait()

	if got := len(exporter.Entries()); got != 20 {
		t.Errorf("expected 20 entries, got %d", got)
	}
}

func TestBufferedExporter_EntriesReturnsCopy(t *testing.T) {
	exporter := NewBufferedExporter()
	_ = exporter.Export(context.Background(), LogEntry{Message: "original"})

	entries := exporter.Entries()
	entries[0].Message = "mutated"

	if exporter.Entries()[0].Message != "original" {
		t.Error("Entries() should return a copy")
	}
}

func TestWriterExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     LevelWarn,
		Message:   "weak credential",
		Attrs:     map[string]any{"key": "POSTGRES_PASSWORD"},
	}
	if err := exporter.Export(context.Background(), entry); err != nil {
		t.Fatalf("Export() returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "weak credential") {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Errorf("output missing level: %s", out)
	}
}
