// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// ParseEnvFile / Bytes Round-Trip Tests
// -----------------------------------------------------------------------------

// TestParseEnvFile_RoundTrip verifies that serializing an unmodified
// document reproduces the input byte-for-byte.
func TestParseEnvFile_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "simple assignments",
			input: "FOO=bar\nBAZ=qux\n",
		},
		{
			name:  "comments and blanks",
			input: "# Database\nPOSTGRES_PASSWORD=secret\n\n# Workflow\nN8N_ENCRYPTION_KEY=abc\n",
		},
		{
			name:  "no trailing newline",
			input: "FOO=bar",
		},
		{
			name:  "malformed lines preserved",
			input: "FOO=bar\nthis is not an assignment\nexport BAZ=qux\n",
		},
		{
			name:  "indented comment",
			input: "  # indented comment\nFOO=bar\n",
		},
		{
			name:  "quoted values keep quotes",
			input: "FOO=\"quoted value\"\nBAR='single'\n",
		},
		{
			name:  "empty file",
			input: "",
		},
		{
			name:  "only blank lines",
			input: "\n\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseEnvFile([]byte(tt.input))
			got := f.Bytes()
			if !bytes.Equal(got, []byte(tt.input)) {
				t.Errorf("round trip changed bytes:\n got: %q\nwant: %q", got, tt.input)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Get Tests
// -----------------------------------------------------------------------------

// TestEnvFile_Get verifies value retrieval including quote stripping.
func TestEnvFile_Get(t *testing.T) {
	input := "FOO=bar\nQUOTED=\"hello world\"\nSINGLE='hi'\nSPACED=  padded  \nEMPTY=\n"
	f := ParseEnvFile([]byte(input))

	tests := []struct {
		key       string
		wantValue string
		wantOK    bool
	}{
		{"FOO", "bar", true},
		{"QUOTED", "hello world", true},
		{"SINGLE", "hi", true},
		{"SPACED", "padded", true},
		{"EMPTY", "", true},
		{"MISSING", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := f.Get(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("Get(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if got != tt.wantValue {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.wantValue)
			}
		})
	}
}

// TestEnvFile_Get_DuplicateKeys verifies last assignment wins.
func TestEnvFile_Get_DuplicateKeys(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=first\nFOO=second\nFOO=third\n"))

	got, ok := f.Get("FOO")
	if !ok {
		t.Fatal("Get(FOO) ok = false, want true")
	}
	if got != "third" {
		t.Errorf("Get(FOO) = %q, want %q (last value)", got, "third")
	}
}

// TestEnvFile_Get_NilReceiver verifies nil safety.
func TestEnvFile_Get_NilReceiver(t *testing.T) {
	var f *EnvFile

	if _, ok := f.Get("FOO"); ok {
		t.Error("Get() on nil = true, want false")
	}
}

// TestEnvFile_Has verifies key existence check.
func TestEnvFile_Has(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=bar\n# COMMENTED=value\n"))

	if !f.Has("FOO") {
		t.Error("Has(FOO) = false, want true")
	}
	if f.Has("COMMENTED") {
		t.Error("Has(COMMENTED) = true, want false (commented out)")
	}
	if f.Has("MISSING") {
		t.Error("Has(MISSING) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// Set Tests
// -----------------------------------------------------------------------------

// TestEnvFile_Set_UpdateInPlace verifies only the target line changes.
func TestEnvFile_Set_UpdateInPlace(t *testing.T) {
	input := "# Database\nPOSTGRES_PASSWORD=weak\nPOSTGRES_HOST=db\n"
	f := ParseEnvFile([]byte(input))

	if err := f.Set("POSTGRES_PASSWORD", "a-much-stronger-value"); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	want := "# Database\nPOSTGRES_PASSWORD=a-much-stronger-value\nPOSTGRES_HOST=db\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("Bytes() after Set:\n got: %q\nwant: %q", got, want)
	}
}

// TestEnvFile_Set_UpdatesLastDuplicate verifies the winning assignment
// is the one rewritten.
func TestEnvFile_Set_UpdatesLastDuplicate(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=first\nFOO=second\n"))

	if err := f.Set("FOO", "updated"); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	want := "FOO=first\nFOO=updated\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

// TestEnvFile_Set_AppendsNewKey verifies new keys go to the end.
func TestEnvFile_Set_AppendsNewKey(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=bar\n"))

	if err := f.Set("NEW_KEY", "value"); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	want := "FOO=bar\nNEW_KEY=value\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

// TestEnvFile_Set_AppendToEmptyDocument verifies appending to an empty
// document produces a well-formed file.
func TestEnvFile_Set_AppendToEmptyDocument(t *testing.T) {
	f := ParseEnvFile(nil)

	if err := f.Set("JWT_SECRET", "abc123"); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	want := "JWT_SECRET=abc123\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

// TestEnvFile_Set_NoTrailingNewlineSource verifies appending normalizes
// the file ending.
func TestEnvFile_Set_NoTrailingNewlineSource(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=bar"))

	if err := f.Set("BAZ", "qux"); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	want := "FOO=bar\nBAZ=qux\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

// TestEnvFile_Set_InvalidKey verifies key validation.
func TestEnvFile_Set_InvalidKey(t *testing.T) {
	f := ParseEnvFile(nil)

	if err := f.Set("invalid-key", "value"); err == nil {
		t.Error("Set() should return error for invalid key")
	}
	if f.Has("invalid-key") {
		t.Error("invalid key should not be added")
	}
}

// -----------------------------------------------------------------------------
// Keys / Vars Tests
// -----------------------------------------------------------------------------

// TestEnvFile_Keys verifies unique keys in first-appearance order.
func TestEnvFile_Keys(t *testing.T) {
	f := ParseEnvFile([]byte("B=1\nA=2\nB=3\nC=4\n"))

	got := f.Keys()
	want := []string{"B", "A", "C"}

	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestEnvFile_Vars verifies report variables with sensitivity marking.
func TestEnvFile_Vars(t *testing.T) {
	f := ParseEnvFile([]byte("POSTGRES_HOST=db\nPOSTGRES_PASSWORD=secret123\n"))

	vars := f.Vars()
	if len(vars) != 2 {
		t.Fatalf("Vars() len = %d, want 2", len(vars))
	}

	if vars[0].Key != "POSTGRES_HOST" || vars[0].Sensitive {
		t.Errorf("vars[0] = %+v, want POSTGRES_HOST not sensitive", vars[0])
	}
	if vars[1].Key != "POSTGRES_PASSWORD" || !vars[1].Sensitive {
		t.Errorf("vars[1] = %+v, want POSTGRES_PASSWORD sensitive", vars[1])
	}
}

// -----------------------------------------------------------------------------
// MalformedLines Tests
// -----------------------------------------------------------------------------

// TestEnvFile_MalformedLines verifies 1-based line number reporting.
func TestEnvFile_MalformedLines(t *testing.T) {
	input := "FOO=bar\nnot an assignment\n# comment\n=nokey\n1BAD=value\n"
	f := ParseEnvFile([]byte(input))

	got := f.MalformedLines()
	want := []int{2, 4, 5}

	if len(got) != len(want) {
		t.Fatalf("MalformedLines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MalformedLines()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestEnvFile_MalformedLines_CleanFile verifies clean files report none.
func TestEnvFile_MalformedLines_CleanFile(t *testing.T) {
	f := ParseEnvFile([]byte("FOO=bar\n# comment\n\nBAZ=qux\n"))

	if got := f.MalformedLines(); len(got) != 0 {
		t.Errorf("MalformedLines() = %v, want none", got)
	}
}

// -----------------------------------------------------------------------------
// LoadEnvFile Tests
// -----------------------------------------------------------------------------

// TestLoadEnvFile verifies loading from disk records the path.
func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "POSTGRES_PASSWORD=secret\n"

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	f, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile() unexpected error: %v", err)
	}

	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
	if v, ok := f.Get("POSTGRES_PASSWORD"); !ok || v != "secret" {
		t.Errorf("Get(POSTGRES_PASSWORD) = (%q, %v), want (secret, true)", v, ok)
	}
}

// TestLoadEnvFile_Missing verifies error for a missing file.
func TestLoadEnvFile_Missing(t *testing.T) {
	_, err := LoadEnvFile(filepath.Join(t.TempDir(), "does-not-exist.env"))
	if err == nil {
		t.Fatal("LoadEnvFile() expected error for missing file, got nil")
	}
}
