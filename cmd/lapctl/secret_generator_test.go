// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// -----------------------------------------------------------------------------
// RandomString Tests
// -----------------------------------------------------------------------------

// TestDefaultSecretGenerator_RandomString verifies length and charset.
func TestDefaultSecretGenerator_RandomString(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	s, err := gen.RandomString(24, false)
	if err != nil {
		t.Fatalf("RandomString() unexpected error: %v", err)
	}
	if len(s) != 24 {
		t.Errorf("RandomString() len = %d, want 24", len(s))
	}
	for _, c := range s {
		if !strings.ContainsRune(alphanumericChars+safeSymbolChars, c) {
			t.Errorf("RandomString() produced out-of-charset rune %q", c)
		}
	}
}

// TestDefaultSecretGenerator_RandomString_NoSymbols verifies the
// alphanumeric-only mode.
func TestDefaultSecretGenerator_RandomString_NoSymbols(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	// Enough draws that a symbol would almost surely appear if the
	// flag were ignored.
	s, err := gen.RandomString(512, true)
	if err != nil {
		t.Fatalf("RandomString() unexpected error: %v", err)
	}
	if strings.ContainsAny(s, safeSymbolChars) {
		t.Errorf("RandomString(noSymbols) produced symbols: %q", s)
	}
}

// TestDefaultSecretGenerator_RandomString_Unique verifies two draws
// differ.
func TestDefaultSecretGenerator_RandomString_Unique(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	a, err := gen.RandomString(32, false)
	if err != nil {
		t.Fatalf("RandomString() unexpected error: %v", err)
	}
	b, err := gen.RandomString(32, false)
	if err != nil {
		t.Fatalf("RandomString() unexpected error: %v", err)
	}
	if a == b {
		t.Error("two RandomString draws returned identical values")
	}
}

// TestDefaultSecretGenerator_RandomString_InvalidLength verifies length
// validation.
func TestDefaultSecretGenerator_RandomString_InvalidLength(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	if _, err := gen.RandomString(0, false); err == nil {
		t.Error("RandomString(0) should return error")
	}
	if _, err := gen.RandomString(-5, false); err == nil {
		t.Error("RandomString(-5) should return error")
	}
}

// -----------------------------------------------------------------------------
// RandomHex Tests
// -----------------------------------------------------------------------------

// TestDefaultSecretGenerator_RandomHex verifies hex output lengths.
func TestDefaultSecretGenerator_RandomHex(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	for _, length := range []int{24, 48, 64, 128, 7} {
		s, err := gen.RandomHex(length)
		if err != nil {
			t.Fatalf("RandomHex(%d) unexpected error: %v", length, err)
		}
		if len(s) != length {
			t.Errorf("RandomHex(%d) len = %d", length, len(s))
		}
		if !hexPattern.MatchString(s) {
			t.Errorf("RandomHex(%d) = %q, not lowercase hex", length, s)
		}
	}
}

// TestDefaultSecretGenerator_RandomHex_InvalidLength verifies length
// validation.
func TestDefaultSecretGenerator_RandomHex_InvalidLength(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	if _, err := gen.RandomHex(0); err == nil {
		t.Error("RandomHex(0) should return error")
	}
}

// -----------------------------------------------------------------------------
// MintJWT Tests
// -----------------------------------------------------------------------------

// TestDefaultSecretGenerator_MintJWT verifies the token shape and
// claims.
func TestDefaultSecretGenerator_MintJWT(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	token, err := gen.MintJWT("anon", time.Hour)
	if err != nil {
		t.Fatalf("MintJWT() unexpected error: %v", err)
	}

	if !IsJWTShaped(token) {
		t.Fatalf("MintJWT() = %q, not JWT-shaped", token)
	}

	parts := strings.Split(token, ".")

	// Header must be the fixed HS256 header.
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	if string(headerJSON) != `{"alg":"HS256","typ":"JWT"}` {
		t.Errorf("header = %s, want HS256 header", headerJSON)
	}

	// Claims carry role, local issuer, and a sane validity window.
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	var claims struct {
		Role string `json:"role"`
		Iss  string `json:"iss"`
		Iat  int64  `json:"iat"`
		Exp  int64  `json:"exp"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshaling claims: %v", err)
	}
	if claims.Role != "anon" {
		t.Errorf("role = %q, want anon", claims.Role)
	}
	if claims.Iss != "supabase-local" {
		t.Errorf("iss = %q, want supabase-local", claims.Iss)
	}
	if claims.Exp-claims.Iat != int64(time.Hour/time.Second) {
		t.Errorf("validity = %ds, want 3600s", claims.Exp-claims.Iat)
	}

	// Signature segment is 48 hex characters.
	if len(parts[2]) != 48 || !hexPattern.MatchString(parts[2]) {
		t.Errorf("signature = %q, want 48 hex chars", parts[2])
	}
}

// TestDefaultSecretGenerator_MintJWT_DefaultLifetime verifies zero
// lifetime uses the default.
func TestDefaultSecretGenerator_MintJWT_DefaultLifetime(t *testing.T) {
	gen := NewDefaultSecretGenerator()

	token, err := gen.MintJWT("service_role", 0)
	if err != nil {
		t.Fatalf("MintJWT() unexpected error: %v", err)
	}

	parts := strings.Split(token, ".")
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	var claims struct {
		Iat int64 `json:"iat"`
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshaling claims: %v", err)
	}
	if claims.Exp-claims.Iat != int64(defaultJWTLifetime/time.Second) {
		t.Errorf("validity = %ds, want %ds", claims.Exp-claims.Iat, int64(defaultJWTLifetime/time.Second))
	}
}

// -----------------------------------------------------------------------------
// ValueFor Tests
// -----------------------------------------------------------------------------

// TestDefaultSecretGenerator_ValueFor_Dispatch verifies class dispatch.
func TestDefaultSecretGenerator_ValueFor_Dispatch(t *testing.T) {
	gen := NewDefaultSecretGenerator()
	policy := DefaultCredentialPolicy()

	t.Run("hex key", func(t *testing.T) {
		spec, _ := policy.Spec("SECRET_KEY_BASE")
		v, err := gen.ValueFor(spec)
		if err != nil {
			t.Fatalf("ValueFor() unexpected error: %v", err)
		}
		if len(v) != 128 || !hexPattern.MatchString(v) {
			t.Errorf("ValueFor(SECRET_KEY_BASE) = %q, want 128 hex chars", v)
		}
	})

	t.Run("jwt key", func(t *testing.T) {
		spec, _ := policy.Spec("ANON_KEY")
		v, err := gen.ValueFor(spec)
		if err != nil {
			t.Fatalf("ValueFor() unexpected error: %v", err)
		}
		if !IsJWTShaped(v) {
			t.Errorf("ValueFor(ANON_KEY) = %q, not JWT-shaped", v)
		}
		if len(v) < spec.MinimumLength() {
			t.Errorf("ValueFor(ANON_KEY) len = %d, below minimum %d", len(v), spec.MinimumLength())
		}
	})

	t.Run("password with special", func(t *testing.T) {
		spec, _ := policy.Spec("POSTGRES_PASSWORD")
		v, err := gen.ValueFor(spec)
		if err != nil {
			t.Fatalf("ValueFor() unexpected error: %v", err)
		}
		if len(v) != 24 {
			t.Errorf("ValueFor(POSTGRES_PASSWORD) len = %d, want 24", len(v))
		}
		if !strings.ContainsAny(v, safeSymbolChars) {
			t.Errorf("ValueFor(POSTGRES_PASSWORD) = %q, missing special character", v)
		}
	})

	t.Run("composed neo4j auth", func(t *testing.T) {
		spec, _ := policy.Spec("NEO4J_AUTH")
		v, err := gen.ValueFor(spec)
		if err != nil {
			t.Fatalf("ValueFor() unexpected error: %v", err)
		}
		if !strings.HasPrefix(v, "neo4j/") {
			t.Fatalf("ValueFor(NEO4J_AUTH) = %q, want neo4j/ prefix", v)
		}
		password := strings.TrimPrefix(v, "neo4j/")
		if len(password) != 24 {
			t.Errorf("password segment len = %d, want 24", len(password))
		}
		if strings.ContainsAny(password, safeSymbolChars) {
			t.Errorf("password segment %q should be symbol-free", password)
		}
	})
}

// TestDefaultSecretGenerator_ValueFor_MeetsOwnValidation verifies every
// generated spec produces a value its own rules accept.
func TestDefaultSecretGenerator_ValueFor_MeetsOwnValidation(t *testing.T) {
	gen := NewDefaultSecretGenerator()
	policy := DefaultCredentialPolicy()

	for _, spec := range policy.GeneratedSpecs() {
		t.Run(spec.Key, func(t *testing.T) {
			v, err := gen.ValueFor(spec)
			if err != nil {
				t.Fatalf("ValueFor() unexpected error: %v", err)
			}
			if len(v) < spec.MinimumLength() {
				t.Errorf("len = %d, below minimum %d", len(v), spec.MinimumLength())
			}
			if _, weak := WeakPrefix(v); weak {
				t.Errorf("generated value %q has weak prefix", v)
			}
			if spec.JWTShaped() && !IsJWTShaped(v) {
				t.Errorf("generated value %q not JWT-shaped", v)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// MockSecretGenerator Tests
// -----------------------------------------------------------------------------

// TestMockSecretGenerator verifies the test double records and panics.
func TestMockSecretGenerator(t *testing.T) {
	mock := &MockSecretGenerator{
		ValueForFunc: func(spec CredentialSpec) (string, error) {
			return "fixed-value-for-" + spec.Key, nil
		},
	}

	v, err := mock.ValueFor(CredentialSpec{Key: "JWT_SECRET"})
	if err != nil {
		t.Fatalf("ValueFor() unexpected error: %v", err)
	}
	if v != "fixed-value-for-JWT_SECRET" {
		t.Errorf("ValueFor() = %q", v)
	}
	if len(mock.Calls) != 1 || mock.Calls[0] != "ValueFor" {
		t.Errorf("Calls = %v, want [ValueFor]", mock.Calls)
	}

	mock.Reset()
	if len(mock.Calls) != 0 {
		t.Errorf("Calls after Reset = %v, want empty", mock.Calls)
	}
}

// TestMockSecretGenerator_NilFunc_Panics verifies panic on
// unconfigured mock.
func TestMockSecretGenerator_NilFunc_Panics(t *testing.T) {
	mock := &MockSecretGenerator{}

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when RandomHexFunc is nil")
		}
	}()

	_, _ = mock.RandomHex(16)
}
