// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Character sets for generated credentials. The symbol set deliberately
// excludes quoting and escaping characters so values survive .env
// files, YAML, and shell interpolation unquoted.
const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	safeSymbolChars   = "!@#$%^&*-_="
)

// defaultJWTLifetime is how long minted Supabase tokens stay valid.
// Local stacks are rebuilt far more often than this expires.
const defaultJWTLifetime = 24 * time.Hour

// -----------------------------------------------------------------------------
// SecretGenerator Interface
// -----------------------------------------------------------------------------

// SecretGenerator mints credential material for env file repair.
//
// # Description
//
// All methods produce cryptographically random output. The generator is
// injected into the fixer so tests can substitute deterministic values.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SecretGenerator interface {
	// RandomString returns a random string of the given length drawn
	// from the alphanumeric charset, plus safe symbols unless
	// noSymbols is set.
	RandomString(length int, noSymbols bool) (string, error)

	// RandomHex returns a random lowercase hex string of the given
	// character length.
	RandomHex(length int) (string, error)

	// MintJWT returns a JWT-shaped token carrying the given role
	// claim. The signature segment is random; the token is for local
	// development and is never cryptographically verified.
	MintJWT(role string, lifetime time.Duration) (string, error)

	// ValueFor generates a replacement value according to the spec's
	// class, hex length, JWT role, and prefix.
	ValueFor(spec CredentialSpec) (string, error)
}

// -----------------------------------------------------------------------------
// DefaultSecretGenerator
// -----------------------------------------------------------------------------

// DefaultSecretGenerator generates credentials from crypto/rand.
//
// # Example
//
//	gen := NewDefaultSecretGenerator()
//	value, err := gen.ValueFor(spec)
//	if err != nil {
//	    return err
//	}
//	envFile.Set(spec.Key, value)
type DefaultSecretGenerator struct{}

// NewDefaultSecretGenerator creates a generator backed by crypto/rand.
func NewDefaultSecretGenerator() *DefaultSecretGenerator {
	return &DefaultSecretGenerator{}
}

// RandomString returns a random string of the given length.
//
// # Description
//
// Each character is drawn independently and without modulo bias via
// crypto/rand. Returns an error only when the system entropy source
// fails.
func (g *DefaultSecretGenerator) RandomString(length int, noSymbols bool) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("random string length must be positive, got %d", length)
	}

	charset := alphanumericChars
	if !noSymbols {
		charset += safeSymbolChars
	}

	out := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading entropy: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

// RandomHex returns a random lowercase hex string of the given length.
func (g *DefaultSecretGenerator) RandomHex(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("hex length must be positive, got %d", length)
	}

	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}

// jwtHeader and jwtClaims fix the field order of the encoded segments.
type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtClaims struct {
	Role string `json:"role"`
	Iss  string `json:"iss"`
	Iat  int64  `json:"iat"`
	Exp  int64  `json:"exp"`
}

// MintJWT returns a JWT-shaped token for the Supabase API keys.
//
// # Description
//
// Produces header.payload.signature with base64url segments and no
// padding. The header is always {"alg":"HS256","typ":"JWT"}; the
// payload carries the role, a local issuer, and issue/expiry epochs.
// The signature segment is 48 random hex characters, enough for
// Supabase's shape checks without pretending to be verifiable.
//
// # Inputs
//
//   - role: Claim value, e.g. "anon" or "service_role".
//   - lifetime: Validity window; zero or negative uses the default.
//
// # Outputs
//
//   - string: The minted token.
//   - error: Non-nil when entropy or JSON encoding fails.
func (g *DefaultSecretGenerator) MintJWT(role string, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		lifetime = defaultJWTLifetime
	}

	headerJSON, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("encoding JWT header: %w", err)
	}

	now := time.Now()
	claimsJSON, err := json.Marshal(jwtClaims{
		Role: role,
		Iss:  "supabase-local",
		Iat:  now.Unix(),
		Exp:  now.Add(lifetime).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding JWT claims: %w", err)
	}

	signature, err := g.RandomHex(48)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "." +
		signature, nil
}

// ValueFor generates a replacement value for one credential spec.
//
// # Description
//
// Dispatches on the spec: JWT roles mint tokens, hex lengths produce
// hex material, everything else draws from the class charset at the
// class generation length. Values for specs requiring a special
// character are redrawn until one is present, so a freshly repaired
// key always passes its own validation.
func (g *DefaultSecretGenerator) ValueFor(spec CredentialSpec) (string, error) {
	if spec.JWTRole != "" {
		return g.MintJWT(spec.JWTRole, 0)
	}
	if spec.HexLength > 0 {
		return g.RandomHex(spec.HexLength)
	}

	for {
		s, err := g.RandomString(spec.GeneratedLength(), spec.NoSymbols)
		if err != nil {
			return "", err
		}
		if spec.RequireSpecial && !strings.ContainsAny(s, safeSymbolChars) {
			continue
		}
		return spec.Prefix + s, nil
	}
}

// -----------------------------------------------------------------------------
// MockSecretGenerator
// -----------------------------------------------------------------------------

// MockSecretGenerator is a test double with deterministic output.
//
// # Thread Safety
//
// Safe for concurrent use; call recording is mutex-guarded.
type MockSecretGenerator struct {
	// RandomStringFunc is called when RandomString is invoked
	RandomStringFunc func(length int, noSymbols bool) (string, error)

	// RandomHexFunc is called when RandomHex is invoked
	RandomHexFunc func(length int) (string, error)

	// MintJWTFunc is called when MintJWT is invoked
	MintJWTFunc func(role string, lifetime time.Duration) (string, error)

	// ValueForFunc is called when ValueFor is invoked
	ValueForFunc func(spec CredentialSpec) (string, error)

	// Calls records method invocations for verification
	Calls []string

	mu sync.Mutex
}

// RandomString delegates to RandomStringFunc and records the call.
func (m *MockSecretGenerator) RandomString(length int, noSymbols bool) (string, error) {
	m.record("RandomString")
	if m.RandomStringFunc == nil {
		panic("MockSecretGenerator.RandomStringFunc not set")
	}
	return m.RandomStringFunc(length, noSymbols)
}

// RandomHex delegates to RandomHexFunc and records the call.
func (m *MockSecretGenerator) RandomHex(length int) (string, error) {
	m.record("RandomHex")
	if m.RandomHexFunc == nil {
		panic("MockSecretGenerator.RandomHexFunc not set")
	}
	return m.RandomHexFunc(length)
}

// MintJWT delegates to MintJWTFunc and records the call.
func (m *MockSecretGenerator) MintJWT(role string, lifetime time.Duration) (string, error) {
	m.record("MintJWT")
	if m.MintJWTFunc == nil {
		panic("MockSecretGenerator.MintJWTFunc not set")
	}
	return m.MintJWTFunc(role, lifetime)
}

// ValueFor delegates to ValueForFunc and records the call.
func (m *MockSecretGenerator) ValueFor(spec CredentialSpec) (string, error) {
	m.record("ValueFor")
	if m.ValueForFunc == nil {
		panic("MockSecretGenerator.ValueForFunc not set")
	}
	return m.ValueForFunc(spec)
}

// Reset clears recorded calls.
func (m *MockSecretGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockSecretGenerator) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
}

// Compile-time interface checks
var (
	_ SecretGenerator = (*DefaultSecretGenerator)(nil)
	_ SecretGenerator = (*MockSecretGenerator)(nil)
)
