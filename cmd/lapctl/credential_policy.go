// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------
// Secret Classes
// -----------------------------------------------------------------------------

// SecretClass groups credentials that share generation and validation
// rules.
type SecretClass string

const (
	ClassPassword      SecretClass = "password"
	ClassJWTSecret     SecretClass = "jwt_secret"
	ClassEncryptionKey SecretClass = "encryption_key"
	ClassAPIKey        SecretClass = "api_key"
	ClassToken         SecretClass = "token"
	ClassSecret        SecretClass = "secret"
)

// generatedLengths is the length of newly generated material per class.
var generatedLengths = map[SecretClass]int{
	ClassJWTSecret:     48,
	ClassEncryptionKey: 32,
	ClassPassword:      24,
	ClassAPIKey:        32,
	ClassToken:         24,
	ClassSecret:        32,
}

// classMinLengths is the minimum acceptable length of an existing value
// per class. Below this the validator flags the value as weak.
var classMinLengths = map[SecretClass]int{
	ClassPassword:      16,
	ClassEncryptionKey: 24,
	ClassJWTSecret:     32,
	ClassAPIKey:        32,
	ClassToken:         24,
	ClassSecret:        32,
}

// -----------------------------------------------------------------------------
// Credential Specs
// -----------------------------------------------------------------------------

// CredentialSpec describes one key of the stack's env file: whether it
// must exist, how replacements are generated, and how existing values
// are judged.
//
// # Description
//
// The spec is purely declarative. The validator and the fixer both walk
// the same table so a key can never be repaired to a value the
// validator would reject.
type CredentialSpec struct {
	// Key is the env file key, verbatim.
	Key string

	// Class selects generation and validation rules. Empty for plain
	// infrastructure keys that carry no secret material.
	Class SecretClass

	// Required marks keys the stack cannot start without. Absent or
	// empty-valued required keys fail validation.
	Required bool

	// Generated marks keys the fixer may mint a fresh value for.
	// Non-generated keys are never rewritten.
	Generated bool

	// MinLength overrides the class minimum for this key. Zero means
	// use the class minimum.
	MinLength int

	// HexLength, when non-zero, generates the value as that many
	// lowercase hex characters instead of the class charset.
	HexLength int

	// JWTRole, when non-empty, mints the value as a JWT-shaped token
	// carrying this role claim, and validation expects the three-dot
	// base64url shape.
	JWTRole string

	// RequireSpecial guarantees freshly generated replacements carry
	// at least one special character. Existing values are not judged
	// on it.
	RequireSpecial bool

	// Prefix is prepended to generated values. The Neo4j image expects
	// its auth as "user/password" in a single variable.
	Prefix string

	// NoSymbols restricts generation to the alphanumeric charset for
	// values embedded in composed formats.
	NoSymbols bool

	// Default seeds required infrastructure keys during repair. Only
	// consulted for keys that are Required and not Generated.
	Default string
}

// MinimumLength returns the validation minimum for this key: the
// per-key override when set, otherwise the class minimum.
func (s CredentialSpec) MinimumLength() int {
	if s.MinLength > 0 {
		return s.MinLength
	}
	return classMinLengths[s.Class]
}

// GeneratedLength returns how long a freshly minted value is.
func (s CredentialSpec) GeneratedLength() int {
	if s.HexLength > 0 {
		return s.HexLength
	}
	if n, ok := generatedLengths[s.Class]; ok {
		return n
	}
	return generatedLengths[ClassSecret]
}

// JWTShaped returns true when the value is expected to look like a JWT.
func (s CredentialSpec) JWTShaped() bool {
	return s.JWTRole != ""
}

// -----------------------------------------------------------------------------
// Policy
// -----------------------------------------------------------------------------

// CredentialPolicy is the ordered table of credential specs for the
// stack.
//
// # Thread Safety
//
// The policy is immutable after construction and safe for concurrent
// reads.
type CredentialPolicy struct {
	specs []CredentialSpec
	byKey map[string]int
}

// NewCredentialPolicy builds a policy from explicit specs. Later specs
// for the same key replace earlier ones.
func NewCredentialPolicy(specs []CredentialSpec) *CredentialPolicy {
	p := &CredentialPolicy{byKey: make(map[string]int, len(specs))}
	for _, s := range specs {
		if i, ok := p.byKey[s.Key]; ok {
			p.specs[i] = s
			continue
		}
		p.byKey[s.Key] = len(p.specs)
		p.specs = append(p.specs, s)
	}
	return p
}

// DefaultCredentialPolicy returns the stack's credential table.
//
// # Description
//
// Covers the datastore credentials, the Supabase JWT material, and the
// service-level encryption keys of the compose stack, in the order they
// appear in a generated env file.
func DefaultCredentialPolicy() *CredentialPolicy {
	return NewCredentialPolicy([]CredentialSpec{
		// Infrastructure keys with no secret material.
		{Key: "POSTGRES_HOST", Required: true, Default: "db"},
		{Key: "POSTGRES_PORT", Required: true, Default: "5432"},
		{Key: "POSTGRES_DB", Required: true, Default: "postgres"},
		{Key: "DOCKER_SOCKET_LOCATION", Required: true, Default: "/var/run/docker.sock"},

		// Datastore credentials.
		{Key: "POSTGRES_PASSWORD", Class: ClassPassword, Generated: true, MinLength: 16, RequireSpecial: true},
		{Key: "NEO4J_AUTH", Class: ClassPassword, Required: true, Generated: true, Prefix: "neo4j/", NoSymbols: true},
		{Key: "MINIO_ROOT_PASSWORD", Class: ClassPassword, Generated: true, MinLength: 16, RequireSpecial: true},
		{Key: "CLICKHOUSE_PASSWORD", Class: ClassPassword, Generated: true, MinLength: 16, RequireSpecial: true},

		// Supabase auth material.
		{Key: "JWT_SECRET", Class: ClassJWTSecret, Generated: true, MinLength: 32},
		{Key: "ANON_KEY", Class: ClassJWTSecret, Generated: true, MinLength: 100, JWTRole: "anon"},
		{Key: "SERVICE_ROLE_KEY", Class: ClassJWTSecret, Generated: true, MinLength: 100, JWTRole: "service_role"},
		{Key: "SECRET_KEY_BASE", Class: ClassSecret, Generated: true, HexLength: 128},
		{Key: "VAULT_ENC_KEY", Class: ClassEncryptionKey, Generated: true, HexLength: 64},
		{Key: "POOLER_TENANT_ID", Class: ClassToken, Generated: true, HexLength: 24},
		{Key: "DASHBOARD_USERNAME", Default: "supabase"},
		{Key: "DASHBOARD_PASSWORD", Class: ClassPassword, Generated: true},

		// Service-level secrets.
		{Key: "N8N_ENCRYPTION_KEY", Class: ClassEncryptionKey, Generated: true, MinLength: 24, HexLength: 48},
		{Key: "N8N_USER_MANAGEMENT_JWT_SECRET", Class: ClassJWTSecret, Generated: true, HexLength: 64},
		{Key: "ENCRYPTION_KEY", Class: ClassEncryptionKey, Generated: true, HexLength: 64},
		{Key: "FLOWISE_USERNAME", Default: "admin"},
		{Key: "FLOWISE_PASSWORD", Class: ClassPassword, Generated: true},

		// External credentials the user must supply. Validated when
		// present, never minted.
		{Key: "CLOUDFLARE_API_TOKEN", Class: ClassToken},
	})
}

// Spec returns the spec for a key.
func (p *CredentialPolicy) Spec(key string) (CredentialSpec, bool) {
	i, ok := p.byKey[key]
	if !ok {
		return CredentialSpec{}, false
	}
	return p.specs[i], true
}

// Specs returns all specs in table order.
func (p *CredentialPolicy) Specs() []CredentialSpec {
	out := make([]CredentialSpec, len(p.specs))
	copy(out, p.specs)
	return out
}

// RequiredKeys returns the keys that must be present, in table order.
func (p *CredentialPolicy) RequiredKeys() []string {
	var keys []string
	for _, s := range p.specs {
		if s.Required {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// GeneratedSpecs returns the specs the fixer may regenerate, in table
// order.
func (p *CredentialPolicy) GeneratedSpecs() []CredentialSpec {
	var specs []CredentialSpec
	for _, s := range p.specs {
		if s.Generated {
			specs = append(specs, s)
		}
	}
	return specs
}

// -----------------------------------------------------------------------------
// Value Quality Checks
// -----------------------------------------------------------------------------

// weakPrefixes are literals no real credential starts with.
var weakPrefixes = []string{"password", "secret", "admin", "changeme"}

// placeholderPrefixes mark values copied from a template that were
// never replaced.
var placeholderPrefixes = []string{
	"change_me", "changeme", "your_password", "your_secret",
	"example", "test", "demo", "admin", "password123",
}

// repeatedRunPattern matches four or more repeats of one character.
var repeatedRunPattern = regexp.MustCompile(`(.)\1{3,}`)

// WeakPrefix returns the matched literal when the value starts with a
// known-bad prefix.
func WeakPrefix(value string) (string, bool) {
	lower := strings.ToLower(value)
	for _, p := range weakPrefixes {
		if strings.HasPrefix(lower, p) {
			return p, true
		}
	}
	return "", false
}

// PlaceholderPrefix returns the matched literal when the value looks
// like an unreplaced template placeholder.
func PlaceholderPrefix(value string) (string, bool) {
	lower := strings.ToLower(value)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(lower, p) {
			return p, true
		}
	}
	return "", false
}

// HasRepeatedRun returns true when the value contains a run of four or
// more identical characters.
func HasRepeatedRun(value string) bool {
	return repeatedRunPattern.MatchString(value)
}

// IsJWTShaped reports whether a value has the three-dot-separated
// base64url shape of a JWT. The signature is not verified; only the
// shape matters for catching truncated or hand-edited tokens.
func IsJWTShaped(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return false
		}
	}
	return true
}
