// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides the stack-local deploy manifest.

A stack directory may carry a deploy.yaml pinning how that stack is meant
to be deployed: its type, hostname, hardware profile and compose project
name. The manifest sits between the global config and the command line in
precedence: flags beat the manifest, the manifest beats ~/.lapctl defaults.

The manifest is optional. A stack without one deploys with the global
defaults, which is the common case for a laptop running a single stack.
*/
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
)

// DeployManifestName is the manifest filename inside the stack directory.
const DeployManifestName = "deploy.yaml"

// ErrNoManifest indicates the stack directory has no deploy manifest.
var ErrNoManifest = errors.New("no deploy manifest")

// composeProjectPattern matches valid compose project names: lowercase
// alphanumerics, dashes and underscores, starting with a letter or digit.
var composeProjectPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// manifestValidate is the validator instance for deploy manifests.
// Initialized in init() with custom validators.
var manifestValidate *validator.Validate

func init() {
	manifestValidate = validator.New()
	_ = manifestValidate.RegisterValidation("composeproject", validateComposeProject)
}

// validateComposeProject validates that a field is a usable compose
// project name. Docker rejects project names with uppercase letters or a
// leading separator, and the failure only surfaces deep into `up`.
func validateComposeProject(fl validator.FieldLevel) bool {
	return composeProjectPattern.MatchString(fl.Field().String())
}

// -----------------------------------------------------------------------------
// DeployManifest
// -----------------------------------------------------------------------------

// DeployManifest pins deployment choices for one stack directory.
//
// # Fields
//
//   - Type: Deployment type. One of local, development, production.
//   - Domain: Public hostname base, e.g. ai.example.com. Required for
//     production deployments, where services are published under it.
//   - Email: ACME and alert contact. Required for production deployments.
//   - Profile: Ollama hardware profile. One of cpu, gpu-nvidia, gpu-amd,
//     none.
//   - Environment: Compose override selection, private or public.
//   - ProjectName: Compose -p value for this stack.
//
// # Validation
//
// Uses go-playground/validator:
//   - Type, Profile, Environment: membership in their allowed sets
//   - Domain: FQDN when present, required for production
//   - Email: RFC 5322 shape when present, required for production
//   - ProjectName: compose project name rules (custom validator)
//
// Every field is optional; an empty field defers to the global config.
type DeployManifest struct {
	Type        string `mapstructure:"type" validate:"omitempty,oneof=local development production"`
	Domain      string `mapstructure:"domain" validate:"required_if=Type production,omitempty,fqdn"`
	Email       string `mapstructure:"email" validate:"required_if=Type production,omitempty,email"`
	Profile     string `mapstructure:"profile" validate:"omitempty,oneof=cpu gpu-nvidia gpu-amd none"`
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=private public"`
	ProjectName string `mapstructure:"project_name" validate:"omitempty,composeproject"`
}

// Validate validates the manifest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (m *DeployManifest) Validate() error {
	return manifestValidate.Struct(m)
}

// Apply overlays the manifest's non-empty fields onto a config.
//
// # Description
//
// Mutates the given config so that every field the manifest pins wins
// over the global default. Callers pass a copy of the global config and
// then let command-line flags override the result.
//
// # Examples
//
//	cfg := config.Global
//	manifest.Apply(&cfg)
//	// cfg.Deploy now reflects deploy.yaml where it was explicit
func (m *DeployManifest) Apply(cfg *config.LapConfig) {
	if m.Type != "" {
		cfg.Deploy.Type = m.Type
	}
	if m.Domain != "" {
		cfg.Deploy.Domain = m.Domain
	}
	if m.Email != "" {
		cfg.Deploy.Email = m.Email
	}
	if m.Profile != "" {
		cfg.Deploy.Profile = m.Profile
	}
	if m.Environment != "" {
		cfg.Deploy.Environment = m.Environment
	}
	if m.ProjectName != "" {
		cfg.Stack.ProjectName = m.ProjectName
	}
}

// LoadDeployManifest reads and validates the manifest in a stack directory.
//
// # Description
//
// Looks for deploy.yaml in the stack directory, parses it and validates
// its fields. A missing manifest is not an error condition for callers
// that treat it as optional; they check for ErrNoManifest.
//
// # Inputs
//
//   - stackDir: The stack directory, e.g. ~/local-ai-packaged
//
// # Outputs
//
//   - *DeployManifest: Parsed and validated manifest
//   - error: ErrNoManifest if absent; otherwise a read, parse or
//     validation failure naming the file
//
// # Examples
//
//	manifest, err := LoadDeployManifest(cfg.Stack.Dir)
//	if errors.Is(err, ErrNoManifest) {
//	    // deploy with global defaults
//	}
func LoadDeployManifest(stackDir string) (*DeployManifest, error) {
	manifestPath := filepath.Join(stackDir, DeployManifestName)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, stackDir)
	} else if err != nil {
		return nil, fmt.Errorf("error checking manifest %s: %w", manifestPath, err)
	}

	v := viper.New()
	v.SetConfigFile(manifestPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading manifest %s: %w", manifestPath, err)
	}

	var manifest DeployManifest
	if err := v.Unmarshal(&manifest); err != nil {
		return nil, fmt.Errorf("error unmarshalling manifest %s: %w", manifestPath, err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
	}

	return &manifest, nil
}
