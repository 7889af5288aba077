// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

type LapConfig struct {
	// Stack: where the compose project lives and how to address it
	Stack StackConfig `yaml:"stack"`

	// Deploy: defaults for the deploy command (overridable by flags)
	Deploy DeployConfig `yaml:"deploy"`

	// Readiness: HTTP polling behavior after startup
	Readiness ReadinessConfig `yaml:"readiness"`

	// Ports: conflict scanning behavior
	Ports PortsConfig `yaml:"ports"`

	// Reports: where run reports are kept and optionally archived
	Reports ReportsConfig `yaml:"reports"`

	// Telemetry: opt-in run metrics and tracing
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging: structured log destination and verbosity
	Logging LogConfig `yaml:"logging"`
}

type StackConfig struct {
	Dir          string `yaml:"dir"`           // e.g. ~/local-ai-packaged
	ProjectName  string `yaml:"project_name"`  // compose -p value, e.g. localai
	EnvFile      string `yaml:"env_file"`      // relative to dir, e.g. .env
	DockerSocket string `yaml:"docker_socket"` // e.g. /var/run/docker.sock
}

type DeployConfig struct {
	// Type can be "local", "development" or "production".
	Type        string `yaml:"type"`
	Domain      string `yaml:"domain,omitempty"` // e.g. example.com
	Email       string `yaml:"email,omitempty"`  // ACME / alert contact
	Profile     string `yaml:"profile"`          // cpu, gpu-nvidia, gpu-amd, none
	Environment string `yaml:"environment"`      // private or public overrides
}

type ReadinessConfig struct {
	Concurrent      bool `yaml:"concurrent"`       // poll endpoints in parallel
	IntervalSeconds int  `yaml:"interval_seconds"` // e.g. 5
	BudgetSeconds   int  `yaml:"budget_seconds"`   // per-endpoint ceiling, e.g. 120
	MaxProbesPerSec int  `yaml:"max_probes_per_sec,omitempty"`
}

type PortsConfig struct {
	// Policy is "warn" (continue), "prompt" (ask when interactive) or "strict".
	Policy string `yaml:"policy"`
	Extra  []int  `yaml:"extra,omitempty"` // additional ports to scan
}

type ReportsConfig struct {
	Dir       string    `yaml:"dir"`       // e.g. ~/.lapctl/reports
	Retention int       `yaml:"retention"` // reports kept on disk, e.g. 30
	GCS       GCSConfig `yaml:"gcs"`
}

type GCSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ProjectID  string `yaml:"project_id,omitempty"`
	Bucket     string `yaml:"bucket,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"` // service account key path
	PathPrefix string `yaml:"path_prefix,omitempty"`
}

type TelemetryConfig struct {
	Metrics      bool   `yaml:"metrics"`
	Tracing      bool   `yaml:"tracing"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"` // e.g. localhost:4317
	TraceStdout  bool   `yaml:"trace_stdout,omitempty"`  // debug exporter
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // e.g. ~/.lapctl/logs
	JSON  bool   `yaml:"json"`
}

// defaultDockerSocket picks the conventional engine socket for the host OS.
func defaultDockerSocket() string {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err == nil {
			candidate := filepath.Join(home, ".docker", "run", "docker.sock")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return "/var/run/docker.sock"
}

func DefaultConfig() LapConfig {
	home, err := os.UserHomeDir()
	stateDir := ".lapctl"
	if err == nil {
		stateDir = filepath.Join(home, ".lapctl")
	}
	stackDir := "."
	if err == nil {
		candidate := filepath.Join(home, "local-ai-packaged")
		if _, statErr := os.Stat(candidate); statErr == nil {
			stackDir = candidate
		}
	}
	return LapConfig{
		Stack: StackConfig{
			Dir:          stackDir,
			ProjectName:  "localai",
			EnvFile:      ".env",
			DockerSocket: defaultDockerSocket(),
		},
		Deploy: DeployConfig{
			Type:        "local",
			Profile:     "cpu",
			Environment: "private",
		},
		Readiness: ReadinessConfig{
			Concurrent:      false,
			IntervalSeconds: 5,
			BudgetSeconds:   120,
		},
		Ports: PortsConfig{
			Policy: "prompt",
		},
		Reports: ReportsConfig{
			Dir:       filepath.Join(stateDir, "reports"),
			Retention: 30,
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
			Tracing: false,
		},
		Logging: LogConfig{
			Level: "info",
			Dir:   filepath.Join(stateDir, "logs"),
			JSON:  false,
		},
	}
}
