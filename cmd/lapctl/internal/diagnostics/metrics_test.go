// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagnostics

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"
)

func TestInMemoryValidationMetrics_Totals(t *testing.T) {
	m := NewInMemoryValidationMetrics()

	m.RecordCheck("ports", "WARN", 100*time.Millisecond)
	m.RecordCheck("env", "PASS", 50*time.Millisecond)
	m.RecordError("transient")
	m.RecordPortConflict(5432, "PostgreSQL")
	m.RecordPortConflict(11434, "Ollama")
	m.RecordEnvFixes(3)
	m.RecordRun("pass", 90*time.Second)

	if got := m.GetChecksTotal(); got != 2 {
		t.Errorf("GetChecksTotal() = %d, want 2", got)
	}
	if got := m.GetErrorsTotal(); got != 1 {
		t.Errorf("GetErrorsTotal() = %d, want 1", got)
	}
	if got := m.GetConflictsTotal(); got != 2 {
		t.Errorf("GetConflictsTotal() = %d, want 2", got)
	}
	if got := m.GetEnvFixesTotal(); got != 3 {
		t.Errorf("GetEnvFixesTotal() = %d, want 3", got)
	}
	if got := m.GetRunsTotal(); got != 1 {
		t.Errorf("GetRunsTotal() = %d, want 1", got)
	}
	if got := m.GetLastRunDuration(); got != 90*time.Second {
		t.Errorf("GetLastRunDuration() = %v, want 90s", got)
	}
}

func TestInMemoryValidationMetrics_Register(t *testing.T) {
	m := NewInMemoryValidationMetrics()
	if err := m.Register(); err != nil {
		t.Errorf("Register() = %v, want nil", err)
	}
}

func TestInMemoryValidationMetrics_Concurrent(t *testing.T) {
	m := NewInMemoryValidationMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCheck("readiness", "PASS", time.Millisecond)
				m.RecordError("transient")
			}
		}()
	}
	wg.Wait()

	if got := m.GetChecksTotal(); got != 1000 {
		t.Errorf("GetChecksTotal() = %d, want 1000", got)
	}
	if got := m.GetErrorsTotal(); got != 1000 {
		t.Errorf("GetErrorsTotal() = %d, want 1000", got)
	}
}

func TestNewDefaultValidationMetrics(t *testing.T) {
	if _, ok := NewDefaultValidationMetrics(false).(*InMemoryValidationMetrics); !ok {
		t.Error("NewDefaultValidationMetrics(false) should return in-memory recorder")
	}
	if _, ok := NewDefaultValidationMetrics(true).(*PrometheusValidationMetrics); !ok {
		t.Error("NewDefaultValidationMetrics(true) should return Prometheus recorder")
	}
}

// Recording on unregistered collectors must not panic.
func TestPrometheusValidationMetrics_RecordWithoutRegister(t *testing.T) {
	m := NewPrometheusValidationMetrics()

	m.RecordCheck("deps", "PASS", 10*time.Millisecond)
	m.RecordRun("warn", time.Minute)
	m.RecordError("configuration")
	m.RecordServiceReadiness("ollama", "ready", 3)
	m.RecordServiceReadiness("neo4j", "timeout", 24)
	m.RecordServiceReadiness("kong", "skipped", 0)
	m.RecordPortConflict(80, "edge router")
	m.RecordEnvFixes(2)
}

func TestNoOpRunTracer_IDs(t *testing.T) {
	tracer := NewNoOpRunTracer("")

	traceID := tracer.GenerateTraceID()
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(traceID) {
		t.Errorf("GenerateTraceID() = %q, want 32 hex chars", traceID)
	}

	spanID := tracer.GenerateSpanID()
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(spanID) {
		t.Errorf("GenerateSpanID() = %q, want 16 hex chars", spanID)
	}

	if tracer.GenerateTraceID() == tracer.GenerateTraceID() {
		t.Error("consecutive trace IDs should differ")
	}
}

func TestNoOpRunTracer_StartSpan(t *testing.T) {
	tracer := NewNoOpRunTracer("lapctl")

	ctx, finish := tracer.StartSpan(context.Background(), "deploy.ports", map[string]string{"ports": "11"})
	defer finish(nil)

	if got := tracer.GetTraceID(ctx); len(got) != 32 {
		t.Errorf("GetTraceID() = %q, want 32 hex chars", got)
	}
	if got := tracer.GetSpanID(ctx); len(got) != 16 {
		t.Errorf("GetSpanID() = %q, want 16 hex chars", got)
	}
}

func TestNoOpRunTracer_EmptyContext(t *testing.T) {
	tracer := NewNoOpRunTracer("lapctl")

	if got := tracer.GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() on bare context = %q, want empty", got)
	}
	if got := tracer.GetSpanID(context.Background()); got != "" {
		t.Errorf("GetSpanID() on bare context = %q, want empty", got)
	}
}

func TestNoOpRunTracer_Shutdown(t *testing.T) {
	tracer := NewNoOpRunTracer("lapctl")
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
}

func TestNewDefaultRunTracer_NoEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tracer, err := NewDefaultRunTracer(context.Background(), "lapctl")
	if err != nil {
		t.Fatalf("NewDefaultRunTracer() failed: %v", err)
	}
	if _, ok := tracer.(*NoOpRunTracer); !ok {
		t.Error("NewDefaultRunTracer without endpoint should return no-op tracer")
	}
}
