// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file implements the RunTracer interface, enabling trace-based
debugging of validation runs via OTLP-compatible backends.

# Why Tracing a CLI?

A full deployment validation is a multi-minute pipeline: dependency
probing, port scanning, env validation, compose startup, readiness
polling. When a run stalls, a trace shows exactly which phase ate the
time and which service the poller was stuck on.

  - User reports: "Deploy hung, trace ID: abc123..."
  - Maintainer opens Jaeger, sees the readiness span for neo4j at 120s
  - Root cause identified without a single debug rebuild

# Trace ID Format

Both implementations generate W3C-compatible 32-character hex trace IDs
and 16-character hex span IDs for compatibility with Jaeger/Zipkin.
*/

package diagnostics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -----------------------------------------------------------------------------
// RunTracer Interface
// -----------------------------------------------------------------------------

// RunTracer provides OpenTelemetry tracing for validation runs.
//
// # Description
//
// Abstracts span creation so the deploy pipeline works identically with
// tracing disabled (the default) and with a collector configured.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type RunTracer interface {
	// StartSpan creates a new span for a validation phase.
	//
	// # Inputs
	//
	//   - ctx: Parent context (may contain existing trace)
	//   - name: Span name (e.g. "deploy.ports", "deploy.readiness")
	//   - attrs: Attributes to attach to the span
	//
	// # Outputs
	//
	//   - context.Context: Context with span for propagation
	//   - func(error): Call to end span (nil for success, error for failure)
	//
	// # Examples
	//
	//	ctx, finish := tracer.StartSpan(ctx, "deploy.readiness",
	//	    map[string]string{"service": "ollama"})
	//	defer finish(nil)
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// GetTraceID returns the 32-character hex trace ID from the context,
	// or empty string if no span exists.
	GetTraceID(ctx context.Context) string

	// GetSpanID returns the 16-character hex span ID from the context,
	// or empty string if no span exists.
	GetSpanID(ctx context.Context) string

	// GenerateTraceID creates a new random W3C-compatible trace ID.
	GenerateTraceID() string

	// GenerateSpanID creates a new random W3C-compatible span ID.
	GenerateSpanID() string

	// Shutdown flushes pending spans and releases resources. Should be
	// called before application exit.
	Shutdown(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// NoOpRunTracer Implementation
// -----------------------------------------------------------------------------

// NoOpRunTracer generates IDs but doesn't export anything.
//
// # Description
//
// This implementation satisfies the RunTracer interface without requiring
// network connectivity or a collector. It generates valid W3C-format
// trace and span IDs so log lines can still carry correlation IDs.
//
// # Capabilities
//
//   - Generates cryptographically random trace/span IDs
//   - No network dependencies
//   - Works offline
//
// # Thread Safety
//
// NoOpRunTracer is safe for concurrent use.
type NoOpRunTracer struct {
	// serviceName identifies this service in trace metadata.
	serviceName string

	// mu protects concurrent ID generation.
	mu sync.Mutex
}

// NewNoOpRunTracer creates a tracer that doesn't export.
//
// # Description
//
// Creates a tracer that generates valid IDs but doesn't send them
// anywhere. This is what lapctl uses unless tracing is enabled.
//
// # Inputs
//
//   - serviceName: Service identifier for trace metadata
//
// # Examples
//
//	tracer := NewNoOpRunTracer("lapctl")
//	ctx, finish := tracer.StartSpan(ctx, "deploy.run", nil)
//	defer finish(nil)
func NewNoOpRunTracer(serviceName string) *NoOpRunTracer {
	if serviceName == "" {
		serviceName = "lapctl"
	}
	return &NoOpRunTracer{
		serviceName: serviceName,
	}
}

// StartSpan creates a context-only span without exporting. The returned
// context carries trace/span IDs for logging and correlation.
func (t *NoOpRunTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	traceID := t.GenerateTraceID()
	spanID := t.GenerateSpanID()

	ctx = context.WithValue(ctx, noOpTraceIDKey{}, traceID)
	ctx = context.WithValue(ctx, noOpSpanIDKey{}, spanID)

	return ctx, func(err error) {
		// No-op: nothing to export
	}
}

// GetTraceID retrieves the trace ID stored by StartSpan.
func (t *NoOpRunTracer) GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpTraceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetSpanID retrieves the span ID stored by StartSpan.
func (t *NoOpRunTracer) GetSpanID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpSpanIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateTraceID creates a random 32-character hex trace ID.
//
// Falls back to a timestamp-based ID if crypto/rand fails.
func (t *NoOpRunTracer) GenerateTraceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(bytes)
}

// GenerateSpanID creates a random 16-character hex span ID.
//
// Falls back to a timestamp-based ID if crypto/rand fails.
func (t *NoOpRunTracer) GenerateSpanID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Shutdown is a no-op since there are no resources to release.
func (t *NoOpRunTracer) Shutdown(ctx context.Context) error {
	return nil
}

// Context keys for no-op tracer.
type noOpTraceIDKey struct{}
type noOpSpanIDKey struct{}

// -----------------------------------------------------------------------------
// OTelRunTracer Implementation
// -----------------------------------------------------------------------------

// OTelRunTracer provides full OpenTelemetry tracing with export.
//
// # Description
//
// Exports spans to an OTLP collector (Jaeger, Tempo) or to stdout for
// local debugging. Opt-in via config or OTEL_EXPORTER_OTLP_ENDPOINT.
//
// # Thread Safety
//
// OTelRunTracer is safe for concurrent use.
type OTelRunTracer struct {
	// tracer is the underlying OpenTelemetry tracer.
	tracer trace.Tracer

	// provider is the trace provider for shutdown.
	provider *sdktrace.TracerProvider

	// serviceName identifies this service.
	serviceName string
}

// OTelTracerConfig configures the OTelRunTracer.
type OTelTracerConfig struct {
	// ServiceName is the service identifier in traces.
	// Default: "lapctl"
	ServiceName string

	// Exporter selects the span exporter: "otlp" or "stdout".
	// Default: "otlp"
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317"
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	// Default: true (collectors in the local stack don't carry certs)
	Insecure bool
}

// NewOTelRunTracer creates a tracer that exports spans.
//
// # Description
//
// Creates a tracer that exports spans to an OTLP collector over gRPC, or
// pretty-prints them to stdout when Exporter is "stdout". The stdout
// exporter needs no infrastructure and is the quickest way to see where
// a validation run spends its time.
//
// # Inputs
//
//   - ctx: Context for initialization
//   - config: Tracer configuration
//
// # Outputs
//
//   - *OTelRunTracer: Ready-to-use tracer
//   - error: Non-nil if exporter setup fails
//
// # Examples
//
//	tracer, err := NewOTelRunTracer(ctx, OTelTracerConfig{
//	    ServiceName: "lapctl",
//	    Endpoint:    "jaeger:4317",
//	    Insecure:    true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(context.Background())
//
// # Limitations
//
//   - The OTLP exporter requires a reachable collector
func NewOTelRunTracer(ctx context.Context, config OTelTracerConfig) (*OTelRunTracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "lapctl"
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4317"
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}

	default: // "otlp"
		var dialOpts []grpc.DialOption
		if config.Insecure {
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}

		conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}

		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("deployment.environment", getEnvironment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &OTelRunTracer{
		tracer:      provider.Tracer(config.ServiceName),
		provider:    provider,
		serviceName: config.ServiceName,
	}, nil
}

// StartSpan creates an OpenTelemetry span with attributes.
//
// # Description
//
// Creates a span that will be exported to the configured backend.
// Supports span hierarchy when the parent context has an active span,
// so per-service readiness spans nest under the run span.
//
// # Inputs
//
//   - ctx: Parent context (may contain parent span)
//   - name: Span name (e.g. "deploy.orchestrate")
//   - attrs: Attributes to attach (key-value pairs)
//
// # Outputs
//
//   - context.Context: Context with new span
//   - func(error): Call to end span (error for failure, nil for success)
func (t *OTelRunTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	finish := func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	return ctx, finish
}

// GetTraceID returns the W3C trace ID from the active span.
func (t *OTelRunTracer) GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	traceID := span.SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

// GetSpanID returns the W3C span ID from the active span.
func (t *OTelRunTracer) GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	spanID := span.SpanContext().SpanID()
	if !spanID.IsValid() {
		return ""
	}
	return spanID.String()
}

// GenerateTraceID creates a random 32-character hex trace ID.
func (t *OTelRunTracer) GenerateTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(bytes)
}

// GenerateSpanID creates a random 16-character hex span ID.
func (t *OTelRunTracer) GenerateSpanID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Shutdown flushes spans and releases resources.
//
// May block until the batcher drains, so pass a context with a timeout.
func (t *OTelRunTracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helper Functions
// -----------------------------------------------------------------------------

// getEnvironment returns the deployment environment for trace metadata.
// Defaults to "development" if unset.
func getEnvironment() string {
	if env := os.Getenv("LAPCTL_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// NewDefaultRunTracer creates the appropriate tracer based on environment.
//
// # Description
//
// Factory function that returns NoOpRunTracer unless an OTLP endpoint is
// configured via OTEL_EXPORTER_OTLP_ENDPOINT.
//
// # Inputs
//
//   - ctx: Context for initialization
//   - serviceName: Service identifier
//
// # Examples
//
//	tracer, err := NewDefaultRunTracer(ctx, "lapctl")
//	if err != nil {
//	    log.Printf("Using no-op tracer: %v", err)
//	    tracer = NewNoOpRunTracer("lapctl")
//	}
func NewDefaultRunTracer(ctx context.Context, serviceName string) (RunTracer, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return NewNoOpRunTracer(serviceName), nil
	}

	return NewOTelRunTracer(ctx, OTelTracerConfig{
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Insecure:    os.Getenv("OTEL_INSECURE") != "false",
	})
}

// Compile-time interface compliance checks.
var _ RunTracer = (*NoOpRunTracer)(nil)
var _ RunTracer = (*OTelRunTracer)(nil)
