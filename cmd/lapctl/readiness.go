// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides the ReadinessPoller that waits for stack endpoints.

Each endpoint gets its own poll loop: HTTP GET every interval until the
endpoint answers or its budget runs out. By default any HTTP response
counts as ready, including 401 and 404; a freshly started Kong answers
401 on the Supabase routes long before the upstream is configured, and
that still proves the listener is up. Endpoints that need more can opt
into a require-2xx policy.

A poll timeout is a WARN, never a FAIL. Slow services are the norm on
first start while images unpack, and the operator gets a logs command to
watch instead of a dead run.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/util"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/logging"
)

// -----------------------------------------------------------------------------
// Endpoints
// -----------------------------------------------------------------------------

// ReadyPolicy decides which HTTP responses mark an endpoint ready.
type ReadyPolicy int

const (
	// ReadyOnAnyResponse accepts any HTTP status. Transport errors
	// keep polling.
	ReadyOnAnyResponse ReadyPolicy = iota

	// ReadyOnSuccess requires a 2xx status.
	ReadyOnSuccess
)

// Endpoint is one service health target.
type Endpoint struct {
	// Service is the stack service name used in results and the
	// troubleshooting hint.
	Service string

	// URL is polled with HTTP GET.
	URL string

	// Policy decides which responses count as ready.
	Policy ReadyPolicy

	// Budget is the per-endpoint maximum wait. Zero uses the default.
	Budget time.Duration
}

// DefaultEndpoints returns the stack's health targets. Supabase and
// Neo4j get the longest budgets; both routinely need over a minute on
// first start.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Service: "supabase-auth", URL: "http://localhost:8000/auth/v1/health", Budget: 120 * time.Second},
		{Service: "supabase-rest", URL: "http://localhost:8000/rest/v1/", Budget: 120 * time.Second},
		{Service: "neo4j", URL: "http://localhost:7474/", Budget: 120 * time.Second},
		{Service: "n8n", URL: "http://localhost:5678/healthz", Budget: 90 * time.Second},
		{Service: "open-webui", URL: "http://localhost:3000/", Budget: 90 * time.Second},
		{Service: "ollama", URL: "http://localhost:11434/", Budget: 60 * time.Second},
	}
}

// -----------------------------------------------------------------------------
// ReadinessPoller Interface
// -----------------------------------------------------------------------------

// ReadinessPoller waits for the stack's endpoints to answer.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ReadinessPoller interface {
	// Poll runs every endpoint's poll loop.
	//
	// # Description
	//
	// Polls each endpoint until it answers or its budget expires.
	// Endpoint order is preserved in both outputs regardless of the
	// polling mode. Context expiry abandons in-flight loops; their
	// endpoints are recorded as WARN, not as errors.
	//
	// # Outputs
	//
	//   - []ServiceHealth: Per-endpoint poll outcome, in input order.
	//   - []CheckResult: One result per endpoint, in input order.
	Poll(ctx context.Context) ([]ServiceHealth, []CheckResult)
}

// -----------------------------------------------------------------------------
// DefaultReadinessPoller
// -----------------------------------------------------------------------------

const (
	// defaultPollInterval matches the original scripts' probe cadence.
	defaultPollInterval = 5 * time.Second

	// defaultEndpointBudget applies when an endpoint sets none.
	defaultEndpointBudget = 60 * time.Second

	// probeBurst caps how many probes may fire back to back when many
	// concurrent loops start at once.
	probeBurst = 4
)

// defaultProbeEvery paces aggregate probes across all loops.
var defaultProbeEvery = 250 * time.Millisecond

// ReadinessConfig configures polling.
type ReadinessConfig struct {
	// Endpoints are the health targets. Nil uses DefaultEndpoints.
	Endpoints []Endpoint

	// Interval is the per-endpoint probe cadence. Zero uses the
	// default.
	Interval time.Duration

	// Concurrent polls every endpoint at once instead of one after
	// another. Total wait becomes the slowest endpoint instead of the
	// sum.
	Concurrent bool

	// ProbeEvery paces aggregate probes across all loops. Zero uses
	// the default.
	ProbeEvery time.Duration
}

// DefaultReadinessPoller implements ReadinessPoller over HTTP.
type DefaultReadinessPoller struct {
	config  ReadinessConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewReadinessPoller creates a poller. A nil logger uses the package
// default.
func NewReadinessPoller(config ReadinessConfig, logger *logging.Logger) *DefaultReadinessPoller {
	if config.Endpoints == nil {
		config.Endpoints = DefaultEndpoints()
	}
	config.Interval = util.EnforceDefaultTimeout(config.Interval, defaultPollInterval)
	config.ProbeEvery = util.EnforceDefaultTimeout(config.ProbeEvery, defaultProbeEvery)
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultReadinessPoller{
		config: config,
		// Per-request ceiling so one hung accept cannot eat the whole
		// per-endpoint budget.
		client:  &http.Client{Timeout: util.DefaultProbeTimeout},
		limiter: rate.NewLimiter(rate.Every(config.ProbeEvery), probeBurst),
		logger:  logger,
	}
}

// Poll runs every endpoint's poll loop.
func (p *DefaultReadinessPoller) Poll(ctx context.Context) ([]ServiceHealth, []CheckResult) {
	health := make([]ServiceHealth, len(p.config.Endpoints))

	if p.config.Concurrent {
		g, gctx := errgroup.WithContext(ctx)
		for i, ep := range p.config.Endpoints {
			i, ep := i, ep
			g.Go(func() error {
				health[i] = p.pollEndpoint(gctx, ep)
				return nil
			})
		}
		// Loops record their own outcomes and never return errors.
		_ = g.Wait()
	} else {
		for i, ep := range p.config.Endpoints {
			health[i] = p.pollEndpoint(ctx, ep)
		}
	}

	results := make([]CheckResult, len(health))
	for i := range health {
		results[i] = p.resultFor(&health[i])
	}
	return health, results
}

// pollEndpoint probes one endpoint until it answers, its budget runs
// out, or the context ends.
func (p *DefaultReadinessPoller) pollEndpoint(ctx context.Context, ep Endpoint) ServiceHealth {
	budget := util.EnforceDefaultTimeout(ep.Budget, defaultEndpointBudget)

	start := time.Now()
	h := ServiceHealth{Service: ep.Service, URL: ep.URL}

	for {
		if err := ctx.Err(); err != nil {
			h.LastError = waitAbandonedReason(err)
			break
		}
		if err := p.limiter.Wait(ctx); err != nil {
			h.LastError = waitAbandonedReason(err)
			break
		}

		h.Attempts++
		status, err := p.probe(ctx, ep.URL)
		if err == nil {
			h.LastStatus = status
			if responseReady(ep.Policy, status) {
				h.Ready = true
				h.LastError = ""
				break
			}
			h.LastError = fmt.Sprintf("HTTP %d does not satisfy the ready policy", status)
		} else {
			h.LastError = err.Error()
			if ctx.Err() != nil {
				h.LastError = waitAbandonedReason(ctx.Err())
				break
			}
		}

		if time.Since(start) >= budget {
			break
		}
		if err := sleepContext(ctx, p.config.Interval); err != nil {
			h.LastError = waitAbandonedReason(err)
			break
		}
	}

	h.DurationMs = time.Since(start).Milliseconds()
	p.logger.Debug("endpoint poll finished",
		"service", ep.Service,
		"ready", h.Ready,
		"attempts", h.Attempts,
		"last_status", h.LastStatus)
	return h
}

// probe sends one GET and returns the status code.
func (p *DefaultReadinessPoller) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// responseReady applies an endpoint's ready policy to a status code.
func responseReady(policy ReadyPolicy, status int) bool {
	if policy == ReadyOnSuccess {
		return status >= 200 && status < 300
	}
	return true
}

// waitAbandonedReason words a context error for the health record.
func waitAbandonedReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "run deadline reached while waiting"
	}
	return fmt.Sprintf("polling abandoned: %v", err)
}

// resultFor turns a health record into a check result.
func (p *DefaultReadinessPoller) resultFor(h *ServiceHealth) CheckResult {
	if h.Ready {
		plural := "s"
		if h.Attempts == 1 {
			plural = ""
		}
		return CheckResult{
			Component:  ComponentReadiness,
			Name:       h.Service,
			Status:     StatusPass,
			Detail:     fmt.Sprintf("%s responding (HTTP %d) after %d attempt%s", h.Service, h.LastStatus, h.Attempts, plural),
			DurationMs: h.DurationMs,
		}
	}

	detail := fmt.Sprintf("%s not ready after %d attempts", h.Service, h.Attempts)
	if h.LastError != "" {
		detail += ": " + h.LastError
	}
	return CheckResult{
		Component:   ComponentReadiness,
		Name:        h.Service,
		Status:      StatusWarn,
		Detail:      detail,
		Remediation: fmt.Sprintf("Watch the service come up with 'docker compose -p %s logs -f %s'", DefaultProjectName, h.Service),
		DurationMs:  h.DurationMs,
	}
}

// -----------------------------------------------------------------------------
// MockReadinessPoller
// -----------------------------------------------------------------------------

// MockReadinessPoller is a test double for ReadinessPoller.
type MockReadinessPoller struct {
	// PollFunc is called when Poll is invoked
	PollFunc func(ctx context.Context) ([]ServiceHealth, []CheckResult)

	// Calls counts Poll invocations
	Calls int

	mu sync.Mutex
}

// Poll delegates to PollFunc and records the call.
func (m *MockReadinessPoller) Poll(ctx context.Context) ([]ServiceHealth, []CheckResult) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.PollFunc == nil {
		panic("MockReadinessPoller.PollFunc not set")
	}
	return m.PollFunc(ctx)
}

// Compile-time interface checks
var (
	_ ReadinessPoller = (*DefaultReadinessPoller)(nil)
	_ ReadinessPoller = (*MockReadinessPoller)(nil)
)
