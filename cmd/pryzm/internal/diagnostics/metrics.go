// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file implements the DiagnosticsMetrics interface, enabling
Prometheus-based monitoring of chat turns, stream consumption, and
secret access.

# Open Core Architecture

This follows the Open Core model:

  - FOSS (NoOpDiagnosticsMetrics): In-memory counters, no export
  - Enterprise (PrometheusDiagnosticsMetrics): Full Prometheus export for Grafana

# Metrics

Chat metrics:
  - pryzm_chat_turns_total (labels: mode, outcome)
  - pryzm_chat_turn_duration_seconds (labels: mode)
  - pryzm_chat_renumbered_total
  - pryzm_chat_registry_size

Stream metrics:
  - pryzm_stream_events_total (labels: event_type)
  - pryzm_stream_malformed_total

Secrets metrics:
  - pryzm_secrets_access_total (labels: secret, backend, outcome)

# Why Monitor a CLI?

Chat turns cross four failure domains: the answer backend, the model
provider, the terminal renderer, and the local secret store. Counters
make "it's been flaky all week" quantifiable, and the secrets access
counter doubles as an audit trail for credential reads.
*/
package diagnostics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// metricsNamespace is the Prometheus namespace for all Pryzm metrics.
	metricsNamespace = "pryzm"

	// metricsSubsystemChat groups chat turn metrics.
	metricsSubsystemChat = "chat"

	// metricsSubsystemStream groups stream consumption metrics.
	metricsSubsystemStream = "stream"

	// metricsSubsystemSecrets groups secret access metrics.
	metricsSubsystemSecrets = "secrets"
)

// Turn modes for the mode label on chat metrics.
const (
	// TurnModeRAG is a turn answered from the local knowledge base.
	TurnModeRAG = "rag"

	// TurnModeWeb is a turn answered with web search enabled.
	TurnModeWeb = "web"

	// TurnModeDirect is a turn answered by the model provider directly.
	TurnModeDirect = "direct"
)

// Turn outcomes for the outcome label on chat metrics.
const (
	// TurnOutcomeOK is a turn that produced an answer.
	TurnOutcomeOK = "ok"

	// TurnOutcomeError is a turn that failed.
	TurnOutcomeError = "error"
)

// -----------------------------------------------------------------------------
// DiagnosticsMetrics Interface
// -----------------------------------------------------------------------------

// DiagnosticsMetrics records operational metrics for chat sessions.
//
// # Description
//
// Abstracts metric recording to enable both FOSS (in-memory) and
// Enterprise (Prometheus export) modes.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type DiagnosticsMetrics interface {
	// RecordTurn records a completed chat turn.
	//
	// # Inputs
	//
	//   - mode: Turn mode (TurnModeRAG, TurnModeWeb, TurnModeDirect)
	//   - outcome: Turn outcome (TurnOutcomeOK, TurnOutcomeError)
	//   - durationMs: Turn duration in milliseconds
	RecordTurn(mode string, outcome string, durationMs int64)

	// RecordStreamEvent records one parsed stream event.
	//
	// # Inputs
	//
	//   - eventType: Event type label ("metadata", "content", "done", "error")
	RecordStreamEvent(eventType string)

	// RecordMalformedFrame records a stream frame that failed to parse.
	RecordMalformedFrame()

	// RecordRenumberedTurn records a turn whose citation labels changed
	// during reconciliation.
	RecordRenumberedTurn()

	// RecordRegistrySize updates the current source registry size.
	//
	// # Inputs
	//
	//   - count: Number of sources currently in the registry
	RecordRegistrySize(count int)

	// RecordSecretAccess records a secret lookup for auditing.
	//
	// # Inputs
	//
	//   - name: Secret name (e.g., "OPENROUTER_API_KEY")
	//   - backend: Backend that served the lookup ("env", "keychain", ...)
	//   - found: Whether the secret was found
	RecordSecretAccess(name string, backend string, found bool)

	// Register registers metrics with the Prometheus registry.
	//
	// # Outputs
	//
	//   - error: Non-nil if registration fails
	Register() error
}

// -----------------------------------------------------------------------------
// NoOpDiagnosticsMetrics Implementation (FOSS Tier)
// -----------------------------------------------------------------------------

// NoOpDiagnosticsMetrics is the FOSS-tier recorder with in-memory counters.
//
// # Description
//
// This implementation satisfies the DiagnosticsMetrics interface without
// requiring Prometheus infrastructure. Counters are kept in memory and
// exposed through Get* accessors for testing and session summaries.
//
// # Enterprise Alternative
//
// PrometheusDiagnosticsMetrics (Enterprise) provides:
//   - Full Prometheus export for Grafana dashboards
//   - Label-based breakdowns (mode, outcome, event_type, backend)
//   - Alerting via Alertmanager
//
// # Thread Safety
//
// NoOpDiagnosticsMetrics is safe for concurrent use.
type NoOpDiagnosticsMetrics struct {
	// turnsTotal counts completed turns.
	turnsTotal atomic.Int64

	// turnErrorsTotal counts failed turns.
	turnErrorsTotal atomic.Int64

	// streamEventsTotal counts parsed stream events.
	streamEventsTotal atomic.Int64

	// malformedTotal counts unparseable stream frames.
	malformedTotal atomic.Int64

	// renumberedTotal counts turns with changed citation labels.
	renumberedTotal atomic.Int64

	// registrySize tracks the current source registry size.
	registrySize atomic.Int64

	// secretAccessTotal counts secret lookups.
	secretAccessTotal atomic.Int64

	// lastTurnDurationMs records the most recent turn duration.
	lastTurnDurationMs atomic.Int64
}

// NewNoOpDiagnosticsMetrics creates a FOSS-tier metrics recorder.
//
// # Examples
//
//	metrics := NewNoOpDiagnosticsMetrics()
//	metrics.RecordTurn(TurnModeRAG, TurnOutcomeOK, 1500)
func NewNoOpDiagnosticsMetrics() *NoOpDiagnosticsMetrics {
	return &NoOpDiagnosticsMetrics{}
}

// RecordTurn records a completed chat turn.
//
// # Limitations
//
//   - The mode label is ignored in no-op mode
func (m *NoOpDiagnosticsMetrics) RecordTurn(mode string, outcome string, durationMs int64) {
	m.turnsTotal.Add(1)
	if outcome == TurnOutcomeError {
		m.turnErrorsTotal.Add(1)
	}
	m.lastTurnDurationMs.Store(durationMs)
}

// RecordStreamEvent records one parsed stream event.
//
// # Limitations
//
//   - The event type label is ignored in no-op mode
func (m *NoOpDiagnosticsMetrics) RecordStreamEvent(eventType string) {
	m.streamEventsTotal.Add(1)
}

// RecordMalformedFrame records a stream frame that failed to parse.
func (m *NoOpDiagnosticsMetrics) RecordMalformedFrame() {
	m.malformedTotal.Add(1)
}

// RecordRenumberedTurn records a turn with changed citation labels.
func (m *NoOpDiagnosticsMetrics) RecordRenumberedTurn() {
	m.renumberedTotal.Add(1)
}

// RecordRegistrySize updates the current source registry size.
func (m *NoOpDiagnosticsMetrics) RecordRegistrySize(count int) {
	m.registrySize.Store(int64(count))
}

// RecordSecretAccess records a secret lookup.
//
// # Limitations
//
//   - Name, backend, and outcome labels are ignored in no-op mode
func (m *NoOpDiagnosticsMetrics) RecordSecretAccess(name string, backend string, found bool) {
	m.secretAccessTotal.Add(1)
}

// Register is a no-op for NoOpDiagnosticsMetrics.
//
// # Outputs
//
//   - error: Always nil
func (m *NoOpDiagnosticsMetrics) Register() error {
	return nil
}

// GetTurnsTotal returns the total turn count for testing.
func (m *NoOpDiagnosticsMetrics) GetTurnsTotal() int64 {
	return m.turnsTotal.Load()
}

// GetTurnErrorsTotal returns the failed turn count for testing.
func (m *NoOpDiagnosticsMetrics) GetTurnErrorsTotal() int64 {
	return m.turnErrorsTotal.Load()
}

// GetStreamEventsTotal returns the total stream event count for testing.
func (m *NoOpDiagnosticsMetrics) GetStreamEventsTotal() int64 {
	return m.streamEventsTotal.Load()
}

// GetMalformedTotal returns the malformed frame count for testing.
func (m *NoOpDiagnosticsMetrics) GetMalformedTotal() int64 {
	return m.malformedTotal.Load()
}

// GetRenumberedTotal returns the renumbered turn count for testing.
func (m *NoOpDiagnosticsMetrics) GetRenumberedTotal() int64 {
	return m.renumberedTotal.Load()
}

// GetRegistrySize returns the current registry size for testing.
func (m *NoOpDiagnosticsMetrics) GetRegistrySize() int64 {
	return m.registrySize.Load()
}

// GetSecretAccessTotal returns the secret lookup count for testing.
func (m *NoOpDiagnosticsMetrics) GetSecretAccessTotal() int64 {
	return m.secretAccessTotal.Load()
}

// GetLastTurnDurationMs returns the most recent turn duration for testing.
func (m *NoOpDiagnosticsMetrics) GetLastTurnDurationMs() int64 {
	return m.lastTurnDurationMs.Load()
}

// -----------------------------------------------------------------------------
// PrometheusDiagnosticsMetrics Implementation (Enterprise Tier)
// -----------------------------------------------------------------------------

// PrometheusDiagnosticsMetrics exports chat metrics to Prometheus.
//
// # Description
//
// This is the Enterprise-tier metrics recorder that exports to Prometheus
// for Grafana dashboards and Alertmanager alerting.
//
// # FOSS Alternative
//
// NoOpDiagnosticsMetrics (FOSS) works without Prometheus infrastructure.
//
// # Thread Safety
//
// PrometheusDiagnosticsMetrics is safe for concurrent use.
type PrometheusDiagnosticsMetrics struct {
	// turnsTotal counts turns by mode and outcome.
	turnsTotal *prometheus.CounterVec

	// turnDuration is a histogram of turn durations.
	turnDuration *prometheus.HistogramVec

	// streamEventsTotal counts stream events by type.
	streamEventsTotal *prometheus.CounterVec

	// malformedTotal counts unparseable stream frames.
	malformedTotal prometheus.Counter

	// renumberedTotal counts turns with changed citation labels.
	renumberedTotal prometheus.Counter

	// registrySize tracks the current source registry size.
	registrySize prometheus.Gauge

	// secretAccessTotal counts secret lookups by secret, backend, outcome.
	secretAccessTotal *prometheus.CounterVec

	// registered tracks if metrics are registered.
	registered bool

	// mu protects registered flag.
	mu sync.Mutex
}

// NewPrometheusDiagnosticsMetrics creates an Enterprise-tier metrics
// recorder.
//
// # Description
//
// Creates a metrics recorder that exports to Prometheus. Call Register()
// after creation to register with the Prometheus default registry.
//
// # Examples
//
//	metrics := NewPrometheusDiagnosticsMetrics()
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
//	metrics.RecordTurn(TurnModeRAG, TurnOutcomeOK, 1500)
//
// # Limitations
//
//   - Register() must be called before scraping sees any values
func NewPrometheusDiagnosticsMetrics() *PrometheusDiagnosticsMetrics {
	return &PrometheusDiagnosticsMetrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChat,
				Name:      "turns_total",
				Help:      "Total number of chat turns by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChat,
				Name:      "turn_duration_seconds",
				Help:      "Duration of chat turns in seconds",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"mode"},
		),

		streamEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStream,
				Name:      "events_total",
				Help:      "Total number of parsed stream events by type",
			},
			[]string{"event_type"},
		),

		malformedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStream,
				Name:      "malformed_total",
				Help:      "Total number of stream frames that failed to parse",
			},
		),

		renumberedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChat,
				Name:      "renumbered_total",
				Help:      "Total number of turns whose citation labels changed during reconciliation",
			},
		),

		registrySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemChat,
				Name:      "registry_size",
				Help:      "Current number of sources in the session registry",
			},
		),

		secretAccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemSecrets,
				Name:      "access_total",
				Help:      "Total number of secret lookups by secret, backend, and outcome",
			},
			[]string{"secret", "backend", "outcome"},
		),
	}
}

// RecordTurn records a completed chat turn.
//
// # Inputs
//
//   - mode: Turn mode (used as label)
//   - outcome: Turn outcome (used as label)
//   - durationMs: Turn duration in milliseconds
//
// # Assumptions
//
//   - Register() has been called
func (m *PrometheusDiagnosticsMetrics) RecordTurn(mode string, outcome string, durationMs int64) {
	m.turnsTotal.WithLabelValues(mode, outcome).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(float64(durationMs) / 1000.0)
}

// RecordStreamEvent records one parsed stream event.
//
// # Limitations
//
//   - Event types come from a closed set; no cardinality risk
func (m *PrometheusDiagnosticsMetrics) RecordStreamEvent(eventType string) {
	m.streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordMalformedFrame records a stream frame that failed to parse.
func (m *PrometheusDiagnosticsMetrics) RecordMalformedFrame() {
	m.malformedTotal.Inc()
}

// RecordRenumberedTurn records a turn with changed citation labels.
func (m *PrometheusDiagnosticsMetrics) RecordRenumberedTurn() {
	m.renumberedTotal.Inc()
}

// RecordRegistrySize updates the current source registry size.
func (m *PrometheusDiagnosticsMetrics) RecordRegistrySize(count int) {
	m.registrySize.Set(float64(count))
}

// RecordSecretAccess records a secret lookup.
//
// # Limitations
//
//   - Secret names come from the known secrets list; no cardinality risk
func (m *PrometheusDiagnosticsMetrics) RecordSecretAccess(name string, backend string, found bool) {
	outcome := "found"
	if !found {
		outcome = "missing"
	}
	m.secretAccessTotal.WithLabelValues(name, backend, outcome).Inc()
}

// Register registers all metrics with Prometheus.
//
// # Description
//
// Registers metric collectors with the Prometheus default registry.
// Should be called once during application startup. Calling twice is
// safe; the second call is a no-op.
//
// # Outputs
//
//   - error: Non-nil if registration fails (e.g., duplicate metrics)
func (m *PrometheusDiagnosticsMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil // Already registered
	}

	collectors := []prometheus.Collector{
		m.turnsTotal,
		m.turnDuration,
		m.streamEventsTotal,
		m.malformedTotal,
		m.renumberedTotal,
		m.registrySize,
		m.secretAccessTotal,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// NewDefaultDiagnosticsMetrics creates the appropriate metrics recorder.
//
// # Description
//
// Factory function that returns NoOpDiagnosticsMetrics for FOSS tier or
// PrometheusDiagnosticsMetrics when Prometheus export is enabled.
//
// # Examples
//
//	// FOSS mode
//	metrics := NewDefaultDiagnosticsMetrics(false)
//
//	// Enterprise mode
//	metrics := NewDefaultDiagnosticsMetrics(true)
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - Prometheus requires a Register() call
func NewDefaultDiagnosticsMetrics(enablePrometheus bool) DiagnosticsMetrics {
	if enablePrometheus {
		return NewPrometheusDiagnosticsMetrics()
	}
	return NewNoOpDiagnosticsMetrics()
}

// Compile-time interface compliance checks.
var _ DiagnosticsMetrics = (*NoOpDiagnosticsMetrics)(nil)
var _ DiagnosticsMetrics = (*PrometheusDiagnosticsMetrics)(nil)
