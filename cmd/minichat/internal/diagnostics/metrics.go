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
Package diagnostics provides metrics and tracing for backend readiness runs.

# Metrics Exported

  - minichat_readiness_steps_total: Counter by step and result
  - minichat_readiness_step_duration_seconds: Histogram by step
  - minichat_readiness_outcomes_total: Counter by state and failed step
  - minichat_backend_decisions_total: Counter by decision
  - minichat_service_start_attempts_total: Counter by result

A startup check is short-lived, so the Prometheus recorder is normally
written to a node_exporter textfile (WriteTextfile) rather than scraped.
*/
package diagnostics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	metricsNamespace = "minichat"

	metricsSubsystemReadiness = "readiness"

	metricsSubsystemBackend = "backend"

	metricsSubsystemService = "service"
)

// Step results.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ReadinessMetrics records what happened during a readiness run.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ReadinessMetrics interface {
	// RecordStep records one step execution.
	RecordStep(step, result string, d time.Duration)

	// RecordOutcome records the orchestrator's terminal state.
	RecordOutcome(state, failedStep string)

	// RecordDecision records the resolver's backend decision.
	RecordDecision(decision string)

	// RecordServiceStart records one service start attempt.
	RecordServiceStart(success bool)
}

// -----------------------------------------------------------------------------
// NoOpReadinessMetrics
// -----------------------------------------------------------------------------

// NoOpReadinessMetrics counts in memory and exports nothing.
type NoOpReadinessMetrics struct {
	steps     atomic.Int64
	failures  atomic.Int64
	outcomes  atomic.Int64
	decisions atomic.Int64
	starts    atomic.Int64
}

// NewNoOpReadinessMetrics creates an in-memory recorder.
func NewNoOpReadinessMetrics() *NoOpReadinessMetrics {
	return &NoOpReadinessMetrics{}
}

func (m *NoOpReadinessMetrics) RecordStep(step, result string, d time.Duration) {
	m.steps.Add(1)
	if result == ResultFailed {
		m.failures.Add(1)
	}
}

func (m *NoOpReadinessMetrics) RecordOutcome(state, failedStep string) {
	m.outcomes.Add(1)
}

func (m *NoOpReadinessMetrics) RecordDecision(decision string) {
	m.decisions.Add(1)
}

func (m *NoOpReadinessMetrics) RecordServiceStart(success bool) {
	m.starts.Add(1)
}

// GetStepCount returns the number of recorded steps.
func (m *NoOpReadinessMetrics) GetStepCount() int64 { return m.steps.Load() }

// GetFailureCount returns the number of failed steps.
func (m *NoOpReadinessMetrics) GetFailureCount() int64 { return m.failures.Load() }

// GetDecisionCount returns the number of recorded decisions.
func (m *NoOpReadinessMetrics) GetDecisionCount() int64 { return m.decisions.Load() }

// GetStartCount returns the number of service start attempts.
func (m *NoOpReadinessMetrics) GetStartCount() int64 { return m.starts.Load() }

// -----------------------------------------------------------------------------
// PrometheusReadinessMetrics
// -----------------------------------------------------------------------------

// PrometheusReadinessMetrics exports readiness metrics through Prometheus.
//
// # Description
//
// Collectors are created unregistered. Call Register with the registry the
// caller owns; the CLI uses a private registry so repeated runs in tests
// never collide with the global default.
//
// # Thread Safety
//
// Safe for concurrent use.
type PrometheusReadinessMetrics struct {
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	outcomesTotal *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	startAttempts *prometheus.CounterVec

	mu         sync.Mutex
	registered bool
}

// NewPrometheusReadinessMetrics creates the collectors.
func NewPrometheusReadinessMetrics() *PrometheusReadinessMetrics {
	return &PrometheusReadinessMetrics{
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemReadiness,
				Name:      "steps_total",
				Help:      "Readiness steps executed, by step and result",
			},
			[]string{"step", "result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemReadiness,
				Name:      "step_duration_seconds",
				Help:      "Duration of readiness steps",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 5, 10, 30, 60},
			},
			[]string{"step"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemReadiness,
				Name:      "outcomes_total",
				Help:      "Readiness run outcomes, by state and failed step",
			},
			[]string{"state", "failed_step"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemBackend,
				Name:      "decisions_total",
				Help:      "Backend selection decisions",
			},
			[]string{"decision"},
		),
		startAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "start_attempts_total",
				Help:      "Database service start attempts, by result",
			},
			[]string{"result"},
		),
	}
}

func (m *PrometheusReadinessMetrics) RecordStep(step, result string, d time.Duration) {
	m.stepsTotal.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *PrometheusReadinessMetrics) RecordOutcome(state, failedStep string) {
	m.outcomesTotal.WithLabelValues(state, failedStep).Inc()
}

func (m *PrometheusReadinessMetrics) RecordDecision(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *PrometheusReadinessMetrics) RecordServiceStart(success bool) {
	result := ResultOK
	if !success {
		result = ResultFailed
	}
	m.startAttempts.WithLabelValues(result).Inc()
}

// Register adds every collector to reg. A second call is a no-op.
func (m *PrometheusReadinessMetrics) Register(reg prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.stepsTotal,
		m.stepDuration,
		m.outcomesTotal,
		m.decisions,
		m.startAttempts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// WriteTextfile writes everything in g to path in the Prometheus text format.
// The write is atomic (temp file + rename).
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// NewDefaultReadinessMetrics returns a Prometheus recorder registered on reg
// when enabled, otherwise the in-memory recorder.
func NewDefaultReadinessMetrics(enabled bool, reg prometheus.Registerer) (ReadinessMetrics, error) {
	if !enabled || reg == nil {
		return NewNoOpReadinessMetrics(), nil
	}
	m := NewPrometheusReadinessMetrics()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	_ ReadinessMetrics = (*NoOpReadinessMetrics)(nil)
	_ ReadinessMetrics = (*PrometheusReadinessMetrics)(nil)
)
