// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback maps a readiness outcome and the user's policy to the
// backend that will actually be used.
//
// # Decision Table
//
//	READY                                   -> USE_POSTGRESQL
//	FAILED, eligible, pre-authorized        -> USE_MEMORY (warning, no prompt)
//	FAILED, eligible, interactive, "yes"    -> USE_MEMORY
//	FAILED, eligible, "no" / error / no TTY -> ABORT
//	FAILED, invalid name or URL, cancelled  -> ABORT
//
// Pre-authorized means --fallback-to-memory or the auto backend.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/diagnostics"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/readiness"
	"github.com/AleutianAI/minichat/pkg/ux"
)

// FallbackPrompt is the question asked before switching to memory mode.
const FallbackPrompt = "PostgreSQL database is not available. Would you like to use in-memory mode instead?\n" +
	"Note: In-memory mode has limited functionality and no data persistence.\n" +
	"Continue with in-memory mode?"

// Alternatives are the flags suggested when startup aborts.
var Alternatives = []string{
	"minichat --db-backend memory",
	"minichat --fallback-to-memory",
}

// =============================================================================
// Decision
// =============================================================================

// Decision is the backend selection.
type Decision int

const (
	DecisionUsePostgreSQL Decision = iota
	DecisionUseMemory
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionUsePostgreSQL:
		return "USE_POSTGRESQL"
	case DecisionUseMemory:
		return "USE_MEMORY"
	case DecisionAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Finalize applies a decision to an orchestrator outcome.
// FAILED becomes DEGRADED_MEMORY or FATAL; READY is unchanged.
func Finalize(o readiness.Outcome, d Decision) readiness.Outcome {
	if o.State != readiness.StateFailed {
		return o
	}
	switch d {
	case DecisionUseMemory:
		o.State = readiness.StateDegradedMemory
	case DecisionAbort:
		o.State = readiness.StateFatal
	}
	return o
}

// =============================================================================
// FatalError
// =============================================================================

// FatalError is returned with DecisionAbort.
type FatalError struct {
	// Step is the readiness step that failed.
	Step readiness.Step

	// Message is the classified failure summary.
	Message string

	// Detail is sanitized.
	Detail string

	Remediation []string

	// Declined is true when the user said no to memory mode.
	Declined bool

	// Err is the readiness error, or the prompt error when prompting failed.
	Err error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("PostgreSQL initialization failed at %s: %s", e.Step, e.Message)
	if e.Declined {
		msg += " (in-memory fallback declined)"
	}
	return msg
}

func (e *FatalError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Declined {
		errs = append(errs, dberr.ErrAbortedByUser)
	}
	return errs
}

// Report renders the error for the terminal.
func (e *FatalError) Report() ux.FatalReport {
	step := e.Step.String()
	if d := e.Step.Description(); d != "" {
		step = fmt.Sprintf("%s (%s)", step, d)
	}
	cause := e.Message
	if e.Declined {
		cause += ". In-memory mode was declined."
	}
	return ux.FatalReport{
		Problem:      "Cannot start with the PostgreSQL backend",
		Cause:        cause,
		Step:         step,
		Detail:       e.Detail,
		Remediation:  e.Remediation,
		Alternatives: Alternatives,
	}
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver decides which backend to use after a readiness run.
type Resolver struct {
	prompter UserPrompter
	warn     func(ux.FallbackWarning)
	metrics  diagnostics.ReadinessMetrics
	logger   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithWarningSink receives the memory-mode warning for display.
func WithWarningSink(fn func(ux.FallbackWarning)) ResolverOption {
	return func(r *Resolver) { r.warn = fn }
}

// WithMetrics records each decision.
func WithMetrics(m diagnostics.ReadinessMetrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. A nil prompter refuses every question.
func NewResolver(prompter UserPrompter, opts ...ResolverOption) *Resolver {
	if prompter == nil {
		prompter = NewNonInteractivePrompter()
	}
	r := &Resolver{
		prompter: prompter,
		warn:     func(ux.FallbackWarning) {},
		metrics:  diagnostics.NewNoOpReadinessMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps outcome and cfg to a Decision.
//
// # Description
//
// A memory request short-circuits before anything else. DecisionAbort always
// comes with a *FatalError; the other decisions return a nil error. The
// prompter is consulted only when the failure is eligible, fallback was not
// pre-authorized and cfg.Interactive is set.
func (r *Resolver) Resolve(ctx context.Context, outcome readiness.Outcome, cfg readiness.BackendConfig) (Decision, error) {
	d, err := r.resolve(ctx, outcome, cfg)
	r.metrics.RecordDecision(d.String())
	r.logger.Info("backend decision", "decision", d.String(), "run_id", outcome.RunID)
	return d, err
}

func (r *Resolver) resolve(ctx context.Context, outcome readiness.Outcome, cfg readiness.BackendConfig) (Decision, error) {
	if cfg.RequestedBackend == readiness.BackendMemory {
		return DecisionUseMemory, nil
	}
	if outcome.Ready() {
		return DecisionUsePostgreSQL, nil
	}
	if outcome.State != readiness.StateFailed {
		return DecisionAbort, r.fatal(outcome, false, fmt.Errorf("unexpected readiness state %s", outcome.State))
	}

	if !outcome.FallbackEligible() {
		if outcome.Cancelled {
			r.logger.Warn("initialization cancelled", "step", outcome.FailedStep.String())
		} else {
			r.logger.Error("failure is not eligible for in-memory fallback",
				"step", outcome.FailedStep.String(), "kind", outcome.Kind().String())
		}
		return DecisionAbort, r.fatal(outcome, false, nil)
	}

	if cfg.FallbackPreauthorized() {
		w := ux.FallbackWarning{
			Step:   outcome.FailedStep.String(),
			Detail: outcome.Detail,
			Hint:   firstOrEmpty(outcome.Remediation),
		}
		r.logger.Warn(w.Message(), "detail", outcome.Detail)
		r.warn(w)
		return DecisionUseMemory, nil
	}

	if !cfg.Interactive {
		r.logger.Error("PostgreSQL unavailable and fallback not allowed",
			"step", outcome.FailedStep.String(), "interactive", false)
		return DecisionAbort, r.fatal(outcome, false, nil)
	}

	ok, err := r.prompter.Confirm(ctx, FallbackPrompt)
	if err != nil {
		r.logger.Warn("fallback prompt failed", "error", err)
		declined := errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
		return DecisionAbort, r.fatal(outcome, declined, err)
	}
	if !ok {
		r.logger.Info("user declined in-memory mode")
		return DecisionAbort, r.fatal(outcome, true, nil)
	}

	r.logger.Info("user chose to fall back to in-memory mode")
	return DecisionUseMemory, nil
}

// fatal builds the abort error. cause replaces the readiness error when set.
func (r *Resolver) fatal(o readiness.Outcome, declined bool, cause error) *FatalError {
	msg := "initialization failed"
	var dbErr *dberr.Error
	if errors.As(o.Err, &dbErr) {
		msg = dbErr.Error()
	}

	err := o.Err
	if cause != nil {
		if err != nil {
			err = errors.Join(err, cause)
		} else {
			err = cause
		}
	}
	return &FatalError{
		Step:        o.FailedStep,
		Message:     msg,
		Detail:      o.Detail,
		Remediation: o.Remediation,
		Declined:    declined,
		Err:         err,
	}
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
