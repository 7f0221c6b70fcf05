// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package readiness

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/service"
)

// =============================================================================
// Backend Selection
// =============================================================================

// BackendType is the backend requested on the command line or in config.
type BackendType string

const (
	BackendPostgreSQL BackendType = "postgresql"
	BackendMemory     BackendType = "memory"
	BackendAuto       BackendType = "auto"
)

// ParseBackendType accepts postgresql, memory or auto (case-insensitive).
// "postgres" is accepted as an alias.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres":
		return BackendPostgreSQL, nil
	case "memory":
		return BackendMemory, nil
	case "auto", "":
		return BackendAuto, nil
	default:
		return "", fmt.Errorf("unknown backend type %q (want postgresql, memory or auto)", s)
	}
}

// BackendConfig is the input to one readiness attempt.
// It is built once and never modified afterwards.
type BackendConfig struct {
	// RequestedBackend is what the user asked for.
	RequestedBackend BackendType

	// DatabaseURL is the raw connection string. Empty means the default.
	DatabaseURL string

	// FallbackAllowed pre-authorizes memory mode when PostgreSQL fails.
	FallbackAllowed bool

	// DBName overrides the database component of DatabaseURL.
	DBName string

	// Interactive means a yes/no prompt can be shown.
	Interactive bool
}

// FallbackPreauthorized reports whether memory mode needs no confirmation.
// Auto mode always tries PostgreSQL first and then uses memory.
func (c BackendConfig) FallbackPreauthorized() bool {
	return c.FallbackAllowed || c.RequestedBackend == BackendAuto
}

// =============================================================================
// Steps and States
// =============================================================================

// Step names the readiness step that failed.
type Step int

const (
	StepNone Step = iota
	StepInstall
	StepService
	StepDBExists
	StepDBCreate
	StepConnect
	StepSchema
)

func (s Step) String() string {
	switch s {
	case StepInstall:
		return "INSTALL"
	case StepService:
		return "SERVICE"
	case StepDBExists:
		return "DB_EXISTS"
	case StepDBCreate:
		return "DB_CREATE"
	case StepConnect:
		return "CONNECT"
	case StepSchema:
		return "SCHEMA"
	default:
		return ""
	}
}

// Description is a plain-language name for the step.
func (s Step) Description() string {
	switch s {
	case StepInstall:
		return "checking the PostgreSQL installation"
	case StepService:
		return "starting the PostgreSQL service"
	case StepDBExists:
		return "checking whether the database exists"
	case StepDBCreate:
		return "creating the database"
	case StepConnect:
		return "connecting to the database"
	case StepSchema:
		return "initializing the database schema"
	default:
		return ""
	}
}

// State is the terminal state of a readiness attempt.
type State int

const (
	// StatePending is the zero value: no run has finished.
	StatePending State = iota
	StateReady
	StateFailed
	StateDegradedMemory
	StateFatal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	case StateDegradedMemory:
		return "DEGRADED_MEMORY"
	case StateFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// Outcome
// =============================================================================

// Outcome is the result of a readiness run.
//
// The orchestrator yields READY or FAILED. The fallback resolver finalizes
// FAILED into DEGRADED_MEMORY or FATAL.
type Outcome struct {
	// RunID identifies this attempt in logs and traces.
	RunID string

	State State

	// FailedStep is StepNone unless State is FAILED (or finalized from it).
	FailedStep Step

	// Detail is sanitized; it never contains credentials.
	Detail string

	// Remediation holds per-platform fix steps.
	Remediation []string

	// Err is the classified cause, a *dberr.Error.
	Err error

	// Target is the parsed connection target. Config is nil when the URL
	// could not be parsed.
	Target pgadmin.Target

	// Probe is what the platform prober found, when it ran.
	Probe platform.ProbeResult

	// ServiceStatus is the last observed service status.
	ServiceStatus service.Status

	// DatabaseCreated reports whether CREATE DATABASE was issued and succeeded.
	DatabaseCreated bool

	// Cancelled is set when the context ended the run.
	Cancelled bool
}

// Ready reports whether the backend is usable.
func (o Outcome) Ready() bool {
	return o.State == StateReady
}

// Kind returns the failure classification.
func (o Outcome) Kind() dberr.Kind {
	return dberr.KindOf(o.Err)
}

// FallbackEligible reports whether memory mode may replace PostgreSQL.
// A cancelled run never is.
func (o Outcome) FallbackEligible() bool {
	return o.State == StateFailed && !o.Cancelled && o.Kind().FallbackEligible()
}
