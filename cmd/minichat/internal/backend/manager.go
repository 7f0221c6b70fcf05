// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/fallback"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/readiness"
)

// Runner runs one readiness attempt. *readiness.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg readiness.BackendConfig) readiness.Outcome
}

// Decider turns an outcome into a decision. *fallback.Resolver satisfies it.
type Decider interface {
	Resolve(ctx context.Context, outcome readiness.Outcome, cfg readiness.BackendConfig) (fallback.Decision, error)
}

// PostgresOpener opens the persistent backend once readiness succeeded.
type PostgresOpener func(ctx context.Context, target pgadmin.Target) (Backend, error)

// MemoryOpener opens the in-memory backend.
type MemoryOpener func() (Backend, error)

// Handle is the initialized backend returned to the caller. It replaces any
// process-wide backend singleton; the caller owns it and must Close it.
type Handle struct {
	Backend

	// Outcome is the finalized readiness outcome. Its State is PENDING when
	// memory was requested and no readiness run took place.
	Outcome readiness.Outcome

	Decision fallback.Decision

	// AdminNeeded is true when the backend has no admin user yet.
	AdminNeeded bool
}

// Info reports the backend with Initialized set.
func (h *Handle) Info() Info {
	info := h.Backend.Info()
	info.Initialized = true
	return info
}

// Manager selects and opens the backend at startup.
type Manager struct {
	runner       Runner
	decider      Decider
	openPostgres PostgresOpener
	openMemory   MemoryOpener
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPostgresOpener replaces the pgxpool-based opener.
func WithPostgresOpener(fn PostgresOpener) ManagerOption {
	return func(m *Manager) { m.openPostgres = fn }
}

// WithMemoryOpener replaces the badger-based opener.
func WithMemoryOpener(fn MemoryOpener) ManagerOption {
	return func(m *Manager) { m.openMemory = fn }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over runner and decider.
func NewManager(runner Runner, decider Decider, opts ...ManagerOption) *Manager {
	m := &Manager{
		runner:  runner,
		decider: decider,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.openPostgres == nil {
		m.openPostgres = func(ctx context.Context, target pgadmin.Target) (Backend, error) {
			return OpenPostgres(ctx, target, PostgresOptions{Logger: m.logger})
		}
	}
	if m.openMemory == nil {
		m.openMemory = func() (Backend, error) { return OpenMemory(m.logger) }
	}
	return m
}

// InitializeBackend runs readiness, applies the fallback policy and opens the
// chosen backend.
//
// # Description
//
// A memory request skips every PostgreSQL check. Otherwise the orchestrator
// runs once and the resolver picks the backend. On ABORT the resolver's
// *fallback.FatalError is returned together with a nil handle.
func (m *Manager) InitializeBackend(ctx context.Context, cfg readiness.BackendConfig) (*Handle, error) {
	var outcome readiness.Outcome
	if cfg.RequestedBackend != readiness.BackendMemory {
		outcome = m.runner.Run(ctx, cfg)
	}

	decision, err := m.decider.Resolve(ctx, outcome, cfg)
	outcome = fallback.Finalize(outcome, decision)
	if decision == fallback.DecisionAbort {
		return nil, err
	}

	var b Backend
	switch decision {
	case fallback.DecisionUsePostgreSQL:
		b, err = m.openPostgres(ctx, outcome.Target)
		if err != nil {
			return nil, fmt.Errorf("open PostgreSQL backend: %w", err)
		}
	default:
		b, err = m.openMemory()
		if err != nil {
			return nil, fmt.Errorf("open in-memory backend: %w", err)
		}
	}

	h := &Handle{Backend: b, Outcome: outcome, Decision: decision}
	hasAdmin, err := b.HasAdminUser(ctx)
	if err != nil {
		m.logger.Warn("could not check for an admin user", "error", err)
	} else {
		h.AdminNeeded = !hasAdmin
	}

	info := h.Info()
	m.logger.Info("backend initialized",
		"backend", info.Type,
		"persistent", info.Persistent,
		"state", outcome.State.String(),
		"admin_needed", h.AdminNeeded,
	)
	return h, nil
}
