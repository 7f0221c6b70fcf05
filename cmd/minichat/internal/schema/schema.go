// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema applies the minichat table definitions to PostgreSQL.
//
// Migrations are embedded SQL files run by a goose Provider. Each run opens
// its own *sql.DB through the pgx stdlib driver and closes it on return.
// Goose wraps every migration in a transaction, so a failed run leaves the
// schema at the last fully applied version and the next run resumes there.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// MigrationFS holds the embedded SQL migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// Initializer ensures the schema exists.
type Initializer interface {
	// EnsureSchema applies pending migrations. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
}

// GooseInitializer runs embedded migrations with goose.
type GooseInitializer struct {
	cfg       *pgx.ConnConfig
	openDB    func(cfg *pgx.ConnConfig) *sql.DB
	timeout   time.Duration
	sanitizer sanitize.Sanitizer
	logger    *slog.Logger
}

// NewGooseInitializer creates an initializer for the database in cfg.
func NewGooseInitializer(cfg *pgx.ConnConfig, timeout time.Duration, s sanitize.Sanitizer, logger *slog.Logger) *GooseInitializer {
	if s == nil {
		s = sanitize.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GooseInitializer{
		cfg:       cfg,
		openDB:    func(c *pgx.ConnConfig) *sql.DB { return stdlib.OpenDB(*c) },
		timeout:   util.EnforceDefaultTimeout(timeout, util.DefaultSchemaTimeout),
		sanitizer: s,
		logger:    logger,
	}
}

// NewProvider builds a goose provider over db with the embedded migrations.
func NewProvider(db *sql.DB) (*goose.Provider, error) {
	migrations, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}
	return goose.NewProvider(goose.DialectPostgres, db, migrations)
}

// EnsureSchema applies every pending migration.
func (g *GooseInitializer) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	db := g.openDB(g.cfg.Copy())
	defer db.Close()

	provider, err := NewProvider(db)
	if err != nil {
		return g.fail("cannot load schema migrations", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return g.fail("failed to apply schema migrations", err)
	}

	for _, r := range results {
		g.logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	version, err := provider.GetDBVersion(ctx)
	if err == nil {
		g.logger.Debug("schema up to date", "version", version, "applied", len(results))
	}
	return nil
}

func (g *GooseInitializer) fail(msg string, err error) *dberr.Error {
	return &dberr.Error{
		Kind:    dberr.SchemaInitFailed,
		Message: msg,
		Detail:  g.sanitizer.Sanitize(err.Error()),
		Err:     err,
	}
}

// MockInitializer is a test double.
type MockInitializer struct {
	EnsureSchemaFunc func(ctx context.Context) error

	EnsureCalls int
	mu          sync.Mutex
}

func (m *MockInitializer) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	m.EnsureCalls++
	m.mu.Unlock()
	if m.EnsureSchemaFunc == nil {
		panic("MockInitializer.EnsureSchemaFunc not set")
	}
	return m.EnsureSchemaFunc(ctx)
}

var (
	_ Initializer = (*GooseInitializer)(nil)
	_ Initializer = (*MockInitializer)(nil)
)
