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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/schema"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const codeUniqueViolation = "23505"

// Pool is the subset of *pgxpool.Pool the backend uses.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend stores data in PostgreSQL through a connection pool.
type PostgresBackend struct {
	pool      Pool
	init      schema.Initializer
	dbName    string
	sanitizer sanitize.Sanitizer
	logger    *slog.Logger
}

// PostgresOptions configures OpenPostgres.
type PostgresOptions struct {
	// MaxConns caps the pool. Zero uses 4.
	MaxConns int32

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration

	// SchemaTimeout bounds InitSchema.
	SchemaTimeout time.Duration

	Sanitizer sanitize.Sanitizer
	Logger    *slog.Logger
}

// OpenPostgres opens a pool to target and pings it once.
func OpenPostgres(ctx context.Context, target pgadmin.Target, opts PostgresOptions) (*PostgresBackend, error) {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = sanitize.NewDefault()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("pool defaults: %s", opts.Sanitizer.Sanitize(err.Error()))
	}
	poolCfg.ConnConfig = target.Config.Copy()
	poolCfg.MaxConns = opts.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %s", opts.Sanitizer.Sanitize(err.Error()))
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %s", target.DBName, opts.Sanitizer.Sanitize(err.Error()))
	}

	init := schema.NewGooseInitializer(target.Config, opts.SchemaTimeout, opts.Sanitizer, opts.Logger)
	return NewPostgresBackend(pool, init, target.DBName, opts.Sanitizer, opts.Logger), nil
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(pool Pool, init schema.Initializer, dbName string, s sanitize.Sanitizer, logger *slog.Logger) *PostgresBackend {
	if s == nil {
		s = sanitize.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBackend{pool: pool, init: init, dbName: dbName, sanitizer: s, logger: logger}
}

func (b *PostgresBackend) Info() Info {
	return Info{
		Name:       "PostgreSQL (" + b.dbName + ")",
		Type:       TypePostgreSQL,
		Persistent: true,
	}
}

func (b *PostgresBackend) SupportsPersistence() bool { return true }

func (b *PostgresBackend) InitSchema(ctx context.Context) error {
	return b.init.EnsureSchema(ctx)
}

func (b *PostgresBackend) HasAdminUser(ctx context.Context) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)", RoleAdmin).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin users: %s", b.sanitizer.Sanitize(err.Error()))
	}
	return exists, nil
}

func (b *PostgresBackend) CreateAdminUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, role) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, string(u.PasswordHash), RoleAdmin,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("create admin user: %s", b.sanitizer.Sanitize(err.Error()))
	}
	b.logger.Info("admin user created", "username", u.Username, "backend", TypePostgreSQL)
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Pool    = (*pgxpool.Pool)(nil)
)
