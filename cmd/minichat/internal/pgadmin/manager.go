// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pgadmin performs administrative PostgreSQL operations: checking
// whether a database exists and creating it.
//
// Both operations connect to the maintenance database ("postgres") on the
// same server with the same credentials as the application URL. Database
// names are validated against a safe-identifier pattern before any
// connection is opened, and CREATE DATABASE always uses a quoted identifier.
package pgadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes inspected by this package.
const (
	codeDuplicateDatabase     = "42P04"
	codeInvalidPassword       = "28P01"
	codeInvalidAuthSpec       = "28000"
	codeInvalidCatalogName    = "3D000"
	codeInsufficientPrivilege = "42501"
)

// -----------------------------------------------------------------------------
// Connection abstraction
// -----------------------------------------------------------------------------

// Conn is the subset of *pgx.Conn used by administrative operations.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// ConnectFunc opens a connection. Tests substitute a fake.
type ConnectFunc func(ctx context.Context, cfg *pgx.ConnConfig) (Conn, error)

// PgxConnect opens a real connection with pgx.ConnectConfig.
func PgxConnect(ctx context.Context, cfg *pgx.ConnConfig) (Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Classify maps a connection or query error to a readiness kind.
//
// 28P01 and 28000 are authentication failures, 3D000 a missing database.
// Everything else (refused, DNS, socket, timeout) is Unreachable.
func Classify(err error) dberr.Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInvalidPassword, codeInvalidAuthSpec:
			return dberr.AuthFailed
		case codeInvalidCatalogName:
			return dberr.DatabaseMissing
		}
	}
	return dberr.Unreachable
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager checks for and creates databases.
type Manager interface {
	// Exists reports whether the database is present in pg_database.
	Exists(ctx context.Context, name string) (bool, error)

	// Create issues CREATE DATABASE. "Already exists" is success.
	// Callers should check Exists first.
	Create(ctx context.Context, name string) error
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager over pgx.
type DefaultManager struct {
	target    Target
	connect   ConnectFunc
	timeout   time.Duration
	sanitizer sanitize.Sanitizer
	logger    *slog.Logger
}

// Option configures a DefaultManager.
type Option func(*DefaultManager)

// WithConnectFunc replaces pgx.ConnectConfig.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(m *DefaultManager) { m.connect = fn }
}

// WithTimeout bounds each operation (connect plus statement).
func WithTimeout(d time.Duration) Option {
	return func(m *DefaultManager) {
		m.timeout = util.EnforceMinTimeout(util.EnforceDefaultTimeout(d, util.DefaultConnectTimeout), util.MinConnectTimeout)
	}
}

// WithSanitizer sets the sanitizer applied to error details.
func WithSanitizer(s sanitize.Sanitizer) Option {
	return func(m *DefaultManager) { m.sanitizer = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *DefaultManager) { m.logger = l }
}

// NewManager creates a manager for the server named by target.
func NewManager(target Target, opts ...Option) *DefaultManager {
	m := &DefaultManager{
		target:    target,
		connect:   PgxConnect,
		timeout:   util.DefaultConnectTimeout,
		sanitizer: sanitize.NewDefault(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Exists queries pg_database on the maintenance database.
func (m *DefaultManager) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateIdentifier(name); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.openAdmin(ctx)
	if err != nil {
		kind := Classify(err)
		return false, m.fail(kind, "cannot connect to PostgreSQL server", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, m.fail(Classify(err), "cannot query database catalog", err)
	}

	m.logger.Debug("database existence checked", "database", name, "exists", exists)
	return exists, nil
}

// Create issues CREATE DATABASE with a quoted identifier.
func (m *DefaultManager) Create(ctx context.Context, name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.openAdmin(ctx)
	if err != nil {
		return m.fail(dberr.DatabaseCreateFailed, "cannot connect to PostgreSQL server to create database", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	if _, err := conn.Exec(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeDuplicateDatabase {
			m.logger.Info("database already exists", "database", name)
			return nil
		}
		msg := fmt.Sprintf("failed to create database %q", name)
		if errors.As(err, &pgErr) && pgErr.Code == codeInsufficientPrivilege {
			msg = fmt.Sprintf("permission denied to create database %q", name)
		}
		return m.fail(dberr.DatabaseCreateFailed, msg, err)
	}

	m.logger.Info("database created", "database", name)
	return nil
}

func (m *DefaultManager) openAdmin(ctx context.Context) (Conn, error) {
	cfg := m.target.AdminConfig()
	cfg.ConnectTimeout = m.timeout
	return m.connect(ctx, cfg)
}

func (m *DefaultManager) fail(kind dberr.Kind, msg string, err error) *dberr.Error {
	return &dberr.Error{
		Kind:    kind,
		Message: msg,
		Detail:  m.sanitizer.Sanitize(err.Error()),
		Err:     err,
	}
}

// -----------------------------------------------------------------------------
// Mock Implementations
// -----------------------------------------------------------------------------

// MockManager is a test double with configurable behavior.
type MockManager struct {
	ExistsFunc func(ctx context.Context, name string) (bool, error)
	CreateFunc func(ctx context.Context, name string) error

	ExistsCalls []string
	CreateCalls []string
	mu          sync.Mutex
}

func (m *MockManager) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	m.ExistsCalls = append(m.ExistsCalls, name)
	m.mu.Unlock()
	if m.ExistsFunc == nil {
		panic("MockManager.ExistsFunc not set")
	}
	return m.ExistsFunc(ctx, name)
}

func (m *MockManager) Create(ctx context.Context, name string) error {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, name)
	m.mu.Unlock()
	if m.CreateFunc == nil {
		panic("MockManager.CreateFunc not set")
	}
	return m.CreateFunc(ctx, name)
}

// MockRow implements pgx.Row.
type MockRow struct {
	ScanFunc func(dest ...any) error
}

func (r *MockRow) Scan(dest ...any) error {
	return r.ScanFunc(dest...)
}

// MockConn is a fake Conn that records statements and closing.
type MockConn struct {
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	Statements []string
	Closed     bool
	mu         sync.Mutex
}

func (c *MockConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	c.Statements = append(c.Statements, sql)
	c.mu.Unlock()
	if c.QueryRowFunc == nil {
		panic("MockConn.QueryRowFunc not set")
	}
	return c.QueryRowFunc(ctx, sql, args...)
}

func (c *MockConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	c.Statements = append(c.Statements, sql)
	c.mu.Unlock()
	if c.ExecFunc == nil {
		panic("MockConn.ExecFunc not set")
	}
	return c.ExecFunc(ctx, sql, args...)
}

func (c *MockConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
	_ Conn    = (*pgx.Conn)(nil)
	_ Conn    = (*MockConn)(nil)
	_ pgx.Row = (*MockRow)(nil)
)
