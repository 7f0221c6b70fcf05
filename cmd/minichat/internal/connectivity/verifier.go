// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connectivity confirms that the application database accepts
// queries with the configured credentials.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/jackc/pgx/v5"
)

// Verifier checks that a database is usable.
type Verifier interface {
	// Verify connects with the full target config and runs a round-trip query.
	// Failures are *dberr.Error with Kind AuthFailed, DatabaseMissing or Unreachable.
	Verify(ctx context.Context, cfg *pgx.ConnConfig) error
}

// PgxVerifier implements Verifier with a single short-lived connection.
type PgxVerifier struct {
	connect   pgadmin.ConnectFunc
	timeout   time.Duration
	sanitizer sanitize.Sanitizer
	logger    *slog.Logger
}

// NewVerifier creates a verifier. A nil connect uses pgx; a nil sanitizer
// uses the default credential patterns.
func NewVerifier(connect pgadmin.ConnectFunc, timeout time.Duration, s sanitize.Sanitizer, logger *slog.Logger) *PgxVerifier {
	if connect == nil {
		connect = pgadmin.PgxConnect
	}
	if s == nil {
		s = sanitize.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgxVerifier{
		connect:   connect,
		timeout:   util.EnforceMinTimeout(util.EnforceDefaultTimeout(timeout, util.DefaultConnectTimeout), util.MinConnectTimeout),
		sanitizer: s,
		logger:    logger,
	}
}

// Verify opens, pings with SELECT 1, and always closes the connection.
func (v *PgxVerifier) Verify(ctx context.Context, cfg *pgx.ConnConfig) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	connCfg := cfg.Copy()
	connCfg.ConnectTimeout = v.timeout

	start := time.Now()
	conn, err := v.connect(ctx, connCfg)
	if err != nil {
		return v.fail(err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return v.fail(err)
	}
	if one != 1 {
		return &dberr.Error{Kind: dberr.Unreachable, Message: fmt.Sprintf("unexpected round-trip result %d", one)}
	}

	v.logger.Debug("database round trip ok", "database", cfg.Database, "latency", time.Since(start))
	return nil
}

func (v *PgxVerifier) fail(err error) error {
	kind := pgadmin.Classify(err)
	return &dberr.Error{
		Kind:    kind,
		Message: messageFor(kind),
		Detail:  v.sanitizer.Sanitize(err.Error()),
		Err:     err,
	}
}

func messageFor(kind dberr.Kind) string {
	switch kind {
	case dberr.AuthFailed:
		return "PostgreSQL rejected the credentials"
	case dberr.DatabaseMissing:
		return "the database does not exist on the server"
	default:
		return "cannot reach the PostgreSQL server"
	}
}

// MockVerifier is a test double.
type MockVerifier struct {
	VerifyFunc func(ctx context.Context, cfg *pgx.ConnConfig) error

	Calls int
	mu    sync.Mutex
}

func (m *MockVerifier) Verify(ctx context.Context, cfg *pgx.ConnConfig) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.VerifyFunc == nil {
		panic("MockVerifier.VerifyFunc not set")
	}
	return m.VerifyFunc(ctx, cfg)
}

var (
	_ Verifier = (*PgxVerifier)(nil)
	_ Verifier = (*MockVerifier)(nil)
)
