// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"time"
)

// =============================================================================
// Constants
// =============================================================================

// Timeout bounds for every external call made during backend readiness.
//
// A zero or negative configured value never means "wait forever"; it is
// replaced by the default (or raised to the minimum).
const (
	// MinCommandTimeout is the floor for any child process invocation.
	MinCommandTimeout = 1 * time.Second

	// MinConnectTimeout is the floor for any database connection attempt.
	MinConnectTimeout = 500 * time.Millisecond

	// DefaultCommandTimeout bounds service manager and client tool calls.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds a single database connect + round trip.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultSchemaTimeout bounds a full migration run.
	DefaultSchemaTimeout = 2 * time.Minute

	// DefaultSettleDelay is how long to wait after a service start before re-checking.
	DefaultSettleDelay = 3 * time.Second

	// DefaultReadyCheckSeconds is passed to pg_isready -t.
	DefaultReadyCheckSeconds = 5
)

// =============================================================================
// TimeoutConfig
// =============================================================================

// TimeoutConfig groups the per-operation timeouts used by one readiness run.
type TimeoutConfig struct {
	Command     time.Duration
	Connect     time.Duration
	Schema      time.Duration
	SettleDelay time.Duration
}

// NewTimeoutConfig returns the default timeouts.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Command:     DefaultCommandTimeout,
		Connect:     DefaultConnectTimeout,
		Schema:      DefaultSchemaTimeout,
		SettleDelay: DefaultSettleDelay,
	}
}

// Validated returns a copy with every timeout at or above its minimum.
//
// SettleDelay may legitimately be zero (tests, already-running services),
// so it is only clamped at zero.
func (c TimeoutConfig) Validated() TimeoutConfig {
	settle := c.SettleDelay
	if settle < 0 {
		settle = 0
	}
	return TimeoutConfig{
		Command:     EnforceMinTimeout(EnforceDefaultTimeout(c.Command, DefaultCommandTimeout), MinCommandTimeout),
		Connect:     EnforceMinTimeout(EnforceDefaultTimeout(c.Connect, DefaultConnectTimeout), MinConnectTimeout),
		Schema:      EnforceMinTimeout(EnforceDefaultTimeout(c.Schema, DefaultSchemaTimeout), MinCommandTimeout),
		SettleDelay: settle,
	}
}

// EnforceMinTimeout raises requested to minimum when below it.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout replaces a non-positive value with defaultVal.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}

// Sleep waits for d or until ctx is done, whichever comes first.
//
// Returns ctx.Err() when the context ends the wait early.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
