// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service checks and starts the local PostgreSQL service.
//
// The controller asks pg_isready first. When pg_isready is absent or
// inconclusive it falls back to the platform's service manager (systemd,
// SysV init, Homebrew or the Windows service control manager), and finally
// to dialing the server's TCP port or unix socket. Start is a single attempt
// followed by a settle delay; it is never retried here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/process"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
)

// Status is the observed state of the PostgreSQL service.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DefaultPort is the PostgreSQL port used when none is configured.
const DefaultPort uint16 = 5432

// ErrNoServiceManager is returned by AttemptStart when no strategy applies.
var ErrNoServiceManager = errors.New("no supported service manager found")

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Controller checks and starts the database service.
type Controller interface {
	// CheckRunning returns the current status. Never cached.
	CheckRunning(ctx context.Context) Status

	// AttemptStart issues one start command and waits the settle delay.
	// The caller must re-check status afterwards.
	AttemptStart(ctx context.Context) (bool, error)

	// CanCheck reports whether any status mechanism exists.
	CanCheck() bool

	// StartHint is the manual start command for remediation text.
	StartHint() string
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the controller.
type Config struct {
	// ServiceName is the unit, formula or Windows service name. Default "postgresql".
	ServiceName string

	// Host and Port are passed to pg_isready and used for the dial check.
	// A host starting with '/' is a unix socket directory. Empty host uses
	// pg_isready's default socket and disables the dial check.
	Host string
	Port uint16

	// ReadyTimeoutSeconds is pg_isready's -t value.
	ReadyTimeoutSeconds int

	// SettleDelay is waited after a successful start command.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "postgresql"
	}
	if c.ReadyTimeoutSeconds <= 0 {
		c.ReadyTimeoutSeconds = util.DefaultReadyCheckSeconds
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultController implements Controller from a platform probe.
type DefaultController struct {
	proc     process.Manager
	probe    platform.ProbeResult
	strategy Strategy
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	dial     DialFunc
	logger   *slog.Logger
}

// DialFunc opens a connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a DefaultController.
type Option func(*DefaultController)

// WithSleep replaces the settle-delay sleep. Tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *DefaultController) { c.sleep = fn }
}

// WithStrategy overrides the strategy chosen from the probe.
func WithStrategy(s Strategy) Option {
	return func(c *DefaultController) { c.strategy = s }
}

// WithDialer replaces the dialer used by the socket check.
func WithDialer(fn DialFunc) Option {
	return func(c *DefaultController) { c.dial = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *DefaultController) { c.logger = l }
}

// NewController creates a controller for the probed host.
func NewController(proc process.Manager, probe platform.ProbeResult, cfg Config, opts ...Option) *DefaultController {
	cfg = cfg.withDefaults()
	c := &DefaultController{
		proc:     proc,
		probe:    probe,
		strategy: StrategyFor(probe, proc, cfg.ServiceName),
		cfg:      cfg,
		sleep:    util.Sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		d := &net.Dialer{Timeout: time.Duration(cfg.ReadyTimeoutSeconds) * time.Second}
		c.dial = d.DialContext
	}
	return c
}

// CanCheck reports whether pg_isready, a service manager or a dial target
// is available.
func (c *DefaultController) CanCheck() bool {
	return c.probe.ReadyCheckFound || c.strategy != nil || c.cfg.Host != ""
}

// StartHint returns the manual start command for this platform.
func (c *DefaultController) StartHint() string {
	if c.strategy == nil {
		return ""
	}
	return c.strategy.StartCommand()
}

// CheckRunning asks pg_isready, then the service manager, then dials.
//
// pg_isready exit codes: 0 accepting, 1 rejecting (starting up),
// 2 no response, 3 no attempt made. Codes 0-2 are authoritative; 3 and
// execution failures fall through to the service manager. An UNKNOWN from
// the service manager falls through to the dial check.
func (c *DefaultController) CheckRunning(ctx context.Context) Status {
	if c.probe.ReadyCheckFound {
		args := make([]string, 0, 6)
		if c.cfg.Host != "" {
			args = append(args, "-h", c.cfg.Host)
		}
		if c.cfg.Port != 0 {
			args = append(args, "-p", strconv.Itoa(int(c.cfg.Port)))
		}
		args = append(args, "-t", strconv.Itoa(c.cfg.ReadyTimeoutSeconds))

		res, err := c.proc.Run(ctx, c.probe.ReadyCheckPath, args...)
		switch res.ExitCode {
		case 0:
			c.logger.Debug("pg_isready: accepting connections")
			return StatusRunning
		case 1, 2:
			c.logger.Debug("pg_isready: not accepting connections", "exit_code", res.ExitCode)
			return StatusStopped
		default:
			c.logger.Debug("pg_isready inconclusive", "exit_code", res.ExitCode, "error", err)
		}
	}

	if c.strategy != nil {
		status := c.strategy.Check(ctx)
		c.logger.Debug("service manager status", "strategy", c.strategy.Name(), "status", status)
		if status != StatusUnknown {
			return status
		}
	}
	return c.dialCheck(ctx)
}

// dialCheck connects to the server's port or socket. A refused or failed
// dial is STOPPED; no configured host is UNKNOWN.
func (c *DefaultController) dialCheck(ctx context.Context) Status {
	if c.cfg.Host == "" {
		return StatusUnknown
	}
	network, address := c.dialAddress()
	conn, err := c.dial(ctx, network, address)
	if err != nil {
		if ctx.Err() != nil {
			return StatusUnknown
		}
		c.logger.Debug("dial check failed", "network", network, "address", address, "error", err)
		return StatusStopped
	}
	_ = conn.Close()
	c.logger.Debug("dial check succeeded", "network", network, "address", address)
	return StatusRunning
}

// dialAddress maps Host and Port to a dial target. Socket files follow the
// server's ".s.PGSQL.<port>" naming.
func (c *DefaultController) dialAddress() (network, address string) {
	port := c.cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	p := strconv.Itoa(int(port))
	if strings.HasPrefix(c.cfg.Host, "/") {
		return "unix", filepath.Join(c.cfg.Host, ".s.PGSQL."+p)
	}
	return "tcp", net.JoinHostPort(c.cfg.Host, p)
}

// AttemptStart runs the strategy's start command once, then waits SettleDelay.
func (c *DefaultController) AttemptStart(ctx context.Context) (bool, error) {
	if c.strategy == nil {
		return false, ErrNoServiceManager
	}

	c.logger.Info("starting PostgreSQL service", "strategy", c.strategy.Name(), "service", c.cfg.ServiceName)
	if err := c.strategy.Start(ctx); err != nil {
		return false, fmt.Errorf("start %s via %s: %w", c.cfg.ServiceName, c.strategy.Name(), err)
	}

	if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
		return false, fmt.Errorf("waiting for service to settle: %w", err)
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// MockController is a test double with configurable behavior.
//
// CheckRunningFunc may return different values per call to model a service
// that comes up after start.
type MockController struct {
	CheckRunningFunc func(ctx context.Context) Status
	AttemptStartFunc func(ctx context.Context) (bool, error)
	CanCheckValue    bool
	Hint             string

	CheckCalls int
	StartCalls int
	mu         sync.Mutex
}

func (m *MockController) CheckRunning(ctx context.Context) Status {
	m.mu.Lock()
	m.CheckCalls++
	m.mu.Unlock()
	if m.CheckRunningFunc == nil {
		panic("MockController.CheckRunningFunc not set")
	}
	return m.CheckRunningFunc(ctx)
}

func (m *MockController) AttemptStart(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.StartCalls++
	m.mu.Unlock()
	if m.AttemptStartFunc == nil {
		panic("MockController.AttemptStartFunc not set")
	}
	return m.AttemptStartFunc(ctx)
}

func (m *MockController) CanCheck() bool   { return m.CanCheckValue }
func (m *MockController) StartHint() string { return m.Hint }

var (
	_ Controller = (*DefaultController)(nil)
	_ Controller = (*MockController)(nil)
)
