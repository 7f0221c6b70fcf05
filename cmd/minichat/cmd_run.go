// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/admin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/backend"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/config"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/diagnostics"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/fallback"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/readiness"
	"github.com/AleutianAI/minichat/pkg/logging"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/AleutianAI/minichat/pkg/ux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// usageError marks bad flag or config values.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var u *usageError
	return errors.As(err, &u)
}

// =============================================================================
// Configuration Layering
// =============================================================================

// loadConfig layers flags > environment > file > defaults.
func loadConfig(cmd *cobra.Command, opts *cliOptions, getenv func(string) string) (config.MinichatConfig, error) {
	path := opts.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.MinichatConfig{}, err
		}
		path = p
	}
	cfg, err := config.Load(path, cmd.ErrOrStderr())
	if err != nil {
		return config.MinichatConfig{}, err
	}
	config.ApplyEnv(&cfg, getenv)
	applyFlags(cmd, opts, &cfg)

	if err := cfg.Validate(); err != nil {
		return config.MinichatConfig{}, &usageError{err: err}
	}
	return cfg, nil
}

// applyFlags copies only the flags the user actually set.
func applyFlags(cmd *cobra.Command, opts *cliOptions, cfg *config.MinichatConfig) {
	flags := cmd.Flags()
	if flags.Changed(flagDBBackend) {
		cfg.Database.Backend = strings.ToLower(strings.TrimSpace(opts.dbBackend))
	}
	if flags.Changed(flagDatabaseURL) {
		cfg.Database.URL = opts.databaseURL
	}
	if flags.Lookup(flagFallback) != nil && flags.Changed(flagFallback) {
		cfg.Database.FallbackToMemory = opts.fallbackToMemory
	}
	if flags.Changed(flagLogLevel) {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(opts.logLevel))
	}
}

// =============================================================================
// Session Wiring
// =============================================================================

// session bundles what one invocation needs.
type session struct {
	cfg       config.MinichatConfig
	sanitizer *sanitize.DefaultSanitizer
	logger    *logging.Logger
	printer   *ux.Printer
	registry  *prometheus.Registry
	metrics   diagnostics.ReadinessMetrics
	tracer    diagnostics.Tracer
}

func newSession(ctx context.Context, cmd *cobra.Command, opts *cliOptions) (*session, error) {
	cfg, err := loadConfig(cmd, opts, os.Getenv)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, &usageError{err: err}
	}

	s := sanitize.NewDefault()
	s.AddURLSecret(cfg.Database.URL)

	rt := &session{
		cfg:       cfg,
		sanitizer: s,
		logger: logging.New(logging.Config{
			Level:    level,
			LogDir:   cfg.Logging.Dir,
			Service:  "minichat",
			JSON:     cfg.Logging.JSON,
			Output:   cmd.ErrOrStderr(),
			Redactor: s,
		}),
		printer:  ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ux.DetectPersonality(opts.personality, fileOf(cmd.OutOrStdout()))),
		registry: prometheus.NewRegistry(),
	}

	rt.metrics, err = diagnostics.NewDefaultReadinessMetrics(cfg.Telemetry.Metrics, rt.registry)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	rt.tracer, err = diagnostics.NewDefaultTracer(ctx, diagnostics.TracingConfig{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Stdout:   cfg.Telemetry.TraceStdout,
		Writer:   cmd.ErrOrStderr(),
	})
	if err != nil {
		rt.logger.Warn("tracing disabled", "error", err)
		rt.tracer = diagnostics.NewNoOpTracer()
	}
	return rt, nil
}

func (rt *session) slogger() *slog.Logger { return rt.logger.Slog() }

// close flushes metrics and traces. Safe with a partially built session.
func (rt *session) close() {
	if rt.cfg.Telemetry.Metrics && rt.cfg.Telemetry.MetricsFile != "" {
		if err := diagnostics.WriteTextfile(rt.cfg.Telemetry.MetricsFile, rt.registry); err != nil {
			rt.logger.Warn("could not write metrics file", "path", rt.cfg.Telemetry.MetricsFile, "error", err)
		}
	}
	if rt.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.logger.Warn("trace shutdown failed", "error", err)
		}
	}
	if rt.sanitizer != nil {
		st := rt.sanitizer.GetStats()
		rt.logger.Debug("redaction summary",
			"calls", st.TotalCalls,
			"redactions", st.TotalRedactions,
			"by_pattern", st.ByPattern,
		)
	}
	_ = rt.logger.Close()
}

// prompter picks how questions are answered. --yes only approves the
// fallback; it cannot answer setup questions.
func prompter(cmd *cobra.Command, yes bool) fallback.UserPrompter {
	if yes {
		return fallback.NewAutoApprovePrompter()
	}
	if in, ok := cmd.InOrStdin().(*os.File); ok && ux.IsTerminal(in) {
		return fallback.NewInteractivePrompter()
	}
	return fallback.NewNonInteractivePrompter()
}

func fileOf(w io.Writer) *os.File {
	f, _ := w.(*os.File)
	return f
}

// newManager wires the orchestrator, resolver and backend openers.
func (rt *session) newManager(p fallback.UserPrompter) *backend.Manager {
	logger := rt.slogger()
	timeouts := rt.cfg.Timeouts()

	orch := readiness.NewOrchestrator(
		readiness.WithTimeouts(timeouts),
		readiness.WithServiceName(rt.cfg.Database.ServiceName),
		readiness.WithSanitizer(rt.sanitizer),
		readiness.WithMetrics(rt.metrics),
		readiness.WithTracer(rt.tracer),
		readiness.WithLogger(logger),
	)
	resolver := fallback.NewResolver(p,
		fallback.WithWarningSink(rt.printer.FallbackWarning),
		fallback.WithMetrics(rt.metrics),
		fallback.WithLogger(logger),
	)
	return backend.NewManager(orch, resolver,
		backend.WithManagerLogger(logger),
		backend.WithPostgresOpener(func(ctx context.Context, target pgadmin.Target) (backend.Backend, error) {
			return backend.OpenPostgres(ctx, target, backend.PostgresOptions{
				ConnectTimeout: timeouts.Connect,
				SchemaTimeout:  timeouts.Schema,
				Sanitizer:      rt.sanitizer,
				Logger:         logger,
			})
		}),
	)
}

// =============================================================================
// Root Command
// =============================================================================

func runRoot(cmd *cobra.Command, opts *cliOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	p := prompter(cmd, opts.yes)
	bc, err := rt.cfg.BackendConfig(opts.yes || p.IsInteractive())
	if err != nil {
		return &usageError{err: err}
	}

	rt.logger.Info("initializing backend",
		"requested", string(bc.RequestedBackend),
		"fallback_allowed", bc.FallbackAllowed,
		"interactive", bc.Interactive,
		"database_url", rt.sanitizer.Sanitize(bc.DatabaseURL),
	)

	h, err := rt.newManager(p).InitializeBackend(ctx, bc)
	if err != nil {
		var fe *fallback.FatalError
		if errors.As(err, &fe) {
			rt.printer.Fatal(fe.Report())
			return &reportedError{err: err}
		}
		rt.printer.Error(rt.sanitizer.Sanitize(err.Error()))
		return &reportedError{err: err}
	}
	defer h.Close()

	switch {
	case opts.initDB:
		return runInitDB(ctx, rt, h)
	case opts.setupAdmin:
		return runSetupAdmin(ctx, rt, prompter(cmd, false), h)
	}

	info := h.Info()
	rt.printer.BackendSummary(ux.BackendSummary{
		Name:       info.Name,
		Type:       info.Type,
		Persistent: info.Persistent,
		AdminReady: !h.AdminNeeded,
	})
	return nil
}

func runInitDB(ctx context.Context, rt *session, h *backend.Handle) error {
	if !h.SupportsPersistence() {
		rt.printer.Warning("In-memory backend has no schema to initialize")
		return nil
	}
	err := rt.printer.WithSpinner("Initialize database schema", func() error {
		if err := h.InitSchema(ctx); err != nil {
			return &redactedError{msg: rt.sanitizer.Sanitize(err.Error()), err: err}
		}
		return nil
	})
	if err != nil {
		return &reportedError{err: err}
	}
	return nil
}

// redactedError carries a sanitized message while keeping the cause for
// errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func runSetupAdmin(ctx context.Context, rt *session, p fallback.UserPrompter, h *backend.Handle) error {
	if !p.IsInteractive() {
		rt.printer.Error("--setup-admin needs an interactive terminal")
		return &reportedError{err: fallback.ErrNonInteractive}
	}
	if !h.SupportsPersistence() {
		rt.printer.Warning("The admin user will be lost when minichat exits (in-memory backend)")
	}

	rt.printer.Title("Initial Setup - Create Admin User")
	res, username, err := admin.NewSetup(p, h, 0, rt.slogger()).Run(ctx)
	if err != nil {
		if errors.Is(err, fallback.ErrCancelled) || errors.Is(err, context.Canceled) {
			rt.printer.Warning("Setup cancelled.")
		} else {
			rt.printer.Error(err.Error())
		}
		return &reportedError{err: err}
	}
	switch res {
	case admin.ResultAlreadyExists:
		rt.printer.Warning(fmt.Sprintf("Admin user '%s' already exists", username))
	default:
		rt.printer.Success(fmt.Sprintf("Admin user '%s' created successfully", username))
	}
	return nil
}
