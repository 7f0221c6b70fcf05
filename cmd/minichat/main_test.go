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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/backend"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/config"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/service"
	"github.com/AleutianAI/minichat/pkg/sanitize"
	"github.com/AleutianAI/minichat/pkg/ux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the command tree with captured output and a clean
// environment.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvDBBackend, "")
	t.Setenv(ux.PersonalityEnv, "")

	cmd := newRootCmd()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minichat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// -----------------------------------------------------------------------------
// Configuration Layering
// -----------------------------------------------------------------------------

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, "database:\n  backend: auto\n  url: postgresql://file@localhost/file_db\nlogging:\n  level: warn\n")
	env := map[string]string{config.EnvDatabaseURL: "postgresql://env@localhost/env_db"}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name        string
		args        []string
		wantBackend string
		wantURL     string
		wantLevel   string
		wantFall    bool
	}{
		{"file and env", nil, "auto", "postgresql://env@localhost/env_db", "warn", false},
		{"flags win", []string{"--db-backend", "MEMORY", "--database-url", "postgresql://flag@localhost/flag_db", "--log-level", "debug", "--fallback-to-memory"},
			"memory", "postgresql://flag@localhost/flag_db", "debug", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &cliOptions{}
			cmd := newRootCmdWithOptions(opts)
			require.NoError(t, cmd.ParseFlags(tt.args))
			opts.configPath = path

			cfg, err := loadConfig(cmd, opts, getenv)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackend, cfg.Database.Backend)
			assert.Equal(t, tt.wantURL, cfg.Database.URL)
			assert.Equal(t, tt.wantLevel, cfg.Logging.Level)
			assert.Equal(t, tt.wantFall, cfg.Database.FallbackToMemory)
		})
	}
}

func TestLoadConfig_InvalidBackendIsUsageError(t *testing.T) {
	path := writeConfig(t, "database:\n  backend: sqlite\n")
	cmd := newRootCmd()
	_, err := loadConfig(cmd, &cliOptions{configPath: path}, func(string) string { return "" })
	require.Error(t, err)
	assert.True(t, isUsageError(err))
}

// -----------------------------------------------------------------------------
// Root Command
// -----------------------------------------------------------------------------

func TestRoot_MemoryBackend(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "minichat.prom")
	path := writeConfig(t, "telemetry:\n  metrics: true\n  metrics_file: "+metricsFile+"\n")

	stdout, stderr, err := runCLI(t, "--config", path, "--db-backend", "memory", "--personality", "machine")
	require.NoError(t, err)
	combined := stdout + stderr
	assert.Contains(t, combined, "Using In-memory backend (no persistence)")
	assert.Contains(t, combined, "minichat --setup-admin")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `minichat_backend_decisions_total{decision="USE_MEMORY"} 1`)
	assert.NotContains(t, string(data), "minichat_readiness_steps_total{")
}

func TestRoot_InitDBOnMemory(t *testing.T) {
	path := writeConfig(t, "")
	_, stderr, err := runCLI(t, "--config", path, "--db-backend", "memory", "--init-db", "--personality", "machine")
	require.NoError(t, err)
	assert.Contains(t, stderr, "no schema to initialize")
}

func TestRoot_SetupAdminNeedsTerminal(t *testing.T) {
	path := writeConfig(t, "")
	_, stderr, err := runCLI(t, "--config", path, "--db-backend", "memory", "--setup-admin", "--personality", "machine")
	var reported *reportedError
	require.ErrorAs(t, err, &reported)
	assert.Contains(t, stderr, "interactive terminal")
}

func TestRoot_InitDBAndSetupAdminExclusive(t *testing.T) {
	path := writeConfig(t, "")
	_, _, err := runCLI(t, "--config", path, "--init-db", "--setup-admin")
	assert.Error(t, err)
}

func TestRoot_BadLogLevel(t *testing.T) {
	path := writeConfig(t, "")
	_, _, err := runCLI(t, "--config", path, "--db-backend", "memory", "--log-level", "chatty")
	require.Error(t, err)
	assert.True(t, isUsageError(err))
}

func TestRoot_CriticalLogLevel(t *testing.T) {
	path := writeConfig(t, "")
	_, _, err := runCLI(t, "--config", path, "--db-backend", "memory", "--log-level", "CRITICAL", "--personality", "machine")
	assert.NoError(t, err)
}

// schemaBackend stubs the two calls runInitDB makes.
type schemaBackend struct {
	backend.Backend
	initErr error
}

func (b *schemaBackend) SupportsPersistence() bool            { return true }
func (b *schemaBackend) InitSchema(ctx context.Context) error { return b.initErr }

func TestRunInitDB(t *testing.T) {
	cause := errors.New("migrate postgresql://bob:Hunter2Secret@db/app: relation exists")
	tests := []struct {
		name    string
		initErr error
		wantOut string
		wantErr string
	}{
		{name: "success", wantOut: "OK: Initialize database schema"},
		{name: "failure is sanitized", initErr: cause, wantErr: "ERROR: Initialize database schema: migrate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			rt := &session{
				sanitizer: sanitize.NewDefault(),
				printer:   ux.NewPrinter(out, errOut, ux.PersonalityMachine),
			}
			err := runInitDB(context.Background(), rt, &backend.Handle{Backend: &schemaBackend{initErr: tt.initErr}})

			if tt.initErr == nil {
				require.NoError(t, err)
				assert.Contains(t, out.String(), tt.wantOut)
				return
			}
			var reported *reportedError
			require.ErrorAs(t, err, &reported)
			assert.ErrorIs(t, err, cause)
			assert.Contains(t, errOut.String(), tt.wantErr)
			assert.NotContains(t, errOut.String(), "Hunter2Secret")
		})
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "minichat dev\n", stdout)
}

func TestExecute_ExitCodes(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvDBBackend, "")
	path := writeConfig(t, "database:\n  backend: sqlite\n")

	assert.Equal(t, exitUsage, execute([]string{"--config", path}))
	assert.Equal(t, exitOK, execute([]string{"version"}))
	assert.Equal(t, exitUsage, execute([]string{"--no-such-flag"}))
}

func TestReportedError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, &reportedError{err: base}, base)
	assert.False(t, isUsageError(&reportedError{err: base}))
}

// -----------------------------------------------------------------------------
// Doctor
// -----------------------------------------------------------------------------

func TestDoctorChecks(t *testing.T) {
	full := platform.ProbeResult{
		OS:              platform.Linux,
		OSRelease:       "6.1.0",
		Installed:       true,
		ClientFound:     true,
		ClientPath:      "/usr/bin/psql",
		ClientInPath:    true,
		Version:         "16.2",
		ReadyCheckFound: true,
		ReadyCheckPath:  "/usr/bin/pg_isready",
		ServiceManagers: []platform.ServiceManager{platform.Systemd},
		Privileged:      true,
	}

	byName := func(checks []ux.Check) map[string]ux.Check {
		m := make(map[string]ux.Check, len(checks))
		for _, c := range checks {
			m[c.Name] = c
		}
		return m
	}

	t.Run("healthy", func(t *testing.T) {
		checks := byName(doctorChecks(full, service.StatusRunning, true))
		assert.Equal(t, "linux 6.1.0", checks["Operating system"].Detail)
		assert.Equal(t, ux.IconSuccess, checks["PostgreSQL installed"].Status)
		assert.Equal(t, "16.2", checks["Server version"].Detail)
		assert.Equal(t, "systemctl", checks["Service manager"].Detail)
		assert.Equal(t, ux.IconSuccess, checks["Service status"].Status)
		_, warned := checks["Privileges"]
		assert.False(t, warned)
	})

	t.Run("not installed", func(t *testing.T) {
		checks := doctorChecks(platform.ProbeResult{OS: platform.Darwin}, service.StatusUnknown, false)
		require.Len(t, checks, 2)
		assert.Equal(t, ux.IconError, checks[1].Status)
	})

	t.Run("stopped without sudo", func(t *testing.T) {
		p := full
		p.Privileged = false
		p.Version = ""
		p.ClientInPath = false
		checks := byName(doctorChecks(p, service.StatusStopped, true))
		assert.Equal(t, ux.IconError, checks["Service status"].Status)
		assert.Equal(t, ux.IconWarning, checks["Server version"].Status)
		assert.Equal(t, ux.IconWarning, checks["PostgreSQL installed"].Status)
		assert.Equal(t, ux.IconWarning, checks["Privileges"].Status)
	})

	t.Run("unknown without check mechanism", func(t *testing.T) {
		checks := byName(doctorChecks(full, service.StatusUnknown, false))
		assert.Equal(t, ux.IconPending, checks["Service status"].Status)
	})
}
