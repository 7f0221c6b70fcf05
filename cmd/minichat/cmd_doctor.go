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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/process"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/service"
	"github.com/AleutianAI/minichat/pkg/ux"
	"github.com/spf13/cobra"
)

// runDoctor prints what the readiness checks would see. It never starts a
// service or creates a database.
func runDoctor(cmd *cobra.Command, opts *cliOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	logger := rt.slogger()
	timeouts := rt.cfg.Timeouts()
	proc := process.NewDefaultManager(timeouts.Command)
	probe := platform.NewDefaultProber(proc, platform.WithLogger(logger)).Probe(ctx)

	svcCfg := service.Config{ServiceName: rt.cfg.Database.ServiceName}
	target, targetErr := pgadmin.ParseTarget(rt.cfg.Database.URL, rt.cfg.Database.Name)
	if targetErr == nil {
		svcCfg.Host, svcCfg.Port = target.Host(), target.Port()
	}

	var status service.Status
	var canCheck bool
	if probe.Installed {
		ctrl := service.NewController(proc, probe, svcCfg, service.WithLogger(logger))
		status = ctrl.CheckRunning(ctx)
		canCheck = ctrl.CanCheck()
	}

	checks := doctorChecks(probe, status, canCheck)
	if targetErr != nil {
		checks = append(checks, ux.Check{Name: "Database URL", Status: ux.IconError, Detail: "could not be parsed"})
	} else if pgadmin.ValidateIdentifier(target.DBName) != nil {
		checks = append(checks, ux.Check{Name: "Database name", Status: ux.IconError, Detail: "invalid identifier"})
	} else {
		checks = append(checks, ux.Check{Name: "Database name", Status: ux.IconSuccess, Detail: target.DBName})
	}
	rt.printer.Checklist("PostgreSQL diagnostics", checks)

	if !probe.Installed {
		rt.printer.Info("Install PostgreSQL:")
		for _, c := range platform.InstallCommands(probe.OS) {
			rt.printer.Muted("  " + c)
		}
	}
	return nil
}

// doctorChecks turns a probe and service status into checklist lines.
func doctorChecks(probe platform.ProbeResult, status service.Status, canCheck bool) []ux.Check {
	checks := []ux.Check{
		{Name: "Operating system", Status: ux.IconBullet, Detail: joinNonEmpty(string(probe.OS), probe.OSRelease)},
	}

	if !probe.Installed {
		return append(checks, ux.Check{Name: "PostgreSQL installed", Status: ux.IconError, Detail: "psql not found"})
	}

	installed := ux.Check{Name: "PostgreSQL installed", Status: ux.IconSuccess, Detail: probe.ClientPath}
	if !probe.ClientInPath {
		installed.Status = ux.IconWarning
		installed.Detail = probe.ClientPath + ", not on PATH"
	}
	checks = append(checks, installed)

	version := ux.Check{Name: "Server version", Status: ux.IconSuccess, Detail: probe.Version}
	if probe.Version == "" {
		version = ux.Check{Name: "Server version", Status: ux.IconWarning, Detail: "unknown (pg_config not found)"}
	}
	checks = append(checks, version)

	ready := ux.Check{Name: "pg_isready", Status: ux.IconSuccess, Detail: probe.ReadyCheckPath}
	if !probe.ReadyCheckFound {
		ready = ux.Check{Name: "pg_isready", Status: ux.IconWarning, Detail: "not found"}
	}
	checks = append(checks, ready)

	managers := make([]string, 0, len(probe.ServiceManagers))
	for _, sm := range probe.ServiceManagers {
		managers = append(managers, string(sm))
	}
	if len(managers) == 0 {
		checks = append(checks, ux.Check{Name: "Service manager", Status: ux.IconWarning, Detail: "none found"})
	} else {
		checks = append(checks, ux.Check{Name: "Service manager", Status: ux.IconSuccess, Detail: strings.Join(managers, ", ")})
	}

	switch {
	case status == service.StatusRunning:
		checks = append(checks, ux.Check{Name: "Service status", Status: ux.IconSuccess, Detail: status.String()})
	case status == service.StatusUnknown && !canCheck:
		checks = append(checks, ux.Check{Name: "Service status", Status: ux.IconPending, Detail: "cannot be checked on this host"})
	default:
		checks = append(checks, ux.Check{Name: "Service status", Status: ux.IconError, Detail: status.String()})
	}

	if !probe.Privileged && !probe.SudoFound {
		checks = append(checks, ux.Check{Name: "Privileges", Status: ux.IconWarning, Detail: "not elevated and sudo not found; starting the service may fail"})
	}
	return checks
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
