// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/process"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
)

// Strategy queries and starts the PostgreSQL service through one service manager.
type Strategy interface {
	// Name identifies the strategy in logs ("systemd", "sysv", ...).
	Name() string

	// Check returns the service status according to the manager.
	Check(ctx context.Context) Status

	// Start issues a single start command. It does not wait for readiness.
	Start(ctx context.Context) error

	// StartCommand is the command line Start runs, for remediation text.
	StartCommand() string
}

// privilege wraps a command in "sudo -n" when required.
type privilege struct {
	useSudo bool
}

func (p privilege) wrap(name string, args ...string) (string, []string) {
	if !p.useSudo {
		return name, args
	}
	return platform.SudoTool, append([]string{"-n", name}, args...)
}

func runStart(ctx context.Context, proc process.Manager, name string, args ...string) error {
	res, err := proc.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if !res.Success() {
		return util.NewCommandError(util.CommandLine(name, args...), res.ExitCode, string(res.Stderr), nil)
	}
	return nil
}

// -----------------------------------------------------------------------------
// systemd
// -----------------------------------------------------------------------------

type systemdStrategy struct {
	proc process.Manager
	unit string
	priv privilege
}

func (s *systemdStrategy) Name() string { return "systemd" }

// Check runs "systemctl is-active". Only "active" is RUNNING.
func (s *systemdStrategy) Check(ctx context.Context) Status {
	res, _ := s.proc.Run(ctx, string(platform.Systemd), "is-active", s.unit)
	state := strings.TrimSpace(string(res.Stdout))
	switch {
	case res.ExitCode == 0 && state == "active":
		return StatusRunning
	case state == "inactive" || state == "failed" || state == "activating" || state == "deactivating":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func (s *systemdStrategy) Start(ctx context.Context) error {
	name, args := s.priv.wrap(string(platform.Systemd), "start", s.unit)
	return runStart(ctx, s.proc, name, args...)
}

func (s *systemdStrategy) StartCommand() string {
	return util.CommandLine("sudo", string(platform.Systemd), "start", s.unit)
}

// -----------------------------------------------------------------------------
// SysV init
// -----------------------------------------------------------------------------

type sysvStrategy struct {
	proc process.Manager
	unit string
	priv privilege
}

func (s *sysvStrategy) Name() string { return "sysv" }

// Check runs "service <unit> status". LSB exit codes 1-3 mean not running.
func (s *sysvStrategy) Check(ctx context.Context) Status {
	res, _ := s.proc.Run(ctx, string(platform.SysV), s.unit, "status")
	switch res.ExitCode {
	case 0:
		return StatusRunning
	case 1, 2, 3:
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func (s *sysvStrategy) Start(ctx context.Context) error {
	name, args := s.priv.wrap(string(platform.SysV), s.unit, "start")
	return runStart(ctx, s.proc, name, args...)
}

func (s *sysvStrategy) StartCommand() string {
	return util.CommandLine("sudo", string(platform.SysV), s.unit, "start")
}

// -----------------------------------------------------------------------------
// Homebrew services
// -----------------------------------------------------------------------------

// homebrewStrategy never uses sudo; brew services run per user.
type homebrewStrategy struct {
	proc    process.Manager
	formula string
}

func (s *homebrewStrategy) Name() string { return "homebrew" }

// Check parses "brew services list". Versioned formulae such as
// postgresql@16 match a configured "postgresql".
func (s *homebrewStrategy) Check(ctx context.Context) Status {
	res, err := s.proc.Run(ctx, string(platform.Homebrew), "services", "list")
	if err != nil || !res.Success() {
		return StatusUnknown
	}
	_, status, ok := parseBrewServices(res.Stdout, s.formula)
	if !ok {
		return StatusUnknown
	}
	switch status {
	case "started":
		return StatusRunning
	case "stopped", "none", "error", "unknown":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func (s *homebrewStrategy) Start(ctx context.Context) error {
	formula := s.formula
	if res, err := s.proc.Run(ctx, string(platform.Homebrew), "services", "list"); err == nil && res.Success() {
		if name, _, ok := parseBrewServices(res.Stdout, s.formula); ok {
			formula = name
		}
	}
	return runStart(ctx, s.proc, string(platform.Homebrew), "services", "start", formula)
}

func (s *homebrewStrategy) StartCommand() string {
	return util.CommandLine(string(platform.Homebrew), "services", "start", s.formula)
}

// parseBrewServices finds the first row whose name equals formula or
// formula@version. Returns the row's name and status column.
func parseBrewServices(out []byte, formula string) (name, status string, ok bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] == "Name" {
			continue
		}
		if fields[0] == formula || strings.HasPrefix(fields[0], formula+"@") {
			return fields[0], strings.ToLower(fields[1]), true
		}
	}
	return "", "", false
}

// -----------------------------------------------------------------------------
// Windows service control
// -----------------------------------------------------------------------------

type windowsStrategy struct {
	proc    process.Manager
	service string
}

func (s *windowsStrategy) Name() string { return "windows" }

// Check parses the STATE line of "sc query".
func (s *windowsStrategy) Check(ctx context.Context) Status {
	res, _ := s.proc.Run(ctx, string(platform.WindowsSC), "query", s.service)
	if res.ExitCode != 0 {
		return StatusUnknown
	}
	sc := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "STATE") {
			continue
		}
		switch {
		case strings.Contains(line, "RUNNING"):
			return StatusRunning
		case strings.Contains(line, "STOPPED"), strings.Contains(line, "STOP_PENDING"):
			return StatusStopped
		}
	}
	return StatusUnknown
}

func (s *windowsStrategy) Start(ctx context.Context) error {
	return runStart(ctx, s.proc, "net", "start", s.service)
}

func (s *windowsStrategy) StartCommand() string {
	return util.CommandLine("net", "start", s.service)
}

// -----------------------------------------------------------------------------
// Selection
// -----------------------------------------------------------------------------

// StrategyFor picks the strategy for the probed platform, or nil when no
// service manager is available.
func StrategyFor(probe platform.ProbeResult, proc process.Manager, serviceName string) Strategy {
	sm, ok := probe.PreferredServiceManager()
	if !ok {
		return nil
	}
	priv := privilege{useSudo: probe.OS != platform.Windows && !probe.Privileged && probe.SudoFound}

	switch sm {
	case platform.Systemd:
		return &systemdStrategy{proc: proc, unit: serviceName, priv: priv}
	case platform.SysV:
		return &sysvStrategy{proc: proc, unit: serviceName, priv: priv}
	case platform.Homebrew:
		return &homebrewStrategy{proc: proc, formula: serviceName}
	case platform.WindowsSC:
		return &windowsStrategy{proc: proc, service: serviceName}
	default:
		panic(fmt.Sprintf("service: unhandled service manager %q", sm))
	}
}
