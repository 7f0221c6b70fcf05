// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform detects the host OS and the PostgreSQL tooling available on it.
//
// Probing is read-only: executables are located, and the version tool is
// run, but nothing is installed, started or modified. Absence of a tool is a
// normal result, never an error.
package platform

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/process"
	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// OS is the detected operating system family.
type OS string

const (
	Linux   OS = "linux"
	Darwin  OS = "darwin"
	Windows OS = "windows"
	Other   OS = "other"
)

// DetectOS maps a GOOS value to an OS family.
func DetectOS(goos string) OS {
	switch goos {
	case "linux":
		return Linux
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	default:
		return Other
	}
}

// ServiceManager names a service-manager CLI.
type ServiceManager string

const (
	Systemd   ServiceManager = "systemctl"
	SysV      ServiceManager = "service"
	Homebrew  ServiceManager = "brew"
	WindowsSC ServiceManager = "sc"
)

// Executable names probed on every platform.
const (
	ClientTool     = "psql"
	ReadyCheckTool = "pg_isready"
	VersionTool    = "pg_config"
	SudoTool       = "sudo"
)

// serviceManagersByOS lists candidates in preference order.
var serviceManagersByOS = map[OS][]ServiceManager{
	Linux:   {Systemd, SysV},
	Darwin:  {Homebrew},
	Windows: {WindowsSC},
}

// clientSearchPaths are globbed when psql is not on PATH.
var clientSearchPaths = map[OS][]string{
	Linux: {
		"/usr/lib/postgresql/*/bin/psql",
		"/usr/pgsql-*/bin/psql",
	},
	Darwin: {
		"/opt/homebrew/bin/psql",
		"/usr/local/bin/psql",
		"/opt/homebrew/opt/postgresql@*/bin/psql",
		"/Applications/Postgres.app/Contents/Versions/latest/bin/psql",
	},
	Windows: {
		`C:\Program Files\PostgreSQL\*\bin\psql.exe`,
	},
}

// ProbeResult describes the PostgreSQL tooling found on this host.
type ProbeResult struct {
	// OS is the detected family.
	OS OS

	// OSRelease is the kernel or OS build string (may be empty).
	OSRelease string

	// Installed is true when the client tool was found.
	Installed bool

	// Version is the server version reported by pg_config, e.g. "16.2".
	// Empty when pg_config is absent, even if the client exists.
	Version string

	// ClientFound mirrors Installed.
	ClientFound bool

	// ClientPath is the resolved psql path.
	ClientPath string

	// ClientInPath is false when psql was found only in a well-known directory.
	ClientInPath bool

	// ReadyCheckFound is true when pg_isready is available.
	ReadyCheckFound bool

	// ReadyCheckPath is the resolved pg_isready path.
	ReadyCheckPath string

	// ServiceManagers lists the available managers in preference order.
	ServiceManagers []ServiceManager

	// SudoFound is true when sudo is on PATH.
	SudoFound bool

	// Privileged is true when running as root or an elevated Windows token.
	Privileged bool
}

// PreferredServiceManager returns the first available manager.
func (r ProbeResult) PreferredServiceManager() (ServiceManager, bool) {
	if len(r.ServiceManagers) == 0 {
		return "", false
	}
	return r.ServiceManagers[0], true
}

// HasServiceManager reports whether sm was found.
func (r ProbeResult) HasServiceManager(sm ServiceManager) bool {
	for _, m := range r.ServiceManagers {
		if m == sm {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Prober inspects the host for PostgreSQL tooling.
type Prober interface {
	// Probe returns a snapshot of the host. It never fails; missing tools are
	// reported as absent.
	Probe(ctx context.Context) ProbeResult
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultProber locates tools through a process.Manager.
type DefaultProber struct {
	proc   process.Manager
	goos   string
	glob   func(pattern string) ([]string, error)
	sysInf func() SysInfo
	logger *slog.Logger
}

// Option configures a DefaultProber.
type Option func(*DefaultProber)

// WithGOOS overrides runtime.GOOS. Used by tests to simulate other platforms.
func WithGOOS(goos string) Option {
	return func(p *DefaultProber) { p.goos = goos }
}

// WithGlob overrides the filesystem glob used for well-known install paths.
func WithGlob(glob func(pattern string) ([]string, error)) Option {
	return func(p *DefaultProber) { p.glob = glob }
}

// WithSysInfo overrides host information lookup.
func WithSysInfo(fn func() SysInfo) Option {
	return func(p *DefaultProber) { p.sysInf = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *DefaultProber) { p.logger = l }
}

// NewDefaultProber creates a prober for the current host.
func NewDefaultProber(proc process.Manager, opts ...Option) *DefaultProber {
	p := &DefaultProber{
		proc:   proc,
		goos:   runtime.GOOS,
		glob:   filepath.Glob,
		sysInf: hostSysInfo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe looks up every tool concurrently and then queries the version.
func (p *DefaultProber) Probe(ctx context.Context) ProbeResult {
	osFamily := DetectOS(p.goos)
	info := p.sysInf()
	result := ProbeResult{
		OS:         osFamily,
		OSRelease:  info.Release,
		Privileged: info.Privileged,
	}

	candidates := serviceManagersByOS[osFamily]
	found := make([]bool, len(candidates))
	var versionPath string
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		path, inPath := p.findClient(osFamily)
		mu.Lock()
		defer mu.Unlock()
		result.ClientPath = path
		result.ClientFound = path != ""
		result.ClientInPath = inPath
		return nil
	})

	g.Go(func() error {
		path := p.lookPath(ReadyCheckTool)
		mu.Lock()
		defer mu.Unlock()
		result.ReadyCheckPath = path
		result.ReadyCheckFound = path != ""
		return nil
	})

	g.Go(func() error {
		path := p.lookPath(VersionTool)
		mu.Lock()
		defer mu.Unlock()
		versionPath = path
		return nil
	})

	if osFamily != Windows {
		g.Go(func() error {
			ok := p.lookPath(SudoTool) != ""
			mu.Lock()
			defer mu.Unlock()
			result.SudoFound = ok
			return nil
		})
	}

	for i, sm := range candidates {
		g.Go(func() error {
			ok := p.lookPath(string(sm)) != ""
			mu.Lock()
			defer mu.Unlock()
			found[i] = ok
			return nil
		})
	}

	_ = g.Wait()

	for i, sm := range candidates {
		if found[i] {
			result.ServiceManagers = append(result.ServiceManagers, sm)
		}
	}
	result.Installed = result.ClientFound

	// Tools installed beside an off-PATH client are still usable.
	if result.ClientFound && !result.ClientInPath {
		dir := filepath.Dir(result.ClientPath)
		if !result.ReadyCheckFound {
			if path := p.globFirst(filepath.Join(dir, exeName(osFamily, ReadyCheckTool))); path != "" {
				result.ReadyCheckPath = path
				result.ReadyCheckFound = true
			}
		}
		if versionPath == "" {
			versionPath = p.globFirst(filepath.Join(dir, exeName(osFamily, VersionTool)))
		}
	}

	if versionPath != "" {
		result.Version = p.queryVersion(ctx, versionPath)
	}

	p.logger.Debug("platform probe complete",
		"os", result.OS,
		"installed", result.Installed,
		"version", result.Version,
		"client_path", result.ClientPath,
		"ready_check", result.ReadyCheckFound,
		"service_managers", result.ServiceManagers,
	)
	return result
}

func (p *DefaultProber) lookPath(name string) string {
	path, err := p.proc.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

func (p *DefaultProber) findClient(osFamily OS) (string, bool) {
	if path := p.lookPath(ClientTool); path != "" {
		return path, true
	}
	for _, pattern := range clientSearchPaths[osFamily] {
		if path := p.globFirst(os.ExpandEnv(pattern)); path != "" {
			p.logger.Debug("found psql outside PATH", "path", path)
			return path, false
		}
	}
	return "", false
}

func (p *DefaultProber) globFirst(pattern string) string {
	matches, err := p.glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	return newestMatch(matches)
}

// dirVersionPattern finds a major version directory such as "/16/",
// "pgsql-16/", "postgresql@16/" or "\9.6\".
var dirVersionPattern = regexp.MustCompile(`[/\\@-](\d+(?:\.\d+)?)[/\\]`)

// newestMatch picks the path with the highest version directory. Paths
// without one rank lowest.
func newestMatch(matches []string) string {
	best := matches[len(matches)-1]
	bestVer := pathVersion(best)
	for _, m := range matches {
		v := pathVersion(m)
		if v != nil && (bestVer == nil || v.GreaterThan(bestVer)) {
			best, bestVer = m, v
		}
	}
	return best
}

func pathVersion(path string) *semver.Version {
	sub := dirVersionPattern.FindAllStringSubmatch(path, -1)
	if len(sub) == 0 {
		return nil
	}
	v, err := semver.NewVersion(sub[len(sub)-1][1])
	if err != nil {
		return nil
	}
	return v
}

var versionPattern = regexp.MustCompile(`PostgreSQL\s+(\d+(?:\.\d+)*)`)

func (p *DefaultProber) queryVersion(ctx context.Context, path string) string {
	res, err := p.proc.Run(ctx, path, "--version")
	if err != nil {
		p.logger.Debug("pg_config --version failed", "error", err)
		return ""
	}
	return ParseVersion(string(res.Stdout))
}

// ParseVersion extracts "16.2" from output such as "PostgreSQL 16.2 (Ubuntu 16.2-1)".
func ParseVersion(out string) string {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

func exeName(osFamily OS, name string) string {
	if osFamily == Windows {
		return name + ".exe"
	}
	return name
}

// -----------------------------------------------------------------------------
// Host Information
// -----------------------------------------------------------------------------

// SysInfo is OS-level detail gathered alongside the tool probe.
type SysInfo struct {
	Release    string
	Privileged bool
}

// -----------------------------------------------------------------------------
// Install Instructions
// -----------------------------------------------------------------------------

// InstallCommands returns the package-manager commands that install PostgreSQL.
func InstallCommands(osFamily OS) []string {
	switch osFamily {
	case Linux:
		return []string{
			"Ubuntu/Debian: sudo apt install postgresql postgresql-contrib",
			"Fedora/RHEL: sudo dnf install postgresql-server && sudo postgresql-setup --initdb",
		}
	case Darwin:
		return []string{
			"brew install postgresql",
			"brew services start postgresql",
		}
	case Windows:
		return []string{
			"Download the installer from https://www.postgresql.org/download/windows/",
			"Add the PostgreSQL bin directory to PATH",
		}
	default:
		return []string{"Install PostgreSQL from https://www.postgresql.org/download/"}
	}
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// MockProber returns a fixed result and counts calls.
type MockProber struct {
	Result ProbeResult
	Calls  int
	mu     sync.Mutex
}

// Probe records the call and returns Result.
func (m *MockProber) Probe(ctx context.Context) ProbeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.Result
}

var (
	_ Prober = (*DefaultProber)(nil)
	_ Prober = (*MockProber)(nil)
)
