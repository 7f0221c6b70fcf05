// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process abstracts external process execution for the readiness checks.

Every service manager, readiness tool and client invocation goes through
Manager so the platform prober and service controller can be exercised with
MockManager instead of spawning real processes.

Each Run is bounded by an explicit timeout. A caller-supplied context
deadline that is shorter wins.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Result is the outcome of one child process.
type Result struct {
	// ExitCode is the process exit status, or -1 if it never ran to completion.
	ExitCode int

	// Stdout is the captured standard output.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte
}

// Success reports whether the process exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Manager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// LookPath searches PATH for an executable.
	//
	// Returns exec.ErrNotFound (wrapped) when the executable is absent.
	LookPath(name string) (string, error)

	// Run executes a command synchronously.
	//
	// # Description
	//
	// Runs name with args and waits for it, bounded by the manager's timeout.
	// The Result is always populated as far as possible, including on error,
	// so callers can branch on ExitCode.
	//
	// # Outputs
	//
	//   - Result: exit code and captured output
	//   - error: *util.CommandError on non-zero exit, failure to start, or timeout
	//
	// # Examples
	//
	//	res, err := pm.Run(ctx, "pg_isready", "-h", "localhost", "-p", "5432")
	//	if res.ExitCode == 2 {
	//	    // no response from server
	//	}
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultManager runs real processes with exec.CommandContext.
type DefaultManager struct {
	timeout time.Duration
}

// NewDefaultManager creates a manager that bounds every Run by timeout.
//
// A non-positive timeout falls back to util.DefaultCommandTimeout.
func NewDefaultManager(timeout time.Duration) *DefaultManager {
	return &DefaultManager{
		timeout: util.EnforceMinTimeout(
			util.EnforceDefaultTimeout(timeout, util.DefaultCommandTimeout),
			util.MinCommandTimeout,
		),
	}
}

// Timeout returns the per-call bound.
func (pm *DefaultManager) Timeout() time.Duration {
	return pm.timeout
}

// LookPath wraps exec.LookPath.
func (pm *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes the command and captures stdout and stderr separately.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, pm.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	line := util.CommandLine(name, args...)

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, util.NewCommandError(line, -1, stderr.String(),
			fmt.Errorf("timed out after %s: %w", pm.timeout, ctxErr))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	return res, util.NewCommandError(line, res.ExitCode, stderr.String(), err)
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// MockManager is a test double with configurable behavior.
//
// Unset functions panic when called so tests notice unexpected calls.
//
// # Example
//
//	mock := &MockManager{
//	    LookPathFunc: func(name string) (string, error) { return "/usr/bin/" + name, nil },
//	    RunFunc: func(ctx context.Context, name string, args ...string) (Result, error) {
//	        return Result{ExitCode: 0}, nil
//	    },
//	}
type MockManager struct {
	LookPathFunc func(name string) (string, error)
	RunFunc      func(ctx context.Context, name string, args ...string) (Result, error)

	// Calls records every invocation in order.
	Calls []Call

	mu sync.Mutex
}

// Call records a single mock invocation.
type Call struct {
	Method string
	Name   string
	Args   []string
}

// LookPath records the call and delegates to LookPathFunc.
func (m *MockManager) LookPath(name string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "LookPath", Name: name})
	m.mu.Unlock()
	if m.LookPathFunc == nil {
		panic("MockManager.LookPathFunc not set")
	}
	return m.LookPathFunc(name)
}

// Run records the call and delegates to RunFunc.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) (Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "Run", Name: name, Args: args})
	m.mu.Unlock()
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// Reset clears recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// RunCalls returns only the Run invocations, as command lines.
func (m *MockManager) RunCalls() []string {
	var lines []string
	for _, c := range m.GetCalls() {
		if c.Method == "Run" {
			lines = append(lines, util.CommandLine(c.Name, c.Args...))
		}
	}
	return lines
}

// Compile-time interface checks.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
