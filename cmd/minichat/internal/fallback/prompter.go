// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter errors.
var (
	// ErrNonInteractive is returned when input would be required but none can be read.
	ErrNonInteractive = errors.New("interactive input required but running non-interactively")

	// ErrCancelled is returned when the user interrupts a prompt.
	ErrCancelled = errors.New("prompt cancelled")

	// ErrEmptyInput is returned by Ask when a required value was left blank.
	ErrEmptyInput = errors.New("a value is required")
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// UserPrompter asks the user questions.
//
// # Description
//
// The resolver and the admin setup never read the terminal directly; they
// go through this interface so tests and --yes can replace the terminal.
//
// # Thread Safety
//
// Implementations need not be safe for concurrent prompts.
type UserPrompter interface {
	// Confirm asks a yes/no question. The default answer is No.
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Ask reads one line of text. Leading and trailing spaces are removed.
	Ask(ctx context.Context, prompt string) (string, error)

	// AskSecret reads one line without echo. The caller owns the returned
	// bytes and should wipe them when done.
	AskSecret(ctx context.Context, prompt string) ([]byte, error)

	// IsInteractive reports whether a human can answer.
	IsInteractive() bool
}

// -----------------------------------------------------------------------------
// InteractivePrompter
// -----------------------------------------------------------------------------

// InteractivePrompter reads answers from a reader, normally stdin.
type InteractivePrompter struct {
	in     *bufio.Reader
	out    io.Writer
	secret func() ([]byte, error)

	mu      sync.Mutex
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// NewInteractivePrompter prompts on stdout and reads stdin. Secrets are
// read with echo disabled when stdin is a terminal.
func NewInteractivePrompter() *InteractivePrompter {
	p := NewInteractivePrompterWithIO(os.Stdin, os.Stdout)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.secret = func() ([]byte, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(p.out)
			return b, err
		}
	}
	return p
}

// NewInteractivePrompterWithIO uses the given streams. Secrets are read as
// plain lines, which suits tests and piped input.
func NewInteractivePrompterWithIO(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{in: bufio.NewReader(in), out: out}
}

// Confirm prints prompt followed by "(y/N): ". Only y or yes (any case)
// accept. EOF declines without error.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s (y/N): ", prompt)

	line, err := p.readLine(ctx)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(p.out)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Ask prints "prompt: " and returns the trimmed answer. A blank answer is
// ErrEmptyInput; EOF is ErrCancelled.
func (p *InteractivePrompter) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s: ", prompt)

	line, err := p.readLine(ctx)
	if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
		return "", ErrCancelled
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return "", ErrEmptyInput
	}
	return answer, nil
}

// AskSecret prints "prompt: " and reads a line with echo disabled when possible.
func (p *InteractivePrompter) AskSecret(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprintf(p.out, "%s: ", prompt)

	if p.secret != nil {
		b, err := p.secret()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return b, nil
	}

	line, err := p.readLine(ctx)
	if errors.Is(err, io.EOF) && line == "" {
		return nil, ErrCancelled
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// IsInteractive always returns true.
func (p *InteractivePrompter) IsInteractive() bool { return true }

// readLine reads up to and including '\n', returning early if ctx ends.
//
// A read abandoned by cancellation stays pending and the next call collects
// its line, so at most one goroutine ever reads from the input.
func (p *InteractivePrompter) readLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	ch := p.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		p.pending = ch
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- lineResult{line, err}
		}()
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		return strings.TrimRight(r.line, "\r\n"), r.err
	}
}

// -----------------------------------------------------------------------------
// NonInteractivePrompter
// -----------------------------------------------------------------------------

// NonInteractivePrompter refuses every question.
type NonInteractivePrompter struct{}

// NewNonInteractivePrompter creates a prompter for scripts and CI.
func NewNonInteractivePrompter() *NonInteractivePrompter { return &NonInteractivePrompter{} }

func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, ErrNonInteractive
}

func (p *NonInteractivePrompter) Ask(ctx context.Context, prompt string) (string, error) {
	return "", ErrNonInteractive
}

func (p *NonInteractivePrompter) AskSecret(ctx context.Context, prompt string) ([]byte, error) {
	return nil, ErrNonInteractive
}

func (p *NonInteractivePrompter) IsInteractive() bool { return false }

// -----------------------------------------------------------------------------
// AutoApprovePrompter
// -----------------------------------------------------------------------------

// AutoApprovePrompter answers yes to every confirmation (--yes). It cannot
// supply free-form answers.
type AutoApprovePrompter struct{}

// NewAutoApprovePrompter creates a prompter that always confirms.
func NewAutoApprovePrompter() *AutoApprovePrompter { return &AutoApprovePrompter{} }

func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

func (p *AutoApprovePrompter) Ask(ctx context.Context, prompt string) (string, error) {
	return "", ErrNonInteractive
}

func (p *AutoApprovePrompter) AskSecret(ctx context.Context, prompt string) ([]byte, error) {
	return nil, ErrNonInteractive
}

func (p *AutoApprovePrompter) IsInteractive() bool { return false }

// -----------------------------------------------------------------------------
// MockPrompter
// -----------------------------------------------------------------------------

// PromptCall records one call to MockPrompter.
type PromptCall struct {
	Method string
	Prompt string
}

// MockPrompter is a test double. Calls to a method whose func is nil panic.
type MockPrompter struct {
	ConfirmFunc       func(ctx context.Context, prompt string) (bool, error)
	AskFunc           func(ctx context.Context, prompt string) (string, error)
	AskSecretFunc     func(ctx context.Context, prompt string) ([]byte, error)
	IsInteractiveFunc func() bool

	Calls []PromptCall
	mu    sync.Mutex
}

func (m *MockPrompter) record(method, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, PromptCall{Method: method, Prompt: prompt})
}

func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.record("Confirm", prompt)
	if m.ConfirmFunc == nil {
		panic("MockPrompter.ConfirmFunc not set")
	}
	return m.ConfirmFunc(ctx, prompt)
}

func (m *MockPrompter) Ask(ctx context.Context, prompt string) (string, error) {
	m.record("Ask", prompt)
	if m.AskFunc == nil {
		panic("MockPrompter.AskFunc not set")
	}
	return m.AskFunc(ctx, prompt)
}

func (m *MockPrompter) AskSecret(ctx context.Context, prompt string) ([]byte, error) {
	m.record("AskSecret", prompt)
	if m.AskSecretFunc == nil {
		panic("MockPrompter.AskSecretFunc not set")
	}
	return m.AskSecretFunc(ctx, prompt)
}

// IsInteractive defaults to true.
func (m *MockPrompter) IsInteractive() bool {
	if m.IsInteractiveFunc == nil {
		return true
	}
	return m.IsInteractiveFunc()
}

// Reset clears recorded calls.
func (m *MockPrompter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var (
	_ UserPrompter = (*InteractivePrompter)(nil)
	_ UserPrompter = (*NonInteractivePrompter)(nil)
	_ UserPrompter = (*AutoApprovePrompter)(nil)
	_ UserPrompter = (*MockPrompter)(nil)
)
