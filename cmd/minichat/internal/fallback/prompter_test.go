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
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// InteractivePrompter Tests
// -----------------------------------------------------------------------------

func TestInteractivePrompter_Confirm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"lowercase y", "y\n", true},
		{"uppercase Y", "Y\n", true},
		{"yes", "yes\n", true},
		{"mixed Yes", "Yes\n", true},
		{"with spaces", "  y  \n", true},
		{"windows line ending", "y\r\n", true},
		{"no", "n\n", false},
		{"empty means default No", "\n", false},
		{"anything else", "sure\n", false},
		{"EOF declines", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewInteractivePrompterWithIO(strings.NewReader(tt.input), &bytes.Buffer{})
			got, err := p.Confirm(context.Background(), "Continue?")
			if err != nil {
				t.Fatalf("Confirm() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Confirm() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestInteractivePrompter_Confirm_PromptText(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewInteractivePrompterWithIO(strings.NewReader("n\n"), out)
	_, _ = p.Confirm(context.Background(), FallbackPrompt)

	got := out.String()
	for _, want := range []string{
		"PostgreSQL database is not available. Would you like to use in-memory mode instead?",
		"Note: In-memory mode has limited functionality and no data persistence.",
		"Continue with in-memory mode? (y/N): ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestInteractivePrompter_Confirm_ContextCancelled(t *testing.T) {
	p := NewInteractivePrompterWithIO(strings.NewReader("y\n"), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Confirm(ctx, "Continue?")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Confirm() error = %v, want context.Canceled", err)
	}
}

func TestInteractivePrompter_CancelledReadKeepsLine(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	p := NewInteractivePrompterWithIO(r, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Ask(ctx, "Username"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ask() error = %v, want context.DeadlineExceeded", err)
	}

	go func() { _, _ = io.WriteString(w, "admin\n") }()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	got, err := p.Ask(ctx2, "Username")
	if err != nil || got != "admin" {
		t.Errorf("Ask() after cancel = (%q, %v), want (admin, nil)", got, err)
	}
}

func TestInteractivePrompter_Ask(t *testing.T) {
	p := NewInteractivePrompterWithIO(strings.NewReader("  admin  \n\n"), &bytes.Buffer{})

	got, err := p.Ask(context.Background(), "Username")
	if err != nil || got != "admin" {
		t.Fatalf("Ask() = (%q, %v), want (admin, nil)", got, err)
	}

	_, err = p.Ask(context.Background(), "Email")
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank answer error = %v, want ErrEmptyInput", err)
	}

	_, err = p.Ask(context.Background(), "Email")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("EOF error = %v, want ErrCancelled", err)
	}
}

func TestInteractivePrompter_Ask_LastLineWithoutNewline(t *testing.T) {
	p := NewInteractivePrompterWithIO(strings.NewReader("admin"), &bytes.Buffer{})
	got, err := p.Ask(context.Background(), "Username")
	if err != nil || got != "admin" {
		t.Errorf("Ask() = (%q, %v)", got, err)
	}
}

func TestInteractivePrompter_AskSecret(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewInteractivePrompterWithIO(strings.NewReader(" s3cret pass \n"), out)

	got, err := p.AskSecret(context.Background(), "Password")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != " s3cret pass " {
		t.Errorf("AskSecret() = %q, spaces must be preserved", got)
	}
	if !strings.Contains(out.String(), "Password: ") {
		t.Errorf("prompt not shown: %q", out.String())
	}
}

func TestInteractivePrompter_IsInteractive(t *testing.T) {
	if !NewInteractivePrompterWithIO(strings.NewReader(""), &bytes.Buffer{}).IsInteractive() {
		t.Error("IsInteractive() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// NonInteractive / AutoApprove Tests
// -----------------------------------------------------------------------------

func TestNonInteractivePrompter_Rejects(t *testing.T) {
	p := NewNonInteractivePrompter()
	ctx := context.Background()

	if _, err := p.Confirm(ctx, "Continue?"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Confirm() error = %v", err)
	}
	if _, err := p.Ask(ctx, "Username"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Ask() error = %v", err)
	}
	if _, err := p.AskSecret(ctx, "Password"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("AskSecret() error = %v", err)
	}
	if p.IsInteractive() {
		t.Error("IsInteractive() = true")
	}
}

func TestAutoApprovePrompter(t *testing.T) {
	p := NewAutoApprovePrompter()
	ok, err := p.Confirm(context.Background(), "Continue with in-memory mode?")
	if err != nil || !ok {
		t.Errorf("Confirm() = (%v, %v), want (true, nil)", ok, err)
	}
	if _, err := p.Ask(context.Background(), "Username"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("Ask() error = %v", err)
	}
	if p.IsInteractive() {
		t.Error("IsInteractive() = true, want false for auto-approve")
	}
}

// -----------------------------------------------------------------------------
// MockPrompter Tests
// -----------------------------------------------------------------------------

func TestMockPrompter(t *testing.T) {
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, prompt string) (bool, error) { return true, nil },
	}
	_, _ = mock.Confirm(context.Background(), "a")
	_, _ = mock.Confirm(context.Background(), "b")

	if len(mock.Calls) != 2 || mock.Calls[1].Method != "Confirm" || mock.Calls[1].Prompt != "b" {
		t.Errorf("Calls = %+v", mock.Calls)
	}
	if !mock.IsInteractive() {
		t.Error("IsInteractive() default = false, want true")
	}

	mock.Reset()
	if len(mock.Calls) != 0 {
		t.Errorf("Reset() left %d calls", len(mock.Calls))
	}
}

func TestMockPrompter_NilFuncPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unset AskFunc")
		}
	}()
	(&MockPrompter{}).Ask(context.Background(), "x")
}
