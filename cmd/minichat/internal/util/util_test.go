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
	"errors"
	"fmt"
	"testing"
	"time"
)

// =============================================================================
// CommandError Tests
// =============================================================================

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  NewCommandError("systemctl start postgresql", 1, "  access denied \n", nil),
			want: "systemctl start postgresql (exit 1): access denied",
		},
		{
			name: "with wrapped",
			err:  NewCommandError("brew services start postgresql", 127, "", errors.New("not found")),
			want: "brew services start postgresql (exit 127): not found",
		},
		{
			name: "bare",
			err:  NewCommandError("pg_isready", 2, "", nil),
			want: "pg_isready (exit 2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	base := context.DeadlineExceeded
	err := fmt.Errorf("service check: %w", NewCommandError("systemctl", -1, "", base))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should find the wrapped deadline error")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatal("errors.As should find CommandError")
	}
	if cmdErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", cmdErr.ExitCode)
	}
}

func TestExtractStderr(t *testing.T) {
	inner := NewCommandError("psql", 2, "could not connect", nil)
	outer := NewCommandError("sudo -n systemctl start postgresql", 1, "", inner)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), ""},
		{"direct", inner, "could not connect"},
		{"nested without outer stderr", fmt.Errorf("start: %w", outer), "could not connect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractStderr(tt.err); got != tt.want {
				t.Errorf("ExtractStderr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandLine(t *testing.T) {
	if got := CommandLine("pg_isready"); got != "pg_isready" {
		t.Errorf("CommandLine() = %q", got)
	}
	if got := CommandLine("systemctl", "is-active", "postgresql"); got != "systemctl is-active postgresql" {
		t.Errorf("CommandLine() = %q", got)
	}
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestTimeoutConfig_Validated(t *testing.T) {
	tests := []struct {
		name string
		in   TimeoutConfig
		want TimeoutConfig
	}{
		{
			name: "zero values get defaults",
			in:   TimeoutConfig{},
			want: TimeoutConfig{
				Command:     DefaultCommandTimeout,
				Connect:     DefaultConnectTimeout,
				Schema:      DefaultSchemaTimeout,
				SettleDelay: 0,
			},
		},
		{
			name: "tiny values raised to minimum",
			in: TimeoutConfig{
				Command: time.Millisecond,
				Connect: time.Millisecond,
				Schema:  time.Millisecond,
			},
			want: TimeoutConfig{
				Command: MinCommandTimeout,
				Connect: MinConnectTimeout,
				Schema:  MinCommandTimeout,
			},
		},
		{
			name: "negative settle clamped",
			in:   TimeoutConfig{Command: time.Minute, Connect: time.Minute, Schema: time.Minute, SettleDelay: -time.Second},
			want: TimeoutConfig{Command: time.Minute, Connect: time.Minute, Schema: time.Minute, SettleDelay: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Validated(); got != tt.want {
				t.Errorf("Validated() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEnforceMinTimeout(t *testing.T) {
	if got := EnforceMinTimeout(0, time.Second); got != time.Second {
		t.Errorf("EnforceMinTimeout(0) = %v", got)
	}
	if got := EnforceMinTimeout(5*time.Second, time.Second); got != 5*time.Second {
		t.Errorf("EnforceMinTimeout(5s) = %v", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep(1ms) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(cancelled) = %v, want context.Canceled", err)
	}
}
