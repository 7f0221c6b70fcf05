// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dberr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{NotInstalled, "NOT_INSTALLED"},
		{ServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{DatabaseMissing, "DATABASE_MISSING"},
		{DatabaseCreateFailed, "DATABASE_CREATE_FAILED"},
		{AuthFailed, "AUTH_FAILED"},
		{Unreachable, "UNREACHABLE"},
		{SchemaInitFailed, "SCHEMA_INIT_FAILED"},
		{InvalidIdentifier, "INVALID_IDENTIFIER"},
		{AbortedByUser, "ABORTED_BY_USER"},
		{InvalidURL, "INVALID_URL"},
		{KindUnknown, "UNKNOWN"},
		{Kind(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestKind_FallbackEligible(t *testing.T) {
	eligible := []Kind{NotInstalled, ServiceUnavailable, DatabaseMissing, DatabaseCreateFailed,
		AuthFailed, Unreachable, SchemaInitFailed}
	for _, k := range eligible {
		if !k.FallbackEligible() {
			t.Errorf("%s should be fallback eligible", k)
		}
	}
	for _, k := range []Kind{KindUnknown, InvalidIdentifier, AbortedByUser, InvalidURL} {
		if k.FallbackEligible() {
			t.Errorf("%s should not be fallback eligible", k)
		}
	}
}

func TestError_IsSentinelAndCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("verify: %w", &Error{Kind: Unreachable, Message: "connection timed out", Err: cause})

	if !errors.Is(err, ErrUnreachable) {
		t.Error("errors.Is(err, ErrUnreachable) = false")
	}
	if errors.Is(err, ErrAuthFailed) {
		t.Error("errors.Is(err, ErrAuthFailed) = true, want false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should remain reachable")
	}
	if KindOf(err) != Unreachable {
		t.Errorf("KindOf() = %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf(plain) should be KindUnknown")
	}
}

func TestError_MessageDefaults(t *testing.T) {
	if got := (&Error{Kind: AuthFailed}).Error(); got != ErrAuthFailed.Error() {
		t.Errorf("Error() = %q", got)
	}
	if got := (&Error{}).Error(); got != "database readiness failure" {
		t.Errorf("Error() = %q", got)
	}
}
