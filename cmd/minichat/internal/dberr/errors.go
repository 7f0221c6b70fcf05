// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dberr defines the error taxonomy for database backend readiness.
//
// Each component reports failures as *Error with a Kind. Every Kind has a
// sentinel, so callers match with errors.Is:
//
//	if errors.Is(err, dberr.ErrAuthFailed) { ... }
//
// Kinds NotInstalled through SchemaInitFailed describe an unavailable
// environment and allow an in-memory fallback. InvalidIdentifier,
// InvalidURL and AbortedByUser never do.
package dberr

import (
	"errors"
)

// Kind classifies a readiness failure.
type Kind int

const (
	// KindUnknown is the zero value; it is never produced deliberately.
	KindUnknown Kind = iota

	// NotInstalled means the PostgreSQL client tools were not found.
	NotInstalled

	// ServiceUnavailable means the server is not running and could not be started.
	ServiceUnavailable

	// DatabaseMissing means the server answered but the target database does not exist.
	DatabaseMissing

	// DatabaseCreateFailed means CREATE DATABASE was rejected.
	DatabaseCreateFailed

	// AuthFailed means the server rejected the credentials.
	AuthFailed

	// Unreachable means no connection could be established (host, port, socket, timeout).
	Unreachable

	// SchemaInitFailed means migrations could not be applied.
	SchemaInitFailed

	// InvalidIdentifier means a database name failed the safe-identifier check.
	InvalidIdentifier

	// AbortedByUser means the user declined the in-memory fallback.
	AbortedByUser

	// InvalidURL means the connection string could not be parsed.
	InvalidURL
)

// String returns the upper-snake name of the kind.
func (k Kind) String() string {
	switch k {
	case NotInstalled:
		return "NOT_INSTALLED"
	case ServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case DatabaseMissing:
		return "DATABASE_MISSING"
	case DatabaseCreateFailed:
		return "DATABASE_CREATE_FAILED"
	case AuthFailed:
		return "AUTH_FAILED"
	case Unreachable:
		return "UNREACHABLE"
	case SchemaInitFailed:
		return "SCHEMA_INIT_FAILED"
	case InvalidIdentifier:
		return "INVALID_IDENTIFIER"
	case AbortedByUser:
		return "ABORTED_BY_USER"
	case InvalidURL:
		return "INVALID_URL"
	default:
		return "UNKNOWN"
	}
}

// FallbackEligible reports whether memory mode is a safe substitute.
func (k Kind) FallbackEligible() bool {
	return k >= NotInstalled && k <= SchemaInitFailed
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrNotInstalled         = errors.New("postgresql is not installed")
	ErrServiceUnavailable   = errors.New("postgresql service unavailable")
	ErrDatabaseMissing      = errors.New("database does not exist")
	ErrDatabaseCreateFailed = errors.New("database creation failed")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrUnreachable          = errors.New("database server unreachable")
	ErrSchemaInitFailed     = errors.New("schema initialization failed")
	ErrInvalidIdentifier    = errors.New("invalid database identifier")
	ErrAbortedByUser        = errors.New("aborted by user")
	ErrInvalidURL           = errors.New("invalid database URL")
)

var sentinels = map[Kind]error{
	NotInstalled:         ErrNotInstalled,
	ServiceUnavailable:   ErrServiceUnavailable,
	DatabaseMissing:      ErrDatabaseMissing,
	DatabaseCreateFailed: ErrDatabaseCreateFailed,
	AuthFailed:           ErrAuthFailed,
	Unreachable:          ErrUnreachable,
	SchemaInitFailed:     ErrSchemaInitFailed,
	InvalidIdentifier:    ErrInvalidIdentifier,
	AbortedByUser:        ErrAbortedByUser,
	InvalidURL:           ErrInvalidURL,
}

// Error is a classified readiness failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is a short, user-facing summary.
	Message string

	// Detail carries technical context. It must already be sanitized.
	Detail string

	// Err is the underlying cause (may be nil).
	Err error
}

// Error returns the short message.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if s, ok := sentinels[e.Kind]; ok {
		return s.Error()
	}
	return "database readiness failure"
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

