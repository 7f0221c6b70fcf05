// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend provides the storage backends selected at startup and the
// manager that chooses between them.
package backend

import (
	"context"
	"errors"
	"time"
)

// Backend types reported by Info.
const (
	TypePostgreSQL = "postgresql"
	TypeMemory     = "memory"
)

// RoleAdmin is the role stored for administrators.
const RoleAdmin = "admin"

// ErrUserExists is returned when a username or email is already taken.
var ErrUserExists = errors.New("user already exists")

// Info describes a backend.
type Info struct {
	Name        string
	Type        string
	Persistent  bool
	Initialized bool
}

// User is a stored account. PasswordHash is a bcrypt hash, never a password.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	Role         string
	CreatedAt    time.Time
}

// Backend is the storage the application runs on.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Info describes the backend.
	Info() Info

	// SupportsPersistence reports whether data survives a restart.
	SupportsPersistence() bool

	// InitSchema creates the tables the application needs. Idempotent.
	InitSchema(ctx context.Context) error

	// HasAdminUser reports whether at least one admin exists.
	HasAdminUser(ctx context.Context) (bool, error)

	// CreateAdminUser stores u with the admin role. It returns ErrUserExists
	// when the username or email is taken.
	CreateAdminUser(ctx context.Context, u User) error

	// Close releases connections and memory.
	Close() error
}
