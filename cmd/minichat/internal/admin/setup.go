// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin creates the initial administrator account.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/backend"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/fallback"
	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Prompt labels.
const (
	PromptUsername = "Admin username"
	PromptEmail    = "Admin email"
	PromptPassword = "Admin password"
	PromptConfirm  = "Confirm password"
)

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

var (
	ErrEmptyUsername    = errors.New("username cannot be empty")
	ErrEmptyEmail       = errors.New("email cannot be empty")
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordTooLong  = fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	ErrInvalidEmail     = errors.New("email address is not valid")
	ErrInvalidUsername  = errors.New("username must be at most 50 printable characters")
)

// Result reports what Setup did.
type Result int

const (
	ResultCreated Result = iota
	ResultAlreadyExists
)

func (r Result) String() string {
	if r == ResultAlreadyExists {
		return "already exists"
	}
	return "created"
}

// Store is where the admin is written.
type Store interface {
	CreateAdminUser(ctx context.Context, u backend.User) error
}

// Setup asks for admin credentials and stores the account.
type Setup struct {
	prompter fallback.UserPrompter
	store    Store
	validate *validator.Validate
	cost     int
	logger   *slog.Logger
}

// NewSetup creates a Setup. cost is the bcrypt cost; zero uses bcrypt.DefaultCost.
func NewSetup(prompter fallback.UserPrompter, store Store, cost int, logger *slog.Logger) *Setup {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Setup{
		prompter: prompter,
		store:    store,
		validate: validator.New(),
		cost:     cost,
		logger:   logger,
	}
}

// Run prompts for username, email and password twice, then creates the
// admin. An existing username or email returns ResultAlreadyExists and a
// nil error.
//
// The password only lives in a memguard LockedBuffer until it is hashed.
// Cancelling ctx stops the run before anything is stored; the deferred
// Destroy calls wipe whatever was read.
func (s *Setup) Run(ctx context.Context) (Result, string, error) {
	username, err := s.ask(ctx, PromptUsername, ErrEmptyUsername)
	if err != nil {
		return 0, "", err
	}
	if s.validate.Var(username, "max=50,printascii") != nil {
		return 0, username, ErrInvalidUsername
	}

	email, err := s.ask(ctx, PromptEmail, ErrEmptyEmail)
	if err != nil {
		return 0, username, err
	}
	if s.validate.Var(email, "email,max=255") != nil {
		return 0, username, ErrInvalidEmail
	}

	password, err := s.askSecret(ctx, PromptPassword)
	if err != nil {
		return 0, username, err
	}
	defer password.Destroy()
	if password.Size() > maxPasswordBytes {
		return 0, username, ErrPasswordTooLong
	}

	confirm, err := s.askSecret(ctx, PromptConfirm)
	if err != nil {
		return 0, username, err
	}
	defer confirm.Destroy()
	if !password.EqualTo(confirm.Bytes()) {
		return 0, username, ErrPasswordMismatch
	}
	if err := ctx.Err(); err != nil {
		return 0, username, err
	}

	hash, err := bcrypt.GenerateFromPassword(password.Bytes(), s.cost)
	if err != nil {
		return 0, username, fmt.Errorf("hash password: %w", err)
	}

	err = s.store.CreateAdminUser(ctx, backend.User{Username: username, Email: email, PasswordHash: hash})
	if errors.Is(err, backend.ErrUserExists) {
		s.logger.Info("admin user already exists", "username", username)
		return ResultAlreadyExists, username, nil
	}
	if err != nil {
		return 0, username, err
	}
	return ResultCreated, username, nil
}

func (s *Setup) ask(ctx context.Context, prompt string, empty error) (string, error) {
	v, err := s.prompter.Ask(ctx, prompt)
	if errors.Is(err, fallback.ErrEmptyInput) || (err == nil && v == "") {
		return "", empty
	}
	return v, err
}

// askSecret moves the answer into a locked buffer, wiping the original slice.
func (s *Setup) askSecret(ctx context.Context, prompt string) (*memguard.LockedBuffer, error) {
	raw, err := s.prompter.AskSecret(ctx, prompt)
	if errors.Is(err, fallback.ErrEmptyInput) {
		return nil, ErrEmptyPassword
	}
	if err != nil {
		memguard.WipeBytes(raw)
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyPassword
	}
	return memguard.NewBufferFromBytes(raw), nil
}
