// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/backend"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/fallback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingStore struct {
	users []backend.User
	err   error
}

func (s *recordingStore) CreateAdminUser(ctx context.Context, u backend.User) error {
	if s.err != nil {
		return s.err
	}
	s.users = append(s.users, u)
	return nil
}

// scripted answers Ask and AskSecret from fixed values keyed by prompt.
func scripted(answers map[string]string) *fallback.MockPrompter {
	return &fallback.MockPrompter{
		AskFunc: func(ctx context.Context, prompt string) (string, error) {
			v, ok := answers[prompt]
			if !ok {
				return "", fallback.ErrCancelled
			}
			if strings.TrimSpace(v) == "" {
				return "", fallback.ErrEmptyInput
			}
			return strings.TrimSpace(v), nil
		},
		AskSecretFunc: func(ctx context.Context, prompt string) ([]byte, error) {
			v, ok := answers[prompt]
			if !ok {
				return nil, fallback.ErrCancelled
			}
			return []byte(v), nil
		},
	}
}

func validAnswers() map[string]string {
	return map[string]string{
		PromptUsername: "root",
		PromptEmail:    "root@example.com",
		PromptPassword: "correct horse",
		PromptConfirm:  "correct horse",
	}
}

func TestSetup_CreatesAdminWithBcryptHash(t *testing.T) {
	store := &recordingStore{}
	s := NewSetup(scripted(validAnswers()), store, bcrypt.MinCost, nil)

	res, name, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, res)
	assert.Equal(t, "root", name)

	require.Len(t, store.users, 1)
	u := store.users[0]
	assert.Equal(t, "root@example.com", u.Email)
	assert.NotContains(t, string(u.PasswordHash), "correct horse")
	assert.NoError(t, bcrypt.CompareHashAndPassword(u.PasswordHash, []byte("correct horse")))
}

func TestSetup_AskOrder(t *testing.T) {
	p := scripted(validAnswers())
	_, _, err := NewSetup(p, &recordingStore{}, bcrypt.MinCost, nil).Run(context.Background())
	require.NoError(t, err)

	var prompts []string
	for _, c := range p.Calls {
		prompts = append(prompts, c.Method+":"+c.Prompt)
	}
	assert.Equal(t, []string{
		"Ask:" + PromptUsername,
		"Ask:" + PromptEmail,
		"AskSecret:" + PromptPassword,
		"AskSecret:" + PromptConfirm,
	}, prompts)
}

func TestSetup_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(a map[string]string)
		wantErr error
	}{
		{"empty username", func(a map[string]string) { a[PromptUsername] = "  " }, ErrEmptyUsername},
		{"empty email", func(a map[string]string) { a[PromptEmail] = "" }, ErrEmptyEmail},
		{"invalid email", func(a map[string]string) { a[PromptEmail] = "not-an-email" }, ErrInvalidEmail},
		{"empty password", func(a map[string]string) { a[PromptPassword] = "" }, ErrEmptyPassword},
		{"mismatch", func(a map[string]string) { a[PromptConfirm] = "battery staple" }, ErrPasswordMismatch},
		{"too long", func(a map[string]string) {
			long := strings.Repeat("x", 73)
			a[PromptPassword], a[PromptConfirm] = long, long
		}, ErrPasswordTooLong},
		{"long username", func(a map[string]string) { a[PromptUsername] = strings.Repeat("u", 51) }, ErrInvalidUsername},
		{"cancelled", func(a map[string]string) { delete(a, PromptConfirm) }, fallback.ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := validAnswers()
			tt.modify(answers)
			store := &recordingStore{}

			_, _, err := NewSetup(scripted(answers), store, bcrypt.MinCost, nil).Run(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.users)
		})
	}
}

func TestSetup_AlreadyExistsIsNotAnError(t *testing.T) {
	store := &recordingStore{err: backend.ErrUserExists}
	res, name, err := NewSetup(scripted(validAnswers()), store, bcrypt.MinCost, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyExists, res)
	assert.Equal(t, "root", name)
	assert.Equal(t, "already exists", res.String())
}

func TestSetup_StoreError(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	_, _, err := NewSetup(scripted(validAnswers()), store, bcrypt.MinCost, nil).Run(context.Background())
	assert.EqualError(t, err, "disk full")
}

func TestSetup_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	m, err := backend.OpenMemory(nil)
	require.NoError(t, err)
	defer m.Close()

	s := NewSetup(scripted(validAnswers()), m, bcrypt.MinCost, nil)
	res, _, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, res)

	has, err := m.HasAdminUser(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	res, _, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyExists, res)
}

func TestSetup_NonInteractive(t *testing.T) {
	_, _, err := NewSetup(fallback.NewNonInteractivePrompter(), &recordingStore{}, 0, nil).Run(context.Background())
	assert.ErrorIs(t, err, fallback.ErrNonInteractive)
}

func TestSetup_CancelledBeforeStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := scripted(validAnswers())
	answer := p.AskSecretFunc
	p.AskSecretFunc = func(c context.Context, prompt string) ([]byte, error) {
		if prompt == PromptConfirm {
			cancel()
		}
		return answer(c, prompt)
	}
	store := &recordingStore{}

	_, _, err := NewSetup(p, store, bcrypt.MinCost, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.users)
}
