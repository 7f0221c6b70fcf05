// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix  = "user/"
	emailPrefix = "email/"
)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// MemoryBackend keeps everything in an in-memory BadgerDB. Nothing survives
// Close.
type MemoryBackend struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenMemory opens an empty in-memory store.
//
// Description:
//
//	Opens BadgerDB with InMemory set, synchronous writes off and a single
//	version per key. Badger's own log lines are routed to logger at debug
//	level; a nil logger disables them.
//
// Outputs:
//
//	*MemoryBackend - Caller must call Close() when done.
//	error - Non-nil if badger cannot allocate its tables.
//
// Thread Safety: The returned backend is safe for concurrent use.
func OpenMemory(logger *slog.Logger) (*MemoryBackend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &MemoryBackend{db: db, logger: logger}, nil
}

func (m *MemoryBackend) Info() Info {
	return Info{Name: "In-memory", Type: TypeMemory, Persistent: false}
}

func (m *MemoryBackend) SupportsPersistence() bool { return false }

// InitSchema is a no-op; the store is schemaless.
func (m *MemoryBackend) InitSchema(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryBackend) HasAdminUser(ctx context.Context) (bool, error) {
	found := false
	err := m.withReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(userPrefix), PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var u User
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &u) }); err != nil {
				return err
			}
			if u.Role == RoleAdmin {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check admin users: %w", err)
	}
	return found, nil
}

func (m *MemoryBackend) CreateAdminUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Role = RoleAdmin

	value, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	userKey := []byte(userPrefix + u.Username)
	emailKey := []byte(emailPrefix + strings.ToLower(u.Email))

	err = m.withTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range [][]byte{userKey, emailKey} {
			if _, err := txn.Get(k); err == nil {
				return ErrUserExists
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Set(userKey, value); err != nil {
			return err
		}
		return txn.Set(emailKey, []byte(u.Username))
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return ErrUserExists
		}
		return fmt.Errorf("create admin user: %w", err)
	}
	m.logger.Info("admin user created", "username", u.Username, "backend", TypeMemory)
	return nil
}

func (m *MemoryBackend) Close() error {
	return m.db.Close()
}

func (m *MemoryBackend) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Update(fn)
}

func (m *MemoryBackend) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.View(fn)
}

var _ Backend = (*MemoryBackend)(nil)
