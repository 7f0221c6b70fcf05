// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ~/.minichat/minichat.yaml and layers the environment
// over it. Flags are layered by the caller.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv and DefaultPath.
const (
	EnvConfigPath  = "MINICHAT_CONFIG"
	EnvDatabaseURL = "DATABASE_URL"
	EnvDBBackend   = "DB_BACKEND"
)

// DefaultPath returns $MINICHAT_CONFIG or ~/.minichat/minichat.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".minichat", "minichat.yaml"), nil
}

// Load reads path, creating it with defaults on first run. Fields missing from
// the file keep their default values. notice receives the first-run message
// and may be nil.
func Load(path string, notice io.Writer) (MinichatConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if notice != nil {
			fmt.Fprintf(notice, " First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return MinichatConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return MinichatConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MinichatConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	return cfg, nil
}

// ApplyEnv overrides file values with DATABASE_URL and DB_BACKEND.
func ApplyEnv(cfg *MinichatConfig, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvDBBackend)); v != "" {
		cfg.Database.Backend = strings.ToLower(v)
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	// The file may later hold a database URL with a password.
	return os.WriteFile(path, data, 0o600)
}
