// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/readiness"
	"gopkg.in/yaml.v3"
)

// TestLoad_CreatesDefault verifies first-run config creation.
func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".minichat", "minichat.yaml")
	notice := &bytes.Buffer{}

	cfg, err := Load(path, notice)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !strings.Contains(notice.String(), "First run detected") {
		t.Errorf("notice = %q", notice.String())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal("config file was not created")
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk MinichatConfig
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if onDisk.Database.URL != "postgresql://localhost:5432/mini_llm_chat" {
		t.Errorf("Database.URL = %q", onDisk.Database.URL)
	}
	if cfg.Database.Backend != "postgresql" {
		t.Errorf("Database.Backend = %q", cfg.Database.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minichat.yaml")
	content := "database:\n  backend: auto\n  settle_delay: 1s\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Database.Backend)
	}
	if cfg.Database.SettleDelay != time.Second {
		t.Errorf("SettleDelay = %v, want 1s", cfg.Database.SettleDelay)
	}
	if cfg.Database.ServiceName != "postgresql" {
		t.Errorf("ServiceName default lost: %q", cfg.Database.ServiceName)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_UppercaseLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minichat.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: CRITICAL\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "critical" {
		t.Errorf("Logging.Level = %q, want critical", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minichat.yaml")
	if err := os.WriteFile(path, []byte("database: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Error("Load() expected error for malformed YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabaseURL: "postgresql://app:pw@db:5432/chat",
		EnvDBBackend:   " MEMORY ",
	}
	cfg := DefaultConfig()
	ApplyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Database.URL != "postgresql://app:pw@db:5432/chat" {
		t.Errorf("URL = %q", cfg.Database.URL)
	}
	if cfg.Database.Backend != "memory" {
		t.Errorf("Backend = %q", cfg.Database.Backend)
	}

	untouched := DefaultConfig()
	ApplyEnv(&untouched, func(string) string { return "" })
	if untouched != DefaultConfig() {
		t.Error("empty environment must not change the config")
	}
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")
	p, err := DefaultPath()
	if err != nil || p != "/tmp/custom.yaml" {
		t.Errorf("DefaultPath() = (%q, %v)", p, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *MinichatConfig)
		wantErr string
	}{
		{"valid", func(c *MinichatConfig) {}, ""},
		{"bad backend", func(c *MinichatConfig) { c.Database.Backend = "sqlite" }, "Database.Backend"},
		{"critical level", func(c *MinichatConfig) { c.Logging.Level = "critical" }, ""},
		{"bad level", func(c *MinichatConfig) { c.Logging.Level = "verbose" }, "Logging.Level"},
		{"negative settle", func(c *MinichatConfig) { c.Database.SettleDelay = -time.Second }, "Database.SettleDelay"},
		{"empty url", func(c *MinichatConfig) { c.Database.URL = "" }, "Database.URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RedactsURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = ""
	cfg.Database.Backend = "bogus"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "<redacted>") {
		t.Errorf("URL value not redacted: %v", err)
	}
}

func TestBackendConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Backend = "postgres"
	cfg.Database.FallbackToMemory = true
	cfg.Database.Name = "chat"

	bc, err := cfg.BackendConfig(true)
	if err != nil {
		t.Fatal(err)
	}
	if bc.RequestedBackend != readiness.BackendPostgreSQL || !bc.FallbackAllowed || bc.DBName != "chat" || !bc.Interactive {
		t.Errorf("BackendConfig() = %+v", bc)
	}

	cfg.Database.Backend = "nope"
	if _, err := cfg.BackendConfig(false); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.CommandTimeout = 0
	cfg.Database.SettleDelay = 0

	to := cfg.Timeouts()
	if to.Command <= 0 {
		t.Errorf("Command timeout = %v, zero must fall back to a default", to.Command)
	}
	if to.SettleDelay != 0 {
		t.Errorf("SettleDelay = %v, want 0", to.SettleDelay)
	}
}
