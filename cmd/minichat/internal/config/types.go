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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/readiness"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/util"
	"github.com/go-playground/validator/v10"
)

type MinichatConfig struct {
	// Database: which backend to use and how to reach PostgreSQL
	Database DatabaseConfig `yaml:"database"`

	// Logging: level and optional JSON log directory
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry: readiness metrics and traces
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type DatabaseConfig struct {
	Backend          string        `yaml:"backend" validate:"oneof=postgresql postgres memory auto"`
	URL              string        `yaml:"url" validate:"required"`
	Name             string        `yaml:"name,omitempty" validate:"omitempty,max=63"`
	FallbackToMemory bool          `yaml:"fallback_to_memory"`
	ServiceName      string        `yaml:"service_name" validate:"required"`
	SettleDelay      time.Duration `yaml:"settle_delay" validate:"min=0"`
	CommandTimeout   time.Duration `yaml:"command_timeout" validate:"min=0"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" validate:"min=0"`
	SchemaTimeout    time.Duration `yaml:"schema_timeout" validate:"min=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error critical"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	// Metrics enables the prometheus readiness collectors.
	Metrics bool `yaml:"metrics"`

	// MetricsFile receives the metrics in text exposition format after each run.
	MetricsFile string `yaml:"metrics_file,omitempty"`

	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

func DefaultConfig() MinichatConfig {
	return MinichatConfig{
		Database: DatabaseConfig{
			Backend:        string(readiness.BackendPostgreSQL),
			URL:            pgadmin.DefaultURL,
			ServiceName:    "postgresql",
			SettleDelay:    util.DefaultSettleDelay,
			CommandTimeout: util.DefaultCommandTimeout,
			ConnectTimeout: util.DefaultConnectTimeout,
			SchemaTimeout:  util.DefaultSchemaTimeout,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c MinichatConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %q)", fieldPath(fe.Namespace()), fe.Tag(), redactValue(fe)))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func redactValue(fe validator.FieldError) string {
	if fe.StructField() == "URL" {
		return "<redacted>"
	}
	return fmt.Sprint(fe.Value())
}

// Timeouts maps the database section to the readiness timeouts.
func (c MinichatConfig) Timeouts() util.TimeoutConfig {
	return util.TimeoutConfig{
		Command:     c.Database.CommandTimeout,
		Connect:     c.Database.ConnectTimeout,
		Schema:      c.Database.SchemaTimeout,
		SettleDelay: c.Database.SettleDelay,
	}.Validated()
}

// BackendConfig builds the readiness input. The backend string must already
// have passed Validate.
func (c MinichatConfig) BackendConfig(interactive bool) (readiness.BackendConfig, error) {
	bt, err := readiness.ParseBackendType(c.Database.Backend)
	if err != nil {
		return readiness.BackendConfig{}, err
	}
	return readiness.BackendConfig{
		RequestedBackend: bt,
		DatabaseURL:      c.Database.URL,
		FallbackAllowed:  c.Database.FallbackToMemory,
		DBName:           c.Database.Name,
		Interactive:      interactive,
	}, nil
}
