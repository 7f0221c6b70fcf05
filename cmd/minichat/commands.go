// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Flag names shared by the layering code and the tests.
const (
	flagDBBackend   = "db-backend"
	flagDatabaseURL = "database-url"
	flagFallback    = "fallback-to-memory"
	flagInitDB      = "init-db"
	flagSetupAdmin  = "setup-admin"
	flagLogLevel    = "log-level"
	flagConfig      = "config"
	flagPersonality = "personality"
	flagYes         = "yes"
)

// cliOptions holds the parsed flags of one invocation.
type cliOptions struct {
	dbBackend        string
	databaseURL      string
	fallbackToMemory bool
	initDB           bool
	setupAdmin       bool
	logLevel         string
	configPath       string
	personality      string
	yes              bool
}

// newRootCmd builds the command tree. Each call returns fresh state so tests
// can run commands side by side.
func newRootCmd() *cobra.Command {
	return newRootCmdWithOptions(&cliOptions{})
}

// newRootCmdWithOptions binds the flags to opts.
func newRootCmdWithOptions(opts *cliOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "minichat",
		Short: "A terminal chat client with a PostgreSQL or in-memory backend",
		Long: `minichat checks that PostgreSQL is installed, running and initialized
before starting. When it is not, minichat can fall back to an in-memory
backend automatically, after asking, or not at all.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.dbBackend, flagDBBackend, "", "database backend: postgresql, memory or auto")
	pf.StringVar(&opts.databaseURL, flagDatabaseURL, "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	pf.StringVar(&opts.logLevel, flagLogLevel, "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.configPath, flagConfig, "", "config file (default ~/.minichat/minichat.yaml)")
	pf.StringVar(&opts.personality, flagPersonality, "", "output style: full, standard, minimal, machine")

	f := rootCmd.Flags()
	f.BoolVar(&opts.fallbackToMemory, flagFallback, false, "use the in-memory backend if PostgreSQL is unavailable")
	f.BoolVar(&opts.initDB, flagInitDB, false, "initialize the database schema and exit")
	f.BoolVar(&opts.setupAdmin, flagSetupAdmin, false, "create the initial admin user and exit")
	f.BoolVarP(&opts.yes, flagYes, "y", false, "answer yes to the in-memory fallback prompt")
	rootCmd.MarkFlagsMutuallyExclusive(flagInitDB, flagSetupAdmin)
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report the PostgreSQL installation and service status without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the minichat version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("minichat %s\n", version)
		},
	}

	rootCmd.AddCommand(doctorCmd, versionCmd)
	return rootCmd
}
