// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package readiness

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/minichat/cmd/minichat/internal/dberr"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/pgadmin"
	"github.com/AleutianAI/minichat/cmd/minichat/internal/platform"
)

// remediationInput is what Remediation needs to know about the failed run.
type remediationInput struct {
	step      Step
	kind      dberr.Kind
	os        platform.OS
	probe     platform.ProbeResult
	startHint string
	target    pgadmin.Target
}

// remediation returns fix steps for a failure, most specific first.
func remediation(in remediationInput) []string {
	if in.kind == dberr.InvalidIdentifier {
		return []string{
			"Use a database name made only of letters, digits and underscores (at most 63 characters)",
			"Set it in the URL path, e.g. postgresql://localhost:5432/" + pgadmin.DefaultDBName,
		}
	}

	switch in.step {
	case StepInstall:
		return platform.InstallCommands(in.os)

	case StepService:
		steps := make([]string, 0, 3)
		if in.startHint != "" {
			steps = append(steps, "Start the service manually: "+in.startHint)
		}
		steps = append(steps, serviceEnableHint(in.os, in.probe)...)
		steps = append(steps, "Check the server log for startup errors")
		return steps

	case StepDBCreate:
		return []string{
			"Create the database manually: createdb " + in.target.DBName,
			fmt.Sprintf("Or grant the role permission: ALTER ROLE %s CREATEDB;", roleName(in.target)),
		}

	case StepSchema:
		return []string{
			"Confirm the role owns the database or has CREATE on schema public",
			"Retry schema creation with: minichat --init-db",
		}
	}

	switch in.kind {
	case dberr.AuthFailed:
		return []string{
			"Check the username and password in --database-url or DATABASE_URL",
			fmt.Sprintf("Confirm pg_hba.conf allows %s to connect from this host", roleName(in.target)),
		}
	case dberr.DatabaseMissing:
		return []string{
			"Create the database manually: createdb " + in.target.DBName,
		}
	default:
		return []string{
			fmt.Sprintf("Confirm PostgreSQL is listening: pg_isready -h %s -p %s", in.target.Host(), strconv.Itoa(int(in.target.Port()))),
			"Check the host and port in --database-url or DATABASE_URL",
		}
	}
}

// serviceEnableHint suggests starting the service at boot with the
// manager that was actually found.
func serviceEnableHint(osFamily platform.OS, probe platform.ProbeResult) []string {
	switch osFamily {
	case platform.Linux:
		switch {
		case probe.HasServiceManager(platform.Systemd):
			return []string{"Enable it at boot: sudo systemctl enable --now postgresql"}
		case probe.HasServiceManager(platform.SysV):
			return []string{"Enable it at boot: sudo update-rc.d postgresql enable"}
		default:
			return nil
		}
	case platform.Darwin:
		if !probe.HasServiceManager(platform.Homebrew) {
			return nil
		}
		return []string{"Enable it at login: brew services start postgresql"}
	case platform.Windows:
		return []string{"Set the postgresql service to Automatic in services.msc"}
	default:
		return nil
	}
}

func roleName(t pgadmin.Target) string {
	if t.Config != nil && t.Config.User != "" {
		return t.Config.User
	}
	return "<your role>"
}
