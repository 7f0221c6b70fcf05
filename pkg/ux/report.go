// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
)

// =============================================================================
// Fatal Report
// =============================================================================

// FatalReport is the structured message printed before a non-zero exit.
//
// # Description
//
// Rendered as a problem header, the plain-language cause, the failed step
// and sanitized detail, numbered remediation steps, and finally the
// alternatives (typically the memory-mode flags).
//
// # Limitations
//
// Detail is printed verbatim. Callers must sanitize it first.
type FatalReport struct {
	// Problem is the one-line header, e.g. "Cannot start with PostgreSQL backend".
	Problem string

	// Cause explains the failure in plain language.
	Cause string

	// Step names the readiness step that failed (may be empty).
	Step string

	// Detail carries sanitized technical context (may be empty).
	Detail string

	// Remediation lists manual fix commands, rendered as a numbered list.
	Remediation []string

	// Alternatives lists other ways to run, e.g. "minichat --db-backend memory".
	Alternatives []string
}

// Render formats the report as plain multi-line text.
func (r FatalReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FATAL: %s\n", r.Problem)
	if r.Cause != "" {
		fmt.Fprintf(&b, "\nCause: %s\n", r.Cause)
	}
	if r.Step != "" {
		fmt.Fprintf(&b, "Failed step: %s\n", r.Step)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, "Details: %s\n", r.Detail)
	}
	if len(r.Remediation) > 0 {
		b.WriteString("\nTo fix:\n")
		for i, step := range r.Remediation {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	if len(r.Alternatives) > 0 {
		b.WriteString("\nOr run without persistence:\n")
		for _, alt := range r.Alternatives {
			fmt.Fprintf(&b, "  %s\n", alt)
		}
	}
	return b.String()
}

// Fatal prints a FatalReport. Machine mode writes the plain rendering to Err.
func (p *Printer) Fatal(r FatalReport) {
	if p.level == PersonalityMachine {
		p.printf(p.err, "%s", r.Render())
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", IconError.Render(), Styles.Error.Bold(true).Render("FATAL: "+r.Problem))
	if r.Cause != "" {
		fmt.Fprintf(&b, "\n%s %s\n", Styles.Bold.Render("Cause:"), r.Cause)
	}
	if r.Step != "" {
		fmt.Fprintf(&b, "%s %s\n", Styles.Bold.Render("Failed step:"), r.Step)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, "%s %s\n", Styles.Bold.Render("Details:"), Styles.Muted.Render(r.Detail))
	}
	if len(r.Remediation) > 0 {
		fmt.Fprintf(&b, "\n%s\n", Styles.Title.Render("To fix:"))
		for i, step := range r.Remediation {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	if len(r.Alternatives) > 0 {
		fmt.Fprintf(&b, "\n%s\n", Styles.Subtitle.Render("Or run without persistence:"))
		for _, alt := range r.Alternatives {
			fmt.Fprintf(&b, "  %s %s\n", IconArrow.Render(), Styles.Highlight.Render(alt))
		}
	}
	p.printf(p.err, "%s", b.String())
}

// =============================================================================
// Fallback Warning
// =============================================================================

// FallbackWarning describes a switch to in-memory mode.
type FallbackWarning struct {
	Step   string
	Detail string
	Hint   string
}

// Message returns the one-line warning text.
func (w FallbackWarning) Message() string {
	msg := "PostgreSQL unavailable"
	if w.Step != "" {
		msg += fmt.Sprintf(" (failed step: %s)", w.Step)
	}
	return msg + "; falling back to in-memory mode"
}

// FallbackWarning prints the memory-mode warning with the failed step and a hint.
func (p *Printer) FallbackWarning(w FallbackWarning) {
	var lines []string
	if w.Detail != "" {
		lines = append(lines, "Details: "+w.Detail)
	}
	lines = append(lines, "Data will not persist after exit.")
	if w.Hint != "" {
		lines = append(lines, "Hint: "+w.Hint)
	}

	if p.level == PersonalityMachine {
		p.printf(p.err, "WARN: %s\n", w.Message())
		for _, l := range lines {
			p.printf(p.err, "WARN: %s\n", l)
		}
		return
	}
	p.WarningBox(w.Message(), strings.Join(lines, "\n"))
}

// =============================================================================
// Backend Summary
// =============================================================================

// BackendSummary describes the backend selected at startup.
type BackendSummary struct {
	Name       string
	Type       string
	Persistent bool
	AdminReady bool
}

// BackendSummary prints which backend is active and whether setup is pending.
func (p *Printer) BackendSummary(s BackendSummary) {
	persistence := "persistent"
	if !s.Persistent {
		persistence = "no persistence"
	}
	text := fmt.Sprintf("Using %s backend (%s)", s.Name, persistence)
	if s.Persistent {
		p.Success(text)
	} else {
		p.Warning(text)
	}
	if !s.AdminReady {
		p.Info("No admin user found. Run: minichat --setup-admin")
	}
}

// =============================================================================
// Checklists
// =============================================================================

// Check is one line of a diagnostic checklist.
type Check struct {
	Name   string
	Status Icon
	Detail string
}

// Checklist prints a titled list of checks, one per line.
func (p *Printer) Checklist(title string, checks []Check) {
	if p.level == PersonalityMachine {
		for _, c := range checks {
			p.printf(p.out, "%s\t%s\t%s\n", c.Status, c.Name, c.Detail)
		}
		return
	}
	p.Title(title)
	for _, c := range checks {
		if c.Detail != "" {
			p.printf(p.out, "  %s %s %s\n", c.Status.Render(), c.Name, Styles.Muted.Render("("+c.Detail+")"))
		} else {
			p.printf(p.out, "  %s %s\n", c.Status.Render(), c.Name)
		}
	}
}
