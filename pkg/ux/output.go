// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the minichat CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - deep ocean teals with standard semantic colors
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes personality-aware output. Regular output goes to Out;
// machine-mode warnings and errors go to Err.
//
// Printer is safe for concurrent use.
type Printer struct {
	out   io.Writer
	err   io.Writer
	level PersonalityLevel
	mu    sync.Mutex
}

// NewPrinter creates a Printer. Nil writers default to stdout/stderr.
func NewPrinter(out, errOut io.Writer, level PersonalityLevel) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if level == "" {
		level = PersonalityStandard
	}
	return &Printer{out: out, err: errOut, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

// Out returns the primary writer.
func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) printf(w io.Writer, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

// Title prints a styled title. Suppressed in machine mode.
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	p.printf(p.out, "%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf(p.out, "OK: %s\n", text)
	case PersonalityMinimal:
		p.printf(p.out, "%s %s\n", IconSuccess.Render(), text)
	default:
		p.printf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf(p.err, "WARN: %s\n", text)
	case PersonalityMinimal:
		p.printf(p.out, "%s %s\n", IconWarning.Render(), text)
	default:
		p.printf(p.out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf(p.err, "ERROR: %s\n", text)
	case PersonalityMinimal:
		p.printf(p.out, "%s %s\n", IconError.Render(), text)
	default:
		p.printf(p.out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.level == PersonalityMachine {
		p.printf(p.out, "%s\n", text)
		return
	}
	p.printf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Suppressed in machine mode.
func (p *Printer) Muted(text string) {
	if p.level == PersonalityMachine {
		return
	}
	p.printf(p.out, "%s\n", Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.level == PersonalityMachine || p.level == PersonalityMinimal {
		p.printf(p.out, "%s: %s\n", title, content)
		return
	}
	p.printf(p.out, "%s\n", Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	if p.level == PersonalityMachine {
		p.printf(p.err, "WARN %s: %s\n", title, content)
		return
	}
	if p.level == PersonalityMinimal {
		p.printf(p.out, "%s %s\n%s\n", IconWarning.Render(), title, content)
		return
	}
	p.printf(p.out, "%s\n", Styles.WarningBox.Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}
