// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the diagreport CLI.
package ux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Printer writes styled messages to one writer.
//
// # Description
//
// The level decides the rendering: PersonalityFull colors text and draws
// boxes, PersonalityMinimal prints icons only and PersonalityMachine
// prints prefixed or tab separated lines that are stable for scripts.
//
// # Examples
//
//	p := ux.NewPrinter(cmd.OutOrStdout(), ux.DetectLevel(os.Stdout))
//	p.Success("report written")
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel { return p.level }

func (p *Printer) render(style lipgloss.Style, s string) string {
	if p.level != PersonalityFull {
		return s
	}
	return style.Render(s)
}

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	fmt.Fprintln(p.w, p.render(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(Styles.Success, string(IconSuccess)), text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(Styles.Warning, string(IconWarning)), p.render(Styles.Warning, text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(Styles.Error, string(IconError)), p.render(Styles.Error, text))
}

// Info prints a plain line.
func (p *Printer) Info(text string) {
	fmt.Fprintln(p.w, text)
}

// Box prints content under a title, boxed when the level allows.
func (p *Printer) Box(title, content string) {
	if p.level != PersonalityFull {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// ReportTable prints stored reports, newest first as given.
//
// # Description
//
// Machine output is one tab separated line per report:
// name, size in bytes, RFC 3339 modification time and path. Other levels
// print an aligned table with human sizes and ages relative to now.
func (p *Printer) ReportTable(reports []diagnostics.StoredReport, now time.Time) {
	if p.level == PersonalityMachine {
		for _, r := range reports {
			fmt.Fprintf(p.w, "%s\t%d\t%s\t%s\n", r.Name, r.Size, r.ModTime.UTC().Format(time.RFC3339), r.Path)
		}
		return
	}
	if len(reports) == 0 {
		fmt.Fprintln(p.w, p.render(Styles.Muted, "no reports"))
		return
	}

	nameWidth := len("NAME")
	for _, r := range reports {
		nameWidth = max(nameWidth, len(r.Name))
	}
	header := fmt.Sprintf("%-*s  %10s  %s", nameWidth, "NAME", "SIZE", "AGE")
	fmt.Fprintln(p.w, p.render(Styles.Header, header))
	for _, r := range reports {
		line := fmt.Sprintf("%-*s  %10s  %s", nameWidth, r.Name, HumanSize(r.Size), HumanAge(now.Sub(r.ModTime)))
		fmt.Fprintln(p.w, line)
	}
	fmt.Fprintln(p.w, p.render(Styles.Muted, fmt.Sprintf("%d report(s)", len(reports))))
}

// HumanSize formats a byte count with a binary unit.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// HumanAge formats a duration as the largest whole unit, e.g. "3h ago".
func HumanAge(d time.Duration) string {
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// Indent prefixes every non-empty line of s.
func Indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
