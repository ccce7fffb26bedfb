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
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"MINIMAL", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"plain", PersonalityMachine},
		{"", PersonalityFull},
		{"sparkly", PersonalityFull},
	}
	for _, tt := range tests {
		if got := ParsePersonalityLevel(tt.in); got != tt.want {
			t.Errorf("ParsePersonalityLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectLevel_NonTerminal(t *testing.T) {
	assert.Equal(t, PersonalityMachine, DetectLevel(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.Equal(t, PersonalityMachine, DetectLevel(f))
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("ignored")
	p.Success("written")
	p.Warning("careful")
	p.Error("broken")

	assert.Equal(t, "OK: written\nWARN: careful\nERROR: broken\n", buf.String())
}

func TestPrinter_Minimal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)

	p.Success("written")
	p.Box("Title", "body")

	assert.Equal(t, "✓ written\nTitle:\nbody\n", buf.String())
}

func TestPrinter_ReportTable(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	reports := []diagnostics.StoredReport{
		{Name: "diagreport.20260304.120000.1.0.001.txt", Path: "/r/a.txt", Size: 2048, ModTime: now.Add(-90 * time.Second)},
		{Name: "diagreport.20260301.120000.1.0.001.txt", Path: "/r/b.txt", Size: 100, ModTime: now.Add(-72 * time.Hour)},
	}

	t.Run("machine", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, PersonalityMachine).ReportTable(reports, now)
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Len(t, lines, 2)
		assert.Equal(t, "diagreport.20260304.120000.1.0.001.txt\t2048\t2026-03-04T11:58:30Z\t/r/a.txt", lines[0])
	})

	t.Run("minimal", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, PersonalityMinimal).ReportTable(reports, now)
		out := buf.String()
		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "2.0 KiB")
		assert.Contains(t, out, "1m ago")
		assert.Contains(t, out, "3d ago")
		assert.Contains(t, out, "2 report(s)")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, PersonalityMinimal).ReportTable(nil, now)
		assert.Equal(t, "no reports\n", buf.String())
	})
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "1.0 KiB", HumanSize(1024))
	assert.Equal(t, "1.5 MiB", HumanSize(3<<19))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n\n  b", Indent("a\n\nb", "  "))
}
