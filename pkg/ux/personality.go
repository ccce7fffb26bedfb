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
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel selects how rich terminal output is.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons and boxes.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal keeps icons but drops colors and boxes.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine prints tab separated plain text for scripts.
	PersonalityMachine PersonalityLevel = "machine"
)

// ParsePersonalityLevel converts a flag value. Unknown values select
// PersonalityFull.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return PersonalityMinimal
	case "machine", "plain":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectLevel returns PersonalityFull when w is a terminal and
// PersonalityMachine otherwise. NO_COLOR downgrades a terminal to
// PersonalityMinimal.
func DetectLevel(w io.Writer) PersonalityLevel {
	f, ok := w.(*os.File)
	if !ok {
		return PersonalityMachine
	}
	fd := f.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return PersonalityMachine
	}
	if os.Getenv("NO_COLOR") != "" {
		return PersonalityMinimal
	}
	return PersonalityFull
}
