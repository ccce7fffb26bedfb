// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"regexp"
	"strconv"
	"strings"
)

// GetSection returns the body of the section with the given label from a
// text report, without the label line and trailing blank lines.
//
// # Examples
//
//	body, ok := GetSection(text, SectionHandles)
func GetSection(text, label string) (string, bool) {
	marker := "==== " + label + " ====\n"
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	body := text[start+len(marker):]
	if end := strings.Index(body, "\n==== "); end >= 0 {
		body = body[:end+1]
	}
	return strings.Trim(body, "\n"), true
}

// HandleLine is one parsed line of the handle summary.
type HandleLine struct {
	Ref     bool
	Active  bool
	Type    string
	Address uint64
	Suffix  string
}

var handleLineRE = regexp.MustCompile(`^\[([R-])([A-])\]\s+(\S+)\s+0x([0-9a-f]+)\s+(.*)$`)

// ParseHandleLines parses the body of the handle summary section. The
// column heading and lines that do not look like handle lines are skipped.
func ParseHandleLines(section string) []HandleLine {
	var out []HandleLine
	for _, line := range strings.Split(section, "\n") {
		m := handleLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, err := strconv.ParseUint(m[4], 16, 64)
		if err != nil {
			continue
		}
		out = append(out, HandleLine{
			Ref:     m[1] == "R",
			Active:  m[2] == "A",
			Type:    m[3],
			Address: addr,
			Suffix:  m[5],
		})
	}
	return out
}
