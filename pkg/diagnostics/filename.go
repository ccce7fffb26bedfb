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
	"time"
)

// Stream destinations accepted in place of a file name pattern.
const (
	DestinationStdout = "stdout"
	DestinationStderr = "stderr"
)

// IsStreamDestination reports whether name selects stdout or stderr.
func IsStreamDestination(name string) bool {
	return name == DestinationStdout || name == DestinationStderr
}

// DefaultFilenamePattern returns the default pattern for format.
func DefaultFilenamePattern(format Format) string {
	return "diagreport.{date}.{time}.{pid}.{seq}" + format.Extension()
}

// placeholder patterns, used both to validate and to recognize names.
var placeholders = map[string]string{
	"pid":       `\d+`,
	"seq":       `\d+(?:-\d+)?`,
	"id":        `[0-9a-f-]+`,
	"date":      `\d{8}`,
	"time":      `\d{6}`,
	"timestamp": `\d+`,
	"event":     `[a-z]+`,
}

// FilenameValues fills the placeholders of a pattern.
type FilenameValues struct {
	PID   int
	Seq   uint64
	ID    string
	Time  time.Time
	Event Reason
}

type patternPart struct {
	literal string
	name    string
}

// FilenamePattern is a validated report file name pattern.
//
// # Description
//
// A pattern is literal text with {placeholder} fields: {pid}, {seq},
// {id}, {date} (YYYYMMDD), {time} (HHMMSS), {timestamp} (Unix ms) and
// {event}. It must contain {pid} and at least one of {seq} or {id} so two
// reports never map to the same name, and it must not contain a path
// separator. Date and time fields are rendered in UTC.
type FilenamePattern struct {
	raw     string
	parts   []patternPart
	unique  string
	matcher *regexp.Regexp
}

// ParseFilenamePattern validates p.
//
// # Outputs
//
//   - *FilenamePattern: The compiled pattern
//   - error: *ConfigError describing the first problem found
func ParseFilenamePattern(p string) (*FilenamePattern, error) {
	bad := func(reason string) error {
		return &ConfigError{Field: "filename", Value: p, Reason: reason}
	}
	if p == "" || p == "." || p == ".." {
		return nil, bad("empty file name")
	}
	if strings.ContainsAny(p, `/\`) {
		return nil, bad("file name must not contain a path separator")
	}
	if IsStreamDestination(p) {
		return nil, bad("stream destination is not a file name pattern")
	}

	fp := &FilenamePattern{raw: p}
	var re strings.Builder
	re.WriteString("^")
	seen := make(map[string]bool)
	rest := p
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			fp.parts = append(fp.parts, patternPart{literal: rest})
			re.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if open > 0 {
			fp.parts = append(fp.parts, patternPart{literal: rest[:open]})
			re.WriteString(regexp.QuoteMeta(rest[:open]))
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, bad("unterminated placeholder")
		}
		name := rest[open+1 : open+end]
		expr, ok := placeholders[name]
		if !ok {
			return nil, bad("unknown placeholder {" + name + "}")
		}
		fp.parts = append(fp.parts, patternPart{name: name})
		re.WriteString(expr)
		seen[name] = true
		rest = rest[open+end+1:]
	}
	re.WriteString("$")

	if !seen["pid"] {
		return nil, bad("pattern must contain {pid}")
	}
	switch {
	case seen["seq"]:
		fp.unique = "seq"
	case seen["id"]:
		fp.unique = "id"
	default:
		return nil, bad("pattern must contain {seq} or {id}")
	}
	fp.matcher = regexp.MustCompile(re.String())
	return fp, nil
}

// String returns the pattern as given.
func (fp *FilenamePattern) String() string { return fp.raw }

// Expand renders a name. A positive attempt appends "-<attempt>" to the
// {seq} or {id} field, which keeps retried names recognizable by Match.
func (fp *FilenamePattern) Expand(v FilenameValues, attempt int) string {
	t := v.Time.UTC()
	var b strings.Builder
	for _, part := range fp.parts {
		if part.name == "" {
			b.WriteString(part.literal)
			continue
		}
		switch part.name {
		case "pid":
			b.WriteString(strconv.Itoa(v.PID))
		case "seq":
			b.WriteString(strconv.FormatUint(v.Seq, 10))
		case "id":
			b.WriteString(v.ID)
		case "date":
			b.WriteString(t.Format("20060102"))
		case "time":
			b.WriteString(t.Format("150405"))
		case "timestamp":
			b.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
		case "event":
			b.WriteString(v.Event.String())
		}
		if attempt > 0 && part.name == fp.unique {
			b.WriteString("-" + strconv.Itoa(attempt))
		}
	}
	return b.String()
}

// Match reports whether name could have been produced by Expand.
func (fp *FilenamePattern) Match(name string) bool {
	return fp.matcher.MatchString(name)
}
