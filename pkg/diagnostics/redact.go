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
	"strings"
)

// RedactionPattern replaces matches of Pattern in environment values.
type RedactionPattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Redactor scrubs environment variables before they enter a report.
//
// Variables whose name looks secret have their whole value replaced;
// other values go through the value patterns.
//
// # Thread Safety
//
// A Redactor is immutable after construction and safe for concurrent use.
type Redactor struct {
	secretName *regexp.Regexp
	patterns   []RedactionPattern
}

// NewRedactor builds a Redactor from value patterns. The name rule is fixed.
func NewRedactor(patterns []RedactionPattern) *Redactor {
	return &Redactor{
		secretName: regexp.MustCompile(`(?i)(secret|token|passw(or)?d|passwd|api_?key|credential|private|auth|session|cookie)`),
		patterns:   append([]RedactionPattern(nil), patterns...),
	}
}

// DefaultRedactionPatterns covers bearer tokens, cloud access keys, URL
// credentials and long hex secrets.
func DefaultRedactionPatterns() []RedactionPattern {
	return []RedactionPattern{
		{
			Name:        "bearer",
			Pattern:     regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
			Replacement: "Bearer [REDACTED]",
		},
		{
			Name:        "aws_key",
			Pattern:     regexp.MustCompile(`(AKIA|ABIA|ACCA|ASIA)[A-Z0-9]{16}`),
			Replacement: "[REDACTED]",
		},
		{
			Name:        "url_credentials",
			Pattern:     regexp.MustCompile(`(://[^/:@\s]+):[^/@\s]+@`),
			Replacement: "$1:[REDACTED]@",
		},
		{
			Name:        "hex_secret",
			Pattern:     regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`),
			Replacement: "[REDACTED]",
		},
	}
}

// RedactEnv returns a redacted copy of KEY=VALUE entries.
func (r *Redactor) RedactEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		out = append(out, key+"="+r.redactValue(key, value))
	}
	return out
}

func (r *Redactor) redactValue(key, value string) string {
	if value == "" {
		return value
	}
	if r.secretName.MatchString(key) {
		return "[REDACTED]"
	}
	for _, p := range r.patterns {
		value = p.Pattern.ReplaceAllString(value, p.Replacement)
	}
	return value
}
