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
	"time"
)

// Format selects the encoding of written reports.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Extension returns ".txt" or ".json".
func (f Format) Extension() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".txt"
}

// Config configures a Reporter.
type Config struct {
	// Events is the initially enabled set. apicall reports are always
	// allowed regardless of this set.
	Events EventSet

	// Once holds kinds that produce at most one report per process.
	Once EventSet

	// Signal names the report signal, e.g. "SIGUSR2" or "12".
	// Default: "SIGUSR2"
	Signal string

	// EscalateSignal re-raises the signal with the default disposition
	// after reporting, so the signal's normal action follows the report.
	EscalateSignal bool

	// SignalRate limits signal reports per second; zero means unlimited.
	// Default: 1
	SignalRate float64

	// SignalBurst is the limiter's burst size. Default: 1
	SignalBurst int

	// Directory receives report files. Empty means the working directory
	// at construction time.
	Directory string

	// Filename is the file name pattern, or "stdout"/"stderr".
	// Default: DefaultFilenamePattern with the Format's extension
	Filename string

	// Format of written reports. Default: FormatText
	Format Format

	// FatalExitCode is the exit status used by FatalError. Default: 2
	FatalExitCode int

	// MaxNativeFrames sizes the program counter buffer. Default: 64
	MaxNativeFrames int

	// MaxGoroutines caps parsed goroutines; zero means no cap.
	// Default: 1000
	MaxGoroutines int

	// GoroutineBufferBytes sizes the goroutine dump buffer. Default: 1 MiB
	GoroutineBufferBytes int

	// IncludeGoroutines enables the goroutine stack section. Default: true
	IncludeGoroutines bool

	// IncludeEnvironment lists environment variables, redacted.
	// Default: true
	IncludeEnvironment bool

	// MirrorTimeout bounds each mirror copy. Default: 10s
	MirrorTimeout time.Duration
}

// DefaultConfig returns defaults with no automatic events enabled.
func DefaultConfig() Config {
	return Config{
		Signal:               "SIGUSR2",
		SignalRate:           1,
		SignalBurst:          1,
		Format:               FormatText,
		FatalExitCode:        2,
		MaxNativeFrames:      64,
		MaxGoroutines:        1000,
		GoroutineBufferBytes: 1 << 20,
		IncludeGoroutines:    true,
		IncludeEnvironment:   true,
		MirrorTimeout:        10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. Fields whose zero
// value is meaningful are left alone.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Signal == "" {
		c.Signal = d.Signal
	}
	if c.SignalBurst <= 0 {
		c.SignalBurst = d.SignalBurst
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.FatalExitCode == 0 {
		c.FatalExitCode = d.FatalExitCode
	}
	if c.MaxNativeFrames <= 0 {
		c.MaxNativeFrames = d.MaxNativeFrames
	}
	if c.GoroutineBufferBytes <= 0 {
		c.GoroutineBufferBytes = d.GoroutineBufferBytes
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = d.MirrorTimeout
	}
	return c
}
