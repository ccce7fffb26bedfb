// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads diagreport settings from YAML with environment
// overrides and translates them into component configurations.
package config

import (
	"time"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// Config is the root of diagreport.yaml.
type Config struct {
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Archive ArchiveConfig `yaml:"archive"`
	GCS     GCSConfig     `yaml:"gcs"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// ReportConfig controls triggers, capture limits and the file destination.
type ReportConfig struct {
	// Events lists the enabled trigger kinds. Each entry may itself be a
	// "+" joined list, e.g. "exception+signal".
	Events []string `yaml:"events" validate:"dive,eventkind"`

	// Once lists kinds that fire at most one report per process.
	Once []string `yaml:"once" validate:"dive,eventkind"`

	// Signal is the report signal, by name ("SIGUSR2") or number.
	Signal string `yaml:"signal" validate:"required,signame"`

	// EscalateSignal re-raises the signal with its default disposition
	// after the report is written.
	EscalateSignal bool `yaml:"escalate_signal"`

	// SignalRate is the sustained number of signal reports per second.
	// Zero disables rate limiting.
	SignalRate  float64 `yaml:"signal_rate" validate:"gte=0"`
	SignalBurst int     `yaml:"signal_burst" validate:"gte=1"`

	// Directory receives report files. Empty means the working directory.
	Directory string `yaml:"directory"`

	// Filename is the file name pattern. Empty selects the default.
	Filename string `yaml:"filename"`

	// Format is "text" or "json".
	Format string `yaml:"format" validate:"oneof=text json"`

	// FatalExitCode is the process exit status after a fatalerror report.
	FatalExitCode int `yaml:"fatal_exit_code" validate:"gte=1,lte=125"`

	MaxNativeFrames      int  `yaml:"max_native_frames" validate:"gte=1,lte=4096"`
	MaxGoroutines        int  `yaml:"max_goroutines" validate:"gte=0"`
	GoroutineBufferBytes int  `yaml:"goroutine_buffer_bytes" validate:"gte=4096,lte=268435456"`
	IncludeGoroutines    bool `yaml:"include_goroutines"`
	IncludeEnvironment   bool `yaml:"include_environment"`

	// RetentionDays and MaxReports drive `diagreport prune`. Zero disables
	// the respective limit.
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
	MaxReports    int `yaml:"max_reports" validate:"gte=0"`

	// MirrorTimeout bounds archive and GCS copies of a written report.
	MirrorTimeout time.Duration `yaml:"mirror_timeout" validate:"gte=0"`

	// CrashMonitor starts a child process that turns runtime crash output
	// into fatalerror and exception reports.
	CrashMonitor bool `yaml:"crash_monitor"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig enables the Prometheus recorder. Metrics are exposed by
// `diagreport serve` on /metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig selects the capture tracer. An empty Endpoint with Stdout
// false yields the no-op tracer.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Stdout   bool   `yaml:"stdout"`
}

// ArchiveConfig enables the BadgerDB report archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`

	// TTL expires archived reports; zero keeps them.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// GCSConfig enables uploading written reports to a bucket.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// HTTPConfig configures `diagreport serve`.
type HTTPConfig struct {
	Address string `yaml:"address" validate:"required,hostname_port"`

	// Token, when set, is required as a bearer token on /debug routes.
	// Prefer DIAGREPORT_HTTP_TOKEN over writing it to the file.
	Token string `yaml:"token,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	d := diagnostics.DefaultConfig()
	return Config{
		Report: ReportConfig{
			Events:               []string{"exception", "fatalerror", "signal"},
			Signal:               d.Signal,
			SignalRate:           d.SignalRate,
			SignalBurst:          d.SignalBurst,
			Format:               string(d.Format),
			FatalExitCode:        d.FatalExitCode,
			MaxNativeFrames:      d.MaxNativeFrames,
			MaxGoroutines:        d.MaxGoroutines,
			GoroutineBufferBytes: d.GoroutineBufferBytes,
			IncludeGoroutines:    d.IncludeGoroutines,
			IncludeEnvironment:   d.IncludeEnvironment,
			RetentionDays:        30,
			MaxReports:           100,
			MirrorTimeout:        d.MirrorTimeout,
		},
		Logging: LoggingConfig{Level: "info"},
		Archive: ArchiveConfig{Path: "~/.diagreport/archive"},
		HTTP:    HTTPConfig{Address: "127.0.0.1:9464"},
	}
}

// ReporterConfig converts the report section into a diagnostics.Config.
// The config must have passed Validate.
func (c *Config) ReporterConfig() (diagnostics.Config, error) {
	out := diagnostics.DefaultConfig()

	events, err := diagnostics.ParseEvents(c.Report.Events...)
	if err != nil {
		return out, err
	}
	once, err := diagnostics.ParseEvents(c.Report.Once...)
	if err != nil {
		return out, err
	}

	out.Events = events
	out.Once = once
	out.Signal = c.Report.Signal
	out.EscalateSignal = c.Report.EscalateSignal
	out.SignalRate = c.Report.SignalRate
	out.SignalBurst = c.Report.SignalBurst
	out.Directory = expandPath(c.Report.Directory)
	out.Filename = c.Report.Filename
	out.Format = diagnostics.Format(c.Report.Format)
	out.FatalExitCode = c.Report.FatalExitCode
	out.MaxNativeFrames = c.Report.MaxNativeFrames
	out.MaxGoroutines = c.Report.MaxGoroutines
	out.GoroutineBufferBytes = c.Report.GoroutineBufferBytes
	out.IncludeGoroutines = c.Report.IncludeGoroutines
	out.IncludeEnvironment = c.Report.IncludeEnvironment
	out.MirrorTimeout = c.Report.MirrorTimeout
	return out, nil
}

// LoggerConfig converts the logging section. Unknown levels fall back to
// info; Validate rejects them earlier.
func (c *Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: "diagreport",
		JSON:    c.Logging.JSON,
	}
}

// ArchivePath returns the archive directory with "~" expanded.
func (c *Config) ArchivePath() string {
	return expandPath(c.Archive.Path)
}

// Retention returns the prune limits implied by RetentionDays and
// MaxReports.
func (c *Config) Retention() (time.Duration, int) {
	return time.Duration(c.Report.RetentionDays) * 24 * time.Hour, c.Report.MaxReports
}
