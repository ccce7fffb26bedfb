// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/diagreport/pkg/config"
	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/diagnostics/archive"
	"github.com/AleutianAI/diagreport/pkg/diagnostics/gcsmirror"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// appOptions selects which optional components newApp starts.
type appOptions struct {
	// crashMonitor starts the crash monitor child when the config asks
	// for it.
	crashMonitor bool

	// archive opens the BadgerDB archive when enabled.
	archive bool

	// gcs opens the GCS uploader when enabled.
	gcs bool

	// dropSignal removes the signal event, for processes that must not
	// install the report signal.
	dropSignal bool
}

// app holds the components one command needs.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	reporter *diagnostics.Reporter
	registry *prometheus.Registry
	tracer   diagnostics.Tracer
	archive  *archive.Archive

	closers []func() error
}

// newApp loads configuration and wires the reporter with its metrics,
// tracer, mirrors and crash monitor.
func newApp(ctx context.Context, ro *rootOptions, opts appOptions) (_ *app, err error) {
	cfg, err := ro.loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, tracer: diagnostics.NewNoOpTracer()}
	a.logger = logging.New(cfg.LoggerConfig())
	a.closers = append(a.closers, a.logger.Close)
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	rc, err := cfg.ReporterConfig()
	if err != nil {
		return nil, err
	}
	if opts.dropSignal {
		rc.Events = rc.Events.Without(diagnostics.EventsOf(diagnostics.ReasonSignal))
	}

	var ropts []diagnostics.Option
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := diagnostics.NewPrometheusMetrics()
		if err := m.Register(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		ropts = append(ropts, diagnostics.WithMetrics(m))
	}

	if cfg.Tracing.Endpoint != "" || cfg.Tracing.Stdout {
		t, err := diagnostics.NewOTelTracer(ctx, diagnostics.TracerConfig{
			Endpoint: cfg.Tracing.Endpoint,
			Insecure: cfg.Tracing.Insecure,
			Stdout:   cfg.Tracing.Stdout,
			Writer:   os.Stderr,
		})
		if err != nil {
			return nil, err
		}
		a.tracer = t
		a.closers = append(a.closers, func() error { return t.Shutdown(context.Background()) })
		ropts = append(ropts, diagnostics.WithTracer(t))
	}

	if opts.archive || opts.gcs {
		mirrors, err := a.openMirrors(ctx, opts)
		if err != nil {
			return nil, err
		}
		ropts = append(ropts, diagnostics.WithMirrors(mirrors...))
	}

	r, err := diagnostics.NewReporter(rc, nil, a.logger, ropts...)
	if err != nil {
		return nil, err
	}
	a.reporter = r
	a.closers = append(a.closers, r.Close)

	if opts.crashMonitor && cfg.Report.CrashMonitor {
		if err := a.startCrashMonitor(ro); err != nil {
			// Reports from recoverable panics still work without the monitor.
			a.logger.Warn("crash monitor unavailable", "error", err)
		}
	}
	return a, nil
}

func (a *app) openMirrors(ctx context.Context, opts appOptions) ([]diagnostics.Mirror, error) {
	var mirrors []diagnostics.Mirror
	if opts.archive && a.cfg.Archive.Enabled {
		ac := archive.DefaultConfig(a.cfg.ArchivePath())
		ac.TTL = a.cfg.Archive.TTL
		ac.Logger = a.logger.With("component", "archive")
		arc, err := archive.Open(ac)
		if err != nil {
			return nil, err
		}
		a.archive = arc
		a.closers = append(a.closers, arc.Close)
		mirrors = append(mirrors, arc)
	}
	if opts.gcs && a.cfg.GCS.Enabled {
		up, err := gcsmirror.New(ctx, gcsmirror.Config{
			Bucket:          a.cfg.GCS.Bucket,
			Prefix:          a.cfg.GCS.Prefix,
			CredentialsFile: a.cfg.GCS.CredentialsFile,
			Endpoint:        a.cfg.GCS.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, up.Close)
		mirrors = append(mirrors, up)
	}
	return mirrors, nil
}

func (a *app) startCrashMonitor(ro *rootOptions) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{crashMonitorCommand}
	if ro.configPath != "" {
		args = append(args, "--config", ro.configPath)
	}
	if ro.directory != "" {
		args = append(args, "--dir", ro.directory)
	}
	m, err := diagnostics.StartCrashMonitor(exe, args, nil, a.logger)
	if err != nil {
		return err
	}
	if err := a.reporter.AttachCrashMonitor(m); err != nil {
		_ = m.Close()
		return err
	}
	return nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
