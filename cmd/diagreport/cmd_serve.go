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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/diagreport/pkg/diagnostics/httpapi"
)

func newServeCmd(ro *rootOptions) *cobra.Command {
	var (
		addr         string
		pruneEvery   time.Duration
		shutdownWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API until interrupted",
		Long: `serve exposes the report API over HTTP (see /debug/report and
/debug/reports) and, with metrics.enabled, Prometheus metrics on /metrics.
The serving process is itself monitored: its panics, fatal errors and the
report signal all produce reports, and its listening socket and client
connections are listed in the handle summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, ro, appOptions{crashMonitor: true, archive: true, gcs: true})
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.reporter.Wrap()()

			if addr == "" {
				addr = a.cfg.HTTP.Address
			}
			opts := httpapi.Options{
				Logger:        a.logger.With("component", "http"),
				TraceRequests: a.cfg.Tracing.Endpoint != "" || a.cfg.Tracing.Stdout,
			}
			if a.registry != nil {
				opts.Gatherer = a.registry
			}
			if a.cfg.HTTP.Token != "" {
				auth, err := httpapi.NewTokenAuthProvider(a.cfg.HTTP.Token)
				if err != nil {
					return err
				}
				opts.Auth = auth
			} else {
				a.logger.Warn("report API has no token; set http.token to require one")
			}
			gin.SetMode(gin.ReleaseMode)
			router := httpapi.NewRouter(a.reporter, opts)

			ln, err := httpapi.Listen(ctx, a.reporter, addr)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("serving report API", "address", ln.Addr().String())
				return httpapi.Serve(ctx, ln, router, shutdownWait)
			})
			if pruneEvery > 0 {
				g.Go(func() error {
					runRetention(ctx, a, pruneEvery)
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default http.address)")
	cmd.Flags().DurationVar(&pruneEvery, "prune-every", time.Hour, "apply retention at this interval; 0 disables")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	return cmd
}

// runRetention prunes on a ticker until ctx is done.
func runRetention(ctx context.Context, a *app, every time.Duration) {
	age, count := a.cfg.Retention()
	if age == 0 && count == 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.reporter.Prune(ctx, age, count)
			if err != nil {
				a.logger.Warn("retention failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("retention removed reports", "count", n)
			}
		}
	}
}
