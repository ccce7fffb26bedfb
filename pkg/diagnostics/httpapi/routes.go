// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes a Reporter over HTTP with gin.
//
// Routes:
//
//	GET    /health                     liveness
//	GET    /debug/report               capture, text
//	GET    /debug/report.json          capture, JSON
//	POST   /debug/report               capture and write to the destination
//	GET    /debug/reports              list stored reports
//	GET    /debug/reports/:name        one stored report; ?section= selects a section
//	DELETE /debug/reports              prune; ?maxAge=24h&maxCount=10
//	GET    /debug/events               enabled event kinds
//	PUT    /debug/events               enable or disable event kinds
//	GET    /metrics                    Prometheus metrics, when a gatherer is set
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// Options configures optional routes.
type Options struct {
	// Gatherer serves /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer

	// Logger logs request failures; nil discards.
	Logger *logging.Logger

	// TraceRequests wraps every request in a server span from the global
	// tracer provider.
	TraceRequests bool

	// Auth guards the /debug routes; nil means NopAuthProvider.
	// Mutating routes additionally require the "admin" role.
	Auth AuthProvider
}

// SetupRoutes registers the report routes on router.
func SetupRoutes(router *gin.Engine, r *diagnostics.Reporter, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	h := &handlers{reporter: r, logger: logger}

	router.GET("/health", HealthCheck)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := opts.Auth
	if auth == nil {
		auth = NopAuthProvider{}
	}
	admin := RequireRole("admin")

	debug := router.Group("/debug", RequireAuth(auth))
	{
		debug.GET("/report", h.getReport)
		debug.GET("/report.json", h.getReportJSON)
		debug.POST("/report", admin, h.writeReport)
		debug.GET("/reports", h.listReports)
		debug.GET("/reports/:name", h.getStoredReport)
		debug.DELETE("/reports", admin, h.pruneReports)
		debug.GET("/events", h.getEvents)
		debug.PUT("/events", admin, h.putEvents)
	}
}

// NewRouter returns a gin engine with recovery and the report routes.
func NewRouter(r *diagnostics.Reporter, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.TraceRequests {
		router.Use(otelgin.Middleware("diagreport"))
	}
	SetupRoutes(router, r, opts)
	return router
}

// Listen opens addr as a tcp handle on the Reporter's loop. The listening
// socket and every accepted connection then appear in the report's handle
// summary.
func Listen(ctx context.Context, r *diagnostics.Reporter, addr string) (net.Listener, error) {
	lp := r.Loop()
	if lp == nil {
		return nil, fmt.Errorf("reporter has no loop")
	}
	h, err := lp.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return h.NetListener(), nil
}

// Serve runs an HTTP server on ln until ctx is done, then shuts it down
// within shutdownTimeout. The server owns ln and closes it.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Serve has closed ln once it returns.
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
