// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedProbe struct{}

func (fixedProbe) Probe(context.Context) diagnostics.EnvironmentSnapshot {
	return diagnostics.EnvironmentSnapshot{Hostname: "api-host", OS: "linux", Arch: "amd64", CPUCount: 2}
}

func setupTest(t *testing.T) (*gin.Engine, *diagnostics.Reporter, *prometheus.Registry) {
	t.Helper()
	cfg := diagnostics.DefaultConfig()
	cfg.Directory = t.TempDir()
	cfg.MaxGoroutines = 50

	metrics := diagnostics.NewPrometheusMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	r, err := diagnostics.NewReporter(cfg, nil, logging.Nop(),
		diagnostics.WithProbe(fixedProbe{}),
		diagnostics.WithMetrics(metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	router := gin.New()
	SetupRoutes(router, r, Options{Gatherer: reg})
	return router, r, reg
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, target, nil)
	}
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Registered(t *testing.T) {
	router, _, _ := setupTest(t)

	want := map[string]bool{
		"GET /health":               false,
		"GET /metrics":              false,
		"GET /debug/report":         false,
		"GET /debug/report.json":    false,
		"POST /debug/report":        false,
		"GET /debug/reports":        false,
		"GET /debug/reports/:name":  false,
		"DELETE /debug/reports":     false,
		"GET /debug/events":         false,
		"PUT /debug/events":         false,
	}
	for _, route := range router.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		assert.True(t, found, "route %s not registered", key)
	}
}

func TestSetupRoutes_NoGatherer(t *testing.T) {
	r, err := diagnostics.NewReporter(diagnostics.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	defer r.Close()

	router := gin.New()
	SetupRoutes(router, r, Options{})
	for _, route := range router.Routes() {
		assert.NotEqual(t, "/metrics", route.Path)
	}
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := setupTest(t)
	w := do(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetReport_Text(t *testing.T) {
	router, r, _ := setupTest(t)
	w := do(t, router, http.MethodGet, "/debug/report", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	body := w.Body.String()
	assert.Contains(t, body, "==== "+diagnostics.SectionHeader+" ====")
	assert.Contains(t, body, "api-host")

	list, err := r.Storage().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "GET must not write a file")
}

func TestGetReport_JSON(t *testing.T) {
	router, _, _ := setupTest(t)
	w := do(t, router, http.MethodGet, "/debug/report.json", "")

	require.Equal(t, http.StatusOK, w.Code)
	var doc diagnostics.JSONReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "apicall", doc.Header.Event)
	assert.Equal(t, "GetReportJSON", doc.Header.Trigger)
	assert.Equal(t, diagnostics.ReportVersion, doc.Header.ReportVersion)
}

func TestWriteAndReadStoredReport(t *testing.T) {
	router, _, _ := setupTest(t)

	w := do(t, router, http.MethodPost, "/debug/report", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created writeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Destination)

	w = do(t, router, http.MethodGet, "/debug/reports", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Reports []diagnostics.StoredReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Reports, 1)
	assert.Equal(t, created.Destination, listed.Reports[0].Path)

	name := listed.Reports[0].Name
	w = do(t, router, http.MethodGet, "/debug/reports/"+name, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "==== "+diagnostics.SectionFooter+" ====")

	w = do(t, router, http.MethodGet, "/debug/reports/"+name+"?section="+url.QueryEscape(diagnostics.SectionSystem), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api-host")
	assert.NotContains(t, w.Body.String(), "====")

	w = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `diagreport_reports_total{destination="file",reason="apicall"} 1`)
}

func TestGetStoredReport_Errors(t *testing.T) {
	router, r, _ := setupTest(t)

	w := do(t, router, http.MethodGet, "/debug/reports/diagreport.missing.txt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	list, err := r.Storage().List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	w = do(t, router, http.MethodGet, "/debug/reports/"+list[0].Name+"?section=Nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "section not found")
}

func TestPruneReports(t *testing.T) {
	router, r, _ := setupTest(t)
	for i := 0; i < 3; i++ {
		_, err := r.WriteReport(context.Background(), nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing limits", "", http.StatusBadRequest},
		{"bad age", "?maxAge=soon", http.StatusBadRequest},
		{"negative count", "?maxCount=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodDelete, "/debug/reports"+tt.query, "")
			assert.Equal(t, tt.status, w.Code)
		})
	}

	w := do(t, router, http.MethodDelete, "/debug/reports?maxCount=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":2}`, w.Body.String())

	w = do(t, router, http.MethodDelete, "/debug/reports?maxAge="+time.Hour.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":0}`, w.Body.String())
}

func TestEvents(t *testing.T) {
	router, r, _ := setupTest(t)

	w := do(t, router, http.MethodGet, "/debug/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())

	w = do(t, router, http.MethodPut, "/debug/events", `{"enable":["exception+fatalerror"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":["exception","fatalerror"]}`, w.Body.String())
	assert.True(t, r.IsEnabled(diagnostics.ReasonException))

	w = do(t, router, http.MethodPut, "/debug/events", `{"disable":["exception"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":["fatalerror"]}`, w.Body.String())
}

func TestEvents_InvalidLeavesSetUnchanged(t *testing.T) {
	router, r, _ := setupTest(t)
	require.NoError(t, r.Enable("fatalerror"))

	w := do(t, router, http.MethodPut, "/debug/events", `{"enable":["exception"],"disable":["bogus"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, diagnostics.EventsOf(diagnostics.ReasonFatalError), r.Events())

	w = do(t, router, http.MethodPut, "/debug/events", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClosedReporter(t *testing.T) {
	router, r, _ := setupTest(t)
	require.NoError(t, r.Close())

	w := do(t, router, http.MethodGet, "/debug/report", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServe_Shutdown(t *testing.T) {
	_, r, _ := setupTest(t)
	ln, err := Listen(context.Background(), r, "127.0.0.1:0")
	require.NoError(t, err)
	require.Equal(t, 1, r.Loop().Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, http.NotFoundHandler(), time.Second) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 0, r.Loop().Len(), "shutdown closes the listening handle")
}

func TestServe_ReportListsServerSockets(t *testing.T) {
	router, r, _ := setupTest(t)
	ln, err := Listen(context.Background(), r, "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, router, time.Second) }()
	defer func() {
		cancel()
		<-done
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/debug/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	section, ok := diagnostics.GetSection(string(body), diagnostics.SectionHandles)
	require.True(t, ok)
	var listening, inbound int
	for _, line := range diagnostics.ParseHandleLines(section) {
		if line.Type != "tcp" {
			continue
		}
		switch {
		case line.Suffix == addr+" (not connected)":
			listening++
			assert.True(t, line.Ref)
		case strings.HasPrefix(line.Suffix, addr+" connected to 127.0.0.1:"):
			inbound++
		}
	}
	assert.Equal(t, 1, listening, "handles:\n%s", section)
	assert.Equal(t, 1, inbound, "the request's own connection is listed:\n%s", section)
}

func TestNewRouter_TraceRequests(t *testing.T) {
	_, r, _ := setupTest(t)
	router := NewRouter(r, Options{TraceRequests: true})

	w := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
