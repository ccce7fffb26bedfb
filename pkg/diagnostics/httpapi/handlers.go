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
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type handlers struct {
	reporter *diagnostics.Reporter
	logger   *logging.Logger
}

// eventsRequest is the body of PUT /debug/events.
type eventsRequest struct {
	Enable  []string `json:"enable"`
	Disable []string `json:"disable"`
}

// writeResponse is the body returned by POST /debug/report.
type writeResponse struct {
	Destination string `json:"destination"`
}

func (h *handlers) getReport(c *gin.Context) {
	text, err := h.reporter.GetReport(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, diagnostics.NewTextFormatter().ContentType(), []byte(text))
}

func (h *handlers) getReportJSON(c *gin.Context) {
	out, err := h.reporter.GetReportJSON(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, diagnostics.NewJSONFormatter().ContentType(), out)
}

func (h *handlers) writeReport(c *gin.Context) {
	dest, err := h.reporter.WriteReport(c.Request.Context(), nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, writeResponse{Destination: dest})
}

func (h *handlers) listReports(c *gin.Context) {
	list, err := h.reporter.Storage().List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": list, "directory": h.reporter.Storage().Dir()})
}

func (h *handlers) getStoredReport(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report name"})
		return
	}
	data, err := h.reporter.Storage().Load(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		h.fail(c, err)
		return
	}

	if section := c.Query("section"); section != "" {
		body, ok := diagnostics.GetSection(string(data), section)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "section not found", "section": section})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
		return
	}
	contentType := "text/plain; charset=utf-8"
	if filepath.Ext(name) == ".json" {
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *handlers) pruneReports(c *gin.Context) {
	var (
		maxAge   time.Duration
		maxCount int
		err      error
	)
	if v := c.Query("maxAge"); v != "" {
		if maxAge, err = time.ParseDuration(v); err != nil || maxAge < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maxAge"})
			return
		}
	}
	if v := c.Query("maxCount"); v != "" {
		if maxCount, err = strconv.Atoi(v); err != nil || maxCount < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maxCount"})
			return
		}
	}
	if maxAge == 0 && maxCount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxAge or maxCount is required"})
		return
	}

	removed, err := h.reporter.Prune(c.Request.Context(), maxAge, maxCount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handlers) getEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": eventNames(h.reporter.Events())})
}

func (h *handlers) putEvents(c *gin.Context) {
	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	// Validate both lists before changing anything.
	if _, err := diagnostics.ParseEvents(req.Enable...); err != nil {
		h.fail(c, err)
		return
	}
	if _, err := diagnostics.ParseEvents(req.Disable...); err != nil {
		h.fail(c, err)
		return
	}
	if len(req.Enable) > 0 {
		if err := h.reporter.Enable(req.Enable...); err != nil {
			h.fail(c, err)
			return
		}
	}
	if len(req.Disable) > 0 {
		if err := h.reporter.Disable(req.Disable...); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": eventNames(h.reporter.Events())})
}

func eventNames(set diagnostics.EventSet) []string {
	reasons := set.Reasons()
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.String())
	}
	return out
}

// fail maps reporter errors to status codes.
func (h *handlers) fail(c *gin.Context, err error) {
	var (
		cfgErr  *diagnostics.ConfigError
		sinkErr *diagnostics.SinkError
		status  int
	)
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.Is(err, diagnostics.ErrCaptureSuppressed):
		status = http.StatusConflict
	case errors.Is(err, diagnostics.ErrReporterClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &sinkErr):
		status = http.StatusInternalServerError
	default:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("report request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
