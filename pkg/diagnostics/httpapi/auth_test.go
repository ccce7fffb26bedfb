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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// viewerProvider accepts "viewer" as a read-only caller.
type viewerProvider struct{}

func (viewerProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token != "viewer" {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "v", Roles: []string{"viewer"}}, nil
}

func TestNewTokenAuthProvider_Empty(t *testing.T) {
	_, err := NewTokenAuthProvider("")
	assert.Error(t, err)
}

func TestTokenAuthProvider(t *testing.T) {
	p, err := NewTokenAuthProvider("s3cret")
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.True(t, info.HasRole("admin"))

	_, err = p.Validate(context.Background(), "wrong")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bearerToken(tt.header), "header %q", tt.header)
	}
}

func TestRoutes_TokenAuth(t *testing.T) {
	_, r, reg := setupTest(t)
	p, err := NewTokenAuthProvider("s3cret")
	require.NoError(t, err)
	router := gin.New()
	SetupRoutes(router, r, Options{Gatherer: reg, Auth: p})

	get := func(header string) int {
		req, _ := http.NewRequest(http.MethodGet, "/debug/events", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, get(""))
	assert.Equal(t, http.StatusUnauthorized, get("Bearer nope"))
	assert.Equal(t, http.StatusOK, get("Bearer s3cret"))

	// Health and metrics stay open.
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", "").Code)
}

func TestRoutes_ViewerCannotWrite(t *testing.T) {
	_, r, _ := setupTest(t)
	router := gin.New()
	SetupRoutes(router, r, Options{Auth: viewerProvider{}})

	req, _ := http.NewRequest(http.MethodPost, "/debug/report", nil)
	req.Header.Set("Authorization", "Bearer viewer")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req, _ = http.NewRequest(http.MethodGet, "/debug/events", nil)
	req.Header.Set("Authorization", "Bearer viewer")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
