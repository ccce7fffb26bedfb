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
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned when a request carries no valid token.
var ErrUnauthorized = errors.New("unauthorized")

// authInfoKey is the gin context key holding the caller's AuthInfo.
const authInfoKey = "diagreport.auth"

// AuthInfo identifies the caller of a report endpoint.
type AuthInfo struct {
	// UserID is never empty.
	UserID string

	// Roles drive endpoint access; "admin" may write and prune.
	Roles []string
}

// HasRole reports whether the caller has role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the caller for token, or an error wrapping
	// ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as a local admin. It is the
// default for loopback listeners.
type NopAuthProvider struct{}

func (NopAuthProvider) Validate(context.Context, string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// TokenAuthProvider accepts one static token. Comparison is constant
// time.
type TokenAuthProvider struct {
	token []byte
}

// NewTokenAuthProvider creates a provider for token, which must not be
// empty.
func NewTokenAuthProvider(token string) (*TokenAuthProvider, error) {
	if token == "" {
		return nil, errors.New("token auth requires a non-empty token")
	}
	return &TokenAuthProvider{token: []byte(token)}, nil
}

func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if subtle.ConstantTimeCompare([]byte(token), p.token) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "token", Roles: []string{"admin"}}, nil
}

// RequireAuth rejects requests whose Authorization header does not hold a
// bearer token accepted by provider. The caller is stored in the gin
// context.
func RequireAuth(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil || info == nil {
			c.Header("WWW-Authenticate", `Bearer realm="diagreport"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// RequireRole rejects callers without role. It must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := CallerFrom(c)
		if info == nil || !info.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CallerFrom returns the AuthInfo stored by RequireAuth, or nil.
func CallerFrom(c *gin.Context) *AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*AuthInfo)
	return info
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
