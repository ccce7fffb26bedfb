// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcsmirror uploads diagnostic reports to a Google Cloud Storage
// bucket as they are written.
package gcsmirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

// Config selects the bucket and credentials.
type Config struct {
	// Bucket is the target bucket name. Required.
	Bucket string

	// Prefix is prepended to object names, e.g. "reports/host-1".
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// Endpoint overrides the API endpoint, e.g. for an emulator. Requests
	// to a custom endpoint are sent without authentication.
	Endpoint string
}

// writerFunc opens a writer for one object.
type writerFunc func(ctx context.Context, object, contentType string) io.WriteCloser

// Uploader is a diagnostics.Mirror that copies reports to GCS.
//
// # Thread Safety
//
// Uploader is safe for concurrent use.
type Uploader struct {
	bucket    string
	prefix    string
	client    *storage.Client
	newWriter writerFunc
}

// New creates a client for cfg.
//
// # Outputs
//
//   - *Uploader: Ready-to-use mirror; call Close when done
//   - error: Missing bucket, unreadable key or client failure
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs mirror requires a bucket")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not readable at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	u := &Uploader{bucket: cfg.Bucket, prefix: cfg.Prefix, client: client}
	u.newWriter = func(ctx context.Context, object, contentType string) io.WriteCloser {
		w := client.Bucket(u.bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	return u, nil
}

// Name implements diagnostics.Mirror.
func (u *Uploader) Name() string { return "gcs" }

// ObjectName returns the object a report is uploaded to.
func (u *Uploader) ObjectName(report diagnostics.StoredReport) string {
	if u.prefix == "" {
		return report.Name
	}
	return path.Join(strings.Trim(u.prefix, "/"), report.Name)
}

// Mirror implements diagnostics.Mirror.
func (u *Uploader) Mirror(ctx context.Context, report diagnostics.StoredReport, content []byte) error {
	object := u.ObjectName(report)
	w := u.newWriter(ctx, object, contentType(report.Name))
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s to gs://%s/%s: %w", report.Name, u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// Close releases the client.
func (u *Uploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

var _ diagnostics.Mirror = (*Uploader)(nil)
