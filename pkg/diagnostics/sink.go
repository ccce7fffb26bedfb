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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// Destination selects where a capture goes.
type Destination uint8

const (
	// ReturnAsValue hands the rendered report back to the caller.
	ReturnAsValue Destination = iota
	// WriteToFile writes to the configured file destination, which may be
	// a directory plus pattern or one of the stream destinations.
	WriteToFile
)

// Mirror receives a copy of every report written to file.
//
// # Description
//
// Mirrors run after the report is durable, outside the reentrancy guard,
// each bounded by Config.MirrorTimeout. A failing mirror is logged and
// counted; it never changes the outcome of the trigger.
type Mirror interface {
	// Name identifies the mirror in logs and metrics.
	Name() string

	// Mirror copies content, which was stored as report.
	Mirror(ctx context.Context, report StoredReport, content []byte) error
}

// fileDestination is the resolved target of WriteToFile. storage is
// always set so stored reports stay listable; a non-nil stream takes
// precedence for writes.
type fileDestination struct {
	storage    *FileStorage
	stream     io.Writer
	streamName string
}

func (d *fileDestination) String() string {
	if d.stream != nil {
		return d.streamName
	}
	return "file"
}

// writeStream writes content to a stream destination.
func writeStream(w io.Writer, name string, content []byte) error {
	if _, err := w.Write(content); err != nil {
		return &SinkError{Path: name, Err: err}
	}
	return nil
}

// runMirrors copies content to every mirror concurrently and joins their
// failures. Panics inside a mirror are converted to errors.
func runMirrors(ctx context.Context, mirrors []Mirror, timeout time.Duration, report StoredReport, content []byte) error {
	if len(mirrors) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errs := make([]error, len(mirrors))
	var g errgroup.Group
	for i, m := range mirrors {
		g.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					errs[i] = fmt.Errorf("mirror %s panicked: %v", m.Name(), v)
				}
			}()
			if err := m.Mirror(ctx, report, content); err != nil {
				errs[i] = fmt.Errorf("mirror %s: %w", m.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
