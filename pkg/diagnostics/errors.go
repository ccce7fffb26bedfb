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
	"errors"
	"fmt"
)

// ErrCaptureSuppressed is returned to explicit callers when another capture
// holds the reentrancy guard. Automatic triggers drop silently.
var ErrCaptureSuppressed = errors.New("capture suppressed: another capture is in progress")

// ErrReporterClosed is returned by calls on a closed Reporter.
var ErrReporterClosed = errors.New("reporter closed")

// ConfigError reports an invalid setting passed to Enable, Disable,
// SetFileDestination or the config loader.
//
// # Example
//
//	err := r.Enable("exceptoin")
//	var cfgErr *ConfigError
//	if errors.As(err, &cfgErr) {
//	    fmt.Println(cfgErr.Value) // "exceptoin"
//	}
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

// Error returns "invalid <field> <value>: <reason>".
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SinkError reports that a report could not be written to its destination.
type SinkError struct {
	Path string
	Err  error
}

// Error returns a message naming the destination.
func (e *SinkError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to write report: %v", e.Err)
	}
	return fmt.Sprintf("failed to write report %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error { return e.Err }

// Compile-time interface compliance checks.
var (
	_ error = (*ConfigError)(nil)
	_ error = (*SinkError)(nil)
)
