// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package diagnostics

import (
	"os"
	"runtime"
	"syscall"
)

type signalTrigger struct{}

func (t *signalTrigger) close() {}

func signalSupported() bool { return false }

func resolveSignal(name string) (syscall.Signal, error) {
	return 0, &ConfigError{Field: "signal", Value: name, Reason: "signal trigger not supported on " + runtime.GOOS}
}

func describeSignal(sig os.Signal) string { return sig.String() }

func (r *Reporter) installSignal() (*signalTrigger, error) {
	_, err := resolveSignal(r.cfg.Signal)
	return nil, err
}
