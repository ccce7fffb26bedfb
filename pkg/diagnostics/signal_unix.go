// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package diagnostics

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/diagreport/pkg/loop"
)

// signalTrigger is the installed report signal watcher.
type signalTrigger struct {
	handle *loop.Signal
}

func (t *signalTrigger) close() { _ = t.handle.Close() }

func signalSupported() bool { return true }

// resolveSignal accepts "SIGUSR2", "USR2", "sigusr2" or a number.
func resolveSignal(name string) (syscall.Signal, error) {
	bad := func(reason string) error {
		return &ConfigError{Field: "signal", Value: name, Reason: reason}
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n <= 0 || n > 64 {
			return 0, bad("signal number out of range")
		}
		sig := syscall.Signal(n)
		if sig == syscall.SIGKILL || sig == syscall.SIGSTOP {
			return 0, bad("signal cannot be caught")
		}
		return sig, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig := unix.SignalNum(upper)
	if sig == 0 {
		return 0, bad("unknown signal name")
	}
	if sig == syscall.SIGKILL || sig == syscall.SIGSTOP {
		return 0, bad("signal cannot be caught")
	}
	return sig, nil
}

func describeSignal(sig os.Signal) string {
	if n, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(n); name != "" {
			return name
		}
	}
	return sig.String()
}

func (r *Reporter) installSignal() (*signalTrigger, error) {
	sig, err := resolveSignal(r.cfg.Signal)
	if err != nil {
		return nil, err
	}
	h, err := r.loop.WatchSignal(sig, r.onSignal)
	if err != nil {
		return nil, err
	}
	// The report signal alone must not keep the process alive.
	h.Unref()
	return &signalTrigger{handle: h}, nil
}

// onSignal runs on the watcher goroutine for each delivery.
func (r *Reporter) onSignal(sig os.Signal) {
	if !r.limiter.Allow() {
		r.metrics.RecordSuppressed(ReasonSignal, SuppressRateLimited)
		r.logger.Debug("report trigger suppressed", "reason", ReasonSignal.String(), "cause", SuppressRateLimited)
		return
	}
	_, _ = r.fire(context.Background(), trigger{reason: ReasonSignal, event: describeSignal(sig), dest: WriteToFile})
	if r.cfg.EscalateSignal {
		escalate(sig)
	}
}

// escalate restores the default disposition and re-raises sig so its
// normal action follows the report.
func escalate(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	signal.Reset(s)
	_ = unix.Kill(unix.Getpid(), s)
}
