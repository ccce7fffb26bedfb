// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"os"
	"os/signal"
	"syscall"
)

// Signal delivers one signal to a callback instead of its default action.
type Signal struct {
	base

	sig    os.Signal
	signum int
	ch     chan os.Signal
}

// WatchSignal replaces the default disposition of sig with cb and
// registers the watcher. cb runs on the watcher goroutine, one delivery at
// a time; deliveries arriving while cb runs are coalesced by os/signal.
func (l *Loop) WatchSignal(sig os.Signal, cb func(os.Signal)) (*Signal, error) {
	s := &Signal{sig: sig, signum: -1, ch: make(chan os.Signal, 1)}
	if n, ok := sig.(syscall.Signal); ok {
		s.signum = int(n)
	}
	s.init(l)
	if err := l.register(s); err != nil {
		return nil, err
	}
	signal.Notify(s.ch, sig)
	l.goSafe(func() {
		for v := range s.ch {
			if cb != nil {
				cb(v)
			}
		}
	})
	return s, nil
}

// Kind returns KindSignal.
func (s *Signal) Kind() Kind { return KindSignal }

// Signum returns the signal number, or -1 if the platform has none.
func (s *Signal) Signum() int { return s.signum }

// Name returns the signal's symbolic name, e.g. "SIGUSR2", or its
// description where the platform has no symbolic names.
func (s *Signal) Name() string { return signalName(s.sig) }

// Close restores the default disposition and unregisters the handle.
func (s *Signal) Close() error {
	if !s.markClosed(s) {
		return nil
	}
	signal.Stop(s.ch)
	close(s.ch)
	return nil
}
