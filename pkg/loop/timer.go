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
	"sync"
	"sync/atomic"
	"time"
)

// Timer fires a callback after a timeout and, when repeat is positive,
// every repeat interval after that.
//
// A one-shot timer stays registered but inactive after it fires, until
// Close. Stop disarms without unregistering; Start re-arms.
type Timer struct {
	base

	timeout time.Duration
	repeat  atomic.Int64
	// deadline is the next fire time in Unix nanoseconds.
	deadline atomic.Int64
	cb       func()

	// mu serializes Start, Stop and the fire path. Readers use atomics.
	mu sync.Mutex
	t  *time.Timer
}

// NewTimer registers and arms a timer.
func (l *Loop) NewTimer(timeout, repeat time.Duration, cb func()) (*Timer, error) {
	tm := &Timer{timeout: timeout, cb: cb}
	tm.repeat.Store(int64(repeat))
	tm.init(l)
	tm.active.Store(false)
	if err := l.register(tm); err != nil {
		return nil, err
	}
	tm.Start()
	return tm, nil
}

// Start arms the timer with its original timeout. Starting an armed timer
// restarts it.
func (tm *Timer) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed.Load() {
		return
	}
	tm.armLocked(tm.timeout)
}

func (tm *Timer) armLocked(d time.Duration) {
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.deadline.Store(time.Now().Add(d).UnixNano())
	tm.active.Store(true)
	tm.t = time.AfterFunc(d, tm.fire)
}

func (tm *Timer) fire() {
	tm.mu.Lock()
	if tm.closed.Load() || !tm.active.Load() {
		tm.mu.Unlock()
		return
	}
	if r := time.Duration(tm.repeat.Load()); r > 0 {
		tm.armLocked(r)
	} else {
		tm.active.Store(false)
	}
	tm.mu.Unlock()

	if tm.cb != nil {
		tm.loop.dispatch(tm.cb)
	}
}

// Stop disarms the timer. The handle stays registered.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.t != nil {
		tm.t.Stop()
	}
	tm.active.Store(false)
}

// SetRepeat changes the repeat interval used after the next fire.
func (tm *Timer) SetRepeat(d time.Duration) { tm.repeat.Store(int64(d)) }

// Kind returns KindTimer.
func (tm *Timer) Kind() Kind { return KindTimer }

// Repeat returns the repeat interval; zero for one-shot timers.
func (tm *Timer) Repeat() time.Duration { return time.Duration(tm.repeat.Load()) }

// DueIn returns the time left until the next fire relative to now, never
// negative, and whether the timer is armed.
func (tm *Timer) DueIn(now time.Time) (time.Duration, bool) {
	if !tm.active.Load() {
		return 0, false
	}
	d := time.Duration(tm.deadline.Load() - now.UnixNano())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Close disarms the timer and unregisters the handle.
func (tm *Timer) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.markClosed(tm) {
		return nil
	}
	if tm.t != nil {
		tm.t.Stop()
	}
	return nil
}
