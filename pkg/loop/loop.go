// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package loop keeps the bookkeeping for a process's long-lived asynchronous
resources: sockets, pipes, file watchers, pollers, timers and signal
watchers. Each resource is a Handle registered with a Loop from creation
until Close.

# Registry

The registry is a copy-on-write slice behind an atomic pointer. Writers
(handle creation and Close) serialize on a mutex and publish a fresh slice;
readers call Snapshot, which is a single atomic load and never blocks. A
diagnostic capture can therefore read the registry from a signal watcher or
from inside a deferred recover even if the triggering goroutine was in the
middle of registering a handle.

Handles expose their state through atomics or fields fixed at creation, so
reading a handle is also lock-free.

# Callbacks

Watcher goroutines and timer callbacks run user code. A panic escaping a
callback is handed to the hook installed with SetPanicHook and then
re-raised, so the process still crashes the way an unhandled panic would.

# Thread Safety

All methods are safe for concurrent use.
*/
package loop

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/AleutianAI/diagreport/internal/util"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// Kind tags a handle type. The string form is what reports print.
type Kind string

const (
	KindTCP     Kind = "tcp"
	KindUDP     Kind = "udp"
	KindPipe    Kind = "pipe"
	KindFSEvent Kind = "fs_event"
	KindFSPoll  Kind = "fs_poll"
	KindTimer   Kind = "timer"
	KindSignal  Kind = "signal"
)

// ErrClosed is returned when creating a handle on a closed Loop.
var ErrClosed = errors.New("loop closed")

// ErrCorrupted is returned by Snapshot when the registry holds an entry
// that cannot be a live handle.
var ErrCorrupted = errors.New("handle registry corrupted")

// Handle is a live resource owned by a Loop.
//
// Implementations outside this package may be registered with Register;
// reports list them with their Kind and no type-specific detail.
type Handle interface {
	// Kind returns the type tag.
	Kind() Kind

	// Addr returns an identity token unique among live handles.
	Addr() uintptr

	// HasRef reports whether the handle keeps the process alive.
	HasRef() bool

	// IsActive reports whether the handle is currently doing work:
	// listening, connected, watching, or armed.
	IsActive() bool

	// Close releases the resource and unregisters the handle.
	Close() error
}

// PanicHook observes a panic escaping a loop callback before it is
// re-raised.
type PanicHook func(recovered any)

// Loop owns the handle registry.
type Loop struct {
	// mu serializes registry writers. Readers never take it.
	mu      sync.Mutex
	handles atomic.Pointer[[]Handle]

	closed    atomic.Bool
	panicHook atomic.Pointer[PanicHook]
	logger    *logging.Logger
}

// New creates an empty Loop. A nil logger discards log output.
func New(logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	l := &Loop{logger: logger}
	empty := make([]Handle, 0)
	l.handles.Store(&empty)
	return l
}

// Snapshot returns the live handles in registration order.
//
// # Description
//
// The returned slice is immutable and shared; callers must not modify it.
// Handles created after the load are not included. Snapshot never blocks.
//
// # Outputs
//
//   - []Handle: Live handles, oldest first
//   - error: ErrCorrupted when the registry cannot be walked
func (l *Loop) Snapshot() ([]Handle, error) {
	p := l.handles.Load()
	if p == nil {
		return nil, fmt.Errorf("%w: registry not initialized", ErrCorrupted)
	}
	hs := *p
	for i, h := range hs {
		if h == nil {
			return nil, fmt.Errorf("%w: nil handle at index %d", ErrCorrupted, i)
		}
	}
	return hs, nil
}

// Len returns the number of live handles.
func (l *Loop) Len() int {
	if p := l.handles.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Register adds an externally implemented handle. It is unregistered by
// Unregister; the loop never closes it on its own except in Close.
func (l *Loop) Register(h Handle) error {
	if h == nil {
		return errors.New("nil handle")
	}
	return l.register(h)
}

// Unregister removes h. Removing an unknown handle is a no-op.
func (l *Loop) Unregister(h Handle) {
	l.unregister(h)
}

// SetPanicHook installs the hook called for panics escaping callbacks.
// Passing nil removes it.
func (l *Loop) SetPanicHook(hook PanicHook) {
	if hook == nil {
		l.panicHook.Store(nil)
		return
	}
	l.panicHook.Store(&hook)
}

// Close closes every live handle, newest first, and rejects new ones.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	hs, _ := l.Snapshot()
	var errs []error
	for i := len(hs) - 1; i >= 0; i-- {
		if err := hs[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s handle: %w", hs[i].Kind(), err))
		}
	}
	return errors.Join(errs...)
}

func (l *Loop) register(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}
	cur := *l.handles.Load()
	next := make([]Handle, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, h)
	l.handles.Store(&next)
	return nil
}

func (l *Loop) unregister(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.handles.Load()
	idx := -1
	for i, x := range cur {
		if x == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	next := make([]Handle, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	l.handles.Store(&next)
}

// goSafe starts a watcher goroutine whose panics go through the hook.
func (l *Loop) goSafe(fn func()) {
	util.SafeGo(fn, func(r util.SafeGoResult) {
		l.logger.Error("loop callback panicked", "value", fmt.Sprint(r.PanicValue))
		l.raise(r.PanicValue)
	})
}

// dispatch runs a callback on the current goroutine with the same panic
// treatment as goSafe.
func (l *Loop) dispatch(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			l.raise(v)
		}
	}()
	fn()
}

func (l *Loop) raise(v any) {
	if hook := l.panicHook.Load(); hook != nil {
		(*hook)(v)
	}
	panic(v)
}

// =============================================================================
// Shared handle state
// =============================================================================

// base carries the flags every handle has. It must stay the first field of
// the embedding struct so Addr identifies the handle itself.
type base struct {
	loop   *Loop
	ref    atomic.Bool
	active atomic.Bool
	closed atomic.Bool
}

func (b *base) init(l *Loop) {
	b.loop = l
	b.ref.Store(true)
	b.active.Store(true)
}

// Addr returns the handle's address.
func (b *base) Addr() uintptr { return uintptr(unsafe.Pointer(b)) }

// HasRef reports whether the handle is referenced.
func (b *base) HasRef() bool { return b.ref.Load() }

// IsActive reports whether the handle is active.
func (b *base) IsActive() bool { return b.active.Load() }

// Ref marks the handle as keeping the process alive.
func (b *base) Ref() { b.ref.Store(true) }

// Unref marks the handle as not keeping the process alive.
func (b *base) Unref() { b.ref.Store(false) }

// markClosed flips the handle to closed and unregisters h. It reports
// false if the handle was already closed.
func (b *base) markClosed(h Handle) bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.active.Store(false)
	b.loop.unregister(h)
	return true
}
