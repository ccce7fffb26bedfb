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
	"reflect"

	"github.com/AleutianAI/diagreport/internal/util"
)

// Wrap returns a function to defer at the top of main or of a goroutine.
//
// # Description
//
// The returned function recovers a panic, writes an exception report when
// the exception event is enabled and panics again with the same value, so
// the process still terminates the way an unhandled panic does, with exit
// status 2. Crash output forwarding is switched off before the second
// panic so the crash monitor does not report the same fault twice.
//
// Wrappers compose: when the re-raised value reaches an outer Wrap,
// WrapWithReport or Go on the same panic path it is recognised as already
// reported and only propagated.
//
// # Examples
//
//	func main() {
//	    r, _ := diagnostics.NewReporter(cfg, nil, logger)
//	    defer r.Wrap()()
//	    run()
//	}
//
// # Limitations
//
//   - Fatal runtime errors (concurrent map writes, out of memory) cannot be
//     recovered; they reach the crash monitor when one is attached.
func (r *Reporter) Wrap() func() {
	return func() {
		v := recover()
		if v == nil {
			return
		}
		r.ReportPanic(v)
		panic(v)
	}
}

// ReportPanic writes an exception report for panic value v. It is also
// installed as the loop's panic hook. It does not recover or re-panic.
//
// A value identical to the one most recently reported is skipped, so a
// panic that unwinds through several wrappers yields one report.
func (r *Reporter) ReportPanic(v any) {
	if r.alreadyReported(v) {
		return
	}
	defer r.lastPanic.Store(&reportedPanic{value: v})
	res, _ := r.fire(context.Background(), trigger{
		reason: ReasonException,
		event:  fmt.Sprint(v),
		err:    panicError(v),
		dest:   WriteToFile,
	})
	if res != nil {
		r.stopCrashForwarding()
	}
}

// RecoverAndReport runs fn and swallows a panic after reporting it.
//
// # Outputs
//
//   - any: The recovered panic value, or nil
func (r *Reporter) RecoverAndReport(fn func()) (recovered any) {
	defer func() {
		if v := recover(); v != nil {
			r.ReportPanic(v)
			r.forgetPanic(v)
			recovered = v
		}
	}()
	fn()
	return nil
}

// Go runs fn on a new goroutine whose panics are reported and then
// re-raised, which terminates the process.
func (r *Reporter) Go(fn func()) {
	util.SafeGo(fn, func(res util.SafeGoResult) {
		r.logger.Error("goroutine panicked", "value", fmt.Sprint(res.PanicValue))
		r.ReportPanic(res.PanicValue)
		panic(res.PanicValue)
	})
}

// WrapWithReport returns fn wrapped so that a panic produces a report
// before propagating.
func WrapWithReport(r *Reporter, fn func()) func() {
	return func() {
		defer r.Wrap()()
		fn()
	}
}

// reportedPanic remembers the last value ReportPanic handled.
type reportedPanic struct {
	value any
}

func (r *Reporter) alreadyReported(v any) bool {
	last := r.lastPanic.Load()
	return last != nil && samePanicValue(last.value, v)
}

// forgetPanic clears the remembered value once a panic has been swallowed,
// so a later panic with an equal value is reported again.
func (r *Reporter) forgetPanic(v any) {
	if last := r.lastPanic.Load(); last != nil && samePanicValue(last.value, v) {
		r.lastPanic.CompareAndSwap(last, nil)
	}
}

// samePanicValue compares panic values without panicking on
// uncomparable dynamic types. Slices, maps and funcs compare by identity.
func samePanicValue(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New(fmt.Sprint(v))
}

func (r *Reporter) stopCrashForwarding() {
	r.trigMu.Lock()
	crash := r.crash
	r.trigMu.Unlock()
	if crash != nil {
		_ = crash.SetForwarding(false)
	}
}
