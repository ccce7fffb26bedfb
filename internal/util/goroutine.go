// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"runtime/debug"
)

// =============================================================================
// Result Types
// =============================================================================

// SafeGoResult captures a panic that escaped a SafeGo goroutine.
//
// # Thread Safety
//
// SafeGoResult is immutable after creation and safe for concurrent reads.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue any

	// Stack is debug.Stack() taken inside the deferred recover, so it still
	// contains the panicking frames.
	Stack string
}

// =============================================================================
// Goroutine Safety Functions
// =============================================================================

// SafeGo runs fn in a goroutine and hands an escaping panic to onPanic.
//
// # Description
//
// onPanic runs inside the deferred recover, on the goroutine that panicked,
// before that goroutine's stack is unwound. It may re-panic with the same
// value to let the process crash as it would have without SafeGo; the loop
// package does exactly that after giving its panic hook a chance to run.
//
// # Inputs
//
//   - fn: The function to execute
//   - onPanic: Called with the recovered value; nil recovers silently
//
// # Example
//
//	SafeGo(watch, func(r SafeGoResult) {
//	    logger.Error("watcher panicked", "value", r.PanicValue)
//	    panic(r.PanicValue)
//	})
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if onPanic != nil {
					onPanic(SafeGoResult{
						PanicValue: r,
						Stack:      string(debug.Stack()),
					})
				}
			}
		}()
		fn()
	}()
}
