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
)

// FatalError reports an irrecoverable error and terminates the process.
//
// # Description
//
// When the fatalerror event is enabled a report is written first. Then
// "fatal error: <msg>" is printed to stderr and the process exits with
// Config.FatalExitCode. With an exit function injected through
// WithExitFunc, FatalError returns after calling it.
func (r *Reporter) FatalError(msg string) {
	res, _ := r.fire(context.Background(), trigger{
		reason: ReasonFatalError,
		event:  msg,
		err:    errors.New(msg),
		dest:   WriteToFile,
	})
	if res != nil {
		r.stopCrashForwarding()
	}
	fmt.Fprintf(r.stderr, "fatal error: %s\n", msg)
	r.exit(r.cfg.FatalExitCode)
}

// FatalErrorf is FatalError with formatting.
func (r *Reporter) FatalErrorf(format string, args ...any) {
	r.FatalError(fmt.Sprintf(format, args...))
}
