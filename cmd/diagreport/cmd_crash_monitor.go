// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

// newCrashMonitorCmd is the child side of the crash monitor. The parent
// starts it with its crash output on stdin.
func newCrashMonitorCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:    crashMonitorCommand,
		Short:  "Turn crash output on stdin into a report",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !diagnostics.IsCrashMonitorProcess() {
				return fmt.Errorf("%s is started by diagreport itself", crashMonitorCommand)
			}
			// The parent holds the archive lock, so only GCS mirrors here.
			a, err := newApp(cmd.Context(), ro, appOptions{gcs: true, dropSignal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := diagnostics.RunCrashMonitor(cmd.Context(), a.reporter, os.Stdin)
			if err != nil {
				return err
			}
			if res != nil && res.Stored != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "diagreport: crash report written to %s\n", res.Stored.Path)
			}
			return nil
		},
	}
}
