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
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/diagnostics/archive"
)

var errArchiveDisabled = errors.New("the archive is disabled; set archive.enabled in the config")

func newListCmd(ro *rootOptions) *cobra.Command {
	var fromArchive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), ro, appOptions{archive: fromArchive, dropSignal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var reports []diagnostics.StoredReport
			if fromArchive {
				if a.archive == nil {
					return errArchiveDisabled
				}
				reports, err = a.archive.List(cmd.Context())
			} else {
				reports, err = a.reporter.Storage().List(cmd.Context())
			}
			if err != nil {
				return err
			}
			p := ro.printer(cmd)
			if !fromArchive {
				p.Title("Reports in " + a.reporter.Storage().Dir())
			}
			p.ReportTable(reports, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromArchive, "archive", false, "list the BadgerDB archive instead of the report directory")
	return cmd
}

func newShowCmd(ro *rootOptions) *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a stored report",
		Long: `show prints a report from the report directory. When it is not there
and the archive is enabled, the archived copy is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), ro, appOptions{archive: true, dropSignal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.reporter.Storage().Load(cmd.Context(), args[0])
			if errors.Is(err, fs.ErrNotExist) && a.archive != nil {
				data, err = a.archive.Get(cmd.Context(), args[0])
				if errors.Is(err, archive.ErrNotFound) {
					return fmt.Errorf("report %s not found", args[0])
				}
			}
			if err != nil {
				return err
			}
			if section != "" {
				body, ok := diagnostics.GetSection(string(data), section)
				if !ok {
					return fmt.Errorf("report %s has no section %q", args[0], section)
				}
				data = []byte(body + "\n")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "print one section, e.g. \"Event Loop Handle Summary\"")
	return cmd
}

func newPruneCmd(ro *rootOptions) *cobra.Command {
	var (
		maxAge   time.Duration
		maxCount int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old reports from the report directory",
		Long: `prune applies retention to the report directory. Without flags the
limits come from report.retention_days and report.max_reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), ro, appOptions{dropSignal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			age, count := a.cfg.Retention()
			if cmd.Flags().Changed("max-age") {
				age = maxAge
			}
			if cmd.Flags().Changed("max-count") {
				count = maxCount
			}
			if age < 0 || count < 0 {
				return errors.New("retention limits must not be negative")
			}
			if age == 0 && count == 0 {
				return errors.New("no retention limit set")
			}

			removed, err := a.reporter.Prune(cmd.Context(), age, count)
			if err != nil {
				return err
			}
			ro.printer(cmd).Success(fmt.Sprintf("removed %d report(s)", removed))
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove reports older than this")
	cmd.Flags().IntVar(&maxCount, "max-count", 0, "keep at most this many reports")
	return cmd
}
