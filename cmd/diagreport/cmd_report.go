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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

func newReportCmd(ro *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		section string
		write   bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Capture a report of this process and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), ro, appOptions{archive: write, gcs: write, dropSignal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if write {
				dest, err := a.reporter.WriteReport(cmd.Context(), nil)
				if err != nil {
					return err
				}
				ro.printer(cmd).Success("report written to " + dest)
				return nil
			}

			var out []byte
			if asJSON {
				out, err = a.reporter.GetReportJSON(cmd.Context())
			} else {
				var text string
				text, err = a.reporter.GetReport(cmd.Context())
				out = []byte(text)
			}
			if err != nil {
				return err
			}
			if section != "" {
				body, ok := diagnostics.GetSection(string(out), section)
				if !ok {
					return fmt.Errorf("report has no section %q", section)
				}
				out = []byte(body + "\n")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	cmd.Flags().StringVar(&section, "section", "", "print one text section, e.g. \"System Information\"")
	cmd.Flags().BoolVar(&write, "write", false, "write to the report destination instead of printing")
	cmd.MarkFlagsMutuallyExclusive("json", "section")
	return cmd
}

func newDemoCmd(ro *rootOptions) *cobra.Command {
	var (
		doPanic bool
		doFatal bool
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Open sample handles and trigger a report",
		Long: `demo opens a TCP listener with a connected client, a pipe, a repeating
timer and a watcher plus a poller on the report directory, then
triggers a report:

  default   write a report through the explicit API
  --panic   panic; the exception event writes a report before the crash
  --fatal   call FatalError; exits with report.fatal_exit_code
  --wait    keep the handles open so the report signal can be sent`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, ro, appOptions{crashMonitor: true, archive: true, gcs: true})
			if err != nil {
				return err
			}
			defer a.Close()
			r := a.reporter
			p := ro.printer(cmd)

			closeHandles, err := openDemoHandles(cmd, r)
			if err != nil {
				return err
			}
			defer closeHandles()

			switch {
			case doPanic:
				defer r.Wrap()()
				panic("diagreport demo panic")
			case doFatal:
				r.FatalError("diagreport demo fatal error")
				return nil
			case wait > 0:
				p.Info(fmt.Sprintf("pid %d waiting %s; send %s to write a report", os.Getpid(), wait, r.Config().Signal))
				select {
				case <-ctx.Done():
				case <-time.After(wait):
				}
				return nil
			}

			dest, err := r.WriteReport(ctx, nil)
			if err != nil {
				return err
			}
			p.Success("report written to " + dest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&doPanic, "panic", false, "panic after opening handles")
	cmd.Flags().BoolVar(&doFatal, "fatal", false, "raise a fatal error after opening handles")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait for the report signal instead of writing a report")
	cmd.MarkFlagsMutuallyExclusive("panic", "fatal", "wait")
	return cmd
}

// openDemoHandles registers one handle of several kinds on the reporter's
// loop.
func openDemoHandles(cmd *cobra.Command, r *diagnostics.Reporter) (func(), error) {
	lp := r.Loop()
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	ln, err := lp.Listen(cmd.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	closers = append(closers, ln.Close)

	client, err := lp.Dial(cmd.Context(), "tcp", ln.LocalAddr())
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, client.Close)

	server, err := ln.Accept()
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, server.Close)

	pr, pw, err := lp.OpenPipe()
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, pr.Close, pw.Close)

	timer, err := lp.NewTimer(time.Minute, time.Minute, func() {})
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, timer.Close)

	poll, err := lp.Poll(r.Storage().Dir(), 5*time.Second, func(curr, prev os.FileInfo) {})
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, poll.Close)

	watch, err := lp.Watch(r.Storage().Dir(), nil, nil)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, watch.Close)

	return closeAll, nil
}
