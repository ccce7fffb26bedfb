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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/diagreport/pkg/config"
	"github.com/AleutianAI/diagreport/pkg/ux"
)

const crashMonitorCommand = "crash-monitor"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	directory  string
	logLevel   string
	output     string
}

// loadConfig loads the config file and applies flag overrides.
func (ro *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(ro.configPath)
	if err != nil {
		return nil, err
	}
	if ro.directory != "" {
		cfg.Report.Directory = ro.directory
	}
	if ro.logLevel != "" {
		cfg.Logging.Level = ro.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printer returns a Printer for the command's output stream.
func (ro *rootOptions) printer(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	level := ux.DetectLevel(out)
	if ro.output != "" {
		level = ux.ParsePersonalityLevel(ro.output)
	}
	return ux.NewPrinter(out, level)
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "diagreport",
		Short: "Capture and manage diagnostic reports",
		Long: `diagreport writes point-in-time diagnostic reports: process header,
system information, native and goroutine stacks and the event loop handle
summary. Reports are triggered by panics, fatal errors, a signal or an
explicit request.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&ro.configPath, "config", "", "config file (default ~/.diagreport/diagreport.yaml)")
	flags.StringVar(&ro.directory, "dir", "", "report directory, overrides report.directory")
	flags.StringVar(&ro.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVarP(&ro.output, "output", "o", "", "output style: full, minimal, machine (default: detect)")

	cmd.AddCommand(
		newDemoCmd(ro),
		newReportCmd(ro),
		newListCmd(ro),
		newShowCmd(ro),
		newPruneCmd(ro),
		newServeCmd(ro),
		newConfigCmd(ro),
		newCrashMonitorCmd(ro),
	)
	return cmd
}
