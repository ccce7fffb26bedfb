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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Child process modes. The test binary re-executes itself with
// childModeEnv set to exercise paths that end the process.
const (
	childModeEnv = "DIAGREPORT_TEST_CHILD"
	childDirEnv  = "DIAGREPORT_TEST_DIR"
)

func TestMain(m *testing.M) {
	if IsCrashMonitorProcess() {
		os.Exit(runMonitorChild())
	}
	if mode := os.Getenv(childModeEnv); mode != "" {
		runChild(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func childConfig() Config {
	cfg := DefaultConfig()
	cfg.Directory = os.Getenv(childDirEnv)
	cfg.IncludeEnvironment = false
	return cfg
}

func runChild(mode string) {
	cfg := childConfig()
	switch mode {
	case "panic-enabled", "crash", "nested-go":
		cfg.Events = EventsOf(ReasonException)
	case "fatal":
		cfg.Events = EventsOf(ReasonFatalError)
		cfg.FatalExitCode = 3
	}
	r, err := NewReporter(cfg, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "child setup:", err)
		os.Exit(10)
	}

	switch mode {
	case "fatal":
		r.FatalError("disk on fire")
	case "crash":
		exe, err := os.Executable()
		if err != nil {
			os.Exit(11)
		}
		m, err := StartCrashMonitor(exe, nil, nil, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "crash monitor:", err)
			os.Exit(12)
		}
		if err := r.AttachCrashMonitor(m); err != nil {
			os.Exit(13)
		}
		// An unhandled panic on a goroutine without Wrap bypasses the
		// in-process path and reaches the monitor.
		go func() { panic("unhandled in goroutine") }()
		select {}
	case "nested-go":
		r.Go(WrapWithReport(r, func() { panic("boom") }))
		select {}
	}

	defer r.Wrap()()
	panic("boom")
}

func runMonitorChild() int {
	cfg := childConfig()
	cfg.Events = EventsOf(ReasonException, ReasonFatalError)
	r, err := NewReporter(cfg, nil, nil)
	if err != nil {
		return 20
	}
	defer r.Close()
	if _, err := RunCrashMonitor(context.Background(), r, os.Stdin); err != nil {
		return 21
	}
	return 0
}

func runChildProcess(t *testing.T, mode, dir string) (int, string) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), childModeEnv+"="+mode, childDirEnv+"="+dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stderr.String()
	}
	require.NoError(t, err)
	return 0, stderr.String()
}

func countReports(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "diagreport.*.txt"))
	require.NoError(t, err)
	return matches
}

func TestExit_PanicWithExceptionDisabled(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	dir := t.TempDir()
	code, stderr := runChildProcess(t, "panic-disabled", dir)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "panic: boom")
	assert.Empty(t, countReports(t, dir))
}

func TestExit_PanicWithExceptionEnabled(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	dir := t.TempDir()
	code, stderr := runChildProcess(t, "panic-enabled", dir)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "boom")
	reports := countReports(t, dir)
	require.Len(t, reports, 1)

	data, err := os.ReadFile(reports[0])
	require.NoError(t, err)
	header := mustSection(t, data, SectionHeader)
	assert.Contains(t, header, "Event: exception")
	assert.Contains(t, header, "Trigger: boom")
}

func TestExit_NestedWrappersWriteOneReport(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	dir := t.TempDir()
	code, stderr := runChildProcess(t, "nested-go", dir)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "panic: boom")
	assert.Len(t, countReports(t, dir), 1)
}

func TestExit_FatalError(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	dir := t.TempDir()
	code, stderr := runChildProcess(t, "fatal", dir)

	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "fatal error: disk on fire")
	require.Len(t, countReports(t, dir), 1)
}

func TestExit_CrashMonitorReportsUnhandledPanic(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}
	dir := t.TempDir()
	code, _ := runChildProcess(t, "crash", dir)
	assert.Equal(t, 2, code)

	require.Eventually(t, func() bool {
		return len(countReports(t, dir)) == 1
	}, 10*time.Second, 50*time.Millisecond)

	data, err := os.ReadFile(countReports(t, dir)[0])
	require.NoError(t, err)
	text := string(data)
	header := mustSection(t, data, SectionHeader)
	assert.Contains(t, header, "Event: exception")
	assert.Contains(t, header, "Trigger: unhandled in goroutine")
	assert.Contains(t, text, "handles unavailable: process terminated before handle walk")
}
