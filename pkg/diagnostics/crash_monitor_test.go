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
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCrash(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason Reason
		event  string
	}{
		{"panic", "panic: boom\n\ngoroutine 1 [running]:\n", ReasonException, "boom"},
		{"recovered", "panic: boom [recovered]\n\tpanic: boom\n", ReasonException, "boom"},
		{"fatal", "fatal error: concurrent map writes\n", ReasonFatalError, "concurrent map writes"},
		{"leading blank", "\n\nfatal error: out of memory\n", ReasonFatalError, "out of memory"},
		{"other", "runtime: program exceeds 10000-thread limit\n", ReasonFatalError, "runtime: program exceeds 10000-thread limit"},
		{"empty", "  \n", ReasonFatalError, "empty crash output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, event := ClassifyCrash([]byte(tt.text))
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.event, event)
		})
	}
}

func TestReporter_ReportFromCrash(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	res, err := r.ReportFromCrash(context.Background(), []byte(sampleCrash), 4321, 1, []string{"/usr/bin/app"}, "/srv")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Stored)

	rep := res.Report
	assert.Equal(t, ReasonException, rep.Header.Reason)
	assert.Equal(t, 4321, rep.Header.PID)
	assert.Equal(t, "/srv", rep.Header.Cwd)
	assert.Equal(t, "process terminated before handle walk", rep.HandlesError)
	assert.Contains(t, rep.Environment.Errors, EnvGroupProcess)
	require.Len(t, rep.Goroutines, 3)
	assert.Equal(t, rep.Goroutines[0].Frames, rep.NativeStack)

	text := readReport(t, res.Stored.Path)
	assert.Contains(t, text, "Trigger: runtime error: index out of range [3] with length 2")
	assert.Contains(t, text, "Process ID: 4321")
	assert.Contains(t, text, "#0 main.(*server).handle /src/app/server.go:42")
}

func TestReporter_ReportFromCrashDisabledKind(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	res, err := r.ReportFromCrash(context.Background(), []byte("fatal error: concurrent map writes\n"), 1, 0, nil, "")
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, listReports(t, r))
}

func TestReporter_ReportFromCrashNoStacks(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonFatalError)
	r, _ := newTestReporter(t, cfg, nil)

	res, err := r.ReportFromCrash(context.Background(), []byte("fatal error: out of memory\n"), 1, 0, nil, "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "crash output contained no goroutine stacks", res.Report.GoroutinesError)
	assert.NotEmpty(t, res.Report.NativeStackError)
}

func TestRunCrashMonitor(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException, ReasonFatalError)
	r, _ := newTestReporter(t, cfg, nil)

	res, err := RunCrashMonitor(context.Background(), r, strings.NewReader(""))
	assert.NoError(t, err)
	assert.Nil(t, res, "clean parent exit produces no report")

	t.Setenv(crashParentEnv, `{"pid":777,"ppid":1,"args":["/bin/app","-v"],"cwd":"/tmp"}`)
	res, err = RunCrashMonitor(context.Background(), r, strings.NewReader(sampleCrash))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 777, res.Report.Header.PID)
	assert.Equal(t, []string{"/bin/app", "-v"}, res.Report.Header.CommandLine)
}

func TestParentFromEnv(t *testing.T) {
	p := parentFromEnv("not json")
	assert.Equal(t, os.Getppid(), p.PID)

	p = parentFromEnv(`{"pid":5,"ppid":4,"cwd":"/"}`)
	assert.Equal(t, 5, p.PID)
	assert.Equal(t, 4, p.PPID)
}
