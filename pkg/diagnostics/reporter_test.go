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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/diagreport/pkg/loop"
)

func listReports(t *testing.T, r *Reporter) []StoredReport {
	t.Helper()
	list, err := r.Storage().List(context.Background())
	require.NoError(t, err)
	return list
}

func readReport(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// Construction
// =============================================================================

func TestNewReporter_Defaults(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestReporter(t, testConfig(dir), nil)

	assert.Equal(t, EventSet(0), r.Events())
	assert.Equal(t, "SIGUSR2", r.Config().Signal)
	assert.Equal(t, 2, r.Config().FatalExitCode)
	assert.Equal(t, dir, r.Storage().Dir())
	assert.Equal(t, DefaultFilenamePattern(FormatText), r.Storage().Pattern().String())
	assert.NotNil(t, r.Loop())
}

func TestNewReporter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"format", func(c *Config) { c.Format = "xml" }, "format"},
		{"filename", func(c *Config) { c.Filename = "report.txt" }, "filename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			tt.mod(&cfg)
			_, err := NewReporter(cfg, nil, nil)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

// =============================================================================
// Event set
// =============================================================================

func TestReporter_EnableDisable(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)

	require.NoError(t, r.Enable("exception+fatalerror"))
	assert.True(t, r.IsEnabled(ReasonException))
	assert.True(t, r.IsEnabled(ReasonFatalError))
	assert.False(t, r.IsEnabled(ReasonSignal))

	// Enabling again is a no-op.
	require.NoError(t, r.Enable("exception"))
	assert.Equal(t, "exception+fatalerror", r.Events().String())

	require.NoError(t, r.Disable("fatalerror"))
	assert.Equal(t, "exception", r.Events().String())
}

func TestReporter_EnableInvalidIsNoOp(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	require.NoError(t, r.Enable("exception"))

	err := r.Enable("fatalerror+exceptoin")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "exceptoin", cfgErr.Value)
	assert.Equal(t, "exception", r.Events().String())

	err = r.Disable("exception,bogus")
	require.Error(t, err)
	assert.True(t, r.IsEnabled(ReasonException))
}

// =============================================================================
// Explicit API
// =============================================================================

func TestReporter_GetReport(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestReporter(t, testConfig(dir), nil)

	text, err := r.GetReport(context.Background())
	require.NoError(t, err)

	for _, label := range SectionOrder {
		_, ok := GetSection(text, label)
		assert.True(t, ok, "section %q missing", label)
	}
	header := mustSection(t, []byte(text), SectionHeader)
	assert.Contains(t, header, "Event: apicall")
	assert.Contains(t, header, "Trigger: GetReport")
	assert.Contains(t, header, "Machine: test-host")

	gs := mustSection(t, []byte(text), SectionGoroutines)
	assert.Contains(t, gs, "[running]")

	assert.Empty(t, listReports(t, r), "GetReport must not write files")
}

func TestReporter_GetReportJSON(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)

	out, err := r.GetReportJSON(context.Background())
	require.NoError(t, err)
	var doc JSONReport
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "apicall", doc.Header.Event)
	assert.Equal(t, os.Getpid(), doc.Header.ProcessID)
	assert.NotEmpty(t, doc.Goroutines.Goroutines)
}

func TestReporter_NativeStackStartsAtEntryPoint(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	res, err := r.FireReport(context.Background(), ReasonAPICall, "probe")
	require.NoError(t, err)
	require.NotEmpty(t, res.Report.NativeStack)
	assert.True(t, strings.HasSuffix(res.Report.NativeStack[0].Function, "(*Reporter).FireReport"),
		"first frame = %s", res.Report.NativeStack[0].Function)
}

func TestReporter_WriteReport(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestReporter(t, testConfig(dir), nil)
	ctx := context.Background()

	p1, err := r.WriteReport(ctx, nil)
	require.NoError(t, err)
	p2, err := r.WriteReport(ctx, errors.New("disk latency spike"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, dir, filepath.Dir(p1))
	assert.True(t, r.Storage().Pattern().Match(filepath.Base(p1)))

	text := readReport(t, p2)
	header := mustSection(t, []byte(text), SectionHeader)
	assert.Contains(t, header, "Error: disk latency spike")
	assert.Len(t, listReports(t, r), 2)

	m := r.Metrics().(*NoOpMetrics)
	assert.Equal(t, int64(2), m.ReportsTotal())
	assert.Equal(t, int64(len(text)), m.LastSize())
}

func TestReporter_StreamDestination(t *testing.T) {
	stdout := &syncBuffer{}
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil, WithStreams(stdout, &syncBuffer{}))

	require.NoError(t, r.SetFileDestination(DestinationStdout))
	dest, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, DestinationStdout, dest)
	assert.Contains(t, stdout.String(), "==== End of Report ====")
	assert.Empty(t, listReports(t, r))

	require.NoError(t, r.SetFileDestination(""))
	path, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestReporter_SetFileDestinationInvalid(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	before := r.Storage().Pattern().String()

	err := r.SetFileDestination("../escape.{pid}.{seq}")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, before, r.Storage().Pattern().String())
}

func TestReporter_SetDirectory(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	require.NoError(t, r.SetFileDestination("custom.{pid}.{id}.txt"))

	other := filepath.Join(t.TempDir(), "nested", "reports")
	require.NoError(t, r.SetDirectory(other))
	path, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, other, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "custom."))
}

func TestReporter_JSONFormatFiles(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Format = FormatJSON
	r, _ := newTestReporter(t, cfg, nil)

	path, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".json"))

	var doc JSONReport
	require.NoError(t, json.Unmarshal([]byte(readReport(t, path)), &doc))
	assert.Equal(t, "apicall", doc.Header.Event)
}

// =============================================================================
// Handle scenarios
// =============================================================================

func TestReporter_TCPHandles(t *testing.T) {
	lp := loop.New(nil)
	defer lp.Close()
	ctx := context.Background()

	ln, err := lp.Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	out, err := lp.Dial(ctx, "tcp", ln.LocalAddr())
	require.NoError(t, err)
	in, err := ln.Accept()
	require.NoError(t, err)

	r, _ := newTestReporter(t, testConfig(t.TempDir()), lp)
	text, err := r.GetReport(ctx)
	require.NoError(t, err)

	lines := ParseHandleLines(mustSection(t, []byte(text), SectionHandles))
	var tcp []HandleLine
	for _, l := range lines {
		if l.Type == "tcp" {
			tcp = append(tcp, l)
		}
	}
	require.Len(t, tcp, 3)
	assert.Equal(t, ln.LocalAddr()+" (not connected)", tcp[0].Suffix)
	assert.Equal(t, out.LocalAddr()+" connected to "+ln.LocalAddr(), tcp[1].Suffix)
	assert.Equal(t, in.LocalAddr()+" connected to "+out.LocalAddr(), tcp[2].Suffix)
	for _, l := range tcp {
		assert.True(t, l.Ref)
		assert.True(t, l.Active)
	}

	require.NoError(t, out.Close())
	text, err = r.GetReport(ctx)
	require.NoError(t, err)
	lines = ParseHandleLines(mustSection(t, []byte(text), SectionHandles))
	assert.Len(t, lines, 2, "closed handles are not reported")
}

func TestReporter_FSHandles(t *testing.T) {
	lp := loop.New(nil)
	defer lp.Close()

	dir := t.TempDir()
	polled := filepath.Join(dir, "polled.dat")
	require.NoError(t, os.WriteFile(polled, []byte("x"), 0o600))

	_, err := lp.Watch(dir, func(fsnotify.Event) {}, func(error) {})
	require.NoError(t, err)
	_, err = lp.Poll(polled, 2*time.Second, func(_, _ os.FileInfo) {})
	require.NoError(t, err)

	r, _ := newTestReporter(t, testConfig(t.TempDir()), lp)
	text, err := r.GetReport(context.Background())
	require.NoError(t, err)

	lines := ParseHandleLines(mustSection(t, []byte(text), SectionHandles))
	require.Len(t, lines, 2)
	assert.Equal(t, "fs_event", lines[0].Type)
	assert.Equal(t, "filename: "+dir, lines[0].Suffix)
	assert.Equal(t, "fs_poll", lines[1].Type)
	assert.Equal(t, "filename: "+polled+", interval: 2000ms", lines[1].Suffix)
}

func TestReporter_FSHandleFilenamesVerbatim(t *testing.T) {
	lp := loop.New(nil)
	defer lp.Close()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polled.dat"), []byte("x"), 0o600))

	watched := dir + "/sub/.."
	polled := dir + "//sub/../polled.dat"
	extended := `\\?\C:\reports\polled.dat`
	require.NotEqual(t, watched, filepath.Clean(watched))
	require.NotEqual(t, polled, filepath.Clean(polled))

	_, err := lp.Watch(watched, nil, nil)
	require.NoError(t, err)
	_, err = lp.Poll(polled, time.Second, nil)
	require.NoError(t, err)
	_, err = lp.Poll(extended, time.Second, nil)
	require.NoError(t, err)

	r, _ := newTestReporter(t, testConfig(t.TempDir()), lp)
	want := []string{watched, polled, extended}

	text, err := r.GetReport(context.Background())
	require.NoError(t, err)
	lines := ParseHandleLines(mustSection(t, []byte(text), SectionHandles))
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line.Suffix, "filename: "+want[i]), "line %d: %q", i, line.Suffix)
	}
	assert.Equal(t, "filename: "+polled+", interval: 1000ms", lines[1].Suffix)

	out, err := r.GetReportJSON(context.Background())
	require.NoError(t, err)
	var doc JSONReport
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Handles.Handles, 3)
	for i, h := range doc.Handles.Handles {
		assert.Equal(t, want[i], h.Details["filename"])
	}
}

// =============================================================================
// Gating
// =============================================================================

func TestReporter_DisabledAutomaticIsSilent(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)

	res, err := r.FireReport(context.Background(), ReasonException, errors.New("boom"))
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, listReports(t, r))
}

func TestReporter_InvalidReason(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	_, err := r.FireReport(context.Background(), Reason(17), nil)
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestReporter_ReentrantSuppressed(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException, ReasonFatalError)
	r, _ := newTestReporter(t, cfg, nil)

	// Simulate a capture in progress.
	r.capturing.Store(true)

	_, err := r.GetReport(context.Background())
	assert.ErrorIs(t, err, ErrCaptureSuppressed)

	res, err := r.FireReport(context.Background(), ReasonException, "nested")
	assert.NoError(t, err)
	assert.Nil(t, res)

	r.capturing.Store(false)
	assert.Empty(t, listReports(t, r))
	assert.Equal(t, int64(2), r.Metrics().(*NoOpMetrics).SuppressedTotal())

	_, err = r.GetReport(context.Background())
	assert.NoError(t, err)
}

func TestReporter_OncePolicy(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	cfg.Once = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	r.ReportPanic("first")
	r.ReportPanic("second")
	assert.Len(t, listReports(t, r), 1)

	// apicall is never limited.
	_, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	_, err = r.WriteReport(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, listReports(t, r), 3)
}

func TestReporter_Closed(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException, ReasonFatalError)
	r, _ := newTestReporter(t, cfg, nil)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.GetReport(context.Background())
	assert.ErrorIs(t, err, ErrReporterClosed)
	assert.ErrorIs(t, r.Enable("exception"), ErrReporterClosed)

	res, err := r.FireReport(context.Background(), ReasonException, "late")
	assert.NoError(t, err)
	assert.Nil(t, res)
}

// =============================================================================
// Sink failure and mirrors
// =============================================================================

func TestReporter_SinkFailureFallsBackToStderr(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, stderr := newTestReporter(t, cfg, nil)
	require.NoError(t, os.RemoveAll(r.Storage().Dir()))

	_, err := r.WriteReport(context.Background(), nil)
	var sinkErr *SinkError
	require.True(t, errors.As(err, &sinkErr), "got %v", err)
	assert.Contains(t, stderr.String(), "emitting to stderr")
	assert.Contains(t, stderr.String(), "==== Diagnostic Report ====")

	res, err := r.FireReport(context.Background(), ReasonException, "boom")
	assert.NoError(t, err, "automatic triggers never return errors")
	require.NotNil(t, res)
	assert.Nil(t, res.Stored)
	assert.Equal(t, int64(2), r.Metrics().(*NoOpMetrics).ErrorsTotal())
}

func TestReporter_Mirrors(t *testing.T) {
	good := &recordingMirror{name: "good"}
	bad := &recordingMirror{name: "bad", err: errors.New("bucket unreachable")}
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil, WithMirrors(good))
	r.AddMirror(bad)
	r.AddMirror(nil)

	path, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err, "mirror failures do not fail the report")

	require.Equal(t, 1, good.count())
	assert.Equal(t, path, good.reports[0].Path)
	assert.Equal(t, readReport(t, path), string(good.content[0]))
	assert.Equal(t, 1, bad.count())
	assert.Equal(t, int64(1), r.Metrics().(*NoOpMetrics).ErrorsTotal())

	_, err = r.GetReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, good.count(), "returned reports are not mirrored")
}

type panickingMirror struct{}

func (panickingMirror) Name() string { return "panicky" }
func (panickingMirror) Mirror(context.Context, StoredReport, []byte) error {
	panic("mirror bug")
}

func TestRunMirrors_RecoversPanic(t *testing.T) {
	err := runMirrors(context.Background(), []Mirror{panickingMirror{}}, time.Second, StoredReport{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror bug")
}

// =============================================================================
// Panics and fatal errors
// =============================================================================

func TestReporter_RecoverAndReport(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	v := r.RecoverAndReport(func() { panic(errors.New("nil map write")) })
	require.NotNil(t, v)

	list := listReports(t, r)
	require.Len(t, list, 1)
	header := mustSection(t, []byte(readReport(t, list[0].Path)), SectionHeader)
	assert.Contains(t, header, "Event: exception")
	assert.Contains(t, header, "Trigger: nil map write")
	assert.Contains(t, header, "Error: nil map write")

	assert.Nil(t, r.RecoverAndReport(func() {}))
}

func TestReporter_NestedWrapReportsOnce(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		defer r.Wrap()()
		WrapWithReport(r, func() { panic("one fault") })()
	}()

	assert.Equal(t, "one fault", recovered, "the original value propagates")
	assert.Len(t, listReports(t, r), 1)

	// A different fault is still reported.
	func() {
		defer func() { _ = recover() }()
		defer r.Wrap()()
		panic("another fault")
	}()
	assert.Len(t, listReports(t, r), 2)
}

func TestReporter_RecoverAndReportForgetsSwallowedPanic(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonException)
	r, _ := newTestReporter(t, cfg, nil)

	r.RecoverAndReport(func() { panic("retry me") })
	r.RecoverAndReport(func() { panic("retry me") })
	assert.Len(t, listReports(t, r), 2)

	r.RecoverAndReport(func() {
		defer r.Wrap()()
		panic("inner")
	})
	assert.Len(t, listReports(t, r), 3)
}

func TestSamePanicValue(t *testing.T) {
	err := errors.New("x")
	slice := []int{1, 2}
	m := map[string]int{}
	type holder struct{ v any }

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"same error", err, err, true},
		{"distinct errors", errors.New("x"), errors.New("x"), false},
		{"different types", 1, int64(1), false},
		{"same slice", slice, slice, true},
		{"resliced", slice, slice[:1], false},
		{"same map", m, m, true},
		{"uncomparable field", holder{[]int{1}}, holder{[]int{1}}, false},
		{"nil", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samePanicValue(tt.a, tt.b))
		})
	}
}

func TestReporter_FatalErrorExitCode(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Events = EventsOf(ReasonFatalError)
	cfg.FatalExitCode = 7
	code := -1
	r, stderr := newTestReporter(t, cfg, nil, WithExitFunc(func(c int) { code = c }))

	r.FatalErrorf("cannot allocate %d bytes", 4096)
	assert.Equal(t, 7, code)
	assert.Contains(t, stderr.String(), "fatal error: cannot allocate 4096 bytes")

	list := listReports(t, r)
	require.Len(t, list, 1)
	assert.Contains(t, readReport(t, list[0].Path), "Event: fatalerror")
}

func TestReporter_Prune(t *testing.T) {
	r, _ := newTestReporter(t, testConfig(t.TempDir()), nil)
	for i := 0; i < 3; i++ {
		_, err := r.WriteReport(context.Background(), nil)
		require.NoError(t, err)
	}

	n, err := r.Prune(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m := r.Metrics().(*NoOpMetrics)
	assert.Equal(t, int64(2), m.PrunedTotal())
	assert.Equal(t, int64(1), m.StoredCount())
}

func TestDescribeCause(t *testing.T) {
	tests := []struct {
		name    string
		cause   any
		event   string
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"error", errors.New("broken pipe"), "broken pipe", true},
		{"string", "manual", "manual", false},
		{"stringer", time.Second, "1s", false},
		{"other", 42, "42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := describeCause(tt.cause)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
