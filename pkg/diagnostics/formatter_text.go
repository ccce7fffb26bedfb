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
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Section labels. Their text and order are part of the report format;
// changing either requires bumping ReportVersion.
const (
	SectionHeader      = "Diagnostic Report"
	SectionSystem      = "System Information"
	SectionNativeStack = "Native Stack Trace"
	SectionGoroutines  = "Goroutine Stacks"
	SectionHandles     = "Event Loop Handle Summary"
	SectionFooter      = "End of Report"
)

// SectionOrder lists the labels in the order they appear.
var SectionOrder = []string{
	SectionHeader,
	SectionSystem,
	SectionNativeStack,
	SectionGoroutines,
	SectionHandles,
	SectionFooter,
}

const noReportData = "no report data"

// -----------------------------------------------------------------------------
// TextFormatter
// -----------------------------------------------------------------------------

// TextFormatter renders reports as plain text.
//
// # Description
//
// Formatting is total: a nil or partial report still produces every
// section, with "<unavailable: reason>" wherever data is missing. Numbers
// are rendered with strconv and fmt verbs, which do not depend on locale.
// Times are UTC RFC 3339.
//
// # Thread Safety
//
// TextFormatter is stateless and safe for concurrent use.
type TextFormatter struct{}

// NewTextFormatter creates a TextFormatter.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

// ContentType returns "text/plain; charset=utf-8".
func (f *TextFormatter) ContentType() string {
	return "text/plain; charset=utf-8"
}

// Format renders r into a new byte slice.
func (f *TextFormatter) Format(r *Report) []byte {
	var buf bytes.Buffer
	buf.Grow(32 * 1024)
	_ = f.Write(&buf, r)
	return buf.Bytes()
}

// Write renders r to w and returns the first write error.
func (f *TextFormatter) Write(w io.Writer, r *Report) error {
	ew := &errWriter{w: w}
	if r == nil {
		r = &Report{
			HandlesError:     noReportData,
			NativeStackError: noReportData,
			GoroutinesError:  noReportData,
		}
		r.Environment.Errors = map[string]string{EnvGroupHost: noReportData}
	}

	writeSection(ew, SectionHeader)
	writeHeader(ew, r)
	writeSection(ew, SectionSystem)
	writeSystem(ew, &r.Environment)
	writeSection(ew, SectionNativeStack)
	writeNativeStack(ew, r)
	writeSection(ew, SectionGoroutines)
	writeGoroutines(ew, r)
	writeSection(ew, SectionHandles)
	writeHandles(ew, r)
	writeSection(ew, SectionFooter)
	return ew.err
}

func writeSection(w *errWriter, label string) {
	w.printf("==== %s ====\n\n", label)
}

func unavailable(reason string) string {
	return "<unavailable: " + reason + ">"
}

func orUnknown(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}

func writeHeader(w *errWriter, r *Report) {
	h := &r.Header
	w.printf("Event: %s\n", h.Reason)
	w.printf("Trigger: %s\n", orUnknown(h.Event))
	if h.Error != "" {
		w.printf("Error: %s\n", h.Error)
	}
	w.printf("Report ID: %s\n", orUnknown(h.ID))
	if h.Time.IsZero() {
		w.printf("Dump event time: <unknown>\n")
	} else {
		w.printf("Dump event time: %s\n", h.Time.UTC().Format(time.RFC3339Nano))
	}
	w.printf("Process ID: %d\n", h.PID)
	w.printf("Parent Process ID: %d\n", h.PPID)
	w.printf("Command line: %s\n", orUnknown(strings.Join(h.CommandLine, " ")))
	w.printf("Working directory: %s\n", orUnknown(h.Cwd))
	w.printf("Go version: %s\n", orUnknown(h.GoVersion))
	w.printf("Report version: %d\n", h.ReportVersion)

	hostname := h.Hostname
	if hostname == "" {
		hostname = r.Environment.Hostname
	}
	w.printf("Machine: %s\n", orUnknown(hostname))

	env := &r.Environment
	if reason, ok := env.Errors[EnvGroupHost]; ok && env.Platform == "" {
		w.printf("OS: %s\n", unavailable(reason))
	} else {
		w.printf("OS: %s %s %s (kernel %s) %s\n",
			orUnknown(env.OS), orUnknown(env.Platform), env.PlatformVersion,
			orUnknown(env.KernelVersion), orUnknown(env.Arch))
	}
	w.printf("\n")
}

func writeSystem(w *errWriter, env *EnvironmentSnapshot) {
	if reason, ok := env.Errors[EnvGroupCPU]; ok {
		w.printf("CPUs: %d (%s)\n", env.CPUCount, unavailable(reason))
	} else {
		w.printf("CPUs: %d (%s)\n", env.CPUCount, orUnknown(env.CPUModel))
	}
	if reason, ok := env.Errors[EnvGroupLoad]; ok {
		w.printf("Load average: %s\n", unavailable(reason))
	} else {
		w.printf("Load average: %.2f %.2f %.2f\n", env.LoadAvg[0], env.LoadAvg[1], env.LoadAvg[2])
	}
	if reason, ok := env.Errors[EnvGroupMemory]; ok {
		w.printf("Memory: %s\n", unavailable(reason))
	} else {
		w.printf("Memory: total %d bytes, available %d bytes, used %d bytes\n",
			env.MemTotal, env.MemAvailable, env.MemUsed)
	}
	w.printf("System uptime: %s\n", env.SystemUptime)
	w.printf("User: %s\n", orUnknown(env.User))

	w.printf("\n-- Process Resource Usage --\n")
	if reason, ok := env.Errors[EnvGroupProcess]; ok {
		w.printf("  %s\n", unavailable(reason))
	}
	if !env.ProcessStartTime.IsZero() {
		w.printf("  Start time: %s\n", env.ProcessStartTime.UTC().Format(time.RFC3339))
	}
	w.printf("  RSS: %d bytes\n", env.ProcessRSS)
	w.printf("  Virtual memory: %d bytes\n", env.ProcessVMS)
	w.printf("  CPU user: %.3fs, system: %.3fs\n", env.CPUUserSeconds, env.CPUSysSeconds)
	w.printf("  Open file descriptors: %d\n", env.OpenFDs)
	w.printf("  OS threads: %d\n", env.Threads)
	w.printf("  Goroutines: %d\n", env.Goroutines)
	w.printf("  Heap: alloc %d bytes, sys %d bytes, GC cycles %d\n", env.HeapAlloc, env.HeapSys, env.NumGC)

	w.printf("\n-- Resource Limits --\n")
	if reason, ok := env.Errors[EnvGroupLimits]; ok {
		w.printf("  %s\n", unavailable(reason))
	}
	for _, l := range env.ResourceLimits {
		w.printf("  %-24s soft: %-20s hard: %s\n", l.Name, formatLimit(l.Soft), formatLimit(l.Hard))
	}

	w.printf("\n-- Environment Variables --\n")
	if reason, ok := env.Errors[EnvGroupEnvVars]; ok {
		w.printf("  %s\n", unavailable(reason))
	}
	for _, kv := range env.EnvVars {
		w.printf("  %s\n", kv)
	}

	w.printf("\n-- Loaded Libraries --\n")
	if reason, ok := env.Errors[EnvGroupLibraries]; ok {
		w.printf("  %s\n", unavailable(reason))
	}
	for _, lib := range env.Libraries {
		w.printf("  %s\n", lib)
	}

	w.printf("\n-- Build Information --\n")
	if reason, ok := env.Errors[EnvGroupBuild]; ok {
		w.printf("  %s\n", unavailable(reason))
	} else {
		w.printf("  Path: %s\n", env.Build.Path)
		w.printf("  Main module: %s %s\n", env.Build.Main, env.Build.Version)
		keys := make([]string, 0, len(env.Build.Settings))
		for k := range env.Build.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.printf("  %s=%s\n", k, env.Build.Settings[k])
		}
		for _, d := range env.Build.Deps {
			w.printf("  dep %s\n", d)
		}
	}
	w.printf("\n")
}

func formatLimit(v uint64) string {
	if v == RlimitInfinity {
		return "unlimited"
	}
	return strconv.FormatUint(v, 10)
}

func writeNativeStack(w *errWriter, r *Report) {
	if r.NativeStackError != "" {
		w.printf("%s\n\n", unavailable(r.NativeStackError))
		return
	}
	if len(r.NativeStack) == 0 {
		w.printf("%s\n\n", unavailable("no frames"))
		return
	}
	for _, f := range r.NativeStack {
		w.printf(" %s\n", formatFrame(f))
	}
	if r.NativeStackTruncated {
		w.printf(" ... outer frames truncated\n")
	}
	w.printf("\n")
}

// formatFrame renders "#3 pkg.Func /src/file.go:42 [0x4a1b2c]"; an
// unresolved frame renders as "#3 0x4a1b2c".
func formatFrame(f StackFrame) string {
	if !f.Resolved() {
		return fmt.Sprintf("#%d 0x%x", f.Index, f.PC)
	}
	loc := ""
	if f.File != "" {
		loc = " " + f.File + ":" + strconv.Itoa(f.Line)
	}
	if f.PC != 0 {
		return fmt.Sprintf("#%d %s%s [0x%x]", f.Index, f.Function, loc, f.PC)
	}
	return fmt.Sprintf("#%d %s%s", f.Index, f.Function, loc)
}

func writeGoroutines(w *errWriter, r *Report) {
	if r.GoroutinesError != "" {
		w.printf("goroutine stacks %s\n\n", unavailable(r.GoroutinesError))
		return
	}
	if len(r.Goroutines) == 0 {
		w.printf("goroutine stacks %s\n\n", unavailable("none captured"))
		return
	}
	for _, g := range r.Goroutines {
		w.printf("goroutine %d [%s]:\n", g.ID, g.State)
		for _, f := range g.Frames {
			w.printf("   %s\n", formatFrame(f))
		}
		if g.CreatedBy != "" {
			w.printf("   created by %s\n", g.CreatedBy)
		}
		w.printf("\n")
	}
	if r.GoroutinesTruncated {
		w.printf("... goroutine dump truncated\n\n")
	}
}

func writeHandles(w *errWriter, r *Report) {
	if r.HandlesError != "" {
		w.printf("handles unavailable: %s\n\n", r.HandlesError)
		return
	}
	w.printf("Flags  Type       Address             Details\n")
	for _, h := range r.Handles {
		w.printf("%s\n", FormatHandleLine(h))
	}
	w.printf("\n")
}

// FormatHandleLine renders one handle-summary line:
// "[RA]   tcp        0x000000c000123456  127.0.0.1:8080 (not connected)".
func FormatHandleLine(h HandleRecord) string {
	return fmt.Sprintf("[%s]   %-10s 0x%016x  %s", h.Flags.Code(), h.Type, h.Address, HandleSuffix(h.Details))
}

// HandleSuffix renders the type-specific part of a handle line.
func HandleSuffix(d HandleDetails) string {
	switch v := d.(type) {
	case TCPDetails:
		return endpointSuffix(v.Local, v.Remote)
	case UDPDetails:
		return endpointSuffix(v.Local, v.Remote)
	case PipeDetails:
		var caps []string
		if v.Readable {
			caps = append(caps, "readable")
		}
		if v.Writable {
			caps = append(caps, "writable")
		}
		if len(caps) == 0 {
			return fmt.Sprintf("fd: %d, (closed)", v.FD)
		}
		return fmt.Sprintf("fd: %d, %s", v.FD, strings.Join(caps, " "))
	case FSEventDetails:
		return "filename: " + v.Filename
	case FSPollDetails:
		return fmt.Sprintf("filename: %s, interval: %dms", v.Filename, v.Interval.Milliseconds())
	case TimerDetails:
		if v.Active {
			return fmt.Sprintf("repeat: %dms, timeout in: %dms", v.Repeat.Milliseconds(), v.DueIn.Milliseconds())
		}
		return fmt.Sprintf("repeat: %dms, inactive", v.Repeat.Milliseconds())
	case SignalDetails:
		return fmt.Sprintf("signum: %d (%s)", v.Signum, v.Name)
	case UnresolvedDetails:
		return "(unresolved)"
	default:
		return "(unresolved)"
	}
}

func endpointSuffix(local, remote string) string {
	if remote == "" {
		return orUnknown(local) + " (not connected)"
	}
	return orUnknown(local) + " connected to " + remote
}

// errWriter keeps the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
