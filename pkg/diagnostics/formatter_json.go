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
	"encoding/json"
	"fmt"
	"time"
)

// JSONFormatter renders reports as a JSON document carrying the same
// entities as the text form.
type JSONFormatter struct {
	// Indent pretty-prints the output when true.
	Indent bool
}

// NewJSONFormatter creates an indenting JSONFormatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{Indent: true}
}

// ContentType returns "application/json".
func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// Format renders r. A nil report renders with every section unavailable.
func (f *JSONFormatter) Format(r *Report) ([]byte, error) {
	doc := toJSONReport(r)
	var (
		out []byte
		err error
	)
	if f.Indent {
		out, err = json.MarshalIndent(doc, "", "  ")
	} else {
		out, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(out, '\n'), nil
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

// JSONReport is the document produced by JSONFormatter.
type JSONReport struct {
	Header      JSONHeader      `json:"header"`
	Environment JSONEnvironment `json:"environment"`
	NativeStack JSONNativeStack `json:"nativeStack"`
	Goroutines  JSONGoroutines  `json:"goroutines"`
	Handles     JSONHandleList  `json:"handles"`
}

// JSONHeader mirrors Header.
type JSONHeader struct {
	Event            string   `json:"event"`
	Trigger          string   `json:"trigger"`
	Error            string   `json:"error,omitempty"`
	ReportID         string   `json:"reportId"`
	DumpEventTime    string   `json:"dumpEventTime"`
	ProcessID        int      `json:"processId"`
	ParentProcessID  int      `json:"parentProcessId"`
	CommandLine      []string `json:"commandLine"`
	WorkingDirectory string   `json:"cwd"`
	GoVersion        string   `json:"goVersion"`
	ReportVersion    int      `json:"reportVersion"`
	Machine          string   `json:"host"`
}

// JSONEnvironment mirrors EnvironmentSnapshot.
type JSONEnvironment struct {
	OS              string            `json:"os"`
	Platform        string            `json:"platform"`
	PlatformVersion string            `json:"platformVersion"`
	KernelVersion   string            `json:"kernelVersion"`
	Arch            string            `json:"arch"`
	User            string            `json:"user"`
	CPUCount        int               `json:"cpuCount"`
	CPUModel        string            `json:"cpuModel"`
	LoadAvg         [3]float64        `json:"loadAverage"`
	Memory          JSONMemory        `json:"memory"`
	Process         JSONProcess       `json:"process"`
	ResourceLimits  []JSONLimit       `json:"resourceLimits"`
	SystemUptimeSec float64           `json:"systemUptimeSeconds"`
	EnvVars         []string          `json:"environmentVariables"`
	Libraries       []string          `json:"sharedObjects"`
	Build           JSONBuild         `json:"build"`
	Errors          map[string]string `json:"unavailable,omitempty"`
}

// JSONBuild mirrors BuildInfo.
type JSONBuild struct {
	Path     string            `json:"path"`
	Main     string            `json:"main"`
	Version  string            `json:"version"`
	Settings map[string]string `json:"settings,omitempty"`
	Deps     []string          `json:"deps,omitempty"`
}

// JSONMemory holds system memory figures in bytes.
type JSONMemory struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
	Used      uint64 `json:"used"`
}

// JSONProcess holds process usage figures.
type JSONProcess struct {
	StartTime      string  `json:"startTime,omitempty"`
	RSS            uint64  `json:"rss"`
	VMS            uint64  `json:"vms"`
	CPUUserSeconds float64 `json:"cpuUserSeconds"`
	CPUSysSeconds  float64 `json:"cpuSystemSeconds"`
	OpenFDs        int32   `json:"openFds"`
	Threads        int32   `json:"threads"`
	Goroutines     int     `json:"goroutines"`
	HeapAlloc      uint64  `json:"heapAlloc"`
	HeapSys        uint64  `json:"heapSys"`
	NumGC          uint32  `json:"numGC"`
}

// JSONLimit is one resource limit; nil means unlimited.
type JSONLimit struct {
	Name string  `json:"name"`
	Soft *uint64 `json:"soft"`
	Hard *uint64 `json:"hard"`
}

// JSONFrame is one stack frame.
type JSONFrame struct {
	Index    int    `json:"index"`
	PC       string `json:"pc,omitempty"`
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// JSONNativeStack is the native stack section.
type JSONNativeStack struct {
	Frames      []JSONFrame `json:"frames"`
	Truncated   bool        `json:"truncated,omitempty"`
	Unavailable string      `json:"unavailable,omitempty"`
}

// JSONGoroutine is one goroutine.
type JSONGoroutine struct {
	ID        int64       `json:"id"`
	State     string      `json:"state"`
	Frames    []JSONFrame `json:"frames"`
	CreatedBy string      `json:"createdBy,omitempty"`
}

// JSONGoroutines is the goroutine section.
type JSONGoroutines struct {
	Goroutines  []JSONGoroutine `json:"list"`
	Truncated   bool            `json:"truncated,omitempty"`
	Unavailable string          `json:"unavailable,omitempty"`
}

// JSONHandle is one handle.
type JSONHandle struct {
	Type    string         `json:"type"`
	Address string         `json:"address"`
	Flags   string         `json:"flags"`
	Ref     bool           `json:"ref"`
	Active  bool           `json:"active"`
	Details map[string]any `json:"details"`
}

// JSONHandleList is the handle section.
type JSONHandleList struct {
	Handles     []JSONHandle `json:"list"`
	Unavailable string       `json:"unavailable,omitempty"`
}

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

func toJSONReport(r *Report) JSONReport {
	if r == nil {
		return JSONReport{
			Environment: JSONEnvironment{Errors: map[string]string{EnvGroupHost: noReportData}},
			NativeStack: JSONNativeStack{Frames: []JSONFrame{}, Unavailable: noReportData},
			Goroutines:  JSONGoroutines{Goroutines: []JSONGoroutine{}, Unavailable: noReportData},
			Handles:     JSONHandleList{Handles: []JSONHandle{}, Unavailable: noReportData},
		}
	}

	h := r.Header
	hostname := h.Hostname
	if hostname == "" {
		hostname = r.Environment.Hostname
	}
	doc := JSONReport{
		Header: JSONHeader{
			Event:            h.Reason.String(),
			Trigger:          h.Event,
			Error:            h.Error,
			ReportID:         h.ID,
			ProcessID:        h.PID,
			ParentProcessID:  h.PPID,
			CommandLine:      h.CommandLine,
			WorkingDirectory: h.Cwd,
			GoVersion:        h.GoVersion,
			ReportVersion:    h.ReportVersion,
			Machine:          hostname,
		},
		Environment: toJSONEnvironment(&r.Environment),
		NativeStack: JSONNativeStack{
			Frames:      toJSONFrames(r.NativeStack),
			Truncated:   r.NativeStackTruncated,
			Unavailable: r.NativeStackError,
		},
		Goroutines: JSONGoroutines{
			Goroutines:  make([]JSONGoroutine, 0, len(r.Goroutines)),
			Truncated:   r.GoroutinesTruncated,
			Unavailable: r.GoroutinesError,
		},
		Handles: JSONHandleList{
			Handles:     make([]JSONHandle, 0, len(r.Handles)),
			Unavailable: r.HandlesError,
		},
	}
	if !h.Time.IsZero() {
		doc.Header.DumpEventTime = h.Time.UTC().Format(time.RFC3339Nano)
	}
	for _, g := range r.Goroutines {
		doc.Goroutines.Goroutines = append(doc.Goroutines.Goroutines, JSONGoroutine{
			ID:        g.ID,
			State:     g.State,
			Frames:    toJSONFrames(g.Frames),
			CreatedBy: g.CreatedBy,
		})
	}
	if r.HandlesError == "" {
		for _, rec := range r.Handles {
			doc.Handles.Handles = append(doc.Handles.Handles, toJSONHandle(rec))
		}
	}
	return doc
}

func toJSONEnvironment(env *EnvironmentSnapshot) JSONEnvironment {
	out := JSONEnvironment{
		OS:              env.OS,
		Platform:        env.Platform,
		PlatformVersion: env.PlatformVersion,
		KernelVersion:   env.KernelVersion,
		Arch:            env.Arch,
		User:            env.User,
		CPUCount:        env.CPUCount,
		CPUModel:        env.CPUModel,
		LoadAvg:         env.LoadAvg,
		Memory: JSONMemory{
			Total:     env.MemTotal,
			Available: env.MemAvailable,
			Used:      env.MemUsed,
		},
		Process: JSONProcess{
			RSS:            env.ProcessRSS,
			VMS:            env.ProcessVMS,
			CPUUserSeconds: env.CPUUserSeconds,
			CPUSysSeconds:  env.CPUSysSeconds,
			OpenFDs:        env.OpenFDs,
			Threads:        env.Threads,
			Goroutines:     env.Goroutines,
			HeapAlloc:      env.HeapAlloc,
			HeapSys:        env.HeapSys,
			NumGC:          env.NumGC,
		},
		ResourceLimits:  make([]JSONLimit, 0, len(env.ResourceLimits)),
		SystemUptimeSec: env.SystemUptime.Seconds(),
		EnvVars:         env.EnvVars,
		Libraries:       env.Libraries,
		Build:           JSONBuild(env.Build),
		Errors:          env.Errors,
	}
	if !env.ProcessStartTime.IsZero() {
		out.Process.StartTime = env.ProcessStartTime.UTC().Format(time.RFC3339)
	}
	for _, l := range env.ResourceLimits {
		out.ResourceLimits = append(out.ResourceLimits, JSONLimit{
			Name: l.Name,
			Soft: limitPtr(l.Soft),
			Hard: limitPtr(l.Hard),
		})
	}
	return out
}

func limitPtr(v uint64) *uint64 {
	if v == RlimitInfinity {
		return nil
	}
	return &v
}

func toJSONFrames(frames []StackFrame) []JSONFrame {
	out := make([]JSONFrame, 0, len(frames))
	for _, f := range frames {
		jf := JSONFrame{Index: f.Index, Function: f.Function, File: f.File, Line: f.Line}
		if f.PC != 0 {
			jf.PC = fmt.Sprintf("0x%x", f.PC)
		}
		out = append(out, jf)
	}
	return out
}

func toJSONHandle(rec HandleRecord) JSONHandle {
	return JSONHandle{
		Type:    string(rec.Type),
		Address: fmt.Sprintf("0x%016x", rec.Address),
		Flags:   rec.Flags.Code(),
		Ref:     rec.Flags.Ref,
		Active:  rec.Flags.Active,
		Details: handleDetailsMap(rec.Details),
	}
}

func handleDetailsMap(d HandleDetails) map[string]any {
	switch v := d.(type) {
	case TCPDetails:
		m := map[string]any{"localEndpoint": v.Local, "listening": v.Listening}
		if v.Remote != "" {
			m["remoteEndpoint"] = v.Remote
		}
		return m
	case UDPDetails:
		m := map[string]any{"localEndpoint": v.Local}
		if v.Remote != "" {
			m["remoteEndpoint"] = v.Remote
		}
		return m
	case PipeDetails:
		return map[string]any{"fd": v.FD, "readable": v.Readable, "writable": v.Writable}
	case FSEventDetails:
		return map[string]any{"filename": v.Filename}
	case FSPollDetails:
		return map[string]any{"filename": v.Filename, "intervalMs": v.Interval.Milliseconds()}
	case TimerDetails:
		m := map[string]any{"repeatMs": v.Repeat.Milliseconds(), "active": v.Active}
		if v.Active {
			m["dueInMs"] = v.DueIn.Milliseconds()
		}
		return m
	case SignalDetails:
		return map[string]any{"signum": v.Signum, "signal": v.Name}
	case UnresolvedDetails:
		return map[string]any{"unresolved": true, "kind": v.Kind}
	default:
		return map[string]any{"unresolved": true}
	}
}
