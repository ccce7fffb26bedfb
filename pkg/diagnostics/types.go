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
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/diagreport/pkg/loop"
)

// ReportVersion is bumped whenever a section label or line format changes.
const ReportVersion = 1

// -----------------------------------------------------------------------------
// Reason
// -----------------------------------------------------------------------------

// Reason identifies what triggered a report.
type Reason uint8

const (
	// ReasonException is an unrecovered panic.
	ReasonException Reason = iota
	// ReasonFatalError is an irrecoverable runtime or application error.
	ReasonFatalError
	// ReasonSignal is delivery of the report signal.
	ReasonSignal
	// ReasonAPICall is an explicit programmatic request.
	ReasonAPICall
)

var reasonNames = [...]string{
	ReasonException:  "exception",
	ReasonFatalError: "fatalerror",
	ReasonSignal:     "signal",
	ReasonAPICall:    "apicall",
}

// String returns the event kind name used in configuration and reports.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// IsValid reports whether r is one of the defined reasons.
func (r Reason) IsValid() bool {
	return int(r) < len(reasonNames)
}

// Automatic reports whether the reason comes from a fault or signal rather
// than a direct call. Failures on automatic paths are never returned.
func (r Reason) Automatic() bool {
	return r != ReasonAPICall
}

// -----------------------------------------------------------------------------
// Report
// -----------------------------------------------------------------------------

// Report is one capture. It is built by a single capturing goroutine and is
// not modified once formatting starts.
type Report struct {
	Header      Header
	Environment EnvironmentSnapshot

	Handles      []HandleRecord
	HandlesError string

	NativeStack          []StackFrame
	NativeStackError     string
	NativeStackTruncated bool

	Goroutines          []GoroutineStack
	GoroutinesError     string
	GoroutinesTruncated bool
}

// Header holds the report metadata.
type Header struct {
	Reason Reason
	// Event is a short description of the trigger, e.g. the signal name or
	// the panic value.
	Event string
	// Error is the text of the error that triggered the report, if any.
	Error string

	ID            string
	Time          time.Time
	PID           int
	PPID          int
	CommandLine   []string
	Cwd           string
	Hostname      string
	GoVersion     string
	ReportVersion int
}

// Degraded lists the sections that could not be fully captured, as
// "section: reason" strings.
func (r *Report) Degraded() []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.HandlesError != "" {
		out = append(out, "handles: "+r.HandlesError)
	}
	if r.NativeStackError != "" {
		out = append(out, "native stack: "+r.NativeStackError)
	}
	if r.GoroutinesError != "" {
		out = append(out, "goroutines: "+r.GoroutinesError)
	}
	keys := make([]string, 0, len(r.Environment.Errors))
	for k := range r.Environment.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, "environment "+k+": "+r.Environment.Errors[k])
	}
	return out
}

// -----------------------------------------------------------------------------
// Handles
// -----------------------------------------------------------------------------

// HandleFlags are the Ref and Active bits of a handle.
type HandleFlags struct {
	Ref    bool
	Active bool
}

// Code returns the two-letter flag code: "RA", "R-", "-A" or "--".
func (f HandleFlags) Code() string {
	b := [2]byte{'-', '-'}
	if f.Ref {
		b[0] = 'R'
	}
	if f.Active {
		b[1] = 'A'
	}
	return string(b[:])
}

// HandleRecord describes one live handle at capture time. Address is only
// meaningful for correlating lines within the same report.
type HandleRecord struct {
	Type    loop.Kind
	Address uintptr
	Flags   HandleFlags
	Details HandleDetails
}

// HandleDetails is the type-specific part of a HandleRecord. The set of
// implementations is closed; formatters switch over it exhaustively.
type HandleDetails interface {
	handleDetails()
}

// TCPDetails describes a tcp handle.
type TCPDetails struct {
	Local     string
	Remote    string
	Listening bool
}

// UDPDetails describes a udp handle.
type UDPDetails struct {
	Local  string
	Remote string
}

// PipeDetails describes a pipe handle.
type PipeDetails struct {
	FD       int
	Readable bool
	Writable bool
}

// FSEventDetails describes an fs_event handle.
type FSEventDetails struct {
	Filename string
}

// FSPollDetails describes an fs_poll handle.
type FSPollDetails struct {
	Filename string
	Interval time.Duration
}

// TimerDetails describes a timer handle.
type TimerDetails struct {
	Repeat time.Duration
	Active bool
	// DueIn is the time left until the next fire when Active.
	DueIn time.Duration
}

// SignalDetails describes a signal handle.
type SignalDetails struct {
	Signum int
	Name   string
}

// UnresolvedDetails stands in for handle types without an extractor.
type UnresolvedDetails struct {
	Kind string
}

func (TCPDetails) handleDetails()        {}
func (UDPDetails) handleDetails()        {}
func (PipeDetails) handleDetails()       {}
func (FSEventDetails) handleDetails()    {}
func (FSPollDetails) handleDetails()     {}
func (TimerDetails) handleDetails()      {}
func (SignalDetails) handleDetails()     {}
func (UnresolvedDetails) handleDetails() {}

// -----------------------------------------------------------------------------
// Stacks
// -----------------------------------------------------------------------------

// StackFrame is one frame, innermost first. Function is empty when the
// program counter could not be symbolized.
type StackFrame struct {
	Index    int
	PC       uintptr
	Function string
	File     string
	Line     int
}

// Resolved reports whether the frame has a symbol.
func (f StackFrame) Resolved() bool { return f.Function != "" }

// GoroutineStack is one goroutine from a runtime stack dump.
type GoroutineStack struct {
	ID        int64
	State     string
	Frames    []StackFrame
	CreatedBy string
}

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// EnvironmentSnapshot holds facts read once per report. Groups that could
// not be read have an entry in Errors keyed by group name.
type EnvironmentSnapshot struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	User            string

	CPUCount int
	CPUModel string
	LoadAvg  [3]float64

	MemTotal     uint64
	MemAvailable uint64
	MemUsed      uint64

	ProcessRSS     uint64
	ProcessVMS     uint64
	CPUUserSeconds float64
	CPUSysSeconds  float64
	OpenFDs        int32
	Threads        int32
	Goroutines     int
	HeapAlloc      uint64
	HeapSys        uint64
	NumGC          uint32

	ResourceLimits []ResourceLimit

	SystemUptime     time.Duration
	ProcessStartTime time.Time

	EnvVars   []string
	Libraries []string
	Build     BuildInfo

	Errors map[string]string
}

// Environment groups, used as keys of EnvironmentSnapshot.Errors.
const (
	EnvGroupHost      = "host"
	EnvGroupCPU       = "cpu"
	EnvGroupLoad      = "load"
	EnvGroupMemory    = "memory"
	EnvGroupProcess   = "process"
	EnvGroupLimits    = "limits"
	EnvGroupLibraries = "libraries"
	EnvGroupEnvVars   = "envvars"
	EnvGroupBuild     = "build"
)

// ResourceLimit is one rlimit. Unlimited values are reported as
// RlimitInfinity.
type ResourceLimit struct {
	Name string
	Soft uint64
	Hard uint64
}

// RlimitInfinity marks an unlimited resource limit.
const RlimitInfinity = ^uint64(0)

// BuildInfo is the subset of runtime/debug.BuildInfo reports carry.
type BuildInfo struct {
	Path     string
	Main     string
	Version  string
	Settings map[string]string
	Deps     []string
}
