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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/diagreport/pkg/logging"
)

// Environment variables passed to the crash monitor child.
const (
	// CrashMonitorEnv is set to "1" in the child.
	CrashMonitorEnv = "DIAGREPORT_CRASH_MONITOR"

	crashParentEnv = "DIAGREPORT_CRASH_PARENT"
)

// crashWaitTimeout bounds how long Close waits for the child.
const crashWaitTimeout = 5 * time.Second

// crashParent identifies the monitored process to the child.
type crashParent struct {
	PID  int      `json:"pid"`
	PPID int      `json:"ppid"`
	Args []string `json:"args"`
	Cwd  string   `json:"cwd"`
}

// -----------------------------------------------------------------------------
// Parent side
// -----------------------------------------------------------------------------

// CrashMonitor forwards the runtime's crash output to a child process.
//
// # Description
//
// Fatal runtime errors such as concurrent map writes or stack exhaustion
// cannot be recovered in-process. The monitor re-executes the binary as a
// child whose stdin is a pipe and registers the pipe's write end with
// debug.SetCrashOutput. When the parent dies the runtime writes the crash
// text to the pipe; the child reads it until EOF and writes a report.
// When the parent exits cleanly the child sees EOF with no data and exits.
//
// # Thread Safety
//
// CrashMonitor is safe for concurrent use.
type CrashMonitor struct {
	cmd    *exec.Cmd
	w      *os.File
	logger *logging.Logger

	mu         sync.Mutex
	forwarding bool
	closed     bool
}

// StartCrashMonitor starts the child and enables forwarding.
//
// # Inputs
//
//   - exe: Path of the binary to run, usually os.Executable()
//   - args: Arguments selecting the child's monitor mode
//   - env: Extra environment, e.g. the enabled events
//   - logger: Logger; nil discards
//
// # Outputs
//
//   - *CrashMonitor: Running monitor
//   - error: Pipe, spawn or SetCrashOutput failure
func StartCrashMonitor(exe string, args []string, env []string, logger *logging.Logger) (*CrashMonitor, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create crash pipe: %w", err)
	}

	parent := crashParent{PID: os.Getpid(), PPID: os.Getppid(), Args: os.Args}
	parent.Cwd, _ = os.Getwd()
	encoded, err := json.Marshal(parent)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to encode crash parent: %w", err)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = pr
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(append(os.Environ(), env...),
		CrashMonitorEnv+"=1",
		crashParentEnv+"="+string(encoded),
	)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start crash monitor: %w", err)
	}
	pr.Close()

	m := &CrashMonitor{cmd: cmd, w: pw, logger: logger}
	if err := m.SetForwarding(true); err != nil {
		_ = m.Close()
		return nil, err
	}
	logger.Debug("crash monitor started", "pid", cmd.Process.Pid)
	return m, nil
}

// SetForwarding registers or unregisters the crash pipe with the runtime.
func (m *CrashMonitor) SetForwarding(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.forwarding == on {
		return nil
	}
	var f *os.File
	if on {
		f = m.w
	}
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		return fmt.Errorf("failed to set crash output: %w", err)
	}
	m.forwarding = on
	return nil
}

// Forwarding reports whether crash output currently reaches the child.
func (m *CrashMonitor) Forwarding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwarding
}

// Close stops forwarding, closes the pipe and waits for the child.
func (m *CrashMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	var errs []error
	if m.forwarding {
		if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
			errs = append(errs, err)
		}
		m.forwarding = false
	}
	m.closed = true
	m.mu.Unlock()

	errs = append(errs, m.w.Close())

	done := make(chan error, 1)
	go func() { done <- m.cmd.Wait() }()
	select {
	case err := <-done:
		errs = append(errs, err)
	case <-time.After(crashWaitTimeout):
		_ = m.cmd.Process.Kill()
		errs = append(errs, errors.New("crash monitor did not exit; killed"))
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Child side
// -----------------------------------------------------------------------------

// IsCrashMonitorProcess reports whether this process was started by
// StartCrashMonitor.
func IsCrashMonitorProcess() bool {
	return os.Getenv(CrashMonitorEnv) == "1"
}

// RunCrashMonitor is the child's main loop: it reads the parent's crash
// output until EOF and writes a report when any was received.
//
// # Outputs
//
//   - *Result: The report, or nil when the parent exited cleanly or the
//     crash's event kind is disabled
//   - error: Read or sink failure
func RunCrashMonitor(ctx context.Context, r *Reporter, in io.Reader) (*Result, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read crash output: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	parent := parentFromEnv(os.Getenv(crashParentEnv))
	return r.ReportFromCrash(ctx, data, parent.PID, parent.PPID, parent.Args, parent.Cwd)
}

// ReportFromCrash writes a report built from runtime crash text.
//
// # Description
//
// "panic:" output becomes an exception report; "fatal error:" and any
// other output become a fatalerror report. Goroutine stacks are parsed
// from the text and the first goroutine doubles as the native stack. The
// handle section is unavailable because the process is gone.
func (r *Reporter) ReportFromCrash(ctx context.Context, text []byte, pid, ppid int, args []string, cwd string) (*Result, error) {
	reason, event := ClassifyCrash(text)
	return r.fire(ctx, trigger{
		reason: reason,
		event:  event,
		err:    errors.New(event),
		dest:   WriteToFile,
		crash:  &crashCapture{pid: pid, ppid: ppid, args: args, cwd: cwd, text: text},
	})
}

// ClassifyCrash returns the event kind and first message line of crash
// text.
func ClassifyCrash(text []byte) (Reason, string) {
	for _, line := range strings.Split(string(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "panic: "):
			msg := strings.TrimPrefix(line, "panic: ")
			if i := strings.Index(msg, " [recovered"); i >= 0 {
				msg = msg[:i]
			}
			return ReasonException, msg
		case strings.HasPrefix(line, "fatal error: "):
			return ReasonFatalError, strings.TrimPrefix(line, "fatal error: ")
		default:
			return ReasonFatalError, line
		}
	}
	return ReasonFatalError, "empty crash output"
}

func parentFromEnv(v string) crashParent {
	var p crashParent
	if v == "" || json.Unmarshal([]byte(v), &p) != nil {
		return crashParent{PID: os.Getppid()}
	}
	return p
}

// crashCapture replaces live capture for reports built from crash text.
type crashCapture struct {
	pid  int
	ppid int
	args []string
	cwd  string
	text []byte
}

func (c *crashCapture) header(h *Header) {
	if c.pid > 0 {
		h.PID = c.pid
	}
	h.PPID = c.ppid
	if len(c.args) > 0 {
		h.CommandLine = c.args
	}
	if c.cwd != "" {
		h.Cwd = c.cwd
	}
}

func (c *crashCapture) fill(rep *Report, maxGoroutines int) {
	env := &rep.Environment
	env.ProcessRSS, env.ProcessVMS = 0, 0
	env.CPUUserSeconds, env.CPUSysSeconds = 0, 0
	env.OpenFDs, env.Threads, env.Goroutines = 0, 0, 0
	env.HeapAlloc, env.HeapSys, env.NumGC = 0, 0, 0
	env.ProcessStartTime = time.Time{}
	if env.Errors == nil {
		env.Errors = make(map[string]string)
	}
	env.Errors[EnvGroupProcess] = "process terminated before capture"

	rep.HandlesError = "process terminated before handle walk"

	gs, capped := ParseGoroutineDump(c.text, maxGoroutines)
	if len(gs) == 0 {
		rep.GoroutinesError = "crash output contained no goroutine stacks"
		rep.NativeStackError = "crash output contained no goroutine stacks"
		return
	}
	rep.Goroutines = gs
	rep.GoroutinesTruncated = capped
	rep.NativeStack = gs[0].Frames
	if len(rep.NativeStack) == 0 {
		rep.NativeStackError = "crashing goroutine has no frames"
	}
}
