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
	"os/user"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// EnvironmentProbe reads the facts for the System Information section.
type EnvironmentProbe interface {
	// Probe never fails as a whole; unreadable groups are recorded in
	// EnvironmentSnapshot.Errors.
	Probe(ctx context.Context) EnvironmentSnapshot
}

// SystemProbe is the EnvironmentProbe for the current process.
//
// # Description
//
// Static facts (host identity, cpu model, build info, user) are read once,
// either by Warm or by the first Probe, and reused afterwards so a capture
// inside a crash does not repeat the expensive lookups. Usage figures
// (load, memory, process counters, limits) and the loaded libraries are
// read on every Probe from procfs or sysctl, which does not block on the
// process's own I/O, so libraries loaded after Warm are listed.
//
// # Thread Safety
//
// SystemProbe is safe for concurrent use.
type SystemProbe struct {
	includeEnv bool
	redactor   *Redactor
	pid        int32

	once   sync.Once
	static EnvironmentSnapshot
	proc   *process.Process
}

// NewSystemProbe creates a probe for the running process.
func NewSystemProbe(includeEnv bool, redactor *Redactor) *SystemProbe {
	if redactor == nil {
		redactor = NewRedactor(DefaultRedactionPatterns())
	}
	return &SystemProbe{
		includeEnv: includeEnv,
		redactor:   redactor,
		pid:        int32(os.Getpid()),
	}
}

// Warm reads the static facts now rather than at the first capture.
func (p *SystemProbe) Warm(ctx context.Context) {
	p.once.Do(func() { p.readStatic(ctx) })
}

// Probe returns a fresh snapshot.
func (p *SystemProbe) Probe(ctx context.Context) EnvironmentSnapshot {
	p.Warm(ctx)

	snap := p.static
	snap.Errors = make(map[string]string, len(p.static.Errors))
	for k, v := range p.static.Errors {
		snap.Errors[k] = v
	}

	if h, err := host.UptimeWithContext(ctx); err == nil {
		snap.SystemUptime = time.Duration(h) * time.Second
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		snap.Errors[EnvGroupLoad] = err.Error()
	} else {
		snap.LoadAvg = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		snap.Errors[EnvGroupMemory] = err.Error()
	} else {
		snap.MemTotal = vm.Total
		snap.MemAvailable = vm.Available
		snap.MemUsed = vm.Used
	}

	p.readProcess(ctx, &snap)

	if libs, err := readLoadedLibraries(ctx, p.proc); err != nil {
		snap.Errors[EnvGroupLibraries] = err.Error()
	} else {
		snap.Libraries = libs
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAlloc = ms.HeapAlloc
	snap.HeapSys = ms.HeapSys
	snap.NumGC = ms.NumGC
	snap.Goroutines = runtime.NumGoroutine()

	if limits, err := readResourceLimits(); err != nil {
		snap.Errors[EnvGroupLimits] = err.Error()
	} else {
		snap.ResourceLimits = limits
	}

	if p.includeEnv {
		env := os.Environ()
		sort.Strings(env)
		snap.EnvVars = p.redactor.RedactEnv(env)
	} else {
		snap.Errors[EnvGroupEnvVars] = "disabled by configuration"
	}

	if len(snap.Errors) == 0 {
		snap.Errors = nil
	}
	return snap
}

func (p *SystemProbe) readStatic(ctx context.Context) {
	s := &p.static
	s.Errors = make(map[string]string)
	s.Arch = runtime.GOARCH
	s.OS = runtime.GOOS

	if info, err := host.InfoWithContext(ctx); err != nil {
		s.Errors[EnvGroupHost] = err.Error()
		s.Hostname, _ = os.Hostname()
	} else {
		s.Hostname = info.Hostname
		s.OS = info.OS
		s.Platform = info.Platform
		s.PlatformVersion = info.PlatformVersion
		s.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			s.Arch = info.KernelArch
		}
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil || n == 0 {
		s.CPUCount = runtime.NumCPU()
	} else {
		s.CPUCount = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err != nil {
		s.Errors[EnvGroupCPU] = err.Error()
	} else if len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	}

	if u, err := user.Current(); err == nil {
		s.User = u.Username
	}

	if proc, err := process.NewProcessWithContext(ctx, p.pid); err != nil {
		s.Errors[EnvGroupProcess] = err.Error()
	} else {
		p.proc = proc
		if ms, err := proc.CreateTimeWithContext(ctx); err == nil {
			s.ProcessStartTime = time.UnixMilli(ms).UTC()
		}
	}

	s.Build = readBuildInfo()
	if s.Build.Path == "" {
		s.Errors[EnvGroupBuild] = "build information not embedded in binary"
	}
}

func (p *SystemProbe) readProcess(ctx context.Context, snap *EnvironmentSnapshot) {
	if p.proc == nil {
		return
	}
	if mi, err := p.proc.MemoryInfoWithContext(ctx); err != nil {
		snap.Errors[EnvGroupProcess] = err.Error()
	} else {
		snap.ProcessRSS = mi.RSS
		snap.ProcessVMS = mi.VMS
	}
	if t, err := p.proc.TimesWithContext(ctx); err == nil {
		snap.CPUUserSeconds = t.User
		snap.CPUSysSeconds = t.System
	}
	if n, err := p.proc.NumFDsWithContext(ctx); err == nil {
		snap.OpenFDs = n
	}
	if n, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		snap.Threads = n
	}
}

func readBuildInfo() BuildInfo {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return BuildInfo{}
	}
	out := BuildInfo{
		Path:     bi.Path,
		Main:     bi.Main.Path,
		Version:  bi.Main.Version,
		Settings: make(map[string]string, len(bi.Settings)),
	}
	for _, s := range bi.Settings {
		out.Settings[s.Key] = s.Value
	}
	for _, d := range bi.Deps {
		v := d.Version
		if d.Replace != nil {
			v += " => " + d.Replace.Path + " " + d.Replace.Version
		}
		out.Deps = append(out.Deps, d.Path+" "+v)
	}
	return out
}
