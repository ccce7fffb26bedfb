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
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/diagreport/pkg/logging"
	"github.com/AleutianAI/diagreport/pkg/loop"
)

// -----------------------------------------------------------------------------
// Test Helpers
// -----------------------------------------------------------------------------

// staticProbe returns a fixed snapshot without touching the system.
type staticProbe struct {
	snap EnvironmentSnapshot
}

func (p staticProbe) Probe(context.Context) EnvironmentSnapshot { return p.snap }

func newStaticProbe() staticProbe {
	return staticProbe{snap: EnvironmentSnapshot{
		Hostname:        "test-host",
		OS:              "linux",
		Platform:        "testos",
		PlatformVersion: "1.0",
		KernelVersion:   "6.0.0",
		Arch:            "amd64",
		User:            "tester",
		CPUCount:        4,
		CPUModel:        "Test CPU",
		LoadAvg:         [3]float64{0.5, 0.25, 0.125},
		MemTotal:        8 << 30,
		MemAvailable:    4 << 30,
		MemUsed:         4 << 30,
		ResourceLimits: []ResourceLimit{
			{Name: "open_files", Soft: 1024, Hard: 4096},
			{Name: "core_file_size_blocks", Soft: 0, Hard: RlimitInfinity},
		},
		SystemUptime: time.Hour,
		EnvVars:      []string{"HOME=/home/tester", "API_TOKEN=[REDACTED]"},
		Libraries:    []string{"/lib/x86_64-linux-gnu/libc.so.6"},
		Build:        BuildInfo{Path: "example.com/app", Main: "example.com/app", Version: "(devel)"},
	}}
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recordingMirror stores what it receives.
type recordingMirror struct {
	mu      sync.Mutex
	name    string
	err     error
	reports []StoredReport
	content [][]byte
}

func (m *recordingMirror) Name() string { return m.name }

func (m *recordingMirror) Mirror(ctx context.Context, st StoredReport, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, st)
	m.content = append(m.content, content)
	return m.err
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

// testConfig writes to dir with no automatic events.
func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Directory = dir
	cfg.MaxGoroutines = 100
	cfg.GoroutineBufferBytes = 256 << 10
	return cfg
}

// newTestReporter builds a Reporter over lp (nil for a private loop)
// with a static probe and buffered streams.
func newTestReporter(t *testing.T, cfg Config, lp *loop.Loop, opts ...Option) (*Reporter, *syncBuffer) {
	t.Helper()
	stderr := &syncBuffer{}
	all := append([]Option{WithProbe(newStaticProbe()), WithStreams(&syncBuffer{}, stderr)}, opts...)
	r, err := NewReporter(cfg, lp, logging.Nop(), all...)
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, stderr
}
