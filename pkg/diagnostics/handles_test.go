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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/diagreport/pkg/loop"
)

type fakeSource struct {
	handles []loop.Handle
	err     error
	panicV  any
}

func (f *fakeSource) Snapshot() ([]loop.Handle, error) {
	if f.panicV != nil {
		panic(f.panicV)
	}
	return f.handles, f.err
}

// customHandle is a handle type the walker has no extractor for.
type customHandle struct{}

func (customHandle) Kind() loop.Kind { return loop.Kind("custom") }
func (customHandle) Addr() uintptr   { return 0xdead }
func (customHandle) HasRef() bool    { return false }
func (customHandle) IsActive() bool  { return true }
func (customHandle) Close() error    { return nil }

func TestHandleWalker_NoSource(t *testing.T) {
	var nilWalker *HandleWalker
	_, err := nilWalker.Walk(time.Now())
	assert.ErrorIs(t, err, errNoLoop)

	_, err = NewHandleWalker(nil).Walk(time.Now())
	assert.ErrorIs(t, err, errNoLoop)
}

func TestHandleWalker_SnapshotError(t *testing.T) {
	w := NewHandleWalker(&fakeSource{err: loop.ErrCorrupted})
	records, err := w.Walk(time.Now())
	assert.Nil(t, records)
	assert.True(t, errors.Is(err, loop.ErrCorrupted))
}

func TestHandleWalker_PanicBecomesError(t *testing.T) {
	w := NewHandleWalker(&fakeSource{panicV: "registry torn"})
	records, err := w.Walk(time.Now())
	assert.Nil(t, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry torn")
}

func TestHandleWalker_UnresolvedType(t *testing.T) {
	w := NewHandleWalker(&fakeSource{handles: []loop.Handle{customHandle{}}})
	records, err := w.Walk(time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, loop.Kind("custom"), rec.Type)
	assert.Equal(t, uintptr(0xdead), rec.Address)
	assert.Equal(t, "-A", rec.Flags.Code())
	assert.Equal(t, UnresolvedDetails{Kind: "custom"}, rec.Details)
	assert.Equal(t, "(unresolved)", HandleSuffix(rec.Details))
}

func TestHandleWalker_LiveLoop(t *testing.T) {
	lp := loop.New(nil)
	defer lp.Close()
	ctx := context.Background()

	ln, err := lp.Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	out, err := lp.Dial(ctx, "tcp", ln.LocalAddr())
	require.NoError(t, err)
	in, err := ln.Accept()
	require.NoError(t, err)

	dir := t.TempDir()
	watched := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o600))
	_, err = lp.Poll(watched, 250*time.Millisecond, func(_, _ os.FileInfo) {})
	require.NoError(t, err)

	tm, err := lp.NewTimer(time.Hour, time.Minute, func() {})
	require.NoError(t, err)
	tm.Start()

	records, err := NewHandleWalker(lp).Walk(time.Now())
	require.NoError(t, err)
	require.Len(t, records, 5)

	listener := records[0].Details.(TCPDetails)
	assert.True(t, listener.Listening)
	assert.Equal(t, ln.LocalAddr(), listener.Local)
	assert.Contains(t, HandleSuffix(listener), "(not connected)")

	outbound := records[1].Details.(TCPDetails)
	assert.Equal(t, ln.LocalAddr(), outbound.Remote)
	inbound := records[2].Details.(TCPDetails)
	assert.Equal(t, out.LocalAddr(), inbound.Remote)
	assert.Equal(t, in.RemoteAddr(), out.LocalAddr())
	assert.True(t, strings.HasSuffix(HandleSuffix(inbound), "connected to "+out.LocalAddr()))

	poll := records[3].Details.(FSPollDetails)
	assert.Equal(t, watched, poll.Filename)
	assert.Equal(t, "filename: "+watched+", interval: 250ms", HandleSuffix(poll))

	timer := records[4].Details.(TimerDetails)
	assert.True(t, timer.Active)
	assert.Equal(t, time.Minute, timer.Repeat)
	assert.Greater(t, timer.DueIn, 59*time.Minute)

	seen := make(map[uintptr]bool)
	for _, rec := range records {
		assert.False(t, seen[rec.Address], "duplicate address %#x", rec.Address)
		seen[rec.Address] = true
		assert.True(t, rec.Flags.Ref)
	}
}

func TestHandleFlags_Code(t *testing.T) {
	tests := []struct {
		flags HandleFlags
		want  string
	}{
		{HandleFlags{Ref: true, Active: true}, "RA"},
		{HandleFlags{Ref: true}, "R-"},
		{HandleFlags{Active: true}, "-A"},
		{HandleFlags{}, "--"},
	}
	for _, tt := range tests {
		if got := tt.flags.Code(); got != tt.want {
			t.Errorf("Code() = %q, want %q", got, tt.want)
		}
	}
}
