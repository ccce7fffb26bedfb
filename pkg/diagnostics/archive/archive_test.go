// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestArchive_PutGetList(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	now := time.Now()

	older := diagnostics.StoredReport{Name: "diagreport.1.txt", Size: 3, ModTime: now.Add(-time.Minute)}
	newer := diagnostics.StoredReport{Name: "diagreport.2.txt", Size: 5, ModTime: now}
	require.NoError(t, a.Put(ctx, older, []byte("old")))
	require.NoError(t, a.Mirror(ctx, newer, []byte("newer")))

	data, err := a.Get(ctx, "diagreport.2.txt")
	require.NoError(t, err)
	assert.Equal(t, "newer", string(data))

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "diagreport.2.txt", list[0].Name)
	assert.Equal(t, int64(3), list[1].Size)

	_, err = a.Get(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Delete(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, diagnostics.StoredReport{Name: "r.txt"}, []byte("x")))
	require.NoError(t, a.Delete(ctx, "r.txt"))
	require.NoError(t, a.Delete(ctx, "r.txt"))

	_, err := a.Get(ctx, "r.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestArchive_RejectsUnnamed(t *testing.T) {
	a := openTestArchive(t)
	assert.Error(t, a.Put(context.Background(), diagnostics.StoredReport{}, []byte("x")))
}

func TestArchive_CanceledContext(t *testing.T) {
	a := openTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Put(ctx, diagnostics.StoredReport{Name: "r.txt"}, nil), context.Canceled)
}

func TestArchive_AsReporterMirror(t *testing.T) {
	a := openTestArchive(t)

	cfg := diagnostics.DefaultConfig()
	cfg.Directory = t.TempDir()
	cfg.IncludeEnvironment = false
	r, err := diagnostics.NewReporter(cfg, nil, logging.Nop(), diagnostics.WithMirrors(a))
	require.NoError(t, err)
	defer r.Close()

	path, err := r.WriteReport(context.Background(), nil)
	require.NoError(t, err)

	list, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, path, list[0].Path)

	data, err := a.Get(context.Background(), list[0].Name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "==== End of Report ====")
}

func TestArchive_PersistentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	a, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Put(context.Background(), diagnostics.StoredReport{Name: "keep.txt"}, []byte("kept")))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	b, err := Open(cfg)
	require.NoError(t, err)
	defer b.Close()
	data, err := b.Get(context.Background(), "keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
}
