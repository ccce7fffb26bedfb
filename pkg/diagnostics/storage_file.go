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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxLinkAttempts bounds name collisions before Store gives up.
const maxLinkAttempts = 16

// StoredReport describes one report file.
type StoredReport struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// -----------------------------------------------------------------------------
// FileStorage
// -----------------------------------------------------------------------------

// FileStorage writes, lists and prunes report files in one directory.
//
// # Description
//
// Each report is written to a temporary file in the target directory,
// synced, closed and then hard-linked to its final name. The link fails
// when the name exists, so an existing report is never overwritten and a
// reader never sees a partial file. On a collision the name is retried
// with a suffix. The temporary file is removed on every path.
//
// # Limitations
//
//   - The directory's filesystem must support hard links.
//
// # Thread Safety
//
// FileStorage is safe for concurrent use. Concurrent Store calls never
// write into the same file.
type FileStorage struct {
	dir     string
	pattern *FilenamePattern
}

// NewFileStorage creates the directory if needed.
//
// # Inputs
//
//   - dir: Target directory; relative paths are made absolute now
//   - pattern: Name pattern used by Store and to recognize reports
//
// # Outputs
//
//   - *FileStorage: Ready-to-use storage
//   - error: Wrapped filesystem error
func NewFileStorage(dir string, pattern *FilenamePattern) (*FileStorage, error) {
	if pattern == nil {
		return nil, errors.New("file storage requires a filename pattern")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve report directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", abs, err)
	}
	return &FileStorage{dir: abs, pattern: pattern}, nil
}

// Dir returns the absolute report directory.
func (s *FileStorage) Dir() string { return s.dir }

// Pattern returns the name pattern.
func (s *FileStorage) Pattern() *FilenamePattern { return s.pattern }

// Store writes data under a name expanded from v.
//
// # Outputs
//
//   - StoredReport: The final file
//   - error: *SinkError naming the path that failed
func (s *FileStorage) Store(ctx context.Context, v FilenameValues, data []byte) (StoredReport, error) {
	tmp, err := os.CreateTemp(s.dir, ".diagreport-*.tmp")
	if err != nil {
		return StoredReport{}, &SinkError{Path: s.dir, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeAndSync(tmp, data); err != nil {
		return StoredReport{}, &SinkError{Path: tmpPath, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < maxLinkAttempts; attempt++ {
		name := s.pattern.Expand(v, attempt)
		final := filepath.Join(s.dir, name)
		err := os.Link(tmpPath, final)
		if err == nil {
			st := StoredReport{Name: name, Path: final, Size: int64(len(data)), ModTime: time.Now()}
			if info, err := os.Stat(final); err == nil {
				st.ModTime = info.ModTime()
			}
			return st, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return StoredReport{}, &SinkError{Path: final, Err: err}
		}
		lastErr = err
	}
	return StoredReport{}, &SinkError{
		Path: filepath.Join(s.dir, s.pattern.Expand(v, 0)),
		Err:  fmt.Errorf("no free name after %d attempts: %w", maxLinkAttempts, lastErr),
	}
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Chmod(0640); err != nil {
		f.Close()
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	return nil
}

// List returns the reports in the directory, newest first. Files that do
// not match the pattern are ignored.
func (s *FileStorage) List(ctx context.Context) ([]StoredReport, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}
	out := make([]StoredReport, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !s.pattern.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, StoredReport{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Load reads a report by name or by a path inside the directory. Paths
// that escape the directory are rejected.
func (s *FileStorage) Load(ctx context.Context, name string) ([]byte, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, name)
	}
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("report %q is outside %s", name, s.dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return data, nil
}

// Prune removes reports older than maxAge and all but the newest maxCount.
// A zero limit is not applied.
//
// # Outputs
//
//   - int: Number of files removed
//   - error: First removal error, after attempting all removals
func (s *FileStorage) Prune(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	reports, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	var (
		removed  int
		firstErr error
	)
	for i, r := range reports {
		expired := maxAge > 0 && r.ModTime.Before(cutoff)
		excess := maxCount > 0 && i >= maxCount
		if !expired && !excess {
			continue
		}
		if err := os.Remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove %s: %w", r.Name, err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// Count returns the number of stored reports.
func (s *FileStorage) Count(ctx context.Context) (int, error) {
	reports, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(reports), nil
}
