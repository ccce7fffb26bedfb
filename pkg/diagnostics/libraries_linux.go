// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// readLoadedLibraries lists the file-backed mappings of proc.
func readLoadedLibraries(ctx context.Context, proc *process.Process) ([]string, error) {
	if proc == nil {
		return nil, errors.New("process handle unavailable")
	}
	maps, err := proc.MemoryMapsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory maps: %w", err)
	}
	if maps == nil {
		return nil, nil
	}
	return mappedFiles(*maps), nil
}

// mappedFiles returns the distinct absolute paths among maps in first-seen
// order. Anonymous and pseudo mappings ("[heap]", "[vdso]") are skipped and
// the " (deleted)" marker is dropped. The main executable is included
// because it is the first file mapping.
func mappedFiles(maps []process.MemoryMapsStat) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range maps {
		path := m.Path
		if !strings.HasPrefix(path, "/") {
			continue
		}
		path = strings.TrimSuffix(path, " (deleted)")
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}
