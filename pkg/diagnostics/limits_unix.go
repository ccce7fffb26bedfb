// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux || darwin

package diagnostics

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

var rlimitNames = []struct {
	resource int
	name     string
}{
	{unix.RLIMIT_CORE, "core_file_size_blocks"},
	{unix.RLIMIT_DATA, "data_seg_size_bytes"},
	{unix.RLIMIT_FSIZE, "file_size_blocks"},
	{unix.RLIMIT_NOFILE, "open_files"},
	{unix.RLIMIT_STACK, "stack_size_bytes"},
	{unix.RLIMIT_CPU, "cpu_time_seconds"},
	{unix.RLIMIT_AS, "virtual_memory_bytes"},
}

func readResourceLimits() ([]ResourceLimit, error) {
	out := make([]ResourceLimit, 0, len(rlimitNames))
	for _, rl := range rlimitNames {
		var lim unix.Rlimit
		if err := unix.Getrlimit(rl.resource, &lim); err != nil {
			return out, fmt.Errorf("getrlimit %s: %w", rl.name, err)
		}
		out = append(out, ResourceLimit{
			Name: rl.name,
			Soft: normalizeRlimit(uint64(lim.Cur)),
			Hard: normalizeRlimit(uint64(lim.Max)),
		})
	}
	return out, nil
}

// normalizeRlimit folds the platform's infinity values into RlimitInfinity.
func normalizeRlimit(v uint64) uint64 {
	if v >= math.MaxInt64 {
		return RlimitInfinity
	}
	return v
}
