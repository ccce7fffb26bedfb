// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"os"
	"time"
)

// DefaultPollInterval is used when Poll is given a non-positive interval.
const DefaultPollInterval = 5007 * time.Millisecond

// FSPoll watches a path by periodic stat calls. It works on file systems
// where notifications are unavailable, e.g. network mounts.
type FSPoll struct {
	base

	path     string
	interval time.Duration
	stop     chan struct{}
}

// Poll starts polling path every interval and registers the poller.
// onChange receives the new and previous stat results; either is nil when
// the path did not exist at that time. A missing path is not an error.
func (l *Loop) Poll(path string, interval time.Duration, onChange func(curr, prev os.FileInfo)) (*FSPoll, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	fp := &FSPoll{
		path:     path,
		interval: interval,
		stop:     make(chan struct{}),
	}
	fp.init(l)
	if err := l.register(fp); err != nil {
		return nil, err
	}

	prev := statOrNil(path)
	l.goSafe(func() { fp.run(prev, onChange) })
	return fp, nil
}

func (fp *FSPoll) run(prev os.FileInfo, onChange func(curr, prev os.FileInfo)) {
	ticker := time.NewTicker(fp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fp.stop:
			return
		case <-ticker.C:
			curr := statOrNil(fp.path)
			if changed(curr, prev) && onChange != nil {
				onChange(curr, prev)
			}
			prev = curr
		}
	}
}

func statOrNil(path string) os.FileInfo {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return fi
}

func changed(curr, prev os.FileInfo) bool {
	if (curr == nil) != (prev == nil) {
		return true
	}
	if curr == nil {
		return false
	}
	return !curr.ModTime().Equal(prev.ModTime()) || curr.Size() != prev.Size() || curr.Mode() != prev.Mode()
}

// Kind returns KindFSPoll.
func (fp *FSPoll) Kind() Kind { return KindFSPoll }

// Path returns the polled path verbatim.
func (fp *FSPoll) Path() string { return fp.path }

// Interval returns the poll interval.
func (fp *FSPoll) Interval() time.Duration { return fp.interval }

// Close stops polling and unregisters the handle. A change callback that
// is already running is not waited for, so Close may be called from it.
func (fp *FSPoll) Close() error {
	if !fp.markClosed(fp) {
		return nil
	}
	close(fp.stop)
	return nil
}
