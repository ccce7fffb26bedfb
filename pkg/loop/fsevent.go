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
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// FSEvent watches a path through the platform notification API.
type FSEvent struct {
	base

	// path is kept exactly as given. Normalizing it would break consumers
	// that match on prefixes such as \\?\ on Windows.
	path    string
	watcher *fsnotify.Watcher
}

// Watch starts watching path and registers the watcher. onEvent and
// onError run on the watcher goroutine; either may be nil.
func (l *Loop) Watch(path string, onEvent func(fsnotify.Event), onError func(error)) (*FSEvent, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	fe := &FSEvent{path: path, watcher: w}
	fe.init(l)
	if err := l.register(fe); err != nil {
		_ = w.Close()
		return nil, err
	}
	l.goSafe(func() { fe.run(onEvent, onError) })
	return fe, nil
}

func (fe *FSEvent) run(onEvent func(fsnotify.Event), onError func(error)) {
	for {
		select {
		case ev, ok := <-fe.watcher.Events:
			if !ok {
				return
			}
			if onEvent != nil {
				onEvent(ev)
			}
		case err, ok := <-fe.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			} else {
				fe.loop.logger.Warn("fs_event watcher error", "path", fe.path, "error", err)
			}
		}
	}
}

// Kind returns KindFSEvent.
func (fe *FSEvent) Kind() Kind { return KindFSEvent }

// Path returns the watched path verbatim.
func (fe *FSEvent) Path() string { return fe.path }

// Close stops the watcher and unregisters the handle. It may be called
// from the event callback.
func (fe *FSEvent) Close() error {
	if !fe.markClosed(fe) {
		return nil
	}
	return fe.watcher.Close()
}
