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
	"os"
)

// Pipe is one end of an OS pipe or a wrapped stream file such as stdio.
type Pipe struct {
	base

	file     *os.File
	fd       int
	readable bool
	writable bool
}

// OpenPipe creates an OS pipe and registers both ends.
func (l *Loop) OpenPipe() (r *Pipe, w *Pipe, err error) {
	rf, wf, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	r, err = l.WrapFile(rf, true, false)
	if err != nil {
		_ = wf.Close()
		return nil, nil, err
	}
	w, err = l.WrapFile(wf, false, true)
	if err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, w, nil
}

// WrapFile registers an open file as a pipe handle with the given
// capabilities. The descriptor number is read once, here.
func (l *Loop) WrapFile(f *os.File, readable, writable bool) (*Pipe, error) {
	p := &Pipe{
		file:     f,
		fd:       int(f.Fd()),
		readable: readable,
		writable: writable,
	}
	p.init(l)
	if err := l.register(p); err != nil {
		_ = f.Close()
		return nil, err
	}
	return p, nil
}

// Kind returns KindPipe.
func (p *Pipe) Kind() Kind { return KindPipe }

// Fd returns the descriptor number captured at registration.
func (p *Pipe) Fd() int { return p.fd }

// Readable reports whether the end can be read.
func (p *Pipe) Readable() bool { return p.readable }

// Writable reports whether the end can be written.
func (p *Pipe) Writable() bool { return p.writable }

// File returns the underlying file.
func (p *Pipe) File() *os.File { return p.file }

// Close closes the file and unregisters the handle.
func (p *Pipe) Close() error {
	if !p.markClosed(p) {
		return nil
	}
	return p.file.Close()
}
