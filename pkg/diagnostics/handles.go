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
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/diagreport/pkg/loop"
)

// HandleSource is the read side of a handle registry.
// *loop.Loop implements it.
type HandleSource interface {
	Snapshot() ([]loop.Handle, error)
}

// HandleWalker turns a registry snapshot into HandleRecords.
type HandleWalker struct {
	source HandleSource
}

// NewHandleWalker creates a walker over source. A nil source makes every
// walk fail with "no event loop attached".
func NewHandleWalker(source HandleSource) *HandleWalker {
	return &HandleWalker{source: source}
}

var errNoLoop = errors.New("no event loop attached")

// Walk returns one record per live handle in registration order.
//
// # Description
//
// The registry is read with one Snapshot call; every handle is then read
// through lock-free accessors. Any failure, including a panic raised by a
// handle implementation, aborts the walk and is returned as the reason for
// the whole section. Walk never panics.
//
// # Inputs
//
//   - now: The capture instant, used for timer due times
//
// # Outputs
//
//   - []HandleRecord: Records, oldest handle first
//   - error: Why the section is unavailable
func (w *HandleWalker) Walk(now time.Time) (records []HandleRecord, err error) {
	if w == nil || w.source == nil {
		return nil, errNoLoop
	}
	defer func() {
		if v := recover(); v != nil {
			records = nil
			err = fmt.Errorf("handle registry walk panicked: %v", v)
		}
	}()

	hs, err := w.source.Snapshot()
	if err != nil {
		return nil, err
	}
	records = make([]HandleRecord, 0, len(hs))
	for _, h := range hs {
		records = append(records, describeHandle(h, now))
	}
	return records, nil
}

func describeHandle(h loop.Handle, now time.Time) HandleRecord {
	rec := HandleRecord{
		Type:    h.Kind(),
		Address: h.Addr(),
		Flags:   HandleFlags{Ref: h.HasRef(), Active: h.IsActive()},
	}

	switch v := h.(type) {
	case *loop.TCP:
		rec.Details = TCPDetails{Local: v.LocalAddr(), Remote: v.RemoteAddr(), Listening: v.Listening()}
	case *loop.UDP:
		rec.Details = UDPDetails{Local: v.LocalAddr(), Remote: v.RemoteAddr()}
	case *loop.Pipe:
		rec.Details = PipeDetails{FD: v.Fd(), Readable: v.Readable(), Writable: v.Writable()}
	case *loop.FSEvent:
		rec.Details = FSEventDetails{Filename: v.Path()}
	case *loop.FSPoll:
		rec.Details = FSPollDetails{Filename: v.Path(), Interval: v.Interval()}
	case *loop.Timer:
		due, armed := v.DueIn(now)
		rec.Details = TimerDetails{Repeat: v.Repeat(), Active: armed, DueIn: due}
	case *loop.Signal:
		rec.Details = SignalDetails{Signum: v.Signum(), Name: v.Name()}
	default:
		rec.Details = UnresolvedDetails{Kind: string(h.Kind())}
	}
	return rec
}
