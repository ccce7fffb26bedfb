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
	"bufio"
	"bytes"
	"errors"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

var (
	errGoroutinesDisabled = errors.New("goroutine stacks disabled by configuration")
	errNoFrames           = errors.New("no frames captured")
)

// pkgPath prefixes the capture machinery's own frames, which are trimmed
// from the top of native stacks.
var pkgPath = reflect.TypeOf(StackWalker{}).PkgPath()

// StackWalker captures stacks into buffers allocated at construction.
//
// # Thread Safety
//
// Not safe for concurrent use. The Reporter only calls it while holding
// the reentrancy guard, which makes the buffers exclusively owned.
type StackWalker struct {
	pcs           []uintptr
	dump          []byte
	maxGoroutines int
}

// NewStackWalker sizes the buffers. dumpBytes <= 0 disables goroutine
// capture; maxGoroutines <= 0 means no cap.
func NewStackWalker(maxFrames, dumpBytes, maxGoroutines int) *StackWalker {
	if maxFrames <= 0 {
		maxFrames = 64
	}
	s := &StackWalker{
		pcs:           make([]uintptr, maxFrames),
		maxGoroutines: maxGoroutines,
	}
	if dumpBytes > 0 {
		s.dump = make([]byte, dumpBytes)
	}
	return s
}

// CaptureNative returns the calling goroutine's frames, innermost first.
//
// # Description
//
// Frames belonging to the walker and the Reporter's internal capture path
// are dropped from the top so the stack starts at the public entry point
// or at the panicking code. Program counters that do not symbolize are
// kept as frames with an empty Function; frame count is never reduced by
// failed resolution.
//
// # Outputs
//
//   - []StackFrame: Captured frames
//   - bool: True when the PC buffer was filled and outer frames were lost
//   - error: errNoFrames if nothing was captured
func (s *StackWalker) CaptureNative() ([]StackFrame, bool, error) {
	n := runtime.Callers(1, s.pcs)
	if n == 0 {
		return nil, false, errNoFrames
	}
	truncated := n == len(s.pcs)

	frames := make([]StackFrame, 0, n)
	iter := runtime.CallersFrames(s.pcs[:n])
	trimming := true
	for {
		fr, more := iter.Next()
		if trimming && isCaptureFrame(fr.Function) {
			if !more {
				break
			}
			continue
		}
		trimming = false
		frames = append(frames, StackFrame{
			Index:    len(frames),
			PC:       fr.PC,
			Function: fr.Function,
			File:     fr.File,
			Line:     fr.Line,
		})
		if !more {
			break
		}
	}
	if len(frames) == 0 {
		return nil, truncated, errNoFrames
	}
	return frames, truncated, nil
}

func isCaptureFrame(fn string) bool {
	if fn == "runtime.Callers" {
		return true
	}
	if !strings.HasPrefix(fn, pkgPath+".") {
		return false
	}
	rest := fn[len(pkgPath)+1:]
	return strings.HasPrefix(rest, "(*StackWalker).") ||
		strings.HasPrefix(rest, "(*Reporter).capture") ||
		strings.HasPrefix(rest, "(*Reporter).fire")
}

// CaptureManaged dumps every goroutine into the pre-allocated buffer and
// parses it.
//
// # Outputs
//
//   - []GoroutineStack: Parsed goroutines, the calling one first
//   - bool: True when the buffer or MaxGoroutines cut the dump short
//   - error: Why the section is unavailable
func (s *StackWalker) CaptureManaged() ([]GoroutineStack, bool, error) {
	if len(s.dump) == 0 {
		return nil, false, errGoroutinesDisabled
	}
	n := runtime.Stack(s.dump, true)
	if n == 0 {
		return nil, false, errors.New("runtime returned an empty goroutine dump")
	}
	truncated := n == len(s.dump)
	gs, capped := ParseGoroutineDump(s.dump[:n], s.maxGoroutines)
	if len(gs) == 0 {
		return nil, truncated, errors.New("goroutine dump could not be parsed")
	}
	return gs, truncated || capped, nil
}

// ParseGoroutineDump parses the text produced by runtime.Stack or by a
// crashing runtime. Lines outside goroutine blocks, such as a leading
// "panic: ..." message, are ignored. max <= 0 means no cap; the bool
// result reports whether the cap was hit.
func ParseGoroutineDump(dump []byte, max int) ([]GoroutineStack, bool) {
	var (
		out     []GoroutineStack
		cur     *GoroutineStack
		pending *StackFrame
		created bool
	)
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
		}
		cur, pending, created = nil, nil, false
	}

	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "goroutine "):
			flush()
			if max > 0 && len(out) >= max {
				return out, true
			}
			g, ok := parseGoroutineHeader(line)
			if !ok {
				continue
			}
			cur = &g
		case cur == nil:
		case line == "":
			flush()
		case strings.HasPrefix(line, "\t"):
			file, lineNo := parseFileLine(line)
			if created {
				cur.CreatedBy += " (" + file + ":" + strconv.Itoa(lineNo) + ")"
				created = false
			} else if pending != nil {
				pending.File, pending.Line = file, lineNo
				pending = nil
			}
		case strings.HasPrefix(line, "created by "):
			cur.CreatedBy = strings.TrimPrefix(line, "created by ")
			created = true
		default:
			cur.Frames = append(cur.Frames, StackFrame{
				Index:    len(cur.Frames),
				Function: trimArgs(line),
			})
			pending = &cur.Frames[len(cur.Frames)-1]
		}
	}
	flush()
	return out, false
}

// parseGoroutineHeader parses "goroutine 7 [chan receive, 2 minutes]:".
func parseGoroutineHeader(line string) (GoroutineStack, bool) {
	rest := strings.TrimPrefix(line, "goroutine ")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return GoroutineStack{}, false
	}
	id, err := strconv.ParseInt(rest[:sp], 10, 64)
	if err != nil {
		return GoroutineStack{}, false
	}
	var state string
	if lb, rb := strings.IndexByte(rest, '['), strings.LastIndexByte(rest, ']'); lb >= 0 && rb > lb {
		state = rest[lb+1 : rb]
	}
	return GoroutineStack{ID: id, State: state}, true
}

// parseFileLine parses "\t/path/file.go:42 +0x1d".
func parseFileLine(line string) (string, int) {
	line = strings.TrimSpace(line)
	if i := strings.LastIndex(line, " +0x"); i >= 0 {
		line = line[:i]
	}
	i := strings.LastIndexByte(line, ':')
	if i < 0 {
		return line, 0
	}
	n, err := strconv.Atoi(line[i+1:])
	if err != nil {
		return line, 0
	}
	return line[:i], n
}

// trimArgs turns "main.(*T).run(0xc000010000, ...)" into "main.(*T).run".
func trimArgs(fn string) string {
	if !strings.HasSuffix(fn, ")") {
		return fn
	}
	if i := strings.LastIndexByte(fn, '('); i > 0 {
		return fn[:i]
	}
	return fn
}
