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
	"strings"
)

// EventSet is a bitmask of Reasons.
type EventSet uint32

// AllEvents contains every trigger kind.
const AllEvents = EventSet(1<<ReasonException | 1<<ReasonFatalError | 1<<ReasonSignal | 1<<ReasonAPICall)

// EventsOf builds a set from reasons.
func EventsOf(reasons ...Reason) EventSet {
	var s EventSet
	for _, r := range reasons {
		if r.IsValid() {
			s |= 1 << r
		}
	}
	return s
}

// Has reports whether r is in the set.
func (s EventSet) Has(r Reason) bool {
	return r.IsValid() && s&(1<<r) != 0
}

// Union returns s ∪ o.
func (s EventSet) Union(o EventSet) EventSet { return s | o }

// Without returns s minus o.
func (s EventSet) Without(o EventSet) EventSet { return s &^ o }

// Reasons lists the members in declaration order.
func (s EventSet) Reasons() []Reason {
	var out []Reason
	for r := ReasonException; r.IsValid(); r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// String renders the set the way ParseEvents accepts it, e.g.
// "exception+signal". The empty set renders as "".
func (s EventSet) String() string {
	names := make([]string, 0, 4)
	for _, r := range s.Reasons() {
		names = append(names, r.String())
	}
	return strings.Join(names, "+")
}

// ParseReason maps a kind name to a Reason.
func ParseReason(name string) (Reason, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range reasonNames {
		if s == n {
			return Reason(i), nil
		}
	}
	return 0, &ConfigError{Field: "events", Value: name, Reason: "unknown event kind"}
}

// ParseEvents parses kind lists. Each argument may hold several kinds
// joined by "+" or ",". Empty items are ignored. Any unknown kind fails
// the whole call.
func ParseEvents(specs ...string) (EventSet, error) {
	var s EventSet
	for _, spec := range specs {
		for _, part := range strings.FieldsFunc(spec, func(r rune) bool {
			return r == '+' || r == ',' || r == ' '
		}) {
			r, err := ParseReason(part)
			if err != nil {
				return 0, err
			}
			s |= 1 << r
		}
	}
	return s, nil
}
