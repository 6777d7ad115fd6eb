// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import "fmt"

// LSN is a log sequence number: the position of a record in the segmented
// write-ahead log. Segments are numbered from 1, so the zero LSN means
// "never logged".
type LSN struct {
	Segment  uint64 `json:"segment"`
	Position uint64 `json:"position"`
}

// IsZero reports whether the LSN is unset.
func (l LSN) IsZero() bool {
	return l.Segment == 0 && l.Position == 0
}

// Compare returns -1, 0 or +1 depending on whether l sorts before, equal to
// or after o.
func (l LSN) Compare(o LSN) int {
	switch {
	case l.Segment < o.Segment:
		return -1
	case l.Segment > o.Segment:
		return 1
	case l.Position < o.Position:
		return -1
	case l.Position > o.Position:
		return 1
	default:
		return 0
	}
}

// After reports whether l is strictly newer than o.
func (l LSN) After(o LSN) bool {
	return l.Compare(o) > 0
}

func (l LSN) String() string {
	return fmt.Sprintf("%d:%d", l.Segment, l.Position)
}

// Ptr returns a pointer to a copy of l, or nil for the zero LSN.
func (l LSN) Ptr() *LSN {
	if l.IsZero() {
		return nil
	}
	return &l
}

// MaxLSN returns the newer of a and b.
func MaxLSN(a, b LSN) LSN {
	if b.After(a) {
		return b
	}
	return a
}

// lsnOrZero dereferences an optional LSN.
func lsnOrZero(l *LSN) LSN {
	if l == nil {
		return LSN{}
	}
	return *l
}
