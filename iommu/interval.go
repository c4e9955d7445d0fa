// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import "sort"

// Interval is a closed range [Low, High] of I/O addresses. Two intervals
// are considered equal by compare iff they overlap at any point; this is
// the trick that turns a plain ordered container into a containment
// lookup, see compare below.
type Interval struct {
	Low, High uint64
}

// compare returns -1, 0 or 1 the way a normal ordered-key comparator
// would, except that "equal" means "overlaps". Insertion into the
// interval map therefore rejects overlaps, and a point lookup becomes a
// containment test.
func compare(a, b Interval) int {
	if a.High < b.Low {
		return -1
	}
	if b.High < a.Low {
		return 1
	}
	return 0
}

// Mapping is the value half of an interval map entry.
type Mapping struct {
	PhysAddr uint64
	Flags    uint32
}

type intervalEntry struct {
	key Interval
	val Mapping
}

// IntervalMap is an ordered container of (Interval, Mapping) pairs keyed
// by the overlap-equal comparator above. Entries are kept sorted by Low
// in a slice; N is expected to stay small (one per guest mapping), so a
// sorted slice with binary search beats the bookkeeping of a balanced
// tree for this workload.
type IntervalMap struct {
	entries []intervalEntry
}

// search returns the index of the entry overlapping key, and whether one
// was found. When not found, the index is where key would be inserted to
// keep entries sorted by Low.
func (m *IntervalMap) search(key Interval) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return compare(m.entries[i].key, key) >= 0
	})
	if i < len(m.entries) && compare(m.entries[i].key, key) == 0 {
		return i, true
	}
	return i, false
}

// Insert adds (key, val) to the map. It fails if key would overlap any
// existing entry.
func (m *IntervalMap) Insert(key Interval, val Mapping) bool {
	i, found := m.search(key)
	if found {
		return false
	}
	m.entries = append(m.entries, intervalEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = intervalEntry{key: key, val: val}
	return true
}

// Lookup returns the entry whose key contains point, using the
// degenerate interval [point, point+1]. The +1 may wrap at the top of
// the address space; compare uses strict inequalities on the boundary so
// the wrap never produces a false containment. An entry that only
// overlaps the query at point+1 does not contain point and is not
// returned.
func (m *IntervalMap) Lookup(point uint64) (Interval, Mapping, bool) {
	i, found := m.search(Interval{Low: point, High: point + 1})
	if !found {
		return Interval{}, Mapping{}, false
	}
	e := m.entries[i]
	if point < e.key.Low || point > e.key.High {
		return Interval{}, Mapping{}, false
	}
	return e.key, e.val, true
}

// LookupExtended returns any existing key overlapping query, used by
// UNMAP to iterate candidate entries one at a time.
func (m *IntervalMap) LookupExtended(query Interval) (Interval, Mapping, bool) {
	i, found := m.search(query)
	if !found {
		return Interval{}, Mapping{}, false
	}
	e := m.entries[i]
	return e.key, e.val, true
}

// Remove deletes the entry whose key equals (by identity of Low/High)
// the one passed in. It is a no-op if key is not present.
func (m *IntervalMap) Remove(key Interval) {
	for i, e := range m.entries {
		if e.key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries currently stored.
func (m *IntervalMap) Len() int {
	return len(m.entries)
}

// Foreach visits every entry in ascending order of Low.
func (m *IntervalMap) Foreach(fn func(Interval, Mapping)) {
	for _, e := range m.entries {
		fn(e.key, e.val)
	}
}
