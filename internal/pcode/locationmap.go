package pcode

import "sort"

// MemRange is a disjoint address range tagged new/old for one heritage
// pass (spec §4.2.1).
type MemRangeFlag int

const (
	RangeNew MemRangeFlag = iota
	RangeOld
)

type MemRange struct {
	Addr  Address
	Size  int
	Flag  MemRangeFlag
}

func (r MemRange) End() uint64 { return r.Addr.Offset + uint64(r.Size) }

// locEntry is one disjoint entry in a LocationMap: a range tagged with the
// minimum pass number that has touched it.
type locEntry struct {
	addr Address
	size int
	pass int
}

// LocationMap is an address -> (size, pass) disjoint map. Add() merges
// overlapping ranges, keeping the minimum pass number, and reports an
// IntersectCode describing the relationship to what was already there
// (spec §4.2.1).
type LocationMap struct {
	bySpace map[int][]locEntry // sorted by offset within each space
}

func NewLocationMap() *LocationMap {
	return &LocationMap{bySpace: make(map[int][]locEntry)}
}

// IntersectCode classifies an Add() against prior content.
type IntersectCode int

const (
	SamePass IntersectCode = iota
	PartialWithOlder
	ContainedInOlder
)

// Add merges [addr, addr+size) into the map at the given pass, returning
// the strongest applicable IntersectCode.
func (m *LocationMap) Add(addr Address, size int, pass int) IntersectCode {
	spaceIdx := spaceIndex(addr.Space)
	entries := m.bySpace[spaceIdx]
	start := addr.Offset
	end := start + uint64(size)

	code := SamePass
	var merged []locEntry
	minPass := pass
	newStart, newEnd := start, end
	inserted := false
	for _, e := range entries {
		eEnd := e.addr.Offset + uint64(e.size)
		if eEnd < newStart || e.addr.Offset > newEnd {
			merged = append(merged, e)
			continue
		}
		// overlap/touch: absorb e into the new range.
		if e.addr.Offset < newStart {
			newStart = e.addr.Offset
		}
		if eEnd > newEnd {
			newEnd = eEnd
		}
		if e.pass < minPass {
			minPass = e.pass
		}
		if e.addr.Offset <= start && eEnd >= end && e.pass < pass {
			code = ContainedInOlder
		} else if e.pass != pass {
			if code == SamePass {
				code = PartialWithOlder
			}
		}
		inserted = true
	}
	_ = inserted
	merged = append(merged, locEntry{addr: Address{Space: addr.Space, Offset: newStart}, size: int(newEnd - newStart), pass: minPass})
	sort.Slice(merged, func(i, j int) bool { return merged[i].addr.Offset < merged[j].addr.Offset })
	m.bySpace[spaceIdx] = merged
	return code
}

// Ranges returns every disjoint range currently recorded in the given
// space, in offset order.
func (m *LocationMap) Ranges(space *AddrSpace) []MemRange {
	entries := m.bySpace[spaceIndex(space)]
	out := make([]MemRange, len(entries))
	for i, e := range entries {
		out[i] = MemRange{Addr: Address{Space: space, Offset: e.addr.Offset}, Size: e.size}
	}
	return out
}

// PassOf returns the minimum pass recorded for any range covering addr, or
// -1 if addr isn't covered.
func (m *LocationMap) PassOf(addr Address) int {
	for _, e := range m.bySpace[spaceIndex(addr.Space)] {
		if addr.Offset >= e.addr.Offset && addr.Offset < e.addr.Offset+uint64(e.size) {
			return e.pass
		}
	}
	return -1
}

// TaskList is a disjoint, address-sorted list of MemRanges built for one
// heritage pass (spec §4.2.1).
type TaskList struct {
	Ranges []MemRange
}

// Add inserts r into the list, keeping it address-sorted. Callers are
// responsible for ensuring ranges added to one TaskList don't overlap.
func (t *TaskList) Add(r MemRange) {
	i := sort.Search(len(t.Ranges), func(i int) bool { return t.Ranges[i].Addr.Offset >= r.Addr.Offset })
	t.Ranges = append(t.Ranges, MemRange{})
	copy(t.Ranges[i+1:], t.Ranges[i:])
	t.Ranges[i] = r
}
