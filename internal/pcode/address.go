// Package pcode implements the core mid-level IR analysis engine: SSA
// construction over memory-addressed storage (Heritage), indirect-branch
// jump-table recovery, and SSA-Varnode-to-HighVariable merging. The three
// subsystems share the IR data model defined in this file and in
// varnode.go/pcodeop.go/block.go, plus the Cover/PcodeOpSet machinery in
// cover.go, exactly as laid out by the system design: they are too tightly
// coupled through the IR to live in separate packages.
package pcode

import "fmt"

// SpaceType tags what an AddrSpace represents.
type SpaceType int

const (
	SpaceProcessor SpaceType = iota // processor register file
	SpaceStack                      // stack frame
	SpaceConstant                   // embedded constants
	SpaceUnique                     // internal temporaries ("unique")
	SpaceJoin                       // virtual space stitching physical pieces together
	SpaceIORef                      // references to other PcodeOps
	SpaceOther                      // anything else (RAM, overlay, ...)
)

// AddrSpace is a namespace of byte-addressable storage.
type AddrSpace struct {
	Name          string
	Index         int
	WordSize      int
	BigEndian     bool
	Type          SpaceType
	Delay         int // minimum heritage pass before this space is raised to SSA
	DeadCodeDelay int // pass after which dead Varnodes in this space may be pruned

	Heritaged      bool // true once at least one heritage pass has processed this space
	HighPtrPossible bool // true if pointers into this space may carry a HighVariable
}

// JoinSpace returns an AddrSpace of SpaceType SpaceJoin suitable for
// stitching pieces together; join-space addresses are allocated by index
// via a JoinRecord lookup (see heritage.go's processJoins).
func JoinSpace(index int) *AddrSpace {
	return &AddrSpace{Name: "join", Index: index, WordSize: 1, Type: SpaceJoin}
}

// Address is a (space, offset) pair, ordered by (space.Index, offset).
type Address struct {
	Space  *AddrSpace
	Offset uint64
}

// Compare orders two addresses by (space index, offset); it is the total
// order the spec requires for Address comparisons.
func (a Address) Compare(b Address) int {
	ai, bi := spaceIndex(a.Space), spaceIndex(b.Space)
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	default:
		return 0
	}
}

func spaceIndex(s *AddrSpace) int {
	if s == nil {
		return -1
	}
	return s.Index
}

// Equal reports address equality.
func (a Address) Equal(b Address) bool { return a.Compare(b) == 0 }

// Less reports whether a sorts before b.
func (a Address) Less(b Address) bool { return a.Compare(b) < 0 }

// IsConstant reports whether this address is in the constant space.
func (a Address) IsConstant() bool { return a.Space != nil && a.Space.Type == SpaceConstant }

// Add returns a+delta, wrapping within the address space's representable
// range (WordSize is in address units; the space itself is treated as a
// 64-bit ring, matching the spec's "wrap in space" requirement for the
// common case of byte-addressable spaces up to 64 bits).
func (a Address) Add(delta int64) Address {
	return Address{Space: a.Space, Offset: a.Offset + uint64(delta)}
}

// Overlap reports whether the (size)-byte range starting at a overlaps the
// (osize)-byte range starting at b. Only addresses in the same space can
// overlap.
func (a Address) Overlap(size int, b Address, osize int) (bool, int64) {
	if a.Space != b.Space {
		return false, 0
	}
	aEnd := a.Offset + uint64(size)
	bEnd := b.Offset + uint64(osize)
	if a.Offset >= bEnd || b.Offset >= aEnd {
		return false, 0
	}
	return true, int64(a.Offset) - int64(b.Offset)
}

// JustifiedContain reports whether the (size)-byte range at a fully
// contains the (osize)-byte range at b, flush with the end of a's range on
// big-endian spaces and with its start on little-endian ones — the
// "justified containment" spec §3 calls out, used when choosing whether a
// smaller read can be satisfied by SUBPIECE-ing a larger write without
// re-justifying for endianness.
func (a Address) JustifiedContain(size int, b Address, osize int) bool {
	if a.Space != b.Space || osize > size {
		return false
	}
	if b.Offset < a.Offset || b.Offset+uint64(osize) > a.Offset+uint64(size) {
		return false
	}
	if a.Space.BigEndian {
		return b.Offset+uint64(osize) == a.Offset+uint64(size)
	}
	return b.Offset == a.Offset
}

func (a Address) String() string {
	if a.Space == nil {
		return fmt.Sprintf("?:0x%x", a.Offset)
	}
	return fmt.Sprintf("%s:0x%x", a.Space.Name, a.Offset)
}
