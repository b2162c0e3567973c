package pcode

import "sort"

// AffectsTest is implemented by a caller-specific predicate used as
// secondary filtering when a PcodeOpSet's op falls inside a Cover's live
// range in the same block: "does this op (e.g. a STORE) actually affect
// vn's address, given its load/store guard?" (spec §4.1).
type AffectsTest func(op *PcodeOp, vn *Varnode) bool

// PcodeOpSet is a lazily-populated, block-sorted collection of ops used to
// answer "does any op in this set affect a Varnode's live range" queries
// (spec §4.1). It backs Merge's untied-call intersection test, via
// Function.stackAffectingOps.
type PcodeOpSet struct {
	ops        []*PcodeOp
	finalized  bool
	affects    AffectsTest
}

// NewPcodeOpSet returns an empty, unpopulated set using the given
// secondary-filter predicate (nil means every containment hit counts).
func NewPcodeOpSet(affects AffectsTest) *PcodeOpSet {
	return &PcodeOpSet{affects: affects}
}

// IsPopulated reports whether AddOp has ever been called.
func (s *PcodeOpSet) IsPopulated() bool { return len(s.ops) > 0 }

// AddOp appends op to the set; Finalize must be called again before
// querying after any AddOp.
func (s *PcodeOpSet) AddOp(op *PcodeOp) {
	s.ops = append(s.ops, op)
	s.finalized = false
}

// Finalize sorts the set by (block ID, seq order), required before any
// IntersectByOpSet query.
func (s *PcodeOpSet) Finalize() {
	sort.Slice(s.ops, func(i, j int) bool {
		a, b := s.ops[i], s.ops[j]
		if a.Parent.ID != b.Parent.ID {
			return a.Parent.ID < b.Parent.ID
		}
		return a.Seq.Less(b.Seq)
	})
	s.finalized = true
}

// IntersectByOpSet walks the set's per-block run and cov's per-block run
// in lockstep; on a containment hit inside a block it confirms via
// AffectsTest before reporting true.
func (cov *Cover) IntersectByOpSet(s *PcodeOpSet, vn *Varnode) bool {
	if !s.finalized {
		s.Finalize()
	}
	i := 0
	n := len(s.ops)
	for i < n {
		blockID := s.ops[i].Parent.ID
		cb := cov.Get(blockID)
		j := i
		for j < n && s.ops[j].Parent.ID == blockID {
			if !cb.IsEmpty() && cb.Contains(s.ops[j]) {
				if s.affects == nil || s.affects(s.ops[j], vn) {
					return true
				}
			}
			j++
		}
		i = j
	}
	return false
}
