package pcode

import (
	"github.com/emirpasic/gods/sets/treeset"
)

// This file answers spec §9's open question on mergeAddrTied's free-
// Varnode ordering ("any deterministic total order is acceptable so long
// as it is stable across a single function analysis") with a concrete
// choice: order by CreateIndex, backed by a gods red-black-tree set so
// membership and iteration share one sorted structure instead of a
// separate map-then-sort step.

func varnodeCreateIndexComparator(a, b interface{}) int {
	va, vb := a.(*Varnode), b.(*Varnode)
	switch {
	case va.CreateIndex < vb.CreateIndex:
		return -1
	case va.CreateIndex > vb.CreateIndex:
		return 1
	default:
		return 0
	}
}

// SortedVarnodeSet keeps a set of Varnodes in CreateIndex order.
type SortedVarnodeSet struct {
	set *treeset.Set
}

// NewSortedVarnodeSet returns an empty set ordered by CreateIndex.
func NewSortedVarnodeSet() *SortedVarnodeSet {
	return &SortedVarnodeSet{set: treeset.NewWith(varnodeCreateIndexComparator)}
}

// Add inserts vns, de-duplicating by CreateIndex (the set's comparator):
// two Varnodes with the same CreateIndex count as one.
func (s *SortedVarnodeSet) Add(vns ...*Varnode) {
	for _, vn := range vns {
		s.set.Add(vn)
	}
}

// Values returns every member in CreateIndex order.
func (s *SortedVarnodeSet) Values() []*Varnode {
	raw := s.set.Values()
	out := make([]*Varnode, len(raw))
	for i, v := range raw {
		out[i] = v.(*Varnode)
	}
	return out
}

// Size returns the number of members.
func (s *SortedVarnodeSet) Size() int { return s.set.Size() }
