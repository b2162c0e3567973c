package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements HighVariable (spec §4.4, §GLOSSARY): the merger of
// SSA Varnodes representing one source-level variable, subject to Cover
// non-intersection (spec §8 property 4).

// HighClass classifies a HighVariable for the <high> wire element (spec
// §6).
type HighClass int

const (
	ClassOther HighClass = iota
	ClassParam
	ClassGlobal
	ClassLocal
	ClassConstant
)

func (c HighClass) String() string {
	switch c {
	case ClassParam:
		return "param"
	case ClassGlobal:
		return "global"
	case ClassLocal:
		return "local"
	case ClassConstant:
		return "constant"
	default:
		return "other"
	}
}

// HighVariable is a merge-class of Varnodes all considered the same
// source-level variable.
type HighVariable struct {
	Instances []*Varnode
	Class     HighClass
	Typelock  bool

	Symref *string
	Offset int

	Group       *VariableGroup
	GroupOffset int

	cover *Cover // lazily rebuilt union of every instance's Cover
}

// NewHighVariable allocates a HighVariable containing a single Varnode.
func NewHighVariable(vn *Varnode) *HighVariable {
	h := &HighVariable{Instances: []*Varnode{vn}}
	vn.SetHigh(h)
	return h
}

// RepresentativeCreateIndex returns the lowest CreateIndex among instances,
// the <high> wire element's `repref` attribute (spec §6).
func (h *HighVariable) RepresentativeCreateIndex() uint32 {
	best := h.Instances[0].CreateIndex
	for _, vn := range h.Instances[1:] {
		if vn.CreateIndex < best {
			best = vn.CreateIndex
		}
	}
	return best
}

// Cover returns the union of every instance's Cover (spec §8 property 3:
// "the union of def-to-ref ranges of all its Varnodes equals its
// internalCover").
func (h *HighVariable) Cover() *Cover {
	if h.cover != nil {
		return h.cover
	}
	c := NewCover()
	for _, vn := range h.Instances {
		c.MergeAll(vn.Cover())
	}
	h.cover = c
	return c
}

func (h *HighVariable) invalidateCover() { h.cover = nil }

// addInstance absorbs vn into h directly, without any intersection check
// (callers must have already verified non-intersection, e.g. via
// HighIntersectTest).
func (h *HighVariable) addInstance(vn *Varnode) {
	h.Instances = append(h.Instances, vn)
	vn.SetHigh(h)
	h.invalidateCover()
}

// Merge absorbs other into h (spec §4.4 mergePrivate/merge): handles the
// four VariableGroup-membership cases (none/left/right/both). In the
// both-groups case it returns the list of (piece, piece) HighVariable pairs
// needing a follow-up sub-merge, since the groups' offsets must first be
// reconciled by the caller (mergeGroups).
func (h *HighVariable) Merge(other *HighVariable, cache *HighIntersectTest, speculative bool) ([][2]*HighVariable, error) {
	if h == other {
		return nil, nil
	}
	if cache.Intersects(h, other) {
		return nil, coreerr.NewLowLevelError(coreerr.ReasonForcedMergeIntersection)
	}

	var pairs [][2]*HighVariable
	if h.Group != nil && other.Group != nil {
		var err error
		pairs, err = mergeGroups(h, other)
		if err != nil {
			return nil, err
		}
	} else if h.Group == nil && other.Group != nil {
		h.Group, h.GroupOffset = other.Group, other.GroupOffset
		h.Group.repoint(other, h)
	}
	h.absorb(other, cache)
	return pairs, nil
}

// absorb folds other's instances into h and fixes up the intersection
// cache and every absorbed Varnode's High pointer.
func (h *HighVariable) absorb(other *HighVariable, cache *HighIntersectTest) {
	for _, vn := range other.Instances {
		h.Instances = append(h.Instances, vn)
		vn.SetHigh(h)
	}
	cache.replace(other, h)
	h.invalidateCover()
	if other.Typelock {
		h.Typelock = true
	}
	if h.Class == ClassOther && other.Class != ClassOther {
		h.Class = other.Class
	}
}

// mergeGroups reconciles two grouped HighVariables' piece offsets (spec
// §4.4 step 3's "merge() ... in the both-groups case, mergeGroups adjusts
// offsets so the two pieces overlap and passes back a list of HighVariable
// pairs needing sub-merge").
func mergeGroups(a, b *HighVariable) ([][2]*HighVariable, error) {
	shift := a.GroupOffset - b.GroupOffset
	var pairs [][2]*HighVariable
	for _, bp := range b.Group.Pieces {
		adjusted := bp.Offset + shift
		if ap := a.Group.pieceAt(adjusted); ap != nil {
			pairs = append(pairs, [2]*HighVariable{ap.High, bp.High})
		}
	}
	return pairs, nil
}

// GroupWith enrolls h into a VariableGroup at the given byte offset within
// the group's shared address range (spec §4.4 step 3's
// "HighVariable.groupWith").
func (h *HighVariable) GroupWith(g *VariableGroup, offset int) {
	h.Group = g
	h.GroupOffset = offset
	g.Pieces = append(g.Pieces, VariablePiece{High: h, Offset: offset})
}
