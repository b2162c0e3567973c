package pcode

// This file implements HighIntersectTest (spec §4.4): a bidirectional
// intersection-verdict cache keyed by (high, high) pair, backed by
// blockIntersection (per-block Varnode-by-Varnode overlap with copy-shadow
// exemption) and testUntiedCallIntersection (the untied-vs-tied special
// case consulting the function's stack-affecting ops).

type intersectKey struct {
	a, b *HighVariable
}

// HighIntersectTest caches merge-intersection verdicts between pairs of
// HighVariables, since the same pair may be re-queried across several
// Merge entry points in one pass (spec §4.4).
type HighIntersectTest struct {
	f     *Function
	cache map[intersectKey]bool
}

// NewHighIntersectTest constructs an empty cache bound to f (needed by
// testUntiedCallIntersection's stack-affecting-ops query).
func NewHighIntersectTest(f *Function) *HighIntersectTest {
	return &HighIntersectTest{f: f, cache: make(map[intersectKey]bool)}
}

func keyFor(a, b *HighVariable) intersectKey {
	return intersectKey{a: a, b: b}
}

// Intersects reports, using the cache when available, whether a and b's
// covers interior-intersect (spec §8 property 4).
func (t *HighIntersectTest) Intersects(a, b *HighVariable) bool {
	if a == b {
		return false
	}
	if v, ok := t.cache[keyFor(a, b)]; ok {
		return v
	}
	if v, ok := t.cache[keyFor(b, a)]; ok {
		return v
	}
	v := t.blockIntersection(a, b)
	t.cache[keyFor(a, b)] = v
	t.cache[keyFor(b, a)] = v
	return v
}

// replace rewrites every cached verdict mentioning old to instead mention
// replacement, called after old is absorbed into replacement by a Merge
// (spec §4.4: the cache is keyed by (high, high), so a merged-away
// HighVariable's entries must migrate to survive future queries).
func (t *HighIntersectTest) replace(old, replacement *HighVariable) {
	for k, v := range t.cache {
		if k.a == old || k.b == old {
			delete(t.cache, k)
			na, nb := k.a, k.b
			if na == old {
				na = replacement
			}
			if nb == old {
				nb = replacement
			}
			if na != nb {
				t.cache[intersectKey{a: na, b: nb}] = v
			}
		}
	}
}

// blockIntersection walks each block both a's and b's covers touch; for
// each it tests instance-by-instance for interior overlap, exempting
// same-value COPY chains (copy-shadows) and matching-offset partial-copy
// shadows (spec §4.4).
func (t *HighIntersectTest) blockIntersection(a, b *HighVariable) bool {
	ac, bc := a.Cover(), b.Cover()
	if ac.Intersect(bc) == Disjoint {
		return false
	}
	for _, avn := range a.Instances {
		for _, bvn := range b.Instances {
			if isCopyShadow(avn, bvn) {
				continue
			}
			if avn.Cover().Intersect(bvn.Cover()) == Overlap {
				if t.untiedTiedSpecialCase(avn, bvn) {
					continue
				}
				return true
			}
		}
	}
	return false
}

// isCopyShadow reports whether a and b are exempt from counting as a
// conflicting overlap: a is defined as a COPY of b (or vice versa), so they
// hold the same value over their shared liveness window, or one is a
// partial-copy (SUBPIECE/PIECE) shadow of the other at a matching offset
// (spec §4.4 blockIntersection).
func isCopyShadow(a, b *Varnode) bool {
	if isCopyOf(a, b) || isCopyOf(b, a) {
		return true
	}
	return isPartialCopyShadow(a, b) || isPartialCopyShadow(b, a)
}

func isCopyOf(a, b *Varnode) bool {
	return a.Def != nil && a.Def.Opc == OpCopy && len(a.Def.In) == 1 && a.Def.In[0] == b
}

func isPartialCopyShadow(a, b *Varnode) bool {
	if a.Def == nil || (a.Def.Opc != OpSubpiece && a.Def.Opc != OpPiece) {
		return false
	}
	for _, in := range a.Def.In {
		if in == b {
			return true
		}
	}
	return false
}

// untiedTiedSpecialCase implements "untied-vs-tied pairs additionally
// consult testUntiedCallIntersection": if exactly one of a/b is
// address-tied and the tied one is non-global with local aliases, the
// untied one is tested against the stack-affecting ops instead of being an
// automatic conflict (spec §4.4).
func (t *HighIntersectTest) untiedTiedSpecialCase(a, b *Varnode) bool {
	tied, untied := a, b
	switch {
	case a.Flags.Has(VnAddrTied) && !b.Flags.Has(VnAddrTied):
	case b.Flags.Has(VnAddrTied) && !a.Flags.Has(VnAddrTied):
		tied, untied = b, a
	default:
		return false
	}
	if tied.Addr.Space == nil || tied.Addr.Space.Type != SpaceStack {
		return false
	}
	return t.testUntiedCallIntersection(tied, untied)
}

// testUntiedCallIntersection answers whether untied's live range avoids
// every op the function has recorded as stack-affecting while tied is live
// (spec §4.4): if none of those ops fall within untied's cover, the overlap
// is not a real conflict.
func (t *HighIntersectTest) testUntiedCallIntersection(tied, untied *Varnode) bool {
	ops := t.f.stackAffectingOps()
	if !ops.IsPopulated() {
		return false
	}
	return !untied.Cover().IntersectByOpSet(ops, untied)
}

// inflateTest answers "would inflating a's cover to high's cover create an
// intersection?" (spec §4.4): used by propagation passes considering
// whether to widen a Varnode's effective liveness to its HighVariable's
// full cover. It iterates a's instances (skipping copy-shadows) plus, if a
// is grouped, every intersecting piece's instances at their offsets.
func (t *HighIntersectTest) inflateTest(a *Varnode, high *HighVariable) bool {
	target := high.Cover()
	for _, vn := range high.Instances {
		if vn == a || isCopyShadow(a, vn) {
			continue
		}
		if a.Cover().Intersect(vn.Cover()) == Overlap {
			return true
		}
	}
	if a.High() != nil && a.High().Group != nil {
		for _, p := range a.High().Group.Pieces {
			if p.High == a.High() {
				continue
			}
			if p.High.Cover().Intersect(target) == Overlap {
				return true
			}
		}
	}
	return false
}
