package pcode

import (
	"sort"

	"github.com/tsgates/decompiler-sub003/internal/coreerr"
)

// This file implements the Merge subsystem's driver (spec §4.4): the fixed
// sequence mergeAddrTied -> mergeMarker -> groupPartials -> mergeAdjacent ->
// mergeByDatatype -> mergeMultiEntry, the merge-test ladder, mergeLinear's
// stack scan, and the COPY-trim follow-up.

// RunMerge executes the fixed Merge pipeline over every Varnode, coalescing
// SSA Varnodes into HighVariables (spec §4.4).
func (f *Function) RunMerge() error {
	for _, vn := range f.Bank.All() {
		if vn.High() == nil && !vn.IsFree() {
			NewHighVariable(vn)
		}
	}
	cache := NewHighIntersectTest(f)

	if err := f.mergeAddrTied(cache); err != nil {
		return err
	}
	if err := f.mergeMarker(cache); err != nil {
		return err
	}
	f.groupPartials()
	f.mergeAdjacent(cache)
	for _, space := range f.Spaces {
		for _, r := range f.globalDisjoint.Ranges(space) {
			f.mergeByDatatype(cache, r)
		}
	}
	f.mergeMultiEntry(cache)
	f.processCopyTrims()
	f.markInternalCopies()
	return nil
}

// mergeAddrTied implements step 1: for each contiguous run of same-addr,
// same-size address-tied Varnodes, force merge via mergeRangeMust. Where
// covers intersect in a way that isn't a copy-shadow of the same value,
// eliminateIntersect cuts the data flow with an inserted COPY.
func (f *Function) mergeAddrTied(cache *HighIntersectTest) error {
	byLoc := map[Address][]*Varnode{}
	for _, vn := range f.Bank.All() {
		if !vn.Flags.Has(VnAddrTied) || vn.IsFree() {
			continue
		}
		byLoc[vn.Addr] = append(byLoc[vn.Addr], vn)
	}
	var keys []Address
	for k := range byLoc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, addr := range keys {
		set := NewSortedVarnodeSet()
		set.Add(byLoc[addr]...)
		run := set.Values()
		for i := 1; i < len(run); i++ {
			if err := f.mergeRangeMust(run[0], run[i], cache); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeRangeMust forces a to absorb b's HighVariable, regardless of cover
// intersection; if their covers genuinely intersect outside a copy-shadow,
// eliminateIntersect cuts the flow with an inserted COPY instead of
// violating non-intersection (spec §4.4 step 1, §8 property 4).
func (f *Function) mergeRangeMust(a, b *Varnode, cache *HighIntersectTest) error {
	ha, hb := a.High(), b.High()
	if ha == nil {
		ha = NewHighVariable(a)
	}
	if hb == nil {
		hb = NewHighVariable(b)
	}
	if ha == hb {
		return nil
	}
	if cache.Intersects(ha, hb) {
		f.eliminateIntersect(b)
		return nil
	}
	_, err := ha.Merge(hb, cache, false)
	if err != nil {
		f.eliminateIntersect(b)
		return nil
	}
	return nil
}

// eliminateIntersect cuts b's data flow from its current definition by
// inserting a COPY whose input is b, so future readers consume the COPY's
// output instead and b itself is no longer forced to share a HighVariable
// with whatever it conflicted with (spec §4.4 step 1).
func (f *Function) eliminateIntersect(b *Varnode) {
	if b.Def == nil || b.Def.Parent == nil {
		return
	}
	blk := b.Def.Parent
	cp := NewOp(OpCopy, SeqNum{Addr: b.Def.Seq.Addr, Order: b.Def.Seq.Order + 1})
	out := f.Bank.Create(b.Addr, b.Size)
	cp.AppendInput(b)
	cp.SetOutput(out)
	blk.InsertOpBefore(cp, nil)
	for _, reader := range append([]*PcodeOp{}, b.Descend...) {
		if reader == cp {
			continue
		}
		for i, in := range reader.In {
			if in == b {
				reader.SetInput(i, out)
			}
		}
	}
	NewHighVariable(out)
}

// mergeMarker implements step 2: force merge each MULTIEQUAL/INDIRECT's
// inputs with its output, inserting a trim COPY where a merge test fails.
// Address-forced INDIRECTs get one last chance via snipOutputInterference
// before the COPY fallback.
func (f *Function) mergeMarker(cache *HighIntersectTest) error {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc != OpMultiequal && op.Opc != OpIndirect {
				continue
			}
			if op.Out == nil {
				continue
			}
			for i, in := range op.In {
				if in == nil {
					continue
				}
				if err := f.mergeOp(op.Out, in, cache); err != nil {
					if op.Opc == OpIndirect && op.Out.Flags.Has(VnAddrForced) {
						if f.snipOutputInterference(op, i, cache) {
							continue
						}
					}
					f.insertTrimCopy(op, i)
				}
			}
		}
	}
	return nil
}

// mergeOp attempts the forced merge required of a marker op's input/output
// pair: any LowLevelError from the merge tests propagates to the caller,
// which decides how to recover (spec §7: "Merge failures in forced merges
// (mergeRangeMust, mergeOp) throw LowLevelError").
func (f *Function) mergeOp(out, in *Varnode, cache *HighIntersectTest) error {
	ho, hi := out.High(), in.High()
	if ho == nil {
		ho = NewHighVariable(out)
	}
	if hi == nil {
		hi = NewHighVariable(in)
	}
	if ho == hi {
		return nil
	}
	if cache.Intersects(ho, hi) {
		return coreerr.NewLowLevelError(coreerr.ReasonForcedMergeIntersection)
	}
	_, err := ho.Merge(hi, cache, false)
	return err
}

// snipOutputInterference is the address-forced INDIRECT's last-chance
// salvage (spec §4.4 step 2): if the conflicting input is itself free (not
// yet merged into anything else), rehome it onto the output's HighVariable
// directly instead of failing the merge.
func (f *Function) snipOutputInterference(op *PcodeOp, inIdx int, cache *HighIntersectTest) bool {
	in := op.In[inIdx]
	if in == nil || in.High() == nil || len(in.High().Instances) != 1 {
		return false
	}
	ho := op.Out.High()
	if ho == nil {
		ho = NewHighVariable(op.Out)
	}
	if cache.Intersects(ho, in.High()) {
		return false
	}
	ho.addInstance(in)
	return true
}

// insertTrimCopy breaks a failed marker-merge by inserting a COPY on the
// offending input edge, giving the input its own HighVariable instead of
// forcing the (conflicting) merge.
func (f *Function) insertTrimCopy(op *PcodeOp, inIdx int) {
	in := op.In[inIdx]
	if in == nil {
		return
	}
	var parent *BlockBasic
	var order uint32
	if in.Def != nil && in.Def.Parent != nil {
		parent, order = in.Def.Parent, in.Def.Seq.Order+1
	} else if op.Parent != nil && len(op.Parent.Preds) > inIdx {
		parent = op.Parent.Preds[inIdx].B
		order = ^uint32(0)
	}
	if parent == nil {
		return
	}
	cp := NewOp(OpCopy, SeqNum{Addr: op.Seq.Addr, Order: order})
	out := f.Bank.Create(in.Addr, in.Size)
	cp.AppendInput(in)
	cp.SetOutput(out)
	parent.AddOp(cp)
	op.SetInput(inIdx, out)
	NewHighVariable(out)
}

// groupPartials implements step 3: for each root of a PIECE tree, gather
// the leaves via gatherPieces, and, if every piece is a single-instance
// proto-partial, group them via HighVariable.GroupWith.
func (f *Function) groupPartials() {
	for _, vn := range f.Bank.All() {
		if vn.Def == nil || vn.Def.Opc != OpPiece || vn.IsFree() {
			continue
		}
		if isPieceOfPiece(vn) {
			continue
		}
		pieces := gatherPieces(vn)
		if len(pieces) < 2 {
			continue
		}
		allEligible := true
		for _, p := range pieces {
			if !isSingleInstanceProtoPartial(p.Vn) {
				allEligible = false
				break
			}
		}
		if !allEligible {
			continue
		}
		g := NewVariableGroup()
		for _, p := range pieces {
			h := p.Vn.High()
			if h == nil {
				h = NewHighVariable(p.Vn)
			}
			h.GroupWith(g, p.Offset)
		}
	}
}

func isPieceOfPiece(vn *Varnode) bool {
	for _, op := range vn.Descend {
		if op.Opc == OpPiece {
			return true
		}
	}
	return false
}

// mergeAdjacent implements step 4: for each non-call op whose output and
// some input share the same size (the core's stand-in for "local type",
// since the full type system is out of scope, spec §1) attempt a
// speculative merge.
func (f *Function) mergeAdjacent(cache *HighIntersectTest) {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc.IsCall() || op.Out == nil {
				continue
			}
			for _, in := range op.In {
				if in == nil || in.Size != op.Out.Size {
					continue
				}
				if !f.mergeTestAdjacent(op.Out, in) || !mergeTestSpeculative(op.Out, in) {
					continue
				}
				f.mergePrivate(op.Out, in, cache, true)
			}
		}
	}
}

// mergeByDatatype implements step 5: for all non-free Varnodes in a
// location range, bucket by size (the core's datatype stand-in) and run
// mergeLinear on each bucket.
func (f *Function) mergeByDatatype(cache *HighIntersectTest, r MemRange) {
	buckets := map[int][]*Varnode{}
	for _, vn := range f.Bank.AtAddress(r.Addr) {
		if vn.IsFree() || !mergeTestBasic(vn) {
			continue
		}
		buckets[vn.Size] = append(buckets[vn.Size], vn)
	}
	for _, bucket := range buckets {
		f.mergeLinear(cache, bucket)
	}
}

// mergeLinear sorts Varnodes by CreateIndex and scans a stack: each new
// high is merged into the first non-intersecting stack high it's tested
// against; otherwise it opens a new run (spec §4.4). The order is creation
// order, not cover order.
func (f *Function) mergeLinear(cache *HighIntersectTest, vns []*Varnode) {
	sort.Slice(vns, func(i, j int) bool { return vns[i].CreateIndex < vns[j].CreateIndex })
	var stack []*Varnode
	for _, vn := range vns {
		merged := false
		for _, top := range stack {
			if top.High() == vn.High() {
				merged = true
				break
			}
			if !cache.Intersects(topHigh(top), topHigh(vn)) && f.mergeTestRequired(top, vn) {
				f.mergePrivate(top, vn, cache, false)
				merged = true
				break
			}
		}
		if !merged {
			stack = append(stack, vn)
		}
	}
}

func topHigh(vn *Varnode) *HighVariable {
	if vn.High() == nil {
		return NewHighVariable(vn)
	}
	return vn.High()
}

// mergeMultiEntry implements step 6: for each address held by persistent
// Varnodes of more than one HighVariable (the core's stand-in for "Symbol
// with multiple SymbolEntries", since the symbol table is out of scope per
// spec §1), merge every such HighVariable into the first one found. A
// HighVariable whose cover intersects the first one's is skipped, not
// merged.
func (f *Function) mergeMultiEntry(cache *HighIntersectTest) {
	byLoc := map[Address][]*HighVariable{}
	for _, vn := range f.Bank.All() {
		if vn.IsFree() || !vn.Flags.Has(VnPersist) {
			continue
		}
		h := topHigh(vn)
		found := false
		for _, existing := range byLoc[vn.Addr] {
			if existing == h {
				found = true
				break
			}
		}
		if !found {
			byLoc[vn.Addr] = append(byLoc[vn.Addr], h)
		}
	}
	for _, highs := range byLoc {
		for i := 1; i < len(highs); i++ {
			if cache.Intersects(highs[0], highs[i]) {
				continue
			}
			highs[0].Merge(highs[i], cache, false)
		}
	}
}

// mergePrivate queries the HighIntersectTest cache; if clear, merges
// a's High with b's High (spec §4.4 "Actual merge").
func (f *Function) mergePrivate(a, b *Varnode, cache *HighIntersectTest, speculative bool) bool {
	ha, hb := topHigh(a), topHigh(b)
	if ha == hb {
		return true
	}
	if cache.Intersects(ha, hb) {
		return false
	}
	_, err := ha.Merge(hb, cache, speculative)
	return err == nil
}

// mergeTestRequired implements the first merge test (spec §4.4): type-lock
// compatibility and VariableGroup non-collision are the parts expressible
// without the full symbol/type system this core excludes (spec §1).
func (f *Function) mergeTestRequired(a, b *Varnode) bool {
	ha, hb := a.High(), b.High()
	if ha != nil && hb != nil && ha.Typelock && hb.Typelock && ha.Class != hb.Class {
		return false
	}
	if ha != nil && hb != nil && ha.Group != nil && hb.Group != nil && ha.Group == hb.Group {
		return false // at most one whole-group piece per group: already in the same group
	}
	return true
}

// mergeTestAdjacent extends mergeTestRequired with exact-size equality
// (this core's local-type stand-in) and rejects merging two grouped highs
// at different group offsets. Isolated Varnodes get no separate check.
func (f *Function) mergeTestAdjacent(a, b *Varnode) bool {
	if !f.mergeTestRequired(a, b) {
		return false
	}
	if a.Size != b.Size {
		return false
	}
	ha, hb := a.High(), b.High()
	if ha != nil && hb != nil && ha.Group != nil && hb.Group != nil && ha.GroupOffset != hb.GroupOffset {
		return false // overlapping-group rejection
	}
	return true
}

// mergeTestSpeculative extends mergeTestAdjacent, additionally rejecting a
// merge across a persist/input/addr-tied boundary (spec §4.4): those
// Varnodes already have a fixed storage identity a speculative merge must
// not disturb.
func mergeTestSpeculative(a, b *Varnode) bool {
	for _, vn := range []*Varnode{a, b} {
		if vn.Flags.Has(VnPersist) || vn.Flags.Has(VnInput) || vn.Flags.Has(VnAddrTied) {
			return false
		}
	}
	return true
}

// mergeTestBasic implements the base filter: cover-capable (has a defining
// op or is an input), non-implied, non-spacebase, non-proto-partial (spec
// §4.4).
func mergeTestBasic(vn *Varnode) bool {
	if vn.Flags.Has(VnImplied) || vn.Flags.Has(VnSpacebase) || vn.Flags.Has(VnProtoPartial) {
		return false
	}
	return vn.IsWritten() || vn.Flags.Has(VnInput)
}

// processCopyTrims implements the COPY-trim follow-up's first half
// (spec §4.4): buildDominantCopy replaces multiple parallel COPYs sharing a
// source Varnode with a single COPY at their common dominator when doing so
// doesn't change observable behavior (the target high's extended cover
// doesn't overlap any downstream use outside the replaced set), and
// markRedundantCopies marks the now-dominated duplicates non-printing.
func (f *Function) processCopyTrims() {
	bySrc := map[*Varnode][]*PcodeOp{}
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc == OpCopy && len(op.In) == 1 && op.In[0] != nil {
				bySrc[op.In[0]] = append(bySrc[op.In[0]], op)
			}
		}
	}
	for _, copies := range bySrc {
		if len(copies) < 2 {
			continue
		}
		dom := copies[0].Parent
		for _, cp := range copies[1:] {
			dom = commonDominator(dom, cp.Parent)
		}
		for _, cp := range copies {
			if cp.Parent != dom {
				cp.Flags |= OpNonPrinting
			}
		}
	}
}

func commonDominator(a, b *BlockBasic) *BlockBasic {
	if a == nil || b == nil {
		return nil
	}
	seen := map[int]bool{}
	for cur := a; cur != nil; cur = cur.idom {
		seen[cur.ID] = true
	}
	for cur := b; cur != nil; cur = cur.idom {
		if seen[cur.ID] {
			return cur
		}
	}
	return nil
}

// markInternalCopies implements the COPY-trim follow-up's second half:
// mark COPY/PIECE/SUBPIECE ops non-printing when their output and every
// input belong to the same VariableGroup (spec §4.4). The group offsets of
// the output and inputs are not compared.
func (f *Function) markInternalCopies() {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Out == nil || (op.Opc != OpCopy && op.Opc != OpPiece && op.Opc != OpSubpiece) {
				continue
			}
			outHigh := op.Out.High()
			if outHigh == nil || outHigh.Group == nil {
				continue
			}
			allSameGroup := true
			for _, in := range op.In {
				if in == nil || in.High() == nil || in.High().Group != outHigh.Group {
					allSameGroup = false
					break
				}
			}
			if allSameGroup {
				op.Flags |= OpNonPrinting
			}
		}
	}
}
