package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file drives Heritage's multi-pass SSA construction (spec §4.2).
// Each pass raises to SSA any address range for which free (unheritaged)
// Varnodes exist now, subject to each AddrSpace's Delay/DeadCodeDelay.

// heritage runs one pass and reports whether it made any progress (placed
// a MULTIEQUAL, renamed a free range, or inserted a guard) — the driver
// (Function.runHeritageToFixpoint) keeps calling it until a pass is a
// no-op.
func (f *Function) heritage() (bool, error) {
	if f.adtStale {
		buildADT(f)
	}

	progressed := false
	if f.processJoins() {
		progressed = true
	}

	for _, space := range f.Spaces {
		hi := f.heritageInfoFor(space)
		if f.pass < hi.Delay {
			continue
		}
		did, err := f.heritageSpace(space, hi)
		if err != nil {
			return progressed, err
		}
		if did {
			progressed = true
		}
	}

	f.analyzeNewLoadGuards()
	f.handleNewLoadCopies()
	if len(f.storeGuards) > 0 {
		f.reprocessFreeStores()
	}
	if f.pass == 0 {
		f.applySplitPreferences()
	}

	f.pass++
	return progressed, nil
}

// processJoins rewrites the readers of free join-space Varnodes to read a
// PIECE tree built over new input Varnodes for their constituent pieces
// (spec §4.2.2 step 2). Writes to join-space Varnodes are not split, and the
// pieces are not checked for being heritaged first. Join records are out of scope
// for the core's own symbol system (spec §1); callers supply piece lists
// via RegisterJoin.
func (f *Function) processJoins() bool {
	progressed := false
	for _, vn := range f.Bank.All() {
		if vn.Addr.Space == nil || vn.Addr.Space.Type != SpaceJoin || !vn.IsFree() {
			continue
		}
		pieces, ok := f.joinPieces[vn.Addr.Offset]
		if !ok {
			continue
		}
		f.splitJoinReads(vn, pieces)
		progressed = true
	}
	return progressed
}

// splitJoinReads rewrites every descendant of a join Varnode to instead
// read a PIECE tree built from its constituent, individually-addressed
// pieces.
func (f *Function) splitJoinReads(vn *Varnode, pieces []Address) {
	if len(pieces) == 0 {
		return
	}
	cur := f.Bank.CreateInput(pieces[0], vn.Size/len(pieces))
	for i := 1; i < len(pieces); i++ {
		op := NewOp(OpPiece, SeqNum{Addr: pieces[i]})
		next := f.Bank.Create(vn.Addr, vn.Size*(i+1)/len(pieces))
		op.AppendInput(cur)
		op.AppendInput(f.Bank.CreateInput(pieces[i], vn.Size/len(pieces)))
		op.SetOutput(next)
		cur = next
	}
	for _, reader := range append([]*PcodeOp{}, vn.Descend...) {
		for i, in := range reader.In {
			if in == vn {
				reader.SetInput(i, cur)
			}
		}
	}
}

// heritageSpace performs steps 3-6 of spec §4.2.2 for one AddrSpace.
func (f *Function) heritageSpace(space *AddrSpace, hi *HeritageInfo) (bool, error) {
	hi.CallPlaceholders = false // step a: drop stale call placeholders

	if !hi.LoadGuardSearched && f.pass >= hi.Delay {
		f.discoverIndexedStack(space)
		hi.LoadGuardSearched = true
	}

	disjoint := NewLocationMap()
	anyInteresting := false
	for _, vn := range f.Bank.All() {
		if vn.Addr.Space != space {
			continue
		}
		if !isInteresting(vn) {
			continue
		}
		anyInteresting = true
		flag := RangeNew
		if f.globalDisjoint.PassOf(vn.Addr) >= 0 {
			flag = RangeOld
		}
		disjoint.Add(vn.Addr, vn.Size, f.pass)
		f.globalDisjoint.Add(vn.Addr, vn.Size, f.pass)
		_ = flag
	}
	if !anyInteresting {
		return false, nil
	}

	progressed := false
	for _, r := range disjoint.Ranges(space) {
		did, err := f.placeMultiequals(space, r)
		if err != nil {
			return progressed, err
		}
		if did {
			progressed = true
		}
	}
	return progressed, nil
}

// isInteresting reports whether vn should participate in this pass's
// heritage: written, has readers, or is an unaffected input (spec §4.2.2
// step 3c).
func isInteresting(vn *Varnode) bool {
	if vn.IsFree() {
		return false
	}
	if vn.IsWritten() {
		return true
	}
	if len(vn.Descend) > 0 {
		return true
	}
	return vn.Flags.Has(VnUnaffected) && vn.Flags.Has(VnInput)
}

// placeMultiequals implements spec §4.2.2 step 4: build read/write/input
// sets for the range, refine if sizes disagree, guard call/return/store/
// load sites, place MULTIEQUALs at dominance-frontier joins, and rename.
func (f *Function) placeMultiequals(space *AddrSpace, r MemRange) (bool, error) {
	writers, readers, inputs := f.collectRangeVarnodes(space, r)
	if len(writers) == 0 && len(inputs) == 0 {
		return false, nil
	}

	maxWriteSize := r.Size
	for _, w := range writers {
		if w.Size > maxWriteSize {
			maxWriteSize = w.Size
		}
	}
	if needsRefinement(r, writers, readers, inputs) {
		if r.Size > maxRefinementSize {
			return false, nil // refinement abandoned: the range stays unheritaged this pass
		}
		if err := f.refineRange(space, r, writers, readers, inputs); err != nil {
			return false, err
		}
		// Refinement replaced the range's Varnodes; the caller's disjoint
		// bookkeeping is updated inside refineRange, so re-fetch.
		writers, readers, inputs = f.collectRangeVarnodes(space, r)
	}

	f.guardInput(space, r, &inputs)
	f.guardRangeOps(space, r, writers, readers)

	writingBlocks := make(map[int]*BlockBasic)
	for _, w := range writers {
		if w.Def != nil && w.Def.Parent != nil {
			writingBlocks[w.Def.Parent.ID] = w.Def.Parent
		}
	}
	joins := f.calcMultiequals(writingBlocks)
	for _, b := range joins {
		if hasMultiequalFor(b, r.Addr, r.Size) {
			continue
		}
		op := NewOp(OpMultiequal, SeqNum{Addr: r.Addr})
		out := f.Bank.Create(r.Addr, r.Size)
		op.SetOutput(out)
		for range b.Preds {
			op.AppendInput(nil) // filled in by rename()
		}
		b.InsertMultiequal(op)
	}

	f.rename(space, r)
	return true, nil
}

func hasMultiequalFor(b *BlockBasic, addr Address, size int) bool {
	for _, op := range b.Ops {
		if op.Opc != OpMultiequal {
			break
		}
		if op.Out != nil && op.Out.Addr.Equal(addr) && op.Out.Size == size {
			return true
		}
	}
	return false
}

func (f *Function) collectRangeVarnodes(space *AddrSpace, r MemRange) (writers, readers, inputs []*Varnode) {
	for _, vn := range f.Bank.AtAddress(r.Addr) {
		if vn.Size != r.Size {
			continue
		}
		switch {
		case vn.Flags.Has(VnInput):
			inputs = append(inputs, vn)
		case vn.IsWritten():
			writers = append(writers, vn)
		default:
			readers = append(readers, vn)
		}
	}
	return
}

func needsRefinement(r MemRange, writers, readers, inputs []*Varnode) bool {
	for _, group := range [][]*Varnode{writers, readers, inputs} {
		for _, vn := range group {
			if vn.Size != r.Size {
				return true
			}
		}
	}
	return false
}

// calcMultiequals runs phi placement over the iterated dominance frontier
// of the writing blocks (spec §4.2.2 step 4's calcMultiequals), using the
// augmented dominator tree built by buildADT and a priority queue ordered
// by dominator depth so deeper blocks are processed, and their frontier
// contributions propagated, before shallower ones — the gods priority
// queue backs this ordering (see SPEC_FULL.md Domain Stack).
func (f *Function) calcMultiequals(writingBlocks map[int]*BlockBasic) []*BlockBasic {
	pq := newDepthPriorityQueue()
	inQueue := make(map[int]bool)
	for _, b := range writingBlocks {
		pq.push(b)
		inQueue[b.ID] = true
	}

	everOnFrontier := make(map[int]bool)
	var joins []*BlockBasic
	for pq.len() > 0 {
		b := pq.pop()
		inQueue[b.ID] = false
		for _, df := range dominanceFrontier(b) {
			if !everOnFrontier[df.ID] {
				everOnFrontier[df.ID] = true
				joins = append(joins, df)
			}
			if !inQueue[df.ID] {
				inQueue[df.ID] = true
				pq.push(df)
			}
		}
	}
	return joins
}

// dominanceFrontier computes the standard Cytron-et-al dominance frontier
// of a single block by walking successors until leaving the idom subtree;
// cheap enough for per-range use given realistic function sizes, and
// equivalent in result to walking the ADT's augmentation edges. A block
// can only be on some ancestor's frontier if it's a merge point (buildADT's
// isBoundary, Preds > 1): a single-predecessor successor's dominator
// always extends forward from its predecessor's, so it's never a frontier
// candidate, letting the boundary flag skip it without a dominator check.
func dominanceFrontier(b *BlockBasic) []*BlockBasic {
	var out []*BlockBasic
	seen := map[int]bool{}
	var walk func(*BlockBasic)
	walk = func(n *BlockBasic) {
		for _, e := range n.Succs {
			s := e.B
			if s.isBoundary && (s == b || !b.Dominates(s)) {
				if !seen[s.ID] {
					seen[s.ID] = true
					out = append(out, s)
				}
			}
		}
		for _, c := range n.adtChildren {
			if c != b {
				walk(c)
			}
		}
	}
	walk(b)
	return out
}

// rename performs classic SSA renaming via DFS of the dominator tree with
// per-address variable stacks (spec §4.2.2 step 5): ties unresolved reads
// to the stack top, fabricates input Varnodes on demand, and fills
// MULTIEQUAL inputs per predecessor.
func (f *Function) rename(space *AddrSpace, r MemRange) {
	stack := []*Varnode{nil}
	if f.Entry != nil {
		f.renameBlock(f.Entry, r, &stack)
	}
}

func (f *Function) renameBlock(b *BlockBasic, r MemRange, stack *[]*Varnode) {
	pushed := 0
	for _, op := range b.Ops {
		if op.Opc == OpMultiequal && op.Out != nil && op.Out.Addr.Equal(r.Addr) && op.Out.Size == r.Size {
			*stack = append(*stack, op.Out)
			pushed++
			continue
		}
		for i, in := range op.In {
			if in != nil {
				continue
			}
			_ = i // placeholder inputs are filled by predecessor-specific logic below
		}
		for i, in := range op.In {
			if in == nil {
				continue
			}
			if in.IsFree() && in.Addr.Equal(r.Addr) && in.Size == r.Size {
				top := top(*stack)
				if top == nil {
					top = f.Bank.CreateInput(r.Addr, r.Size)
					*stack = append(*stack, top)
					pushed++
				}
				op.SetInput(i, top)
			}
		}
		if op.Out != nil && op.Out.Addr.Equal(r.Addr) && op.Out.Size == r.Size && op.Opc != OpMultiequal {
			*stack = append(*stack, op.Out)
			pushed++
		}
	}

	for _, e := range b.Succs {
		succ := e.B
		predIdx := e.ReverseIx
		for _, op := range succ.Ops {
			if op.Opc != OpMultiequal {
				break
			}
			if op.Out == nil || !op.Out.Addr.Equal(r.Addr) || op.Out.Size != r.Size {
				continue
			}
			if predIdx < len(op.In) && op.In[predIdx] != nil {
				continue
			}
			val := top(*stack)
			if val == nil {
				val = f.Bank.CreateInput(r.Addr, r.Size)
			}
			op.SetInput(predIdx, val)
		}
	}

	for _, c := range b.adtChildren {
		f.renameBlock(c, r, stack)
	}

	*stack = (*stack)[:len(*stack)-pushed]
}

func top(stack []*Varnode) *Varnode {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// ForceRestart marks the function as needing a full restart after bumping
// a space's dead-code delay (spec §4.2.6: a revisit collision after a
// dead-code pass co-occurring with a partial-heritage situation).
func (f *Function) ForceRestart(space *AddrSpace, reason string) {
	hi := f.heritageInfoFor(space)
	hi.DeadCodeDelay++
	f.restartPending = true
	f.AddWarning(coreerr.WarnHeritageAfterDeadRemoval, reason)
}
