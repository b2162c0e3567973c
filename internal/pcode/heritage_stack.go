package pcode

import "github.com/tsgates/decompiler-sub003/internal/valueset"

// This file implements indexed stack-pointer analysis (spec §4.2.5): a DFS
// from the function's stack-pointer input through COPY/INDIRECT/INT_ADD/
// SEGMENTOP/MULTIEQUAL to find LOAD/STORE ops reached through a
// non-constant or phi-joined offset, producing LoadGuard/StoreGuard
// records that bound the stack addresses such an op may alias.

// LoadGuard bounds the stack addresses a dynamically-indexed LOAD may
// alias (spec §GLOSSARY).
type LoadGuard struct {
	Op          *PcodeOp
	Space       *AddrSpace
	PointerBase uint64
	Min, Max    uint64
	Step        uint64
	Flags       traversalFlags
	finished    bool
}

// StoreGuard is the STORE-side analogue of LoadGuard.
type StoreGuard struct {
	Op          *PcodeOp
	Space       *AddrSpace
	PointerBase uint64
	Min, Max    uint64
}

// traversalFlags tags what kind of dataflow reached a LOAD/STORE during
// the indexed-pointer DFS.
type traversalFlags int

const (
	travNonConstIndex traversalFlags = 1 << iota
	travMultiequal
)

// discoverIndexedStack walks every COPY/INDIRECT/INT_ADD/SEGMENTOP/
// MULTIEQUAL reachable from space's designated stack-pointer input
// (tracked via VnSpacebase-flagged inputs) and, on reaching a LOAD or
// STORE through a non-trivial offset, records a guard and marks the op
// spacebase-ptr (spec §4.2.5).
func (f *Function) discoverIndexedStack(space *AddrSpace) {
	if space.Type != SpaceStack {
		return
	}
	for _, vn := range f.Bank.All() {
		if !vn.Flags.Has(VnInput) || !vn.Flags.Has(VnSpacebase) {
			continue
		}
		f.walkIndexedStack(vn, space, 0, 0)
	}
}

func (f *Function) walkIndexedStack(vn *Varnode, space *AddrSpace, offset uint64, flags traversalFlags) {
	for _, op := range vn.Descend {
		switch op.Opc {
		case OpCopy, OpSegmentOp:
			if op.Out != nil {
				f.walkIndexedStack(op.Out, space, offset, flags)
			}
		case OpMultiequal:
			if op.Out != nil {
				f.walkIndexedStack(op.Out, space, offset, flags|travMultiequal)
			}
		case OpIntAdd:
			nextOffset, nextFlags := offset, flags
			for _, in := range op.In {
				if in == vn {
					continue
				}
				if in != nil && in.Flags.Has(VnConstant) {
					nextOffset += in.Addr.Offset
				} else {
					nextFlags |= travNonConstIndex
				}
			}
			if op.Out != nil {
				f.walkIndexedStack(op.Out, space, nextOffset, nextFlags)
			}
		case OpLoad:
			if flags != 0 {
				f.generateLoadGuard(op, space, offset, flags)
			}
		case OpStore:
			if flags != 0 {
				f.generateStoreGuard(op, space, offset, flags)
			}
		}
	}
}

// generateLoadGuard installs a LoadGuard for a LOAD reached with
// non-trivial traversal flags, marking the op spacebase-ptr and estimating
// an initial [min,max] using a fast, null-widener value-set pass; an
// unfinished estimate is finalized later by finalizeRange via the full
// widener (spec §4.2.5).
func (f *Function) generateLoadGuard(op *PcodeOp, space *AddrSpace, base uint64, flags traversalFlags) {
	op.Flags |= OpSpacebasePtr
	g := &LoadGuard{Op: op, Space: space, PointerBase: base, Min: base, Max: base + 0x10, Step: 1, Flags: flags}
	f.establishRange(g)
	f.loadGuards = append(f.loadGuards, g)
}

// generateStoreGuard is the STORE analogue of generateLoadGuard. Because a
// STORE through an unresolved pointer is conservatively fenced regardless
// of its estimated range (spec §4.2.3), every guarded STORE is marked
// spacebase-ptr, and free STOREs (no output) through this pointer are
// additionally marked indirect-store.
func (f *Function) generateStoreGuard(op *PcodeOp, space *AddrSpace, base uint64, flags traversalFlags) {
	op.Flags |= OpSpacebasePtr
	g := &StoreGuard{Op: op, Space: space, PointerBase: base, Min: base, Max: base + 0x10}
	f.storeGuards = append(f.storeGuards, g)
	if op.Out == nil {
		// A free STORE (no data output to track) through this pointer:
		// fence it so heritage doesn't treat the range as fully resolved.
		op.Flags |= OpIndirectStore
	}
}

// establishRange runs the fast, partial null-widener pass over g (spec
// §4.2.5). If it doesn't converge, g.finished stays false and a later
// finalizeRange call (run once per pass from analyzeNewLoadGuards) widens
// it with a fixed window.
func (f *Function) establishRange(g *LoadGuard) {
	node := &guardNode{guard: g}
	solver := &valueset.Solver{}
	unfinished := solver.Establish([]valueset.Node{node})
	g.finished = len(unfinished) == 0
	if rng := node.rng; rng != nil && rng.Left.IsUint64() && rng.Right.IsUint64() {
		g.Min = rng.Left.Uint64()
		g.Max = rng.Right.Uint64() - 1 // Right is exclusive, Max inclusive
	}
}

// finalizeRange widens every unfinished LoadGuard with the full widener,
// guaranteeing a terminating [min,max] (spec §4.2.5).
func (f *Function) finalizeRange(g *LoadGuard) {
	if g.finished {
		return
	}
	node := &guardNode{guard: g}
	solver := &valueset.Solver{}
	solver.Finalize([]valueset.Node{node})
	if rng := node.rng; rng != nil && rng.Left.IsUint64() && rng.Right.IsUint64() {
		g.Min = rng.Left.Uint64()
		g.Max = rng.Right.Uint64() - 1 // Right is exclusive, Max inclusive
	}
	g.finished = true
}

// analyzeNewLoadGuards runs the value-set solver over every load guard not
// yet finished, finalizing as needed (spec §4.2.2 step 6).
func (f *Function) analyzeNewLoadGuards() {
	for _, g := range f.loadGuards {
		if !g.finished {
			f.finalizeRange(g)
		}
	}
}

// guardNode adapts a LoadGuard to valueset.Node for the solver. It has no
// inputs either way, but what it reports as its value depends on how the
// DFS reached the LOAD: a guard discovered through a purely constant
// offset (Flags == 0) really does alias a single fixed address, so it
// collapses to that constant. A guard discovered through a non-constant
// index or a MULTIEQUAL join (travNonConstIndex/travMultiequal) isn't a
// single address at all, so it must not report one; reporting "no
// constant, no op" leaves the solver's own range nil and establishRange/
// finalizeRange fall back to the DFS's own [Min,Max] estimate instead of
// narrowing it to a point.
type guardNode struct {
	guard *LoadGuard
	rng   *valueset.CircleRange
}

func (n *guardNode) Inputs() []valueset.Node { return nil }

func (n *guardNode) ConstValue() (uint64, bool) {
	if n.guard.Flags != 0 {
		return 0, false
	}
	return n.guard.PointerBase, true
}

func (n *guardNode) Op() (valueset.OpKind, int, bool) { return valueset.OpIntAdd, 8, false }
func (n *guardNode) Range() *valueset.CircleRange     { return n.rng }
func (n *guardNode) SetRange(r *valueset.CircleRange) { n.rng = r }
