package pcode

import (
	"sort"

	"github.com/tsgates/decompiler-sub003/internal/valueset"
)

// This file implements PathMeld and guard analysis (spec §4.3.1 steps 1-3):
// the back-slice collection the Basic/Basic2/Override models search for a
// switch variable over, and the CBRANCH-boundary range restrictions
// (GuardRecord) that later narrow a candidate's value range.

// meldedOp is one PcodeOp seen on any back-path, tagged with the index into
// commonVn of the deepest common Varnode any path passes through it on its
// way back from.
type meldedOp struct {
	op          *PcodeOp
	commonDepth int
}

// PathMeld accumulates every back-path walked from a BRANCHIND's input
// toward candidate switch variables, maintaining the intersection of
// Varnodes common to every path (commonVn) and the union of ops seen on any
// path (opMeld), tagged by the deepest commonVn they branch from (spec
// §4.3.1 step 2).
type PathMeld struct {
	commonVn []*Varnode
	opMeld   []meldedOp
}

// NewPathMeld starts a PathMeld from a single Varnode (the BRANCHIND input
// itself is path index 0's sole commonVn entry).
func NewPathMeld(start *Varnode) *PathMeld {
	return &PathMeld{commonVn: []*Varnode{start}}
}

// Meld intersects a newly-discovered path's marked Varnodes against the
// existing commonVn set and merge-sorts the path's ops into opMeld by
// (block, seq) (spec §4.3.1 step 2). opMeld is not truncated: ops that lie
// on only some paths stay in it.
func (m *PathMeld) Meld(pathVns []*Varnode, pathOps []*PcodeOp) {
	if len(m.commonVn) == 0 {
		m.commonVn = append([]*Varnode{}, pathVns...)
	} else {
		var kept []*Varnode
		for _, vn := range m.commonVn {
			for _, pv := range pathVns {
				if pv == vn {
					kept = append(kept, vn)
					break
				}
			}
		}
		m.commonVn = kept
	}
	depth := len(m.commonVn) - 1
	for _, op := range pathOps {
		if m.hasOp(op) {
			continue
		}
		m.opMeld = append(m.opMeld, meldedOp{op: op, commonDepth: depth})
	}
	sort.Slice(m.opMeld, func(i, j int) bool {
		oi, oj := m.opMeld[i].op, m.opMeld[j].op
		if oi.Parent != oj.Parent {
			return oi.Parent.ID < oj.Parent.ID
		}
		return oi.Seq.Less(oj.Seq)
	})
}

func (m *PathMeld) hasOp(op *PcodeOp) bool {
	for _, o := range m.opMeld {
		if o.op == op {
			return true
		}
	}
	return false
}

// NumOps returns the number of distinct ops melded across every path.
func (m *PathMeld) NumOps() int { return len(m.opMeld) }

// GetOp returns the i'th melded op, in (block, seq) order.
func (m *PathMeld) GetOp(i int) *PcodeOp { return m.opMeld[i].op }

// GetOpParent returns the block owning the i'th melded op.
func (m *PathMeld) GetOpParent(i int) *BlockBasic { return m.opMeld[i].op.Parent }

// IsLoadInPath reports whether the i'th melded op is a LOAD (spec §4.3.1
// step 4's "unless there's a LOAD on the path" tie-break).
func (m *PathMeld) IsLoadInPath(i int) bool { return m.opMeld[i].op.Opc == OpLoad }

// CommonVn returns the intersection of Varnodes common to every back-path.
func (m *PathMeld) CommonVn() []*Varnode { return m.commonVn }

// GetEarliestOp returns the melded op with the lowest (block, seq), the
// earliest point every back-path has passed through.
func (m *PathMeld) GetEarliestOp() *PcodeOp {
	if len(m.opMeld) == 0 {
		return nil
	}
	return m.opMeld[0].op
}

// MarkPaths reports whether every back-path from val (starting at
// commonVn[startVarnodeIdx]) stays within the melded op set — used when
// deciding whether a guard's CBRANCH can be folded into the jump table
// (spec §4.3.1 step 10).
func (m *PathMeld) MarkPaths(val *Varnode, startVarnodeIdx int) bool {
	if startVarnodeIdx < 0 || startVarnodeIdx >= len(m.commonVn) {
		return false
	}
	seen := map[*Varnode]bool{}
	var walk func(*Varnode) bool
	walk = func(vn *Varnode) bool {
		if vn == nil || seen[vn] {
			return true
		}
		seen[vn] = true
		if vn == val {
			return true
		}
		if vn.Flags.Has(VnConstant) {
			return true
		}
		if vn.Def == nil {
			return false
		}
		if !m.hasOp(vn.Def) {
			return false
		}
		for _, in := range vn.Def.In {
			if !walk(in) {
				return false
			}
		}
		return true
	}
	return walk(m.commonVn[startVarnodeIdx])
}

// findDeterminingVarnodes performs the back-DFS of spec §4.3.1 step 1: walk
// back from start, accumulating a path until a "pruning frontier" (a
// constant, annotation, free/input Varnode, or a call/marker-defined
// Varnode) is reached. A path ending at any other frontier is melded into
// meld with its Varnodes as commonVn candidates; a path ending at a constant
// or annotation contributes only its ops. If no path yields a candidate,
// start is the sole commonVn.
func findDeterminingVarnodes(start *Varnode, maxDepth int) *PathMeld {
	meld := &PathMeld{}
	var path []*Varnode
	var ops []*PcodeOp
	seen := map[*Varnode]bool{}

	var walk func(vn *Varnode, depth int)
	walk = func(vn *Varnode, depth int) {
		if vn == nil || seen[vn] {
			return
		}
		seen[vn] = true
		if vn.Flags.Has(VnConstant) || vn.Flags.Has(VnAnnotation) {
			meld.Meld(append([]*Varnode{}, meld.commonVn...), append([]*PcodeOp{}, ops...))
			return
		}
		path = append(path, vn)
		if isPruningFrontier(vn) || depth >= maxPathDepth(maxDepth) {
			meld.Meld(append([]*Varnode{}, path...), append([]*PcodeOp{}, ops...))
			path = path[:len(path)-1]
			return
		}
		ops = append(ops, vn.Def)
		for _, in := range vn.Def.In {
			walk(in, depth+1)
		}
		ops = ops[:len(ops)-1]
		path = path[:len(path)-1]
	}
	walk(start, 0)
	if len(meld.commonVn) == 0 {
		meld.commonVn = []*Varnode{start}
	}
	return meld
}

func maxPathDepth(requested int) int {
	if requested <= 0 {
		return 64
	}
	return requested
}

// isPruningFrontier reports whether vn is a point where findDeterminingVarnodes
// stops walking back: a constant, an annotation, a free/input Varnode (no
// defining op), or one defined by a call or marker op (spec §4.3.1 step 1).
func isPruningFrontier(vn *Varnode) bool {
	if vn.Flags.Has(VnConstant) || vn.Flags.Has(VnAnnotation) {
		return true
	}
	if vn.Def == nil {
		return true
	}
	if vn.Def.Opc.IsCall() || vn.Def.Opc.IsMarker() {
		return true
	}
	return false
}

// GuardRecord is one CBRANCH-boundary range restriction discovered while
// walking up from the BRANCHIND toward the function entry (spec §4.3.1
// step 3). Range is always a private copy: CircleRange has value semantics
// and two GuardRecords must never alias one another's range (spec §5
// "CircleRange values must be copied on entry to GuardRecord").
type GuardRecord struct {
	Cbranch      *PcodeOp
	ReadOp       *PcodeOp
	Indpath      int
	Indpathstore bool
	Range        *valueset.CircleRange
	Vn           *Varnode
	BaseVn       *Varnode // quasi-copy base, or Vn itself if no quasi-copy
	BitsPreserved int
	Unrolled     bool
}

// Copy returns a GuardRecord holding a private copy of Range, so a caller
// assembling several candidate guards never shares range state between them.
func (g *GuardRecord) Copy() *GuardRecord {
	cp := *g
	if g.Range != nil {
		cp.Range = g.Range.Copy()
	}
	return &cp
}

// analyzeGuards walks up at most two CBRANCH boundaries dominating block,
// pulling the controlling Varnode's range back through at most two
// operations via CircleRange.PullBack, and records a GuardRecord per
// boundary (spec §4.3.1 step 3). A guard is marked Unrolled when the block
// below it has two or more predecessors and each of them ends in some
// CBRANCH; the CBRANCHes are not compared with each other.
func (f *Function) analyzeGuards(block *BlockBasic, pathout int) []*GuardRecord {
	var guards []*GuardRecord
	cur := block
	for steps := 0; steps < 2 && cur != nil && cur.idom != nil; steps++ {
		parent := cur.idom
		cbranch := lastCbranch(parent)
		if cbranch == nil {
			cur = parent
			continue
		}
		g := buildGuardFromCbranch(cbranch, pathout)
		if g != nil {
			if allPredsShareGuard(cur, cbranch) {
				g.Unrolled = true
			}
			guards = append(guards, g)
		}
		cur = parent
	}
	return guards
}

func lastCbranch(b *BlockBasic) *PcodeOp {
	for i := len(b.Ops) - 1; i >= 0; i-- {
		if b.Ops[i].Opc == OpCbranch {
			return b.Ops[i]
		}
	}
	return nil
}

// buildGuardFromCbranch pulls the CBRANCH's controlling Varnode back
// through at most two operations, producing a CircleRange restriction on
// the upstream value (spec §4.3.1 step 3).
func buildGuardFromCbranch(cbranch *PcodeOp, pathout int) *GuardRecord {
	if len(cbranch.In) == 0 {
		return nil
	}
	cond := cbranch.In[0]
	vn, rng, steps := cond, valueset.NewMasked(max1(cond.Size)), 0
	base := vn
	bits := vn.Size * 8
	for steps < 2 && vn.Def != nil {
		op, kind, ok := toPullbackOp(vn.Def.Opc)
		if !ok {
			break
		}
		constIdx, constVal, ok := constOperand(vn.Def)
		if !ok {
			break
		}
		rng = rng.PullBack(kind, constVal, constIdx == 0)
		if len(vn.Def.In) == 2 {
			other := vn.Def.In[1]
			if constIdx == 1 {
				other = vn.Def.In[0]
			}
			if other != nil {
				vn = other
			}
		}
		steps++
	}
	return &GuardRecord{
		Cbranch: cbranch, ReadOp: vn.Def, Indpath: pathout,
		Range: rng, Vn: vn, BaseVn: base, BitsPreserved: bits,
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func toPullbackOp(opc Opcode) (Opcode, valueset.OpKind, bool) {
	switch opc {
	case OpIntAdd:
		return opc, valueset.OpIntAdd, true
	case OpIntSub:
		return opc, valueset.OpIntSub, true
	case OpIntMult:
		return opc, valueset.OpIntMult, true
	case OpIntAnd:
		return opc, valueset.OpIntAnd, true
	default:
		return opc, 0, false
	}
}

func constOperand(op *PcodeOp) (idx int, val uint64, ok bool) {
	for i, in := range op.In {
		if in != nil && in.Flags.Has(VnConstant) {
			return i, in.Addr.Offset, true
		}
	}
	return 0, 0, false
}

// allPredsShareGuard reports whether join has at least two predecessors and
// every one of them contains a CBRANCH, the condition for emitting an
// Unrolled guard (spec §4.3.1 step 3). cbranch is not compared against the
// predecessors' CBRANCHes.
func allPredsShareGuard(join *BlockBasic, cbranch *PcodeOp) bool {
	if len(join.Preds) < 2 {
		return false
	}
	for _, e := range join.Preds {
		if lastCbranch(e.B) == nil {
			return false
		}
	}
	return true
}
