package pcode

// Edge is a directed control-flow edge with a reverse index back into the
// other endpoint's edge list, per spec §3's "reverse indices".
type Edge struct {
	B         *BlockBasic
	ReverseIx int
}

// BlockBasic holds an ordered op list and in/out edges with reverse
// indices, an immediate dominator, and a DFS (postorder) index — the
// external block graph spec §3 says the core consumes.
type BlockBasic struct {
	ID    int
	Ops   []*PcodeOp
	Preds []Edge
	Succs []Edge

	idom     *BlockBasic
	domDepth int
	dfsIndex int // postorder index, see dominance.go

	// augmented dominance-frontier edges used for incremental MULTIEQUAL
	// placement (Sreedhar-Gao), populated by buildADT.
	adtChildren []*BlockBasic
	isBoundary  bool
}

// AddOp appends op to the end of the block's op list and sets op.Parent.
func (b *BlockBasic) AddOp(op *PcodeOp) {
	op.Parent = b
	b.Ops = append(b.Ops, op)
}

// InsertOpBefore inserts op immediately before ref in the block's op list.
func (b *BlockBasic) InsertOpBefore(op, ref *PcodeOp) {
	op.Parent = b
	idx := b.indexOf(ref)
	if idx < 0 {
		b.Ops = append(b.Ops, op)
		return
	}
	b.Ops = append(b.Ops, nil)
	copy(b.Ops[idx+1:], b.Ops[idx:])
	b.Ops[idx] = op
}

// InsertMultiequal inserts op at the front of the block's op list, after
// any existing MULTIEQUAL ops, matching the invariant that MULTIEQUALs are
// always the first ops in a block (spec §3).
func (b *BlockBasic) InsertMultiequal(op *PcodeOp) {
	op.Parent = b
	i := 0
	for i < len(b.Ops) && b.Ops[i].Opc == OpMultiequal {
		i++
	}
	b.Ops = append(b.Ops, nil)
	copy(b.Ops[i+1:], b.Ops[i:])
	b.Ops[i] = op
}

// RemoveOp detaches op's Varnode links and removes it from the block.
func (b *BlockBasic) RemoveOp(op *PcodeOp) {
	op.Detach()
	idx := b.indexOf(op)
	if idx >= 0 {
		b.Ops = append(b.Ops[:idx], b.Ops[idx+1:]...)
	}
}

func (b *BlockBasic) indexOf(op *PcodeOp) int {
	for i, o := range b.Ops {
		if o == op {
			return i
		}
	}
	return -1
}

// AddEdge links from->to, recording reverse indices on both sides.
func AddEdge(from, to *BlockBasic) {
	fromIx := len(from.Succs)
	toIx := len(to.Preds)
	from.Succs = append(from.Succs, Edge{B: to, ReverseIx: toIx})
	to.Preds = append(to.Preds, Edge{B: from, ReverseIx: fromIx})
}

// Idom returns b's immediate dominator, or nil for the entry block.
func (b *BlockBasic) Idom() *BlockBasic { return b.idom }

// Dominates reports whether b dominates o (reflexive).
func (b *BlockBasic) Dominates(o *BlockBasic) bool {
	for cur := o; cur != nil; cur = cur.idom {
		if cur == b {
			return true
		}
	}
	return false
}
