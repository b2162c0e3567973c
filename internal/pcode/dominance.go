package pcode

// This file computes the dominator tree of a Function's block graph and
// the augmented dominance frontier (ADT) used for incremental MULTIEQUAL
// placement. The postorder/intersect shape is ported from the teacher's
// dom.go (itself the Go compiler's ssa package dominance code), rewritten
// against BlockBasic instead of *ssa.Block.

// postorder computes a DFS postorder over reachable blocks from entry.
func postorder(entry *BlockBasic, numBlocks int) []*BlockBasic {
	seen := make([]bool, numBlocks)
	order := make([]*BlockBasic, 0, numBlocks)

	type frame struct {
		b   *BlockBasic
		idx int
	}
	stack := []frame{{b: entry}}
	seen[entry.ID] = true
	for len(stack) > 0 {
		top := len(stack) - 1
		f := &stack[top]
		if f.idx < len(f.b.Succs) {
			succ := f.b.Succs[f.idx].B
			f.idx++
			if !seen[succ.ID] {
				seen[succ.ID] = true
				stack = append(stack, frame{b: succ})
			}
			continue
		}
		stack = stack[:top]
		order = append(order, f.b)
	}
	return order
}

// intersect finds the closest common dominator of b and c using a
// postorder numbering (Cooper-Harvey-Kennedy "simple, fast" algorithm).
func intersect(b, c *BlockBasic, postnum []int) *BlockBasic {
	for b != c {
		for postnum[b.ID] < postnum[c.ID] {
			b = b.idom
		}
		for postnum[c.ID] < postnum[b.ID] {
			c = c.idom
		}
	}
	return b
}

// buildDominatorTree computes idom and domDepth for every reachable block,
// entry first. It is the iterative fixpoint version of the Cooper-Harvey-
// Kennedy algorithm: iterate reverse-postorder until no idom changes.
func buildDominatorTree(entry *BlockBasic, numBlocks int) {
	po := postorder(entry, numBlocks)
	postnum := make([]int, numBlocks)
	for i, b := range po {
		postnum[b.ID] = i
		b.idom = nil
	}
	entry.idom = entry

	changed := true
	for changed {
		changed = false
		// reverse postorder, skipping entry
		for i := len(po) - 2; i >= 0; i-- {
			b := po[i]
			var newIdom *BlockBasic
			for _, e := range b.Preds {
				p := e.B
				if p.idom == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = intersect(newIdom, p, postnum)
				}
			}
			if newIdom != nil && b.idom != newIdom {
				b.idom = newIdom
				changed = true
			}
		}
	}
	entry.idom = nil // entry has no dominator
	entry.domDepth = 0
	for i := len(po) - 2; i >= 0; i-- {
		b := po[i]
		if b.idom != nil {
			b.domDepth = b.idom.domDepth + 1
		}
	}
	for i, b := range po {
		b.dfsIndex = i
	}
}

// buildADT computes the augmented dominator tree used for incremental
// MULTIEQUAL placement (spec §4.2.2 step 1): the plain dominator-tree
// children plus, per Sreedhar-Gao, "boundary" marking of join points so a
// later incremental heritage pass can re-run phi placement only from the
// affected frontier instead of the whole function.
func buildADT(f *Function) {
	blocks := f.Blocks
	for _, b := range blocks {
		b.adtChildren = nil
		b.isBoundary = len(b.Preds) > 1
	}
	for _, b := range blocks {
		if b.idom != nil {
			b.idom.adtChildren = append(b.idom.adtChildren, b)
		}
	}
	f.adtStale = false
}
