package pcode

import "sort"

// This file implements range refinement (spec §4.2.4): splitting a range
// whose Varnodes disagree on size along the boundary witnesses every
// overlapping Varnode contributes, collapsing degenerate 1+3/3+1
// partitions into a single 4-byte partition (the common byte-within-word
// access shape), then replacing every read/write/input Varnode with the
// refined sub-Varnodes.

const maxRefinementSize = 1024 // spec §4.2.6: refinement above this is abandoned for the pass

// refineRange splits r's Varnode traffic along every boundary any
// overlapping Varnode witnesses, unless the range exceeds
// maxRefinementSize (spec §4.2.6 failure mode), in which case refineRange
// is a no-op; placeMultiequals checks the same limit first and leaves such
// a range unheritaged for this pass.
func (f *Function) refineRange(space *AddrSpace, r MemRange, writers, readers, inputs []*Varnode) error {
	if r.Size > maxRefinementSize {
		return nil
	}
	witnesses := map[int]bool{0: true, r.Size: true}
	for _, group := range [][]*Varnode{writers, readers, inputs} {
		for _, vn := range group {
			off := int(vn.Addr.Offset - r.Addr.Offset)
			witnesses[off] = true
			witnesses[off+vn.Size] = true
		}
	}
	bounds := make([]int, 0, len(witnesses))
	for w := range witnesses {
		if w >= 0 && w <= r.Size {
			bounds = append(bounds, w)
		}
	}
	sort.Ints(bounds)
	partitions := remove13Refinement(boundsToSizes(bounds))

	for _, vn := range writers {
		f.splitWriteByRefinement(vn, space, r, partitions)
	}
	for _, vn := range readers {
		f.splitReadByRefinement(vn, space, r, partitions)
	}
	for _, vn := range inputs {
		f.splitInputByRefinement(vn, space, r, partitions)
	}
	return nil
}

func boundsToSizes(bounds []int) []int {
	sizes := make([]int, 0, len(bounds)-1)
	for i := 1; i < len(bounds); i++ {
		if bounds[i] > bounds[i-1] {
			sizes = append(sizes, bounds[i]-bounds[i-1])
		}
	}
	return sizes
}

// remove13Refinement collapses a 1-byte partition adjacent to a 3-byte
// partition (in either order) into a single 4-byte partition, the typical
// shape of a byte access within an otherwise-whole word (spec §4.2.4).
func remove13Refinement(sizes []int) []int {
	out := make([]int, 0, len(sizes))
	i := 0
	for i < len(sizes) {
		if i+1 < len(sizes) {
			a, b := sizes[i], sizes[i+1]
			if (a == 1 && b == 3) || (a == 3 && b == 1) {
				out = append(out, 4)
				i += 2
				continue
			}
		}
		out = append(out, sizes[i])
		i++
	}
	return out
}

// splitWriteByRefinement redefines a writer Varnode covering the whole
// range as a set of SUBPIECEs reading its value, one per partition (spec
// §4.2.4: "writes are defined via SUBPIECEs").
func (f *Function) splitWriteByRefinement(vn *Varnode, space *AddrSpace, r MemRange, partitions []int) {
	if vn.Size == shortestPartitionMatch(partitions, vn.Size) {
		return
	}
	offset := 0
	for _, sz := range partitions {
		sub := NewOp(OpSubpiece, SeqNum{Addr: r.Addr})
		out := f.Bank.Create(Address{Space: space, Offset: vn.Addr.Offset + uint64(offset)}, sz)
		sub.AppendInput(vn)
		sub.AppendInput(f.constantInput(space, uint64(offset)))
		sub.SetOutput(out)
		if vn.Def != nil {
			vn.Def.Parent.AddOp(sub)
		}
		offset += sz
	}
}

// splitReadByRefinement replaces a read of a partially-overlapping
// Varnode with a PIECE chain assembling the refined sub-Varnodes back into
// a single value at the read's use site (spec §4.2.4: "reads are replaced
// by a PIECE chain into a unique Varnode").
func (f *Function) splitReadByRefinement(vn *Varnode, space *AddrSpace, r MemRange, partitions []int) {
	if len(partitions) <= 1 {
		return
	}
	offset := 0
	var cur *Varnode
	for _, sz := range partitions {
		piece := f.Bank.Create(Address{Space: space, Offset: vn.Addr.Offset + uint64(offset)}, sz)
		if cur == nil {
			cur = piece
		} else {
			op := NewOp(OpPiece, SeqNum{Addr: r.Addr})
			out := f.Bank.Create(vn.Addr, cur.Size+piece.Size)
			op.AppendInput(piece)
			op.AppendInput(cur)
			op.SetOutput(out)
			cur = out
		}
		offset += sz
	}
	for _, reader := range append([]*PcodeOp{}, vn.Descend...) {
		for i, in := range reader.In {
			if in == vn {
				reader.SetInput(i, cur)
			}
		}
	}
}

// splitInputByRefinement splits an input Varnode by SUBPIECE, with the
// input acting as the source for each refined piece (spec §4.2.4).
func (f *Function) splitInputByRefinement(vn *Varnode, space *AddrSpace, r MemRange, partitions []int) {
	offset := 0
	for _, sz := range partitions {
		sub := NewOp(OpSubpiece, SeqNum{Addr: r.Addr})
		out := f.Bank.Create(Address{Space: space, Offset: vn.Addr.Offset + uint64(offset)}, sz)
		sub.AppendInput(vn)
		sub.AppendInput(f.constantInput(space, uint64(offset)))
		sub.SetOutput(out)
		if f.Entry != nil {
			f.Entry.AddOp(sub)
		}
		offset += sz
	}
}

func shortestPartitionMatch(partitions []int, size int) int {
	if len(partitions) == 1 {
		return partitions[0]
	}
	return -1
}

// constantSpace finds the function's constant AddrSpace, falling back to a
// detached one if the caller never registered one (tests exercising only a
// single-space range).
func (f *Function) constantSpace() *AddrSpace {
	for _, s := range f.Spaces {
		if s.Type == SpaceConstant {
			return s
		}
	}
	return &AddrSpace{Name: "const", Type: SpaceConstant, Index: -1}
}

func (f *Function) constantInput(space *AddrSpace, val uint64) *Varnode {
	vn := f.Bank.Create(Address{Space: f.constantSpace(), Offset: val}, 8)
	vn.Flags |= VnConstant | VnInput
	return vn
}
