package pcode

// This file implements VariableGroup and VariablePiece (spec §GLOSSARY,
// §4.4 step 3 groupPartials): a cluster of overlapping HighVariables
// sharing one address range, partitioned by byte offset, plus the
// PieceNode walk that discovers a CONCAT/PIECE tree's leaves.

// VariablePiece is one HighVariable's slot within a VariableGroup, at a
// given byte offset from the group's base.
type VariablePiece struct {
	High   *HighVariable
	Offset int
}

// VariableGroup is a set of HighVariables known to jointly cover one
// overlapping-variables address range (spec §4.4 step 3).
type VariableGroup struct {
	Pieces []VariablePiece
}

// NewVariableGroup allocates an empty group.
func NewVariableGroup() *VariableGroup { return &VariableGroup{} }

// pieceAt returns the piece at the given offset, or nil.
func (g *VariableGroup) pieceAt(offset int) *VariablePiece {
	for i := range g.Pieces {
		if g.Pieces[i].Offset == offset {
			return &g.Pieces[i]
		}
	}
	return nil
}

// repoint rewrites every piece referencing old to instead reference replacement,
// used when two grouped HighVariables merge and one absorbs the other (spec
// §4.4 step 3's HighVariable.merge "both-groups" case).
func (g *VariableGroup) repoint(old, replacement *HighVariable) {
	for i := range g.Pieces {
		if g.Pieces[i].High == old {
			g.Pieces[i].High = replacement
		}
	}
}

// PieceNode is one node of a CONCAT (PIECE) tree being walked to discover
// its leaves (spec §4.4 step 3's PieceNode.gatherPieces).
type PieceNode struct {
	Vn     *Varnode
	Offset int // byte offset of Vn within the root CONCAT's combined value
}

// gatherPieces walks a PIECE tree rooted at root (the output of a chain of
// PIECE ops), returning every leaf Varnode with its offset within the
// combined value. A non-PIECE-defined Varnode is itself a leaf at offset 0.
func gatherPieces(root *Varnode) []PieceNode {
	var leaves []PieceNode
	var walk func(vn *Varnode, offset int)
	walk = func(vn *Varnode, offset int) {
		if vn == nil {
			return
		}
		if vn.Def != nil && vn.Def.Opc == OpPiece && len(vn.Def.In) == 2 {
			hi, lo := vn.Def.In[0], vn.Def.In[1]
			if lo != nil {
				walk(lo, offset)
			}
			if hi != nil {
				walk(hi, offset+lo.Size)
			}
			return
		}
		leaves = append(leaves, PieceNode{Vn: vn, Offset: offset})
	}
	walk(root, 0)
	return leaves
}

// isSingleInstanceProtoPartial reports whether vn's HighVariable (if any)
// has exactly one instance and is flagged proto-partial — the condition
// groupPartials requires of every piece before forming a VariableGroup
// (spec §4.4 step 3).
func isSingleInstanceProtoPartial(vn *Varnode) bool {
	if !vn.Flags.Has(VnProtoPartial) {
		return false
	}
	h := vn.High()
	return h == nil || len(h.Instances) == 1
}
