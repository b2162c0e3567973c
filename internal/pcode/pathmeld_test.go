package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsgates/decompiler-sub003/internal/valueset"
)

func constVn(offset uint64, size int) *Varnode {
	return &Varnode{Addr: Address{Offset: offset}, Size: size, Flags: VnConstant}
}

func TestFindDeterminingVarnodesStopsAtConstant(t *testing.T) {
	c := constVn(7, 4)
	meld := findDeterminingVarnodes(c, 0)
	require.Contains(t, meld.CommonVn(), c)
}

// TestFindDeterminingVarnodesWalksThroughIntAnd is spec §8 scenario A: a
// switch-on-mask-0x7 pattern where the BRANCHIND input is defined by an
// INT_AND against a constant mask, fed by an input Varnode. The back-walk
// should pass through the AND and stop at the input Varnode.
func TestFindDeterminingVarnodesWalksThroughIntAnd(t *testing.T) {
	in := &Varnode{Addr: Address{Offset: 0x100}, Size: 4, Flags: VnInput}
	mask := constVn(7, 4)

	andOp := NewOp(OpIntAnd, SeqNum{Order: 1})
	andOp.AppendInput(in)
	andOp.AppendInput(mask)
	out := &Varnode{Addr: Address{Offset: 0x200}, Size: 4}
	andOp.SetOutput(out)

	meld := findDeterminingVarnodes(out, 0)
	require.Contains(t, meld.CommonVn(), in)
	require.True(t, meld.hasOp(andOp))
}

func TestMeldIntersectsCommonVarnodesAcrossPaths(t *testing.T) {
	shared := &Varnode{Addr: Address{Offset: 1}, Size: 4, Flags: VnInput}
	onlyFirst := &Varnode{Addr: Address{Offset: 2}, Size: 4, Flags: VnInput}

	m := NewPathMeld(shared)
	m.commonVn = nil
	m.Meld([]*Varnode{shared, onlyFirst}, nil)
	m.Meld([]*Varnode{shared}, nil)

	require.Equal(t, []*Varnode{shared}, m.CommonVn())
}

func TestMeldDeduplicatesOpsAndOrdersByBlockAndSeq(t *testing.T) {
	b0 := mkBlock(0)
	b1 := mkBlock(1)

	op1 := NewOp(OpCopy, SeqNum{Order: 5})
	b0.AddOp(op1)
	op2 := NewOp(OpCopy, SeqNum{Order: 1})
	b1.AddOp(op2)

	m := &PathMeld{}
	m.Meld(nil, []*PcodeOp{op2})
	m.Meld(nil, []*PcodeOp{op1, op2})

	require.Equal(t, 2, m.NumOps())
	require.Same(t, op1, m.GetOp(0))
	require.Same(t, op2, m.GetOp(1))
}

func TestIsPruningFrontierStopsAtConstantAnnotationAndMarker(t *testing.T) {
	require.True(t, isPruningFrontier(constVn(1, 4)))

	ann := &Varnode{Flags: VnAnnotation}
	require.True(t, isPruningFrontier(ann))

	free := &Varnode{}
	require.True(t, isPruningFrontier(free))

	markerOp := NewOp(OpMultiequal, SeqNum{Order: 1})
	out := &Varnode{}
	markerOp.SetOutput(out)
	require.True(t, isPruningFrontier(out))

	plain := &Varnode{}
	plainOp := NewOp(OpIntAdd, SeqNum{Order: 1})
	plainOp.SetOutput(plain)
	require.False(t, isPruningFrontier(plain))
}

func TestMarkPathsTrueWhenEveryBackpathStaysInMeld(t *testing.T) {
	in := &Varnode{Flags: VnInput}
	addOp := NewOp(OpIntAdd, SeqNum{Order: 1})
	addOp.AppendInput(in)
	addOp.AppendInput(constVn(1, 4))
	out := &Varnode{}
	addOp.SetOutput(out)

	m := &PathMeld{commonVn: []*Varnode{out}}
	m.opMeld = []meldedOp{{op: addOp}}

	require.True(t, m.MarkPaths(in, 0))
}

func TestMarkPathsFalseWhenPathLeavesMeld(t *testing.T) {
	in := &Varnode{Flags: VnInput}
	addOp := NewOp(OpIntAdd, SeqNum{Order: 1})
	addOp.AppendInput(in)
	out := &Varnode{}
	addOp.SetOutput(out)

	m := &PathMeld{commonVn: []*Varnode{out}}
	require.False(t, m.MarkPaths(in, 0))
}

func TestBuildGuardFromCbranchPullsBackThroughIntAdd(t *testing.T) {
	in := &Varnode{Size: 4}
	addOp := NewOp(OpIntAdd, SeqNum{Order: 1})
	addOp.AppendInput(in)
	addOp.AppendInput(constVn(3, 4))
	cond := &Varnode{Size: 4}
	addOp.SetOutput(cond)

	cbranch := NewOp(OpCbranch, SeqNum{Order: 2})
	cbranch.AppendInput(cond)

	g := buildGuardFromCbranch(cbranch, 1)
	require.NotNil(t, g)
	require.Same(t, cbranch, g.Cbranch)
	require.Same(t, in, g.Vn)
	require.Equal(t, 1, g.Indpath)
}

func TestBuildGuardFromCbranchNilWithNoInputs(t *testing.T) {
	cbranch := NewOp(OpCbranch, SeqNum{Order: 1})
	require.Nil(t, buildGuardFromCbranch(cbranch, 0))
}

func TestGuardRecordCopyDoesNotAliasRange(t *testing.T) {
	g := &GuardRecord{Range: valueset.NewSpan(4, 0, 8, 1)}
	cp := g.Copy()
	require.NotSame(t, g.Range, cp.Range)
	require.Equal(t, g.Range.Count(), cp.Range.Count())
}

func TestLastCbranchFindsTrailingConditionalBranch(t *testing.T) {
	b := mkBlock(0)
	b.AddOp(NewOp(OpCopy, SeqNum{Order: 1}))
	cbranch := NewOp(OpCbranch, SeqNum{Order: 2})
	b.AddOp(cbranch)

	require.Same(t, cbranch, lastCbranch(b))
}

func TestLastCbranchNilWhenAbsent(t *testing.T) {
	b := mkBlock(0)
	b.AddOp(NewOp(OpCopy, SeqNum{Order: 1}))
	require.Nil(t, lastCbranch(b))
}
