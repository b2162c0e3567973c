package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsgates/decompiler-sub003/internal/valueset"
)

func TestIsConstCopyAcceptsBareConstant(t *testing.T) {
	require.True(t, isConstCopy(&Varnode{Flags: VnConstant}))
}

func TestIsConstCopyAcceptsCopyOfConstant(t *testing.T) {
	c := &Varnode{Flags: VnConstant}
	op := NewOp(OpCopy, SeqNum{Order: 1})
	op.AppendInput(c)
	out := &Varnode{}
	op.SetOutput(out)

	require.True(t, isConstCopy(out))
}

func TestIsConstCopyRejectsNonConstant(t *testing.T) {
	require.False(t, isConstCopy(&Varnode{Flags: VnInput}))
	require.False(t, isConstCopy(nil))
}

// TestFindConstCopyMultiequalFindsConstSideAndOtherSide is spec §8 scenario
// D's Basic2 shape: a MULTIEQUAL joining a constant default with the main
// recovered path.
func TestFindConstCopyMultiequalFindsConstSideAndOtherSide(t *testing.T) {
	constSide := &Varnode{Flags: VnConstant, Addr: Address{Offset: 0x99}}
	otherSide := &Varnode{Flags: VnInput}

	join := NewOp(OpMultiequal, SeqNum{Order: 1})
	join.AppendInput(constSide)
	join.AppendInput(otherSide)
	out := &Varnode{}
	join.SetOutput(out)

	j, c, o := findConstCopyMultiequal(out)
	require.Same(t, join, j)
	require.Same(t, constSide, c)
	require.Same(t, otherSide, o)
}

func TestFindConstCopyMultiequalNilWhenNoMultiequalInPath(t *testing.T) {
	copyOp := NewOp(OpCopy, SeqNum{Order: 1})
	in := &Varnode{Flags: VnInput}
	copyOp.AppendInput(in)
	out := &Varnode{}
	copyOp.SetOutput(out)

	j, _, _ := findConstCopyMultiequal(out)
	require.Nil(t, j)
}

// TestBasic2ModelBuildAddressesAppendsEmulatedDefault is spec §8 scenario
// D: the constant default side of the MULTIEQUAL emulates to its own
// destination address, appended after the main range and marked as the
// table's default entry.
func TestBasic2ModelBuildAddressesAppendsEmulatedDefault(t *testing.T) {
	f := NewFunction("f", nil)
	f.Image = &fakeImage{data: map[uint64]uint64{0x2000: 0x401000, 0x2008: 0x402000}}

	base := &Varnode{Size: 8, Flags: VnConstant, Addr: Address{Offset: 0x2000}}
	idx := &Varnode{Size: 8}

	addOp := NewOp(OpIntAdd, SeqNum{Order: 1})
	addOp.AppendInput(base)
	addOp.AppendInput(idx)
	addrVn := &Varnode{Size: 8}
	addOp.SetOutput(addrVn)

	loadOp := NewOp(OpLoad, SeqNum{Order: 2})
	loadOp.AppendInput(base)
	loadOp.AppendInput(addrVn)
	dest := &Varnode{Size: 8}
	loadOp.SetOutput(dest)

	meld := &PathMeld{commonVn: []*Varnode{idx}}
	meld.Meld(nil, []*PcodeOp{addOp, loadOp})

	var bm basicModel
	bm.meld = meld
	bm.jrange = valueset.NewSpan(8, 0, 1, 1)
	bm.startVn = idx
	bm.destVn = dest
	bm.switchVn = idx

	m := &basic2Model{basicModel: bm, extraValue: 8, hasExtraValue: true}
	jt := &JumpTable{MaxTableSize: defaultMaxTableSize}
	require.NoError(t, m.buildAddresses(f, jt))
	require.Len(t, jt.AddressTable, 2)
	require.Equal(t, uint64(0x401000), jt.AddressTable[0])
	require.Equal(t, 1, jt.DefaultIndex)
	require.Equal(t, uint64(0x402000), jt.AddressTable[1])
}

func TestBasic2ModelBuildLabelsAppendsNoCaseLabelForDefault(t *testing.T) {
	var base basicModel
	base.jrange = valueset.NewSpan(4, 0, 2, 1)
	base.switchVn = &Varnode{Size: 4}
	m := &basic2Model{basicModel: base, extraValue: 9, hasExtraValue: true}

	jt := &JumpTable{}
	m.buildLabels(nil, jt)
	require.Equal(t, []uint64{0, 1, noCaseLabel}, jt.Labels)
}

func TestBasic2ModelCloneModelCopiesRange(t *testing.T) {
	var base basicModel
	base.jrange = valueset.NewSpan(4, 0, 4, 1)
	m := &basic2Model{basicModel: base}

	clone := m.cloneModel().(*basic2Model)
	require.NotSame(t, m.jrange, clone.jrange)
	require.Equal(t, m.jrange.Count(), clone.jrange.Count())
}
