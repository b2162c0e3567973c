package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverrideModelRecoverModelUsesDeclaredTable(t *testing.T) {
	f := NewFunction("f", nil)

	loadOp := NewOp(OpLoad, SeqNum{Order: 1})
	loadOp.AppendInput(&Varnode{Flags: VnConstant})
	loadOp.AppendInput(&Varnode{Flags: VnConstant})
	loadOut := &Varnode{Size: 4}
	loadOp.SetOutput(loadOut)

	addOp := NewOp(OpIntAdd, SeqNum{Order: 2})
	addOp.AppendInput(loadOut)
	addOp.AppendInput(&Varnode{Flags: VnConstant})
	addOut := &Varnode{Size: 4}
	addOp.SetOutput(addOut)

	multOp := NewOp(OpIntMult, SeqNum{Order: 3})
	multOp.AppendInput(addOut)
	multOp.AppendInput(&Varnode{Flags: VnConstant})
	multOut := &Varnode{Size: 4}
	multOp.SetOutput(multOut)

	op := NewOp(OpBranchind, SeqNum{Addr: Address{Offset: 0x400}})
	op.AppendInput(multOut)
	f.RegisterOverride(op.Seq.Addr, []uint64{0x10, 0x20})

	jt := NewJumpTable(op)
	m := &overrideModel{}
	require.NoError(t, m.recoverModel(f, jt))
	require.Equal(t, []uint64{0x10, 0x20}, m.declared)
	require.Same(t, multOut, m.normVn)
}

func TestOverrideModelRecoverModelFailsWithNoDeclaration(t *testing.T) {
	f := NewFunction("f", nil)
	op := NewOp(OpBranchind, SeqNum{Addr: Address{Offset: 0x400}})
	jt := NewJumpTable(op)

	m := &overrideModel{}
	require.Error(t, m.recoverModel(f, jt))
}

func TestLikelyNormVnFindsLoadAddMultChain(t *testing.T) {
	loadOp := NewOp(OpLoad, SeqNum{Order: 1})
	loadOut := &Varnode{Size: 4}
	loadOp.SetOutput(loadOut)

	addOp := NewOp(OpIntAdd, SeqNum{Order: 2})
	addOp.AppendInput(loadOut)
	addOp.AppendInput(&Varnode{Flags: VnConstant})
	addOut := &Varnode{Size: 4}
	addOp.SetOutput(addOut)

	multOp := NewOp(OpIntMult, SeqNum{Order: 3})
	multOp.AppendInput(addOut)
	multOp.AppendInput(&Varnode{Flags: VnConstant})
	multOut := &Varnode{Size: 4}
	multOp.SetOutput(multOut)

	meld := &PathMeld{}
	meld.Meld(nil, []*PcodeOp{loadOp, addOp, multOp})

	require.Same(t, multOut, likelyNormVn(meld))
}

func TestLikelyNormVnNilWhenNoChainPresent(t *testing.T) {
	copyOp := NewOp(OpCopy, SeqNum{Order: 1})
	out := &Varnode{Size: 4}
	copyOp.SetOutput(out)
	meld := &PathMeld{}
	meld.Meld(nil, []*PcodeOp{copyOp})

	require.Nil(t, likelyNormVn(meld))
	require.Nil(t, likelyNormVn(nil))
}

func TestOverrideModelBuildAddressesUsesDeclaredVerbatim(t *testing.T) {
	m := &overrideModel{declared: []uint64{1, 2, 3}}
	jt := &JumpTable{}
	require.NoError(t, m.buildAddresses(nil, jt))
	require.Equal(t, []uint64{1, 2, 3}, jt.AddressTable)
}

// TestOverrideModelTrialNormProbesPastDeclaredTable exercises trialNorm's
// "100 + table size" margin (spec §4.3.3): once the declared table is
// exhausted, further index values are emulated against the image and
// appended until the first miss.
func TestOverrideModelTrialNormProbesPastDeclaredTable(t *testing.T) {
	f := NewFunction("f", nil)
	f.Image = &fakeImage{data: map[uint64]uint64{0x2010: 0x403000, 0x2018: 0x404000}}

	base := &Varnode{Size: 8, Flags: VnConstant, Addr: Address{Offset: 0x2000}}
	idx := &Varnode{Size: 8}
	scale := &Varnode{Size: 8, Flags: VnConstant, Addr: Address{Offset: 8}}

	mulOp := NewOp(OpIntMult, SeqNum{Order: 1})
	mulOp.AppendInput(idx)
	mulOp.AppendInput(scale)
	scaled := &Varnode{Size: 8}
	mulOp.SetOutput(scaled)

	addOp := NewOp(OpIntAdd, SeqNum{Order: 2})
	addOp.AppendInput(base)
	addOp.AppendInput(scaled)
	addrVn := &Varnode{Size: 8}
	addOp.SetOutput(addrVn)

	loadOp := NewOp(OpLoad, SeqNum{Order: 3})
	loadOp.AppendInput(base)
	loadOp.AppendInput(addrVn)
	dest := &Varnode{Size: 8}
	loadOp.SetOutput(dest)

	op := NewOp(OpBranchind, SeqNum{Addr: Address{Offset: 0x400}})
	op.AppendInput(dest)
	jt := NewJumpTable(op)

	m := &overrideModel{
		declared: []uint64{0x401000, 0x402000},
		normVn:   idx,
		meld:     &PathMeld{},
	}
	m.meld.Meld(nil, []*PcodeOp{mulOp, addOp, loadOp})

	require.NoError(t, m.buildAddresses(f, jt))
	require.Equal(t, []uint64{0x401000, 0x402000, 0x403000, 0x404000}, jt.AddressTable)
}

func TestOverrideModelSanityCheckFailsOnEmptyTable(t *testing.T) {
	m := &overrideModel{}
	jt := &JumpTable{}
	require.Error(t, m.sanityCheck(nil, jt))
}

func TestOverrideModelCloneModelCopiesDeclared(t *testing.T) {
	m := &overrideModel{declared: []uint64{9}}
	clone := m.cloneModel().(*overrideModel)
	require.Equal(t, m.declared, clone.declared)
}
