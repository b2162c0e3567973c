package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrivialModelRecoverModelFailsWithNoSuccessors(t *testing.T) {
	block := &BlockBasic{}
	op := NewOp(OpBranchind, SeqNum{Order: 1})
	block.AddOp(op)
	jt := NewJumpTable(op)

	m := &trivialModel{}
	require.Error(t, m.recoverModel(nil, jt))
}

func TestTrivialModelRecoverModelCapturesSwitchvn(t *testing.T) {
	block := &BlockBasic{}
	succ := &BlockBasic{}
	block.Succs = []Edge{{B: succ}, {B: succ}}
	switchVn := &Varnode{Size: 4}
	op := NewOp(OpBranchind, SeqNum{Order: 1})
	op.AppendInput(switchVn)
	block.AddOp(op)
	jt := NewJumpTable(op)

	m := &trivialModel{}
	require.NoError(t, m.recoverModel(nil, jt))
	require.Same(t, switchVn, m.switchVn)
	require.Same(t, switchVn, jt.Switchvn)
}

func TestTrivialModelBuildAddressesOneEntryPerSuccessor(t *testing.T) {
	block := &BlockBasic{}
	succ := &BlockBasic{}
	block.Succs = []Edge{{B: succ}, {B: succ}, {B: succ}}
	op := NewOp(OpBranchind, SeqNum{Order: 1})
	block.AddOp(op)
	jt := NewJumpTable(op)

	m := &trivialModel{}
	require.NoError(t, m.buildAddresses(nil, jt))
	require.Equal(t, []uint64{0, 1, 2}, jt.AddressTable)
}

func TestTrivialModelBuildLabelsMatchesAddressTableLength(t *testing.T) {
	jt := &JumpTable{AddressTable: []uint64{0, 1, 2}}
	m := &trivialModel{}
	m.buildLabels(nil, jt)
	require.Equal(t, []uint64{0, 1, 2}, jt.Labels)
}

func TestTrivialModelSanityCheckFailsOnEmptyTable(t *testing.T) {
	m := &trivialModel{}
	require.Error(t, m.sanityCheck(nil, &JumpTable{}))
	require.NoError(t, m.sanityCheck(nil, &JumpTable{AddressTable: []uint64{0}}))
}

func TestTrivialModelCloneModelCopiesSwitchvn(t *testing.T) {
	switchVn := &Varnode{Size: 4}
	m := &trivialModel{switchVn: switchVn}
	clone := m.cloneModel().(*trivialModel)
	require.Same(t, switchVn, clone.switchVn)
}
