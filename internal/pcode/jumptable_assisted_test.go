package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func branchindWithCallother(userOp uint64) *PcodeOp {
	callother := NewOp(OpCallother, SeqNum{Order: 1})
	callother.AppendInput(&Varnode{Flags: VnConstant, Addr: Address{Offset: userOp}})
	out := &Varnode{Size: 4}
	callother.SetOutput(out)

	branchind := NewOp(OpBranchind, SeqNum{Order: 2})
	branchind.AppendInput(out)
	return branchind
}

func TestJumpAssistForFindsRegisteredUserOp(t *testing.T) {
	f := NewFunction("f", nil)
	assist := JumpAssist{Index2Addr: func(f *Function, i uint64) (uint64, error) { return i, nil }}
	f.RegisterJumpAssist(7, assist)

	op := branchindWithCallother(7)
	a, ok := jumpAssistFor(f, op)
	require.True(t, ok)
	require.NotNil(t, a.Index2Addr)
}

func TestJumpAssistForMissesUnregisteredUserOp(t *testing.T) {
	f := NewFunction("f", nil)
	op := branchindWithCallother(9)
	_, ok := jumpAssistFor(f, op)
	require.False(t, ok)
}

func TestAssistedModelRecoverModelUsesSizePcode(t *testing.T) {
	f := NewFunction("f", nil)
	assist := JumpAssist{
		SizePcode:  func(f *Function) (int, bool) { return 3, true },
		Index2Addr: func(f *Function, i uint64) (uint64, error) { return 0x1000 + i*4, nil },
	}
	f.RegisterJumpAssist(1, assist)
	op := branchindWithCallother(1)
	jt := NewJumpTable(op)

	m := &assistedModel{}
	require.NoError(t, m.recoverModel(f, jt))
	require.Equal(t, 3, m.size)
}

func TestAssistedModelBuildAddressesStopsAtFirstError(t *testing.T) {
	m := &assistedModel{size: 5, assist: JumpAssist{
		Index2Addr: func(f *Function, i uint64) (uint64, error) {
			if i >= 2 {
				return 0, errStub
			}
			return 0x2000 + i, nil
		},
	}}
	jt := &JumpTable{}
	require.NoError(t, m.buildAddresses(nil, jt))
	require.Equal(t, []uint64{0x2000, 0x2001}, jt.AddressTable)
}

func TestAssistedModelBuildAddressesAppendsDefault(t *testing.T) {
	m := &assistedModel{size: 2, assist: JumpAssist{
		Index2Addr:  func(f *Function, i uint64) (uint64, error) { return 0x3000 + i, nil },
		DefaultAddr: func(f *Function) (uint64, bool) { return 0x9999, true },
	}}
	jt := &JumpTable{}
	require.NoError(t, m.buildAddresses(nil, jt))
	require.Equal(t, []uint64{0x3000, 0x3001, 0x9999}, jt.AddressTable)
	require.Equal(t, 2, jt.DefaultIndex)
}

func TestAssistedModelBuildLabelsUsesIndex2Case(t *testing.T) {
	m := &assistedModel{assist: JumpAssist{
		Index2Case: func(f *Function, i uint64) (uint64, bool) {
			if i == 1 {
				return 42, true
			}
			return 0, false
		},
	}}
	jt := &JumpTable{AddressTable: []uint64{0x10, 0x20}}
	m.buildLabels(nil, jt)
	require.Equal(t, []uint64{noCaseLabel, 42}, jt.Labels)
}

type stubErr struct{}

func (stubErr) Error() string { return "stub" }

var errStub = stubErr{}
