package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardInputCreatesInputWhenNoneExist(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}

	var inputs []*Varnode
	f.guardInput(space, r, &inputs)
	require.Len(t, inputs, 1)
	require.True(t, inputs[0].Flags.Has(VnInput))
	require.Equal(t, 4, inputs[0].Size)
}

func TestGuardInputLeavesSingleFullCoverageInputAlone(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	existing := f.Bank.CreateInput(r.Addr, 4)

	inputs := []*Varnode{existing}
	f.guardInput(space, r, &inputs)
	require.Len(t, inputs, 1)
	require.Same(t, existing, inputs[0])
}

func TestGuardInputConcatenatesPartialInputsViaPiece(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	lo := f.Bank.CreateInput(Address{Space: space, Offset: 0x10}, 2)
	hi := f.Bank.CreateInput(Address{Space: space, Offset: 0x12}, 2)

	inputs := []*Varnode{lo, hi}
	f.guardInput(space, r, &inputs)
	require.Len(t, inputs, 3)
	joined := inputs[2]
	require.NotNil(t, joined.Def)
	require.Equal(t, OpPiece, joined.Def.Opc)
	require.Equal(t, 4, joined.Size)
}

type fakeProto struct {
	effect        CallEffect
	activeOutput  bool
}

func (p *fakeProto) EffectOn(addr Address, size int) CallEffect { return p.effect }
func (p *fakeProto) ActiveOutputOverlaps(addr Address, size int) bool { return p.activeOutput }

func TestGuardCallsInsertsIndirectOnUnknownEffect(t *testing.T) {
	f := NewFunction("f", nil)
	f.Proto = &fakeProto{effect: EffectUnknown}
	space := &AddrSpace{Name: "ram"}

	b := &BlockBasic{}
	call := NewOp(OpCall, SeqNum{Order: 1})
	b.AddOp(call)
	f.Blocks = []*BlockBasic{b}

	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	f.guardCalls(space, r)

	require.Len(t, b.Ops, 2)
	require.Equal(t, OpIndirect, b.Ops[0].Opc)
	require.Same(t, call, b.Ops[0].IndirectTarget)
	require.False(t, b.Ops[0].Out.Flags.Has(VnIndirectCreation))
}

func TestGuardCallsMarksIndirectCreationOnKilledEffect(t *testing.T) {
	f := NewFunction("f", nil)
	f.Proto = &fakeProto{effect: EffectKilled}
	space := &AddrSpace{Name: "ram"}

	b := &BlockBasic{}
	call := NewOp(OpCall, SeqNum{Order: 1})
	b.AddOp(call)
	f.Blocks = []*BlockBasic{b}

	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	f.guardCalls(space, r)

	require.Len(t, b.Ops, 2)
	require.True(t, b.Ops[0].Out.Flags.Has(VnIndirectCreation))
}

func TestGuardCallsSkipsUnaffectedEffect(t *testing.T) {
	f := NewFunction("f", nil)
	f.Proto = &fakeProto{effect: EffectUnaffected}
	space := &AddrSpace{Name: "ram"}

	b := &BlockBasic{}
	call := NewOp(OpCall, SeqNum{Order: 1})
	b.AddOp(call)
	f.Blocks = []*BlockBasic{b}

	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	f.guardCalls(space, r)

	require.Len(t, b.Ops, 1)
}

func TestGuardCallsNoopWithoutProto(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	b := &BlockBasic{}
	call := NewOp(OpCall, SeqNum{Order: 1})
	b.AddOp(call)
	f.Blocks = []*BlockBasic{b}

	r := MemRange{Addr: Address{Space: space, Offset: 0x10}, Size: 4}
	f.guardCalls(space, r)
	require.Len(t, b.Ops, 1)
}

func TestGuardReturnsInsertsCopyWhenPersistent(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x20}, Size: 4}
	persistVn := f.Bank.Create(r.Addr, 4)
	persistVn.Flags |= VnPersist

	b := &BlockBasic{}
	ret := NewOp(OpReturn, SeqNum{Order: 1})
	b.AddOp(ret)
	f.Blocks = []*BlockBasic{b}

	f.guardReturns(space, r)

	require.Len(t, b.Ops, 2)
	require.Equal(t, OpCopy, b.Ops[0].Opc)
	require.True(t, b.Ops[0].Out.Flags.Has(VnAddrForced))
	require.True(t, ret.Flags.Has(OpReturnCopy))
	require.Contains(t, ret.In, b.Ops[0].Out)
}

func TestGuardReturnsNoopWithoutPersistOrActiveOutput(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x20}, Size: 4}

	b := &BlockBasic{}
	ret := NewOp(OpReturn, SeqNum{Order: 1})
	b.AddOp(ret)
	f.Blocks = []*BlockBasic{b}

	f.guardReturns(space, r)
	require.Len(t, b.Ops, 1)
}

func TestGuardStoresInsertsIndirectForUnresolvablePointer(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x30}, Size: 4}

	b := &BlockBasic{}
	ptr := &Varnode{Size: 8, Flags: VnInput}
	store := NewOp(OpStore, SeqNum{Order: 1})
	store.AppendInput(ptr)
	store.AppendInput(&Varnode{Size: 8})
	b.AddOp(store)
	f.Blocks = []*BlockBasic{b}

	f.guardStores(space, r)

	require.Len(t, b.Ops, 2)
	require.Equal(t, OpIndirect, b.Ops[0].Opc)
	require.True(t, b.Ops[0].Flags.Has(OpIndirectStore))
}

func TestGuardStoresSkipsResolvablePointer(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x30}, Size: 4}

	b := &BlockBasic{}
	ptr := &Varnode{Size: 8, Flags: VnAddrTied}
	store := NewOp(OpStore, SeqNum{Order: 1})
	store.AppendInput(ptr)
	store.AppendInput(&Varnode{Size: 8})
	b.AddOp(store)
	f.Blocks = []*BlockBasic{b}

	f.guardStores(space, r)
	require.Len(t, b.Ops, 1)
}

func TestGuardLoadsInsertsPlaceholderCopyWithinRange(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x40}, Size: 4}

	b := &BlockBasic{}
	g := &LoadGuard{Space: space, Min: 0x40, Max: 0x44}
	loadOp := NewOp(OpLoad, SeqNum{Order: 1})
	b.AddOp(loadOp)
	g.Op = loadOp
	f.loadGuards = append(f.loadGuards, g)

	vn := f.Bank.Create(r.Addr, 4)
	vn.Flags |= VnAddrTied

	f.guardLoads(space, r)

	require.Len(t, b.Ops, 2)
	require.Equal(t, OpCopy, b.Ops[0].Opc)
	require.Contains(t, b.Ops[0].In, vn)
}

func TestGuardLoadsSkipsOutOfRangeGuard(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	r := MemRange{Addr: Address{Space: space, Offset: 0x40}, Size: 4}

	b := &BlockBasic{}
	g := &LoadGuard{Space: space, Min: 0x100, Max: 0x104}
	loadOp := NewOp(OpLoad, SeqNum{Order: 1})
	b.AddOp(loadOp)
	g.Op = loadOp
	f.loadGuards = append(f.loadGuards, g)

	vn := f.Bank.Create(r.Addr, 4)
	vn.Flags |= VnAddrTied
	_ = vn

	f.guardLoads(space, r)
	require.Len(t, b.Ops, 1)
}
