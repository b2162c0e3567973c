package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleNewLoadCopiesMarksRedundantCopyChainNonPrinting(t *testing.T) {
	f := NewFunction("f", nil)
	b := &BlockBasic{}

	inner := NewOp(OpCopy, SeqNum{Order: 1})
	inner.AppendInput(&Varnode{Flags: VnInput})
	innerOut := &Varnode{}
	inner.SetOutput(innerOut)
	b.AddOp(inner)

	outer := NewOp(OpCopy, SeqNum{Order: 2})
	outer.AppendInput(innerOut)
	outerOut := &Varnode{}
	outer.SetOutput(outerOut)
	b.AddOp(outer)

	f.Blocks = []*BlockBasic{b}
	f.handleNewLoadCopies()

	require.True(t, outer.Flags.Has(OpNonPrinting))
	require.False(t, inner.Flags.Has(OpNonPrinting))
}

func TestHandleNewLoadCopiesIgnoresCopyOfNonCopy(t *testing.T) {
	f := NewFunction("f", nil)
	b := &BlockBasic{}

	cp := NewOp(OpCopy, SeqNum{Order: 1})
	cp.AppendInput(&Varnode{Flags: VnInput})
	cp.SetOutput(&Varnode{})
	b.AddOp(cp)

	f.Blocks = []*BlockBasic{b}
	f.handleNewLoadCopies()
	require.False(t, cp.Flags.Has(OpNonPrinting))
}

func TestReprocessFreeStoresUnfencesGuardedStore(t *testing.T) {
	f := NewFunction("f", nil)
	store := NewOp(OpStore, SeqNum{Order: 1})
	store.Flags |= OpIndirectStore
	store.SetOutput(&Varnode{})
	f.storeGuards = append(f.storeGuards, &StoreGuard{Op: store})

	f.reprocessFreeStores()
	require.False(t, store.Flags.Has(OpIndirectStore))
}

func TestReprocessFreeStoresLeavesUnresolvedStoreFenced(t *testing.T) {
	f := NewFunction("f", nil)
	store := NewOp(OpStore, SeqNum{Order: 1})
	store.Flags |= OpIndirectStore
	f.storeGuards = append(f.storeGuards, &StoreGuard{Op: store})

	f.reprocessFreeStores()
	require.True(t, store.Flags.Has(OpIndirectStore))
}

func TestApplySplitPreferencesSplitsFreeVarnodeIntoHalves(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	whole := Address{Space: space, Offset: 0x10}
	lo := Address{Space: space, Offset: 0x10}
	hi := Address{Space: space, Offset: 0x14}

	vn := f.Bank.Create(whole, 8)
	reader := NewOp(OpCopy, SeqNum{Order: 1})
	reader.AppendInput(vn)
	reader.SetOutput(&Varnode{})

	f.RegisterSplitPreference(SplitPreference{Addr: whole, Size: 8, Halves: []Address{lo, hi}})
	f.applySplitPreferences()

	require.NotSame(t, vn, reader.In[0])
	require.Equal(t, 8, reader.In[0].Size)
}

func TestApplySplitPreferencesSkipsNonFreeVarnode(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "ram"}
	whole := Address{Space: space, Offset: 0x10}

	vn := f.Bank.CreateInput(whole, 8)
	reader := NewOp(OpCopy, SeqNum{Order: 1})
	reader.AppendInput(vn)
	reader.SetOutput(&Varnode{})

	f.RegisterSplitPreference(SplitPreference{Addr: whole, Size: 8, Halves: []Address{whole}})
	f.applySplitPreferences()

	require.Same(t, vn, reader.In[0])
}
