package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEstablishRangeCollapsesConstantIndexGuard confirms a guard reached
// through a purely constant offset (no traversal flags) keeps
// establishRange's single-point collapse: it really does alias one fixed
// address.
func TestEstablishRangeCollapsesConstantIndexGuard(t *testing.T) {
	f := NewFunction("f", nil)
	g := &LoadGuard{PointerBase: 0x40, Min: 0x40, Max: 0x50, Step: 1}

	f.establishRange(g)

	require.True(t, g.finished)
	require.Equal(t, uint64(0x40), g.Min)
	require.Equal(t, uint64(0x40), g.Max)
}

// TestEstablishRangeKeepsWidthForNonConstIndexGuard exercises a guard
// discovered through a non-constant index (travNonConstIndex): before the
// fix, guardNode.ConstValue always reported PointerBase as a certainty,
// collapsing every guard to the same degenerate single-address range
// regardless of how it was discovered. With the flag threaded through,
// the node reports no constant and no resolvable op, so establishRange
// falls back to the DFS's own [Min,Max] estimate rather than narrowing a
// genuinely dynamic pointer down to one address.
func TestEstablishRangeKeepsWidthForNonConstIndexGuard(t *testing.T) {
	f := NewFunction("f", nil)
	g := &LoadGuard{PointerBase: 0x40, Min: 0x40, Max: 0x50, Step: 1, Flags: travNonConstIndex}

	f.establishRange(g)

	require.True(t, g.finished)
	require.Equal(t, uint64(0x40), g.Min)
	require.Equal(t, uint64(0x50), g.Max)
	require.Greater(t, g.Max, g.Min)
}

// TestEstablishRangeKeepsWidthForMultiequalGuard is the travMultiequal
// analogue: a phi-joined stack offset is exactly the case spec §4.2.5's
// LoadGuard/StoreGuard range analysis exists for, and must not collapse
// to a single address either.
func TestEstablishRangeKeepsWidthForMultiequalGuard(t *testing.T) {
	f := NewFunction("f", nil)
	g := &LoadGuard{PointerBase: 0x1000, Min: 0x1000, Max: 0x1010, Step: 1, Flags: travMultiequal}

	f.establishRange(g)

	require.True(t, g.finished)
	require.Equal(t, uint64(0x1000), g.Min)
	require.Equal(t, uint64(0x1010), g.Max)
}

// TestGenerateLoadGuardThreadsTraversalFlags confirms discoverIndexedStack's
// DFS-computed flags survive into the installed LoadGuard rather than being
// silently discarded (generateLoadGuard previously accepted flags only to
// ignore them).
func TestGenerateLoadGuardThreadsTraversalFlags(t *testing.T) {
	f := NewFunction("f", nil)
	space := &AddrSpace{Name: "stack", Type: SpaceStack}
	op := NewOp(OpLoad, SeqNum{Order: 1})

	f.generateLoadGuard(op, space, 0x20, travNonConstIndex|travMultiequal)

	require.Len(t, f.loadGuards, 1)
	g := f.loadGuards[0]
	require.Equal(t, travNonConstIndex|travMultiequal, g.Flags)
	require.True(t, op.Flags.Has(OpSpacebasePtr))
}
