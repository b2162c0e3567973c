package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsgates/decompiler-sub003/internal/valueset"
)

func intAndMasked(maskVal uint64, size int) *Varnode {
	in := &Varnode{Size: size}
	mask := &Varnode{Size: size, Flags: VnConstant, Addr: Address{Offset: maskVal}}
	op := NewOp(OpIntAnd, SeqNum{Order: 1})
	op.AppendInput(in)
	op.AppendInput(mask)
	out := &Varnode{Size: size}
	op.SetOutput(out)
	return out
}

// TestEffectiveRangeIntAndMask is spec §8 scenario A: a switch variable
// masked with INT_AND 0x7 yields the 8-value range [0,8).
func TestEffectiveRangeIntAndMask(t *testing.T) {
	vn := intAndMasked(7, 4)
	rng := effectiveRange(vn)
	require.Equal(t, uint64(8), rng.Count())
}

func TestEffectiveRangeMultiequalOfIntAndPicksWidest(t *testing.T) {
	narrow := intAndMasked(3, 4)
	wide := intAndMasked(7, 4)

	join := NewOp(OpMultiequal, SeqNum{Order: 1})
	join.AppendInput(narrow)
	join.AppendInput(wide)
	out := &Varnode{Size: 4}
	join.SetOutput(out)

	rng := effectiveRange(out)
	require.Equal(t, uint64(8), rng.Count())
}

func TestEffectiveRangeFallsBackWhenNoDef(t *testing.T) {
	vn := &Varnode{Size: 4}
	rng := effectiveRange(vn)
	require.Equal(t, valueset.NewMasked(4).Count(), rng.Count())
}

func TestFindSmallestNormalPicksSmallestCandidateRange(t *testing.T) {
	narrow := intAndMasked(3, 4)
	wide := intAndMasked(0xFF, 4)

	m := &basicModel{meld: &PathMeld{commonVn: []*Varnode{wide, narrow}}}
	best, bestVn := m.findSmallestNormal(4)
	require.Same(t, narrow, bestVn)
	require.Equal(t, uint64(4), best.Count())
}

func TestFindSmallestNormalIntersectsMatchingGuard(t *testing.T) {
	vn := intAndMasked(7, 4)
	guard := &GuardRecord{Vn: vn, Range: valueset.NewSpan(4, 0, 4, 1)}
	m := &basicModel{meld: &PathMeld{commonVn: []*Varnode{vn}}, guards: []*GuardRecord{guard}}

	best, bestVn := m.findSmallestNormal(4)
	require.Same(t, vn, bestVn)
	require.Equal(t, uint64(4), best.Count())
}

func TestFindSmallestNormalFallsBackToFullMaskWhenNoCandidateSurvives(t *testing.T) {
	vn := intAndMasked(7, 4)
	guard := &GuardRecord{Vn: vn, Range: valueset.NewSpan(4, 100, 104, 1)}
	m := &basicModel{meld: &PathMeld{commonVn: []*Varnode{vn}}, guards: []*GuardRecord{guard}}

	best, bestVn := m.findSmallestNormal(4)
	require.Same(t, vn, bestVn)
	require.Equal(t, valueset.NewMasked(4).Count(), best.Count())
}

func TestFindUnnormalizedWalksThroughIntZext(t *testing.T) {
	vn := &Varnode{Size: 1}
	zext := NewOp(OpIntZext, SeqNum{Order: 1})
	zext.AppendInput(vn)
	out := &Varnode{Size: 4}
	zext.SetOutput(out)

	m := &basicModel{switchVn: vn}
	jt := &JumpTable{}
	m.findUnnormalized(nil, jt)
	require.Same(t, out, m.normalVn)
	require.Same(t, out, jt.Normalvn)
}

func TestFindUnnormalizedStopsWhenNoAdvance(t *testing.T) {
	vn := &Varnode{Size: 4}
	m := &basicModel{switchVn: vn}
	jt := &JumpTable{}
	m.findUnnormalized(nil, jt)
	require.Same(t, vn, m.normalVn)
}

func TestBuildLabelsUsesRawRangeWhenNotNormalized(t *testing.T) {
	vn := &Varnode{Size: 4}
	m := &basicModel{switchVn: vn, jrange: valueset.NewSpan(4, 0, 3, 1)}
	jt := &JumpTable{}
	m.buildLabels(nil, jt)
	require.Equal(t, []uint64{0, 1, 2}, jt.Labels)
}

func TestFoldInNormalizationRewritesOpInput(t *testing.T) {
	switchVn := &Varnode{Size: 4}
	op := NewOp(OpBranchind, SeqNum{Order: 1})
	op.AppendInput(&Varnode{Size: 4})

	m := &basicModel{switchVn: switchVn}
	jt := &JumpTable{Op: op}
	m.foldInNormalization(nil, jt)
	require.Same(t, switchVn, op.In[0])
}

// TestBuildAddressesMasksByFuncptrAlign confirms destinations are clipped
// to the architecture's FuncptrAlign (spec §6's funcptr_align attribute)
// rather than passed through verbatim.
func TestBuildAddressesMasksByFuncptrAlign(t *testing.T) {
	f := NewFunction("f", nil)
	f.Image = &fakeImage{data: map[uint64]uint64{0x2000: 0x401003}}

	startVn := &Varnode{Size: 8}
	addrVn := &Varnode{Size: 8, Flags: VnConstant, Addr: Address{Offset: 0x2000}}

	loadOp := NewOp(OpLoad, SeqNum{Order: 1})
	loadOp.AppendInput(&Varnode{Flags: VnConstant})
	loadOp.AppendInput(addrVn)
	dest := &Varnode{Size: 8}
	loadOp.SetOutput(dest)

	meld := &PathMeld{}
	meld.Meld(nil, []*PcodeOp{loadOp})

	m := &basicModel{
		meld:    meld,
		jrange:  valueset.NewSpan(8, 0, 1, 1),
		startVn: startVn,
		destVn:  dest,
	}
	f.FuncptrAlign = 4
	jt := &JumpTable{MaxTableSize: defaultMaxTableSize, FuncptrAlign: f.funcptrAlignMask()}
	require.NoError(t, m.buildAddresses(f, jt))
	require.Equal(t, []uint64{0x401000}, jt.AddressTable)
}

func TestBasicModelSanityCheckRejectsEmptyTable(t *testing.T) {
	m := &basicModel{}
	jt := &JumpTable{}
	require.Error(t, m.sanityCheck(nil, jt))
}
