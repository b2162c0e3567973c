package pcode

import (
	"github.com/tsgates/decompiler-sub003/internal/coreerr"
	"github.com/tsgates/decompiler-sub003/internal/valueset"
)

// This file implements the Basic jump-table model (spec §4.3.1): the
// default recovery path when a BRANCHIND's input isn't a jump-assist
// CALLOTHER (Assisted) or user-overridden (Override).

type basicModel struct {
	meld     *PathMeld
	guards   []*GuardRecord
	jrange   *valueset.CircleRange
	startVn  *Varnode
	destVn   *Varnode
	switchVn *Varnode
	normalVn *Varnode
}

func (m *basicModel) name() string { return "basic" }

// recoverModel implements steps 1-5: back-slice via findDeterminingVarnodes,
// collect guards via analyzeGuards, pick the candidate commonVn with the
// smallest effective range (findSmallestNormal).
func (m *basicModel) recoverModel(f *Function, jt *JumpTable) error {
	if len(jt.Op.In) == 0 || jt.Op.In[0] == nil {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	start := jt.Op.In[0]
	m.meld = findDeterminingVarnodes(start, 64)
	m.guards = f.analyzeGuards(jt.Op.Parent, 0)
	jt.Meld, jt.Guards = m.meld, m.guards

	best, bestVn := m.findSmallestNormal(start.Size)
	if best == nil || best.IsEmpty() {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	m.jrange = best
	m.switchVn = bestVn
	m.startVn = bestVn
	m.destVn = start
	jt.Switchvn = bestVn
	return nil
}

// findSmallestNormal implements step 4: for each candidate commonVn, derive
// its effective value range from an INT_AND mask or MULTIEQUAL-of-INT_AND
// ancestor, intersect every applicable guard, and keep the smallest. On
// equal counts the first candidate is kept; byte-saturated ranges and LOADs
// on the path get no special treatment.
func (m *basicModel) findSmallestNormal(matchsize int) (*valueset.CircleRange, *Varnode) {
	var best *valueset.CircleRange
	var bestVn *Varnode
	for _, vn := range m.meld.CommonVn() {
		rng := effectiveRange(vn)
		for _, g := range m.guards {
			if g.Vn == vn || g.BaseVn == vn {
				rng = rng.Intersect(g.Range)
			}
		}
		if rng.IsEmpty() {
			continue
		}
		if best == nil || rng.Count() < best.Count() {
			best, bestVn = rng, vn
		}
	}
	if best == nil {
		best, bestVn = valueset.NewMasked(matchsize), m.meld.CommonVn()[0]
	}
	return best, bestVn
}

// effectiveRange computes a candidate Varnode's natural range from an
// INT_AND mask on its definition, or a MULTIEQUAL whose inputs are all
// INT_AND-masked, falling back to the full masked range (spec §4.3.1 step
// 4's getMaxValue).
func effectiveRange(vn *Varnode) *valueset.CircleRange {
	if vn.Def == nil {
		return valueset.NewMasked(vn.Size)
	}
	switch vn.Def.Opc {
	case OpIntAnd:
		if idx, val, ok := constOperand(vn.Def); ok {
			_ = idx
			return valueset.NewSpan(vn.Size, 0, val+1, 1)
		}
	case OpMultiequal:
		var widest *valueset.CircleRange
		for _, in := range vn.Def.In {
			if in == nil || in.Def == nil || in.Def.Opc != OpIntAnd {
				return valueset.NewMasked(vn.Size)
			}
			_, val, ok := constOperand(in.Def)
			if !ok {
				return valueset.NewMasked(vn.Size)
			}
			r := valueset.NewSpan(vn.Size, 0, val+1, 1)
			if widest == nil || r.Count() > widest.Count() {
				widest = r
			}
		}
		if widest != nil {
			return widest
		}
	}
	return valueset.NewMasked(vn.Size)
}

// buildAddresses implements step 6: iterate jrange, emulate each value
// through the meld to the destination address, masking by pointer
// alignment.
func (m *basicModel) buildAddresses(f *Function, jt *JumpTable) error {
	n := m.jrange.Count()
	if n == 0 || n > uint64(jt.MaxTableSize) {
		return coreerr.NewLowLevelError(coreerr.ReasonSanityCheckFailed)
	}
	image := f.Image
	if image == nil {
		image = nilMemoryImage{}
	}
	emu := NewEmulateFunction(image)
	emu.CollectLoads = true
	mask := jt.FuncptrAlign
	if mask == 0 {
		mask = ^uint64(0)
	}
	for i := uint64(0); i < n; i++ {
		val := m.jrange.At(i)
		dest, err := emu.EmulatePath(val, m.meld, m.destVn, m.startVn)
		if err != nil {
			return err
		}
		jt.AddressTable = append(jt.AddressTable, dest&mask)
	}
	jt.Loadpoints = emu.Loadpoints
	return nil
}

// findUnnormalized implements step 8: walk outward from the normalized
// Varnode through at most a few levels of INT_ADD/INT_SUB/INT_ZEXT/INT_SEXT
// with constant-only other operands to find the source-visible switch
// variable.
func (m *basicModel) findUnnormalized(f *Function, jt *JumpTable) {
	const maxLevels = 3
	vn := m.switchVn
	levels := 0
	for levels < maxLevels {
		advanced := false
		for _, op := range vn.Descend {
			switch op.Opc {
			case OpIntAdd, OpIntSub:
				if _, _, ok := constOperand(op); ok && op.Out != nil {
					vn, advanced = op.Out, true
				}
			case OpIntZext, OpIntSext:
				if op.Out != nil {
					vn, advanced = op.Out, true
				}
			}
			if advanced {
				break
			}
		}
		if !advanced {
			break
		}
		levels++
	}
	m.normalVn = vn
	jt.Normalvn = vn
}

// buildLabels implements step 9: iterate the original range, reversibly
// walking from normalvn back to switchvn to emit case labels.
func (m *basicModel) buildLabels(f *Function, jt *JumpTable) {
	mask := sizeMask(m.switchVn.Size)
	n := m.jrange.Count()
	for i := uint64(0); i < n; i++ {
		val := m.jrange.At(i)
		label := val
		if m.normalVn != nil && m.normalVn != m.switchVn && m.normalVn.Def != nil {
			if recovered, ok := m.normalVn.Def.RecoverInputUnary(val, mask); ok {
				label = recovered
			}
		}
		jt.Labels = append(jt.Labels, label)
	}
}

func sizeMask(size int) uint64 {
	if size <= 0 || size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(size*8)) - 1
}

// foldInNormalization implements step 10's first half: rewrite the
// BRANCHIND's input to the (possibly still-normalized) switch Varnode.
func (m *basicModel) foldInNormalization(f *Function, jt *JumpTable) {
	if m.switchVn != nil {
		jt.Op.SetInput(0, m.switchVn)
	}
}

// foldInGuards implements step 10's second half: for each guard whose
// Varnode MarkPaths reaches within the meld, rewrite the CBRANCH's input to
// a constant so the branch later collapses. No entry is added to the table
// and DefaultIndex is not set here.
func (m *basicModel) foldInGuards(f *Function, jt *JumpTable) {
	for _, g := range m.guards {
		if g.Cbranch == nil || len(g.Cbranch.In) == 0 {
			continue
		}
		if !m.meld.MarkPaths(g.Vn, 0) {
			continue
		}
		g.Cbranch.SetInput(0, f.Bank.Create(Address{Space: g.Cbranch.Seq.Addr.Space, Offset: 0}, 1))
		g.Cbranch.In[0].Flags |= VnConstant
	}
}

// sanityCheck implements step 7: reject divergent entries (catching
// fall-through misanalysis) and truncate to the first contiguous run when a
// single outlier appears far from the load image.
func (m *basicModel) sanityCheck(f *Function, jt *JumpTable) error {
	if len(jt.AddressTable) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonSanityCheckFailed)
	}
	if len(jt.AddressTable) == 1 {
		dest := jt.AddressTable[0]
		if dest == 0 {
			return coreerr.NewJumptableThunkError(dest)
		}
		return nil
	}
	const maxDivergence = 64 * 1024
	first := jt.AddressTable[0]
	truncateAt := len(jt.AddressTable)
	for i := 1; i < len(jt.AddressTable); i++ {
		d := int64(jt.AddressTable[i]) - int64(first)
		if d < 0 {
			d = -d
		}
		if uint64(d) > maxDivergence {
			truncateAt = i
			break
		}
	}
	if truncateAt < len(jt.AddressTable) {
		jt.AddressTable = jt.AddressTable[:truncateAt]
		f.AddWarning(coreerr.WarnSanityTruncation, "jump table truncated at sanity boundary")
	}
	return nil
}

func (m *basicModel) cloneModel() jumptableModel {
	cp := *m
	if m.jrange != nil {
		cp.jrange = m.jrange.Copy()
	}
	return &cp
}

// nilMemoryImage rejects every read, the conservative default when a
// Function has no backing image registered (tests exercising pure register
// arithmetic switch variables never reach a LOAD).
type nilMemoryImage struct{}

func (nilMemoryImage) ReadBytes(addr Address, size int) (uint64, bool) { return 0, false }
