package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements the Override jump-table model (spec §4.3.3): the
// address table comes from a user declaration (Function.RegisterOverride)
// rather than recovery. recoverModel tries, in order: the declared table
// directly; a heuristic likely-norm walk of the PathMeld looking for the
// first LOAD -> INT_ADD -> INT_MULT chain to serve as the normalization
// Varnode; and falls back to the Trivial per-out-edge form. trialNorm
// emulates a short run past the declared set to tolerate misses (spec
// §4.3.3).

type overrideModel struct {
	declared []uint64
	normVn   *Varnode
	meld     *PathMeld
	fallback *trivialModel
}

func (m *overrideModel) name() string { return "override" }

func (m *overrideModel) recoverModel(f *Function, jt *JumpTable) error {
	declared, ok := f.overrides[jt.Op.Seq.Addr]
	if !ok || len(declared) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	m.declared = declared

	if len(jt.Op.In) > 0 && jt.Op.In[0] != nil {
		m.meld = findDeterminingVarnodes(jt.Op.In[0], 64)
		m.normVn = likelyNormVn(m.meld)
		jt.Meld = m.meld
	}
	if m.normVn == nil {
		m.fallback = &trivialModel{}
		return m.fallback.recoverModel(f, jt)
	}
	jt.Switchvn = m.normVn
	return nil
}

// likelyNormVn implements the heuristic likely-norm search: the first
// LOAD -> INT_ADD -> INT_MULT chain found among the melded ops (spec
// §4.3.3).
func likelyNormVn(meld *PathMeld) *Varnode {
	if meld == nil {
		return nil
	}
	for i := 0; i < meld.NumOps(); i++ {
		op := meld.GetOp(i)
		if op.Opc != OpIntMult || op.Out == nil {
			continue
		}
		for _, in := range op.In {
			if in == nil || in.Def == nil || in.Def.Opc != OpIntAdd {
				continue
			}
			for _, addIn := range in.Def.In {
				if addIn != nil && addIn.Def != nil && addIn.Def.Opc == OpLoad {
					return op.Out
				}
			}
		}
	}
	return nil
}

// buildAddresses delegates to the trivial fallback (one entry per out-edge)
// when recoverModel found no normalization Varnode; otherwise it appends
// the declared table and then calls trialNorm to probe for further entries
// the declaration didn't cover.
func (m *overrideModel) buildAddresses(f *Function, jt *JumpTable) error {
	if m.fallback != nil {
		return m.fallback.buildAddresses(f, jt)
	}
	jt.AddressTable = append(jt.AddressTable, m.declared...)
	m.trialNorm(f, jt)
	return nil
}

// overrideTrialMargin is the "100" in spec §4.3.3's "100 + table size"
// emulation threshold (spec §9 open question: preserved as-is, not
// re-derived).
const overrideTrialMargin = 100

// trialNorm emulates index values past the declared table's length
// through the meld, starting at normVn and reading off jt.Op's own
// address input, appending each resolved destination to AddressTable
// until a LOAD misses or overrideTrialMargin probes have been tried
// (spec §4.3.3).
func (m *overrideModel) trialNorm(f *Function, jt *JumpTable) {
	if m.normVn == nil || m.meld == nil || len(jt.Op.In) == 0 || jt.Op.In[0] == nil {
		return
	}
	image := f.Image
	if image == nil {
		image = nilMemoryImage{}
	}
	emu := NewEmulateFunction(image)
	start := uint64(len(m.declared))
	for i := start; i < start+overrideTrialMargin; i++ {
		dest, err := emu.EmulatePath(i, m.meld, jt.Op.In[0], m.normVn)
		if err != nil {
			break
		}
		jt.AddressTable = append(jt.AddressTable, dest)
	}
}

func (m *overrideModel) findUnnormalized(f *Function, jt *JumpTable) {
	if m.fallback != nil {
		m.fallback.findUnnormalized(f, jt)
	}
}

func (m *overrideModel) buildLabels(f *Function, jt *JumpTable) {
	if m.fallback != nil {
		m.fallback.buildLabels(f, jt)
		return
	}
	for i := range jt.AddressTable {
		jt.Labels = append(jt.Labels, uint64(i))
	}
}

func (m *overrideModel) foldInNormalization(f *Function, jt *JumpTable) {
	if m.normVn != nil {
		jt.Op.SetInput(0, m.normVn)
	}
}

func (m *overrideModel) foldInGuards(f *Function, jt *JumpTable) {}

func (m *overrideModel) sanityCheck(f *Function, jt *JumpTable) error {
	if len(jt.AddressTable) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonSanityCheckFailed)
	}
	return nil
}

func (m *overrideModel) cloneModel() jumptableModel {
	cp := *m
	return &cp
}
