package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements the Trivial jump-table model (spec §4.3.5): one
// table entry per control-flow successor of the BRANCHIND's parent block.
// It is used as the last-resort recovery model and as the Override model's
// fallback when no normalization Varnode is found.

type trivialModel struct {
	switchVn *Varnode
}

func (m *trivialModel) name() string { return "trivial" }

func (m *trivialModel) recoverModel(f *Function, jt *JumpTable) error {
	if jt.Op.Parent == nil || len(jt.Op.Parent.Succs) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	if len(jt.Op.In) > 0 {
		m.switchVn = jt.Op.In[0]
		jt.Switchvn = jt.Op.In[0]
	}
	return nil
}

// buildAddresses emits one placeholder entry per out-edge; the real
// destination addresses for a trivial table come from the flow graph
// itself (switchOver maps entries to out-edges positionally), so each
// entry here is simply its own out-edge index.
func (m *trivialModel) buildAddresses(f *Function, jt *JumpTable) error {
	for i := range jt.Op.Parent.Succs {
		jt.AddressTable = append(jt.AddressTable, uint64(i))
	}
	return nil
}

func (m *trivialModel) findUnnormalized(f *Function, jt *JumpTable) {}

func (m *trivialModel) buildLabels(f *Function, jt *JumpTable) {
	for i := range jt.AddressTable {
		jt.Labels = append(jt.Labels, uint64(i))
	}
}

func (m *trivialModel) foldInNormalization(f *Function, jt *JumpTable) {}

func (m *trivialModel) foldInGuards(f *Function, jt *JumpTable) {}

func (m *trivialModel) sanityCheck(f *Function, jt *JumpTable) error {
	if len(jt.AddressTable) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonSanityCheckFailed)
	}
	return nil
}

func (m *trivialModel) cloneModel() jumptableModel {
	cp := *m
	return &cp
}
