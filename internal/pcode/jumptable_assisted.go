package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements the Assisted jump-table model (spec §4.3.4): used
// when the BRANCHIND's input is produced by a CALLOTHER whose user-op
// index names a registered JumpAssist (Function.RegisterJumpAssist).
// buildAddresses evaluates index2addr per index and appends a default
// entry from default-addr.

type assistedModel struct {
	assist JumpAssist
	size   int
}

func (m *assistedModel) name() string { return "assisted" }

// assistedApplies reports whether op's input traces to a CALLOTHER naming a
// registered jump-assist user-op.
func assistedApplies(f *Function, op *PcodeOp) bool {
	_, ok := jumpAssistFor(f, op)
	return ok
}

func jumpAssistFor(f *Function, op *PcodeOp) (JumpAssist, bool) {
	if len(op.In) == 0 || op.In[0] == nil || op.In[0].Def == nil {
		return JumpAssist{}, false
	}
	callother := op.In[0].Def
	if callother.Opc != OpCallother || len(callother.In) == 0 || callother.In[0] == nil {
		return JumpAssist{}, false
	}
	userOp := callother.In[0].Addr.Offset
	a, ok := f.assists[userOp]
	return a, ok
}

func (m *assistedModel) recoverModel(f *Function, jt *JumpTable) error {
	a, ok := jumpAssistFor(f, jt.Op)
	if !ok {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	m.assist = a
	size := 0
	if a.SizePcode != nil {
		if n, has := a.SizePcode(f); has {
			size = n
		}
	}
	m.size = size
	return nil
}

func (m *assistedModel) declaredSize() (int, bool) { return m.size, m.size > 0 }

func (m *assistedModel) buildAddresses(f *Function, jt *JumpTable) error {
	if m.assist.Index2Addr == nil {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	n := m.size
	if n <= 0 {
		n = defaultMaxTableSize
	}
	for i := 0; i < n; i++ {
		addr, err := m.assist.Index2Addr(f, uint64(i))
		if err != nil {
			if i == 0 {
				return err
			}
			break
		}
		jt.AddressTable = append(jt.AddressTable, addr)
	}
	if m.assist.DefaultAddr != nil {
		if addr, has := m.assist.DefaultAddr(f); has {
			jt.AddressTable = append(jt.AddressTable, addr)
			jt.DefaultIndex = len(jt.AddressTable) - 1
		}
	}
	return nil
}

func (m *assistedModel) findUnnormalized(f *Function, jt *JumpTable) {}

func (m *assistedModel) buildLabels(f *Function, jt *JumpTable) {
	for i := range jt.AddressTable {
		if m.assist.Index2Case != nil {
			if label, ok := m.assist.Index2Case(f, uint64(i)); ok {
				jt.Labels = append(jt.Labels, label)
				continue
			}
		}
		jt.Labels = append(jt.Labels, noCaseLabel)
	}
}

func (m *assistedModel) foldInNormalization(f *Function, jt *JumpTable) {}

func (m *assistedModel) foldInGuards(f *Function, jt *JumpTable) {}

func (m *assistedModel) sanityCheck(f *Function, jt *JumpTable) error {
	if len(jt.AddressTable) == 0 {
		return coreerr.NewLowLevelError(coreerr.ReasonSanityCheckFailed)
	}
	return nil
}

func (m *assistedModel) cloneModel() jumptableModel {
	cp := *m
	return &cp
}
