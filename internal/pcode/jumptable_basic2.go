package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements the Basic2 jump-table model (spec §4.3.2): Basic
// extended to recognize a MULTIEQUAL-of-(constant-COPY, else) in the path,
// where the constant side becomes a single-entry default and the main
// range is recovered on the other input's upstream block.

type basic2Model struct {
	basicModel
	extraValue    uint64
	hasExtraValue bool
}

func (m *basic2Model) name() string { return "basic2" }

func (m *basic2Model) recoverModel(f *Function, jt *JumpTable) error {
	if len(jt.Op.In) == 0 || jt.Op.In[0] == nil {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	start := jt.Op.In[0]
	join, constSide, otherSide := findConstCopyMultiequal(start)
	if join == nil {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	if _, val, ok := constOperand(constSide.Def); ok {
		m.extraValue, m.hasExtraValue = val, true
	} else if constSide.Flags.Has(VnConstant) {
		m.extraValue, m.hasExtraValue = constSide.Addr.Offset, true
	}

	m.meld = findDeterminingVarnodes(otherSide, 64)
	m.guards = f.analyzeGuards(join.Parent, 0)
	jt.Meld, jt.Guards = m.meld, m.guards

	best, bestVn := m.findSmallestNormal(otherSide.Size)
	if best == nil || best.IsEmpty() {
		return coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	m.jrange = best
	m.switchVn, m.startVn = bestVn, bestVn
	m.destVn = otherSide
	jt.Switchvn = bestVn
	return nil
}

// findConstCopyMultiequal searches back from start for a MULTIEQUAL one of
// whose inputs is defined by a COPY-of-constant (or is itself constant),
// returning that MULTIEQUAL and its (constant, other) input pair.
func findConstCopyMultiequal(start *Varnode) (join *PcodeOp, constSide, otherSide *Varnode) {
	seen := map[*Varnode]bool{}
	var walk func(vn *Varnode) (*PcodeOp, *Varnode, *Varnode)
	walk = func(vn *Varnode) (*PcodeOp, *Varnode, *Varnode) {
		if vn == nil || seen[vn] || vn.Def == nil {
			return nil, nil, nil
		}
		seen[vn] = true
		if vn.Def.Opc == OpMultiequal && len(vn.Def.In) == 2 {
			a, b := vn.Def.In[0], vn.Def.In[1]
			if isConstCopy(a) {
				return vn.Def, a, b
			}
			if isConstCopy(b) {
				return vn.Def, b, a
			}
		}
		if isPruningFrontier(vn) {
			return nil, nil, nil
		}
		for _, in := range vn.Def.In {
			if j, c, o := walk(in); j != nil {
				return j, c, o
			}
		}
		return nil, nil, nil
	}
	return walk(start)
}

func isConstCopy(vn *Varnode) bool {
	if vn == nil {
		return false
	}
	if vn.Flags.Has(VnConstant) {
		return true
	}
	return vn.Def != nil && vn.Def.Opc == OpCopy && len(vn.Def.In) == 1 && vn.Def.In[0] != nil && vn.Def.In[0].Flags.Has(VnConstant)
}

// buildAddresses extends Basic's to append the extra (default) value last,
// mirroring JumpValuesRangeDefault's iteration order (spec §4.3.2).
func (m *basic2Model) buildAddresses(f *Function, jt *JumpTable) error {
	if err := m.basicModel.buildAddresses(f, jt); err != nil {
		return err
	}
	if !m.hasExtraValue {
		return nil
	}
	image := f.Image
	if image == nil {
		image = nilMemoryImage{}
	}
	emu := NewEmulateFunction(image)
	dest, err := emu.EmulatePath(m.extraValue, m.meld, m.destVn, m.startVn)
	if err != nil {
		return nil // a default that can't be emulated is simply omitted
	}
	jt.AddressTable = append(jt.AddressTable, dest)
	jt.DefaultIndex = len(jt.AddressTable) - 1
	return nil
}

func (m *basic2Model) buildLabels(f *Function, jt *JumpTable) {
	m.basicModel.buildLabels(f, jt)
	if m.hasExtraValue {
		jt.Labels = append(jt.Labels, noCaseLabel)
	}
}

func (m *basic2Model) cloneModel() jumptableModel {
	cp := *m
	if m.jrange != nil {
		cp.jrange = m.basicModel.jrange.Copy()
	}
	return &cp
}
