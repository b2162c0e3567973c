package pcode

// This file implements call/return/store/load side-effect guarding (spec
// §4.2.3) plus the input-coverage step of placeMultiequals (spec §4.2.2
// step 4's guardInput/guard).

// guardInput makes sure the range has an input Varnode (spec §4.2.2): when
// there is none it creates one covering the whole range, and when there are
// several partial inputs it concatenates them via a PIECE tree into one
// Varnode. Bytes of the range that no existing input covers are not filled.
func (f *Function) guardInput(space *AddrSpace, r MemRange, inputs *[]*Varnode) {
	if len(*inputs) == 0 {
		in := f.Bank.CreateInput(r.Addr, r.Size)
		*inputs = append(*inputs, in)
		return
	}
	if len(*inputs) == 1 && (*inputs)[0].Size == r.Size {
		return
	}
	// Multiple partial inputs: concatenate into one covering input via a
	// PIECE chain, most-significant byte first.
	sorted := append([]*Varnode{}, (*inputs)...)
	sortVarnodesByLocation(sorted)
	cur := sorted[0]
	for i := 1; i < len(sorted); i++ {
		op := NewOp(OpPiece, SeqNum{Addr: r.Addr, Order: uint32(i)})
		out := f.Bank.Create(r.Addr, cur.Size+sorted[i].Size)
		op.AppendInput(sorted[i])
		op.AppendInput(cur)
		op.SetOutput(out)
		cur = out
	}
	*inputs = append(*inputs, cur)
}

// guardRangeOps conditionally guards call sites, returns, stores, and loads
// touching the range (spec §4.2.2 step 4's guard(), dispatching to
// guardCalls/guardReturns/guardStores/guardLoads below). Read and write
// sizes are not normalized here: writers and readers are not used.
func (f *Function) guardRangeOps(space *AddrSpace, r MemRange, writers, readers []*Varnode) {
	f.guardCalls(space, r)
	f.guardReturns(space, r)
	f.guardStores(space, r)
	f.guardLoads(space, r)
}

// guardCalls implements spec §4.2.3's call-guarding: for each CALL/CALLIND
// whose FuncProto classifies an unknown or killing effect on the range, an
// INDIRECT is inserted so the call's side effect is visible in the SSA
// graph; for a return-address effect, the INDIRECT's output continues flow
// past the call just like an unknown effect.
func (f *Function) guardCalls(space *AddrSpace, r MemRange) {
	if f.Proto == nil {
		return
	}
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if !op.Opc.IsCall() || op.Flags.Has(OpIndirectCreation) {
				continue
			}
			effect := f.Proto.EffectOn(r.Addr, r.Size)
			switch effect {
			case EffectUnaffected:
				continue
			case EffectKilled:
				f.insertIndirect(b, op, r, true)
			case EffectUnknown, EffectReturnAddress:
				f.insertIndirect(b, op, r, false)
			}
		}
	}
}

// insertIndirect builds an INDIRECT op shadowing shadowed, reading the
// live value of r immediately before the call and producing a fresh
// output Varnode that downstream reads pick up (spec §4.2.3).
func (f *Function) insertIndirect(b *BlockBasic, shadowed *PcodeOp, r MemRange, indirectCreation bool) *PcodeOp {
	op := NewOp(OpIndirect, SeqNum{Addr: r.Addr})
	op.IndirectTarget = shadowed
	out := f.Bank.Create(r.Addr, r.Size)
	op.SetOutput(out)
	if indirectCreation {
		op.Flags |= OpIndirectCreation
		out.Flags |= VnIndirectCreation
	} else {
		prevVns := f.Bank.AtAddress(r.Addr)
		if len(prevVns) > 1 {
			op.AppendInput(prevVns[len(prevVns)-2])
		}
	}
	b.InsertOpBefore(op, shadowed)
	return op
}

// guardReturns implements spec §4.2.3's RETURN guarding: a persistent
// range gets a COPY feeding a fresh address-forced Varnode into every
// RETURN. A range that overlaps the prototype's active outputs without
// being persistent gets no RETURN input and no SUBPIECE.
func (f *Function) guardReturns(space *AddrSpace, r MemRange) {
	persistent := false
	for _, vn := range f.Bank.AtAddress(r.Addr) {
		if vn.Flags.Has(VnPersist) {
			persistent = true
			break
		}
	}
	activeOutput := f.Proto != nil && f.Proto.ActiveOutputOverlaps(r.Addr, r.Size)
	if !persistent && !activeOutput {
		return
	}
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc != OpReturn {
				continue
			}
			if persistent {
				cp := NewOp(OpCopy, SeqNum{Addr: r.Addr})
				out := f.Bank.Create(r.Addr, r.Size)
				out.Flags |= VnAddrForced
				cp.SetOutput(out)
				b.InsertOpBefore(cp, op)
				op.AppendInput(out)
				op.Flags |= OpReturnCopy
			}
		}
	}
}

// guardStores implements spec §4.2.3's STORE guarding: a STORE whose
// target address couldn't be resolved gets an INDIRECT marked
// indirect-store, fencing downstream heritage of the range until the
// pointer is better understood.
func (f *Function) guardStores(space *AddrSpace, r MemRange) {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc != OpStore || len(op.In) < 2 {
				continue
			}
			ptr := op.In[0]
			if ptr != nil && !ptr.Flags.Has(VnConstant) && ptr.Def == nil && !ptr.Flags.Has(VnInput) {
				continue
			}
			if resolvable(ptr) {
				continue
			}
			ind := f.insertIndirect(b, op, r, false)
			ind.Flags |= OpIndirectStore
		}
	}
}

func resolvable(vn *Varnode) bool {
	return vn != nil && (vn.Flags.Has(VnConstant) || vn.Flags.Has(VnAddrTied))
}

// guardLoads implements spec §4.2.3's LOAD guarding: for a LOAD from an
// indexed stack pointer with an active LoadGuard, any new address tied
// within the guard's [min,max] range gets a placeholder COPY reading the
// heritaged range, so later passes see a use rather than a hole.
func (f *Function) guardLoads(space *AddrSpace, r MemRange) {
	for _, g := range f.loadGuards {
		if g.Space != space {
			continue
		}
		if r.Addr.Offset < g.Min || r.Addr.Offset+uint64(r.Size) > g.Max+1 {
			continue
		}
		for _, vn := range f.Bank.AtAddress(r.Addr) {
			if !vn.Flags.Has(VnAddrTied) || vn.Def != nil {
				continue
			}
			cp := NewOp(OpCopy, SeqNum{Addr: r.Addr})
			out := f.Bank.Create(r.Addr, r.Size)
			cp.SetOutput(out)
			cp.AppendInput(vn)
			g.Op.Parent.InsertOpBefore(cp, g.Op)
		}
	}
}
