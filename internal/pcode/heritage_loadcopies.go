package pcode

// handleNewLoadCopies propagates away now-redundant COPY chains the load-
// guard placeholder insertion (guardLoads) produced once its source and
// destination have both been heritaged: a COPY whose input and output
// carry the same HighVariable-eligible value (same defining op modulo the
// copy itself) is marked non-printing rather than deleted outright, since
// deleting would require re-validating every reader's input slot (spec
// §4.2.2 step 6).
func (f *Function) handleNewLoadCopies() {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc != OpCopy || len(op.In) != 1 || op.In[0] == nil {
				continue
			}
			src := op.In[0]
			if src.Def != nil && src.Def.Opc == OpCopy && len(src.Def.In) == 1 {
				op.Flags |= OpNonPrinting
			}
		}
	}
}

// reprocessFreeStores implements spec §4.2.2 step 7: once a pointer that
// had forced conservative STORE protection is better understood (its
// LoadGuard/StoreGuard range has been established), unfence the STOREs
// that were marked indirect-store purely as a precaution and let the next
// pass's indexed-stack discovery run without the blanket protection.
func (f *Function) reprocessFreeStores() {
	for _, g := range f.storeGuards {
		if g.Op.Flags.Has(OpIndirectStore) && g.Op.Out != nil {
			g.Op.Flags &^= OpIndirectStore
		}
	}
}

// applySplitPreferences materializes known register-pair decompositions
// on the first heritage pass (spec §4.2.2 step 8): a Varnode registered
// via RegisterSplitPreference is replaced by two independently-heritaged
// half-sized Varnodes joined with a PIECE, mirroring processJoins but for
// architecture-declared register pairs rather than explicit join-space
// addresses.
func (f *Function) applySplitPreferences() {
	for _, pref := range f.splitPreferences {
		for _, vn := range f.Bank.AtAddress(pref.Addr) {
			if vn.Size != pref.Size || !vn.IsFree() {
				continue
			}
			f.splitJoinReads(vn, pref.Halves)
		}
	}
}

// SplitPreference declares that reads/writes of Addr/Size should prefer to
// decompose into the two half-sized pieces named in Halves (e.g. a 64-bit
// register pair architecture exposes as two 32-bit halves).
type SplitPreference struct {
	Addr   Address
	Size   int
	Halves []Address
}

// RegisterSplitPreference records a split preference consumed by
// applySplitPreferences on pass 0.
func (f *Function) RegisterSplitPreference(p SplitPreference) {
	f.splitPreferences = append(f.splitPreferences, p)
}
