package pcode

// VarnodeFlags is a bitset of the Varnode flags named in spec §3.
type VarnodeFlags uint32

const (
	VnInput VarnodeFlags = 1 << iota
	VnWritten
	VnConstant
	VnAnnotation
	VnImplied
	VnExplicit
	VnTypelock
	VnNamelock
	VnPersist
	VnAddrTied
	VnAddrForced
	VnUnaffected
	VnSpacebase
	VnIndirectOnly
	VnIndirectCreation
	VnProtoPartial
	VnActiveHeritage
	VnWriteMask
	VnMark
	VnCoverDirty
)

func (f VarnodeFlags) Has(bit VarnodeFlags) bool { return f&bit != 0 }

// Varnode is a single-static-assignment-eligible storage reference:
// (address, size, flags, defining op, descendants). Every Varnode has a
// unique, monotonically increasing CreateIndex assigned by its owning
// VarnodeBank — the function-wide total order spec §3 requires.
type Varnode struct {
	Addr        Address
	Size        int
	Flags       VarnodeFlags
	Def         *PcodeOp   // defining op, nil if free/input
	Descend     []*PcodeOp // ops that read this Varnode, kept in sync with inputs
	CreateIndex uint32

	high  *HighVariable // merge-class link, nil until merged
	cover *Cover
}

// IsFree reports whether this Varnode has neither a defining op nor the
// input flag — not yet raised to SSA.
func (v *Varnode) IsFree() bool { return v.Def == nil && !v.Flags.Has(VnInput) }

// IsWritten reports whether a PcodeOp defines this Varnode.
func (v *Varnode) IsWritten() bool { return v.Flags.Has(VnWritten) }

// High returns the HighVariable this Varnode has been merged into, or nil.
func (v *Varnode) High() *HighVariable { return v.high }

// SetHigh links v to h; used only by merge.go.
func (v *Varnode) SetHigh(h *HighVariable) { v.high = h }

// addDescend records op as a reader of v, keeping Descend the reverse of
// the op-input relation (spec §3 invariant 2 / spec §8 property 2).
func (v *Varnode) addDescend(op *PcodeOp) {
	v.Descend = append(v.Descend, op)
}

// removeDescend removes one occurrence of op from v's descend list.
func (v *Varnode) removeDescend(op *PcodeOp) {
	for i, d := range v.Descend {
		if d == op {
			v.Descend = append(v.Descend[:i], v.Descend[i+1:]...)
			return
		}
	}
}

// VarnodeBank owns every Varnode in a Function, indexed by address so
// Heritage can walk them in location order, and guarantees a Varnode is
// only deleted once nothing references it as input or output (spec §5).
type VarnodeBank struct {
	byAddr  map[Address][]*Varnode // all versions at one address, most creations appended
	all     []*Varnode
	nextIdx uint32
}

func NewVarnodeBank() *VarnodeBank {
	return &VarnodeBank{byAddr: make(map[Address][]*Varnode)}
}

// Create allocates a new free Varnode at addr with the given size.
func (b *VarnodeBank) Create(addr Address, size int) *Varnode {
	vn := &Varnode{Addr: addr, Size: size, CreateIndex: b.nextIdx}
	b.nextIdx++
	b.byAddr[addr] = append(b.byAddr[addr], vn)
	b.all = append(b.all, vn)
	return vn
}

// CreateInput allocates an input Varnode (no defining op, VnInput set).
func (b *VarnodeBank) CreateInput(addr Address, size int) *Varnode {
	vn := b.Create(addr, size)
	vn.Flags |= VnInput
	return vn
}

// All returns every live Varnode the bank owns, in creation order.
func (b *VarnodeBank) All() []*Varnode { return b.all }

// AtAddress returns every Varnode version ever created at addr (all sizes).
func (b *VarnodeBank) AtAddress(addr Address) []*Varnode { return b.byAddr[addr] }

// Delete removes vn from the bank. The caller must have already severed
// every input/output link (spec §5: "owns every Varnode; guarantees
// deletion only when no op references them").
func (b *VarnodeBank) Delete(vn *Varnode) error {
	if vn.Def != nil {
		return errDeleteStillWritten
	}
	if len(vn.Descend) != 0 {
		return errDeleteStillRead
	}
	lst := b.byAddr[vn.Addr]
	for i, v := range lst {
		if v == vn {
			b.byAddr[vn.Addr] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
	for i, v := range b.all {
		if v == vn {
			b.all = append(b.all[:i], b.all[i+1:]...)
			break
		}
	}
	return nil
}

// LocationOrder returns every non-free Varnode sorted by (address,
// creation index) — the order Heritage's placeMultiequals and Merge's
// mergeByDatatype walk ranges in.
func (b *VarnodeBank) LocationOrder() []*Varnode {
	out := make([]*Varnode, 0, len(b.all))
	for _, vn := range b.all {
		if !vn.IsFree() {
			out = append(out, vn)
		}
	}
	sortVarnodesByLocation(out)
	return out
}

func sortVarnodesByLocation(vs []*Varnode) {
	// insertion sort is fine here: called on already-mostly-sorted,
	// per-function-sized slices, and keeps this file dependency-free of
	// sort.Slice's reflection-ish comparator closures for a hot loop.
	for i := 1; i < len(vs); i++ {
		j := i
		for j > 0 && less(vs[j], vs[j-1]) {
			vs[j], vs[j-1] = vs[j-1], vs[j]
			j--
		}
	}
}

func less(a, b *Varnode) bool {
	if c := a.Addr.Compare(b.Addr); c != 0 {
		return c < 0
	}
	return a.CreateIndex < b.CreateIndex
}
