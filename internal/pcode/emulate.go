package pcode

import "github.com/tsgates/decompiler-sub003/internal/coreerr"

// This file implements symbolic emulation of a PathMeld (spec §4.3.1 step
// 6): given a candidate value for the switch variable, evaluate every
// melded op forward to compute the BRANCHIND's destination address.

// VarnodeValueMap holds the concrete values assigned to Varnodes during one
// emulation run.
type VarnodeValueMap struct {
	values map[*Varnode]uint64
}

func newVarnodeValueMap() *VarnodeValueMap {
	return &VarnodeValueMap{values: make(map[*Varnode]uint64)}
}

func (m *VarnodeValueMap) get(vn *Varnode) (uint64, bool) {
	v, ok := m.values[vn]
	return v, ok
}

func (m *VarnodeValueMap) set(vn *Varnode, val uint64) { m.values[vn] = val }

// EmulateFunction symbolically evaluates PathMeld ops over a memory image,
// in the style of a minimal concrete interpreter: it resolves LOADs against
// the backing image and records their origin for loadpoints collection
// when requested (spec §4.3.1 step 6).
type EmulateFunction struct {
	Image        MemoryImage
	CollectLoads bool
	Loadpoints   []Address
}

// MemoryImage is the minimal read interface EmulateFunction needs to
// resolve LOADs against constant memory (e.g. a recovered jump-table
// vector living in a read-only data section); out of scope is everything
// about how that image is built or symbol-resolved (spec §1).
type MemoryImage interface {
	ReadBytes(addr Address, size int) (uint64, bool)
}

// NewEmulateFunction constructs an emulator over the given image.
func NewEmulateFunction(image MemoryImage) *EmulateFunction {
	return &EmulateFunction{Image: image}
}

// EmulatePath evaluates meld forward from startVn bound to val, returning
// the value reached at destVn once every melded op has been evaluated
// (spec §4.3.1 step 6) — destVn is normally the BRANCHIND's own address
// input, the node findDeterminingVarnodes originally walked backward from.
// If destVn is nil or never gets assigned (e.g. startVn is itself the
// destination), the bound value of startVn is returned. It returns a
// DataUnavailError if a LOAD can't be resolved against the image.
func (e *EmulateFunction) EmulatePath(val uint64, meld *PathMeld, destVn *Varnode, startVn *Varnode) (uint64, error) {
	vals := newVarnodeValueMap()
	vals.set(startVn, val)

	for i := 0; i < meld.NumOps(); i++ {
		op := meld.GetOp(i)
		if op.Out == nil {
			continue
		}
		result, err := e.evalOp(op, vals)
		if err != nil {
			return 0, err
		}
		vals.set(op.Out, result)
	}

	out := startVn
	if destVn != nil {
		out = destVn
	}
	if v, ok := vals.get(out); ok {
		return v, nil
	}
	return val, nil
}

func (e *EmulateFunction) evalOp(op *PcodeOp, vals *VarnodeValueMap) (uint64, error) {
	ins := make([]uint64, len(op.In))
	for i, in := range op.In {
		if in == nil {
			continue
		}
		if in.Flags.Has(VnConstant) {
			ins[i] = in.Addr.Offset
			continue
		}
		if v, ok := vals.get(in); ok {
			ins[i] = v
			continue
		}
		// Not yet assigned: treat as zero, the conservative fallback for
		// inputs outside the meld (e.g. a guard's baseVn).
	}

	switch op.Opc {
	case OpCopy, OpIntZext, OpIntSext:
		return mask(ins[0], op.Out.Size), nil
	case OpIntAdd:
		return mask(ins[0]+ins[1], op.Out.Size), nil
	case OpIntSub:
		return mask(ins[0]-ins[1], op.Out.Size), nil
	case OpIntMult:
		return mask(ins[0]*ins[1], op.Out.Size), nil
	case OpIntAnd:
		return mask(ins[0]&ins[1], op.Out.Size), nil
	case OpIntOr:
		return mask(ins[0]|ins[1], op.Out.Size), nil
	case OpIntXor:
		return mask(ins[0]^ins[1], op.Out.Size), nil
	case OpSubpiece:
		return mask(ins[0]>>(8*ins[1]), op.Out.Size), nil
	case OpPiece:
		shift := uint(8 * op.In[1].Size)
		return mask((ins[0]<<shift)|ins[1], op.Out.Size), nil
	case OpLoad:
		addr := Address{Space: op.In[0].Addr.Space, Offset: ins[1]}
		if len(op.In) > 0 && op.In[0].Flags.Has(VnConstant) {
			addr.Space = op.In[0].Addr.Space
		}
		v, ok := e.Image.ReadBytes(addr, op.Out.Size)
		if !ok {
			return 0, coreerr.WrapDataUnavail(op.Seq.Addr.String(), &coreerr.DataUnavailError{Addr: addr.String()})
		}
		if e.CollectLoads {
			e.Loadpoints = append(e.Loadpoints, addr)
		}
		return v, nil
	default:
		return ins[0], nil
	}
}

func mask(v uint64, size int) uint64 {
	if size <= 0 || size >= 8 {
		return v
	}
	return v & ((uint64(1) << uint(size*8)) - 1)
}
