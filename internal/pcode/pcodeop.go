package pcode

import "errors"

var (
	errDeleteStillWritten = errors.New("pcode: cannot delete a varnode that still has a defining op")
	errDeleteStillRead    = errors.New("pcode: cannot delete a varnode that still has readers")
)

// PcodeOpFlags is a bitset of the PcodeOp flags named in spec §3.
type PcodeOpFlags uint32

const (
	OpDead PcodeOpFlags = 1 << iota
	OpMark
	OpFlagCall
	OpFlagMarker // MULTIEQUAL or INDIRECT
	OpBooleanFlip
	OpIndirectStore
	OpIndirectCreation
	OpSpacebasePtr
	OpNoCollapse
	OpNonPrinting
	OpReturnCopy
	OpPartialRoot
)

func (f PcodeOpFlags) Has(bit PcodeOpFlags) bool { return f&bit != 0 }

// SeqNum orders ops within a block: monotonic per spec §3.
type SeqNum struct {
	Addr  Address
	Order uint32
}

func (s SeqNum) Less(o SeqNum) bool {
	if c := s.Addr.Compare(o.Addr); c != 0 {
		return c < 0
	}
	return s.Order < o.Order
}

// PcodeOp is one low-level IR instruction.
type PcodeOp struct {
	Opc    Opcode
	Seq    SeqNum
	Parent *BlockBasic
	In     []*Varnode
	Out    *Varnode
	Flags  PcodeOpFlags

	// IndirectTarget is set on an INDIRECT op to the op it shadows (the
	// call or STORE it models the side effect of), per spec §3's
	// "INDIRECT immediately precedes the op it shadows" invariant.
	IndirectTarget *PcodeOp
}

// NewOp constructs a detached op (not yet inserted into any block).
func NewOp(opc Opcode, seq SeqNum) *PcodeOp {
	op := &PcodeOp{Opc: opc, Seq: seq}
	if opc.IsMarker() {
		op.Flags |= OpFlagMarker
	}
	if opc.IsCall() {
		op.Flags |= OpFlagCall
	}
	return op
}

// SetInput sets input slot i to vn, updating vn's descend list. Slots are
// grown as needed (MULTIEQUAL/PIECE trees append incrementally).
func (op *PcodeOp) SetInput(i int, vn *Varnode) {
	for len(op.In) <= i {
		op.In = append(op.In, nil)
	}
	if old := op.In[i]; old != nil {
		old.removeDescend(op)
	}
	op.In[i] = vn
	if vn != nil {
		vn.addDescend(op)
	}
}

// AppendInput appends vn as a new trailing input (used by MULTIEQUAL phi
// construction and PIECE-tree building).
func (op *PcodeOp) AppendInput(vn *Varnode) {
	op.In = append(op.In, vn)
	if vn != nil {
		vn.addDescend(op)
	}
}

// SetOutput links op as vn's defining op, setting VnWritten.
func (op *PcodeOp) SetOutput(vn *Varnode) {
	if op.Out != nil {
		op.Out.Def = nil
		op.Out.Flags &^= VnWritten
	}
	op.Out = vn
	if vn != nil {
		vn.Def = op
		vn.Flags |= VnWritten
	}
}

// Detach severs every input/output Varnode link, required before a
// PcodeOp can be removed from its block (spec §5).
func (op *PcodeOp) Detach() {
	for i, vn := range op.In {
		if vn != nil {
			vn.removeDescend(op)
		}
		op.In[i] = nil
	}
	if op.Out != nil {
		op.Out.Def = nil
		op.Out.Flags &^= VnWritten
		op.Out = nil
	}
}

// RecoverInputBinary reverses a binary op: given the output value and one
// known input's value, returns the value the other input must have held.
// Used by JumpTable.buildLabels to walk back from the normalized switch
// value to the original, un-normalized one (spec §4.3.1 step 9).
func (op *PcodeOp) RecoverInputBinary(outVal uint64, knownSlot int, knownVal uint64, mask uint64) (uint64, bool) {
	if len(op.In) != 2 {
		return 0, false
	}
	switch op.Opc {
	case OpIntAdd:
		if knownSlot == 0 {
			return (outVal - knownVal) & mask, true
		}
		return (outVal - knownVal) & mask, true
	case OpIntSub:
		if knownSlot == 0 {
			return (knownVal - outVal) & mask, true
		}
		return (outVal + knownVal) & mask, true
	case OpIntXor:
		return (outVal ^ knownVal) & mask, true
	case OpIntMult:
		if knownVal == 0 {
			return 0, false
		}
		if (outVal/knownVal)*knownVal == outVal {
			return (outVal / knownVal) & mask, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// RecoverInputUnary reverses a unary op (INT_ZEXT/INT_SEXT/INT_2COMP-style)
// for the same purpose as RecoverInputBinary.
func (op *PcodeOp) RecoverInputUnary(outVal uint64, mask uint64) (uint64, bool) {
	switch op.Opc {
	case OpIntZext, OpIntSext, OpCopy:
		return outVal & mask, true
	default:
		return 0, false
	}
}
