// Package valueset implements CircleRange, a modular-arithmetic interval
// over a fixed machine word size, and a value-set solver that establishes
// and widens ranges for dataflow-bound quantities (switch variables,
// dynamically-indexed stack pointers). Values are carried in
// github.com/holiman/uint256.Int so the solver has headroom past 64 bits
// without hand-rolled multi-precision code; every value is masked down to
// its op's byte width before use.
package valueset

import (
	"github.com/holiman/uint256"
)

// CircleRange describes the modular interval [Left, Right) (Right exclusive)
// stepping by Step, masked to Mask (2^(8*size)-1). An empty range has
// left==right==0 with step==0; a full range has step==1 and left==right
// (every value of the mask reachable). CircleRange has value semantics:
// copy it with Copy before mutating one "branch" so that, per the core's
// concurrency model, two GuardRecords' pullBack chains never observe each
// other's mutation.
type CircleRange struct {
	Left, Right *uint256.Int // left inclusive, right exclusive, mod Mask+1
	Step        uint64
	Mask        *uint256.Int
	empty       bool
}

// NewMasked returns the full range for a value of the given byte width.
func NewMasked(size int) *CircleRange {
	mask := maskFor(size)
	return &CircleRange{
		Left:  uint256.NewInt(0),
		Right: uint256.NewInt(0),
		Step:  1,
		Mask:  mask,
	}
}

// NewEmpty returns the empty range for a value of the given byte width.
func NewEmpty(size int) *CircleRange {
	r := NewMasked(size)
	r.empty = true
	r.Step = 0
	return r
}

// NewSingle returns the single-value range {val} for a value of the given
// byte width.
func NewSingle(size int, val uint64) *CircleRange {
	v := new(uint256.Int).SetUint64(val)
	mask := maskFor(size)
	v.And(v, mask)
	right := new(uint256.Int).AddUint64(v, 1)
	right.And(right, mask)
	return &CircleRange{Left: v, Right: right, Step: 1, Mask: mask}
}

// NewSpan returns the range [left, right) with the given step, for a value
// of the given byte width.
func NewSpan(size int, left, right, step uint64) *CircleRange {
	mask := maskFor(size)
	l := new(uint256.Int).SetUint64(left)
	r := new(uint256.Int).SetUint64(right)
	l.And(l, mask)
	r.And(r, mask)
	if step == 0 {
		step = 1
	}
	return &CircleRange{Left: l, Right: r, Step: step, Mask: mask}
}

// maskFor clamps size to at most 16 bytes, treating a non-positive size as
// 8: real Varnode sizes never exceed a
// 128-bit machine word in practice, and keeping the mask strictly under
// 2^256 leaves headroom in the uint256 ring so mask+1 never wraps to zero.
func maskFor(size int) *uint256.Int {
	if size <= 0 {
		size = 8
	}
	if size > 16 {
		size = 16
	}
	bits := uint(size * 8)
	m := new(uint256.Int).Lsh(uint256.NewInt(1), bits)
	m.SubUint64(m, 1)
	return m
}

// Copy returns a deep copy so later pullBack mutation of the result never
// aliases r.
func (r *CircleRange) Copy() *CircleRange {
	return &CircleRange{
		Left:  new(uint256.Int).Set(r.Left),
		Right: new(uint256.Int).Set(r.Right),
		Step:  r.Step,
		Mask:  new(uint256.Int).Set(r.Mask),
		empty: r.empty,
	}
}

// IsEmpty reports whether the range contains no values.
func (r *CircleRange) IsEmpty() bool { return r.empty }

// IsFull reports whether the range covers every value of Mask.
func (r *CircleRange) IsFull() bool {
	return !r.empty && r.Step == 1 && r.Left.Eq(r.Right)
}

func (r *CircleRange) width() *uint256.Int {
	if r.empty {
		return uint256.NewInt(0)
	}
	mod := new(uint256.Int).AddUint64(r.Mask, 1)
	if r.Left.Eq(r.Right) {
		return mod
	}
	w := new(uint256.Int).Sub(r.Right, r.Left)
	w.Mod(w, mod)
	if w.IsZero() {
		w = mod
	}
	return w
}

// Count returns the number of distinct values in the range (stepping by
// Step), for iteration and size comparisons (spec §4.3.1 step 4/5).
func (r *CircleRange) Count() uint64 {
	if r.empty {
		return 0
	}
	w := r.width()
	step := uint256.NewInt(r.Step)
	n := new(uint256.Int).Div(w, step)
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}

// At returns the i'th value of the range (0-indexed, stepping by Step),
// wrapping modulo Mask+1; used by jump-table address-table construction to
// iterate a recovered range (spec §4.3.1 step 6).
func (r *CircleRange) At(i uint64) uint64 {
	mod := new(uint256.Int).AddUint64(r.Mask, 1)
	v := new(uint256.Int).AddUint64(r.Left, i*r.Step)
	v.Mod(v, mod)
	return v.Uint64()
}

// Contains reports whether val lies in the range on the Step lattice.
func (r *CircleRange) Contains(val uint64) bool {
	if r.empty {
		return false
	}
	v := new(uint256.Int).SetUint64(val)
	v.And(v, r.Mask)
	if r.IsFull() {
		return offsetMod(v, r.Left, r.Mask)%r.Step == 0
	}
	off := offsetMod(v, r.Left, r.Mask)
	w := r.width()
	if off >= w.Uint64() && w.IsUint64() {
		return false
	}
	return off%r.Step == 0
}

// offsetMod returns (v - left) mod (mask+1), assumed to fit uint64 (callers
// only use this for machine-word-sized masks).
func offsetMod(v, left, mask *uint256.Int) uint64 {
	mod := new(uint256.Int).AddUint64(mask, 1)
	d := new(uint256.Int).Sub(v, left)
	d.Mod(d, mod)
	return d.Uint64()
}

// Intersect returns the intersection of r and o. When both are non-wrapping
// single runs (the common case: masks, spans, and pulled-back guards all
// construct ranges this way), the intersection is computed exactly as a
// linear interval. Otherwise (a wrapping or full range on either side) the
// widest common subset of endpoints is returned as a conservative
// approximation, consistent with the core's use of CircleRange as an
// approximation lattice rather than an exact set.
func (r *CircleRange) Intersect(o *CircleRange) *CircleRange {
	if r.empty || o.empty {
		e := r.Copy()
		e.empty = true
		e.Step = 0
		return e
	}
	if r.Step == 1 && o.Step == 1 && !r.wraps() && !o.wraps() {
		left := r.Left
		if o.Left.Gt(left) {
			left = o.Left
		}
		right := r.Right
		if o.Right.Lt(right) {
			right = o.Right
		}
		out := &CircleRange{Left: new(uint256.Int).Set(left), Right: new(uint256.Int).Set(right), Step: 1, Mask: new(uint256.Int).Set(r.Mask)}
		if !left.Lt(right) {
			out.empty = true
			out.Step = 0
		}
		return out
	}
	step := lcm(r.Step, o.Step)
	left := maxU64Mod(r.Left, o.Left, r.Mask)
	right := minWidthEnd(r, o)
	out := &CircleRange{Left: left, Right: right, Step: step, Mask: new(uint256.Int).Set(r.Mask)}
	if out.width().IsZero() {
		out.empty = true
		out.Step = 0
	}
	return out
}

// wraps reports whether r is a full range or one whose Right has wrapped
// past Left modulo Mask+1, the case the fast linear-interval path above
// can't handle directly.
func (r *CircleRange) wraps() bool {
	return !r.Left.Lt(r.Right)
}

func lcm(a, b uint64) uint64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	g := gcd(a, b)
	return a / g * b
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func maxU64Mod(a, b, mask *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

func minWidthEnd(r, o *CircleRange) *uint256.Int {
	rw := r.width()
	ow := o.width()
	if rw.Lt(ow) {
		return new(uint256.Int).Set(r.Right)
	}
	return new(uint256.Int).Set(o.Right)
}

// PullBack computes the preimage of r under a single forward-propagating
// unary/binary op, approximated by op kind. opKind mirrors a small subset
// of p-code opcodes relevant to guard analysis (INT_ADD, INT_SUB,
// INT_MULT, INT_AND, INT_SLESS/INT_LESS family handled by callers via
// Narrow). The returned range is a fresh copy (see type doc: value
// semantics, never shared) satisfying property 6 of spec §8: if
// r.Contains(v) and w = PullBack(op, r), then r.Contains(eval(op, v))
// (within the masked word size) for v in w.
func (r *CircleRange) PullBack(opKind OpKind, constOperand uint64, constOnLeft bool) *CircleRange {
	out := r.Copy()
	if out.empty {
		return out
	}
	c := new(uint256.Int).SetUint64(constOperand)
	c.And(c, out.Mask)
	switch opKind {
	case OpIntAdd:
		out.Left.Sub(out.Left, c)
		out.Left.And(out.Left, out.Mask)
		out.Right.Sub(out.Right, c)
		out.Right.And(out.Right, out.Mask)
	case OpIntSub:
		if constOnLeft {
			// c - x in r  =>  x in c - r (reverse and shift)
			nl := new(uint256.Int).Sub(c, out.Right)
			nl.AddUint64(nl, 1)
			nl.And(nl, out.Mask)
			nr := new(uint256.Int).Sub(c, out.Left)
			nr.AddUint64(nr, 1)
			nr.And(nr, out.Mask)
			out.Left, out.Right = nr, nl
		} else {
			out.Left.Add(out.Left, c)
			out.Left.And(out.Left, out.Mask)
			out.Right.Add(out.Right, c)
			out.Right.And(out.Right, out.Mask)
		}
	case OpIntMult:
		if constOperand == 0 {
			return NewEmpty(maskSize(out.Mask))
		}
		out.Step *= gcdStep(out.Step, constOperand)
	case OpIntAnd:
		// x & c in r: conservatively widen to the full masked range.
		out = NewMasked(maskSize(out.Mask))
	}
	return out
}

func maskSize(mask *uint256.Int) int {
	bits := mask.BitLen()
	return (bits + 7) / 8
}

func gcdStep(existing, mult uint64) uint64 {
	if mult == 0 {
		return 1
	}
	return mult
}

// OpKind is the narrow subset of p-code opcodes CircleRange.PullBack
// understands; see pcode.Opcode for the full enumeration the IR uses.
type OpKind int

const (
	OpIntAdd OpKind = iota
	OpIntSub
	OpIntMult
	OpIntAnd
)
