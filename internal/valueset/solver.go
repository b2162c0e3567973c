package valueset

// Node is the minimal dataflow-node abstraction the solver iterates over:
// a value carrying zero or more input nodes through a single OpKind. The
// pcode package implements this via a small adapter over its LoadGuards
// (see pcode.guardNode) rather than this package depending on pcode,
// keeping the dependency direction leaf-ward.
type Node interface {
	// Inputs returns this node's operand nodes (nil/empty for an input or
	// constant node).
	Inputs() []Node
	// ConstValue returns (value, true) if this node is a compile-time
	// constant.
	ConstValue() (uint64, bool)
	// Op returns the operation producing this node and its size in bytes;
	// ok is false when no operation produces it.
	Op() (kind OpKind, size int, ok bool)
	// Range returns the currently-established range for this node, or nil
	// if not yet computed.
	Range() *CircleRange
	// SetRange records a newly computed range for this node.
	SetRange(*CircleRange)
}

// Widener decides how aggressively to grow a range across solver
// iterations. NullWidener never widens (fast, partial: used for the first,
// cheap pass over a LoadGuard). FullWidener widens to a fixed cap once a
// range is seen to grow across two iterations (used to finalize a guard
// left unfinished by the null widener).
type Widener interface {
	Widen(old, new *CircleRange) *CircleRange
}

// NullWidener never changes the incoming range: iteration simply stops
// growing once a fixpoint is reached, or is reported Unfinished if it
// hasn't converged within MaxIterations.
type NullWidener struct{}

func (NullWidener) Widen(old, new *CircleRange) *CircleRange { return new }

// FullWidener widens an unstable range to a fixed-size window above the
// pointer base (spec §4.2.5: "larger or unstable ranges cap at a 0x1000
// window above the pointer base"), and keeps a tight range when the
// computed bound is small and right-stable across iterations.
type FullWidener struct {
	WindowSize uint64 // defaults to 0x1000 when zero
}

func (w FullWidener) Widen(old, new *CircleRange) *CircleRange {
	window := w.WindowSize
	if window == 0 {
		window = 0x1000
	}
	if old == nil {
		return new
	}
	oldCount := old.Count()
	newCount := new.Count()
	if newCount <= oldCount {
		// Right-stable: no growth this round, keep the tighter range.
		return new
	}
	// Growing: cap at a window-sized span from the established left edge.
	capped := new.Copy()
	size := maskSize(capped.Mask)
	widened := NewSpan(size, leftUint64(capped), leftUint64(capped)+window, capped.Step)
	return widened
}

func leftUint64(r *CircleRange) uint64 {
	if r.Left.IsUint64() {
		return r.Left.Uint64()
	}
	return 0
}

// Solver runs a fixpoint iteration over a small set of Nodes constrained by
// a Widener, establishing (Solver.Establish, the "fast, partial" pass) and
// finalizing (Solver.Finalize, the "full widener" pass) ranges the way
// Heritage's indexed-stack analysis needs for LoadGuard/StoreGuard bounds
// (spec §4.2.5).
type Solver struct {
	MaxIterations int // defaults to 10
}

// Establish runs a bounded fixpoint using NullWidener: fast, may leave
// nodes Unfinished (range still nil or still growing) if the dataflow
// doesn't converge quickly.
func (s *Solver) Establish(nodes []Node) (unfinished []Node) {
	return s.iterate(nodes, NullWidener{})
}

// Finalize re-runs the unfinished set with a FullWidener, guaranteeing
// termination by capping growth at a fixed window.
func (s *Solver) Finalize(nodes []Node) {
	s.iterate(nodes, FullWidener{})
}

func (s *Solver) iterate(nodes []Node, w Widener) []Node {
	max := s.MaxIterations
	if max <= 0 {
		max = 10
	}
	var unfinished []Node
	var grew []Node
	for i := 0; i < max; i++ {
		grew = grew[:0]
		for _, n := range nodes {
			old := n.Range()
			nw := s.evalNode(n)
			if nw == nil {
				continue
			}
			widened := w.Widen(old, nw)
			if old == nil || !sameRange(old, widened) {
				n.SetRange(widened)
				grew = append(grew, n)
			}
		}
		if len(grew) == 0 {
			unfinished = nil
			return unfinished
		}
	}
	for _, n := range nodes {
		if n.Range() == nil {
			unfinished = append(unfinished, n)
		}
	}
	// Nodes whose range still changed in the last iteration are unfinished too.
	return append(unfinished, grew...)
}

func sameRange(a, b *CircleRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Left.Eq(b.Left) && a.Right.Eq(b.Right) && a.Step == b.Step
}

func (s *Solver) evalNode(n Node) *CircleRange {
	if v, ok := n.ConstValue(); ok {
		kind, size, _ := n.Op()
		_ = kind
		if size == 0 {
			size = 8
		}
		return NewSingle(size, v)
	}
	kind, size, ok := n.Op()
	if !ok {
		return n.Range()
	}
	ins := n.Inputs()
	if len(ins) == 0 {
		return n.Range()
	}
	base := ins[0].Range()
	if base == nil {
		return nil
	}
	if len(ins) < 2 {
		return base.Copy()
	}
	cv, isConst := ins[1].ConstValue()
	if !isConst {
		return NewMasked(size)
	}
	return base.PullBack(reverse(kind), cv, false)
}

// reverse maps a forward op to the kind whose PullBack yields the forward
// image: PullBack computes a preimage, so a forward INT_ADD is evaluated as
// a PullBack through INT_SUB and vice versa; other kinds pass through
// unchanged (the solver always evaluates with the constant as the second
// operand).
func reverse(k OpKind) OpKind {
	switch k {
	case OpIntAdd:
		return OpIntSub
	case OpIntSub:
		return OpIntAdd
	}
	return k
}
