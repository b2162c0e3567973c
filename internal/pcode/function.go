package pcode

import (
	"github.com/tsgates/decompiler-sub003/internal/corelog"
	"github.com/tsgates/decompiler-sub003/internal/coreerr"
)

// FuncProto is the minimal callee-effect query interface Heritage's call
// guarding needs (spec §4.2.3); the full symbol/type system that would
// normally back it is out of scope (spec §1).
type FuncProto interface {
	// EffectOn classifies what the callee does to the given address range:
	// "unaffected", "killed", "unknown", or "return-address".
	EffectOn(addr Address, size int) CallEffect
	// ActiveOutputOverlaps reports whether addr/size overlaps the callee's
	// declared active-output parameter list, for RETURN guarding.
	ActiveOutputOverlaps(addr Address, size int) bool
}

// CallEffect classifies a callee's effect on a storage range.
type CallEffect int

const (
	EffectUnaffected CallEffect = iota
	EffectKilled
	EffectUnknown
	EffectReturnAddress
)

// FlowInfo is the minimal block/flow-graph query interface JumpTable needs
// (spec §4.3.6): mapping a recovered address to an out-edge of a given
// block.
type FlowInfo interface {
	// Target returns the out-edge index of block b whose control-flow
	// successor corresponds to addr, or -1 if none does.
	Target(b *BlockBasic, addr Address) int
}

// HeritageInfo is the per-AddrSpace heritage state (spec §4.2).
type HeritageInfo struct {
	Space              *AddrSpace
	Delay              int
	DeadCodeDelay       int
	TookDeadCodeRemoval bool
	LoadGuardSearched   bool
	WarningIssued       bool
	CallPlaceholders    bool // stack state still decorated with call placeholders
}

// Function is the Funcdata-equivalent driver (see SPEC_FULL.md,
// "Supplemented features"): it owns the VarnodeBank, the block list, per-
// space HeritageInfo, and runs the Heritage -> JumpTable -> Heritage ->
// Merge pipeline spec §2's data-flow paragraph describes.
type Function struct {
	Name    string
	Bank    *VarnodeBank
	Blocks  []*BlockBasic
	Entry   *BlockBasic
	Spaces  []*AddrSpace
	Proto   FuncProto
	Flow    FlowInfo
	Image   MemoryImage // backing memory for jump-table LOAD emulation; nil rejects LOAD resolution

	// FuncptrAlign is the architecture's function-pointer alignment in
	// bytes (spec §6's funcptr_align attribute); recovered jump-table
	// destinations are masked to this alignment. 0 or 1 means no
	// constraint.
	FuncptrAlign uint64

	heritageInfo map[int]*HeritageInfo // by space index
	pass         int
	globalDisjoint *LocationMap
	restartPending bool
	joinPieces   map[uint64][]Address // join-space offset -> constituent piece addresses

	adtStale bool

	warnings []coreerr.Warning
	jumpTables []*JumpTable
	highs      []*HighVariable

	loadGuards  []*LoadGuard
	storeGuards []*StoreGuard
	splitPreferences []SplitPreference

	overrides map[Address][]uint64 // BRANCHIND op address -> user-declared destination table
	assists   map[uint64]JumpAssist // CALLOTHER user-op index -> injected jump-assist scripts

	stackOps *PcodeOpSet // populated lazily, see stackAffectingOps
}

// funcptrAlignMask turns FuncptrAlign into a bitmask that clears the low
// alignment bits of a recovered destination address, or leaves every bit
// set when no alignment is configured.
func (f *Function) funcptrAlignMask() uint64 {
	if f.FuncptrAlign <= 1 {
		return ^uint64(0)
	}
	return ^(f.FuncptrAlign - 1)
}

// stackAffectingOps returns the set of call and indirect-store ops that can
// alias a local's storage (spec §4.4's "populated StackAffectingOps"),
// building it once per function on first use.
func (f *Function) stackAffectingOps() *PcodeOpSet {
	if f.stackOps != nil {
		return f.stackOps
	}
	s := NewPcodeOpSet(nil)
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc.IsCall() || op.Flags.Has(OpIndirectStore) {
				s.AddOp(op)
			}
		}
	}
	s.Finalize()
	f.stackOps = s
	return s
}

// JumpAssist bundles the (up to four) injected p-code scripts a
// jump-assist CALLOTHER user-op may carry (spec §4.3.4): size-pcode,
// index2addr, index2case, and default-addr. Each is optional; a nil field
// means that script wasn't injected. Since the core has no general p-code
// injection mechanism of its own (spec §1), these are supplied directly as
// Go closures over the function's own IR/image.
type JumpAssist struct {
	SizePcode   func(f *Function) (int, bool)
	Index2Addr  func(f *Function, index uint64) (uint64, error)
	Index2Case  func(f *Function, index uint64) (uint64, bool)
	DefaultAddr func(f *Function) (uint64, bool)
}

// RegisterJumpAssist declares the jump-assist scripts for CALLOTHER
// user-op index userOp, consumed by the Assisted model when a BRANCHIND's
// input traces to a CALLOTHER naming that index (spec §4.3.4).
func (f *Function) RegisterJumpAssist(userOp uint64, assist JumpAssist) {
	if f.assists == nil {
		f.assists = make(map[uint64]JumpAssist)
	}
	f.assists[userOp] = assist
}

// NewFunction constructs an empty Function over the given spaces.
func NewFunction(name string, spaces []*AddrSpace) *Function {
	f := &Function{
		Name:           name,
		Bank:           NewVarnodeBank(),
		Spaces:         spaces,
		heritageInfo:   make(map[int]*HeritageInfo),
		globalDisjoint: NewLocationMap(),
		joinPieces:     make(map[uint64][]Address),
		adtStale:       true,
	}
	for _, s := range spaces {
		f.heritageInfo[s.Index] = &HeritageInfo{Space: s, Delay: s.Delay, DeadCodeDelay: s.DeadCodeDelay}
	}
	return f
}

// NumBlocks returns the number of blocks, for allocating per-block
// bitmaps/slices the way dominance.go does.
func (f *Function) NumBlocks() int { return len(f.Blocks) }

// AddBlock appends a new block and returns it.
func (f *Function) AddBlock() *BlockBasic {
	b := &BlockBasic{ID: len(f.Blocks)}
	f.Blocks = append(f.Blocks, b)
	if f.Entry == nil {
		f.Entry = b
	}
	f.adtStale = true
	return b
}

// RegisterJoin records the constituent piece addresses behind a join-space
// offset, consumed by processJoins.
func (f *Function) RegisterJoin(joinOffset uint64, pieces []Address) {
	f.joinPieces[joinOffset] = pieces
}

// RegisterOverride declares a user-supplied destination table for the
// BRANCHIND at opAddr (spec §4.3.3's "Addresses are user-supplied"); the
// Override model looks up this table by the op's own address rather than a
// hashed normalization-Varnode lookup, since the symbol/annotation system
// that would back that lookup is out of scope (spec §1).
func (f *Function) RegisterOverride(opAddr Address, addrs []uint64) {
	if f.overrides == nil {
		f.overrides = make(map[Address][]uint64)
	}
	f.overrides[opAddr] = addrs
}

// InvalidateCFG marks cached dominance/ADT state stale, mirroring the
// teacher's invalidateCFG (ported from fkuehnel-golang-cfg's func.go).
func (f *Function) InvalidateCFG() { f.adtStale = true }

func (f *Function) ensureDominance() {
	if f.Entry == nil {
		return
	}
	buildDominatorTree(f.Entry, len(f.Blocks))
	if f.adtStale {
		buildADT(f)
	}
}

// AddWarning attaches a non-fatal diagnostic to the function (spec §7);
// implements coreerr.WarningSink.
func (f *Function) AddWarning(kind coreerr.WarningKind, detail string) {
	f.warnings = append(f.warnings, coreerr.Warning{Kind: kind, Detail: detail, Frame: corelog.CallerFrame()})
}

// Warnings returns every warning attached so far.
func (f *Function) Warnings() []coreerr.Warning { return f.warnings }

func (f *Function) heritageInfoFor(s *AddrSpace) *HeritageInfo {
	hi, ok := f.heritageInfo[s.Index]
	if !ok {
		hi = &HeritageInfo{Space: s, Delay: s.Delay, DeadCodeDelay: s.DeadCodeDelay}
		f.heritageInfo[s.Index] = hi
	}
	return hi
}

// RunAnalysis executes the full pipeline spec §2's data-flow paragraph
// describes: Heritage (repeatedly, until no space has pending free
// Varnodes or a restart is requested), then JumpTable recovery for every
// unresolved BRANCHIND, then Heritage again (new addresses freed by
// rewritten control flow), and finally Merge.
func (f *Function) RunAnalysis() error {
	const maxRestarts = 8
	for i := 0; i < maxRestarts; i++ {
		if err := f.runHeritageToFixpoint(); err != nil {
			return err
		}
		if err := f.recoverJumpTables(); err != nil {
			return err
		}
		if err := f.runHeritageToFixpoint(); err != nil {
			return err
		}
		if !f.restartPending {
			break
		}
		f.restartPending = false
	}
	return f.RunMerge()
}

func (f *Function) runHeritageToFixpoint() error {
	for {
		progressed, err := f.heritage()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}
