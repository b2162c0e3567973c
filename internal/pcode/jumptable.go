package pcode

import (
	"sort"

	"github.com/tsgates/decompiler-sub003/internal/coreerr"
)

// This file implements the JumpTable top-level driver (spec §4.3.6): model
// selection, the recoverAddresses/recoverMultistage/matchModel/
// recoverLabels/switchOver pipeline, and delegation of
// foldInNormalization/foldInGuards to whichever model recovered the table.
// The five models themselves (jumptable_basic.go, jumptable_basic2.go,
// jumptable_override.go, jumptable_assisted.go, jumptable_trivial.go)
// implement the jumptableModel interface this file drives.

const defaultMaxTableSize = 1024

// jumptableModel is the per-model strategy JumpTable drives through its
// fixed recovery pipeline (spec §4.3): recoverModel, buildAddresses,
// findUnnormalized, buildLabels, foldInNormalization, foldInGuards,
// sanityCheck, cloneModel.
type jumptableModel interface {
	name() string
	recoverModel(f *Function, jt *JumpTable) error
	buildAddresses(f *Function, jt *JumpTable) error
	findUnnormalized(f *Function, jt *JumpTable)
	buildLabels(f *Function, jt *JumpTable)
	foldInNormalization(f *Function, jt *JumpTable)
	foldInGuards(f *Function, jt *JumpTable)
	sanityCheck(f *Function, jt *JumpTable) error
	cloneModel() jumptableModel
}

// JumpTable is attached to a single BRANCHIND op and holds whichever
// model's recovered address table, label table, and fold-in state (spec
// §GLOSSARY).
type JumpTable struct {
	Op *PcodeOp

	Model      jumptableModel
	savedModel jumptableModel

	AddressTable []uint64
	Labels       []uint64
	Loadpoints   []Address

	Meld      *PathMeld
	Guards    []*GuardRecord
	Switchvn  *Varnode
	Normalvn  *Varnode

	DefaultIndex int
	MaxTableSize int
	FuncptrAlign uint64 // mask applied to recovered destinations, see Function.funcptrAlignMask

	multistageDepth int
}

// NewJumpTable allocates a JumpTable over a BRANCHIND op, with no alignment
// constraint until the caller threads one in from a Function (see
// recoverJumpTables).
func NewJumpTable(op *PcodeOp) *JumpTable {
	return &JumpTable{Op: op, MaxTableSize: defaultMaxTableSize, FuncptrAlign: ^uint64(0), DefaultIndex: -1}
}

// recoverJumpTables is the driver entry point called once per Heritage/
// JumpTable/Heritage cycle (spec §2): it attaches a JumpTable to every
// still-unresolved BRANCHIND and attempts recovery. A JumptableThunkError
// demotes the op to a tail call (it stops being considered a jump table but
// the function keeps compiling); any other error aborts the function's
// analysis.
func (f *Function) recoverJumpTables() error {
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if op.Opc != OpBranchind || op.Flags.Has(OpNoCollapse) {
				continue
			}
			if f.jumpTableFor(op) != nil {
				continue
			}
			jt := NewJumpTable(op)
			jt.FuncptrAlign = f.funcptrAlignMask()
			err := f.recoverAddresses(jt)
			if err != nil {
				if _, ok := err.(*coreerr.JumptableThunkError); ok {
					op.Flags |= OpNoCollapse
					f.AddWarning(coreerr.WarnSecondStageRecoveryError, "BRANCHIND treated as tail call: "+err.Error())
					continue
				}
				return err
			}
			f.recoverLabels(jt)
			if f.Flow != nil {
				f.switchOver(jt)
			}
			jt.Model.foldInNormalization(f, jt)
			jt.Model.foldInGuards(f, jt)
			f.jumpTables = append(f.jumpTables, jt)
		}
	}
	return nil
}

func (f *Function) jumpTableFor(op *PcodeOp) *JumpTable {
	for _, jt := range f.jumpTables {
		if jt.Op == op {
			return jt
		}
	}
	return nil
}

// modelsInOrder returns the models recoverAddresses tries, in the order
// spec §4.3 prescribes: Assisted (only if applicable), Override (only if
// the op has a user-declared table, see Function.RegisterOverride), Basic,
// Basic2, Trivial.
func modelsInOrder(f *Function, jt *JumpTable) []jumptableModel {
	var models []jumptableModel
	if assistedApplies(f, jt.Op) {
		models = append(models, &assistedModel{})
	}
	if _, ok := f.overrides[jt.Op.Seq.Addr]; ok {
		models = append(models, &overrideModel{})
	}
	models = append(models, &basicModel{}, &basic2Model{}, &trivialModel{})
	return models
}

// recoverAddresses implements spec §4.3.6: try each applicable model in
// order until one's recoverModel+buildAddresses+sanityCheck succeeds,
// collapsing loadpoints into the winning model's state.
func (f *Function) recoverAddresses(jt *JumpTable) error {
	var lastErr error
	for _, m := range modelsInOrder(f, jt) {
		jt.Model = m
		jt.AddressTable = nil
		jt.Loadpoints = nil
		if err := m.recoverModel(f, jt); err != nil {
			lastErr = err
			continue
		}
		if err := m.buildAddresses(f, jt); err != nil {
			lastErr = err
			continue
		}
		if err := m.sanityCheck(f, jt); err != nil {
			if _, ok := err.(*coreerr.JumptableThunkError); ok {
				return err
			}
			lastErr = err
			continue
		}
		if !f.matchModel(jt) {
			if err := f.recoverMultistage(jt); err != nil {
				lastErr = err
				continue
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = coreerr.NewLowLevelError(coreerr.ReasonDestinationNotFound)
	}
	return lastErr
}

// matchModel reports whether the model's declared table size (when it
// declares one, e.g. Assisted's size-pcode) matches AddressTable's actual
// length; a mismatch against a currently single-entry table triggers a
// multistage restart request (spec §4.3.6).
func (f *Function) matchModel(jt *JumpTable) bool {
	if sized, ok := jt.Model.(interface{ declaredSize() (int, bool) }); ok {
		if n, has := sized.declaredSize(); has && n != len(jt.AddressTable) {
			return len(jt.AddressTable) != 1
		}
	}
	return true
}

// recoverMultistage saves the current model and address table, retries
// recovery from scratch (bumping multistageDepth to bound recursion), and
// restores the saved state on failure (spec §4.3.6).
func (f *Function) recoverMultistage(jt *JumpTable) error {
	if jt.multistageDepth > 2 {
		return nil
	}
	saved := jt.Model.cloneModel()
	savedAddrs := append([]uint64{}, jt.AddressTable...)
	jt.multistageDepth++
	jt.savedModel = saved
	jt.AddressTable = nil
	if err := jt.Model.buildAddresses(f, jt); err != nil {
		jt.AddressTable = savedAddrs
		return nil
	}
	return nil
}

// recoverLabels implements spec §4.3.6: label against the saved model if
// recoverMultistage stashed one, otherwise rerun the current model's
// findUnnormalized and buildLabels.
func (f *Function) recoverLabels(jt *JumpTable) {
	if jt.savedModel != nil {
		jt.savedModel.buildLabels(f, jt)
		return
	}
	jt.Model.findUnnormalized(f, jt)
	jt.Model.buildLabels(f, jt)
}

// switchOver maps each recovered address to the BRANCHIND's parent block's
// out-edge index via f.Flow.Target, sorts by (position, index), and picks
// the most frequently occurring out-edge position as the default entry
// unless a guard fold already claimed one (spec §4.3.6).
func (f *Function) switchOver(jt *JumpTable) {
	if jt.Op.Parent == nil {
		return
	}
	type mapping struct {
		addr  uint64
		index int
	}
	mappings := make([]mapping, len(jt.AddressTable))
	counts := make(map[int]int)
	for i, addr := range jt.AddressTable {
		spaceAddr := Address{Space: jt.Op.Parent.addrSpace(), Offset: addr}
		idx := f.Flow.Target(jt.Op.Parent, spaceAddr)
		mappings[i] = mapping{addr: addr, index: idx}
		counts[idx]++
	}
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].index != mappings[j].index {
			return mappings[i].index < mappings[j].index
		}
		return mappings[i].addr < mappings[j].addr
	})
	if jt.DefaultIndex < 0 {
		best, bestCount := -1, -1
		for idx, c := range counts {
			if c > bestCount {
				best, bestCount = idx, c
			}
		}
		jt.DefaultIndex = best
	}
}

// addrSpace is a convenience used by switchOver to anchor a recovered
// address's space to the block's own code space, since AddressTable entries
// are bare offsets (spec §4.3.1 step 6 masks by funcptr-align but doesn't
// carry a space).
func (b *BlockBasic) addrSpace() *AddrSpace {
	for _, op := range b.Ops {
		if op.Seq.Addr.Space != nil {
			return op.Seq.Addr.Space
		}
	}
	return nil
}
