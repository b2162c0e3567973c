package pcode

// Opcode enumerates the p-code operations the core's analyses need to
// recognize by name. This is not the full lifter opcode set (out of scope,
// §1) — only the ones Heritage, JumpTable, and Merge branch on by name.
type Opcode int

const (
	OpCopy Opcode = iota
	OpLoad
	OpStore
	OpBranch
	OpCbranch
	OpBranchind
	OpCall
	OpCallind
	OpCallother
	OpReturn
	OpMultiequal
	OpIndirect
	OpPiece
	OpSubpiece
	OpIntAdd
	OpIntSub
	OpIntMult
	OpIntAnd
	OpIntOr
	OpIntXor
	OpIntZext
	OpIntSext
	OpIntLess
	OpIntSless
	OpIntEqual
	OpIntNotEqual
	OpFloat2Float
	OpSegmentOp
	OpBoolNegate
)

var opcodeNames = map[Opcode]string{
	OpCopy: "COPY", OpLoad: "LOAD", OpStore: "STORE", OpBranch: "BRANCH",
	OpCbranch: "CBRANCH", OpBranchind: "BRANCHIND", OpCall: "CALL",
	OpCallind: "CALLIND", OpCallother: "CALLOTHER", OpReturn: "RETURN",
	OpMultiequal: "MULTIEQUAL", OpIndirect: "INDIRECT", OpPiece: "PIECE",
	OpSubpiece: "SUBPIECE", OpIntAdd: "INT_ADD", OpIntSub: "INT_SUB",
	OpIntMult: "INT_MULT", OpIntAnd: "INT_AND", OpIntOr: "INT_OR",
	OpIntXor: "INT_XOR", OpIntZext: "INT_ZEXT", OpIntSext: "INT_SEXT",
	OpIntLess: "INT_LESS", OpIntSless: "INT_SLESS", OpIntEqual: "INT_EQUAL",
	OpIntNotEqual: "INT_NOTEQUAL", OpFloat2Float: "FLOAT2FLOAT",
	OpSegmentOp: "SEGMENTOP", OpBoolNegate: "BOOL_NEGATE",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsMarker reports whether o is a MULTIEQUAL or INDIRECT, the two "marker"
// ops that encode phi-joins and call/store side-effect edges.
func (o Opcode) IsMarker() bool { return o == OpMultiequal || o == OpIndirect }

// IsCall reports whether o is a call-family op.
func (o Opcode) IsCall() bool { return o == OpCall || o == OpCallind || o == OpCallother }

// IsCommutative reports whether operand order doesn't matter.
func (o Opcode) IsCommutative() bool {
	switch o {
	case OpIntAdd, OpIntMult, OpIntAnd, OpIntOr, OpIntXor, OpIntEqual, OpIntNotEqual:
		return true
	default:
		return false
	}
}
