// Package bytecode defines the linear instruction form pkg/codegen emits and
// pkg/vm executes (§3 "Instruction", §6 "Opcode set").
//
// Shaped on the teacher's pkg/vm package: a flat Operation/Module/Program set with
// one type per op-family, except here there is a single Opcode enum (the source
// language has one instruction set, not Memory/Arithmetic/Branch families the way the
// Hack VM IR does).
package bytecode

import "github.com/feral-lang/feral/pkg/source"

// Opcode is the exact set required by §6; implementers may add synonyms but the spec
// forbids removing any of these.
type Opcode uint8

const (
	LOAD_DATA Opcode = iota
	UNLOAD
	STORE
	CREATE
	CREATE_IN

	PUSH_BLOCK
	POP_BLOCK
	PUSH_LOOP
	POP_LOOP

	RETURN
	BLOCK_TILL
	CREATE_FN

	CONTINUE
	BREAK

	JMP
	JMP_NIL
	JMP_TRUE
	JMP_FALSE
	JMP_TRUE_POP
	JMP_FALSE_POP

	PUSH_TRY
	POP_TRY

	ATTR
	CALL
	MEM_CALL
)

var opcodeNames = map[Opcode]string{
	LOAD_DATA: "LOAD_DATA", UNLOAD: "UNLOAD", STORE: "STORE", CREATE: "CREATE",
	CREATE_IN: "CREATE_IN", PUSH_BLOCK: "PUSH_BLOCK", POP_BLOCK: "POP_BLOCK",
	PUSH_LOOP: "PUSH_LOOP", POP_LOOP: "POP_LOOP", RETURN: "RETURN",
	BLOCK_TILL: "BLOCK_TILL", CREATE_FN: "CREATE_FN", CONTINUE: "CONTINUE",
	BREAK: "BREAK", JMP: "JMP", JMP_NIL: "JMP_NIL", JMP_TRUE: "JMP_TRUE",
	JMP_FALSE: "JMP_FALSE", JMP_TRUE_POP: "JMP_TRUE_POP", JMP_FALSE_POP: "JMP_FALSE_POP",
	PUSH_TRY: "PUSH_TRY", POP_TRY: "POP_TRY", ATTR: "ATTR", CALL: "CALL",
	MEM_CALL: "MEM_CALL",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN_OPCODE"
}

// DataTag discriminates Instruction.Data, matching §6's "NIL | INT | FLT | STR |
// IDEN | BOOL" payload set exactly (plus an internal "none" used by opcodes that
// carry no Value-shaped payload, e.g. UNLOAD's count or JMP's target offset — those
// are carried in Instruction.Arg / Instruction.Target, not Data).
type DataTag uint8

const (
	NoData DataTag = iota
	NilData
	IntData
	FltData
	StrData
	IdenData
	BoolData
)

// Instruction is one bytecode record: an Opcode, its source Location (for runtime
// error reporting), and at most one payload. Which field is meaningful depends on
// the Opcode:
//   - LOAD_DATA: Tag + (IntVal | FltVal | StrVal | BoolVal), or Tag==IdenData with
//     StrVal holding the identifier name.
//   - UNLOAD, PUSH_BLOCK, POP_BLOCK: Arg is the count.
//   - STORE, CREATE/CREATE_IN/ATTR: StrVal is the bound/looked-up name (DESIGN.md
//     Open Question decision 3 — STORE resolves through the same attribute-based-
//     value path CREATE_IN does, rather than treating the popped "identifier" as an
//     opaque stack value with no instruction-level name).
//   - JMP family, BLOCK_TILL, PUSH_TRY, CONTINUE, BREAK: Target is the absolute
//     bytecode offset.
//   - CREATE_FN, CALL, MEM_CALL: StrVal carries the argInfo string (§4.4/§4.6); it's
//     variable-length (one character per parameter/argument) so it doesn't fit the
//     fixed-width Arg field. CREATE_FN additionally carries the function body's byte
//     range: Target is bodyStart, Arg is bodyEnd (the matching BLOCK_TILL's own
//     patched target) — both are needed to bound a FnValue's ModuleID/BodyStart/
//     BodyEnd without re-scanning backward for the preceding BLOCK_TILL.
//   - RETURN: BoolVal is hasValue.
type Instruction struct {
	Op  Opcode
	Loc source.Location
	Tag DataTag

	IntVal  int64
	FltVal  float64
	BoolVal bool
	StrVal  string

	Arg    uint32 // count, or CREATE_FN's body end offset (argInfo lives in StrVal)
	Target uint32 // patched jump/try/fn-body target offset
}

// Module is one compiled translation unit: its bytecode vector plus the handful of
// facts the loader and VM need without re-deriving them (§3 "Module").
type Module struct {
	ID         uint64 // primary source ID, doubles as the Module-table key's basis
	Path       string
	Dir        string
	Bytecode   []Instruction
	IsMain     bool
	NativePath string // "" for source modules; shared-object path for native ones
}
