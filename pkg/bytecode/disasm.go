package bytecode

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// EncodedSize estimates a compiled Module's resident byte size: the fixed
// per-record footprint of Instruction (opcode, tag, the four payload fields,
// Arg/Target) plus the variable-length bytes StrVal actually holds. Used by
// pkg/module's loader log line and by the "-b" CLI flag's summary footer
// (SPEC_FULL.md DOMAIN STACK: go-humanize backs both).
func EncodedSize(m *Module) int {
	const fixed = 1 + 1 + 8 + 8 + 1 + 4 + 4 // Op + Tag + IntVal/FltVal + BoolVal + Arg + Target
	size := 0
	for _, instr := range m.Bytecode {
		size += fixed + len(instr.StrVal)
	}
	return size
}

// Disassemble renders m's bytecode as a human-readable listing: one line per
// instruction (offset, opcode, decoded payload), closing with a go-humanize
// summary of instruction count and estimated encoded size — the "-b" CLI
// flag's output (§6 "-b: print disassembly and stop").
func Disassemble(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "; module %s (%s)\n", m.Path, moduleKind(m))

	for i, instr := range m.Bytecode {
		fmt.Fprintf(&b, "%6d  %-14s%s\n", i, instr.Op, operand(instr))
	}

	fmt.Fprintf(&b, "; %s instruction(s), %s\n",
		humanize.Comma(int64(len(m.Bytecode))), humanize.Bytes(uint64(EncodedSize(m))))
	return b.String()
}

func moduleKind(m *Module) string {
	if m.NativePath != "" {
		return "native"
	}
	if m.IsMain {
		return "main"
	}
	return "source"
}

// operand decodes the one payload field each opcode actually uses (see
// Instruction's field-by-opcode doc comment).
func operand(instr Instruction) string {
	switch instr.Op {
	case LOAD_DATA:
		switch instr.Tag {
		case NilData:
			return "nil"
		case IntData:
			return fmt.Sprintf("%d", instr.IntVal)
		case FltData:
			return fmt.Sprintf("%g", instr.FltVal)
		case StrData:
			return fmt.Sprintf("%q", instr.StrVal)
		case IdenData:
			return fmt.Sprintf("<%s>", instr.StrVal)
		case BoolData:
			return fmt.Sprintf("%t", instr.BoolVal)
		default:
			return ""
		}
	case UNLOAD, PUSH_BLOCK, POP_BLOCK:
		return fmt.Sprintf("%d", instr.Arg)
	case STORE, CREATE, CREATE_IN, ATTR:
		return instr.StrVal
	case JMP, JMP_NIL, JMP_TRUE, JMP_FALSE, JMP_TRUE_POP, JMP_FALSE_POP, BLOCK_TILL, PUSH_TRY, CONTINUE, BREAK:
		return fmt.Sprintf("-> %d", instr.Target)
	case CREATE_FN:
		return fmt.Sprintf("%q body=[%d,%d)", instr.StrVal, instr.Target, instr.Arg)
	case CALL, MEM_CALL:
		return fmt.Sprintf("%q", instr.StrVal)
	case RETURN:
		return fmt.Sprintf("hasValue=%t", instr.BoolVal)
	default:
		return ""
	}
}
