package codegen_test

import (
	"testing"

	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/codegen"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/parser"
	"github.com/feral-lang/feral/pkg/simplify"
	"github.com/feral-lang/feral/pkg/source"
)

func compile(t *testing.T, src string) []bytecode.Instruction {
	t.Helper()
	registry := source.NewRegistry()
	unit := registry.Load("<test>", "", []byte(src))

	tokens, err := lexer.New(unit).Lex()
	if err != nil {
		t.Fatalf("unexpected lex error for %q: %v", src, err)
	}
	prog, err := parser.New(tokens).Parse()
	if err != nil {
		t.Fatalf("unexpected parse error for %q: %v", src, err)
	}
	simplified := simplify.Run(prog)
	code, err := codegen.Generate(simplified)
	if err != nil {
		t.Fatalf("unexpected codegen error for %q: %v", src, err)
	}
	return code
}

func opcodes(code []bytecode.Instruction) []bytecode.Opcode {
	ops := make([]bytecode.Opcode, len(code))
	for i, ins := range code {
		ops[i] = ins.Op
	}
	return ops
}

func assertOps(t *testing.T, code []bytecode.Instruction, want ...bytecode.Opcode) {
	t.Helper()
	got := opcodes(code)
	if len(got) != len(want) {
		t.Fatalf("expected %d instructions %v, got %d: %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("instruction %d: expected %s, got %s (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestArithmeticExpressionLowersToMemCall(t *testing.T) {
	// 'x' isn't a literal, so it survives simplify's constant folding and codegen
	// must lower the '+' operator itself: rhs, lhs, method name, MEM_CALL, then the
	// UNLOAD that drops the unused expression-statement value.
	code := compile(t, "let x = 1; x + 2;")
	// CREATE for 'let x = 1;', then the second statement.
	if code[0].Op != bytecode.LOAD_DATA || code[1].Op != bytecode.CREATE {
		t.Fatalf("expected CREATE for 'let x', got %v", opcodes(code))
	}
	rest := code[2:]
	assertOps(t, rest,
		bytecode.LOAD_DATA, // 2 (rhs)
		bytecode.LOAD_DATA, // x (receiver)
		bytecode.LOAD_DATA, // "+"
		bytecode.MEM_CALL,
		bytecode.UNLOAD,
	)
	memCall := rest[3]
	if memCall.StrVal != "0" {
		t.Fatalf("expected argInfo \"0\" for single positional operand, got %q", memCall.StrVal)
	}
}

func TestIfElseJumpTargetsBalance(t *testing.T) {
	code := compile(t, `let y = 0; if y { 1; } else { 2; }`)
	// Find the JMP_FALSE_POP and confirm its target lands past the true-arm's JMP.
	var falsePop, jmp *bytecode.Instruction
	for i := range code {
		switch code[i].Op {
		case bytecode.JMP_FALSE_POP:
			falsePop = &code[i]
		case bytecode.JMP:
			jmp = &code[i]
		}
	}
	if falsePop == nil || jmp == nil {
		t.Fatalf("expected a JMP_FALSE_POP and a JMP, got %v", opcodes(code))
	}
	jmpIdx := indexOf(code, jmp)
	if int(falsePop.Target) != jmpIdx+1 {
		t.Fatalf("expected JMP_FALSE_POP to target the else arm, right after the true arm's JMP at %d; got target %d", jmpIdx, falsePop.Target)
	}
	// The true arm's JMP skips the else arm entirely, landing at the end of the
	// whole conditional (no statement follows it here).
	if int(jmp.Target) != len(code) {
		t.Fatalf("expected the true arm's JMP to target the end of the conditional (%d), got %d", len(code), jmp.Target)
	}
}

func indexOf(code []bytecode.Instruction, ins *bytecode.Instruction) int {
	for i := range code {
		if &code[i] == ins {
			return i
		}
	}
	return -1
}

func TestForLoopPatchesContinueAndBreak(t *testing.T) {
	code := compile(t, `for let i = 0; i; i = i + 1 { continue; break; }`)
	var pushLoop, popLoop, cont, brk *bytecode.Instruction
	var popLoopIdx int
	for i := range code {
		switch code[i].Op {
		case bytecode.PUSH_LOOP:
			pushLoop = &code[i]
		case bytecode.POP_LOOP:
			popLoop = &code[i]
			popLoopIdx = i
		case bytecode.CONTINUE:
			cont = &code[i]
		case bytecode.BREAK:
			brk = &code[i]
		}
	}
	if pushLoop == nil || popLoop == nil || cont == nil || brk == nil {
		t.Fatalf("expected PUSH_LOOP/POP_LOOP/CONTINUE/BREAK, got %v", opcodes(code))
	}
	// break must target at or before POP_LOOP (the loop's end); continue must
	// target the step clause, strictly before POP_LOOP.
	if int(brk.Target) > popLoopIdx {
		t.Fatalf("break target %d should not be after POP_LOOP at %d", brk.Target, popLoopIdx)
	}
	if int(cont.Target) >= popLoopIdx {
		t.Fatalf("continue target %d should land on the step clause, before POP_LOOP at %d", cont.Target, popLoopIdx)
	}
}

func TestForInLowersToHiddenIteratorVariable(t *testing.T) {
	code := compile(t, `for x in items { x; }`)
	foundNext := false
	foundJmpNil := false
	for _, ins := range code {
		if ins.Op == bytecode.ATTR && ins.StrVal == "next" {
			foundNext = true
		}
		if ins.Op == bytecode.JMP_NIL {
			foundJmpNil = true
		}
	}
	if !foundNext {
		t.Fatalf("expected an ATTR \"next\" call, got %v", opcodes(code))
	}
	if !foundJmpNil {
		t.Fatalf("expected a JMP_NIL ending the loop on exhaustion, got %v", opcodes(code))
	}
}

func TestFunctionLiteralEncodesArgInfo(t *testing.T) {
	code := compile(t, `fn f(a, b=1, ...rest) { return a; }`)
	var createFn *bytecode.Instruction
	for i := range code {
		if code[i].Op == bytecode.CREATE_FN {
			createFn = &code[i]
		}
	}
	if createFn == nil {
		t.Fatalf("expected a CREATE_FN, got %v", opcodes(code))
	}
	// argInfo: [0]=kwargs bag absent='0', [1]=variadic present='1' ('...rest' isn't
	// a Sig.Param, just Sig.Variadic), then one char per declared parameter in
	// reverse source order: b(default)='1', a(no default)='0'.
	if createFn.StrVal != "0110" {
		t.Fatalf("expected argInfo \"0110\", got %q", createFn.StrVal)
	}
}

func TestFunctionBodyEndingInReturnHasNoSyntheticReturn(t *testing.T) {
	code := compile(t, `fn f() { return 1; }`)
	count := 0
	for _, ins := range code {
		if ins.Op == bytecode.RETURN {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 RETURN (no synthetic trailing one), got %d: %v", count, opcodes(code))
	}
}

func TestOrHandlerLowersToTryCatch(t *testing.T) {
	code := compile(t, `risky() or err { 1; };`)
	assertPrefixContains(t, code, bytecode.PUSH_TRY, bytecode.POP_TRY, bytecode.JMP)
}

func assertPrefixContains(t *testing.T, code []bytecode.Instruction, want ...bytecode.Opcode) {
	t.Helper()
	idx := 0
	for _, ins := range code {
		if idx < len(want) && ins.Op == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Fatalf("expected ops %v to appear in order, got %v", want, opcodes(code))
	}
}

func TestStructLiteralLowersToKeywordCall(t *testing.T) {
	code := compile(t, `Point{x=1, y=2};`)
	var call *bytecode.Instruction
	for i := range code {
		if code[i].Op == bytecode.CALL {
			call = &code[i]
		}
	}
	if call == nil {
		t.Fatalf("expected a CALL, got %v", opcodes(code))
	}
	if call.StrVal != "11" {
		t.Fatalf("expected all-keyword argInfo \"11\", got %q", call.StrVal)
	}
}

func TestIndexedAssignmentLowersToSetMethodCall(t *testing.T) {
	code := compile(t, `v[0] = 1;`)
	var memCall *bytecode.Instruction
	for i := range code {
		if code[i].Op == bytecode.MEM_CALL {
			memCall = &code[i]
		}
	}
	if memCall == nil {
		t.Fatalf("expected a MEM_CALL for indexed assignment, got %v", opcodes(code))
	}
	if memCall.StrVal != "00" {
		t.Fatalf("expected two positional arguments (index, value) for \"set\", got %q", memCall.StrVal)
	}
}
