package simplify_test

import (
	"testing"

	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/parser"
	"github.com/feral-lang/feral/pkg/simplify"
	"github.com/feral-lang/feral/pkg/source"
)

func parseAndSimplify(t *testing.T, src string) *ast.Block {
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
	return simplify.Run(prog)
}

func asSimple(t *testing.T, n ast.Node) *ast.Simple {
	t.Helper()
	s, ok := n.(*ast.Simple)
	if !ok {
		t.Fatalf("expected *ast.Simple, got %T", n)
	}
	return s
}

func TestConstantFoldingArithmetic(t *testing.T) {
	block := parseAndSimplify(t, "1 + 2 * 3;")
	if len(block.Stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(block.Stmts))
	}
	lit := asSimple(t, block.Stmts[0])
	tok, ok := lit.Tok.(lexer.Token)
	if !ok || tok.Kind != lexer.Int || tok.IntVal != 7 {
		t.Fatalf("expected folded int 7, got %#v", lit.Tok)
	}
}

func TestConstantFoldingString(t *testing.T) {
	block := parseAndSimplify(t, `"a" + "b";`)
	lit := asSimple(t, block.Stmts[0])
	tok := lit.Tok.(lexer.Token)
	if tok.Kind != lexer.Str || tok.StrVal != "ab" {
		t.Fatalf("expected folded string \"ab\", got %#v", tok)
	}
}

func TestConstantFoldingLeavesVariablesAlone(t *testing.T) {
	block := parseAndSimplify(t, "let x = 1; x + 2;")
	if len(block.Stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(block.Stmts))
	}
	// The second statement references 'x', a non-literal, so it must survive
	// as an *ast.Expr rather than get folded away.
	if _, ok := block.Stmts[1].(*ast.Expr); !ok {
		t.Fatalf("expected unfolded *ast.Expr, got %T", block.Stmts[1])
	}
}

func TestDeadBranchRemovalDropsAlwaysFalseArm(t *testing.T) {
	block := parseAndSimplify(t, `if false { 1; } elif true { 2; } else { 3; }`)
	cond, ok := block.Stmts[0].(*ast.Cond)
	if !ok {
		t.Fatalf("expected *ast.Cond, got %T", block.Stmts[0])
	}
	// 'if false' is dropped outright; 'elif true' becomes the sole surviving
	// arm, and the trailing 'else' is unreachable and dropped with it.
	if len(cond.Arms) != 1 {
		t.Fatalf("expected 1 surviving arm, got %d: %#v", len(cond.Arms), cond.Arms)
	}
	lit := asSimple(t, cond.Arms[0].Body.Stmts[0])
	if lit.Tok.(lexer.Token).IntVal != 2 {
		t.Fatalf("expected surviving arm to be the 'elif true' body")
	}
}

func TestDeferRunsOnFallthrough(t *testing.T) {
	block := parseAndSimplify(t, `{ defer cleanup(); work(); }`)
	inner, ok := block.Stmts[0].(*ast.Block)
	if !ok {
		t.Fatalf("expected *ast.Block, got %T", block.Stmts[0])
	}
	if len(inner.Stmts) != 2 {
		t.Fatalf("expected 2 statements (work() then cleanup()), got %d", len(inner.Stmts))
	}
	// The defer statement itself must be gone; 'cleanup()' runs after 'work()'
	// at the block's natural exit.
	lastExpr, ok := inner.Stmts[1].(*ast.Expr)
	if !ok {
		t.Fatalf("expected trailing cleanup() call, got %T", inner.Stmts[1])
	}
	callee := asSimple(t, lastExpr.Lhs)
	if callee.Tok.(lexer.Token).StrVal != "cleanup" {
		t.Fatalf("expected cleanup() as the deferred call, got %#v", callee.Tok)
	}
}

func TestDeferRunsBeforeReturn(t *testing.T) {
	block := parseAndSimplify(t, `fn f() { defer a(); defer b(); return 1; }`)
	decl, ok := block.Stmts[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("expected *ast.VarDecl for 'fn f', got %T", block.Stmts[0])
	}
	fn, ok := decl.Vars[0].Value.(*ast.FnDef)
	if !ok {
		t.Fatalf("expected *ast.FnDef, got %T", decl.Vars[0].Value)
	}
	stmts := fn.Body.Stmts
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements (b(), a(), return), got %d: %#v", len(stmts), stmts)
	}
	// LIFO: 'defer b()' was registered after 'defer a()', so it runs first.
	first := asSimple(t, stmts[0].(*ast.Expr).Lhs)
	if first.Tok.(lexer.Token).StrVal != "b" {
		t.Fatalf("expected b() to run first, got call to %#v", first.Tok)
	}
	second := asSimple(t, stmts[1].(*ast.Expr).Lhs)
	if second.Tok.(lexer.Token).StrVal != "a" {
		t.Fatalf("expected a() to run second, got call to %#v", second.Tok)
	}
	if _, ok := stmts[2].(*ast.Ret); !ok {
		t.Fatalf("expected trailing return, got %T", stmts[2])
	}
}

func TestDeferStopsAtLoopBoundaryOnBreak(t *testing.T) {
	block := parseAndSimplify(t, `for x in items { defer inner(); if x { break; } }`)
	forIn, ok := block.Stmts[0].(*ast.ForIn)
	if !ok {
		t.Fatalf("expected *ast.ForIn, got %T", block.Stmts[0])
	}
	cond := forIn.Body.Stmts[0].(*ast.Cond)
	armStmts := cond.Arms[0].Body.Stmts
	if len(armStmts) != 2 {
		t.Fatalf("expected inner() then break inside the if-arm, got %d: %#v", len(armStmts), armStmts)
	}
	callee := asSimple(t, armStmts[0].(*ast.Expr).Lhs)
	if callee.Tok.(lexer.Token).StrVal != "inner" {
		t.Fatalf("expected inner() to run before break, got %#v", callee.Tok)
	}
	if _, ok := armStmts[1].(*ast.Break); !ok {
		t.Fatalf("expected break after inner(), got %T", armStmts[1])
	}
}
