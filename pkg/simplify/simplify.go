// Package simplify implements the compile-time rewrite pass of §4.3: constant
// folding, defer lowering (no runtime defer opcode — see §9 "Defer lowered in
// simplify"), and dead-branch removal from conditions that fold to a literal bool.
//
// Grounded on the teacher's pkg/jack/typechecking.go class/subroutine DFS walker —
// same "rebuild the tree, swapping in a transformed node at each step" shape, reused
// here for a rewrite pass instead of a type-checking pass — and on
// original_source/include/AST/Passes/Simplify.hpp's DeferStack (pushLayer/popLayer/
// pushLoop/addStmt), whose layered-stack shape is carried over directly (see
// DESIGN.md for the one simplification made to it: this port does not distinguish
// break's unwind depth from continue's, both stop at the nearest loop layer).
package simplify

import (
	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/value"
)

// Run simplifies an entire parsed program (or a function body) in place, returning
// the rewritten block. It's safe to call on the top-level program block or on any
// nested *ast.FnDef's Body before codegen sees it.
func Run(block *ast.Block) *ast.Block {
	s := &simplifier{}
	return s.simplifyBlock(block, false)
}

// deferLayer holds the defer bodies registered directly inside one block, in the
// order 'defer expr;' statements were encountered. isLoop marks a layer pushed for a
// loop body, the unwind boundary break/continue stop at.
type deferLayer struct {
	stmts  []ast.Node
	isLoop bool
}

type simplifier struct {
	layers []deferLayer
}

func (s *simplifier) pushLayer(isLoop bool) { s.layers = append(s.layers, deferLayer{isLoop: isLoop}) }
func (s *simplifier) popLayer()             { s.layers = s.layers[:len(s.layers)-1] }

func (s *simplifier) addDefer(expr ast.Node) {
	top := len(s.layers) - 1
	s.layers[top].stmts = append(s.layers[top].stmts, expr)
}

// flattenFrom builds the LIFO exit sequence starting at layer index 'from' (the
// current innermost layer) down to 'to' inclusive, each layer's own defers reversed
// (last-registered-runs-first within a layer, and innermost-layer-first across
// layers — the same order a stack of stacks naturally gives).
func (s *simplifier) flattenFrom(from, to int) []ast.Node {
	var out []ast.Node
	for i := from; i >= to; i-- {
		layer := s.layers[i].stmts
		for j := len(layer) - 1; j >= 0; j-- {
			out = append(out, layer[j])
		}
	}
	return out
}

// exitForReturn unwinds every open layer: a return leaves the whole function.
func (s *simplifier) exitForReturn() []ast.Node {
	if len(s.layers) == 0 {
		return nil
	}
	return s.flattenFrom(len(s.layers)-1, 0)
}

// exitForLoopJump unwinds layers down to (and including) the nearest loop boundary:
// break/continue leave everything nested inside the loop body, but nothing outside it.
func (s *simplifier) exitForLoopJump() []ast.Node {
	boundary := -1
	for i := len(s.layers) - 1; i >= 0; i-- {
		if s.layers[i].isLoop {
			boundary = i
			break
		}
	}
	if boundary < 0 || len(s.layers) == 0 {
		return nil
	}
	return s.flattenFrom(len(s.layers)-1, boundary)
}

// ----------------------------------------------------------------------------
// Block / statement rewriting

func (s *simplifier) simplifyBlock(b *ast.Block, isLoopBody bool) *ast.Block {
	s.pushLayer(isLoopBody)

	stmts := make([]ast.Node, 0, len(b.Stmts))
	for _, stmt := range b.Stmts {
		stmts = append(stmts, s.simplifyStmt(stmt)...)
	}
	// Fallthrough exit: run this block's own defers, innermost-layer-only. A block
	// ending in return/break/continue already emitted them before that statement.
	endsInExit := false
	if len(stmts) > 0 {
		switch stmts[len(stmts)-1].(type) {
		case *ast.Ret, *ast.Break, *ast.Continue:
			endsInExit = true
		}
	}
	if !endsInExit {
		stmts = append(stmts, s.flattenFrom(len(s.layers)-1, len(s.layers)-1)...)
	}

	s.popLayer()
	return ast.NewBlock(b.Location(), stmts)
}

// simplifyStmt rewrites one statement, returning zero or more replacement
// statements (a Defer disappears entirely; a Return/Break/Continue expands to the
// deferred cleanup sequence followed by itself).
func (s *simplifier) simplifyStmt(stmt ast.Node) []ast.Node {
	switch n := stmt.(type) {
	case *ast.Defer:
		s.addDefer(s.simplifyExpr(n.Expr))
		return nil

	case *ast.Ret:
		exit := s.exitForReturn()
		n.Value = s.simplifyExpr(n.Value)
		return append(exit, n)

	case *ast.Break:
		return append(s.exitForLoopJump(), n)

	case *ast.Continue:
		return append(s.exitForLoopJump(), n)

	case *ast.Block:
		return []ast.Node{s.simplifyBlock(n, false)}

	case *ast.VarDecl:
		for i := range n.Vars {
			n.Vars[i].Value = s.simplifyExpr(n.Vars[i].Value)
			n.Vars[i].InTarget = s.simplifyExpr(n.Vars[i].InTarget)
		}
		return []ast.Node{n}

	case *ast.Cond:
		return []ast.Node{s.simplifyCond(n)}

	case *ast.For:
		// Init is either a plain expression ('for i = 0; ...') or a 'let' clause
		// parsed as a *ast.VarDecl ('for let i = 0; ...'); VarDecl isn't
		// expression-shaped, so it needs the same per-Var folding simplifyStmt
		// gives any other VarDecl rather than simplifyExpr's generic path.
		if decl, ok := n.Init.(*ast.VarDecl); ok {
			for i := range decl.Vars {
				decl.Vars[i].Value = s.simplifyExpr(decl.Vars[i].Value)
				decl.Vars[i].InTarget = s.simplifyExpr(decl.Vars[i].InTarget)
			}
		} else {
			n.Init = s.simplifyExpr(n.Init)
		}
		n.Cond = s.simplifyExpr(n.Cond)
		n.Step = s.simplifyExpr(n.Step)
		n.Body = s.simplifyBlock(n.Body, true)
		return []ast.Node{n}

	case *ast.ForIn:
		n.Iter = s.simplifyExpr(n.Iter)
		n.Body = s.simplifyBlock(n.Body, true)
		return []ast.Node{n}

	default:
		return []ast.Node{s.simplifyExpr(stmt)}
	}
}

// simplifyCond folds each arm's condition and drops arms dead-branch removal proves
// unreachable: an arm whose condition folds to literal false is dropped outright; any
// arm after one whose condition folds to literal true is dropped (control never
// reaches it) and that arm becomes the new last arm.
func (s *simplifier) simplifyCond(n *ast.Cond) ast.Node {
	kept := make([]ast.CondArm, 0, len(n.Arms))
	for _, arm := range n.Arms {
		arm.Cond = s.simplifyExpr(arm.Cond)
		arm.Body = s.simplifyBlock(arm.Body, false)

		if lit, ok := literalBool(arm.Cond); ok {
			if !lit {
				continue // dead: condition can never hold
			}
			kept = append(kept, arm)
			break // every arm after an always-true condition is unreachable
		}
		kept = append(kept, arm)
	}
	n.Arms = kept
	return n
}

func literalBool(n ast.Node) (bool, bool) {
	v, ok := literalValue(n)
	if !ok {
		return false, false
	}
	return v.Truthy(), true
}

// ----------------------------------------------------------------------------
// Expression folding

func (s *simplifier) simplifyExpr(n ast.Node) ast.Node {
	if n == nil {
		return nil
	}

	switch e := n.(type) {
	case *ast.FnArgs:
		for i := range e.Positional {
			e.Positional[i] = s.simplifyExpr(e.Positional[i])
		}
		for i := range e.NamedVals {
			e.NamedVals[i] = s.simplifyExpr(e.NamedVals[i])
		}
		return e

	case *ast.Expr:
		e.Lhs = s.simplifyExpr(e.Lhs)
		e.Rhs = s.simplifyExpr(e.Rhs)

		if e.HasOr {
			e.Handler = s.simplifyBlock(e.Handler, false)
			return e
		}

		op, isOp := e.Op.(lexer.Kind)
		if !isOp {
			return e
		}

		if e.Lhs != nil && e.Rhs != nil && !e.Postfix {
			if folded := s.tryFoldBinary(op, e); folded != nil {
				return folded
			}
		} else if e.Rhs == nil && e.Lhs == nil {
			// unary prefix stored with operand in Rhs (see parser); nothing to fold
		}
		if e.Rhs != nil && e.Lhs == nil {
			if folded := s.tryFoldUnary(op, e); folded != nil {
				return folded
			}
		}
		return e

	case *ast.StructLit:
		e.Type = s.simplifyExpr(e.Type)
		for i := range e.Values {
			e.Values[i] = s.simplifyExpr(e.Values[i])
		}
		return e

	case *ast.FnDef:
		e.Body = s.simplifyBlock(e.Body, false)
		for i := range e.Sig.Params {
			e.Sig.Params[i].Value = s.simplifyExpr(e.Sig.Params[i].Value)
		}
		return e

	case *ast.Cond:
		return s.simplifyCond(e)

	case *ast.Block:
		return s.simplifyBlock(e, false)

	default:
		return n
	}
}

// tryFoldBinary constant-folds 'lhs op rhs' when both sides are already literals,
// using the exact same value.BinaryOp the VM's runtime binary-op path calls, so
// folded and unfolded code agree bit-for-bit (§9 Open Question 2).
func (s *simplifier) tryFoldBinary(op lexer.Kind, e *ast.Expr) ast.Node {
	// Calls (Op==LParen/LBracket/Dot with an FnArgs/index/field Rhs) reuse the same
	// Expr shape but aren't arithmetic; only fold the operators BinaryOp understands.
	if !isArithmeticOp(op) {
		return nil
	}
	lv, lok := literalValue(e.Lhs)
	rv, rok := literalValue(e.Rhs)
	if !lok || !rok {
		return nil
	}
	result, err := value.BinaryOp(op, lv, rv)
	if err != nil {
		return nil // leave it for the VM to fail at runtime with full context
	}
	return literalNode(result, e.Location())
}

func (s *simplifier) tryFoldUnary(op lexer.Kind, e *ast.Expr) ast.Node {
	operand, ok := literalValue(e.Rhs)
	if !ok {
		return nil
	}
	switch op {
	case lexer.Minus:
		if iv, ok := operand.(*value.IntValue); ok {
			return literalNode(value.NewInt(-iv.Val), e.Location())
		}
	case lexer.Not:
		return literalNode(value.NewBool(!operand.Truthy()), e.Location())
	case lexer.Plus:
		return literalNode(operand, e.Location())
	}
	return nil
}

func isArithmeticOp(op lexer.Kind) bool {
	switch op {
	case lexer.Plus, lexer.Minus, lexer.Star, lexer.Slash, lexer.Percent, lexer.Pow, lexer.IntDiv,
		lexer.Shl, lexer.Shr, lexer.BitAnd, lexer.BitOr, lexer.BitXor, lexer.And, lexer.Or,
		lexer.Eq, lexer.Ne, lexer.Lt, lexer.Le, lexer.Gt, lexer.Ge:
		return true
	}
	return false
}

// literalValue extracts the runtime Value a *ast.Simple literal token represents, or
// false if 'n' isn't a foldable literal.
func literalValue(n ast.Node) (value.Value, bool) {
	simple, ok := n.(*ast.Simple)
	if !ok {
		return nil, false
	}
	tok, ok := simple.Tok.(lexer.Token)
	if !ok {
		return nil, false
	}
	switch tok.Kind {
	case lexer.Int:
		return value.NewInt(tok.IntVal), true
	case lexer.Flt:
		return value.NewFltFromFloat(tok.FltVal), true
	case lexer.Str:
		return value.NewStr(tok.StrVal), true
	case lexer.True:
		return value.NewBool(true), true
	case lexer.False:
		return value.NewBool(false), true
	case lexer.Nil:
		return value.Nil(), true
	}
	return nil, false
}

// literalNode wraps a folded runtime Value back into a *ast.Simple carrying a
// synthetic token, so the rest of the pipeline (codegen) never needs to know the
// literal was computed at compile time rather than written by the programmer.
func literalNode(v value.Value, loc source.Location) *ast.Simple {
	var tok lexer.Token
	tok.Loc = loc
	switch val := v.(type) {
	case *value.IntValue:
		tok.Kind, tok.IntVal = lexer.Int, val.Val
	case *value.FltValue:
		f, _ := val.Val.Float64()
		tok.Kind, tok.FltVal = lexer.Flt, f
	case *value.StrValue:
		tok.Kind, tok.StrVal = lexer.Str, val.Val
	case *value.BoolValue:
		if val.Val {
			tok.Kind = lexer.True
		} else {
			tok.Kind = lexer.False
		}
	default:
		tok.Kind = lexer.Nil
	}
	return ast.NewSimple(loc, tok)
}
