package parser

import (
	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
)

// spanLocs builds the Location covering both 'a' and 'b', used when combining two
// already-parsed sub-nodes (as opposed to Parser.span, which spans from a saved
// start position to the cursor's current token).
func spanLocs(a, b source.Location) source.Location {
	return source.Location{SourceID: a.SourceID, OffsetStart: a.OffsetStart, OffsetEnd: b.OffsetEnd}
}

// parseExpression is the statement-position entry point: a single level-16 (ternary)
// expression; level 17 (comma) is only reachable from call/return/declaration
// contexts, handled by their own comma-list helpers rather than as a binary operator.
func (p *Parser) parseExpression() ast.Node {
	return p.parseTernary()
}

// ----------------------------------------------------------------------------
// Level 16: ternary ?:
//
// Modeled by reusing ast.Cond (a ternary is just an if/else whose arms produce a
// value instead of a side effect) rather than inventing a dedicated node, matching
// §4.4's codegen note that conditionals always emit JMP_FALSE_POP sequences.
func (p *Parser) parseTernary() ast.Node {
	cond := p.parseAssign()
	if !p.at(lexer.Question) {
		return cond
	}
	start := cond.Location()
	p.advance()
	thenExpr := p.parseTernary()
	p.expect(lexer.Colon)
	elseExpr := p.parseTernary()

	node := &ast.Cond{Arms: []ast.CondArm{
		{Cond: cond, Body: ast.NewBlock(thenExpr.Location(), []ast.Node{thenExpr})},
		{Cond: nil, Body: ast.NewBlock(elseExpr.Location(), []ast.Node{elseExpr})},
	}}
	node.Loc = p.span(start)
	return node
}

// ----------------------------------------------------------------------------
// Level 15: = (right-associative)
func (p *Parser) parseAssign() ast.Node {
	lhs := p.parseCompoundOrHandler()
	if !p.at(lexer.Assign) {
		return lhs
	}
	op := p.advance()
	rhs := p.parseAssign()
	return p.mkBinExpr(lhs, op.Kind, rhs)
}

// ----------------------------------------------------------------------------
// Level 14: compound assigns, and the 'or' expression-handler
var compoundAssignOps = map[lexer.Kind]bool{
	lexer.PlusAssign: true, lexer.MinusAssign: true, lexer.StarAssign: true,
	lexer.SlashAssign: true, lexer.PercentAssign: true, lexer.ShlAssign: true,
	lexer.ShrAssign: true, lexer.AndAssign: true, lexer.OrAssign: true,
	lexer.XorAssign: true, lexer.NotAssign: true,
}

func (p *Parser) parseCompoundOrHandler() ast.Node {
	lhs := p.parseLogicalOr()

	if compoundAssignOps[p.cur().Kind] {
		op := p.advance()
		rhs := p.parseCompoundOrHandler()
		lhs = p.mkBinExpr(lhs, op.Kind, rhs)
	}

	for p.at(lexer.KwOr) {
		start := lhs.Location()
		p.advance()
		capture := ""
		if p.at(lexer.Ident) {
			capture = p.advance().StrVal
		}
		handler := p.parseBlock()

		expr := &ast.Expr{Lhs: lhs, HasOr: true, Handler: handler, Capture: capture}
		expr.Loc = p.span(start)
		lhs = expr
	}

	return lhs
}

// ----------------------------------------------------------------------------
// Levels 13..4: standard left-associative binary operator cascade.

func (p *Parser) parseLogicalOr() ast.Node  { return p.binaryLevel(p.parseLogicalAnd, lexer.Or) }
func (p *Parser) parseLogicalAnd() ast.Node { return p.binaryLevel(p.parseBitOr, lexer.And) }
func (p *Parser) parseBitOr() ast.Node      { return p.binaryLevel(p.parseBitXor, lexer.BitOr) }
func (p *Parser) parseBitXor() ast.Node     { return p.binaryLevel(p.parseBitAnd, lexer.BitXor) }
func (p *Parser) parseBitAnd() ast.Node     { return p.binaryLevel(p.parseEquality, lexer.BitAnd) }
func (p *Parser) parseEquality() ast.Node {
	return p.binaryLevel(p.parseRelational, lexer.Eq, lexer.Ne)
}
func (p *Parser) parseRelational() ast.Node {
	return p.binaryLevel(p.parseShift, lexer.Lt, lexer.Le, lexer.Gt, lexer.Ge)
}
func (p *Parser) parseShift() ast.Node {
	return p.binaryLevel(p.parseAdditive, lexer.Shl, lexer.Shr)
}
func (p *Parser) parseAdditive() ast.Node {
	return p.binaryLevel(p.parseMultiplicative, lexer.Plus, lexer.Minus)
}
func (p *Parser) parseMultiplicative() ast.Node {
	return p.binaryLevel(p.parseUnary, lexer.Star, lexer.Slash, lexer.Percent, lexer.Pow, lexer.IntDiv)
}

// Generic left-associative binary level: parses one 'next' operand, then keeps
// folding in '(op, operand)' pairs for as long as the current token is one of 'ops'.
func (p *Parser) binaryLevel(next func() ast.Node, ops ...lexer.Kind) ast.Node {
	lhs := next()
	for {
		matched := false
		for _, op := range ops {
			if p.at(op) {
				matched = true
				break
			}
		}
		if !matched {
			return lhs
		}
		opTok := p.advance()
		rhs := next()
		lhs = p.mkBinExpr(lhs, opTok.Kind, rhs)
	}
}

func (p *Parser) mkBinExpr(lhs ast.Node, op lexer.Kind, rhs ast.Node) *ast.Expr {
	e := &ast.Expr{Op: op, Lhs: lhs, Rhs: rhs}
	e.Loc = spanLocs(lhs.Location(), rhs.Location())
	return e
}

// ----------------------------------------------------------------------------
// Level 3: prefix unary (right-associative)
var prefixOps = map[lexer.Kind]bool{
	lexer.Incr: true, lexer.Decr: true, lexer.Plus: true, lexer.Minus: true,
	lexer.Star: true, lexer.BitAnd: true, lexer.Not: true, lexer.BitNot: true,
}

func (p *Parser) parseUnary() ast.Node {
	if prefixOps[p.cur().Kind] {
		op := p.advance()
		operand := p.parseUnary()
		e := &ast.Expr{Op: op.Kind, Rhs: operand}
		e.Loc = spanLocs(op.Loc, operand.Location())
		return e
	}
	return p.parsePostfixUnary()
}

// ----------------------------------------------------------------------------
// Level 2: postfix ++ -- ... (variadic unpack marker)
var postfixOps = map[lexer.Kind]bool{lexer.Incr: true, lexer.Decr: true, lexer.Ellipsis: true}

func (p *Parser) parsePostfixUnary() ast.Node {
	operand := p.parsePrimary()
	for postfixOps[p.cur().Kind] {
		op := p.advance()
		e := &ast.Expr{Op: op.Kind, Lhs: operand, Postfix: true}
		e.Loc = spanLocs(operand.Location(), op.Loc)
		operand = e
	}
	return operand
}
