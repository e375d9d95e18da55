package parser

import (
	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
)

func (p *Parser) parseStatement() ast.Node {
	switch p.cur().Kind {
	case lexer.LBrace:
		return p.parseBlock()
	case lexer.Let:
		return p.parseVarDecl()
	case lexer.If, lexer.Inline:
		return p.parseCond()
	case lexer.For:
		return p.parseFor()
	case lexer.While:
		return p.parseWhile()
	case lexer.Return:
		return p.parseReturn()
	case lexer.Continue:
		loc := p.advance().Loc
		p.optionalSemi()
		return ast.NewContinue(loc)
	case lexer.Break:
		loc := p.advance().Loc
		p.optionalSemi()
		return ast.NewBreak(loc)
	case lexer.Defer:
		return p.parseDefer()
	case lexer.Fn:
		return p.parseFnDefStatement()
	default:
		expr := p.parseExpression()
		p.optionalSemi()
		return expr
	}
}

// optionalSemi consumes a ';' after a 'let'/'return'/'defer'/expression statement
// when one is present. It never requires one: a missing ';' is accepted anywhere,
// not only at EOF or before '}'.
func (p *Parser) optionalSemi() {
	if p.at(lexer.Semi) {
		p.advance()
	}
}

func (p *Parser) parseBlock() *ast.Block {
	start := p.expect(lexer.LBrace).Loc
	stmts := []ast.Node{}
	for !p.at(lexer.RBrace) && !p.at(lexer.EOF) {
		stmts = append(stmts, p.parseStatement())
	}
	p.expect(lexer.RBrace)
	return ast.NewBlock(p.span(start), stmts)
}

// 'let name [in expr] = expr, name2 = expr2, ...;'
func (p *Parser) parseVarDecl() *ast.VarDecl {
	start := p.expect(lexer.Let).Loc
	decl := &ast.VarDecl{Vars: p.parseVarBindingList()}
	p.optionalSemi()
	decl.Loc = p.span(start)
	return decl
}

// Shared by 'let ...;' statements and the 'for let ...;' clause (no trailing ';').
func (p *Parser) parseVarBindingList() []ast.Var {
	vars := []ast.Var{p.parseVarBinding()}
	for p.at(lexer.Comma) {
		p.advance()
		vars = append(vars, p.parseVarBinding())
	}
	return vars
}

func (p *Parser) parseVarBinding() ast.Var {
	nameTok := p.expect(lexer.Ident)
	v := ast.Var{Name: nameTok.StrVal}

	if p.at(lexer.In) {
		p.advance()
		v.InTarget = p.parseTernary()
	}

	p.expect(lexer.Assign)
	v.Value = p.parseTernary()
	return v
}

// 'if cond { } elif cond { } else { }', optionally prefixed with 'inline'.
func (p *Parser) parseCond() *ast.Cond {
	start := p.cur().Loc
	arms := []ast.CondArm{}

	inline := false
	if p.at(lexer.Inline) {
		inline = true
		p.advance()
	}
	p.expect(lexer.If)
	cond := p.parseCondExpr()
	body := p.parseBlock()
	arms = append(arms, ast.CondArm{Cond: cond, Body: body, Inline: inline})

	for p.at(lexer.Elif) {
		p.advance()
		cond := p.parseCondExpr()
		body := p.parseBlock()
		arms = append(arms, ast.CondArm{Cond: cond, Body: body})
	}

	if p.at(lexer.Else) {
		p.advance()
		body := p.parseBlock()
		arms = append(arms, ast.CondArm{Cond: nil, Body: body})
	}

	node := &ast.Cond{Arms: arms}
	node.Loc = p.span(start)
	return node
}

// 'for init; cond; step { }' and 'for id in expr { }'.
func (p *Parser) parseFor() ast.Node {
	start := p.expect(lexer.For).Loc

	// Disambiguate 'for id in expr' from 'for init; cond; step' by looking ahead:
	// an identifier immediately followed by 'in' is the for-in form.
	if p.at(lexer.Ident) && p.peekAt(1).Kind == lexer.In {
		name := p.advance().StrVal
		p.advance() // 'in'
		iter := p.parseCondExpr()
		body := p.parseBlock()
		node := &ast.ForIn{Var: name, Iter: iter, Body: body}
		node.Loc = p.span(start)
		return node
	}

	var init, cond, step ast.Node
	if !p.at(lexer.Semi) {
		init = p.parseForClauseInit()
	}
	p.expect(lexer.Semi)
	if !p.at(lexer.Semi) {
		cond = p.parseCondExpr()
	}
	p.expect(lexer.Semi)
	if !p.at(lexer.LBrace) {
		step = p.parseCondExpr()
	}
	body := p.parseBlock()
	node := &ast.For{Init: init, Cond: cond, Step: step, Body: body}
	node.Loc = p.span(start)
	return node
}

func (p *Parser) parseForClauseInit() ast.Node {
	if p.at(lexer.Let) {
		start := p.expect(lexer.Let).Loc
		decl := &ast.VarDecl{Vars: p.parseVarBindingList()}
		decl.Loc = p.span(start)
		return decl
	}
	return p.parseTernary()
}

// 'while cond { }' lowers to a For with no init/step (§4.4).
func (p *Parser) parseWhile() *ast.For {
	start := p.expect(lexer.While).Loc
	cond := p.parseCondExpr()
	body := p.parseBlock()
	node := &ast.For{Cond: cond, Body: body}
	node.Loc = p.span(start)
	return node
}

func (p *Parser) parseReturn() *ast.Ret {
	start := p.expect(lexer.Return).Loc
	var value ast.Node
	if !p.at(lexer.Semi) && !p.at(lexer.RBrace) {
		value = p.parseTernary()
	}
	p.optionalSemi()
	node := &ast.Ret{Value: value}
	node.Loc = p.span(start)
	return node
}

func (p *Parser) parseDefer() *ast.Defer {
	start := p.expect(lexer.Defer).Loc
	expr := p.parseTernary()
	p.optionalSemi()
	node := &ast.Defer{Expr: expr}
	node.Loc = p.span(start)
	return node
}

// A bare 'fn name(...) { }' at statement position declares and binds a named
// function; desugared to 'let name = fn(...) { };' by reusing parseFnLiteral for
// the signature+body and wrapping the result in a VarDecl.
func (p *Parser) parseFnDefStatement() ast.Node {
	start := p.cur().Loc
	name, fndef := p.parseFnLiteral(true)
	decl := &ast.VarDecl{Vars: []ast.Var{{Name: name, Value: fndef}}}
	decl.Loc = p.span(start)
	return decl
}
