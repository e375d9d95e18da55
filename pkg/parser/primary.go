package parser

import (
	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
)

// parseCondExpr parses a single level-16 expression with struct-construct literals
// disabled at the top level, for use as an if/elif/while/for-in condition or
// iterator expression (§4.2's "disallow bare '{' after a condition" note).
func (p *Parser) parseCondExpr() ast.Node {
	saved := p.noStructLiteral
	p.noStructLiteral = true
	node := p.parseTernary()
	p.noStructLiteral = saved
	return node
}

// Level 1: literals, identifiers, parenthesized expressions, and the postfix chain
// of call/subscript/field/method/struct-construct operators layered on top of them.
func (p *Parser) parsePrimary() ast.Node {
	atom := p.parseAtom()
	return p.parsePostfixChain(atom)
}

func (p *Parser) parseAtom() ast.Node {
	tok := p.cur()
	switch tok.Kind {
	case lexer.Int, lexer.Flt, lexer.Str, lexer.True, lexer.False, lexer.Nil:
		p.advance()
		if lit := p.maybeLiteralSuffix(tok, true); lit != nil {
			return lit
		}
		return ast.NewSimple(tok.Loc, tok)

	case lexer.Ident:
		p.advance()
		if lit := p.maybeLiteralSuffix(tok, false); lit != nil {
			return lit
		}
		return ast.NewSimple(tok.Loc, tok)

	case lexer.LParen:
		p.advance()
		saved := p.noStructLiteral
		p.noStructLiteral = false
		expr := p.parseExpression()
		p.noStructLiteral = saved
		p.expect(lexer.RParen)
		return expr

	case lexer.LBrace:
		// A bare block used as an expression; its last statement's value is the
		// block's value (§4.4, same rule as the 'or'-handler body).
		return p.parseBlock()

	case lexer.Fn:
		_, fndef := p.parseFnLiteral(false)
		return fndef

	case lexer.If, lexer.Inline:
		return p.parseCond()
	}

	p.fail(tok.Loc, "unexpected token %s in expression", tok.Kind)
	return nil
}

// maybeLiteralSuffix implements §4.1's literal-suffix lowering: an identifier
// immediately adjacent to a literal, in either order, is a call 'ident(literal)'.
// 'justConsumedLiteral' selects which order to check: the literal just consumed
// followed by an adjacent identifier, or an identifier just consumed followed by an
// adjacent literal.
func (p *Parser) maybeLiteralSuffix(first lexer.Token, justConsumedLiteral bool) ast.Node {
	next := p.cur()
	if !adjacent(first, next) {
		return nil
	}

	var identTok, litTok lexer.Token
	if justConsumedLiteral {
		if next.Kind != lexer.Ident {
			return nil
		}
		identTok, litTok = next, first
	} else {
		if !isLiteralKind(next.Kind) {
			return nil
		}
		identTok, litTok = first, next
	}
	p.advance() // consume the adjacent partner token

	callee := ast.NewSimple(identTok.Loc, identTok)
	arg := ast.NewSimple(litTok.Loc, litTok)
	args := &ast.FnArgs{Positional: []ast.Node{arg}, Unpack: []bool{false}}
	args.Loc = arg.Location()

	call := &ast.Expr{Op: lexer.LParen, Lhs: callee, Rhs: args}
	call.Loc = spanLocs(identTok.Loc, litTok.Loc)
	return call
}

func isLiteralKind(k lexer.Kind) bool {
	switch k {
	case lexer.Int, lexer.Flt, lexer.Str, lexer.True, lexer.False, lexer.Nil:
		return true
	}
	return false
}

// parsePostfixChain folds call '(...)', subscript '[...]', field '.ident', and
// struct-construct '{...}' operators onto 'node' left to right.
func (p *Parser) parsePostfixChain(node ast.Node) ast.Node {
	for {
		switch {
		case p.at(lexer.Dot):
			p.advance()
			nameTok := p.expect(lexer.Ident)
			field := ast.NewSimple(nameTok.Loc, nameTok)
			e := &ast.Expr{Op: lexer.Dot, Lhs: node, Rhs: field}
			e.Loc = spanLocs(node.Location(), nameTok.Loc)
			node = e

		case p.at(lexer.LParen):
			args := p.parseCallArgs()
			e := &ast.Expr{Op: lexer.LParen, Lhs: node, Rhs: args}
			e.Loc = spanLocs(node.Location(), args.Location())
			node = e

		case p.at(lexer.LBracket):
			p.advance()
			idx := p.parseExpression()
			end := p.expect(lexer.RBracket)
			e := &ast.Expr{Op: lexer.LBracket, Lhs: node, Rhs: idx}
			e.Loc = spanLocs(node.Location(), end.Loc)
			node = e

		case p.at(lexer.LBrace) && !p.noStructLiteral && isConstructible(node):
			node = p.parseStructLiteral(node)

		default:
			return node
		}
	}
}

// isConstructible restricts struct-construct '{...}' to identifier and field-access
// targets (type names / namespaced type names), so a bare expression followed by an
// unrelated block isn't misparsed as a construction.
func isConstructible(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.Simple:
		tok, ok := n.Tok.(lexer.Token)
		return ok && tok.Kind == lexer.Ident
	case *ast.Expr:
		op, ok := n.Op.(lexer.Kind)
		return ok && op == lexer.Dot
	}
	return false
}

func (p *Parser) parseStructLiteral(typeExpr ast.Node) *ast.StructLit {
	start := typeExpr.Location()
	p.expect(lexer.LBrace)
	fields := []string{}
	values := []ast.Node{}
	for !p.at(lexer.RBrace) {
		nameTok := p.expect(lexer.Ident)
		p.expect(lexer.Assign)
		val := p.parseTernary()
		fields = append(fields, nameTok.StrVal)
		values = append(values, val)
		if p.at(lexer.Comma) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RBrace)
	node := &ast.StructLit{Type: typeExpr, Fields: fields, Values: values}
	node.Loc = p.span(start)
	return node
}

// parseCallArgs parses the '(...)' of a call/construct: positional arguments,
// 'name=expr' keyword arguments, and 'expr...' unpack arguments (§4.2's three forms).
func (p *Parser) parseCallArgs() *ast.FnArgs {
	start := p.expect(lexer.LParen).Loc
	args := &ast.FnArgs{}
	for !p.at(lexer.RParen) {
		if p.at(lexer.Ident) && p.peekAt(1).Kind == lexer.Assign {
			nameTok := p.advance()
			p.advance() // '='
			val := p.parseTernary()
			args.NamedKeys = append(args.NamedKeys, nameTok.StrVal)
			args.NamedVals = append(args.NamedVals, val)
		} else {
			val := p.parseTernary()
			unpack := false
			if p.at(lexer.Ellipsis) {
				p.advance()
				unpack = true
			}
			args.Positional = append(args.Positional, val)
			args.Unpack = append(args.Unpack, unpack)
		}
		if p.at(lexer.Comma) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RParen)
	args.Loc = p.span(start)
	return args
}

// parseFnLiteral parses a function signature and body, used both for 'fn name(...) {}'
// statements (requireName) and anonymous 'fn(...) {}' expressions. Returns the bound
// name ("" for anonymous literals) and the FnDef node.
func (p *Parser) parseFnLiteral(requireName bool) (string, *ast.FnDef) {
	start := p.expect(lexer.Fn).Loc

	name := ""
	if requireName || p.at(lexer.Ident) {
		name = p.expect(lexer.Ident).StrVal
	}

	sig := p.parseFnSig()
	body := p.parseBlock()

	fndef := &ast.FnDef{Sig: sig, Body: body}
	fndef.Loc = p.span(start)
	return name, fndef
}

// parseFnSig parses '(a, b=default, ...rest, &kwargs)'.
func (p *Parser) parseFnSig() ast.FnSig {
	start := p.expect(lexer.LParen).Loc
	sig := ast.FnSig{}

	for !p.at(lexer.RParen) {
		if p.at(lexer.Ellipsis) {
			p.advance()
			sig.Variadic = p.expect(lexer.Ident).StrVal
		} else if p.at(lexer.BitAnd) {
			// '&kwargs' names the keyword-args bag (§3 FnSig.KwArgsBag).
			p.advance()
			sig.KwArgsBag = p.expect(lexer.Ident).StrVal
		} else {
			nameTok := p.expect(lexer.Ident)
			param := ast.Var{Name: nameTok.StrVal, IsFnArg: true}
			param.Loc = nameTok.Loc
			if p.at(lexer.Assign) {
				p.advance()
				param.Value = p.parseTernary()
			}
			sig.Params = append(sig.Params, param)
		}
		if p.at(lexer.Comma) {
			p.advance()
		} else {
			break
		}
	}
	end := p.expect(lexer.RParen)
	sig.Loc = spanLocs(start, end.Loc)
	return sig
}
