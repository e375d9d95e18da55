// Package parser implements the single-pass recursive-descent parser of §4.2: a
// precedence-climbing expression parser over 17 levels, plus the statement grammar
// (blocks, let, if/elif/else, for, for-in, while, return, continue, break, defer).
//
// Shaped on the teacher's pkg/jack/parsing.go statement/expression split, but
// hand-rolled rather than combinator-based — see SPEC_FULL.md's DOMAIN STACK section
// for why goparsec doesn't fit a 17-level precedence grammar.
package parser

import (
	"fmt"

	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
)

// A syntax error: unexpected token, missing right-hand operand, malformed signature
// (§7 kind 2). Reported at the exact token location; the module compile aborts.
type Error struct {
	Loc     source.Location
	Message string
}

func (e *Error) Error() string { return e.Message }

type Parser struct {
	tokens []lexer.Token
	pos    int

	// Disabled while parsing an if/for/while condition so 'cond.Name {' parses as
	// the condition followed by the body block, not a struct construction —
	// the same ambiguity Go itself resolves by banning composite literals in
	// control-flow conditions unless parenthesized.
	noStructLiteral bool
}

func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parses an entire source file as an implicit top-level block (statements until
// EOF, no enclosing braces).
func (p *Parser) Parse() (prog *ast.Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(*Error); ok {
				err = perr
				return
			}
			panic(r)
		}
	}()

	start := p.cur().Loc
	stmts := []ast.Node{}
	for !p.at(lexer.EOF) {
		stmts = append(stmts, p.parseStatement())
	}
	return ast.NewBlock(p.span(start), stmts), nil
}

// ----------------------------------------------------------------------------
// Token cursor helpers

func (p *Parser) cur() lexer.Token  { return p.tokens[p.pos] }
func (p *Parser) at(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *Parser) peekAt(offset int) lexer.Token {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[idx]
}

func (p *Parser) advance() lexer.Token {
	tok := p.cur()
	if tok.Kind != lexer.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) fail(loc source.Location, format string, args ...any) {
	panic(&Error{Loc: loc, Message: fmt.Sprintf(format, args...)})
}

// expect consumes the current token if it matches 'k', or fails at its location.
func (p *Parser) expect(k lexer.Kind) lexer.Token {
	if !p.at(k) {
		p.fail(p.cur().Loc, "expected %s, found %s", k, p.cur().Kind)
	}
	return p.advance()
}

func (p *Parser) span(start source.Location) source.Location {
	end := start
	if p.pos > 0 {
		end = p.tokens[p.pos-1].Loc
	}
	return source.Location{SourceID: start.SourceID, OffsetStart: start.OffsetStart, OffsetEnd: end.OffsetEnd}
}

// Adjacent reports whether token 'a' ends exactly where token 'b' starts, with no
// gap — used by the literal-suffix lowering in parsePrimary (§4.1).
func adjacent(a, b lexer.Token) bool {
	return a.Loc.SourceID == b.Loc.SourceID && a.Loc.OffsetEnd == b.Loc.OffsetStart
}
