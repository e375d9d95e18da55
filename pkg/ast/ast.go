// Package ast defines the tagged-variant syntax tree produced by pkg/parser and
// consumed by pkg/simplify and pkg/codegen (§3 "AST node (tagged variant)").
//
// Following the teacher's own tagged-variant idiom (jack.Statement / jack.Expression
// as marker interfaces with one struct per arm, switched on with a type switch rather
// than a virtual-dispatch base class), every node here implements the Node marker
// interface and carries its own source Location.
package ast

import "github.com/feral-lang/feral/pkg/source"

// Node is the shared marker interface for every syntax tree arm. Callers use a type
// switch (see Walk) rather than dynamic dispatch, matching §9's "tagged variant
// instead of virtual base" design note.
type Node interface {
	Location() source.Location
}

type base struct{ Loc source.Location }

func (b base) Location() source.Location { return b.Loc }

// ----------------------------------------------------------------------------
// Block

// A brace-delimited sequence of statements. Every block owns its own scope (§4.5
// PUSH_BLOCK/POP_BLOCK).
type Block struct {
	base
	Stmts []Node
}

// ----------------------------------------------------------------------------
// Simple

// A single-token leaf: a literal or a bare identifier reference.
type Simple struct {
	base
	Tok any // lexer.Token, kept as 'any' to avoid an import cycle between ast and lexer
}

// ----------------------------------------------------------------------------
// Expr

// A unary or binary expression keyed by its operator token kind (again 'any' to
// dodge the ast<->lexer import cycle; pkg/parser and pkg/codegen both import lexer
// and compare against lexer.Kind values directly).
//
// Carries an optional 'or'-handler: when evaluating Lhs/Rhs fails, control transfers
// to Handler with the failure value bound to Capture (if named), §4.2 "or handler".
type Expr struct {
	base
	Op       any // lexer.Kind; prefix unary has Lhs == nil (operand in Rhs), postfix has Rhs == nil
	Lhs      Node
	Rhs      Node
	Handler  *Block
	Capture  string
	HasOr    bool
	Postfix  bool // true for postfix ++/--/... , false for prefix
}

// ----------------------------------------------------------------------------
// FnArgs

// Call/construct argument list, §4.2's three argument forms resolved positionally.
type FnArgs struct {
	base
	Positional []Node
	Unpack     []bool // parallel to Positional; true if that argument is 'expr...'
	NamedKeys  []string
	NamedVals  []Node
}

// ----------------------------------------------------------------------------
// Var

// A single variable binding inside a 'let' declaration, or a function parameter
// (IsFnArg) with an optional default Value expression.
type Var struct {
	base
	Name     string
	InTarget Node // non-nil for 'let name in expr = init'
	Value    Node // initializer / default value expression
	IsFnArg  bool
	IsConst  bool
}

// ----------------------------------------------------------------------------
// FnSig

// A function signature: ordered parameters, optional keyword-args bag name, optional
// variadic parameter name (§3 "FnSig").
type FnSig struct {
	base
	Params    []Var
	KwArgsBag string // "" if the function doesn't accept a kwargs bag
	Variadic  string // "" if the function isn't variadic
}

// ----------------------------------------------------------------------------
// FnDef

type FnDef struct {
	base
	Sig  FnSig
	Body *Block
}

// ----------------------------------------------------------------------------
// VarDecl

// An ordered 'let a = 1, b = 2;' declaration statement.
type VarDecl struct {
	base
	Vars []Var
}

// ----------------------------------------------------------------------------
// Cond

// 'if cond {} elif cond {} else {}', modeled as an ordered sequence of (optional
// condition, block) arms; the 'else' arm (if present) has a nil Cond.
type CondArm struct {
	Cond   Node // nil for the trailing 'else' arm
	Body   *Block
	Inline bool
}

type Cond struct {
	base
	Arms []CondArm
}

// ----------------------------------------------------------------------------
// For / ForIn

type For struct {
	base
	Init Node // may be nil
	Cond Node // may be nil
	Step Node // may be nil
	Body *Block
}

type ForIn struct {
	base
	Var  string
	Iter Node
	Body *Block
}

// ----------------------------------------------------------------------------
// Ret / Continue / Break / Defer

type Ret struct {
	base
	Value Node // nil for a bare 'return;'
}

type Continue struct{ base }
type Break struct{ base }

// A 'defer expr;' statement. Removed entirely by pkg/simplify (§4.3); never reaches
// pkg/codegen.
type Defer struct {
	base
	Expr Node
}

// ----------------------------------------------------------------------------
// Struct construction (part of primary-expression grammar, §4.2 level 1)

type StructLit struct {
	base
	Type   Node
	Fields []string
	Values []Node
}

// ----------------------------------------------------------------------------
// Constructors

func NewBlock(loc source.Location, stmts []Node) *Block  { return &Block{base{loc}, stmts} }
func NewSimple(loc source.Location, tok any) *Simple      { return &Simple{base{loc}, tok} }
func NewContinue(loc source.Location) *Continue           { return &Continue{base{loc}} }
func NewBreak(loc source.Location) *Break                 { return &Break{base{loc}} }
