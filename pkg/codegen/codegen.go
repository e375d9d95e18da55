// Package codegen lowers a simplified AST into the linear bytecode form pkg/vm
// executes (§4.4). It walks the tree in source order, emitting jumps with
// placeholder targets that get patched once the destination offset is known (a
// back-patch list per open construct, the same shape as a one-pass assembler).
//
// Grounded on the teacher's pkg/jack/lowering.go (scope-aware DFS emitting a flat
// instruction stream) and pkg/vm/lowering.go / pkg/hack/codegen.go (label/target
// resolution against a symbol table) — the back-patch-list idiom here is the direct
// analogue of the teacher's two-pass "emit with symbolic label, resolve address,
// rewrite" assembler passes collapsed into one pass since this format numbers
// instructions as it emits them.
package codegen

import (
	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/ast"
	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
)

// ErrInternal marks the "codegen error... reserved for internal inconsistencies"
// taxonomy entry (§7 kind 3) — e.g. an un-lowered Defer node reaching codegen, which
// would mean pkg/simplify has a bug, not the source program.
var ErrInternal = errors.New("codegen: internal inconsistency")

// Generate lowers a simplified top-level program block into one module's bytecode.
// The top-level block needs no scope of its own: vm.Run executes it with no frame and
// no block, so its declarations bind straight into the module's globals, and no
// wrapping PUSH_BLOCK/POP_BLOCK is emitted here.
func Generate(prog *ast.Block) ([]bytecode.Instruction, error) {
	g := &Generator{}
	if err := g.genStmts(prog.Stmts, false); err != nil {
		return nil, err
	}
	return g.code, nil
}

type Generator struct {
	code      []bytecode.Instruction
	loops     []loopCtx
	tempCount int
}

// loopCtx accumulates the CONTINUE/BREAK instruction indices emitted inside one
// open loop, patched once Lcont/Lend are known (§4.4 "continue emits CONTINUE
// placeholder (patched to Lcont); break emits BREAK placeholder (patched to Lend)").
type loopCtx struct {
	contPatches []int
	breakPatches []int
}

func (g *Generator) emit(op bytecode.Opcode, loc source.Location) int {
	g.code = append(g.code, bytecode.Instruction{Op: op, Loc: loc})
	return len(g.code) - 1
}

func (g *Generator) pos() uint32 { return uint32(len(g.code)) }

func (g *Generator) patch(idx int, target uint32) { g.code[idx].Target = target }

func (g *Generator) gensym() string {
	g.tempCount++
	return "$hidden" + itoa(g.tempCount)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// ----------------------------------------------------------------------------
// Statements

// genStmts emits 'stmts' in order. When 'valueful' is true the final statement, if it
// is an expression-statement, keeps its pushed value on the stack instead of being
// UNLOADed — the block's value in an expression context (bare-block expression,
// function body's implicit return-last-value, a ternary/if arm) per §4.4's "Block →
// ... unused value → UNLOAD n" note: only USED values survive.
func (g *Generator) genStmts(stmts []ast.Node, valueful bool) error {
	for i, stmt := range stmts {
		keep := valueful && i == len(stmts)-1
		if err := g.genStmt(stmt, keep); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) genStmt(stmt ast.Node, keepValue bool) error {
	switch n := stmt.(type) {
	case *ast.VarDecl:
		return g.genVarDecl(n)

	case *ast.Cond:
		return g.genCond(n, false)

	case *ast.For:
		return g.genFor(n)

	case *ast.ForIn:
		return g.genForIn(n)

	case *ast.Block:
		return g.genScopedBlock(n, false)

	case *ast.Ret:
		if n.Value != nil {
			if err := g.genExpr(n.Value); err != nil {
				return err
			}
		}
		ins := g.emit(bytecode.RETURN, n.Location())
		g.code[ins].BoolVal = n.Value != nil
		return nil

	case *ast.Break:
		idx := g.emit(bytecode.BREAK, n.Location())
		if len(g.loops) == 0 {
			return errors.Wrap(ErrInternal, "break outside loop")
		}
		top := len(g.loops) - 1
		g.loops[top].breakPatches = append(g.loops[top].breakPatches, idx)
		return nil

	case *ast.Continue:
		idx := g.emit(bytecode.CONTINUE, n.Location())
		if len(g.loops) == 0 {
			return errors.Wrap(ErrInternal, "continue outside loop")
		}
		top := len(g.loops) - 1
		g.loops[top].contPatches = append(g.loops[top].contPatches, idx)
		return nil

	case *ast.Defer:
		// pkg/simplify removes every Defer node before codegen runs; reaching one
		// here means the simplify pass was skipped or has a bug (§7 kind 3).
		return errors.Wrapf(ErrInternal, "unlowered defer at %v", n.Location())

	default:
		// Expression-as-statement: §4.4 "Expression statement followed by unused
		// value → UNLOAD n pops n values."
		if err := g.genExpr(n); err != nil {
			return err
		}
		if !keepValue {
			ins := g.emit(bytecode.UNLOAD, n.Location())
			g.code[ins].Arg = 1
		}
		return nil
	}
}

// genVarDecl emits CREATE for each plain binding and CREATE_IN for each 'in' form
// (§4.4's two declaration encodings).
func (g *Generator) genVarDecl(decl *ast.VarDecl) error {
	for _, v := range decl.Vars {
		if v.InTarget != nil {
			if err := g.genValueOrNil(v.Value, decl.Location()); err != nil {
				return err
			}
			if err := g.genExpr(v.InTarget); err != nil {
				return err
			}
			ins := g.emit(bytecode.CREATE_IN, decl.Location())
			g.code[ins].StrVal = v.Name
			continue
		}
		if err := g.genValueOrNil(v.Value, decl.Location()); err != nil {
			return err
		}
		ins := g.emit(bytecode.CREATE, decl.Location())
		g.code[ins].StrVal = v.Name
	}
	return nil
}

func (g *Generator) genValueOrNil(val ast.Node, loc source.Location) error {
	if val == nil {
		ins := g.emit(bytecode.LOAD_DATA, loc)
		g.code[ins].Tag = bytecode.NilData
		return nil
	}
	return g.genExpr(val)
}

// genCond emits the JMP_FALSE_POP/JMP chain for 'if/elif/else' (§4.4). When
// 'valueful' each arm's body keeps its last value so the whole construct can be used
// as an expression (ternary reuses this same node shape).
func (g *Generator) genCond(n *ast.Cond, valueful bool) error {
	var endPatches []int
	for i, arm := range n.Arms {
		isLast := i == len(n.Arms)-1

		var falsePatch int = -1
		if arm.Cond != nil {
			if err := g.genExpr(arm.Cond); err != nil {
				return err
			}
			falsePatch = g.emit(bytecode.JMP_FALSE_POP, arm.Cond.Location())
		}

		if err := g.genScopedBlockValue(arm.Body, valueful); err != nil {
			return err
		}

		if !isLast {
			endPatches = append(endPatches, g.emit(bytecode.JMP, arm.Body.Location()))
		}
		if falsePatch >= 0 {
			g.patch(falsePatch, g.pos())
		}
	}
	if valueful && (len(n.Arms) == 0 || n.Arms[len(n.Arms)-1].Cond != nil) {
		// No 'else' arm: the untaken path needs a nil value too.
		ins := g.emit(bytecode.LOAD_DATA, n.Location())
		g.code[ins].Tag = bytecode.NilData
	}
	end := g.pos()
	for _, idx := range endPatches {
		g.patch(idx, end)
	}
	return nil
}

// genScopedBlockValue wraps genScopedBlock, additionally keeping the block's final
// expression-statement value when 'valueful'.
func (g *Generator) genScopedBlockValue(b *ast.Block, valueful bool) error {
	n := g.genPushBlock(b)
	if err := g.genStmts(b.Stmts, valueful); err != nil {
		return err
	}
	ins := g.emit(bytecode.POP_BLOCK, b.Location())
	g.code[ins].Arg = n
	return nil
}

func (g *Generator) genScopedBlock(b *ast.Block, valueful bool) error {
	return g.genScopedBlockValue(b, valueful)
}

func (g *Generator) genPushBlock(b *ast.Block) uint32 {
	n := uint32(countDeclared(b))
	ins := g.emit(bytecode.PUSH_BLOCK, b.Location())
	g.code[ins].Arg = n
	return n
}

// countDeclared counts the variables a block directly declares (its own VarDecl
// statements; nested blocks carry their own PUSH_BLOCK/POP_BLOCK pair and aren't
// counted here), per §4.4's "n = number of variables declared inside the block".
func countDeclared(b *ast.Block) int {
	n := 0
	for _, stmt := range b.Stmts {
		if decl, ok := stmt.(*ast.VarDecl); ok {
			n += len(decl.Vars)
		}
	}
	return n
}

// genFor emits the classic three-clause loop exactly as §4.4 describes:
// PUSH_LOOP; init; L1: cond; JMP_FALSE_POP Lend; body; Lcont: step; JMP L1;
// Lend: POP_LOOP.
func (g *Generator) genFor(n *ast.For) error {
	g.emit(bytecode.PUSH_LOOP, n.Location())
	g.loops = append(g.loops, loopCtx{})

	if err := g.genForInit(n.Init); err != nil {
		return err
	}

	l1 := g.pos()
	var endPatch int = -1
	if n.Cond != nil {
		if err := g.genExpr(n.Cond); err != nil {
			return err
		}
		endPatch = g.emit(bytecode.JMP_FALSE_POP, n.Cond.Location())
	}

	if err := g.genScopedBlock(n.Body, false); err != nil {
		return err
	}

	lcont := g.pos()
	if n.Step != nil {
		if err := g.genExpr(n.Step); err != nil {
			return err
		}
		ins := g.emit(bytecode.UNLOAD, n.Step.Location())
		g.code[ins].Arg = 1
	}
	g.patch(g.emit(bytecode.JMP, n.Location()), l1)

	lend := g.pos()
	if endPatch >= 0 {
		g.patch(endPatch, lend)
	}
	g.emit(bytecode.POP_LOOP, n.Location())

	top := g.loops[len(g.loops)-1]
	g.loops = g.loops[:len(g.loops)-1]
	for _, idx := range top.contPatches {
		g.patch(idx, lcont)
	}
	for _, idx := range top.breakPatches {
		g.patch(idx, lend)
	}
	return nil
}

// genForInit emits the loop's init clause, which is either a 'let' VarDecl or a
// bare expression (§4.4's for-loop grammar allows both); a VarDecl needs CREATE,
// not UNLOAD, since it binds a name the condition/body/step go on to reference.
func (g *Generator) genForInit(init ast.Node) error {
	if init == nil {
		return nil
	}
	if decl, ok := init.(*ast.VarDecl); ok {
		return g.genVarDecl(decl)
	}
	if err := g.genExpr(init); err != nil {
		return err
	}
	ins := g.emit(bytecode.UNLOAD, init.Location())
	g.code[ins].Arg = 1
	return nil
}

// genForIn lowers 'for x in iter body' to the hidden-variable while-loop form §4.4
// and §9 both describe: evaluate iter once, then repeatedly pull 'x' via .next()
// until it yields nil.
func (g *Generator) genForIn(n *ast.ForIn) error {
	hidden := g.gensym()

	if err := g.genExpr(n.Iter); err != nil {
		return err
	}
	ins := g.emit(bytecode.CREATE, n.Location())
	g.code[ins].StrVal = hidden

	g.emit(bytecode.PUSH_LOOP, n.Location())
	g.loops = append(g.loops, loopCtx{})

	l1 := g.pos()

	loadHidden := g.emit(bytecode.LOAD_DATA, n.Location())
	g.code[loadHidden].Tag = bytecode.IdenData
	g.code[loadHidden].StrVal = hidden
	attr := g.emit(bytecode.ATTR, n.Location())
	g.code[attr].StrVal = "next"
	g.emit(bytecode.CALL, n.Location()) // zero-arg call: argInfo is the empty string

	valueCreate := g.emit(bytecode.CREATE, n.Location())
	g.code[valueCreate].StrVal = n.Var

	loadVar := g.emit(bytecode.LOAD_DATA, n.Location())
	g.code[loadVar].Tag = bytecode.IdenData
	g.code[loadVar].StrVal = n.Var
	endPatch := g.emit(bytecode.JMP_NIL, n.Location())

	if err := g.genScopedBlock(n.Body, false); err != nil {
		return err
	}

	lcont := g.pos()
	g.patch(g.emit(bytecode.JMP, n.Location()), l1)

	lend := g.pos()
	g.patch(endPatch, lend)
	g.emit(bytecode.POP_LOOP, n.Location())

	top := g.loops[len(g.loops)-1]
	g.loops = g.loops[:len(g.loops)-1]
	for _, idx := range top.contPatches {
		g.patch(idx, lcont)
	}
	for _, idx := range top.breakPatches {
		g.patch(idx, lend)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Expressions

// binaryOpNames maps every arithmetic/comparison/bitwise operator to the universal
// type-method name the VM's MEM_CALL dispatch invokes (§9 "universal operations...
// matched on tag" — operators are sugar over the same method-call machinery as any
// other call, so CALL/MEM_CALL stay the only two call-shaped opcodes in §6's set
// rather than one opcode per arithmetic operator).
var binaryOpNames = map[lexer.Kind]string{
	lexer.Plus: "+", lexer.Minus: "-", lexer.Star: "*", lexer.Slash: "/",
	lexer.Percent: "%", lexer.Pow: "**", lexer.IntDiv: "//",
	lexer.Shl: "<<", lexer.Shr: ">>", lexer.BitAnd: "&", lexer.BitOr: "|", lexer.BitXor: "^",
	lexer.Lt: "<", lexer.Le: "<=", lexer.Gt: ">", lexer.Ge: ">=",
	lexer.Eq: "==", lexer.Ne: "!=",
}

var unaryOpNames = map[lexer.Kind]string{
	lexer.Minus: "__neg__", lexer.Plus: "__pos__", lexer.Not: "__not__", lexer.BitNot: "__bnot__",
}

// compoundAssignBase maps each compound-assign token to the binary operator it
// folds 'lhs op= rhs' into ('lhs = lhs op rhs'), mirroring how parseCompoundOrHandler
// builds the node with the compound token as Op rather than desugaring at parse time.
var compoundAssignBase = map[lexer.Kind]lexer.Kind{
	lexer.PlusAssign: lexer.Plus, lexer.MinusAssign: lexer.Minus, lexer.StarAssign: lexer.Star,
	lexer.SlashAssign: lexer.Slash, lexer.PercentAssign: lexer.Percent,
	lexer.ShlAssign: lexer.Shl, lexer.ShrAssign: lexer.Shr,
	lexer.AndAssign: lexer.BitAnd, lexer.OrAssign: lexer.BitOr, lexer.XorAssign: lexer.BitXor,
}

func (g *Generator) genExpr(n ast.Node) error {
	switch e := n.(type) {
	case *ast.Simple:
		return g.genSimple(e)

	case *ast.FnDef:
		return g.genFnDef(e)

	case *ast.StructLit:
		return g.genStructLit(e)

	case *ast.Cond:
		return g.genCond(e, true)

	case *ast.Block:
		n := g.genPushBlock(e)
		if err := g.genStmts(e.Stmts, true); err != nil {
			return err
		}
		ins := g.emit(bytecode.POP_BLOCK, e.Location())
		g.code[ins].Arg = n
		return nil

	case *ast.Expr:
		return g.genOpExpr(e)

	default:
		return errors.Wrapf(ErrInternal, "unhandled expression node %T", n)
	}
}

func (g *Generator) genSimple(s *ast.Simple) error {
	tok, ok := s.Tok.(lexer.Token)
	if !ok {
		return errors.Wrap(ErrInternal, "simple node without a token")
	}
	ins := g.emit(bytecode.LOAD_DATA, s.Location())
	switch tok.Kind {
	case lexer.Int:
		g.code[ins].Tag, g.code[ins].IntVal = bytecode.IntData, tok.IntVal
	case lexer.Flt:
		g.code[ins].Tag, g.code[ins].FltVal = bytecode.FltData, tok.FltVal
	case lexer.Str:
		g.code[ins].Tag, g.code[ins].StrVal = bytecode.StrData, tok.StrVal
	case lexer.True:
		g.code[ins].Tag, g.code[ins].BoolVal = bytecode.BoolData, true
	case lexer.False:
		g.code[ins].Tag, g.code[ins].BoolVal = bytecode.BoolData, false
	case lexer.Nil:
		g.code[ins].Tag = bytecode.NilData
	case lexer.Ident:
		g.code[ins].Tag, g.code[ins].StrVal = bytecode.IdenData, tok.StrVal
	default:
		return errors.Wrapf(ErrInternal, "unexpected literal token kind %s", tok.Kind)
	}
	return nil
}

func (g *Generator) genOpExpr(e *ast.Expr) error {
	if e.HasOr {
		return g.genOrExpr(e)
	}

	op, ok := e.Op.(lexer.Kind)
	if !ok {
		return errors.Wrap(ErrInternal, "expr node without an operator kind")
	}

	switch op {
	case lexer.Dot:
		return g.genAttr(e)
	case lexer.LParen:
		return g.genCall(e)
	case lexer.LBracket:
		return g.genIndex(e)
	case lexer.And:
		return g.genShortCircuit(e, bytecode.JMP_FALSE)
	case lexer.Or:
		return g.genShortCircuit(e, bytecode.JMP_TRUE)
	case lexer.Incr, lexer.Decr:
		return g.genIncrDecr(e, op)
	case lexer.Assign:
		return g.genAssign(e)
	case lexer.NotAssign:
		return g.genStoreTarget(e.Lhs, e.Location(), func() error {
			return g.genMethodCallNoArgs(e.Rhs, "__bnot__", e.Location())
		})
	}
	if base, ok := compoundAssignBase[op]; ok {
		name := binaryOpNames[base]
		return g.genStoreTarget(e.Lhs, e.Location(), func() error {
			return g.genMethodCall(e.Rhs, e.Lhs, name, e.Location())
		})
	}

	if e.Lhs != nil && e.Rhs != nil {
		name, ok := binaryOpNames[op]
		if !ok {
			return errors.Wrapf(ErrInternal, "unsupported binary operator %s", op)
		}
		return g.genMethodCall(e.Rhs, e.Lhs, name, e.Location())
	}

	operand := e.Rhs
	name, ok := unaryOpNames[op]
	if !ok {
		return errors.Wrapf(ErrInternal, "unsupported unary operator %s", op)
	}
	return g.genMethodCallNoArgs(operand, name, e.Location())
}

// genMethodCall pushes a single positional argument then the receiver, then emits
// MEM_CALL — the general two-operand-to-one-method-call shape binary operators and
// index/attribute sugar all reduce to (§9 "MEM_CALL dispatch uniformly").
func (g *Generator) genMethodCall(arg, receiver ast.Node, method string, loc source.Location) error {
	if err := g.genExpr(arg); err != nil {
		return err
	}
	if err := g.genExpr(receiver); err != nil {
		return err
	}
	nameIns := g.emit(bytecode.LOAD_DATA, loc)
	g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, method
	ins := g.emit(bytecode.MEM_CALL, loc)
	g.code[ins].StrVal = "0" // one positional argument
	return nil
}

func (g *Generator) genMethodCallNoArgs(receiver ast.Node, method string, loc source.Location) error {
	if err := g.genExpr(receiver); err != nil {
		return err
	}
	nameIns := g.emit(bytecode.LOAD_DATA, loc)
	g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, method
	ins := g.emit(bytecode.MEM_CALL, loc)
	g.code[ins].StrVal = ""
	return nil
}

// genIncrDecr lowers '++'/'--' (prefix and postfix) to a distinct method name per
// form, since prefix yields the new value and postfix yields the old one.
func (g *Generator) genIncrDecr(e *ast.Expr, op lexer.Kind) error {
	operand := e.Lhs
	if operand == nil {
		operand = e.Rhs
	}
	name := "__preincr__"
	switch {
	case op == lexer.Incr && e.Postfix:
		name = "__postincr__"
	case op == lexer.Decr && !e.Postfix:
		name = "__predecr__"
	case op == lexer.Decr && e.Postfix:
		name = "__postdecr__"
	}
	if err := g.genExpr(operand); err != nil {
		return err
	}
	nameIns := g.emit(bytecode.LOAD_DATA, e.Location())
	g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, name
	ins := g.emit(bytecode.MEM_CALL, e.Location())
	g.code[ins].StrVal = ""

	// '++x' and 'x++' both rebind x to the new value as a side effect.
	return g.genStoreTarget(operand, e.Location(), func() error { return nil })
}

// genStoreTarget emits 'target = <value>': 'alreadyPushed' first emits the value
// (genAssign's rhs, a compound assignment's method call), or does nothing when the
// value is already on top of the stack (genIncrDecr); every caller converges on the
// same STORE/MEM_CALL "set" lowering.
func (g *Generator) genStoreTarget(target ast.Node, loc source.Location, alreadyPushed func() error) error {
	if err := alreadyPushed(); err != nil {
		return err
	}
	switch t := target.(type) {
	case *ast.Simple:
		tok, ok := t.Tok.(lexer.Token)
		if !ok || tok.Kind != lexer.Ident {
			return errors.Wrap(ErrInternal, "assignment target is not an identifier")
		}
		ins := g.emit(bytecode.STORE, loc)
		g.code[ins].StrVal = tok.StrVal
		return nil
	case *ast.Expr:
		if op, ok := t.Op.(lexer.Kind); ok && op == lexer.Dot {
			field, ok := t.Rhs.(*ast.Simple)
			if !ok {
				return errors.Wrap(ErrInternal, "dot target without a field name")
			}
			tok := field.Tok.(lexer.Token)
			if err := g.genExpr(t.Lhs); err != nil {
				return err
			}
			ins := g.emit(bytecode.STORE, loc)
			g.code[ins].StrVal = tok.StrVal
			// BoolVal distinguishes the two STORE shapes sharing this opcode: a
			// plain 'name = rhs' leaves just rhs on the stack (assign by name), a
			// dotted 'recv.field = rhs' also pushes recv on top (assign through
			// the receiver's own attribute/field table).
			g.code[ins].BoolVal = true
			return nil
		}
		if op, ok := t.Op.(lexer.Kind); ok && op == lexer.LBracket {
			// vec[i] = x / map[k] = x lower to a 'set' method call on the container
			// (§3 attribute-based-value rule, Open Question decision 3 — there is no
			// dedicated index-store opcode, so indexing stays on the same universal
			// method-call path as every other operator).
			if err := g.genExpr(t.Rhs); err != nil {
				return err
			}
			if err := g.genExpr(t.Lhs); err != nil {
				return err
			}
			nameIns := g.emit(bytecode.LOAD_DATA, loc)
			g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, "set"
			ins := g.emit(bytecode.MEM_CALL, loc)
			g.code[ins].StrVal = "00"
			return nil
		}
	}
	return errors.Wrap(ErrInternal, "unsupported assignment target")
}

// genAssign implements §4.4's 'name = rhs → emit rhs, emit lhs as identifier, STORE',
// generalized to dotted/indexed targets per Open Question decision 3.
func (g *Generator) genAssign(e *ast.Expr) error {
	return g.genStoreTarget(e.Lhs, e.Location(), func() error { return g.genExpr(e.Rhs) })
}

func (g *Generator) genAttr(e *ast.Expr) error {
	field, ok := e.Rhs.(*ast.Simple)
	if !ok {
		return errors.Wrap(ErrInternal, "dot access without a field name")
	}
	tok := field.Tok.(lexer.Token)
	if err := g.genExpr(e.Lhs); err != nil {
		return err
	}
	ins := g.emit(bytecode.ATTR, e.Location())
	g.code[ins].StrVal = tok.StrVal
	return nil
}

// genIndex lowers 'v[i]' to a 'get' method call, the read-side twin of the 'set'
// lowering genStoreTarget uses for indexed assignment.
func (g *Generator) genIndex(e *ast.Expr) error {
	return g.genMethodCall(e.Rhs, e.Lhs, "get", e.Location())
}

func (g *Generator) genShortCircuit(e *ast.Expr, skipOp bytecode.Opcode) error {
	if err := g.genExpr(e.Lhs); err != nil {
		return err
	}
	skip := g.emit(skipOp, e.Location())
	// The skip opcodes (JMP_FALSE/JMP_TRUE) peek without popping (§4.6's "documented
	// peek/pop semantics"), so the lhs value is still the result when we short-circuit;
	// drop it only on the path that goes on to evaluate rhs.
	ins := g.emit(bytecode.UNLOAD, e.Location())
	g.code[ins].Arg = 1
	if err := g.genExpr(e.Rhs); err != nil {
		return err
	}
	g.patch(skip, g.pos())
	return nil
}

// genOrExpr encodes 'e or [name] { block }' as try/catch (§9 "or-handler as
// try/catch"): PUSH_TRY handlerTarget; e; POP_TRY; JMP past_handler; handler body.
func (g *Generator) genOrExpr(e *ast.Expr) error {
	tryIns := g.emit(bytecode.PUSH_TRY, e.Location())
	if err := g.genExpr(e.Lhs); err != nil {
		return err
	}
	g.emit(bytecode.POP_TRY, e.Location())
	pastHandler := g.emit(bytecode.JMP, e.Location())

	g.patch(tryIns, g.pos())
	n := g.genPushBlock(e.Handler)
	if e.Capture != "" {
		ins := g.emit(bytecode.CREATE, e.Location())
		g.code[ins].StrVal = e.Capture
	}
	if err := g.genStmts(e.Handler.Stmts, true); err != nil {
		return err
	}
	popIns := g.emit(bytecode.POP_BLOCK, e.Handler.Location())
	g.code[popIns].Arg = n

	g.patch(pastHandler, g.pos())
	return nil
}

// genCall distinguishes a plain call ('callee(args)') from a method call
// ('receiver.method(args)', parsed as a LParen-Expr whose Lhs is a Dot-Expr) and
// emits the matching opcode (§4.4).
func (g *Generator) genCall(e *ast.Expr) error {
	args, ok := e.Rhs.(*ast.FnArgs)
	if !ok {
		return errors.Wrap(ErrInternal, "call without an argument list")
	}

	if dot, ok := e.Lhs.(*ast.Expr); ok {
		if op, ok := dot.Op.(lexer.Kind); ok && op == lexer.Dot {
			field := dot.Rhs.(*ast.Simple)
			tok := field.Tok.(lexer.Token)

			argInfo, err := g.genArgs(args)
			if err != nil {
				return err
			}
			if err := g.genExpr(dot.Lhs); err != nil {
				return err
			}
			nameIns := g.emit(bytecode.LOAD_DATA, e.Location())
			g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, tok.StrVal
			ins := g.emit(bytecode.MEM_CALL, e.Location())
			g.code[ins].StrVal = argInfo
			return nil
		}
	}

	argInfo, err := g.genArgs(args)
	if err != nil {
		return err
	}
	if err := g.genExpr(e.Lhs); err != nil {
		return err
	}
	ins := g.emit(bytecode.CALL, e.Location())
	g.code[ins].StrVal = argInfo
	return nil
}

// genArgs pushes every argument right-to-left (§4.4 "push all args ... right-to-left")
// so the callee pops them back in left-to-right declaration order, and returns the
// matching argInfo string (one character per argument, in declaration order: '0'
// positional, '1' keyword, '2' unpack).
func (g *Generator) genArgs(args *ast.FnArgs) (string, error) {
	type arg struct {
		val     ast.Node
		name    string
		keyword bool
		unpack  bool
	}
	combined := make([]arg, 0, len(args.Positional)+len(args.NamedKeys))
	for i, v := range args.Positional {
		combined = append(combined, arg{val: v, unpack: args.Unpack[i]})
	}
	for i, k := range args.NamedKeys {
		combined = append(combined, arg{val: args.NamedVals[i], name: k, keyword: true})
	}

	for i := len(combined) - 1; i >= 0; i-- {
		a := combined[i]
		if err := g.genExpr(a.val); err != nil {
			return "", err
		}
		if a.keyword {
			ins := g.emit(bytecode.LOAD_DATA, args.Location())
			g.code[ins].Tag, g.code[ins].StrVal = bytecode.StrData, a.name
		}
	}

	info := make([]byte, len(combined))
	for i, a := range combined {
		switch {
		case a.keyword:
			info[i] = '1'
		case a.unpack:
			info[i] = '2'
		default:
			info[i] = '0'
		}
	}
	return string(info), nil
}

// genFnDef emits a function literal: BLOCK_TILL skipping the body (emitted in
// place), the parameters' default-value expressions, then CREATE_FN (§4.4).
func (g *Generator) genFnDef(fn *ast.FnDef) error {
	skip := g.emit(bytecode.BLOCK_TILL, fn.Location())
	bodyStart := g.pos()
	if err := g.genStmts(fn.Body.Stmts, true); err != nil {
		return err
	}
	// A body that already ends in 'return' (explicit or the simplify pass's
	// defer-lowering insertions) needs no synthetic trailing return; only a
	// fall-through body does, carrying its last expression's value out.
	endsInReturn := len(fn.Body.Stmts) > 0
	if endsInReturn {
		_, endsInReturn = fn.Body.Stmts[len(fn.Body.Stmts)-1].(*ast.Ret)
	}
	if !endsInReturn {
		if len(fn.Body.Stmts) == 0 {
			ins := g.emit(bytecode.LOAD_DATA, fn.Location())
			g.code[ins].Tag = bytecode.NilData
		}
		ins := g.emit(bytecode.RETURN, fn.Location())
		g.code[ins].BoolVal = true
	}
	bodyEnd := g.pos()
	g.patch(skip, bodyEnd) // BLOCK_TILL's own target: where normal execution resumes

	// argInfo's bits and characters are listed in the exact order CREATE_FN pops
	// them (§6 "Pop kw name (if bit 0), va name (if bit 1), then alternating
	// name/default-value pairs per param (reverse order)"): first kw, then va, then
	// one bit per parameter walked from the last declared back to the first.
	argInfo := make([]byte, 0, len(fn.Sig.Params)+2)
	argInfo = append(argInfo, boolBit(fn.Sig.KwArgsBag != ""))
	argInfo = append(argInfo, boolBit(fn.Sig.Variadic != ""))
	for i := len(fn.Sig.Params) - 1; i >= 0; i-- {
		argInfo = append(argInfo, boolBit(fn.Sig.Params[i].Value != nil))
	}

	// The pop order above is the mirror image of push order: CREATE_FN pops kw name
	// first (so it must be pushed last, on top), so the param name/default pairs go
	// on the stack first, in forward source order (so popping retrieves the last
	// parameter first, matching "reverse order"), then the variadic name, then the
	// keyword-bag name.
	for i := 0; i < len(fn.Sig.Params); i++ {
		p := fn.Sig.Params[i]
		if p.Value != nil {
			if err := g.genExpr(p.Value); err != nil {
				return err
			}
		}
		nameIns := g.emit(bytecode.LOAD_DATA, fn.Location())
		g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, p.Name
	}
	if fn.Sig.Variadic != "" {
		ins := g.emit(bytecode.LOAD_DATA, fn.Location())
		g.code[ins].Tag, g.code[ins].StrVal = bytecode.StrData, fn.Sig.Variadic
	}
	if fn.Sig.KwArgsBag != "" {
		ins := g.emit(bytecode.LOAD_DATA, fn.Location())
		g.code[ins].Tag, g.code[ins].StrVal = bytecode.StrData, fn.Sig.KwArgsBag
	}

	ins := g.emit(bytecode.CREATE_FN, fn.Location())
	g.code[ins].StrVal = string(argInfo)
	g.code[ins].Target = bodyStart
	// Arg carries bodyEnd (the matching BLOCK_TILL's own target) alongside Target's
	// bodyStart, so pkg/vm can bound the Fn's byte range without re-scanning backward
	// for the BLOCK_TILL that preceded this literal.
	g.code[ins].Arg = uint32(bodyEnd)
	return nil
}

func boolBit(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// genStructLit pushes each field value keyed by name, then the type identifier, and
// reuses the ordinary CALL path: pkg/vm special-cases a *value.StructDefValue callee
// to build an instance from the keyword arguments instead of invoking a Fn (there is
// no dedicated construction opcode in §6's set).
func (g *Generator) genStructLit(lit *ast.StructLit) error {
	for i := len(lit.Fields) - 1; i >= 0; i-- {
		if err := g.genExpr(lit.Values[i]); err != nil {
			return err
		}
		nameIns := g.emit(bytecode.LOAD_DATA, lit.Location())
		g.code[nameIns].Tag, g.code[nameIns].StrVal = bytecode.StrData, lit.Fields[i]
	}
	if err := g.genExpr(lit.Type); err != nil {
		return err
	}
	info := make([]byte, len(lit.Fields))
	for i := range info {
		info[i] = '1'
	}
	ins := g.emit(bytecode.CALL, lit.Location())
	g.code[ins].StrVal = string(info)
	return nil
}
