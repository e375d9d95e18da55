package vm_test

import (
	"testing"

	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/codegen"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/parser"
	"github.com/feral-lang/feral/pkg/simplify"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
	"github.com/feral-lang/feral/pkg/vars"
	"github.com/feral-lang/feral/pkg/vm"
)

// harness bundles one compiled-and-loaded module plus the VM running it, so each
// test can bind extra globals before Run and inspect Vars after (the same role
// codegen_test.go's compile() plays for bytecode-shape assertions, one level up).
type harness struct {
	t     *testing.T
	entry *vm.ModuleEntry
	vm    *vm.VM
}

func newHarness(t *testing.T, src string) *harness {
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

	entry := &vm.ModuleEntry{
		Module: &bytecode.Module{ID: unit.ID, Path: unit.Path, Dir: unit.Dir, Bytecode: code, IsMain: true},
		Vars:   vars.New(),
	}
	theVM := vm.New()
	theVM.RegisterModule(entry)
	return &harness{t: t, entry: entry, vm: theVM}
}

// bindGlobal installs 'v' as a global before Run, the way pkg/module's loader would
// bind a native module's exports into a fresh program's scope.
func (h *harness) bindGlobal(name string, v value.Value) {
	h.entry.Vars.SetGlobal(name, v)
}

func (h *harness) run() error {
	h.t.Helper()
	return h.vm.Run(h.entry)
}

func (h *harness) mustRun() {
	h.t.Helper()
	if err := h.run(); err != nil {
		h.t.Fatalf("unexpected run error: %v", err)
	}
}

func (h *harness) global(name string) value.Value {
	h.t.Helper()
	v, ok := h.entry.Vars.Global(name)
	if !ok {
		h.t.Fatalf("global %q not found after run", name)
	}
	return v
}

func (h *harness) assertIntGlobal(name string, want int64) {
	h.t.Helper()
	v := h.global(name)
	iv, ok := v.(*value.IntValue)
	if !ok {
		h.t.Fatalf("global %q: expected int, got %s", name, v.Kind())
	}
	if iv.Val != want {
		h.t.Fatalf("global %q: expected %d, got %d", name, want, iv.Val)
	}
}

func (h *harness) assertStrGlobal(name, want string) {
	h.t.Helper()
	v := h.global(name)
	sv, ok := v.(*value.StrValue)
	if !ok {
		h.t.Fatalf("global %q: expected str, got %s", name, v.Kind())
	}
	if sv.Val != want {
		h.t.Fatalf("global %q: expected %q, got %q", name, want, sv.Val)
	}
}

func (h *harness) assertBoolGlobal(name string, want bool) {
	h.t.Helper()
	v := h.global(name)
	bv, ok := v.(*value.BoolValue)
	if !ok {
		h.t.Fatalf("global %q: expected bool, got %s", name, v.Kind())
	}
	if bv.Val != want {
		h.t.Fatalf("global %q: expected %v, got %v", name, want, bv.Val)
	}
}

func TestArithmeticMemCallFastPath(t *testing.T) {
	h := newHarness(t, "let x = 1; let y = x + 2 * 3;")
	h.mustRun()
	h.assertIntGlobal("y", 7)
}

func TestVariableStoreReassignment(t *testing.T) {
	h := newHarness(t, "let x = 1; x = x + 10;")
	h.mustRun()
	h.assertIntGlobal("x", 11)
}

func TestConditionalJumps(t *testing.T) {
	h := newHarness(t, "let y = 0; if 1 < 2 { y = 5; } else { y = 9; }")
	h.mustRun()
	h.assertIntGlobal("y", 5)
}

func TestConditionalJumpsElseBranch(t *testing.T) {
	h := newHarness(t, "let y = 0; if 1 > 2 { y = 5; } else { y = 9; }")
	h.mustRun()
	h.assertIntGlobal("y", 9)
}

func TestForLoopWithBreak(t *testing.T) {
	h := newHarness(t, `
		let sum = 0;
		for let i = 0; i < 10; i = i + 1 {
			if i == 5 { break; }
			sum = sum + i;
		}
	`)
	h.mustRun()
	h.assertIntGlobal("sum", 10) // 0+1+2+3+4
}

func TestForLoopWithContinue(t *testing.T) {
	h := newHarness(t, `
		let sum = 0;
		for let i = 0; i < 5; i = i + 1 {
			if i == 2 { continue; }
			sum = sum + i;
		}
	`)
	h.mustRun()
	h.assertIntGlobal("sum", 8) // 0+1+3+4
}

func TestFunctionCallAndReturn(t *testing.T) {
	h := newHarness(t, `
		fn add(a, b) { return a + b; }
		let r = add(2, 3);
	`)
	h.mustRun()
	h.assertIntGlobal("r", 5)
}

func TestFunctionDefaultParam(t *testing.T) {
	h := newHarness(t, `
		fn greet(times = 3) { return times; }
		let r = greet();
	`)
	h.mustRun()
	h.assertIntGlobal("r", 3)
}

func TestFunctionVariadicParam(t *testing.T) {
	h := newHarness(t, `
		fn count(...rest) { return rest.len(); }
		let r = count(1, 2, 3, 4);
	`)
	h.mustRun()
	h.assertIntGlobal("r", 4)
}

func TestFunctionRecursion(t *testing.T) {
	h := newHarness(t, `
		fn fact(n) {
			if n <= 1 { return 1; }
			return n * fact(n - 1);
		}
		let r = fact(5);
	`)
	h.mustRun()
	h.assertIntGlobal("r", 120)
}

// TestOrHandlerCatchesNativeFailure exercises the try/catch machinery end to end: a
// native global fails inside a nested call (one real execute() recursion below the
// PUSH_TRY), so catch() must unwind that inner execute() and resume the handler one
// Go-call level up from where the failure actually occurred.
func TestOrHandlerCatchesNativeFailure(t *testing.T) {
	h := newHarness(t, `
		fn risky() { return boom(); }
		let caught = "";
		let r = risky() or e { caught = e; 42; };
	`)
	h.bindGlobal("boom", value.NewNativeFn("boom", func(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
		nvm.Fail(loc, "it went boom")
		return nil, false
	}))
	h.mustRun()
	h.assertIntGlobal("r", 42)
	h.assertStrGlobal("caught", "it went boom")
}

func TestStructConstructionFieldAccessAndMethod(t *testing.T) {
	pointDef := value.NewStructDef("Point", []string{"x", "y"})
	h := newHarness(t, `
		let area in Point = fn(self) { return self.x * self.y; };
		let p = Point{x=3, y=4};
		let a = p.area();
		let px = p.x;
	`)
	h.bindGlobal("Point", pointDef)
	h.mustRun()
	h.assertIntGlobal("a", 12)
	h.assertIntGlobal("px", 3)
}

func TestStructFieldAssignment(t *testing.T) {
	pointDef := value.NewStructDef("Point", []string{"x", "y"})
	h := newHarness(t, `
		let p = Point{x=3, y=4};
		p.x = 10;
		let px = p.x;
	`)
	h.bindGlobal("Point", pointDef)
	h.mustRun()
	h.assertIntGlobal("px", 10)
}

func TestVecIndexGetSet(t *testing.T) {
	h := newHarness(t, `
		let first = v.get(0);
		v.set(1, 99);
		let second = v.get(1);
	`)
	h.bindGlobal("v", value.NewVec(value.NewInt(1), value.NewInt(2), value.NewInt(3)))
	h.mustRun()
	h.assertIntGlobal("first", 1)
	h.assertIntGlobal("second", 99)
}

func TestVecBracketIndexGetSet(t *testing.T) {
	h := newHarness(t, `
		let first = v[0];
		v[1] = 99;
	`)
	h.bindGlobal("v", value.NewVec(value.NewInt(1), value.NewInt(2), value.NewInt(3)))
	h.mustRun()
	h.assertIntGlobal("first", 1)

	vv := h.global("v").(*value.VecValue)
	if got := vv.Items[1].(*value.IntValue).Val; got != 99 {
		t.Fatalf("v[1]: expected 99, got %d", got)
	}
}

func TestForInOverVecEach(t *testing.T) {
	h := newHarness(t, `
		let sum = 0;
		for x in v.each() { sum = sum + x; }
	`)
	h.bindGlobal("v", value.NewVec(value.NewInt(1), value.NewInt(2), value.NewInt(3)))
	h.mustRun()
	h.assertIntGlobal("sum", 6)
}

func TestMapGetSetHas(t *testing.T) {
	h := newHarness(t, `
		m.set("k", 7);
		let v1 = m.get("k");
		let found = m.has("k");
		let missing = m.has("nope");
	`)
	h.bindGlobal("m", value.NewMap())
	h.mustRun()
	h.assertIntGlobal("v1", 7)
	h.assertBoolGlobal("found", true)
	h.assertBoolGlobal("missing", false)
}
