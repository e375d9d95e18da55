// Package vm implements the bytecode execution engine of §4.6: a single-threaded
// dispatch loop over pkg/bytecode's linear instruction stream, driven by a shared
// operand stack, a call-frame discipline built on pkg/vars, and a try/catch stack
// for the 'or' handler.
//
// Grounded on the teacher's pkg/hack/codegen.go: a table-driven big-switch
// (CompTable/DestTable/JumpTable there, a per-opcode case here) repurposed from
// "assemble Hack asm" to "execute feral bytecode" — the same shape, a different verb.
package vm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/value"
	"github.com/feral-lang/feral/pkg/vars"
)

// recurseMax bounds feral-function call depth (§4.6's "recurseCount... compared to
// recurseMax to detect stack overflow"); chosen generously since each level also
// consumes a Go stack frame through execute()'s own recursion.
const recurseMax = 2048

// ModuleEntry pairs one loaded Module with the Vars object owning its globals and
// live call frames (§4.5 "every module owns one Vars object"). pkg/module populates
// this table as it loads source and native modules; pkg/vm only reads it, to resolve
// the module a FnValue's ModuleID names when a call crosses module boundaries.
type ModuleEntry struct {
	Module *bytecode.Module
	Vars   *vars.Vars
}

// tryRecord is one PUSH_TRY entry (§4.6 "failStack: stack of try records").
type tryRecord struct {
	handlerTarget uint32
	popTo         int
	frameDepth    int
}

// raised is the error form a failing opcode or native produces: the Value that
// propagates to an 'or' handler (or, uncaught, becomes the top-level failure
// message), wrapped with the location where it was raised (§7 "Runtime error").
type raised struct {
	Value value.Value
	Loc   source.Location
}

func (r *raised) Error() string { return value.Display(r.Value) }

// wrapErr wraps a plain Go error into a *raised carrying a string message, the shape
// any internal failure (undeclared variable, type mismatch, bad arity...) takes
// unless a native passed its own Value through Raise.
func wrapErr(loc source.Location, err error) *raised {
	if r, ok := err.(*raised); ok {
		return r
	}
	return &raised{Value: value.NewStr(err.Error()), Loc: loc}
}

func failf(loc source.Location, format string, args ...any) *raised {
	return &raised{Value: value.NewStr(fmt.Sprintf(format, args...)), Loc: loc}
}

// VM is the single-threaded interpreter instance. One VM runs an entire program;
// pkg/module's loader registers each module it loads into Modules as it goes
// (§5 "Module table... process-wide singleton").
type VM struct {
	Modules map[uint64]*ModuleEntry

	execStack []value.Value
	failStack []tryRecord

	recurseCount int
	ready        bool

	exitRequested bool
	exitCode      int

	pendingFail *raised
}

// New returns a VM ready to load and run modules.
func New() *VM {
	return &VM{Modules: map[uint64]*ModuleEntry{}, ready: true}
}

// Ready reports whether the VM is still willing to execute (§4.6: once an uncaught
// failure reaches the top level, 'the VM is marked not-ready; subsequent calls
// become no-ops until explicit reset').
func (vm *VM) Ready() bool { return vm.ready }

// Reset clears the not-ready flag and any leftover exit/fail state, letting a host
// (e.g. a REPL) keep using the same VM after an uncaught error.
func (vm *VM) Reset() {
	vm.ready = true
	vm.exitRequested = false
	vm.exitCode = 0
	vm.pendingFail = nil
	vm.execStack = vm.execStack[:0]
	vm.failStack = vm.failStack[:0]
}

// RegisterModule installs 'entry' under its Module's ID, the map CALL/CREATE_FN
// consult to switch modules across a call boundary.
func (vm *VM) RegisterModule(entry *ModuleEntry) {
	vm.Modules[entry.Module.ID] = entry
}

// Fail implements value.NativeVM: a native function calls this before returning
// (nil, false) to report what went wrong, the same way a failing opcode would.
func (vm *VM) Fail(loc source.Location, format string, args ...any) {
	vm.pendingFail = failf(loc, format, args...)
}

// RequestExit implements value.NativeVM for the sys.exit() native (§4.6 "Exit").
func (vm *VM) RequestExit(code int) {
	vm.exitRequested = true
	vm.exitCode = code
}

// Raise lets a native pass an arbitrary Value as the failure (the raise(v) builtin,
// §7's "by default a string-wrapped message; raise(v) passes an arbitrary Value").
func (vm *VM) Raise(loc source.Location, v value.Value) {
	v.IncRef()
	vm.pendingFail = &raised{Value: v, Loc: loc}
}

// Run executes a module's top-level block once, the loader's step 4 (§4.7).
// addFrame/addBlock are both false: top-level declarations bind straight into the
// module's globals, the same collapse vars.Vars already performs when no frame is
// active. Once an uncaught failure has marked the VM not-ready, Run does nothing
// until Reset.
func (vm *VM) Run(entry *ModuleEntry) error {
	if !vm.ready {
		return nil
	}
	_, err := vm.execute(entry, 0, uint32(len(entry.Module.Bytecode)), false, false, nil)
	if err != nil {
		vm.ready = false
		if r, ok := err.(*raised); ok {
			return errors.Errorf("uncaught error: %s", value.Display(r.Value))
		}
		return err
	}
	return nil
}

// ExitCode reports the code sys.exit() requested, or 0 if the program never called
// it (§6 "Exit code: 0 on success; source's exit(n) returns n").
func (vm *VM) ExitCode() int { return vm.exitCode }

// ExitRequested reports whether a native requested process exit.
func (vm *VM) ExitRequested() bool { return vm.exitRequested }

func (vm *VM) push(v value.Value) {
	v.IncRef()
	vm.execStack = append(vm.execStack, v)
}

func (vm *VM) pop(loc source.Location) (value.Value, error) {
	n := len(vm.execStack)
	if n == 0 {
		return nil, failf(loc, "operand stack underflow")
	}
	v := vm.execStack[n-1]
	vm.execStack = vm.execStack[:n-1]
	return v, nil
}

func (vm *VM) peek(loc source.Location) (value.Value, error) {
	n := len(vm.execStack)
	if n == 0 {
		return nil, failf(loc, "operand stack underflow")
	}
	return vm.execStack[n-1], nil
}

// popString requires the popped value to carry a string (method/variadic/kwarg
// names are always pushed as LOAD_DATA string constants, never identifiers).
func (vm *VM) popString(loc source.Location) (string, error) {
	v, err := vm.pop(loc)
	if err != nil {
		return "", err
	}
	s, ok := v.(*value.StrValue)
	if !ok {
		return "", failf(loc, "expected a string operand, got %s", v.Kind())
	}
	return s.Val, nil
}
