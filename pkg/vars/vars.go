// Package vars implements the per-module variable/scope stack of §4.5: globals, a
// stack of call frames, and within each frame a stack of block scopes plus loop
// markers for break/continue truncation.
//
// Directly grounded on the teacher's pkg/jack/scopes.go ScopeTable: push/pop pairs
// per scope kind, linear-search resolution innermost-to-outermost, variables kept in
// an ordered container rather than a plain map so iteration order (and thus observed
// declaration order) is deterministic.
package vars

import (
	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
)

// ErrUndeclared is returned by getAttr-style lookups that exhaust every scope.
var ErrUndeclared = errors.New("variable undeclared, not found in any scope")

type binding struct {
	value   value.Value
	isConst bool
}

// block is one brace-delimited scope's variable table (§4.5 "block maps").
type block struct {
	entries utils.OrderedMap[string, binding]
}

// loopMarker records the block depth PUSH_LOOP captures, so POP_LOOP/CONTINUE can
// truncate back to it (§4.5's pushLoop/popLoop/continueLoop).
type loopMarker struct {
	blockDepth int
}

// frame is one call's scope: the function-body block plus every nested block pushed
// during its execution, and the loop markers active within it.
type frame struct {
	blocks utils.Stack[*block]
	loops  utils.Stack[loopMarker]
}

// Vars owns one module's globals plus the live call-frame stack (§4.5 "Vars").
type Vars struct {
	globals utils.OrderedMap[string, binding]
	frames  utils.Stack[*frame]
}

func New() *Vars {
	return &Vars{}
}

// PushFrame starts a new call frame with one empty block (the function body scope).
func (v *Vars) PushFrame() {
	f := &frame{}
	f.blocks.Push(&block{})
	v.frames.Push(f)
}

// PopFrame pops the current frame. Any remaining blocks/loops in it must already have
// been popped by the caller (§4.5 invariant).
func (v *Vars) PopFrame() {
	v.frames.Pop()
}

func (v *Vars) curFrame() *frame {
	f, err := v.frames.Top()
	if err != nil {
		return nil
	}
	return f
}

// PushBlock opens a new innermost block. 'hint' is informational only (a size hint to
// preallocate, per §4.5 — the OrderedMap backing a block grows on demand regardless).
func (v *Vars) PushBlock(hint int) {
	if f := v.curFrame(); f != nil {
		f.blocks.Push(&block{})
	}
}

// PopBlock pops n blocks off the current frame, releasing every value ref they held.
func (v *Vars) PopBlock(n int) {
	f := v.curFrame()
	if f == nil {
		return
	}
	for i := 0; i < n; i++ {
		b, err := f.blocks.Pop()
		if err != nil {
			return
		}
		releaseBlock(b)
	}
}

func releaseBlock(b *block) {
	for _, bind := range b.entries.Values() {
		bind.value.DecRef()
	}
}

// PushLoop records the current block depth so PopLoop/ContinueLoop can return to it.
func (v *Vars) PushLoop() {
	if f := v.curFrame(); f != nil {
		f.loops.Push(loopMarker{blockDepth: f.blocks.Count()})
	}
}

// PopLoop pops the loop marker and truncates blocks back to the depth it recorded.
func (v *Vars) PopLoop() {
	f := v.curFrame()
	if f == nil {
		return
	}
	marker, err := f.loops.Pop()
	if err != nil {
		return
	}
	v.truncateBlocksTo(f, marker.blockDepth)
}

// ContinueLoop truncates blocks back to the current loop marker's depth without
// popping the marker itself (a 'continue' re-enters the same loop iteration).
func (v *Vars) ContinueLoop() {
	f := v.curFrame()
	if f == nil {
		return
	}
	marker, err := f.loops.Peek(0)
	if err != nil {
		return
	}
	v.truncateBlocksTo(f, marker.blockDepth)
}

func (v *Vars) truncateBlocksTo(f *frame, depth int) {
	for f.blocks.Count() > depth {
		b, err := f.blocks.Pop()
		if err != nil {
			return
		}
		releaseBlock(b)
	}
}

// SetAttr installs 'name' in the innermost block of the current frame (§4.5
// "setAttr... install in innermost block").
func (v *Vars) SetAttr(name string, val value.Value, isConst bool) {
	f := v.curFrame()
	if f == nil {
		v.globals.Set(name, binding{val, isConst})
		return
	}
	innermost, err := f.blocks.Top()
	if err != nil {
		v.globals.Set(name, binding{val, isConst})
		return
	}
	innermost.entries.Set(name, binding{val, isConst})
}

// SetGlobal installs 'name' directly into the module's global scope, used by the
// loader after executing a source module's top-level block and by native-module
// init hooks (§4.7).
func (v *Vars) SetGlobal(name string, val value.Value) {
	v.globals.Set(name, binding{value: val})
}

// GetAttr resolves 'name' innermost-block-outward through the current frame, falling
// back to globals (§4.5 "getAttr... linear search innermost -> outermost... then
// globals").
func (v *Vars) GetAttr(name string) (value.Value, bool) {
	if f := v.curFrame(); f != nil {
		for b := range f.blocks.Iterator() {
			if bind, found := b.entries.Get(name); found {
				return bind.value, true
			}
		}
	}
	if bind, found := v.globals.Get(name); found {
		return bind.value, true
	}
	return nil, false
}

// IsConst reports whether 'name' (as most recently resolved by GetAttr) was declared
// const, used by STORE to reject assignment (§4.6 "dst must not be const").
func (v *Vars) IsConst(name string) bool {
	if f := v.curFrame(); f != nil {
		for b := range f.blocks.Iterator() {
			if bind, found := b.entries.Get(name); found {
				return bind.isConst
			}
		}
	}
	if bind, found := v.globals.Get(name); found {
		return bind.isConst
	}
	return false
}

// Assign rebinds an already-declared 'name' in place (STORE's "dst must not be
// const; assign dst from src", §4.6), walking innermost-block-outward through the
// current frame and then globals — the same resolution order GetAttr uses, but
// updating the existing binding rather than installing a new one in the innermost
// block the way SetAttr/CREATE does.
func (v *Vars) Assign(name string, val value.Value) error {
	if f := v.curFrame(); f != nil {
		for b := range f.blocks.Iterator() {
			if bind, found := b.entries.Get(name); found {
				if bind.isConst {
					return errors.Errorf("cannot assign to const %q", name)
				}
				bind.value.DecRef()
				val.IncRef()
				b.entries.Set(name, binding{val, bind.isConst})
				return nil
			}
		}
	}
	if bind, found := v.globals.Get(name); found {
		if bind.isConst {
			return errors.Errorf("cannot assign to const %q", name)
		}
		bind.value.DecRef()
		val.IncRef()
		v.globals.Set(name, binding{val, bind.isConst})
		return nil
	}
	return errors.Wrapf(ErrUndeclared, "cannot assign to %q", name)
}

// GlobalNames returns every global in declaration order, used to populate a
// ModuleRef Value's attribute view of a module.
func (v *Vars) GlobalNames() []string {
	return v.globals.Keys()
}

// Global returns a single global binding by name.
func (v *Vars) Global(name string) (value.Value, bool) {
	bind, found := v.globals.Get(name)
	return bind.value, found
}
