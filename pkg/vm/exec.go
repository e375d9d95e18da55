package vm

import (
	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/value"
)

// execute drives the dispatch loop over entry.Module.Bytecode[begin:end] (§4.6).
// addFrame/addBlock mirror the call discipline: true for a feral function call
// (pushFrame/pushBlock before running, popped on every exit path), false for a
// module's top-level block (which binds straight into globals). 'bind', if
// non-nil, runs right after the frame and block are pushed and before the dispatch
// loop starts —
// invoke() uses it to bind the callee's parameters into the freshly pushed frame.
func (vm *VM) execute(entry *ModuleEntry, begin, end uint32, addFrame, addBlock bool, bind func() error) (value.Value, error) {
	if addFrame {
		vm.recurseCount++
		if vm.recurseCount > recurseMax {
			vm.recurseCount--
			return nil, failf(entry.Module.Bytecode[begin].Loc, "stack overflow: recursion exceeds %d", recurseMax)
		}
		entry.Vars.PushFrame()
	}
	if addBlock {
		entry.Vars.PushBlock(0)
	}
	if bind != nil {
		if err := bind(); err != nil {
			vm.unwind(entry, addFrame, addBlock)
			return nil, err
		}
	}

	pc := begin
	for pc < end {
		ins := &entry.Module.Bytecode[pc]

		if ins.Op == bytecode.RETURN {
			result, err := vm.execReturn(ins)
			vm.unwind(entry, addFrame, addBlock)
			return result, err
		}

		nextPC, result, done, err := vm.step(entry, ins, pc)
		if done {
			vm.unwind(entry, addFrame, addBlock)
			return result, err
		}
		if err != nil {
			if vm.exitRequested {
				vm.unwind(entry, addFrame, addBlock)
				return nil, nil
			}
			resumePC, handled := vm.catch(err)
			if !handled {
				vm.unwind(entry, addFrame, addBlock)
				return nil, err
			}
			pc = resumePC
			continue
		}
		if vm.exitRequested {
			vm.unwind(entry, addFrame, addBlock)
			return nil, nil
		}
		pc = nextPC
	}
	vm.unwind(entry, addFrame, addBlock)
	return value.Nil(), nil
}

func (vm *VM) unwind(entry *ModuleEntry, addFrame, addBlock bool) {
	if addBlock {
		entry.Vars.PopBlock(1)
	}
	if addFrame {
		entry.Vars.PopFrame()
		vm.recurseCount--
	}
}

// catch implements §4.6's "error propagation": if the nearest handler was pushed at
// a shallower call depth than where the failure occurred, this execute() invocation
// must unwind itself first and let its caller retry the same check one level up the
// Go call stack (which mirrors recurseCount exactly, one execute() per feral call).
func (vm *VM) catch(err error) (uint32, bool) {
	if len(vm.failStack) == 0 {
		return 0, false
	}
	top := vm.failStack[len(vm.failStack)-1]
	if vm.recurseCount > top.frameDepth {
		return 0, false
	}
	vm.failStack = vm.failStack[:len(vm.failStack)-1]
	if top.popTo <= len(vm.execStack) {
		for _, stale := range vm.execStack[top.popTo:] {
			stale.DecRef()
		}
		vm.execStack = vm.execStack[:top.popTo]
	}
	r, ok := err.(*raised)
	if !ok {
		r = &raised{Value: value.NewStr(err.Error())}
	}
	vm.push(r.Value)
	r.Value.DecRef() // push took its own reference; release the raised struct's
	return top.handlerTarget, true
}

func (vm *VM) execReturn(ins *bytecode.Instruction) (value.Value, error) {
	if !ins.BoolVal {
		return value.Nil(), nil
	}
	return vm.pop(ins.Loc)
}

// step executes a single instruction (every opcode except RETURN, handled by the
// caller so it can terminate the loop directly). Returns either a normal next-pc,
// or done=true with (result, err) when the instruction itself ends the enclosing
// execute() (currently unused — reserved for future early-exit opcodes).
func (vm *VM) step(entry *ModuleEntry, ins *bytecode.Instruction, pc uint32) (nextPC uint32, result value.Value, done bool, err error) {
	switch ins.Op {
	case bytecode.LOAD_DATA:
		err = vm.execLoadData(entry, ins)
	case bytecode.UNLOAD:
		err = vm.execUnload(ins)
	case bytecode.STORE:
		err = vm.execStore(entry, ins)
	case bytecode.CREATE:
		err = vm.execCreate(entry, ins)
	case bytecode.CREATE_IN:
		err = vm.execCreateIn(entry, ins)
	case bytecode.PUSH_BLOCK:
		entry.Vars.PushBlock(int(ins.Arg))
	case bytecode.POP_BLOCK:
		entry.Vars.PopBlock(int(ins.Arg))
	case bytecode.PUSH_LOOP:
		entry.Vars.PushLoop()
	case bytecode.POP_LOOP:
		entry.Vars.PopLoop()
	case bytecode.BLOCK_TILL:
		return ins.Target, nil, false, nil
	case bytecode.CREATE_FN:
		err = vm.execCreateFn(entry, ins)
	case bytecode.CONTINUE:
		entry.Vars.ContinueLoop()
		return ins.Target, nil, false, nil
	case bytecode.BREAK:
		return ins.Target, nil, false, nil
	case bytecode.JMP:
		return ins.Target, nil, false, nil
	case bytecode.JMP_NIL:
		var v value.Value
		if v, err = vm.pop(ins.Loc); err == nil {
			isNil := v.Kind() == value.KindNil
			v.DecRef()
			if isNil {
				return ins.Target, nil, false, nil
			}
		}
	case bytecode.JMP_TRUE:
		// Peek-without-pop (§4.6): the condition stays on the stack regardless of
		// which way genShortCircuit's branch goes, so no DecRef here.
		var v value.Value
		if v, err = vm.peek(ins.Loc); err == nil && v.Truthy() {
			return ins.Target, nil, false, nil
		}
	case bytecode.JMP_FALSE:
		var v value.Value
		if v, err = vm.peek(ins.Loc); err == nil && !v.Truthy() {
			return ins.Target, nil, false, nil
		}
	case bytecode.JMP_TRUE_POP:
		var v value.Value
		if v, err = vm.pop(ins.Loc); err == nil {
			truthy := v.Truthy()
			v.DecRef()
			if truthy {
				return ins.Target, nil, false, nil
			}
		}
	case bytecode.JMP_FALSE_POP:
		var v value.Value
		if v, err = vm.pop(ins.Loc); err == nil {
			truthy := v.Truthy()
			v.DecRef()
			if !truthy {
				return ins.Target, nil, false, nil
			}
		}
	case bytecode.PUSH_TRY:
		vm.failStack = append(vm.failStack, tryRecord{
			handlerTarget: ins.Target,
			popTo:         len(vm.execStack),
			frameDepth:    vm.recurseCount,
		})
	case bytecode.POP_TRY:
		if len(vm.failStack) > 0 {
			vm.failStack = vm.failStack[:len(vm.failStack)-1]
		}
	case bytecode.ATTR:
		err = vm.execAttr(ins)
	case bytecode.CALL:
		err = vm.execCall(entry, ins)
	case bytecode.MEM_CALL:
		err = vm.execMemCall(entry, ins)
	default:
		err = failf(ins.Loc, "unimplemented opcode %s", ins.Op)
	}
	return pc + 1, nil, false, err
}

func (vm *VM) execLoadData(entry *ModuleEntry, ins *bytecode.Instruction) error {
	switch ins.Tag {
	case bytecode.IdenData:
		v, ok := entry.Vars.GetAttr(ins.StrVal)
		if !ok {
			return failf(ins.Loc, "%q is not declared", ins.StrVal)
		}
		vm.push(v)
	case bytecode.NilData:
		vm.push(value.Nil())
	case bytecode.IntData:
		vm.push(value.NewInt(ins.IntVal))
	case bytecode.FltData:
		vm.push(value.NewFltFromFloat(ins.FltVal))
	case bytecode.StrData:
		vm.push(value.NewStr(ins.StrVal))
	case bytecode.BoolData:
		vm.push(value.NewBool(ins.BoolVal))
	default:
		return failf(ins.Loc, "LOAD_DATA with no payload tag")
	}
	return nil
}

func (vm *VM) execUnload(ins *bytecode.Instruction) error {
	for i := uint32(0); i < ins.Arg; i++ {
		v, err := vm.pop(ins.Loc)
		if err != nil {
			return err
		}
		v.DecRef()
	}
	return nil
}

// execStore implements STORE. Assign takes its own reference to the new value
// (matching SetGlobal's convention), so the stack's own reference — acquired when
// src was pushed — is released here once Assign has taken its copy. The assigned
// value is pushed back as the assignment expression's own result, which the
// expression-statement UNLOAD codegen emits then discards.
// execStore implements STORE's two shapes (§4.4's "STORE resolves through the same
// attribute-based-value path CREATE_IN does"): a plain 'name = rhs' rebinds a Vars
// binding by name, while a dotted 'recv.field = rhs' (BoolVal set by codegen) pops an
// extra receiver and assigns through its attribute/field table instead.
func (vm *VM) execStore(entry *ModuleEntry, ins *bytecode.Instruction) error {
	if ins.BoolVal {
		recv, err := vm.pop(ins.Loc)
		if err != nil {
			return err
		}
		src, err := vm.pop(ins.Loc)
		if err != nil {
			recv.DecRef()
			return err
		}
		if sv, ok := recv.(*value.StructValue); ok {
			if old, found := sv.Fields.Get(ins.StrVal); found {
				old.DecRef()
			}
			sv.Fields.Set(ins.StrVal, src)
		} else {
			value.SetAttr(recv, ins.StrVal, src)
			src.DecRef()
		}
		recv.DecRef()
		vm.push(src)
		return nil
	}

	src, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	if err := entry.Vars.Assign(ins.StrVal, src); err != nil {
		return wrapErr(ins.Loc, err)
	}
	vm.push(src)
	src.DecRef()
	return nil
}

// execCreate implements CREATE: bind the popped value under the instruction's name
// in the innermost scope, deep-copying it first if some other binding already holds
// a reference (§4.6 "if refcount > 1, deep-copy").
func (vm *VM) execCreate(entry *ModuleEntry, ins *bytecode.Instruction) error {
	v, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	if v.RefCount() > 1 {
		v.DecRef()
		v = v.Clone()
	}
	entry.Vars.SetAttr(ins.StrVal, v, false)
	return nil
}

// execCreateIn implements CREATE_IN: pop inTarget then value (genVarDecl pushes
// value first, inTarget second, so inTarget is popped first); the instruction's name
// names the attribute/method being installed (Open Question decision 3).
func (vm *VM) execCreateIn(entry *ModuleEntry, ins *bytecode.Instruction) error {
	inTarget, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	v, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	if fn, ok := v.(*value.FnValue); ok {
		if tid, ok := inTarget.(*value.TypeIdValue); ok {
			value.RegisterTypeMethod(tid.BuiltinKind, ins.StrVal, fn)
			inTarget.DecRef()
			return nil
		}
		if def, ok := inTarget.(*value.StructDefValue); ok {
			def.Methods[ins.StrVal] = fn
			inTarget.DecRef()
			return nil
		}
	}
	// SetAttr's OrderedAttrs.Set takes its own reference to v, so the stack's
	// reference (acquired when v was pushed) is released here instead of being
	// transferred the way the two direct-registry branches above transfer it.
	value.SetAttr(inTarget, ins.StrVal, v)
	v.DecRef()
	inTarget.DecRef()
	return nil
}
