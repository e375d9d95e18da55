package vm

import (
	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
)

// binaryOpTokens reverses codegen's binaryOpNames, the universal-method names the
// arithmetic fast path recognizes (§9 Open Question 2: MEM_CALL and pkg/simplify's
// constant folder both run through value.BinaryOp, so the symbol table is shared
// rather than duplicated).
var binaryOpTokens = map[string]lexer.Kind{
	"+": lexer.Plus, "-": lexer.Minus, "*": lexer.Star, "/": lexer.Slash,
	"%": lexer.Percent, "**": lexer.Pow, "//": lexer.IntDiv,
	"<<": lexer.Shl, ">>": lexer.Shr, "&": lexer.BitAnd, "|": lexer.BitOr, "^": lexer.BitXor,
	"<": lexer.Lt, "<=": lexer.Le, ">": lexer.Gt, ">=": lexer.Ge,
	"==": lexer.Eq, "!=": lexer.Ne,
}

// execCreateFn implements CREATE_FN: pop the kwarg-bag/variadic names and the
// param name/default pairs (reverse-of-declaration order, per genFnDef's comment),
// then build a feral FnValue bounded by the instruction's own Target(bodyStart)/
// Arg(bodyEnd), and push it as an ordinary value — binding it to a name is the
// following CREATE/CREATE_IN's job, the same as any other expression result.
func (vm *VM) execCreateFn(entry *ModuleEntry, ins *bytecode.Instruction) error {
	info := []byte(ins.StrVal)
	if len(info) < 2 {
		return failf(ins.Loc, "malformed function literal argInfo")
	}
	hasKwBag, hasVariadic := info[0] == '1', info[1] == '1'
	paramBits := info[2:]

	var kwBag, variadic string
	var err error
	if hasKwBag {
		if kwBag, err = vm.popString(ins.Loc); err != nil {
			return err
		}
	}
	if hasVariadic {
		if variadic, err = vm.popString(ins.Loc); err != nil {
			return err
		}
	}

	params := make([]value.Param, len(paramBits))
	for i := len(paramBits) - 1; i >= 0; i-- {
		name, err := vm.popString(ins.Loc)
		if err != nil {
			return err
		}
		var def value.Value
		if paramBits[i] == '1' {
			if def, err = vm.pop(ins.Loc); err != nil {
				return err
			}
		}
		params[i] = value.Param{Name: name, Default: def}
	}

	fn := value.NewFeralFn("<anonymous>", entry.Module.ID, ins.Target, ins.Arg, params, kwBag, variadic)
	vm.push(fn)
	fn.DecRef() // push already took its own reference
	return nil
}

// execAttr implements ATTR: resolve 'name' against the popped receiver. A
// struct-method/universal-type-method hit is bound to the receiver before it's
// pushed, since ATTR's result may reach a later bare CALL with no receiver operand
// of its own (genForIn's 'hidden.next()' lowering); an instance attribute is
// pushed exactly as stored, since it's already a complete value (§4.6).
func (vm *VM) execAttr(ins *bytecode.Instruction) error {
	recv, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	v, isMethod, err := vm.resolveAttr(recv, ins.StrVal, ins.Loc)
	if err != nil {
		recv.DecRef()
		return err
	}
	if isMethod {
		bound := bindReceiver(v.(*value.FnValue), recv)
		v.DecRef()
		v = bound
	}
	vm.push(v)
	v.DecRef()
	recv.DecRef()
	return nil
}

// resolveAttr is ATTR's and MEM_CALL's shared name-resolution chain: the receiver's
// own attribute table, then (for structs) its StructDef's methods, then the
// universal per-Kind type-method table. It always returns an unbound, owned
// reference — isMethod reports whether the hit came from the latter two tiers, so
// a caller that won't also supply the receiver as an argument (execAttr) knows to
// bind it itself; MEM_CALL ignores isMethod and prepends the receiver uniformly
// regardless of which tier resolved the name (§9 "MEM_CALL dispatch uniformly").
func (vm *VM) resolveAttr(recv value.Value, name string, loc source.Location) (v value.Value, isMethod bool, err error) {
	if sv, ok := recv.(*value.StructValue); ok {
		if fv, ok := sv.Fields.Get(name); ok {
			fv.IncRef()
			return fv, false, nil
		}
	}
	if v, ok := value.InstanceAttr(recv, name); ok {
		v.IncRef()
		return v, false, nil
	}
	if sv, ok := recv.(*value.StructValue); ok {
		if fn, ok := sv.Def.Methods[name]; ok {
			fn.IncRef()
			return fn, true, nil
		}
	}
	if fn, ok := value.LookupTypeMethod(recv.Kind(), name); ok {
		fnv := fn.(*value.FnValue)
		fnv.IncRef()
		return fnv, true, nil
	}
	return nil, false, failf(loc, "%q has no attribute %q", recv.Kind(), name)
}

// bindReceiver wraps 'fn' in a native closure that prepends 'recv' as args[0],
// mirroring MEM_CALL's own "receiver becomes arg[0]" convention so both call paths
// converge on identical underlying call behavior once a method is resolved.
func bindReceiver(fn *value.FnValue, recv value.Value) *value.FnValue {
	recv.IncRef()
	fn.IncRef()
	bound := value.NewNativeFn(fn.Name, func(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
		full := make([]value.Value, 0, len(args)+1)
		full = append(full, recv)
		full = append(full, args...)
		realVM := nvm.(*VM)
		return realVM.invoke(fn, loc, full, kwargs)
	})
	return bound
}

// execCall implements CALL: pop the callee, then consume argInfo characters in
// declaration order (§6's pop-order for CALL). A *value.StructDefValue callee with
// an all-keyword argInfo builds a struct instance instead of invoking a function
// (the construction special case DESIGN.md records).
func (vm *VM) execCall(entry *ModuleEntry, ins *bytecode.Instruction) error {
	callee, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	args, kwargs, err := vm.popArgs(ins.StrVal, ins.Loc)
	if err != nil {
		callee.DecRef()
		return err
	}

	if def, ok := callee.(*value.StructDefValue); ok {
		result, err := vm.construct(def, kwargs, ins.Loc)
		callee.DecRef()
		releaseArgs(args, kwargs)
		if err != nil {
			return err
		}
		vm.push(result)
		result.DecRef()
		return nil
	}

	fn, ok := callee.(*value.FnValue)
	if !ok {
		callee.DecRef()
		releaseArgs(args, kwargs)
		return failf(ins.Loc, "%s is not callable", callee.Kind())
	}
	result, err := vm.invokeChecked(fn, ins.Loc, args, kwargs)
	callee.DecRef()
	releaseArgs(args, kwargs)
	if err != nil {
		return err
	}
	vm.push(result)
	result.DecRef()
	return nil
}

// execMemCall implements MEM_CALL: pop the method name, then the receiver, then
// argInfo's args (§6). Builtin-Kind arithmetic/comparison operator names short-
// circuit straight to value.BinaryOp without a resolveAttr lookup, since every
// builtin Kind responds to them the same way regardless of any instance/type
// method table (§9 Open Question 2's shared-implementation requirement).
func (vm *VM) execMemCall(entry *ModuleEntry, ins *bytecode.Instruction) error {
	name, err := vm.popString(ins.Loc)
	if err != nil {
		return err
	}
	recv, err := vm.pop(ins.Loc)
	if err != nil {
		return err
	}
	args, kwargs, err := vm.popArgs(ins.StrVal, ins.Loc)
	if err != nil {
		recv.DecRef()
		return err
	}

	if op, ok := binaryOpTokens[name]; ok && len(args) == 1 && kwargs.Size() == 0 {
		result, err := value.BinaryOp(op, recv, args[0])
		recv.DecRef()
		releaseArgs(args, kwargs)
		if err != nil {
			return wrapErr(ins.Loc, err)
		}
		vm.push(result)
		result.DecRef()
		return nil
	}

	fn, _, err := vm.resolveAttr(recv, name, ins.Loc)
	if err != nil {
		recv.DecRef()
		releaseArgs(args, kwargs)
		return err
	}
	full := append([]value.Value{recv}, args...)
	result, err := vm.invokeValue(fn, ins.Loc, full, kwargs)
	recv.DecRef()
	releaseArgs(args, kwargs)
	fn.DecRef()
	if err != nil {
		return err
	}
	vm.push(result)
	result.DecRef()
	return nil
}

// popArgs consumes argInfo's characters in declaration order, each popping one
// positional/unpack value or a (name, value) pair for a keyword argument (§6's
// exact CALL/MEM_CALL pop-order).
func (vm *VM) popArgs(argInfo string, loc source.Location) ([]value.Value, *utils.OrderedMap[string, value.Value], error) {
	args := make([]value.Value, 0, len(argInfo))
	kwargs := &utils.OrderedMap[string, value.Value]{}
	for _, c := range []byte(argInfo) {
		switch c {
		case '0', '2':
			v, err := vm.pop(loc)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, v)
		case '1':
			name, err := vm.popString(loc)
			if err != nil {
				return nil, nil, err
			}
			val, err := vm.pop(loc)
			if err != nil {
				return nil, nil, err
			}
			kwargs.Set(name, val)
		default:
			return nil, nil, failf(loc, "malformed argInfo byte %q", c)
		}
	}
	return args, kwargs, nil
}

func releaseArgs(args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) {
	for _, a := range args {
		a.DecRef()
	}
	if kwargs != nil {
		for _, v := range kwargs.Values() {
			v.DecRef()
		}
	}
}

// construct builds a struct instance from an all-keyword call's arguments (§4.6's
// CALL-on-StructDef special case): every field not supplied defaults to nil. Each
// stored field takes its own reference since the kwargs values are separately
// released by the caller's releaseArgs once construct returns.
func (vm *VM) construct(def *value.StructDefValue, kwargs *utils.OrderedMap[string, value.Value], loc source.Location) (value.Value, error) {
	inst := value.NewStruct(def)
	for _, field := range def.FieldOrder {
		if v, ok := kwargs.Get(field); ok {
			v.IncRef()
			inst.Fields.Set(field, v)
			continue
		}
		nilv := value.Nil()
		nilv.IncRef()
		inst.Fields.Set(field, nilv)
	}
	for _, name := range kwargs.Keys() {
		found := false
		for _, field := range def.FieldOrder {
			if field == name {
				found = true
				break
			}
		}
		if !found {
			inst.DecRef()
			return nil, failf(loc, "%s has no field %q", def.Name, name)
		}
	}
	return inst, nil
}

// invokeValue dispatches to a resolved callee Value, which after resolveAttr is
// always a *value.FnValue (either the original or a receiver-bound native wrapper).
func (vm *VM) invokeValue(callee value.Value, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, error) {
	fn, ok := callee.(*value.FnValue)
	if !ok {
		return nil, failf(loc, "%s is not callable", callee.Kind())
	}
	return vm.invokeChecked(fn, loc, args, kwargs)
}

func (vm *VM) invokeChecked(fn *value.FnValue, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, error) {
	result, ok := vm.invoke(fn, loc, args, kwargs)
	if !ok {
		if vm.pendingFail != nil {
			f := vm.pendingFail
			vm.pendingFail = nil
			return nil, f
		}
		if vm.exitRequested {
			return value.Nil(), nil
		}
		return nil, failf(loc, "call to %s failed", fn.Name)
	}
	return result, nil
}

// invoke runs 'fn' with 'args'/'kwargs' bound per §4.6's parameter-binding rule:
// positional args fill params left to right, kwargs override/fill by name, any
// params still unset take their default, leftover positionals pack into the
// variadic if declared, and unrecognized keywords land in the kwarg bag if
// declared (otherwise the call fails). Implements value.NativeFn's own (Value,
// bool) contract so it can serve as the function a bound method-attribute closure
// calls through.
func (vm *VM) invoke(fn *value.FnValue, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	if fn.IsNative {
		return fn.Native(vm, loc, args, kwargs)
	}

	target, ok := vm.Modules[fn.ModuleID]
	if !ok {
		vm.pendingFail = failf(loc, "function %s: owning module not loaded", fn.Name)
		return nil, false
	}

	bind := func() error { return vm.bindParams(target, fn, loc, args, kwargs) }

	result, err := vm.execute(target, fn.BodyStart, fn.BodyEnd, true, true, bind)
	if err != nil {
		vm.pendingFail = wrapErr(loc, err)
		return nil, false
	}
	if result == nil {
		result = value.Nil()
	}
	return result, true
}

// bindParams installs fn's parameters into the frame execute() just pushed, per
// §4.6's binding rule: positional args fill params left to right, kwargs
// override/fill by name, any params still unset take their default, leftover
// positionals pack into the variadic if declared, and unrecognized keywords land
// in the kwarg bag if declared (otherwise the call fails).
// Every binding below takes its own extra reference before SetAttr: args/kwargs
// entries are separately released by the caller's releaseArgs once invoke returns,
// so the frame's copy of each bound value needs a reference independent of that
// release. Freshly built containers (the variadic vec, the kwarg bag) already carry
// their own single reference from construction and are handed to SetAttr directly.
func (vm *VM) bindParams(target *ModuleEntry, fn *value.FnValue, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) error {
	used := make(map[string]bool, kwargs.Size())
	positionalIdx := 0
	for _, p := range fn.Params {
		var v value.Value
		if val, ok := kwargs.Get(p.Name); ok {
			v = val
			used[p.Name] = true
		} else if positionalIdx < len(args) {
			v = args[positionalIdx]
			positionalIdx++
		} else if p.Default != nil {
			v = p.Default
		} else {
			return failf(loc, "function %s: missing argument %q", fn.Name, p.Name)
		}
		v.IncRef()
		target.Vars.SetAttr(p.Name, v, false)
	}

	if fn.Variadic != "" {
		rest := value.NewVec(args[positionalIdx:]...)
		target.Vars.SetAttr(fn.Variadic, rest, false)
		positionalIdx = len(args)
	} else if positionalIdx < len(args) {
		return failf(loc, "function %s: too many positional arguments", fn.Name)
	}

	if fn.KwArgsBag != "" {
		bag := value.NewMap()
		for _, name := range kwargs.Keys() {
			if !used[name] {
				val, _ := kwargs.Get(name)
				bag.Set(name, val)
			}
		}
		target.Vars.SetAttr(fn.KwArgsBag, bag, false)
		return nil
	}
	for _, name := range kwargs.Keys() {
		if !used[name] {
			return failf(loc, "function %s: unexpected keyword argument %q", fn.Name, name)
		}
	}
	return nil
}
