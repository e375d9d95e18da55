package vm

import (
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
)

// registerContainerMethods installs the universal type-methods §4.4's indexing
// sugar ('v[i]', 'v[i] = x') and for-in lowering need before any program runs:
// 'get'/'set' give genIndex/genStoreTarget somewhere to land, 'each' produces the
// IteratorStateValue genForIn's example (§6 "v.each()... for-in lowered to
// iterator") pulls 'next' from, and 'len'/'push'/'empty' round out the demo
// container surface pkg/natives' io/sys modules exercise. Grounded on the
// teacher's table-driven registration shape (CompTable et al. in
// pkg/hack/codegen.go) and on original_source's library/std/vec.cpp
// (vec_size/vec_empty/vec_each/vec_iterable_next) for which names belong on
// which Kind.
//
// Called once from init() since typeMethods is a process-wide table (§5 "Module
// table... process-wide singleton") pkg/natives would otherwise have to wire;
// keeping it here lets pkg/vm's own tests exercise indexing/iteration without
// pkg/natives existing yet.
func registerContainerMethods() {
	reg := func(k value.Kind, name string, fn value.NativeFn) {
		value.RegisterTypeMethod(k, name, value.NewNativeFn(name, fn))
	}

	reg(value.KindVec, "len", vecLen)
	reg(value.KindVec, "empty", vecEmpty)
	reg(value.KindVec, "get", vecGet)
	reg(value.KindVec, "set", vecSet)
	reg(value.KindVec, "push", vecPush)
	reg(value.KindVec, "each", containerEach)

	reg(value.KindMap, "len", mapLen)
	reg(value.KindMap, "get", mapGet)
	reg(value.KindMap, "set", mapSet)
	reg(value.KindMap, "has", mapHas)

	reg(value.KindStr, "len", strLen)
	reg(value.KindStr, "get", strGet)
	reg(value.KindStr, "each", containerEach)

	reg(value.KindBytes, "len", bytesLen)
	reg(value.KindBytes, "get", bytesGet)
	reg(value.KindBytes, "set", bytesSet)

	reg(value.KindIteratorState, "next", iterNext)
}

func init() {
	registerContainerMethods()
}

// argInt requires args[idx] to be an Int, the shape every index/subscript method
// takes (mirrors vec_subs's "expected integer argument for vector subscript").
func argInt(vm value.NativeVM, loc source.Location, args []value.Value, idx int, what string) (int64, bool) {
	if idx >= len(args) {
		vm.Fail(loc, "%s: missing argument", what)
		return 0, false
	}
	n, ok := args[idx].(*value.IntValue)
	if !ok {
		vm.Fail(loc, "%s: expected int, found %s", what, args[idx].Kind())
		return 0, false
	}
	return n.Val, true
}

func vecLen(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.VecValue)
	return value.NewInt(int64(len(recv.Items))), true
}

func vecEmpty(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.VecValue)
	return value.NewBool(len(recv.Items) == 0), true
}

func vecGet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.VecValue)
	idx, ok := argInt(vm, loc, args, 1, "vec.get")
	if !ok {
		return nil, false
	}
	if idx < 0 || idx >= int64(len(recv.Items)) {
		vm.Fail(loc, "subscript out of range, max capacity is %d, provided %d", len(recv.Items), idx)
		return nil, false
	}
	item := recv.Items[idx]
	item.IncRef()
	return item, true
}

func vecSet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.VecValue)
	idx, ok := argInt(vm, loc, args, 1, "vec.set")
	if !ok {
		return nil, false
	}
	if idx < 0 || idx >= int64(len(recv.Items)) {
		vm.Fail(loc, "subscript out of range, max capacity is %d, provided %d", len(recv.Items), idx)
		return nil, false
	}
	if len(args) < 3 {
		vm.Fail(loc, "vec.set: missing value argument")
		return nil, false
	}
	newVal := args[2]
	newVal.IncRef()
	recv.Items[idx].DecRef()
	recv.Items[idx] = newVal
	return value.Nil(), true
}

func vecPush(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.VecValue)
	if len(args) < 2 {
		vm.Fail(loc, "vec.push: missing value argument")
		return nil, false
	}
	if err := recv.Push(args[1]); err != nil {
		vm.Fail(loc, "%s", err)
		return nil, false
	}
	recv.IncRef()
	return recv, true
}

func mapLen(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.MapValue)
	return value.NewInt(int64(recv.Entries.Size())), true
}

func mapKeyArg(vm value.NativeVM, loc source.Location, args []value.Value, idx int, what string) (string, bool) {
	if idx >= len(args) {
		vm.Fail(loc, "%s: missing key argument", what)
		return "", false
	}
	s, ok := args[idx].(*value.StrValue)
	if !ok {
		vm.Fail(loc, "%s: expected str key, found %s", what, args[idx].Kind())
		return "", false
	}
	return s.Val, true
}

func mapGet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.MapValue)
	key, ok := mapKeyArg(vm, loc, args, 1, "map.get")
	if !ok {
		return nil, false
	}
	v, found := recv.Entries.Get(key)
	if !found {
		return value.Nil(), true
	}
	v.IncRef()
	return v, true
}

func mapSet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.MapValue)
	key, ok := mapKeyArg(vm, loc, args, 1, "map.set")
	if !ok {
		return nil, false
	}
	if len(args) < 3 {
		vm.Fail(loc, "map.set: missing value argument")
		return nil, false
	}
	if err := recv.Set(key, args[2]); err != nil {
		vm.Fail(loc, "%s", err)
		return nil, false
	}
	return value.Nil(), true
}

func mapHas(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.MapValue)
	key, ok := mapKeyArg(vm, loc, args, 1, "map.has")
	if !ok {
		return nil, false
	}
	_, found := recv.Entries.Get(key)
	return value.NewBool(found), true
}

func strLen(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.StrValue)
	return value.NewInt(int64(len([]rune(recv.Val)))), true
}

func strGet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.StrValue)
	idx, ok := argInt(vm, loc, args, 1, "str.get")
	if !ok {
		return nil, false
	}
	runes := []rune(recv.Val)
	if idx < 0 || idx >= int64(len(runes)) {
		vm.Fail(loc, "subscript out of range, max capacity is %d, provided %d", len(runes), idx)
		return nil, false
	}
	return value.NewStr(string(runes[idx])), true
}

func bytesLen(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.BytesValue)
	return value.NewInt(int64(len(recv.Val))), true
}

func bytesGet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.BytesValue)
	idx, ok := argInt(vm, loc, args, 1, "bytes.get")
	if !ok {
		return nil, false
	}
	if idx < 0 || idx >= int64(len(recv.Val)) {
		vm.Fail(loc, "subscript out of range, max capacity is %d, provided %d", len(recv.Val), idx)
		return nil, false
	}
	return value.NewInt(int64(recv.Val[idx])), true
}

func bytesSet(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.BytesValue)
	idx, ok := argInt(vm, loc, args, 1, "bytes.set")
	if !ok {
		return nil, false
	}
	if idx < 0 || idx >= int64(len(recv.Val)) {
		vm.Fail(loc, "subscript out of range, max capacity is %d, provided %d", len(recv.Val), idx)
		return nil, false
	}
	b, ok := argInt(vm, loc, args, 2, "bytes.set")
	if !ok {
		return nil, false
	}
	recv.Val[idx] = byte(b)
	return value.Nil(), true
}

// containerEach implements Vec/Str's 'each' (original_source's vec_each): wraps
// the receiver in a fresh IteratorStateValue, the hidden cursor 'for x in
// v.each()' binds to and repeatedly calls 'next' on (§4.4).
func containerEach(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	return value.NewIteratorState(args[0]), true
}

// iterNext implements IteratorStateValue's 'next' (original_source's
// vec_iterable_next): returns the next element, or Nil at exhaustion, the
// contract §4.4's for-in lowering tests with JMP_NIL.
func iterNext(vm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	recv := args[0].(*value.IteratorStateValue)
	item, ok := recv.Next()
	if !ok {
		return value.Nil(), true
	}
	return item, true
}
