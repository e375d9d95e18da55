package value

import (
	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
)

// maxAncestorWalk bounds the cycle check a container insert performs: walk up to
// this many levels of "does this container already contain itself" before giving up
// and allowing the insert. There is no general GC, so an undetected cycle would leak
// forever; this walk catches the common shallow self-reference case cheaply instead
// of paying for full mark-and-sweep (§3 "cyclic-container rejection via bounded
// ancestor walk").
const maxAncestorWalk = 32

var ErrCyclicContainer = errors.New("operation would create a cyclic container reference")

// ----------------------------------------------------------------------------
// Vec

type VecValue struct {
	box
	Items []Value
}

func NewVec(items ...Value) *VecValue {
	for _, it := range items {
		it.IncRef()
	}
	return &VecValue{newBox(), append([]Value(nil), items...)}
}

func (v *VecValue) Kind() Kind   { return KindVec }
func (v *VecValue) Truthy() bool { return len(v.Items) != 0 }

func (v *VecValue) DecRef() {
	v.refs--
	if v.refs <= 0 {
		for _, it := range v.Items {
			it.DecRef()
		}
		v.Items = nil
	}
}

func (v *VecValue) Clone() Value {
	items := make([]Value, len(v.Items))
	for i, it := range v.Items {
		items[i] = it.Clone()
	}
	return NewVec(items...)
}

// Push appends 'item' to the vec, rejecting the insert if it would make the vec
// contain itself within maxAncestorWalk levels.
func (v *VecValue) Push(item Value) error {
	if containsAncestor(item, v, maxAncestorWalk) {
		return ErrCyclicContainer
	}
	item.IncRef()
	v.Items = append(v.Items, item)
	return nil
}

// ----------------------------------------------------------------------------
// Map (insertion-ordered, §3 "Map")

type MapValue struct {
	box
	Entries utils.OrderedMap[string, Value]
}

func NewMap() *MapValue {
	return &MapValue{box: newBox()}
}

func (v *MapValue) Kind() Kind   { return KindMap }
func (v *MapValue) Truthy() bool { return v.Entries.Size() != 0 }

func (v *MapValue) DecRef() {
	v.refs--
	if v.refs <= 0 {
		for _, val := range v.Entries.Entries() {
			val.DecRef()
		}
	}
}

func (v *MapValue) Clone() Value {
	clone := NewMap()
	for k, val := range v.Entries.Entries() {
		clone.Set(k, val.Clone())
	}
	return clone
}

// Set installs or overwrites 'key', rejecting cyclic self-containment the same way
// Vec.Push does.
func (v *MapValue) Set(key string, val Value) error {
	if containsAncestor(val, v, maxAncestorWalk) {
		return ErrCyclicContainer
	}
	if old, found := v.Entries.Get(key); found {
		old.DecRef()
	}
	val.IncRef()
	v.Entries.Set(key, val)
	return nil
}

// Delete is a no-op when 'key' is absent (§9 Open Question 1).
func (v *MapValue) Delete(key string) {
	if old, found := v.Entries.Get(key); found {
		old.DecRef()
	}
	v.Entries.Delete(key)
}

// containsAncestor walks up to 'depth' levels into 'candidate's own container
// contents looking for 'target' by pointer identity, catching the common
// "v.push(v)" / "m[k] = m" shallow cycle without full graph traversal.
func containsAncestor(candidate, target Value, depth int) bool {
	if depth <= 0 {
		return false
	}
	switch c := candidate.(type) {
	case *VecValue:
		if sameContainer(c, target) {
			return true
		}
		for _, it := range c.Items {
			if containsAncestor(it, target, depth-1) {
				return true
			}
		}
	case *MapValue:
		if sameContainer(c, target) {
			return true
		}
		for _, it := range c.Entries.Entries() {
			if containsAncestor(it, target, depth-1) {
				return true
			}
		}
	}
	return false
}

func sameContainer(a, b Value) bool {
	switch av := a.(type) {
	case *VecValue:
		bv, ok := b.(*VecValue)
		return ok && av == bv
	case *MapValue:
		bv, ok := b.(*MapValue)
		return ok && av == bv
	}
	return false
}

// ----------------------------------------------------------------------------
// Fn: two arms (feral bytecode function, native function) behind one uniform call
// contract (§9 "Native-callable uniformity").

type NativeFn func(vm NativeVM, loc source.Location, args []Value, kwargs *utils.OrderedMap[string, Value]) (Value, bool)

// NativeVM is the minimal surface pkg/natives needs from pkg/vm, kept here (rather
// than importing pkg/vm directly) to avoid a value<->vm import cycle.
type NativeVM interface {
	Fail(loc source.Location, format string, args ...any)
	RequestExit(code int)
}

type FnValue struct {
	box
	Name string

	// Feral-function arm: non-nil ModuleID/body range when this Fn was created by
	// CREATE_FN; nil Native when this is a bytecode function.
	IsNative  bool
	Native    NativeFn
	ModuleID  uint64
	BodyStart uint32
	BodyEnd   uint32

	Params    []Param
	KwArgsBag string
	Variadic  string
}

type Param struct {
	Name    string
	Default Value // nil if no default
}

func NewNativeFn(name string, fn NativeFn) *FnValue {
	return &FnValue{box: newBox(), Name: name, IsNative: true, Native: fn}
}

// NewFeralFn builds the bytecode-function arm, the shape CREATE_FN constructs from
// the byte range CREATE_FN's Target/Arg fields carry plus the param list popped off
// the stack (§4.6).
func NewFeralFn(name string, moduleID uint64, bodyStart, bodyEnd uint32, params []Param, kwArgsBag, variadic string) *FnValue {
	return &FnValue{
		box: newBox(), Name: name, ModuleID: moduleID, BodyStart: bodyStart, BodyEnd: bodyEnd,
		Params: params, KwArgsBag: kwArgsBag, Variadic: variadic,
	}
}

func (v *FnValue) Kind() Kind   { return KindFn }
func (v *FnValue) Truthy() bool { return true }

func (v *FnValue) DecRef() {
	v.refs--
	if v.refs <= 0 {
		for _, p := range v.Params {
			if p.Default != nil {
				p.Default.DecRef()
			}
		}
	}
}

func (v *FnValue) Clone() Value { return v } // functions are shared, never deep-copied

// ----------------------------------------------------------------------------
// ModuleRef: a handle to a loaded module's globals, the Value form of an imported
// module name (§3 "Module").

type ModuleRefValue struct {
	box
	Path    string
	Globals *utils.OrderedMap[string, Value]
}

func NewModuleRef(path string, globals *utils.OrderedMap[string, Value]) *ModuleRefValue {
	return &ModuleRefValue{newBox(), path, globals}
}

func (v *ModuleRefValue) Kind() Kind   { return KindModuleRef }
func (v *ModuleRefValue) Truthy() bool { return true }
func (v *ModuleRefValue) DecRef()      { v.refs-- }
func (v *ModuleRefValue) Clone() Value { return v }

// ----------------------------------------------------------------------------
// StructDef / Struct

type StructDefValue struct {
	box
	Name       string
	FieldOrder []string
	Methods    map[string]*FnValue
}

func NewStructDef(name string, fields []string) *StructDefValue {
	return &StructDefValue{newBox(), name, fields, map[string]*FnValue{}}
}

func (v *StructDefValue) Kind() Kind   { return KindStructDef }
func (v *StructDefValue) Truthy() bool { return true }
func (v *StructDefValue) DecRef()      { v.refs-- }
func (v *StructDefValue) Clone() Value { return v }

type StructValue struct {
	box
	Def    *StructDefValue
	Fields utils.OrderedMap[string, Value]
}

func NewStruct(def *StructDefValue) *StructValue {
	def.IncRef()
	return &StructValue{box: newBox(), Def: def}
}

func (v *StructValue) Kind() Kind   { return KindStruct }
func (v *StructValue) Truthy() bool { return true }

func (v *StructValue) DecRef() {
	v.refs--
	if v.refs <= 0 {
		for _, f := range v.Fields.Entries() {
			f.DecRef()
		}
		v.Def.DecRef()
	}
}

func (v *StructValue) Clone() Value {
	clone := NewStruct(v.Def)
	for k, f := range v.Fields.Entries() {
		clone.Fields.Set(k, f.Clone())
	}
	return clone
}

// ----------------------------------------------------------------------------
// IteratorStateValue: the hidden cursor 'for x in iter' lowers to (§4.4).

type IteratorStateValue struct {
	box
	Source  Value
	Index   int
	AtEnd   bool
}

func NewIteratorState(source Value) *IteratorStateValue {
	source.IncRef()
	return &IteratorStateValue{box: newBox(), Source: source}
}

func (v *IteratorStateValue) Kind() Kind   { return KindIteratorState }
func (v *IteratorStateValue) Truthy() bool { return !v.AtEnd }
func (v *IteratorStateValue) DecRef() {
	v.refs--
	if v.refs <= 0 {
		v.Source.DecRef()
	}
}
func (v *IteratorStateValue) Clone() Value { return v }

// Next advances the iterator, returning (value, ok); ok is false once exhausted.
// Supports Vec and Str (byte-wise... actually rune-wise) sources, the two iterable
// kinds §4.4's for-in lowering needs to demonstrate against. A true result always
// carries its own owned reference — the Str arm's freshly built rune-string is
// already owned from construction, so the Vec arm takes an explicit IncRef on its
// borrowed slice element to match, letting every caller release exactly one
// reference regardless of which arm produced it.
func (v *IteratorStateValue) Next() (Value, bool) {
	switch src := v.Source.(type) {
	case *VecValue:
		if v.Index >= len(src.Items) {
			v.AtEnd = true
			return nil, false
		}
		item := src.Items[v.Index]
		item.IncRef()
		v.Index++
		return item, true
	case *StrValue:
		runes := []rune(src.Val)
		if v.Index >= len(runes) {
			v.AtEnd = true
			return nil, false
		}
		item := NewStr(string(runes[v.Index]))
		v.Index++
		return item, true
	default:
		v.AtEnd = true
		return nil, false
	}
}
