// Package value implements the runtime value model of §3 "Value": a tagged variant,
// one concrete type per kind, ref-counted rather than garbage collected.
//
// Shaped on the teacher's tagged-variant idiom (pkg/jack/jack.go's
// Statement/Expression marker interfaces, one struct per arm, switched with a type
// switch instead of virtual dispatch — see §9's design note for why that shape was
// kept here too).
package value

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Kind discriminates the Value variants; mirrors §3's enumeration exactly.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFlt
	KindStr
	KindTypeId
	KindBytes
	KindVec
	KindMap
	KindFn
	KindModuleRef
	KindStructDef
	KindStruct
	KindIteratorState
)

var kindNames = map[Kind]string{
	KindNil: "nil", KindBool: "bool", KindInt: "int", KindFlt: "flt", KindStr: "str",
	KindTypeId: "typeid", KindBytes: "bytes", KindVec: "vec", KindMap: "map",
	KindFn: "fn", KindModuleRef: "module", KindStructDef: "structdef",
	KindStruct: "struct", KindIteratorState: "iterator",
}

func (k Kind) String() string { return kindNames[k] }

// Value is the shared marker interface every variant implements. Callers type-switch
// on the concrete pointer type rather than using virtual dispatch (§9).
type Value interface {
	Kind() Kind
	Truthy() bool
	RefCount() int
	IncRef()
	// DecRef drops one reference; when the count reaches zero it releases any
	// children it holds (§5 "Resource lifetimes": dec at every scope pop, stack pop,
	// map/vec clear, attribute overwrite).
	DecRef()
	// Clone returns an independent deep copy with RefCount()==1, used by CREATE when
	// binding a value whose refcount is already >1 (§4.6 "CREATE... if refcount > 1,
	// deep-copy").
	Clone() Value
}

// box is embedded in every concrete Value to carry the reference count and the
// attribute table every value type supports (§3 "attribute-based value").
type box struct {
	refs  int
	attrs *OrderedAttrs
}

func newBox() box { return box{refs: 1} }

func (b *box) RefCount() int { return b.refs }
func (b *box) IncRef()       { b.refs++ }

// OrderedAttrs is a tiny insertion-ordered string->Value map, used for the per-value
// attribute table every Value carries (§3's "attribute-based value" note — even
// scalars can carry attached attributes via CREATE_IN).
type OrderedAttrs struct {
	keys   []string
	values map[string]Value
}

func (a *OrderedAttrs) Get(name string) (Value, bool) {
	if a == nil || a.values == nil {
		return nil, false
	}
	v, ok := a.values[name]
	return v, ok
}

func (a *OrderedAttrs) Set(name string, v Value) {
	if a.values == nil {
		a.values = map[string]Value{}
	}
	if old, found := a.values[name]; found {
		old.DecRef()
	} else {
		a.keys = append(a.keys, name)
	}
	v.IncRef()
	a.values[name] = v
}

func (b *box) attrTable() *OrderedAttrs {
	if b.attrs == nil {
		b.attrs = &OrderedAttrs{}
	}
	return b.attrs
}

// GetAttr / SetAttr implement §4.5's getAttr/setAttr for any Value, consulting the
// per-value attribute table first and falling back to the universal type-method
// table (installed separately, see RegisterTypeMethod in typemethods.go).
func GetAttr(v Value, name string) (Value, bool) {
	// A ModuleRef's exported names live in its own Globals snapshot rather than the
	// generic per-value attribute table (pkg/module never calls SetAttr on one), so
	// 'import("x").y' resolves here before falling through to the generic tiers.
	if mr, ok := v.(*ModuleRefValue); ok {
		if found, ok := mr.Globals.Get(name); ok {
			return found, true
		}
	}
	if attrs := attrsOf(v); attrs != nil {
		if found, ok := attrs.Get(name); ok {
			return found, true
		}
	}
	return LookupTypeMethod(v.Kind(), name)
}

func SetAttr(v Value, name string, attr Value) {
	attrsOf(v).Set(name, attr)
}

// InstanceAttr looks up 'name' in v's own per-value attribute table only, without
// falling back to the universal type-method table GetAttr consults. pkg/vm needs the
// two fallback tiers kept apart: an instance attribute is returned as-is, while a
// universal type-method must be bound to its receiver before it's callable bare
// (ATTR's "fn(receiver)(...)" lowering needs the receiver captured somewhere since the
// later CALL supplies none).
func InstanceAttr(v Value, name string) (Value, bool) {
	if mr, ok := v.(*ModuleRefValue); ok {
		return mr.Globals.Get(name)
	}
	if attrs := attrsOf(v); attrs != nil {
		return attrs.Get(name)
	}
	return nil, false
}

func attrsOf(v Value) *OrderedAttrs {
	switch t := v.(type) {
	case *NilValue:
		return t.attrTable()
	case *BoolValue:
		return t.attrTable()
	case *IntValue:
		return t.attrTable()
	case *FltValue:
		return t.attrTable()
	case *StrValue:
		return t.attrTable()
	case *TypeIdValue:
		return t.attrTable()
	case *BytesValue:
		return t.attrTable()
	case *VecValue:
		return t.attrTable()
	case *MapValue:
		return t.attrTable()
	case *FnValue:
		return t.attrTable()
	case *ModuleRefValue:
		return t.attrTable()
	case *StructDefValue:
		return t.attrTable()
	case *StructValue:
		return t.attrTable()
	case *IteratorStateValue:
		return t.attrTable()
	}
	return nil
}

// ----------------------------------------------------------------------------
// Nil

type NilValue struct{ box }

var theNil = &NilValue{newBox()}

// Nil returns the shared nil singleton; callers still IncRef it like any other
// Value since its refcount is only ever inspected, never trusted for identity.
func Nil() *NilValue { return theNil }

func (v *NilValue) Kind() Kind    { return KindNil }
func (v *NilValue) Truthy() bool  { return false }
func (v *NilValue) DecRef()       { v.refs-- }
func (v *NilValue) Clone() Value  { return v }

// ----------------------------------------------------------------------------
// Bool

type BoolValue struct {
	box
	Val bool
}

func NewBool(b bool) *BoolValue { return &BoolValue{newBox(), b} }

func (v *BoolValue) Kind() Kind   { return KindBool }
func (v *BoolValue) Truthy() bool { return v.Val }
func (v *BoolValue) DecRef()      { v.refs-- }
func (v *BoolValue) Clone() Value { return NewBool(v.Val) }

// ----------------------------------------------------------------------------
// Int (int64-backed, DESIGN.md Open Question decision 4)

type IntValue struct {
	box
	Val int64
}

func NewInt(n int64) *IntValue { return &IntValue{newBox(), n} }

func (v *IntValue) Kind() Kind   { return KindInt }
func (v *IntValue) Truthy() bool { return v.Val != 0 }
func (v *IntValue) DecRef()      { v.refs-- }
func (v *IntValue) Clone() Value { return NewInt(v.Val) }

// ----------------------------------------------------------------------------
// Flt (shopspring/decimal-backed)

type FltValue struct {
	box
	Val decimal.Decimal
}

func NewFlt(d decimal.Decimal) *FltValue { return &FltValue{newBox(), d} }
func NewFltFromFloat(f float64) *FltValue { return NewFlt(decimal.NewFromFloat(f)) }

func (v *FltValue) Kind() Kind   { return KindFlt }
func (v *FltValue) Truthy() bool { return !v.Val.IsZero() }
func (v *FltValue) DecRef()      { v.refs-- }
func (v *FltValue) Clone() Value { return NewFlt(v.Val) }

// ----------------------------------------------------------------------------
// Str

type StrValue struct {
	box
	Val string
}

func NewStr(s string) *StrValue { return &StrValue{newBox(), s} }

func (v *StrValue) Kind() Kind   { return KindStr }
func (v *StrValue) Truthy() bool { return v.Val != "" }
func (v *StrValue) DecRef()      { v.refs-- }
func (v *StrValue) Clone() Value { return NewStr(v.Val) }

// ----------------------------------------------------------------------------
// TypeId

type TypeIdValue struct {
	box
	Name string
	// BuiltinKind is the Kind this TypeId names, for builtin-type identifiers (e.g.
	// the global 'Int'/'Str'/... names pkg/natives binds at startup) so CREATE_IN's
	// "install as type method" case (§4.6) has a Kind to register the method under.
	// Zero value KindNil for struct-originated TypeIds, which route through
	// StructDefValue.Methods instead (see pkg/vm's CREATE_IN handling).
	BuiltinKind Kind
}

func NewTypeId(name string) *TypeIdValue { return &TypeIdValue{box: newBox(), Name: name} }

// NewBuiltinTypeId is NewTypeId plus the Kind CREATE_IN needs to register a universal
// type-method under when this TypeId is used as the target of 'let x in Int = ...'.
func NewBuiltinTypeId(name string, kind Kind) *TypeIdValue {
	return &TypeIdValue{box: newBox(), Name: name, BuiltinKind: kind}
}

func (v *TypeIdValue) Kind() Kind   { return KindTypeId }
func (v *TypeIdValue) Truthy() bool { return true }
func (v *TypeIdValue) DecRef()      { v.refs-- }
func (v *TypeIdValue) Clone() Value { return v } // type identities are never copied

// ----------------------------------------------------------------------------
// Bytes

type BytesValue struct {
	box
	Val []byte
}

func NewBytes(b []byte) *BytesValue { return &BytesValue{newBox(), append([]byte(nil), b...)} }

func (v *BytesValue) Kind() Kind   { return KindBytes }
func (v *BytesValue) Truthy() bool { return len(v.Val) != 0 }
func (v *BytesValue) DecRef()      { v.refs-- }
func (v *BytesValue) Clone() Value { return NewBytes(v.Val) }

// Display renders a Value the way string-coercion contexts (concatenation,
// interpolation, printing) need (§3's implicit str() coercion).
func Display(v Value) string {
	switch t := v.(type) {
	case *NilValue:
		return "nil"
	case *BoolValue:
		return fmt.Sprintf("%t", t.Val)
	case *IntValue:
		return fmt.Sprintf("%d", t.Val)
	case *FltValue:
		return t.Val.String()
	case *StrValue:
		return t.Val
	case *TypeIdValue:
		return t.Name
	case *BytesValue:
		return string(t.Val)
	case *VecValue:
		parts := make([]string, len(t.Items))
		for i, it := range t.Items {
			parts[i] = Display(it)
		}
		return "[" + joinComma(parts) + "]"
	case *MapValue:
		parts := make([]string, 0, t.Entries.Size())
		for k, val := range t.Entries.Entries() {
			parts = append(parts, fmt.Sprintf("%s=%s", k, Display(val)))
		}
		return "{" + joinComma(parts) + "}"
	case *StructValue:
		return fmt.Sprintf("%s{...}", t.Def.Name)
	case *FnValue:
		return fmt.Sprintf("<fn %s>", t.Name)
	case *ModuleRefValue:
		return fmt.Sprintf("<module %s>", t.Path)
	default:
		return "<value>"
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// ErrUndefinedAttr is returned by GetAttr-failure paths (ATTR opcode, §4.6).
var ErrUndefinedAttr = errors.New("attribute undefined")
