package value

// Universal type-method table: per-Kind method sets, consulted by GetAttr and by
// MEM_CALL when a receiver's own attribute table doesn't resolve a name (§4.6
// "resolves name via receiver's attribute set, then via its type-method table, then
// via the universal type-method table").
//
// Shaped on the teacher's pkg/hack/codegen.go translation tables (CompTable,
// DestTable, JumpTable): a small set of map[key]value lookup tables built once and
// consulted by the dispatch loop, rather than a virtual method per Kind.
var typeMethods = map[Kind]map[string]*FnValue{}

// RegisterTypeMethod installs 'fn' as a method every value of 'k' responds to,
// e.g. RegisterTypeMethod(KindStr, "len", ...). Called at startup by pkg/vm's
// builtins.go (the container methods) and by native-module init hooks through
// pkg/module's InitContext.RegisterMethod, and at run time by CREATE_IN when a
// function is declared 'in' a builtin type.
func RegisterTypeMethod(k Kind, name string, fn *FnValue) {
	methods, ok := typeMethods[k]
	if !ok {
		methods = map[string]*FnValue{}
		typeMethods[k] = methods
	}
	methods[name] = fn
}

// LookupTypeMethod resolves 'name' against 'k's universal method table.
func LookupTypeMethod(k Kind, name string) (Value, bool) {
	methods, ok := typeMethods[k]
	if !ok {
		return nil, false
	}
	fn, ok := methods[name]
	return fn, ok
}
