package module

import (
	"path/filepath"
	"plugin"
	"strings"

	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/value"
	"github.com/feral-lang/feral/pkg/vars"
	"github.com/feral-lang/feral/pkg/vm"
)

// InitFunc is a native module's init hook (§6 "Module-initializer contract":
// fn init_<name>(vm, moduleLocation) -> bool). DeinitFunc is its optional
// shutdown counterpart.
type InitFunc func(ctx *InitContext, moduleLocation source.Location) bool
type DeinitFunc func()

// InitContext is the surface an init hook gets to populate "the current
// Module" (§4.7 step 5) with: globals and universal type methods, without
// handing it the whole *vm.VM or *vars.Vars.
type InitContext struct {
	entry *vm.ModuleEntry
}

// SetGlobal installs 'name' as one of the native module's exported globals.
func (c *InitContext) SetGlobal(name string, v value.Value) {
	c.entry.Vars.SetGlobal(name, v)
}

// RegisterMethod installs 'fn' as a universal method every value of Kind 'k'
// responds to (the same table pkg/vm/builtins.go's container methods live in).
func (c *InitContext) RegisterMethod(k value.Kind, name string, fn value.NativeFn) {
	value.RegisterTypeMethod(k, name, value.NewNativeFn(name, fn))
}

// nativeHandle is one loaded native module's cache entry: its exported globals
// (as a ModuleRef, returned again on re-import) plus the deinit hook to run at
// shutdown.
type nativeHandle struct {
	ref    *value.ModuleRefValue
	deinit DeinitFunc
}

// builtinNatives is the process-wide table of statically-linked native modules
// (§1 Non-goals: "the set of built-in standard library modules... is explicitly
// out of scope as an external collaborator", but pkg/natives' io/sys
// demonstration modules still need to register through this exact contract).
// A real §4.7-step-5 dlopen'd module (loadNative below) uses the identical
// InitFunc/DeinitFunc shape; only how the symbol is obtained differs.
var builtinNatives = map[string]struct {
	init   InitFunc
	deinit DeinitFunc
}{}

// RegisterBuiltinNative installs a statically-linked native module under 'name',
// resolved by Loader.Load before any filesystem/dlopen search is attempted — the
// same role a real init_<name>.so would play, minus the shared-library step.
// Called from pkg/natives' package init().
func RegisterBuiltinNative(name string, init InitFunc, deinit DeinitFunc) {
	builtinNatives[name] = struct {
		init   InitFunc
		deinit DeinitFunc
	}{init, deinit}
}

// loadBuiltin resolves 'specifier' against the builtin-native table, bypassing
// filesystem resolution entirely — only bare names (no '~', '.', or absolute
// path) can name one, since a builtin is identified by logical name, not path.
func (l *Loader) loadBuiltin(specifier string) (*value.ModuleRefValue, bool) {
	if strings.HasPrefix(specifier, "~") || strings.HasPrefix(specifier, ".") || filepath.IsAbs(specifier) {
		return nil, false
	}
	reg, ok := builtinNatives[specifier]
	if !ok {
		return nil, false
	}

	key := "builtin:" + specifier
	if h, ok := l.native[key]; ok {
		return h.ref, true
	}

	unit := l.Registry.Load("builtin:"+specifier, "", nil)
	entry := &vm.ModuleEntry{
		Module: &bytecode.Module{ID: unit.ID, Path: unit.Path, NativePath: specifier},
		Vars:   vars.New(),
	}
	l.VM.RegisterModule(entry)

	ctx := &InitContext{entry: entry}
	if !reg.init(ctx, source.Location{SourceID: unit.ID}) {
		return nil, false
	}

	ref := l.moduleRef(entry)
	l.native[key] = &nativeHandle{ref: ref, deinit: reg.deinit}
	l.nativeOrder = append(l.nativeOrder, key)
	return ref, true
}

// loadNative implements §4.7 step 5 for a real shared-object file: dlopen it via
// Go's plugin package, resolve its init/deinit symbols, and invoke init with a
// fresh Module. Go's plugin ABI only exposes exported (capitalized) package-level
// identifiers, so the spec's snake_case "init_<name>"/"deinit_<name>" contract is
// adapted to "Init_<name>"/"Deinit_<name>" here — the minimal change the
// toolchain forces, not a stylistic departure.
func (l *Loader) loadNative(canon string) (*value.ModuleRefValue, error) {
	if h, ok := l.native[canon]; ok {
		return h.ref, nil
	}

	p, err := plugin.Open(canon)
	if err != nil {
		return nil, errors.Wrapf(err, "loading native module %q", canon)
	}

	base := strings.TrimSuffix(filepath.Base(canon), filepath.Ext(canon))

	initSym, err := p.Lookup("Init_" + base)
	if err != nil {
		return nil, errors.Wrapf(err, "native module %q: resolving init hook", canon)
	}
	init, ok := initSym.(func(*InitContext, source.Location) bool)
	if !ok {
		return nil, errors.Errorf("native module %q: init hook has the wrong signature", canon)
	}

	unit := l.Registry.Load(canon, filepath.Dir(canon), nil)
	entry := &vm.ModuleEntry{
		Module: &bytecode.Module{ID: unit.ID, Path: canon, Dir: filepath.Dir(canon), NativePath: canon},
		Vars:   vars.New(),
	}
	l.VM.RegisterModule(entry)

	ctx := &InitContext{entry: entry}
	if !init(ctx, source.Location{SourceID: unit.ID}) {
		return nil, errors.Errorf("native module %q: init hook returned false", canon)
	}

	var deinit DeinitFunc
	if deinitSym, err := p.Lookup("Deinit_" + base); err == nil {
		if fn, ok := deinitSym.(func()); ok {
			deinit = fn
		}
	}

	ref := l.moduleRef(entry)
	l.native[canon] = &nativeHandle{ref: ref, deinit: deinit}
	l.nativeOrder = append(l.nativeOrder, canon)
	return ref, nil
}

// Shutdown runs every loaded native module's deinit hook in last-in-first-out
// order (§5 "native deinit hooks run in reverse registration order at
// shutdown"), then clears the native cache. A host (cmd/feral) calls this once
// right before process exit.
func (l *Loader) Shutdown() {
	for i := len(l.nativeOrder) - 1; i >= 0; i-- {
		key := l.nativeOrder[i]
		if h := l.native[key]; h != nil && h.deinit != nil {
			h.deinit()
		}
	}
	l.nativeOrder = nil
	l.native = map[string]*nativeHandle{}
}
