// Package module implements the Module loader of §4.7: specifier resolution,
// canonicalization, an idempotent path-keyed cache, the compile pipeline
// (lexer→parser→simplify→codegen), one-time top-level execution, and native
// shared-library init/deinit hooks.
//
// Grounded on the teacher's three cmd/*/main.go pipelines (read → parse → lower →
// codegen), collapsed here into one cached, idempotent Load instead of three
// separate one-shot binaries (see SPEC_FULL.md PACKAGE MAP).
package module

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

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

// SourceExt is the source-module file extension §4.7 step 2 appends. ("fer" is
// the extension the original C++ implementation's own sources and the wider
// Feral-Lang ecosystem use for this language.)
const SourceExt = ".fer"

// nativeExt is the platform shared-library extension §4.7 step 2 names.
func nativeExt() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// Loader owns the process-wide Module table (via the *vm.VM it loads into), the
// Source registry, and the ordered search path list §4.7 step 1 resolves bare
// names against. One Loader per running program (§5 "process-wide singletons").
type Loader struct {
	VM       *vm.VM
	Registry *source.Registry

	// SearchPaths is consulted in order for a bare-name specifier: env-provided
	// paths first, then the install-prefix fallback (§4.7 step 1).
	SearchPaths []string

	native      map[string]*nativeHandle
	nativeOrder []string
}

// New builds a Loader with SearchPaths populated from FERAL_PATHS and the running
// executable's install prefix (HOME only expands a leading '~' in a specifier).
func New(v *vm.VM, registry *source.Registry) *Loader {
	return &Loader{
		VM:          v,
		Registry:    registry,
		SearchPaths: searchPathsFromEnv(),
		native:      map[string]*nativeHandle{},
	}
}

// searchPathsFromEnv builds the env-provided root list: each FERAL_PATHS entry
// contributes "<root>/include/feral" and "<root>/lib/feral" (§6 "Environment
// variables"), followed by the same two suffixes under the running binary's
// install prefix.
func searchPathsFromEnv() []string {
	var roots []string
	for _, root := range splitPathList(os.Getenv("FERAL_PATHS")) {
		if root == "" {
			continue
		}
		roots = append(roots, filepath.Join(root, "include", "feral"), filepath.Join(root, "lib", "feral"))
	}
	roots = append(roots, installPrefixRoots()...)
	return roots
}

// splitPathList accepts both ':' and ';' separators regardless of host OS, per
// §6's literal "colon/semicolon-separated" wording.
func splitPathList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ':' || r == ';' })
}

// installPrefixRoots derives "<prefix>/include/feral" and "<prefix>/lib/feral"
// from the running executable's own location (two directories up from its
// "bin/feral", mirroring the teacher's cmd/*/main.go binaries living under a
// single install tree).
func installPrefixRoots() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	prefix := filepath.Dir(filepath.Dir(exe))
	return []string{filepath.Join(prefix, "include", "feral"), filepath.Join(prefix, "lib", "feral")}
}

// homeDir resolves '~' (§4.7 step 1), falling back to the HOME env var directly
// if os.UserHomeDir fails (e.g. a minimal container with HOME set but no passwd
// entry), matching original_source's fs::home()'s own getenv("HOME") fallback.
func homeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return os.Getenv("HOME")
}

// candidateBases computes every path §4.7 step 1 would have the loader try,
// before step 2 appends an extension: '~'-relative, '.'-relative-to-fromDir,
// absolute-verbatim, or one candidate per search root for a bare name.
func (l *Loader) candidateBases(specifier, fromDir string) []string {
	switch {
	case strings.HasPrefix(specifier, "~"):
		return []string{filepath.Join(homeDir(), strings.TrimPrefix(specifier, "~"))}
	case strings.HasPrefix(specifier, "."):
		return []string{filepath.Join(fromDir, specifier)}
	case filepath.IsAbs(specifier):
		return []string{specifier}
	default:
		bases := make([]string, 0, len(l.SearchPaths))
		for _, root := range l.SearchPaths {
			bases = append(bases, filepath.Join(root, specifier))
		}
		return bases
	}
}

// resolve implements §4.7 steps 1-2: turn a specifier into a concrete,
// extension-bearing file path plus whether it's a native module. The specifier
// is also tried verbatim (already carrying its own extension) ahead of the
// appended-extension candidates, so an explicit 'import("./foo.fer")' works too.
func (l *Loader) resolve(specifier, fromDir string) (path string, isNative bool, err error) {
	bases := l.candidateBases(specifier, fromDir)
	nExt := nativeExt()

	for _, base := range bases {
		if filepath.Ext(base) != "" && fileExists(base) {
			return base, strings.EqualFold(filepath.Ext(base), nExt), nil
		}
		if p := base + SourceExt; fileExists(p) {
			return p, false, nil
		}
		if p := base + nExt; fileExists(p) {
			return p, true, nil
		}
	}
	return "", false, errors.Errorf("module %q not found (searched %d location(s))", specifier, len(bases))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving absolute path for %q", path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

// Load resolves and loads 'specifier' relative to 'fromDir' (the importing
// module's directory; "" for the program's own entry file), returning a
// ModuleRef wrapping the loaded module's globals (§3 "ModuleRef... import('x').y
// is an attribute read"). Re-resolving an already-cached canonical path returns
// the cached entry without re-running its top-level block (§4.7 step 3, and the
// closing "re-loading a module during execution must never re-run its top-level
// block").
func (l *Loader) Load(specifier, fromDir string) (*value.ModuleRefValue, error) {
	if ref, ok := l.loadBuiltin(specifier); ok {
		return ref, nil
	}

	path, isNative, err := l.resolve(specifier, fromDir)
	if err != nil {
		return nil, err
	}
	canon, err := canonicalize(path)
	if err != nil {
		return nil, err
	}

	if isNative {
		return l.loadNative(canon)
	}
	return l.loadSource(canon)
}

// LoadMain loads 'path' (an absolute or cwd-relative path straight from the CLI,
// not a specifier) as the program's entry module, marking it IsMain so §4.6's
// top-level-failure handling and §6's CLI exit-code rule apply to it.
func (l *Loader) LoadMain(path string) (*vm.ModuleEntry, error) {
	canon, err := canonicalize(path)
	if err != nil {
		return nil, err
	}
	entry, _, err := l.loadSourceEntry(canon, true)
	return entry, err
}

func (l *Loader) alreadyLoaded(canon string) (*vm.ModuleEntry, bool, error) {
	unit, ok := l.Registry.ByPath(canon)
	if !ok {
		return nil, false, errors.New("not loaded")
	}
	entry, ok := l.VM.Modules[unit.ID]
	return entry, ok, nil
}

func (l *Loader) loadSource(canon string) (*value.ModuleRefValue, error) {
	entry, _, err := l.loadSourceEntry(canon, false)
	if err != nil {
		return nil, err
	}
	return l.moduleRef(entry), nil
}

// loadSourceEntry is the shared body of §4.7 step 4: cache check, read, compile,
// register, run-once. 'isMain' only affects bytecode.Module.IsMain, never the
// idempotency check itself — a module first pulled in as an import and later
// named again on the CLI (or vice versa) still only compiles and executes once.
func (l *Loader) loadSourceEntry(canon string, isMain bool) (entry *vm.ModuleEntry, freshlyLoaded bool, err error) {
	if entry, ok, _ := l.alreadyLoaded(canon); ok {
		return entry, false, nil
	}

	content, err := os.ReadFile(canon)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading module %q", canon)
	}
	return l.compileAndRun(canon, filepath.Dir(canon), content, isMain)
}

// LoadExpr compiles and runs 'content' as a one-off main module under the
// synthetic path/dir the caller supplies (cmd/feral's "-e" flag: there is no
// file to resolve a specifier against, so this bypasses §4.7 step 1 entirely
// but still goes through the same compile→register→run body and the same
// Module table every real import lands in, so the expression's "import"
// global still works).
func (l *Loader) LoadExpr(path, dir string, content []byte) (*vm.ModuleEntry, error) {
	entry, _, err := l.compileAndRun(path, dir, content, true)
	return entry, err
}

// compileAndRun is the shared tail of loadSourceEntry/LoadExpr: register the
// content with the source registry, re-check the Module-table cache (a
// concurrent/second resolution of the same canonical path, e.g. via a
// symlink, can land here after another Load already registered the Module),
// then run the full compile pipeline and execute the top-level block once.
func (l *Loader) compileAndRun(path, dir string, content []byte, isMain bool) (entry *vm.ModuleEntry, freshlyLoaded bool, err error) {
	canon := path
	unit := l.Registry.Load(canon, dir, content)

	if existing, ok := l.VM.Modules[unit.ID]; ok {
		return existing, false, nil
	}

	tokens, err := lexer.New(unit).Lex()
	if err != nil {
		return nil, false, errors.Wrapf(err, "lexing module %q", canon)
	}
	prog, err := parser.New(tokens).Parse()
	if err != nil {
		return nil, false, errors.Wrapf(err, "parsing module %q", canon)
	}
	simplified := simplify.Run(prog)
	code, err := codegen.Generate(simplified)
	if err != nil {
		return nil, false, errors.Wrapf(err, "generating bytecode for module %q", canon)
	}

	mod := &bytecode.Module{ID: unit.ID, Path: canon, Dir: dir, Bytecode: code, IsMain: isMain}
	entry = &vm.ModuleEntry{Module: mod, Vars: vars.New()}
	l.bindImport(entry, dir)
	l.VM.RegisterModule(entry)

	log.Printf("module: compiled %s (%s instructions, %s)", canon,
		humanize.Comma(int64(len(code))), humanize.Bytes(uint64(bytecode.EncodedSize(mod))))

	if len(mod.Bytecode) > 0 {
		if err := l.VM.Run(entry); err != nil {
			return nil, false, errors.Wrapf(err, "executing top-level block of module %q", canon)
		}
	}
	return entry, true, nil
}

// bindImport installs the 'import' global every module needs to pull in further
// modules (§3's ModuleRef is produced exclusively by calling it). 'dir' anchors
// any '.'-relative specifier the importing module's own top-level code uses.
func (l *Loader) bindImport(entry *vm.ModuleEntry, dir string) {
	fn := value.NewNativeFn("import", func(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
		if len(args) < 1 {
			nvm.Fail(loc, "import: missing module specifier")
			return nil, false
		}
		spec, ok := args[0].(*value.StrValue)
		if !ok {
			nvm.Fail(loc, "import: expected str specifier, found %s", args[0].Kind())
			return nil, false
		}
		ref, err := l.Load(spec.Val, dir)
		if err != nil {
			nvm.Fail(loc, "%s", err)
			return nil, false
		}
		return ref, true
	})
	entry.Vars.SetGlobal("import", fn)
}

// moduleRef snapshots entry's current globals into a ModuleRef (§3 "ModuleRef: a
// Value that wraps a Module's globals"). Taken fresh on every Load/import call
// rather than cached on the entry, so a module that keeps mutating its own
// globals after its top-level block returns (unusual, but not forbidden) is
// still observed correctly by a later importer.
func (l *Loader) moduleRef(entry *vm.ModuleEntry) *value.ModuleRefValue {
	globals := &utils.OrderedMap[string, value.Value]{}
	for _, name := range entry.Vars.GlobalNames() {
		if v, ok := entry.Vars.Global(name); ok {
			globals.Set(name, v)
		}
	}
	return value.NewModuleRef(entry.Module.Path, globals)
}
