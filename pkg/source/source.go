// Package source owns the registry of source buffers the rest of the pipeline refers
// to by id: the lexer, parser, codegen and bytecode all stamp every token, node and
// instruction with a Location that's just (sourceId, offsetStart, offsetEnd); actually
// resolving a Location to "path, line 12, col 4" goes back through this registry.
package source

import (
	"fmt"
	"strings"
)

// ----------------------------------------------------------------------------
// Source unit

// A single loaded source file: its canonical path, the raw bytes, and a line table
// used to map byte offsets back to line/column for diagnostics (§3 "Source unit").
//
// Created once per canonical path and owned by the Registry for the lifetime of the
// process — bytecode Locations reference it by id, so it must never be freed while
// the process is running (§3's "never destroyed during the process lifetime").
type Unit struct {
	ID   uint64 // Stable id, assigned by the Registry at load time
	Path string // Canonical absolute path (or a synthetic name for "-e" expressions)
	Dir  string // Directory portion of Path, used to resolve relative imports

	Bytes []byte // Raw file content

	lines []lineSpan // Sorted (byteStart, byteEnd) per line, built once at load time
}

type lineSpan struct{ start, end int }

func newUnit(id uint64, path, dir string, content []byte) *Unit {
	u := &Unit{ID: id, Path: path, Dir: dir, Bytes: content}
	u.indexLines()
	return u
}

// Builds the line table by scanning for '\n' once; every later Locate() call is then
// a binary search instead of a re-scan.
func (u *Unit) indexLines() {
	start := 0
	for i, b := range u.Bytes {
		if b == '\n' {
			u.lines = append(u.lines, lineSpan{start: start, end: i})
			start = i + 1
		}
	}
	u.lines = append(u.lines, lineSpan{start: start, end: len(u.Bytes)})
}

// Resolves a byte offset to a 1-based (line, column) pair plus the raw text of that
// line, enough to render the "source line + caret" diagnostics §7 requires.
func (u *Unit) Locate(offset int) (line, col int, lineText string) {
	lo, hi := 0, len(u.lines)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if u.lines[mid].start <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	span := u.lines[lo]
	return lo + 1, offset - span.start + 1, string(u.Bytes[span.start:span.end])
}

// ----------------------------------------------------------------------------
// Location

// A half-open byte range inside a single Unit. Attached to every Token, AST node and
// bytecode Instruction (§3 "Location").
type Location struct {
	SourceID    uint64
	OffsetStart int
	OffsetEnd   int
}

// Zero returns true for the location used by synthetic/compiler-internal nodes that
// have no corresponding source text.
func (l Location) Zero() bool { return l == Location{} }

// ----------------------------------------------------------------------------
// Registry

// Process-wide table of loaded Units, keyed by canonical path (§5 "process-wide
// singletons"). Idempotent: loading the same path twice returns the same Unit.
type Registry struct {
	byPath map[string]*Unit
	byID   map[uint64]*Unit
	nextID uint64
}

func NewRegistry() *Registry {
	return &Registry{byPath: map[string]*Unit{}, byID: map[uint64]*Unit{}}
}

// Registers 'content' under 'path', or returns the already-registered Unit if 'path'
// was loaded before. 'path' must already be canonicalized by the caller (pkg/module
// owns path resolution; this registry just owns storage).
func (r *Registry) Load(path, dir string, content []byte) *Unit {
	if existing, found := r.byPath[path]; found {
		return existing
	}

	r.nextID++
	unit := newUnit(r.nextID, path, dir, content)
	r.byPath[path] = unit
	r.byID[unit.ID] = unit
	return unit
}

// Looks up a previously loaded Unit by its numeric id (used when resolving a
// bytecode Location back to a diagnostic).
func (r *Registry) ByID(id uint64) (*Unit, bool) {
	unit, found := r.byID[id]
	return unit, found
}

// Looks up a previously loaded Unit by canonical path.
func (r *Registry) ByPath(path string) (*Unit, bool) {
	unit, found := r.byPath[path]
	return unit, found
}

// Units returns every loaded Unit in id order, for pkg/bytecode's on-disk
// source-table section (§6).
func (r *Registry) Units() []*Unit {
	units := make([]*Unit, 0, len(r.byID))
	for id := uint64(1); id <= r.nextID; id++ {
		if u, found := r.byID[id]; found {
			units = append(units, u)
		}
	}
	return units
}

// Reserve registers a Unit with a caller-supplied id and no content, used when
// reading a compiled bytecode file back: the on-disk source table only carries
// (id, path), not the original bytes, since diagnostics against a precompiled
// module only need to print the path, not re-render a caret line.
func (r *Registry) Reserve(id uint64, path string) *Unit {
	if existing, found := r.byID[id]; found {
		return existing
	}
	unit := &Unit{ID: id, Path: path}
	r.byID[id] = unit
	r.byPath[path] = unit
	if id > r.nextID {
		r.nextID = id
	}
	return unit
}

// Formats a Location as the §7 user-visible failure format:
//
//	<path> <line>[<col>]: error: <message>
//	<source line>
//	     ^
func (r *Registry) Format(loc Location, message string) string {
	unit, found := r.ByID(loc.SourceID)
	if !found {
		return fmt.Sprintf("<unknown>: error: %s", message)
	}
	if len(unit.lines) == 0 {
		// Reserved from a compiled bytecode file's source table: path only, no bytes
		// to render a caret against.
		return fmt.Sprintf("%s: error: %s", unit.Path, message)
	}

	line, col, text := unit.Locate(loc.OffsetStart)
	caret := caretLine(text, col)
	return fmt.Sprintf("%s %d[%d]: error: %s\n%s\n%s", unit.Path, line, col, message, text, caret)
}

// Builds a caret line aligned to 'col', preserving tab widths by emitting a tab for
// every tab in the prefix and a space for everything else (§7).
func caretLine(text string, col int) string {
	var b strings.Builder
	for i := 0; i < col-1 && i < len(text); i++ {
		if text[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte('^')
	return b.String()
}
