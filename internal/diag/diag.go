// Package diag renders user-facing diagnostics for cmd/feral: the located
// "path line[col]: error: message" + source line + caret format pkg/source's
// Registry.Format already builds (§7 "Runtime error"), plus the teacher's own
// plain "ERROR: ..." line for failures that have no source location at all
// (a missing input file, a bad CLI flag).
package diag

import (
	"fmt"
	"os"

	"github.com/feral-lang/feral/pkg/source"
)

// Reporter writes diagnostics to a single *os.File stream (os.Stderr in
// cmd/feral).
type Reporter struct {
	Registry *source.Registry
	Out      *os.File
}

// New returns a Reporter writing to os.Stderr.
func New(registry *source.Registry) *Reporter {
	return &Reporter{Registry: registry, Out: os.Stderr}
}

// Located prints a diagnostic anchored to a source Location, using the
// registry's own caret-rendering (§7).
func (r *Reporter) Located(loc source.Location, message string) {
	fmt.Fprintln(r.Out, r.Registry.Format(loc, message))
}

// Locatedf is Located with a formatted message.
func (r *Reporter) Locatedf(loc source.Location, format string, args ...any) {
	r.Located(loc, fmt.Sprintf(format, args...))
}

// Plain prints a bare "ERROR: ..." line, the shape every teacher cmd/*/main.go
// handler uses for failures that precede any parsing (bad CLI args, unreadable
// files, a missing module on FERAL_PATHS).
func (r *Reporter) Plain(format string, args ...any) {
	fmt.Fprintf(r.Out, "ERROR: %s\n", fmt.Sprintf(format, args...))
}
