package natives_test

import (
	"testing"

	_ "github.com/feral-lang/feral/pkg/natives"

	"github.com/feral-lang/feral/pkg/module"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/value"
	"github.com/feral-lang/feral/pkg/vm"
)

// newLoader mirrors pkg/module's own test harness: a fresh VM plus Loader, wired
// to the process-wide builtinNatives table pkg/natives populates via its init().
func newLoader(t *testing.T) *module.Loader {
	t.Helper()
	return module.New(vm.New(), source.NewRegistry())
}

func TestIOModuleExposesPrintln(t *testing.T) {
	l := newLoader(t)
	ref, err := l.Load("io", "")
	if err != nil {
		t.Fatalf("unexpected error loading io: %v", err)
	}
	fn, ok := value.GetAttr(ref, "println")
	if !ok {
		t.Fatalf("expected io.println to resolve")
	}
	if _, ok := fn.(*value.FnValue); !ok {
		t.Fatalf("expected println to be a function value, got %T", fn)
	}
}

func TestSysModuleExposesExitAndArgs(t *testing.T) {
	l := newLoader(t)
	ref, err := l.Load("sys", "")
	if err != nil {
		t.Fatalf("unexpected error loading sys: %v", err)
	}

	exitFn, ok := value.GetAttr(ref, "exit")
	if !ok {
		t.Fatalf("expected sys.exit to resolve")
	}
	fn := exitFn.(*value.FnValue)

	theVM := vm.New()
	ok2 := false
	_, ok2 = fn.Native(theVM, source.Location{}, []value.Value{value.NewInt(7)}, nil)
	if !ok2 {
		t.Fatalf("expected sys.exit to succeed")
	}
	if !theVM.ExitRequested() || theVM.ExitCode() != 7 {
		t.Fatalf("expected exit requested with code 7, got requested=%v code=%d", theVM.ExitRequested(), theVM.ExitCode())
	}

	if _, ok := value.GetAttr(ref, "args"); !ok {
		t.Fatalf("expected sys.args to resolve")
	}
	if _, ok := value.GetAttr(ref, "versionMajor"); !ok {
		t.Fatalf("expected sys.versionMajor to resolve")
	}
}

func TestSysShutdownAfterLoad(t *testing.T) {
	l := newLoader(t)
	if _, err := l.Load("sys", ""); err != nil {
		t.Fatalf("unexpected error loading sys: %v", err)
	}
	l.Shutdown() // exercised for its LIFO teardown path; no directly observable state here
}
