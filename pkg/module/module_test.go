package module_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/feral-lang/feral/pkg/module"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/value"
	"github.com/feral-lang/feral/pkg/vm"
)

// writeFile drops 'content' at dir/name and returns its path, the fixture shape
// every test below uses to exercise a real filesystem-backed import.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %q: %v", path, err)
	}
	return path
}

func newLoader(t *testing.T) (*module.Loader, *vm.VM) {
	t.Helper()
	theVM := vm.New()
	l := module.New(theVM, source.NewRegistry())
	return l, theVM
}

func TestLoadMainRunsTopLevelOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.fer", `let x = 1 + 2;`)

	l, theVM := newLoader(t)
	entry, err := l.LoadMain(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.Module.IsMain {
		t.Fatalf("expected IsMain to be true")
	}
	got, ok := entry.Vars.Global("x")
	if !ok {
		t.Fatalf("expected global x to exist")
	}
	if iv, ok := got.(*value.IntValue); !ok || iv.Val != 3 {
		t.Fatalf("expected x == 3, got %v", got)
	}

	if _, ok := theVM.Modules[entry.Module.ID]; !ok {
		t.Fatalf("expected module to be registered in the VM's Module table")
	}
}

func TestImportExposesExportedGlobalsAsAttributes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.fer", `let answer = 42;`)
	mainPath := writeFile(t, dir, "main.fer", `let m = import("./lib"); let got = m.answer;`)

	l, _ := newLoader(t)
	entry, err := l.LoadMain(mainPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := entry.Vars.Global("got")
	if !ok {
		t.Fatalf("expected global 'got' to exist")
	}
	iv, ok := got.(*value.IntValue)
	if !ok || iv.Val != 42 {
		t.Fatalf("expected got == 42, got %v", got)
	}
}

func TestReimportDoesNotRerunTopLevelBlock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counted.fer", `let count = 0; count = count + 1;`)
	mainPath := writeFile(t, dir, "main.fer", `
		let a = import("./counted");
		let b = import("./counted");
		let same = a.count == b.count;
	`)

	l, theVM := newLoader(t)
	entry, err := l.LoadMain(mainPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	same, ok := entry.Vars.Global("same")
	if !ok {
		t.Fatalf("expected global 'same' to exist")
	}
	if bv, ok := same.(*value.BoolValue); !ok || !bv.Val {
		t.Fatalf("expected same == true (single shared module instance), got %v", same)
	}

	// Exactly one registered entry beyond main itself for "counted.fer", regardless
	// of being imported twice.
	count := 0
	for _, e := range theVM.Modules {
		if filepath.Base(e.Module.Path) == "counted.fer" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected counted.fer to be registered exactly once, got %d", count)
	}
}

func TestImportMissingModuleFails(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeFile(t, dir, "main.fer", `let m = import("./nope");`)

	l, _ := newLoader(t)
	if _, err := l.LoadMain(mainPath); err == nil {
		t.Fatalf("expected an error importing a nonexistent module")
	}
}

func TestLoadNativeMissingSharedObjectFails(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.Load(filepath.Join(t.TempDir(), "nope.so"), "")
	if err == nil {
		t.Fatalf("expected an error loading a nonexistent native module")
	}
}

func TestBuiltinNativeRegistersAndLoadsOnce(t *testing.T) {
	initCalls, deinitCalls := 0, 0
	module.RegisterBuiltinNative("module_test_demo", func(ctx *module.InitContext, loc source.Location) bool {
		initCalls++
		ctx.SetGlobal("greeting", value.NewStr("hi"))
		return true
	}, func() {
		deinitCalls++
	})

	l, _ := newLoader(t)
	ref1, err := l.Load("module_test_demo", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref2, err := l.Load("module_test_demo", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("expected the same ModuleRef on re-import")
	}
	if initCalls != 1 {
		t.Fatalf("expected init to run exactly once, ran %d times", initCalls)
	}

	got, ok := value.GetAttr(ref1, "greeting")
	if !ok {
		t.Fatalf("expected 'greeting' attribute to resolve")
	}
	if sv, ok := got.(*value.StrValue); !ok || sv.Val != "hi" {
		t.Fatalf("expected greeting == %q, got %v", "hi", got)
	}

	l.Shutdown()
	if deinitCalls != 1 {
		t.Fatalf("expected deinit to run exactly once on Shutdown, ran %d times", deinitCalls)
	}
}
