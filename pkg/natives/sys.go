package natives

import (
	"os"

	"github.com/feral-lang/feral/pkg/module"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
)

// versionMajor/Minor/Patch mirror original_source's lib/std/Sys.cpp INIT_MODULE(Sys)
// build-time constants; there is no real release cut for this port, so these name
// the spec's own major.minor.patch instead of a C++ build's CMake-injected values.
const (
	versionMajor = 0
	versionMinor = 1
	versionPatch = 0
)

var deinitCalls int

func init() {
	module.RegisterBuiltinNative("sys", initSys, deinitSys)
}

// initSys grounds on lib/std/Sys.cpp: an "exit" native plus a handful of
// process/build-info globals. varExists/setMaxCallstacks/getMaxCallstacks are
// dropped — they need access to the calling module's own Vars table and the
// VM's recurseMax, neither of which InitContext exposes (Non-goal: this module
// demonstrates the native contract, it isn't a production stdlib).
func initSys(ctx *module.InitContext, loc source.Location) bool {
	ctx.SetGlobal("exit", value.NewNativeFn("exit", nativeExit))

	argv := make([]value.Value, 0, len(os.Args))
	for _, a := range os.Args {
		argv = append(argv, value.NewStr(a))
	}
	ctx.SetGlobal("args", value.NewVec(argv...))

	if exe, err := os.Executable(); err == nil {
		ctx.SetGlobal("selfBin", value.NewStr(exe))
	} else {
		ctx.SetGlobal("selfBin", value.NewStr(""))
	}

	ctx.SetGlobal("versionMajor", value.NewInt(versionMajor))
	ctx.SetGlobal("versionMinor", value.NewInt(versionMinor))
	ctx.SetGlobal("versionPatch", value.NewInt(versionPatch))
	return true
}

func nativeExit(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	code := 0
	if len(args) > 0 {
		iv, ok := args[0].(*value.IntValue)
		if !ok {
			nvm.Fail(loc, "exit: expected int exit code, found %s", args[0].Kind())
			return nil, false
		}
		code = int(iv.Val)
	}
	nvm.RequestExit(code)
	return value.Nil(), true
}

// deinitSys only bumps a counter: it exists so Loader.Shutdown's LIFO teardown
// path has something real to exercise for the "sys" builtin, mirroring how a
// real native module might flush/close a resource opened in init.
func deinitSys() {
	deinitCalls++
}
