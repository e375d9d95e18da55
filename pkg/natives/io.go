// Package natives holds the demonstration native modules registered through
// pkg/module's builtin-native contract (§1 Non-goals: the standard library
// proper is an external collaborator; these two modules exist only to
// exercise §4.7 step 5's init/deinit contract end to end).
package natives

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/feral-lang/feral/pkg/module"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/utils"
	"github.com/feral-lang/feral/pkg/value"
)

func init() {
	module.RegisterBuiltinNative("io", initIO, nil)
}

// initIO grounds on original_source's library/std/io.cpp REGISTER_MODULE(io):
// "println" and "print" natives that stringify and space-join their arguments
// (println adds a trailing newline), plus "readline". The free-function calling convention means args here carries the caller's
// arguments directly, with no receiver slot (pkg/vm/call.go's execCall).
func initIO(ctx *module.InitContext, loc source.Location) bool {
	ctx.SetGlobal("println", value.NewNativeFn("println", nativePrintln))
	ctx.SetGlobal("print", value.NewNativeFn("print", nativePrint))
	ctx.SetGlobal("readline", value.NewNativeFn("readline", nativeReadline))
	return true
}

func nativePrintln(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	writeArgs(args)
	fmt.Fprintln(os.Stdout)
	return value.Nil(), true
}

func nativePrint(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	writeArgs(args)
	return value.Nil(), true
}

func writeArgs(args []value.Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.Display(a)
	}
	fmt.Fprint(os.Stdout, strings.Join(parts, " "))
}

var stdin = bufio.NewReader(os.Stdin)

func nativeReadline(nvm value.NativeVM, loc source.Location, args []value.Value, kwargs *utils.OrderedMap[string, value.Value]) (value.Value, bool) {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		nvm.Fail(loc, "readline: %s", err)
		return nil, false
	}
	return value.NewStr(strings.TrimRight(line, "\r\n")), true
}
