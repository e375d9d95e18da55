// cmd/feral is the CLI surface of §6: a thin shell over the core lex → parse →
// simplify → codegen → run pipeline, collapsing the teacher's three separate
// cmd/*/main.go binaries (hack_assembler, vm_translator, jack_compiler) into
// one teris-io/cli command the way the teacher builds each of those.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/teris-io/cli"

	"github.com/feral-lang/feral/internal/diag"
	"github.com/feral-lang/feral/pkg/bytecode"
	"github.com/feral-lang/feral/pkg/codegen"
	"github.com/feral-lang/feral/pkg/lexer"
	"github.com/feral-lang/feral/pkg/module"
	_ "github.com/feral-lang/feral/pkg/natives"
	"github.com/feral-lang/feral/pkg/parser"
	"github.com/feral-lang/feral/pkg/simplify"
	"github.com/feral-lang/feral/pkg/source"
	"github.com/feral-lang/feral/pkg/vm"
)

const version = "feral 0.1.0"

var description = strings.ReplaceAll(`
Feral is a small dynamically-typed scripting language. This runs a single
source file, given by its path (module names are not searched), through the
full lex/parse/simplify/codegen pipeline and executes it.
`, "\n", " ")

var Feral = cli.New(description).
	WithArg(cli.NewArg("source", "The source file path, or (with -e) inline expression to run").AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("v", "Print the version and exit").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("t", "Dump lexer tokens and stop").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("p", "Dump the parsed AST and stop").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("b", "Dump compiled bytecode and stop").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("c", "Compile only, do not run (dry run)").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("e", "Evaluate the source argument as an inline expression").WithType(cli.TypeBool)).
	WithOption(cli.NewOption("r", "Recurse dumps (-t/-p/-b) into imported modules").WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if _, ok := options["v"]; ok {
		fmt.Println(version)
		return 0
	}
	if len(args) < 1 {
		fmt.Println("ERROR: no source file or expression given, use --help")
		return 1
	}

	_, dumpTokens := options["t"]
	_, dumpAST := options["p"]
	_, dumpBytecode := options["b"]
	_, compileOnly := options["c"]
	_, isExpr := options["e"]
	_, recurse := options["r"]
	dumping := dumpTokens || dumpAST || dumpBytecode

	registry := source.NewRegistry()
	reporter := diag.New(registry)

	var content []byte
	var path, dir string
	if isExpr {
		content, path, dir = []byte(args[0]), "<expr>", ""
	} else {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			reporter.Plain("unable to open input file: %s", err)
			return 1
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			reporter.Plain("%s", err)
			return 1
		}
		content, path, dir = raw, abs, filepath.Dir(abs)
	}

	// -t/-p/-b/-c run the pipeline once, standalone, and never touch the module
	// loader or VM — a dump is a read-only presentation of the compile pipeline's
	// intermediate forms, not a program execution.
	if dumping || compileOnly {
		return runPipelineDump(registry, reporter, path, dir, content, dumpTokens, dumpAST, dumpBytecode, recurse)
	}

	theVM := vm.New()
	loader := module.New(theVM, registry)
	defer loader.Shutdown()

	var err error
	if isExpr {
		_, err = loader.LoadExpr(path, dir, content)
	} else {
		_, err = loader.LoadMain(path)
	}
	if err != nil {
		reporter.Plain("%s", err)
		return 1
	}

	if theVM.ExitRequested() {
		return theVM.ExitCode()
	}
	return 0
}

// runPipelineDump drives lex→parse→simplify→codegen once for -t/-p/-b/-c,
// printing whichever intermediate forms were requested and stopping before
// any module is registered or run. 'recurse' is accepted for interface
// completeness with §6 but dumping a single file's own pipeline has nothing
// to recurse into until pkg/module's Load is invoked, which this path
// deliberately never does.
func runPipelineDump(registry *source.Registry, reporter *diag.Reporter, path, dir string, content []byte, dumpTokens, dumpAST, dumpBytecode, recurse bool) int {
	_ = recurse
	unit := registry.Load(path, dir, content)

	tokens, err := lexer.New(unit).Lex()
	if err != nil {
		reporter.Plain("lexing failed: %s", err)
		return 1
	}
	if dumpTokens {
		for _, tok := range tokens {
			fmt.Printf("%s\n", tok)
		}
	}

	prog, err := parser.New(tokens).Parse()
	if err != nil {
		reporter.Plain("parsing failed: %s", err)
		return 1
	}
	simplified := simplify.Run(prog)
	if dumpAST {
		fmt.Printf("%#v\n", simplified)
	}

	code, err := codegen.Generate(simplified)
	if err != nil {
		reporter.Plain("codegen failed: %s", err)
		return 1
	}
	if dumpBytecode {
		mod := &bytecode.Module{ID: unit.ID, Path: path, Dir: dir, Bytecode: code, IsMain: true}
		fmt.Print(bytecode.Disassemble(mod))
	}
	return 0
}

func main() { os.Exit(Feral.Run(os.Args, os.Stdout)) }
