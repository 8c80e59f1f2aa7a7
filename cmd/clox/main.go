// Command clox runs the bytecode interpreter: with no arguments it starts
// an interactive REPL, and with one argument it runs that file as a script.
//
// Exit codes follow the sysexits.h convention the original C implementation
// used:
//
//	0   success
//	64  usage error (wrong number of command-line arguments)
//	65  compile error (bad syntax)
//	70  runtime error
//	74  could not read the input file
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mplastow/clox/pkg/compiler"
	"github.com/mplastow/clox/pkg/heap"
	"github.com/mplastow/clox/pkg/vm"
)

const (
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

func main() {
	switch len(os.Args) {
	case 1:
		runREPL()
	case 2:
		runFile(os.Args[1])
	default:
		fmt.Fprintln(os.Stderr, "Usage: clox [path]")
		os.Exit(exitUsage)
	}
}

// debugFlags reads the DEBUG_PRINT_CODE / DEBUG_TRACE_EXECUTION /
// DEBUG_STRESS_GC / DEBUG_LOG_GC environment variables, the ambient way to
// toggle the interpreter's development-only instrumentation without a
// dedicated flag parser.
func debugFlags() (compiler.Flags, vm.Flags, bool, bool) {
	set := func(name string) bool { return os.Getenv(name) != "" }
	return compiler.Flags{PrintCode: set("DEBUG_PRINT_CODE")},
		vm.Flags{TraceExecution: set("DEBUG_TRACE_EXECUTION")},
		set("DEBUG_STRESS_GC"),
		set("DEBUG_LOG_GC")
}

func newVM() *vm.VM {
	cFlags, vmFlags, stressGC, logGC := debugFlags()
	h := heap.New()
	h.StressGC = stressGC
	h.LogGC = logGC
	vmFlags.PrintCode = cFlags.PrintCode
	return vm.New(h, vmFlags)
}

func runFile(path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not read file \"%s\".\n", path)
		os.Exit(exitIO)
	}

	v := newVM()
	switch v.Interpret(string(source)) {
	case vm.InterpretCompileError:
		os.Exit(exitCompile)
	case vm.InterpretRuntimeError:
		os.Exit(exitRuntime)
	}
}

func runREPL() {
	v := newVM()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := scanner.Text()
		v.Interpret(line)
	}
}
