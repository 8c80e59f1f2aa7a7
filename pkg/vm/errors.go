// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"io"
)

// InterpretResult is what Interpret reports back to its caller (cmd/clox
// maps it to a process exit code).
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return "unknown result"
	}
}

// runtimeError reports a message plus a call-stack traceback to errOut and
// resets the VM to a fresh, empty-stack state so a REPL session can keep
// going after a bad line.
//
// One line is printed per live frame, innermost first, in the form
// "[line N] in name()" (or "in script" for the implicit top-level frame).
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.errOut, format, args...)
	fmt.Fprintln(vm.errOut)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.Lines[frame.ip-1]
		if fn.Name == nil {
			fmt.Fprintf(vm.errOut, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.errOut, "[line %d] in %s()\n", line, fn.Name.Chars)
		}
	}

	vm.resetStack()
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.open = vm.open[:0]
}

// SetErrorWriter redirects runtime diagnostics (tests want to capture them).
func (vm *VM) SetErrorWriter(w io.Writer) { vm.errOut = w }

// SetOutputWriter redirects PRINT statement output.
func (vm *VM) SetOutputWriter(w io.Writer) { vm.out = w }
