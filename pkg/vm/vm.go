// Package vm implements the bytecode virtual machine for clox.
//
// The VM is a stack-based interpreter that executes the flat byte stream a
// *compiler.Compiler produces. It's the final stage of the pipeline:
//
//	Source -> Lexer -> Compiler (single pass) -> Chunk -> VM -> Execution
//
// Architecture:
//
//  1. Value stack: a fixed-size array of value.Value, indexed by stackTop.
//     Every instruction pops its operands off the top and pushes its result
//     back on; this is what keeps the dispatch loop uniform.
//  2. Call frames: one CallFrame per in-progress function call, each with
//     its own instruction pointer and a window (slots) into the shared
//     value stack for that call's locals. There is no separate stack per
//     call — clox's whole point is that one flat array serves everything.
//  3. Globals: a single table.Table from interned name to value, shared
//     across every frame and across REPL lines within one VM.
//  4. Open upvalues: upvalues that still point directly at a live stack
//     slot, tracked by slot index so OP_CLOSE_UPVALUE and a returning call
//     frame can find and close exactly the ones that outlive their slot.
//
// Example execution:
//
//	Source: var x = 5; print x + 3;
//
//	Bytecode (abbreviated):
//	  OP_CONSTANT 1      ; 5
//	  OP_DEFINE_GLOBAL 0 ; x
//	  OP_GET_GLOBAL 2    ; x
//	  OP_CONSTANT 3      ; 3
//	  OP_ADD
//	  OP_PRINT
//
//	Execution trace:
//	  OP_CONSTANT 1      -> stack=[5]
//	  OP_DEFINE_GLOBAL 0 -> stack=[], globals[x]=5
//	  OP_GET_GLOBAL 2    -> stack=[5]
//	  OP_CONSTANT 3      -> stack=[5,3]
//	  OP_ADD             -> stack=[8]
//	  OP_PRINT           -> stack=[], stdout: 8
//
// Error handling:
//
// A runtime error (wrong operand type, undefined variable, arity mismatch,
// stack overflow, ...) is reported directly to errOut with a full call
// traceback and unwinds the whole interpret() call; it is not a Go error
// value threaded back up through the dispatch loop, matching the exit-code
// contract a REPL and a script runner both need (spec.md section 7).
package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mplastow/clox/pkg/bytecode"
	"github.com/mplastow/clox/pkg/compiler"
	"github.com/mplastow/clox/pkg/heap"
	"github.com/mplastow/clox/pkg/object"
	"github.com/mplastow/clox/pkg/table"
	"github.com/mplastow/clox/pkg/value"
)

const framesMax = 64
const stackMax = framesMax * 256

// CallFrame is one live invocation: the closure being run, its instruction
// pointer into that closure's chunk, and the base slot of its window onto
// the shared value stack (the callee, or the receiver "this" for a method,
// lives at slots[0]; arguments start at slots[1]).
type CallFrame struct {
	closure *object.Closure
	ip      int
	slots   int
}

// Flags toggles the VM's own debug behavior. PrintCode is threaded through
// to a fresh compiler on every Interpret call; TraceExecution prints the
// stack and the next instruction before each dispatch step.
type Flags struct {
	PrintCode      bool
	TraceExecution bool
}

// openUpvalue is one entry of the VM's open-upvalues list, sorted
// descending by slot so closeUpvalues only has to look at a prefix.
type openUpvalue struct {
	slot int
	uv   *object.Upvalue
}

// VM is a single bytecode interpreter. Globals and the heap persist across
// repeated Interpret calls, matching how a REPL session accumulates state
// one line at a time; only the compiler is recreated per call.
type VM struct {
	frames     [framesMax]CallFrame
	frameCount int

	stack    [stackMax]value.Value
	stackTop int

	globals *table.Table
	open    []openUpvalue

	heap       *heap.Heap
	initString *value.ObjStringData
	startTime  time.Time

	out    io.Writer
	errOut io.Writer
	flags  Flags
}

// New returns a ready-to-use VM backed by h. h may already hold interned
// strings and other objects from a previous compile; New does not reset it.
func New(h *heap.Heap, flags Flags) *VM {
	vm := &VM{
		globals:   table.New(),
		heap:      h,
		startTime: time.Now(),
		out:       os.Stdout,
		errOut:    os.Stderr,
		flags:     flags,
	}
	vm.heap.MarkRoots = vm.markRoots
	vm.initString = h.InternString("init")
	vm.defineNative("clock", func(argCount int, args []value.Value) value.Value {
		return value.Number(time.Since(vm.startTime).Seconds())
	})
	return vm
}

// Interpret compiles source and, if compilation succeeds, runs it to
// completion (or until a runtime error unwinds the call stack).
func (vm *VM) Interpret(source string) InterpretResult {
	c := compiler.New(vm.heap, compiler.Flags{PrintCode: vm.flags.PrintCode})
	c.SetErrorWriter(vm.errOut)

	fn, err := c.Compile(source)
	if err != nil {
		return InterpretCompileError
	}

	vm.push(value.Obj(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.Obj(closure))
	vm.callValue(value.Obj(closure), 0)

	return vm.run()
}

// --- stack primitives --------------------------------------------------

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// --- the dispatch loop ---------------------------------------------------

func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		hi := readByte()
		lo := readByte()
		return uint16(hi)<<8 | uint16(lo)
	}
	readConstant := func() value.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *value.ObjStringData {
		return readConstant().AsString()
	}

	for {
		if vm.flags.TraceExecution {
			vm.traceStack()
			bytecode.DisassembleInstruction(vm.errOut, frame.closure.Function.Chunk, frame.ip)
		}

		switch instr := bytecode.OpCode(readByte()); instr {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slots+int(slot)])
		case bytecode.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slots+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}

		case bytecode.OpGetUpvalue:
			slot := readByte()
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := readByte()
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsObjKind(value.ObjInstance) {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			instance := vm.peek(0).AsObj().(*object.Instance)
			name := readString()
			if v, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(v)
				break
			}
			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}
		case bytecode.OpSetProperty:
			if !vm.peek(1).IsObjKind(value.ObjInstance) {
				vm.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			instance := vm.peek(1).AsObj().(*object.Instance)
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*object.Class)
			if !vm.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.Bool(a > b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpLess:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.Bool(a < b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpAdd:
			if !vm.add() {
				return InterpretRuntimeError
			}
		case bytecode.OpSubtract:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a - b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpMultiply:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a * b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpDivide:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a / b) }) {
				return InterpretRuntimeError
			}
		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpInvoke:
			method := readString()
			argCount := int(readByte())
			if !vm.invoke(method, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*object.Class)
			if !vm.invokeFromClass(superclass, method, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn := readConstant().AsObj().(*object.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.Obj(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := readByte()
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			vm.push(value.Obj(vm.heap.NewClass(readString())))
		case bytecode.OpInherit:
			superVal := vm.peek(1)
			if !superVal.IsObjKind(value.ObjClass) {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			superclass := superVal.AsObj().(*object.Class)
			subclass := vm.peek(0).AsObj().(*object.Class)
			table.AddAll(superclass.Methods, subclass.Methods)
			vm.pop() // discard the subclass operand; superclass stays as the "super" local
		case bytecode.OpMethod:
			vm.defineMethod(readString())

		default:
			vm.runtimeError("Unknown opcode %v.", instr)
			return InterpretRuntimeError
		}
	}
}

// --- calling ------------------------------------------------------------

func (vm *VM) callValue(callee value.Value, argCount int) bool {
	if callee.IsObj() {
		switch callee := callee.AsObj().(type) {
		case *object.BoundMethod:
			vm.stack[vm.stackTop-argCount-1] = callee.Receiver
			return vm.call(callee.Method, argCount)
		case *object.Class:
			instance := vm.heap.NewInstance(callee)
			vm.stack[vm.stackTop-argCount-1] = value.Obj(instance)
			if init, ok := callee.Methods.Get(vm.initString); ok {
				return vm.call(init.AsObj().(*object.Closure), argCount)
			}
			if argCount != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true
		case *object.Closure:
			return vm.call(callee, argCount)
		case *object.Native:
			result := callee.Fn(argCount, vm.stack[vm.stackTop-argCount:vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

func (vm *VM) call(closure *object.Closure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == framesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return true
}

func (vm *VM) invoke(name *value.ObjStringData, argCount int) bool {
	receiver := vm.peek(argCount)
	if !receiver.IsObjKind(value.ObjInstance) {
		vm.runtimeError("Only instances have methods.")
		return false
	}
	instance := receiver.AsObj().(*object.Instance)
	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *object.Class, name *value.ObjStringData, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return vm.call(method.AsObj().(*object.Closure), argCount)
}

func (vm *VM) bindMethod(class *object.Class, name *value.ObjStringData) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObj().(*object.Closure))
	vm.pop()
	vm.push(value.Obj(bound))
	return true
}

func (vm *VM) defineMethod(name *value.ObjStringData) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*object.Class)
	class.Methods.Set(name, method)
	vm.pop()
}

// --- upvalues -------------------------------------------------------------

// captureUpvalue returns the open upvalue for the given absolute stack slot,
// reusing one already open over that slot so two closures that capture the
// same local share one upvalue object.
func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	i := 0
	for ; i < len(vm.open); i++ {
		if vm.open[i].slot == slot {
			return vm.open[i].uv
		}
		if vm.open[i].slot < slot {
			break
		}
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot])
	vm.open = append(vm.open, openUpvalue{})
	copy(vm.open[i+1:], vm.open[i:])
	vm.open[i] = openUpvalue{slot: slot, uv: created}
	return created
}

// closeUpvalues hoists the value of every open upvalue at or above last out
// of the stack and into the upvalue's own storage, then drops it from the
// open list; called when a scope (OP_CLOSE_UPVALUE) or a whole call (return)
// is about to discard the stack slots those upvalues pointed into.
func (vm *VM) closeUpvalues(last int) {
	i := 0
	for i < len(vm.open) && vm.open[i].slot >= last {
		uv := vm.open[i].uv
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		i++
	}
	vm.open = vm.open[i:]
}

// --- arithmetic -----------------------------------------------------------

func (vm *VM) binaryNumberOp(op func(a, b float64) value.Value) bool {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return false
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(op(a, b))
	return true
}

// add implements OP_ADD's two overloads: number+number and string+string.
// The two operands are read via peek, not pop, so they stay reachable from
// the stack (a GC root) for as long as InternString might itself allocate
// and trigger a collection; only once the new value exists are they popped.
func (vm *VM) add() bool {
	if vm.peek(0).IsString() && vm.peek(1).IsString() {
		b := vm.peek(0).AsString()
		a := vm.peek(1).AsString()
		interned := vm.heap.InternString(a.Chars + b.Chars)
		vm.pop()
		vm.pop()
		vm.push(value.Obj(interned))
		return true
	}
	if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(value.Number(a + b))
		return true
	}
	vm.runtimeError("Operands must be two numbers or two strings.")
	return false
}

// --- natives ----------------------------------------------------------

func (vm *VM) defineNative(name string, fn object.NativeFn) {
	// Mirrors clox's defineNative: both the name and the native object are
	// pushed before globals.Set so neither is a GC orphan while the table
	// grows.
	vm.push(value.Obj(vm.heap.InternString(name)))
	vm.push(value.Obj(vm.heap.NewNative(name, fn)))
	vm.globals.Set(vm.peek(1).AsObj().(*value.ObjStringData), vm.peek(0))
	vm.pop()
	vm.pop()
}

// --- GC roots ---------------------------------------------------------

func (vm *VM) markRoots(h *heap.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for _, o := range vm.open {
		h.MarkObject(o.uv)
	}
	h.MarkTable(vm.globals)
	if vm.initString != nil {
		h.MarkObject(vm.initString)
	}
}

// --- tracing ------------------------------------------------------------

func (vm *VM) traceStack() {
	fmt.Fprint(vm.errOut, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.errOut, "[ %s ]", vm.stack[i].String())
	}
	fmt.Fprintln(vm.errOut)
}
