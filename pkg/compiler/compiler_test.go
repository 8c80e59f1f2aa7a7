package compiler

import (
	"strings"
	"testing"

	"github.com/mplastow/clox/pkg/bytecode"
	"github.com/mplastow/clox/pkg/heap"
	"github.com/mplastow/clox/pkg/object"
	"github.com/mplastow/clox/pkg/value"
)

func TestCompileNumberLiteral(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile("42;")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	code := fn.Chunk.Code
	if len(code) < 2 || bytecode.OpCode(code[0]) != bytecode.OpConstant {
		t.Fatalf("expected leading OP_CONSTANT, got %v", code)
	}
	if code[len(code)-1] != byte(bytecode.OpReturn) {
		t.Fatalf("expected trailing OP_RETURN, got %v", code)
	}
	if fn.Chunk.Constants[0].AsNumber() != 42 {
		t.Fatalf("expected constant 42, got %v", fn.Chunk.Constants[0])
	}
}

func TestCompileStringLiteral(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile(`"hi";`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !fn.Chunk.Constants[0].IsString() {
		t.Fatalf("expected string constant, got %v", fn.Chunk.Constants[0])
	}
	if fn.Chunk.Constants[0].AsString().Chars != "hi" {
		t.Fatalf("expected 'hi', got %q", fn.Chunk.Constants[0].AsString().Chars)
	}
}

func TestCompileArithmeticPrecedence(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	// 1 + 2 * 3 must multiply before adding.
	fn, err := c.Compile("1 + 2 * 3;")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	ops := opsOf(fn.Chunk.Code, fn.Chunk.Constants)
	// The script ends with the implicit OP_NIL, OP_RETURN; check the ops
	// just before them.
	wantTail := []bytecode.OpCode{bytecode.OpMultiply, bytecode.OpAdd, bytecode.OpPop}
	if len(ops) < len(wantTail)+2 {
		t.Fatalf("too few ops: %v", ops)
	}
	got := ops[len(ops)-len(wantTail)-2 : len(ops)-2]
	for i, op := range wantTail {
		if got[i] != op {
			t.Fatalf("expected %v at position %d, got ops=%v", op, i, ops)
		}
	}
}

func TestCompileVarDeclarationGlobal(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile("var x = 1;")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !containsOp(fn.Chunk.Code, fn.Chunk.Constants, bytecode.OpDefineGlobal) {
		t.Fatalf("expected OP_DEFINE_GLOBAL in %v", opsOf(fn.Chunk.Code, fn.Chunk.Constants))
	}
}

func TestCompileLocalVariableUsesGetLocalNotGlobal(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile("{ var x = 1; print x; }")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if containsOp(fn.Chunk.Code, fn.Chunk.Constants, bytecode.OpDefineGlobal) {
		t.Fatalf("locals must not compile to OP_DEFINE_GLOBAL: %v", opsOf(fn.Chunk.Code, fn.Chunk.Constants))
	}
	if !containsOp(fn.Chunk.Code, fn.Chunk.Constants, bytecode.OpGetLocal) {
		t.Fatalf("expected OP_GET_LOCAL: %v", opsOf(fn.Chunk.Code, fn.Chunk.Constants))
	}
}

func TestCompileIfElseEmitsJumps(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile(`if (true) { print 1; } else { print 2; }`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	ops := opsOf(fn.Chunk.Code, fn.Chunk.Constants)
	if !hasOp(ops, bytecode.OpJumpIfFalse) || !hasOp(ops, bytecode.OpJump) {
		t.Fatalf("expected both a conditional and unconditional jump: %v", ops)
	}
}

func TestCompileWhileEmitsLoop(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	fn, err := c.Compile(`while (false) { print 1; }`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !containsOp(fn.Chunk.Code, fn.Chunk.Constants, bytecode.OpLoop) {
		t.Fatalf("expected OP_LOOP, got %v", opsOf(fn.Chunk.Code, fn.Chunk.Constants))
	}
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	src := `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    return i;
  }
  return count;
}
`
	fn, err := c.Compile(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !containsOp(fn.Chunk.Code, fn.Chunk.Constants, bytecode.OpClosure) {
		t.Fatalf("expected OP_CLOSURE for makeCounter, got %v", opsOf(fn.Chunk.Code, fn.Chunk.Constants))
	}
	// count is a constant of makeCounter's chunk, not the script's: find it
	// there and check it records one upvalue.
	found := false
	for _, k := range fn.Chunk.Constants {
		if !k.IsObj() {
			continue
		}
		outer, ok := k.AsObj().(*object.Function)
		if !ok {
			continue
		}
		for _, kk := range outer.Chunk.Constants {
			if kk.IsObj() {
				if inner, ok := kk.AsObj().(interface{ UpvalueCountFn() int }); ok {
					if inner.UpvalueCountFn() == 1 {
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected an inner function constant recording exactly one upvalue")
	}
}

func TestCompileClassWithMethodsAndInheritance(t *testing.T) {
	h := heap.New()
	c := New(h, Flags{})
	src := `
class Animal {
  speak() { return "..."; }
}
class Dog < Animal {
  speak() { return super.speak(); }
}
`
	fn, err := c.Compile(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	ops := opsOf(fn.Chunk.Code, fn.Chunk.Constants)
	for _, want := range []bytecode.OpCode{bytecode.OpClass, bytecode.OpInherit, bytecode.OpMethod} {
		if !hasOp(ops, want) {
			t.Fatalf("expected %v in %v", want, ops)
		}
	}
}

func TestCompileErrorInheritFromSelf(t *testing.T) {
	h := heap.New()
	var errs strings.Builder
	c := New(h, Flags{})
	c.SetErrorWriter(&errs)
	_, err := c.Compile("class Oops < Oops {}")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(errs.String(), "can't inherit from itself") {
		t.Fatalf("expected self-inheritance diagnostic, got %q", errs.String())
	}
}

func TestCompileErrorThisOutsideClass(t *testing.T) {
	h := heap.New()
	var errs strings.Builder
	c := New(h, Flags{})
	c.SetErrorWriter(&errs)
	_, err := c.Compile("print this;")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(errs.String(), "'this' outside of a class") {
		t.Fatalf("unexpected diagnostic: %q", errs.String())
	}
}

func TestCompileErrorReturnFromTopLevel(t *testing.T) {
	h := heap.New()
	var errs strings.Builder
	c := New(h, Flags{})
	c.SetErrorWriter(&errs)
	_, err := c.Compile("return 1;")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(errs.String(), "return from top-level code") {
		t.Fatalf("unexpected diagnostic: %q", errs.String())
	}
}

func TestCompileErrorSynchronizeAllowsSubsequentStatements(t *testing.T) {
	h := heap.New()
	var errs strings.Builder
	c := New(h, Flags{})
	c.SetErrorWriter(&errs)
	// "var a = ;" is invalid (missing initializer expression) but the parser should
	// resynchronize at the next statement boundary and keep compiling.
	_, err := c.Compile("var a = ; var b = 2;")
	if err == nil {
		t.Fatal("expected a compile error")
	}
}

func opsOf(code []byte, constants []value.Value) []bytecode.OpCode {
	var ops []bytecode.OpCode
	i := 0
	for i < len(code) {
		op := bytecode.OpCode(code[i])
		ops = append(ops, op)
		i++
		if op == bytecode.OpClosure {
			constant := code[i]
			i++
			if fn, ok := constants[constant].AsObj().(interface{ UpvalueCountFn() int }); ok {
				i += 2 * fn.UpvalueCountFn()
			}
			continue
		}
		i += operandWidth(op)
	}
	return ops
}

func operandWidth(op bytecode.OpCode) int {
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpGetProperty, bytecode.OpSetProperty, bytecode.OpGetSuper, bytecode.OpClass, bytecode.OpMethod,
		bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpCall:
		return 1
	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop, bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return 2
	default:
		return 0
	}
}

func containsOp(code []byte, constants []value.Value, want bytecode.OpCode) bool {
	return hasOp(opsOf(code, constants), want)
}

func hasOp(ops []bytecode.OpCode, want bytecode.OpCode) bool {
	for _, op := range ops {
		if op == want {
			return true
		}
	}
	return false
}
