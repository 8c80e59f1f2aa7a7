// Package test provides end-to-end integration tests for clox: each test
// drives a fresh VM over a complete source program and inspects stdout,
// stderr, and the interpret result together, the way a user invoking the
// clox binary would observe them.
package test

import (
	"strings"
	"testing"

	"github.com/mplastow/clox/pkg/heap"
	"github.com/mplastow/clox/pkg/vm"
)

func interpret(t *testing.T, source string) (stdout, stderr string, result vm.InterpretResult) {
	t.Helper()
	h := heap.New()
	v := vm.New(h, vm.Flags{})
	var out, errOut strings.Builder
	v.SetOutputWriter(&out)
	v.SetErrorWriter(&errOut)
	result = v.Interpret(source)
	return out.String(), errOut.String(), result
}

func TestArithmeticPrecedenceAndAssociativity(t *testing.T) {
	out, _, result := interpret(t, `print 2 + 3 * 4 - 1;`)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "13" {
		t.Fatalf("expected 13, got %q", out)
	}
}

func TestStringConcatenationAcrossManyLiterals(t *testing.T) {
	out, _, result := interpret(t, `print "a" + "b" + "c" + "d";`)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "abcd" {
		t.Fatalf("expected abcd, got %q", out)
	}
}

func TestClosuresEachGetOwnCapturedVariable(t *testing.T) {
	src := `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    return i;
  }
  return count;
}
var counterA = makeCounter();
var counterB = makeCounter();
print counterA();
print counterA();
print counterB();
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "1\n2\n1" {
		t.Fatalf("expected independent counters, got %q", out)
	}
}

func TestClassInheritanceWithSuperAndInit(t *testing.T) {
	src := `
class Shape {
  init(name) {
    this.name = name;
  }
  describe() {
    return this.name;
  }
}
class Circle < Shape {
  init(radius) {
    super.init("circle");
    this.radius = radius;
  }
  describe() {
    return super.describe();
  }
}
var c = Circle(4);
print c.describe();
print c.radius;
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "circle\n4" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestUndefinedVariableRuntimeErrorExactFormat(t *testing.T) {
	_, errOut, result := interpret(t, `print undefinedThing;`)
	if result != vm.InterpretRuntimeError {
		t.Fatalf("expected runtime error, got %v", result)
	}
	want := "Undefined variable 'undefinedThing'.\n[line 1] in script\n"
	if errOut != want {
		t.Fatalf("expected exact stderr %q, got %q", want, errOut)
	}
}

func TestFieldAccessOnNonInstanceIsRuntimeError(t *testing.T) {
	_, errOut, result := interpret(t, `var n = 1; print n.foo;`)
	if result != vm.InterpretRuntimeError {
		t.Fatalf("expected runtime error, got %v", result)
	}
	if !strings.Contains(errOut, "Only instances have properties.") {
		t.Fatalf("unexpected message %q", errOut)
	}
}

func TestForLoopDesugaringComputesFactorial(t *testing.T) {
	src := `
var result = 1;
for (var i = 1; i <= 5; i = i + 1) {
  result = result * i;
}
print result;
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "120" {
		t.Fatalf("expected 120, got %q", out)
	}
}

func TestWhileLoopAndLogicalOperatorShortCircuit(t *testing.T) {
	src := `
fun sideEffect() {
  print "called";
  return true;
}
var i = 0;
while (i < 3) {
  i = i + 1;
}
print i;
if (false and sideEffect()) {}
if (true or sideEffect()) {}
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.Contains(out, "called") {
		t.Fatalf("short-circuited branches must not evaluate sideEffect(): %q", out)
	}
	if !strings.Contains(out, "3") {
		t.Fatalf("expected loop counter 3 in output, got %q", out)
	}
}

func TestClassIdentityEqualityNotStructural(t *testing.T) {
	src := `
class Box {
  init(v) { this.v = v; }
}
var a = Box(1);
var b = Box(1);
print a == b;
print a == a;
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if strings.TrimSpace(out) != "false\ntrue" {
		t.Fatalf("expected identity equality, got %q", out)
	}
}

func TestInitializerAlwaysReturnsThisEvenWithBareReturn(t *testing.T) {
	src := `
class Thing {
  init() {
    return;
  }
}
var t = Thing();
print t;
`
	out, _, result := interpret(t, src)
	if result != vm.InterpretOK {
		t.Fatalf("expected ok, got %v", result)
	}
	if !strings.Contains(out, "Thing instance") {
		t.Fatalf("expected init() result to be the instance, got %q", out)
	}
}

func TestCompileErrorExitsWithoutRunning(t *testing.T) {
	_, errOut, result := interpret(t, `print ;`)
	if result != vm.InterpretCompileError {
		t.Fatalf("expected compile error, got %v", result)
	}
	if !strings.Contains(errOut, "Error") {
		t.Fatalf("expected a diagnostic, got %q", errOut)
	}
}
