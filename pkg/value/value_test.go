package value

import "testing"

func TestTruthiness(t *testing.T) {
	falsey := []Value{Nil, Bool(false)}
	for _, v := range falsey {
		if !v.IsFalsey() {
			t.Errorf("expected %v to be falsey", v)
		}
	}

	truthy := []Value{Bool(true), Number(0), Number(1), Obj(&ObjStringData{Chars: "x"})}
	for _, v := range truthy {
		if v.IsFalsey() {
			t.Errorf("expected %v to be truthy", v)
		}
	}
}

func TestEqualDifferentKinds(t *testing.T) {
	if Equal(Nil, Bool(false)) {
		t.Error("nil and false must not be equal")
	}
	if Equal(Number(0), Bool(false)) {
		t.Error("0 and false must not be equal")
	}
}

func TestEqualNumbers(t *testing.T) {
	if !Equal(Number(1), Number(1)) {
		t.Error("equal numbers should compare equal")
	}
	nan := Number(nanValue())
	if Equal(nan, nan) {
		t.Error("NaN must not equal itself")
	}
}

func TestEqualStringsByIdentity(t *testing.T) {
	a := &ObjStringData{Chars: "hi"}
	b := &ObjStringData{Chars: "hi"}
	if Equal(Obj(a), Obj(b)) {
		t.Error("two distinct ObjStringData with equal content but different identity must not be == without interning")
	}
	if !Equal(Obj(a), Obj(a)) {
		t.Error("a string must equal itself")
	}
}

func nanValue() float64 {
	n := 0.0
	return n / n
}
