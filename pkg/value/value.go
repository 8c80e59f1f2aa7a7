// Package value defines the tagged value representation shared by the
// compiler and the VM.
//
// A Value is a small fixed-size struct carrying one of four variants: Nil,
// Bool, Number, or Obj. Heap-allocated data (strings, functions, closures,
// classes, instances, ...) is reached through the Obj variant, which holds
// an Object — an interface satisfied by every heap type defined in
// pkg/object. Keeping Object here (rather than in pkg/object) lets pkg/table
// depend on value alone, since interned strings double as table keys.
package value

import "fmt"

// Kind tags the runtime type of a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Value is an immutable tagged union. Zero value is Nil.
type Value struct {
	kind   Kind
	boolean bool
	number float64
	obj    Object
}

// ObjKind tags the concrete heap-object type behind an Object.
type ObjKind int

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
	ObjNative
)

func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "string"
	case ObjFunction:
		return "function"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjClass:
		return "class"
	case ObjInstance:
		return "instance"
	case ObjBoundMethod:
		return "bound method"
	case ObjNative:
		return "native"
	default:
		return "unknown"
	}
}

// Header is embedded by every heap-object type. It carries the GC mark bit
// and the kind tag used to recover the concrete type during tracing.
type Header struct {
	Kind   ObjKind
	Marked bool
}

// Object is implemented by every heap-allocated type (pkg/object) and by
// ObjStringData below. Marking and sweeping operate in terms of this
// interface and fmt.Stringer; pkg/heap names pkg/object's concrete types
// only in its New* factories and when blackening.
type Object interface {
	fmt.Stringer
	Head() *Header
}

// ObjStringData is the interned-string heap object. It lives in this
// package (rather than pkg/object) because pkg/table keys its entries on
// *ObjStringData identity, and value must not depend on table or object.
type ObjStringData struct {
	Hdr   Header
	Chars string
	Hash  uint32
}

func (s *ObjStringData) Head() *Header  { return &s.Hdr }
func (s *ObjStringData) String() string { return s.Chars }

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number constructs a number value.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Obj constructs a value wrapping a heap object.
func Obj(o Object) Value { return Value{kind: KindObj, obj: o} }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool    { return v.kind == KindObj }

func (v Value) AsBool() bool      { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObj() Object     { return v.obj }

// IsString reports whether v wraps an interned string.
func (v Value) IsString() bool {
	return v.kind == KindObj && v.obj != nil && v.obj.Head().Kind == ObjString
}

// AsString returns the underlying *ObjStringData. Callers must check
// IsString first; like clox's AS_STRING macro this panics on misuse rather
// than failing silently.
func (v Value) AsString() *ObjStringData {
	return v.obj.(*ObjStringData)
}

// IsObjKind reports whether v wraps a heap object of the given kind.
func (v Value) IsObjKind(k ObjKind) bool {
	return v.kind == KindObj && v.obj != nil && v.obj.Head().Kind == k
}

// IsFalsey implements the language's truthiness rule: nil and false are
// falsey, everything else (including the number 0) is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.boolean)
}

// Equal implements valuesEqual: values of different kinds are never equal;
// numbers compare by IEEE-754 equality (so NaN != NaN); objects (including
// strings) compare by identity.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.boolean == b.boolean
	case KindNumber:
		return a.number == b.number
	case KindObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders a Value the way PRINT and runtime-error messages do.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.number)
	case KindObj:
		if v.obj == nil {
			return "nil"
		}
		return v.obj.String()
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	// %g without an explicit precision matches clox's printf("%g", ...)
	// closely enough for integral and fractional doubles alike.
	return fmt.Sprintf("%g", n)
}

// TypeName returns a short name for error messages ("number", "string", ...).
func (v Value) TypeName() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObj:
		if v.obj == nil {
			return "nil"
		}
		return v.obj.Head().Kind.String()
	default:
		return "unknown"
	}
}
