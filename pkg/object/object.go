// Package object defines the heap-object types that sit behind a
// value.Value's Obj variant: functions, closures, upvalues, classes,
// instances, bound methods, and natives. value.ObjStringData (the interned
// string type) lives in pkg/value instead, since pkg/table keys its entries
// on string identity and must not import this package.
package object

import (
	"fmt"

	"github.com/mplastow/clox/pkg/bytecode"
	"github.com/mplastow/clox/pkg/table"
	"github.com/mplastow/clox/pkg/value"
)

// Function is a compiled function body: its arity, how many upvalues it
// closes over, an optional name (nil for the implicit top-level script),
// and the chunk of bytecode that implements it.
type Function struct {
	Hdr          value.Header
	Arity        int
	UpvalueCount int
	Name         *value.ObjStringData
	Chunk        *bytecode.Chunk
}

func (f *Function) Head() *value.Header { return &f.Hdr }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NewFunction constructs a bare function with a fresh empty chunk. The
// compiler sets Name once it's known.
func NewFunction() *Function {
	return &Function{
		Hdr:   value.Header{Kind: value.ObjFunction},
		Chunk: bytecode.New(),
	}
}

// NativeFn is the signature of a built-in function (spec.md section 6 has
// exactly one: clock()).
type NativeFn func(argCount int, args []value.Value) value.Value

// Native wraps a host-implemented function.
type Native struct {
	Hdr  value.Header
	Name string
	Fn   NativeFn
}

func (n *Native) Head() *value.Header { return &n.Hdr }
func (n *Native) String() string      { return fmt.Sprintf("<native fn %s>", n.Name) }

func NewNative(name string, fn NativeFn) *Native {
	return &Native{Hdr: value.Header{Kind: value.ObjNative}, Name: name, Fn: fn}
}

// Upvalue is either open (Location points at a live stack slot) or closed
// (Location points at Closed, its own copy). The VM tracks which upvalues
// are currently open itself (pkg/vm), keyed by stack slot rather than by
// following an intrusive pointer chain through this struct.
type Upvalue struct {
	Hdr      value.Header
	Location *value.Value
	Closed   value.Value
}

func (u *Upvalue) Head() *value.Header { return &u.Hdr }
func (u *Upvalue) String() string      { return "upvalue" }

func NewUpvalue(slot *value.Value) *Upvalue {
	return &Upvalue{Hdr: value.Header{Kind: value.ObjUpvalue}, Location: slot, Closed: value.Nil}
}

// Closure pairs a Function with the upvalues it captured from enclosing
// scopes. Upvalues is fixed-size (length == Function.UpvalueCount).
type Closure struct {
	Hdr      value.Header
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Head() *value.Header { return &c.Hdr }
func (c *Closure) String() string      { return c.Function.String() }

func NewClosure(fn *Function) *Closure {
	return &Closure{
		Hdr:      value.Header{Kind: value.ObjClosure},
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
}

// Class is a name plus its own method table (string -> closure). Methods
// inherited via INHERIT are copied in at runtime, not looked up through a
// superclass chain, matching spec.md section 4.5's INHERIT semantics.
type Class struct {
	Hdr     value.Header
	Name    *value.ObjStringData
	Methods *table.Table
}

func (c *Class) Head() *value.Header { return &c.Hdr }
func (c *Class) String() string      { return c.Name.Chars }

func NewClass(name *value.ObjStringData) *Class {
	return &Class{Hdr: value.Header{Kind: value.ObjClass}, Name: name, Methods: table.New()}
}

// Instance is a Class reference plus its own field table (string -> any
// value). Two distinct instances are never == even with identical classes
// and fields: equality on objects is identity, not structural.
type Instance struct {
	Hdr    value.Header
	Class  *Class
	Fields *table.Table
}

func (i *Instance) Head() *value.Header { return &i.Hdr }
func (i *Instance) String() string      { return i.Class.Name.Chars + " instance" }

func NewInstance(class *Class) *Instance {
	return &Instance{Hdr: value.Header{Kind: value.ObjInstance}, Class: class, Fields: table.New()}
}

// BoundMethod is a first-class value pairing a receiver with the method
// closure looked up on it, produced by GET_PROPERTY/GET_SUPER when the
// named entry resolves to a method rather than a field.
type BoundMethod struct {
	Hdr      value.Header
	Receiver value.Value
	Method   *Closure
}

func (b *BoundMethod) Head() *value.Header { return &b.Hdr }
func (b *BoundMethod) String() string      { return b.Method.String() }

func NewBoundMethod(receiver value.Value, method *Closure) *BoundMethod {
	return &BoundMethod{Hdr: value.Header{Kind: value.ObjBoundMethod}, Receiver: receiver, Method: method}
}

// UpvalueCountFn reports how many upvalues a constant-pool function needs
// to close over; used only by the disassembler (pkg/bytecode) via a
// one-method structural interface so that package needn't import
// pkg/object (which itself imports pkg/bytecode).
func (f *Function) UpvalueCountFn() int { return f.UpvalueCount }
