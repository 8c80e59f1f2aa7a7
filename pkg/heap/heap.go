// Package heap is the single allocation/GC hub shared by the compiler and
// the VM. Every heap object (strings, functions, closures, ...) is created
// through one of its New* factories, which is the only thing that appends
// to the Objects list and the only place a GC cycle can be triggered.
//
// spec.md's design notes call out that a target language which can't take
// stable interior pointers should key GC roots through an explicit object
// list rather than an intrusive linked list; that's what Objects is here —
// a plain slice rebuilt in place on each sweep, playing the role of clox's
// vm.objects.
package heap

import (
	"fmt"
	"os"

	"github.com/mplastow/clox/pkg/object"
	"github.com/mplastow/clox/pkg/table"
	"github.com/mplastow/clox/pkg/value"
)

const heapGrowFactor = 2

// Heap owns every live object, the string intern pool, and the GC's
// bookkeeping. Exactly one of the compiler or the VM is "active" at a time
// (spec.md section 5); whichever is running sets MarkRoots so a GC
// triggered mid-compile or mid-execution marks the right root set.
type Heap struct {
	Objects        []value.Object
	Strings        *table.Table // weak set: content-hash-keyed, value always Bool(true)
	BytesAllocated int64
	NextGC         int64
	gray           []value.Object

	// MarkRoots is called once per collection, after the heap's own
	// always-live roots (currently none) are marked, to mark whichever
	// context (compiler chain or VM) is presently active.
	MarkRoots func(h *Heap)

	StressGC bool // DEBUG_STRESS_GC: collect on every growing allocation
	LogGC    bool // DEBUG_LOG_GC: trace collections to stderr
}

// New returns an empty heap ready for use.
func New() *Heap {
	return &Heap{
		Strings: table.New(),
		NextGC:  1024 * 1024,
	}
}

// track runs the allocator-hook GC check and then registers a freshly
// allocated object in Objects. Because the collection (if any) runs before
// o is appended, it never sweeps o. Every factory below funnels through
// here exactly once, mirroring clox's reallocate() being the sole
// allocation point.
func (h *Heap) track(o value.Object, size int64) {
	h.BytesAllocated += size
	if h.StressGC || h.BytesAllocated > h.NextGC {
		h.CollectGarbage()
	}
	h.Objects = append(h.Objects, o)
}

// --- Factories -------------------------------------------------------

// InternString returns the canonical *ObjStringData for chars, allocating
// one only if the pool doesn't already contain it (takeString/copyString in
// spec.md's terms, collapsed into one entry point since Go strings are
// already immutable and copying is cheap).
func (h *Heap) InternString(chars string) *value.ObjStringData {
	hash := fnv1a(chars)
	if existing := h.Strings.FindString(chars, hash); existing != nil {
		return existing
	}
	s := &value.ObjStringData{
		Hdr:   value.Header{Kind: value.ObjString},
		Chars: chars,
		Hash:  hash,
	}
	// track() runs any collection before s is appended to h.Objects, so
	// that collection can neither sweep s nor remove it from the Strings
	// table (it isn't there yet). Growing the intern table in Set does not
	// go through track() and never triggers a collection.
	h.track(s, int64(len(chars)))
	h.Strings.Set(s, value.Bool(true))
	return s
}

func fnv1a(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// NewFunction allocates a bare function (no name yet; the compiler fills
// that in once parsed).
func (h *Heap) NewFunction() *object.Function {
	f := object.NewFunction()
	h.track(f, 64)
	return f
}

// NewClosure wraps fn in a closure with fn.UpvalueCount empty upvalue
// slots for the compiler's CLOSURE operand bytes to fill in.
func (h *Heap) NewClosure(fn *object.Function) *object.Closure {
	c := object.NewClosure(fn)
	h.track(c, int64(16+8*fn.UpvalueCount))
	return c
}

// NewUpvalue allocates an open upvalue pointing at slot.
func (h *Heap) NewUpvalue(slot *value.Value) *object.Upvalue {
	u := object.NewUpvalue(slot)
	h.track(u, 32)
	return u
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *value.ObjStringData) *object.Class {
	c := object.NewClass(name)
	h.track(c, 48)
	return c
}

// NewInstance allocates an instance of class with an empty field table.
func (h *Heap) NewInstance(class *object.Class) *object.Instance {
	i := object.NewInstance(class)
	h.track(i, 48)
	return i
}

// NewBoundMethod allocates a bound-method value.
func (h *Heap) NewBoundMethod(receiver value.Value, method *object.Closure) *object.BoundMethod {
	b := object.NewBoundMethod(receiver, method)
	h.track(b, 32)
	return b
}

// NewNative allocates a native-function object.
func (h *Heap) NewNative(name string, fn object.NativeFn) *object.Native {
	n := object.NewNative(name, fn)
	h.track(n, 32)
	return n
}

// --- Garbage collection ----------------------------------------------

// MarkValue marks v's underlying object, if it wraps one.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject marks o and pushes it onto the gray worklist for tracing,
// unless it's nil or already marked.
func (h *Heap) MarkObject(o value.Object) {
	if o == nil {
		return
	}
	hdr := o.Head()
	if hdr.Marked {
		return
	}
	hdr.Marked = true
	if h.LogGC {
		fmt.Fprintf(os.Stderr, "%p mark %s\n", o, o)
	}
	h.gray = append(h.gray, o)
}

// MarkTable marks every key and value of an occupied entry; used for
// globals, a class's methods, and an instance's fields.
func (h *Heap) MarkTable(t *table.Table) {
	t.Each(func(key *value.ObjStringData, val value.Value) {
		h.MarkObject(key)
		h.MarkValue(val)
	})
}

// CollectGarbage runs one full stop-the-world mark-sweep cycle.
func (h *Heap) CollectGarbage() {
	if h.LogGC {
		fmt.Fprintln(os.Stderr, "-- gc begin")
	}
	before := h.BytesAllocated

	if h.MarkRoots != nil {
		h.MarkRoots(h)
	}
	h.trace()
	h.Strings.RemoveWhite()
	h.sweep()

	h.NextGC = h.BytesAllocated * heapGrowFactor
	if h.NextGC == 0 {
		h.NextGC = 1024 * 1024
	}

	if h.LogGC {
		fmt.Fprintln(os.Stderr, "-- gc end")
		fmt.Fprintf(os.Stderr, "   collected %d bytes (from %d to %d) next at %d\n",
			before-h.BytesAllocated, before, h.BytesAllocated, h.NextGC)
	}
}

func (h *Heap) trace() {
	for len(h.gray) > 0 {
		n := len(h.gray) - 1
		o := h.gray[n]
		h.gray = h.gray[:n]
		h.blacken(o)
	}
}

// blacken marks everything o refers to, per spec.md section 4.1's per-kind
// rules. Upvalue's Closed field is marked unconditionally: for an open
// upvalue this is stale/Nil and harmless, since the live value is reached
// through the stack root instead.
func (h *Heap) blacken(o value.Object) {
	switch v := o.(type) {
	case *value.ObjStringData:
		// no outgoing references
	case *object.Native:
		// no outgoing references
	case *object.Function:
		if v.Name != nil {
			h.MarkObject(v.Name)
		}
		for _, c := range v.Chunk.Constants {
			h.MarkValue(c)
		}
	case *object.Closure:
		h.MarkObject(v.Function)
		for _, uv := range v.Upvalues {
			if uv != nil {
				h.MarkObject(uv)
			}
		}
	case *object.Upvalue:
		h.MarkValue(v.Closed)
	case *object.Class:
		h.MarkObject(v.Name)
		h.MarkTable(v.Methods)
	case *object.Instance:
		h.MarkObject(v.Class)
		h.MarkTable(v.Fields)
	case *object.BoundMethod:
		h.MarkValue(v.Receiver)
		h.MarkObject(v.Method)
	}
}

// sweep unlinks and drops every unmarked object, clearing the mark bit on
// everything that survives.
func (h *Heap) sweep() {
	kept := h.Objects[:0]
	for _, o := range h.Objects {
		hdr := o.Head()
		if hdr.Marked {
			hdr.Marked = false
			kept = append(kept, o)
		} else {
			h.BytesAllocated -= objectSize(o)
		}
	}
	h.Objects = kept
}

func objectSize(o value.Object) int64 {
	switch v := o.(type) {
	case *value.ObjStringData:
		return int64(len(v.Chars))
	case *object.Closure:
		return int64(16 + 8*len(v.Upvalues))
	default:
		return 32
	}
}
