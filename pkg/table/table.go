// Package table implements the open-addressed hash table that backs
// globals, class method tables, and instance field tables.
//
// It is keyed on *value.ObjStringData identity (interned strings), exactly
// as spec.md section 4.2 describes: linear probing, a power-of-two
// capacity, and tombstones so deletions don't break probe chains.
package table

import "github.com/mplastow/clox/pkg/value"

const maxLoad = 0.75

// entry is one slot. The empty/tombstone/occupied states are distinguished
// the same way clox distinguishes them: Key == nil && Val.IsNil() is empty;
// Key == nil && Val is the boolean true is a tombstone; anything else with a
// non-nil Key is occupied.
type entry struct {
	Key *value.ObjStringData
	Val value.Value
}

// Table is a hash map from interned strings to Values.
type Table struct {
	count   int // occupied entries plus tombstones; drives the load-factor check
	entries []entry
}

// New returns an empty table. The zero value of Table is also usable.
func New() *Table { return &Table{} }

// Count returns the number of occupied entries plus tombstones; Delete does
// not lower it, and only growth (which drops tombstones) resets it.
func (t *Table) Count() int { return t.count }

func isEmpty(e entry) bool     { return e.Key == nil && e.Val.IsNil() }
func isTombstone(e entry) bool { return e.Key == nil && !e.Val.IsNil() }

// findEntry implements clox's findEntry: linear probe from hash mod
// capacity, returning the first matching key, else the first empty slot
// seen (remembering the first tombstone along the way so insertions reuse
// tombstone slots before exhausting the table).
func findEntry(entries []entry, key *value.ObjStringData) *entry {
	capacity := len(entries)
	index := int(key.Hash) & (capacity - 1)
	var tombstone *entry

	for {
		e := &entries[index]
		if e.Key == nil {
			if isEmpty(*e) {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			// tombstone
			if tombstone == nil {
				tombstone = e
			}
		} else if e.Key == key {
			return e
		}
		index = (index + 1) & (capacity - 1)
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]entry, capacity)
	for i := range entries {
		entries[i] = entry{Key: nil, Val: value.Nil}
	}

	t.count = 0
	for _, e := range t.entries {
		if e.Key == nil {
			continue
		}
		dest := findEntry(entries, e.Key)
		dest.Key = e.Key
		dest.Val = e.Val
		t.count++
	}

	t.entries = entries
}

// Get looks up key, returning (value, true) if present.
func (t *Table) Get(key *value.ObjStringData) (value.Value, bool) {
	if len(t.entries) == 0 {
		return value.Nil, false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return value.Nil, false
	}
	return e.Val, true
}

// Set inserts or updates key -> val. Returns true iff the key was newly
// inserted (matching clox's tableSet contract used by defineGlobal/etc).
func (t *Table) Set(key *value.ObjStringData, val value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		capacity := growCapacity(len(t.entries))
		t.adjustCapacity(capacity)
	}

	e := findEntry(t.entries, key)
	isNewKey := e.Key == nil
	if isNewKey && isEmpty(*e) {
		t.count++
	}

	e.Key = key
	e.Val = val
	return isNewKey
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

// Delete converts an occupied slot into a tombstone so later probes past it
// still find entries that were inserted after a collision.
func (t *Table) Delete(key *value.ObjStringData) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return false
	}
	e.Key = nil
	e.Val = value.Bool(true) // tombstone marker
	return true
}

// AddAll copies every occupied entry of src into dst (used by INHERIT to
// seed a subclass's method table from its superclass's).
func AddAll(src, dst *Table) {
	for _, e := range src.entries {
		if e.Key != nil {
			dst.Set(e.Key, e.Val)
		}
	}
}

// FindString scans the table for a string with the given bytes/hash without
// allocating a new *ObjStringData, used by the intern pool to dedup string
// construction. Tombstones are skipped, not treated as a stopping point.
func (t *Table) FindString(chars string, hash uint32) *value.ObjStringData {
	if len(t.entries) == 0 {
		return nil
	}
	capacity := len(t.entries)
	index := int(hash) & (capacity - 1)
	for {
		e := &t.entries[index]
		if e.Key == nil {
			if isEmpty(*e) {
				return nil
			}
		} else if e.Key.Hash == hash && e.Key.Chars == chars {
			return e.Key
		}
		index = (index + 1) & (capacity - 1)
	}
}

// RemoveWhite implements the strings-table weakness: after a GC trace
// completes, entries whose key is unmarked are deleted so that unreferenced
// interned strings can be swept. Called only by pkg/heap.
func (t *Table) RemoveWhite() {
	for _, e := range t.entries {
		if e.Key != nil && !e.Key.Hdr.Marked {
			t.Delete(e.Key)
		}
	}
}

// Each calls fn for every occupied entry. Used by the GC to mark table
// contents (both key and value) and has no ordering guarantee.
func (t *Table) Each(fn func(key *value.ObjStringData, val value.Value)) {
	for _, e := range t.entries {
		if e.Key != nil {
			fn(e.Key, e.Val)
		}
	}
}
