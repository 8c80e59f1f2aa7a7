package table

import (
	"testing"

	"github.com/mplastow/clox/pkg/value"
)

func str(s string) *value.ObjStringData {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return &value.ObjStringData{Chars: s, Hash: hash}
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl := New()
	k := str("x")
	if !tbl.Set(k, value.Number(42)) {
		t.Fatal("expected Set on a fresh key to report newly-inserted")
	}
	v, ok := tbl.Get(k)
	if !ok || v.AsNumber() != 42 {
		t.Fatalf("expected to read back 42, got %v ok=%v", v, ok)
	}
}

func TestSetExistingKeyNotNew(t *testing.T) {
	tbl := New()
	k := str("x")
	tbl.Set(k, value.Number(1))
	if tbl.Set(k, value.Number(2)) {
		t.Fatal("expected Set on an existing key to report not-newly-inserted")
	}
	v, _ := tbl.Get(k)
	if v.AsNumber() != 2 {
		t.Fatalf("expected overwritten value 2, got %v", v)
	}
}

func TestDeleteThenProbeChainSurvives(t *testing.T) {
	tbl := New()
	a, b := str("a"), str("b")
	tbl.Set(a, value.Number(1))
	tbl.Set(b, value.Number(2))

	if !tbl.Delete(a) {
		t.Fatal("expected delete of present key to succeed")
	}
	// b must still be reachable even though a's slot, possibly earlier in
	// the probe sequence, is now a tombstone rather than empty.
	v, ok := tbl.Get(b)
	if !ok || v.AsNumber() != 2 {
		t.Fatalf("expected b to still be found after deleting a, got %v ok=%v", v, ok)
	}
	if _, ok := tbl.Get(a); ok {
		t.Fatal("expected deleted key to no longer be found")
	}
}

func TestGrowthKeepsEveryKey(t *testing.T) {
	tbl := New()
	keys := make([]*value.ObjStringData, 0, 40)
	for i := 0; i < 40; i++ {
		k := str(string(rune('a' + i)))
		keys = append(keys, k)
		tbl.Set(k, value.Number(float64(i)))
	}
	for i, k := range keys {
		v, ok := tbl.Get(k)
		if !ok || v.AsNumber() != float64(i) {
			t.Fatalf("key %d lost across growth: got %v ok=%v", i, v, ok)
		}
	}
}

func TestFindStringMatchesByContentAndHash(t *testing.T) {
	tbl := New()
	k := str("shared")
	tbl.Set(k, value.Bool(true))

	found := tbl.FindString("shared", k.Hash)
	if found != k {
		t.Fatal("expected FindString to return the exact interned identity")
	}
	if tbl.FindString("other", k.Hash) != nil {
		t.Fatal("expected FindString to reject differing content even with same hash bucket")
	}
}

func TestAddAllCopiesOccupiedEntries(t *testing.T) {
	src, dst := New(), New()
	a, b := str("a"), str("b")
	src.Set(a, value.Number(1))
	src.Set(b, value.Number(2))
	src.Delete(a) // leave a tombstone; must not be copied

	AddAll(src, dst)

	if _, ok := dst.Get(a); ok {
		t.Fatal("tombstoned source entry must not be copied")
	}
	v, ok := dst.Get(b)
	if !ok || v.AsNumber() != 2 {
		t.Fatalf("expected b copied into dst, got %v ok=%v", v, ok)
	}
}

func TestRemoveWhiteDeletesUnmarkedKeys(t *testing.T) {
	tbl := New()
	marked, unmarked := str("marked"), str("unmarked")
	marked.Hdr.Marked = true
	tbl.Set(marked, value.Bool(true))
	tbl.Set(unmarked, value.Bool(true))

	tbl.RemoveWhite()

	if _, ok := tbl.Get(marked); !ok {
		t.Fatal("marked key must survive RemoveWhite")
	}
	if _, ok := tbl.Get(unmarked); ok {
		t.Fatal("unmarked key must be removed by RemoveWhite")
	}
}
