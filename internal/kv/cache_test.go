package kv

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func collect(t *testing.T, r Reader, start, end []byte, order Order) []string {
	t.Helper()
	var keys []string
	if err := r.Iterate(start, end, order, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return keys
}

func seed(t *testing.T, backend Backend, keys ...string) {
	t.Helper()
	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, Op{Key: []byte(k), Value: []byte("v-" + k)})
	}
	if err := backend.Apply(context.Background(), ops); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCacheMergesWritesIntoIteration(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	seed(t, backend, "a", "c", "e")

	cache := NewCache(backend)
	_ = cache.Set([]byte("b"), []byte("1"))
	_ = cache.Set([]byte("c"), []byte("overwritten"))
	_ = cache.Delete([]byte("e"))
	_ = cache.Set([]byte("f"), []byte("1"))

	if got := collect(t, cache, nil, nil, Ascending); !equal(got, []string{"a", "b", "c", "f"}) {
		t.Fatalf("ascending merge: %v", got)
	}
	if got := collect(t, cache, nil, nil, Descending); !equal(got, []string{"f", "c", "b", "a"}) {
		t.Fatalf("descending merge: %v", got)
	}
	if got := collect(t, cache, []byte("b"), []byte("f"), Ascending); !equal(got, []string{"b", "c"}) {
		t.Fatalf("bounded merge: %v", got)
	}

	value, err := cache.Get([]byte("c"))
	if err != nil || string(value) != "overwritten" {
		t.Fatalf("read-your-writes failed: %q %v", value, err)
	}
	if value, _ := cache.Get([]byte("e")); value != nil {
		t.Fatalf("deleted key still visible: %q", value)
	}
	if value, _ := backend.Get([]byte("e")); value == nil {
		t.Fatal("backend must not see uncommitted delete")
	}
}

func TestCacheStopsEarly(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	seed(t, backend, "a", "c")
	cache := NewCache(backend)
	_ = cache.Set([]byte("b"), []byte("1"))

	var seen []string
	err := cache.Iterate(nil, nil, Ascending, func(key, _ []byte) (bool, error) {
		seen = append(seen, string(key))
		return len(seen) < 2, nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if !equal(seen, []string{"a", "b"}) {
		t.Fatalf("expected early stop after two keys, got %v", seen)
	}
}

func TestCacheFlushAndDiscard(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	cache := NewCache(backend)
	_ = cache.Set([]byte("k1"), []byte("v1"))
	cache.Discard()
	if err := cache.Flush(context.Background(), backend); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if value, _ := backend.Get([]byte("k1")); value != nil {
		t.Fatal("discarded write reached the backend")
	}

	_ = cache.Set([]byte("k2"), []byte("v2"))
	if err := cache.Flush(context.Background(), backend); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if value, _ := backend.Get([]byte("k2")); string(value) != "v2" {
		t.Fatalf("flushed write missing: %q", value)
	}
	if cache.Len() != 0 {
		t.Fatalf("cache should be empty after flush, got %d", cache.Len())
	}
}

func TestScanPrefixWithCursor(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	ns := Namespace("tx").Str("agent-1")
	other := Namespace("tx").Str("agent-10")
	ops := []Op{}
	for _, id := range []uint64{1, 2, 3, 300} {
		ops = append(ops, Op{Key: ns.Uint64(id).Bytes(), Value: []byte{1}})
	}
	ops = append(ops, Op{Key: other.Uint64(2).Bytes(), Value: []byte{1}})
	if err := backend.Apply(context.Background(), ops); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var ids []uint64
	err := ScanPrefix(backend, ns.Bytes(), ns.Uint64(300).Bytes(), Descending, func(key, _ []byte) (bool, error) {
		id, ok := ns.Uint64Of(key)
		if !ok {
			t.Fatalf("key outside prefix: %x", key)
		}
		ids = append(ids, id)
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[2] != 1 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestLevelDBBackendRoundTrip(t *testing.T) {
	t.Parallel()

	backend, err := OpenLevelDB(filepath.Join(t.TempDir(), "ledger"), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()

	seed(t, backend, "x", "y")
	cache := NewCache(backend)
	_ = cache.Delete([]byte("x"))
	_ = cache.Set([]byte("z"), []byte("1"))
	if err := cache.Flush(context.Background(), backend); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := collect(t, backend, nil, nil, Ascending); !equal(got, []string{"y", "z"}) {
		t.Fatalf("unexpected keys: %v", got)
	}
}

func TestTypedMapRange(t *testing.T) {
	t.Parallel()

	type record struct {
		Name string `json:"name"`
	}
	m := NewMap[record]("records", "record")
	cache := NewCache(NewMemoryBackend())
	for _, id := range []string{"b", "a", "c"} {
		if err := m.Save(cache, id, record{Name: id}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	var ids []string
	if err := m.Range(cache, "a", Ascending, func(id string, v record) (bool, error) {
		if v.Name != id {
			t.Fatalf("decoded value mismatch: %s vs %s", v.Name, id)
		}
		ids = append(ids, id)
		return true, nil
	}); err != nil {
		t.Fatalf("range: %v", err)
	}
	if !equal(ids, []string{"b", "c"}) {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if _, err := m.Load(cache, "missing"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestPathComponentsDoNotAlias(t *testing.T) {
	t.Parallel()

	short := Namespace("cap").Str(strings.Repeat("a", 4464))
	long := Namespace("cap").Str(strings.Repeat("a", 70000))
	if bytes.HasPrefix(long.Bytes(), short.Bytes()) {
		t.Fatal("a longer component must not extend a shorter component's prefix")
	}
	if _, ok := short.TailOf(long.Key("agent-1")); ok {
		t.Fatal("key of a different component must not parse under the shorter path")
	}
}
