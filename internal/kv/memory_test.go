package kv

import (
	"sort"
	"testing"
)

func TestMemoryBucketRoundTrip(t *testing.T) {
	b := NewMemoryBucket("test")

	if v, err := b.Get("missing"); err != nil || v != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", v, err)
	}

	if err := b.Put("warm", []byte(`{"temp":2700}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Put("cool", []byte(`{"temp":5000}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := b.Get("warm")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != `{"temp":2700}` {
		t.Errorf("Get(warm) = %s", v)
	}

	// Replacement semantics.
	if err := b.Put("warm", []byte(`{"temp":2200}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _ := b.Get("warm"); string(v) != `{"temp":2200}` {
		t.Errorf("after overwrite Get(warm) = %s", v)
	}

	keys, err := b.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "cool" || keys[1] != "warm" {
		t.Errorf("keys = %v", keys)
	}

	if existed, _ := b.Delete("warm"); !existed {
		t.Error("Delete(warm) = false, want true")
	}
	if existed, _ := b.Delete("warm"); existed {
		t.Error("second Delete(warm) = true, want false")
	}

	if err := b.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys, _ := b.Keys(); len(keys) != 0 {
		t.Errorf("keys after clear = %v", keys)
	}
}

func TestManagerReusesAndFallsBack(t *testing.T) {
	m := NewManager(nil)

	a := m.Bucket("presets", true)
	if a.IsPersistent() {
		t.Error("manager without a database must fall back to memory buckets")
	}
	if b := m.Bucket("presets", true); b != a {
		t.Error("same name must return the same bucket")
	}
	if c := m.Bucket("other", false); c == a {
		t.Error("different names must get different buckets")
	}
}
