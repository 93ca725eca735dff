package concurrency

import "testing"

func TestLockMapGetSetDelete(t *testing.T) {
	m := NewLockMap[int]()

	if _, ok := m.Get("a"); ok {
		t.Fatal("Get() found a value in an empty map")
	}

	m.Set("a", 1)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("Get() found a value after Delete()")
	}
}

func TestLockMapGetOrSet(t *testing.T) {
	m := NewLockMap[string]()

	v, stored := m.GetOrSet("k", "first")
	if !stored || v != "first" {
		t.Fatalf("GetOrSet() = %v, %v, want first, true", v, stored)
	}

	v, stored = m.GetOrSet("k", "second")
	if stored || v != "first" {
		t.Errorf("GetOrSet() = %v, %v, want first, false", v, stored)
	}
}

func TestLockMapRange(t *testing.T) {
	m := NewLockMap[int]()
	m.Set("a", 1)
	m.Set("b", 2)

	seen := make(map[string]int)
	m.Range(func(k string, v int) { seen[k] = v })

	if len(seen) != 2 || seen["a"] != 1 || seen["b"] != 2 {
		t.Errorf("Range() collected %v, want map[a:1 b:2]", seen)
	}
}

func TestFailCounter(t *testing.T) {
	f := NewFailCounter()
	if got := f.Count("x"); got != 0 {
		t.Fatalf("Count() on unseen key = %d, want 0", got)
	}
	if got := f.Fail("x"); got != 1 {
		t.Errorf("Fail() = %d, want 1", got)
	}
	if got := f.Fail("x"); got != 2 {
		t.Errorf("Fail() = %d, want 2", got)
	}
	f.Reset("x")
	if got := f.Count("x"); got != 0 {
		t.Errorf("Count() after Reset() = %d, want 0", got)
	}
}
