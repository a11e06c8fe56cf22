package registry

import "testing"

func TestPutGetDelete(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a removed")
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %d", m.Len())
	}
}

func TestRangePreservesInsertionOrder(t *testing.T) {
	m := New[int, string]()
	m.Put(3, "c")
	m.Put(1, "a")
	m.Put(2, "b")

	var keys []int
	m.Range(func(key int, val string) bool {
		keys = append(keys, key)
		return true
	})

	want := []int{3, 1, 2}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
}

func TestRangeStopsEarly(t *testing.T) {
	m := New[int, int]()
	m.Put(1, 10)
	m.Put(2, 20)
	m.Put(3, 30)

	visited := 0
	m.Range(func(key, val int) bool {
		visited++
		return key != 2
	})

	if visited != 2 {
		t.Fatalf("expected early stop after 2 entries, visited %d", visited)
	}
}

func TestPutOverwriteKeepsOriginalOrderPosition(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("a", 99)

	if len(m.Keys()) != 2 {
		t.Fatalf("expected 2 keys, got %v", m.Keys())
	}
	if v, _ := m.Get("a"); v != 99 {
		t.Fatalf("expected a=99, got %d", v)
	}
}
