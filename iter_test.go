package hashtable

import (
	"errors"
	"maps"
	"testing"
)

func TestIterator_AllEntries(t *testing.T) {
	tb := New[int, int](WithCapacity(64), constHash[int](1))
	for i := range 20 {
		tb.Put(i, i*2)
	}
	for i := 100; i < 110; i++ {
		tb.Put(i, i*2)
	}
	seen := map[int]int{}
	it := tb.Iter()
	for it.Next() {
		if _, dup := seen[it.Key()]; dup {
			t.Fatalf("key %d visited twice", it.Key())
		}
		seen[it.Key()] = it.Value()
	}
	if it.Err() != nil {
		t.Fatalf("unexpected error: %v", it.Err())
	}
	if len(seen) != tb.Len() {
		t.Fatalf("visited %d entries, size is %d", len(seen), tb.Len())
	}
	for k, v := range seen {
		if v != k*2 {
			t.Fatalf("values do not match for %d: %v", k, v)
		}
	}
	if it.Next() {
		t.Fatal("exhausted iterator advanced")
	}
}

func TestIterator_ChainOrder(t *testing.T) {
	tb := New[int, int](identityHash())
	for _, k := range []int{3, 19, 35, 1} {
		tb.Put(k, k)
	}
	var got []int
	for k := range tb.Keys() {
		got = append(got, k)
	}
	want := []int{1, 3, 19, 35}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: %v, want %v", got, want)
		}
	}
}

func TestIterator_FailFastOnInsert(t *testing.T) {
	tb := New[string, int]()
	tb.Put("a", 1)
	tb.Put("b", 2)
	tb.Put("c", 3)

	it := tb.Iter()
	if !it.Next() {
		t.Fatal("expected a first entry")
	}
	tb.Put("d", 4)
	if it.Next() {
		t.Fatal("iterator advanced after a structural modification")
	}
	if !errors.Is(it.Err(), ErrConcurrentModification) {
		t.Fatalf("unexpected error: %v", it.Err())
	}
	if it.Next() {
		t.Fatal("failed iterator advanced")
	}
}

func TestIterator_FailFastOnRemoveAndClear(t *testing.T) {
	for name, mutate := range map[string]func(*Table[int, int]){
		"remove": func(tb *Table[int, int]) { tb.Remove(1) },
		"clear":  func(tb *Table[int, int]) { tb.Clear() },
		"grow":   func(tb *Table[int, int]) { _ = tb.Grow(1000) },
	} {
		t.Run(name, func(t *testing.T) {
			tb := New[int, int]()
			for i := range 3 {
				tb.Put(i, i)
			}
			it := tb.Iter()
			it.Next()
			mutate(tb)
			if it.Next() || it.Err() != ErrConcurrentModification {
				t.Fatalf("unexpected iterator state: %v", it.Err())
			}
		})
	}
}

func TestIterator_ReplaceIsNotStructural(t *testing.T) {
	tb := New[string, int]()
	tb.Put("a", 1)
	tb.Put("b", 2)
	tb.Put("c", 3)
	n := 0
	it := tb.Iter()
	for it.Next() {
		tb.Put(it.Key(), it.Value()*10)
		n++
	}
	if it.Err() != nil || n != 3 {
		t.Fatalf("unexpected iteration: %d entries, err %v", n, it.Err())
	}
	for k, v := range tb.All() {
		if v%10 != 0 {
			t.Fatalf("value not replaced for %s: %v", k, v)
		}
	}
}

func TestIterator_EmptyAndZeroTable(t *testing.T) {
	var zero Table[int, int]
	if zero.Iter().Next() {
		t.Fatal("zero table iterator advanced")
	}
	tb := New[int, int]()
	tb.Put(1, 1)
	tb.Remove(1)
	if tb.Iter().Next() {
		t.Fatal("empty table iterator advanced")
	}
}

func TestAll_PanicsOnModification(t *testing.T) {
	tb := New[int, int]()
	for i := range 3 {
		tb.Put(i, i)
	}
	defer func() {
		if r := recover(); r != ErrConcurrentModification {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	for k := range tb.All() {
		tb.Put(k+100, 0)
	}
}

func TestAll_EarlyBreak(t *testing.T) {
	tb := New[int, int]()
	for i := range 10 {
		tb.Put(i, i)
	}
	n := 0
	for range tb.All() {
		n++
		if n == 4 {
			break
		}
	}
	if n != 4 {
		t.Fatalf("unexpected count: %d", n)
	}
	if got := maps.Collect(tb.All()); len(got) != 10 {
		t.Fatalf("unexpected collected size: %d", len(got))
	}
	sum := 0
	for v := range tb.Values() {
		sum += v
	}
	if sum != 45 {
		t.Fatalf("unexpected sum: %d", sum)
	}
}
