package hashtable

import "testing"

func TestBudget_Limit(t *testing.T) {
	b := NewMemoryBudget(100)
	if !b.TryReserve(60) {
		t.Fatal("reservation within limit refused")
	}
	if b.TryReserve(50) {
		t.Fatal("reservation over limit accepted")
	}
	if b.Used() != 60 || b.Limit() != 100 {
		t.Fatalf("unexpected budget: used %d limit %d", b.Used(), b.Limit())
	}
	b.Release(60)
	if !b.TryReserve(100) {
		t.Fatal("released bytes not reusable")
	}
}

func TestBudget_Unlimited(t *testing.T) {
	b := NewMemoryBudget(0)
	if !b.TryReserve(1 << 40) {
		t.Fatal("unlimited budget refused")
	}
	if b.Used() != 1<<40 || b.Limit() != 0 {
		t.Fatalf("unexpected budget: used %d limit %d", b.Used(), b.Limit())
	}
	b.Release(1 << 40)
	if b.Used() != 0 {
		t.Fatalf("unexpected usage: %d", b.Used())
	}
}

func TestBudget_NilAndNonPositive(t *testing.T) {
	var b *Budget
	if !b.TryReserve(10) {
		t.Fatal("nil budget refused")
	}
	b.Release(10)
	nb := NewMemoryBudget(1)
	if !nb.TryReserve(0) || !nb.TryReserve(-5) {
		t.Fatal("empty reservation refused")
	}
	if nb.Used() != 0 {
		t.Fatalf("unexpected usage: %d", nb.Used())
	}
}

func TestBudget_SharedByTables(t *testing.T) {
	b := NewMemoryBudget(1 << 20)
	t1 := New[int, int](WithMemoryBudget(b))
	t2 := NewConcurrent[int, int](WithMemoryBudget(b))
	for i := range 500 {
		t1.Put(i, i)
		t2.Put(i, i)
	}
	if b.Used() != t1.reserved+t2.reserved.Load() {
		t.Fatalf("budget used %d, tables reserved %d and %d", b.Used(), t1.reserved, t2.reserved.Load())
	}
	t1.Close()
	t2.Close()
	if b.Used() != 0 {
		t.Fatalf("budget used %d after close", b.Used())
	}
}
