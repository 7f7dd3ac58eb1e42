package hashtable

import (
	"fmt"
	"unsafe"
)

// Grow makes room for n more entries, so that the next n inserts of new
// keys do not resize. It returns an error wrapping ErrAllocationFailure when
// the memory budget refuses; the table keeps whatever capacity it reached.
func (t *Table[K, V]) Grow(n int) error {
	if n <= 0 {
		return nil
	}
	t.lazyInit()
	want := t.size + n
	for t.threshold < want && len(t.buckets) < maxCapacity {
		if err := t.resize(); err != nil {
			return err
		}
	}
	return nil
}

// resize doubles the bucket array. Each old bucket j is split into the new
// buckets j (hash&oldLen == 0) and j+oldLen, keeping relative order; a tree
// half with untreeifyThreshold nodes or fewer becomes a chain.
func (t *Table[K, V]) resize() error {
	oldLen := len(t.buckets)
	if oldLen >= maxCapacity {
		t.threshold = maxInt
		return nil
	}
	newLen := oldLen << 1

	bytes := int64(newLen) * int64(unsafe.Sizeof(bucket[K, V]{}))
	if t.budget != nil && !t.budget.TryReserve(bytes) {
		err := fmt.Errorf("%w: %d buckets (%d bytes) refused by memory budget",
			ErrAllocationFailure, newLen, bytes)
		t.err = err
		t.log.LogResizeRefused(oldLen, newLen, err)
		return err
	}

	newBuckets := make([]bucket[K, V], newLen)
	bit := uint32(oldLen)
	for j := range t.buckets {
		b := &t.buckets[j]
		if b.tree != nil {
			lo, hi := b.tree.split(&t.ops, bit)
			placeTree(&newBuckets[j], lo)
			placeTree(&newBuckets[j+oldLen], hi)
			continue
		}
		var loHead, loTail, hiHead, hiTail *entry[K, V]
		for e := b.head; e != nil; {
			next := e.next
			e.next = nil
			if e.hash&bit == 0 {
				if loTail == nil {
					loHead = e
				} else {
					loTail.next = e
				}
				loTail = e
			} else {
				if hiTail == nil {
					hiHead = e
				} else {
					hiTail.next = e
				}
				hiTail = e
			}
			e = next
		}
		newBuckets[j].head = loHead
		newBuckets[j+oldLen].head = hiHead
	}

	if t.budget != nil {
		t.budget.Release(t.reserved)
		t.reserved = bytes
	}
	t.buckets = newBuckets
	t.threshold = thresholdFor(newLen, t.LoadFactor())
	t.growths++
	t.modCount++
	t.err = nil
	t.log.LogResize(oldLen, newLen, t.size)
	return nil
}

// placeTree stores one half of a split tree bucket.
func placeTree[K comparable, V any](b *bucket[K, V], tr *tree[K, V]) {
	switch {
	case tr == nil:
	case tr.Len() <= untreeifyThreshold:
		b.head = chainFromTree(tr)
	default:
		b.tree = tr
	}
}
