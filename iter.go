package hashtable

import "iter"

// Iterator walks a Table bucket by bucket, each bucket in chain or insertion
// order. It is fail-fast: once the table is structurally modified (an insert
// of a new key, a removal, a resize or Clear) by anyone other than the
// iterator, Next returns false and Err reports ErrConcurrentModification.
// Replacing the value of an existing key is not structural.
//
// Usage:
//
//	it := t.Iter()
//	for it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator[K comparable, V any] struct {
	t   *Table[K, V]
	mod uint64
	bi  int
	e   *entry[K, V]
	tr  *tree[K, V]
	tn  int32

	key   K
	value V
	err   error
}

// Iter returns a fail-fast iterator positioned before the first entry.
func (t *Table[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{t: t, mod: t.modCount, bi: -1, tn: nilNode}
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil || it.t == nil {
		return false
	}
	if it.t.modCount != it.mod {
		it.err = ErrConcurrentModification
		return false
	}

	switch {
	case it.e != nil:
		it.e = it.e.next
	case it.tr != nil:
		if it.tn = it.tr.nodes[it.tn].next; it.tn == nilNode {
			it.tr = nil
		}
	}

	buckets := it.t.buckets
	for it.e == nil && it.tr == nil {
		if it.bi+1 >= len(buckets) {
			it.bi = len(buckets)
			return false
		}
		it.bi++
		b := &buckets[it.bi]
		if b.tree != nil && b.tree.head != nilNode {
			it.tr, it.tn = b.tree, b.tree.head
		} else {
			it.e = b.head
		}
	}

	if it.e != nil {
		it.key, it.value = it.e.key, it.e.value
	} else {
		n := &it.tr.nodes[it.tn]
		it.key, it.value = n.key, n.value
	}
	return true
}

// Key returns the key at the current position.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value at the current position, as it was when Next
// moved there.
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// Err returns ErrConcurrentModification if iteration stopped because the
// table was structurally modified.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// All returns an iterator over key-value pairs for range-over-func.
// It panics with ErrConcurrentModification when the table is structurally
// modified during the loop.
func (t *Table[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := t.Iter()
		for it.Next() {
			if !yield(it.key, it.value) {
				return
			}
		}
		if it.err != nil {
			panic(it.err)
		}
	}
}

// Keys returns an iterator over keys. It fails fast like All.
func (t *Table[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range t.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an iterator over values. It fails fast like All.
func (t *Table[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range t.All() {
			if !yield(v) {
				return
			}
		}
	}
}
