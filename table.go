package hashtable

import (
	"fmt"
)

// Table is a hash table with power-of-two capacity and separate chaining.
// A chain that grows beyond 8 entries in a table of at least 64 buckets is
// converted to a red-black tree, and converted back once it shrinks to 6
// entries or fewer.
//
// Table is not safe for concurrent use; see ConcurrentTable.
//
// Usage recommendations:
//   - Direct declaration: var t Table[string, int]
//   - Pre-allocate capacity: New[string, int](WithCapacity(1024))
//
// Notes:
//   - Keys whose Hash is inconsistent with their equality silently corrupt
//     lookups. This is not detected.
//   - A nil key is permitted and lives in bucket 0.
type Table[K comparable, V any] struct {
	buckets    []bucket[K, V]
	size       int
	threshold  int
	loadFactor float64
	initLen    int
	modCount   uint64 // bumped on every structural modification
	growths    uint32
	ops        keyOps[K]
	log        *Logger
	budget     MemoryBudget
	reserved   int64 // bytes of the current bucket array held in budget
	err        error // last refused resize, cleared by a successful one
	inited     bool
}

// entry is a chain node.
type entry[K comparable, V any] struct {
	hash  uint32
	key   K
	value V
	next  *entry[K, V]
}

// bucket is either a chain (head) or a tree, never both.
type bucket[K comparable, V any] struct {
	head *entry[K, V]
	tree *tree[K, V]
}

// New creates a new Table instance. Direct initialization is also
// supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithLoadFactor,
//     WithKeyHasher, etc.)
func New[K comparable, V any](options ...func(*Config)) *Table[K, V] {
	t := &Table[K, V]{}
	cfg := parseOptions(options)
	t.init(&cfg)
	return t
}

func (t *Table[K, V]) init(cfg *Config) {
	t.ops = newKeyOps[K](cfg)
	t.loadFactor = cfg.lf()
	t.initLen = cfg.tableLen()
	t.log = cfg.log()
	t.budget = cfg.budget
	t.buckets = make([]bucket[K, V], t.initLen)
	t.threshold = thresholdFor(t.initLen, t.loadFactor)
	t.inited = true
}

func (t *Table[K, V]) lazyInit() {
	if !t.inited {
		var cfg Config
		t.init(&cfg)
	}
}

// Get returns the value stored for key.
func (t *Table[K, V]) Get(key K) (value V, ok bool) {
	if t.size == 0 {
		return value, false
	}
	h := t.ops.hashOf(key)
	b := &t.buckets[indexFor(h, len(t.buckets))]
	if b.tree != nil {
		return b.tree.get(&t.ops, h, key)
	}
	if e := t.findEntry(b, h, key); e != nil {
		return e.value, true
	}
	return value, false
}

// ContainsKey reports whether key is present.
func (t *Table[K, V]) ContainsKey(key K) bool {
	_, ok := t.Get(key)
	return ok
}

// Put stores value for key.
//
// Replacing the value of an existing key is not a structural modification:
// the size is unchanged, no resize happens and live iterators stay valid.
// Inserting appends at the tail of the chain, then treeifies the bucket or
// grows the table as needed.
//
// A resize refused by the memory budget does not fail the insert; the
// failure is reported by Err.
func (t *Table[K, V]) Put(key K, value V) (previous V, replaced bool) {
	t.lazyInit()
	h := t.ops.hashOf(key)
	i := indexFor(h, len(t.buckets))
	b := &t.buckets[i]

	if b.tree != nil {
		if p := b.tree.find(&t.ops, h, key); p != nilNode {
			n := &b.tree.nodes[p]
			previous, n.value = n.value, value
			return previous, true
		}
		b.tree.insert(&t.ops, h, key, value)
		t.size++
		t.modCount++
	} else {
		var last *entry[K, V]
		count := 0
		for e := b.head; e != nil; e = e.next {
			if e.hash == h && t.ops.eq(e.key, key) {
				previous, e.value = e.value, value
				return previous, true
			}
			last = e
			count++
		}
		ne := &entry[K, V]{hash: h, key: key, value: value}
		if last == nil {
			b.head = ne
		} else {
			last.next = ne
		}
		t.size++
		t.modCount++
		if count+1 > treeifyThreshold {
			t.treeifyBin(i)
		}
	}

	if t.size > t.threshold {
		_ = t.resize()
	}
	return previous, false
}

// PutIfAbsent stores value only when key is absent.
// It returns the existing value and true, or value and false when stored.
func (t *Table[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	if v, ok := t.Get(key); ok {
		return v, true
	}
	t.Put(key, value)
	return value, false
}

// Remove deletes key and returns its value.
// Removing an absent key is a no-op.
func (t *Table[K, V]) Remove(key K) (value V, removed bool) {
	if t.size == 0 {
		return value, false
	}
	h := t.ops.hashOf(key)
	i := indexFor(h, len(t.buckets))
	b := &t.buckets[i]

	if b.tree != nil {
		p := b.tree.find(&t.ops, h, key)
		if p == nilNode {
			return value, false
		}
		value = b.tree.nodes[p].value
		b.tree.remove(p)
		if b.tree.Len() <= untreeifyThreshold {
			t.untreeifyBin(i)
		}
	} else {
		var prev *entry[K, V]
		e := b.head
		for ; e != nil; prev, e = e, e.next {
			if e.hash == h && t.ops.eq(e.key, key) {
				break
			}
		}
		if e == nil {
			return value, false
		}
		if prev == nil {
			b.head = e.next
		} else {
			prev.next = e.next
		}
		value = e.value
	}

	t.size--
	t.modCount++
	return value, true
}

// Compute reads, updates or deletes the entry for key through a callback.
//
// Callback signature:
//
//	fn(e *Entry[K, V])
//
//	  - e.Update(newV): insert or replace with newV
//	  - e.Delete(): delete the entry
//	  - default (no op): keep the entry unchanged
//
// Returns:
//   - actual: the entry's value as left by the callback
//   - loaded: true if the key existed before the callback
//
// fn must not modify the table; doing so panics with
// ErrConcurrentModification.
func (t *Table[K, V]) Compute(
	key K,
	fn func(e *Entry[K, V]),
) (actual V, loaded bool) {
	if fn == nil {
		panic("hashtable: called Compute with nil callback")
	}
	t.lazyInit()
	h := t.ops.hashOf(key)
	b := &t.buckets[indexFor(h, len(t.buckets))]

	var slot *V
	if b.tree != nil {
		if p := b.tree.find(&t.ops, h, key); p != nilNode {
			slot = &b.tree.nodes[p].value
		}
	} else if e := t.findEntry(b, h, key); e != nil {
		slot = &e.value
	}

	it := Entry[K, V]{key: key}
	if slot != nil {
		it.value, it.loaded = *slot, true
	}
	mc := t.modCount
	fn(&it)
	if t.modCount != mc {
		panic(ErrConcurrentModification)
	}

	switch it.op {
	case updateOp:
		if slot != nil {
			*slot = it.value
		} else {
			t.Put(key, it.value)
		}
	case deleteOp:
		if slot != nil {
			t.Remove(key)
		}
	}
	return it.value, it.loaded
}

// Len returns the number of entries.
func (t *Table[K, V]) Len() int {
	return t.size
}

// Capacity returns the number of buckets, 0 for an unused zero Table.
func (t *Table[K, V]) Capacity() int {
	return len(t.buckets)
}

// Threshold returns the size above which the next insert grows the table.
func (t *Table[K, V]) Threshold() int {
	return t.threshold
}

// LoadFactor returns the configured load factor.
func (t *Table[K, V]) LoadFactor() float64 {
	if t.loadFactor == 0 {
		return defaultLoadFactor
	}
	return t.loadFactor
}

// Err returns the last resize failure, or nil once a later resize succeeds.
func (t *Table[K, V]) Err() error {
	return t.err
}

// Clear removes all entries and keeps the capacity.
func (t *Table[K, V]) Clear() {
	if t.size == 0 {
		return
	}
	clear(t.buckets)
	t.size = 0
	t.modCount++
}

// Close releases the bucket array and returns its reservation to the
// memory budget. The table is empty and reusable afterwards.
func (t *Table[K, V]) Close() {
	if t.budget != nil {
		t.budget.Release(t.reserved)
		t.reserved = 0
	}
	if t.inited {
		t.buckets = make([]bucket[K, V], t.initLen)
		t.threshold = thresholdFor(t.initLen, t.LoadFactor())
	}
	if t.size != 0 {
		t.size = 0
		t.modCount++
	}
}

// Stats returns a snapshot of the bucket layout.
func (t *Table[K, V]) Stats() Stats {
	s := Stats{
		Buckets:      len(t.buckets),
		Counter:      t.size,
		CounterLen:   1,
		Threshold:    t.threshold,
		TotalGrowths: t.growths,
	}
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.tree != nil {
			s.addTree(b.tree.Len())
			continue
		}
		n := 0
		for e := b.head; e != nil; e = e.next {
			n++
		}
		s.addChain(n)
	}
	return s
}

func (t *Table[K, V]) findEntry(b *bucket[K, V], h uint32, key K) *entry[K, V] {
	for e := b.head; e != nil; e = e.next {
		if e.hash == h && t.ops.eq(e.key, key) {
			return e
		}
	}
	return nil
}

// treeifyBin converts bucket i to a tree, or grows the table instead while
// it is smaller than minTreeifyCapacity.
func (t *Table[K, V]) treeifyBin(i int) {
	if len(t.buckets) < minTreeifyCapacity {
		_ = t.resize()
		return
	}
	b := &t.buckets[i]
	b.tree = treeFromChain(&t.ops, b.head)
	b.head = nil
	t.log.LogTreeify(i, b.tree.Len(), true)
}

// untreeifyBin converts tree bucket i back to a chain.
func (t *Table[K, V]) untreeifyBin(i int) {
	b := &t.buckets[i]
	n := b.tree.Len()
	b.head = chainFromTree(b.tree)
	b.tree = nil
	t.log.LogTreeify(i, n, false)
}

func treeFromChain[K comparable, V any](ops *keyOps[K], head *entry[K, V]) *tree[K, V] {
	n := 0
	for e := head; e != nil; e = e.next {
		n++
	}
	tr := newTree[K, V](n)
	for e := head; e != nil; e = e.next {
		tr.insert(ops, e.hash, e.key, e.value)
	}
	return tr
}

// chainFromTree builds a chain in the tree's insertion order.
func chainFromTree[K comparable, V any](tr *tree[K, V]) *entry[K, V] {
	var head, tail *entry[K, V]
	tr.each(func(n *treeNode[K, V]) bool {
		e := &entry[K, V]{hash: n.hash, key: n.key, value: n.value}
		if tail == nil {
			head = e
		} else {
			tail.next = e
		}
		tail = e
		return true
	})
	return head
}

func (t *Table[K, V]) String() string {
	return fmt.Sprintf("Table{len: %d, capacity: %d, threshold: %d}",
		t.size, len(t.buckets), t.threshold)
}
