package hashtable

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/hashtable/internal/opt"
)

// ConcurrentTable is a hash table safe for concurrent use by multiple
// goroutines.
//
// Core design:
//   - Lock-free reads over atomically published bucket heads
//   - One spin lock per bucket for writers, embedded in the bucket word
//   - Chains become red-black trees like in Table; a tree bucket is an
//     immutable snapshot replaced copy-on-write by writers
//   - A single goroutine owns a resize; writers that run into it help
//     transfer chunks of buckets, then continue on the new bucket array
//   - Striped size counters
//
// Nil keys and nil values are rejected with ErrNilKey and ErrNilValue.
// Operations on the same key are linearizable. Iteration is weakly
// consistent: it never fails, and reflects the table at some point at or
// after the start of the iteration.
//
// Notes:
//   - ConcurrentTable must not be copied after first use.
//   - The zero value is ready to use.
type ConcurrentTable[K comparable, V any] struct {
	_          noCopy
	table      atomic.Pointer[ctable[K, V]]
	rs         atomic.Pointer[resizeState[K, V]]
	growths    atomic.Uint32
	reserved   atomic.Int64 // bytes of the current bucket array held in budget
	lastErr    atomic.Pointer[error]
	ops        keyOps[K]
	nilValue   func(v *V) bool
	loadFactor float64
	minLen     int
	log        *Logger
	budget     MemoryBudget
}

// resizeState represents the current state of a rebuild operation.
type resizeState[K comparable, V any] struct {
	hint      rebuildHint
	bytes     int64 // budget reserved for newTable
	wg        sync.WaitGroup
	table     atomic.Pointer[ctable[K, V]]
	newTable  atomic.Pointer[ctable[K, V]]
	process   int32
	completed int32
}

// ctable is one bucket array with its size counters.
type ctable[K comparable, V any] struct {
	buckets  []cbucket[K, V]
	mask     int
	size     []opt.CounterStripe_
	sizeMask int
	// number of chunks and chunks size for resizing
	chunks  int
	chunkSz int
}

// cbucket is a bucket head. meta carries the writer lock bit and must be
// 64-bit aligned.
type cbucket[K comparable, V any] struct {
	_    [0]atomic.Uint64
	meta uint64
	head atomic.Pointer[cnode[K, V]]
}

// cnode is a chain node, or, when tree is set, the single node of a tree
// bucket. hash, key, value and tree never change after publication.
type cnode[K comparable, V any] struct {
	hash  uint32
	key   K
	value V
	tree  *tree[K, V]
	next  atomic.Pointer[cnode[K, V]]
}

// NewConcurrent creates a new ConcurrentTable instance. Direct
// initialization is also supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithLoadFactor,
//     WithKeyHasher, WithMemoryBudget, etc.)
func NewConcurrent[K comparable, V any](
	options ...func(*Config),
) *ConcurrentTable[K, V] {
	m := &ConcurrentTable[K, V]{}
	cfg := parseOptions(options)
	m.init(&cfg)
	return m
}

func (m *ConcurrentTable[K, V]) init(cfg *Config) *ctable[K, V] {
	m.ops = newKeyOps[K](cfg)
	m.nilValue = nilValueCheck[V]()
	m.loadFactor = cfg.lf()
	m.minLen = cfg.tableLen()
	m.log = cfg.log()
	m.budget = cfg.budget

	table := newCTable[K, V](m.minLen, runtime.GOMAXPROCS(0))
	m.table.Store(table)
	return table
}

// slowInit may be called concurrently by multiple goroutines, so it requires
// synchronization with a "lock" mechanism.
//
//go:noinline
func (m *ConcurrentTable[K, V]) slowInit() *ctable[K, V] {
	if rs := m.rs.Load(); rs != nil {
		rs.wg.Wait()
		// Now the table should be initialized
		return m.table.Load()
	}

	rs, ok := m.beginRebuild(blockWritersHint)
	if !ok {
		// Another goroutine is initializing, wait for it to complete
		if rs = m.rs.Load(); rs != nil {
			rs.wg.Wait()
		}
		return m.table.Load()
	}

	// The table might have been set before the rebuild state was published.
	if table := m.table.Load(); table != nil {
		m.endRebuild(rs)
		return table
	}

	var cfg Config
	table := m.init(&cfg)
	m.endRebuild(rs)
	return table
}

// nilValueCheck returns a predicate reporting nil values, or nil when V has
// no nil value.
func nilValueCheck[V any]() func(v *V) bool {
	switch reflect.TypeFor[V]().Kind() {
	case reflect.Interface:
		return func(v *V) bool { return any(*v) == nil }
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Slice:
		// The first word is the pointer, map or data pointer: nil iff v is nil.
		return func(v *V) bool { return *(*unsafe.Pointer)(unsafe.Pointer(v)) == nil }
	default:
		return nil
	}
}

func (m *ConcurrentTable[K, V]) isNilValue(v *V) bool {
	return m.nilValue != nil && m.nilValue(v)
}

// Get returns the value stored for key. It never blocks.
func (m *ConcurrentTable[K, V]) Get(key K) (value V, ok bool) {
	table := m.table.Load()
	if table == nil || m.ops.nilKey(key) {
		return value, false
	}
	h := m.ops.hashOf(key)
	head := table.buckets[int(h)&table.mask].head.Load()
	if head != nil && head.tree != nil {
		return head.tree.get(&m.ops, h, key)
	}
	for n := head; n != nil; n = n.next.Load() {
		if n.hash == h && m.ops.eq(n.key, key) {
			return n.value, true
		}
	}
	return value, false
}

// ContainsKey reports whether key is present.
func (m *ConcurrentTable[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put stores value for key and returns the previous value, if any.
// It returns ErrNilKey or ErrNilValue without storing anything when key or
// value is nil.
func (m *ConcurrentTable[K, V]) Put(key K, value V) (previous V, replaced bool, err error) {
	_, replaced, err = m.compute(key, func(e *Entry[K, V]) {
		previous = e.value
		e.Update(value)
	})
	if err != nil {
		return *new(V), false, err
	}
	return previous, replaced, nil
}

// PutIfAbsent stores value only when key is absent.
// It returns the existing value and true, or value and false when stored.
// Storing a nil value fails with ErrNilValue.
func (m *ConcurrentTable[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool, err error) {
	return m.compute(key, func(e *Entry[K, V]) {
		if !e.loaded {
			e.Update(value)
		}
	})
}

// Remove deletes key and returns its value. A nil key is never present.
func (m *ConcurrentTable[K, V]) Remove(key K) (value V, removed bool) {
	if m.table.Load() == nil || m.ops.nilKey(key) {
		return value, false
	}
	_, removed, _ = m.compute(key, func(e *Entry[K, V]) {
		if e.loaded {
			value = e.value
			e.Delete()
		}
	})
	return value, removed
}

// Compute reads, updates or deletes the entry for key through a callback,
// atomically with respect to other writers of the same key.
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
//   - err: ErrNilKey, or ErrNilValue if fn updated to a nil value, in which
//     case the entry is unchanged
//
// Notes:
//   - The fn function is executed while holding an internal lock.
//     Keep the execution time short to avoid blocking other operations.
//   - Avoid calling other table methods inside fn to prevent deadlocks.
func (m *ConcurrentTable[K, V]) Compute(
	key K,
	fn func(e *Entry[K, V]),
) (actual V, loaded bool, err error) {
	if fn == nil {
		panic("hashtable: called Compute with nil callback")
	}
	return m.compute(key, fn)
}

func (m *ConcurrentTable[K, V]) compute(
	key K,
	fn func(e *Entry[K, V]),
) (V, bool, error) {
	table := m.table.Load()
	if table == nil {
		table = m.slowInit()
	}
	if m.ops.nilKey(key) {
		return *new(V), false, ErrNilKey
	}
	return m.computeEntry(table, m.ops.hashOf(key), key, fn)
}

// computeEntry runs fn on the entry for key while holding the bucket lock
// and applies the requested change.
func (m *ConcurrentTable[K, V]) computeEntry(
	table *ctable[K, V],
	h uint32,
	key K,
	fn func(e *Entry[K, V]),
) (V, bool, error) {
	for {
		idx := int(h) & table.mask
		root := &table.buckets[idx]

		root.lock()

		// Check if there is a rebuild operation in progress after
		// acquiring the bucket lock
		if rs := m.rs.Load(); rs != nil {
			switch rs.hint {
			case growHint:
				if rs.table.Load() != nil /*skip init*/ &&
					rs.newTable.Load() != nil /*skip newTable is nil*/ {
					root.unlock()
					m.helpCopyAndWait(rs)
					table = m.table.Load()
					continue
				}
			case blockWritersHint:
				root.unlock()
				rs.wg.Wait()
				table = m.table.Load()
				continue
			}
		}

		// Verifies if table was replaced after lock acquisition.
		// Needed since another goroutine may have resized the table
		// between initial check and lock acquisition.
		if newTable := m.table.Load(); table != newTable {
			root.unlock()
			table = newTable
			continue
		}

		head := root.head.Load()
		if head != nil && head.tree != nil {
			return m.computeTree(table, idx, root, head.tree, h, key, fn)
		}

		var (
			found *cnode[K, V]
			prev  *cnode[K, V]
			count int
		)
		for n := head; n != nil; prev, n = n, n.next.Load() {
			if n.hash == h && m.ops.eq(n.key, key) {
				found = n
				break
			}
			count++
		}

		it := Entry[K, V]{key: key}
		if found != nil {
			it.value, it.loaded = found.value, true
		}
		fn(&it)

		switch it.op {
		case updateOp:
			if m.isNilValue(&it.value) {
				root.unlock()
				return *new(V), it.loaded, ErrNilValue
			}
			if found != nil {
				// Replace: a new node takes the place of the old one, readers
				// holding the old node still see a valid chain.
				nn := &cnode[K, V]{hash: h, key: found.key, value: it.value}
				nn.next.Store(found.next.Load())
				link(root, prev, nn)
				root.unlock()
				return it.value, true, nil
			}

			// Insert at the tail
			link(root, prev, &cnode[K, V]{hash: h, key: key, value: it.value})
			count++
			longChain := count > treeifyThreshold
			if longChain && len(table.buckets) >= minTreeifyCapacity {
				tr := ctreeFromChain(&m.ops, root.head.Load())
				root.head.Store(&cnode[K, V]{tree: tr})
				longChain = false
				m.log.LogTreeify(idx, tr.Len(), true)
			}
			root.unlock()
			table.addSize(idx, 1)
			m.maybeGrow(table, longChain)
			return it.value, false, nil

		case deleteOp:
			if found == nil {
				root.unlock()
				return it.value, false, nil
			}
			link(root, prev, found.next.Load())
			root.unlock()
			table.addSize(idx, -1)
			return it.value, true, nil

		default:
			root.unlock()
			return it.value, it.loaded, nil
		}
	}
}

// computeTree is the tree bucket half of computeEntry. It is called with
// the bucket locked and unlocks it.
func (m *ConcurrentTable[K, V]) computeTree(
	table *ctable[K, V],
	idx int,
	root *cbucket[K, V],
	tr *tree[K, V],
	h uint32,
	key K,
	fn func(e *Entry[K, V]),
) (V, bool, error) {
	p := tr.find(&m.ops, h, key)
	it := Entry[K, V]{key: key}
	if p != nilNode {
		it.value, it.loaded = tr.nodes[p].value, true
	}
	fn(&it)

	switch it.op {
	case updateOp:
		if m.isNilValue(&it.value) {
			root.unlock()
			return *new(V), it.loaded, ErrNilValue
		}
		nt := tr.clone()
		if p != nilNode {
			nt.nodes[p].value = it.value
		} else {
			nt.insert(&m.ops, h, key, it.value)
		}
		root.head.Store(&cnode[K, V]{tree: nt})
		root.unlock()
		if p == nilNode {
			table.addSize(idx, 1)
			m.maybeGrow(table, false)
		}
		return it.value, it.loaded, nil

	case deleteOp:
		if p == nilNode {
			root.unlock()
			return it.value, false, nil
		}
		nt := tr.clone()
		nt.remove(p)
		if nt.Len() <= untreeifyThreshold {
			root.head.Store(cchainFromTree(nt))
			m.log.LogTreeify(idx, nt.Len(), false)
		} else {
			root.head.Store(&cnode[K, V]{tree: nt})
		}
		root.unlock()
		table.addSize(idx, -1)
		return it.value, true, nil

	default:
		root.unlock()
		return it.value, it.loaded, nil
	}
}

// link makes n the successor of prev, or the bucket head when prev is nil.
func link[K comparable, V any](root *cbucket[K, V], prev, n *cnode[K, V]) {
	if prev == nil {
		root.head.Store(n)
	} else {
		prev.next.Store(n)
	}
}

func ctreeFromChain[K comparable, V any](ops *keyOps[K], head *cnode[K, V]) *tree[K, V] {
	n := 0
	for e := head; e != nil; e = e.next.Load() {
		n++
	}
	tr := newTree[K, V](n)
	for e := head; e != nil; e = e.next.Load() {
		tr.insert(ops, e.hash, e.key, e.value)
	}
	return tr
}

// cchainFromTree builds an unpublished chain in the tree's insertion order.
func cchainFromTree[K comparable, V any](tr *tree[K, V]) *cnode[K, V] {
	var head, tail *cnode[K, V]
	tr.each(func(n *treeNode[K, V]) bool {
		c := &cnode[K, V]{hash: n.hash, key: n.key, value: n.value}
		if tail == nil {
			head = c
		} else {
			tail.next.Store(c)
		}
		tail = c
		return true
	})
	return head
}

// PutAll stores all entries, splitting the work into chunks that are
// processed in parallel. The table is grown once up front.
//
// No entry is stored when one has a nil key or value. Cancellation of ctx is
// observed between batches; entries stored before it remain. A refused
// pre-grow does not stop the inserts and is returned after they complete.
func (m *ConcurrentTable[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	if len(entries) == 0 {
		return nil
	}
	if m.table.Load() == nil {
		m.slowInit()
	}

	type kv struct {
		k K
		v V
	}
	items := make([]kv, 0, len(entries))
	for k, v := range entries {
		if m.ops.nilKey(k) {
			return ErrNilKey
		}
		if m.isNilValue(&v) {
			return fmt.Errorf("%w: key %v", ErrNilValue, k)
		}
		items = append(items, kv{k, v})
	}

	growErr := m.Grow(len(items))

	cpus := runtime.GOMAXPROCS(0)
	chunkSz, chunks := calcParallelism(len(items), minPutAllChunk, cpus)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cpus)
	for c := range chunks {
		start := c * chunkSz
		end := min(start+chunkSz, len(items))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if _, _, err := m.Put(items[i].k, items[i].v); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return growErr
}

// Range calls yield for each entry until it returns false.
// It is weakly consistent and never blocks writers.
func (m *ConcurrentTable[K, V]) Range(yield func(key K, value V) bool) {
	table := m.table.Load()
	if table == nil {
		return
	}
	for i := range table.buckets {
		head := table.buckets[i].head.Load()
		if head != nil && head.tree != nil {
			if !head.tree.each(func(n *treeNode[K, V]) bool {
				return yield(n.key, n.value)
			}) {
				return
			}
			continue
		}
		for n := head; n != nil; n = n.next.Load() {
			if !yield(n.key, n.value) {
				return
			}
		}
	}
}

// All returns a weakly consistent iterator over key-value pairs.
func (m *ConcurrentTable[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys returns a weakly consistent iterator over keys.
func (m *ConcurrentTable[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.Range(func(k K, _ V) bool {
			return yield(k)
		})
	}
}

// ToMap collects the entries into a map[K]V.
func (m *ConcurrentTable[K, V]) ToMap() map[K]V {
	a := make(map[K]V, m.Len())
	m.Range(func(k K, v V) bool {
		a[k] = v
		return true
	})
	return a
}

// Len returns the number of entries. This is an O(stripes) operation.
func (m *ConcurrentTable[K, V]) Len() int {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return table.sumSize()
}

// Capacity returns the number of buckets of the current bucket array.
func (m *ConcurrentTable[K, V]) Capacity() int {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return len(table.buckets)
}

// Err returns the last resize failure, or nil once a later resize succeeds.
func (m *ConcurrentTable[K, V]) Err() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns a snapshot of the bucket layout. The walk is not atomic.
func (m *ConcurrentTable[K, V]) Stats() Stats {
	table := m.table.Load()
	if table == nil {
		return Stats{}
	}
	s := Stats{
		Buckets:      len(table.buckets),
		Counter:      table.sumSize(),
		CounterLen:   len(table.size),
		Threshold:    thresholdFor(len(table.buckets), m.loadFactor),
		TotalGrowths: m.growths.Load(),
	}
	for i := range table.buckets {
		head := table.buckets[i].head.Load()
		if head != nil && head.tree != nil {
			s.addTree(head.tree.Len())
			continue
		}
		n := 0
		for c := head; c != nil; c = c.next.Load() {
			n++
		}
		s.addChain(n)
	}
	return s
}

func (b *cbucket[K, V]) lock() {
	bitLockUint64(&b.meta, lockBit)
}

func (b *cbucket[K, V]) unlock() {
	bitUnlockUint64(&b.meta, lockBit)
}
