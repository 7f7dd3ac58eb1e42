package hashtable

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/hashtable/internal/opt"
)

// Grow makes room for n more entries, so that the next n inserts of new keys
// do not resize. It returns an error wrapping ErrAllocationFailure when the
// memory budget refuses the new bucket array.
func (m *ConcurrentTable[K, V]) Grow(n int) error {
	if n <= 0 {
		return nil
	}
	if m.table.Load() == nil {
		m.slowInit()
	}
	for {
		table := m.table.Load()
		tableLen := len(table.buckets)
		want := table.sumSize() + n
		newLen := tableLen
		for newLen < maxCapacity && thresholdFor(newLen, m.loadFactor) < want {
			newLen <<= 1
		}
		if newLen == tableLen {
			return nil
		}

		// Help finishing rebuild if needed
		if rs := m.rs.Load(); rs != nil {
			switch rs.hint {
			case growHint:
				if rs.table.Load() != nil /*skip init*/ &&
					rs.newTable.Load() != nil /*skip newTable is nil*/ {
					m.helpCopyAndWait(rs)
				} else {
					runtime.Gosched()
				}
			default:
				rs.wg.Wait()
			}
			continue
		}

		if err := m.tryResize(table, newLen); err != nil {
			return err
		}
	}
}

// Clear removes all entries and restores the initial capacity. Writers
// wait for it; readers see either the old or the new bucket array.
func (m *ConcurrentTable[K, V]) Clear() {
	if m.table.Load() == nil {
		return
	}
	m.rebuild(blockWritersHint, func() {
		cpus := runtime.GOMAXPROCS(0)
		m.table.Store(newCTable[K, V](m.minLen, cpus))
		if m.budget != nil {
			m.budget.Release(m.reserved.Swap(0))
		}
	})
}

// Close releases the bucket array's memory budget reservation and clears
// the table. The table remains usable.
func (m *ConcurrentTable[K, V]) Close() {
	m.Clear()
}

// maybeGrow starts a doubling when the size passed the threshold, or
// unconditionally when force is set (a chain too long in a table too small
// to treeify).
func (m *ConcurrentTable[K, V]) maybeGrow(table *ctable[K, V], force bool) {
	if m.rs.Load() != nil {
		return
	}
	tableLen := len(table.buckets)
	if tableLen >= maxCapacity {
		return
	}
	if !force && table.sumSize() <= thresholdFor(tableLen, m.loadFactor) {
		return
	}
	_ = m.tryResize(table, tableLen<<1)
}

func (m *ConcurrentTable[K, V]) beginRebuild(hint rebuildHint) (*resizeState[K, V], bool) {
	rs := new(resizeState[K, V])
	rs.hint = hint
	rs.wg.Add(1)
	if !m.rs.CompareAndSwap(nil, rs) {
		return nil, false
	}
	return rs, true
}

func (m *ConcurrentTable[K, V]) endRebuild(rs *resizeState[K, V]) {
	m.rs.Store(nil)
	rs.wg.Done()
}

// rebuild runs fn exclusively against other rebuilds. Only
// blockWritersHint is supported: concurrent readers are allowed.
func (m *ConcurrentTable[K, V]) rebuild(hint rebuildHint, fn func()) {
	for {
		// Help finishing rebuild if needed
		if rs := m.rs.Load(); rs != nil {
			switch rs.hint {
			case growHint:
				if rs.table.Load() != nil /*skip init*/ &&
					rs.newTable.Load() != nil /*skip newTable is nil*/ {
					m.helpCopyAndWait(rs)
				} else {
					runtime.Gosched()
					continue
				}
			default:
				rs.wg.Wait()
			}
		}

		if rs, ok := m.beginRebuild(hint); ok {
			fn()
			m.endRebuild(rs)
			return
		}
	}
}

// tryResize grows observed to newLen buckets, unless another goroutine owns
// a rebuild or observed is no longer the current table. Only the owner can
// see the memory budget refuse; it records and returns the error, and the
// table stays at its old size.
//
//go:noinline
func (m *ConcurrentTable[K, V]) tryResize(observed *ctable[K, V], newLen int) error {
	rs, ok := m.beginRebuild(growHint)
	if !ok {
		return nil
	}

	table := m.table.Load()
	tableLen := len(table.buckets)
	if table != observed || newLen <= tableLen {
		m.endRebuild(rs)
		return nil
	}

	bytes := int64(newLen) * int64(unsafe.Sizeof(cbucket[K, V]{}))
	if m.budget != nil && !m.budget.TryReserve(bytes) {
		err := fmt.Errorf("%w: %d buckets (%d bytes) refused by memory budget",
			ErrAllocationFailure, newLen, bytes)
		m.lastErr.Store(&err)
		m.log.LogResizeRefused(tableLen, newLen, err)
		m.endRebuild(rs)
		return err
	}
	m.growths.Add(1)

	cpus := runtime.GOMAXPROCS(0)
	if cpus > 1 && bytes >= asyncThreshold {
		// The big table, use goroutines to create new table and copy entries
		go m.finalizeResize(table, newLen, bytes, rs, cpus)
	} else {
		m.finalizeResize(table, newLen, bytes, rs, cpus)
	}
	return nil
}

func (m *ConcurrentTable[K, V]) finalizeResize(
	table *ctable[K, V],
	newLen int,
	bytes int64,
	rs *resizeState[K, V],
	cpus int,
) {
	rs.bytes = bytes
	rs.table.Store(table)
	newTable := newCTable[K, V](newLen, cpus)
	rs.newTable.Store(newTable)
	m.helpCopyAndWait(rs)
}

//go:noinline
func (m *ConcurrentTable[K, V]) helpCopyAndWait(rs *resizeState[K, V]) {
	table := rs.table.Load()
	tableLen := len(table.buckets)
	chunks := int32(table.chunks)
	chunkSz := table.chunkSz
	newTable := rs.newTable.Load()
	for {
		process := atomic.AddInt32(&rs.process, 1)
		if process > chunks {
			// Wait copying completed
			rs.wg.Wait()
			return
		}
		process--
		start := int(process) * chunkSz
		end := min(start+chunkSz, tableLen)
		m.copyBucket(table, start, end, newTable)
		if atomic.AddInt32(&rs.completed, 1) == chunks {
			// Copying completed
			m.table.Store(newTable)
			if m.budget != nil {
				m.budget.Release(m.reserved.Swap(rs.bytes))
			}
			m.lastErr.Store(nil)
			m.log.LogResize(tableLen, len(newTable.buckets), newTable.sumSize())
			m.endRebuild(rs)
			return
		}
	}
}

// copyBucket transfers the buckets [start, end) of table into newTable.
//
// The old buckets are left untouched so that concurrent readers of the old
// table keep a consistent view; the new table gets fresh nodes. Since the
// new length is a larger power of two, every new bucket receives nodes from
// exactly one old bucket, so the destinations need no locking.
func (m *ConcurrentTable[K, V]) copyBucket(
	table *ctable[K, V],
	start, end int,
	newTable *ctable[K, V],
) {
	copied := 0
	for i := start; i < end; i++ {
		srcBucket := &table.buckets[i]
		srcBucket.lock()
		head := srcBucket.head.Load()
		if head != nil && head.tree != nil {
			copied += m.copyTree(head, newTable)
		} else {
			for n := head; n != nil; n = n.next.Load() {
				appendNode(&newTable.buckets[int(n.hash)&newTable.mask],
					&cnode[K, V]{hash: n.hash, key: n.key, value: n.value})
				copied++
			}
		}
		srcBucket.unlock()
	}
	if copied != 0 {
		// copyBucket is used during multithreaded growth, requiring a
		// thread-safe addSize.
		newTable.addSize(start, copied)
	}
}

// copyTree distributes a tree bucket over newTable. A part with
// untreeifyThreshold nodes or fewer becomes a chain. When all nodes stay
// together the immutable snapshot is shared.
func (m *ConcurrentTable[K, V]) copyTree(head *cnode[K, V], newTable *ctable[K, V]) int {
	tr := head.tree
	groups := make(map[int][]*treeNode[K, V], 2)
	tr.each(func(n *treeNode[K, V]) bool {
		idx := int(n.hash) & newTable.mask
		groups[idx] = append(groups[idx], n)
		return true
	})
	for idx, nodes := range groups {
		dest := &newTable.buckets[idx]
		switch {
		case len(groups) == 1 && len(nodes) > untreeifyThreshold:
			dest.head.Store(head)
		case len(nodes) > untreeifyThreshold:
			nt := newTree[K, V](len(nodes))
			for _, n := range nodes {
				nt.insert(&m.ops, n.hash, n.key, n.value)
			}
			dest.head.Store(&cnode[K, V]{tree: nt})
		default:
			for _, n := range nodes {
				appendNode(dest, &cnode[K, V]{hash: n.hash, key: n.key, value: n.value})
			}
		}
	}
	return tr.Len()
}

// appendNode appends n at the tail of an unpublished bucket.
func appendNode[K comparable, V any](b *cbucket[K, V], n *cnode[K, V]) {
	tail := b.head.Load()
	if tail == nil {
		b.head.Store(n)
		return
	}
	for next := tail.next.Load(); next != nil; next = tail.next.Load() {
		tail = next
	}
	tail.next.Store(n)
}

func newCTable[K comparable, V any](tableLen, cpus int) *ctable[K, V] {
	overCpus := cpus * resizeOverPartition
	chunkSz, chunks := calcParallelism(tableLen, minBucketsPerCPU, overCpus)
	sizeLen := calcSizeLen(tableLen, cpus)
	return &ctable[K, V]{
		buckets:  make([]cbucket[K, V], tableLen),
		mask:     tableLen - 1,
		size:     make([]opt.CounterStripe_, sizeLen),
		sizeMask: sizeLen - 1,
		chunks:   chunks,
		chunkSz:  chunkSz,
	}
}

// addSize atomically adds delta to the size counter for the given bucket index.
func (t *ctable[K, V]) addSize(idx, delta int) {
	atomic.AddUintptr(&t.size[t.sizeMask&idx].C, uintptr(delta))
}

// sumSize calculates the total number of entries in the table
// by summing all counter-stripes.
func (t *ctable[K, V]) sumSize() int {
	var sum uintptr
	for i := range t.size {
		sum += atomic.LoadUintptr(&t.size[i].C)
	}
	return int(sum)
}
