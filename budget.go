package hashtable

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// MemoryBudget reserves memory for bucket arrays.
//
// A table reserves the size of a new bucket array before allocating it
// and releases the old one after the swap. A refused reservation aborts the
// resize with ErrAllocationFailure; the table stays at its old size.
// Implementations must be safe for concurrent use.
type MemoryBudget interface {
	// TryReserve attempts to reserve bytes without blocking.
	TryReserve(bytes int64) bool
	// Release returns bytes previously reserved.
	Release(bytes int64)
}

// Budget is a MemoryBudget with a hard limit, shared by any number of tables.
type Budget struct {
	sem   *semaphore.Weighted
	limit int64
	used  atomic.Int64
}

// NewMemoryBudget creates a budget that allows at most limit bytes to be
// reserved at once. If limit is zero or negative, usage is only tracked.
func NewMemoryBudget(limit int64) *Budget {
	b := &Budget{limit: limit}
	if limit > 0 {
		b.sem = semaphore.NewWeighted(limit)
	}
	return b
}

// TryReserve attempts to reserve memory without blocking.
// Returns true if reserved, false if the limit would be exceeded.
func (b *Budget) TryReserve(bytes int64) bool {
	if b == nil || bytes <= 0 {
		return true
	}
	if b.sem != nil && !b.sem.TryAcquire(bytes) {
		return false
	}
	b.used.Add(bytes)
	return true
}

// Release releases reserved memory.
func (b *Budget) Release(bytes int64) {
	if b == nil || bytes <= 0 {
		return
	}
	if b.sem != nil {
		b.sem.Release(bytes)
	}
	b.used.Add(-bytes)
}

// Used returns the number of bytes currently reserved.
func (b *Budget) Used() int64 {
	return b.used.Load()
}

// Limit returns the configured limit, 0 when unlimited.
func (b *Budget) Limit() int64 {
	return max(b.limit, 0)
}
