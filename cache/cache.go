package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/hashtable"
)

// ErrInvalidCapacity is returned by New for a capacity below 1.
var ErrInvalidCapacity = errors.New("cache: capacity must be positive")

// Cache is a bounded, goroutine-safe LRU cache. Once it holds more than
// capacity entries the least recently used one is evicted. Get, Set and
// GetOrLoad count as use.
//
// A Cache is an ordinary value with its own lifetime: create one per scope
// that needs it and let it go with that scope.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	index    *hashtable.Table[K, *list.Element]
	order    *list.List // front is most recently used
	onEvict  func(K, V)
	log      *hashtable.Logger

	loads loadGroup[K, V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type item[K comparable, V any] struct {
	key   K
	value V
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers fn to be called for every entry evicted to make
// room or dropped by Purge. It runs after the cache lock is released and
// may call back into the cache.
func WithOnEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// WithLogger sets the logger for eviction events.
func WithLogger[K comparable, V any](l *hashtable.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTableOptions passes options to the index table, e.g. a custom key
// hasher.
func WithTableOptions[K comparable, V any](opts ...func(*hashtable.Config)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.index = hashtable.New[K, *list.Element](opts...)
	}
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) (*Cache[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	c := &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		log:      hashtable.NoopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.index == nil {
		c.index = hashtable.New[K, *list.Element](hashtable.WithCapacity(capacity))
	}
	return c, nil
}

// Get returns the cached value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index.Get(key); ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*item[K, V]).value, true
	}
	c.misses.Add(1)
	return value, false
}

// Peek returns the cached value for key without marking it used or
// counting a hit or miss.
func (c *Cache[K, V]) Peek(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index.Get(key); ok {
		return el.Value.(*item[K, V]).value, true
	}
	return value, false
}

// Set stores value for key and marks it recently used. It reports whether
// an entry was evicted to make room.
func (c *Cache[K, V]) Set(key K, value V) (evicted bool) {
	c.mu.Lock()
	if el, ok := c.index.Get(key); ok {
		c.order.MoveToFront(el)
		el.Value.(*item[K, V]).value = value
		c.mu.Unlock()
		return false
	}

	c.index.Put(key, c.order.PushFront(&item[K, V]{key, value}))
	var dropped []*item[K, V]
	for c.order.Len() > c.capacity {
		dropped = append(dropped, c.removeElement(c.order.Back()))
	}
	c.mu.Unlock()

	c.evicted(dropped, true)
	return len(dropped) > 0
}

// Delete removes key and reports whether it was present. The eviction
// callback is not called.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index.Get(key)
	if ok {
		c.removeElement(el)
	}
	return ok
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*item[K, V]).key)
	}
	return keys
}

// Purge drops every entry, calling the eviction callback for each. Loads in
// flight are not canceled and store their results when they finish.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	dropped := make([]*item[K, V], 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		dropped = append(dropped, el.Value.(*item[K, V]))
	}
	c.order.Init()
	c.index.Clear()
	c.mu.Unlock()

	c.evicted(dropped, false)
}

// GetOrLoad returns the cached value for key, or calls loader to produce
// and cache it. Concurrent calls for the same key share a single loader
// call; callers that joined it report shared as true.
//
// loader runs in its own goroutine with a context detached from any single
// caller's cancellation, since its result may serve several callers. A
// caller whose ctx ends stops waiting and gets ctx.Err(); the load still
// completes and is cached. Loader errors are returned to every waiting
// caller and nothing is cached.
func (c *Cache[K, V]) GetOrLoad(
	ctx context.Context,
	key K,
	loader func(ctx context.Context, key K) (V, error),
) (value V, shared bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, false, nil
	}
	if err := ctx.Err(); err != nil {
		return value, false, err
	}

	lctx := context.WithoutCancel(ctx)
	ch := c.loads.doChan(key, func() (V, error) {
		v, err := loader(lctx, key)
		if err == nil {
			c.Set(key, v)
		}
		return v, err
	})
	select {
	case res := <-ch:
		return res.val, res.shared, res.err
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
}

// Stats returns the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
		Capacity:  c.capacity,
		Loading:   c.loads.inFlight(),
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
	Capacity  int
	// Loading is the number of keys with a loader call in flight.
	Loading int
}

// HitRatio returns hits/(hits+misses), 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *Cache[K, V]) removeElement(el *list.Element) *item[K, V] {
	c.order.Remove(el)
	it := el.Value.(*item[K, V])
	c.index.Remove(it.key)
	return it
}

// evicted reports dropped entries, counting them as evictions when they
// made room.
func (c *Cache[K, V]) evicted(dropped []*item[K, V], counted bool) {
	for _, it := range dropped {
		if counted {
			c.evictions.Add(1)
			c.log.Debug("cache eviction", "key", it.key)
		}
		if c.onEvict != nil {
			c.onEvict(it.key, it.value)
		}
	}
}
