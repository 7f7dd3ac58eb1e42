package hashtable

import (
	"fmt"
	"hash/maphash"
	"reflect"
)

const (
	// defaultCapacity is the bucket count a table starts with.
	defaultCapacity = 16
	// defaultLoadFactor: resize table when size > capacity*loadFactor
	defaultLoadFactor = 0.75
	// maxCapacity is the largest bucket count a table will grow to.
	maxCapacity = 1 << 30

	// treeifyThreshold: a chain longer than this becomes a tree.
	treeifyThreshold = 8
	// untreeifyThreshold: a tree with this many nodes or fewer becomes a chain.
	untreeifyThreshold = 6
	// minTreeifyCapacity: below this capacity a long chain resizes the table
	// instead of becoming a tree.
	minTreeifyCapacity = 64
)

// Hasher is implemented by key types that supply their own hash.
// Keys that are equal must return the same hash.
type Hasher interface {
	Hash() uint64
}

// Equaler is implemented by key types that define their own equality.
// It must be consistent with Hash when the type also implements Hasher.
type Equaler[K any] interface {
	Equal(other K) bool
}

// Comparer is implemented by key types with a total order. Tree buckets use
// it to order keys whose hashes collide.
type Comparer[K any] interface {
	Compare(other K) int
}

// keyOps bundles the per-table key capabilities, resolved once at init.
type keyOps[K comparable] struct {
	hash    func(K) uint64
	equal   func(a, b K) bool // nil: use ==
	compare func(a, b K) int  // nil: no natural order
	isNil   func(K) bool      // nil: K is not nillable
}

// newKeyOps resolves the key capabilities.
//
// Priority (highest to lowest):
//   - Explicit With* options (WithKeyHasher, WithKeyEqual, WithKeyCompare)
//   - Interface implementations (Hasher, Equaler, Comparer)
//   - Built-in maphash.Comparable with a per-table seed, and ==
func newKeyOps[K comparable](cfg *Config) keyOps[K] {
	var ops keyOps[K]
	var zero K

	switch f := cfg.keyHash.(type) {
	case nil:
		if _, ok := any(zero).(Hasher); ok {
			ops.hash = func(k K) uint64 { return any(k).(Hasher).Hash() }
		} else {
			seed := maphash.MakeSeed()
			ops.hash = func(k K) uint64 { return maphash.Comparable(seed, k) }
		}
	case func(K) uint64:
		ops.hash = f
	default:
		panic(fmt.Sprintf("hashtable: WithKeyHasher type %T does not match key type %v",
			cfg.keyHash, reflect.TypeFor[K]()))
	}

	switch f := cfg.keyEqual.(type) {
	case nil:
		if _, ok := any(zero).(Equaler[K]); ok {
			ops.equal = func(a, b K) bool { return any(a).(Equaler[K]).Equal(b) }
		}
	case func(a, b K) bool:
		ops.equal = f
	default:
		panic(fmt.Sprintf("hashtable: WithKeyEqual type %T does not match key type %v",
			cfg.keyEqual, reflect.TypeFor[K]()))
	}

	switch f := cfg.keyCompare.(type) {
	case nil:
		if _, ok := any(zero).(Comparer[K]); ok {
			ops.compare = func(a, b K) int { return any(a).(Comparer[K]).Compare(b) }
		}
	case func(a, b K) int:
		ops.compare = f
	default:
		panic(fmt.Sprintf("hashtable: WithKeyCompare type %T does not match key type %v",
			cfg.keyCompare, reflect.TypeFor[K]()))
	}

	ops.isNil = nilCheck[K]()
	return ops
}

// nilCheck returns a predicate reporting nil keys, or nil when K has no nil
// value.
func nilCheck[K comparable]() func(K) bool {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.Interface, reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		var zero K
		return func(k K) bool { return k == zero }
	default:
		return nil
	}
}

func (o *keyOps[K]) nilKey(k K) bool {
	return o.isNil != nil && o.isNil(k)
}

// hashOf returns the spread hash of k. A nil key hashes to 0.
func (o *keyOps[K]) hashOf(k K) uint32 {
	if o.nilKey(k) {
		return 0
	}
	return spread(o.hash(k))
}

// eq reports whether two keys are equal. Nil keys never reach a user
// supplied Equal method.
func (o *keyOps[K]) eq(a, b K) bool {
	if o.equal == nil || o.nilKey(a) || o.nilKey(b) {
		return a == b
	}
	return o.equal(a, b)
}

// cmp orders two keys whose hashes collide. 0 means no order is known.
func (o *keyOps[K]) cmp(a, b K) int {
	if o.compare == nil || o.nilKey(a) || o.nilKey(b) {
		return 0
	}
	return o.compare(a, b)
}

// spread folds a 64-bit hash to 32 bits and then xors the high half into the
// low half, so that small tables still see the upper bits.
//
//go:nosplit
func spread(h uint64) uint32 {
	x := uint32(h) ^ uint32(h>>32)
	return x ^ x>>16
}

// indexFor maps a spread hash to a bucket of a table with n buckets.
// n must be a power of two.
//
//go:nosplit
func indexFor(h uint32, n int) int {
	return int(h) & (n - 1)
}

// tableSizeFor rounds c up to a power of two within [1, maxCapacity].
func tableSizeFor(c int) int {
	if c <= 1 {
		return 1
	}
	if c >= maxCapacity {
		return maxCapacity
	}
	return nextPowOf2(c)
}
