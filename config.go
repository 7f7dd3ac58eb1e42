package hashtable

import (
	"fmt"
	"math"
)

// ============================================================================
// Configuration
// ============================================================================

// Config defines configurable options for Table, ConcurrentTable and Set
// initialization.
type Config struct {
	// capacity is the initial bucket count, rounded up to a power of two.
	// If zero or negative, defaultCapacity is used.
	capacity int

	// loadFactor controls when the table grows: a resize happens once
	// size > capacity*loadFactor. Zero means defaultLoadFactor.
	loadFactor float64

	// keyHash, keyEqual and keyCompare hold typed functions
	// (func(K) uint64, func(a, b K) bool, func(a, b K) int), checked against
	// the key type when the table is initialized.
	keyHash    any
	keyEqual   any
	keyCompare any

	// logger receives resize and treeify events. Nil means no logging.
	logger *Logger

	// budget, if set, must approve every bucket array allocation.
	budget MemoryBudget
}

// WithCapacity configures the initial number of buckets. The value is
// rounded up to the next power of two. If c is zero or negative, the value
// is ignored.
func WithCapacity(c int) func(*Config) {
	return func(cfg *Config) {
		cfg.capacity = c
	}
}

// WithLoadFactor sets the load factor. It panics if lf is not a positive
// finite number.
func WithLoadFactor(lf float64) func(*Config) {
	if lf <= 0 || math.IsNaN(lf) || math.IsInf(lf, 0) {
		panic(fmt.Sprintf("hashtable: illegal load factor: %v", lf))
	}
	return func(cfg *Config) {
		cfg.loadFactor = lf
	}
}

// WithKeyHasher sets a custom key hashing function.
// Keys that are equal must hash to the same value. Pass nil to use the
// Hasher interface or the built-in hasher.
//
// Usage:
//
//	seed := maphash.MakeSeed()
//	t := New[string, int](WithKeyHasher(func(s string) uint64 {
//		return maphash.String(seed, strings.ToLower(s))
//	}))
func WithKeyHasher[K comparable](keyHash func(key K) uint64) func(*Config) {
	return func(cfg *Config) {
		if keyHash != nil {
			cfg.keyHash = keyHash
		}
	}
}

// WithKeyEqual sets a custom key equality function, used instead of ==.
// It must be consistent with the key hash.
func WithKeyEqual[K comparable](keyEqual func(a, b K) bool) func(*Config) {
	return func(cfg *Config) {
		if keyEqual != nil {
			cfg.keyEqual = keyEqual
		}
	}
}

// WithKeyCompare sets a total order on keys. Tree buckets use it to order
// keys with identical hashes, which keeps lookups logarithmic even when all
// keys collide.
func WithKeyCompare[K comparable](keyCompare func(a, b K) int) func(*Config) {
	return func(cfg *Config) {
		if keyCompare != nil {
			cfg.keyCompare = keyCompare
		}
	}
}

// WithLogger sets the logger for resize and treeify events.
func WithLogger(l *Logger) func(*Config) {
	return func(cfg *Config) {
		cfg.logger = l
	}
}

// WithMemoryBudget makes every bucket array allocation reserve its size
// from b first.
func WithMemoryBudget(b MemoryBudget) func(*Config) {
	return func(cfg *Config) {
		cfg.budget = b
	}
}

func parseOptions(options []func(*Config)) Config {
	var cfg Config
	for _, o := range options {
		o(&cfg)
	}
	return cfg
}

// tableLen returns the initial bucket count.
func (cfg *Config) tableLen() int {
	if cfg.capacity <= 0 {
		return defaultCapacity
	}
	return tableSizeFor(cfg.capacity)
}

func (cfg *Config) lf() float64 {
	if cfg.loadFactor <= 0 {
		return defaultLoadFactor
	}
	return cfg.loadFactor
}

func (cfg *Config) log() *Logger {
	if cfg.logger == nil {
		return noopLogger
	}
	return cfg.logger
}

// thresholdFor returns capacity*loadFactor, saturated for huge tables.
func thresholdFor(capacity int, loadFactor float64) int {
	if capacity >= maxCapacity {
		return maxInt
	}
	t := float64(capacity) * loadFactor
	if t >= float64(maxInt) {
		return maxInt
	}
	return int(t)
}
