package hashtable

import "iter"

// Set is a set of keys backed by a Table. Like Table it is not safe for
// concurrent use, and the zero value is ready to use.
type Set[K comparable] struct {
	t Table[K, struct{}]
}

// NewSet creates a Set with the given table options.
func NewSet[K comparable](options ...func(*Config)) *Set[K] {
	s := &Set[K]{}
	cfg := parseOptions(options)
	s.t.init(&cfg)
	return s
}

// Add inserts k and reports whether it was absent.
func (s *Set[K]) Add(k K) bool {
	_, replaced := s.t.Put(k, struct{}{})
	return !replaced
}

// Remove deletes k and reports whether it was present.
func (s *Set[K]) Remove(k K) bool {
	_, ok := s.t.Remove(k)
	return ok
}

// Contains reports whether k is in the set.
func (s *Set[K]) Contains(k K) bool {
	return s.t.ContainsKey(k)
}

// Len returns the number of keys.
func (s *Set[K]) Len() int {
	return s.t.Len()
}

// Clear removes all keys.
func (s *Set[K]) Clear() {
	s.t.Clear()
}

// All returns a fail-fast iterator over the keys.
func (s *Set[K]) All() iter.Seq[K] {
	return s.t.Keys()
}

// Err returns the last resize failure of the underlying table.
func (s *Set[K]) Err() error {
	return s.t.Err()
}
