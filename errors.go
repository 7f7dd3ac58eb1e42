package hashtable

import "errors"

var (
	// ErrConcurrentModification is reported by a fail-fast iterator when the
	// table was structurally modified after the iterator was created.
	ErrConcurrentModification = errors.New("hashtable: concurrent modification")

	// ErrAllocationFailure is returned when a resize could not reserve memory
	// for the new bucket array. The table keeps its old bucket array and
	// stays correct.
	ErrAllocationFailure = errors.New("hashtable: allocation failure")

	// ErrNilKey is returned by ConcurrentTable when the key is nil.
	ErrNilKey = errors.New("hashtable: nil key")

	// ErrNilValue is returned by ConcurrentTable when the value is nil.
	ErrNilValue = errors.New("hashtable: nil value")
)
