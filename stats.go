package hashtable

import (
	"fmt"
	"strings"
)

// Stats is a snapshot of a table's bucket layout, as returned by Stats().
//
// On a ConcurrentTable the walk is not atomic, so under concurrent writers
// Size and the per-bucket figures may disagree with Counter.
type Stats struct {
	// Buckets is the capacity: the length of the bucket array.
	Buckets int
	// EmptyBuckets is the number of buckets that hold no entries.
	EmptyBuckets int
	// TreeBuckets is the number of buckets stored as red-black trees.
	TreeBuckets int
	// MaxChain is the length of the longest chain bucket.
	MaxChain int
	// MaxTree is the node count of the largest tree bucket.
	MaxTree int
	// Size is the number of entries found by walking the buckets.
	Size int
	// Counter is the size according to the table's counter.
	Counter int
	// CounterLen is the number of size counter stripes, 1 for Table.
	CounterLen int
	// Threshold is the size above which the table grows.
	Threshold int
	// TotalGrowths is the number of times the bucket array was replaced by
	// a larger one.
	TotalGrowths uint32
}

// ToString returns string representation of table stats.
func (s *Stats) ToString() string {
	var sb strings.Builder
	sb.WriteString("Stats{\n")
	sb.WriteString(fmt.Sprintf("Buckets:      %d\n", s.Buckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets: %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("TreeBuckets:  %d\n", s.TreeBuckets))
	sb.WriteString(fmt.Sprintf("MaxChain:     %d\n", s.MaxChain))
	sb.WriteString(fmt.Sprintf("MaxTree:      %d\n", s.MaxTree))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("Threshold:    %d\n", s.Threshold))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString("}\n")
	return sb.String()
}

// addChain records a chain bucket of n entries.
func (s *Stats) addChain(n int) {
	if n == 0 {
		s.EmptyBuckets++
	}
	s.MaxChain = max(s.MaxChain, n)
	s.Size += n
}

// addTree records a tree bucket of n entries.
func (s *Stats) addTree(n int) {
	s.TreeBuckets++
	s.MaxTree = max(s.MaxTree, n)
	s.Size += n
}
