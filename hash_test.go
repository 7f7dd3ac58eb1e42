package hashtable

import (
	"testing"
	"unsafe"
)

func TestSpread(t *testing.T) {
	if got := spread(0); got != 0 {
		t.Fatalf("spread(0)=%d", got)
	}
	// High bits reach the low bits a small table indexes with.
	if indexFor(spread(1<<33), 16) != 2 || indexFor(spread(1<<17), 16) != 2 {
		t.Fatal("upper bits are not mixed into the index")
	}
	for h := range uint64(1 << 12) {
		if spread(h) != uint32(h) {
			t.Fatalf("spread(%d)=%d, small hashes should be unchanged", h, spread(h))
		}
	}
}

func TestIndexFor(t *testing.T) {
	for _, c := range []struct {
		h    uint32
		n    int
		want int
	}{
		{0, 16, 0}, {15, 16, 15}, {16, 16, 0}, {17, 32, 17}, {0xffffffff, 64, 63},
	} {
		if got := indexFor(c.h, c.n); got != c.want {
			t.Fatalf("indexFor(%d, %d)=%d want=%d", c.h, c.n, got, c.want)
		}
	}
}

func TestTableSizeFor(t *testing.T) {
	for _, c := range []struct{ in, want int }{
		{-1, 1}, {0, 1}, {1, 1}, {2, 2}, {5, 8}, {1 << 29, 1 << 29},
		{1<<29 + 1, maxCapacity}, {maxCapacity, maxCapacity},
	} {
		if got := tableSizeFor(c.in); got != c.want {
			t.Fatalf("tableSizeFor(%d)=%d want=%d", c.in, got, c.want)
		}
	}
	if intSize == 64 {
		shift := 40
		big := 1 << shift
		if got := tableSizeFor(big); got != maxCapacity {
			t.Fatalf("tableSizeFor(1<<40)=%d", got)
		}
	}
}

func TestThresholdFor(t *testing.T) {
	if got := thresholdFor(16, 0.75); got != 12 {
		t.Fatalf("thresholdFor(16, 0.75)=%d", got)
	}
	if got := thresholdFor(maxCapacity, 0.75); got != maxInt {
		t.Fatalf("threshold at max capacity is %d", got)
	}
}

func TestKeyOps_Defaults(t *testing.T) {
	var cfg Config
	ops := newKeyOps[string](&cfg)
	if ops.hashOf("a") != ops.hashOf("a") {
		t.Fatal("hash is not deterministic")
	}
	if !ops.eq("a", "a") || ops.eq("a", "b") {
		t.Fatal("unexpected equality")
	}
	if ops.cmp("a", "b") != 0 {
		t.Fatal("strings have no order unless configured")
	}
	if ops.isNil != nil {
		t.Fatal("strings cannot be nil")
	}
}

func TestKeyOps_NilKeys(t *testing.T) {
	var cfg Config
	pops := newKeyOps[*int](&cfg)
	if !pops.nilKey(nil) || pops.nilKey(new(int)) {
		t.Fatal("unexpected nil pointer detection")
	}
	if pops.hashOf(nil) != 0 {
		t.Fatal("nil key must hash to 0")
	}
	iops := newKeyOps[any](&cfg)
	if !iops.nilKey(nil) || iops.nilKey(0) {
		t.Fatal("unexpected nil interface detection")
	}
	uops := newKeyOps[unsafe.Pointer](&cfg)
	if !uops.nilKey(nil) {
		t.Fatal("unexpected nil unsafe.Pointer detection")
	}
}

type version struct{ major, minor int }

func (v version) Compare(o version) int {
	if v.major != o.major {
		return v.major - o.major
	}
	return v.minor - o.minor
}

func TestKeyOps_Interfaces(t *testing.T) {
	var cfg Config
	ops := newKeyOps[point](&cfg)
	if ops.hash(point{1, 2}) != 33 {
		t.Fatalf("Hasher not used: %d", ops.hash(point{1, 2}))
	}
	cops := newKeyOps[caseless](&cfg)
	if !cops.eq("Go", "GO") {
		t.Fatal("Equaler not used")
	}
	vops := newKeyOps[version](&cfg)
	if vops.cmp(version{1, 2}, version{1, 3}) >= 0 {
		t.Fatal("Comparer not used")
	}
}

func TestKeyOps_OptionsOverrideInterfaces(t *testing.T) {
	cfg := parseOptions([]func(*Config){
		WithKeyHasher(func(point) uint64 { return 7 }),
		WithKeyCompare(func(a, b point) int { return b.x - a.x }),
	})
	ops := newKeyOps[point](&cfg)
	if ops.hash(point{1, 2}) != 7 {
		t.Fatal("WithKeyHasher did not override Hasher")
	}
	if ops.cmp(point{1, 0}, point{2, 0}) <= 0 {
		t.Fatal("WithKeyCompare not used")
	}
}

func TestKeyOps_MismatchedOptionsPanic(t *testing.T) {
	for name, opt := range map[string]func(*Config){
		"hasher":  WithKeyHasher(func(string) uint64 { return 0 }),
		"equal":   WithKeyEqual(func(a, b string) bool { return a == b }),
		"compare": WithKeyCompare(func(a, b string) int { return 0 }),
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected a panic")
				}
			}()
			cfg := parseOptions([]func(*Config){opt})
			newKeyOps[int](&cfg)
		})
	}
}
