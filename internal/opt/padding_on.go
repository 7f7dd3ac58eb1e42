//go:build (!(amd64 || 386 || arm || mips || mipsle || wasm) && !hashtable_disable_padding) || hashtable_enable_padding

package opt

import (
	"unsafe"
)

// CounterStripe_ is one stripe of a table's size counter, padded to a full
// cache line so that writers on different stripes do not share a line.
//
// Enabled for arm64, s390x, ppc64, ppc64le, riscv64, loong64, mips64,
// mips64le, or when forced with -tags=hashtable_enable_padding.
type CounterStripe_ struct {
	C uintptr // accessed atomically
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C uintptr
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
