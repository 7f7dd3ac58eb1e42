package hashtable

import "sync/atomic"

// lockBit is the writer lock bit of a concurrent bucket's meta word.
const lockBit = uint64(1) << 63

// bitLockUint64 acquires a bit-lock on the given address using the specified
// bit mask. It assumes the lock is held if (value & mask) != 0.
// It spins until the lock can be acquired.
//
// This allows embedding a lock bit into an existing uint64 field (e.g., metadata)
// to save memory and avoid false sharing.
func bitLockUint64(addr *uint64, mask uint64) {
	cur := atomic.LoadUint64(addr)
	if atomic.CompareAndSwapUint64(addr, cur&^mask, cur|mask) {
		return
	}
	slowLockUint64(addr, mask)
}

func slowLockUint64(addr *uint64, mask uint64) {
	var spins int
	for !tryLockUint64(addr, mask) {
		delay(&spins)
	}
}

//go:nosplit
func tryLockUint64(addr *uint64, mask uint64) bool {
	for {
		cur := atomic.LoadUint64(addr)
		if cur&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(addr, cur, cur|mask) {
			return true
		}
	}
}

// bitUnlockUint64 releases the bit-lock by clearing the specified bit mask.
// It preserves other bits in the value.
//
//go:nosplit
func bitUnlockUint64(addr *uint64, mask uint64) {
	atomic.StoreUint64(addr, atomic.LoadUint64(addr)&^mask)
}
