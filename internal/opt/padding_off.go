//go:build ((amd64 || 386 || arm || mips || mipsle || wasm) || hashtable_disable_padding) && !hashtable_enable_padding

package opt

// CounterStripe_ is one stripe of a table's size counter.
// Padding is disabled by default for amd64 and the 32-bit architectures,
// or when forced off with -tags=hashtable_disable_padding.
type CounterStripe_ struct {
	C uintptr // accessed atomically
}
