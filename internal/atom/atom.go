// Package atom gives named, narrowly-typed wrappers over sync/atomic so
// call sites read as algebraic operations instead of raw atomic calls.
package atom

import "sync/atomic"

// CAS32 performs an atomic compare-and-swap on a uint32 variable.
func CAS32(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}

// CAS64 performs an atomic compare-and-swap on a uint64 variable.
func CAS64(addr *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(addr, old, new)
}

// Load32 atomically loads a uint32.
func Load32(addr *uint32) uint32 { return atomic.LoadUint32(addr) }

// Store32 atomically stores a uint32.
func Store32(addr *uint32, v uint32) { atomic.StoreUint32(addr, v) }

// Load64 atomically loads a uint64.
func Load64(addr *uint64) uint64 { return atomic.LoadUint64(addr) }

// Store64 atomically stores a uint64.
func Store64(addr *uint64, v uint64) { atomic.StoreUint64(addr, v) }

// Add64 atomically adds delta to addr and returns the new value.
func Add64(addr *uint64, delta uint64) uint64 { return atomic.AddUint64(addr, delta) }

// Add32 atomically adds delta to addr and returns the new value.
func Add32(addr *uint32, delta uint32) uint32 { return atomic.AddUint32(addr, delta) }

// Or32 atomically ORs mask into *addr, retrying on contention.
func Or32(addr *uint32, mask uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|mask) {
			return
		}
	}
}

// AndNot32 atomically clears mask from *addr, retrying on contention.
func AndNot32(addr *uint32, mask uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old&^mask) {
			return
		}
	}
}

// Bump atomically increments a sequence counter by one and returns the new
// value. Used to bracket writes with odd/even version numbers.
func Bump(v *uint64) uint64 { return atomic.AddUint64(v, 1) }
