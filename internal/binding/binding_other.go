//go:build !linux

package binding

import (
	"sync"
	"unsafe"
)

// affinityPool hands out a per-P "affinity token": sync.Pool's Get/Put
// pair is implemented, in every Go runtime, to prefer reusing the
// object most recently Put by the processor (P) currently running the
// caller. Immediately Get-ing and Put-ing back the same token turns
// that internal preference into a cheap, portable proxy for "which
// logical CPU is this goroutine on right now" on platforms where
// x/sys/unix has no Gettid equivalent (darwin, the BSDs, Windows).
//
// As with binding_linux.go's Gettid key, this is only ever a performance
// hint: a wrong or unstable key still only costs affinity, not
// correctness, because every lookup that misses still lands on a real,
// correctly-synchronized heap via the remote-free bridge.
var affinityPool = sync.Pool{New: func() any { return new(int) }}

func threadKey() uint64 {
	tok := affinityPool.Get()
	affinityPool.Put(tok)

	return uint64(uintptr(unsafe.Pointer(tok.(*int))))
}
