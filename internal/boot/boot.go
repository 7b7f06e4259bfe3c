// Package boot provides the boot pool: a small static bump buffer that
// serves metadata for the very first heap, before any real heap exists.
// Grounded on the lock-plus-bump-cursor pattern in ArenaAllocatorImpl
// (internal/allocator/arena.go).
package boot

import (
	"hash/fnv"
	"sync"
	"unsafe"

	"github.com/orizon-lang/oalloc/internal/osmem"
)

// poolSize is the size of each sub-pool's static buffer, strictly less
// than one page.
const poolSize = 3 * 1024

// subPools is the default number of independent sub-pools, hashed by the
// requested id to scatter contention during the startup storm.
const subPools = 4

// Pool is a boot pool partitioned into independent sub-pools. Its
// lifetime is the process: Alloc never supports release.
type Pool struct {
	subs [subPools]subPool
	mem  osmem.Shim
}

type subPool struct {
	buf     [poolSize]byte
	cursor  uintptr
	mu      sync.Mutex
	overran bool
}

// New creates a boot pool backed by the given OS-memory shim, used only
// as the fallback once every sub-pool is exhausted.
func New(mem osmem.Shim) *Pool {
	return &Pool{mem: mem}
}

// Alloc returns a pointer whose lifetime is the process. id selects the
// sub-pool (hashed), scattering contention across callers that boot
// concurrently; len is the number of bytes requested.
func (p *Pool) Alloc(id uint64, length uintptr) uintptr {
	if length == 0 {
		return 0
	}

	sp := &p.subs[subPoolIndex(id)]

	sp.mu.Lock()
	if !sp.overran {
		aligned := alignUp8(sp.cursor)
		if aligned+length <= poolSize {
			ptr := uintptr(unsafe.Pointer(&sp.buf[aligned]))
			sp.cursor = aligned + length
			sp.mu.Unlock()

			return ptr
		}

		sp.overran = true
	}
	sp.mu.Unlock()

	// Sub-pool exhausted or contended past capacity: fall back to a
	// fresh OS mapping, sized to the shim's page granularity.
	mapped := osmem.AlignUp(p.mem, length)

	base, ok := p.mem.Map(mapped)
	if !ok {
		return 0
	}

	return base
}

func subPoolIndex(id uint64) uint64 {
	h := fnv.New64a()
	var b [8]byte

	for i := range b {
		b[i] = byte(id >> (8 * i))
	}

	_, _ = h.Write(b[:])

	return h.Sum64() % subPools
}

func alignUp8(v uintptr) uintptr {
	return (v + 7) &^ 7
}
