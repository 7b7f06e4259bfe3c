// Package mini implements the bump micro-heap used before a thread's real
// heap exists, so the first few allocations never need the full slab
// machinery. Grounded on ArenaAllocatorImpl
// (internal/allocator/arena.go): a buffer, a bump cursor, and a mutex.
package mini

import (
	"sync"

	"github.com/orizon-lang/oalloc/internal/osmem"
)

// unit is the granularity every mini-heap allocation is rounded up to.
const unit = 16

// DefaultSize is the source's default mini-heap size (~16 KiB).
const DefaultSize = 16 * 1024

// Bumpmax is the largest request the mini-heap will serve; larger
// requests fall back to the real heap immediately.
const Bumpmax = 1024

// Heap is a single page-aligned bump buffer paired with a metadata array
// of one 16-bit length slot per 16-byte unit of user space.
type Heap struct {
	base   uintptr
	length uintptr
	slots  []uint16 // length in 16-byte units per unit, 0 = not-a-start
	cursor uintptr
	mu     sync.Mutex
}

// New creates a mini-heap of length bytes (rounded up to a multiple of
// unit), backed by a fresh OS mapping.
func New(mem osmem.Shim, length uintptr) *Heap {
	if length == 0 {
		length = DefaultSize
	}

	length = (length + unit - 1) &^ (unit - 1)

	mapped := osmem.AlignUp(mem, length)

	base, ok := mem.Map(mapped)
	if !ok {
		return nil
	}

	return &Heap{
		base:   base,
		length: length,
		slots:  make([]uint16, length/unit),
	}
}

// Allocate bumps the cursor by align-up(len, 16) and records the length.
// It fails (returns 0) on cursor overflow or if len exceeds Bumpmax; the
// caller falls back to the real heap.
func (h *Heap) Allocate(length uintptr) uintptr {
	if h == nil || length == 0 || length > Bumpmax {
		return 0
	}

	rounded := (length + unit - 1) &^ (unit - 1)
	units := rounded / unit

	if units == 0 || units > 0xFFFF {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor+rounded > h.length {
		return 0
	}

	slot := h.cursor / unit
	h.slots[slot] = uint16(units)
	ptr := h.base + h.cursor
	h.cursor += rounded

	return ptr
}

// Find reports the usable length in bytes of the allocation starting at
// ptr, or 0 if ptr does not lie within this mini-heap's user range, is
// not 16-byte aligned, or is not the start of a recorded allocation.
func (h *Heap) Find(ptr uintptr) uintptr {
	if h == nil || ptr < h.base || ptr >= h.base+h.length {
		return 0
	}

	offset := ptr - h.base
	if offset%unit != 0 {
		return 0
	}

	h.mu.Lock()
	units := h.slots[offset/unit]
	h.mu.Unlock()

	return uintptr(units) * unit
}

// Contains reports whether ptr lies within this mini-heap's user range,
// regardless of whether it is a valid allocation start.
func (h *Heap) Contains(ptr uintptr) bool {
	return h != nil && ptr >= h.base && ptr < h.base+h.length
}

// Base returns the mini-heap's user-range base address, for diagnostics.
func (h *Heap) Base() uintptr {
	if h == nil {
		return 0
	}

	return h.base
}
