package heap

import (
	"time"

	"github.com/orizon-lang/oalloc/internal/region"
	"github.com/orizon-lang/oalloc/internal/sizeclass"
	"github.com/orizon-lang/oalloc/internal/slab"
)

// maybeTrim runs a bounded trim pass every RegionInterval allocations.
// This is the resolution chosen for reclaiming idle regions: rather
// than a dedicated background goroutine (which would need its own
// synchronization with every other heap operation), an allocating
// caller occasionally pays a small, bounded amount of extra work on its
// own request.
func (h *Heap) maybeTrim() {
	h.allocCount++

	if h.allocCount%uint64(h.tuning.RegionInterval) != 0 {
		return
	}

	h.trimPass()
}

// trimPass inspects up to TrimScan descriptors starting at the cursor
// left off by the previous pass, reclaiming:
//   - slab regions that are entirely free and have been idle longer
//     than TrimAge
//   - direct-map regions already released (kept only so a second
//     release can be diagnosed as a double free) once they have been
//     idle past TrimAge, at which point the double-free detection
//     window closes and the directory-id slot is recycled
//
// A reclaimed descriptor's OS mapping is torn down and its
// page-directory range unset before the descriptor is returned to the
// pool, matching the invariant the pool's Free method requires.
func (h *Heap) trimPass() {
	total := h.regions.Count()
	if total == 0 {
		return
	}

	cutoff := time.Now().Add(-h.tuning.TrimAge).UnixNano()
	scanned := 0

	for scanned < h.tuning.TrimScan && scanned < total {
		dirID := uint32((h.trimCursor + scanned) % total)
		scanned++

		d, ok := h.regions.Get(dirID)
		if !ok {
			continue
		}

		h.trimDescriptor(d, cutoff)
	}

	h.trimCursor = (h.trimCursor + scanned) % total
}

func (h *Heap) trimDescriptor(d *region.Descriptor, cutoff int64) {
	switch d.Kind {
	case region.KindSlab:
		h.trimSlab(d, cutoff)
	case region.KindFreedDirectMap:
		h.trimFreedDirectMap(d, cutoff)
	}
}

func (h *Heap) trimSlab(d *region.Descriptor, cutoff int64) {
	if d.LastUsed > cutoff {
		return
	}

	sr, ok := d.Impl.(*slab.Region)
	if !ok {
		return
	}

	sr.Flush()

	if sr.FreeCells() != sr.CellCount() {
		return
	}

	h.mu.Lock()
	if slot, ok := h.slots[sizeclass.Class(d.Meta)]; ok {
		slot.evict(d)
	}
	h.mu.Unlock()

	h.dir.Unset(d.Base, d.Length)
	sr.Unmap()
	h.regions.Free(d)
}

func (h *Heap) trimFreedDirectMap(d *region.Descriptor, cutoff int64) {
	if d.LastUsed > cutoff {
		return
	}

	h.dir.Unset(d.Base, d.Length)
	h.regions.Free(d)
}
