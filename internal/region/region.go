// Package region implements the region descriptor and the per-heap region
// pool. A region is a contiguous OS-backed range of user memory owned by
// exactly one heap; the pool hands out and recycles descriptors for it.
//
// Modeled on a RegionHeader / RegionAllocator split (header carrying
// identity, extent and a free-list link, stored in a grow-only array
// of chunks with an intrusive free list for recycling). Descriptors
// here are plain Go-managed memory rather than a raw OS mapping,
// because a descriptor's Impl field holds a live Go interface value
// that the garbage collector must be able to see; only the region's
// *user* and *metadata* ranges are OS-mapped.
package region

import (
	"fmt"
	"sync"
)

// Kind distinguishes the three region variants named in the data model.
// The buddy kind is reserved and intentionally absent.
type Kind uint8

const (
	// KindFree marks a descriptor slot that is not currently backing any
	// region (either never allocated or sitting on the free list).
	KindFree Kind = iota

	// KindSlab is a fixed-cell-length region served by the slab engine.
	KindSlab

	// KindDirectMap is a single large allocation backed by its own OS
	// mapping.
	KindDirectMap

	// KindFreedDirectMap marks a direct-map region whose user mapping has
	// already been unmapped; its descriptor is kept only long enough to
	// detect double-free and wrong-size-on-resize.
	KindFreedDirectMap
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindSlab:
		return "slab"
	case KindDirectMap:
		return "direct-map"
	case KindFreedDirectMap:
		return "freed-direct-map"
	default:
		return "unknown"
	}
}

// ReleaseFault generalizes the slab engine's release-rejection reasons
// across every region kind, so a caller holding only a Descriptor (the
// remote-free bridge, the public release path) can classify a failed
// release without a type switch on Kind.
type ReleaseFault int

const (
	// ReleaseOK means the release was accepted.
	ReleaseOK ReleaseFault = iota
	// ReleaseDoubleFree means ptr was already released once.
	ReleaseDoubleFree
	// ReleaseInvalidFree means ptr was never a live allocation in this region.
	ReleaseInvalidFree
	// ReleaseInsideBlock means ptr lies inside a block but not at its start.
	ReleaseInsideBlock
)

// Ops is the operation table a region kind installs on its descriptors,
// replacing a type switch on Kind with a flat record plus a vtable, per
// the redesign decided for this port.
type Ops struct {
	Allocate func(d *Descriptor, length uintptr) uintptr
	Release  func(d *Descriptor, ptr uintptr) ReleaseFault
	Resize   func(d *Descriptor, ptr uintptr, newLength uintptr) (uintptr, bool)
	SizeOf   func(d *Descriptor, ptr uintptr) uintptr
}

// noFree marks the end of the free list (and "not yet linked").
const noFree = ^uint32(0)

// Descriptor is the common header shared by every region kind. Base,
// Length, DirID and Kind form the invariant set the page directory and
// the heap rely on; Impl is the kind-specific runtime state (for
// example a *slab.Region) and is opaque to this package.
type Descriptor struct {
	Ops  *Ops
	Impl any

	Base   uintptr
	Length uintptr

	// Meta is a kind-specific adjustment slot. A direct-map region
	// created for an over-aligned request stores its user-visible
	// pointer here (distinct from Base, the real mapping address),
	// so release/resize/size-of can validate the pointer the caller
	// actually holds rather than the underlying mapping's base.
	Meta uintptr

	// LastUsed is the UnixNano timestamp of this region's most recent
	// allocation, used by the heap's trim pass to age out idle regions.
	LastUsed int64

	DirID  uint32
	HeapID uint32
	Kind   Kind

	nextFree uint32
}

// GlobalID packs HeapID into the high 32 bits and DirID into the low 32
// bits, unique for as long as this descriptor's directory id is not
// recycled for a different region.
func (d *Descriptor) GlobalID() uint64 {
	return uint64(d.HeapID)<<32 | uint64(d.DirID)
}

// chunkSize is the number of descriptors per grow-only chunk.
const chunkSize = 4096

// maxDirID bounds the directory-id space, matching the source's 16-bit
// directory id.
const maxDirID = 1 << 16

// Pool is a heap's grow-only array of region descriptor chunks plus an
// intrusive free list in directory-id space. A Pool is owned by exactly
// one heap and is not safe for concurrent use from multiple heaps, but
// is internally synchronized against the owning heap's own concurrent
// release path (remote frees may recycle descriptors concurrently with
// the owning thread allocating new ones).
type Pool struct {
	mu       sync.Mutex
	chunks   [][]Descriptor
	heapID   uint32
	count    uint32
	freeHead uint32
}

// NewPool creates an empty region pool for the heap identified by heapID.
func NewPool(heapID uint32) *Pool {
	return &Pool{heapID: heapID, freeHead: noFree}
}

// Alloc returns a fresh or recycled descriptor. It recycles from the
// free list once the heap has already allocated more than a quarter of
// the directory-id space; below that threshold it prefers bumping a new
// slot, since early-life heaps rarely have anything worth recycling yet.
func (p *Pool) Alloc() (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeHead != noFree && p.count > maxDirID/4 {
		return p.popFreeLocked(), nil
	}

	if p.count >= maxDirID {
		if p.freeHead != noFree {
			return p.popFreeLocked(), nil
		}

		return nil, fmt.Errorf("region: directory-id space exhausted (max %d)", maxDirID)
	}

	id := p.count
	p.count++

	chunkIdx := int(id / chunkSize)
	offset := int(id % chunkSize)

	for chunkIdx >= len(p.chunks) {
		p.chunks = append(p.chunks, make([]Descriptor, chunkSize))
	}

	d := &p.chunks[chunkIdx][offset]
	d.DirID = id
	d.HeapID = p.heapID
	d.Kind = KindFree
	d.nextFree = noFree

	return d, nil
}

// popFreeLocked pops the head of the free list, zeroing the descriptor's
// region-specific fields but preserving its directory id. p.mu must be
// held.
func (p *Pool) popFreeLocked() *Descriptor {
	id := p.freeHead
	d := p.at(id)
	p.freeHead = d.nextFree

	dirID, heapID := d.DirID, d.HeapID
	*d = Descriptor{DirID: dirID, HeapID: heapID, nextFree: noFree}

	return d
}

// Free returns a descriptor to the free list. The caller must already
// have torn down the region's OS mappings; Free only recycles the
// bookkeeping slot.
func (p *Pool) Free(d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d.Kind = KindFree
	d.Impl = nil
	d.Ops = nil
	d.nextFree = p.freeHead
	p.freeHead = d.DirID
}

// Count returns the number of descriptors ever allocated from this pool
// (including ones currently on the free list), for a trim pass that
// wants to scan the whole directory-id range.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return int(p.count)
}

// Get returns the descriptor for dirID, or false if dirID was never
// allocated from this pool.
func (p *Pool) Get(dirID uint32) (*Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dirID >= p.count {
		return nil, false
	}

	return p.at(dirID), true
}

func (p *Pool) at(dirID uint32) *Descriptor {
	return &p.chunks[dirID/chunkSize][dirID%chunkSize]
}
