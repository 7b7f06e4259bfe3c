// Package heap implements the per-thread heap: the coordination point
// that ties a size classifier, a region pool, a page directory and a
// lock word together behind the four public allocator entry points
// (allocate, allocate-zeroed, resize, release) plus aligned-allocate and
// usable-size.
//
// Grounded on the allocator coordination shown in
// internal/runtime/region_alloc.go (region lifecycle) and
// internal/allocator/arena.go (the lock-then-mutate shape every public
// entry point here follows).
package heap

import (
	"errors"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/directmap"
	"github.com/orizon-lang/oalloc/internal/osmem"
	"github.com/orizon-lang/oalloc/internal/pagedir"
	"github.com/orizon-lang/oalloc/internal/region"
	"github.com/orizon-lang/oalloc/internal/sizeclass"
	"github.com/orizon-lang/oalloc/internal/slab"
)

// ClasRegs bounds how many slab regions a class slot keeps as immediate
// fast-path candidates; older regions fall off the list but remain
// reachable (and releasable) through the page directory and region pool.
const ClasRegs = 4

// NaturalAlignment is the alignment every allocation gets without an
// explicit aligned-allocate request.
const NaturalAlignment = 16

const alignHeaderSize = unsafe.Sizeof(uintptr(0))

const (
	minRegionOrder = 16 // smallest slab region: 64 KiB
	maxRegionOrder = 24 // largest auto-grown slab region: 16 MiB
)

// Tuning holds the per-heap knobs a caller may override; a zero Tuning
// is filled in with the package defaults by New.
type Tuning struct {
	RegionInterval int           // allocations between trim-pass attempts
	TrimScan       int           // regions inspected per trim-pass attempt
	TrimAge        time.Duration // idle time before an empty slab region is released
}

func (t Tuning) withDefaults() Tuning {
	if t.RegionInterval <= 0 {
		t.RegionInterval = 256
	}

	if t.TrimScan <= 0 {
		t.TrimScan = 8
	}

	if t.TrimAge <= 0 {
		t.TrimAge = 2 * time.Second
	}

	return t
}

// classSlot is the class table's per-class entry: up to ClasRegs slab
// regions and a cursor to the one most recently able to serve a request.
type classSlot struct {
	regions [ClasRegs]*region.Descriptor
	count   int
	cursor  int
}

func (s *classSlot) install(d *region.Descriptor) {
	if s.count < ClasRegs {
		s.regions[s.count] = d
		s.cursor = s.count
		s.count++

		return
	}

	s.cursor = (s.cursor + 1) % ClasRegs
	s.regions[s.cursor] = d
}

func (s *classSlot) evict(d *region.Descriptor) {
	for i := 0; i < s.count; i++ {
		if s.regions[i] != d {
			continue
		}

		s.count--
		s.regions[i] = s.regions[s.count]
		s.regions[s.count] = nil

		if s.cursor >= s.count {
			s.cursor = 0
		}

		return
	}
}

// Heap is one thread's (or, under a single-heap binding scheme, the
// process's) allocation domain.
type Heap struct {
	id  uint32
	mem osmem.Shim

	dir     *pagedir.Dir
	regions *region.Pool
	classes *sizeclass.Table
	lock    *lockWord
	sink    *diag.Sink

	mu    sync.Mutex
	slots map[sizeclass.Class]*classSlot

	currentOrder   uint32
	regionsCreated uint32

	allocCount uint64
	trimCursor int
	tuning     Tuning

	next *Heap // intrusive link in the global heap registry
}

// New creates a heap identified by id, backed by mem, reporting errors
// into sink.
func New(id uint32, mem osmem.Shim, sink *diag.Sink, tuning Tuning) *Heap {
	h := &Heap{
		id:           id,
		mem:          mem,
		dir:          pagedir.New(),
		regions:      region.NewPool(id),
		classes:      sizeclass.NewTable(),
		lock:         newLockWord(),
		sink:         sink,
		slots:        make(map[sizeclass.Class]*classSlot),
		currentOrder: minRegionOrder,
		tuning:       tuning.withDefaults(),
	}

	registerHeap(h)

	return h
}

// ID returns the heap's identifier, used as the high bits of a region's
// global id and as the heap-registry key for the remote-free bridge.
func (h *Heap) ID() uint32 { return h.id }

// Dir exposes the heap's page directory for a foreign-free lookup; it is
// read-only for any caller other than this heap's own owner.
func (h *Heap) Dir() *pagedir.Dir { return h.dir }

// Sink returns the heap's diagnostics sink.
func (h *Heap) Sink() *diag.Sink { return h.sink }

var (
	headHeap atomic.Pointer[Heap]

	zeroBlockOnce sync.Once
	zeroBlockAddr uintptr
)

func registerHeap(h *Heap) {
	for {
		old := headHeap.Load()
		h.next = old

		if headHeap.CompareAndSwap(old, h) {
			return
		}
	}
}

// Range calls fn for every registered heap until fn returns false or the
// list is exhausted.
func Range(fn func(*Heap) bool) {
	for h := headHeap.Load(); h != nil; h = h.next {
		if !fn(h) {
			return
		}
	}
}

// ZeroBlock returns the process-wide sentinel address returned by
// allocate(0). It is backed by a real, never-reused OS mapping created
// once on first use.
func ZeroBlock() uintptr {
	zeroBlockOnce.Do(func() {
		mem := osmem.Default()
		if base, ok := mem.Map(mem.PageSize()); ok {
			zeroBlockAddr = base
		}
	})

	return zeroBlockAddr
}

// Allocate returns a pointer to at least length bytes, or 0 on failure.
// length == 0 returns the zero-block sentinel.
func (h *Heap) Allocate(length uintptr) uintptr {
	if length == 0 {
		return ZeroBlock()
	}

	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "allocate(%d): heap %d lock timed out", length, h.id)
		return 0
	}

	defer h.lock.release()

	return h.allocateLocked(length)
}

func (h *Heap) allocateLocked(length uintptr) uintptr {
	class, cellLength, ok := h.classes.ClassOf(length)
	if !ok {
		return h.allocateDirectLocked(length, 0)
	}

	ptr := h.allocateFromClass(class, cellLength)
	if ptr == 0 {
		h.sink.Count(diag.KindOutOfMemory, "allocate(%d): class %d exhausted and no new region could be mapped", length, class)
	} else {
		h.sink.RecordAllocation(classLabel(cellLength))
		h.maybeTrim()
	}

	return ptr
}

func (h *Heap) allocateFromClass(class sizeclass.Class, cellLength uintptr) uintptr {
	h.mu.Lock()
	slot, ok := h.slots[class]
	if !ok {
		slot = &classSlot{}
		h.slots[class] = slot
	}
	h.mu.Unlock()

	if slot.count > 0 {
		if ptr := tryAllocateFrom(slot.regions[slot.cursor], cellLength); ptr != 0 {
			return ptr
		}

		for i := 0; i < slot.count; i++ {
			if i == slot.cursor {
				continue
			}

			if ptr := tryAllocateFrom(slot.regions[i], cellLength); ptr != 0 {
				slot.cursor = i
				return ptr
			}
		}
	}

	d, err := h.newSlabRegion(class, cellLength)
	if err != nil {
		return 0
	}

	slot.install(d)

	return tryAllocateFrom(d, cellLength)
}

func tryAllocateFrom(d *region.Descriptor, cellLength uintptr) uintptr {
	if d == nil || d.Ops == nil || d.Ops.Allocate == nil {
		return 0
	}

	ptr := d.Ops.Allocate(d, cellLength)
	if ptr != 0 {
		d.LastUsed = time.Now().UnixNano()
	}

	return ptr
}

// regionOrderFor picks the region's log2 length: at least enough for 64
// cells, at least the heap's current pressure-driven order, and never
// above maxRegionOrder.
func regionOrderFor(cellLength uintptr, currentOrder uint32) uint32 {
	order := uint32(bits.Len(uint(cellLength))) + 6

	if order < minRegionOrder {
		order = minRegionOrder
	}

	if order < currentOrder {
		order = currentOrder
	}

	if order > maxRegionOrder {
		order = maxRegionOrder
	}

	return order
}

func (h *Heap) newSlabRegion(class sizeclass.Class, cellLength uintptr) (*region.Descriptor, error) {
	order := regionOrderFor(cellLength, atomic.LoadUint32(&h.currentOrder))
	regionLength := osmem.AlignUp(h.mem, uintptr(1)<<order)

	sr, err := slab.New(h.mem, cellLength, regionLength)
	if err != nil {
		return nil, err
	}

	d, err := h.regions.Alloc()
	if err != nil {
		sr.Unmap()
		return nil, err
	}

	d.Ops = slabOps
	d.Impl = sr
	d.Kind = region.KindSlab
	d.Base = sr.Base()
	d.Length = sr.Length()
	d.Meta = uintptr(class)
	d.LastUsed = time.Now().UnixNano()

	h.dir.Set(d.DirID, d.Base, d.Length)
	h.growCurrentOrder()

	return d, nil
}

func (h *Heap) growCurrentOrder() {
	if atomic.AddUint32(&h.regionsCreated, 1)%8 != 0 {
		return
	}

	for {
		cur := atomic.LoadUint32(&h.currentOrder)
		if cur >= maxRegionOrder {
			return
		}

		if atomic.CompareAndSwapUint32(&h.currentOrder, cur, cur+1) {
			return
		}
	}
}

// allocateDirectLocked creates a direct-map region for length bytes. A
// non-zero requestedAlign records the over-aligned user-visible pointer
// in the descriptor's Meta slot; callers that do not need that pass 0.
func (h *Heap) allocateDirectLocked(length, requestedAlign uintptr) uintptr {
	mapLength := length
	if requestedAlign > 0 {
		mapLength = length + requestedAlign
	}

	m, err := directmap.New(h.mem, mapLength)
	if err != nil {
		return 0
	}

	d, err := h.regions.Alloc()
	if err != nil {
		m.Release()
		return 0
	}

	d.Ops = directOps
	d.Impl = m
	d.Kind = region.KindDirectMap
	d.Base = m.Base()
	d.Length = m.Length()
	d.LastUsed = time.Now().UnixNano()

	h.dir.Set(d.DirID, d.Base, d.Length)

	if requestedAlign == 0 {
		d.Meta = 0
		return d.Base
	}

	aligned := (d.Base + alignHeaderSize + requestedAlign - 1) &^ (requestedAlign - 1)
	d.Meta = aligned

	return aligned
}

// AllocateZeroed returns count*size zeroed bytes, failing on overflow.
func (h *Heap) AllocateZeroed(count, size uintptr) uintptr {
	if count == 0 || size == 0 {
		return h.Allocate(0)
	}

	total, overflow := mulOverflows(count, size)
	if overflow {
		h.sink.Count(diag.KindOutOfMemory, "allocate-zeroed(%d, %d): count*size overflows", count, size)
		return 0
	}

	ptr := h.Allocate(total)
	if ptr == 0 || ptr == ZeroBlock() {
		return ptr
	}

	zeroMemory(ptr, total)

	return ptr
}

func mulOverflows(a, b uintptr) (uintptr, bool) {
	product := a * b
	if a != 0 && product/a != b {
		return 0, true
	}

	return product, false
}

func zeroMemory(ptr, length uintptr) {
	if ptr == 0 || length == 0 {
		return
	}

	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(length))
	clear(b)
}

// AlignedAllocate returns a pointer to at least length bytes aligned to
// align, which must be a power of two. Alignments at or below
// NaturalAlignment are served by the ordinary classifier; larger ones
// always go through the direct-map engine so the user-visible pointer
// can be recorded independently of the underlying mapping's base.
func (h *Heap) AlignedAllocate(align, length uintptr) uintptr {
	if align == 0 || align&(align-1) != 0 {
		return 0
	}

	if align <= NaturalAlignment {
		return h.Allocate(length)
	}

	if length == 0 {
		length = 1
	}

	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "aligned-allocate(%d, %d): heap %d lock timed out", align, length, h.id)
		return 0
	}
	defer h.lock.release()

	ptr := h.allocateDirectLocked(length, align)
	if ptr == 0 {
		h.sink.Count(diag.KindOutOfMemory, "aligned-allocate(%d, %d): out of memory", align, length)
	}

	return ptr
}

// Release frees ptr. A null pointer or the zero-block sentinel is a
// no-op.
func (h *Heap) Release(ptr uintptr) {
	if ptr == 0 || ptr == ZeroBlock() {
		return
	}

	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "release(%#x): heap %d lock timed out", ptr, h.id)
		return
	}
	defer h.lock.release()

	h.releaseLocked(ptr)
}

func (h *Heap) releaseLocked(ptr uintptr) {
	found, _ := h.releaseDescriptor(ptr)
	if !found {
		h.sink.Count(diag.KindInvalidFree, (&kindError{Kind: diag.KindInvalidFree, Ptr: ptr}).Error())
	}
}

// releaseDescriptor resolves ptr through the page directory and region
// pool and attempts the release, reporting any fault to the sink.
// found is false only when ptr is not known to this heap at all.
func (h *Heap) releaseDescriptor(ptr uintptr) (found bool, fault region.ReleaseFault) {
	dirID, ok := h.dir.Find(ptr)
	if !ok {
		return false, region.ReleaseOK
	}

	d, ok := h.regions.Get(dirID)
	if !ok || d.Ops == nil || d.Ops.Release == nil {
		return false, region.ReleaseOK
	}

	fault = d.Ops.Release(d, ptr)
	if fault == region.ReleaseOK {
		h.sink.RecordFree(classLabelForDescriptor(d))
		d.LastUsed = time.Now().UnixNano()

		if d.Kind == region.KindDirectMap {
			// Stays visible in the directory, off the free list, until
			// the trim pass unsets its range and recycles the slot; this
			// is what lets a second release still be diagnosed.
			d.Kind = region.KindFreedDirectMap
		}

		return true, region.ReleaseOK
	}

	kind := releaseFaultKind(fault)
	h.sink.Count(kind, (&kindError{Kind: kind, Ptr: ptr, Region: d}).Error())

	return true, fault
}

// ReleaseSized frees ptr like Release, but first validates length
// against the allocation's actual size: the registered cell length for
// a slab region (the same length its class was assigned in this
// heap's class table) or the mapping's own length for a direct-map
// region. This is a sized-free compatibility shim, mirroring glibc's
// sized-free extensions and C++'s sized operator delete; it lives on
// Heap directly rather than on the Ops vtable every region kind
// otherwise installs, since it is a binding convenience rather than a
// property of the region itself. A mismatch is counted and the block
// is left untouched.
func (h *Heap) ReleaseSized(ptr, length uintptr) {
	if ptr == 0 || ptr == ZeroBlock() {
		return
	}

	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "release-sized(%#x, %d): heap %d lock timed out", ptr, length, h.id)
		return
	}
	defer h.lock.release()

	dirID, ok := h.dir.Find(ptr)
	if !ok {
		h.sink.Count(diag.KindInvalidFree, (&kindError{Kind: diag.KindInvalidFree, Ptr: ptr}).Error())
		return
	}

	d, ok := h.regions.Get(dirID)
	if !ok {
		h.sink.Count(diag.KindInvalidFree, (&kindError{Kind: diag.KindInvalidFree, Ptr: ptr}).Error())
		return
	}

	switch d.Kind {
	case region.KindSlab:
		if expected := h.classes.MustLengthOf(sizeclass.Class(d.Meta)); length != expected {
			h.sink.Count(diag.KindSizeMismatch, (&kindError{Kind: diag.KindSizeMismatch, Ptr: ptr, Region: d}).Error())
			return
		}

		h.releaseLocked(ptr)

	case region.KindDirectMap:
		m, _ := d.Impl.(*directmap.Mapping)
		if m == nil || ptr != userPointer(d) {
			h.sink.Count(diag.KindInvalidFree, (&kindError{Kind: diag.KindInvalidFree, Ptr: ptr, Region: d}).Error())
			return
		}

		if err := m.ReleaseSized(length); err != nil {
			kind := diag.KindInvalidFree

			switch {
			case errors.Is(err, directmap.ErrWrongSize):
				kind = diag.KindSizeMismatch
			case errors.Is(err, directmap.ErrDoubleFree):
				kind = diag.KindDoubleFree
			}

			h.sink.Count(kind, (&kindError{Kind: kind, Ptr: ptr, Region: d}).Error())

			return
		}

		h.sink.RecordFree(classLabelForDescriptor(d))
		d.Kind = region.KindFreedDirectMap
		d.LastUsed = time.Now().UnixNano()

	default:
		h.releaseLocked(ptr)
	}
}

// TryRemoteRelease attempts to release ptr as a foreign thread, under
// the same lock an owner-thread release or allocate would take. It
// reports whether ptr was found in this heap at all. On a lock timeout
// it counts the timeout and returns true without searching for ptr.
func (h *Heap) TryRemoteRelease(ptr uintptr) bool {
	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "remote release(%#x) on heap %d timed out", ptr, h.id)
		return true
	}
	defer h.lock.release()

	found, _ := h.releaseDescriptor(ptr)

	return found
}

// Resize changes the allocation at ptr to newLength bytes, returning the
// (possibly relocated) pointer, or 0 on failure. ptr == 0 behaves like
// Allocate; newLength == 0 releases ptr and returns the zero-block
// sentinel.
func (h *Heap) Resize(ptr, newLength uintptr) uintptr {
	if ptr == 0 {
		return h.Allocate(newLength)
	}

	if ptr == ZeroBlock() {
		if newLength == 0 {
			return ZeroBlock()
		}

		return h.Allocate(newLength)
	}

	if newLength == 0 {
		h.Release(ptr)
		return ZeroBlock()
	}

	if !h.lock.acquire(DefaultLockTimeout) {
		h.sink.Count(diag.KindLockTimeout, "resize(%#x, %d): heap %d lock timed out", ptr, newLength, h.id)
		return 0
	}
	defer h.lock.release()

	dirID, found := h.dir.Find(ptr)
	if !found {
		h.sink.Count(diag.KindInvalidFree, (&kindError{Kind: diag.KindInvalidFree, Ptr: ptr}).Error())
		return 0
	}

	d, ok := h.regions.Get(dirID)
	if !ok || d.Ops == nil {
		return 0
	}

	if d.Kind == region.KindFreedDirectMap {
		h.sink.Count(diag.KindWrongSizeOnResize, (&kindError{Kind: diag.KindWrongSizeOnResize, Ptr: ptr, Region: d}).Error())
		return 0
	}

	if d.Ops.Resize != nil {
		if newBase, ok := d.Ops.Resize(d, ptr, newLength); ok {
			// Only a direct-map region's own extent (base or length) can
			// change; a slab region's Resize extends a cell run within a
			// region whose own extent never changes, so the directory
			// entry for the region as a whole stays put.
			if d.Kind == region.KindDirectMap {
				newLen := osmem.AlignUp(h.mem, newLength)
				if newBase != d.Base || newLen != d.Length {
					h.dir.Unset(d.Base, d.Length)
					d.Base = newBase
					d.Length = newLen
					h.dir.Set(d.DirID, d.Base, d.Length)
				}
			}

			d.LastUsed = time.Now().UnixNano()

			return newBase
		}
	}

	oldSize := uintptr(0)
	if d.Ops.SizeOf != nil {
		oldSize = d.Ops.SizeOf(d, ptr)
	}

	newPtr := h.allocateLocked(newLength)
	if newPtr == 0 {
		return 0
	}

	copyLength := oldSize
	if newLength < copyLength {
		copyLength = newLength
	}

	if copyLength > 0 {
		copyMemory(newPtr, ptr, copyLength)
	}

	h.releaseLocked(ptr)

	return newPtr
}

func copyMemory(dst, src, length uintptr) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(length))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(length))
	copy(d, s)
}

// UsableSize reports the usable capacity of the allocation at ptr, or 0
// if ptr is not a live allocation known to this heap.
func (h *Heap) UsableSize(ptr uintptr) uintptr {
	if ptr == 0 {
		return 0
	}

	if ptr == ZeroBlock() {
		return 0
	}

	dirID, found := h.dir.Find(ptr)
	if !found {
		return 0
	}

	d, ok := h.regions.Get(dirID)
	if !ok || d.Ops == nil || d.Ops.SizeOf == nil {
		return 0
	}

	return d.Ops.SizeOf(d, ptr)
}

func classLabel(cellLength uintptr) string {
	return itoa(cellLength)
}

func classLabelForDescriptor(d *region.Descriptor) string {
	if d.Kind == region.KindSlab {
		if sr, ok := d.Impl.(*slab.Region); ok {
			return itoa(sr.CellLength())
		}
	}

	return "direct"
}

func itoa(v uintptr) string {
	if v == 0 {
		return "0"
	}

	var buf [20]byte

	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return string(buf[i:])
}
