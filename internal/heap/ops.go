package heap

import (
	"errors"

	"github.com/orizon-lang/oalloc/internal/directmap"
	"github.com/orizon-lang/oalloc/internal/region"
	"github.com/orizon-lang/oalloc/internal/slab"
)

// slabOps and directOps are the two region.Ops vtables this package
// installs, replacing a Kind type switch at every call site with one
// indirect call through the descriptor, per the redesign decided for
// the region package.
var slabOps = &region.Ops{
	Allocate: slabAllocate,
	Release:  slabRelease,
	Resize:   slabResize,
	SizeOf:   slabSizeOf,
}

var directOps = &region.Ops{
	Release: directRelease,
	Resize:  directResize,
	SizeOf:  directSizeOf,
}

func slabAllocate(d *region.Descriptor, _ uintptr) uintptr {
	sr := d.Impl.(*slab.Region)

	ptr, err := sr.Allocate()
	if err != nil {
		return 0
	}

	return ptr
}

func slabRelease(d *region.Descriptor, ptr uintptr) region.ReleaseFault {
	sr := d.Impl.(*slab.Region)

	_, fault := sr.Bin(ptr)

	return releaseFaultFromSlab(fault)
}

func releaseFaultFromSlab(f slab.Fault) region.ReleaseFault {
	switch f {
	case slab.FaultNone:
		return region.ReleaseOK
	case slab.FaultDoubleFree:
		return region.ReleaseDoubleFree
	case slab.FaultNonFirstCell:
		return region.ReleaseInsideBlock
	default:
		return region.ReleaseInvalidFree
	}
}

func slabResize(d *region.Descriptor, ptr uintptr, newLength uintptr) (uintptr, bool) {
	sr := d.Impl.(*slab.Region)

	if sr.Resize(ptr, newLength) {
		return ptr, true
	}

	return 0, false
}

func slabSizeOf(d *region.Descriptor, ptr uintptr) uintptr {
	sr := d.Impl.(*slab.Region)

	size, err := sr.UsableSize(ptr)
	if err != nil {
		return 0
	}

	return size
}

// userPointer returns the pointer the caller actually holds for a
// direct-map descriptor: the aligned pointer recorded in Meta for an
// aligned-allocate'd block, or the mapping's own base otherwise.
func userPointer(d *region.Descriptor) uintptr {
	if d.Meta != 0 {
		return d.Meta
	}

	return d.Base
}

func directRelease(d *region.Descriptor, ptr uintptr) region.ReleaseFault {
	if ptr != userPointer(d) {
		return region.ReleaseInvalidFree
	}

	m := d.Impl.(*directmap.Mapping)

	if err := m.Release(); err != nil {
		if errors.Is(err, directmap.ErrDoubleFree) {
			return region.ReleaseDoubleFree
		}

		return region.ReleaseInvalidFree
	}

	return region.ReleaseOK
}

// directResize never preserves an aligned-allocate'd block's alignment
// across a relocation: a direct-map region created for an over-aligned
// request always falls back to allocate-copy-free instead, the
// simplest correct behavior and the one most C allocators give realloc
// on an aligned_alloc block.
func directResize(d *region.Descriptor, ptr uintptr, newLength uintptr) (uintptr, bool) {
	if d.Meta != 0 {
		return 0, false
	}

	if ptr != d.Base {
		return 0, false
	}

	m := d.Impl.(*directmap.Mapping)

	newBase, ok := m.Resize(newLength)
	if !ok {
		return 0, false
	}

	return newBase, true
}

func directSizeOf(d *region.Descriptor, ptr uintptr) uintptr {
	if ptr != userPointer(d) {
		return 0
	}

	m := d.Impl.(*directmap.Mapping)

	if m.State() == directmap.StateFreed {
		return 0
	}

	if d.Meta != 0 {
		return m.Base() + m.Length() - d.Meta
	}

	return m.Length()
}
