// Package pagedir implements the page directory: a per-heap three-level
// trie mapping any address in the process virtual space to the directory
// id of the region that owns it, in O(1).
//
// Every slot at every level holds either nothing, a directory id, or a
// pointer to the next trie level, grounded on the PageTableEntry
// bitfield style in the kernel package
// (internal/runtime/kernel/vmm.go) — but represented here as an
// atomically-swapped pointer to a small immutable slot value rather than
// a tagged integer, so ordinary Go pointers keep trie nodes reachable to
// the garbage collector instead of hiding them behind unsafe.Pointer
// round-trips. A region that spans a whole sub-tree collapses to a
// single id slot at the coarsest level that exactly covers it, instead
// of fanning out to real leaves.
package pagedir

import (
	"sync/atomic"

	"github.com/orizon-lang/oalloc/internal/atom"
)

const (
	// PageBits is the log2 of the page size this directory is keyed by.
	PageBits = 12

	// L1Bits, L2Bits, L3Bits are the fan-out widths of the three trie
	// levels; their sum plus PageBits is the supported VM width.
	L1Bits = 12
	L2Bits = 12
	L3Bits = 12

	// VMBits is the configured virtual-address width; addresses with any
	// bit at or above this position set are rejected by Find.
	VMBits = PageBits + L1Bits + L2Bits + L3Bits

	fanout1 = 1 << L1Bits
	fanout2 = 1 << L2Bits
	fanout3 = 1 << L3Bits

	span1 = 1 << (L2Bits + L3Bits) // pages covered by one level-1 slot
	span2 = 1 << L3Bits            // pages covered by one level-2 slot
	span3 = 1                      // pages covered by one level-3 slot (leaf)

	leafLevel = 3
)

// slotValue is the immutable value an occupied slot points to: either a
// directory id (isID) or a pointer to the next trie level, never both.
type slotValue struct {
	child *node
	id    uint32
	isID  bool
}

// node is the single node shape shared by all three trie levels. Its
// fan-out differs per level (set at construction) but its slot encoding
// does not.
type node struct {
	slots []atomic.Pointer[slotValue]
}

func newNode(fanout int) *node {
	return &node{slots: make([]atomic.Pointer[slotValue], fanout)}
}

// Dir is one heap's page directory.
type Dir struct {
	root    *node
	version uint64 // odd while a writer is in flight, even when quiescent
}

// New creates an empty page directory.
func New() *Dir {
	return &Dir{root: newNode(fanout1)}
}

// Version returns the current value of the directory version counter,
// for callers implementing their own retry-on-odd-or-changed protocol
// around a batch of Find calls.
func (d *Dir) Version() uint64 {
	return atom.Load64(&d.version)
}

// Set records that the directory id owns every page in
// [base, base+length). base and length must already be page-aligned;
// callers above this layer are responsible for rounding.
func (d *Dir) Set(id uint32, base, length uintptr) {
	d.mutate(func() {
		writeRange(d.root, 1, uint64(base>>PageBits), uint64(length>>PageBits), &slotValue{id: id, isID: true})
	})
}

// Unset clears every page in [base, base+length), releasing any trie
// nodes that become unreachable to the garbage collector.
func (d *Dir) Unset(base, length uintptr) {
	d.mutate(func() {
		writeRange(d.root, 1, uint64(base>>PageBits), uint64(length>>PageBits), nil)
	})
}

func (d *Dir) mutate(fn func()) {
	atom.Bump(&d.version) // now odd: writing
	fn()
	atom.Bump(&d.version) // now even: quiescent
}

// Find returns the directory id owning addr, or (0, false) if addr is
// unmapped or outside the configured VM width. It never blocks; a caller
// that needs a result consistent with a specific point in time should
// read Version() before and after and retry on a change or an odd value.
func (d *Dir) Find(addr uintptr) (uint32, bool) {
	if addr>>VMBits != 0 {
		return 0, false
	}

	page := addr >> PageBits
	n := d.root

	for level := 1; ; level++ {
		idx := localIndex(uint64(page), level)
		v := n.slots[idx].Load()

		if v == nil {
			return 0, false
		}

		if v.isID {
			return v.id, true
		}

		n = v.child
	}
}

// writeRange installs value (nil to clear) across the page range
// [pageStart, pageStart+pageCount) starting at trie level `level`. It
// collapses any sub-range that is exactly aligned to, and exactly fills,
// a slot's span into a single id slot rather than descending.
func writeRange(n *node, level int, pageStart, pageCount uint64, value *slotValue) {
	span := spanAt(level)

	for pageCount > 0 {
		idx := localIndex(pageStart, level)
		offsetInSlot := pageStart % span
		avail := span - offsetInSlot
		take := avail

		if pageCount < take {
			take = pageCount
		}

		if level == leafLevel || (offsetInSlot == 0 && take == span) {
			n.slots[idx].Store(value)
		} else {
			child := childFor(n, idx, level)
			writeRange(child, level+1, pageStart, take, value)
		}

		pageStart += take
		pageCount -= take
	}
}

// childFor returns the child node at idx, creating it with a compare-
// and-swap if absent. Page-directory writes are single-writer per heap
// (normally written only by its owner), but the CAS keeps this safe
// even if that invariant is ever relaxed.
func childFor(n *node, idx int, level int) *node {
	for {
		v := n.slots[idx].Load()
		if v != nil && !v.isID {
			return v.child
		}

		candidate := &slotValue{child: newNode(fanoutAt(level + 1))}
		if n.slots[idx].CompareAndSwap(v, candidate) {
			return candidate.child
		}
	}
}

func localIndex(page uint64, level int) int {
	switch level {
	case 1:
		return int((page / span1) % fanout1)
	case 2:
		return int((page / span2) % fanout2)
	default:
		return int(page % fanout3)
	}
}

func spanAt(level int) uint64 {
	switch level {
	case 1:
		return span1
	case 2:
		return span2
	default:
		return span3
	}
}

func fanoutAt(level int) int {
	switch level {
	case 1:
		return fanout1
	case 2:
		return fanout2
	default:
		return fanout3
	}
}
