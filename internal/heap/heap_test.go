package heap

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/osmem"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	return New(uint32(testHeapID()), osmem.Default(), diag.NewSink(), Tuning{})
}

var heapIDCounter uint32

func testHeapID() uint32 {
	heapIDCounter++
	return heapIDCounter
}

func TestAllocateReturnsWritableMemoryOfRequestedSize(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(48)
	if ptr == 0 {
		t.Fatalf("Allocate(48) = 0, want a live pointer")
	}

	if got := h.UsableSize(ptr); got < 48 {
		t.Fatalf("UsableSize(ptr) = %d, want at least 48", got)
	}

	b := bytesAt(ptr, 48)
	for i := range b {
		b[i] = byte(i)
	}

	for i := range b {
		if b[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b[i], byte(i))
		}
	}

	h.Release(ptr)
}

func TestAllocateZeroReturnsZeroBlockSentinel(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(0)
	if ptr == 0 {
		t.Fatalf("Allocate(0) = 0, want the zero-block sentinel")
	}

	if ptr != ZeroBlock() {
		t.Fatalf("Allocate(0) = %#x, want the zero-block sentinel %#x", ptr, ZeroBlock())
	}

	h.Release(ptr) // must be a silent no-op
}

func TestAllocateZeroedFillsWithZeroBytes(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.AllocateZeroed(16, 8)
	if ptr == 0 {
		t.Fatalf("AllocateZeroed(16, 8) = 0")
	}

	for _, b := range bytesAt(ptr, 128) {
		if b != 0 {
			t.Fatalf("AllocateZeroed block was not zeroed")
		}
	}

	h.Release(ptr)
}

func TestAllocateZeroedOverflowFails(t *testing.T) {
	h := newTestHeap(t)

	huge := ^uintptr(0)
	if ptr := h.AllocateZeroed(huge, 2); ptr != 0 {
		t.Fatalf("AllocateZeroed overflow = %#x, want 0", ptr)
	}
}

func TestDoubleReleaseIsDiagnosedAsDoubleFree(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(32)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	h.Release(ptr)
	h.Release(ptr)

	if got := h.Sink().CounterValue(diag.KindDoubleFree); got != 1 {
		t.Fatalf("KindDoubleFree count = %d, want 1", got)
	}
}

func TestReleaseOfUnknownPointerIsDiagnosedAsInvalidFree(t *testing.T) {
	h := newTestHeap(t)

	h.Release(0xdeadbeef)

	if got := h.Sink().CounterValue(diag.KindInvalidFree); got != 1 {
		t.Fatalf("KindInvalidFree count = %d, want 1", got)
	}
}

func TestReleaseSizedAcceptsTheActualSlabCellLength(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(16)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	h.ReleaseSized(ptr, 16)

	if got := h.UsableSize(ptr); got != 0 {
		t.Fatalf("UsableSize after ReleaseSized = %d, want 0", got)
	}

	if got := h.Sink().CounterValue(diag.KindSizeMismatch); got != 0 {
		t.Fatalf("KindSizeMismatch count = %d, want 0", got)
	}
}

func TestReleaseSizedRejectsWrongSlabLength(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(16)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	h.ReleaseSized(ptr, 24)

	if got := h.Sink().CounterValue(diag.KindSizeMismatch); got != 1 {
		t.Fatalf("KindSizeMismatch count = %d, want 1", got)
	}

	// The block must still be live: the mismatch left it untouched.
	if got := h.UsableSize(ptr); got != 16 {
		t.Fatalf("UsableSize after rejected ReleaseSized = %d, want 16", got)
	}
}

func TestReleaseSizedRejectsWrongDirectMapLength(t *testing.T) {
	h := newTestHeap(t)

	const length = 1 << 20

	ptr := h.Allocate(length)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	h.ReleaseSized(ptr, length-1)

	if got := h.Sink().CounterValue(diag.KindSizeMismatch); got != 1 {
		t.Fatalf("KindSizeMismatch count = %d, want 1", got)
	}

	h.ReleaseSized(ptr, h.UsableSize(ptr))

	if got := h.UsableSize(ptr); got != 0 {
		t.Fatalf("UsableSize after correct ReleaseSized = %d, want 0", got)
	}
}

func TestResizeGrowingCopiesPriorContent(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(16)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	src := bytesAt(ptr, 16)
	for i := range src {
		src[i] = byte(i + 1)
	}

	grown := h.Resize(ptr, 4096)
	if grown == 0 {
		t.Fatalf("Resize growing: 0")
	}

	dst := bytesAt(grown, 16)
	for i := range dst {
		if dst[i] != byte(i+1) {
			t.Fatalf("byte %d = %d after growing resize, want %d", i, dst[i], byte(i+1))
		}
	}

	h.Release(grown)
}

func TestResizeToZeroReleasesAndReturnsZeroBlock(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.Allocate(24)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	got := h.Resize(ptr, 0)
	if got != ZeroBlock() {
		t.Fatalf("Resize(ptr, 0) = %#x, want the zero-block sentinel", got)
	}

	h.Release(ptr)

	if count := h.Sink().CounterValue(diag.KindDoubleFree); count != 1 {
		t.Fatalf("releasing an already-resized-to-zero pointer should read as a double free, got count %d", count)
	}
}

func TestAlignedAllocateHonorsAlignment(t *testing.T) {
	h := newTestHeap(t)

	const align = 4096

	ptr := h.AlignedAllocate(align, 100)
	if ptr == 0 {
		t.Fatalf("AlignedAllocate: 0")
	}

	if ptr%align != 0 {
		t.Fatalf("AlignedAllocate returned %#x, not aligned to %d", ptr, align)
	}

	if got := h.UsableSize(ptr); got < 100 {
		t.Fatalf("UsableSize(ptr) = %d, want at least 100", got)
	}

	h.Release(ptr)
}

func TestAlignedAllocateAtOrBelowNaturalAlignmentUsesOrdinaryPath(t *testing.T) {
	h := newTestHeap(t)

	ptr := h.AlignedAllocate(8, 40)
	if ptr == 0 {
		t.Fatalf("AlignedAllocate(8, 40): 0")
	}

	if ptr%8 != 0 {
		t.Fatalf("AlignedAllocate(8, 40) returned %#x, not 8-aligned", ptr)
	}

	h.Release(ptr)
}

func TestResizeOfAlignedAllocationFallsBackToCopy(t *testing.T) {
	h := newTestHeap(t)

	const align = 4096

	ptr := h.AlignedAllocate(align, 64)
	if ptr == 0 {
		t.Fatalf("AlignedAllocate: 0")
	}

	bytesAt(ptr, 64)[0] = 0x42

	grown := h.Resize(ptr, 8192)
	if grown == 0 {
		t.Fatalf("Resize of aligned block: 0")
	}

	if bytesAt(grown, 1)[0] != 0x42 {
		t.Fatalf("Resize of aligned block lost its content")
	}

	h.Release(grown)
}

func TestConcurrentAllocateAndReleaseDoesNotCorruptState(t *testing.T) {
	h := newTestHeap(t)

	const goroutines = 8
	const rounds = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()

			for i := 0; i < rounds; i++ {
				ptr := h.Allocate(uintptr(16 + i%48))
				if ptr == 0 {
					continue
				}

				h.Release(ptr)
			}
		}()
	}

	wg.Wait()

	if got := h.Sink().CounterValue(diag.KindDoubleFree); got != 0 {
		t.Fatalf("KindDoubleFree count = %d, want 0 after disjoint concurrent use", got)
	}
}

func TestTrimPassReclaimsIdleEmptySlabRegion(t *testing.T) {
	h := newTestHeap(t)
	h.tuning = Tuning{RegionInterval: 1, TrimScan: 64, TrimAge: time.Millisecond}.withDefaults()

	ptr := h.Allocate(32)
	if ptr == 0 {
		t.Fatalf("Allocate: 0")
	}

	h.Release(ptr)

	before := h.regions.Count()

	time.Sleep(5 * time.Millisecond)
	h.trimPass()

	if got := h.Allocate(32); got == 0 {
		t.Fatalf("Allocate after trim pass: 0")
	} else {
		h.Release(got)
	}

	if h.regions.Count() < before {
		t.Fatalf("region pool count shrank; descriptors must be recycled, not shrunk")
	}
}

func TestRangeVisitsRegisteredHeaps(t *testing.T) {
	h := newTestHeap(t)

	seen := false

	Range(func(candidate *Heap) bool {
		if candidate == h {
			seen = true
			return false
		}

		return true
	})

	if !seen {
		t.Fatalf("Range never visited a freshly registered heap")
	}
}

func bytesAt(ptr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
}
