package oalloc_test

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/orizon-lang/oalloc"
	"github.com/orizon-lang/oalloc/config"
	"github.com/orizon-lang/oalloc/internal/diag"
)

func newTestAllocator(t *testing.T) *oalloc.Allocator {
	t.Helper()

	a, err := oalloc.New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return a
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(64)
	if p == 0 {
		t.Fatal("Allocate(64) returned 0")
	}

	if got := a.UsableSize(p); got < 64 {
		t.Fatalf("UsableSize = %d, want >= 64", got)
	}

	a.Release(p)

	if got := a.UsableSize(p); got != 0 {
		t.Fatalf("UsableSize after release = %d, want 0", got)
	}
}

func TestAllocateZeroReturnsZeroBlock(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(0)
	if p == 0 {
		t.Fatal("Allocate(0) returned 0")
	}

	// A second allocate(0) must return the same sentinel.
	if q := a.Allocate(0); q != p {
		t.Fatalf("Allocate(0) not stable: %#x vs %#x", p, q)
	}

	a.Release(p) // no-op on a pristine zero-block
}

func TestAllocateZeroedZeroesExactRequest(t *testing.T) {
	a := newTestAllocator(t)

	p := a.AllocateZeroed(16, 8)
	if p == 0 {
		t.Fatal("AllocateZeroed(16, 8) returned 0")
	}

	defer a.Release(p)

	b := unsafeReadBytes(p, 128)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestAllocateZeroedOverflowFails(t *testing.T) {
	a := newTestAllocator(t)

	const maxUint = ^uintptr(0)

	if p := a.AllocateZeroed(maxUint, 2); p != 0 {
		t.Fatalf("AllocateZeroed overflow should fail, got %#x", p)
	}
}

func TestResizeGrowsAndPreservesContent(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(32)
	b := unsafeReadBytes(p, 32)
	for i := range b {
		b[i] = byte(i)
	}

	q := a.Resize(p, 256)
	if q == 0 {
		t.Fatal("Resize to 256 failed")
	}

	got := unsafeReadBytes(q, 32)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d after resize, want %d", i, got[i], byte(i))
		}
	}

	a.Release(q)
}

func TestResizeToZeroReleases(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(64)

	q := a.Resize(p, 0)
	if q == 0 {
		t.Fatal("Resize(p, 0) should return the zero-block sentinel, not 0")
	}

	if got := a.UsableSize(p); got != 0 {
		t.Fatalf("UsableSize(p) after resize-to-zero = %d, want 0", got)
	}
}

func TestAlignedAllocateRespectsAlignment(t *testing.T) {
	a := newTestAllocator(t)

	const align = 4096

	p := a.AlignedAllocate(align, 100)
	if p == 0 {
		t.Fatal("AlignedAllocate(4096, 100) returned 0")
	}

	if p%align != 0 {
		t.Fatalf("pointer %#x is not %d-aligned", p, align)
	}

	if got := a.UsableSize(p); got < 100 {
		t.Fatalf("UsableSize = %d, want >= 100", got)
	}

	a.Release(p)
}

func TestReleaseSizedRejectsMismatchedLength(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(64)

	before := a.Sink().CounterValue(diag.KindSizeMismatch)
	a.ReleaseSized(p, 63)
	after := a.Sink().CounterValue(diag.KindSizeMismatch)

	if after != before+1 {
		t.Fatalf("KindSizeMismatch counter = %d, want %d", after, before+1)
	}

	if got := a.UsableSize(p); got == 0 {
		t.Fatal("UsableSize after a rejected ReleaseSized should still report the live block")
	}

	a.ReleaseSized(p, a.UsableSize(p))

	if got := a.UsableSize(p); got != 0 {
		t.Fatalf("UsableSize after a correctly-sized ReleaseSized = %d, want 0", got)
	}
}

func TestDoubleFreeIsCountedNotFatal(t *testing.T) {
	a := newTestAllocator(t)

	p := a.Allocate(64)
	a.Release(p)

	before := a.Sink().CounterValue(diag.KindDoubleFree)
	a.Release(p)
	after := a.Sink().CounterValue(diag.KindDoubleFree)

	if after != before+1 {
		t.Fatalf("double-free counter = %d, want %d", after, before+1)
	}
}

// TestCrossThreadFree covers a cross-thread free: thread A allocates,
// hands the pointers to thread B, B releases them all, and afterward A
// must still be able to allocate in the same size class, reusing at
// least one pointer B released. The reallocation happens on the same
// goroutine that did the original allocating, so it binds to the same
// heap through the binding table.
func TestCrossThreadFree(t *testing.T) {
	a := newTestAllocator(t)

	const n = 1000

	ptrs := make(chan uintptr, n)
	releasedDone := make(chan map[uintptr]bool, 1)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() { // thread A
		defer wg.Done()

		for i := 0; i < n; i++ {
			p := a.Allocate(48)
			if p == 0 {
				t.Error("thread A allocate(48) failed")
				return
			}

			ptrs <- p
		}

		close(ptrs)

		released := <-releasedDone

		reused := false

		for i := 0; i < n; i++ {
			p := a.Allocate(48)
			if p == 0 {
				t.Error("thread A post-cross-thread-free allocate(48) failed")
				return
			}

			if released[p] {
				reused = true
			}
		}

		if !reused {
			t.Error("expected at least one reused pointer after cross-thread frees")
		}
	}()

	go func() { // thread B
		defer wg.Done()

		released := make(map[uintptr]bool, n)

		for p := range ptrs {
			a.Release(p)
			released[p] = true
		}

		releasedDone <- released
	}()

	wg.Wait()
}

func unsafeReadBytes(ptr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
}
