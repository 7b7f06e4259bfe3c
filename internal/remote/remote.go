// Package remote implements the remote-free bridge: the
// path a release takes when ptr does not belong to the calling
// thread's own heap.
package remote

import (
	"github.com/orizon-lang/oalloc/internal/binding"
	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/heap"
	"github.com/orizon-lang/oalloc/internal/mini"
)

// maxVersionRetries bounds the page-directory version-counter retry
// loop's "up to a bounded retry count" escape hatch.
const maxVersionRetries = 8

// Release attempts to free ptr as a foreign thread, given that it was
// already confirmed absent from the calling thread's own heap and
// mini-heap. It follows in order:
//  1. the calling thread's most-recently-used-foreign-heap hint,
//  2. a walk of the global heap list, each one searched under the
//     page directory's version-counter consistency protocol,
//  3. on a miss everywhere, every thread's mini-heap (a match there is
//     not an error — mini-heap allocations are never freed individually),
//  4. otherwise an invalid-free report naming ptr; no nearest-region
//     context is attached.
//
// It returns true if ptr was recognized anywhere (freed, or a no-op
// mini-heap match); false only once every known heap and mini-heap have
// been searched without a match.
func Release(t *binding.Table, ptr uintptr) bool {
	if h := t.ForeignHint(); h != nil && h.TryRemoteRelease(ptr) {
		return true
	}

	var owner *heap.Heap

	heap.Range(func(h *heap.Heap) bool {
		if !dirContains(h, ptr) {
			return true
		}

		owner = h

		return false
	})

	if owner != nil {
		t.SetForeignHint(owner)
		owner.TryRemoteRelease(ptr)

		return true
	}

	if inAnyMiniHeap(t, ptr) {
		return true
	}

	t.Sink().Count(diag.KindInvalidFree, "remote release(%#x): not found in any heap or mini-heap", ptr)

	return false
}

// dirContains asks h's page directory whether it owns ptr, retrying up
// to maxVersionRetries times if a concurrent Set/Unset is observed
// mid-lookup (an odd version, or one that changed between entry and
// exit) rather than trusting a possibly-torn read.
func dirContains(h *heap.Heap, ptr uintptr) bool {
	d := h.Dir()

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		before := d.Version()
		if before%2 == 1 {
			continue
		}

		_, ok := d.Find(ptr)

		after := d.Version()
		if before == after {
			return ok
		}
	}

	_, ok := d.Find(ptr)

	return ok
}

// inAnyMiniHeap reports whether ptr falls within any thread's mini-heap
// range at all, regardless of whether it is a live allocation within
// it — a mini-heap match only needs "not an error", not a usable size.
func inAnyMiniHeap(t *binding.Table, ptr uintptr) bool {
	found := false

	t.RangeMini(func(m *mini.Heap) bool {
		if m.Contains(ptr) {
			found = true
			return false
		}

		return true
	})

	return found
}
