// Package selftest runs the allocator's testable properties against a
// live heap.Heap at runtime, as an opt-in check distinct from the
// package's own _test.go unit tests.
//
// Grounded on original_source/bist.h, the "built-in self test" the
// yalloc source can invoke on a running heap via a parallel shadow map.
// A full shadow map is deliberately out of scope here; selftest does
// not reimplement one, it drives the heap's own public surface and
// checks round-trip and boundary properties, the same way
// bist_add/bist_del double-check a live heap's bookkeeping from
// outside.
package selftest

import (
	"fmt"

	"github.com/orizon-lang/oalloc/internal/heap"
)

// Failure is one property violation discovered by Run.
type Failure struct {
	Property string
	Detail   string
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Property, f.Detail)
}

// Run exercises h against a fixed battery of allocation scenarios and
// returns every property that did not hold. A nil/empty result means
// every checked property held.
func Run(h *heap.Heap) []Failure {
	var failures []Failure

	check := func(ok bool, property, detail string) {
		if !ok {
			failures = append(failures, Failure{Property: property, Detail: detail})
		}
	}

	// Boundary: allocate(0) returns the zero-block sentinel.
	zero := h.Allocate(0)
	check(zero == heap.ZeroBlock(), "allocate(0)-is-zero-block",
		fmt.Sprintf("allocate(0) = %#x, want zero-block %#x", zero, heap.ZeroBlock()))

	// Idempotence: release(zero-block) and release(null) are no-ops.
	h.Release(heap.ZeroBlock())
	h.Release(0)

	// Tiny classes monotonicity: three 1-byte allocations share one
	// cell length and a sane usable size.
	p1 := h.Allocate(1)
	p2 := h.Allocate(1)
	p3 := h.Allocate(1)

	check(p1 != 0 && p2 != 0 && p3 != 0, "tiny-allocations-succeed",
		fmt.Sprintf("allocate(1) returned p1=%#x p2=%#x p3=%#x", p1, p2, p3))

	if p1 != 0 && p2 != 0 && p3 != 0 {
		s1, s2 := diff(p1, p2), diff(p2, p3)
		check(s1 == s2, "tiny-classes-uniform-stride",
			fmt.Sprintf("stride p1->p2 = %d, p2->p3 = %d", s1, s2))

		check(h.UsableSize(p1) >= 1, "tiny-usable-size-at-least-requested",
			fmt.Sprintf("UsableSize(p1) = %d, want >= 1", h.UsableSize(p1)))
	}

	h.Release(p1)
	h.Release(p2)
	h.Release(p3)

	// Round-trip: usable-size reports zero after a successful release.
	p := h.Allocate(64)
	check(p != 0, "round-trip-alloc-succeeds", "allocate(64) returned 0")

	if p != 0 {
		h.Release(p)
		check(h.UsableSize(p) == 0, "release-then-usable-size-zero",
			fmt.Sprintf("UsableSize after release = %d, want 0", h.UsableSize(p)))
	}

	// resize(p, usable-size(p)) returns p without relocating.
	q := h.Allocate(128)
	if q != 0 {
		usable := h.UsableSize(q)
		r := h.Resize(q, usable)
		check(r == q, "resize-to-own-usable-size-is-noop",
			fmt.Sprintf("Resize(q, %d) = %#x, want %#x", usable, r, q))
		h.Release(r)
	}

	// Direct-map round-trip: a large allocation releases cleanly and
	// its usable size drops to zero afterward.
	big := h.Allocate(2 << 20)
	check(big != 0, "direct-map-alloc-succeeds", "allocate(2 MiB) returned 0")

	if big != 0 {
		h.Release(big)
		check(h.UsableSize(big) == 0, "direct-map-release-then-usable-size-zero",
			fmt.Sprintf("UsableSize after direct-map release = %d, want 0", h.UsableSize(big)))
	}

	// Aligned allocation boundary: a page-aligned request returns a
	// pointer whose low bits are all zero.
	const pageAlign = 4096

	ap := h.AlignedAllocate(pageAlign, 100)
	check(ap != 0, "aligned-allocate-succeeds", "aligned-allocate(4096, 100) returned 0")

	if ap != 0 {
		check(ap%pageAlign == 0, "aligned-allocate-respects-alignment",
			fmt.Sprintf("pointer %#x is not %d-aligned", ap, pageAlign))
		h.Release(ap)
	}

	return failures
}

func diff(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}

	return b - a
}
