package binding

import (
	"sync"
	"testing"

	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/heap"
	"github.com/orizon-lang/oalloc/internal/osmem"
)

func newTestTable() *Table {
	return New(osmem.Default(), diag.NewSink(), heap.Tuning{})
}

func TestCurrentStableWithinOneGoroutine(t *testing.T) {
	tbl := newTestTable()

	h1, m1 := tbl.Current()
	h2, m2 := tbl.Current()

	if h1 != h2 {
		t.Fatalf("Current returned different heaps for the same goroutine")
	}

	if m1 != m2 {
		t.Fatalf("Current returned different mini-heaps for the same goroutine")
	}
}

func TestCurrentDistinctAcrossManyGoroutines(t *testing.T) {
	tbl := newTestTable()

	const n = 64

	seen := make(chan *heap.Heap, n)

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			h, _ := tbl.Current()
			seen <- h
		}()
	}

	wg.Wait()
	close(seen)

	distinct := make(map[*heap.Heap]bool)
	for h := range seen {
		distinct[h] = true
	}

	// Affinity keys are a hint, not a guarantee, but 64 concurrent
	// goroutines should not all collapse onto a single heap.
	if len(distinct) < 2 {
		t.Fatalf("expected more than one distinct heap across %d goroutines, got %d", n, len(distinct))
	}
}

func TestGrowPreservesExistingBindings(t *testing.T) {
	tbl := newTestTable()

	bound := make(map[uint64]*heap.Heap)

	for i := uint64(0); i < initialCapacity*4; i++ {
		key := normalizeKey(i + 1)
		h, _ := tbl.createSlot(key)
		bound[key] = h
	}

	for key, h := range bound {
		if s := tbl.find(key); s == nil || s.heap != h {
			t.Fatalf("binding for key %d lost after growth", key)
		}
	}
}

func TestForeignHintRoundTrip(t *testing.T) {
	tbl := newTestTable()

	if tbl.ForeignHint() != nil {
		t.Fatalf("expected no foreign hint before first Current")
	}

	tbl.Current()

	other := heap.New(999, osmem.Default(), diag.NewSink(), heap.Tuning{})

	tbl.SetForeignHint(other)

	if got := tbl.ForeignHint(); got != other {
		t.Fatalf("ForeignHint() = %v, want %v", got, other)
	}
}
