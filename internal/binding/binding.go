// Package binding resolves "the calling thread's heap": it ties a
// thread identity to one heap.Heap and one mini.Heap, creating both
// lazily on first use, and keeps a small per-identity "most recently
// used foreign heap" hint for the remote-free bridge.
//
// Grounded on an open-addressing table of {thread-id, heap-ptr} slots,
// probed by a murmur-mix hash and doubled past 25% load, and on the
// per-P sharded local pool in the pack reference sync/pool.go: Go
// exposes no portable, stable OS thread id to user code, so the
// thread-identity key used to probe the table is platform-specific
// (see binding_linux.go / binding_other.go) while the table itself is
// identical on every platform.
package binding

import (
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/heap"
	"github.com/orizon-lang/oalloc/internal/mini"
	"github.com/orizon-lang/oalloc/internal/osmem"
)

// loadFactorNumerator/Denominator is the 25% crowding threshold that
// triggers the table's growth.
const (
	loadFactorNumerator   = 1
	loadFactorDenominator = 4
)

const initialCapacity = 16

// slot is one occupied-or-empty table entry. key == 0 means empty; a
// real thread-identity key of zero is remapped to ^uint64(0) so the
// sentinel stays unambiguous.
//
// key is published last, after heap and mini are already set: a live
// table is read lock-free by find (no growMu held), so a writer
// installing a new entry in an already-published table must not let a
// concurrent reader observe a non-zero key before the heap/mini
// pointers it identifies are visible. Go's memory model gives atomic
// load/store operations on the same variable a synchronizes-before
// edge, so an atomic Store of key after the plain writes to heap/mini,
// observed by an atomic Load in find, carries those plain writes along
// with it; heap and mini themselves never need to be atomic.
type slot struct {
	key  atomic.Uint64
	heap *heap.Heap
	mini *mini.Heap

	// foreignHeap is this thread's most-recently-used-foreign-heap hint,
	// consulted first by the remote-free bridge
	// before it falls back to walking the global heap list.
	foreignHeap atomic.Pointer[heap.Heap]
}

// table is one generation of the open-addressing array. Replaced
// wholesale (under growMu) when load crosses the threshold; readers
// already holding a *table pointer keep working against it until they
// re-load, so growth never exposes a half-built table, without
// requiring a lazy per-slot migration.
type table struct {
	slots []slot
	mask  uint64
	count int64 // guarded by Table.growMu
}

// Table is a process-wide (or test-scoped) thread-to-heap binding.
type Table struct {
	mem    osmem.Shim
	sink   *diag.Sink
	tuning heap.Tuning

	cur atomic.Pointer[table]

	growMu sync.Mutex
	nextID uint32
}

// miniNode links every mini-heap ever created into one global,
// lock-free list so the remote-free bridge's last-resort scan can
// check "is this pointer merely a mini-heap allocation" across every
// thread, not just the caller's own.
type miniNode struct {
	h    *mini.Heap
	next *miniNode
}

// allMini is the head of the global mini-heap list, shared by every
// Table, for the remote-free bridge's mini-heap fallback.
var allMini atomic.Pointer[miniNode]

// New creates a binding table backed by mem, reporting through sink,
// with heaps tuned by tuning.
func New(mem osmem.Shim, sink *diag.Sink, tuning heap.Tuning) *Table {
	t := &Table{mem: mem, sink: sink, tuning: tuning}
	t.cur.Store(newTableData(initialCapacity))

	return t
}

func newTableData(capacity int) *table {
	return &table{slots: make([]slot, capacity), mask: uint64(capacity - 1)}
}

// mix64 is the murmur3 finalizer (fmix64), used to scatter thread-id
// keys across the table.
func mix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33

	return k
}

func normalizeKey(key uint64) uint64 {
	if key == 0 {
		return ^uint64(0)
	}

	return key
}

// Current returns the heap and mini-heap bound to the calling thread,
// creating both on first use.
func (t *Table) Current() (*heap.Heap, *mini.Heap) {
	key := normalizeKey(threadKey())

	if s := t.find(key); s != nil {
		return s.heap, s.mini
	}

	return t.createSlot(key)
}

// find does a lock-free linear probe of the current table generation.
func (t *Table) find(key uint64) *slot {
	data := t.cur.Load()
	h := mix64(key)

	for i := uint64(0); i <= data.mask; i++ {
		idx := (h + i) & data.mask
		s := &data.slots[idx]

		sk := s.key.Load()
		if sk == 0 {
			return nil
		}

		if sk == key {
			return s
		}
	}

	return nil
}

// createSlot installs a new {key, heap, mini} entry, growing the table
// first if occupancy has crossed 25%. Double-checks under growMu in
// case another thread raced to create the same key.
func (t *Table) createSlot(key uint64) (*heap.Heap, *mini.Heap) {
	t.growMu.Lock()
	defer t.growMu.Unlock()

	if s := t.find(key); s != nil {
		return s.heap, s.mini
	}

	data := t.cur.Load()
	if (data.count+1)*loadFactorDenominator > int64(len(data.slots))*loadFactorNumerator {
		data = t.growLocked(data)
	}

	h := mix64(key)

	for i := uint64(0); i <= data.mask; i++ {
		idx := (h + i) & data.mask
		s := &data.slots[idx]

		if s.key.Load() == 0 {
			newHeap := heap.New(t.nextHeapID(), t.mem, t.sink, t.tuning)
			newMini := mini.New(t.mem, mini.DefaultSize)

			// Publish heap/mini before key: a concurrent lock-free find on
			// this already-live table must never observe a matching key
			// before the pointers it resolves to are visible.
			s.heap = newHeap
			s.mini = newMini
			s.key.Store(key)
			data.count++

			t.pushMini(newMini)

			return newHeap, newMini
		}
	}

	// Unreachable with the growth policy above, but fall back to a
	// regrow-and-retry rather than a panic if it ever is.
	data = t.growLocked(data)

	return t.createSlot(key)
}

// growLocked doubles the table, rehashing every occupied slot into the
// new generation, then publishes it. Callers hold growMu.
func (t *Table) growLocked(old *table) *table {
	next := newTableData(len(old.slots) * 2)

	for i := range old.slots {
		s := &old.slots[i]

		sk := s.key.Load()
		if sk == 0 {
			continue
		}

		h := mix64(sk)
		for j := uint64(0); ; j++ {
			idx := (h + j) & next.mask
			if next.slots[idx].key.Load() == 0 {
				// next is not yet reachable from t.cur, so there is no
				// concurrent lock-free reader of it; ordering within this
				// loop doesn't matter, only that the whole table is built
				// before t.cur.Store below publishes it.
				next.slots[idx].heap = s.heap
				next.slots[idx].mini = s.mini
				next.slots[idx].key.Store(sk)
				next.count++

				break
			}
		}
	}

	t.cur.Store(next)

	return next
}

func (t *Table) nextHeapID() uint32 {
	return atomic.AddUint32(&t.nextID, 1)
}

func (t *Table) pushMini(m *mini.Heap) {
	n := &miniNode{h: m}

	for {
		old := allMini.Load()
		n.next = old

		if allMini.CompareAndSwap(old, n) {
			return
		}
	}
}

// RangeMini calls fn for every mini-heap ever created by any Table,
// until fn returns false or the list is exhausted — the remote-free
// bridge's last-resort scan.
func (t *Table) RangeMini(fn func(*mini.Heap) bool) {
	for n := allMini.Load(); n != nil; n = n.next {
		if !fn(n.h) {
			return
		}
	}
}

// SetForeignHint records h as the calling thread's most-recently-used
// foreign heap, consulted first on the next remote release.
func (t *Table) SetForeignHint(h *heap.Heap) {
	key := normalizeKey(threadKey())
	if s := t.find(key); s != nil {
		s.foreignHeap.Store(h)
	}
}

// ForeignHint returns the calling thread's most-recently-used foreign
// heap, or nil if none is recorded.
func (t *Table) ForeignHint() *heap.Heap {
	key := normalizeKey(threadKey())
	if s := t.find(key); s != nil {
		return s.foreignHeap.Load()
	}

	return nil
}

// Sink returns the diagnostics sink every heap created by this table
// reports into, for callers (the remote-free bridge) that need to
// report a fault not attributable to any single heap.
func (t *Table) Sink() *diag.Sink { return t.sink }
