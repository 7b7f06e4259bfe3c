// Package oalloc is a drop-in replacement for the C-style dynamic
// memory allocation interface (allocate, release, resize,
// allocate-aligned, usable-size): a three-tier allocation engine (a
// bump mini-heap, a slab engine, and a direct-map engine) bound to a
// page directory and a per-thread heap, wired together here into the
// six public entry points the C interface names.
//
// Package-level Allocate/Release/etc. operate on a process-wide default
// binding table, created lazily on first use and torn down by
// Shutdown. Embedders that want an isolated allocator (for testing, or
// to run two independently-configured allocators in one process) can
// construct their own with New.
package oalloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/oalloc/config"
	"github.com/orizon-lang/oalloc/internal/binding"
	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/heap"
	"github.com/orizon-lang/oalloc/internal/mini"
	"github.com/orizon-lang/oalloc/internal/osmem"
	"github.com/orizon-lang/oalloc/internal/remote"
)

// Version is this build's semantic version, checked against
// config.Config.RequireVersion by Init when an embedder pins one.
const Version = "1.0.0"

func init() {
	if _, err := semver.NewVersion(Version); err != nil {
		panic(fmt.Sprintf("oalloc: invalid built-in Version %q: %v", Version, err))
	}
}

// Allocator is a self-contained instance of the three-tier engine: its
// own binding table, diagnostics sink, and metrics exporter/streamer.
// The zero value is not usable; use New.
type Allocator struct {
	cfg  config.Config
	sink *diag.Sink
	tbl  *binding.Table

	exporter *diag.Exporter
	streamer *diag.Streamer
}

// New creates an Allocator from cfg, validating cfg.RequireVersion (if
// set) against Version.
func New(cfg config.Config) (*Allocator, error) {
	if err := config.Init(cfg, Version); err != nil {
		return nil, err
	}

	sink := diag.NewSink()
	mem := osmem.Default()

	tuning := heap.Tuning{
		RegionInterval: cfg.RegionInterval,
		TrimScan:       cfg.TrimScan,
		TrimAge:        cfg.TrimAge,
	}

	a := &Allocator{
		cfg:  cfg,
		sink: sink,
		tbl:  binding.New(mem, sink, tuning),
	}

	return a, nil
}

// Allocate returns a pointer to at least length bytes, or 0 on failure.
// length == 0 returns the process-wide zero-block sentinel.
func (a *Allocator) Allocate(length uintptr) uintptr {
	h, m := a.tbl.Current()

	if length > 0 && length <= mini.Bumpmax {
		if ptr := m.Allocate(length); ptr != 0 {
			return ptr
		}
	}

	return h.Allocate(length)
}

// AllocateZeroed returns count*size zeroed bytes, failing (returning 0)
// on a count*size overflow. As a debugging hook, count == 0 with size
// equal to config.TriggerStatsMagic prints this Allocator's statistics
// instead of allocating.
func (a *Allocator) AllocateZeroed(count, size uintptr) uintptr {
	if count == 0 && size == config.TriggerStatsMagic {
		a.PrintStats()
		return heap.ZeroBlock()
	}

	h, _ := a.tbl.Current()

	return h.AllocateZeroed(count, size)
}

// Resize changes the allocation at ptr to newLength bytes, returning
// the (possibly relocated) pointer, or 0 on failure. A ptr that belongs
// to a mini-heap cannot be resized in place (mini-heap allocations are
// never freed individually); it is promoted to the real heap via
// allocate-copy.
func (a *Allocator) Resize(ptr, newLength uintptr) uintptr {
	h, m := a.tbl.Current()

	if m.Contains(ptr) {
		oldSize := m.Find(ptr)
		if newLength == 0 {
			return heap.ZeroBlock()
		}

		newPtr := h.Allocate(newLength)
		if newPtr == 0 {
			return 0
		}

		copyLength := oldSize
		if newLength < copyLength {
			copyLength = newLength
		}

		copyBytes(newPtr, ptr, copyLength)

		return newPtr
	}

	return h.Resize(ptr, newLength)
}

// Release frees ptr. A null pointer or the zero-block sentinel is a
// no-op. ptr may belong to any thread's heap; a foreign pointer is
// routed through the remote-free bridge.
func (a *Allocator) Release(ptr uintptr) {
	if ptr == 0 || ptr == heap.ZeroBlock() {
		return
	}

	h, m := a.tbl.Current()

	if m.Contains(ptr) {
		return // mini-heap allocations are never freed individually
	}

	if ownsDescriptor(h, ptr) {
		h.Release(ptr)
		return
	}

	remote.Release(a.tbl, ptr)
}

// ReleaseSized frees ptr like Release, but first validates length
// against the allocation's actual size, a sized-free compatibility
// shim akin to glibc's sized-free extensions or C++'s sized operator
// delete. ptr must be a real per-thread-heap allocation; mini-heap
// pointers (never freed individually) and foreign-thread pointers are
// out of scope for this shim, same as for Release's mini-heap case.
func (a *Allocator) ReleaseSized(ptr, length uintptr) {
	if ptr == 0 || ptr == heap.ZeroBlock() {
		return
	}

	h, m := a.tbl.Current()
	if m.Contains(ptr) {
		return
	}

	h.ReleaseSized(ptr, length)
}

// AlignedAllocate returns a pointer to at least length bytes aligned to
// align, which must be a power of two.
func (a *Allocator) AlignedAllocate(align, length uintptr) uintptr {
	h, _ := a.tbl.Current()

	return h.AlignedAllocate(align, length)
}

// UsableSize reports the usable capacity of the allocation at ptr,
// across both the mini-heap and the real heap, or 0 if ptr is not a
// live allocation known to the calling thread.
func (a *Allocator) UsableSize(ptr uintptr) uintptr {
	h, m := a.tbl.Current()

	if size := m.Find(ptr); size != 0 {
		return size
	}

	return h.UsableSize(ptr)
}

// Sink exposes this Allocator's diagnostics sink for direct inspection
// (error counters, recent diagnostic lines, per-class histogram).
func (a *Allocator) Sink() *diag.Sink { return a.sink }

// StartMetrics begins serving a Prometheus-style /metrics endpoint on
// addr, registering this Allocator's sink as one collector.
func (a *Allocator) StartMetrics(addr string) error {
	if a.exporter == nil {
		a.exporter = diag.NewExporter()
		a.exporter.Register("sink", a.sink.Snapshot)
	}

	return a.exporter.Start(addr)
}

// StopMetrics shuts the metrics exporter down, if one was started.
func (a *Allocator) StopMetrics() error {
	if a.exporter == nil {
		return nil
	}

	return a.exporter.Stop()
}

// StartStreamer begins pushing periodic stats snapshots over QUIC to
// addr, an opt-in diagnostics surface with no equivalent in the C
// interface this package otherwise mirrors.
func (a *Allocator) StartStreamer(addr string) (string, error) {
	a.streamer = diag.NewStreamer(a.sink, diag.StreamerOptions{Addr: addr})

	return diag.Start(a.streamer, addr, nil)
}

// StopStreamer stops the QUIC stats streamer, if one was started.
func (a *Allocator) StopStreamer() error {
	if a.streamer == nil {
		return nil
	}

	return a.streamer.Stop()
}

// PrintStats writes this Allocator's statistics to stdout, honoring
// a.cfg.StatsPrint's bit mask. Mirrored by the
// allocate-zeroed(0, TriggerStatsMagic) debugging hook.
func (a *Allocator) PrintStats() {
	printStats(a.sink, a.cfg.StatsPrint)
}

func copyBytes(dst, src, length uintptr) {
	if length == 0 {
		return
	}

	d := bytesAt(dst, length)
	s := bytesAt(src, length)
	copy(d, s)
}

// ownsDescriptor reports whether ptr is a live allocation this heap's
// own page directory recognizes, the fast-path check Release uses
// before paying for the remote-free bridge's global heap-list walk.
func ownsDescriptor(h *heap.Heap, ptr uintptr) bool {
	_, ok := h.Dir().Find(ptr)
	return ok
}

// defaultAllocator is the process-wide Allocator package-level
// Allocate/Release/etc. operate on, created lazily by Default and torn
// down by Shutdown: no implicit static initialization that itself
// allocates, so it is not built until the first call into this
// package's public surface.
var (
	defaultOnce sync.Once
	defaultPtr  atomic.Pointer[Allocator]
)

// Default returns the process-wide Allocator, creating it with
// config.Default() on first use.
func Default() *Allocator {
	defaultOnce.Do(func() {
		a, err := New(config.Default())
		if err != nil {
			// config.Default() carries no RequireVersion, so New can only
			// fail here on a built-in Version bug already caught by this
			// package's init(); unreachable in practice.
			panic(err)
		}

		defaultPtr.Store(a)
	})

	return defaultPtr.Load()
}

// Shutdown stops the process-wide Allocator's background services
// (metrics exporter, streamer) and clears it, so a subsequent Default()
// call builds a fresh one. It does not and cannot reclaim OS mappings
// already handed to the process's threads; the allocator never
// compacts or relocates live blocks.
func Shutdown() {
	a := defaultPtr.Swap(nil)
	if a == nil {
		return
	}

	a.StopMetrics()
	a.StopStreamer()
	defaultOnce = sync.Once{}
}

// Allocate returns a pointer to at least length bytes from the
// process-wide Allocator, or 0 on failure.
func Allocate(length uintptr) uintptr { return Default().Allocate(length) }

// AllocateZeroed returns count*size zeroed bytes from the process-wide
// Allocator, failing on overflow.
func AllocateZeroed(count, size uintptr) uintptr { return Default().AllocateZeroed(count, size) }

// Resize changes the process-wide allocation at ptr to newLength bytes.
func Resize(ptr, newLength uintptr) uintptr { return Default().Resize(ptr, newLength) }

// Release frees ptr from the process-wide Allocator.
func Release(ptr uintptr) { Default().Release(ptr) }

// ReleaseSized frees ptr from the process-wide Allocator like Release,
// validating length against the allocation's actual size.
func ReleaseSized(ptr, length uintptr) { Default().ReleaseSized(ptr, length) }

// AlignedAllocate returns a pointer aligned to align from the
// process-wide Allocator.
func AlignedAllocate(align, length uintptr) uintptr {
	return Default().AlignedAllocate(align, length)
}

// UsableSize reports ptr's usable capacity from the process-wide
// Allocator.
func UsableSize(ptr uintptr) uintptr { return Default().UsableSize(ptr) }

// bytesAt is implemented in unsafe.go to keep this file free of
// unsafe.Pointer arithmetic at the package's top level.
var bytesAt = unsafeBytesAt
