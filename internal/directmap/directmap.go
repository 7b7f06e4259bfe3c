// Package directmap implements the direct-map engine: large allocations
// backed by their own OS mapping, wrapped in just enough bookkeeping
// that release and resize stay on the allocator's common paths.
//
// Grounded on the block_manager.go large-allocation path
// (internal/runtime/block_manager.go), which separates "small, pooled"
// blocks from "large, individually mapped" ones; here the large path is
// pulled out into its own engine.
package directmap

import (
	"errors"

	"github.com/orizon-lang/oalloc/internal/osmem"
)

// State distinguishes a live direct-map allocation from one that has
// already been released but is kept around to diagnose a double free.
type State uint8

const (
	// StateLive is a direct-map allocation currently owned by the user.
	StateLive State = iota
	// StateFreed marks a released direct-map allocation; its descriptor
	// is retained so a second release can be reported as a double free
	// rather than silently accepted.
	StateFreed
)

// ErrOutOfMemory reports that the OS shim refused the mapping.
var ErrOutOfMemory = errors.New("directmap: out of memory")

// ErrDoubleFree reports that ptr addresses a mapping already in
// StateFreed.
var ErrDoubleFree = errors.New("directmap: double free")

// ErrWrongSize reports a sized-release whose length does not match the
// mapping's length.
var ErrWrongSize = errors.New("directmap: size mismatch on sized release")

// Mapping is one direct-map allocation.
type Mapping struct {
	mem    osmem.Shim
	base   uintptr
	length uintptr
	state  State
}

// New rounds length up to a page and asks the OS shim for a mapping.
func New(mem osmem.Shim, length uintptr) (*Mapping, error) {
	pageLength := osmem.AlignUp(mem, length)

	base, ok := mem.Map(pageLength)
	if !ok {
		return nil, ErrOutOfMemory
	}

	return &Mapping{mem: mem, base: base, length: pageLength}, nil
}

// Base and Length expose the mapping's geometry for the region
// descriptor and page directory.
func (m *Mapping) Base() uintptr   { return m.base }
func (m *Mapping) Length() uintptr { return m.length }

// State reports whether this mapping is still live.
func (m *Mapping) State() State { return m.state }

// Release flips the mapping to StateFreed and unmaps it. A second call
// reports ErrDoubleFree without touching the OS mapping again.
func (m *Mapping) Release() error {
	if m.state == StateFreed {
		return ErrDoubleFree
	}

	m.state = StateFreed

	if !m.mem.Unmap(m.base, m.length) {
		return errors.New("directmap: unmap failed")
	}

	return nil
}

// ReleaseSized behaves like Release but first validates that length
// matches the mapping's length, as required for a sized-release call.
func (m *Mapping) ReleaseSized(length uintptr) error {
	if length != m.length {
		return ErrWrongSize
	}

	return m.Release()
}

// Resize tries to grow or shrink the mapping in place via the OS
// remap primitive. On success it returns the (possibly relocated) base;
// the caller is responsible for updating the page directory: unsetting
// the old range and setting the new one.
func (m *Mapping) Resize(newLength uintptr) (uintptr, bool) {
	if m.state == StateFreed {
		return 0, false
	}

	pageLength := osmem.AlignUp(m.mem, newLength)

	newBase, ok := m.mem.Remap(m.base, m.length, pageLength)
	if !ok {
		return 0, false
	}

	m.base = newBase
	m.length = pageLength

	return newBase, true
}
