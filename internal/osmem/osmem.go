// Package osmem is the OS-memory shim: it maps, remaps, and unmaps
// page-aligned chunks and reports the page size. Every length passed to
// Shim is a multiple of PageSize(); rounding is the caller's job.
package osmem

//go:generate mockgen -source=osmem.go -destination=osmem_mock.go -package=osmem

// Shim is the interface the rest of the allocator consumes. It is
// satisfied by the platform-specific implementation returned by Default,
// and by osmem_mock.go in tests that need to exercise OOM / remap-failure
// paths without touching real mappings.
type Shim interface {
	// Map reserves and commits len bytes of fresh memory, or returns
	// (0, false) if the OS refused the mapping.
	Map(length uintptr) (base uintptr, ok bool)

	// Remap attempts to grow or shrink an existing mapping in place or
	// by relocation. It returns (0, false) if no remap primitive is
	// available or the OS refused; callers fall back to map+copy+unmap.
	Remap(base, oldLength, newLength uintptr) (newBase uintptr, ok bool)

	// Unmap releases length bytes starting at base. It returns false if
	// the OS call failed.
	Unmap(base, length uintptr) bool

	// PageSize reports the platform's page size in bytes.
	PageSize() uintptr
}

// Default returns the platform-appropriate Shim (backed by
// golang.org/x/sys/unix on Unix, golang.org/x/sys/windows on Windows).
func Default() Shim { return defaultShim }

// AlignUp rounds length up to the next multiple of the shim's page size.
func AlignUp(s Shim, length uintptr) uintptr {
	page := s.PageSize()

	return (length + page - 1) &^ (page - 1)
}
