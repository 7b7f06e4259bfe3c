//go:build unix

package osmem

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixShim backs the OS-memory shim with mmap(2)/mremap(2)/munmap(2),
// mirroring the per-OS file split used for zero-copy I/O
// helpers (internal/runtime/asyncio/zerocopy_unix_file.go in the example
// pool, one file per platform behind a build tag).
type unixShim struct {
	pageSize uintptr
	once     sync.Once
}

var defaultShim Shim = &unixShim{}

func (u *unixShim) size() uintptr {
	u.once.Do(func() {
		u.pageSize = uintptr(unix.Getpagesize())
	})

	return u.pageSize
}

func (u *unixShim) PageSize() uintptr { return u.size() }

func (u *unixShim) Map(length uintptr) (uintptr, bool) {
	if length == 0 {
		return 0, false
	}

	data, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, false
	}

	return sliceBase(data), true
}

func (u *unixShim) Remap(base, oldLength, newLength uintptr) (uintptr, bool) {
	return osRemap(base, oldLength, newLength)
}

func (u *unixShim) Unmap(base, length uintptr) bool {
	data := basePointerSlice(base, length)

	return unix.Munmap(data) == nil
}

// sliceBase returns the address of a mmap-returned byte slice's backing
// array. The slice itself is never touched again; the allocator tracks
// memory purely by address and length from here on.
func sliceBase(data []byte) uintptr {
	if len(data) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&data[0]))
}

// basePointerSlice reconstructs the []byte view mmap/mremap/munmap expect
// from a bare base address and length. Safe because every region the
// allocator hands to the shim was itself produced by Map/Remap.
func basePointerSlice(base, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), int(length))
}
