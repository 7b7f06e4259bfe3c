//go:build windows

package osmem

import (
	"sync"

	"golang.org/x/sys/windows"
)

// windowsShim backs the OS-memory shim with VirtualAlloc/VirtualFree,
// mirroring internal/runtime/asyncio/zerocopy_windows_file.go's use of
// golang.org/x/sys/windows in the example pool.
type windowsShim struct {
	pageSize uintptr
	once     sync.Once
}

var defaultShim Shim = &windowsShim{}

func (w *windowsShim) size() uintptr {
	w.once.Do(func() {
		var info windows.SystemInfo
		windows.GetSystemInfo(&info)
		w.pageSize = uintptr(info.PageSize)
	})

	return w.pageSize
}

func (w *windowsShim) PageSize() uintptr { return w.size() }

func (w *windowsShim) Map(length uintptr) (uintptr, bool) {
	if length == 0 {
		return 0, false
	}

	addr, err := windows.VirtualAlloc(0, length, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, false
	}

	return addr, true
}

// Remap has no direct Win32 equivalent of mremap(2); the allocator falls
// back to map+copy+unmap whenever this returns false.
func (w *windowsShim) Remap(base, oldLength, newLength uintptr) (uintptr, bool) {
	return 0, false
}

func (w *windowsShim) Unmap(base, length uintptr) bool {
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE) == nil
}
