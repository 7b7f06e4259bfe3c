//go:build linux

package osmem

import "golang.org/x/sys/unix"

// osRemap uses mremap(2)'s MAYMOVE flag, the one BSD/Darwin lack.
func osRemap(base, oldLength, newLength uintptr) (uintptr, bool) {
	old := basePointerSlice(base, oldLength)

	newData, err := unix.Mremap(old, int(newLength), unix.MREMAP_MAYMOVE)
	if err != nil {
		return 0, false
	}

	return sliceBase(newData), true
}
