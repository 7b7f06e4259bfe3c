package oalloc

import "unsafe"

// unsafeBytesAt views length bytes starting at addr as a []byte,
// isolating the package's one unsafe.Pointer conversion so Resize's
// mini-heap-promotion copy reads like an ordinary copy() call.
func unsafeBytesAt(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}
