//go:build linux

package binding

import "golang.org/x/sys/unix"

// threadKey returns the kernel thread id of the OS thread currently
// running the calling goroutine. Read fresh on every call: a goroutine
// can migrate between OS threads between two allocator calls, but that
// only costs affinity, never correctness, since every heap is still
// fully guarded by its own lock word and the remote-free bridge handles
// any pointer that ends up owned by a different thread's heap.
func threadKey() uint64 {
	return uint64(unix.Gettid())
}
