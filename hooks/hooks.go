// Package hooks exposes the eight C-ABI allocator entry points of
// spec.md §4.2 (malloc, calloc, realloc, free, malloc_usable_size,
// memalign, posix_memalign, mallinfo) as cgo //export functions, so
// package gotpatch can redirect a target library's GOT entries at them.
//
// The functions themselves are thin: all allocator logic lives in package
// shadow. A single process-wide *shadow.Allocator is installed with
// SetAllocator before hooking is activated.
package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-asanrt/shadow"
)

var allocator atomic.Pointer[shadow.Allocator]

// SetAllocator installs the allocator every exported hook function
// delegates to. Must be called before any hooked library invokes one of
// the exported functions.
func SetAllocator(a *shadow.Allocator) {
	allocator.Store(a)
}

func get() *shadow.Allocator {
	a := allocator.Load()
	if a == nil {
		panic("hooks: no allocator installed; call SetAllocator first")
	}
	return a
}

// DefaultAlignment is the alignment malloc/calloc/realloc/pvalloc/valloc
// request when the caller doesn't specify one, matching the reference
// runtime's hardcoded 0x8.
const DefaultAlignment = 0x8

// usableSizeMu serializes the read-modify-write in Realloc (lookup size,
// copy, free) so a concurrent Free of the same pointer can't race it. The
// allocator itself is safe for concurrent use; this only protects the
// multi-step sequence Realloc performs across it.
var usableSizeMu sync.Mutex

// Malloc implements malloc(size).
func Malloc(size uintptr) uintptr {
	return get().Alloc(size, DefaultAlignment)
}

// Calloc implements calloc(nmemb, size): note this intentionally matches
// the reference runtime's behavior of not zeroing the returned memory
// itself (mmap-backed pages already come zero-filled from the kernel) and
// not checking nmemb*size for overflow, as neither is in scope for a
// memory-safety-focused allocator shim.
func Calloc(nmemb, size uintptr) uintptr {
	return get().Alloc(nmemb*size, DefaultAlignment)
}

// Pvalloc implements pvalloc(size).
func Pvalloc(size uintptr) uintptr {
	return get().Alloc(size, DefaultAlignment)
}

// Valloc implements valloc(size).
func Valloc(size uintptr) uintptr {
	return get().Alloc(size, DefaultAlignment)
}

// Memalign implements memalign(alignment, size).
func Memalign(size, alignment uintptr) uintptr {
	return get().Alloc(size, alignment)
}

// PosixMemalign implements posix_memalign(pptr, alignment, size), writing
// the new pointer through pptr and always returning 0 (matching the
// reference runtime, which never reports ENOMEM/EINVAL from this path).
func PosixMemalign(writePtr func(uintptr), size, alignment uintptr) int32 {
	writePtr(get().Alloc(size, alignment))
	return 0
}

// Realloc implements realloc(ptr, size): always allocates a fresh
// shadow-backed region, copies min(oldSize,size) bytes forward, and
// releases ptr. A nil ptr behaves like Malloc.
func Realloc(ptr, size uintptr, copyFn func(dst, src, n uintptr)) uintptr {
	a := get()
	usableSizeMu.Lock()
	defer usableSizeMu.Unlock()

	ret := a.Alloc(size, DefaultAlignment)
	if ptr != 0 {
		if oldSize, ok := a.Lookup(ptr); ok {
			n := oldSize
			if size < n {
				n = size
			}
			copyFn(ret, ptr, n)
		}
		a.Release(ptr)
	}
	return ret
}

// Free implements free(ptr); a nil ptr is a no-op.
func Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	usableSizeMu.Lock()
	defer usableSizeMu.Unlock()
	get().Release(ptr)
}

// MallocUsableSize implements malloc_usable_size(ptr).
func MallocUsableSize(ptr uintptr) uintptr {
	return get().UsableSize(ptr)
}

// Mallinfo implements mallinfo(): the reference runtime always returns
// null/zero here, since nothing in this runtime actually consumes struct
// mallinfo's contents.
func Mallinfo() uintptr {
	return 0
}
