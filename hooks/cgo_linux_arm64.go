//go:build linux && arm64

package hooks

/*
#include <stddef.h>
#include <string.h>

static void asanrt_memmove(void *dst, const void *src, size_t n) {
	memmove(dst, src, n);
}
*/
import "C"
import "unsafe"

//export asan_malloc
func asan_malloc(size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Malloc(uintptr(size)))
}

//export asan_calloc
func asan_calloc(nmemb, size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Calloc(uintptr(nmemb), uintptr(size)))
}

//export asan_pvalloc
func asan_pvalloc(size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Pvalloc(uintptr(size)))
}

//export asan_valloc
func asan_valloc(size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Valloc(uintptr(size)))
}

//export asan_memalign
func asan_memalign(size, alignment C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Memalign(uintptr(size), uintptr(alignment)))
}

//export asan_posix_memalign
func asan_posix_memalign(pptr *unsafe.Pointer, alignment, size C.size_t) C.int {
	return C.int(PosixMemalign(func(p uintptr) { *pptr = unsafe.Pointer(p) }, uintptr(size), uintptr(alignment)))
}

//export asan_realloc
func asan_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(Realloc(uintptr(ptr), uintptr(size), func(dst, src, n uintptr) {
		C.asanrt_memmove(unsafe.Pointer(dst), unsafe.Pointer(src), C.size_t(n))
	}))
}

//export asan_free
func asan_free(ptr unsafe.Pointer) {
	Free(uintptr(ptr))
}

//export asan_malloc_usable_size
func asan_malloc_usable_size(ptr unsafe.Pointer) C.size_t {
	return C.size_t(MallocUsableSize(uintptr(ptr)))
}

//export asan_mallinfo
func asan_mallinfo() unsafe.Pointer {
	return unsafe.Pointer(uintptr(Mallinfo()))
}
