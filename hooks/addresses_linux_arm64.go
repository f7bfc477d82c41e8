//go:build linux && arm64

package hooks

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

static uintptr_t asanrt_dlsym_self(const char *name) {
	return (uintptr_t)dlsym(RTLD_DEFAULT, name);
}
*/
import "C"
import "unsafe"

// symbolNames lists every allocator hook this package exports as a C-ABI
// symbol (spec.md §4.2).
var symbolNames = []string{
	"asan_malloc",
	"asan_calloc",
	"asan_pvalloc",
	"asan_valloc",
	"asan_realloc",
	"asan_free",
	"asan_memalign",
	"asan_posix_memalign",
	"asan_malloc_usable_size",
	"asan_mallinfo",
}

// Addresses resolves each exported hook's own process address via dlsym,
// keyed by the libc symbol it replaces (the "asan_" prefix stripped). This
// is how package asanrt obtains function pointers to hand to package
// gotpatch: the cgo-exported functions in this package are real C symbols
// in the final binary, but Go code cannot take their address directly
// across a package boundary, so the lookup goes through the dynamic linker
// the same way the GOT it's patching does.
func Addresses() map[string]uintptr {
	out := make(map[string]uintptr, len(symbolNames))
	for _, name := range symbolNames {
		cname := C.CString(name)
		addr := uintptr(C.asanrt_dlsym_self(cname))
		C.free(unsafe.Pointer(cname))
		if addr != 0 {
			out[name[len("asan_"):]] = addr
		}
	}
	return out
}
