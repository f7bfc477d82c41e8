//go:build linux && arm64

package hooks

/*
#include <stddef.h>

typedef void *(*asan_malloc_fn)(size_t);
typedef void (*asan_free_fn)(void *);

static void *call_asan_malloc(void *fn, size_t size) {
	return ((asan_malloc_fn)fn)(size);
}

static void call_asan_free(void *fn, void *ptr) {
	((asan_free_fn)fn)(ptr);
}
*/
import "C"

import (
	"testing"
	"unsafe"

	"github.com/joeycumines/go-asanrt/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddressesResolveAndAreCallable confirms the dlsym self-lookup actually
// finds each exported hook's real in-process address (not just a nonzero
// placeholder) by invoking asan_malloc/asan_free through the resolved
// addresses via a C function-pointer cast, exactly as gotpatch's patched GOT
// slots would.
func TestAddressesResolveAndAreCallable(t *testing.T) {
	a, err := shadow.New(shadow.WithoutOffsetProbeForTests())
	require.NoError(t, err)
	SetAllocator(a)

	addrs := Addresses()
	for _, name := range []string{"malloc", "free", "calloc", "realloc", "memalign", "posix_memalign", "malloc_usable_size", "mallinfo"} {
		require.Contains(t, addrs, name)
		require.NotZero(t, addrs[name], "symbol %s resolved to a null address", name)
	}

	ptr := C.call_asan_malloc(unsafe.Pointer(addrs["malloc"]), 32)
	require.NotEqual(t, unsafe.Pointer(nil), ptr)
	assert.Equal(t, uintptr(32), MallocUsableSize(uintptr(ptr)))

	C.call_asan_free(unsafe.Pointer(addrs["free"]), ptr)
	assert.Panics(t, func() { MallocUsableSize(uintptr(ptr)) })
}
