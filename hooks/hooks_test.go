package hooks

import (
	"testing"
	"unsafe"

	"github.com/joeycumines/go-asanrt/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAllocator(t *testing.T) {
	t.Helper()
	a, err := shadow.New(shadow.WithoutOffsetProbeForTests())
	require.NoError(t, err)
	SetAllocator(a)
}

func TestMallocFreeRoundTrip(t *testing.T) {
	setupTestAllocator(t)

	ptr := Malloc(64)
	require.NotZero(t, ptr)
	assert.Equal(t, uintptr(64), MallocUsableSize(ptr))

	Free(ptr)
	assert.Panics(t, func() { MallocUsableSize(ptr) })
}

func TestFreeNilIsNoop(t *testing.T) {
	setupTestAllocator(t)
	assert.NotPanics(t, func() { Free(0) })
}

func TestCallocMultipliesSize(t *testing.T) {
	setupTestAllocator(t)
	ptr := Calloc(4, 8)
	require.NotZero(t, ptr)
	assert.Equal(t, uintptr(32), MallocUsableSize(ptr))
}

func TestReallocCopiesAndFreesOld(t *testing.T) {
	setupTestAllocator(t)

	ptr := Malloc(8)
	require.NotZero(t, ptr)
	*(*byte)(unsafe.Pointer(ptr)) = 0x42

	var copied bool
	newPtr := Realloc(ptr, 16, func(dst, src, n uintptr) {
		copied = true
		assert.Equal(t, uintptr(8), n)
		*(*byte)(unsafe.Pointer(dst)) = *(*byte)(unsafe.Pointer(src))
	})

	require.NotZero(t, newPtr)
	assert.True(t, copied)
	// Realloc already released the old pointer as part of the call.
	assert.Panics(t, func() { MallocUsableSize(ptr) })
}

func TestReallocNilPtrActsLikeMalloc(t *testing.T) {
	setupTestAllocator(t)
	ptr := Realloc(0, 16, func(dst, src, n uintptr) { t.Fatal("copy should not be invoked for a nil old ptr") })
	require.NotZero(t, ptr)
}

func TestPosixMemalignWritesPointerAndReturnsZero(t *testing.T) {
	setupTestAllocator(t)
	var got uintptr
	rc := PosixMemalign(func(p uintptr) { got = p }, 32, 16)
	assert.Equal(t, int32(0), rc)
	assert.NotZero(t, got)
}

func TestMallinfoAlwaysZero(t *testing.T) {
	assert.Zero(t, Mallinfo())
}

func TestGetPanicsWithoutAllocator(t *testing.T) {
	allocator.Store(nil)
	assert.Panics(t, func() { get() })
}
