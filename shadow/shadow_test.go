package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(WithoutOffsetProbeForTests())
	require.NoError(t, err)
	return a
}

func TestAllocUnpoisonsExactlyRequestedSize(t *testing.T) {
	a := newTestAllocator(t)

	ptr := a.Alloc(40, 8)
	require.NotZero(t, ptr)

	assert.True(t, a.IsAddressable(ptr, 40))
}

func TestAllocGuardPagesArePoisoned(t *testing.T) {
	a := newTestAllocator(t)

	ptr := a.Alloc(16, 8)
	require.NotZero(t, ptr)

	// One byte into the leading guard page.
	assert.False(t, a.IsAddressable(ptr-1, 1))
	// One byte past the end of the user region.
	assert.False(t, a.IsAddressable(ptr+16, 1))
}

func TestReleasePoisonsUserRegion(t *testing.T) {
	a := newTestAllocator(t)

	ptr := a.Alloc(24, 8)
	require.NotZero(t, ptr)
	require.True(t, a.IsAddressable(ptr, 24))

	a.Release(ptr)
	assert.False(t, a.IsAddressable(ptr, 24))
}

func TestReleaseUnknownPointerIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	assert.NotPanics(t, func() { a.Release(0xdeadbeef) })
}

func TestReleaseUnknownPointerStrictModeInvokesCallback(t *testing.T) {
	var got uintptr
	a, err := New(WithoutOffsetProbeForTests(), WithStrictFree(func(ptr uintptr) { got = ptr }))
	require.NoError(t, err)

	a.Release(0xdeadbeef)
	assert.Equal(t, uintptr(0xdeadbeef), got)
}

func TestUsableSizeMatchesRequestedSize(t *testing.T) {
	a := newTestAllocator(t)
	ptr := a.Alloc(123, 8)
	require.NotZero(t, ptr)
	assert.Equal(t, uintptr(123), a.UsableSize(ptr))
}

func TestUsableSizeUnknownPointerPanics(t *testing.T) {
	a := newTestAllocator(t)
	assert.Panics(t, func() { a.UsableSize(0xdeadbeef) })
}

func TestMapShadowForRegionIdempotent(t *testing.T) {
	a := newTestAllocator(t)

	s1, n1 := a.MapShadowForRegion(0x400000, 0x410000, true)
	s2, n2 := a.MapShadowForRegion(0x400000, 0x410000, true)
	assert.Equal(t, s1, s2)
	assert.Equal(t, n1, n2)

	// Re-mapping an overlapping, larger region should not panic (gaps only
	// covers the newly-added tail).
	assert.NotPanics(t, func() { a.MapShadowForRegion(0x400000, 0x420000, true) })
}

func TestPoisonUnpoisonRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	a.MapShadowForRegion(0x500000, 0x510000, false)

	a.Unpoison(0x500000, 100)
	assert.True(t, a.IsAddressable(0x500000, 100))

	a.Poison(0x500000, 100)
	assert.False(t, a.IsAddressable(0x500000, 100))
}

func TestPoisonPartialGranuleTailIsFullyPoisoned(t *testing.T) {
	// Asymmetry documented in spec.md: poison's tail granule is always
	// fully poisoned, while unpoison's tail granule is partially
	// addressable up to the remainder.
	a := newTestAllocator(t)
	a.MapShadowForRegion(0x600000, 0x610000, false)

	a.Unpoison(0x600000, 10) // 1 full granule + 2 bytes of a second
	assert.True(t, a.IsAddressable(0x600000, 10))
	assert.False(t, a.IsAddressable(0x600000, 16))

	a.Poison(0x600000, 10)
	// The tail granule (bytes 8-15) must be entirely poisoned, not just
	// the first 2 bytes of it.
	assert.False(t, a.IsAddressable(0x600008, 8))
}

func TestRoundUpPageIsStrictlyGreaterThanN(t *testing.T) {
	const pageSize = 4096
	assert.Equal(t, uintptr(pageSize), roundUpPage(pageSize, 0))
	assert.Equal(t, uintptr(2*pageSize), roundUpPage(pageSize, pageSize))
	assert.Equal(t, uintptr(pageSize), roundUpPage(pageSize, pageSize-1))
}

func TestShadowAddrFormula(t *testing.T) {
	a, err := New(WithShadowOffset(1<<20), WithoutOffsetProbeForTests())
	require.NoError(t, err)
	assert.Equal(t, (uintptr(0x12345)>>3)+(1<<20), a.ShadowAddr(0x12345))
}
