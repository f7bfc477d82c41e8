// Package shadow implements the shadow-memory allocator and poison engine of
// spec.md §3/§4.1: it owns heap allocations, lazily-materialized shadow
// pages, and byte-granularity poison state.
package shadow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/go-asanrt/diag"
	"github.com/joeycumines/go-asanrt/oplog"
	"golang.org/x/sys/unix"
)

// DefaultShadowOffset is SHADOW_OFFSET from spec.md §6: 2^36.
const DefaultShadowOffset uintptr = 1 << 36

// ErrOffsetCollision is returned by New when the configured shadow offset is
// already occupied by another mapping (spec.md §9, "Shadow-offset collision").
var ErrOffsetCollision = errors.New("shadow: configured SHADOW_OFFSET is already mapped")

// UnknownFreeFunc is invoked when Release is called with strict mode enabled
// and ptr does not correspond to a live allocation (spec.md §9's "strict"
// mode, offered as a conforming implementation's optional behavior instead
// of the default silent ignore).
type UnknownFreeFunc func(ptr uintptr)

// Allocator is the process-wide shadow-memory allocator. A zero Allocator is
// not valid; construct with New.
type Allocator struct {
	mu           sync.Mutex
	pageSize     uintptr
	shadowOffset uintptr
	allocations  map[uintptr]uintptr // user ptr -> user size
	pages        pageSet

	strictFree    bool
	onUnknownFree UnknownFreeFunc
}

// Option configures an Allocator constructed by New.
type Option func(*config)

type config struct {
	shadowOffset  uintptr
	pageSize      uintptr
	strictFree    bool
	onUnknownFree UnknownFreeFunc
	skipProbe     bool
}

// WithShadowOffset overrides SHADOW_OFFSET. Intended for tests; production
// callers should use the default.
func WithShadowOffset(offset uintptr) Option {
	return func(c *config) { c.shadowOffset = offset }
}

// WithStrictFree enables the optional strict mode from spec.md §9: Release
// on an unrecognized pointer invokes onUnknownFree instead of being
// silently ignored.
func WithStrictFree(onUnknownFree UnknownFreeFunc) Option {
	return func(c *config) {
		c.strictFree = true
		c.onUnknownFree = onUnknownFree
	}
}

// WithoutOffsetProbeForTests skips the startup collision probe. Exported
// for use by other packages' tests: the probe needs a real, unreserved
// address range, which is awkward to arrange under a test harness's
// existing mappings, and those tests only care about the allocation-table
// and poison-state bookkeeping, not the probe itself.
func WithoutOffsetProbeForTests() Option {
	return func(c *config) { c.skipProbe = true }
}

// New constructs an Allocator. Per spec.md §9, it probes SHADOW_OFFSET with
// a trial mapping before committing to it.
func New(opts ...Option) (*Allocator, error) {
	c := config{
		shadowOffset: DefaultShadowOffset,
	}
	for _, o := range opts {
		o(&c)
	}

	pageSize := c.pageSize
	if pageSize == 0 {
		pageSize = uintptr(unix.Getpagesize())
	}

	a := &Allocator{
		pageSize:      pageSize,
		shadowOffset:  c.shadowOffset,
		allocations:   make(map[uintptr]uintptr),
		strictFree:    c.strictFree,
		onUnknownFree: c.onUnknownFree,
	}

	if !c.skipProbe {
		probeAddr := roundDownPage(pageSize, c.shadowOffset)
		base, err := mmapFixed(probeAddr, pageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOffsetCollision, err)
		}
		if err := munmap(base, pageSize); err != nil {
			return nil, fmt.Errorf("shadow: releasing offset probe mapping: %w", err)
		}
	}

	return a, nil
}

// PageSize returns the OS page size this allocator rounds against.
func (a *Allocator) PageSize() uintptr { return a.pageSize }

// ShadowOffset returns the configured SHADOW_OFFSET.
func (a *Allocator) ShadowOffset() uintptr { return a.shadowOffset }

// ShadowAddr computes shadow(addr) = (addr >> 3) + SHADOW_OFFSET (spec.md §6).
func (a *Allocator) ShadowAddr(addr uintptr) uintptr {
	return (addr >> 3) + a.shadowOffset
}

func roundUpPage(pageSize, n uintptr) uintptr {
	// Matches original_source's round_up_to_page exactly: returns the
	// smallest page multiple strictly greater than n, so an already
	// page-aligned n gains one whole page. See DESIGN.md for why this
	// (slightly surprising) rounding is kept.
	return ((n + pageSize) / pageSize) * pageSize
}

func roundDownPage(pageSize, n uintptr) uintptr {
	return (n / pageSize) * pageSize
}

// Alloc reserves rounded_up(size)+2*page bytes of backing VM, lazily
// materializes the shadow pages covering it, poisons the guard pages, and
// unpoisons exactly size bytes for the caller. Returns 0 on mapping failure
// (spec.md §4.1's "Fails" policy: diagnostic write + null return).
func (a *Allocator) Alloc(size, alignment uintptr) uintptr {
	rounded := roundUpPage(a.pageSize, size)
	total := rounded + 2*a.pageSize

	base, err := mmapAnon(total)
	if err != nil {
		diag.Logf(diag.LevelError, "shadow: alloc(size=%d) mmap failed: %v", size, err)
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	shadowStart, _ := a.mapShadowForRegionLocked(base, base+total, false)
	a.poisonLocked(shadowStart, total)
	a.unpoisonLocked(shadowStart+a.pageSize/8, size)

	ptr := base + a.pageSize
	a.allocations[ptr] = size
	return ptr
}

// Release poisons the user region of ptr and removes its table entry. The
// backing VM reservation is retained (deliberate quarantine-free-by-keeping-
// poisoned policy, spec.md §3 Lifecycle). A ptr not in the allocation table
// is a no-op unless strict mode is configured (spec.md §4.1(d), §9).
func (a *Allocator) Release(ptr uintptr) {
	a.mu.Lock()
	size, ok := a.allocations[ptr]
	if !ok {
		strict, cb := a.strictFree, a.onUnknownFree
		a.mu.Unlock()
		if strict && cb != nil {
			cb(ptr)
		}
		return
	}
	delete(a.allocations, ptr)
	shadowStart := a.ShadowAddr(ptr)
	a.poisonLocked(shadowStart, size)
	a.mu.Unlock()
}

// UsableSize returns the recorded user size for ptr. ptr must be a live user
// pointer (spec.md §4.1 precondition); violating it panics, matching the
// original's unwrap-on-missing-key behavior.
func (a *Allocator) UsableSize(ptr uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.allocations[ptr]
	if !ok {
		panic(fmt.Sprintf("shadow: usable size queried for unknown pointer %#x", ptr))
	}
	return size
}

// Lookup is the non-panicking counterpart to UsableSize, used by callers
// (realloc) that need to tell "unknown" from "zero-sized" apart.
func (a *Allocator) Lookup(ptr uintptr) (size uintptr, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok = a.allocations[ptr]
	return
}

// MapShadowForRegion computes the shadow range covering [start, end),
// lazily maps any unmapped shadow pages within it, and optionally unpoisons
// the whole region. Safe to call repeatedly on overlapping regions: already-
// mapped shadow pages are never remapped (spec.md §4.1(c)).
func (a *Allocator) MapShadowForRegion(start, end uintptr, unpoison bool) (shadowStart, shadowSize uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapShadowForRegionLocked(start, end, unpoison)
}

func (a *Allocator) mapShadowForRegionLocked(start, end uintptr, unpoison bool) (shadowStart, shadowSize uintptr) {
	shadowMappingStart := a.ShadowAddr(start)
	pageStart := roundDownPage(a.pageSize, shadowMappingStart)
	// Matches original_source's shadow_end formula, including its extra
	// trailing page (see roundUpPage).
	pageEnd := roundUpPage(a.pageSize, (end-start)/8) + a.pageSize + pageStart

	gaps := a.pages.gapsLocked(pageStart, pageEnd)
	for _, gap := range gaps {
		if _, err := mmapFixed(gap.start, gap.end-gap.start); err != nil {
			// Shadow mapping failure is terminal: spec.md §7 classifies it
			// as unrecoverable, the runtime cannot function without shadow.
			panic(fmt.Errorf("shadow: mapping shadow pages [%#x,%#x): %w", gap.start, gap.end, err))
		}
	}
	a.pages.insertLocked(pageStart, pageEnd)

	if unpoison {
		a.unpoisonLocked(shadowMappingStart, end-start)
	}

	if len(gaps) > 0 {
		oplog.ShadowMapped(pageStart, pageEnd, unpoison)
	}

	return shadowMappingStart, (end - start) / 8
}

// Poison marks size bytes starting at start (an application address, not a
// shadow address) as inaccessible.
func (a *Allocator) Poison(start, size uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poisonLocked(a.ShadowAddr(start), size)
}

// Unpoison marks size bytes starting at start (an application address) as
// accessible.
func (a *Allocator) Unpoison(start, size uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unpoisonLocked(a.ShadowAddr(start), size)
}

// poisonLocked and unpoisonLocked take a *shadow* address directly (already
// computed by the caller), matching the call shape of
// mapShadowForRegionLocked and Release, which both already have one in hand.

func (a *Allocator) poisonLocked(shadowStart, size uintptr) {
	memset(shadowStart, 0x00, size/8)
	if remainder := size % 8; remainder > 0 {
		// Always a full zero byte: the remainder granule becomes fully
		// unaddressable, including its bytes past start+size. Called from
		// Release those bytes lie past the user size inside the same
		// reservation, which Alloc left poisoned; called from Poison they
		// are poisoned whatever their previous state.
		writeByte(shadowStart+size/8, 0x00)
	}
}

func (a *Allocator) unpoisonLocked(shadowStart, size uintptr) {
	memset(shadowStart, 0xFF, size/8)
	if remainder := size % 8; remainder > 0 {
		writeByte(shadowStart+size/8, (0xFF<<(8-remainder))&0xFF)
	}
}

// IsAddressable reports whether every byte of [addr, addr+width) is marked
// addressable in the shadow. This is the software reference model for the
// check blobs in package checkgen (spec.md §8 Testable Property 4); it is
// not on the fast path (the check blobs are) but is used by tests and by
// any caller that wants a non-trapping query.
func (a *Allocator) IsAddressable(addr uintptr, width uintptr) bool {
	if width == 0 {
		return true
	}
	last := addr + width - 1
	firstGranule := addr >> 3
	lastGranule := last >> 3
	for g := firstGranule; g <= lastGranule; g++ {
		b := readByte(g<<3>>3 + a.shadowOffset) // == readByte(a.ShadowAddr(g<<3))
		lo := uintptr(0)
		hi := uintptr(7)
		if g == firstGranule {
			lo = addr & 7
		}
		if g == lastGranule {
			hi = last & 7
		}
		for bit := lo; bit <= hi; bit++ {
			// bit 7 = lowest application byte, per spec.md §3.
			mask := byte(1) << (7 - bit)
			if b&mask == 0 {
				return false
			}
		}
	}
	return true
}
