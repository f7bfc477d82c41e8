//go:build linux && arm64

// Raw mmap/munmap plumbing. The shadow map lives at a fixed virtual address
// chosen relative to application addresses (SHADOW_OFFSET, see shadow.go);
// golang.org/x/sys/unix.Mmap has no parameter for requesting a fixed
// address, so the fixed-address mappings (shadow pages) go through the raw
// syscall instead. This file is AArch64/Linux only, per spec.md's explicit
// Non-goal of cross-architecture support.
package shadow

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const invalidFD = ^uintptr(0)

// mmapAnon reserves a floating (kernel-chosen address) anonymous RW mapping.
func mmapAnon(length uintptr) (uintptr, error) {
	return rawMmap(0, length, false)
}

// mmapFixed maps an anonymous RW region at exactly addr, failing rather than
// silently replacing an existing mapping there.
func mmapFixed(addr, length uintptr) (uintptr, error) {
	return rawMmap(addr, length, true)
}

func rawMmap(addr, length uintptr, fixed bool) (uintptr, error) {
	flags := uintptr(unix.MAP_ANONYMOUS | unix.MAP_PRIVATE)
	if fixed {
		flags |= unix.MAP_FIXED_NOREPLACE
	}
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		flags,
		invalidFD,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("shadow: mmap(addr=%#x, len=%#x, fixed=%v): %w", addr, length, fixed, errno)
	}
	return ret, nil
}

func munmap(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return fmt.Errorf("shadow: munmap(addr=%#x, len=%#x): %w", addr, length, errno)
	}
	return nil
}

func readByte(addr uintptr) byte {
	return *(*byte)(unsafe.Pointer(addr)) //nolint:govet
}

func writeByte(addr uintptr, v byte) {
	*(*byte)(unsafe.Pointer(addr)) = v //nolint:govet
}

// memset fills n bytes starting at addr. addr is not backed by any Go slice
// (it is shadow memory or a raw mmap reservation), so unsafe.Slice is used
// to obtain a temporary view for the fill.
func memset(addr uintptr, v byte, n uintptr) {
	if n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n)) //nolint:govet
	for i := range b {
		b[i] = v
	}
}
