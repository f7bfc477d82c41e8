//go:build linux && arm64

package gotpatch

import (
	"encoding/binary"
	"unsafe"
)

// pageBytes views the page-sized region starting at addr as a []byte, for
// passing to unix.Mprotect (which needs a slice only to derive an address
// and length; it never reads the contents).
func pageBytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)) //nolint:govet
}

func writePointer(addr uintptr, value uint64) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 8) //nolint:govet
	binary.LittleEndian.PutUint64(b, value)
}
