//go:build linux && arm64

package asanrt

/*
static unsigned long asanrt_tls_ptr(void) {
	unsigned long tp;
	__asm__ volatile("mrs %0, tpidr_el0" : "=r"(tp));
	return tp;
}
*/
import "C"

// currentTLSAddr returns the calling OS thread's TLS base, read directly
// from the AArch64 thread-pointer register (spec.md §4.6's current_tls).
func currentTLSAddr() uintptr {
	return uintptr(C.asanrt_tls_ptr())
}
