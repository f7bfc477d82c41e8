//go:build linux && arm64

package trap

/*
#include <signal.h>
#include <stdint.h>
#include <string.h>
#include <ucontext.h>

extern void goAsanTrapHandler(int sig, siginfo_t *info, void *ucontextPtr);

static int asanrt_install_sigtrap_handler(void) {
	struct sigaction sa;
	memset(&sa, 0, sizeof(sa));
	sa.sa_sigaction = goAsanTrapHandler;
	sa.sa_flags = SA_SIGINFO;
	sigemptyset(&sa.sa_mask);
	return sigaction(SIGTRAP, &sa, NULL);
}

// asanrt_mcontext_regs copies out the fixed-layout AArch64 mcontext_t: 31
// general registers, sp, pc, pstate, fault_address, and the faulting
// instruction's raw 32 bits (read from pc).
static void asanrt_mcontext_regs(void *ucontextPtr, uint64_t *regs31, uint64_t *sp, uint64_t *pc, uint64_t *pstate, uint64_t *fault, uint32_t *insn) {
	ucontext_t *uc = (ucontext_t *)ucontextPtr;
	for (int i = 0; i < 31; i++) {
		regs31[i] = uc->uc_mcontext.regs[i];
	}
	*sp = uc->uc_mcontext.sp;
	*pc = uc->uc_mcontext.pc;
	*pstate = uc->uc_mcontext.pstate;
	*fault = uc->uc_mcontext.fault_address;
	*insn = *(uint32_t *)(*pc);
}
*/
import "C"

import (
	"runtime"
	"unsafe"
)

func goRuntimeCallers(pcs []uintptr) int {
	return runtime.Callers(2, pcs)
}

func installSignalHandler() error {
	if C.asanrt_install_sigtrap_handler() != 0 {
		return errSigactionFailed
	}
	return nil
}

func raiseSIGSEGV() {
	C.raise(C.SIGSEGV)
}

//export goAsanTrapHandler
func goAsanTrapHandler(sig C.int, info *C.siginfo_t, ucontextPtr unsafe.Pointer) {
	var regs31 [31]C.uint64_t
	var sp, pc, pstate, fault C.uint64_t
	var insn C.uint32_t
	C.asanrt_mcontext_regs(ucontextPtr, &regs31[0], &sp, &pc, &pstate, &fault, &insn)

	rep := Report{
		Signal: "SIGTRAP",
		SP:     uint64(sp),
		PC:     uint64(pc),
		PState: uint64(pstate),
		Fault:  uint64(fault),
		// BRK Rd-less immediate: bits [20:5] of the encoded instruction (see
		// package checkgen's brk encoder).
		BRKImm: uint16((uint32(insn) >> 5) & 0xFFFF),
	}
	for i := 0; i < 31; i++ {
		rep.Regs[i] = uint64(regs31[i])
	}

	const stackWords = 0x100
	rep.Stack = make([]uint64, stackWords)
	base := uintptr(sp)
	for i := 0; i < stackWords; i++ {
		rep.Stack[i] = *(*uint64)(unsafe.Pointer(base + uintptr(i)*8))
	}

	// The native fault occurred in instrumented (non-Go) code, so the only
	// backtrace runtime.Callers can contribute is the handler's own Go-side
	// call stack; the raw register/stack dump above is the authoritative
	// trace of the faulting code itself.
	pcs := make([]uintptr, 32)
	n := goRuntimeCallers(pcs)
	rep.Callers = pcs[:n]

	handle(rep)
}
