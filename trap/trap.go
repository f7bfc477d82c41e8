// Package trap installs the fatal diagnostic handler of spec.md §4.7: on
// SIGTRAP raised by a failed shadow-memory check, it reconstructs the
// faulting registers, dumps the stack, prints a symbolized backtrace, and
// re-raises SIGSEGV so the process dies the way a memory-safety violation
// is expected to (preserving the exit semantics a fuzzer's crash detector
// looks for).
package trap

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/joeycumines/go-asanrt/diag"
)

// errSigactionFailed is returned by Install when the underlying sigaction(2)
// call fails.
var errSigactionFailed = errors.New("trap: sigaction(SIGTRAP) failed")

// Report is a parsed fatal event, handed to any installed [Reporter]s
// before the process dies.
type Report struct {
	Signal  string
	Regs    [31]uint64
	SP, PC  uint64
	PState  uint64
	Fault   uint64
	BRKImm  uint16 // BRK immediate from the faulting instruction, i.e. log2(width)
	Stack   []uint64
	Callers []uintptr // Go-runtime call stack at the time the handler ran
}

// Reporter observes a fatal Report before the process terminates. Intended
// for test harnesses and for any additional crash-artifact writer; must not
// block and must not itself allocate heap memory the allocator tracks, as
// it runs on the signal-handling path.
type Reporter func(Report)

var (
	mu        sync.Mutex
	reporters []Reporter
)

// AddReporter registers r to be invoked (in registration order) whenever a
// fatal trap is handled, before the default dump and re-raise.
func AddReporter(r Reporter) {
	mu.Lock()
	defer mu.Unlock()
	reporters = append(reporters, r)
}

func notifyReporters(rep Report) {
	mu.Lock()
	rs := append([]Reporter(nil), reporters...)
	mu.Unlock()
	for _, r := range rs {
		r(rep)
	}
}

// Install arms the SIGTRAP handler. Must be called once during runtime
// initialization, on the AArch64/Linux build this package targets.
func Install() error {
	return installSignalHandler()
}

// dumpReport writes the full register/stack/backtrace dump to the
// diagnostic writer. Always unthrottled (see package ratelimit's doc
// comment): a fatal dump must never be dropped.
func dumpReport(rep Report) {
	w := diag.Writer()
	for i, v := range rep.Regs {
		sep := " "
		if i%4 == 3 {
			sep = "\n"
		}
		fmt.Fprintf(w, "x%02d: %#016x%s", i, v, sep)
	}
	fmt.Fprintf(w, "\nsp : %#016x\n", rep.SP)
	fmt.Fprintf(w, "pc : %#016x\n", rep.PC)
	fmt.Fprintf(w, "pstate: %#016x\n", rep.PState)
	fmt.Fprintf(w, "fault: %#016x\n", rep.Fault)
	fmt.Fprintf(w, "brk immediate: %d\n", rep.BRKImm)

	fmt.Fprint(w, "\nstack:")
	for i, v := range rep.Stack {
		if i%4 == 0 {
			fmt.Fprintf(w, "\n%#016x: ", rep.SP+uint64(i)*8)
		}
		fmt.Fprintf(w, "%#016x ", v)
	}

	fmt.Fprint(w, "\nbacktrace:\n")
	if len(rep.Callers) > 0 {
		frames := runtime.CallersFrames(rep.Callers)
		for {
			fr, more := frames.Next()
			if fr.Function != "" {
				fmt.Fprintf(w, "- %s\n    %s:%d\n", fr.Function, fr.File, fr.Line)
			} else {
				fmt.Fprintf(w, "- %#x\n", fr.PC)
			}
			if !more {
				break
			}
		}
	}
}

// handle is the architecture-independent half of signal handling: given a
// parsed Report, it notifies reporters, dumps it, and terminates the
// process. Split out from the cgo signal entry point, which only gathers the
// Report from the signal context.
func handle(rep Report) {
	notifyReporters(rep)
	dumpReport(rep)
	raiseSIGSEGV()
}

// ReportAndDie is used by non-signal callers (spec.md §9's strict-free
// mode) that detect a fatal condition without going through the SIGTRAP
// path: it synthesizes a minimal Report carrying just a message and the
// current Go call stack, then terminates the same way.
func ReportAndDie(reason string) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	diag.Logf(diag.LevelError, "fatal: %s", reason)
	rep := Report{Signal: "strict-free", Callers: pcs[:n]}
	notifyReporters(rep)
	frames := runtime.CallersFrames(rep.Callers)
	w := diag.Writer()
	fmt.Fprintf(w, "fatal: %s\nbacktrace:\n", reason)
	for {
		fr, more := frames.Next()
		fmt.Fprintf(w, "- %s\n    %s:%d\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	raiseSIGSEGV()
}
