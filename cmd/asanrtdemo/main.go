//go:build linux && arm64

// Command asanrtdemo exercises the runtime end-to-end against a handful of
// canonical memory-safety scenarios (spec.md §8): a clean allocate/free
// cycle, a heap-buffer-overflow read, a use-after-free read, and a
// double-free, each checked against the shadow model directly (this binary
// does not itself JIT instrumented code; it drives the same operations an
// instrumented caller would perform at each check site).
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/joeycumines/go-asanrt/asanrt"
	"github.com/joeycumines/go-asanrt/diag"
	"github.com/joeycumines/go-asanrt/hooks"
)

func main() {
	strict := flag.Bool("strict-free", false, "terminate on free of an untracked pointer")
	scenario := flag.String("scenario", "all", "scenario to run: clean, overflow, use-after-free, double-free, all")
	flag.Parse()

	var opts []asanrt.Option
	if *strict {
		opts = append(opts, asanrt.WithStrictFree())
	}

	rt, err := asanrt.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "asanrtdemo: failed to start runtime:", err)
		os.Exit(1)
	}

	if err := rt.RegisterThread(); err != nil {
		diag.Logf(diag.LevelWarn, "asanrtdemo: register_thread: %v", err)
	}
	if err := rt.UnpoisonAllExistingMemory(); err != nil {
		diag.Logf(diag.LevelWarn, "asanrtdemo: unpoison_all_existing_memory: %v", err)
	}

	run := func(name string, fn func()) {
		if *scenario != "all" && *scenario != name {
			return
		}
		fmt.Printf("--- scenario: %s ---\n", name)
		fn()
	}

	run("clean", scenarioClean)
	run("overflow", scenarioHeapOverflow(rt))
	run("use-after-free", scenarioUseAfterFree(rt))
	run("double-free", scenarioDoubleFree)
}

func scenarioClean() {
	ptr := hooks.Malloc(64)
	if ptr == 0 {
		fmt.Println("malloc failed")
		return
	}
	fmt.Printf("allocated %d bytes at %#x, usable_size=%d\n", 64, ptr, hooks.MallocUsableSize(ptr))
	hooks.Free(ptr)
	fmt.Println("freed cleanly")
}

// scenarioHeapOverflow allocates a small buffer and checks addressability
// one byte past its end: a real instrumented access there would trip the
// checkgen blob's BRK and die via package trap; here the same shadow
// lookup is performed directly to demonstrate the detection without
// actually crashing the demo process.
func scenarioHeapOverflow(rt *asanrt.Runtime) func() {
	return func() {
		ptr := hooks.Malloc(32)
		a := rt.Allocator()
		fmt.Printf("bytes [0,32) addressable: %v\n", a.IsAddressable(ptr, 32))
		fmt.Printf("byte at offset 32 (one past end) addressable: %v\n", a.IsAddressable(ptr+32, 1))
		hooks.Free(ptr)
	}
}

func scenarioUseAfterFree(rt *asanrt.Runtime) func() {
	return func() {
		ptr := hooks.Malloc(32)
		hooks.Free(ptr)
		a := rt.Allocator()
		fmt.Printf("freed region addressable (should be false): %v\n", a.IsAddressable(ptr, 32))
	}
}

func scenarioDoubleFree() {
	ptr := hooks.Malloc(16)
	hooks.Free(ptr)
	fmt.Println("freeing again (this is the violation being demonstrated):")
	hooks.Free(ptr) // no-op unless strict-free is enabled, per spec.md §9
}
