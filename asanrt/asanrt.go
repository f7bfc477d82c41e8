// Package asanrt is the runtime's top-level entry point: it owns the
// process-wide singleton (spec.md §4's "Concurrency/Resource Model"),
// wiring together package shadow (the allocator), package hooks (the C-ABI
// shim), package gotpatch (library hooking), package checkgen (the inline
// check blobs), package registrar (thread/global registration), package
// trap (fatal diagnostics), and package forkhook (fork re-initialization).
package asanrt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/go-asanrt/checkgen"
	"github.com/joeycumines/go-asanrt/diag"
	"github.com/joeycumines/go-asanrt/forkhook"
	"github.com/joeycumines/go-asanrt/gotpatch"
	"github.com/joeycumines/go-asanrt/hooks"
	"github.com/joeycumines/go-asanrt/oplog"
	"github.com/joeycumines/go-asanrt/procmap"
	"github.com/joeycumines/go-asanrt/registrar"
	"github.com/joeycumines/go-asanrt/shadow"
	"github.com/joeycumines/go-asanrt/trap"
	"github.com/pbnjay/memory"
)

// Runtime is the singleton coordinating object. Construct with New.
type Runtime struct {
	allocator *shadow.Allocator
	blobs     map[checkgen.Width]checkgen.Blob
}

var (
	singletonMu sync.Mutex
	singleton   atomic.Pointer[Runtime]
)

// Option configures New.
type Option func(*options)

type options struct {
	shadowOpts []shadow.Option
	strict     bool
}

// WithStrictFree enables the allocator's strict-free mode, reporting and
// terminating via package trap when an unrecognized pointer is freed
// (spec.md §9).
func WithStrictFree() Option {
	return func(o *options) { o.strict = true }
}

// New constructs the runtime: builds the allocator, generates the check
// blobs, installs the fork hook, and arms the fatal-trap handler. Only one
// Runtime should be constructed per process; a second call replaces the
// singleton most callers retrieve via Get.
func New(opts ...Option) (*Runtime, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	var shadowOpts []shadow.Option
	if o.strict {
		shadowOpts = append(shadowOpts, shadow.WithStrictFree(func(ptr uintptr) {
			trap.ReportAndDie(fmt.Sprintf("free of untracked pointer %#x", ptr))
		}))
	}
	shadowOpts = append(shadowOpts, o.shadowOpts...)

	a, err := shadow.New(shadowOpts...)
	if err != nil {
		return nil, fmt.Errorf("asanrt: constructing allocator: %w", err)
	}

	blobs := make(map[checkgen.Width]checkgen.Blob, len(checkgen.Widths))
	for _, w := range checkgen.Widths {
		blobs[w] = checkgen.Generate(w, checkgen.ShadowOffsetLog2)
	}

	r := &Runtime{allocator: a, blobs: blobs}

	hooks.SetAllocator(a)

	if err := trap.Install(); err != nil {
		return nil, fmt.Errorf("asanrt: installing trap handler: %w", err)
	}

	if err := forkhook.Install(func() { r.reinitAfterFork() }); err != nil {
		return nil, fmt.Errorf("asanrt: installing fork hook: %w", err)
	}

	diag.Logf(diag.LevelInfo, "asanrt: started; system memory=%d bytes, page size=%d",
		memory.TotalMemory(), a.PageSize())

	singletonMu.Lock()
	singleton.Store(r)
	singletonMu.Unlock()

	return r, nil
}

// Get returns the process-wide singleton, or nil if New has not been
// called yet.
func Get() *Runtime { return singleton.Load() }

// reinitAfterFork rebuilds the allocator in a forked child, per spec.md
// §9's fork-safety requirement: the parent's shadow-page and allocation
// bookkeeping must not be shared across fork, since both processes would
// otherwise believe they own the same backing pages.
func (r *Runtime) reinitAfterFork() {
	a, err := shadow.New()
	if err != nil {
		diag.Logf(diag.LevelError, "asanrt: re-initializing allocator after fork: %v", err)
		return
	}
	r.allocator = a
	hooks.SetAllocator(a)
	oplog.ForkReinitialized()
}

// Allocator returns the runtime's shadow allocator.
func (r *Runtime) Allocator() *shadow.Allocator { return r.allocator }

// Blob returns the compiled inline check sequence for the given access
// width (spec.md §4.3).
func (r *Runtime) Blob(w checkgen.Width) checkgen.Blob { return r.blobs[w] }

// HookLibrary locates libPath among the currently loaded shared objects,
// marks its whole address range addressable, and redirects its allocator
// symbols at this runtime's hooks (spec.md §4.5).
func (r *Runtime) HookLibrary(libPath string) error {
	lib, err := gotpatch.Load(libPath)
	if err != nil {
		return fmt.Errorf("asanrt: hooking library %s: %w", libPath, err)
	}
	defer lib.Close()

	if start, end, ok := procmap.MappingForLibrary(libPath); ok {
		r.allocator.MapShadowForRegion(start, end, true)
	}

	addrs := hooks.Addresses()
	for symbol, impl := range addrs {
		n, err := lib.HookFunction(symbol, impl)
		if err != nil {
			diag.Logf(diag.LevelWarn, "asanrt: %v", err)
			continue
		}
		oplog.HookInstalled(libPath, symbol, n)
	}
	return nil
}

// RegisterThread implements spec.md §4.6's register_thread operation for
// the calling goroutine's underlying OS thread: it shadows the thread's
// stack and TLS mappings and unpoisons them.
func (r *Runtime) RegisterThread() error {
	var stackVar int
	tlsAddr := currentTLSAddr()
	return registrar.RegisterThread(r.allocator, uintptr(unsafe.Pointer(&stackVar)), tlsAddr)
}

// UnpoisonAllExistingMemory implements spec.md §4.6's startup operation:
// every currently mapped region becomes addressable.
func (r *Runtime) UnpoisonAllExistingMemory() error {
	return registrar.UnpoisonAllExistingMemory(r.allocator)
}
