// Package registrar implements the thread and global-memory registration
// operations of spec.md §4.6: mapping shadow memory for a thread's stack and
// TLS block, and unpoisoning every currently-mapped region at startup.
package registrar

import (
	"fmt"

	"github.com/joeycumines/go-asanrt/diag"
	"github.com/joeycumines/go-asanrt/oplog"
	"github.com/joeycumines/go-asanrt/procmap"
	"github.com/joeycumines/go-asanrt/shadow"
)

// Shadower is the subset of *shadow.Allocator the registrar needs; narrowed
// to an interface so tests can substitute a fake.
type Shadower interface {
	MapShadowForRegion(start, end uintptr, unpoison bool) (shadowStart, shadowSize uintptr)
}

// RegisterThread maps shadow memory for the stack and TLS mappings
// containing stackAddr and tlsAddr respectively, unpoisoning both so the
// thread's own stack/TLS traffic is never falsely flagged. stackAddr should
// be the address of a stack-local variable in the calling thread; tlsAddr
// the address of a thread-local variable.
func RegisterThread(a Shadower, stackAddr, tlsAddr uintptr) error {
	stackStart, stackEnd, ok := procmap.MappingContaining(stackAddr)
	if !ok {
		return fmt.Errorf("registrar: no mapping contains stack address %#x", stackAddr)
	}
	a.MapShadowForRegion(stackStart, stackEnd, true)

	tlsStart, tlsEnd, ok := procmap.MappingContaining(tlsAddr)
	if !ok {
		return fmt.Errorf("registrar: no mapping contains tls address %#x", tlsAddr)
	}
	a.MapShadowForRegion(tlsStart, tlsEnd, true)

	diag.Logf(diag.LevelInfo, "registered thread stack=[%#x,%#x) tls=[%#x,%#x)",
		stackStart, stackEnd, tlsStart, tlsEnd)
	oplog.ThreadRegistered(stackStart, stackEnd, tlsStart, tlsEnd)
	return nil
}

// UnpoisonAllExistingMemory walks every current process mapping and
// unpoisons its shadow, per spec.md §4.6: memory the runtime did not
// allocate (the initial heap, loaded libraries, the stack established
// before instrumentation attached) must read as addressable rather than
// poisoned-by-default.
func UnpoisonAllExistingMemory(a Shadower) error {
	var (
		walkErr  error
		mappings int
	)
	err := procmap.Walk(func(m procmap.Mapping) bool {
		if m.End <= m.Start {
			return false
		}
		a.MapShadowForRegion(m.Start, m.End, true)
		mappings++
		return false
	})
	if err != nil {
		walkErr = fmt.Errorf("registrar: walking process mappings: %w", err)
	}
	oplog.StartupUnpoisoned(mappings)
	return walkErr
}

var _ Shadower = (*shadow.Allocator)(nil)
