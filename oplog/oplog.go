// Package oplog is the runtime's structured, non-signal-path logging: hook
// installation, library patching, thread registration, and shadow-mapping
// events (spec.md §4.4 and §4.6's operational events, as distinct from the
// fatal dump handled by package trap/diag). It wires logiface with the
// stumpy JSON backend, the combination the teacher repo's own
// logiface-stumpy package is built to support.
package oplog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is this package's logiface event type.
type Event = stumpy.Event

// Logger is a configured logiface.Logger writing newline-delimited JSON.
type Logger = logiface.Logger[*Event]

// New builds a Logger writing to w (os.Stderr if nil) at minLevel.
func New(w io.Writer, minLevel logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(minLevel),
	)
}

var global struct {
	logger *Logger
}

func init() {
	global.logger = New(os.Stderr, logiface.LevelInformational)
}

// SetGlobal installs the package-level logger used by the package-level
// convenience functions below.
func SetGlobal(l *Logger) { global.logger = l }

// Global returns the package-level logger.
func Global() *Logger { return global.logger }

// HookInstalled logs that a library's allocator functions were
// successfully redirected (spec.md §4.5's hook_library operation).
func HookInstalled(libPath, symbol string, slots int) {
	global.logger.Info().
		Str(`library`, libPath).
		Str(`symbol`, symbol).
		Int(`slots_patched`, slots).
		Log(`hooked allocator symbol`)
}

// ShadowMapped logs a shadow-region materialization (spec.md §4.1(c)).
func ShadowMapped(start, end uintptr, unpoisoned bool) {
	global.logger.Debug().
		Uint64(`start`, uint64(start)).
		Uint64(`end`, uint64(end)).
		Bool(`unpoisoned`, unpoisoned).
		Log(`mapped shadow region`)
}

// ThreadRegistered logs a successful RegisterThread call.
func ThreadRegistered(stackStart, stackEnd, tlsStart, tlsEnd uintptr) {
	global.logger.Info().
		Uint64(`stack_start`, uint64(stackStart)).
		Uint64(`stack_end`, uint64(stackEnd)).
		Uint64(`tls_start`, uint64(tlsStart)).
		Uint64(`tls_end`, uint64(tlsEnd)).
		Log(`registered thread`)
}

// StartupUnpoisoned logs completion of UnpoisonAllExistingMemory.
func StartupUnpoisoned(mappings int) {
	global.logger.Info().
		Int(`mappings`, mappings).
		Log(`unpoisoned existing process memory`)
}

// ForkReinitialized logs that a forked child rebuilt its allocator (spec.md
// §9's fork-safety requirement).
func ForkReinitialized() {
	global.logger.Info().
		Log(`reinitialized shadow allocator after fork`)
}
