// Package diag is the runtime's low-overhead diagnostic writer.
//
// It intentionally does not depend on the heavier logiface/stumpy stack (see
// package oplog for that): this package backs the trap handler's register,
// stack, and backtrace dump, which may run while another goroutine holds the
// allocator mutex, and must not allocate or lock anything the allocator
// itself touches. A package-level, swappable [Logger] keeps that dependency
// surface to stdlib only, mirroring the teacher's own two-tier logging
// story (see DESIGN.md).
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-asanrt/ratelimit"
)

// Level is the severity of a diagnostic line.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(l))
	}
}

// Logger is the diagnostic logging interface. Implementations must be safe
// to call concurrently, including from a signal handler context (no
// allocator locks, best-effort only).
type Logger interface {
	// Logf writes one line at the given level.
	Logf(level Level, format string, args ...any)
	// Writer returns the underlying writer, for callers (the trap dump) that
	// need to format large blocks of raw text directly.
	Writer() io.Writer
	// IsEnabled reports whether a line at level would actually be written.
	IsEnabled(level Level) bool
}

// DefaultLogger writes plain lines to an *os.File, gated by a minimum level.
type DefaultLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	Out   *os.File
}

// NewDefaultLogger creates a Logger writing to os.Stderr at the given
// minimum level.
func NewDefaultLogger(level Level) *DefaultLogger {
	l := &DefaultLogger{Out: os.Stderr}
	l.level.Store(int32(level))
	return l
}

func (l *DefaultLogger) SetLevel(level Level) { l.level.Store(int32(level)) }

func (l *DefaultLogger) IsEnabled(level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *DefaultLogger) Logf(level Level, format string, args ...any) {
	if !l.IsEnabled(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.Out, "[%s] "+format+"\n", append([]any{level}, args...)...)
}

func (l *DefaultLogger) Writer() io.Writer { return l.Out }

// noopLogger discards everything; it is the zero-value fallback so callers
// never need a nil check.
type noopLogger struct{}

func (noopLogger) Logf(Level, string, ...any) {}
func (noopLogger) Writer() io.Writer          { return io.Discard }
func (noopLogger) IsEnabled(Level) bool       { return false }

var global struct {
	sync.RWMutex
	logger   Logger
	throttle *ratelimit.Throttle
}

func init() {
	global.logger = NewDefaultLogger(LevelInfo)
	global.throttle = ratelimit.New()
}

// SetLogger installs the package-level diagnostic logger.
func SetLogger(l Logger) {
	global.Lock()
	defer global.Unlock()
	if l == nil {
		l = noopLogger{}
	}
	global.logger = l
}

// Get returns the current package-level logger, never nil.
func Get() Logger {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}

// Logf writes a line at the given level via the package-level logger.
func Logf(level Level, format string, args ...any) {
	Get().Logf(level, format, args...)
}

// LogfRate is like Logf, but drops the line if category has exceeded its
// throttle budget (see package ratelimit). Intended for lines that can
// repeat at high frequency outside the fatal dump path.
func LogfRate(category string, level Level, format string, args ...any) {
	global.RLock()
	t := global.throttle
	global.RUnlock()
	if !t.Allow(category) {
		return
	}
	Logf(level, format, args...)
}

// Writer returns the package-level logger's underlying writer, for direct
// formatted output of large diagnostic blocks (register/stack dumps).
func Writer() io.Writer { return Get().Writer() }
