// Package ratelimit throttles repeated non-fatal diagnostic lines per
// category; package diag's LogfRate consults it before writing a line. It is
// never consulted on the fatal dump path (register/stack/backtrace output is
// always printed in full, unthrottled).
package ratelimit

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// Throttle wraps a [catrate.Limiter] with a fixed default policy suitable for
// diagnostic logging: at most a handful of identical lines per second, with a
// slower long-window cap to survive a sustained flood.
type Throttle struct {
	limiter *catrate.Limiter
}

// Default rates: at most 5 lines/second, 50/minute, per category.
var defaultRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 50,
}

// New constructs a Throttle using the default rates. A nil *Throttle is
// valid and always allows (see [Throttle.Allow]).
func New() *Throttle {
	return &Throttle{limiter: catrate.NewLimiter(defaultRates)}
}

// Allow reports whether a line in the given category may be emitted now.
func (t *Throttle) Allow(category string) bool {
	if t == nil || t.limiter == nil {
		return true
	}
	_, ok := t.limiter.Allow(category)
	return ok
}
