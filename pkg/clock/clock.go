// Package clock provides the wrapping tick counter and the periodic tick
// source that drives it.
package clock

import (
	"sync/atomic"
	"time"
)

// Tick is a value of the wrapping tick counter.
type Tick uint32

// Since returns now-ref using wraparound-safe unsigned subtraction.
func Since(now, ref Tick) uint32 {
	return uint32(now - ref)
}

// Clock is a monotonically increasing tick counter which wraps to zero on
// overflow. Inc is called from the tick interrupt, everything else from any
// context.
type Clock struct {
	ticks atomic.Uint32
}

// Inc advances the counter by exactly one tick.
func (c *Clock) Inc() {
	c.ticks.Add(1)
}

// HandleTick implements TickHandler.
func (c *Clock) HandleTick() {
	c.Inc()
}

// Now returns the current counter value.
func (c *Clock) Now() Tick {
	return Tick(c.ticks.Load())
}

// ElapsedAtLeast reports whether at least threshold ticks passed since ref.
// Never compare Now() against ref+threshold directly, that breaks when the
// counter wraps.
func (c *Clock) ElapsedAtLeast(ref Tick, threshold uint32) bool {
	return Since(c.Now(), ref) >= threshold
}

// Rate is the tick frequency in Hz.
type Rate uint32

// DefaultRate is the 1kHz system tick.
const DefaultRate Rate = 1000

// Period returns the duration of one tick.
func (r Rate) Period() time.Duration {
	if r == 0 {
		r = DefaultRate
	}
	return time.Second / time.Duration(r)
}

// Ticks converts d into a whole number of ticks, rounded down but never
// below one tick for a positive d.
func (r Rate) Ticks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	n := uint32(d / r.Period())
	if n == 0 {
		n = 1
	}
	return n
}
