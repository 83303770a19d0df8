package engine

import "time"

// Clock is the logical tick clock. All evaluation is stamped with a
// strictly increasing tick number; simulation time derives from the tick
// count and the per-tick dt, never from the wall clock.
//
// This ensures:
//   - Deterministic ordering (no wall-clock race conditions)
//   - Replay produces identical traces
//   - prev. references have an unambiguous "previous tick" to point at
//
// Thread-safety: Clock is confined to the engine's single evaluation
// goroutine and needs no synchronization.
type Clock struct {
	tick int64
	time float64
	dt   float64
}

// NewClock creates a clock at tick 0, time 0, with a fixed dt in seconds.
func NewClock(dt float64) *Clock {
	return &Clock{dt: dt}
}

// Tick returns the current tick number.
func (c *Clock) Tick() int64 { return c.tick }

// Time returns the simulation time in seconds at the current tick.
func (c *Clock) Time() float64 { return c.time }

// Dt returns the interval the next Advance will add, in seconds.
func (c *Clock) Dt() float64 { return c.dt }

// Advance moves the clock to the next tick. With measured-dt mode the
// caller passes the observed interval; otherwise it passes c.Dt().
func (c *Clock) Advance(dt float64) {
	c.tick++
	c.time += dt
}

// SetDt replaces the interval reported by Dt. Used by measured-dt mode,
// where each tick publishes the wall interval actually observed.
func (c *Clock) SetDt(d time.Duration) {
	c.dt = d.Seconds()
}
