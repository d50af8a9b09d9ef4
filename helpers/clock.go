package helpers

import (
	"time"

	"github.com/temoto/atomic_clock"
)

// Clock returns monotonic time since arbitrary origin, usually process start.
// Wall clock is not used because NTP may step it right after network provisioning.
type Clock interface {
	Now() time.Duration
}

type MonoClock struct{ origin time.Time }

func NewMonoClock() *MonoClock          { return &MonoClock{origin: time.Now()} }
func (c *MonoClock) Now() time.Duration { return time.Since(c.origin) }

// FakeClock is manually advanced clock for deterministic tests.
type FakeClock struct{ v atomic_clock.Clock }

func NewFakeClock(start time.Duration) *FakeClock {
	c := &FakeClock{}
	c.v.Set(int64(start))
	return c
}

func (c *FakeClock) Now() time.Duration  { return c.v.Sub(&atomic_clock.Clock{}) }
func (c *FakeClock) Set(d time.Duration) { c.v.Set(int64(d)) }
func (c *FakeClock) Add(d time.Duration) time.Duration {
	next := c.Now() + d
	c.v.Set(int64(next))
	return next
}
