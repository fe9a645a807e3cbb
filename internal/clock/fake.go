package clock

import "time"

// FakeClock is a manually advanced Clock for tests. It never moves on its
// own, so window arithmetic in tests is exact.
type FakeClock struct {
	now time.Time
}

// NewFakeClock starts the clock at t. A zero t pins it to a fixed instant so
// tests stay independent of wall time.
func NewFakeClock(t time.Time) *FakeClock {
	if t.IsZero() {
		t = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
