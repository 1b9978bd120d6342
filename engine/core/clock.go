package core

import "time"

// Clock measures frame times on the monotonic clock. It is not safe for
// concurrent use; the frame loop owns it.
type Clock struct {
	start    time.Time
	lastTick time.Time
	elapsed  time.Duration
	running  bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes the elapsed time. Has no effect on a stopped clock.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = time.Since(c.start)
	}
}

// Start resets the elapsed time and the tick reference.
func (c *Clock) Start() {
	c.start = time.Now()
	c.lastTick = c.start
	c.elapsed = 0
	c.running = true
}

// Stop freezes the elapsed time.
func (c *Clock) Stop() {
	c.Update()
	c.running = false
}

func (c *Clock) Running() bool {
	return c.running
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// Tick updates the clock and returns the seconds since the previous Tick, or
// since Start for the first one. Zero on a stopped clock.
func (c *Clock) Tick() float64 {
	if !c.running {
		return 0
	}
	now := time.Now()
	delta := now.Sub(c.lastTick)
	c.lastTick = now
	c.elapsed = now.Sub(c.start)
	return delta.Seconds()
}
