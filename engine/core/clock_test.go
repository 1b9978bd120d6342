package core

import (
	"testing"
	"time"
)

func TestClockTick(t *testing.T) {
	c := NewClock()
	if c.Tick() != 0 {
		t.Fatal("stopped clock ticked")
	}

	c.Start()
	time.Sleep(5 * time.Millisecond)
	first := c.Tick()
	if first < 0.004 {
		t.Errorf("first tick: got %fs, want at least 5ms", first)
	}
	second := c.Tick()
	if second >= first {
		t.Errorf("second tick %fs not shorter than first %fs", second, first)
	}
	if c.Elapsed() < 5*time.Millisecond {
		t.Errorf("elapsed: got %s", c.Elapsed())
	}
}

func TestClockStopFreezesElapsed(t *testing.T) {
	c := NewClock()
	c.Start()
	time.Sleep(time.Millisecond)
	c.Stop()
	frozen := c.Elapsed()
	time.Sleep(time.Millisecond)
	c.Update()
	if c.Elapsed() != frozen {
		t.Errorf("elapsed moved after Stop: %s -> %s", frozen, c.Elapsed())
	}
	if c.Running() {
		t.Error("clock still running")
	}
}
