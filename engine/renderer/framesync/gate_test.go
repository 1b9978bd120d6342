package framesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func shortContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestGateNeverExceedsBound(t *testing.T) {
	const maxFrames = 3
	const frames = 200
	g := NewGate(maxFrames)

	completions := make(chan func(), frames)
	var gpuDone sync.WaitGroup
	gpuDone.Add(1)
	go func() {
		defer gpuDone.Done()
		for done := range completions {
			time.Sleep(50 * time.Microsecond)
			done()
		}
	}()

	var peak int32
	for i := 0; i < frames; i++ {
		slot, err := g.BeginFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if slot < 0 || slot >= maxFrames {
			t.Fatalf("slot %d out of range", slot)
		}
		outstanding := int32(g.InFlight() + 1)
		if outstanding > peak {
			peak = outstanding
		}
		if outstanding > maxFrames {
			t.Fatalf("frame %d: %d frames outstanding, bound is %d", i, outstanding, maxFrames)
		}
		done, err := g.Submitted()
		if err != nil {
			t.Fatal(err)
		}
		completions <- done
	}
	close(completions)
	gpuDone.Wait()

	if err := g.WaitForTailFrameToFinish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if g.InFlight() != 0 || g.FramesCompleted() != frames {
		t.Fatalf("inFlight=%d completed=%d", g.InFlight(), g.FramesCompleted())
	}
	t.Logf("peak outstanding frames: %d", peak)
}

func TestGateBlocksWhenFull(t *testing.T) {
	g := NewGate(2)
	var pending []func()
	for i := 0; i < 2; i++ {
		if _, err := g.BeginFrame(context.Background()); err != nil {
			t.Fatal(err)
		}
		done, _ := g.Submitted()
		pending = append(pending, done)
	}

	if _, err := g.BeginFrame(shortContext(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third frame: got %v, want to block until the deadline", err)
	}

	var began atomic.Bool
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if _, err := g.BeginFrame(context.Background()); err != nil {
			t.Error(err)
			return
		}
		began.Store(true)
	}()
	time.Sleep(10 * time.Millisecond)
	if began.Load() {
		t.Fatal("BeginFrame returned while the gate was full")
	}
	pending[0]()
	<-finished
	if !began.Load() {
		t.Fatal("BeginFrame did not resume after a completion")
	}
}

func TestGateReclaimsUnsubmittedFrame(t *testing.T) {
	g := NewGate(1)
	if _, err := g.BeginFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	// early exit: the frame is never submitted
	if _, err := g.BeginFrame(shortContext(t)); err != nil {
		t.Fatalf("unsubmitted frame kept its slot: %v", err)
	}
	if g.InFlight() != 0 {
		t.Fatalf("inFlight: got %d, want 0", g.InFlight())
	}
}

func TestReclaimedFrameKeepsInFlightOrder(t *testing.T) {
	g := NewGate(2)
	slot0, _ := g.BeginFrame(context.Background())
	var firstReleased, secondReleased atomic.Bool
	g.Defer(func() { firstReleased.Store(true) })
	done0, err := g.Submitted()
	if err != nil {
		t.Fatal(err)
	}

	// begun while frame 0 is on the GPU, then dropped
	dropped, _ := g.BeginFrame(context.Background())
	g.Defer(func() { secondReleased.Store(true) })

	next, err := g.BeginFrame(shortContext(t))
	if err != nil {
		t.Fatalf("BeginFrame after dropped frame: %v", err)
	}
	if next == slot0 {
		t.Fatalf("new frame got slot %d, still used by the frame in flight", next)
	}
	if next != dropped {
		t.Errorf("new frame got slot %d, want the dropped frame's slot %d", next, dropped)
	}
	if firstReleased.Load() {
		t.Fatal("release ran while frame 0 was in flight")
	}
	if g.FramesBegun() != 2 || g.FramesCompleted() != 0 {
		t.Fatalf("begun=%d completed=%d, want 2 and 0", g.FramesBegun(), g.FramesCompleted())
	}

	done0()
	if !firstReleased.Load() {
		t.Error("release not run after frame 0 completed")
	}
	if secondReleased.Load() {
		t.Fatal("release deferred by the dropped frame ran before its replacement completed")
	}
	done, err := g.Submitted()
	if err != nil {
		t.Fatal(err)
	}
	done()
	if !secondReleased.Load() {
		t.Error("release not run after the replacement frame completed")
	}
}

func TestSubmitWithoutBegin(t *testing.T) {
	g := NewGate(2)
	if _, err := g.Submitted(); err == nil {
		t.Fatal("submit without begin must fail")
	}
}

func TestCompletionIsIdempotent(t *testing.T) {
	g := NewGate(1)
	g.BeginFrame(context.Background())
	done, _ := g.Submitted()
	done()
	done()

	g.BeginFrame(context.Background())
	g.Submitted()
	if _, err := g.BeginFrame(shortContext(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("double completion released an extra slot: %v", err)
	}
}

func TestWaitForTailFrameToFinish(t *testing.T) {
	g := NewGate(3)
	// nothing in flight: returns right away, any number of times
	for i := 0; i < 2; i++ {
		if err := g.WaitForTailFrameToFinish(shortContext(t)); err != nil {
			t.Fatal(err)
		}
	}

	var dones []func()
	for i := 0; i < 2; i++ {
		g.BeginFrame(context.Background())
		done, _ := g.Submitted()
		dones = append(dones, done)
	}
	if err := g.WaitForTailFrameToFinish(shortContext(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drain returned with frames in flight: %v", err)
	}
	go func() {
		for _, done := range dones {
			time.Sleep(time.Millisecond)
			done()
		}
	}()
	if err := g.WaitForTailFrameToFinish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if g.InFlight() != 0 {
		t.Fatalf("inFlight after drain: %d", g.InFlight())
	}

	// a frame being recorded keeps its slot and does not block the drain
	g.BeginFrame(context.Background())
	if err := g.WaitForTailFrameToFinish(shortContext(t)); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceLostReleasesSlots(t *testing.T) {
	g := NewGate(2)
	var dones []func()
	for i := 0; i < 2; i++ {
		g.BeginFrame(context.Background())
		done, _ := g.Submitted()
		dones = append(dones, done)
	}
	released := false
	g.Defer(func() { released = true })

	g.DeviceLost()
	if !released {
		t.Fatal("deferred releases must run on device loss")
	}
	// late signals from the lost device are ignored
	for _, done := range dones {
		done()
	}
	if g.InFlight() != 0 {
		t.Fatalf("inFlight: got %d, want 0", g.InFlight())
	}
	for i := 0; i < 2; i++ {
		if _, err := g.BeginFrame(shortContext(t)); err != nil {
			t.Fatalf("frame %d after loss: %v", i, err)
		}
		g.Submitted()
	}
	if _, err := g.BeginFrame(shortContext(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("late completions released extra slots")
	}
}

func TestDeferWaitsForFramesInFlight(t *testing.T) {
	g := NewGate(2)
	ran := 0
	g.Defer(func() { ran++ })
	if ran != 1 {
		t.Fatal("with nothing in flight the release runs immediately")
	}

	g.BeginFrame(context.Background())
	g.Defer(func() { ran++ })
	done, _ := g.Submitted()
	g.BeginFrame(context.Background())
	if ran != 1 || g.PendingReleases() != 1 {
		t.Fatalf("release ran before the frame completed (ran=%d)", ran)
	}
	done()
	if ran != 2 {
		t.Fatalf("release did not run after the frame completed (ran=%d)", ran)
	}
}
