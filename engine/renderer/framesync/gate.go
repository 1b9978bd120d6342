package framesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/rendercore/engine/core"
	"golang.org/x/sync/semaphore"
)

type deferredRelease struct {
	// number of frames begun when the release was requested
	after uint64
	fn    func()
}

/**
 * @brief Bounds how many frames the CPU may run ahead of the GPU. Every frame
 * holds one slot of a counting semaphore from BeginFrame until the device
 * signals that its commands completed. Frames are expected to complete in
 * submission order.
 */
type Gate struct {
	max int64
	sem *semaphore.Weighted

	mu           sync.Mutex
	beginStarted bool
	frameNumber  uint64
	completed    uint64
	inFlight     int
	generation   uint64
	deferred     []deferredRelease
	metrics      *core.Metrics
}

func NewGate(maxFramesInFlight int) *Gate {
	if maxFramesInFlight < 1 {
		maxFramesInFlight = 1
	}
	return &Gate{
		max: int64(maxFramesInFlight),
		sem: semaphore.NewWeighted(int64(maxFramesInFlight)),
	}
}

// SetMetrics makes the gate report how long BeginFrame stayed blocked.
func (g *Gate) SetMetrics(m *core.Metrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = m
}

/**
 * @brief Waits until fewer than the configured number of frames are in flight
 * and claims a slot for a new frame. A previous frame that was begun but never
 * submitted gives its slot back first, and the new frame reuses its number.
 * @returns the index of the per-frame resources the new frame may write to.
 */
func (g *Gate) BeginFrame(ctx context.Context) (int, error) {
	g.mu.Lock()
	if g.beginStarted {
		// the next frame takes over the number and the slot of the dropped one,
		// so releases deferred while it was recorded wait for its replacement
		g.beginStarted = false
		g.frameNumber--
		core.LogWarn("frame %d was begun but never submitted, releasing its slot", g.frameNumber)
		g.mu.Unlock()
		g.sem.Release(1)
	} else {
		g.mu.Unlock()
	}

	if !g.sem.TryAcquire(1) {
		start := time.Now()
		core.LogDebug("frame gate full, waiting for the GPU")
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return 0, err
		}
		g.mu.Lock()
		m := g.metrics
		g.mu.Unlock()
		if m != nil {
			m.GateWait(time.Since(start).Seconds())
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	slot := int(g.frameNumber % uint64(g.max))
	g.frameNumber++
	g.beginStarted = true
	return slot, nil
}

/**
 * @brief Marks the current frame's commands as submitted. The returned function
 * must be called once the device finished executing them; calling it more
 * than once has no effect.
 */
func (g *Gate) Submitted() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.beginStarted {
		err := fmt.Errorf("frame gate: submit without begin: %w", core.ErrFrameNotBegun)
		core.LogError(err.Error())
		return nil, err
	}
	g.beginStarted = false
	g.inFlight++
	generation := g.generation

	var once sync.Once
	return func() {
		once.Do(func() { g.complete(generation) })
	}, nil
}

func (g *Gate) complete(generation uint64) {
	g.mu.Lock()
	if generation != g.generation {
		// the slot was already given back by DeviceLost
		g.mu.Unlock()
		return
	}
	g.inFlight--
	g.completed++
	ready := g.dueLocked()
	g.mu.Unlock()

	runAll(ready)
	g.sem.Release(1)
}

/**
 * @brief Blocks until every submitted frame completed. Idempotent and safe to
 * call with nothing in flight. A frame currently being recorded keeps its slot.
 */
func (g *Gate) WaitForTailFrameToFinish(ctx context.Context) error {
	g.mu.Lock()
	n := g.max
	if g.beginStarted {
		n--
	}
	g.mu.Unlock()
	if n == 0 {
		return nil
	}
	if err := g.sem.Acquire(ctx, n); err != nil {
		return err
	}
	g.sem.Release(n)
	return nil
}

/**
 * @brief Forgets every in-flight frame after the device was lost: their slots
 * are returned immediately and their late completion signals are ignored.
 * Deferred releases run right away, nothing is executing anymore.
 */
func (g *Gate) DeviceLost() {
	g.mu.Lock()
	n := g.inFlight
	g.inFlight = 0
	g.generation++
	g.completed = g.frameNumber
	if g.beginStarted {
		g.completed--
	}
	ready := g.deferred
	g.deferred = nil
	g.mu.Unlock()

	runAll(ready)
	if n > 0 {
		g.sem.Release(int64(n))
	}
	core.LogWarn("frame gate reset after device loss, %d frames discarded", n)
}

/**
 * @brief Runs fn once every frame begun so far has completed. Runs it right
 * away when nothing is in flight or being recorded.
 */
func (g *Gate) Defer(fn func()) {
	g.mu.Lock()
	if g.completed >= g.frameNumber {
		g.mu.Unlock()
		fn()
		return
	}
	g.deferred = append(g.deferred, deferredRelease{after: g.frameNumber, fn: fn})
	g.mu.Unlock()
}

func (g *Gate) dueLocked() []deferredRelease {
	var ready []deferredRelease
	kept := g.deferred[:0]
	for _, d := range g.deferred {
		if g.completed >= d.after {
			ready = append(ready, d)
		} else {
			kept = append(kept, d)
		}
	}
	g.deferred = kept
	return ready
}

func runAll(releases []deferredRelease) {
	for _, d := range releases {
		d.fn()
	}
}

func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Gate) MaxInFlight() int {
	return int(g.max)
}

// FrameBegun reports whether a frame is being recorded.
func (g *Gate) FrameBegun() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.beginStarted
}

func (g *Gate) FramesBegun() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frameNumber
}

func (g *Gate) FramesCompleted() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed
}

func (g *Gate) PendingReleases() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deferred)
}
