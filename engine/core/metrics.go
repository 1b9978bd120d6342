package core

import "sync"

const AVG_COUNT uint8 = 30

// Metrics keeps a rolling average of frame times plus the time the frame gate
// spent blocked waiting for the GPU.
type Metrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	gateWaitMS    float64
	gateWaitCount uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		msTimes: [AVG_COUNT]float64{0},
	}
}

// Update registers the elapsed time (seconds) of the last frame.
func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := (frameElapsedTime * 1000.0)
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
}

// GateWait registers how long (seconds) BeginFrame stayed blocked.
func (m *Metrics) GateWait(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seconds > 0 {
		m.gateWaitMS += seconds * 1000.0
		m.gateWaitCount++
	}
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *Metrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAvg
}

// Stalls returns how many frames had to wait on the gate and the total time waited in ms.
func (m *Metrics) Stalls() (uint64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateWaitCount, m.gateWaitMS
}
