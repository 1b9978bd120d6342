package autoparams

import (
	"fmt"

	"github.com/spaghettifunk/rendercore/engine/containers"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type Config struct {
	MinBufferSize uint64
	MaxBufferSize uint64
	Alignment     uint64
	HistoryFrames int
	// Number of per-frame buffer sets, one per frame that can be in flight.
	Slots int
}

/** @brief A writable region handed out by Reserve. */
type Window struct {
	Buffer      *metadata.Buffer
	BufferIndex int
	Offset      uint64
	Size        uint64
	// Host mapping of the region, nil when the buffer is not mapped.
	Data []byte
}

/**
 * @brief Hands out transient constant storage for auto-bound shader parameters.
 * Each frame slot owns its own ring of buffers; a slot is only rewritten after
 * the frame gate granted it again, i.e. once the GPU finished reading it.
 * Not safe for concurrent use, every recording context owns one allocator.
 */
type Allocator struct {
	device driver.Device
	config Config

	slots [][]*metadata.Buffer

	slot        int
	bufferIndex int
	offset      uint64
	frameUsage  uint64
	frameBegun  bool

	history *containers.RingQueue[uint64]
}

func NewAllocator(device driver.Device, config Config) (*Allocator, error) {
	if config.Slots < 1 {
		config.Slots = 1
	}
	if config.HistoryFrames < 1 {
		config.HistoryFrames = 60
	}
	if config.Alignment == 0 || config.Alignment&(config.Alignment-1) != 0 {
		return nil, fmt.Errorf("auto params alignment must be a power of two, got %d", config.Alignment)
	}
	if config.MinBufferSize == 0 || config.MaxBufferSize < config.MinBufferSize {
		return nil, fmt.Errorf("invalid auto params buffer sizes: min=%d max=%d", config.MinBufferSize, config.MaxBufferSize)
	}
	return &Allocator{
		device:  device,
		config:  config,
		slots:   make([][]*metadata.Buffer, config.Slots),
		history: containers.NewRingQueue[uint64](config.HistoryFrames),
	}, nil
}

func alignUp(size, alignment uint64) uint64 {
	return (size + alignment - 1) &^ (alignment - 1)
}

/**
 * @brief Returns the cursor to the first buffer of slot without shrinking
 * anything. Records the usage of the frame that just ended.
 */
func (a *Allocator) BeginFrame(slot int) {
	if a.frameBegun {
		a.history.Push(a.frameUsage)
	}
	a.frameBegun = true
	a.slot = slot % len(a.slots)
	a.bufferIndex = 0
	a.offset = 0
	a.frameUsage = 0
}

// Predicted is the size a new buffer gets: the peak per-frame usage seen over
// the history window, clamped to the configured bounds.
func (a *Allocator) Predicted() uint64 {
	var peak uint64
	a.history.Each(func(usage uint64) {
		if usage > peak {
			peak = usage
		}
	})
	if a.frameUsage > peak {
		peak = a.frameUsage
	}
	peak = alignUp(peak, a.config.Alignment)
	if peak < a.config.MinBufferSize {
		return a.config.MinBufferSize
	}
	if peak > a.config.MaxBufferSize {
		return a.config.MaxBufferSize
	}
	return peak
}

/**
 * @brief Reserves a contiguous region of at least bytes. Moves to the next
 * buffer when the current one is exhausted and allocates a new one sized from
 * history when none is left.
 */
func (a *Allocator) Reserve(bytes uint64) (Window, error) {
	var size uint64
	if bytes <= a.config.MaxBufferSize {
		size = alignUp(bytes, a.config.Alignment)
		if size == 0 {
			size = a.config.Alignment
		}
	}
	if bytes > a.config.MaxBufferSize || size > a.config.MaxBufferSize {
		err := fmt.Errorf("reserve %d bytes, max buffer size is %d: %w", bytes, a.config.MaxBufferSize, core.ErrAutoParamsTooLarge)
		core.LogError(err.Error())
		return Window{}, err
	}

	buffers := a.slots[a.slot]
	for {
		if a.bufferIndex < len(buffers) {
			buf := buffers[a.bufferIndex]
			if a.offset+size <= buf.Size {
				w := Window{
					Buffer:      buf,
					BufferIndex: a.bufferIndex,
					Offset:      a.offset,
					Size:        size,
				}
				if buf.Data != nil {
					w.Data = buf.Data[a.offset : a.offset+size]
				}
				a.offset += size
				a.frameUsage += size
				return w, nil
			}
			a.bufferIndex++
			a.offset = 0
			continue
		}

		newSize := a.Predicted()
		if size > newSize {
			newSize = size
		}
		name := fmt.Sprintf("auto-params-%d-%d", a.slot, len(buffers))
		buf, err := a.device.CreateBuffer(name, newSize, metadata.BUFFER_USAGE_UNIFORM)
		if err != nil {
			err = fmt.Errorf("auto params buffer of %d bytes: %w: %w", newSize, core.ErrObjectCreation, err)
			core.LogError(err.Error())
			return Window{}, err
		}
		core.LogDebug("auto params: slot %d grew to %d buffers (%d bytes)", a.slot, len(buffers)+1, newSize)
		buffers = append(buffers, buf)
		a.slots[a.slot] = buffers
	}
}

// Buffers returns the buffers owned by slot.
func (a *Allocator) Buffers(slot int) []*metadata.Buffer {
	return a.slots[slot%len(a.slots)]
}

// Destroy frees every buffer. The GPU must not be using any of them.
func (a *Allocator) Destroy() {
	for i, buffers := range a.slots {
		for _, buf := range buffers {
			a.device.DestroyBuffer(buf)
		}
		a.slots[i] = nil
	}
	a.bufferIndex = 0
	a.offset = 0
}

// Rebind forgets the buffers of a lost device and allocates from device from now on.
func (a *Allocator) Rebind(device driver.Device) {
	for i := range a.slots {
		a.slots[i] = nil
	}
	a.device = device
	a.bufferIndex = 0
	a.offset = 0
}
