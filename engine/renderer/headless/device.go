package headless

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

const (
	KIND_DEPTH_STENCIL = "depth_stencil"
	KIND_SAMPLER       = "sampler"
	KIND_FRAMEBUFFER   = "framebuffer"
	KIND_BUFFER        = "buffer"
)

type Options struct {
	// Capabilities reported by the device. DefaultCapabilities when nil.
	Capabilities *driver.Capabilities
	// When set, committed command buffers only complete through Complete or
	// CompleteAll. Otherwise they complete in order on a queue goroutine.
	Manual bool
	// Simulated execution time of each command buffer when not Manual.
	Latency time.Duration
}

func DefaultCapabilities() driver.Capabilities {
	return driver.Capabilities{
		DeviceName:                 "headless",
		IndirectDraw:               true,
		BaseInstance:               true,
		AnisotropicMipFilter:       true,
		StoreAndMultisampleResolve: true,
		MaxAnisotropy:              16,
		MaxColourAttachments:       metadata.MAX_COLOUR_ATTACHMENTS,
		ConstantBufferAlignment:    256,
		HorizontalTexelOffset:      0,
		VerticalTexelOffset:        0,
		MinDepthInputValue:         0,
		MaxDepthInputValue:         1,
	}
}

// Device records every native call instead of talking to a GPU.
type Device struct {
	name string
	caps driver.Capabilities
	opts Options

	nextID atomic.Uint64

	mu             sync.Mutex
	idle           *sync.Cond
	live           map[string]int
	created        map[string]int
	commandBuffers []*CommandBuffer
	pending        []*CommandBuffer
	failures       map[Op]error
	lost           bool
	destroyed      bool

	queue chan *CommandBuffer
	wg    sync.WaitGroup
}

func NewDevice(name string, opts Options) *Device {
	caps := DefaultCapabilities()
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
	}
	caps.DeviceName = name
	d := &Device{
		name:     name,
		caps:     caps,
		opts:     opts,
		live:     make(map[string]int),
		created:  make(map[string]int),
		failures: make(map[Op]error),
	}
	d.idle = sync.NewCond(&d.mu)
	if !opts.Manual {
		d.queue = make(chan *CommandBuffer, 64)
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Capabilities() driver.Capabilities {
	return d.caps
}

// run plays the role of the GPU queue: buffers complete in commit order.
func (d *Device) run() {
	defer d.wg.Done()
	for cb := range d.queue {
		if d.opts.Latency > 0 {
			time.Sleep(d.opts.Latency)
		}
		d.mu.Lock()
		d.completeLocked(cb)
		d.mu.Unlock()
	}
}

// FailNext makes the next op of the given kind fail with err.
func (d *Device) FailNext(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *Device) injectedLocked(op Op) error {
	if d.lost {
		return driver.ErrDeviceLost
	}
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

// Lose marks the device as lost. Pending and later command buffers complete
// with driver.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
	if d.opts.Manual {
		for len(d.pending) > 0 {
			d.completeLocked(d.pending[0])
		}
	}
}

func (d *Device) IsLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

func (d *Device) Created(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *Device) track(kind string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live[kind] += delta
	if delta > 0 {
		d.created[kind] += delta
	}
	if d.live[kind] < 0 {
		core.LogError("headless: %s destroyed more often than created", kind)
	}
}

type depthStencilState struct {
	id   uint64
	desc metadata.DepthStencilDescriptor
}

func (s *depthStencilState) Descriptor() metadata.DepthStencilDescriptor { return s.desc }
func (s *depthStencilState) ID() uint64                                  { return s.id }

type samplerState struct {
	id   uint64
	desc metadata.SamplerDescriptor
}

func (s *samplerState) Descriptor() metadata.SamplerDescriptor { return s.desc }
func (s *samplerState) ID() uint64                             { return s.id }

type framebuffer struct {
	name string
	desc *metadata.RenderPassDescriptor
}

func (f *framebuffer) Name() string                               { return f.name }
func (f *framebuffer) Descriptor() *metadata.RenderPassDescriptor { return f.desc }

func (d *Device) fail(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.injectedLocked(op)
}

func (d *Device) CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (driver.DepthStencilState, error) {
	if err := d.fail(OP_CREATE_DEPTH_STENCIL); err != nil {
		return nil, err
	}
	d.track(KIND_DEPTH_STENCIL, 1)
	return &depthStencilState{id: d.nextID.Add(1), desc: desc}, nil
}

func (d *Device) DestroyDepthStencilState(state driver.DepthStencilState) {
	if state != nil {
		d.track(KIND_DEPTH_STENCIL, -1)
	}
}

func (d *Device) CreateSamplerState(desc metadata.SamplerDescriptor) (driver.SamplerState, error) {
	if err := d.fail(OP_CREATE_SAMPLER); err != nil {
		return nil, err
	}
	d.track(KIND_SAMPLER, 1)
	return &samplerState{id: d.nextID.Add(1), desc: desc}, nil
}

func (d *Device) DestroySamplerState(state driver.SamplerState) {
	if state != nil {
		d.track(KIND_SAMPLER, -1)
	}
}

func (d *Device) CreateFramebuffer(name string, desc *metadata.RenderPassDescriptor) (driver.Framebuffer, error) {
	if err := d.fail(OP_CREATE_FRAMEBUFFER); err != nil {
		return nil, err
	}
	if !desc.Validate() {
		return nil, fmt.Errorf("headless: invalid framebuffer descriptor '%s'", desc.Name)
	}
	d.track(KIND_FRAMEBUFFER, 1)
	return &framebuffer{name: name, desc: desc}, nil
}

func (d *Device) DestroyFramebuffer(fb driver.Framebuffer) {
	if fb != nil {
		d.track(KIND_FRAMEBUFFER, -1)
	}
}

func (d *Device) CreateBuffer(name string, size uint64, usage metadata.BufferUsage) (*metadata.Buffer, error) {
	if err := d.fail(OP_CREATE_BUFFER); err != nil {
		return nil, err
	}
	d.track(KIND_BUFFER, 1)
	return &metadata.Buffer{
		Name:         name,
		Size:         size,
		Usage:        usage,
		Data:         make([]byte, size),
		InternalData: d.nextID.Add(1),
	}, nil
}

func (d *Device) DestroyBuffer(buf *metadata.Buffer) {
	if buf != nil {
		d.track(KIND_BUFFER, -1)
		buf.Data = nil
	}
}

func (d *Device) NewCommandBuffer() (driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injectedLocked(OP_NEW_COMMAND_BUFFER); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{device: d, id: d.nextID.Add(1)}
	d.commandBuffers = append(d.commandBuffers, cb)
	return cb, nil
}

func (d *Device) commit(cb *CommandBuffer) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return fmt.Errorf("headless: commit on destroyed device")
	}
	err := d.injectedLocked(OP_COMMIT)
	if err != nil && err != driver.ErrDeviceLost {
		d.mu.Unlock()
		return err
	}
	d.pending = append(d.pending, cb)
	if err == driver.ErrDeviceLost && d.opts.Manual {
		// nothing will ever execute it
		d.completeLocked(cb)
	}
	d.mu.Unlock()

	if d.queue != nil {
		d.queue <- cb
	}
	return nil
}

func (d *Device) completeLocked(cb *CommandBuffer) {
	for i, p := range d.pending {
		if p == cb {
			d.pending = append(d.pending[:i:i], d.pending[i+1:]...)
			break
		}
	}
	var err error
	if d.lost {
		err = driver.ErrDeviceLost
	}
	handlers := cb.finish()
	if len(d.pending) == 0 {
		d.idle.Broadcast()
	}
	// handlers may call back into the device
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
	d.mu.Lock()
}

// Complete finishes the n oldest committed command buffers. Returns how many
// were completed.
func (d *Device) Complete(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	done := 0
	for done < n && len(d.pending) > 0 {
		d.completeLocked(d.pending[0])
		done++
	}
	return done
}

func (d *Device) CompleteAll() int {
	return d.Complete(int(^uint(0) >> 1))
}

func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Device) WaitIdle() error {
	if d.opts.Manual {
		d.CompleteAll()
	} else {
		d.mu.Lock()
		for len(d.pending) > 0 {
			d.idle.Wait()
		}
		d.mu.Unlock()
	}
	if d.IsLost() {
		return driver.ErrDeviceLost
	}
	return nil
}

// CommandBuffers returns every command buffer created so far, in creation order.
func (d *Device) CommandBuffers() []*CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*CommandBuffer, len(d.commandBuffers))
	copy(out, d.commandBuffers)
	return out
}

// Calls flattens the calls of every command buffer in creation order.
func (d *Device) Calls() []Call {
	var calls []Call
	for _, cb := range d.CommandBuffers() {
		calls = append(calls, cb.Calls()...)
	}
	return calls
}

// Draws returns only the draw calls, in recording order.
func (d *Device) Draws() []Call {
	var draws []Call
	for _, c := range d.Calls() {
		if c.Op == OP_DRAW || c.Op == OP_DRAW_INDEXED {
			draws = append(draws, c)
		}
	}
	return draws
}

// Destroy stops the queue goroutine after the pending buffers completed.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()
	if d.queue != nil {
		close(d.queue)
		d.wg.Wait()
	} else {
		d.CompleteAll()
	}
}
