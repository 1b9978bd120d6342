// Package driver defines the boundary between the render system and the
// native device layer below it.
package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// Driver loads and unloads a native implementation.
type Driver interface {
	// Open initializes the driver. Further calls return the same Device
	// until Close is called.
	Open() (Device, error)

	// Name returns the name of the driver. It must not open the driver.
	Name() string

	// Close deinitializes the driver. Closing a driver that is not open
	// has no effect.
	Close()
}

var (
	ErrNoDevice       = errors.New("driver: no suitable device found")
	ErrNoHostMemory   = errors.New("driver: out of host memory")
	ErrNoDeviceMemory = errors.New("driver: out of device memory")
	// The device must be discarded along with everything created from it.
	ErrDeviceLost = errors.New("driver: device lost")
)

// Registry is the list of available drivers. It is passed explicitly to
// whoever needs to enumerate or reopen devices.
type Registry struct {
	mu      sync.Mutex
	drivers []Driver
}

func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make([]Driver, 0, len(drivers))}
	for _, drv := range drivers {
		r.Register(drv)
	}
	return r
}

// Register adds drv. A driver with the same name is replaced.
func (r *Registry) Register(drv Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.drivers {
		if r.drivers[i].Name() == drv.Name() {
			r.drivers[i] = drv
			core.LogWarn("driver '%s' replaced", drv.Name())
			return
		}
	}
	r.drivers = append(r.drivers, drv)
	core.LogDebug("driver '%s' registered", drv.Name())
}

func (r *Registry) Drivers() []Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	drv := make([]Driver, len(r.drivers))
	copy(drv, r.drivers)
	return drv
}

// Lookup returns the driver called name, or the first registered driver when
// name is empty.
func (r *Registry) Lookup(name string) (Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drivers) == 0 {
		return nil, ErrNoDevice
	}
	if name == "" {
		return r.drivers[0], nil
	}
	for _, drv := range r.drivers {
		if drv.Name() == name {
			return drv, nil
		}
	}
	return nil, fmt.Errorf("driver '%s' is not registered: %w", name, ErrNoDevice)
}

// Capabilities describes what the device supports. Missing features select a
// fallback path, they are never errors.
type Capabilities struct {
	DeviceName string

	IndirectDraw               bool
	BaseInstance               bool
	AnisotropicMipFilter       bool
	StoreAndMultisampleResolve bool

	MaxAnisotropy           float32
	MaxColourAttachments    uint32
	ConstantBufferAlignment uint64

	HorizontalTexelOffset float32
	VerticalTexelOffset   float32
	MinDepthInputValue    float32
	MaxDepthInputValue    float32
}

type Device interface {
	Name() string
	Capabilities() Capabilities

	CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (DepthStencilState, error)
	DestroyDepthStencilState(state DepthStencilState)
	CreateSamplerState(desc metadata.SamplerDescriptor) (SamplerState, error)
	DestroySamplerState(state SamplerState)

	CreateFramebuffer(name string, desc *metadata.RenderPassDescriptor) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	// CreateBuffer returns a host visible buffer with Data mapped.
	CreateBuffer(name string, size uint64, usage metadata.BufferUsage) (*metadata.Buffer, error)
	DestroyBuffer(buf *metadata.Buffer)

	NewCommandBuffer() (CommandBuffer, error)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
}

type DepthStencilState interface {
	Descriptor() metadata.DepthStencilDescriptor
}

type SamplerState interface {
	Descriptor() metadata.SamplerDescriptor
}

type Framebuffer interface {
	Name() string
	Descriptor() *metadata.RenderPassDescriptor
}

type CommandBuffer interface {
	SetLabel(label string)
	Label() string

	BeginRenderEncoder(fb Framebuffer, desc *metadata.RenderPassDescriptor) (RenderEncoder, error)
	BeginComputeEncoder() (ComputeEncoder, error)

	PushDebugGroup(name string)
	PopDebugGroup()

	// AddCompletedHandler registers fn to run once the device finished
	// executing the buffer. fn receives nil or the device error.
	AddCompletedHandler(fn func(err error))

	// Commit submits the buffer to the device queue. Buffers execute in
	// commit order.
	Commit() error
}

type RenderEncoder interface {
	SetPipeline(pso *metadata.PipelineStateObject)
	SetDepthStencilState(state DepthStencilState)
	SetStencilReference(ref uint32)
	SetViewports(viewports []metadata.Viewport)
	SetScissors(scissors []metadata.Rect)

	SetVertexBuffer(slot uint32, buf *metadata.Buffer, offset uint64)
	SetIndexBuffer(buf *metadata.Buffer, offset uint64, indexType metadata.IndexType)
	SetTexture(slot uint32, tex *metadata.Texture)
	SetSampler(slot uint32, state SamplerState)
	SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64)

	Draw(args metadata.DrawIndirectArgs)
	DrawIndexed(args metadata.DrawIndexedIndirectArgs)
	// DrawIndirect reads drawCount tightly packed DrawIndirectArgs from buf.
	DrawIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32)
	// DrawIndexedIndirect reads drawCount tightly packed DrawIndexedIndirectArgs from buf.
	DrawIndexedIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32)

	InsertDebugSignpost(name string)

	EndEncoding(actions metadata.StoreActions)
}

type ComputeEncoder interface {
	SetPipeline(pso *metadata.PipelineStateObject)
	SetTexture(slot uint32, tex *metadata.Texture)
	SetSampler(slot uint32, state SamplerState)
	SetUAV(slot uint32, tex *metadata.Texture)
	SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64)

	Dispatch(threadGroups, threadsPerGroup [3]uint32)

	InsertDebugSignpost(name string)

	EndEncoding()
}
