package vulkan

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// Device implements driver.Device on an offscreen Vulkan logical device.
type Device struct {
	context *VulkanContext
	caps    driver.Capabilities

	maxUniformRange   vk.DeviceSize
	multiDrawIndirect bool

	// Pool for one time uploads and layout transitions.
	utilMu   sync.Mutex
	utilPool vk.CommandPool

	// Keeps QueueSubmit and the hand-off to the reaper in commit order.
	submitMu  sync.Mutex
	submitted chan *commandBuffer
	wg        sync.WaitGroup

	mu        sync.Mutex
	idle      *sync.Cond
	pending   int
	lost      bool
	destroyed bool
}

func NewDevice(context *VulkanContext) (*Device, error) {
	pool, err := createCommandPool(context, true)
	if err != nil {
		return nil, err
	}
	d := &Device{
		context:           context,
		caps:              deviceCapabilities(context.Device),
		maxUniformRange:   vk.DeviceSize(context.Device.Properties.Limits.MaxUniformBufferRange),
		multiDrawIndirect: context.Device.Enabled.MultiDrawIndirect == vk.True,
		utilPool:          pool,
		submitted:         make(chan *commandBuffer, 64),
	}
	d.idle = sync.NewCond(&d.mu)
	d.wg.Add(1)
	go d.reap()
	return d, nil
}

func (d *Device) Name() string {
	return d.caps.DeviceName
}

func (d *Device) Capabilities() driver.Capabilities {
	return d.caps
}

func (d *Device) CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (driver.DepthStencilState, error) {
	if d.isLost() {
		return nil, driver.ErrDeviceLost
	}
	return &depthStencilState{desc: desc, info: depthStencilCreateInfo(desc)}, nil
}

func (d *Device) DestroyDepthStencilState(state driver.DepthStencilState) {}

func (d *Device) CreateSamplerState(desc metadata.SamplerDescriptor) (driver.SamplerState, error) {
	info := samplerCreateInfo(desc, d.caps)
	var handle vk.Sampler
	if res := vk.CreateSampler(d.context.Device.LogicalDevice, &info, d.context.Allocator, &handle); res != vk.Success {
		err := resultError(res, "vkCreateSampler")
		core.LogError(err.Error())
		return nil, err
	}
	return &samplerState{desc: desc, handle: handle}, nil
}

func (d *Device) DestroySamplerState(state driver.SamplerState) {
	s, ok := state.(*samplerState)
	if !ok || s.handle == vk.NullSampler {
		return
	}
	vk.DestroySampler(d.context.Device.LogicalDevice, s.handle, d.context.Allocator)
	s.handle = vk.NullSampler
}

func (d *Device) CreateFramebuffer(name string, desc *metadata.RenderPassDescriptor) (driver.Framebuffer, error) {
	return NewVulkanFramebuffer(d.context, name, desc)
}

func (d *Device) DestroyFramebuffer(fb driver.Framebuffer) {
	if vfb, ok := fb.(*VulkanFramebuffer); ok {
		vfb.Destroy(d.context)
	}
}

func (d *Device) CreateBuffer(name string, size uint64, usage metadata.BufferUsage) (*metadata.Buffer, error) {
	vb, data, err := NewVulkanBuffer(d.context, size, usage)
	if err != nil {
		err = fmt.Errorf("buffer '%s': %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return &metadata.Buffer{
		Name:         name,
		Size:         size,
		Usage:        usage,
		Data:         data,
		InternalData: vb,
	}, nil
}

func (d *Device) DestroyBuffer(buf *metadata.Buffer) {
	if buf == nil {
		return
	}
	if vb, ok := buf.InternalData.(*VulkanBuffer); ok {
		vb.Destroy(d.context)
	}
	buf.Data = nil
	buf.InternalData = nil
}

/**
 * @brief Creates the native image of tex and moves it to the general layout.
 * Texture storage belongs to the layer above; this only fills InternalData.
 */
func (d *Device) CreateImage(tex *metadata.Texture, format vk.Format, mipLevels, layers uint32) error {
	vi, err := NewVulkanImage(d.context, tex, format, mipLevels, layers)
	if err != nil {
		core.LogError("image '%s': %s", tex.Name, err)
		return err
	}
	if err := d.singleUse(func(cb *VulkanCommandBuffer) { vi.TransitionToGeneral(cb) }); err != nil {
		vi.Destroy(d.context)
		return err
	}
	tex.InternalData = vi
	return nil
}

func (d *Device) DestroyImage(tex *metadata.Texture) {
	if tex == nil {
		return
	}
	if vi, ok := tex.InternalData.(*VulkanImage); ok {
		vi.Destroy(d.context)
	}
	tex.InternalData = nil
}

// CreateTexture allocates one mip and one layer for tex. Depth textures use
// the depth-stencil format detected at device creation.
func (d *Device) CreateTexture(tex *metadata.Texture) error {
	format := vk.FormatR8g8b8a8Unorm
	if tex.HasFlag(metadata.TextureFlagIsDepth) {
		format = d.context.Device.DepthFormat
	}
	return d.CreateImage(tex, format, 1, 1)
}

func (d *Device) DestroyTexture(tex *metadata.Texture) {
	d.DestroyImage(tex)
}

// CreatePipeline builds the program of pso. Graphics pipelines need
// config.Framebuffer, compute pipelines config.ComputeShader.
func (d *Device) CreatePipeline(pso *metadata.PipelineStateObject, config *VulkanPipelineConfig) error {
	var err error
	if pso.Kind == metadata.PIPELINE_KIND_COMPUTE {
		_, err = NewComputePipeline(d.context, pso, config)
	} else {
		_, err = NewGraphicsPipeline(d.context, pso, config)
	}
	return err
}

func (d *Device) DestroyPipeline(pso *metadata.PipelineStateObject) {
	if vp, ok := pso.Program.(*VulkanPipeline); ok {
		vp.Destroy(d.context)
	}
	pso.Program = nil
}

func (d *Device) singleUse(record func(cb *VulkanCommandBuffer)) error {
	d.utilMu.Lock()
	defer d.utilMu.Unlock()
	cb, err := AllocateAndBeginSingleUse(d.context, d.utilPool)
	if err != nil {
		return err
	}
	record(cb)
	return cb.EndSingleUse(d.context, d.utilPool, d.context.Device.GraphicsQueue)
}

func (d *Device) NewCommandBuffer() (driver.CommandBuffer, error) {
	d.mu.Lock()
	switch {
	case d.destroyed:
		d.mu.Unlock()
		return nil, fmt.Errorf("vulkan: device destroyed")
	case d.lost:
		d.mu.Unlock()
		return nil, driver.ErrDeviceLost
	}
	d.mu.Unlock()
	return newCommandBuffer(d)
}

func (d *Device) isLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Device) markLost() {
	d.mu.Lock()
	if !d.lost {
		d.lost = true
		core.LogError("vulkan device '%s' lost", d.caps.DeviceName)
	}
	d.mu.Unlock()
}

func (d *Device) submit(c *commandBuffer) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		c.destroy()
		return fmt.Errorf("vulkan: commit on destroyed device")
	}
	d.pending++
	d.mu.Unlock()

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.cb.Handle},
	}
	err := d.context.locks.SafeQueueCall(uint32(d.context.Device.GraphicsQueueIndex), func() error {
		return resultError(vk.QueueSubmit(d.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, c.fence.Handle), "vkQueueSubmit")
	})
	if err != nil {
		core.LogError("command buffer '%s': %s", c.Label(), err)
		if errors.Is(err, driver.ErrDeviceLost) {
			d.markLost()
		}
		c.destroy()
		d.done()
		return err
	}
	c.cb.UpdateSubmitted()
	d.submitted <- c
	return nil
}

func (d *Device) done() {
	d.mu.Lock()
	d.pending--
	if d.pending == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// reap completes submitted buffers in commit order.
func (d *Device) reap() {
	defer d.wg.Done()
	for c := range d.submitted {
		err := d.wait(c)
		if errors.Is(err, driver.ErrDeviceLost) {
			d.markLost()
		}
		for _, fn := range c.finish() {
			fn(err)
		}
		c.destroy()
		d.done()
	}
}

func (d *Device) wait(c *commandBuffer) error {
	for waited := 1; ; waited++ {
		if d.isLost() {
			return driver.ErrDeviceLost
		}
		signaled, err := c.fence.FenceWait(d.context, VULKAN_FENCE_WAIT_SLICE_NS)
		if err != nil {
			return err
		}
		if signaled {
			return nil
		}
		core.LogWarn("command buffer '%s' still executing after %ds", c.Label(), waited)
	}
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	for d.pending > 0 {
		d.idle.Wait()
	}
	lost := d.lost
	d.mu.Unlock()
	if lost {
		return driver.ErrDeviceLost
	}
	return nil
}

// destroy waits for the submitted work and releases the device objects.
func (d *Device) destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	if err := d.WaitIdle(); err != nil {
		core.LogWarn("vulkan device destroyed after: %s", err)
	}
	close(d.submitted)
	d.wg.Wait()

	vk.DeviceWaitIdle(d.context.Device.LogicalDevice)
	if d.utilPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.context.Device.LogicalDevice, d.utilPool, d.context.Allocator)
		d.utilPool = vk.NullCommandPool
	}
}
