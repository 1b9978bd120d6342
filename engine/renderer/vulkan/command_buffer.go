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

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

var (
	ErrAlreadyCommitted = errors.New("vulkan: command buffer already committed")
	ErrEncoderOpen      = errors.New("vulkan: an encoder is still open")
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := resultError(res, "vkAllocateCommandBuffers")
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Handle != nil {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
	}
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, vBeginInfo); res != vk.Success {
		err := resultError(res, "vkBeginCommandBuffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := resultError(res, "vkEndCommandBuffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

/**
 * Allocates and begins recording a single use command buffer.
 */
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false, false); err != nil {
		cb.Free(context, pool)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for queue operation and frees the provided command buffer.
 */
func (v *VulkanCommandBuffer) EndSingleUse(context *VulkanContext, pool vk.CommandPool, queue vk.Queue) error {
	defer v.Free(context, pool)

	if err := v.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	return context.locks.SafeQueueCall(uint32(context.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			err := resultError(res, "vkQueueSubmit")
			core.LogError(err.Error())
			return err
		}
		// Wait for it to finish
		if res := vk.QueueWaitIdle(queue); res != vk.Success {
			err := resultError(res, "vkQueueWaitIdle")
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

func createCommandPool(context *VulkanContext, transient bool) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if transient {
		poolCreateInfo.Flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		return vk.NullCommandPool, resultError(res, "vkCreateCommandPool")
	}
	return pool, nil
}

/**
 * @brief A primary command buffer recording one slice of a frame. Command pools
 * must be externally synchronized, so each buffer owns its pool: render systems
 * record in parallel without locking.
 */
type commandBuffer struct {
	device *Device

	pool           vk.CommandPool
	descriptorPool vk.DescriptorPool
	cb             *VulkanCommandBuffer
	fence          *VulkanFence

	mu        sync.Mutex
	label     string
	groups    []string
	handlers  []func(err error)
	encoder   bool
	committed bool
	// First recording failure, reported by Commit.
	err error
}

func newCommandBuffer(d *Device) (*commandBuffer, error) {
	context := d.context
	c := &commandBuffer{device: d}

	pool, err := createCommandPool(context, true)
	if err != nil {
		return nil, err
	}
	c.pool = pool

	if c.descriptorPool, err = createDescriptorPool(context, VULKAN_MAX_DESCRIPTOR_SETS); err != nil {
		c.destroy()
		return nil, err
	}
	if c.cb, err = NewVulkanCommandBuffer(context, pool, true); err != nil {
		c.destroy()
		return nil, err
	}
	if c.fence, err = NewFence(context, false); err != nil {
		c.destroy()
		return nil, err
	}
	if err = c.cb.Begin(true, false, false); err != nil {
		c.destroy()
		return nil, err
	}
	return c, nil
}

func (c *commandBuffer) destroy() {
	context := c.device.context
	if c.fence != nil {
		c.fence.FenceDestroy(context)
		c.fence = nil
	}
	if c.cb != nil {
		c.cb.Free(context, c.pool)
		c.cb = nil
	}
	if c.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, c.descriptorPool, context.Allocator)
		c.descriptorPool = vk.NullDescriptorPool
	}
	if c.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(context.Device.LogicalDevice, c.pool, context.Allocator)
		c.pool = vk.NullCommandPool
	}
}

func (c *commandBuffer) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		core.LogError("command buffer '%s': %s", c.label, err)
	}
}

func (c *commandBuffer) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = label
}

func (c *commandBuffer) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

func (c *commandBuffer) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return ErrAlreadyCommitted
	}
	if c.encoder {
		return ErrEncoderOpen
	}
	c.encoder = true
	return nil
}

func (c *commandBuffer) close() {
	c.mu.Lock()
	c.encoder = false
	c.mu.Unlock()
}

func (c *commandBuffer) BeginRenderEncoder(fb driver.Framebuffer, desc *metadata.RenderPassDescriptor) (driver.RenderEncoder, error) {
	vfb, ok := fb.(*VulkanFramebuffer)
	if !ok || vfb.Handle == vk.NullFramebuffer {
		return nil, fmt.Errorf("vulkan: framebuffer '%s' was not created by this device", fb.Name())
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	c.cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return newRenderEncoder(c, vfb, desc), nil
}

func (c *commandBuffer) BeginComputeEncoder() (driver.ComputeEncoder, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	return newComputeEncoder(c), nil
}

// Debug groups only feed the log: VK_EXT_debug_utils is not enabled.
func (c *commandBuffer) PushDebugGroup(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, name)
}

func (c *commandBuffer) PopDebugGroup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.groups) > 0 {
		c.groups = c.groups[:len(c.groups)-1]
	}
}

func (c *commandBuffer) AddCompletedHandler(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *commandBuffer) Commit() error {
	c.mu.Lock()
	if c.committed {
		c.mu.Unlock()
		return ErrAlreadyCommitted
	}
	if c.encoder {
		c.mu.Unlock()
		return ErrEncoderOpen
	}
	c.committed = true
	recordErr := c.err
	c.mu.Unlock()

	if recordErr != nil {
		c.destroy()
		return recordErr
	}
	if err := c.cb.End(); err != nil {
		c.destroy()
		return err
	}
	return c.device.submit(c)
}

func (c *commandBuffer) finish() []func(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handlers := c.handlers
	c.handlers = nil
	return handlers
}
