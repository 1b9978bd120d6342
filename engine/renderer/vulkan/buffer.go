package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// VulkanBuffer is the native side of a metadata.Buffer. The memory stays
// mapped for the lifetime of the buffer.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize
	Usage  vk.BufferUsageFlags
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	flags := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	if usage&metadata.BUFFER_USAGE_VERTEX != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&metadata.BUFFER_USAGE_INDEX != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&metadata.BUFFER_USAGE_UNIFORM != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage&metadata.BUFFER_USAGE_STORAGE != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if usage&metadata.BUFFER_USAGE_INDIRECT != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	return flags
}

func NewVulkanBuffer(context *VulkanContext, size uint64, usage metadata.BufferUsage) (*VulkanBuffer, []byte, error) {
	out := &VulkanBuffer{
		Size:  vk.DeviceSize(size),
		Usage: bufferUsageFlags(usage),
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        out.Size,
		Usage:       out.Usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &buffer); res != vk.Success {
		return nil, nil, resultError(res, "vkCreateBuffer")
	}
	out.Handle = buffer

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer, &memReqs)
	memReqs.Deref()

	memoryIndex := context.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryIndex < 0 {
		out.Destroy(context)
		return nil, nil, fmt.Errorf("no host visible memory type for buffer")
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
		out.Destroy(context)
		return nil, nil, resultError(res, "vkAllocateMemory")
	}
	out.Memory = memory

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer, memory, 0); res != vk.Success {
		out.Destroy(context)
		return nil, nil, resultError(res, "vkBindBufferMemory")
	}

	var data unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, memory, 0, out.Size, 0, &data); res != vk.Success {
		out.Destroy(context)
		return nil, nil, resultError(res, "vkMapMemory")
	}
	return out, unsafe.Slice((*byte)(data), size), nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Memory != vk.NullDeviceMemory {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
}

func nativeBuffer(buf *metadata.Buffer) (*VulkanBuffer, bool) {
	if buf == nil {
		return nil, false
	}
	vb, ok := buf.InternalData.(*VulkanBuffer)
	if !ok || vb.Handle == vk.NullBuffer {
		core.LogWarn("buffer '%s' was not created by the vulkan device", buf.Name)
		return nil, false
	}
	return vb, true
}
