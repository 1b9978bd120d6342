package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// descriptorBindings describes the shared layout of set 0.
func descriptorBindings() []vk.DescriptorSetLayoutBinding {
	ranges := []struct {
		base  uint32
		count uint32
		kind  vk.DescriptorType
	}{
		{VULKAN_BINDING_BUFFER_BASE, VULKAN_MAX_BUFFER_BINDINGS, vk.DescriptorTypeUniformBuffer},
		{VULKAN_BINDING_TEXTURE_BASE, VULKAN_MAX_TEXTURE_BINDINGS, vk.DescriptorTypeSampledImage},
		{VULKAN_BINDING_SAMPLER_BASE, VULKAN_MAX_SAMPLER_BINDINGS, vk.DescriptorTypeSampler},
		{VULKAN_BINDING_UAV_BASE, VULKAN_MAX_UAV_BINDINGS, vk.DescriptorTypeStorageImage},
	}
	var bindings []vk.DescriptorSetLayoutBinding
	for _, r := range ranges {
		for i := uint32(0); i < r.count; i++ {
			bindings = append(bindings, vk.DescriptorSetLayoutBinding{
				Binding:         r.base + i,
				DescriptorType:  r.kind,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
			})
		}
	}
	return bindings
}

func createSharedLayouts(context *VulkanContext) error {
	bindings := descriptorBindings()
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &setLayout); res != vk.Success {
		err := resultError(res, "vkCreateDescriptorSetLayout")
		core.LogError(err.Error())
		return err
	}
	context.DescriptorSetLayout = setLayout

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutInfo, context.Allocator, &pipelineLayout); res != vk.Success {
		err := resultError(res, "vkCreatePipelineLayout")
		core.LogError(err.Error())
		destroySharedLayouts(context)
		return err
	}
	context.PipelineLayout = pipelineLayout
	return nil
}

func destroySharedLayouts(context *VulkanContext) {
	if context.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, context.PipelineLayout, context.Allocator)
		context.PipelineLayout = vk.NullPipelineLayout
	}
	if context.DescriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, context.DescriptorSetLayout, context.Allocator)
		context.DescriptorSetLayout = vk.NullDescriptorSetLayout
	}
}

func descriptorPoolSizes(maxSets uint32) []vk.DescriptorPoolSize {
	return []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxSets * VULKAN_MAX_BUFFER_BINDINGS},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: maxSets * VULKAN_MAX_TEXTURE_BINDINGS},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: maxSets * VULKAN_MAX_SAMPLER_BINDINGS},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: maxSets * VULKAN_MAX_UAV_BINDINGS},
	}
}

func createDescriptorPool(context *VulkanContext, maxSets uint32) (vk.DescriptorPool, error) {
	sizes := descriptorPoolSizes(maxSets)
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &pool); res != vk.Success {
		return vk.NullDescriptorPool, resultError(res, "vkCreateDescriptorPool")
	}
	return pool, nil
}

type bufferBinding struct {
	buffer vk.Buffer
	offset vk.DeviceSize
	size   vk.DeviceSize
}

/**
 * @brief Bindings accumulated by an encoder. They are written to a fresh
 * descriptor set right before the next draw or dispatch that follows a change.
 */
type bindingTable struct {
	buffers  [VULKAN_MAX_BUFFER_BINDINGS]bufferBinding
	textures [VULKAN_MAX_TEXTURE_BINDINGS]vk.ImageView
	samplers [VULKAN_MAX_SAMPLER_BINDINGS]vk.Sampler
	uavs     [VULKAN_MAX_UAV_BINDINGS]vk.ImageView
	dirty    bool
}

func (t *bindingTable) setTexture(slot uint32, tex *metadata.Texture) {
	if slot >= VULKAN_MAX_TEXTURE_BINDINGS {
		core.LogWarn("texture slot %d out of range", slot)
		return
	}
	view := vk.NullImageView
	if tex != nil {
		vi, err := nativeImage(tex)
		if err != nil {
			core.LogWarn(err.Error())
			return
		}
		view = vi.View
	}
	t.textures[slot] = view
	t.dirty = true
}

func (t *bindingTable) setUAV(slot uint32, tex *metadata.Texture) {
	if slot >= VULKAN_MAX_UAV_BINDINGS {
		core.LogWarn("uav slot %d out of range", slot)
		return
	}
	view := vk.NullImageView
	if tex != nil {
		vi, err := nativeImage(tex)
		if err != nil {
			core.LogWarn(err.Error())
			return
		}
		view = vi.View
	}
	t.uavs[slot] = view
	t.dirty = true
}

func (t *bindingTable) setSampler(slot uint32, state driver.SamplerState) {
	if slot >= VULKAN_MAX_SAMPLER_BINDINGS {
		core.LogWarn("sampler slot %d out of range", slot)
		return
	}
	sampler := vk.NullSampler
	if state != nil {
		s, ok := state.(*samplerState)
		if !ok {
			core.LogWarn("sampler state was not created by the vulkan device")
			return
		}
		sampler = s.handle
	}
	t.samplers[slot] = sampler
	t.dirty = true
}

// setBuffer binds buf from offset to its end, at most maxRange bytes.
func (t *bindingTable) setBuffer(slot uint32, buf *metadata.Buffer, offset uint64, maxRange vk.DeviceSize) {
	if slot >= VULKAN_MAX_BUFFER_BINDINGS {
		core.LogWarn("buffer slot %d out of range", slot)
		return
	}
	if buf == nil {
		t.buffers[slot] = bufferBinding{}
		t.dirty = true
		return
	}
	vb, ok := nativeBuffer(buf)
	if !ok {
		return
	}
	if vk.DeviceSize(offset) >= vb.Size {
		core.LogWarn("buffer '%s' bound past its end (%d >= %d)", buf.Name, offset, vb.Size)
		return
	}
	size := vb.Size - vk.DeviceSize(offset)
	if maxRange > 0 && size > maxRange {
		size = maxRange
	}
	t.buffers[slot] = bufferBinding{buffer: vb.Handle, offset: vk.DeviceSize(offset), size: size}
	t.dirty = true
}

// writes lists one descriptor write per bound slot.
func (t *bindingTable) writes(set vk.DescriptorSet) []vk.WriteDescriptorSet {
	var out []vk.WriteDescriptorSet
	for i, b := range t.buffers {
		if b.buffer == vk.NullBuffer {
			continue
		}
		out = append(out, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      VULKAN_BINDING_BUFFER_BASE + uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo:     []vk.DescriptorBufferInfo{{Buffer: b.buffer, Offset: b.offset, Range: b.size}},
		})
	}
	for i, view := range t.textures {
		if view == vk.NullImageView {
			continue
		}
		out = append(out, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      VULKAN_BINDING_TEXTURE_BASE + uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			PImageInfo:      []vk.DescriptorImageInfo{{ImageView: view, ImageLayout: vk.ImageLayoutGeneral}},
		})
	}
	for i, sampler := range t.samplers {
		if sampler == vk.NullSampler {
			continue
		}
		out = append(out, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      VULKAN_BINDING_SAMPLER_BASE + uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      []vk.DescriptorImageInfo{{Sampler: sampler}},
		})
	}
	for i, view := range t.uavs {
		if view == vk.NullImageView {
			continue
		}
		out = append(out, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      VULKAN_BINDING_UAV_BASE + uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      []vk.DescriptorImageInfo{{ImageView: view, ImageLayout: vk.ImageLayoutGeneral}},
		})
	}
	return out
}

/**
 * @brief Allocates a descriptor set from the command buffer pool and fills it
 * with the current bindings.
 * @returns the set, or NullDescriptorSet when nothing changed or nothing is bound.
 */
func (t *bindingTable) flush(c *commandBuffer) (vk.DescriptorSet, error) {
	if !t.dirty {
		return vk.NullDescriptorSet, nil
	}
	t.dirty = false

	writes := t.writes(vk.NullDescriptorSet)
	if len(writes) == 0 {
		return vk.NullDescriptorSet, nil
	}

	context := c.device.context
	var set vk.DescriptorSet
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{context.DescriptorSetLayout},
	}
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocInfo, &set); res != vk.Success {
		return vk.NullDescriptorSet, resultError(res, "vkAllocateDescriptorSets")
	}
	for i := range writes {
		writes[i].DstSet = set
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	return set, nil
}
