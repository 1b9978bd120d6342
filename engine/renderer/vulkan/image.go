package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

/**
 * @brief The native side of a metadata.Texture. Images live in the general
 * layout so that render passes, sampling and storage access need no per-use
 * layout tracking.
 */
type VulkanImage struct {
	Handle    vk.Image
	Memory    vk.DeviceMemory
	View      vk.ImageView
	Format    vk.Format
	Samples   vk.SampleCountFlagBits
	Aspect    vk.ImageAspectFlags
	Width     uint32
	Height    uint32
	MipLevels uint32
	Layers    uint32
}

func isDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatD16UnormS8Uint,
		vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint, vk.FormatX8D24UnormPack32:
		return true
	}
	return false
}

func hasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint, vk.FormatS8Uint:
		return true
	}
	return false
}

func imageAspect(format vk.Format) vk.ImageAspectFlags {
	if !isDepthFormat(format) && format != vk.FormatS8Uint {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	var aspect vk.ImageAspectFlags
	if format != vk.FormatS8Uint {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if hasStencil(format) {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return aspect
}

func sampleCount(samples uint8) vk.SampleCountFlagBits {
	switch {
	case samples >= 64:
		return vk.SampleCount64Bit
	case samples >= 32:
		return vk.SampleCount32Bit
	case samples >= 16:
		return vk.SampleCount16Bit
	case samples >= 8:
		return vk.SampleCount8Bit
	case samples >= 4:
		return vk.SampleCount4Bit
	case samples >= 2:
		return vk.SampleCount2Bit
	}
	return vk.SampleCount1Bit
}

func imageUsage(tex *metadata.Texture, format vk.Format) vk.ImageUsageFlags {
	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	if isDepthFormat(format) || format == vk.FormatS8Uint {
		usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	} else if tex.HasFlag(metadata.TextureFlagIsWriteable) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if tex.HasFlag(metadata.TextureFlagIsUav) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	return usage
}

func NewVulkanImage(context *VulkanContext, tex *metadata.Texture, format vk.Format, mipLevels, layers uint32) (*VulkanImage, error) {
	if mipLevels == 0 {
		mipLevels = 1
	}
	if layers == 0 {
		layers = 1
	}
	out := &VulkanImage{
		Format:    format,
		Samples:   sampleCount(tex.SampleCount),
		Aspect:    imageAspect(format),
		Width:     tex.Width,
		Height:    tex.Height,
		MipLevels: mipLevels,
		Layers:    layers,
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  tex.Width,
			Height: tex.Height,
			Depth:  1,
		},
		MipLevels:     mipLevels,
		ArrayLayers:   layers,
		Samples:       out.Samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(tex, format),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var image vk.Image
	if res := vk.CreateImage(context.Device.LogicalDevice, &imageInfo, context.Allocator, &image); res != vk.Success {
		return nil, resultError(res, "vkCreateImage")
	}
	out.Handle = image

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image, &memReqs)
	memReqs.Deref()

	memoryIndex := context.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		out.Destroy(context)
		return nil, fmt.Errorf("no device local memory type for image '%s'", tex.Name)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
		out.Destroy(context)
		return nil, resultError(res, "vkAllocateMemory")
	}
	out.Memory = memory

	if res := vk.BindImageMemory(context.Device.LogicalDevice, image, memory, 0); res != vk.Success {
		out.Destroy(context)
		return nil, resultError(res, "vkBindImageMemory")
	}

	view, err := out.CreateView(context, 0, mipLevels, 0, layers)
	if err != nil {
		out.Destroy(context)
		return nil, err
	}
	out.View = view
	return out, nil
}

// CreateView creates a 2D (array) view over the given subresource range.
func (vi *VulkanImage) CreateView(context *VulkanContext, baseMip, mipCount, baseLayer, layerCount uint32) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if layerCount > 1 {
		viewType = vk.ImageViewType2dArray
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.Handle,
		ViewType: viewType,
		Format:   vi.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vi.Aspect,
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
		return vk.NullImageView, resultError(res, "vkCreateImageView")
	}
	return view, nil
}

// TransitionToGeneral records the one time layout change of a new image.
func (vi *VulkanImage) TransitionToGeneral(cb *VulkanCommandBuffer) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       0,
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutGeneral,
		SrcQueueFamilyIndex: queueFamilyIgnored,
		DstQueueFamilyIndex: queueFamilyIgnored,
		Image:               vi.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vi.Aspect,
			BaseMipLevel:   0,
			LevelCount:     vi.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     vi.Layers,
		},
	}
	vk.CmdPipelineBarrier(
		cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier})
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, vi.View, context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
}

func nativeImage(tex *metadata.Texture) (*VulkanImage, error) {
	if tex == nil {
		return nil, fmt.Errorf("vulkan: nil texture")
	}
	vi, ok := tex.InternalData.(*VulkanImage)
	if !ok {
		return nil, fmt.Errorf("vulkan: texture '%s' has no vulkan image", tex.Name)
	}
	return vi, nil
}
