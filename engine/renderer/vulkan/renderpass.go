package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

const (
	attachmentUnused   = ^uint32(0)
	queueFamilyIgnored = ^uint32(0)
)

type VulkanRenderpass struct {
	Handle vk.RenderPass
	// Attachments in framebuffer order: colours, resolves, depth-stencil.
	AttachmentCount uint32
	ColourCount     uint32
	Samples         vk.SampleCountFlagBits
}

// attachmentTarget is the image and subresource one attachment renders into.
type attachmentTarget struct {
	image    *VulkanImage
	mipLevel uint32
	slice    uint32
}

/**
 * @brief Everything needed to create a render pass and a matching framebuffer
 * from a metadata.RenderPassDescriptor.
 */
type renderpassLayout struct {
	attachments  []vk.AttachmentDescription
	targets      []attachmentTarget
	colourRefs   []vk.AttachmentReference
	resolveRefs  []vk.AttachmentReference
	depthRef     *vk.AttachmentReference
	colourCount  uint32
	samples      vk.SampleCountFlagBits
	width        uint32
	height       uint32
	hasResolve   bool
	depthStencil bool
}

func attachmentLoadOp(action metadata.LoadAction) vk.AttachmentLoadOp {
	switch action {
	case metadata.LoadActionClear:
		return vk.AttachmentLoadOpClear
	case metadata.LoadActionLoad:
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpDontCare
}

// attachmentStoreOp is the store op of the multisampled (or only) attachment.
// Resolves are expressed through resolve attachments.
func attachmentStoreOp(action metadata.StoreAction) vk.AttachmentStoreOp {
	switch action {
	case metadata.StoreActionStore, metadata.StoreActionStoreAndMultisampleResolve, metadata.StoreActionStoreOrResolve:
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func initialLayout(loads ...metadata.LoadAction) vk.ImageLayout {
	for _, l := range loads {
		if l == metadata.LoadActionLoad {
			return vk.ImageLayoutGeneral
		}
	}
	return vk.ImageLayoutUndefined
}

func mipExtent(size, mip uint32) uint32 {
	size >>= mip
	if size == 0 {
		return 1
	}
	return size
}

/**
 * @brief Translates a render pass descriptor and the store actions it ends with
 * into attachment descriptions. Load ops come from the descriptor.
 * @returns an error when an attachment has no native image, or when depth and
 * stencil use different textures.
 */
func describeRenderpass(desc *metadata.RenderPassDescriptor, actions metadata.StoreActions) (*renderpassLayout, error) {
	if !desc.Validate() {
		return nil, fmt.Errorf("invalid render pass descriptor '%s'", desc.Name)
	}
	layout := &renderpassLayout{
		colourCount: uint32(len(desc.Colour)),
		samples:     vk.SampleCount1Bit,
	}
	setExtent := func(vi *VulkanImage, mip uint32) {
		if layout.width == 0 {
			layout.width = mipExtent(vi.Width, mip)
			layout.height = mipExtent(vi.Height, mip)
		}
	}

	for i, c := range desc.Colour {
		vi, err := nativeImage(c.Texture)
		if err != nil {
			return nil, err
		}
		store := c.Store
		if i < len(actions.Colour) {
			store = actions.Colour[i]
		}
		layout.attachments = append(layout.attachments, vk.AttachmentDescription{
			Format:         vi.Format,
			Samples:        vi.Samples,
			LoadOp:         attachmentLoadOp(c.Load),
			StoreOp:        attachmentStoreOp(store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout(c.Load),
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		layout.targets = append(layout.targets, attachmentTarget{vi, uint32(c.MipLevel), uint32(c.Slice)})
		layout.colourRefs = append(layout.colourRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		layout.samples = vi.Samples
		setExtent(vi, uint32(c.MipLevel))
	}

	layout.resolveRefs = make([]vk.AttachmentReference, len(desc.Colour))
	for i, c := range desc.Colour {
		layout.resolveRefs[i] = vk.AttachmentReference{Attachment: attachmentUnused, Layout: vk.ImageLayoutUndefined}
		if c.ResolveTarget == nil {
			continue
		}
		vi, err := nativeImage(c.ResolveTarget)
		if err != nil {
			return nil, err
		}
		layout.resolveRefs[i] = vk.AttachmentReference{
			Attachment: uint32(len(layout.attachments)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
		layout.attachments = append(layout.attachments, vk.AttachmentDescription{
			Format:         vi.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutGeneral,
		})
		layout.targets = append(layout.targets, attachmentTarget{vi, uint32(c.MipLevel), uint32(c.Slice)})
		layout.hasResolve = true
	}

	depthTex, stencilTex := desc.Depth.Texture, desc.Stencil.Texture
	if depthTex != nil && stencilTex != nil && depthTex != stencilTex {
		return nil, fmt.Errorf("render pass '%s': depth and stencil must share one texture", desc.Name)
	}
	dsTex := depthTex
	if dsTex == nil {
		dsTex = stencilTex
	}
	if dsTex != nil {
		vi, err := nativeImage(dsTex)
		if err != nil {
			return nil, err
		}
		att := vk.AttachmentDescription{
			Format:         vi.Format,
			Samples:        vi.Samples,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			FinalLayout:    vk.ImageLayoutGeneral,
		}
		var loads []metadata.LoadAction
		readOnly := true
		if depthTex != nil {
			att.LoadOp = attachmentLoadOp(desc.Depth.Load)
			att.StoreOp = attachmentStoreOp(actions.Depth)
			loads = append(loads, desc.Depth.Load)
			readOnly = readOnly && desc.Depth.ReadOnly
		}
		if stencilTex != nil {
			att.StencilLoadOp = attachmentLoadOp(desc.Stencil.Load)
			att.StencilStoreOp = attachmentStoreOp(actions.Stencil)
			loads = append(loads, desc.Stencil.Load)
			readOnly = readOnly && desc.Stencil.ReadOnly
		}
		att.InitialLayout = initialLayout(loads...)

		refLayout := vk.ImageLayoutDepthStencilAttachmentOptimal
		if readOnly {
			refLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		layout.depthRef = &vk.AttachmentReference{
			Attachment: uint32(len(layout.attachments)),
			Layout:     refLayout,
		}
		layout.attachments = append(layout.attachments, att)
		layout.targets = append(layout.targets, attachmentTarget{image: vi})
		layout.depthStencil = true
		if len(desc.Colour) == 0 {
			layout.samples = vi.Samples
		}
		setExtent(vi, 0)
	}
	return layout, nil
}

// clearValues follows the attachment order of describeRenderpass.
func clearValues(desc *metadata.RenderPassDescriptor) []vk.ClearValue {
	var values []vk.ClearValue
	for _, c := range desc.Colour {
		var v vk.ClearValue
		v.SetColor(c.ClearColour[:])
		values = append(values, v)
	}
	for _, c := range desc.Colour {
		if c.ResolveTarget != nil {
			values = append(values, vk.ClearValue{})
		}
	}
	if desc.Depth.Texture != nil || desc.Stencil.Texture != nil {
		var v vk.ClearValue
		v.SetDepthStencil(desc.Depth.ClearDepth, desc.Stencil.ClearStencil)
		values = append(values, v)
	}
	return values
}

func renderpassDependencies() []vk.SubpassDependency {
	access := vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit)
	stages := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	return []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  stages,
			DstAccessMask: access,
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  stages,
			DstAccessMask: access,
		},
	}
}

func NewVulkanRenderpass(context *VulkanContext, layout *renderpassLayout) (*VulkanRenderpass, error) {
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: layout.colourCount,
		PColorAttachments:    layout.colourRefs,
	}
	if layout.hasResolve {
		subpass.PResolveAttachments = layout.resolveRefs
	}
	if layout.depthRef != nil {
		subpass.PDepthStencilAttachment = layout.depthRef
	}

	dependencies := renderpassDependencies()
	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(layout.attachments)),
		PAttachments:    layout.attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := resultError(res, "vkCreateRenderPass")
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanRenderpass{
		Handle:          handle,
		AttachmentCount: uint32(len(layout.attachments)),
		ColourCount:     layout.colourCount,
		Samples:         layout.samples,
	}, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(cmd vk.CommandBuffer, framebuffer vk.Framebuffer, width, height uint32, clear []vk.ClearValue) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clear)),
		PClearValues:    clear,
	}
	vk.CmdBeginRenderPass(cmd, &beginInfo, vk.SubpassContentsInline)
}

func (vr *VulkanRenderpass) RenderpassEnd(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}
