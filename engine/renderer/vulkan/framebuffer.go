package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// storeKey identifies a render pass variant by the store actions it ends with.
type storeKey struct {
	colour  [metadata.MAX_COLOUR_ATTACHMENTS]metadata.StoreAction
	depth   metadata.StoreAction
	stencil metadata.StoreAction
}

func newStoreKey(actions metadata.StoreActions) storeKey {
	k := storeKey{depth: actions.Depth, stencil: actions.Stencil}
	for i := 0; i < len(actions.Colour) && i < metadata.MAX_COLOUR_ATTACHMENTS; i++ {
		k.colour[i] = actions.Colour[i]
	}
	return k
}

/**
 * @brief A native framebuffer over the attachments of a render pass descriptor.
 * Store actions are only known when an encoder closes, so a render pass is
 * created per set of store actions. All variants differ only in store ops and
 * stay compatible with the framebuffer.
 */
type VulkanFramebuffer struct {
	Handle vk.Framebuffer
	Width  uint32
	Height uint32
	Views  []vk.ImageView
	// Created with the store actions of the descriptor. Pipelines are built
	// against it.
	Renderpass *VulkanRenderpass

	name string
	desc *metadata.RenderPassDescriptor

	mu       sync.Mutex
	variants map[storeKey]*VulkanRenderpass
}

func NewVulkanFramebuffer(context *VulkanContext, name string, desc *metadata.RenderPassDescriptor) (*VulkanFramebuffer, error) {
	actions := desc.FinalStoreActions(true)
	layout, err := describeRenderpass(desc, actions)
	if err != nil {
		core.LogError("framebuffer '%s': %s", name, err)
		return nil, err
	}

	vfb := &VulkanFramebuffer{
		Width:    layout.width,
		Height:   layout.height,
		name:     name,
		desc:     desc,
		variants: make(map[storeKey]*VulkanRenderpass),
	}

	for _, t := range layout.targets {
		view, err := t.image.CreateView(context, t.mipLevel, 1, t.slice, 1)
		if err != nil {
			vfb.Destroy(context)
			return nil, err
		}
		vfb.Views = append(vfb.Views, view)
	}

	rp, err := NewVulkanRenderpass(context, layout)
	if err != nil {
		vfb.Destroy(context)
		return nil, err
	}
	vfb.Renderpass = rp
	vfb.variants[newStoreKey(actions)] = rp

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(vfb.Views)),
		PAttachments:    vfb.Views,
		Width:           vfb.Width,
		Height:          vfb.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create framebuffer '%s': %w", name, resultError(res, "vkCreateFramebuffer"))
		core.LogError(err.Error())
		vfb.Destroy(context)
		return nil, err
	}
	vfb.Handle = handle
	return vfb, nil
}

func (vfb *VulkanFramebuffer) Name() string                               { return vfb.name }
func (vfb *VulkanFramebuffer) Descriptor() *metadata.RenderPassDescriptor { return vfb.desc }

// renderpass returns the variant ending with actions, creating it on first use.
func (vfb *VulkanFramebuffer) renderpass(context *VulkanContext, actions metadata.StoreActions) (*VulkanRenderpass, error) {
	key := newStoreKey(actions)
	vfb.mu.Lock()
	defer vfb.mu.Unlock()
	if rp, ok := vfb.variants[key]; ok {
		return rp, nil
	}
	layout, err := describeRenderpass(vfb.desc, actions)
	if err != nil {
		return nil, err
	}
	rp, err := NewVulkanRenderpass(context, layout)
	if err != nil {
		return nil, err
	}
	vfb.variants[key] = rp
	core.LogDebug("framebuffer '%s': render pass variant %d created", vfb.name, len(vfb.variants))
	return rp, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
		vfb.Handle = vk.NullFramebuffer
	}
	vfb.mu.Lock()
	for k, rp := range vfb.variants {
		rp.RenderpassDestroy(context)
		delete(vfb.variants, k)
	}
	vfb.mu.Unlock()
	vfb.Renderpass = nil
	for _, view := range vfb.Views {
		vk.DestroyImageView(context.Device.LogicalDevice, view, context.Allocator)
	}
	vfb.Views = nil
}
