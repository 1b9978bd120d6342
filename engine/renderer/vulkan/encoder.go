package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type recorded func(cmd vk.CommandBuffer)

/**
 * @brief Records the commands of one render pass. Store ops are part of the
 * render pass and are only known at EndEncoding, so commands are kept until
 * then and replayed inside the matching render pass.
 */
type renderEncoder struct {
	c    *commandBuffer
	fb   *VulkanFramebuffer
	desc *metadata.RenderPassDescriptor

	commands []recorded
	bindings bindingTable
	pipeline *VulkanPipeline
	psoName  string
}

func newRenderEncoder(c *commandBuffer, fb *VulkanFramebuffer, desc *metadata.RenderPassDescriptor) *renderEncoder {
	if desc == nil {
		desc = fb.Descriptor()
	}
	return &renderEncoder{c: c, fb: fb, desc: desc}
}

func (e *renderEncoder) record(fn recorded) {
	e.commands = append(e.commands, fn)
}

func (e *renderEncoder) SetPipeline(pso *metadata.PipelineStateObject) {
	vp, ok := nativePipeline(pso)
	if !ok {
		return
	}
	if vp.BindPoint != vk.PipelineBindPointGraphics {
		core.LogWarn("pipeline '%s' is not a graphics pipeline", pso.Name)
		return
	}
	e.pipeline = vp
	e.psoName = pso.Name
	handle := vp.Handle
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, handle)
	})
}

// Depth-stencil state is baked into the pipeline; this only checks they agree.
func (e *renderEncoder) SetDepthStencilState(state driver.DepthStencilState) {
	if state == nil || e.pipeline == nil {
		return
	}
	if state.Descriptor().Compare(e.pipeline.DepthStencil) != 0 {
		core.LogWarn("depth-stencil state does not match pipeline '%s'", e.psoName)
	}
}

func (e *renderEncoder) SetStencilReference(ref uint32) {
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdSetStencilReference(cmd, vk.StencilFaceFlags(vk.StencilFaceFrontBit|vk.StencilFaceBackBit), ref)
	})
}

func (e *renderEncoder) SetViewports(viewports []metadata.Viewport) {
	if len(viewports) == 0 {
		return
	}
	vps := make([]vk.Viewport, len(viewports))
	for i, v := range viewports {
		vps[i] = vk.Viewport{
			X:        v.X,
			Y:        v.Y,
			Width:    v.Width,
			Height:   v.Height,
			MinDepth: v.MinDepth,
			MaxDepth: v.MaxDepth,
		}
	}
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdSetViewport(cmd, 0, uint32(len(vps)), vps)
	})
}

func (e *renderEncoder) SetScissors(scissors []metadata.Rect) {
	if len(scissors) == 0 {
		return
	}
	rects := make([]vk.Rect2D, len(scissors))
	for i, s := range scissors {
		rects[i] = vk.Rect2D{
			Offset: vk.Offset2D{X: s.X, Y: s.Y},
			Extent: vk.Extent2D{Width: s.Width, Height: s.Height},
		}
	}
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdSetScissor(cmd, 0, uint32(len(rects)), rects)
	})
}

func (e *renderEncoder) SetVertexBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	vb, ok := nativeBuffer(buf)
	if !ok {
		return
	}
	handle := vb.Handle
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdBindVertexBuffers(cmd, slot, 1, []vk.Buffer{handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
	})
}

func (e *renderEncoder) SetIndexBuffer(buf *metadata.Buffer, offset uint64, indexType metadata.IndexType) {
	vb, ok := nativeBuffer(buf)
	if !ok {
		return
	}
	vkType := vk.IndexTypeUint32
	if indexType == metadata.IndexTypeUint16 {
		vkType = vk.IndexTypeUint16
	}
	handle := vb.Handle
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdBindIndexBuffer(cmd, handle, vk.DeviceSize(offset), vkType)
	})
}

func (e *renderEncoder) SetTexture(slot uint32, tex *metadata.Texture) {
	e.bindings.setTexture(slot, tex)
}

func (e *renderEncoder) SetSampler(slot uint32, state driver.SamplerState) {
	e.bindings.setSampler(slot, state)
}

func (e *renderEncoder) SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	e.bindings.setBuffer(slot, buf, offset, e.c.device.maxUniformRange)
}

// flush writes changed bindings and records the bind.
func (e *renderEncoder) flush() {
	set, err := e.bindings.flush(e.c)
	if err != nil {
		e.c.fail(err)
		return
	}
	if set == vk.NullDescriptorSet {
		return
	}
	layout := e.c.device.context.PipelineLayout
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	})
}

// drawable reports whether a pipeline was bound; draws without one are skipped.
func (e *renderEncoder) drawable() bool {
	if e.pipeline == nil {
		core.LogWarn("[%s] draw without a graphics pipeline skipped", e.c.Label())
		return false
	}
	return true
}

func (e *renderEncoder) Draw(args metadata.DrawIndirectArgs) {
	if !e.drawable() {
		return
	}
	e.flush()
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdDraw(cmd, args.VertexCount, args.InstanceCount, args.FirstVertex, args.BaseInstance)
	})
}

func (e *renderEncoder) DrawIndexed(args metadata.DrawIndexedIndirectArgs) {
	if !e.drawable() {
		return
	}
	e.flush()
	e.record(func(cmd vk.CommandBuffer) {
		vk.CmdDrawIndexed(cmd, args.IndexCount, args.InstanceCount, args.FirstIndex, args.BaseVertex, args.BaseInstance)
	})
}

// indirectCalls splits drawCount draws into calls the device accepts.
func indirectCalls(drawCount uint32, offset uint64, stride uint32, multiDraw bool) [][2]uint64 {
	if drawCount == 0 {
		return nil
	}
	if multiDraw || drawCount == 1 {
		return [][2]uint64{{offset, uint64(drawCount)}}
	}
	calls := make([][2]uint64, drawCount)
	for i := range calls {
		calls[i] = [2]uint64{offset + uint64(i)*uint64(stride), 1}
	}
	return calls
}

func (e *renderEncoder) DrawIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32) {
	vb, ok := nativeBuffer(buf)
	if !ok || !e.drawable() {
		return
	}
	e.flush()
	handle := vb.Handle
	calls := indirectCalls(drawCount, offset, drawIndirectStride, e.c.device.multiDrawIndirect)
	e.record(func(cmd vk.CommandBuffer) {
		for _, call := range calls {
			vk.CmdDrawIndirect(cmd, handle, vk.DeviceSize(call[0]), uint32(call[1]), drawIndirectStride)
		}
	})
}

func (e *renderEncoder) DrawIndexedIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32) {
	vb, ok := nativeBuffer(buf)
	if !ok || !e.drawable() {
		return
	}
	e.flush()
	handle := vb.Handle
	calls := indirectCalls(drawCount, offset, drawIndexedIndirectStride, e.c.device.multiDrawIndirect)
	e.record(func(cmd vk.CommandBuffer) {
		for _, call := range calls {
			vk.CmdDrawIndexedIndirect(cmd, handle, vk.DeviceSize(call[0]), uint32(call[1]), drawIndexedIndirectStride)
		}
	})
}

func (e *renderEncoder) InsertDebugSignpost(name string) {
	core.LogDebug("[%s] signpost: %s", e.c.Label(), name)
}

func (e *renderEncoder) EndEncoding(actions metadata.StoreActions) {
	defer e.c.close()
	e.c.cb.State = COMMAND_BUFFER_STATE_RECORDING

	rp, err := e.fb.renderpass(e.c.device.context, actions)
	if err != nil {
		e.c.fail(err)
		return
	}
	cmd := e.c.cb.Handle
	rp.RenderpassBegin(cmd, e.fb.Handle, e.fb.Width, e.fb.Height, clearValues(e.desc))
	for _, fn := range e.commands {
		fn(cmd)
	}
	rp.RenderpassEnd(cmd)
	e.commands = nil
}

/**
 * @brief Compute work needs no render pass, so commands are recorded as they
 * come. Closing the encoder makes its writes visible to later commands.
 */
type computeEncoder struct {
	c        *commandBuffer
	bindings bindingTable
	pipeline *VulkanPipeline
}

func newComputeEncoder(c *commandBuffer) *computeEncoder {
	return &computeEncoder{c: c}
}

func (e *computeEncoder) SetPipeline(pso *metadata.PipelineStateObject) {
	vp, ok := nativePipeline(pso)
	if !ok {
		return
	}
	if vp.BindPoint != vk.PipelineBindPointCompute {
		core.LogWarn("pipeline '%s' is not a compute pipeline", pso.Name)
		return
	}
	e.pipeline = vp
	vk.CmdBindPipeline(e.c.cb.Handle, vk.PipelineBindPointCompute, vp.Handle)
}

func (e *computeEncoder) SetTexture(slot uint32, tex *metadata.Texture) {
	e.bindings.setTexture(slot, tex)
}

func (e *computeEncoder) SetSampler(slot uint32, state driver.SamplerState) {
	e.bindings.setSampler(slot, state)
}

func (e *computeEncoder) SetUAV(slot uint32, tex *metadata.Texture) {
	e.bindings.setUAV(slot, tex)
}

func (e *computeEncoder) SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	e.bindings.setBuffer(slot, buf, offset, e.c.device.maxUniformRange)
}

// Dispatch ignores threadsPerGroup: the local size is part of the shader.
func (e *computeEncoder) Dispatch(threadGroups, threadsPerGroup [3]uint32) {
	if e.pipeline == nil {
		core.LogWarn("dispatch without a compute pipeline skipped")
		return
	}
	set, err := e.bindings.flush(e.c)
	if err != nil {
		e.c.fail(err)
		return
	}
	cmd := e.c.cb.Handle
	if set != vk.NullDescriptorSet {
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, e.c.device.context.PipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	}
	vk.CmdDispatch(cmd, threadGroups[0], threadGroups[1], threadGroups[2])
}

func (e *computeEncoder) InsertDebugSignpost(name string) {
	core.LogDebug("[%s] signpost: %s", e.c.Label(), name)
}

func (e *computeEncoder) EndEncoding() {
	defer e.c.close()
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	vk.CmdPipelineBarrier(
		e.c.cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0,
		1, []vk.MemoryBarrier{barrier},
		0, nil,
		0, nil)
}
