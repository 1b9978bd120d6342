package renderer

import (
	"context"

	"github.com/spaghettifunk/rendercore/engine/config"
	"github.com/spaghettifunk/rendercore/engine/renderer/autoparams"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// RendererBackend is what the scene and material layers use to render.
type RendererBackend interface {
	BeginFrame(ctx context.Context) error
	EndFrame() error
	Shutdown(ctx context.Context) error
	NotifyDeviceStalled(ctx context.Context) error

	NotifyPipelineCreated(pso *metadata.PipelineStateObject) error
	NotifyPipelineDestroyed(pso *metadata.PipelineStateObject) error
	NotifyComputePipelineCreated(pso *metadata.PipelineStateObject) error
	NotifyComputePipelineDestroyed(pso *metadata.PipelineStateObject) error
	NotifySamplerblockCreated(block *metadata.Samplerblock) error
	NotifySamplerblockDestroyed(block *metadata.Samplerblock) error

	SetPipelineStateObject(pso *metadata.PipelineStateObject) error
	SetComputePSO(pso *metadata.PipelineStateObject) error
	SetTextures(slotStart uint32, textures []*metadata.Texture) error
	SetSamplers(slotStart uint32, blocks []*metadata.Samplerblock) error
	SetTexturesCS(slotStart uint32, textures []*metadata.Texture) error
	SetSamplersCS(slotStart uint32, blocks []*metadata.Samplerblock) error
	SetUAVsCS(slotStart uint32, textures []*metadata.Texture) error
	SetStencilBufferParams(refValue uint32, params metadata.StencilParams)
	BindAutoParams(slot uint32, data []byte) (autoparams.Window, error)
	BindAutoParamsCS(slot uint32, data []byte) (autoparams.Window, error)

	BeginRenderPass(desc *metadata.RenderPassDescriptor, viewports []metadata.Viewport, scissors []metadata.Rect) error
	EndRenderPass() error
	ExecuteDelayedActions() error
	Interrupt(callerEndsRenderPassToo bool) error
	FlushCommands() error
	ClearFrameBuffer(desc *metadata.RenderPassDescriptor) error

	SetVertexArrayObject(vao *metadata.VertexArrayObject)
	SetIndirectBuffer(ib *metadata.IndirectBuffer)
	SetRenderOperation(op *metadata.RenderOperation)
	Render(cmd metadata.DrawCommand) error
	RenderOperation(op *metadata.RenderOperation) error
	Dispatch() error

	BeginProfileEvent(name string)
	EndProfileEvent()
	MarkProfileEvent(name string)

	Capabilities() driver.Capabilities
	HasAnisotropicMipFilter() bool
	SupportsIndirectDraw() bool
	HasStoreAndMultisampleResolve() bool
	HorizontalTexelOffset() float32
	VerticalTexelOffset() float32
	MinimumDepthInputValue() float32
	MaximumDepthInputValue() float32

	ConfigOptions() map[string]ConfigOption
	SetConfigOption(name, value string) error
	ApplyConfig(cfg *config.Config) error
}

var _ RendererBackend = (*RenderSystem)(nil)
