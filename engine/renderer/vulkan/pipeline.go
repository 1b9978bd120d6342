package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline. The layout is the one shared by the device.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	BindPoint      vk.PipelineBindPoint
	/** @brief Depth-stencil state baked into the pipeline. */
	DepthStencil metadata.DepthStencilDescriptor
}

// VertexLayout describes one vertex buffer slot.
type VertexLayout struct {
	Stride      uint32
	PerInstance bool
}

type VulkanPipelineConfig struct {
	/** @brief Pipelines are compatible with every render pass variant of this framebuffer. */
	Framebuffer *VulkanFramebuffer
	/** @brief SPIR-V code of each stage. */
	VertexShader   []byte
	FragmentShader []byte
	ComputeShader  []byte
	/** @brief One entry per vertex buffer slot. */
	Bindings   []VertexLayout
	Attributes []vk.VertexInputAttributeDescription
	/** @brief The face cull mode. */
	CullMode vk.CullModeFlagBits
	/** @brief Indicates if this pipeline should use wireframe mode. */
	IsWireframe bool
	/** @brief Alpha blending on every colour attachment. */
	Blend bool
}

func primitiveTopology(p metadata.PrimitiveType) vk.PrimitiveTopology {
	switch p {
	case metadata.PrimitivePointList:
		return vk.PrimitiveTopologyPointList
	case metadata.PrimitiveLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.PrimitiveLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case metadata.PrimitiveTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func stencilOp(op metadata.StencilOperation) vk.StencilOp {
	switch op {
	case metadata.StencilOperationZero:
		return vk.StencilOpZero
	case metadata.StencilOperationReplace:
		return vk.StencilOpReplace
	case metadata.StencilOperationIncrementClamp:
		return vk.StencilOpIncrementAndClamp
	case metadata.StencilOperationDecrementClamp:
		return vk.StencilOpDecrementAndClamp
	case metadata.StencilOperationInvert:
		return vk.StencilOpInvert
	case metadata.StencilOperationIncrementWrap:
		return vk.StencilOpIncrementAndWrap
	case metadata.StencilOperationDecrementWrap:
		return vk.StencilOpDecrementAndWrap
	}
	return vk.StencilOpKeep
}

func stencilOpState(s metadata.StencilStateOp, params metadata.StencilParams) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      stencilOp(s.StencilFailOp),
		PassOp:      stencilOp(s.StencilPassOp),
		DepthFailOp: stencilOp(s.StencilDepthFail),
		CompareOp:   compareOp(s.CompareOp),
		CompareMask: uint32(params.ReadMask),
		WriteMask:   uint32(params.WriteMask),
	}
}

/**
 * @brief Translates a depth-stencil descriptor. Depth writes require the depth
 * test, so the test stays on whenever writes are requested. The stencil
 * reference is dynamic.
 */
func depthStencilCreateInfo(desc metadata.DepthStencilDescriptor) vk.PipelineDepthStencilStateCreateInfo {
	info := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.False,
		DepthWriteEnable:      vk.False,
		DepthCompareOp:        compareOp(desc.DepthFunc),
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
		MinDepthBounds:        0,
		MaxDepthBounds:        1,
	}
	if desc.DepthFunc != metadata.CompareFunctionAlways || desc.DepthWrite {
		info.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		info.DepthWriteEnable = vk.True
	}
	if desc.Stencil.Enabled {
		info.StencilTestEnable = vk.True
		info.Front = stencilOpState(desc.Stencil.Front, desc.Stencil)
		info.Back = stencilOpState(desc.Stencil.Back, desc.Stencil)
	}
	return info
}

type depthStencilState struct {
	desc metadata.DepthStencilDescriptor
	info vk.PipelineDepthStencilStateCreateInfo
}

func (s *depthStencilState) Descriptor() metadata.DepthStencilDescriptor { return s.desc }

func colourWriteMask() vk.ColorComponentFlags {
	return vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
		vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit)
}

/**
 * @brief Creates the graphics pipeline of pso and stores it in pso.Program.
 * Viewport, scissor and stencil reference are dynamic.
 */
func NewGraphicsPipeline(context *VulkanContext, pso *metadata.PipelineStateObject, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if config.Framebuffer == nil || config.Framebuffer.Renderpass == nil {
		return nil, fmt.Errorf("pipeline '%s' has no framebuffer to be compatible with", pso.Name)
	}
	rp := config.Framebuffer.Renderpass

	vertexStage, err := NewShaderStage(context, config.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	defer vertexStage.Destroy(context)
	stages := []vk.PipelineShaderStageCreateInfo{vertexStage.ShaderStageCreateInfo}
	if len(config.FragmentShader) > 0 {
		fragmentStage, err := NewShaderStage(context, config.FragmentShader, vk.ShaderStageFragmentBit)
		if err != nil {
			return nil, err
		}
		defer fragmentStage.Destroy(context)
		stages = append(stages, fragmentStage.ShaderStageCreateInfo)
	}

	// Counts only, the values are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(config.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if config.IsWireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  rp.Samples,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	dsDesc := pso.DepthStencil()
	depthStencil := depthStencilCreateInfo(dsDesc)

	blendStates := make([]vk.PipelineColorBlendAttachmentState, rp.ColourCount)
	for i := range blendStates {
		blendStates[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:    vk.False,
			ColorWriteMask: colourWriteMask(),
		}
		if config.Blend {
			blendStates[i].BlendEnable = vk.True
			blendStates[i].SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			blendStates[i].DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendStates[i].ColorBlendOp = vk.BlendOpAdd
			blendStates[i].SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
			blendStates[i].DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendStates[i].AlphaBlendOp = vk.BlendOpAdd
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendStates)),
		PAttachments:    blendStates,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateStencilReference,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings := make([]vk.VertexInputBindingDescription, len(config.Bindings))
	for i, b := range config.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   uint32(i),
			Stride:    b.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		if b.PerInstance {
			bindings[i].InputRate = vk.VertexInputRateInstance
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(config.Attributes)),
		PVertexAttributeDescriptions:    config.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               primitiveTopology(pso.Primitive),
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              context.PipelineLayout,
		RenderPass:          rp.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pipelines)
		return resultError(result, "vkCreateGraphicsPipelines")
	}); err != nil {
		core.LogError("pipeline '%s': %s", pso.Name, err)
		return nil, err
	}

	out := &VulkanPipeline{
		Handle:         pipelines[0],
		PipelineLayout: context.PipelineLayout,
		BindPoint:      vk.PipelineBindPointGraphics,
		DepthStencil:   dsDesc,
	}
	pso.Program = out
	core.LogDebug("Graphics pipeline '%s' created!", pso.Name)
	return out, nil
}

func NewComputePipeline(context *VulkanContext, pso *metadata.PipelineStateObject, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	stage, err := NewShaderStage(context, config.ComputeShader, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, err
	}
	defer stage.Destroy(context)

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage.ShaderStageCreateInfo,
		Layout:             context.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{createInfo},
			context.Allocator,
			pipelines)
		return resultError(result, "vkCreateComputePipelines")
	}); err != nil {
		core.LogError("pipeline '%s': %s", pso.Name, err)
		return nil, err
	}

	out := &VulkanPipeline{
		Handle:         pipelines[0],
		PipelineLayout: context.PipelineLayout,
		BindPoint:      vk.PipelineBindPointCompute,
	}
	pso.Program = out
	core.LogDebug("Compute pipeline '%s' created!", pso.Name)
	return out, nil
}

// Destroy leaves the shared layout alone.
func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) error {
	if pipeline.Handle == vk.NullPipeline {
		return nil
	}
	return context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
		return nil
	})
}

func nativePipeline(pso *metadata.PipelineStateObject) (*VulkanPipeline, bool) {
	if pso == nil {
		return nil, false
	}
	vp, ok := pso.Program.(*VulkanPipeline)
	if !ok || vp.Handle == vk.NullPipeline {
		core.LogWarn("pipeline '%s' has no vulkan program", pso.Name)
		return nil, false
	}
	return vp, true
}
