package metadata

type PipelineKind uint8

const (
	PIPELINE_KIND_GRAPHICS PipelineKind = iota
	PIPELINE_KIND_COMPUTE
)

func (k PipelineKind) String() string {
	if k == PIPELINE_KIND_COMPUTE {
		return "compute"
	}
	return "graphics"
}

type PrimitiveType uint8

const (
	PrimitivePointList PrimitiveType = iota
	PrimitiveLineList
	PrimitiveLineStrip
	PrimitiveTriangleList
	PrimitiveTriangleStrip
)

/**
 * @brief A compiled pipeline state object. Its storage is owned by the material
 * system, which must notify the render system on creation and before destruction.
 */
type PipelineStateObject struct {
	/** @brief Identifier assigned by the render system on creation. */
	ID   uint32
	Name string
	Kind PipelineKind

	/** @brief Opaque compiled program handle produced by shader compilation. */
	Program interface{}

	Primitive  PrimitiveType
	DepthCheck bool
	DepthWrite bool
	DepthFunc  CompareFunction
	Stencil    StencilParams

	/** @brief Compute only. */
	ThreadsPerGroup [3]uint32
	NumThreadGroups [3]uint32

	/** @brief Render system private data. */
	InternalData interface{}
}

// DepthStencil returns the descriptor of the state derived from this pipeline.
func (p *PipelineStateObject) DepthStencil() DepthStencilDescriptor {
	desc := DepthStencilDescriptor{
		DepthWrite: p.DepthWrite,
		DepthFunc:  p.DepthFunc,
		Stencil:    p.Stencil,
	}
	if !p.DepthCheck {
		desc.DepthFunc = CompareFunctionAlways
	}
	return desc
}
