package metadata

import (
	"math"

	"golang.org/x/exp/constraints"
)

/** @brief Comparison used by depth, stencil and sampler compare tests. */
type CompareFunction uint8

const (
	CompareFunctionNever CompareFunction = iota
	CompareFunctionLess
	CompareFunctionEqual
	CompareFunctionLessEqual
	CompareFunctionGreater
	CompareFunctionNotEqual
	CompareFunctionGreaterEqual
	CompareFunctionAlways
)

func (c CompareFunction) String() string {
	switch c {
	case CompareFunctionNever:
		return "NEVER"
	case CompareFunctionLess:
		return "LESS"
	case CompareFunctionEqual:
		return "EQUAL"
	case CompareFunctionLessEqual:
		return "LESS_EQUAL"
	case CompareFunctionGreater:
		return "GREATER"
	case CompareFunctionNotEqual:
		return "NOT_EQUAL"
	case CompareFunctionGreaterEqual:
		return "GREATER_EQUAL"
	case CompareFunctionAlways:
		return "ALWAYS"
	}
	return "UNKNOWN"
}

type StencilOperation uint8

const (
	StencilOperationKeep StencilOperation = iota
	StencilOperationZero
	StencilOperationReplace
	StencilOperationIncrementClamp
	StencilOperationDecrementClamp
	StencilOperationInvert
	StencilOperationIncrementWrap
	StencilOperationDecrementWrap
)

/** @brief The stencil test and the three operations applied to one face. */
type StencilStateOp struct {
	CompareOp        CompareFunction
	StencilFailOp    StencilOperation
	StencilPassOp    StencilOperation
	StencilDepthFail StencilOperation
}

func (s StencilStateOp) Compare(other StencilStateOp) int {
	if c := compareOrdered(s.CompareOp, other.CompareOp); c != 0 {
		return c
	}
	if c := compareOrdered(s.StencilFailOp, other.StencilFailOp); c != 0 {
		return c
	}
	if c := compareOrdered(s.StencilPassOp, other.StencilPassOp); c != 0 {
		return c
	}
	return compareOrdered(s.StencilDepthFail, other.StencilDepthFail)
}

type StencilParams struct {
	Enabled   bool
	ReadMask  uint8
	WriteMask uint8
	Front     StencilStateOp
	Back      StencilStateOp
}

/**
 * @brief Orders stencil parameters. When stencil is disabled on both sides the
 * remaining fields have no effect and the two values compare equal.
 */
func (s StencilParams) Compare(other StencilParams) int {
	if c := compareBool(s.Enabled, other.Enabled); c != 0 || !s.Enabled {
		return c
	}
	if c := compareOrdered(s.ReadMask, other.ReadMask); c != 0 {
		return c
	}
	if c := compareOrdered(s.WriteMask, other.WriteMask); c != 0 {
		return c
	}
	if c := s.Front.Compare(other.Front); c != 0 {
		return c
	}
	return s.Back.Compare(other.Back)
}

/** @brief The value a native depth-stencil state object is created from. */
type DepthStencilDescriptor struct {
	DepthWrite bool
	DepthFunc  CompareFunction
	Stencil    StencilParams
}

// Compare orders by depth write, then compare function, then stencil parameters.
func (d DepthStencilDescriptor) Compare(other DepthStencilDescriptor) int {
	if c := compareBool(d.DepthWrite, other.DepthWrite); c != 0 {
		return c
	}
	if c := compareOrdered(d.DepthFunc, other.DepthFunc); c != 0 {
		return c
	}
	return d.Stencil.Compare(other.Stencil)
}

type FilterOption uint8

const (
	FilterOptionNone FilterOption = iota
	FilterOptionPoint
	FilterOptionLinear
	FilterOptionAnisotropic
)

type TextureAddressingMode uint8

const (
	TextureAddressingWrap TextureAddressingMode = iota
	TextureAddressingMirror
	TextureAddressingClamp
	TextureAddressingBorder
)

/** @brief The value a native sampler state object is created from. */
type SamplerDescriptor struct {
	MinFilter     FilterOption
	MagFilter     FilterOption
	MipFilter     FilterOption
	U             TextureAddressingMode
	V             TextureAddressingMode
	W             TextureAddressingMode
	MipLodBias    float32
	MaxAnisotropy float32
	CompareFunc   CompareFunction
	BorderColour  [4]float32
	MinLod        float32
	MaxLod        float32
}

func (s SamplerDescriptor) Compare(other SamplerDescriptor) int {
	for _, c := range [...]int{
		compareOrdered(s.MinFilter, other.MinFilter),
		compareOrdered(s.MagFilter, other.MagFilter),
		compareOrdered(s.MipFilter, other.MipFilter),
		compareOrdered(s.U, other.U),
		compareOrdered(s.V, other.V),
		compareOrdered(s.W, other.W),
		compareFloat(s.MipLodBias, other.MipLodBias),
		compareFloat(s.MaxAnisotropy, other.MaxAnisotropy),
		compareOrdered(s.CompareFunc, other.CompareFunc),
		compareFloat(s.BorderColour[0], other.BorderColour[0]),
		compareFloat(s.BorderColour[1], other.BorderColour[1]),
		compareFloat(s.BorderColour[2], other.BorderColour[2]),
		compareFloat(s.BorderColour[3], other.BorderColour[3]),
		compareFloat(s.MinLod, other.MinLod),
		compareFloat(s.MaxLod, other.MaxLod),
	} {
		if c != 0 {
			return c
		}
	}
	return 0
}

/**
 * @brief A sampler owned by the material system. The render system fills
 * InternalData with the shared native sampler once notified of its creation.
 */
type Samplerblock struct {
	ID           uint32
	Descriptor   SamplerDescriptor
	InternalData interface{}
}

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareFloat orders NaN before every number and tells apart values that are
// numerically equal but differ in their bits (-0 and +0, NaN payloads).
func compareFloat(a, b float32) int {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case aNaN && !bNaN:
		return -1
	case !aNaN && bNaN:
		return 1
	case !aNaN && a != b:
		return compareOrdered(a, b)
	}
	return compareOrdered(math.Float32bits(a), math.Float32bits(b))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
