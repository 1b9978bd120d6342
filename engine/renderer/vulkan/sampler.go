package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type samplerState struct {
	desc   metadata.SamplerDescriptor
	handle vk.Sampler
}

func (s *samplerState) Descriptor() metadata.SamplerDescriptor { return s.desc }

func samplerFilter(f metadata.FilterOption) vk.Filter {
	if f == metadata.FilterOptionLinear || f == metadata.FilterOptionAnisotropic {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func samplerMipmapMode(f metadata.FilterOption) vk.SamplerMipmapMode {
	if f == metadata.FilterOptionLinear || f == metadata.FilterOptionAnisotropic {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func samplerAddressMode(m metadata.TextureAddressingMode) vk.SamplerAddressMode {
	switch m {
	case metadata.TextureAddressingMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.TextureAddressingClamp:
		return vk.SamplerAddressModeClampToEdge
	case metadata.TextureAddressingBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func compareOp(c metadata.CompareFunction) vk.CompareOp {
	switch c {
	case metadata.CompareFunctionNever:
		return vk.CompareOpNever
	case metadata.CompareFunctionLess:
		return vk.CompareOpLess
	case metadata.CompareFunctionEqual:
		return vk.CompareOpEqual
	case metadata.CompareFunctionLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompareFunctionGreater:
		return vk.CompareOpGreater
	case metadata.CompareFunctionNotEqual:
		return vk.CompareOpNotEqual
	case metadata.CompareFunctionGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

// borderColour picks the closest of the fixed Vulkan border colours.
func borderColour(c [4]float32) vk.BorderColor {
	switch {
	case c[0] >= 0.5 && c[1] >= 0.5 && c[2] >= 0.5:
		return vk.BorderColorFloatOpaqueWhite
	case c[3] >= 0.5:
		return vk.BorderColorFloatOpaqueBlack
	}
	return vk.BorderColorFloatTransparentBlack
}

/**
 * @brief Translates a sampler descriptor. Anisotropy is only enabled when the
 * descriptor asks for it and the device supports it, and is clamped to the
 * device maximum.
 */
func samplerCreateInfo(desc metadata.SamplerDescriptor, caps driver.Capabilities) vk.SamplerCreateInfo {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               samplerFilter(desc.MagFilter),
		MinFilter:               samplerFilter(desc.MinFilter),
		MipmapMode:              samplerMipmapMode(desc.MipFilter),
		AddressModeU:            samplerAddressMode(desc.U),
		AddressModeV:            samplerAddressMode(desc.V),
		AddressModeW:            samplerAddressMode(desc.W),
		MipLodBias:              desc.MipLodBias,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  desc.MinLod,
		MaxLod:                  desc.MaxLod,
		BorderColor:             borderColour(desc.BorderColour),
		UnnormalizedCoordinates: vk.False,
	}
	if desc.MaxLod < desc.MinLod {
		info.MaxLod = desc.MinLod
	}

	anisotropic := desc.MinFilter == metadata.FilterOptionAnisotropic ||
		desc.MagFilter == metadata.FilterOptionAnisotropic ||
		desc.MipFilter == metadata.FilterOptionAnisotropic
	if anisotropic && caps.AnisotropicMipFilter && desc.MaxAnisotropy > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = desc.MaxAnisotropy
		if info.MaxAnisotropy > caps.MaxAnisotropy {
			info.MaxAnisotropy = caps.MaxAnisotropy
		}
	}

	if desc.CompareFunc != metadata.CompareFunctionNever && desc.CompareFunc != metadata.CompareFunctionAlways {
		info.CompareEnable = vk.True
		info.CompareOp = compareOp(desc.CompareFunc)
	}
	return info
}
