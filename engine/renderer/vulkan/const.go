package vulkan

import "github.com/spaghettifunk/rendercore/engine/renderer/metadata"

const DRIVER_NAME = "vulkan"

/**
 * @brief Every pipeline shares one descriptor set layout. Render system slots
 * map onto fixed binding ranges of set 0.
 */
const (
	VULKAN_BINDING_BUFFER_BASE  uint32 = 0
	VULKAN_BINDING_TEXTURE_BASE uint32 = 16
	VULKAN_BINDING_SAMPLER_BASE uint32 = 32
	VULKAN_BINDING_UAV_BASE     uint32 = 48

	VULKAN_MAX_BUFFER_BINDINGS  uint32 = 16
	VULKAN_MAX_TEXTURE_BINDINGS uint32 = 16
	VULKAN_MAX_SAMPLER_BINDINGS uint32 = 16
	VULKAN_MAX_UAV_BINDINGS     uint32 = 8
)

/** @brief Descriptor sets a single command buffer may allocate before its pool is exhausted. */
const VULKAN_MAX_DESCRIPTOR_SETS uint32 = 1024

/** @brief Fence waits are split in slices so a stuck device is noticed. */
const VULKAN_FENCE_WAIT_SLICE_NS uint64 = 1_000_000_000

const (
	drawIndirectStride        = uint32(metadata.DRAW_INDIRECT_ARGS_SIZE)
	drawIndexedIndirectStride = uint32(metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE)
)
