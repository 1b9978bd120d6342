package headless

import (
	"fmt"

	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type Op uint8

const (
	OP_BEGIN_RENDER Op = iota
	OP_END_RENDER
	OP_BEGIN_COMPUTE
	OP_END_COMPUTE
	OP_SET_PIPELINE
	OP_SET_DEPTH_STENCIL
	OP_SET_STENCIL_REF
	OP_SET_VIEWPORTS
	OP_SET_SCISSORS
	OP_SET_VERTEX_BUFFER
	OP_SET_INDEX_BUFFER
	OP_SET_TEXTURE
	OP_SET_SAMPLER
	OP_SET_BUFFER
	OP_SET_UAV
	OP_DRAW
	OP_DRAW_INDEXED
	OP_DISPATCH
	OP_PUSH_DEBUG_GROUP
	OP_POP_DEBUG_GROUP
	OP_SIGNPOST

	// Device level operations, only used for failure injection.
	OP_CREATE_DEPTH_STENCIL
	OP_CREATE_SAMPLER
	OP_CREATE_FRAMEBUFFER
	OP_CREATE_BUFFER
	OP_NEW_COMMAND_BUFFER
	OP_COMMIT
)

var opNames = map[Op]string{
	OP_BEGIN_RENDER:         "begin_render",
	OP_END_RENDER:           "end_render",
	OP_BEGIN_COMPUTE:        "begin_compute",
	OP_END_COMPUTE:          "end_compute",
	OP_SET_PIPELINE:         "set_pipeline",
	OP_SET_DEPTH_STENCIL:    "set_depth_stencil",
	OP_SET_STENCIL_REF:      "set_stencil_ref",
	OP_SET_VIEWPORTS:        "set_viewports",
	OP_SET_SCISSORS:         "set_scissors",
	OP_SET_VERTEX_BUFFER:    "set_vertex_buffer",
	OP_SET_INDEX_BUFFER:     "set_index_buffer",
	OP_SET_TEXTURE:          "set_texture",
	OP_SET_SAMPLER:          "set_sampler",
	OP_SET_BUFFER:           "set_buffer",
	OP_SET_UAV:              "set_uav",
	OP_DRAW:                 "draw",
	OP_DRAW_INDEXED:         "draw_indexed",
	OP_DISPATCH:             "dispatch",
	OP_PUSH_DEBUG_GROUP:     "push_debug_group",
	OP_POP_DEBUG_GROUP:      "pop_debug_group",
	OP_SIGNPOST:             "signpost",
	OP_CREATE_DEPTH_STENCIL: "create_depth_stencil",
	OP_CREATE_SAMPLER:       "create_sampler",
	OP_CREATE_FRAMEBUFFER:   "create_framebuffer",
	OP_CREATE_BUFFER:        "create_buffer",
	OP_NEW_COMMAND_BUFFER:   "new_command_buffer",
	OP_COMMIT:               "commit",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Call is one recorded native call. Only the fields relevant to Op are set.
type Call struct {
	Op   Op
	Slot uint32
	Name string

	Pipeline     *metadata.PipelineStateObject
	DepthStencil driver.DepthStencilState
	Sampler      driver.SamplerState
	Texture      *metadata.Texture
	Buffer       *metadata.Buffer
	Offset       uint64
	Value        uint32

	Framebuffer driver.Framebuffer
	Pass        *metadata.RenderPassDescriptor
	Store       metadata.StoreActions
	Viewports   []metadata.Viewport
	Scissors    []metadata.Rect

	Draw        metadata.DrawIndirectArgs
	DrawIndexed metadata.DrawIndexedIndirectArgs
	// Set when the draw arguments were read from an indirect buffer.
	Indirect bool

	ThreadGroups    [3]uint32
	ThreadsPerGroup [3]uint32
}
