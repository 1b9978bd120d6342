package renderer

import (
	"fmt"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type drawHandler func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCommand) error

// handle adapts a handler for one command type to the table signature.
func handle[T metadata.DrawCommand](fn func(rs *RenderSystem, enc driver.RenderEncoder, cmd T) error) drawHandler {
	return func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCommand) error {
		c, ok := cmd.(T)
		if !ok {
			return rs.unsupported(cmd)
		}
		return fn(rs, enc, c)
	}
}

var drawHandlers = [metadata.MAX_COMMAND_KIND]drawHandler{
	metadata.COMMAND_DRAW_CALL_INDEXED: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCallIndexed) error {
		return rs.drawIndexed(enc, cmd, false)
	}),
	metadata.COMMAND_DRAW_CALL_STRIP: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCallStrip) error {
		return rs.drawStrip(enc, cmd, false)
	}),
	metadata.COMMAND_DRAW_CALL_INDEXED_EMULATED: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCallIndexedEmulated) error {
		return rs.drawIndexed(enc, cmd.DrawCallIndexed, true)
	}),
	metadata.COMMAND_DRAW_CALL_STRIP_EMULATED: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.DrawCallStripEmulated) error {
		return rs.drawStrip(enc, cmd.DrawCallStrip, true)
	}),
	metadata.COMMAND_V1_DRAW_CALL_INDEXED: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.V1DrawCallIndexed) error {
		return rs.drawV1Indexed(enc, cmd)
	}),
	metadata.COMMAND_V1_DRAW_CALL_STRIP: handle(func(rs *RenderSystem, enc driver.RenderEncoder, cmd metadata.V1DrawCallStrip) error {
		return rs.drawV1Strip(enc, cmd)
	}),
}

func (rs *RenderSystem) unsupported(cmd metadata.DrawCommand) error {
	err := fmt.Errorf("render system '%s': draw command %T: %w", rs.name, cmd, core.ErrUnsupportedCommand)
	core.LogError(err.Error())
	return err
}

/**
 * @brief Issues a draw command against the open render encoder, resuming an
 * interrupted pass when needed. Commands are passed by value.
 */
func (rs *RenderSystem) Render(cmd metadata.DrawCommand) error {
	if cmd == nil {
		return rs.unsupported(cmd)
	}
	kind := cmd.Kind()
	if kind >= metadata.MAX_COMMAND_KIND || drawHandlers[kind] == nil {
		return rs.unsupported(cmd)
	}
	enc, err := rs.ensureRenderEncoder()
	if err != nil {
		return err
	}
	if err := rs.checkGraphicsPipeline(); err != nil {
		return err
	}
	return drawHandlers[kind](rs, enc, cmd)
}

func (rs *RenderSystem) checkGraphicsPipeline() error {
	if rs.pso == nil {
		err := fmt.Errorf("render system '%s': draw: %w", rs.name, core.ErrNoPipelineBound)
		core.LogError(err.Error())
		return err
	}
	if _, ok := pipelineStateOf(rs.pso); !ok {
		err := fmt.Errorf("render system '%s': draw with pipeline '%s': %w", rs.name, rs.pso.Name, core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// SetVertexArrayObject selects the vertex data used by indexed and strip draws.
func (rs *RenderSystem) SetVertexArrayObject(vao *metadata.VertexArrayObject) {
	if rs.vao != vao {
		rs.vao = vao
		rs.boundVertex = nil
	}
}

// SetIndirectBuffer selects where indexed and strip draws read their arguments.
func (rs *RenderSystem) SetIndirectBuffer(ib *metadata.IndirectBuffer) {
	rs.indirect = ib
}

// SetRenderOperation selects the vertex data used by the v1 draw commands.
func (rs *RenderSystem) SetRenderOperation(op *metadata.RenderOperation) {
	if rs.renderOp != op {
		rs.renderOp = op
		rs.boundVertex = nil
	}
}

// useHardwareIndirect reports whether the device can consume the indirect buffer itself.
func (rs *RenderSystem) useHardwareIndirect(emulated bool) bool {
	hw := !emulated && rs.caps.IndirectDraw && rs.caps.BaseInstance && rs.indirect.Buffer != nil
	if !hw && !emulated && !rs.fallbackLogged {
		core.LogInfo("render system '%s': indirect draws are emulated on device '%s'", rs.name, rs.caps.DeviceName)
		rs.fallbackLogged = true
	}
	return hw
}

/**
 * @brief Binds vertex and index buffers. Without base instance support,
 * per-instance streams are offset by baseInstance instead.
 */
func (rs *RenderSystem) bindVertexData(enc driver.RenderEncoder, source interface{}, buffers []metadata.VertexBufferBinding,
	index *metadata.Buffer, indexType metadata.IndexType, baseInstance uint32) {
	var shift uint32
	if !rs.caps.BaseInstance {
		shift = baseInstance
	}
	if !rs.vertexDirty && rs.boundVertex == source && rs.boundShift == shift {
		return
	}
	for i, b := range buffers {
		offset := b.Offset
		if b.PerInstance {
			offset += uint64(shift) * b.Stride
		}
		enc.SetVertexBuffer(uint32(i), b.Buffer, offset)
	}
	if index != nil {
		enc.SetIndexBuffer(index, 0, indexType)
	}
	rs.vertexDirty = false
	rs.boundVertex = source
	rs.boundShift = shift
}

func (rs *RenderSystem) baseInstance(base uint32) uint32 {
	if rs.caps.BaseInstance {
		return base
	}
	return 0
}

func (rs *RenderSystem) indirectArgs(offset, size uint64) ([]byte, error) {
	if rs.indirect == nil {
		err := fmt.Errorf("render system '%s': %w", rs.name, core.ErrNoIndirectBuffer)
		core.LogError(err.Error())
		return nil, err
	}
	if n := uint64(len(rs.indirect.Shadow)); offset > n || size > n-offset {
		err := fmt.Errorf("render system '%s': indirect arguments at %d+%d past the end of the buffer (%d bytes): %w",
			rs.name, offset, size, len(rs.indirect.Shadow), core.ErrNoIndirectBuffer)
		core.LogError(err.Error())
		return nil, err
	}
	return rs.indirect.Shadow[offset : offset+size], nil
}

func (rs *RenderSystem) vertexArray() (*metadata.VertexArrayObject, error) {
	if rs.vao == nil {
		err := fmt.Errorf("render system '%s': %w", rs.name, core.ErrNoVertexData)
		core.LogError(err.Error())
		return nil, err
	}
	return rs.vao, nil
}

func (rs *RenderSystem) drawIndexed(enc driver.RenderEncoder, cmd metadata.DrawCallIndexed, emulated bool) error {
	vao, err := rs.vertexArray()
	if err != nil {
		return err
	}
	if vao.IndexBuffer == nil {
		err := fmt.Errorf("render system '%s': indexed draw without an index buffer: %w", rs.name, core.ErrNoVertexData)
		core.LogError(err.Error())
		return err
	}
	args, err := rs.indirectArgs(cmd.IndirectOffset, uint64(cmd.NumDraws)*metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE)
	if err != nil {
		return err
	}

	if rs.useHardwareIndirect(emulated) {
		rs.bindVertexData(enc, vao, vao.VertexBuffers, vao.IndexBuffer, vao.IndexType, 0)
		enc.DrawIndexedIndirect(rs.indirect.Buffer, cmd.IndirectOffset, cmd.NumDraws)
		rs.stats.Draws += uint64(cmd.NumDraws)
		return nil
	}
	for i := uint32(0); i < cmd.NumDraws; i++ {
		draw := metadata.DecodeDrawIndexedIndirectArgs(args[uint64(i)*metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE:])
		rs.bindVertexData(enc, vao, vao.VertexBuffers, vao.IndexBuffer, vao.IndexType, draw.BaseInstance)
		draw.BaseInstance = rs.baseInstance(draw.BaseInstance)
		enc.DrawIndexed(draw)
	}
	rs.stats.Draws += uint64(cmd.NumDraws)
	rs.stats.SoftwareIndirectDraws += uint64(cmd.NumDraws)
	return nil
}

func (rs *RenderSystem) drawStrip(enc driver.RenderEncoder, cmd metadata.DrawCallStrip, emulated bool) error {
	vao, err := rs.vertexArray()
	if err != nil {
		return err
	}
	args, err := rs.indirectArgs(cmd.IndirectOffset, uint64(cmd.NumDraws)*metadata.DRAW_INDIRECT_ARGS_SIZE)
	if err != nil {
		return err
	}

	if rs.useHardwareIndirect(emulated) {
		rs.bindVertexData(enc, vao, vao.VertexBuffers, nil, vao.IndexType, 0)
		enc.DrawIndirect(rs.indirect.Buffer, cmd.IndirectOffset, cmd.NumDraws)
		rs.stats.Draws += uint64(cmd.NumDraws)
		return nil
	}
	for i := uint32(0); i < cmd.NumDraws; i++ {
		draw := metadata.DecodeDrawIndirectArgs(args[uint64(i)*metadata.DRAW_INDIRECT_ARGS_SIZE:])
		rs.bindVertexData(enc, vao, vao.VertexBuffers, nil, vao.IndexType, draw.BaseInstance)
		draw.BaseInstance = rs.baseInstance(draw.BaseInstance)
		enc.Draw(draw)
	}
	rs.stats.Draws += uint64(cmd.NumDraws)
	rs.stats.SoftwareIndirectDraws += uint64(cmd.NumDraws)
	return nil
}

func (rs *RenderSystem) renderOperation() (*metadata.RenderOperation, error) {
	if rs.renderOp == nil {
		err := fmt.Errorf("render system '%s': v1 draw without a render operation: %w", rs.name, core.ErrNoVertexData)
		core.LogError(err.Error())
		return nil, err
	}
	return rs.renderOp, nil
}

func (rs *RenderSystem) drawV1Indexed(enc driver.RenderEncoder, cmd metadata.V1DrawCallIndexed) error {
	op, err := rs.renderOperation()
	if err != nil {
		return err
	}
	if op.IndexBuffer == nil {
		err := fmt.Errorf("render system '%s': v1 indexed draw without an index buffer: %w", rs.name, core.ErrNoVertexData)
		core.LogError(err.Error())
		return err
	}
	rs.bindVertexData(enc, op, op.VertexBuffers, op.IndexBuffer, op.IndexType, cmd.BaseInstance)
	enc.DrawIndexed(metadata.DrawIndexedIndirectArgs{
		IndexCount:    cmd.PrimCount,
		InstanceCount: instances(cmd.InstanceCount),
		FirstIndex:    cmd.FirstVertexIndex,
		BaseVertex:    int32(op.VertexStart),
		BaseInstance:  rs.baseInstance(cmd.BaseInstance),
	})
	rs.stats.Draws++
	return nil
}

func (rs *RenderSystem) drawV1Strip(enc driver.RenderEncoder, cmd metadata.V1DrawCallStrip) error {
	op, err := rs.renderOperation()
	if err != nil {
		return err
	}
	rs.bindVertexData(enc, op, op.VertexBuffers, nil, op.IndexType, cmd.BaseInstance)
	enc.Draw(metadata.DrawIndirectArgs{
		VertexCount:   cmd.PrimCount,
		InstanceCount: instances(cmd.InstanceCount),
		FirstVertex:   cmd.FirstVertexIndex,
		BaseInstance:  rs.baseInstance(cmd.BaseInstance),
	})
	rs.stats.Draws++
	return nil
}

func instances(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

/**
 * @brief Draws a whole render operation, the v1 path without a command.
 */
func (rs *RenderSystem) RenderOperation(op *metadata.RenderOperation) error {
	if op == nil {
		err := fmt.Errorf("render system '%s': %w", rs.name, core.ErrNoVertexData)
		core.LogError(err.Error())
		return err
	}
	rs.SetRenderOperation(op)
	if op.UseIndexes {
		return rs.Render(metadata.V1DrawCallIndexed{
			PrimCount:        op.IndexCount,
			FirstVertexIndex: op.IndexStart,
			InstanceCount:    op.InstanceCount,
		})
	}
	return rs.Render(metadata.V1DrawCallStrip{
		PrimCount:        op.VertexCount,
		FirstVertexIndex: op.VertexStart,
		InstanceCount:    op.InstanceCount,
	})
}

/**
 * @brief Runs the bound compute pipeline with its thread group configuration.
 * An open render pass is interrupted and resumes on the next draw.
 */
func (rs *RenderSystem) Dispatch() error {
	if err := rs.checkFrame(); err != nil {
		return err
	}
	pso := rs.computePSO
	if pso == nil {
		err := fmt.Errorf("render system '%s': dispatch: %w", rs.name, core.ErrNoPipelineBound)
		core.LogError(err.Error())
		return err
	}
	if _, ok := pipelineStateOf(pso); !ok {
		err := fmt.Errorf("render system '%s': dispatch with pipeline '%s': %w", rs.name, pso.Name, core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	enc, err := rs.ensureComputeEncoder()
	if err != nil {
		return err
	}
	enc.Dispatch(pso.NumThreadGroups, pso.ThreadsPerGroup)
	rs.stats.Dispatches++
	return nil
}
