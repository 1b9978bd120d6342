package headless

import (
	"errors"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

var (
	ErrEncoderOpen      = errors.New("headless: an encoder is still open")
	ErrAlreadyCommitted = errors.New("headless: command buffer already committed")
)

type CommandBuffer struct {
	device *Device
	id     uint64

	mu         sync.Mutex
	label      string
	calls      []Call
	handlers   []func(err error)
	encoder    bool
	debugDepth int
	committed  bool
	completed  bool
}

func (cb *CommandBuffer) ID() uint64 {
	return cb.id
}

func (cb *CommandBuffer) SetLabel(label string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.label = label
}

func (cb *CommandBuffer) Label() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.label
}

func (cb *CommandBuffer) Calls() []Call {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]Call, len(cb.calls))
	copy(out, cb.calls)
	return out
}

func (cb *CommandBuffer) Committed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.committed
}

func (cb *CommandBuffer) Completed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.completed
}

func (cb *CommandBuffer) record(c Call) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.calls = append(cb.calls, c)
}

func (cb *CommandBuffer) open() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.committed {
		return ErrAlreadyCommitted
	}
	if cb.encoder {
		return ErrEncoderOpen
	}
	cb.encoder = true
	return nil
}

func (cb *CommandBuffer) close(c Call) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.encoder = false
	cb.calls = append(cb.calls, c)
}

func (cb *CommandBuffer) BeginRenderEncoder(fb driver.Framebuffer, desc *metadata.RenderPassDescriptor) (driver.RenderEncoder, error) {
	if err := cb.open(); err != nil {
		return nil, err
	}
	cb.record(Call{Op: OP_BEGIN_RENDER, Framebuffer: fb, Pass: desc})
	return &renderEncoder{cb: cb}, nil
}

func (cb *CommandBuffer) BeginComputeEncoder() (driver.ComputeEncoder, error) {
	if err := cb.open(); err != nil {
		return nil, err
	}
	cb.record(Call{Op: OP_BEGIN_COMPUTE})
	return &computeEncoder{cb: cb}, nil
}

func (cb *CommandBuffer) PushDebugGroup(name string) {
	cb.mu.Lock()
	cb.debugDepth++
	cb.mu.Unlock()
	cb.record(Call{Op: OP_PUSH_DEBUG_GROUP, Name: name})
}

func (cb *CommandBuffer) PopDebugGroup() {
	cb.mu.Lock()
	if cb.debugDepth == 0 {
		cb.mu.Unlock()
		return
	}
	cb.debugDepth--
	cb.mu.Unlock()
	cb.record(Call{Op: OP_POP_DEBUG_GROUP})
}

func (cb *CommandBuffer) AddCompletedHandler(fn func(err error)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.handlers = append(cb.handlers, fn)
}

func (cb *CommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.committed {
		cb.mu.Unlock()
		return ErrAlreadyCommitted
	}
	if cb.encoder {
		cb.mu.Unlock()
		return ErrEncoderOpen
	}
	cb.committed = true
	cb.mu.Unlock()
	return cb.device.commit(cb)
}

func (cb *CommandBuffer) finish() []func(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.completed = true
	handlers := cb.handlers
	cb.handlers = nil
	return handlers
}

type renderEncoder struct {
	cb    *CommandBuffer
	ended bool
}

func (e *renderEncoder) SetPipeline(pso *metadata.PipelineStateObject) {
	e.cb.record(Call{Op: OP_SET_PIPELINE, Pipeline: pso})
}

func (e *renderEncoder) SetDepthStencilState(state driver.DepthStencilState) {
	e.cb.record(Call{Op: OP_SET_DEPTH_STENCIL, DepthStencil: state})
}

func (e *renderEncoder) SetStencilReference(ref uint32) {
	e.cb.record(Call{Op: OP_SET_STENCIL_REF, Value: ref})
}

func (e *renderEncoder) SetViewports(viewports []metadata.Viewport) {
	vp := make([]metadata.Viewport, len(viewports))
	copy(vp, viewports)
	e.cb.record(Call{Op: OP_SET_VIEWPORTS, Viewports: vp})
}

func (e *renderEncoder) SetScissors(scissors []metadata.Rect) {
	sc := make([]metadata.Rect, len(scissors))
	copy(sc, scissors)
	e.cb.record(Call{Op: OP_SET_SCISSORS, Scissors: sc})
}

func (e *renderEncoder) SetVertexBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	e.cb.record(Call{Op: OP_SET_VERTEX_BUFFER, Slot: slot, Buffer: buf, Offset: offset})
}

func (e *renderEncoder) SetIndexBuffer(buf *metadata.Buffer, offset uint64, indexType metadata.IndexType) {
	e.cb.record(Call{Op: OP_SET_INDEX_BUFFER, Buffer: buf, Offset: offset, Value: uint32(indexType)})
}

func (e *renderEncoder) SetTexture(slot uint32, tex *metadata.Texture) {
	e.cb.record(Call{Op: OP_SET_TEXTURE, Slot: slot, Texture: tex})
}

func (e *renderEncoder) SetSampler(slot uint32, state driver.SamplerState) {
	e.cb.record(Call{Op: OP_SET_SAMPLER, Slot: slot, Sampler: state})
}

func (e *renderEncoder) SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	e.cb.record(Call{Op: OP_SET_BUFFER, Slot: slot, Buffer: buf, Offset: offset})
}

func (e *renderEncoder) Draw(args metadata.DrawIndirectArgs) {
	e.cb.record(Call{Op: OP_DRAW, Draw: args})
}

func (e *renderEncoder) DrawIndexed(args metadata.DrawIndexedIndirectArgs) {
	e.cb.record(Call{Op: OP_DRAW_INDEXED, DrawIndexed: args})
}

// DrawIndirect decodes the arguments at record time, which is when a real
// device would have them resident as well for host visible buffers.
func (e *renderEncoder) DrawIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32) {
	for i := uint32(0); i < drawCount; i++ {
		at := offset + uint64(i)*metadata.DRAW_INDIRECT_ARGS_SIZE
		var args metadata.DrawIndirectArgs
		if at+metadata.DRAW_INDIRECT_ARGS_SIZE <= uint64(len(buf.Data)) {
			args = metadata.DecodeDrawIndirectArgs(buf.Data[at:])
		}
		e.cb.record(Call{Op: OP_DRAW, Buffer: buf, Offset: at, Draw: args, Indirect: true})
	}
}

func (e *renderEncoder) DrawIndexedIndirect(buf *metadata.Buffer, offset uint64, drawCount uint32) {
	for i := uint32(0); i < drawCount; i++ {
		at := offset + uint64(i)*metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE
		var args metadata.DrawIndexedIndirectArgs
		if at+metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE <= uint64(len(buf.Data)) {
			args = metadata.DecodeDrawIndexedIndirectArgs(buf.Data[at:])
		}
		e.cb.record(Call{Op: OP_DRAW_INDEXED, Buffer: buf, Offset: at, DrawIndexed: args, Indirect: true})
	}
}

func (e *renderEncoder) InsertDebugSignpost(name string) {
	e.cb.record(Call{Op: OP_SIGNPOST, Name: name})
}

func (e *renderEncoder) EndEncoding(actions metadata.StoreActions) {
	if e.ended {
		return
	}
	e.ended = true
	e.cb.close(Call{Op: OP_END_RENDER, Store: actions})
}

type computeEncoder struct {
	cb    *CommandBuffer
	ended bool
}

func (e *computeEncoder) SetPipeline(pso *metadata.PipelineStateObject) {
	e.cb.record(Call{Op: OP_SET_PIPELINE, Pipeline: pso})
}

func (e *computeEncoder) SetTexture(slot uint32, tex *metadata.Texture) {
	e.cb.record(Call{Op: OP_SET_TEXTURE, Slot: slot, Texture: tex})
}

func (e *computeEncoder) SetSampler(slot uint32, state driver.SamplerState) {
	e.cb.record(Call{Op: OP_SET_SAMPLER, Slot: slot, Sampler: state})
}

func (e *computeEncoder) SetUAV(slot uint32, tex *metadata.Texture) {
	e.cb.record(Call{Op: OP_SET_UAV, Slot: slot, Texture: tex})
}

func (e *computeEncoder) SetBuffer(slot uint32, buf *metadata.Buffer, offset uint64) {
	e.cb.record(Call{Op: OP_SET_BUFFER, Slot: slot, Buffer: buf, Offset: offset})
}

func (e *computeEncoder) Dispatch(threadGroups, threadsPerGroup [3]uint32) {
	e.cb.record(Call{Op: OP_DISPATCH, ThreadGroups: threadGroups, ThreadsPerGroup: threadsPerGroup})
}

func (e *computeEncoder) InsertDebugSignpost(name string) {
	e.cb.record(Call{Op: OP_SIGNPOST, Name: name})
}

func (e *computeEncoder) EndEncoding() {
	if e.ended {
		return
	}
	e.ended = true
	e.cb.close(Call{Op: OP_END_COMPUTE})
}
