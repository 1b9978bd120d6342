package testbed

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/rendercore/engine"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

const (
	TARGET_WIDTH  uint32 = 1280
	TARGET_HEIGHT uint32 = 720
	MSAA_SAMPLES  uint8  = 4
	INSTANCES     uint32 = 64
)

// textureAllocator is implemented by devices whose render targets need native
// storage (the Vulkan device). The headless device renders into metadata only.
type textureAllocator interface {
	CreateTexture(tex *metadata.Texture) error
	DestroyTexture(tex *metadata.Texture)
}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	device  *renderer.DeviceContext
	systems []*renderer.RenderSystem

	opaque    *metadata.PipelineStateObject
	sky       *metadata.PipelineStateObject
	lightCull *metadata.PipelineStateObject
	linear    *metadata.Samplerblock
	shadowCmp *metadata.Samplerblock

	streams  []*streamState
	rotation float64
}

// Per stream targets and geometry. Each stream renders its own view.
type streamState struct {
	colour    *metadata.Texture
	resolve   *metadata.Texture
	depth     *metadata.Texture
	lightGrid *metadata.Texture
	albedo    *metadata.Texture

	vertices *metadata.Buffer
	indices  *metadata.Buffer
	vao      *metadata.VertexArrayObject
	quad     *metadata.RenderOperation
	indirect *metadata.IndirectBuffer
}

func NewTestGame(app *engine.ApplicationConfig) (*TestGame, error) {
	if app == nil {
		return nil, fmt.Errorf("testbed: missing application config")
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(device *renderer.DeviceContext, systems []*renderer.RenderSystem) error {
	core.LogInfo("initializing testbed...")
	st := g.state()
	st.device = device
	st.systems = systems

	st.opaque = &metadata.PipelineStateObject{
		Name:       "opaque",
		Kind:       metadata.PIPELINE_KIND_GRAPHICS,
		Primitive:  metadata.PrimitiveTriangleList,
		DepthCheck: true,
		DepthWrite: true,
		DepthFunc:  metadata.CompareFunctionLessEqual,
		Stencil: metadata.StencilParams{
			Enabled:   true,
			ReadMask:  0xff,
			WriteMask: 0xff,
			Front:     metadata.StencilStateOp{CompareOp: metadata.CompareFunctionAlways, StencilPassOp: metadata.StencilOperationReplace},
			Back:      metadata.StencilStateOp{CompareOp: metadata.CompareFunctionAlways, StencilPassOp: metadata.StencilOperationReplace},
		},
	}
	st.sky = &metadata.PipelineStateObject{
		Name:       "sky",
		Kind:       metadata.PIPELINE_KIND_GRAPHICS,
		Primitive:  metadata.PrimitiveTriangleStrip,
		DepthCheck: true,
		DepthWrite: false,
		DepthFunc:  metadata.CompareFunctionLessEqual,
	}
	st.lightCull = &metadata.PipelineStateObject{
		Name:            "light_cull",
		Kind:            metadata.PIPELINE_KIND_COMPUTE,
		ThreadsPerGroup: [3]uint32{8, 8, 1},
		NumThreadGroups: [3]uint32{(TARGET_WIDTH + 15) / 16, (TARGET_HEIGHT + 15) / 16, 1},
	}
	st.linear = &metadata.Samplerblock{Descriptor: metadata.SamplerDescriptor{
		MinFilter:     metadata.FilterOptionAnisotropic,
		MagFilter:     metadata.FilterOptionLinear,
		MipFilter:     metadata.FilterOptionLinear,
		MaxAnisotropy: 8,
		MaxLod:        math.MaxFloat32,
	}}
	st.shadowCmp = &metadata.Samplerblock{Descriptor: metadata.SamplerDescriptor{
		MinFilter:   metadata.FilterOptionLinear,
		MagFilter:   metadata.FilterOptionLinear,
		MipFilter:   metadata.FilterOptionPoint,
		U:           metadata.TextureAddressingClamp,
		V:           metadata.TextureAddressingClamp,
		W:           metadata.TextureAddressingClamp,
		CompareFunc: metadata.CompareFunctionLessEqual,
	}}
	if err := st.notifyCreated(); err != nil {
		return err
	}

	// pipelines and samplers live on the device: re-issue them on a new one
	device.Events().Register(core.EVENT_CODE_DEVICE_RESTORED, g, g.onDeviceRestored)

	st.streams = make([]*streamState, len(systems))
	for i := range systems {
		s, err := newStreamState(device.Device(), i)
		if err != nil {
			return err
		}
		st.streams[i] = s
	}
	return nil
}

func (st *gameState) notifyCreated() error {
	if err := st.device.NotifyPipelineCreated(st.opaque); err != nil {
		return err
	}
	if err := st.device.NotifyPipelineCreated(st.sky); err != nil {
		return err
	}
	if err := st.device.NotifyComputePipelineCreated(st.lightCull); err != nil {
		return err
	}
	if err := st.device.NotifySamplerblockCreated(st.linear); err != nil {
		return err
	}
	return st.device.NotifySamplerblockCreated(st.shadowCmp)
}

func (g *TestGame) onDeviceRestored(context core.EventContext) bool {
	st := g.state()
	core.LogInfo("testbed: device restored on '%v', re-creating device objects", context.Data)
	if err := st.notifyCreated(); err != nil {
		core.LogError(err.Error())
	}
	for i, s := range st.streams {
		fresh, err := newStreamState(st.device.Device(), i)
		if err != nil {
			core.LogError(err.Error())
			continue
		}
		// the old device is gone together with everything it owned
		*s = *fresh
	}
	return false
}

func newTarget(name string, samples uint8, flags metadata.TextureFlag) *metadata.Texture {
	return &metadata.Texture{
		Name:        name,
		Width:       TARGET_WIDTH,
		Height:      TARGET_HEIGHT,
		SampleCount: samples,
		Flags:       flags,
	}
}

func newStreamState(device driver.Device, stream int) (*streamState, error) {
	s := &streamState{
		colour:    newTarget(fmt.Sprintf("colour_msaa_%d", stream), MSAA_SAMPLES, metadata.TextureFlagIsWriteable),
		resolve:   newTarget(fmt.Sprintf("colour_%d", stream), 1, metadata.TextureFlagIsWriteable),
		depth:     newTarget(fmt.Sprintf("depth_%d", stream), MSAA_SAMPLES, metadata.TextureFlagIsDepth|metadata.TextureFlagIsWriteable),
		lightGrid: newTarget(fmt.Sprintf("light_grid_%d", stream), 1, metadata.TextureFlagIsUav),
		albedo:    newTarget(fmt.Sprintf("albedo_%d", stream), 1, 0),
	}
	if alloc, ok := device.(textureAllocator); ok {
		for _, tex := range s.textures() {
			if err := alloc.CreateTexture(tex); err != nil {
				return nil, err
			}
		}
	}

	var err error
	// a unit quad: position xyz + uv
	vertexData := []float32{
		-1, -1, 0, 0, 0,
		1, -1, 0, 1, 0,
		1, 1, 0, 1, 1,
		-1, 1, 0, 0, 1,
	}
	if s.vertices, err = device.CreateBuffer(fmt.Sprintf("quad_vertices_%d", stream), uint64(len(vertexData)*4), metadata.BUFFER_USAGE_VERTEX); err != nil {
		return nil, err
	}
	for i, f := range vertexData {
		if s.vertices.Data != nil {
			binary.LittleEndian.PutUint32(s.vertices.Data[i*4:], math.Float32bits(f))
		}
	}
	indexData := []uint16{0, 1, 2, 2, 3, 0}
	if s.indices, err = device.CreateBuffer(fmt.Sprintf("quad_indices_%d", stream), uint64(len(indexData)*2), metadata.BUFFER_USAGE_INDEX); err != nil {
		return nil, err
	}
	for i, idx := range indexData {
		if s.indices.Data != nil {
			binary.LittleEndian.PutUint16(s.indices.Data[i*2:], idx)
		}
	}
	binding := metadata.VertexBufferBinding{Buffer: s.vertices, Stride: 20}
	s.vao = &metadata.VertexArrayObject{
		ID:            uint32(stream),
		VertexBuffers: []metadata.VertexBufferBinding{binding},
		IndexBuffer:   s.indices,
		IndexType:     metadata.IndexTypeUint16,
	}
	s.quad = &metadata.RenderOperation{
		VertexBuffers: []metadata.VertexBufferBinding{binding},
		VertexCount:   4,
		InstanceCount: 1,
	}

	const draws = 4
	buf, err := device.CreateBuffer(fmt.Sprintf("indirect_%d", stream), draws*metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE, metadata.BUFFER_USAGE_INDIRECT)
	if err != nil {
		return nil, err
	}
	s.indirect = metadata.NewIndirectBuffer(buf, buf.Size)
	for i := uint32(0); i < draws; i++ {
		args := metadata.DrawIndexedIndirectArgs{
			IndexCount:    uint32(len(indexData)),
			InstanceCount: INSTANCES / draws,
			BaseInstance:  i * (INSTANCES / draws),
		}
		if err := s.indirect.WriteDrawIndexed(uint64(i)*metadata.DRAW_INDEXED_INDIRECT_ARGS_SIZE, args); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *streamState) textures() []*metadata.Texture {
	return []*metadata.Texture{s.colour, s.resolve, s.depth, s.lightGrid, s.albedo}
}

func (s *streamState) destroy(device driver.Device) {
	if alloc, ok := device.(textureAllocator); ok {
		for _, tex := range s.textures() {
			alloc.DestroyTexture(tex)
		}
	}
	device.DestroyBuffer(s.vertices)
	device.DestroyBuffer(s.indices)
	device.DestroyBuffer(s.indirect.Buffer)
}

func (g *TestGame) Update(deltaTime float64) error {
	st := g.state()
	st.rotation = math.Mod(st.rotation+0.5*deltaTime, 2*math.Pi)
	return nil
}

// Render records one view: a light culling dispatch, the opaque pass and the sky.
func (g *TestGame) Render(ctx context.Context, rs *renderer.RenderSystem, stream int, deltaTime float64) error {
	st := g.state()
	s := st.streams[stream]

	rs.BeginProfileEvent(fmt.Sprintf("view %d", stream))
	defer rs.EndProfileEvent()

	if err := g.cullLights(rs, s); err != nil {
		return err
	}

	pass := &metadata.RenderPassDescriptor{
		Name: fmt.Sprintf("opaque_%d", stream),
		Colour: []metadata.ColourAttachment{{
			Texture:       s.colour,
			ResolveTarget: s.resolve,
			Load:          metadata.LoadActionClear,
			Store:         metadata.StoreActionStoreOrResolve,
			ClearColour:   [4]float32{0.1, 0.1, 0.2, 1},
		}},
		Depth: metadata.DepthAttachment{
			Texture:    s.depth,
			Load:       metadata.LoadActionClear,
			Store:      metadata.StoreActionDontCare,
			ClearDepth: 1,
		},
		Stencil: metadata.StencilAttachment{
			Texture: s.depth,
			Load:    metadata.LoadActionClear,
			Store:   metadata.StoreActionDontCare,
		},
	}
	viewport := []metadata.Viewport{{Width: float32(TARGET_WIDTH), Height: float32(TARGET_HEIGHT), MaxDepth: 1}}
	scissor := []metadata.Rect{{Width: TARGET_WIDTH, Height: TARGET_HEIGHT}}
	if err := rs.BeginRenderPass(pass, viewport, scissor); err != nil {
		return err
	}

	if err := rs.SetPipelineStateObject(st.opaque); err != nil {
		return err
	}
	rs.SetStencilBufferParams(1, st.opaque.Stencil)
	if err := rs.SetTextures(0, []*metadata.Texture{s.albedo, s.lightGrid}); err != nil {
		return err
	}
	if err := rs.SetSamplers(0, []*metadata.Samplerblock{st.linear, st.shadowCmp}); err != nil {
		return err
	}
	if _, err := rs.BindAutoParams(0, g.viewParams(stream)); err != nil {
		return err
	}
	rs.SetVertexArrayObject(s.vao)
	rs.SetIndirectBuffer(s.indirect)
	if err := rs.Render(metadata.DrawCallIndexed{NumDraws: 4}); err != nil {
		return err
	}

	rs.MarkProfileEvent("sky")
	if err := rs.SetPipelineStateObject(st.sky); err != nil {
		return err
	}
	if err := rs.RenderOperation(s.quad); err != nil {
		return err
	}
	return rs.EndRenderPass()
}

// cullLights fills the light grid sampled by the opaque pass.
func (g *TestGame) cullLights(rs *renderer.RenderSystem, s *streamState) error {
	st := g.state()
	if err := rs.SetComputePSO(st.lightCull); err != nil {
		return err
	}
	if err := rs.SetUAVsCS(0, []*metadata.Texture{s.lightGrid}); err != nil {
		return err
	}
	if _, err := rs.BindAutoParamsCS(0, g.viewParams(0)); err != nil {
		return err
	}
	return rs.Dispatch()
}

// viewParams is a rotation about Y followed by a translation along Z, column major.
func (g *TestGame) viewParams(stream int) []byte {
	angle := g.state().rotation + float64(stream)*math.Pi/8
	sin, cos := float32(math.Sin(angle)), float32(math.Cos(angle))
	view := [16]float32{
		cos, 0, -sin, 0,
		0, 1, 0, 0,
		sin, 0, cos, 0,
		0, 0, -5, 1,
	}
	out := make([]byte, len(view)*4)
	for i, f := range view {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func (g *TestGame) Shutdown() error {
	st := g.state()
	if st.device == nil {
		return nil
	}
	core.LogInfo("shutting down testbed...")
	// wait for the tail frames before freeing what they reference
	for _, rs := range st.systems {
		if err := rs.Shutdown(context.Background()); err != nil {
			return err
		}
	}
	device := st.device.Device()
	for _, s := range st.streams {
		s.destroy(device)
	}
	st.device.Events().Unregister(core.EVENT_CODE_DEVICE_RESTORED, g)
	if err := st.device.NotifyPipelineDestroyed(st.opaque); err != nil {
		return err
	}
	if err := st.device.NotifyPipelineDestroyed(st.sky); err != nil {
		return err
	}
	if err := st.device.NotifyComputePipelineDestroyed(st.lightCull); err != nil {
		return err
	}
	if err := st.device.NotifySamplerblockDestroyed(st.linear); err != nil {
		return err
	}
	return st.device.NotifySamplerblockDestroyed(st.shadowCmp)
}
