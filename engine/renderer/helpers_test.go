package renderer

import (
	"context"
	"testing"

	"github.com/spaghettifunk/rendercore/engine/config"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/headless"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

func testConfig() config.Renderer {
	cfg := config.Default().Renderer
	cfg.AutoParams.MinBufferSize = 1024
	cfg.AutoParams.MaxBufferSize = 64 * 1024
	cfg.AutoParams.Alignment = 256
	return cfg
}

func newTestContext(t *testing.T, opts headless.Options, cfg config.Renderer) (*DeviceContext, *headless.Driver) {
	t.Helper()
	drv := headless.NewDriver("", opts)
	ctx, err := NewDeviceContext(driver.NewRegistry(drv), cfg)
	if err != nil {
		t.Fatalf("NewDeviceContext: %v", err)
	}
	t.Cleanup(func() {
		if err := ctx.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return ctx, drv
}

// newTestSystem returns a render system on a manually completed headless device.
func newTestSystem(t *testing.T) (*RenderSystem, *headless.Driver) {
	t.Helper()
	return newTestSystemWith(t, headless.Options{Manual: true}, testConfig())
}

func newTestSystemWith(t *testing.T, opts headless.Options, cfg config.Renderer) (*RenderSystem, *headless.Driver) {
	t.Helper()
	ctx, drv := newTestContext(t, opts, cfg)
	rs, err := NewRenderSystem(ctx, "test")
	if err != nil {
		t.Fatalf("NewRenderSystem: %v", err)
	}
	return rs, drv
}

func capsWith(fn func(caps *driver.Capabilities)) *driver.Capabilities {
	caps := headless.DefaultCapabilities()
	fn(&caps)
	return &caps
}

func newTexture(name string) *metadata.Texture {
	return &metadata.Texture{Name: name, Width: 64, Height: 64, SampleCount: 1}
}

func colourPass(name string, tex *metadata.Texture, load metadata.LoadAction) *metadata.RenderPassDescriptor {
	return &metadata.RenderPassDescriptor{
		Name: name,
		Colour: []metadata.ColourAttachment{{
			Texture:     tex,
			Load:        load,
			Store:       metadata.StoreActionStore,
			ClearColour: [4]float32{0, 0, 0, 1},
		}},
	}
}

func graphicsPipeline(t *testing.T, rs *RenderSystem, name string) *metadata.PipelineStateObject {
	t.Helper()
	pso := &metadata.PipelineStateObject{
		Name:       name,
		Kind:       metadata.PIPELINE_KIND_GRAPHICS,
		Primitive:  metadata.PrimitiveTriangleList,
		DepthCheck: true,
		DepthWrite: true,
		DepthFunc:  metadata.CompareFunctionLess,
	}
	if err := rs.NotifyPipelineCreated(pso); err != nil {
		t.Fatalf("NotifyPipelineCreated(%s): %v", name, err)
	}
	return pso
}

func computePipeline(t *testing.T, rs *RenderSystem, name string) *metadata.PipelineStateObject {
	t.Helper()
	pso := &metadata.PipelineStateObject{
		Name:            name,
		Kind:            metadata.PIPELINE_KIND_COMPUTE,
		ThreadsPerGroup: [3]uint32{8, 8, 1},
		NumThreadGroups: [3]uint32{4, 4, 1},
	}
	if err := rs.NotifyComputePipelineCreated(pso); err != nil {
		t.Fatalf("NotifyComputePipelineCreated(%s): %v", name, err)
	}
	return pso
}

// stripSetup binds a vertex array and an indirect buffer holding one strip draw.
func stripSetup(t *testing.T, rs *RenderSystem) {
	t.Helper()
	vb, err := rs.Context().Device().CreateBuffer("vertices", 1024, metadata.BUFFER_USAGE_VERTEX)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	rs.SetVertexArrayObject(&metadata.VertexArrayObject{
		VertexBuffers: []metadata.VertexBufferBinding{{Buffer: vb, Stride: 32}},
	})
	ib := metadata.NewIndirectBuffer(nil, 256)
	if err := ib.WriteDraw(0, metadata.DrawIndirectArgs{VertexCount: 3, InstanceCount: 1}); err != nil {
		t.Fatalf("WriteDraw: %v", err)
	}
	rs.SetIndirectBuffer(ib)
}

func drawStrip(t *testing.T, rs *RenderSystem) {
	t.Helper()
	if err := rs.Render(metadata.DrawCallStrip{NumDraws: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func beginFrame(t *testing.T, rs *RenderSystem) {
	t.Helper()
	if err := rs.BeginFrame(context.Background()); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
}

func endFrame(t *testing.T, rs *RenderSystem) {
	t.Helper()
	if err := rs.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

// opsOf keeps the calls whose op is in keep, in recording order.
func opsOf(calls []headless.Call, keep ...headless.Op) []headless.Op {
	wanted := make(map[headless.Op]bool, len(keep))
	for _, op := range keep {
		wanted[op] = true
	}
	var ops []headless.Op
	for _, c := range calls {
		if wanted[c.Op] {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

func callsOf(calls []headless.Call, op headless.Op) []headless.Call {
	var out []headless.Call
	for _, c := range calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func equalOps(a, b []headless.Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
