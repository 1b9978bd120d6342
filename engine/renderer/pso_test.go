package renderer

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/headless"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

func TestPipelineRebindIsRedundant(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	stripSetup(t, rs)

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := rs.SetPipelineStateObject(pso); err != nil {
			t.Fatalf("SetPipelineStateObject: %v", err)
		}
		drawStrip(t, rs)
	}
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	if n := len(callsOf(calls, headless.OP_SET_PIPELINE)); n != 1 {
		t.Errorf("pipeline binds issued: got %d, want 1", n)
	}
	if n := len(callsOf(calls, headless.OP_SET_DEPTH_STENCIL)); n != 1 {
		t.Errorf("depth-stencil binds issued: got %d, want 1", n)
	}
	stats := rs.Stats()
	if stats.PipelineBinds != 1 || stats.RedundantPipelineBinds != 2 {
		t.Errorf("binds: got %d, redundant %d", stats.PipelineBinds, stats.RedundantPipelineBinds)
	}
}

func TestSwitchingPipelinesSharesDepthStencil(t *testing.T) {
	rs, drv := newTestSystem(t)
	a := graphicsPipeline(t, rs, "a")
	b := graphicsPipeline(t, rs, "b")
	stripSetup(t, rs)

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	for _, pso := range []*metadata.PipelineStateObject{a, b, a} {
		if err := rs.SetPipelineStateObject(pso); err != nil {
			t.Fatalf("SetPipelineStateObject(%s): %v", pso.Name, err)
		}
		drawStrip(t, rs)
	}
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	if n := len(callsOf(calls, headless.OP_SET_PIPELINE)); n != 3 {
		t.Errorf("pipeline binds issued: got %d, want 3", n)
	}
	// same derived state, set once
	if n := len(callsOf(calls, headless.OP_SET_DEPTH_STENCIL)); n != 1 {
		t.Errorf("depth-stencil binds issued: got %d, want 1", n)
	}
}

func TestDerivedDepthStencilRefCounting(t *testing.T) {
	rs, drv := newTestSystem(t)
	dev := drv.Device()
	a := graphicsPipeline(t, rs, "a")
	b := graphicsPipeline(t, rs, "b")
	c := graphicsPipeline(t, rs, "c")
	c.DepthFunc = metadata.CompareFunctionGreaterEqual

	for _, pso := range []*metadata.PipelineStateObject{a, b, c} {
		if err := rs.SetPipelineStateObject(pso); err != nil {
			t.Fatalf("SetPipelineStateObject(%s): %v", pso.Name, err)
		}
	}
	cache := rs.Context().DepthStencilStates()
	if n := cache.RefCount(a.DepthStencil()); n != 2 {
		t.Fatalf("shared state references: got %d, want 2", n)
	}
	if n := dev.Live(headless.KIND_DEPTH_STENCIL); n != 2 {
		t.Fatalf("native depth-stencil states: got %d, want 2", n)
	}

	if err := rs.NotifyPipelineDestroyed(a); err != nil {
		t.Fatalf("NotifyPipelineDestroyed: %v", err)
	}
	if n := cache.RefCount(b.DepthStencil()); n != 1 {
		t.Fatalf("shared state references after destroy: got %d, want 1", n)
	}
	if err := rs.NotifyPipelineDestroyed(b); err != nil {
		t.Fatalf("NotifyPipelineDestroyed: %v", err)
	}
	if err := rs.NotifyPipelineDestroyed(c); err != nil {
		t.Fatalf("NotifyPipelineDestroyed: %v", err)
	}
	if n := dev.Live(headless.KIND_DEPTH_STENCIL); n != 0 {
		t.Fatalf("native depth-stencil states after destroy: got %d, want 0", n)
	}
	if rs.BoundPipeline() != nil {
		t.Errorf("destroyed pipeline is still bound")
	}
}

func TestPipelineDestroyWaitsForFrames(t *testing.T) {
	rs, drv := newTestSystem(t)
	dev := drv.Device()
	pso := graphicsPipeline(t, rs, "transient")
	stripSetup(t, rs)

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	if err := rs.NotifyPipelineDestroyed(pso); err != nil {
		t.Fatalf("NotifyPipelineDestroyed: %v", err)
	}
	if n := dev.Live(headless.KIND_DEPTH_STENCIL); n != 1 {
		t.Fatalf("state destroyed while its frame is in flight")
	}
	if n := rs.Gate().PendingReleases(); n != 1 {
		t.Fatalf("pending releases: got %d, want 1", n)
	}
	dev.CompleteAll()
	if n := dev.Live(headless.KIND_DEPTH_STENCIL); n != 0 {
		t.Fatalf("state not destroyed after its frame completed")
	}
}

func TestPipelineRegistrationErrors(t *testing.T) {
	rs, _ := newTestSystem(t)
	gfx := graphicsPipeline(t, rs, "gfx")
	cs := computePipeline(t, rs, "cs")
	stray := &metadata.PipelineStateObject{Name: "stray", Kind: metadata.PIPELINE_KIND_GRAPHICS}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"bind unregistered", rs.SetPipelineStateObject(stray), core.ErrUnknownPipeline},
		{"bind compute for drawing", rs.SetPipelineStateObject(cs), core.ErrWrongPipelineKind},
		{"bind graphics for dispatching", rs.SetComputePSO(gfx), core.ErrWrongPipelineKind},
		{"bind unregistered compute", rs.SetComputePSO(&metadata.PipelineStateObject{Kind: metadata.PIPELINE_KIND_COMPUTE}), core.ErrUnknownPipeline},
		{"create nil", rs.NotifyPipelineCreated(nil), core.ErrUnknownPipeline},
		{"create compute as graphics", rs.NotifyPipelineCreated(&metadata.PipelineStateObject{Kind: metadata.PIPELINE_KIND_COMPUTE}), core.ErrWrongPipelineKind},
		{"destroy unregistered", rs.NotifyPipelineDestroyed(stray), core.ErrUnknownPipeline},
		{"destroy graphics as compute", rs.NotifyComputePipelineDestroyed(gfx), core.ErrWrongPipelineKind},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, tc.err, tc.want)
		}
		if !core.IsUsageError(tc.err) {
			t.Errorf("%s: %v is not a usage error", tc.name, tc.err)
		}
	}
	if rs.BoundPipeline() != nil || rs.BoundComputePipeline() != nil {
		t.Errorf("failed binds changed the bound pipelines")
	}
}

func TestPipelineIdentifiers(t *testing.T) {
	rs, _ := newTestSystem(t)
	a := graphicsPipeline(t, rs, "a")
	b := graphicsPipeline(t, rs, "b")
	if a.ID == b.ID {
		t.Fatalf("pipelines share id %d", a.ID)
	}
	if got := rs.Context().Pipeline(b.ID); got != b {
		t.Fatalf("Pipeline(%d): got %v, want b", b.ID, got)
	}

	// re-issuing a creation keeps the registration
	id := a.ID
	if err := rs.NotifyPipelineCreated(a); err != nil {
		t.Fatalf("NotifyPipelineCreated again: %v", err)
	}
	if a.ID != id {
		t.Fatalf("id changed on re-issue: %d -> %d", id, a.ID)
	}

	if err := rs.NotifyPipelineDestroyed(a); err != nil {
		t.Fatalf("NotifyPipelineDestroyed: %v", err)
	}
	if rs.Context().Pipeline(id) != nil {
		t.Fatalf("destroyed pipeline still resolvable")
	}
	c := graphicsPipeline(t, rs, "c")
	if c.ID != id {
		t.Errorf("released id not reused: got %d, want %d", c.ID, id)
	}
}

func TestComputePipelineDestroyUnbinds(t *testing.T) {
	rs, _ := newTestSystem(t)
	cs := computePipeline(t, rs, "cs")
	if err := rs.SetComputePSO(cs); err != nil {
		t.Fatalf("SetComputePSO: %v", err)
	}
	if err := rs.NotifyComputePipelineDestroyed(cs); err != nil {
		t.Fatalf("NotifyComputePipelineDestroyed: %v", err)
	}
	if rs.BoundComputePipeline() != nil {
		t.Fatalf("destroyed compute pipeline is still bound")
	}
	beginFrame(t, rs)
	if err := rs.Dispatch(); !errors.Is(err, core.ErrNoPipelineBound) {
		t.Fatalf("Dispatch: got %v, want ErrNoPipelineBound", err)
	}
}

func TestSamplerblocksShareNativeState(t *testing.T) {
	rs, drv := newTestSystem(t)
	dev := drv.Device()
	desc := metadata.SamplerDescriptor{
		MinFilter: metadata.FilterOptionLinear,
		MagFilter: metadata.FilterOptionLinear,
		MipFilter: metadata.FilterOptionLinear,
		MaxLod:    16,
	}
	a := &metadata.Samplerblock{Descriptor: desc}
	b := &metadata.Samplerblock{Descriptor: desc}
	for _, block := range []*metadata.Samplerblock{a, b} {
		if err := rs.NotifySamplerblockCreated(block); err != nil {
			t.Fatalf("NotifySamplerblockCreated: %v", err)
		}
	}
	if a.ID == b.ID {
		t.Errorf("samplerblocks share id %d", a.ID)
	}
	if n := dev.Live(headless.KIND_SAMPLER); n != 1 {
		t.Fatalf("native samplers: got %d, want 1", n)
	}
	if n := rs.Context().SamplerStates().RefCount(desc); n != 2 {
		t.Fatalf("sampler references: got %d, want 2", n)
	}

	for _, block := range []*metadata.Samplerblock{a, b} {
		if err := rs.NotifySamplerblockDestroyed(block); err != nil {
			t.Fatalf("NotifySamplerblockDestroyed: %v", err)
		}
	}
	if n := dev.Live(headless.KIND_SAMPLER); n != 0 {
		t.Fatalf("native samplers after destroy: got %d, want 0", n)
	}
	if err := rs.NotifySamplerblockDestroyed(a); !errors.Is(err, core.ErrStateNotCached) {
		t.Fatalf("double destroy: got %v, want ErrStateNotCached", err)
	}
}

func TestSamplerblockAnisotropyClamped(t *testing.T) {
	caps := capsWith(func(caps *driver.Capabilities) { caps.MaxAnisotropy = 8 })
	rs, _ := newTestSystemWith(t, headless.Options{Manual: true, Capabilities: caps}, testConfig())

	block := &metadata.Samplerblock{Descriptor: metadata.SamplerDescriptor{
		MinFilter:     metadata.FilterOptionAnisotropic,
		MagFilter:     metadata.FilterOptionAnisotropic,
		MaxAnisotropy: 64,
	}}
	if err := rs.NotifySamplerblockCreated(block); err != nil {
		t.Fatalf("NotifySamplerblockCreated: %v", err)
	}
	if block.Descriptor.MaxAnisotropy != 8 {
		t.Fatalf("anisotropy: got %.0f, want 8", block.Descriptor.MaxAnisotropy)
	}
	state, err := rs.Context().samplerState(block)
	if err != nil {
		t.Fatalf("samplerState: %v", err)
	}
	if state.Descriptor().MaxAnisotropy != 8 {
		t.Fatalf("native sampler anisotropy: got %.0f, want 8", state.Descriptor().MaxAnisotropy)
	}
}
