package renderer

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/headless"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

func TestRenderPassDrawSequence(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	colour := newTexture("colour")

	beginFrame(t, rs)
	if rs.EncoderState() != ENCODER_STATE_NONE {
		t.Fatalf("state after BeginFrame: %s", rs.EncoderState())
	}
	vp := []metadata.Viewport{{Width: 64, Height: 64, MaxDepth: 1}}
	if err := rs.BeginRenderPass(colourPass("main", colour, metadata.LoadActionClear), vp, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if rs.PendingActions() == 0 {
		t.Fatalf("BeginRenderPass should only queue actions")
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	drawStrip(t, rs)
	if rs.EncoderState() != ENCODER_STATE_RENDER {
		t.Fatalf("state after draw: %s", rs.EncoderState())
	}
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)
	if rs.EncoderState() != ENCODER_STATE_ENDED {
		t.Fatalf("state after EndFrame: %s", rs.EncoderState())
	}

	calls := drv.Device().Calls()
	want := []headless.Op{
		headless.OP_BEGIN_RENDER,
		headless.OP_SET_PIPELINE,
		headless.OP_SET_DEPTH_STENCIL,
		headless.OP_SET_VIEWPORTS,
		headless.OP_SET_VERTEX_BUFFER,
		headless.OP_DRAW,
		headless.OP_END_RENDER,
	}
	got := make([]headless.Op, 0, len(calls))
	for _, c := range calls {
		got = append(got, c.Op)
	}
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	end := callsOf(calls, headless.OP_END_RENDER)[0]
	if end.Store.Colour[0] != metadata.StoreActionStore {
		t.Errorf("final store action: got %d, want store", end.Store.Colour[0])
	}
	if !drv.Device().CommandBuffers()[0].Committed() {
		t.Errorf("frame command buffer was not committed")
	}
}

func TestDrawWithoutRenderPassAbortsFrame(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)

	beginFrame(t, rs)
	err := rs.Render(metadata.DrawCallStrip{NumDraws: 1})
	if !errors.Is(err, core.ErrNoActiveEncoder) {
		t.Fatalf("Render without a pass: got %v, want ErrNoActiveEncoder", err)
	}
	if !core.IsUsageError(err) {
		t.Errorf("ErrNoActiveEncoder should be a usage error")
	}
	if rs.FrameError() == nil {
		t.Fatalf("frame should be aborted")
	}
	if err := rs.BeginRenderPass(colourPass("late", newTexture("t"), metadata.LoadActionClear), nil, nil); !errors.Is(err, core.ErrFrameAborted) {
		t.Errorf("recording into an aborted frame: got %v, want ErrFrameAborted", err)
	}

	err = rs.EndFrame()
	if !errors.Is(err, core.ErrFrameAborted) || !errors.Is(err, core.ErrNoActiveEncoder) {
		t.Fatalf("EndFrame: got %v, want ErrFrameAborted wrapping ErrNoActiveEncoder", err)
	}
	if n := len(drv.Device().Draws()); n != 0 {
		t.Fatalf("draws recorded: %d", n)
	}

	// the slot is not lost
	drv.Device().CompleteAll()
	for i := 0; i < 5; i++ {
		beginFrame(t, rs)
		endFrame(t, rs)
		drv.Device().CompleteAll()
	}
	if rs.Stats().AbortedFrames != 1 {
		t.Errorf("aborted frames: got %d, want 1", rs.Stats().AbortedFrames)
	}
}

func TestInterruptResumesOnSameAttachments(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	colour := newTexture("colour")
	depth := newTexture("depth")
	depth.Flags = metadata.TextureFlagIsDepth

	pass := colourPass("main", colour, metadata.LoadActionClear)
	pass.Depth = metadata.DepthAttachment{Texture: depth, Load: metadata.LoadActionClear, Store: metadata.StoreActionDontCare, ClearDepth: 1}

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(pass, nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	drawStrip(t, rs)

	if err := rs.Interrupt(false); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if rs.EncoderState() != ENCODER_STATE_INTERRUPTED {
		t.Fatalf("state after Interrupt: %s", rs.EncoderState())
	}
	drawStrip(t, rs)
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	begins := callsOf(calls, headless.OP_BEGIN_RENDER)
	if len(begins) != 2 {
		t.Fatalf("render encoders: got %d, want 2", len(begins))
	}
	first, resumed := begins[0].Pass, begins[1].Pass
	if !first.SameAttachments(resumed) {
		t.Errorf("resumed encoder targets different attachments")
	}
	if first.Colour[0].Load != metadata.LoadActionClear || resumed.Colour[0].Load != metadata.LoadActionLoad {
		t.Errorf("colour load: got %d then %d, want clear then load", first.Colour[0].Load, resumed.Colour[0].Load)
	}
	if resumed.Depth.Load != metadata.LoadActionLoad {
		t.Errorf("depth should be loaded on resume, got %d", resumed.Depth.Load)
	}

	ends := callsOf(calls, headless.OP_END_RENDER)
	if ends[0].Store.Depth != metadata.StoreActionStore {
		t.Errorf("interrupted encoder must store depth, got %d", ends[0].Store.Depth)
	}
	if ends[1].Store.Depth != metadata.StoreActionDontCare {
		t.Errorf("final encoder uses the pass store action, got %d", ends[1].Store.Depth)
	}

	want := []headless.Op{
		headless.OP_BEGIN_RENDER, headless.OP_SET_PIPELINE, headless.OP_DRAW, headless.OP_END_RENDER,
		headless.OP_BEGIN_RENDER, headless.OP_SET_PIPELINE, headless.OP_DRAW, headless.OP_DRAW, headless.OP_END_RENDER,
	}
	got := opsOf(calls, headless.OP_BEGIN_RENDER, headless.OP_END_RENDER, headless.OP_SET_PIPELINE, headless.OP_DRAW)
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	if rs.Stats().Interruptions != 1 {
		t.Errorf("interruptions: got %d, want 1", rs.Stats().Interruptions)
	}
}

func TestInterruptEndingThePass(t *testing.T) {
	rs, _ := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	drawStrip(t, rs)
	if err := rs.Interrupt(true); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if rs.EncoderState() != ENCODER_STATE_NONE || rs.CurrentRenderPass() != nil {
		t.Fatalf("pass should be over, state %s", rs.EncoderState())
	}
	if err := rs.Render(metadata.DrawCallStrip{NumDraws: 1}); !errors.Is(err, core.ErrNoActiveEncoder) {
		t.Fatalf("draw after the pass ended: got %v, want ErrNoActiveEncoder", err)
	}
}

func TestInterruptWithoutStoreAndResolve(t *testing.T) {
	caps := capsWith(func(caps *driver.Capabilities) { caps.StoreAndMultisampleResolve = false })
	rs, drv := newTestSystemWith(t, headless.Options{Manual: true, Capabilities: caps}, testConfig())
	pso := graphicsPipeline(t, rs, "opaque")

	pass := colourPass("msaa", newTexture("colour"), metadata.LoadActionClear)
	pass.Colour[0].Texture.SampleCount = 4
	pass.Colour[0].ResolveTarget = newTexture("resolved")
	pass.Colour[0].Store = metadata.StoreActionStoreOrResolve

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(pass, nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	drawStrip(t, rs)
	if err := rs.Interrupt(false); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	ends := callsOf(drv.Device().Calls(), headless.OP_END_RENDER)
	if len(ends) != 2 {
		t.Fatalf("render encoders ended: got %d, want 2", len(ends))
	}
	if got := ends[0].Store.Colour[0]; got != metadata.StoreActionStore {
		t.Errorf("interrupted encoder: got store action %d, want plain store", got)
	}
	if got := ends[1].Store.Colour[0]; got != metadata.StoreActionMultisampleResolve {
		t.Errorf("final encoder: got store action %d, want resolve", got)
	}
	drv.Device().CompleteAll()
}

// Same attachments and same actions: the open encoder is kept.
func TestRenderPassSameDescriptorKeepsEncoder(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	colour := newTexture("colour")

	beginFrame(t, rs)
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	vp1 := []metadata.Viewport{{Width: 32, Height: 32}}
	vp2 := []metadata.Viewport{{X: 32, Width: 32, Height: 32}}
	if err := rs.BeginRenderPass(colourPass("left", colour, metadata.LoadActionClear), vp1, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.BeginRenderPass(colourPass("right", colour, metadata.LoadActionClear), vp2, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	if n := len(callsOf(calls, headless.OP_BEGIN_RENDER)); n != 1 {
		t.Fatalf("render encoders: got %d, want 1", n)
	}
	viewports := callsOf(calls, headless.OP_SET_VIEWPORTS)
	if len(viewports) != 2 || viewports[1].Viewports[0].X != 32 {
		t.Fatalf("viewports: got %+v", viewports)
	}
	if rs.Stats().PassesReused != 1 {
		t.Errorf("passes reused: got %d, want 1", rs.Stats().PassesReused)
	}
}

// Same attachments, different load action: the encoder is closed and reopened.
func TestRenderPassActionsOnlyChangeReopens(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	colour := newTexture("colour")

	beginFrame(t, rs)
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	if err := rs.BeginRenderPass(colourPass("clear", colour, metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.BeginRenderPass(colourPass("load", colour, metadata.LoadActionLoad), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	want := []headless.Op{
		headless.OP_BEGIN_RENDER, headless.OP_DRAW, headless.OP_END_RENDER,
		headless.OP_BEGIN_RENDER, headless.OP_DRAW, headless.OP_END_RENDER,
	}
	got := opsOf(calls, headless.OP_BEGIN_RENDER, headless.OP_END_RENDER, headless.OP_DRAW)
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	begins := callsOf(calls, headless.OP_BEGIN_RENDER)
	if begins[1].Pass.Colour[0].Load != metadata.LoadActionLoad {
		t.Errorf("second encoder load: got %d", begins[1].Pass.Colour[0].Load)
	}
	if rs.Stats().PassesReused != 0 {
		t.Errorf("passes reused: got %d, want 0", rs.Stats().PassesReused)
	}
}

func TestRenderPassAttachmentsChangeReopens(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")

	beginFrame(t, rs)
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	for _, name := range []string{"shadow", "gbuffer", "final"} {
		if err := rs.BeginRenderPass(colourPass(name, newTexture(name), metadata.LoadActionLoad), nil, nil); err != nil {
			t.Fatalf("BeginRenderPass(%s): %v", name, err)
		}
		drawStrip(t, rs)
	}
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	if n := len(callsOf(calls, headless.OP_BEGIN_RENDER)); n != 3 {
		t.Fatalf("render encoders: got %d, want 3", n)
	}
	if n := len(callsOf(calls, headless.OP_END_RENDER)); n != 3 {
		t.Fatalf("closed encoders: got %d, want 3", n)
	}
	if n := rs.Context().Framebuffers().Len(); n != 3 {
		t.Errorf("cached framebuffers: got %d, want 3", n)
	}
}

func TestUnusedRenderPassIsCoalesced(t *testing.T) {
	cases := []struct {
		name     string
		load     metadata.LoadAction
		encoders int
	}{
		{"load", metadata.LoadActionLoad, 1},
		{"clear", metadata.LoadActionClear, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs, drv := newTestSystem(t)
			pso := graphicsPipeline(t, rs, "opaque")

			beginFrame(t, rs)
			if err := rs.SetPipelineStateObject(pso); err != nil {
				t.Fatalf("SetPipelineStateObject: %v", err)
			}
			stripSetup(t, rs)
			if err := rs.BeginRenderPass(colourPass("unused", newTexture("a"), tc.load), nil, nil); err != nil {
				t.Fatalf("BeginRenderPass: %v", err)
			}
			if err := rs.BeginRenderPass(colourPass("used", newTexture("b"), metadata.LoadActionLoad), nil, nil); err != nil {
				t.Fatalf("BeginRenderPass: %v", err)
			}
			drawStrip(t, rs)
			if err := rs.EndRenderPass(); err != nil {
				t.Fatalf("EndRenderPass: %v", err)
			}
			endFrame(t, rs)

			if n := len(callsOf(drv.Device().Calls(), headless.OP_BEGIN_RENDER)); n != tc.encoders {
				t.Fatalf("render encoders: got %d, want %d", n, tc.encoders)
			}
		})
	}
}

func TestComputeInterleavesWithRenderPass(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	cs := computePipeline(t, rs, "cull")

	beginFrame(t, rs)
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	if err := rs.SetComputePSO(cs); err != nil {
		t.Fatalf("SetComputePSO: %v", err)
	}
	stripSetup(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.Dispatch(); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rs.EncoderState() != ENCODER_STATE_COMPUTE {
		t.Fatalf("state after Dispatch: %s", rs.EncoderState())
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	want := []headless.Op{
		headless.OP_BEGIN_RENDER, headless.OP_DRAW, headless.OP_END_RENDER,
		headless.OP_BEGIN_COMPUTE, headless.OP_DISPATCH, headless.OP_END_COMPUTE,
		headless.OP_BEGIN_RENDER, headless.OP_DRAW, headless.OP_END_RENDER,
	}
	got := opsOf(drv.Device().Calls(),
		headless.OP_BEGIN_RENDER, headless.OP_END_RENDER, headless.OP_BEGIN_COMPUTE,
		headless.OP_END_COMPUTE, headless.OP_DRAW, headless.OP_DISPATCH)
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
}

func TestFlushCommandsSplitsCommandBuffers(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")

	beginFrame(t, rs)
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	stripSetup(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.FlushCommands(); err != nil {
		t.Fatalf("FlushCommands: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	cbs := drv.Device().CommandBuffers()
	if len(cbs) != 2 {
		t.Fatalf("command buffers: got %d, want 2", len(cbs))
	}
	for i, cb := range cbs {
		if !cb.Committed() {
			t.Errorf("command buffer %d not committed", i)
		}
		if n := len(callsOf(cb.Calls(), headless.OP_DRAW)); n != 1 {
			t.Errorf("command buffer %d: got %d draws, want 1", i, n)
		}
	}
	resumed := callsOf(cbs[1].Calls(), headless.OP_BEGIN_RENDER)[0]
	if resumed.Pass.Colour[0].Load != metadata.LoadActionLoad {
		t.Errorf("second command buffer must load the attachment")
	}
}

func TestClearFrameBuffer(t *testing.T) {
	rs, drv := newTestSystem(t)
	beginFrame(t, rs)
	if err := rs.ClearFrameBuffer(colourPass("clear", newTexture("c"), metadata.LoadActionClear)); err != nil {
		t.Fatalf("ClearFrameBuffer: %v", err)
	}
	if rs.CurrentRenderPass() != nil {
		t.Fatalf("ClearFrameBuffer left a pass active")
	}
	endFrame(t, rs)

	got := opsOf(drv.Device().Calls(), headless.OP_BEGIN_RENDER, headless.OP_END_RENDER)
	want := []headless.Op{headless.OP_BEGIN_RENDER, headless.OP_END_RENDER}
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
}

func TestBeginRenderPassValidation(t *testing.T) {
	rs, _ := newTestSystem(t)
	if err := rs.BeginRenderPass(colourPass("early", newTexture("c"), metadata.LoadActionClear), nil, nil); !errors.Is(err, core.ErrFrameNotBegun) {
		t.Fatalf("outside a frame: got %v, want ErrFrameNotBegun", err)
	}
	beginFrame(t, rs)
	if err := rs.BeginRenderPass(&metadata.RenderPassDescriptor{Name: "empty"}, nil, nil); !errors.Is(err, core.ErrInvalidRenderPass) {
		t.Fatalf("empty pass: got %v, want ErrInvalidRenderPass", err)
	}
	if err := rs.BeginRenderPass(nil, nil, nil); !errors.Is(err, core.ErrInvalidRenderPass) {
		t.Fatalf("nil pass: got %v, want ErrInvalidRenderPass", err)
	}
	if rs.FrameError() != nil {
		t.Fatalf("an invalid descriptor must not abort the frame")
	}
	endFrame(t, rs)
}

func TestEncoderAlwaysOpenDuringDraws(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	cs := computePipeline(t, rs, "post")
	textures := []*metadata.Texture{newTexture("a"), newTexture("b")}

	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	if err := rs.SetComputePSO(cs); err != nil {
		t.Fatalf("SetComputePSO: %v", err)
	}
	stripSetup(t, rs)
	for frame := 0; frame < 10; frame++ {
		beginFrame(t, rs)
		for i := 0; i < 6; i++ {
			pass := colourPass("pass", textures[i%2], metadata.LoadAction(i%3))
			if err := rs.BeginRenderPass(pass, nil, nil); err != nil {
				t.Fatalf("BeginRenderPass: %v", err)
			}
			drawStrip(t, rs)
			switch i % 3 {
			case 0:
				if err := rs.Dispatch(); err != nil {
					t.Fatalf("Dispatch: %v", err)
				}
				drawStrip(t, rs)
			case 1:
				if err := rs.Interrupt(false); err != nil {
					t.Fatalf("Interrupt: %v", err)
				}
				drawStrip(t, rs)
			}
			if err := rs.EndRenderPass(); err != nil {
				t.Fatalf("EndRenderPass: %v", err)
			}
		}
		endFrame(t, rs)
		drv.Device().CompleteAll()
	}

	// every draw lands between a begin and an end of a render encoder
	open := false
	for _, c := range drv.Device().Calls() {
		switch c.Op {
		case headless.OP_BEGIN_RENDER:
			if open {
				t.Fatalf("render encoder opened twice")
			}
			open = true
		case headless.OP_END_RENDER:
			open = false
		case headless.OP_DRAW:
			if !open {
				t.Fatalf("draw outside of a render encoder")
			}
		}
	}
	if n := len(drv.Device().Draws()); n != 10*(6+2+2) {
		t.Fatalf("draws: got %d, want %d", n, 10*(6+2+2))
	}
}
