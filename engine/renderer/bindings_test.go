package renderer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/headless"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

func TestSamplingARenderTargetInterruptsThePass(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	colour := newTexture("colour")
	albedo := newTexture("albedo")
	stripSetup(t, rs)

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", colour, metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	drawStrip(t, rs)

	if err := rs.SetTextures(0, []*metadata.Texture{albedo}); err != nil {
		t.Fatalf("SetTextures: %v", err)
	}
	if rs.EncoderState() != ENCODER_STATE_RENDER {
		t.Fatalf("an unrelated texture interrupted the pass")
	}
	if err := rs.SetTextures(1, []*metadata.Texture{colour}); err != nil {
		t.Fatalf("SetTextures: %v", err)
	}
	if rs.EncoderState() != ENCODER_STATE_INTERRUPTED {
		t.Fatalf("state after sampling an attachment: %s", rs.EncoderState())
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	cbs := drv.Device().CommandBuffers()
	calls := cbs[0].Calls()
	want := []headless.Op{
		headless.OP_BEGIN_RENDER, headless.OP_DRAW, headless.OP_SET_TEXTURE, headless.OP_END_RENDER,
		headless.OP_BEGIN_RENDER, headless.OP_SET_TEXTURE, headless.OP_SET_TEXTURE, headless.OP_DRAW, headless.OP_END_RENDER,
	}
	got := opsOf(calls, headless.OP_BEGIN_RENDER, headless.OP_END_RENDER, headless.OP_SET_TEXTURE, headless.OP_DRAW)
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	textures := callsOf(calls, headless.OP_SET_TEXTURE)
	if textures[2].Slot != 1 || textures[2].Texture != colour {
		t.Errorf("replayed binding: slot %d texture %v", textures[2].Slot, textures[2].Texture)
	}
}

func TestStencilReferenceSurvivesEncoderChanges(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "stencilled")
	stripSetup(t, rs)

	rs.SetStencilBufferParams(7, metadata.StencilParams{Enabled: true, ReadMask: 0xFF, WriteMask: 0xFF})
	ref, params := rs.StencilBufferParams()
	if ref != 7 || !params.Enabled {
		t.Fatalf("StencilBufferParams: got %d %+v", ref, params)
	}

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.Interrupt(false); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	drawStrip(t, rs)
	rs.SetStencilBufferParams(9, metadata.StencilParams{Enabled: true})
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	refs := callsOf(drv.Device().Calls(), headless.OP_SET_STENCIL_REF)
	if len(refs) != 3 {
		t.Fatalf("stencil reference sets: got %d, want 3", len(refs))
	}
	for i, want := range []uint32{7, 7, 9} {
		if refs[i].Value != want {
			t.Errorf("stencil reference %d: got %d, want %d", i, refs[i].Value, want)
		}
	}
}

func TestStencilDisabledIsNotApplied(t *testing.T) {
	rs, drv := newTestSystem(t)
	rs.SetStencilBufferParams(3, metadata.StencilParams{})
	beginFrame(t, rs)
	if err := rs.ClearFrameBuffer(colourPass("clear", newTexture("c"), metadata.LoadActionClear)); err != nil {
		t.Fatalf("ClearFrameBuffer: %v", err)
	}
	endFrame(t, rs)
	if n := len(callsOf(drv.Device().Calls(), headless.OP_SET_STENCIL_REF)); n != 0 {
		t.Fatalf("stencil reference sets: got %d, want 0", n)
	}
}

func TestBindAutoParams(t *testing.T) {
	rs, drv := newTestSystem(t)
	pso := graphicsPipeline(t, rs, "opaque")
	stripSetup(t, rs)

	if _, err := rs.BindAutoParams(0, []byte{1}); !errors.Is(err, core.ErrFrameNotBegun) {
		t.Fatalf("outside a frame: got %v, want ErrFrameNotBegun", err)
	}

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.SetPipelineStateObject(pso); err != nil {
		t.Fatalf("SetPipelineStateObject: %v", err)
	}
	drawStrip(t, rs)

	camera := bytes.Repeat([]byte{0xAB}, 100)
	object := bytes.Repeat([]byte{0xCD}, 64)
	w1, err := rs.BindAutoParams(0, camera)
	if err != nil {
		t.Fatalf("BindAutoParams: %v", err)
	}
	w2, err := rs.BindAutoParams(1, object)
	if err != nil {
		t.Fatalf("BindAutoParams: %v", err)
	}
	if w1.Size != 256 || w1.Offset != 0 || w2.Offset != 256 || w1.Buffer != w2.Buffer {
		t.Fatalf("windows: %+v then %+v", w1, w2)
	}
	if !bytes.Equal(w1.Buffer.Data[:100], camera) || !bytes.Equal(w2.Buffer.Data[256:256+64], object) {
		t.Fatalf("parameter data was not copied into the buffer")
	}

	if _, err := rs.BindAutoParams(MAX_BUFFER_SLOTS, camera); !errors.Is(err, core.ErrSlotOutOfRange) {
		t.Errorf("slot out of range: got %v, want ErrSlotOutOfRange", err)
	}
	if _, err := rs.BindAutoParams(0, make([]byte, 128*1024)); !errors.Is(err, core.ErrAutoParamsTooLarge) {
		t.Errorf("oversized: got %v, want ErrAutoParamsTooLarge", err)
	}
	if rs.FrameError() != nil {
		t.Fatalf("usage errors must not abort the frame")
	}

	if err := rs.Interrupt(false); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	drawStrip(t, rs)
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	// bound live, then replayed on the resumed encoder
	sets := callsOf(drv.Device().Calls(), headless.OP_SET_BUFFER)
	if len(sets) != 4 {
		t.Fatalf("buffer binds: got %d, want 4", len(sets))
	}
	if sets[2].Slot != 0 || sets[3].Slot != 1 || sets[3].Offset != 256 {
		t.Errorf("replayed binds: %+v %+v", sets[2], sets[3])
	}
}

func TestBindAutoParamsCompute(t *testing.T) {
	rs, drv := newTestSystem(t)
	cs := computePipeline(t, rs, "cs")
	if err := rs.SetComputePSO(cs); err != nil {
		t.Fatalf("SetComputePSO: %v", err)
	}
	beginFrame(t, rs)
	if _, err := rs.BindAutoParamsCS(2, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("BindAutoParamsCS: %v", err)
	}
	if err := rs.Dispatch(); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	endFrame(t, rs)

	calls := drv.Device().Calls()
	want := []headless.Op{headless.OP_BEGIN_COMPUTE, headless.OP_SET_PIPELINE, headless.OP_SET_BUFFER, headless.OP_DISPATCH, headless.OP_END_COMPUTE}
	got := opsOf(calls, want...)
	if !equalOps(got, want) {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	if callsOf(calls, headless.OP_SET_BUFFER)[0].Slot != 2 {
		t.Errorf("compute buffer slot: got %d, want 2", callsOf(calls, headless.OP_SET_BUFFER)[0].Slot)
	}
}

func TestBindingSlotLimits(t *testing.T) {
	rs, _ := newTestSystem(t)
	two := []*metadata.Texture{newTexture("a"), newTexture("b")}

	if err := rs.SetTextures(MAX_TEXTURE_SLOTS-1, two); !errors.Is(err, core.ErrSlotOutOfRange) {
		t.Errorf("SetTextures: got %v, want ErrSlotOutOfRange", err)
	}
	if err := rs.SetTexturesCS(MAX_TEXTURE_SLOTS, two[:1]); !errors.Is(err, core.ErrSlotOutOfRange) {
		t.Errorf("SetTexturesCS: got %v, want ErrSlotOutOfRange", err)
	}
	if err := rs.SetSamplers(MAX_SAMPLER_SLOTS, []*metadata.Samplerblock{nil}); !errors.Is(err, core.ErrSlotOutOfRange) {
		t.Errorf("SetSamplers: got %v, want ErrSlotOutOfRange", err)
	}
	uav := newTexture("uav")
	uav.Flags = metadata.TextureFlagIsUav
	if err := rs.SetUAVsCS(MAX_UAV_SLOTS, []*metadata.Texture{uav}); !errors.Is(err, core.ErrSlotOutOfRange) {
		t.Errorf("SetUAVsCS: got %v, want ErrSlotOutOfRange", err)
	}
	if err := rs.SetTextures(MAX_TEXTURE_SLOTS-2, two); err != nil {
		t.Errorf("SetTextures on the last slots: %v", err)
	}
}

func TestUAVRequiresFlag(t *testing.T) {
	rs, drv := newTestSystem(t)
	cs := computePipeline(t, rs, "cs")
	if err := rs.SetComputePSO(cs); err != nil {
		t.Fatalf("SetComputePSO: %v", err)
	}

	plain := newTexture("plain")
	if err := rs.SetUAVsCS(0, []*metadata.Texture{plain}); !errors.Is(err, core.ErrUnsupportedCommand) {
		t.Fatalf("UAV without flag: got %v, want ErrUnsupportedCommand", err)
	}

	uav := newTexture("uav")
	uav.Flags = metadata.TextureFlagIsUav | metadata.TextureFlagIsWriteable
	beginFrame(t, rs)
	if err := rs.SetUAVsCS(0, []*metadata.Texture{uav}); err != nil {
		t.Fatalf("SetUAVsCS: %v", err)
	}
	if err := rs.Dispatch(); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	endFrame(t, rs)

	uavs := callsOf(drv.Device().Calls(), headless.OP_SET_UAV)
	if len(uavs) != 1 || uavs[0].Texture != uav {
		t.Fatalf("UAV binds: %+v", uavs)
	}
}

func TestSamplerBinding(t *testing.T) {
	rs, drv := newTestSystem(t)
	block := &metadata.Samplerblock{Descriptor: metadata.SamplerDescriptor{MinFilter: metadata.FilterOptionPoint}}
	stray := &metadata.Samplerblock{}
	if err := rs.NotifySamplerblockCreated(block); err != nil {
		t.Fatalf("NotifySamplerblockCreated: %v", err)
	}
	if err := rs.SetSamplers(0, []*metadata.Samplerblock{stray}); !errors.Is(err, core.ErrStateNotCached) {
		t.Fatalf("unregistered block: got %v, want ErrStateNotCached", err)
	}

	beginFrame(t, rs)
	if err := rs.BeginRenderPass(colourPass("main", newTexture("c"), metadata.LoadActionClear), nil, nil); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := rs.ExecuteDelayedActions(); err != nil {
		t.Fatalf("ExecuteDelayedActions: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := rs.SetSamplers(3, []*metadata.Samplerblock{block}); err != nil {
			t.Fatalf("SetSamplers: %v", err)
		}
	}
	if err := rs.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass: %v", err)
	}
	endFrame(t, rs)

	samplers := callsOf(drv.Device().Calls(), headless.OP_SET_SAMPLER)
	if len(samplers) != 1 || samplers[0].Slot != 3 {
		t.Fatalf("sampler binds: %+v", samplers)
	}
	if samplers[0].Sampler.Descriptor().MinFilter != metadata.FilterOptionPoint {
		t.Errorf("bound sampler has the wrong descriptor")
	}
}
