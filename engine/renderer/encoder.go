package renderer

import (
	"fmt"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

type EncoderState uint8

const (
	// No encoder open and no render pass to resume.
	ENCODER_STATE_NONE EncoderState = iota
	ENCODER_STATE_RENDER
	ENCODER_STATE_COMPUTE
	// The render encoder was closed early; the next draw reopens it on the same attachments.
	ENCODER_STATE_INTERRUPTED
	// The frame's command buffer was committed.
	ENCODER_STATE_ENDED
)

func (s EncoderState) String() string {
	switch s {
	case ENCODER_STATE_NONE:
		return "none"
	case ENCODER_STATE_RENDER:
		return "render"
	case ENCODER_STATE_COMPUTE:
		return "compute"
	case ENCODER_STATE_INTERRUPTED:
		return "interrupted"
	case ENCODER_STATE_ENDED:
		return "ended"
	}
	return fmt.Sprintf("encoder_state(%d)", uint8(s))
}

type pendingKind uint8

const (
	PENDING_OPEN pendingKind = iota
	PENDING_VIEWPORTS
	PENDING_CLOSE
)

type pendingAction struct {
	kind      pendingKind
	pass      *metadata.RenderPassDescriptor
	store     metadata.StoreActions
	viewports []metadata.Viewport
	scissors  []metadata.Rect
}

func (rs *RenderSystem) EncoderState() EncoderState {
	return rs.state
}

// CurrentRenderPass returns the most recently begun pass, nil when none is active.
func (rs *RenderSystem) CurrentRenderPass() *metadata.RenderPassDescriptor {
	return rs.currentPass
}

// PendingActions returns how many encoder actions wait for ExecuteDelayedActions.
func (rs *RenderSystem) PendingActions() int {
	return len(rs.pending)
}

func clonePass(desc *metadata.RenderPassDescriptor) *metadata.RenderPassDescriptor {
	c := *desc
	c.Colour = make([]metadata.ColourAttachment, len(desc.Colour))
	copy(c.Colour, desc.Colour)
	return &c
}

func hasClear(desc *metadata.RenderPassDescriptor) bool {
	for _, c := range desc.Colour {
		if c.Load == metadata.LoadActionClear {
			return true
		}
	}
	return desc.Depth.Load == metadata.LoadActionClear || desc.Stencil.Load == metadata.LoadActionClear
}

// lastPendingOpen returns the index of a queued open not followed by a close, or -1.
func (rs *RenderSystem) lastPendingOpen() int {
	for i := len(rs.pending) - 1; i >= 0; i-- {
		switch rs.pending[i].kind {
		case PENDING_CLOSE:
			return -1
		case PENDING_OPEN:
			return i
		}
	}
	return -1
}

/**
 * @brief Requests rendering into desc. Nothing is issued to the device yet:
 * the encoder changes are queued and executed by ExecuteDelayedActions, the
 * next draw or EndRenderPass.
 *
 * A descriptor with the same attachments and the same load/store actions as
 * the active pass keeps the encoder and only updates viewports and scissors.
 * Any other difference, including actions only, closes the active encoder with
 * its final store actions and opens a new one.
 */
func (rs *RenderSystem) BeginRenderPass(desc *metadata.RenderPassDescriptor, viewports []metadata.Viewport, scissors []metadata.Rect) error {
	if err := rs.checkFrame(); err != nil {
		return err
	}
	if desc == nil || !desc.Validate() {
		err := fmt.Errorf("render system '%s': %w", rs.name, core.ErrInvalidRenderPass)
		core.LogError(err.Error())
		return err
	}
	if len(desc.Colour) > int(rs.caps.MaxColourAttachments) && rs.caps.MaxColourAttachments > 0 {
		err := fmt.Errorf("render system '%s': %d colour attachments, device supports %d: %w",
			rs.name, len(desc.Colour), rs.caps.MaxColourAttachments, core.ErrInvalidRenderPass)
		core.LogError(err.Error())
		return err
	}

	vps := append([]metadata.Viewport(nil), viewports...)
	scs := append([]metadata.Rect(nil), scissors...)

	if rs.currentPass != nil && desc.SameAttachments(rs.currentPass) && desc.SameActions(rs.currentPass) {
		rs.viewports, rs.scissors = vps, scs
		rs.pending = append(rs.pending, pendingAction{kind: PENDING_VIEWPORTS, viewports: vps, scissors: scs})
		rs.stats.PassesReused++
		core.LogDebug("render pass '%s' continues on the open encoder", desc.Name)
		return nil
	}

	if rs.currentPass != nil {
		rs.queueClose()
	}
	pass := clonePass(desc)
	rs.currentPass = pass
	rs.viewports, rs.scissors = vps, scs
	rs.pending = append(rs.pending,
		pendingAction{kind: PENDING_OPEN, pass: pass},
		pendingAction{kind: PENDING_VIEWPORTS, viewports: vps, scissors: scs})
	return nil
}

// queueClose closes the active pass with its final store actions. A pass that
// was never opened and has nothing to clear is dropped instead.
func (rs *RenderSystem) queueClose() {
	if i := rs.lastPendingOpen(); i >= 0 {
		if !hasClear(rs.pending[i].pass) {
			rs.pending = rs.pending[:i]
			return
		}
	} else if rs.state != ENCODER_STATE_RENDER {
		// interrupted or never opened: the encoder is already closed
		return
	}
	rs.pending = append(rs.pending, pendingAction{
		kind:  PENDING_CLOSE,
		store: rs.currentPass.FinalStoreActions(rs.caps.StoreAndMultisampleResolve),
	})
}

/**
 * @brief Ends the active render pass. The encoder is closed with the pass's
 * final store actions.
 */
func (rs *RenderSystem) EndRenderPass() error {
	if err := rs.checkFrame(); err != nil {
		return err
	}
	if rs.currentPass == nil {
		core.LogDebug("render system '%s': EndRenderPass without an active pass", rs.name)
		return nil
	}
	rs.queueClose()
	if err := rs.ExecuteDelayedActions(); err != nil {
		return err
	}
	rs.currentPass = nil
	if rs.state != ENCODER_STATE_COMPUTE {
		rs.state = ENCODER_STATE_NONE
	}
	return nil
}

/**
 * @brief Issues the queued encoder actions in order: closes, opens and
 * viewport updates.
 */
func (rs *RenderSystem) ExecuteDelayedActions() error {
	if rs.frameErr != nil {
		rs.pending = rs.pending[:0]
		return fmt.Errorf("%w: %w", core.ErrFrameAborted, rs.frameErr)
	}
	pending := rs.pending
	rs.pending = nil
	for _, a := range pending {
		switch a.kind {
		case PENDING_CLOSE:
			rs.endRenderEncoder(a.store)
			rs.state = ENCODER_STATE_NONE
		case PENDING_OPEN:
			if err := rs.openRenderEncoder(a.pass, false); err != nil {
				return rs.abortFrame(err)
			}
		case PENDING_VIEWPORTS:
			if rs.renderEncoder != nil {
				rs.applyViewports(rs.renderEncoder, a.viewports, a.scissors)
			}
		}
	}
	rs.pending = pending[:0]
	return nil
}

func (rs *RenderSystem) applyViewports(enc driver.RenderEncoder, viewports []metadata.Viewport, scissors []metadata.Rect) {
	if len(viewports) > 0 {
		enc.SetViewports(viewports)
	}
	if len(scissors) > 0 {
		enc.SetScissors(scissors)
	}
}

func (rs *RenderSystem) openRenderEncoder(pass *metadata.RenderPassDescriptor, resume bool) error {
	if rs.renderEncoder != nil {
		// close-before-open
		core.LogWarn("render system '%s': render encoder still open, interrupting it", rs.name)
		rs.endRenderEncoder(rs.interruptStoreActions())
	}
	rs.endComputeEncoder()

	cb, err := rs.ensureCommandBuffer()
	if err != nil {
		return err
	}
	fb, err := rs.ctx.framebuffers.Get(pass)
	if err != nil {
		err = fmt.Errorf("render system '%s': framebuffer for '%s': %w", rs.name, pass.Name, err)
		core.LogError(err.Error())
		return rs.deviceError(err)
	}
	enc, err := cb.BeginRenderEncoder(fb, pass)
	if err != nil {
		err = fmt.Errorf("render system '%s': render encoder for '%s': %w", rs.name, pass.Name, err)
		core.LogError(err.Error())
		return rs.deviceError(err)
	}
	rs.renderEncoder = enc
	rs.state = ENCODER_STATE_RENDER
	rs.stats.RenderEncoders++
	core.LogDebug("render system '%s': render encoder opened for '%s'", rs.name, pass.Name)
	if resume {
		rs.applyViewports(enc, rs.viewports, rs.scissors)
	}
	rs.replayRenderState(enc)
	return nil
}

// replayRenderState rebinds everything recorded so far; a new native encoder
// starts without state.
func (rs *RenderSystem) replayRenderState(enc driver.RenderEncoder) {
	if rs.pso != nil {
		enc.SetPipeline(rs.pso)
	}
	if rs.depthStencil != nil {
		enc.SetDepthStencilState(rs.depthStencil)
	}
	if rs.stencilParams.Enabled {
		enc.SetStencilReference(rs.stencilRef)
	}
	for i, tex := range rs.textures {
		if tex != nil {
			enc.SetTexture(uint32(i), tex)
		}
	}
	for i, s := range rs.samplers {
		if s != nil {
			enc.SetSampler(uint32(i), s)
		}
	}
	for i, b := range rs.buffers {
		if b.Buffer != nil {
			enc.SetBuffer(uint32(i), b.Buffer, b.Offset)
		}
	}
	rs.vertexDirty = true
}

func (rs *RenderSystem) replayComputeState(enc driver.ComputeEncoder) {
	if rs.computePSO != nil {
		enc.SetPipeline(rs.computePSO)
	}
	for i, tex := range rs.csTextures {
		if tex != nil {
			enc.SetTexture(uint32(i), tex)
		}
	}
	for i, s := range rs.csSamplers {
		if s != nil {
			enc.SetSampler(uint32(i), s)
		}
	}
	for i, b := range rs.csBuffers {
		if b.Buffer != nil {
			enc.SetBuffer(uint32(i), b.Buffer, b.Offset)
		}
	}
	for i, tex := range rs.csUAVs {
		if tex != nil {
			enc.SetUAV(uint32(i), tex)
		}
	}
}

func (rs *RenderSystem) interruptStoreActions() metadata.StoreActions {
	if !rs.caps.StoreAndMultisampleResolve && !rs.storeResolveLogged {
		for _, c := range rs.currentPass.Colour {
			if c.ResolveTarget != nil {
				core.LogWarn("render system '%s': device '%s' cannot store and resolve, interrupted passes skip the resolve", rs.name, rs.caps.DeviceName)
				rs.storeResolveLogged = true
				break
			}
		}
	}
	return rs.currentPass.InterruptStoreActions(rs.caps.StoreAndMultisampleResolve)
}

func (rs *RenderSystem) endRenderEncoder(store metadata.StoreActions) {
	if rs.renderEncoder == nil {
		return
	}
	rs.renderEncoder.EndEncoding(store)
	rs.renderEncoder = nil
}

func (rs *RenderSystem) endComputeEncoder() {
	if rs.computeEncoder == nil {
		return
	}
	rs.computeEncoder.EndEncoding()
	rs.computeEncoder = nil
	if rs.state == ENCODER_STATE_COMPUTE {
		if rs.currentPass != nil {
			rs.state = ENCODER_STATE_INTERRUPTED
		} else {
			rs.state = ENCODER_STATE_NONE
		}
	}
}

/**
 * @brief Closes the open encoder before its work is complete, e.g. because a
 * resource it writes must be read or a compute dispatch has to run. An
 * interrupted render pass resumes on the next draw with the same attachments.
 * When callerEndsRenderPassToo is set the pass is finished instead.
 */
func (rs *RenderSystem) Interrupt(callerEndsRenderPassToo bool) error {
	if err := rs.ExecuteDelayedActions(); err != nil {
		return err
	}
	if rs.renderEncoder != nil {
		if callerEndsRenderPassToo {
			rs.endRenderEncoder(rs.currentPass.FinalStoreActions(rs.caps.StoreAndMultisampleResolve))
			rs.currentPass = nil
			rs.state = ENCODER_STATE_NONE
		} else {
			rs.endRenderEncoder(rs.interruptStoreActions())
			rs.state = ENCODER_STATE_INTERRUPTED
		}
		rs.stats.Interruptions++
		core.LogDebug("render system '%s': render encoder interrupted (ends pass: %t)", rs.name, callerEndsRenderPassToo)
	}
	if rs.computeEncoder != nil {
		rs.endComputeEncoder()
		if callerEndsRenderPassToo {
			rs.currentPass = nil
			rs.state = ENCODER_STATE_NONE
		}
	}
	return nil
}

// ensureRenderEncoder returns the encoder draws go to, resuming an interrupted pass.
func (rs *RenderSystem) ensureRenderEncoder() (driver.RenderEncoder, error) {
	if err := rs.checkFrame(); err != nil {
		return nil, err
	}
	if err := rs.ExecuteDelayedActions(); err != nil {
		return nil, err
	}
	if rs.state == ENCODER_STATE_COMPUTE {
		rs.endComputeEncoder()
	}
	switch rs.state {
	case ENCODER_STATE_RENDER:
		return rs.renderEncoder, nil
	case ENCODER_STATE_INTERRUPTED:
		if err := rs.openRenderEncoder(rs.currentPass.ForResume(), true); err != nil {
			return nil, rs.abortFrame(err)
		}
		core.LogDebug("render system '%s': render pass '%s' resumed", rs.name, rs.currentPass.Name)
		return rs.renderEncoder, nil
	}
	err := fmt.Errorf("render system '%s': draw in state %s: %w", rs.name, rs.state, core.ErrNoActiveEncoder)
	core.LogError(err.Error())
	return nil, rs.abortFrame(err)
}

// ensureComputeEncoder interrupts an open render pass and opens a compute encoder.
func (rs *RenderSystem) ensureComputeEncoder() (driver.ComputeEncoder, error) {
	if err := rs.checkFrame(); err != nil {
		return nil, err
	}
	if rs.computeEncoder != nil {
		return rs.computeEncoder, nil
	}
	if err := rs.Interrupt(false); err != nil {
		return nil, err
	}
	cb, err := rs.ensureCommandBuffer()
	if err != nil {
		return nil, rs.abortFrame(err)
	}
	enc, err := cb.BeginComputeEncoder()
	if err != nil {
		err = fmt.Errorf("render system '%s': compute encoder: %w", rs.name, err)
		core.LogError(err.Error())
		return nil, rs.abortFrame(rs.deviceError(err))
	}
	rs.computeEncoder = enc
	rs.state = ENCODER_STATE_COMPUTE
	rs.stats.ComputeEncoders++
	core.LogDebug("render system '%s': compute encoder opened", rs.name)
	rs.replayComputeState(enc)
	return enc, nil
}

/**
 * @brief Commits the commands recorded so far without ending the frame. An
 * open render pass is interrupted and resumes in the next command buffer.
 */
func (rs *RenderSystem) FlushCommands() error {
	if err := rs.checkFrame(); err != nil {
		return err
	}
	if err := rs.Interrupt(false); err != nil {
		return err
	}
	if rs.commandBuffer == nil {
		return nil
	}
	cb := rs.commandBuffer
	rs.commandBuffer = nil
	if err := cb.Commit(); err != nil {
		err = fmt.Errorf("render system '%s': flush: %w", rs.name, err)
		core.LogError(err.Error())
		return rs.abortFrame(rs.deviceError(err))
	}
	return nil
}

/**
 * @brief Clears the attachments of desc by opening and closing an encoder on it.
 */
func (rs *RenderSystem) ClearFrameBuffer(desc *metadata.RenderPassDescriptor) error {
	if err := rs.BeginRenderPass(desc, nil, nil); err != nil {
		return err
	}
	if err := rs.ExecuteDelayedActions(); err != nil {
		return err
	}
	return rs.EndRenderPass()
}
