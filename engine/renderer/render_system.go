package renderer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/autoparams"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/framesync"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

const (
	MAX_TEXTURE_SLOTS = 16
	MAX_SAMPLER_SLOTS = 16
	MAX_BUFFER_SLOTS  = 16
	MAX_UAV_SLOTS     = 8
)

type Stats struct {
	Frames                 uint64
	AbortedFrames          uint64
	CommandBuffers         uint64
	RenderEncoders         uint64
	ComputeEncoders        uint64
	Interruptions          uint64
	PassesReused           uint64
	PipelineBinds          uint64
	RedundantPipelineBinds uint64
	Draws                  uint64
	SoftwareIndirectDraws  uint64
	Dispatches             uint64
}

/**
 * @brief Records the commands of one logical command stream: frames, render
 * passes, bindings, draws and dispatches. Not safe for concurrent use; every
 * recording goroutine owns its RenderSystem, all of them sharing one
 * DeviceContext.
 */
type RenderSystem struct {
	name string
	ctx  *DeviceContext

	device      driver.Device
	caps        driver.Capabilities
	generation  uint64
	lossHandled bool

	gate        *framesync.Gate
	autoParams  *autoparams.Allocator
	metrics     *core.Metrics
	debugLabels bool
	shutdown    bool

	frameBegun bool
	frameSlot  int
	frameStart time.Time
	frameErr   error

	commandBuffer  driver.CommandBuffer
	renderEncoder  driver.RenderEncoder
	computeEncoder driver.ComputeEncoder
	state          EncoderState
	currentPass    *metadata.RenderPassDescriptor
	viewports      []metadata.Viewport
	scissors       []metadata.Rect
	pending        []pendingAction

	pso           *metadata.PipelineStateObject
	computePSO    *metadata.PipelineStateObject
	depthStencil  driver.DepthStencilState
	stencilRef    uint32
	stencilParams metadata.StencilParams
	textures      [MAX_TEXTURE_SLOTS]*metadata.Texture
	samplers      [MAX_SAMPLER_SLOTS]driver.SamplerState
	buffers       [MAX_BUFFER_SLOTS]metadata.BufferSlice
	csTextures    [MAX_TEXTURE_SLOTS]*metadata.Texture
	csSamplers    [MAX_SAMPLER_SLOTS]driver.SamplerState
	csBuffers     [MAX_BUFFER_SLOTS]metadata.BufferSlice
	csUAVs        [MAX_UAV_SLOTS]*metadata.Texture

	vao                *metadata.VertexArrayObject
	renderOp           *metadata.RenderOperation
	indirect           *metadata.IndirectBuffer
	vertexDirty        bool
	boundVertex        interface{}
	boundShift         uint32
	fallbackLogged     bool
	storeResolveLogged bool

	stats Stats
}

func NewRenderSystem(ctx *DeviceContext, name string) (*RenderSystem, error) {
	cfg := ctx.rendererConfig()
	device := ctx.Device()
	caps := ctx.Capabilities()

	alignment := cfg.AutoParams.Alignment
	if caps.ConstantBufferAlignment > alignment {
		alignment = caps.ConstantBufferAlignment
	}
	params, err := autoparams.NewAllocator(device, autoparams.Config{
		MinBufferSize: cfg.AutoParams.MinBufferSize,
		MaxBufferSize: cfg.AutoParams.MaxBufferSize,
		Alignment:     alignment,
		HistoryFrames: cfg.AutoParams.HistoryFrames,
		Slots:         cfg.MaxFramesInFlight,
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	rs := &RenderSystem{
		name:        name,
		ctx:         ctx,
		device:      device,
		caps:        caps,
		generation:  ctx.Generation(),
		gate:        framesync.NewGate(cfg.MaxFramesInFlight),
		autoParams:  params,
		debugLabels: cfg.DebugLabels,
	}
	if err := ctx.attach(rs); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	core.LogDebug("render system '%s' created on device '%s'", name, device.Name())
	return rs, nil
}

func (rs *RenderSystem) Name() string {
	return rs.name
}

func (rs *RenderSystem) Context() *DeviceContext {
	return rs.ctx
}

func (rs *RenderSystem) Gate() *framesync.Gate {
	return rs.gate
}

func (rs *RenderSystem) AutoParams() *autoparams.Allocator {
	return rs.autoParams
}

func (rs *RenderSystem) Stats() Stats {
	return rs.stats
}

// SetMetrics makes the render system report frame times and gate stalls.
func (rs *RenderSystem) SetMetrics(m *core.Metrics) {
	rs.metrics = m
	rs.gate.SetMetrics(m)
}

/**
 * @brief Starts a new frame. Blocks while the configured number of frames is
 * already in flight. A previous frame that was begun but never ended is
 * dropped and its slot given back.
 */
func (rs *RenderSystem) BeginFrame(ctx context.Context) error {
	if rs.shutdown {
		err := fmt.Errorf("render system '%s' is shut down", rs.name)
		core.LogError(err.Error())
		return err
	}
	if rs.frameBegun {
		core.LogWarn("render system '%s': BeginFrame without EndFrame, dropping the unsubmitted commands", rs.name)
		rs.dropFrame()
	}
	if err := rs.syncDevice(); err != nil {
		return err
	}

	slot, err := rs.gate.BeginFrame(ctx)
	if err != nil {
		return err
	}
	rs.frameBegun = true
	rs.frameSlot = slot
	rs.frameStart = time.Now()
	rs.frameErr = nil
	rs.state = ENCODER_STATE_NONE
	rs.autoParams.BeginFrame(slot)
	rs.stats.Frames++
	return nil
}

/**
 * @brief Closes any open encoder and commits the frame's command buffer. The
 * frame gate slot is released once the device signals completion. An aborted
 * frame is never committed: ErrFrameAborted is returned wrapping the cause.
 */
func (rs *RenderSystem) EndFrame() error {
	if !rs.frameBegun {
		err := fmt.Errorf("render system '%s': EndFrame: %w", rs.name, core.ErrFrameNotBegun)
		core.LogError(err.Error())
		return err
	}
	if rs.frameErr == nil {
		if err := rs.ctx.Lost(); err != nil {
			rs.frameErr = err
		}
	}
	if rs.frameErr != nil {
		return rs.endAbortedFrame()
	}

	if rs.currentPass != nil && rs.state != ENCODER_STATE_INTERRUPTED {
		core.LogWarn("render system '%s': render pass '%s' still open at the end of the frame", rs.name, rs.currentPass.Name)
	}
	if err := rs.closeEncoders(); err != nil {
		rs.abortFrame(err)
		return rs.endAbortedFrame()
	}
	if err := rs.submitFrame(); err != nil {
		rs.abortFrame(err)
		return rs.endAbortedFrame()
	}

	rs.frameBegun = false
	rs.state = ENCODER_STATE_ENDED
	if rs.metrics != nil {
		rs.metrics.Update(time.Since(rs.frameStart).Seconds())
	}
	return nil
}

// closeEncoders ends the open pass (final store actions) and the compute encoder.
func (rs *RenderSystem) closeEncoders() error {
	if rs.currentPass != nil {
		if err := rs.EndRenderPass(); err != nil {
			return err
		}
	}
	if err := rs.ExecuteDelayedActions(); err != nil {
		return err
	}
	rs.endComputeEncoder()
	return nil
}

func (rs *RenderSystem) submitFrame() error {
	if _, err := rs.ensureCommandBuffer(); err != nil {
		return err
	}
	done, err := rs.gate.Submitted()
	if err != nil {
		return err
	}
	cb := rs.commandBuffer
	rs.commandBuffer = nil
	cb.AddCompletedHandler(func(error) { done() })
	if err := cb.Commit(); err != nil {
		// nothing was queued, give the slot back right away
		done()
		err = fmt.Errorf("render system '%s': commit: %w", rs.name, err)
		core.LogError(err.Error())
		return rs.deviceError(err)
	}
	return nil
}

// endAbortedFrame drops the recorded commands. The frame is still retired
// through the queue so deferred releases keep their ordering with committed work.
func (rs *RenderSystem) endAbortedFrame() error {
	cause := rs.frameErr
	rs.stats.AbortedFrames++
	rs.dropFrame()

	if rs.ctx.Lost() == nil && rs.gate.FrameBegun() {
		if err := rs.submitFrame(); err != nil {
			// the next BeginFrame reclaims the slot
			core.LogWarn("render system '%s': aborted frame not retired: %s", rs.name, err.Error())
		}
	}
	rs.frameBegun = false
	rs.state = ENCODER_STATE_ENDED

	err := fmt.Errorf("render system '%s': %w: %w", rs.name, core.ErrFrameAborted, cause)
	core.LogError(err.Error())
	return err
}

// dropFrame forgets every encoder and the uncommitted command buffer.
func (rs *RenderSystem) dropFrame() {
	rs.renderEncoder = nil
	rs.computeEncoder = nil
	rs.commandBuffer = nil
	rs.pending = rs.pending[:0]
	rs.currentPass = nil
	rs.state = ENCODER_STATE_NONE
	rs.vertexDirty = true
}

// abortFrame records the first error that makes the current frame unusable.
func (rs *RenderSystem) abortFrame(err error) error {
	if rs.frameErr == nil {
		rs.frameErr = err
		core.LogError("render system '%s': frame aborted: %s", rs.name, err.Error())
	}
	return err
}

// FrameError returns the error that aborted the current frame, if any.
func (rs *RenderSystem) FrameError() error {
	return rs.frameErr
}

func (rs *RenderSystem) checkFrame() error {
	if !rs.frameBegun {
		err := fmt.Errorf("render system '%s': %w", rs.name, core.ErrFrameNotBegun)
		core.LogError(err.Error())
		return err
	}
	if rs.frameErr != nil {
		return fmt.Errorf("%w: %w", core.ErrFrameAborted, rs.frameErr)
	}
	return nil
}

// deviceError tags err as a device failure and propagates a device loss.
func (rs *RenderSystem) deviceError(err error) error {
	if errors.Is(err, driver.ErrDeviceLost) || errors.Is(err, core.ErrDeviceLost) {
		rs.ctx.NotifyDeviceLost(err)
		if !errors.Is(err, core.ErrDeviceLost) {
			return fmt.Errorf("%w: %w", core.ErrDeviceLost, err)
		}
		return err
	}
	if core.IsDeviceError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrObjectCreation, err)
}

func (rs *RenderSystem) ensureCommandBuffer() (driver.CommandBuffer, error) {
	if rs.commandBuffer != nil {
		return rs.commandBuffer, nil
	}
	cb, err := rs.device.NewCommandBuffer()
	if err != nil {
		err = fmt.Errorf("render system '%s': new command buffer: %w", rs.name, err)
		core.LogError(err.Error())
		return nil, rs.deviceError(err)
	}
	if rs.debugLabels {
		cb.SetLabel(fmt.Sprintf("%s-%d-%s", rs.name, rs.gate.FramesBegun(), uuid.NewString()))
	}
	cb.AddCompletedHandler(rs.onCommandBufferCompleted)
	rs.commandBuffer = cb
	rs.stats.CommandBuffers++
	return cb, nil
}

func (rs *RenderSystem) onCommandBufferCompleted(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, driver.ErrDeviceLost) {
		rs.ctx.NotifyDeviceLost(err)
		return
	}
	core.LogError("render system '%s': command buffer failed: %s", rs.name, err.Error())
}

/**
 * @brief Reacts to a device loss or a device change observed on the shared
 * context. Runs only at frame boundaries.
 */
func (rs *RenderSystem) syncDevice() error {
	lost := rs.ctx.Lost()
	generation := rs.ctx.Generation()
	if (lost != nil || generation != rs.generation) && !rs.lossHandled {
		rs.gate.DeviceLost()
		rs.dropFrame()
		rs.resetBindings()
		rs.lossHandled = true
	}
	if lost != nil {
		return fmt.Errorf("render system '%s': %w", rs.name, lost)
	}
	if generation != rs.generation {
		rs.device = rs.ctx.Device()
		rs.caps = rs.ctx.Capabilities()
		rs.autoParams.Rebind(rs.device)
		rs.generation = generation
		rs.lossHandled = false
		rs.fallbackLogged = false
		rs.storeResolveLogged = false
		core.LogInfo("render system '%s' now records on device '%s'", rs.name, rs.device.Name())
	}
	return nil
}

// resetBindings forgets every native object bound by a previous device.
func (rs *RenderSystem) resetBindings() {
	rs.pso = nil
	rs.computePSO = nil
	rs.depthStencil = nil
	rs.samplers = [MAX_SAMPLER_SLOTS]driver.SamplerState{}
	rs.csSamplers = [MAX_SAMPLER_SLOTS]driver.SamplerState{}
	rs.buffers = [MAX_BUFFER_SLOTS]metadata.BufferSlice{}
	rs.csBuffers = [MAX_BUFFER_SLOTS]metadata.BufferSlice{}
	rs.boundVertex = nil
}

/**
 * @brief Flushes pending work, waits for the device to drain and notifies
 * EVENT_CODE_DEVICE_STALLED listeners.
 */
func (rs *RenderSystem) NotifyDeviceStalled(ctx context.Context) error {
	core.LogWarn("render system '%s': device stalled, draining", rs.name)
	if rs.frameBegun && rs.frameErr == nil {
		if err := rs.FlushCommands(); err != nil {
			return err
		}
	}
	if err := rs.device.WaitIdle(); err != nil {
		err = fmt.Errorf("render system '%s': %w: %w", rs.name, core.ErrDeviceStalled, err)
		core.LogError(err.Error())
		return rs.deviceError(err)
	}
	if err := rs.gate.WaitForTailFrameToFinish(ctx); err != nil {
		return err
	}
	rs.ctx.events.Fire(core.EventContext{
		Code:   core.EVENT_CODE_DEVICE_STALLED,
		Sender: rs,
	})
	return nil
}

/**
 * @brief Drops an unsubmitted frame, waits for every submitted frame to finish
 * and frees the auto-parameter buffers. Safe to call more than once.
 */
func (rs *RenderSystem) Shutdown(ctx context.Context) error {
	if rs.shutdown {
		return nil
	}
	if rs.frameBegun {
		core.LogWarn("render system '%s': shutting down with a frame being recorded", rs.name)
		rs.dropFrame()
		rs.frameBegun = false
	}

	if rs.ctx.Lost() != nil || rs.ctx.Generation() != rs.generation {
		rs.gate.DeviceLost()
	} else {
		if err := rs.device.WaitIdle(); err != nil {
			core.LogWarn("render system '%s': wait idle: %s", rs.name, err.Error())
		}
		if err := rs.gate.WaitForTailFrameToFinish(ctx); err != nil {
			err = fmt.Errorf("render system '%s': shutdown: %w", rs.name, err)
			core.LogError(err.Error())
			return err
		}
	}

	rs.autoParams.Destroy()
	rs.resetBindings()
	rs.shutdown = true
	rs.ctx.detach(rs)
	core.LogDebug("render system '%s' shut down", rs.name)
	return nil
}
