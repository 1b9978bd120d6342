package renderer

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// pipelineState is the render system's private record of a registered PSO.
type pipelineState struct {
	mu   sync.Mutex
	live bool

	// derived depth-stencil state, acquired lazily on the first bind
	acquired     bool
	generation   uint64
	desc         metadata.DepthStencilDescriptor
	depthStencil driver.DepthStencilState
}

type samplerblockState struct {
	mu         sync.Mutex
	live       bool
	generation uint64
	state      driver.SamplerState
}

func pipelineStateOf(pso *metadata.PipelineStateObject) (*pipelineState, bool) {
	if pso == nil {
		return nil, false
	}
	ps, ok := pso.InternalData.(*pipelineState)
	return ps, ok && ps.live
}

func (c *DeviceContext) registerPipeline(pso *metadata.PipelineStateObject, kind metadata.PipelineKind) error {
	if pso == nil {
		err := fmt.Errorf("pipeline creation notified with a nil pipeline: %w", core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	if pso.Kind != kind {
		err := fmt.Errorf("pipeline '%s' is %s, notified as %s: %w", pso.Name, pso.Kind, kind, core.ErrWrongPipelineKind)
		core.LogError(err.Error())
		return err
	}
	if ps, ok := pipelineStateOf(pso); ok {
		// re-issued after a device change: derived state is reacquired on the next bind
		ps.mu.Lock()
		if ps.generation != c.Generation() {
			ps.acquired = false
			ps.depthStencil = nil
		}
		ps.mu.Unlock()
		return nil
	}
	pso.ID = c.pipelines.Acquire(pso)
	pso.InternalData = &pipelineState{live: true}
	core.LogDebug("%s pipeline '%s' registered with id %d", kind, pso.Name, pso.ID)
	return nil
}

func (c *DeviceContext) unregisterPipeline(pso *metadata.PipelineStateObject, kind metadata.PipelineKind) error {
	ps, ok := pipelineStateOf(pso)
	if !ok {
		err := fmt.Errorf("destroy of an unregistered pipeline: %w", core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	if pso.Kind != kind {
		err := fmt.Errorf("pipeline '%s' is %s, destroyed as %s: %w", pso.Name, pso.Kind, kind, core.ErrWrongPipelineKind)
		core.LogError(err.Error())
		return err
	}

	ps.mu.Lock()
	ps.live = false
	if ps.acquired {
		c.releaseDepthStencil(ps.desc, ps.generation)
	}
	ps.acquired = false
	ps.depthStencil = nil
	ps.mu.Unlock()

	if err := c.pipelines.Release(pso.ID); err != nil {
		core.LogWarn("pipeline '%s': %s", pso.Name, err.Error())
	}
	pso.InternalData = nil
	core.LogDebug("%s pipeline '%s' unregistered", kind, pso.Name)
	return nil
}

// releaseDepthStencil drops one reference once in-flight frames are done with it.
func (c *DeviceContext) releaseDepthStencil(desc metadata.DepthStencilDescriptor, generation uint64) {
	c.Defer(func() {
		if c.Generation() != generation {
			// purged with the old device
			return
		}
		if err := c.depthStencils.Release(desc); err != nil {
			core.LogWarn("derived depth-stencil state: %s", err.Error())
		}
	})
}

// derivedDepthStencil returns the depth-stencil state of pso, acquiring it on first use.
func (c *DeviceContext) derivedDepthStencil(pso *metadata.PipelineStateObject, ps *pipelineState) (driver.DepthStencilState, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	generation := c.Generation()
	if ps.acquired && ps.generation == generation {
		return ps.depthStencil, nil
	}
	desc := pso.DepthStencil()
	state, err := c.depthStencils.Acquire(desc)
	if err != nil {
		return nil, err
	}
	ps.acquired = true
	ps.generation = generation
	ps.desc = desc
	ps.depthStencil = state
	return state, nil
}

func (c *DeviceContext) NotifyPipelineCreated(pso *metadata.PipelineStateObject) error {
	return c.registerPipeline(pso, metadata.PIPELINE_KIND_GRAPHICS)
}

/**
 * @brief Must be called before the material system frees pso. The derived
 * depth-stencil state loses one reference; the native object goes away once
 * no other pipeline shares its descriptor and in-flight frames completed.
 */
func (c *DeviceContext) NotifyPipelineDestroyed(pso *metadata.PipelineStateObject) error {
	return c.unregisterPipeline(pso, metadata.PIPELINE_KIND_GRAPHICS)
}

func (c *DeviceContext) NotifyComputePipelineCreated(pso *metadata.PipelineStateObject) error {
	return c.registerPipeline(pso, metadata.PIPELINE_KIND_COMPUTE)
}

func (c *DeviceContext) NotifyComputePipelineDestroyed(pso *metadata.PipelineStateObject) error {
	return c.unregisterPipeline(pso, metadata.PIPELINE_KIND_COMPUTE)
}

// Pipeline returns the pipeline registered under id, or nil.
func (c *DeviceContext) Pipeline(id uint32) *metadata.PipelineStateObject {
	pso, _ := c.pipelines.Owner(id).(*metadata.PipelineStateObject)
	return pso
}

/**
 * @brief Creates (or shares) the native sampler state of block.
 */
func (c *DeviceContext) NotifySamplerblockCreated(block *metadata.Samplerblock) error {
	if block == nil {
		err := fmt.Errorf("samplerblock creation notified with a nil block: %w", core.ErrStateNotCached)
		core.LogError(err.Error())
		return err
	}
	desc := block.Descriptor
	if desc.MaxAnisotropy > c.Capabilities().MaxAnisotropy {
		core.LogDebug("samplerblock anisotropy %.0f clamped to %.0f", desc.MaxAnisotropy, c.Capabilities().MaxAnisotropy)
		desc.MaxAnisotropy = c.Capabilities().MaxAnisotropy
		block.Descriptor = desc
	}

	if sb, ok := block.InternalData.(*samplerblockState); ok && sb.live {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		if sb.generation == c.Generation() {
			return nil
		}
		state, err := c.samplers.Acquire(desc)
		if err != nil {
			return err
		}
		sb.state = state
		sb.generation = c.Generation()
		return nil
	}

	state, err := c.samplers.Acquire(desc)
	if err != nil {
		return err
	}
	block.ID = c.samplerblocks.Acquire(block)
	block.InternalData = &samplerblockState{
		live:       true,
		generation: c.Generation(),
		state:      state,
	}
	return nil
}

func (c *DeviceContext) NotifySamplerblockDestroyed(block *metadata.Samplerblock) error {
	sb, ok := block.InternalData.(*samplerblockState)
	if !ok || !sb.live {
		err := fmt.Errorf("destroy of an unregistered samplerblock: %w", core.ErrStateNotCached)
		core.LogError(err.Error())
		return err
	}
	sb.mu.Lock()
	sb.live = false
	desc, generation := block.Descriptor, sb.generation
	sb.state = nil
	sb.mu.Unlock()

	c.Defer(func() {
		if c.Generation() != generation {
			return
		}
		if err := c.samplers.Release(desc); err != nil {
			core.LogWarn("samplerblock: %s", err.Error())
		}
	})
	if err := c.samplerblocks.Release(block.ID); err != nil {
		core.LogWarn("samplerblock %d: %s", block.ID, err.Error())
	}
	block.InternalData = nil
	return nil
}

// samplerState resolves the native state of a registered block.
func (c *DeviceContext) samplerState(block *metadata.Samplerblock) (driver.SamplerState, error) {
	sb, ok := block.InternalData.(*samplerblockState)
	if !ok || !sb.live {
		err := fmt.Errorf("samplerblock was never registered: %w", core.ErrStateNotCached)
		core.LogError(err.Error())
		return nil, err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if generation := c.Generation(); sb.generation != generation {
		state, err := c.samplers.Acquire(block.Descriptor)
		if err != nil {
			return nil, err
		}
		sb.state = state
		sb.generation = generation
	}
	return sb.state, nil
}

func (rs *RenderSystem) NotifyPipelineCreated(pso *metadata.PipelineStateObject) error {
	return rs.ctx.NotifyPipelineCreated(pso)
}

func (rs *RenderSystem) NotifyPipelineDestroyed(pso *metadata.PipelineStateObject) error {
	if rs.pso == pso {
		rs.pso = nil
		rs.depthStencil = nil
	}
	return rs.ctx.NotifyPipelineDestroyed(pso)
}

func (rs *RenderSystem) NotifyComputePipelineCreated(pso *metadata.PipelineStateObject) error {
	return rs.ctx.NotifyComputePipelineCreated(pso)
}

func (rs *RenderSystem) NotifyComputePipelineDestroyed(pso *metadata.PipelineStateObject) error {
	if rs.computePSO == pso {
		rs.computePSO = nil
	}
	return rs.ctx.NotifyComputePipelineDestroyed(pso)
}

func (rs *RenderSystem) NotifySamplerblockCreated(block *metadata.Samplerblock) error {
	return rs.ctx.NotifySamplerblockCreated(block)
}

func (rs *RenderSystem) NotifySamplerblockDestroyed(block *metadata.Samplerblock) error {
	return rs.ctx.NotifySamplerblockDestroyed(block)
}

/**
 * @brief Binds the graphics pipeline used by the following draws. Binding the
 * pipeline that is already bound does nothing. Passing nil unbinds.
 */
func (rs *RenderSystem) SetPipelineStateObject(pso *metadata.PipelineStateObject) error {
	if pso == nil {
		rs.pso = nil
		return nil
	}
	ps, ok := pipelineStateOf(pso)
	if !ok {
		err := fmt.Errorf("render system '%s': bind pipeline '%s': %w", rs.name, pso.Name, core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	if pso.Kind != metadata.PIPELINE_KIND_GRAPHICS {
		err := fmt.Errorf("render system '%s': bind %s pipeline '%s' for drawing: %w", rs.name, pso.Kind, pso.Name, core.ErrWrongPipelineKind)
		core.LogError(err.Error())
		return err
	}
	if rs.pso == pso {
		rs.stats.RedundantPipelineBinds++
		return nil
	}

	ds, err := rs.ctx.derivedDepthStencil(pso, ps)
	if err != nil {
		err = fmt.Errorf("render system '%s': depth-stencil state of '%s': %w", rs.name, pso.Name, err)
		core.LogError(err.Error())
		return rs.deviceError(err)
	}
	rs.pso = pso
	rs.stats.PipelineBinds++
	if rs.renderEncoder != nil {
		rs.renderEncoder.SetPipeline(pso)
		if ds != rs.depthStencil {
			rs.renderEncoder.SetDepthStencilState(ds)
		}
	}
	rs.depthStencil = ds
	return nil
}

/**
 * @brief Binds the compute pipeline used by the following dispatches.
 */
func (rs *RenderSystem) SetComputePSO(pso *metadata.PipelineStateObject) error {
	if pso == nil {
		rs.computePSO = nil
		return nil
	}
	if _, ok := pipelineStateOf(pso); !ok {
		err := fmt.Errorf("render system '%s': bind compute pipeline '%s': %w", rs.name, pso.Name, core.ErrUnknownPipeline)
		core.LogError(err.Error())
		return err
	}
	if pso.Kind != metadata.PIPELINE_KIND_COMPUTE {
		err := fmt.Errorf("render system '%s': bind %s pipeline '%s' for dispatching: %w", rs.name, pso.Kind, pso.Name, core.ErrWrongPipelineKind)
		core.LogError(err.Error())
		return err
	}
	if rs.computePSO == pso {
		rs.stats.RedundantPipelineBinds++
		return nil
	}
	rs.computePSO = pso
	rs.stats.PipelineBinds++
	if rs.computeEncoder != nil {
		rs.computeEncoder.SetPipeline(pso)
	}
	return nil
}

// BoundPipeline returns the graphics pipeline used by the next draw.
func (rs *RenderSystem) BoundPipeline() *metadata.PipelineStateObject {
	return rs.pso
}

func (rs *RenderSystem) BoundComputePipeline() *metadata.PipelineStateObject {
	return rs.computePSO
}
