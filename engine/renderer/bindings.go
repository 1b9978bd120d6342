package renderer

import (
	"fmt"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/autoparams"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

func (rs *RenderSystem) checkSlots(what string, slotStart uint32, count, max int) error {
	if int(slotStart)+count > max {
		err := fmt.Errorf("render system '%s': %d %s from slot %d, max %d: %w", rs.name, count, what, slotStart, max, core.ErrSlotOutOfRange)
		core.LogError(err.Error())
		return err
	}
	return nil
}

/**
 * @brief Binds textures for the graphics stages starting at slotStart. A nil
 * entry unbinds the slot. Binding for reading a texture the open render pass
 * renders into interrupts the pass first.
 */
func (rs *RenderSystem) SetTextures(slotStart uint32, textures []*metadata.Texture) error {
	if err := rs.checkSlots("textures", slotStart, len(textures), MAX_TEXTURE_SLOTS); err != nil {
		return err
	}
	if err := rs.resolveHazards(textures); err != nil {
		return err
	}
	for i, tex := range textures {
		slot := slotStart + uint32(i)
		if rs.textures[slot] == tex {
			continue
		}
		rs.textures[slot] = tex
		if rs.renderEncoder != nil {
			rs.renderEncoder.SetTexture(slot, tex)
		}
	}
	return nil
}

// resolveHazards interrupts the render pass when it writes one of textures.
func (rs *RenderSystem) resolveHazards(textures []*metadata.Texture) error {
	if rs.currentPass == nil || rs.frameErr != nil {
		return nil
	}
	for _, tex := range textures {
		if rs.currentPass.Uses(tex) {
			core.LogDebug("render system '%s': texture '%s' is an attachment of '%s', interrupting", rs.name, tex.Name, rs.currentPass.Name)
			return rs.Interrupt(false)
		}
	}
	return nil
}

/**
 * @brief Binds the sampler states of blocks for the graphics stages.
 */
func (rs *RenderSystem) SetSamplers(slotStart uint32, blocks []*metadata.Samplerblock) error {
	states, err := rs.samplerStates(slotStart, blocks)
	if err != nil {
		return err
	}
	for i, state := range states {
		slot := slotStart + uint32(i)
		if rs.samplers[slot] == state {
			continue
		}
		rs.samplers[slot] = state
		if rs.renderEncoder != nil && state != nil {
			rs.renderEncoder.SetSampler(slot, state)
		}
	}
	return nil
}

func (rs *RenderSystem) samplerStates(slotStart uint32, blocks []*metadata.Samplerblock) ([]driver.SamplerState, error) {
	if err := rs.checkSlots("samplers", slotStart, len(blocks), MAX_SAMPLER_SLOTS); err != nil {
		return nil, err
	}
	states := make([]driver.SamplerState, len(blocks))
	for i, block := range blocks {
		if block == nil {
			continue
		}
		state, err := rs.ctx.samplerState(block)
		if err != nil {
			return nil, err
		}
		states[i] = state
	}
	return states, nil
}

func (rs *RenderSystem) SetTexturesCS(slotStart uint32, textures []*metadata.Texture) error {
	if err := rs.checkSlots("compute textures", slotStart, len(textures), MAX_TEXTURE_SLOTS); err != nil {
		return err
	}
	for i, tex := range textures {
		slot := slotStart + uint32(i)
		rs.csTextures[slot] = tex
		if rs.computeEncoder != nil {
			rs.computeEncoder.SetTexture(slot, tex)
		}
	}
	return nil
}

func (rs *RenderSystem) SetSamplersCS(slotStart uint32, blocks []*metadata.Samplerblock) error {
	states, err := rs.samplerStates(slotStart, blocks)
	if err != nil {
		return err
	}
	for i, state := range states {
		slot := slotStart + uint32(i)
		rs.csSamplers[slot] = state
		if rs.computeEncoder != nil && state != nil {
			rs.computeEncoder.SetSampler(slot, state)
		}
	}
	return nil
}

/**
 * @brief Binds textures for writing from compute. The texture must have been
 * created with metadata.TextureFlagIsUav.
 */
func (rs *RenderSystem) SetUAVsCS(slotStart uint32, textures []*metadata.Texture) error {
	if err := rs.checkSlots("UAVs", slotStart, len(textures), MAX_UAV_SLOTS); err != nil {
		return err
	}
	for _, tex := range textures {
		if tex != nil && !tex.HasFlag(metadata.TextureFlagIsUav) {
			err := fmt.Errorf("render system '%s': texture '%s' bound as UAV without the UAV flag: %w", rs.name, tex.Name, core.ErrUnsupportedCommand)
			core.LogError(err.Error())
			return err
		}
	}
	if err := rs.resolveHazards(textures); err != nil {
		return err
	}
	for i, tex := range textures {
		slot := slotStart + uint32(i)
		rs.csUAVs[slot] = tex
		if rs.computeEncoder != nil {
			rs.computeEncoder.SetUAV(slot, tex)
		}
	}
	return nil
}

/**
 * @brief Sets the stencil reference value and parameters. The reference is
 * reapplied whenever the render encoder is reopened.
 */
func (rs *RenderSystem) SetStencilBufferParams(refValue uint32, params metadata.StencilParams) {
	rs.stencilRef = refValue
	rs.stencilParams = params
	if rs.renderEncoder != nil && params.Enabled {
		rs.renderEncoder.SetStencilReference(refValue)
	}
}

func (rs *RenderSystem) StencilBufferParams() (uint32, metadata.StencilParams) {
	return rs.stencilRef, rs.stencilParams
}

/**
 * @brief Copies data into transient constant storage and binds it at slot for
 * the graphics stages.
 */
func (rs *RenderSystem) BindAutoParams(slot uint32, data []byte) (autoparams.Window, error) {
	w, err := rs.reserveAutoParams(slot, data)
	if err != nil {
		return w, err
	}
	rs.buffers[slot] = metadata.BufferSlice{Buffer: w.Buffer, Offset: w.Offset, Size: w.Size}
	if rs.renderEncoder != nil {
		rs.renderEncoder.SetBuffer(slot, w.Buffer, w.Offset)
	}
	return w, nil
}

// BindAutoParamsCS is BindAutoParams for compute.
func (rs *RenderSystem) BindAutoParamsCS(slot uint32, data []byte) (autoparams.Window, error) {
	w, err := rs.reserveAutoParams(slot, data)
	if err != nil {
		return w, err
	}
	rs.csBuffers[slot] = metadata.BufferSlice{Buffer: w.Buffer, Offset: w.Offset, Size: w.Size}
	if rs.computeEncoder != nil {
		rs.computeEncoder.SetBuffer(slot, w.Buffer, w.Offset)
	}
	return w, nil
}

func (rs *RenderSystem) reserveAutoParams(slot uint32, data []byte) (autoparams.Window, error) {
	if err := rs.checkFrame(); err != nil {
		return autoparams.Window{}, err
	}
	if err := rs.checkSlots("buffers", slot, 1, MAX_BUFFER_SLOTS); err != nil {
		return autoparams.Window{}, err
	}
	w, err := rs.autoParams.Reserve(uint64(len(data)))
	if err != nil {
		if core.IsDeviceError(err) {
			return w, rs.abortFrame(rs.deviceError(err))
		}
		return w, err
	}
	copy(w.Data, data)
	return w, nil
}
