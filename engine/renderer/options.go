package renderer

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spaghettifunk/rendercore/engine/config"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
)

const (
	OPTION_DEVICE               = "device"
	OPTION_MAX_FRAMES_IN_FLIGHT = "max_frames_in_flight"
	OPTION_DEBUG_LABELS         = "debug_labels"
	OPTION_LOG_LEVEL            = "log_level"
)

type ConfigOption struct {
	Name            string
	CurrentValue    string
	PossibleValues  []string
	ImmediateEffect bool
}

func (rs *RenderSystem) Capabilities() driver.Capabilities {
	return rs.caps
}

func (rs *RenderSystem) HasAnisotropicMipFilter() bool {
	return rs.caps.AnisotropicMipFilter
}

func (rs *RenderSystem) SupportsIndirectDraw() bool {
	return rs.caps.IndirectDraw
}

func (rs *RenderSystem) HasStoreAndMultisampleResolve() bool {
	return rs.caps.StoreAndMultisampleResolve
}

func (rs *RenderSystem) HorizontalTexelOffset() float32 {
	return rs.caps.HorizontalTexelOffset
}

func (rs *RenderSystem) VerticalTexelOffset() float32 {
	return rs.caps.VerticalTexelOffset
}

func (rs *RenderSystem) MinimumDepthInputValue() float32 {
	return rs.caps.MinDepthInputValue
}

func (rs *RenderSystem) MaximumDepthInputValue() float32 {
	return rs.caps.MaxDepthInputValue
}

// BeginProfileEvent opens a debug group on the frame's command buffer.
func (rs *RenderSystem) BeginProfileEvent(name string) {
	if !rs.debugLabels || !rs.frameBegun || rs.frameErr != nil {
		return
	}
	cb, err := rs.ensureCommandBuffer()
	if err != nil {
		rs.abortFrame(err)
		return
	}
	cb.PushDebugGroup(name)
}

func (rs *RenderSystem) EndProfileEvent() {
	if !rs.debugLabels || rs.commandBuffer == nil {
		return
	}
	rs.commandBuffer.PopDebugGroup()
}

// MarkProfileEvent inserts a signpost into the open encoder.
func (rs *RenderSystem) MarkProfileEvent(name string) {
	if !rs.debugLabels {
		return
	}
	switch {
	case rs.renderEncoder != nil:
		rs.renderEncoder.InsertDebugSignpost(name)
	case rs.computeEncoder != nil:
		rs.computeEncoder.InsertDebugSignpost(name)
	}
}

/**
 * @brief Lists the options a user may change at runtime. The device and the
 * number of frames in flight only apply to devices and render systems created
 * afterwards.
 */
func (rs *RenderSystem) ConfigOptions() map[string]ConfigOption {
	drivers := rs.ctx.registry.Drivers()
	names := make([]string, 0, len(drivers))
	for _, d := range drivers {
		names = append(names, d.Name())
	}
	sort.Strings(names)

	return map[string]ConfigOption{
		OPTION_DEVICE: {
			Name:           OPTION_DEVICE,
			CurrentValue:   rs.ctx.DeviceName(),
			PossibleValues: names,
		},
		OPTION_MAX_FRAMES_IN_FLIGHT: {
			Name:         OPTION_MAX_FRAMES_IN_FLIGHT,
			CurrentValue: strconv.Itoa(rs.ctx.framesInFlight()),
		},
		OPTION_DEBUG_LABELS: {
			Name:            OPTION_DEBUG_LABELS,
			CurrentValue:    strconv.FormatBool(rs.debugLabels),
			PossibleValues:  []string{"true", "false"},
			ImmediateEffect: true,
		},
		OPTION_LOG_LEVEL: {
			Name:            OPTION_LOG_LEVEL,
			CurrentValue:    core.LogLevel(),
			PossibleValues:  []string{"debug", "info", "warn", "error", "fatal"},
			ImmediateEffect: true,
		},
	}
}

func (rs *RenderSystem) SetConfigOption(name, value string) error {
	switch name {
	case OPTION_DEVICE:
		if _, err := rs.ctx.registry.Lookup(value); err != nil {
			core.LogError(err.Error())
			return err
		}
		rs.ctx.SelectDevice(value)
	case OPTION_MAX_FRAMES_IN_FLIGHT:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			err := fmt.Errorf("option '%s': invalid value '%s'", name, value)
			core.LogError(err.Error())
			return err
		}
		rs.ctx.setFramesInFlight(n)
	case OPTION_DEBUG_LABELS:
		b, err := strconv.ParseBool(value)
		if err != nil {
			err := fmt.Errorf("option '%s': invalid value '%s'", name, value)
			core.LogError(err.Error())
			return err
		}
		rs.debugLabels = b
	case OPTION_LOG_LEVEL:
		return core.SetLogLevel(value)
	default:
		err := fmt.Errorf("unknown option '%s'", name)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// ApplyConfig applies the hot-reloadable part of a reloaded configuration.
func (rs *RenderSystem) ApplyConfig(cfg *config.Config) error {
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}
	rs.debugLabels = cfg.Renderer.DebugLabels
	if cfg.Renderer.MaxFramesInFlight != rs.ctx.framesInFlight() {
		rs.ctx.setFramesInFlight(cfg.Renderer.MaxFramesInFlight)
	}
	if cfg.Renderer.Device != rs.ctx.DeviceName() {
		rs.ctx.SelectDevice(cfg.Renderer.Device)
	}
	return nil
}
