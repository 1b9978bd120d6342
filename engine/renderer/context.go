package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/config"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/cache"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/framesync"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

/**
 * @brief Everything shared by the render systems recording against one device:
 * the device itself, the state caches, the framebuffer map, the pipeline and
 * samplerblock registries and the event system used for device notifications.
 * Safe for concurrent use.
 */
type DeviceContext struct {
	registry *driver.Registry
	events   *core.EventSystem
	config   config.Renderer

	mu         sync.RWMutex
	driverName string
	drv        driver.Driver
	device     driver.Device
	caps       driver.Capabilities
	generation uint64
	lostErr    error
	closed     bool
	systems    []*RenderSystem
	gates      []*framesync.Gate

	depthStencils *cache.StateCache[metadata.DepthStencilDescriptor, driver.DepthStencilState]
	samplers      *cache.StateCache[metadata.SamplerDescriptor, driver.SamplerState]
	framebuffers  *cache.Framebuffers

	pipelines     *core.IDPool
	samplerblocks *core.IDPool
}

/**
 * @brief Opens the driver named in cfg.Device (the first registered one when
 * empty) and builds the shared caches on top of it.
 */
func NewDeviceContext(registry *driver.Registry, cfg config.Renderer) (*DeviceContext, error) {
	c := &DeviceContext{
		registry:      registry,
		events:        core.NewEventSystem(),
		config:        cfg,
		driverName:    cfg.Device,
		pipelines:     core.NewIDPool(64),
		samplerblocks: core.NewIDPool(64),
	}
	if err := c.open(); err != nil {
		return nil, err
	}

	c.depthStencils = cache.NewStateCache[metadata.DepthStencilDescriptor, driver.DepthStencilState](
		"depth-stencil",
		func(desc metadata.DepthStencilDescriptor) (driver.DepthStencilState, error) {
			return c.Device().CreateDepthStencilState(desc)
		},
		func(state driver.DepthStencilState) {
			c.Device().DestroyDepthStencilState(state)
		})
	c.samplers = cache.NewStateCache[metadata.SamplerDescriptor, driver.SamplerState](
		"sampler",
		func(desc metadata.SamplerDescriptor) (driver.SamplerState, error) {
			return c.Device().CreateSamplerState(desc)
		},
		func(state driver.SamplerState) {
			c.Device().DestroySamplerState(state)
		})

	fbs, err := cache.NewFramebuffers(c.device, cfg.FramebufferCacheSize, c)
	if err != nil {
		c.drv.Close()
		return nil, err
	}
	c.framebuffers = fbs

	c.events.Register(core.EVENT_CODE_TARGET_RESIZED, c, c.onTargetChanged)
	c.events.Register(core.EVENT_CODE_TARGET_DESTROYED, c, c.onTargetChanged)
	return c, nil
}

func (c *DeviceContext) open() error {
	drv, err := c.registry.Lookup(c.driverName)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	device, err := drv.Open()
	if err != nil {
		err = fmt.Errorf("failed to open driver '%s': %w", drv.Name(), err)
		core.LogError(err.Error())
		return err
	}
	c.drv = drv
	c.device = device
	c.caps = device.Capabilities()
	c.lostErr = nil
	c.generation++
	core.LogInfo("render device '%s' opened through driver '%s'", device.Name(), drv.Name())
	if !c.caps.IndirectDraw {
		core.LogInfo("device '%s' has no indirect draw support, using the software path", device.Name())
	}
	return nil
}

func (c *DeviceContext) Device() driver.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

func (c *DeviceContext) Capabilities() driver.Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

func (c *DeviceContext) Events() *core.EventSystem {
	return c.events
}

// Generation changes every time a new device is opened.
func (c *DeviceContext) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Lost returns the error the device was lost with, nil while it is healthy.
func (c *DeviceContext) Lost() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lostErr
}

func (c *DeviceContext) DepthStencilStates() *cache.StateCache[metadata.DepthStencilDescriptor, driver.DepthStencilState] {
	return c.depthStencils
}

func (c *DeviceContext) SamplerStates() *cache.StateCache[metadata.SamplerDescriptor, driver.SamplerState] {
	return c.samplers
}

func (c *DeviceContext) Framebuffers() *cache.Framebuffers {
	return c.framebuffers
}

// Defer runs fn once every frame begun so far, on every attached render
// system, completed.
func (c *DeviceContext) Defer(fn func()) {
	c.mu.RLock()
	gates := make([]*framesync.Gate, len(c.gates))
	copy(gates, c.gates)
	c.mu.RUnlock()

	for i := len(gates) - 1; i >= 0; i-- {
		next, gate := fn, gates[i]
		fn = func() { gate.Defer(next) }
	}
	fn()
}

func (c *DeviceContext) attach(rs *RenderSystem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("device context is closed")
	}
	c.systems = append(c.systems, rs)
	c.gates = append(c.gates, rs.gate)
	return nil
}

func (c *DeviceContext) detach(rs *RenderSystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.systems {
		if s == rs {
			c.systems = append(c.systems[:i:i], c.systems[i+1:]...)
			c.gates = append(c.gates[:i:i], c.gates[i+1:]...)
			return
		}
	}
}

/**
 * @brief Records that the device is gone. Every cached native object is
 * forgotten without being destroyed and EVENT_CODE_DEVICE_LOST is fired.
 * Render systems discard their in-flight frames at their next frame boundary.
 * Safe to call from any goroutine and more than once.
 */
func (c *DeviceContext) NotifyDeviceLost(cause error) {
	c.mu.Lock()
	if c.lostErr != nil || c.closed {
		c.mu.Unlock()
		return
	}
	if cause == nil {
		cause = driver.ErrDeviceLost
	}
	c.lostErr = fmt.Errorf("%w: %w", core.ErrDeviceLost, cause)
	c.mu.Unlock()

	core.LogError("render device lost: %s", cause.Error())
	c.depthStencils.Purge()
	c.samplers.Purge()
	c.framebuffers.Purge()

	c.events.Fire(core.EventContext{
		Code:   core.EVENT_CODE_DEVICE_LOST,
		Sender: c,
		Data:   cause,
	})
}

/**
 * @brief Opens a new device after a loss, through the driver registry. The
 * material system receives EVENT_CODE_DEVICE_RESTORED and must re-issue its
 * pipeline and samplerblock creation notifications.
 */
func (c *DeviceContext) RecoverDevice() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("device context is closed")
	}
	old := c.drv
	c.drv = nil
	c.mu.Unlock()

	// completion handlers of the old device call back into the context
	if old != nil {
		old.Close()
	}

	c.mu.Lock()
	err := c.open()
	device := c.device
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.framebuffers.Rebind(device)
	c.events.Fire(core.EventContext{
		Code:   core.EVENT_CODE_DEVICE_RESTORED,
		Sender: c,
		Data:   device.Name(),
	})
	return nil
}

func (c *DeviceContext) rendererConfig() config.Renderer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *DeviceContext) framesInFlight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.MaxFramesInFlight
}

// setFramesInFlight applies to render systems created afterwards.
func (c *DeviceContext) setFramesInFlight(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.MaxFramesInFlight = n
}

// SelectDevice changes the driver used by the next RecoverDevice.
func (c *DeviceContext) SelectDevice(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.driverName = name
}

func (c *DeviceContext) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driverName
}

func (c *DeviceContext) onTargetChanged(ctx core.EventContext) bool {
	tex, ok := ctx.Data.(*metadata.Texture)
	if !ok {
		core.LogWarn("target event %d without a texture payload", ctx.Code)
		return false
	}
	c.framebuffers.Invalidate(tex)
	// other listeners may care as well
	return false
}

/**
 * @brief Shuts every attached render system down (each drains its frames
 * first), then destroys the cached state and closes the driver.
 */
func (c *DeviceContext) Close(ctx context.Context) error {
	c.mu.RLock()
	systems := make([]*RenderSystem, len(c.systems))
	copy(systems, c.systems)
	c.mu.RUnlock()

	var errs []error
	for _, rs := range systems {
		if err := rs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.Join(errs...)
	}
	c.closed = true
	lost := c.lostErr != nil
	c.mu.Unlock()

	if lost {
		c.depthStencils.Purge()
		c.samplers.Purge()
		c.framebuffers.Purge()
	} else {
		c.depthStencils.DestroyAll()
		c.samplers.DestroyAll()
		c.framebuffers.DestroyAll()
	}
	c.events.Shutdown()
	if c.drv != nil {
		c.drv.Close()
	}
	return errors.Join(errs...)
}
