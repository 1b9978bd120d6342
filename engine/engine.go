package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/rendercore/engine/config"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Frame metrics are logged every REPORT_INTERVAL frames.
const REPORT_INTERVAL uint64 = 120

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	clock        *core.Clock
	frame        uint64

	cfg           *config.Config
	pendingConfig atomic.Pointer[config.Config]
	watcher       *config.Watcher

	metrics *core.Metrics
	jobs    *systems.JobSystem
	device  *renderer.DeviceContext
	streams []*renderer.RenderSystem
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("engine: game without an application config")
	}
	if g.FnRender == nil {
		return nil, errors.New("engine: game without a render function")
	}
	if g.ApplicationConfig.Streams <= 0 {
		g.ApplicationConfig.Streams = 1
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}
	e.isRunning.Store(true)
	return e, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) Device() *renderer.DeviceContext {
	return e.device
}

func (e *Engine) Frame() uint64 {
	return e.frame
}

func (e *Engine) Initialize() error {
	app := e.gameInstance.ApplicationConfig
	e.currentStage = EngineStageBooting

	cfg := config.Default()
	if app.ConfigPath != "" {
		loaded, err := config.Load(app.ConfigPath)
		if err != nil {
			core.LogError(err.Error())
			return err
		}
		cfg = loaded
	}
	if app.LogLevel != "" {
		cfg.Log.Level = app.LogLevel
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}
	e.cfg = cfg

	e.currentStage = EngineStageInitializing
	if len(app.Drivers) == 0 {
		err := fmt.Errorf("engine '%s': no render drivers: %w", app.Name, driver.ErrNoDevice)
		core.LogError(err.Error())
		return err
	}
	device, err := renderer.NewDeviceContext(driver.NewRegistry(app.Drivers...), cfg.Renderer)
	if err != nil {
		return err
	}
	e.device = device
	device.Events().Register(core.EVENT_CODE_DEVICE_LOST, e, e.onDeviceEvent)
	device.Events().Register(core.EVENT_CODE_DEVICE_RESTORED, e, e.onDeviceEvent)

	if e.jobs, err = systems.NewJobSystem(app.Streams, app.Streams); err != nil {
		core.LogError(err.Error())
		return err
	}
	for i := 0; i < app.Streams; i++ {
		rs, err := renderer.NewRenderSystem(device, fmt.Sprintf("%s-%d", app.Name, i))
		if err != nil {
			return err
		}
		rs.SetMetrics(e.metrics)
		e.streams = append(e.streams, rs)
	}

	if app.ConfigPath != "" {
		// applied by the frame loop, between frames
		w, err := config.NewWatcher(app.ConfigPath, func(cfg *config.Config) {
			e.pendingConfig.Store(cfg)
		})
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err.Error())
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(device, e.streams); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine '%s' initialized with %d recording streams on '%s'", app.Name, app.Streams, device.Device().Name())
	return nil
}

/**
 * @brief Runs the frame loop until Stop is called, ctx is cancelled or the
 * configured number of frames was rendered. Every frame, each stream records
 * in parallel on its own render system.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine: Run before Initialize")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()

	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames
	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if maxFrames > 0 && e.frame >= maxFrames {
			break
		}
		e.applyPendingConfig()

		delta := e.clock.Tick()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down.")
				return err
			}
		}

		if err := e.drawFrame(ctx, delta); err != nil {
			if ctx.Err() != nil {
				break
			}
			if !errors.Is(err, core.ErrDeviceLost) {
				core.LogError("Game render failed, shutting down.")
				return err
			}
			if err := e.recoverDevice(); err != nil {
				return err
			}
		}

		e.frame++
		if e.frame%REPORT_INTERVAL == 0 {
			fps, ms := e.metrics.Frame()
			stalls, waited := e.metrics.Stalls()
			core.LogInfo("frame %d: %.1f fps, %.3f ms avg, %d gate stalls (%.3f ms)", e.frame, fps, ms, stalls, waited)
		}
	}
	core.LogDebug("frame loop left after %d frames (%s)", e.frame, e.clock.Elapsed())
	return nil
}

func (e *Engine) drawFrame(ctx context.Context, delta float64) error {
	jobs := make([]systems.JobTask, len(e.streams))
	for i, rs := range e.streams {
		i, rs := i, rs
		jobs[i] = systems.JobTask{
			Name: rs.Name(),
			Run: func(ctx context.Context) error {
				if err := rs.BeginFrame(ctx); err != nil {
					return err
				}
				renderErr := e.gameInstance.FnRender(ctx, rs, i, delta)
				// the frame is ended even when recording failed, so its slot is not leaked
				if err := rs.EndFrame(); err != nil && renderErr == nil {
					return err
				}
				return renderErr
			},
		}
	}
	return e.jobs.RunParallel(ctx, jobs...)
}

func (e *Engine) recoverDevice() error {
	core.LogWarn("device lost at frame %d, recovering", e.frame)
	if err := e.device.RecoverDevice(); err != nil {
		err = fmt.Errorf("engine: device recovery failed: %w", err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (e *Engine) applyPendingConfig() {
	cfg := e.pendingConfig.Swap(nil)
	if cfg == nil {
		return
	}
	if lvl := e.gameInstance.ApplicationConfig.LogLevel; lvl != "" {
		cfg.Log.Level = lvl
	}
	for _, rs := range e.streams {
		if err := rs.ApplyConfig(cfg); err != nil {
			core.LogWarn("config not applied to '%s': %s", rs.Name(), err.Error())
		}
	}
	e.cfg = cfg
	e.device.Events().Fire(core.EventContext{
		Code:   core.EVENT_CODE_CONFIG_CHANGED,
		Sender: e,
		Data:   cfg,
	})
}

// Stop makes Run return after the frame being rendered.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

/**
 * @brief Waits for the submitted frames, then tears down the render systems,
 * the device and the job system.
 */
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.device != nil {
		if err := e.device.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.jobs != nil {
		if err := e.jobs.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	e.clock.Stop()
	return errors.Join(errs...)
}

func (e *Engine) onDeviceEvent(context core.EventContext) bool {
	switch context.Code {
	case core.EVENT_CODE_DEVICE_LOST:
		core.LogWarn("EVENT_CODE_DEVICE_LOST received: %v", context.Data)
	case core.EVENT_CODE_DEVICE_RESTORED:
		core.LogInfo("EVENT_CODE_DEVICE_RESTORED received, now on '%v'", context.Data)
	}
	// other listeners may care as well
	return false
}
