package engine

import (
	"context"

	"github.com/spaghettifunk/rendercore/engine/renderer"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(device *renderer.DeviceContext, systems []*renderer.RenderSystem) error
type Update func(deltaTime float64) error

// Render records the commands of one stream. Streams are recorded concurrently,
// each on its own render system, between BeginFrame and EndFrame.
type Render func(ctx context.Context, rs *renderer.RenderSystem, stream int, deltaTime float64) error
type Shutdown func() error
