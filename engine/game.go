package engine

import (
	"time"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/render"
)

// Game is implemented by applications running on the engine. Every hook is
// optional.
type Game struct {
	Config       *core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize runs once the window and the renderer exist.
type Initialize func(e *Engine) error
type Update func(deltaTime time.Duration) error

// Render records the frame into ctx, which started rendering already.
type Render func(ctx *render.Context, deltaTime time.Duration) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
