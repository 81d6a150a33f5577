package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/vkcore/engine/assets"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/platform"
	"github.com/spaghettifunk/vkcore/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    atomic.Bool
	isSuspended  bool
	events       *core.Events
	platform     *platform.Platform
	renderer     *renderer.Renderer
	watcher      *assets.Watcher
	width        uint32
	height       uint32
	clock        *core.Clock
	metrics      *core.Metrics
	lastTime     time.Duration
}

func New(g *Game) (*Engine, error) {
	if g.Config == nil {
		g.Config = core.DefaultConfig()
	}
	if err := g.Config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	level, err := core.ParseLogLevel(g.Config.Application.LogLevel)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(level)

	events := core.NewEvents()
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.Config,
		events:       events,
		platform:     platform.New(events),
		width:        g.Config.Application.StartWidth,
		height:       g.Config.Application.StartHeight,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}
	events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.isRunning.Store(true)
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	app := e.config.Application
	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}
	e.width, e.height = e.platform.FramebufferSize()

	r, err := renderer.NewVulkan(e.config, e.platform.Window())
	if err != nil {
		return fmt.Errorf("renderer setup: %w", err)
	}
	e.renderer = r

	if e.config.Shaders.HotReload {
		w, err := assets.NewWatcher(e.config.Shaders.Directory, assets.ShaderExtensions, assets.DefaultDebounce)
		if err != nil {
			core.LogWarn("Shader hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	if fn := e.gameInstance.FnInitialize; fn != nil {
		if err := fn(e); err != nil {
			return err
		}
	}
	if fn := e.gameInstance.FnOnResize; fn != nil {
		if err := fn(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	budget := frameBudget(e.config.Application.FrameRateLimit)
	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if err := e.reloadChangedShaders(); err != nil {
			return err
		}
		if e.isSuspended {
			e.platform.Sleep(10 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := e.platform.GetAbsoluteTime()

		if fn := e.gameInstance.FnUpdate; fn != nil {
			if err := fn(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
		}

		if err := e.drawFrame(delta); err != nil {
			return err
		}

		frameElapsed := e.platform.GetAbsoluteTime() - frameStart
		e.metrics.Update(frameElapsed)
		if budget > 0 {
			// If there is time left, give it back to the OS.
			e.platform.Sleep(budget - frameElapsed)
		}
		e.lastTime = currentTime
	}
	return nil
}

func (e *Engine) drawFrame(delta time.Duration) error {
	err := e.renderer.StartRender()
	if errors.Is(err, core.ErrSwapchainBooting) {
		core.LogDebug("Swapchain recreated, skipping frame %d", e.renderer.FrameNumber())
		return nil
	}
	if err != nil {
		core.LogError("Starting frame %d failed: %s", e.renderer.FrameNumber(), err)
		return err
	}
	if fn := e.gameInstance.FnRender; fn != nil {
		if err := fn(e.renderer.Context(), delta); err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			return err
		}
	}
	return e.renderer.FinishRender()
}

func (e *Engine) reloadChangedShaders() error {
	if e.watcher == nil {
		return nil
	}
	select {
	case changed, ok := <-e.watcher.Changes():
		if !ok {
			e.watcher = nil
			return nil
		}
		core.LogInfo("Shader sources changed: %v", changed)
		return e.renderer.ReloadShaders(changed)
	default:
		return nil
	}
}

// Quit stops Run after the current frame. Safe to call from any goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if fn := e.gameInstance.FnShutdown; fn != nil {
		errs = append(errs, fn())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	errs = append(errs, e.platform.Shutdown())
	core.LogInfo("Engine shut down, %.1f fps, %.2fms per frame", e.metrics.FPS(), e.metrics.FrameTime())
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) Config() *core.Config { return e.config }

func (e *Engine) Events() *core.Events { return e.events }

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }

func (e *Engine) Metrics() *core.Metrics { return e.metrics }

// FrameNumber counts presented frames.
func (e *Engine) FrameNumber() uint64 {
	if e.renderer == nil {
		return 0
	}
	return e.renderer.FrameNumber()
}

// GetFramebufferSize returns the width and height (in this order) of the
// application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func frameBudget(limit uint32) time.Duration {
	if limit == 0 {
		return 0
	}
	return time.Second / time.Duration(limit)
}

func (e *Engine) onEvent(code core.SystemEventCode, _, _ interface{}, _ core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Quit()
		return true
	}
	return false
}

func (e *Engine) onKey(_ core.SystemEventCode, sender, _ interface{}, data core.EventContext) bool {
	if data.Data.U16[0] == platform.KeyEscape {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, sender, core.EventContext{})
		return true
	}
	return false
}

func (e *Engine) onResized(_ core.SystemEventCode, _, _ interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		if err := e.renderer.Resize(width, height); err != nil {
			core.LogError("resize to %dx%d failed: %s", width, height, err)
		}
	}
	if fn := e.gameInstance.FnOnResize; fn != nil {
		if err := fn(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return true
}
