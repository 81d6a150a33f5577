package renderer

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/jobs"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkcore/engine/renderer/render"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
	"github.com/spaghettifunk/vkcore/engine/renderer/vulkan"
)

var ErrNotRendering = errors.New("no frame in progress")

// Settings wires a Renderer to a device, the swapchain it presents to and the
// queues it submits on.
type Settings struct {
	Device         metadata.Device
	Swapchain      metadata.Swapchain
	RenderPass     metadata.RenderPass
	GraphicsQueue  metadata.Queue
	PresentQueue   metadata.Queue
	GraphicsFamily uint32

	VirtualFrames           int
	TransientMemoryPerFrame uint64
	// PipelineCachePath is where the driver pipeline cache blob is loaded
	// from and saved to. Empty disables persistence.
	PipelineCachePath string
	FenceTimeout      time.Duration
	ClearColor        [4]float32
}

// Renderer drives the default context against the swapchain: one
// StartRender / FinishRender pair per frame.
type Renderer struct {
	settings  Settings
	device    metadata.Device
	swapchain metadata.Swapchain
	cache     metadata.PipelineCache
	context   *render.Context
	shaders   []*shader.Shader
	jobs      *jobs.Pool
	backend   *vulkan.Backend

	imageIndex  uint32
	rendering   bool
	frameNumber uint64
}

// NewVulkan creates the vulkan backend for window and a Renderer on top of it.
func NewVulkan(cfg *core.Config, window vulkan.Window) (*Renderer, error) {
	backend, err := vulkan.NewBackend(vulkan.Config{
		ApplicationName: cfg.Application.Name,
		Validation:      cfg.Renderer.Validation,
		VSync:           cfg.Renderer.VSync,
	}, window, cfg.Application.StartWidth, cfg.Application.StartHeight)
	if err != nil {
		return nil, err
	}
	device := backend.Device()
	r, err := New(Settings{
		Device:                  device,
		Swapchain:               backend.Swapchain(),
		RenderPass:              backend.RenderPass(),
		GraphicsQueue:           device.GraphicsQueue(),
		PresentQueue:            device.PresentQueue(),
		GraphicsFamily:          device.GraphicsFamily(),
		VirtualFrames:           int(cfg.Renderer.VirtualFrames),
		TransientMemoryPerFrame: cfg.Renderer.TransientMemoryPerFrame,
		PipelineCachePath:       cfg.Renderer.PipelineCachePath,
		FenceTimeout:            time.Duration(cfg.Renderer.FenceTimeout),
		ClearColor:              [4]float32{0.1, 0.1, 0.12, 1},
	})
	if err != nil {
		backend.Destroy()
		return nil, err
	}
	r.backend = backend
	return r, nil
}

// New loads the driver pipeline cache and sets up the default context.
func New(settings Settings) (*Renderer, error) {
	if settings.Device == nil || settings.Swapchain == nil {
		return nil, fmt.Errorf("%w: renderer needs a device and a swapchain", render.ErrInvalidSettings)
	}
	pool, err := jobs.NewPool(runtime.NumCPU(), 0)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		settings:  settings,
		device:    settings.Device,
		swapchain: settings.Swapchain,
		jobs:      pool,
	}

	if settings.PipelineCachePath != "" {
		r.cache, err = pipeline.LoadDriverCache(r.device, settings.PipelineCachePath)
	} else {
		r.cache, err = r.device.CreatePipelineCache(nil)
	}
	if err != nil {
		pool.Shutdown()
		core.LogError(err.Error())
		return nil, err
	}

	extent := r.swapchain.Extent()
	r.context, err = render.New(render.Settings{
		Name:                "default",
		Device:              r.device,
		Queue:               settings.GraphicsQueue,
		QueueFamilyIndex:    settings.GraphicsFamily,
		FrameCount:          settings.VirtualFrames,
		TransientMemorySize: settings.TransientMemoryPerFrame,
		PipelineCache:       r.cache,
		RenderPass:          settings.RenderPass,
		RenderArea:          metadata.Rect2D{Extent: extent},
		ClearValues: []metadata.ClearValue{
			metadata.ClearColor(settings.ClearColor[0], settings.ClearColor[1], settings.ClearColor[2], settings.ClearColor[3]),
			metadata.ClearDepthStencil(1, 0),
		},
		RenderToSwapchain: true,
		FenceTimeout:      settings.FenceTimeout,
	})
	if err == nil {
		err = r.context.Setup()
	}
	if err != nil {
		r.device.DestroyPipelineCache(r.cache)
		pool.Shutdown()
		return nil, err
	}
	core.LogInfo("Renderer ready: %d virtual frames, %d transient bytes each, %dx%d",
		settings.VirtualFrames, settings.TransientMemoryPerFrame, extent.Width, extent.Height)
	return r, nil
}

// Context is the default context. Draw into it between StartRender and
// FinishRender.
func (r *Renderer) Context() *render.Context { return r.context }

func (r *Renderer) Device() metadata.Device { return r.device }

func (r *Renderer) Swapchain() metadata.Swapchain { return r.swapchain }

func (r *Renderer) PipelineCache() metadata.PipelineCache { return r.cache }

func (r *Renderer) FrameNumber() uint64 { return r.frameNumber }

// ImageIndex is the swapchain image acquired by the last StartRender.
func (r *Renderer) ImageIndex() uint32 { return r.imageIndex }

// StartRender waits for the current virtual frame, acquires a swapchain image
// and attaches it to the frame's framebuffer. core.ErrSwapchainBooting means
// the swapchain was recreated and the frame must be skipped.
func (r *Renderer) StartRender() error {
	if err := r.context.Begin(); err != nil {
		return err
	}
	index, err := r.swapchain.AcquireNextImage(r.context.ImageAcquiredSemaphore(), r.settings.FenceTimeout)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			r.syncExtent()
		}
		return err
	}
	extent := r.swapchain.Extent()
	attachments := []metadata.ImageView{r.swapchain.ColorView(index), r.swapchain.DepthView(index)}
	if err := r.context.SetupFramebuffer(attachments, extent.Width, extent.Height); err != nil {
		return err
	}
	r.imageIndex = index
	r.rendering = true
	return nil
}

// FinishRender submits the frame, presents the acquired image and moves to
// the next virtual frame.
func (r *Renderer) FinishRender() error {
	if !r.rendering {
		return ErrNotRendering
	}
	r.rendering = false
	if err := r.context.SubmitToQueue(); err != nil {
		return err
	}
	err := r.swapchain.Present(r.settings.PresentQueue, []metadata.Semaphore{r.context.RenderCompleteSemaphore()}, r.imageIndex)
	if err != nil {
		core.LogError("present failed: %s", err)
		return err
	}
	r.syncExtent()
	if err := r.context.Swap(); err != nil {
		return err
	}
	r.frameNumber++
	return nil
}

// Resize recreates the swapchain. A zero sized window is ignored until it
// gets an area again.
func (r *Renderer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("Ignoring resize to %dx%d", width, height)
		return nil
	}
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	if err := r.swapchain.Recreate(width, height); err != nil {
		core.LogError("recreating swapchain: %s", err)
		return err
	}
	r.syncExtent()
	return nil
}

func (r *Renderer) syncExtent() {
	extent := r.swapchain.Extent()
	if r.context.RenderArea().Extent != extent {
		core.LogDebug("Render area now %dx%d", extent.Width, extent.Height)
		r.context.SetRenderArea(metadata.Rect2D{Extent: extent})
	}
}

// RegisterShader makes s eligible for ReloadShaders. The renderer holds a
// reference until Shutdown.
func (r *Renderer) RegisterShader(s *shader.Shader) {
	r.shaders = append(r.shaders, s.Retain())
}

// ReloadShaders recompiles every registered shader reading one of the changed
// files, or all of them when changed is empty. Shaders compile in parallel.
// Failures that kept the previous version are logged and skipped; anything
// else is returned.
func (r *Renderer) ReloadShaders(changed []string) error {
	var selected []*shader.Shader
	var tasks []jobs.Task
	for _, s := range r.shaders {
		if len(changed) > 0 && !readsAny(s, changed) {
			continue
		}
		selected = append(selected, s)
		tasks = append(tasks, s.Reload)
	}

	var reloaded []*shader.Shader
	var fatal error
	for i, err := range r.jobs.Run(tasks) {
		s := selected[i]
		switch {
		case errors.Is(err, shader.ErrKeptPreviousVersion):
			core.LogWarn("Shader '%s' not reloaded: %s", s.Name(), err)
		case err != nil:
			fatal = errors.Join(fatal, err)
		default:
			reloaded = append(reloaded, s)
		}
	}
	if len(reloaded) > 0 {
		if err := r.device.WaitIdle(); err != nil {
			return err
		}
		for _, s := range reloaded {
			s.ReleaseRetired()
			core.LogInfo("Shader '%s' reloaded", s.Name())
		}
	}
	return fatal
}

func readsAny(s *shader.Shader, changed []string) bool {
	for _, src := range s.Sources() {
		src = filepath.Clean(src)
		for _, c := range changed {
			if filepath.Clean(c) == src {
				return true
			}
		}
	}
	return false
}

// Shutdown waits for the device, saves the pipeline cache blob and destroys
// everything the renderer created.
func (r *Renderer) Shutdown() {
	if err := r.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle on shutdown: %s", err)
	}
	for _, s := range r.shaders {
		s.Release()
	}
	r.shaders = nil
	r.context.Destroy()
	if r.settings.PipelineCachePath != "" {
		if err := pipeline.SaveDriverCache(r.device, r.cache, r.settings.PipelineCachePath); err != nil {
			core.LogWarn("pipeline cache not saved: %s", err)
		}
	}
	r.device.DestroyPipelineCache(r.cache)
	r.jobs.Shutdown()
	if r.backend != nil {
		r.backend.Destroy()
		r.backend = nil
	}
	core.LogInfo("Renderer shut down after %d frames", r.frameNumber)
}
