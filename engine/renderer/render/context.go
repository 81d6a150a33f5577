package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/draw"
	"github.com/spaghettifunk/vkcore/engine/renderer/memory"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/pipeline"
)

var (
	ErrInvalidSettings      = errors.New("invalid render context settings")
	ErrFrameNotBegun        = errors.New("frame has not begun")
	ErrFrameNotSubmitted    = errors.New("frame was begun but never submitted")
	ErrFrameSubmitted       = errors.New("frame was already submitted")
	ErrOutOfTransientMemory = errors.New("out of transient memory")
)

// DefaultFenceTimeout is how long a frame fence is waited on before a warning
// is logged and the wait starts over.
const DefaultFenceTimeout = 100 * time.Millisecond

type Settings struct {
	Name             string
	Device           metadata.Device
	Queue            metadata.Queue
	QueueFamilyIndex uint32
	// FrameCount is the number of virtual frames in flight.
	FrameCount int
	// TransientMemorySize is the transient arena size of each virtual frame.
	TransientMemorySize uint64
	// PipelineCache is the driver pipeline cache, may be null.
	PipelineCache metadata.PipelineCache
	RenderPass    metadata.RenderPass
	RenderArea    metadata.Rect2D
	ClearValues   []metadata.ClearValue
	// RenderToSwapchain makes submissions wait on the image acquired semaphore.
	RenderToSwapchain bool
	FenceTimeout      time.Duration
}

type virtualFrame struct {
	commandPool    metadata.CommandPool
	queryPool      metadata.QueryPool
	imageAcquired  metadata.Semaphore
	renderComplete metadata.Semaphore
	fence          metadata.Fence
	framebuffer    metadata.Framebuffer

	commandBuffers []metadata.CommandBuffer
}

// dependencyLink carries the semaphores one context signals for one
// dependent, one per virtual frame of the signaling context.
type dependencyLink struct {
	from, to   *Context
	semaphores []metadata.Semaphore

	mu sync.Mutex
	// pending holds signaled semaphores the dependent has not waited on yet,
	// oldest first
	pending []metadata.Semaphore
}

func (l *dependencyLink) isPending(s metadata.Semaphore) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.pending, s)
}

func (l *dependencyLink) push(s metadata.Semaphore) {
	l.mu.Lock()
	l.pending = append(l.pending, s)
	l.mu.Unlock()
}

// take hands every pending semaphore to the dependent exactly once.
func (l *dependencyLink) take() []metadata.Semaphore {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}

// restore puts back semaphores whose waiting submission failed.
func (l *dependencyLink) restore(waits []metadata.Semaphore) {
	l.mu.Lock()
	l.pending = append(waits, l.pending...)
	l.mu.Unlock()
}

type stateKey struct {
	template   *pipeline.GraphicsPipelineState
	renderPass metadata.RenderPass
	subpass    uint32
}

// Context owns the virtual frames of one stream of GPU work: command pools,
// synchronization, transient memory, pipelines and descriptor sets. A
// Context is driven from a single goroutine.
type Context struct {
	id       uuid.UUID
	settings Settings
	device   metadata.Device

	frames []virtualFrame
	index  int
	begun  bool
	// submitted is set once the current frame reached the queue
	submitted bool

	transient   *memory.BufferAllocator
	pipelines   *pipeline.Cache
	descriptors *DescriptorAllocator
	// batch pipeline states bound to a render pass and subpass
	states map[stateKey]*pipeline.GraphicsPipelineState

	// links this context waits on, and links it signals
	dependencies []*dependencyLink
	dependents   []*dependencyLink
}

func New(settings Settings) (*Context, error) {
	if settings.Device == nil || settings.FrameCount <= 0 || settings.FrameCount > 64 {
		return nil, fmt.Errorf("%w: need a device and between 1 and 64 frames, got %d", ErrInvalidSettings, settings.FrameCount)
	}
	if settings.TransientMemorySize == 0 {
		return nil, fmt.Errorf("%w: transient memory size must not be zero", ErrInvalidSettings)
	}
	if settings.TransientMemorySize > core.MaxTransientMemory/uint64(settings.FrameCount) {
		return nil, fmt.Errorf("%w: %d bytes of transient memory over %d frames exceeds %d bytes",
			ErrInvalidSettings, settings.TransientMemorySize, settings.FrameCount, uint64(core.MaxTransientMemory))
	}
	if settings.FenceTimeout <= 0 {
		settings.FenceTimeout = DefaultFenceTimeout
	}
	if settings.Name == "" {
		settings.Name = "context"
	}
	return &Context{
		id:       uuid.New(),
		settings: settings,
		device:   settings.Device,
		states:   make(map[stateKey]*pipeline.GraphicsPipelineState),
	}, nil
}

// Setup creates the per-frame objects, the transient allocator and the
// caches. Everything created so far is destroyed if a step fails.
func (c *Context) Setup() error {
	d := c.device
	c.frames = make([]virtualFrame, c.settings.FrameCount)
	for i := range c.frames {
		f := &c.frames[i]
		var err error
		if f.commandPool, err = d.CreateCommandPool(c.settings.QueueFamilyIndex); err != nil {
			return c.setupFailed("command pool", err)
		}
		if f.queryPool, err = d.CreateQueryPool(2); err != nil {
			return c.setupFailed("query pool", err)
		}
		if f.imageAcquired, err = d.CreateSemaphore(); err != nil {
			return c.setupFailed("semaphore", err)
		}
		if f.renderComplete, err = d.CreateSemaphore(); err != nil {
			return c.setupFailed("semaphore", err)
		}
		// signaled, so the first wait on every frame returns at once
		if f.fence, err = d.CreateFence(true); err != nil {
			return c.setupFailed("fence", err)
		}
	}

	transient, err := memory.NewBufferAllocator(memory.TransientSettings(d,
		c.settings.TransientMemorySize, uint32(c.settings.FrameCount)))
	if err != nil {
		return c.setupFailed("transient allocator", err)
	}
	c.transient = transient
	c.pipelines = pipeline.NewCache(d, c.settings.PipelineCache)
	c.descriptors = NewDescriptorAllocator(d, c.settings.FrameCount)

	core.LogInfo("Context '%s' set up with %d virtual frames and %d bytes of transient memory per frame",
		c.settings.Name, c.settings.FrameCount, transient.ArenaSize())
	return nil
}

func (c *Context) setupFailed(what string, err error) error {
	err = fmt.Errorf("context '%s': creating %s: %w", c.settings.Name, what, err)
	core.LogError(err.Error())
	c.Destroy()
	return err
}

func (c *Context) ID() uuid.UUID { return c.id }

func (c *Context) Name() string { return c.settings.Name }

func (c *Context) Device() metadata.Device { return c.device }

func (c *Context) FrameIndex() int { return c.index }

func (c *Context) FrameCount() int { return len(c.frames) }

func (c *Context) TransientAllocator() *memory.BufferAllocator { return c.transient }

func (c *Context) Pipelines() *pipeline.Cache { return c.pipelines }

func (c *Context) Descriptors() *DescriptorAllocator { return c.descriptors }

func (c *Context) RenderPass() metadata.RenderPass { return c.settings.RenderPass }

func (c *Context) SetRenderPass(rp metadata.RenderPass) { c.settings.RenderPass = rp }

func (c *Context) RenderArea() metadata.Rect2D { return c.settings.RenderArea }

func (c *Context) SetRenderArea(area metadata.Rect2D) { c.settings.RenderArea = area }

func (c *Context) ClearValues() []metadata.ClearValue { return c.settings.ClearValues }

func (c *Context) SetClearValues(values ...metadata.ClearValue) { c.settings.ClearValues = values }

func (c *Context) ImageAcquiredSemaphore() metadata.Semaphore { return c.frames[c.index].imageAcquired }

// RenderCompleteSemaphore is signaled by the current frame's submission for
// presentation. Only contexts rendering to the swapchain signal it.
func (c *Context) RenderCompleteSemaphore() metadata.Semaphore { return c.frames[c.index].renderComplete }

func (c *Context) Fence() metadata.Fence { return c.frames[c.index].fence }

func (c *Context) Framebuffer() metadata.Framebuffer { return c.frames[c.index].framebuffer }

// SetupFramebuffer replaces the framebuffer of the current frame.
func (c *Context) SetupFramebuffer(attachments []metadata.ImageView, width, height uint32) error {
	f := &c.frames[c.index]
	if f.framebuffer != 0 {
		c.device.DestroyFramebuffer(f.framebuffer)
		f.framebuffer = 0
	}
	fb, err := c.device.CreateFramebuffer(c.settings.RenderPass, attachments, width, height)
	if err != nil {
		return fmt.Errorf("context '%s': creating framebuffer: %w", c.settings.Name, err)
	}
	f.framebuffer = fb
	return nil
}

// AddContextDependency makes every submission of c wait until other's
// latest submission not yet waited on finished rendering. Both contexts must
// be set up; dependencies are added before the contexts run.
func (c *Context) AddContextDependency(other *Context) error {
	if other == c {
		core.LogWarn("Context '%s' cannot depend on itself", c.settings.Name)
		return nil
	}
	if len(other.frames) == 0 {
		return fmt.Errorf("%w: context '%s' is not set up", ErrInvalidSettings, other.settings.Name)
	}
	for _, l := range c.dependencies {
		if l.from == other {
			return nil
		}
	}
	l := &dependencyLink{from: other, to: c, semaphores: make([]metadata.Semaphore, len(other.frames))}
	for i := range l.semaphores {
		s, err := c.device.CreateSemaphore()
		if err != nil {
			l.destroy(c.device)
			return fmt.Errorf("context '%s': creating dependency semaphore: %w", c.settings.Name, err)
		}
		l.semaphores[i] = s
	}
	c.dependencies = append(c.dependencies, l)
	other.dependents = append(other.dependents, l)
	return nil
}

func (l *dependencyLink) destroy(d metadata.Device) {
	for _, s := range l.semaphores {
		if s != 0 {
			d.DestroySemaphore(s)
		}
	}
	l.semaphores = nil
}

// unlink removes l from both contexts and destroys its semaphores.
func (l *dependencyLink) unlink(d metadata.Device) {
	remove := func(links []*dependencyLink) []*dependencyLink {
		return slices.DeleteFunc(links, func(o *dependencyLink) bool { return o == l })
	}
	l.from.dependents = remove(l.from.dependents)
	l.to.dependencies = remove(l.to.dependencies)
	l.destroy(d)
}

func (c *Context) waitFence(fence metadata.Fence) error {
	start := time.Now()
	for {
		status, err := c.device.WaitForFence(fence, c.settings.FenceTimeout)
		if err != nil {
			err = fmt.Errorf("context '%s': waiting on frame %d fence: %w", c.settings.Name, c.index, err)
			core.LogError(err.Error())
			return err
		}
		if status == metadata.FenceSignaled {
			return nil
		}
		core.LogWarn("Context '%s': frame %d fence still not signaled after %s", c.settings.Name, c.index, time.Since(start))
	}
}

// Begin starts recording the current frame. It blocks until the GPU is done
// with the frame's previous submission.
func (c *Context) Begin() error {
	f := &c.frames[c.index]
	if err := c.waitFence(f.fence); err != nil {
		return err
	}
	if err := c.device.ResetCommandPool(f.commandPool); err != nil {
		return fmt.Errorf("context '%s': resetting command pool: %w", c.settings.Name, err)
	}
	f.commandBuffers = f.commandBuffers[:0]
	if err := c.descriptors.Update(c.index); err != nil {
		return err
	}
	c.begun, c.submitted = true, false
	return nil
}

// AllocateCommandBuffer allocates a primary command buffer from the current
// frame's pool. It stays valid until the frame begins again.
func (c *Context) AllocateCommandBuffer() (metadata.CommandBuffer, error) {
	if !c.begun {
		return 0, ErrFrameNotBegun
	}
	cmd, err := c.device.AllocateCommandBuffer(c.frames[c.index].commandPool, metadata.CommandBufferLevelPrimary)
	if err != nil {
		return 0, fmt.Errorf("context '%s': allocating command buffer: %w", c.settings.Name, err)
	}
	return cmd, nil
}

// Submit queues a recorded command buffer for the next SubmitToQueue, in
// call order.
func (c *Context) Submit(cmd metadata.CommandBuffer) error {
	if !c.begun {
		return ErrFrameNotBegun
	}
	if c.submitted {
		return ErrFrameSubmitted
	}
	f := &c.frames[c.index]
	f.commandBuffers = append(f.commandBuffers, cmd)
	return nil
}

// SubmitToQueue sends everything submitted this frame in one queue
// submission that signals the frame fence.
func (c *Context) SubmitToQueue() error {
	if !c.begun {
		return ErrFrameNotBegun
	}
	if c.submitted {
		return ErrFrameSubmitted
	}
	f := &c.frames[c.index]
	info := metadata.SubmitInfo{CommandBuffers: f.commandBuffers}
	if c.settings.RenderToSwapchain {
		info.WaitSemaphores = append(info.WaitSemaphores, f.imageAcquired)
		info.WaitDstStageMask = append(info.WaitDstStageMask, metadata.PipelineStageColorAttachmentOutput)
	}
	waited := make([][]metadata.Semaphore, len(c.dependencies))
	for i, l := range c.dependencies {
		waited[i] = l.take()
		for _, sem := range waited[i] {
			info.WaitSemaphores = append(info.WaitSemaphores, sem)
			info.WaitDstStageMask = append(info.WaitDstStageMask, metadata.PipelineStageAllCommands)
		}
	}
	// only present waits on renderComplete
	if c.settings.RenderToSwapchain {
		info.SignalSemaphores = []metadata.Semaphore{f.renderComplete}
	}
	signaled := make([]*dependencyLink, 0, len(c.dependents))
	for _, l := range c.dependents {
		sem := l.semaphores[c.index]
		if l.isPending(sem) {
			core.LogWarn("Context '%s' has not waited on frame %d of '%s' yet, skipping its signal",
				l.to.settings.Name, c.index, c.settings.Name)
			continue
		}
		info.SignalSemaphores = append(info.SignalSemaphores, sem)
		signaled = append(signaled, l)
	}
	restore := func() {
		for i, l := range c.dependencies {
			if len(waited[i]) > 0 {
				l.restore(waited[i])
			}
		}
	}

	if err := c.device.ResetFence(f.fence); err != nil {
		restore()
		return fmt.Errorf("context '%s': resetting fence: %w", c.settings.Name, err)
	}
	if err := c.device.QueueSubmit(c.settings.Queue, []metadata.SubmitInfo{info}, f.fence); err != nil {
		restore()
		err = fmt.Errorf("context '%s': queue submit: %w", c.settings.Name, err)
		core.LogError(err.Error())
		return err
	}
	for _, l := range signaled {
		l.push(l.semaphores[c.index])
	}
	c.submitted = true
	return nil
}

// Swap advances to the next virtual frame, waits until the GPU released it
// and resets its transient memory.
func (c *Context) Swap() error {
	if c.begun && !c.submitted {
		return ErrFrameNotSubmitted
	}
	c.index = (c.index + 1) % len(c.frames)
	c.transient.Swap()
	c.begun, c.submitted = false, false
	if err := c.waitFence(c.frames[c.index].fence); err != nil {
		return err
	}
	c.transient.Reset(uint32(c.index))
	return nil
}

// Dispatch records cc into its own command buffer and submits it to the
// current frame.
func (c *Context) Dispatch(cc *draw.ComputeCommand, x, y, z uint32) error {
	if !c.begun {
		return ErrFrameNotBegun
	}
	cc = cc.Clone()
	if !cc.CommitUniforms(c.transient, uint32(c.index)) {
		return fmt.Errorf("context '%s': %w", c.settings.Name, ErrOutOfTransientMemory)
	}
	p, err := c.pipelines.Resolve(cc.Pipeline())
	if err != nil {
		return err
	}
	cmd, err := c.AllocateCommandBuffer()
	if err != nil {
		return err
	}
	if err := c.device.BeginCommandBuffer(cmd, metadata.CommandBufferUsageOneTimeSubmit); err != nil {
		return err
	}
	c.device.CmdBindPipeline(cmd, metadata.PipelineBindPointCompute, p)
	sh := cc.Pipeline().Shader()
	if err := c.bindDescriptorSets(cmd, metadata.PipelineBindPointCompute, sh.PipelineLayout(), sh.SetLayouts(), cc, nil); err != nil {
		return err
	}
	c.device.CmdDispatch(cmd, x, y, z)
	if err := c.device.EndCommandBuffer(cmd); err != nil {
		return err
	}
	return c.Submit(cmd)
}

type descriptorSource interface {
	SetCount() int
	Set(i int) *draw.SetData
}

type boundSets struct {
	layout  metadata.PipelineLayout
	sets    []metadata.DescriptorSet
	offsets []uint32
}

func (b *boundSets) equal(o *boundSets) bool {
	return b.layout == o.layout && slices.Equal(b.sets, o.sets) && slices.Equal(b.offsets, o.offsets)
}

// bindDescriptorSets resolves every set of src and binds them in one call.
// If last holds the same sets the bind is skipped; last is updated.
func (c *Context) bindDescriptorSets(cmd metadata.CommandBuffer, bindPoint metadata.PipelineBindPoint,
	layout metadata.PipelineLayout, setLayouts []metadata.DescriptorSetLayout, src descriptorSource, last *boundSets,
) error {
	n := src.SetCount()
	if n == 0 {
		return nil
	}
	cur := boundSets{layout: layout, sets: make([]metadata.DescriptorSet, n)}
	for i := 0; i < n; i++ {
		data := src.Set(i)
		set, err := c.descriptors.GetDescriptorSet(data.Hash(), i, setLayouts[i], data.Slots)
		if err != nil {
			return err
		}
		cur.sets[i] = set
		cur.offsets = append(cur.offsets, data.DynamicOffsets()...)
	}
	if last != nil {
		if last.equal(&cur) {
			return nil
		}
		*last = cur
	}
	c.device.CmdBindDescriptorSets(cmd, bindPoint, layout, 0, cur.sets, cur.offsets)
	return nil
}

// batchState returns the pipeline state of template bound to the context's
// render pass and subpass.
func (c *Context) batchState(template *pipeline.GraphicsPipelineState, subpass uint32) *pipeline.GraphicsPipelineState {
	key := stateKey{template: template, renderPass: c.settings.RenderPass, subpass: subpass}
	st, ok := c.states[key]
	if !ok {
		st = template.Clone()
		st.SetRenderPass(c.settings.RenderPass)
		st.SetSubpass(subpass)
		c.states[key] = st
	}
	return st
}

// Destroy releases every object the context created, including the
// dependency semaphores shared with other contexts. The GPU must be idle.
func (c *Context) Destroy() {
	d := c.device
	for len(c.dependencies) > 0 {
		c.dependencies[0].unlink(d)
	}
	for len(c.dependents) > 0 {
		c.dependents[0].unlink(d)
	}
	for i := range c.frames {
		f := &c.frames[i]
		if f.framebuffer != 0 {
			d.DestroyFramebuffer(f.framebuffer)
		}
		if f.fence != 0 {
			d.DestroyFence(f.fence)
		}
		if f.renderComplete != 0 {
			d.DestroySemaphore(f.renderComplete)
		}
		if f.imageAcquired != 0 {
			d.DestroySemaphore(f.imageAcquired)
		}
		if f.queryPool != 0 {
			d.DestroyQueryPool(f.queryPool)
		}
		if f.commandPool != 0 {
			d.DestroyCommandPool(f.commandPool)
		}
	}
	c.frames = nil
	if c.descriptors != nil {
		c.descriptors.Destroy()
		c.descriptors = nil
	}
	if c.pipelines != nil {
		c.pipelines.Destroy()
		c.pipelines = nil
	}
	if c.transient != nil {
		c.transient.Destroy()
		c.transient = nil
	}
	clear(c.states)
}
