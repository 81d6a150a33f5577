// Package fakegpu is an in-memory metadata.Device that records what the
// renderer core asks of the GPU. Submitted work completes when its fence is
// waited on.
package fakegpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrUnknownHandle = errors.New("unknown handle")
	ErrOutOfPool     = errors.New("descriptor pool exhausted")
	ErrInjected      = errors.New("injected failure")
	ErrDeadlock      = errors.New("waiting on a fence that was never submitted")
)

// Event is one entry of the device timeline.
type Event struct {
	Op     string
	Handle uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%s:%d", e.Op, e.Handle)
}

// Op is one command recorded into a command buffer.
type Op struct {
	Name string
	// Handles holds the primary handles of the command (pipeline, sets, buffers).
	Handles []uint64
	// Values holds counts and offsets.
	Values []uint64
}

type descriptorPool struct {
	maxSets   uint32
	remaining [metadata.DescriptorTypeCount]uint32
	sets      uint32
}

type fence struct {
	signaled bool
	pending  bool
}

type memory struct {
	data   []byte
	mapped bool
}

type commandBuffer struct {
	pool      metadata.CommandPool
	recording bool
	ops       []Op
}

// Device implements metadata.Device.
type Device struct {
	mu   sync.Mutex
	next uint64

	limits metadata.DeviceLimits
	types  []metadata.MemoryType

	events []Event

	layouts     map[metadata.DescriptorSetLayout][]metadata.DescriptorSetLayoutBinding
	pools       map[metadata.DescriptorPool]*descriptorPool
	fences      map[metadata.Fence]*fence
	memories    map[metadata.DeviceMemory]*memory
	buffers     map[metadata.Buffer]uint64
	commands    map[metadata.CommandBuffer]*commandBuffer
	pipelines   map[metadata.Pipeline]bool
	cacheBlobs  map[metadata.PipelineCache][]byte
	modules     map[metadata.ShaderModule][]uint32
	poolSizes   map[metadata.DescriptorPool][]metadata.DescriptorPoolSize
	destroyed   map[string]int
	writes      []metadata.WriteDescriptorSet
	submissions [][]metadata.SubmitInfo

	// FenceTimeouts is the number of timeouts reported before a pending
	// fence signals.
	FenceTimeouts int
	timeoutsLeft  map[metadata.Fence]int

	// FailPipelines makes pipeline creation fail.
	FailPipelines bool

	PipelinesCreated      int
	DescriptorSetsCreated int
	DescriptorPoolsMade   int
}

func New() *Device {
	return &Device{
		limits: metadata.DeviceLimits{
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			NonCoherentAtomSize:             64,
			MaxBoundDescriptorSets:          8,
		},
		types: []metadata.MemoryType{
			{PropertyFlags: metadata.MemoryPropertyDeviceLocal},
			{PropertyFlags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
		},
		layouts:      make(map[metadata.DescriptorSetLayout][]metadata.DescriptorSetLayoutBinding),
		pools:        make(map[metadata.DescriptorPool]*descriptorPool),
		fences:       make(map[metadata.Fence]*fence),
		memories:     make(map[metadata.DeviceMemory]*memory),
		buffers:      make(map[metadata.Buffer]uint64),
		commands:     make(map[metadata.CommandBuffer]*commandBuffer),
		pipelines:    make(map[metadata.Pipeline]bool),
		cacheBlobs:   make(map[metadata.PipelineCache][]byte),
		modules:      make(map[metadata.ShaderModule][]uint32),
		poolSizes:    make(map[metadata.DescriptorPool][]metadata.DescriptorPoolSize),
		destroyed:    make(map[string]int),
		timeoutsLeft: make(map[metadata.Fence]int),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) record(op string, h uint64) {
	d.events = append(d.events, Event{Op: op, Handle: h})
}

// SetLimits overrides the reported device limits.
func (d *Device) SetLimits(l metadata.DeviceLimits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits = l
}

// Events returns a copy of the timeline.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// EventsNamed filters the timeline by operation name.
func (d *Device) EventsNamed(op string) []Event {
	var out []Event
	for _, e := range d.Events() {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}

// Recorded returns the commands recorded into cmd.
func (d *Device) Recorded(cmd metadata.CommandBuffer) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.commands[cmd]; ok {
		return append([]Op(nil), cb.ops...)
	}
	return nil
}

// RecordedNamed returns the commands named name recorded into cmd.
func (d *Device) RecordedNamed(cmd metadata.CommandBuffer, name string) []Op {
	var out []Op
	for _, op := range d.Recorded(cmd) {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

func (d *Device) PoolSizes(pool metadata.DescriptorPool) []metadata.DescriptorPoolSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poolSizes[pool]
}

func (d *Device) LivePools() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pools)
}

func (d *Device) Writes() []metadata.WriteDescriptorSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]metadata.WriteDescriptorSet(nil), d.writes...)
}

func (d *Device) Submissions() [][]metadata.SubmitInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]metadata.SubmitInfo(nil), d.submissions...)
}

// Destroyed counts destroy calls per object kind, e.g. "pipeline".
func (d *Device) Destroyed(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind]
}

func (d *Device) Limits() metadata.DeviceLimits { return d.limits }

func (d *Device) MemoryTypes() []metadata.MemoryType { return d.types }

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, f := range d.fences {
		if f.pending {
			f.pending, f.signaled = false, true
			d.record("fence-signaled", uint64(h))
		}
	}
	return nil
}

func (d *Device) CreateShaderModule(code []uint32) (metadata.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 {
		return 0, fmt.Errorf("empty shader module: %w", ErrInjected)
	}
	h := metadata.ShaderModule(d.handle())
	d.modules[h] = append([]uint32(nil), code...)
	return h, nil
}

func (d *Device) DestroyShaderModule(m metadata.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, m)
	d.destroyed["shader_module"]++
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorSetLayoutBinding) (metadata.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.DescriptorSetLayout(d.handle())
	d.layouts[h] = append([]metadata.DescriptorSetLayoutBinding(nil), bindings...)
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(l metadata.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, l)
	d.destroyed["set_layout"]++
}

func (d *Device) CreatePipelineLayout(setLayouts []metadata.DescriptorSetLayout, _ []metadata.PushConstantRange) (metadata.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range setLayouts {
		if _, ok := d.layouts[l]; !ok {
			return 0, fmt.Errorf("set layout %d: %w", l, ErrUnknownHandle)
		}
	}
	return metadata.PipelineLayout(d.handle()), nil
}

func (d *Device) DestroyPipelineLayout(metadata.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed["pipeline_layout"]++
}

func (d *Device) CreatePipelineCache(initialData []byte) (metadata.PipelineCache, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.PipelineCache(d.handle())
	blob := append([]byte(nil), initialData...)
	if len(blob) == 0 {
		blob = []byte("fakegpu-pipeline-cache")
	}
	d.cacheBlobs[h] = blob
	return h, nil
}

func (d *Device) PipelineCacheData(c metadata.PipelineCache) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	blob, ok := d.cacheBlobs[c]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return append([]byte(nil), blob...), nil
}

func (d *Device) DestroyPipelineCache(c metadata.PipelineCache) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cacheBlobs, c)
	d.destroyed["pipeline_cache"]++
}

func (d *Device) CreateGraphicsPipeline(_ metadata.PipelineCache, info *metadata.GraphicsPipelineCreateInfo) (metadata.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPipelines {
		return 0, ErrInjected
	}
	if info.Layout == 0 || len(info.Stages) == 0 {
		return 0, fmt.Errorf("incomplete graphics pipeline: %w", ErrUnknownHandle)
	}
	h := metadata.Pipeline(d.handle())
	d.pipelines[h] = true
	d.PipelinesCreated++
	d.record("create-pipeline", uint64(h))
	return h, nil
}

func (d *Device) CreateComputePipeline(_ metadata.PipelineCache, info *metadata.ComputePipelineCreateInfo) (metadata.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPipelines {
		return 0, ErrInjected
	}
	if info.Stage.Module == 0 {
		return 0, fmt.Errorf("compute pipeline without module: %w", ErrUnknownHandle)
	}
	h := metadata.Pipeline(d.handle())
	d.pipelines[h] = true
	d.PipelinesCreated++
	d.record("create-compute-pipeline", uint64(h))
	return h, nil
}

func (d *Device) DestroyPipeline(p metadata.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, p)
	d.destroyed["pipeline"]++
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.DescriptorPool(d.handle())
	p := &descriptorPool{maxSets: maxSets}
	for _, s := range sizes {
		p.remaining[s.Type] += s.Count
	}
	d.pools[h] = p
	d.poolSizes[h] = append([]metadata.DescriptorPoolSize(nil), sizes...)
	d.DescriptorPoolsMade++
	d.record("create-descriptor-pool", uint64(h))
	return h, nil
}

func (d *Device) DestroyDescriptorPool(pool metadata.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pools, pool)
	d.destroyed["descriptor_pool"]++
}

func (d *Device) AllocateDescriptorSet(pool metadata.DescriptorPool, layout metadata.DescriptorSetLayout) (metadata.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return 0, fmt.Errorf("descriptor pool %d: %w", pool, ErrUnknownHandle)
	}
	bindings, ok := d.layouts[layout]
	if !ok {
		return 0, fmt.Errorf("set layout %d: %w", layout, ErrUnknownHandle)
	}
	if p.sets >= p.maxSets {
		return 0, fmt.Errorf("no sets left: %w", ErrOutOfPool)
	}
	need := p.remaining
	for _, b := range bindings {
		if need[b.DescriptorType] < b.DescriptorCount {
			return 0, fmt.Errorf("no %s descriptors left: %w", b.DescriptorType, ErrOutOfPool)
		}
		need[b.DescriptorType] -= b.DescriptorCount
	}
	p.remaining = need
	p.sets++
	h := metadata.DescriptorSet(d.handle())
	d.DescriptorSetsCreated++
	d.record("allocate-descriptor-set", uint64(h))
	return h, nil
}

func (d *Device) UpdateDescriptorSets(writes []metadata.WriteDescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, writes...)
	d.record("update-descriptor-sets", uint64(len(writes)))
}

func (d *Device) CreateCommandPool(uint32) (metadata.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.CommandPool(d.handle()), nil
}

func (d *Device) ResetCommandPool(pool metadata.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range d.commands {
		if cb.pool == pool {
			cb.ops, cb.recording = nil, false
		}
	}
	d.record("reset-command-pool", uint64(pool))
	return nil
}

func (d *Device) DestroyCommandPool(pool metadata.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, cb := range d.commands {
		if cb.pool == pool {
			delete(d.commands, h)
		}
	}
	d.destroyed["command_pool"]++
}

func (d *Device) AllocateCommandBuffer(pool metadata.CommandPool, _ metadata.CommandBufferLevel) (metadata.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.CommandBuffer(d.handle())
	d.commands[h] = &commandBuffer{pool: pool}
	return h, nil
}

func (d *Device) CreateQueryPool(uint32) (metadata.QueryPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.QueryPool(d.handle()), nil
}

func (d *Device) DestroyQueryPool(metadata.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed["query_pool"]++
}

func (d *Device) CreateSemaphore() (metadata.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.Semaphore(d.handle()), nil
}

func (d *Device) DestroySemaphore(metadata.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed["semaphore"]++
}

func (d *Device) CreateFence(signaled bool) (metadata.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.Fence(d.handle())
	d.fences[h] = &fence{signaled: signaled}
	return h, nil
}

func (d *Device) DestroyFence(f metadata.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
	d.destroyed["fence"]++
}

func (d *Device) WaitForFence(h metadata.Fence, _ time.Duration) (metadata.FenceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return metadata.FenceTimeout, fmt.Errorf("fence %d: %w", h, ErrUnknownHandle)
	}
	if f.signaled {
		d.record("wait-fence", uint64(h))
		return metadata.FenceSignaled, nil
	}
	if !f.pending {
		// nothing will ever signal it
		return metadata.FenceTimeout, fmt.Errorf("fence %d: %w", h, ErrDeadlock)
	}
	if d.timeoutsLeft[h] > 0 {
		d.timeoutsLeft[h]--
		d.record("wait-fence-timeout", uint64(h))
		return metadata.FenceTimeout, nil
	}
	f.pending, f.signaled = false, true
	d.record("fence-signaled", uint64(h))
	d.record("wait-fence", uint64(h))
	return metadata.FenceSignaled, nil
}

func (d *Device) ResetFence(h metadata.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return ErrUnknownHandle
	}
	f.signaled = false
	d.record("reset-fence", uint64(h))
	return nil
}

func (d *Device) CreateFramebuffer(metadata.RenderPass, []metadata.ImageView, uint32, uint32) (metadata.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.Framebuffer(d.handle()), nil
}

func (d *Device) DestroyFramebuffer(metadata.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed["framebuffer"]++
}

func (d *Device) CreateBuffer(size uint64, _ metadata.BufferUsage) (metadata.Buffer, metadata.MemoryRequirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.Buffer(d.handle())
	d.buffers[h] = size
	return h, metadata.MemoryRequirements{Size: size, Alignment: 256, MemoryTypeBits: 0b11}, nil
}

func (d *Device) DestroyBuffer(b metadata.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, b)
	d.destroyed["buffer"]++
}

func (d *Device) AllocateMemory(size uint64, typeIndex uint32) (metadata.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(typeIndex) >= len(d.types) {
		return 0, fmt.Errorf("memory type %d: %w", typeIndex, ErrUnknownHandle)
	}
	h := metadata.DeviceMemory(d.handle())
	d.memories[h] = &memory{data: make([]byte, size)}
	return h, nil
}

func (d *Device) FreeMemory(m metadata.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memories, m)
	d.destroyed["memory"]++
}

func (d *Device) BindBufferMemory(b metadata.Buffer, m metadata.DeviceMemory, _ uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b]; !ok {
		return ErrUnknownHandle
	}
	if _, ok := d.memories[m]; !ok {
		return ErrUnknownHandle
	}
	return nil
}

func (d *Device) MapMemory(m metadata.DeviceMemory, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories[m]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if size == metadata.WholeSize {
		size = uint64(len(mem.data)) - offset
	}
	mem.mapped = true
	return mem.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(m metadata.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memories[m]; ok {
		mem.mapped = false
	}
}

func (d *Device) QueueSubmit(_ metadata.Queue, submits []metadata.SubmitInfo, f metadata.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range submits {
		for _, cmd := range s.CommandBuffers {
			cb, ok := d.commands[cmd]
			if !ok {
				return fmt.Errorf("command buffer %d: %w", cmd, ErrUnknownHandle)
			}
			if cb.recording {
				return fmt.Errorf("command buffer %d still recording", cmd)
			}
		}
	}
	d.submissions = append(d.submissions, submits)
	d.record("queue-submit", uint64(f))
	if f != 0 {
		fe, ok := d.fences[f]
		if !ok {
			return ErrUnknownHandle
		}
		fe.pending, fe.signaled = true, false
		d.timeoutsLeft[f] = d.FenceTimeouts
	}
	return nil
}
