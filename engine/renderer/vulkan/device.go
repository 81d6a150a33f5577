package vulkan

import (
	"fmt"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

type deviceRequirements struct {
	graphics          bool
	present           bool
	compute           bool
	transfer          bool
	samplerAnisotropy bool
	discreteGPU       bool
	extensions        []string
}

// queueFamilies holds family indices, -1 when absent.
type queueFamilies struct {
	graphics int32
	present  int32
	compute  int32
	transfer int32
}

func (q queueFamilies) meets(r deviceRequirements) bool {
	return (!r.graphics || q.graphics >= 0) &&
		(!r.present || q.present >= 0) &&
		(!r.compute || q.compute >= 0) &&
		(!r.transfer || q.transfer >= 0)
}

type queueEntry struct {
	handle vk.Queue
	family uint32
}

type commandBufferEntry struct {
	handle vk.CommandBuffer
	pool   uint64
}

type descriptorSetEntry struct {
	handle vk.DescriptorSet
	pool   uint64
}

type memoryEntry struct {
	handle vk.DeviceMemory
	size   uint64
}

// Device implements metadata.Device on a Vulkan logical device.
type Device struct {
	physical  vk.PhysicalDevice
	handle    vk.Device
	surface   vk.Surface
	name      string
	families  queueFamilies
	support   swapchainSupport
	features  vk.PhysicalDeviceFeatures
	limits    metadata.DeviceLimits
	memTypes  []metadata.MemoryType
	depthFmt  vk.Format
	locks     *LockPool
	graphicsQ metadata.Queue
	presentQ  metadata.Queue
	transferQ metadata.Queue

	next            atomic.Uint64
	queues          *handleTable[queueEntry]
	buffers         *handleTable[vk.Buffer]
	memories        *handleTable[memoryEntry]
	images          *handleTable[vk.Image]
	imageViews      *handleTable[vk.ImageView]
	samplers        *handleTable[vk.Sampler]
	commandPools    *handleTable[vk.CommandPool]
	commandBuffers  *handleTable[commandBufferEntry]
	descriptorPools *handleTable[vk.DescriptorPool]
	descriptorSets  *handleTable[descriptorSetEntry]
	setLayouts      *handleTable[vk.DescriptorSetLayout]
	pipelineLayouts *handleTable[vk.PipelineLayout]
	pipelineCaches  *handleTable[vk.PipelineCache]
	pipelines       *handleTable[vk.Pipeline]
	shaderModules   *handleTable[vk.ShaderModule]
	renderPasses    *handleTable[vk.RenderPass]
	framebuffers    *handleTable[vk.Framebuffer]
	semaphores      *handleTable[vk.Semaphore]
	fences          *handleTable[vk.Fence]
	queryPools      *handleTable[vk.QueryPool]
}

var _ metadata.Device = (*Device)(nil)

func newDeviceTables() *Device {
	d := &Device{locks: NewLockPool()}
	d.queues = newHandleTable[queueEntry](&d.next)
	d.buffers = newHandleTable[vk.Buffer](&d.next)
	d.memories = newHandleTable[memoryEntry](&d.next)
	d.images = newHandleTable[vk.Image](&d.next)
	d.imageViews = newHandleTable[vk.ImageView](&d.next)
	d.samplers = newHandleTable[vk.Sampler](&d.next)
	d.commandPools = newHandleTable[vk.CommandPool](&d.next)
	d.commandBuffers = newHandleTable[commandBufferEntry](&d.next)
	d.descriptorPools = newHandleTable[vk.DescriptorPool](&d.next)
	d.descriptorSets = newHandleTable[descriptorSetEntry](&d.next)
	d.setLayouts = newHandleTable[vk.DescriptorSetLayout](&d.next)
	d.pipelineLayouts = newHandleTable[vk.PipelineLayout](&d.next)
	d.pipelineCaches = newHandleTable[vk.PipelineCache](&d.next)
	d.pipelines = newHandleTable[vk.Pipeline](&d.next)
	d.shaderModules = newHandleTable[vk.ShaderModule](&d.next)
	d.renderPasses = newHandleTable[vk.RenderPass](&d.next)
	d.framebuffers = newHandleTable[vk.Framebuffer](&d.next)
	d.semaphores = newHandleTable[vk.Semaphore](&d.next)
	d.fences = newHandleTable[vk.Fence](&d.next)
	d.queryPools = newHandleTable[vk.QueryPool](&d.next)
	return d
}

// NewDevice selects the first physical device meeting the requirements and
// creates the logical device with one queue per distinct family.
func NewDevice(instance vk.Instance, surface vk.Surface, req deviceRequirements) (*Device, error) {
	d := newDeviceTables()
	d.surface = surface
	if err := d.selectPhysicalDevice(instance, req); err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")
	indices := []uint32{uint32(d.families.graphics)}
	for _, f := range []int32{d.families.present, d.families.transfer} {
		if f >= 0 && !containsFamily(indices, uint32(f)) {
			indices = append(indices, uint32(f))
		}
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, family := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	features := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: d.features.SamplerAnisotropy,
	}
	extensions := append([]string(nil), req.extensions...)
	if hasDeviceExtension(d.physical, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	var handle vk.Device
	if err := check("vkCreateDevice", vk.CreateDevice(d.physical, &info, nil, &handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	d.handle = handle
	core.LogInfo("Logical device created.")

	d.graphicsQ = d.queue(uint32(d.families.graphics))
	d.presentQ = d.queue(uint32(d.families.present))
	d.transferQ = d.queue(uint32(d.families.transfer))
	core.LogInfo("Queues obtained.")

	if !d.detectDepthFormat() {
		d.destroy()
		core.LogError(ErrNoDepthFormat.Error())
		return nil, ErrNoDepthFormat
	}
	return d, nil
}

func (d *Device) queue(family uint32) metadata.Queue {
	var q vk.Queue
	vk.GetDeviceQueue(d.handle, family, 0, &q)
	d.locks.SetQueueFamily(family)
	return metadata.Queue(d.queues.put(queueEntry{handle: q, family: family}))
}

func containsFamily(list []uint32, f uint32) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}

func (d *Device) selectPhysicalDevice(instance vk.Instance, req deviceRequirements) error {
	var count uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		core.LogError("No devices which support Vulkan were found.")
		return ErrNoSuitableDevice
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(instance, &count, devices)); err != nil {
		return err
	}

	for _, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()
		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
		memory.Deref()

		name := cString(props.DeviceName[:])
		families, support, ok := meetsRequirements(pd, d.surface, name, &props, &features, req)
		if !ok {
			continue
		}

		core.LogInfo("Selected device: '%s'.", name)
		logDeviceType(props.DeviceType)
		core.LogInfo("GPU Driver version: %d.%d.%d",
			vk.Version(props.DriverVersion).Major(),
			vk.Version(props.DriverVersion).Minor(),
			vk.Version(props.DriverVersion).Patch())
		core.LogInfo("Vulkan API version: %d.%d.%d",
			vk.Version(props.ApiVersion).Major(),
			vk.Version(props.ApiVersion).Minor(),
			vk.Version(props.ApiVersion).Patch())

		d.physical = pd
		d.name = name
		d.families = families
		d.support = support
		d.features = features
		d.readLimits(props)
		d.readMemory(memory)
		core.LogInfo("Physical device selected.")
		return nil
	}
	core.LogError("No physical devices were found which meet the requirements.")
	return ErrNoSuitableDevice
}

func logDeviceType(t vk.PhysicalDeviceType) {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
}

func (d *Device) readLimits(props vk.PhysicalDeviceProperties) {
	limits := props.Limits
	limits.Deref()
	d.limits = metadata.DeviceLimits{
		MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
		NonCoherentAtomSize:             uint64(limits.NonCoherentAtomSize),
		MaxBoundDescriptorSets:          limits.MaxBoundDescriptorSets,
	}
}

func (d *Device) readMemory(memory vk.PhysicalDeviceMemoryProperties) {
	d.memTypes = make([]metadata.MemoryType, memory.MemoryTypeCount)
	for i := range d.memTypes {
		t := memory.MemoryTypes[i]
		t.Deref()
		d.memTypes[i] = metadata.MemoryType{
			PropertyFlags: metadata.MemoryProperty(t.PropertyFlags),
			HeapIndex:     t.HeapIndex,
		}
	}
	for i := 0; i < int(memory.MemoryHeapCount); i++ {
		heap := memory.MemoryHeaps[i]
		heap.Deref()
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func meetsRequirements(pd vk.PhysicalDevice, surface vk.Surface, name string, props *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, req deviceRequirements) (queueFamilies, swapchainSupport, bool) {
	families := queueFamilies{graphics: -1, present: -1, compute: -1, transfer: -1}
	if req.discreteGPU && props.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device '%s' is not a discrete GPU, and one is required. Skipping.", name)
		return families, swapchainSupport{}, false
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	qprops := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, qprops)

	// The transfer family with the fewest other capabilities wins; it is the
	// most likely to be a dedicated transfer queue.
	minTransferScore := 255
	for i := range qprops {
		qprops[i].Deref()
		flags := vk.QueueFlagBits(qprops[i].QueueFlags)
		score := 0
		if flags&vk.QueueGraphicsBit != 0 {
			if families.graphics < 0 {
				families.graphics = int32(i)
			}
			score++
		}
		if flags&vk.QueueComputeBit != 0 {
			if families.compute < 0 {
				families.compute = int32(i)
			}
			score++
		}
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			families.transfer = int32(i)
		}
		var present vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), surface, &present); !IsSuccess(res) {
			return families, swapchainSupport{}, false
		}
		// Prefer presenting from the graphics family.
		if present == vk.True && (families.present < 0 || int32(i) == families.graphics) {
			families.present = int32(i)
		}
	}

	core.LogDebug("Graphics %d | Present %d | Compute %d | Transfer %d | %s",
		families.graphics, families.present, families.compute, families.transfer, name)
	if !families.meets(req) {
		return families, swapchainSupport{}, false
	}

	support, err := querySwapchainSupport(pd, surface)
	if err != nil || len(support.formats) == 0 || len(support.presentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return families, support, false
	}
	for _, ext := range req.extensions {
		if !hasDeviceExtension(pd, ext) {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return families, support, false
		}
	}
	if req.samplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return families, support, false
	}
	return families, support, true
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); !IsSuccess(res) || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, available); !IsSuccess(res) {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	want := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, f := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, f, &props)
		props.Deref()
		if props.LinearTilingFeatures&want == want || props.OptimalTilingFeatures&want == want {
			d.depthFmt = f
			return true
		}
	}
	return false
}

func (d *Device) Name() string { return d.name }

func (d *Device) GraphicsQueue() metadata.Queue { return d.graphicsQ }

func (d *Device) PresentQueue() metadata.Queue { return d.presentQ }

func (d *Device) TransferQueue() metadata.Queue { return d.transferQ }

func (d *Device) GraphicsFamily() uint32 { return uint32(d.families.graphics) }

func (d *Device) Limits() metadata.DeviceLimits { return d.limits }

func (d *Device) MemoryTypes() []metadata.MemoryType { return d.memTypes }

func (d *Device) WaitIdle() error {
	return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
}

// QueueSubmit serializes on the queue family of queue.
func (d *Device) QueueSubmit(queue metadata.Queue, submits []metadata.SubmitInfo, fence metadata.Fence) error {
	q := d.queues.get(uint64(queue))
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]vk.PipelineStageFlags, len(s.WaitDstStageMask))
		for j, st := range s.WaitDstStageMask {
			stages[j] = vk.PipelineStageFlags(st)
		}
		cmds := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, c := range s.CommandBuffers {
			cmds[j] = d.commandBuffers.get(uint64(c)).handle
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(s.WaitSemaphores)),
			PWaitSemaphores:      resolve(d.semaphores, s.WaitSemaphores),
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cmds)),
			PCommandBuffers:      cmds,
			SignalSemaphoreCount: uint32(len(s.SignalSemaphores)),
			PSignalSemaphores:    resolve(d.semaphores, s.SignalSemaphores),
		}
	}
	vf := d.fences.get(uint64(fence))
	return d.locks.SafeQueueCall(q.family, func() error {
		res := vk.QueueSubmit(q.handle, uint32(len(infos)), infos, vf)
		if err := check("vkQueueSubmit", res); err != nil {
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

func (d *Device) CreateQueryPool(queryCount uint32) (metadata.QueryPool, error) {
	var pool vk.QueryPool
	res := vk.CreateQueryPool(d.handle, &vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: queryCount,
	}, nil, &pool)
	if err := check("vkCreateQueryPool", res); err != nil {
		return 0, err
	}
	return metadata.QueryPool(d.queryPools.put(pool)), nil
}

func (d *Device) DestroyQueryPool(pool metadata.QueryPool) {
	if p, ok := d.queryPools.take(uint64(pool)); ok {
		vk.DestroyQueryPool(d.handle, p, nil)
	}
}

func nanoseconds(timeout time.Duration) uint64 {
	if timeout < 0 {
		return vk.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func (d *Device) destroy() {
	if d.handle == nil {
		return
	}
	if n := d.leaked(); n > 0 {
		core.LogWarn("destroying device '%s' with %d live objects", d.name, n)
	}
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
	d.physical = nil
}

func (d *Device) leaked() int {
	return d.buffers.len() + d.memories.len() + d.images.len() + d.imageViews.len() +
		d.commandPools.len() + d.descriptorPools.len() + d.setLayouts.len() +
		d.pipelineLayouts.len() + d.pipelineCaches.len() + d.pipelines.len() +
		d.shaderModules.len() + d.renderPasses.len() + d.framebuffers.len() +
		d.semaphores.len() + d.fences.len() + d.queryPools.len() + d.samplers.len()
}

func (d *Device) String() string {
	return fmt.Sprintf("vulkan device '%s'", d.name)
}
