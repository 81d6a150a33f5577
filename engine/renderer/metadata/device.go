package metadata

import "time"

// Commands records into command buffers.
type Commands interface {
	BeginCommandBuffer(cmd CommandBuffer, usage CommandBufferUsage) error
	EndCommandBuffer(cmd CommandBuffer) error

	CmdBeginRenderPass(cmd CommandBuffer, info *RenderPassBeginInfo)
	CmdNextSubpass(cmd CommandBuffer)
	CmdEndRenderPass(cmd CommandBuffer)
	CmdSetViewport(cmd CommandBuffer, viewport Viewport)
	CmdSetScissor(cmd CommandBuffer, scissor Rect2D)

	CmdBindPipeline(cmd CommandBuffer, bindPoint PipelineBindPoint, pipeline Pipeline)
	CmdBindDescriptorSets(cmd CommandBuffer, bindPoint PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	CmdBindVertexBuffers(cmd CommandBuffer, firstBinding uint32, buffers []Buffer, offsets []uint64)
	CmdBindIndexBuffer(cmd CommandBuffer, buffer Buffer, offset uint64, indexType IndexType)
	CmdDraw(cmd CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cmd CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdDispatch(cmd CommandBuffer, x, y, z uint32)

	CmdCopyBuffer(cmd CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdBufferBarrier(cmd CommandBuffer, srcStage, dstStage PipelineStage, barriers []BufferMemoryBarrier)
}

// Device is the graphics API capability surface used by the renderer core.
// Implementations must be safe to use from one goroutine per Context; queue
// submission is serialized by the implementation.
type Device interface {
	Commands

	Limits() DeviceLimits
	MemoryTypes() []MemoryType
	WaitIdle() error

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreatePipelineLayout(setLayouts []DescriptorSetLayout, pushConstants []PushConstantRange) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)

	CreatePipelineCache(initialData []byte) (PipelineCache, error)
	PipelineCacheData(cache PipelineCache) ([]byte, error)
	DestroyPipelineCache(cache PipelineCache)
	CreateGraphicsPipeline(cache PipelineCache, info *GraphicsPipelineCreateInfo) (Pipeline, error)
	CreateComputePipeline(cache PipelineCache, info *ComputePipelineCreateInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []WriteDescriptorSet)

	CreateCommandPool(queueFamilyIndex uint32) (CommandPool, error)
	ResetCommandPool(pool CommandPool) error
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffer(pool CommandPool, level CommandBufferLevel) (CommandBuffer, error)

	CreateQueryPool(queryCount uint32) (QueryPool, error)
	DestroyQueryPool(pool QueryPool)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence blocks for at most timeout. A timeout is reported as
	// FenceTimeout with a nil error.
	WaitForFence(fence Fence, timeout time.Duration) (FenceStatus, error)
	ResetFence(fence Fence) error

	CreateFramebuffer(renderPass RenderPass, attachments []ImageView, width, height uint32) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, MemoryRequirements, error)
	DestroyBuffer(buffer Buffer)
	AllocateMemory(size uint64, memoryTypeIndex uint32) (DeviceMemory, error)
	FreeMemory(memory DeviceMemory)
	BindBufferMemory(buffer Buffer, memory DeviceMemory, offset uint64) error
	// MapMemory returns a byte slice aliasing the mapped range.
	MapMemory(memory DeviceMemory, offset, size uint64) ([]byte, error)
	UnmapMemory(memory DeviceMemory)

	QueueSubmit(queue Queue, submits []SubmitInfo, fence Fence) error
}

// Swapchain is the presentation surface consumed by the renderer front end.
type Swapchain interface {
	ImageCount() int
	Extent() Extent2D
	ColorFormat() Format
	DepthFormat() Format
	ColorView(index uint32) ImageView
	DepthView(index uint32) ImageView
	// AcquireNextImage may block. It returns core.ErrSwapchainBooting when the
	// swapchain had to be recreated.
	AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error)
	Present(queue Queue, wait []Semaphore, index uint32) error
	Recreate(width, height uint32) error
	Destroy()
}
