package metadata

// Opaque object handles handed out by a Device. The zero value is the null handle.
type (
	Buffer              uint64
	DeviceMemory        uint64
	CommandPool         uint64
	CommandBuffer       uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	DescriptorSetLayout uint64
	PipelineLayout      uint64
	Pipeline            uint64
	PipelineCache       uint64
	ShaderModule        uint64
	RenderPass          uint64
	Framebuffer         uint64
	Semaphore           uint64
	Fence               uint64
	QueryPool           uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	Queue               uint64
)

// WholeSize selects the remainder of a buffer from the given offset.
const WholeSize = ^uint64(0)
