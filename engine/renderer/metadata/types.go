package metadata

type DescriptorSetLayoutBinding struct {
	Binding         uint32
	DescriptorType  DescriptorType
	DescriptorCount uint32
	StageFlags      ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler     Sampler
	ImageView   ImageView
	ImageLayout ImageLayout
}

// WriteDescriptorSet updates a single array element of one binding.
// Exactly one of ImageInfo and BufferInfo is set, depending on DescriptorType.
type WriteDescriptorSet struct {
	DstSet          DescriptorSet
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorType  DescriptorType
	ImageInfo       *DescriptorImageInfo
	BufferInfo      *DescriptorBufferInfo
}

type PushConstantRange struct {
	StageFlags ShaderStage
	Offset     uint32
	Size       uint32
}

type VertexInputBindingDescription struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

type VertexInputAttributeDescription struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type InputAssemblyState struct {
	Topology               PrimitiveTopology
	PrimitiveRestartEnable bool
}

type RasterizationState struct {
	DepthClampEnable        bool
	RasterizerDiscardEnable bool
	PolygonMode             PolygonMode
	CullMode                CullMode
	FrontFace               FrontFace
	DepthBiasEnable         bool
	DepthBiasConstantFactor float32
	DepthBiasClamp          float32
	DepthBiasSlopeFactor    float32
	LineWidth               float32
}

type MultisampleState struct {
	RasterizationSamples  SampleCount
	SampleShadingEnable   bool
	MinSampleShading      float32
	AlphaToCoverageEnable bool
	AlphaToOneEnable      bool
}

type StencilOpState struct {
	FailOp      StencilOp
	PassOp      StencilOp
	DepthFailOp StencilOp
	CompareOp   CompareOp
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

type DepthStencilState struct {
	DepthTestEnable       bool
	DepthWriteEnable      bool
	DepthCompareOp        CompareOp
	DepthBoundsTestEnable bool
	StencilTestEnable     bool
	Front                 StencilOpState
	Back                  StencilOpState
	MinDepthBounds        float32
	MaxDepthBounds        float32
}

type ColorBlendAttachmentState struct {
	BlendEnable         bool
	SrcColorBlendFactor BlendFactor
	DstColorBlendFactor BlendFactor
	ColorBlendOp        BlendOp
	SrcAlphaBlendFactor BlendFactor
	DstAlphaBlendFactor BlendFactor
	AlphaBlendOp        BlendOp
	ColorWriteMask      ColorComponent
}

type ColorBlendState struct {
	LogicOpEnable  bool
	LogicOp        LogicOp
	BlendConstants [4]float32
}

type ShaderStageInfo struct {
	Stage      ShaderStage
	Module     ShaderModule
	EntryPoint string
}

type GraphicsPipelineCreateInfo struct {
	Stages             []ShaderStageInfo
	VertexBindings     []VertexInputBindingDescription
	VertexAttributes   []VertexInputAttributeDescription
	InputAssembly      InputAssemblyState
	PatchControlPoints uint32
	Rasterization      RasterizationState
	Multisample        MultisampleState
	DepthStencil       DepthStencilState
	ColorBlend         ColorBlendState
	BlendAttachments   []ColorBlendAttachmentState
	DynamicStates      []DynamicState
	Layout             PipelineLayout
	RenderPass         RenderPass
	Subpass            uint32
	BasePipelineIndex  int32
}

type ComputePipelineCreateInfo struct {
	Stage  ShaderStageInfo
	Layout PipelineLayout
}

type Offset2D struct {
	X, Y int32
}

type Extent2D struct {
	Width, Height uint32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y, Width, Height, MinDepth, MaxDepth float32
}

// ClearValue clears either a colour attachment or, when DepthStencil is set, a
// depth/stencil attachment.
type ClearValue struct {
	Color        [4]float32
	Depth        float32
	Stencil      uint32
	DepthStencil bool
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepthStencil(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil, DepthStencil: true}
}

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	RenderArea  Rect2D
	ClearValues []ClearValue
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitDstStageMask []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferMemoryBarrier struct {
	SrcAccess Access
	DstAccess Access
	Buffer    Buffer
	Offset    uint64
	Size      uint64
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type MemoryType struct {
	PropertyFlags MemoryProperty
	HeapIndex     uint32
}

type DeviceLimits struct {
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	NonCoherentAtomSize             uint64
	MaxBoundDescriptorSets          uint32
}

// FindMemoryType returns the index of the first memory type allowed by
// typeBits that has every requested property.
func FindMemoryType(types []MemoryType, typeBits uint32, props MemoryProperty) (uint32, bool) {
	for i, t := range types {
		if typeBits&(1<<uint(i)) != 0 && t.PropertyFlags&props == props {
			return uint32(i), true
		}
	}
	return 0, false
}
