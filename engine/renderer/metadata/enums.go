package metadata

// The numeric values of the enums below match their Vulkan counterparts so a
// backend can convert them with a plain cast.

type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeUniformTexelBuffer
	DescriptorTypeStorageTexelBuffer
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBufferDynamic
	DescriptorTypeInputAttachment

	// DescriptorTypeCount is the number of descriptor types tracked by pool counters.
	DescriptorTypeCount = int(DescriptorTypeInputAttachment) + 1
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined_image_sampler"
	case DescriptorTypeSampledImage:
		return "sampled_image"
	case DescriptorTypeStorageImage:
		return "storage_image"
	case DescriptorTypeUniformTexelBuffer:
		return "uniform_texel_buffer"
	case DescriptorTypeStorageTexelBuffer:
		return "storage_texel_buffer"
	case DescriptorTypeUniformBuffer:
		return "uniform_buffer"
	case DescriptorTypeStorageBuffer:
		return "storage_buffer"
	case DescriptorTypeUniformBufferDynamic:
		return "uniform_buffer_dynamic"
	case DescriptorTypeStorageBufferDynamic:
		return "storage_buffer_dynamic"
	case DescriptorTypeInputAttachment:
		return "input_attachment"
	}
	return "unknown"
}

// IsImage reports whether the descriptor references an image rather than a buffer.
func (t DescriptorType) IsImage() bool {
	switch t {
	case DescriptorTypeSampler, DescriptorTypeCombinedImageSampler, DescriptorTypeSampledImage,
		DescriptorTypeStorageImage, DescriptorTypeInputAttachment:
		return true
	}
	return false
}

func (t DescriptorType) IsDynamic() bool {
	return t == DescriptorTypeUniformBufferDynamic || t == DescriptorTypeStorageBufferDynamic
}

type ShaderStage uint32

const (
	ShaderStageVertex         ShaderStage = 0x01
	ShaderStageTessControl    ShaderStage = 0x02
	ShaderStageTessEvaluation ShaderStage = 0x04
	ShaderStageGeometry       ShaderStage = 0x08
	ShaderStageFragment       ShaderStage = 0x10
	ShaderStageCompute        ShaderStage = 0x20
)

// ShaderStages lists every single stage bit in pipeline order.
var ShaderStages = []ShaderStage{
	ShaderStageVertex,
	ShaderStageTessControl,
	ShaderStageTessEvaluation,
	ShaderStageGeometry,
	ShaderStageFragment,
	ShaderStageCompute,
}

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageTessControl:
		return "tess_control"
	case ShaderStageTessEvaluation:
		return "tess_evaluation"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return "mixed"
}

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR32Sfloat          Format = 100
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

type PrimitiveTopology uint32

const (
	PrimitiveTopologyPointList PrimitiveTopology = iota
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyTriangleList
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyTriangleFan
	PrimitiveTopologyLineListWithAdjacency
	PrimitiveTopologyLineStripWithAdjacency
	PrimitiveTopologyTriangleListWithAdjacency
	PrimitiveTopologyTriangleStripWithAdjacency
	PrimitiveTopologyPatchList
)

type PolygonMode uint32

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeLine
	PolygonModePoint
)

type CullMode uint32

const (
	CullModeNone         CullMode = 0
	CullModeFront        CullMode = 1
	CullModeBack         CullMode = 2
	CullModeFrontAndBack CullMode = 3
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type CompareOp uint32

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type StencilOp uint32

const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpIncrementAndClamp
	StencilOpDecrementAndClamp
	StencilOpInvert
	StencilOpIncrementAndWrap
	StencilOpDecrementAndWrap
)

type BlendFactor uint32

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorOneMinusSrcColor
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
	BlendFactorDstAlpha
	BlendFactorOneMinusDstAlpha
)

type BlendOp uint32

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

type LogicOp uint32

const (
	LogicOpClear LogicOp = 0
	LogicOpCopy  LogicOp = 3
)

type ColorComponent uint32

const (
	ColorComponentR    ColorComponent = 0x1
	ColorComponentG    ColorComponent = 0x2
	ColorComponentB    ColorComponent = 0x4
	ColorComponentA    ColorComponent = 0x8
	ColorComponentRGBA                = ColorComponentR | ColorComponentG | ColorComponentB | ColorComponentA
)

type DynamicState uint32

const (
	DynamicStateViewport DynamicState = iota
	DynamicStateScissor
	DynamicStateLineWidth
	DynamicStateDepthBias
	DynamicStateBlendConstants
	DynamicStateDepthBounds
	DynamicStateStencilCompareMask
	DynamicStateStencilWriteMask
	DynamicStateStencilReference
)

type SampleCount uint32

const (
	SampleCount1  SampleCount = 0x01
	SampleCount2  SampleCount = 0x02
	SampleCount4  SampleCount = 0x04
	SampleCount8  SampleCount = 0x08
	SampleCount16 SampleCount = 0x10
)

type ImageLayout uint32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachmentOptimal ImageLayout = 2
	ImageLayoutDepthStencilOptimal    ImageLayout = 3
	ImageLayoutShaderReadOnlyOptimal  ImageLayout = 5
	ImageLayoutTransferDstOptimal     ImageLayout = 7
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

type IndexType uint32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

func (t IndexType) Size() uint64 {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

type PipelineBindPoint uint32

const (
	PipelineBindPointGraphics PipelineBindPoint = 0
	PipelineBindPointCompute  PipelineBindPoint = 1
)

type CommandBufferLevel uint32

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit      CommandBufferUsage = 0x1
	CommandBufferUsageRenderPassContinue CommandBufferUsage = 0x2
	CommandBufferUsageSimultaneousUse    CommandBufferUsage = 0x4
)

type VertexInputRate uint32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc   BufferUsage = 0x001
	BufferUsageTransferDst   BufferUsage = 0x002
	BufferUsageUniformBuffer BufferUsage = 0x010
	BufferUsageStorageBuffer BufferUsage = 0x020
	BufferUsageIndexBuffer   BufferUsage = 0x040
	BufferUsageVertexBuffer  BufferUsage = 0x080
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x1
	MemoryPropertyHostVisible  MemoryProperty = 0x2
	MemoryPropertyHostCoherent MemoryProperty = 0x4
	MemoryPropertyHostCached   MemoryProperty = 0x8
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x00001
	PipelineStageVertexInput           PipelineStage = 0x00004
	PipelineStageVertexShader          PipelineStage = 0x00008
	PipelineStageFragmentShader        PipelineStage = 0x00080
	PipelineStageColorAttachmentOutput PipelineStage = 0x00400
	PipelineStageComputeShader         PipelineStage = 0x00800
	PipelineStageTransfer              PipelineStage = 0x01000
	PipelineStageBottomOfPipe          PipelineStage = 0x02000
	PipelineStageAllCommands           PipelineStage = 0x10000
)

type Access uint32

const (
	AccessIndexRead            Access = 0x00002
	AccessVertexAttributeRead  Access = 0x00004
	AccessUniformRead          Access = 0x00008
	AccessShaderRead           Access = 0x00020
	AccessShaderWrite          Access = 0x00040
	AccessColorAttachmentWrite Access = 0x00100
	AccessTransferRead         Access = 0x00800
	AccessTransferWrite        Access = 0x01000
)

// FenceStatus is the outcome of a bounded fence wait.
type FenceStatus int

const (
	FenceSignaled FenceStatus = iota
	FenceTimeout
)
