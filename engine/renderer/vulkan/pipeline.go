package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) CreateShaderModule(code []uint32) (metadata.ShaderModule, error) {
	var module vk.ShaderModule
	res := vk.CreateShaderModule(d.handle, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if err := check("vkCreateShaderModule", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.ShaderModule(d.shaderModules.put(module)), nil
}

func (d *Device) DestroyShaderModule(module metadata.ShaderModule) {
	if m, ok := d.shaderModules.take(uint64(module)); ok {
		vk.DestroyShaderModule(d.handle, m, nil)
	}
}

func (d *Device) CreatePipelineLayout(setLayouts []metadata.DescriptorSetLayout, pushConstants []metadata.PushConstantRange) (metadata.PipelineLayout, error) {
	// 128 bytes of push constants at 4 byte granularity.
	if len(pushConstants) > 32 {
		return 0, fmt.Errorf("cannot have more than 32 push constant ranges, got %d", len(pushConstants))
	}
	ranges := make([]vk.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: vk.ShaderStageFlags(r.StageFlags),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            resolve(d.setLayouts, setLayouts),
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	err := d.locks.SafeCall(PipelineManagement, func() error {
		return check("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.handle, &info, nil, &layout))
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.PipelineLayout(d.pipelineLayouts.put(layout)), nil
}

func (d *Device) DestroyPipelineLayout(layout metadata.PipelineLayout) {
	if l, ok := d.pipelineLayouts.take(uint64(layout)); ok {
		vk.DestroyPipelineLayout(d.handle, l, nil)
	}
}

// CreatePipelineCache seeds the cache with initialData. A blob the driver
// rejects is reported by the driver as an empty cache, not an error.
func (d *Device) CreatePipelineCache(initialData []byte) (metadata.PipelineCache, error) {
	info := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initialData) > 0 {
		info.InitialDataSize = uint(len(initialData))
		info.PInitialData = unsafe.Pointer(&initialData[0])
	}
	var cache vk.PipelineCache
	if err := check("vkCreatePipelineCache", vk.CreatePipelineCache(d.handle, &info, nil, &cache)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.PipelineCache(d.pipelineCaches.put(cache)), nil
}

func (d *Device) PipelineCacheData(cache metadata.PipelineCache) ([]byte, error) {
	c := d.pipelineCaches.get(uint64(cache))
	var size uint
	if err := check("vkGetPipelineCacheData", vk.GetPipelineCacheData(d.handle, c, &size, nil)); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if err := check("vkGetPipelineCacheData", vk.GetPipelineCacheData(d.handle, c, &size, unsafe.Pointer(&data[0]))); err != nil {
		return nil, err
	}
	return data[:size], nil
}

func (d *Device) DestroyPipelineCache(cache metadata.PipelineCache) {
	if c, ok := d.pipelineCaches.take(uint64(cache)); ok {
		vk.DestroyPipelineCache(d.handle, c, nil)
	}
}

func (d *Device) stage(s metadata.ShaderStageInfo) vk.PipelineShaderStageCreateInfo {
	entry := s.EntryPoint
	if entry == "" {
		entry = "main"
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(s.Stage),
		Module: d.shaderModules.get(uint64(s.Module)),
		PName:  safeString(entry),
	}
}

func (d *Device) CreateGraphicsPipeline(cache metadata.PipelineCache, info *metadata.GraphicsPipelineCreateInfo) (metadata.Pipeline, error) {
	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		stages[i] = d.stage(s)
	}

	bindings := make([]vk.VertexInputBindingDescription, len(info.VertexBindings))
	for i, b := range info.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRate(b.InputRate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(info.VertexAttributes))
	for i, a := range info.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vk.Format(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(info.InputAssembly.Topology),
		PrimitiveRestartEnable: boolean(info.InputAssembly.PrimitiveRestartEnable),
	}

	// Viewport and scissor are always dynamic.
	viewport := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	r := info.Rasterization
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        boolean(r.DepthClampEnable),
		RasterizerDiscardEnable: boolean(r.RasterizerDiscardEnable),
		PolygonMode:             vk.PolygonMode(r.PolygonMode),
		CullMode:                vk.CullModeFlags(r.CullMode),
		FrontFace:               vk.FrontFace(r.FrontFace),
		DepthBiasEnable:         boolean(r.DepthBiasEnable),
		DepthBiasConstantFactor: r.DepthBiasConstantFactor,
		DepthBiasClamp:          r.DepthBiasClamp,
		DepthBiasSlopeFactor:    r.DepthBiasSlopeFactor,
		LineWidth:               r.LineWidth,
	}

	m := info.Multisample
	samples := vk.SampleCountFlagBits(m.RasterizationSamples)
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  samples,
		SampleShadingEnable:   boolean(m.SampleShadingEnable),
		MinSampleShading:      m.MinSampleShading,
		AlphaToCoverageEnable: boolean(m.AlphaToCoverageEnable),
		AlphaToOneEnable:      boolean(m.AlphaToOneEnable),
	}

	ds := info.DepthStencil
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       boolean(ds.DepthTestEnable),
		DepthWriteEnable:      boolean(ds.DepthWriteEnable),
		DepthCompareOp:        vk.CompareOp(ds.DepthCompareOp),
		DepthBoundsTestEnable: boolean(ds.DepthBoundsTestEnable),
		StencilTestEnable:     boolean(ds.StencilTestEnable),
		Front:                 stencilOp(ds.Front),
		Back:                  stencilOp(ds.Back),
		MinDepthBounds:        ds.MinDepthBounds,
		MaxDepthBounds:        ds.MaxDepthBounds,
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(info.BlendAttachments))
	for i, a := range info.BlendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         boolean(a.BlendEnable),
			SrcColorBlendFactor: vk.BlendFactor(a.SrcColorBlendFactor),
			DstColorBlendFactor: vk.BlendFactor(a.DstColorBlendFactor),
			ColorBlendOp:        vk.BlendOp(a.ColorBlendOp),
			SrcAlphaBlendFactor: vk.BlendFactor(a.SrcAlphaBlendFactor),
			DstAlphaBlendFactor: vk.BlendFactor(a.DstAlphaBlendFactor),
			AlphaBlendOp:        vk.BlendOp(a.AlphaBlendOp),
			ColorWriteMask:      vk.ColorComponentFlags(a.ColorWriteMask),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   boolean(info.ColorBlend.LogicOpEnable),
		LogicOp:         vk.LogicOp(info.ColorBlend.LogicOp),
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
		BlendConstants:  info.ColorBlend.BlendConstants,
	}

	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	for _, s := range info.DynamicStates {
		if s != metadata.DynamicStateViewport && s != metadata.DynamicStateScissor {
			dynamic = append(dynamic, vk.DynamicState(s))
		}
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamic)),
		PDynamicStates:    dynamic,
	}

	create := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewport,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              d.pipelineLayouts.get(uint64(info.Layout)),
		RenderPass:          d.renderPasses.get(uint64(info.RenderPass)),
		Subpass:             info.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if info.InputAssembly.Topology == metadata.PrimitiveTopologyPatchList {
		create.PTessellationState = &vk.PipelineTessellationStateCreateInfo{
			SType:              vk.StructureTypePipelineTessellationStateCreateInfo,
			PatchControlPoints: info.PatchControlPoints,
		}
	}

	pipelines := make([]vk.Pipeline, 1)
	c := d.pipelineCaches.get(uint64(cache))
	err := d.locks.SafeCall(PipelineManagement, func() error {
		return check("vkCreateGraphicsPipelines",
			vk.CreateGraphicsPipelines(d.handle, c, 1, []vk.GraphicsPipelineCreateInfo{create}, nil, pipelines))
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	core.LogDebug("Graphics pipeline created.")
	return metadata.Pipeline(d.pipelines.put(pipelines[0])), nil
}

func (d *Device) CreateComputePipeline(cache metadata.PipelineCache, info *metadata.ComputePipelineCreateInfo) (metadata.Pipeline, error) {
	create := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              d.stage(info.Stage),
		Layout:             d.pipelineLayouts.get(uint64(info.Layout)),
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	c := d.pipelineCaches.get(uint64(cache))
	err := d.locks.SafeCall(PipelineManagement, func() error {
		return check("vkCreateComputePipelines",
			vk.CreateComputePipelines(d.handle, c, 1, []vk.ComputePipelineCreateInfo{create}, nil, pipelines))
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	core.LogDebug("Compute pipeline created.")
	return metadata.Pipeline(d.pipelines.put(pipelines[0])), nil
}

func (d *Device) DestroyPipeline(pipeline metadata.Pipeline) {
	if p, ok := d.pipelines.take(uint64(pipeline)); ok {
		_ = d.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(d.handle, p, nil)
			return nil
		})
	}
}

func stencilOp(s metadata.StencilOpState) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      vk.StencilOp(s.FailOp),
		PassOp:      vk.StencilOp(s.PassOp),
		DepthFailOp: vk.StencilOp(s.DepthFailOp),
		CompareOp:   vk.CompareOp(s.CompareOp),
		CompareMask: s.CompareMask,
		WriteMask:   s.WriteMask,
		Reference:   s.Reference,
	}
}
