package pipeline

import (
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
)

// hashVersion prefixes every pipeline key; bump it when the serialized field
// layout changes.
const hashVersion = 1

// FixedFunction is the fixed-function part of a graphics pipeline.
type FixedFunction struct {
	InputAssembly      metadata.InputAssemblyState
	PatchControlPoints uint32
	Rasterization      metadata.RasterizationState
	Multisample        metadata.MultisampleState
	DepthStencil       metadata.DepthStencilState
	ColorBlend         metadata.ColorBlendState
	BlendAttachments   []metadata.ColorBlendAttachmentState
	DynamicStates      []metadata.DynamicState
}

// AlphaBlendAttachment blends src over dst by source alpha on every channel.
func AlphaBlendAttachment() metadata.ColorBlendAttachmentState {
	return metadata.ColorBlendAttachmentState{
		BlendEnable:         true,
		SrcColorBlendFactor: metadata.BlendFactorSrcAlpha,
		DstColorBlendFactor: metadata.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        metadata.BlendOpAdd,
		SrcAlphaBlendFactor: metadata.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: metadata.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        metadata.BlendOpAdd,
		ColorWriteMask:      metadata.ColorComponentRGBA,
	}
}

func DefaultFixedFunction() FixedFunction {
	return FixedFunction{
		InputAssembly: metadata.InputAssemblyState{Topology: metadata.PrimitiveTopologyTriangleList},
		Rasterization: metadata.RasterizationState{
			PolygonMode: metadata.PolygonModeFill,
			CullMode:    metadata.CullModeBack,
			FrontFace:   metadata.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		Multisample: metadata.MultisampleState{
			RasterizationSamples: metadata.SampleCount1,
			MinSampleShading:     1.0,
		},
		DepthStencil: metadata.DepthStencilState{
			DepthTestEnable:  true,
			DepthWriteEnable: true,
			DepthCompareOp:   metadata.CompareOpLessOrEqual,
			MaxDepthBounds:   1.0,
		},
		ColorBlend:       metadata.ColorBlendState{LogicOp: metadata.LogicOpCopy},
		BlendAttachments: []metadata.ColorBlendAttachmentState{AlphaBlendAttachment()},
		DynamicStates:    []metadata.DynamicState{metadata.DynamicStateViewport, metadata.DynamicStateScissor},
	}
}

func (f FixedFunction) clone() FixedFunction {
	f.BlendAttachments = slices.Clone(f.BlendAttachments)
	f.DynamicStates = slices.Clone(f.DynamicStates)
	return f
}

func hashStencil(k *metadata.KeyHasher, s metadata.StencilOpState) {
	k.Uint32(uint32(s.FailOp)).Uint32(uint32(s.PassOp)).Uint32(uint32(s.DepthFailOp)).
		Uint32(uint32(s.CompareOp)).Uint32(s.CompareMask).Uint32(s.WriteMask).Uint32(s.Reference)
}

func (f *FixedFunction) hash(k *metadata.KeyHasher) {
	k.Uint32(uint32(f.InputAssembly.Topology)).Bool(f.InputAssembly.PrimitiveRestartEnable).
		Uint32(f.PatchControlPoints)

	r := f.Rasterization
	k.Bool(r.DepthClampEnable).Bool(r.RasterizerDiscardEnable).Uint32(uint32(r.PolygonMode)).
		Uint32(uint32(r.CullMode)).Uint32(uint32(r.FrontFace)).Bool(r.DepthBiasEnable).
		Float32(r.DepthBiasConstantFactor).Float32(r.DepthBiasClamp).Float32(r.DepthBiasSlopeFactor).
		Float32(r.LineWidth)

	m := f.Multisample
	k.Uint32(uint32(m.RasterizationSamples)).Bool(m.SampleShadingEnable).Float32(m.MinSampleShading).
		Bool(m.AlphaToCoverageEnable).Bool(m.AlphaToOneEnable)

	d := f.DepthStencil
	k.Bool(d.DepthTestEnable).Bool(d.DepthWriteEnable).Uint32(uint32(d.DepthCompareOp)).
		Bool(d.DepthBoundsTestEnable).Bool(d.StencilTestEnable)
	hashStencil(k, d.Front)
	hashStencil(k, d.Back)
	k.Float32(d.MinDepthBounds).Float32(d.MaxDepthBounds)

	k.Bool(f.ColorBlend.LogicOpEnable).Uint32(uint32(f.ColorBlend.LogicOp))
	for _, c := range f.ColorBlend.BlendConstants {
		k.Float32(c)
	}
	k.Uint32(uint32(len(f.BlendAttachments)))
	for _, a := range f.BlendAttachments {
		k.Bool(a.BlendEnable).Uint32(uint32(a.SrcColorBlendFactor)).Uint32(uint32(a.DstColorBlendFactor)).
			Uint32(uint32(a.ColorBlendOp)).Uint32(uint32(a.SrcAlphaBlendFactor)).Uint32(uint32(a.DstAlphaBlendFactor)).
			Uint32(uint32(a.AlphaBlendOp)).Uint32(uint32(a.ColorWriteMask))
	}
	k.Uint32(uint32(len(f.DynamicStates)))
	for _, s := range f.DynamicStates {
		k.Uint32(uint32(s))
	}
}

// GraphicsPipelineState describes a graphics pipeline. Setters record a
// change only when the value differs; pipelines are created from a state
// through a Cache and never mutated afterwards.
type GraphicsPipelineState struct {
	fixed             FixedFunction
	shader            *shader.Shader
	renderPass        metadata.RenderPass
	subpass           uint32
	basePipelineIndex int32

	dirty      bool
	hash       uint64
	shaderHash uint64
}

func NewGraphicsPipelineState() *GraphicsPipelineState {
	s := &GraphicsPipelineState{}
	s.Reset()
	return s
}

// Reset restores the default fixed-function state. The shader and render
// pass are kept.
func (s *GraphicsPipelineState) Reset() {
	s.fixed = DefaultFixedFunction()
	s.subpass = 0
	s.basePipelineIndex = -1
	s.dirty = true
}

// Clone returns an independent copy sharing the shader.
func (s *GraphicsPipelineState) Clone() *GraphicsPipelineState {
	c := *s
	c.fixed = s.fixed.clone()
	return &c
}

func (s *GraphicsPipelineState) Shader() *shader.Shader { return s.shader }

func (s *GraphicsPipelineState) RenderPass() metadata.RenderPass { return s.renderPass }

func (s *GraphicsPipelineState) Subpass() uint32 { return s.subpass }

// FixedFunction returns a copy of the fixed-function state.
func (s *GraphicsPipelineState) FixedFunction() FixedFunction { return s.fixed.clone() }

func (s *GraphicsPipelineState) SetShader(sh *shader.Shader) {
	if s.shader != sh {
		s.shader = sh
		s.dirty = true
	}
}

func (s *GraphicsPipelineState) SetRenderPass(rp metadata.RenderPass) {
	if s.renderPass != rp {
		s.renderPass = rp
		s.dirty = true
	}
}

func (s *GraphicsPipelineState) SetSubpass(subpass uint32) {
	if s.subpass != subpass {
		s.subpass = subpass
		s.dirty = true
	}
}

func (s *GraphicsPipelineState) SetBasePipelineIndex(index int32) {
	if s.basePipelineIndex != index {
		s.basePipelineIndex = index
		s.dirty = true
	}
}

func setField[T comparable](s *GraphicsPipelineState, field *T, v T) {
	if *field != v {
		*field = v
		s.dirty = true
	}
}

func (s *GraphicsPipelineState) SetPolyMode(mode metadata.PolygonMode) {
	setField(s, &s.fixed.Rasterization.PolygonMode, mode)
}

func (s *GraphicsPipelineState) SetCullMode(mode metadata.CullMode) {
	setField(s, &s.fixed.Rasterization.CullMode, mode)
}

func (s *GraphicsPipelineState) SetFrontFace(face metadata.FrontFace) {
	setField(s, &s.fixed.Rasterization.FrontFace, face)
}

func (s *GraphicsPipelineState) SetLineWidth(width float32) {
	setField(s, &s.fixed.Rasterization.LineWidth, width)
}

func (s *GraphicsPipelineState) SetTopology(topology metadata.PrimitiveTopology) {
	setField(s, &s.fixed.InputAssembly.Topology, topology)
}

func (s *GraphicsPipelineState) SetPatchControlPoints(n uint32) {
	setField(s, &s.fixed.PatchControlPoints, n)
}

func (s *GraphicsPipelineState) SetDepthTest(enable bool) {
	setField(s, &s.fixed.DepthStencil.DepthTestEnable, enable)
}

func (s *GraphicsPipelineState) SetDepthWrite(enable bool) {
	setField(s, &s.fixed.DepthStencil.DepthWriteEnable, enable)
}

func (s *GraphicsPipelineState) SetDepthCompareOp(op metadata.CompareOp) {
	setField(s, &s.fixed.DepthStencil.DepthCompareOp, op)
}

func (s *GraphicsPipelineState) SetSampleCount(samples metadata.SampleCount) {
	setField(s, &s.fixed.Multisample.RasterizationSamples, samples)
}

func (s *GraphicsPipelineState) SetBlendConstants(c [4]float32) {
	setField(s, &s.fixed.ColorBlend.BlendConstants, c)
}

// SetBlendAttachment replaces the blend state of attachment index, growing
// the attachment list with copies of the default when needed.
func (s *GraphicsPipelineState) SetBlendAttachment(index int, a metadata.ColorBlendAttachmentState) {
	for len(s.fixed.BlendAttachments) <= index {
		s.fixed.BlendAttachments = append(s.fixed.BlendAttachments, AlphaBlendAttachment())
		s.dirty = true
	}
	setField(s, &s.fixed.BlendAttachments[index], a)
}

func (s *GraphicsPipelineState) SetDynamicStates(states ...metadata.DynamicState) {
	if !slices.Equal(s.fixed.DynamicStates, states) {
		s.fixed.DynamicStates = slices.Clone(states)
		s.dirty = true
	}
}

// Modify edits the fixed-function state in place and always marks it dirty.
func (s *GraphicsPipelineState) Modify(fn func(*FixedFunction)) {
	fn(&s.fixed)
	s.dirty = true
}

// Hash returns the content hash of the state and the shader code. It is
// recomputed when a setter changed something or the shader was recompiled.
func (s *GraphicsPipelineState) Hash() uint64 {
	var code uint64
	if s.shader != nil {
		code = s.shader.CodeHash()
	}
	if !s.dirty && code == s.shaderHash {
		return s.hash
	}
	k := metadata.NewKeyHasher(hashVersion)
	s.fixed.hash(k)
	k.Uint64(code).Uint64(uint64(s.renderPass)).Uint32(s.subpass).Int32(s.basePipelineIndex)
	s.hash = k.Sum64()
	s.shaderHash = code
	s.dirty = false
	return s.hash
}

func (s *GraphicsPipelineState) createInfo() *metadata.GraphicsPipelineCreateInfo {
	in := s.shader.VertexInput()
	return &metadata.GraphicsPipelineCreateInfo{
		Stages:             s.shader.Stages(),
		VertexBindings:     in.Bindings,
		VertexAttributes:   in.Formats,
		InputAssembly:      s.fixed.InputAssembly,
		PatchControlPoints: s.fixed.PatchControlPoints,
		Rasterization:      s.fixed.Rasterization,
		Multisample:        s.fixed.Multisample,
		DepthStencil:       s.fixed.DepthStencil,
		ColorBlend:         s.fixed.ColorBlend,
		BlendAttachments:   s.fixed.BlendAttachments,
		DynamicStates:      s.fixed.DynamicStates,
		Layout:             s.shader.PipelineLayout(),
		RenderPass:         s.renderPass,
		Subpass:            s.subpass,
		BasePipelineIndex:  s.basePipelineIndex,
	}
}

// CreatePipeline compiles the state into a new pipeline owned by the caller.
func (s *GraphicsPipelineState) CreatePipeline(device metadata.Device, cache metadata.PipelineCache) (metadata.Pipeline, error) {
	if s.shader == nil {
		return 0, ErrNoShader
	}
	return device.CreateGraphicsPipeline(cache, s.createInfo())
}
