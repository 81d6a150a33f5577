package pipeline

import (
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
)

// ComputePipelineState describes a compute pipeline: a single compute shader.
type ComputePipelineState struct {
	shader *shader.Shader

	dirty      bool
	hash       uint64
	shaderHash uint64
}

func NewComputePipelineState(sh *shader.Shader) *ComputePipelineState {
	return &ComputePipelineState{shader: sh, dirty: true}
}

func (s *ComputePipelineState) Shader() *shader.Shader { return s.shader }

func (s *ComputePipelineState) SetShader(sh *shader.Shader) {
	if s.shader != sh {
		s.shader = sh
		s.dirty = true
	}
}

func (s *ComputePipelineState) Hash() uint64 {
	var code uint64
	if s.shader != nil {
		code = s.shader.CodeHash()
	}
	if !s.dirty && code == s.shaderHash {
		return s.hash
	}
	// the trailing marker keeps compute keys apart from graphics keys
	s.hash = metadata.NewKeyHasher(hashVersion).Uint64(code).String("compute").Sum64()
	s.shaderHash = code
	s.dirty = false
	return s.hash
}

func (s *ComputePipelineState) CreatePipeline(device metadata.Device, cache metadata.PipelineCache) (metadata.Pipeline, error) {
	if s.shader == nil {
		return 0, ErrNoShader
	}
	if !s.shader.IsCompute() {
		return 0, ErrNotCompute
	}
	return device.CreateComputePipeline(cache, &metadata.ComputePipelineCreateInfo{
		Stage:  s.shader.Stages()[0],
		Layout: s.shader.PipelineLayout(),
	})
}
