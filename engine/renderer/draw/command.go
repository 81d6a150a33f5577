// Package draw holds draw and dispatch commands: a pipeline state snapshot
// plus the descriptor, uniform and vertex bindings of one draw.
package draw

import (
	"encoding/binary"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
)

// SetUniform encodes value little endian and stores it in the named uniform
// member. Fixed-size values only: numbers, arrays and structs of them.
func SetUniform[T any](cmd uniformSetter, name string, value T) bool {
	data, err := binary.Append(nil, binary.LittleEndian, value)
	if err != nil {
		core.LogWarn("Could not set uniform '%s': %s", name, err)
		return false
	}
	return cmd.SetUniformBytes(name, data)
}

// DrawCommandInfo is the pipeline state shared by every draw command built
// from it. The state is copied on creation and must not be changed later.
type DrawCommandInfo struct {
	pipeline *pipeline.GraphicsPipelineState
	layout   *layout
}

func NewDrawCommandInfo(state *pipeline.GraphicsPipelineState) (*DrawCommandInfo, error) {
	if state.Shader() == nil {
		return nil, pipeline.ErrNoShader
	}
	l, err := newLayout(state.Shader())
	if err != nil {
		return nil, err
	}
	return &DrawCommandInfo{pipeline: state.Clone(), layout: l}, nil
}

func (i *DrawCommandInfo) Pipeline() *pipeline.GraphicsPipelineState { return i.pipeline }

func (i *DrawCommandInfo) Shader() *shader.Shader { return i.pipeline.Shader() }

// VertexBinding is one vertex buffer binding of a draw.
type VertexBinding struct {
	Binding uint32
	Buffer  metadata.Buffer
	Offset  uint64
}

// DrawCommand is everything needed to record one draw. A template is built
// once; per frame, Clone it and set the values that change.
type DrawCommand struct {
	bindings
	info *DrawCommandInfo

	vertex      []VertexBinding
	indexBuffer metadata.Buffer
	indexOffset uint64
	indexType   metadata.IndexType
	hasIndices  bool

	numVertices   uint32
	numIndices    uint32
	instanceCount uint32
}

// New creates a draw command with zeroed bindings matching the shader.
func New(info *DrawCommandInfo) *DrawCommand {
	in := info.Shader().VertexInput()
	dc := &DrawCommand{
		bindings:      newBindings(info.layout),
		info:          info,
		vertex:        make([]VertexBinding, len(in.Bindings)),
		instanceCount: 1,
	}
	for i, b := range in.Bindings {
		dc.vertex[i].Binding = b.Binding
	}
	return dc
}

func (dc *DrawCommand) Info() *DrawCommandInfo { return dc.info }

// Clone returns a deep copy that shares only the info.
func (dc *DrawCommand) Clone() *DrawCommand {
	c := *dc
	c.bindings = dc.bindings.clone()
	c.vertex = slices.Clone(dc.vertex)
	return &c
}

// SetAttribute binds a vertex buffer to the input at location.
func (dc *DrawCommand) SetAttribute(location uint32, buffer metadata.Buffer, offset uint64) bool {
	for i := range dc.vertex {
		if dc.vertex[i].Binding == location {
			dc.vertex[i].Buffer, dc.vertex[i].Offset = buffer, offset
			return true
		}
	}
	core.LogWarn("Shader '%s' has no vertex input at location %d", dc.info.Shader().Name(), location)
	return false
}

// SetAttributeByName binds a vertex buffer to the input variable name.
func (dc *DrawCommand) SetAttributeByName(name string, buffer metadata.Buffer, offset uint64) bool {
	location, ok := dc.info.Shader().VertexInput().AttributeLocation(name)
	if !ok {
		core.LogWarn("Shader '%s' has no vertex input '%s'", dc.info.Shader().Name(), name)
		return false
	}
	return dc.SetAttribute(location, buffer, offset)
}

// SetTransientAttribute copies data into frame's transient memory and binds
// it to location.
func (dc *DrawCommand) SetTransientAttribute(alloc Allocator, frame uint32, location uint32, data []byte) bool {
	mem, offset, ok := alloc.Allocate(uint64(len(data)), frame)
	if !ok {
		core.LogError("Could not allocate %d bytes of transient memory for vertex input %d", len(data), location)
		return false
	}
	copy(mem, data)
	return dc.SetAttribute(location, alloc.Buffer(), offset)
}

func (dc *DrawCommand) SetIndices(buffer metadata.Buffer, offset uint64, indexType metadata.IndexType) {
	dc.indexBuffer, dc.indexOffset, dc.indexType, dc.hasIndices = buffer, offset, indexType, true
}

// SetTransientIndices copies index data into frame's transient memory and
// sets the index count from its length.
func (dc *DrawCommand) SetTransientIndices(alloc Allocator, frame uint32, data []byte, indexType metadata.IndexType) bool {
	mem, offset, ok := alloc.Allocate(uint64(len(data)), frame)
	if !ok {
		core.LogError("Could not allocate %d bytes of transient memory for indices", len(data))
		return false
	}
	copy(mem, data)
	dc.SetIndices(alloc.Buffer(), offset, indexType)
	dc.numIndices = uint32(uint64(len(data)) / indexType.Size())
	return true
}

// ClearIndices makes the command a non-indexed draw.
func (dc *DrawCommand) ClearIndices() {
	dc.indexBuffer, dc.indexOffset, dc.hasIndices = 0, 0, false
}

func (dc *DrawCommand) SetNumVertices(n uint32) { dc.numVertices = n }

func (dc *DrawCommand) SetNumIndices(n uint32) { dc.numIndices = n }

func (dc *DrawCommand) SetInstanceCount(n uint32) { dc.instanceCount = n }

func (dc *DrawCommand) NumVertices() uint32 { return dc.numVertices }

func (dc *DrawCommand) NumIndices() uint32 { return dc.numIndices }

func (dc *DrawCommand) InstanceCount() uint32 { return dc.instanceCount }

// VertexBindings returns the vertex buffer bindings ordered by binding number.
func (dc *DrawCommand) VertexBindings() []VertexBinding { return slices.Clone(dc.vertex) }

// Indices returns the index buffer binding; ok is false for non-indexed draws.
func (dc *DrawCommand) Indices() (buffer metadata.Buffer, offset uint64, indexType metadata.IndexType, ok bool) {
	return dc.indexBuffer, dc.indexOffset, dc.indexType, dc.hasIndices
}

// ComputeCommand is a dispatch with the same binding model as DrawCommand.
type ComputeCommand struct {
	bindings
	pipeline *pipeline.ComputePipelineState
}

func NewComputeCommand(state *pipeline.ComputePipelineState) (*ComputeCommand, error) {
	if state.Shader() == nil {
		return nil, pipeline.ErrNoShader
	}
	if !state.Shader().IsCompute() {
		return nil, pipeline.ErrNotCompute
	}
	l, err := newLayout(state.Shader())
	if err != nil {
		return nil, err
	}
	return &ComputeCommand{bindings: newBindings(l), pipeline: state}, nil
}

func (cc *ComputeCommand) Pipeline() *pipeline.ComputePipelineState { return cc.pipeline }

func (cc *ComputeCommand) Clone() *ComputeCommand {
	return &ComputeCommand{bindings: cc.bindings.clone(), pipeline: cc.pipeline}
}
