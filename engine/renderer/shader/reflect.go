package shader

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrUniformSizeMismatch    = errors.New("uniform block size differs between stages")
	ErrSamplerBindingMismatch = errors.New("sampler set/binding differs between stages")
	ErrUniformTypeMismatch    = errors.New("uniform name used with different descriptor types")
	ErrDuplicateBinding       = errors.New("descriptor set binding claimed by two uniforms")
	ErrSparseDescriptorSets   = errors.New("descriptor sets must be numbered contiguously from 0")
	ErrUnsupportedStage       = errors.New("unsupported shader execution model")
)

// MemberRange is the byte range of one uniform block member.
type MemberRange struct {
	Offset uint32
	Range  uint32
}

func (r MemberRange) end() uint32 { return r.Offset + r.Range }

// Uniform is a reflected descriptor: a uniform block, storage buffer or sampler.
type Uniform struct {
	Name    string
	Set     uint32
	Binding metadata.DescriptorSetLayoutBinding
	// StorageSize is the declared struct size of buffer blocks, 0 for samplers.
	StorageSize uint32
	// Members maps member names to their actively used byte ranges.
	Members map[string]MemberRange
}

// SetLayoutInfo describes one descriptor set: its bindings ordered by binding
// number and their content hash.
type SetLayoutInfo struct {
	Bindings []metadata.DescriptorSetLayoutBinding
	Hash     uint64
}

type VertexAttribute struct {
	Name     string
	Location uint32
	Format   metadata.Format
	Stride   uint32
}

// VertexInput holds one binding per attribute; the binding number equals the location.
type VertexInput struct {
	Attributes []VertexAttribute
	Bindings   []metadata.VertexInputBindingDescription
	Formats    []metadata.VertexInputAttributeDescription
}

// AttributeLocation looks up an attribute location by input variable name.
func (v VertexInput) AttributeLocation(name string) (uint32, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a.Location, true
		}
	}
	return 0, false
}

func stageForModel(model uint32) (metadata.ShaderStage, error) {
	switch model {
	case modelVertex:
		return metadata.ShaderStageVertex, nil
	case modelTessControl:
		return metadata.ShaderStageTessControl, nil
	case modelTessEvaluation:
		return metadata.ShaderStageTessEvaluation, nil
	case modelGeometry:
		return metadata.ShaderStageGeometry, nil
	case modelFragment:
		return metadata.ShaderStageFragment, nil
	case modelGLCompute:
		return metadata.ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedStage, model)
}

// reflector merges the resources of every stage of one shader.
type reflector struct {
	shaderName string
	uniforms   map[string]*Uniform
	vertex     VertexInput
}

func newReflector(shaderName string) *reflector {
	return &reflector{shaderName: shaderName, uniforms: make(map[string]*Uniform)}
}

func (r *reflector) setAndBinding(m *spirvModule, v variable, name string) (uint32, uint32) {
	d := m.decos[v.id]
	if d == nil || !d.hasSet {
		core.LogWarn("Shader uniform '%s' in '%s' has no descriptor set decoration, assigning it to set 0", name, r.shaderName)
		if d == nil {
			return 0, 0
		}
	}
	if !d.hasBinding {
		core.LogWarn("Shader uniform '%s' in '%s' has no binding decoration, assigning it to binding 0", name, r.shaderName)
	}
	return d.set, d.binding
}

// reflect adds one stage's resources.
func (r *reflector) reflect(stage metadata.ShaderStage, m *spirvModule) error {
	for _, v := range m.variables {
		typeID, t := m.pointee(v.typeID)
		if t == nil {
			continue
		}
		switch v.storage {
		case storageUniform, storageStorageBuffer:
			if err := r.reflectBlock(stage, m, v, typeID, t); err != nil {
				return err
			}
		case storageUniformConstant:
			if err := r.reflectSampler(stage, m, v, t); err != nil {
				return err
			}
		}
	}
	if stage == metadata.ShaderStageVertex {
		r.reflectVertexInputs(m)
	}
	return nil
}

func (r *reflector) reflectBlock(stage metadata.ShaderStage, m *spirvModule, v variable, typeID uint32, t *spvType) error {
	if t.op != opTypeStruct {
		return nil
	}
	d := m.decos[typeID]
	if d == nil {
		return nil
	}
	descriptorType := metadata.DescriptorTypeUniformBufferDynamic
	switch {
	case v.storage == storageStorageBuffer || d.bufferBlock:
		descriptorType = metadata.DescriptorTypeStorageBuffer
	case !d.block:
		return nil
	}

	name := m.names[typeID]
	if name == "" {
		name = m.names[v.id]
	}
	set, binding := r.setAndBinding(m, v, name)

	u := &Uniform{
		Name: name,
		Set:  set,
		Binding: metadata.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  descriptorType,
			DescriptorCount: 1,
			StageFlags:      stage,
		},
		StorageSize: m.declaredSize(typeID, nil),
		Members:     make(map[string]MemberRange),
	}
	active := m.accessed[v.id]
	allActive := m.whole[v.id] || descriptorType == metadata.DescriptorTypeStorageBuffer
	for i, memberType := range t.members {
		idx := uint32(i)
		if !allActive && !active[idx] {
			continue
		}
		md := m.memberDecos[typeID][idx]
		var offset uint32
		if md != nil {
			offset = md.offset
		}
		memberName := m.memberNames[typeID][idx]
		if memberName == "" {
			memberName = fmt.Sprintf("_m%d", idx)
		}
		u.Members[memberName] = MemberRange{Offset: offset, Range: m.declaredSize(memberType, md)}
	}
	return r.mergeBlock(u)
}

func (r *reflector) mergeBlock(u *Uniform) error {
	prev, ok := r.uniforms[u.Name]
	if !ok {
		r.uniforms[u.Name] = u
		return nil
	}
	if prev.Binding.DescriptorType != u.Binding.DescriptorType {
		err := fmt.Errorf("%w: '%s' in '%s'", ErrUniformTypeMismatch, u.Name, r.shaderName)
		core.LogError(err.Error())
		return err
	}
	if prev.StorageSize != u.StorageSize {
		err := fmt.Errorf("%w: '%s' in '%s' is %d bytes in one stage and %d in another",
			ErrUniformSizeMismatch, u.Name, r.shaderName, prev.StorageSize, u.StorageSize)
		core.LogError(err.Error())
		return err
	}
	if prev.Set != u.Set || prev.Binding.Binding != u.Binding.Binding {
		core.LogError("Uniform '%s' in '%s' is bound to (set %d, binding %d) and (set %d, binding %d) in different stages",
			u.Name, r.shaderName, prev.Set, prev.Binding.Binding, u.Set, u.Binding.Binding)
	}
	prev.Binding.StageFlags |= u.Binding.StageFlags
	for name, rng := range u.Members {
		prev.Members[name] = rng
	}
	checkMemberRangesOverlap(r.shaderName, u.Name, prev.Members)
	return nil
}

func (r *reflector) reflectSampler(stage metadata.ShaderStage, m *spirvModule, v variable, t *spvType) error {
	count := uint32(1)
	if t.op == opTypeArray {
		count = m.arrayLength(t)
		t = m.types[t.elem]
	}
	if t == nil || t.op != opTypeSampledImage {
		return nil
	}
	name := m.names[v.id]
	set, binding := r.setAndBinding(m, v, name)

	if prev, ok := r.uniforms[name]; ok {
		if prev.Binding.DescriptorType != metadata.DescriptorTypeCombinedImageSampler {
			err := fmt.Errorf("%w: '%s' in '%s'", ErrUniformTypeMismatch, name, r.shaderName)
			core.LogError(err.Error())
			return err
		}
		if prev.Set != set || prev.Binding.Binding != binding {
			err := fmt.Errorf("%w: '%s' in '%s' uses (set %d, binding %d) and (set %d, binding %d)",
				ErrSamplerBindingMismatch, name, r.shaderName, prev.Set, prev.Binding.Binding, set, binding)
			core.LogError(err.Error())
			return err
		}
		prev.Binding.StageFlags |= stage
		return nil
	}
	r.uniforms[name] = &Uniform{
		Name: name,
		Set:  set,
		Binding: metadata.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  metadata.DescriptorTypeCombinedImageSampler,
			DescriptorCount: count,
			StageFlags:      stage,
		},
	}
	return nil
}

func (r *reflector) reflectVertexInputs(m *spirvModule) {
	var attrs []VertexAttribute
	index := uint32(0)
	for _, v := range m.variables {
		if v.storage != storageInput {
			continue
		}
		_, t := m.pointee(v.typeID)
		if t == nil || t.op == opTypeStruct {
			continue
		}
		d := m.decos[v.id]
		if d != nil && d.builtIn {
			continue
		}
		name := m.names[v.id]
		location := index
		if d != nil && d.hasLocation {
			location = d.location
		}
		index++

		columns, vecSize := uint32(1), uint32(1)
		scalar := t
		if scalar.op == opTypeMatrix {
			columns = scalar.count
			scalar = m.types[scalar.elem]
		}
		if scalar != nil && scalar.op == opTypeVector {
			vecSize = scalar.count
			scalar = m.types[scalar.elem]
		}
		if scalar == nil || scalar.op != opTypeFloat || scalar.width != 32 {
			core.LogWarn("Vertex input '%s' in '%s' is not a 32 bit float type, skipping it", name, r.shaderName)
			continue
		}
		var format metadata.Format
		switch vecSize {
		case 1:
			format = metadata.FormatR32Sfloat
		case 2:
			format = metadata.FormatR32G32Sfloat
		case 3:
			format = metadata.FormatR32G32B32Sfloat
		case 4:
			format = metadata.FormatR32G32B32A32Sfloat
		}
		attrs = append(attrs, VertexAttribute{
			Name:     name,
			Location: location,
			Format:   format,
			Stride:   scalar.width / 8 * vecSize * columns,
		})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Location < attrs[j].Location })

	in := VertexInput{Attributes: attrs}
	for _, a := range attrs {
		in.Bindings = append(in.Bindings, metadata.VertexInputBindingDescription{
			Binding:   a.Location,
			Stride:    a.Stride,
			InputRate: metadata.VertexInputRateVertex,
		})
		in.Formats = append(in.Formats, metadata.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Location,
			Format:   a.Format,
		})
	}
	r.vertex = in
}

type namedRange struct {
	name string
	MemberRange
}

// checkMemberRangesOverlap warns when two differently named members share bytes.
// It reports whether an overlap was found.
func checkMemberRangesOverlap(shaderName, uniformName string, members map[string]MemberRange) bool {
	ranges := make([]namedRange, 0, len(members))
	for name, r := range members {
		ranges = append(ranges, namedRange{name: name, MemberRange: r})
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Offset != ranges[j].Offset {
			return ranges[i].Offset < ranges[j].Offset
		}
		return ranges[i].name < ranges[j].name
	})

	overlap := false
	for i := 1; i < len(ranges); i++ {
		a, b := ranges[i-1], ranges[i]
		if a.Offset != b.Offset && a.end() <= b.Offset {
			continue
		}
		overlap = true
		if a.MemberRange == b.MemberRange {
			core.LogWarn("Uniform '%s' in '%s': members '%s' and '%s' occupy the same range [%d, %d). Possible typo in a member name",
				uniformName, shaderName, a.name, b.name, a.Offset, a.end())
		} else {
			core.LogWarn("Uniform '%s' in '%s': members '%s' [%d, %d) and '%s' [%d, %d) overlap. The block layout differs between stages",
				uniformName, shaderName, a.name, a.Offset, a.end(), b.name, b.Offset, b.end())
		}
	}
	return overlap
}

// createSetLayouts groups uniforms by descriptor set. Sets must be numbered
// 0..n-1 without gaps.
func createSetLayouts(shaderName string, uniforms map[string]*Uniform) ([]SetLayoutInfo, error) {
	type owned struct {
		binding metadata.DescriptorSetLayoutBinding
		owner   string
	}
	sets := make(map[uint32]map[uint32]owned)

	names := make([]string, 0, len(uniforms))
	for name := range uniforms {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		u := uniforms[name]
		if sets[u.Set] == nil {
			sets[u.Set] = make(map[uint32]owned)
		}
		if prev, ok := sets[u.Set][u.Binding.Binding]; ok {
			err := fmt.Errorf("%w: (set %d, binding %d) in '%s' is used by '%s' and '%s'",
				ErrDuplicateBinding, u.Set, u.Binding.Binding, shaderName, prev.owner, name)
			core.LogError(err.Error())
			return nil, err
		}
		sets[u.Set][u.Binding.Binding] = owned{binding: u.Binding, owner: name}
	}

	numbers := make([]uint32, 0, len(sets))
	for n := range sets {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != uint32(i) {
			err := fmt.Errorf("%w: '%s' uses sets %v", ErrSparseDescriptorSets, shaderName, numbers)
			core.LogError(err.Error())
			return nil, err
		}
	}

	infos := make([]SetLayoutInfo, len(numbers))
	for i, n := range numbers {
		bindings := make([]metadata.DescriptorSetLayoutBinding, 0, len(sets[n]))
		for _, o := range sets[n] {
			bindings = append(bindings, o.binding)
		}
		sort.Slice(bindings, func(a, b int) bool { return bindings[a].Binding < bindings[b].Binding })
		infos[i] = SetLayoutInfo{Bindings: bindings, Hash: metadata.HashSetLayoutBindings(bindings)}
	}
	return infos, nil
}
