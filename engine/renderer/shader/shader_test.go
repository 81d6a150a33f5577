package shader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/renderer/fakegpu"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader/spvtest"
)

func newTestShader(t *testing.T, frag []uint32) (*Shader, *fakegpu.Device, string) {
	t.Helper()
	dir := t.TempDir()
	dev := fakegpu.New()
	s, err := New(dev, Settings{
		Name: "unlit",
		Sources: map[metadata.ShaderStage]string{
			metadata.ShaderStageVertex:   spvtest.Write(t, dir, "unlit.vert.spv", spvtest.VertexModule()),
			metadata.ShaderStageFragment: spvtest.Write(t, dir, "unlit.frag.spv", frag),
		},
	})
	require.NoError(t, err)
	return s, dev, dir
}

func TestReflectMergesUniformBlockAcrossStages(t *testing.T) {
	s, _, _ := newTestShader(t, spvtest.FragmentModule(spvtest.BlockOptions{}, 1))

	u, ok := s.Uniform("Globals")
	require.True(t, ok)
	assert.Equal(t, uint32(0), u.Set)
	assert.Equal(t, uint32(80), u.StorageSize)
	assert.Equal(t, metadata.DescriptorTypeUniformBufferDynamic, u.Binding.DescriptorType)
	assert.Equal(t, metadata.ShaderStageVertex|metadata.ShaderStageFragment, u.Binding.StageFlags)
	assert.Equal(t, map[string]MemberRange{
		"modelViewProjection": {Offset: 0, Range: 64},
		"color":               {Offset: 64, Range: 16},
	}, u.Members)
	assert.Len(t, s.Uniforms(), 2)
}

func TestReflectOnlyRecordsActiveMembers(t *testing.T) {
	b := spvtest.New(spvtest.Vertex)
	b.Globals(spvtest.BlockOptions{Members: []uint32{1}})
	m, err := parseSpirv(b.Code())
	require.NoError(t, err)

	r := newReflector("active")
	require.NoError(t, r.reflect(metadata.ShaderStageVertex, m))
	assert.Equal(t, map[string]MemberRange{"color": {Offset: 64, Range: 16}}, r.uniforms["Globals"].Members)
}

func TestReflectSamplerAndSetLayouts(t *testing.T) {
	s, _, _ := newTestShader(t, spvtest.FragmentModule(spvtest.BlockOptions{}, 1))

	tex, ok := s.Uniform("tex")
	require.True(t, ok)
	assert.Equal(t, metadata.DescriptorTypeCombinedImageSampler, tex.Binding.DescriptorType)
	assert.Equal(t, uint32(1), tex.Set)
	assert.Equal(t, metadata.ShaderStageFragment, tex.Binding.StageFlags)

	infos := s.SetLayoutInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, []metadata.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorType:  metadata.DescriptorTypeUniformBufferDynamic,
		DescriptorCount: 1,
		StageFlags:      metadata.ShaderStageVertex | metadata.ShaderStageFragment,
	}}, infos[0].Bindings)
	assert.Equal(t, metadata.HashSetLayoutBindings(infos[1].Bindings), infos[1].Hash)
	assert.NotEqual(t, infos[0].Hash, infos[1].Hash)
	assert.Len(t, s.SetLayouts(), 2)
	assert.NotZero(t, s.PipelineLayout())
}

func TestReflectVertexInputs(t *testing.T) {
	s, _, _ := newTestShader(t, spvtest.FragmentModule(spvtest.BlockOptions{}, 1))

	in := s.VertexInput()
	require.Len(t, in.Attributes, 2)
	assert.Equal(t, VertexAttribute{Name: "position", Location: 0, Format: metadata.FormatR32G32B32Sfloat, Stride: 12}, in.Attributes[0])
	assert.Equal(t, VertexAttribute{Name: "texCoord", Location: 1, Format: metadata.FormatR32G32Sfloat, Stride: 8}, in.Attributes[1])
	assert.Equal(t, []metadata.VertexInputBindingDescription{
		{Binding: 0, Stride: 12, InputRate: metadata.VertexInputRateVertex},
		{Binding: 1, Stride: 8, InputRate: metadata.VertexInputRateVertex},
	}, in.Bindings)
	loc, ok := in.AttributeLocation("texCoord")
	assert.True(t, ok)
	assert.Equal(t, uint32(1), loc)
}

func TestSparseDescriptorSetsFail(t *testing.T) {
	uniforms := map[string]*Uniform{
		"Globals": {Name: "Globals", Set: 0, Binding: metadata.DescriptorSetLayoutBinding{DescriptorType: metadata.DescriptorTypeUniformBufferDynamic, DescriptorCount: 1}},
		"tex":     {Name: "tex", Set: 2, Binding: metadata.DescriptorSetLayoutBinding{DescriptorType: metadata.DescriptorTypeCombinedImageSampler, DescriptorCount: 1}},
	}
	for i := 0; i < 5; i++ {
		_, err := createSetLayouts("sparse", uniforms)
		require.ErrorIs(t, err, ErrSparseDescriptorSets)
	}

	dir := t.TempDir()
	_, err := New(fakegpu.New(), Settings{Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageVertex:   spvtest.Write(t, dir, "a.vert.spv", spvtest.VertexModule()),
		metadata.ShaderStageFragment: spvtest.Write(t, dir, "a.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{}, 2)),
	}})
	assert.ErrorIs(t, err, ErrSparseDescriptorSets)
	assert.ErrorIs(t, err, ErrCompileFailed)
}

func TestDuplicateBindingFails(t *testing.T) {
	uniforms := map[string]*Uniform{
		"a": {Name: "a", Binding: metadata.DescriptorSetLayoutBinding{Binding: 3}},
		"b": {Name: "b", Binding: metadata.DescriptorSetLayoutBinding{Binding: 3}},
	}
	_, err := createSetLayouts("dup", uniforms)
	assert.ErrorIs(t, err, ErrDuplicateBinding)
}

func TestMissingSetDefaultsToZero(t *testing.T) {
	b := spvtest.New(spvtest.Fragment)
	b.Globals(spvtest.BlockOptions{NoSet: true, Binding: 2, Members: []uint32{1}})
	m, err := parseSpirv(b.Code())
	require.NoError(t, err)

	r := newReflector("noset")
	require.NoError(t, r.reflect(metadata.ShaderStageFragment, m))
	assert.Equal(t, uint32(0), r.uniforms["Globals"].Set)
	assert.Equal(t, uint32(2), r.uniforms["Globals"].Binding.Binding)
}

func TestSizeMismatchFailsInitialBuild(t *testing.T) {
	dir := t.TempDir()
	_, err := New(fakegpu.New(), Settings{Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageVertex:   spvtest.Write(t, dir, "a.vert.spv", spvtest.VertexModule()),
		metadata.ShaderStageFragment: spvtest.Write(t, dir, "a.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{Extra: true}, 1)),
	}})
	assert.ErrorIs(t, err, ErrUniformSizeMismatch)
	assert.False(t, errors.Is(err, ErrKeptPreviousVersion))
}

func TestSamplerBindingMismatchFails(t *testing.T) {
	r := newReflector("samplers")
	for _, set := range []uint32{0, 1} {
		b := spvtest.New(spvtest.Fragment)
		b.Sampler("tex", set, 0)
		m, err := parseSpirv(b.Code())
		require.NoError(t, err)
		err = r.reflect(metadata.ShaderStageFragment, m)
		if set == 1 {
			assert.ErrorIs(t, err, ErrSamplerBindingMismatch)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestRecompileKeepsPreviousVersionOnReflectionError(t *testing.T) {
	s, _, dir := newTestShader(t, spvtest.FragmentModule(spvtest.BlockOptions{}, 1))
	hash := s.CodeHash()
	layouts := s.SetLayouts()

	spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{Extra: true}, 1))
	err := s.Reload()
	require.ErrorIs(t, err, ErrKeptPreviousVersion)
	assert.ErrorIs(t, err, ErrUniformSizeMismatch)
	assert.Equal(t, hash, s.CodeHash())
	assert.Equal(t, layouts, s.SetLayouts())
}

func TestRecompileSkipsUnchangedStages(t *testing.T) {
	s, dev, dir := newTestShader(t, spvtest.FragmentModule(spvtest.BlockOptions{}, 1))
	hash := s.CodeHash()
	pl := s.PipelineLayout()

	require.NoError(t, s.Compile())
	assert.Equal(t, pl, s.PipelineLayout())

	spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{Members: []uint32{0, 1}}, 1))
	require.NoError(t, s.Reload())
	assert.NotEqual(t, hash, s.CodeHash())
	assert.NotEqual(t, pl, s.PipelineLayout())

	s.ReleaseRetired()
	// only the old fragment module goes, the vertex module is shared
	assert.Equal(t, 1, dev.Destroyed("shader_module"))
	assert.Equal(t, 1, dev.Destroyed("pipeline_layout"))

	s.Release()
	assert.Equal(t, 3, dev.Destroyed("shader_module"))
}

func TestMissingSourceIsFatal(t *testing.T) {
	_, err := New(fakegpu.New(), Settings{Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageVertex: filepath.Join(t.TempDir(), "missing.vert"),
	}})
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

type compilerFunc func(stage metadata.ShaderStage, path string) ([]uint32, error)

func (f compilerFunc) Compile(stage metadata.ShaderStage, path string) ([]uint32, error) {
	return f(stage, path)
}

func TestJitCompileFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "lit.frag")
	require.NoError(t, os.WriteFile(src, []byte("#version 450\nvoid main() {}\n"), 0o644))

	broken := false
	compiler := compilerFunc(func(stage metadata.ShaderStage, path string) ([]uint32, error) {
		if broken {
			return nil, &CompileError{File: path, Line: 2, Message: "syntax error"}
		}
		return spvtest.FragmentModule(spvtest.BlockOptions{}, 1), nil
	})

	broken = true
	_, err := New(fakegpu.New(), Settings{Sources: map[metadata.ShaderStage]string{metadata.ShaderStageFragment: src}, Compiler: compiler})
	require.ErrorIs(t, err, ErrCompileFailed)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Line)

	broken = false
	s, err := New(fakegpu.New(), Settings{Sources: map[metadata.ShaderStage]string{metadata.ShaderStageFragment: src}, Compiler: compiler})
	require.NoError(t, err)
	broken = true
	assert.ErrorIs(t, s.Reload(), ErrKeptPreviousVersion)
	_, ok := s.Uniform("Globals")
	assert.True(t, ok)
}

func TestCheckMemberRangesOverlap(t *testing.T) {
	assert.False(t, checkMemberRangesOverlap("s", "U", map[string]MemberRange{
		"a": {0, 16}, "b": {16, 16}, "c": {32, 4},
	}))
	assert.True(t, checkMemberRangesOverlap("s", "U", map[string]MemberRange{
		"a": {0, 16}, "b": {8, 16},
	}))
	assert.True(t, checkMemberRangesOverlap("s", "U", map[string]MemberRange{
		"color": {0, 16}, "colour": {0, 16},
	}))
}

func TestParseDiagnosticsWithContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.frag")
	lines := []string{"#version 450", "layout(location = 0) out vec4 c;", "void main() {", "  c = vec4(x);", "}", ""}
	require.NoError(t, os.WriteFile(src, []byte(strings.Join(lines, "\n")), 0o644))

	err := parseDiagnostics(src, src+":4: error: 'x' : undeclared identifier\n1 error generated.\n")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrCompileFailed)
	assert.Equal(t, 4, ce.Line)
	assert.Equal(t, "'x' : undeclared identifier", ce.Message)
	assert.Contains(t, ce.Context, ">    4 |   c = vec4(x);")
	assert.Contains(t, ce.Context, "     1 | #version 450")
	assert.Contains(t, ce.Context, "     6 | ")
}

func TestParseSpirvRejectsGarbage(t *testing.T) {
	_, err := parseSpirv([]uint32{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSpirv)
	_, err = parseSpirv([]uint32{0xdeadbeef, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidSpirv)
	_, err = parseSpirv([]uint32{spirvMagic, 0, 0, 0, 0, 5<<16 | opName, 1})
	assert.ErrorIs(t, err, ErrInvalidSpirv)
}

func TestComputeShaderStorageBuffer(t *testing.T) {
	dir := t.TempDir()
	s, err := New(fakegpu.New(), Settings{Name: "integrate", Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageCompute: spvtest.Write(t, dir, "integrate.comp.spv", spvtest.ComputeModule()),
	}})
	require.NoError(t, err)
	assert.True(t, s.IsCompute())

	u, ok := s.Uniform("Particles")
	require.True(t, ok)
	assert.Equal(t, metadata.DescriptorTypeStorageBuffer, u.Binding.DescriptorType)
	assert.Equal(t, uint32(32), u.StorageSize)
	assert.Len(t, u.Members, 2)
	require.Len(t, s.Stages(), 1)
	assert.Equal(t, "main", s.Stages()[0].EntryPoint)
}
