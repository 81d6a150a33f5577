package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/renderer/fakegpu"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader/spvtest"
)

func newShader(t *testing.T, dev *fakegpu.Device) (*shader.Shader, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := shader.New(dev, shader.Settings{
		Name: "unlit",
		Sources: map[metadata.ShaderStage]string{
			metadata.ShaderStageVertex:   spvtest.Write(t, dir, "unlit.vert.spv", spvtest.VertexModule()),
			metadata.ShaderStageFragment: spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{}, 1)),
		},
	})
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s, dir
}

func TestDefaults(t *testing.T) {
	f := NewGraphicsPipelineState().FixedFunction()
	assert.Equal(t, metadata.PrimitiveTopologyTriangleList, f.InputAssembly.Topology)
	assert.Equal(t, metadata.PolygonModeFill, f.Rasterization.PolygonMode)
	assert.Equal(t, metadata.CullModeBack, f.Rasterization.CullMode)
	assert.Equal(t, metadata.FrontFaceCounterClockwise, f.Rasterization.FrontFace)
	assert.Equal(t, float32(1), f.Rasterization.LineWidth)
	assert.Equal(t, metadata.SampleCount1, f.Multisample.RasterizationSamples)
	assert.True(t, f.DepthStencil.DepthTestEnable)
	assert.True(t, f.DepthStencil.DepthWriteEnable)
	assert.Equal(t, metadata.CompareOpLessOrEqual, f.DepthStencil.DepthCompareOp)
	require.Len(t, f.BlendAttachments, 1)
	assert.True(t, f.BlendAttachments[0].BlendEnable)
	assert.Equal(t, []metadata.DynamicState{metadata.DynamicStateViewport, metadata.DynamicStateScissor}, f.DynamicStates)
}

func TestHashFollowsChanges(t *testing.T) {
	s := NewGraphicsPipelineState()
	h := s.Hash()
	assert.Equal(t, h, s.Hash())

	s.SetCullMode(metadata.CullModeBack)
	assert.False(t, s.dirty, "setting the current value must not mark the state dirty")
	assert.Equal(t, h, s.Hash())

	s.SetCullMode(metadata.CullModeNone)
	assert.NotEqual(t, h, s.Hash())

	s.SetCullMode(metadata.CullModeBack)
	assert.Equal(t, h, s.Hash())

	s.SetLineWidth(2)
	s.SetDynamicStates(metadata.DynamicStateViewport)
	changed := s.Hash()
	s.Reset()
	assert.Equal(t, h, s.Hash())
	assert.NotEqual(t, h, changed)
}

func TestHashIncludesFloatsByBits(t *testing.T) {
	a, b := NewGraphicsPipelineState(), NewGraphicsPipelineState()
	a.SetBlendConstants([4]float32{0, 0, 0, 0})
	b.Modify(func(f *FixedFunction) { f.ColorBlend.BlendConstants[0] = float32(negZero()) })
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewGraphicsPipelineState()
	c := s.Clone()
	c.SetBlendAttachment(0, metadata.ColorBlendAttachmentState{ColorWriteMask: metadata.ColorComponentR})
	assert.True(t, s.FixedFunction().BlendAttachments[0].BlendEnable)
	assert.NotEqual(t, s.Hash(), c.Hash())

	c.SetBlendAttachment(2, AlphaBlendAttachment())
	assert.Len(t, c.FixedFunction().BlendAttachments, 3)
	assert.Len(t, s.FixedFunction().BlendAttachments, 1)
}

func TestResolveIsIdempotent(t *testing.T) {
	dev := fakegpu.New()
	sh, _ := newShader(t, dev)
	cache := NewCache(dev, 0)

	s := NewGraphicsPipelineState()
	s.SetShader(sh)
	s.SetRenderPass(7)

	first, err := cache.Resolve(s)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		p, err := cache.Resolve(s)
		require.NoError(t, err)
		assert.Equal(t, first, p)
	}
	again, err := cache.Resolve(s.Clone())
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, dev.PipelinesCreated)

	s.SetPolyMode(metadata.PolygonModeLine)
	wire, err := cache.Resolve(s)
	require.NoError(t, err)
	assert.NotEqual(t, first, wire)
	assert.Equal(t, 2, cache.Len())

	cache.Destroy()
	assert.Equal(t, 2, dev.Destroyed("pipeline"))
	assert.Zero(t, cache.Len())
}

func TestShaderReloadChangesPipeline(t *testing.T) {
	dev := fakegpu.New()
	sh, dir := newShader(t, dev)
	cache := NewCache(dev, 0)
	s := NewGraphicsPipelineState()
	s.SetShader(sh)

	before, err := cache.Resolve(s)
	require.NoError(t, err)

	spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{Members: []uint32{0, 1}}, 1))
	require.NoError(t, sh.Reload())

	after, err := cache.Resolve(s)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestResolveErrors(t *testing.T) {
	dev := fakegpu.New()
	cache := NewCache(dev, 0)
	_, err := cache.Resolve(NewGraphicsPipelineState())
	assert.ErrorIs(t, err, ErrNoShader)

	sh, _ := newShader(t, dev)
	s := NewGraphicsPipelineState()
	s.SetShader(sh)
	dev.FailPipelines = true
	_, err = cache.Resolve(s)
	assert.ErrorIs(t, err, fakegpu.ErrInjected)
	assert.Zero(t, cache.Len())

	_, err = cache.Resolve(NewComputePipelineState(sh))
	assert.ErrorIs(t, err, ErrNotCompute)
}

func TestComputeResolve(t *testing.T) {
	dev := fakegpu.New()
	dir := t.TempDir()
	sh, err := shader.New(dev, shader.Settings{Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageCompute: spvtest.Write(t, dir, "a.comp.spv", spvtest.ComputeModule()),
	}})
	require.NoError(t, err)

	cache := NewCache(dev, 0)
	s := NewComputePipelineState(sh)
	p, err := cache.Resolve(s)
	require.NoError(t, err)
	q, err := cache.Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	assert.Len(t, dev.EventsNamed("create-compute-pipeline"), 1)
}

func TestDriverCacheRoundTrip(t *testing.T) {
	dev := fakegpu.New()
	path := filepath.Join(t.TempDir(), DefaultDriverCachePath)

	cache, err := LoadDriverCache(dev, path)
	require.NoError(t, err)
	require.NoError(t, SaveDriverCache(dev, cache, path))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, saved)

	reloaded, err := LoadDriverCache(dev, path)
	require.NoError(t, err)
	data, err := dev.PipelineCacheData(reloaded)
	require.NoError(t, err)
	assert.Equal(t, saved, data)
}
