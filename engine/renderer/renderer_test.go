package renderer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/fakegpu"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader/spvtest"
)

type present struct {
	queue metadata.Queue
	wait  []metadata.Semaphore
	index uint32
}

type fakeSwapchain struct {
	extent    metadata.Extent2D
	images    int
	next      uint32
	booting   int
	acquired  []metadata.Semaphore
	presents  []present
	recreated int
}

func (s *fakeSwapchain) ImageCount() int { return s.images }
func (s *fakeSwapchain) Extent() metadata.Extent2D { return s.extent }
func (s *fakeSwapchain) ColorFormat() metadata.Format { return metadata.Format(44) }
func (s *fakeSwapchain) DepthFormat() metadata.Format { return metadata.Format(126) }
func (s *fakeSwapchain) ColorView(index uint32) metadata.ImageView { return metadata.ImageView(100 + index) }
func (s *fakeSwapchain) DepthView(uint32) metadata.ImageView { return 200 }
func (s *fakeSwapchain) Destroy() {}

func (s *fakeSwapchain) AcquireNextImage(signal metadata.Semaphore, _ time.Duration) (uint32, error) {
	if s.booting > 0 {
		s.booting--
		s.extent = metadata.Extent2D{Width: 320, Height: 200}
		return 0, core.ErrSwapchainBooting
	}
	s.acquired = append(s.acquired, signal)
	i := s.next
	s.next = (s.next + 1) % uint32(s.images)
	return i, nil
}

func (s *fakeSwapchain) Present(queue metadata.Queue, wait []metadata.Semaphore, index uint32) error {
	s.presents = append(s.presents, present{queue: queue, wait: wait, index: index})
	return nil
}

func (s *fakeSwapchain) Recreate(width, height uint32) error {
	s.recreated++
	s.extent = metadata.Extent2D{Width: width, Height: height}
	return nil
}

func newRenderer(t *testing.T, dev *fakegpu.Device, sc *fakeSwapchain, cachePath string) *Renderer {
	t.Helper()
	r, err := New(Settings{
		Device:                  dev,
		Swapchain:               sc,
		RenderPass:              9,
		GraphicsQueue:           1,
		PresentQueue:            2,
		VirtualFrames:           2,
		TransientMemoryPerFrame: 4096,
		PipelineCachePath:       cachePath,
		FenceTimeout:            time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestFrameLoop(t *testing.T) {
	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 640, Height: 480}, images: 3}
	r := newRenderer(t, dev, sc, "")
	defer r.Shutdown()

	assert.Equal(t, metadata.Extent2D{Width: 640, Height: 480}, r.Context().RenderArea().Extent)
	assert.Len(t, r.Context().ClearValues(), 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.StartRender())
		assert.Equal(t, uint32(i%3), r.ImageIndex())
		assert.Equal(t, sc.acquired[i], r.Context().ImageAcquiredSemaphore())
		require.NoError(t, r.FinishRender())
	}
	assert.Equal(t, uint64(4), r.FrameNumber())
	require.Len(t, sc.presents, 4)
	for _, p := range sc.presents {
		assert.Equal(t, metadata.Queue(2), p.queue)
		require.Len(t, p.wait, 1)
	}
	assert.Equal(t, uint32(1), sc.presents[1].index)

	subs := dev.Submissions()
	require.Len(t, subs, 4)
	assert.Equal(t, sc.acquired[0], subs[0][0].WaitSemaphores[0])
	assert.Equal(t, sc.presents[0].wait, subs[0][0].SignalSemaphores)
}

func TestFinishWithoutStart(t *testing.T) {
	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 64, Height: 64}, images: 2}
	r := newRenderer(t, dev, sc, "")
	defer r.Shutdown()

	assert.ErrorIs(t, r.FinishRender(), ErrNotRendering)
}

func TestSwapchainBootingSkipsFrame(t *testing.T) {
	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 640, Height: 480}, images: 2, booting: 1}
	r := newRenderer(t, dev, sc, "")
	defer r.Shutdown()

	require.ErrorIs(t, r.StartRender(), core.ErrSwapchainBooting)
	assert.Equal(t, metadata.Extent2D{Width: 320, Height: 200}, r.Context().RenderArea().Extent)
	assert.ErrorIs(t, r.FinishRender(), ErrNotRendering)

	require.NoError(t, r.StartRender())
	require.NoError(t, r.FinishRender())
	assert.Len(t, dev.Submissions(), 1)
}

func TestResize(t *testing.T) {
	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 640, Height: 480}, images: 2}
	r := newRenderer(t, dev, sc, "")
	defer r.Shutdown()

	require.NoError(t, r.Resize(0, 480))
	assert.Zero(t, sc.recreated)

	require.NoError(t, r.Resize(1024, 768))
	assert.Equal(t, 1, sc.recreated)
	assert.Equal(t, metadata.Extent2D{Width: 1024, Height: 768}, r.Context().RenderArea().Extent)
}

func TestPipelineCacheBlobPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.bin")
	require.NoError(t, os.WriteFile(path, []byte("warm"), 0o644))

	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 8, Height: 8}, images: 2}
	r := newRenderer(t, dev, sc, path)
	data, err := dev.PipelineCacheData(r.PipelineCache())
	require.NoError(t, err)
	assert.Equal(t, []byte("warm"), data)

	r.Shutdown()
	assert.Equal(t, 1, dev.Destroyed("pipeline_cache"))
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("warm"), saved)
}

func TestReloadShaders(t *testing.T) {
	dev := fakegpu.New()
	sc := &fakeSwapchain{extent: metadata.Extent2D{Width: 8, Height: 8}, images: 2}
	r := newRenderer(t, dev, sc, "")
	defer r.Shutdown()

	dir := t.TempDir()
	vert := spvtest.Write(t, dir, "unlit.vert.spv", spvtest.VertexModule())
	frag := spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{}, 1))
	sh, err := shader.New(dev, shader.Settings{
		Name:    "unlit",
		Sources: map[metadata.ShaderStage]string{metadata.ShaderStageVertex: vert, metadata.ShaderStageFragment: frag},
	})
	require.NoError(t, err)
	r.RegisterShader(sh)
	sh.Release()
	before := sh.CodeHash()

	spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{Members: []uint32{0, 1}}, 1))
	require.NoError(t, r.ReloadShaders([]string{filepath.Join(dir, "other.frag")}))
	assert.Equal(t, before, sh.CodeHash(), "shaders not reading a changed file are left alone")

	require.NoError(t, r.ReloadShaders([]string{filepath.Join(dir, ".", "unlit.frag.spv")}))
	assert.NotEqual(t, before, sh.CodeHash())
	assert.Equal(t, 1, dev.Destroyed("shader_module"), "the replaced fragment module is released")

	after := sh.CodeHash()
	require.NoError(t, os.WriteFile(frag, []byte{1, 2, 3}, 0o644))
	require.NoError(t, r.ReloadShaders(nil), "a broken edit keeps the previous version")
	assert.Equal(t, after, sh.CodeHash())

	require.NoError(t, os.Remove(vert))
	assert.ErrorIs(t, r.ReloadShaders(nil), shader.ErrSourceNotFound)
}
