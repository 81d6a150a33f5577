package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/renderer/draw"
	"github.com/spaghettifunk/vkcore/engine/renderer/fakegpu"
	"github.com/spaghettifunk/vkcore/engine/renderer/memory"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader/spvtest"
)

func newContext(t *testing.T, dev *fakegpu.Device, frames int) *Context {
	t.Helper()
	ctx, err := New(Settings{
		Name:                "test",
		Device:              dev,
		FrameCount:          frames,
		TransientMemorySize: 4096,
		RenderPass:          77,
		RenderArea:          metadata.Rect2D{Extent: metadata.Extent2D{Width: 640, Height: 480}},
		ClearValues:         []metadata.ClearValue{metadata.ClearColor(0, 0, 0, 1), metadata.ClearDepthStencil(1, 0)},
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Setup())
	t.Cleanup(ctx.Destroy)
	return ctx
}

func newUnlitShader(t *testing.T, dev *fakegpu.Device) *shader.Shader {
	t.Helper()
	dir := t.TempDir()
	sh, err := shader.New(dev, shader.Settings{
		Name: "unlit",
		Sources: map[metadata.ShaderStage]string{
			metadata.ShaderStageVertex:   spvtest.Write(t, dir, "unlit.vert.spv", spvtest.VertexModule()),
			metadata.ShaderStageFragment: spvtest.Write(t, dir, "unlit.frag.spv", spvtest.FragmentModule(spvtest.BlockOptions{}, 1)),
		},
	})
	require.NoError(t, err)
	return sh
}

func newInfo(t *testing.T, sh *shader.Shader, modify func(*pipeline.GraphicsPipelineState)) *draw.DrawCommandInfo {
	t.Helper()
	state := pipeline.NewGraphicsPipelineState()
	state.SetShader(sh)
	if modify != nil {
		modify(state)
	}
	info, err := draw.NewDrawCommandInfo(state)
	require.NoError(t, err)
	return info
}

func newDraw(t *testing.T, info *draw.DrawCommandInfo, view metadata.ImageView) *draw.DrawCommand {
	t.Helper()
	dc := draw.New(info)
	require.True(t, dc.SetAttribute(0, 50, 0))
	require.True(t, dc.SetAttribute(1, 51, 0))
	require.True(t, dc.SetTexture("tex", draw.Texture{Sampler: 3, ImageView: view}))
	require.True(t, draw.SetUniform(dc, "color", [4]float32{1, 0, 0, 1}))
	dc.SetNumVertices(3)
	return dc
}

func setHash(slots []draw.Slot) uint64 {
	d := draw.SetData{Slots: slots}
	return d.Hash()
}

func TestDescriptorPoolGrowth(t *testing.T) {
	dev := fakegpu.New()
	layouts := newUnlitShader(t, dev).SetLayouts()
	a := NewDescriptorAllocator(dev, 2)
	require.NoError(t, a.Update(0))
	assert.Zero(t, dev.DescriptorPoolsMade)

	ubo := []draw.Slot{{Type: metadata.DescriptorTypeUniformBufferDynamic, Buffer: 9, Range: 80}}
	tex := []draw.Slot{{Type: metadata.DescriptorTypeCombinedImageSampler, Sampler: 3, ImageView: 4,
		ImageLayout: metadata.ImageLayoutShaderReadOnlyOptimal}}

	uboSet, err := a.GetDescriptorSet(setHash(ubo), 0, layouts[0], ubo)
	require.NoError(t, err)
	require.Equal(t, 1, dev.DescriptorPoolsMade)
	pools := dev.EventsNamed("create-descriptor-pool")
	assert.Equal(t, []metadata.DescriptorPoolSize{{Type: metadata.DescriptorTypeUniformBufferDynamic, Count: 1}},
		dev.PoolSizes(metadata.DescriptorPool(pools[0].Handle)))
	assert.Equal(t, []metadata.WriteDescriptorSet{{
		DstSet:         uboSet,
		DescriptorType: metadata.DescriptorTypeUniformBufferDynamic,
		BufferInfo:     &metadata.DescriptorBufferInfo{Buffer: 9, Range: 80},
	}}, dev.Writes())

	again, err := a.GetDescriptorSet(setHash(ubo), 0, layouts[0], ubo)
	require.NoError(t, err)
	assert.Equal(t, uboSet, again)
	assert.Equal(t, 1, dev.DescriptorPoolsMade)
	assert.Equal(t, 1, dev.DescriptorSetsCreated)

	// the newest pool is full, so exactly one more pool covers the new set
	texSet, err := a.GetDescriptorSet(setHash(tex), 1, layouts[1], tex)
	require.NoError(t, err)
	assert.NotEqual(t, uboSet, texSet)
	require.Equal(t, 2, dev.DescriptorPoolsMade)
	pools = dev.EventsNamed("create-descriptor-pool")
	assert.Equal(t, []metadata.DescriptorPoolSize{{Type: metadata.DescriptorTypeCombinedImageSampler, Count: 1}},
		dev.PoolSizes(metadata.DescriptorPool(pools[1].Handle)))

	// frame 1 starts with one pool sized for everything seen so far
	require.NoError(t, a.Update(1))
	require.Equal(t, 3, dev.DescriptorPoolsMade)
	pools = dev.EventsNamed("create-descriptor-pool")
	assert.Equal(t, []metadata.DescriptorPoolSize{
		{Type: metadata.DescriptorTypeCombinedImageSampler, Count: 1},
		{Type: metadata.DescriptorTypeUniformBufferDynamic, Count: 1},
	}, dev.PoolSizes(metadata.DescriptorPool(pools[2].Handle)))
	uboSet1, err := a.GetDescriptorSet(setHash(ubo), 0, layouts[0], ubo)
	require.NoError(t, err)
	_, err = a.GetDescriptorSet(setHash(tex), 1, layouts[1], tex)
	require.NoError(t, err)
	assert.Equal(t, 3, dev.DescriptorPoolsMade)

	// frame 0 drops its two pools for one
	require.NoError(t, a.Update(0))
	assert.Equal(t, 4, dev.DescriptorPoolsMade)
	assert.Equal(t, 2, dev.Destroyed("descriptor_pool"))
	assert.Equal(t, 2, dev.LivePools())

	// a clean frame keeps its pool and cache
	require.NoError(t, a.Update(1))
	assert.Equal(t, 4, dev.DescriptorPoolsMade)
	cached, err := a.GetDescriptorSet(setHash(ubo), 0, layouts[0], ubo)
	require.NoError(t, err)
	assert.Equal(t, uboSet1, cached)

	a.Destroy()
	assert.Zero(t, dev.LivePools())
}

func TestDescriptorSkipsEmptySlots(t *testing.T) {
	dev := fakegpu.New()
	layouts := newUnlitShader(t, dev).SetLayouts()
	a := NewDescriptorAllocator(dev, 1)
	require.NoError(t, a.Update(0))

	empty := []draw.Slot{{Type: metadata.DescriptorTypeCombinedImageSampler}}
	_, err := a.GetDescriptorSet(setHash(empty), 1, layouts[1], empty)
	require.NoError(t, err)
	assert.Empty(t, dev.Writes())
}

func TestBatchReusesPipelinesAndSets(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 2)
	sh := newUnlitShader(t, dev)
	info := newInfo(t, sh, nil)
	wire := newInfo(t, sh, func(s *pipeline.GraphicsPipelineState) { s.SetPolyMode(metadata.PolygonModeLine) })

	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.SetupFramebuffer([]metadata.ImageView{1, 2}, 640, 480))
	b := NewBatch(ctx)
	require.NoError(t, b.Begin())
	assert.ErrorIs(t, b.Begin(), ErrRenderPassOpen)

	dc := newDraw(t, info, 4)
	require.NoError(t, b.Draw(dc))
	require.NoError(t, b.Draw(dc))
	require.NoError(t, b.Draw(newDraw(t, wire, 5)))
	assert.Equal(t, 3, b.Len())
	// the template itself is never committed
	assert.Zero(t, dc.Set(0).Slots[0].Buffer)

	assert.ErrorIs(t, b.Submit(), ErrBatchState)
	require.NoError(t, b.End())
	require.NoError(t, b.Submit())
	require.NoError(t, ctx.SubmitToQueue())

	assert.Equal(t, 2, dev.PipelinesCreated)
	assert.Equal(t, 2, ctx.Pipelines().Len())
	// set 0 is shared by all three draws, set 1 by the first two
	assert.Equal(t, 3, dev.DescriptorSetsCreated)

	cmd := b.CommandBuffer()
	ops := dev.Recorded(cmd)
	require.NotEmpty(t, ops)
	assert.Equal(t, "begin-render-pass", ops[0].Name)
	assert.Equal(t, []uint64{77, uint64(ctx.Framebuffer())}, ops[0].Handles)
	assert.Equal(t, "end-render-pass", ops[len(ops)-1].Name)

	assert.Len(t, dev.RecordedNamed(cmd, "bind-pipeline"), 2)
	assert.Len(t, dev.RecordedNamed(cmd, "draw"), 3)

	binds := dev.RecordedNamed(cmd, "bind-descriptor-sets")
	require.Len(t, binds, 3)
	assert.Equal(t, uint64(0), binds[0].Values[3])
	assert.Equal(t, uint64(256), binds[1].Values[3])
	assert.Equal(t, uint64(512), binds[2].Values[3])
	assert.Equal(t, binds[0].Handles, binds[1].Handles)
	assert.Equal(t, binds[0].Handles[0], binds[2].Handles[0])
	assert.NotEqual(t, binds[0].Handles[1], binds[2].Handles[1])

	vb := dev.RecordedNamed(cmd, "bind-vertex-buffers")
	require.Len(t, vb, 3)
	assert.Equal(t, []uint64{50, 51}, vb[0].Handles)
	assert.Equal(t, []uint64{0, 0, 0}, vb[0].Values)

	subs := dev.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, []metadata.CommandBuffer{cmd}, subs[0][0].CommandBuffers)
	assert.Empty(t, subs[0][0].SignalSemaphores)
}

func TestBatchReuseAcrossFrames(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 2)
	info := newInfo(t, newUnlitShader(t, dev), nil)
	dc := newDraw(t, info, 4)

	b := NewBatch(ctx)
	var cmds []metadata.CommandBuffer
	for frame := 0; frame < 3; frame++ {
		require.NoError(t, ctx.Begin())
		require.NoError(t, ctx.SetupFramebuffer([]metadata.ImageView{1, 2}, 640, 480))
		require.NoError(t, b.Begin())
		require.NoError(t, b.Draw(dc))
		require.NoError(t, b.End())
		require.NoError(t, b.Submit())
		assert.ErrorIs(t, b.Submit(), ErrBatchState)
		require.NoError(t, ctx.SubmitToQueue())
		require.NoError(t, ctx.Swap())
		assert.Len(t, dev.RecordedNamed(b.CommandBuffer(), "draw"), 1)
		cmds = append(cmds, b.CommandBuffer())
	}
	assert.NotEqual(t, cmds[0], cmds[1])
	assert.Len(t, dev.Submissions(), 3)
}

func TestBatchSubpassesAndSort(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 1)
	sh := newUnlitShader(t, dev)
	info := newInfo(t, sh, nil)

	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.SetupFramebuffer([]metadata.ImageView{1}, 640, 480))
	b := NewBatch(ctx)
	assert.ErrorIs(t, b.Draw(newDraw(t, info, 4)), ErrNoRenderPass)
	require.NoError(t, b.Begin())

	big := newDraw(t, info, 4)
	big.SetNumVertices(9)
	small := newDraw(t, info, 4)
	small.SetNumVertices(3)
	require.NoError(t, b.Draw(big))
	require.NoError(t, b.Draw(small))
	require.NoError(t, b.NextSubpass())
	indexed := newDraw(t, info, 4)
	indexed.SetIndices(60, 0, metadata.IndexTypeUint32)
	indexed.SetNumIndices(1)
	require.NoError(t, b.Draw(indexed))

	b.Sort(func(x, y *draw.DrawCommand) bool { return x.NumVertices() < y.NumVertices() })
	require.NoError(t, b.End())

	var names []string
	for _, op := range dev.Recorded(b.CommandBuffer()) {
		switch op.Name {
		case "draw", "draw-indexed", "next-subpass":
			names = append(names, op.Name)
		}
	}
	// the indexed draw has no vertex count but stays in its subpass
	assert.Equal(t, []string{"draw", "draw", "next-subpass", "draw-indexed"}, names)
	draws := dev.RecordedNamed(b.CommandBuffer(), "draw")
	assert.Equal(t, uint64(3), draws[0].Values[0])
	assert.Equal(t, uint64(9), draws[1].Values[0])
	// one pipeline per subpass
	assert.Equal(t, 2, dev.PipelinesCreated)
	idx := dev.RecordedNamed(b.CommandBuffer(), "bind-index-buffer")
	require.Len(t, idx, 1)
	assert.Equal(t, []uint64{60}, idx[0].Handles)
}

func TestSwapCyclesFrames(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, ctx.FrameIndex())
		require.NoError(t, ctx.Begin())
		require.NoError(t, ctx.SubmitToQueue())
		require.NoError(t, ctx.Swap())
	}
	assert.Equal(t, 0, ctx.FrameIndex())
	for f := uint32(0); f < 3; f++ {
		assert.Equal(t, 1, ctx.TransientAllocator().ResetCount(f), "frame %d", f)
	}
	assert.Len(t, dev.Submissions(), 3)
}

func TestSwapRequiresSubmission(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 2)
	require.NoError(t, ctx.Swap())
	require.NoError(t, ctx.Begin())
	assert.ErrorIs(t, ctx.Swap(), ErrFrameNotSubmitted)
	require.NoError(t, ctx.SubmitToQueue())
	assert.ErrorIs(t, ctx.SubmitToQueue(), ErrFrameSubmitted)
	assert.ErrorIs(t, ctx.Submit(1), ErrFrameSubmitted)
	require.NoError(t, ctx.Swap())
	assert.ErrorIs(t, ctx.SubmitToQueue(), ErrFrameNotBegun)
}

func TestBeginWaitsForFrameFence(t *testing.T) {
	dev := fakegpu.New()
	dev.FenceTimeouts = 2
	ctx := newContext(t, dev, 2)

	fence := ctx.Fence()
	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.SubmitToQueue())
	require.NoError(t, ctx.Swap())
	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.SubmitToQueue())
	require.NoError(t, ctx.Swap())
	require.Equal(t, fence, ctx.Fence())

	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.SetupFramebuffer([]metadata.ImageView{1}, 640, 480))
	b := NewBatch(ctx)
	require.NoError(t, b.Begin())

	signaled, begun, timeouts := -1, -1, 0
	for i, e := range dev.Events() {
		switch {
		case e.Op == "wait-fence-timeout" && e.Handle == uint64(fence):
			timeouts++
		case e.Op == "fence-signaled" && e.Handle == uint64(fence):
			signaled = i
		case e.Op == "begin-command-buffer" && e.Handle == uint64(b.CommandBuffer()):
			begun = i
		}
	}
	assert.Equal(t, 2, timeouts)
	require.NotEqual(t, -1, signaled)
	assert.Less(t, signaled, begun)
}

func TestBeginFailsOnLostFence(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 1)
	require.NoError(t, dev.ResetFence(ctx.Fence()))
	assert.ErrorIs(t, ctx.Begin(), fakegpu.ErrDeadlock)
}

func TestSubmissionSemaphores(t *testing.T) {
	dev := fakegpu.New()
	shadow := newContext(t, dev, 2)

	main, err := New(Settings{
		Name:                "main",
		Device:              dev,
		FrameCount:          2,
		TransientMemorySize: 1024,
		RenderToSwapchain:   true,
	})
	require.NoError(t, err)
	require.NoError(t, main.Setup())
	defer main.Destroy()

	require.NoError(t, main.AddContextDependency(shadow))
	require.NoError(t, main.AddContextDependency(shadow))
	require.NoError(t, main.AddContextDependency(main))
	require.Len(t, shadow.dependents, 1)
	link := shadow.dependents[0]

	require.NoError(t, shadow.Begin())
	require.NoError(t, shadow.SubmitToQueue())
	require.NoError(t, main.Begin())
	require.NoError(t, main.SubmitToQueue())

	subs := dev.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, []metadata.Semaphore{link.semaphores[0]}, subs[0][0].SignalSemaphores)
	assert.Equal(t, []metadata.Semaphore{main.ImageAcquiredSemaphore(), link.semaphores[0]}, subs[1][0].WaitSemaphores)
	assert.Equal(t, []metadata.PipelineStage{metadata.PipelineStageColorAttachmentOutput, metadata.PipelineStageAllCommands},
		subs[1][0].WaitDstStageMask)
	assert.Equal(t, []metadata.Semaphore{main.RenderCompleteSemaphore()}, subs[1][0].SignalSemaphores)

	// nothing new to wait on without another shadow submission
	require.NoError(t, main.Swap())
	require.NoError(t, main.Begin())
	require.NoError(t, main.SubmitToQueue())
	subs = dev.Submissions()
	assert.Equal(t, []metadata.Semaphore{main.ImageAcquiredSemaphore()}, subs[2][0].WaitSemaphores)
}

func TestDependencyWaitsOnSignaledFrame(t *testing.T) {
	dev := fakegpu.New()
	shadow := newContext(t, dev, 2)
	main := newContext(t, dev, 2)
	third := newContext(t, dev, 2)
	require.NoError(t, main.AddContextDependency(shadow))
	require.NoError(t, third.AddContextDependency(shadow))
	require.Len(t, shadow.dependents, 2)
	toMain, toThird := shadow.dependents[0], shadow.dependents[1]
	assert.NotEqual(t, toMain.semaphores[0], toThird.semaphores[0])

	require.NoError(t, shadow.Begin())
	require.NoError(t, shadow.SubmitToQueue())
	require.NoError(t, shadow.Swap())

	require.NoError(t, main.Begin())
	require.NoError(t, main.SubmitToQueue())
	require.NoError(t, third.Begin())
	require.NoError(t, third.SubmitToQueue())

	subs := dev.Submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, []metadata.Semaphore{toMain.semaphores[0], toThird.semaphores[0]}, subs[0][0].SignalSemaphores)
	assert.Equal(t, []metadata.Semaphore{toMain.semaphores[0]}, subs[1][0].WaitSemaphores)
	assert.Equal(t, []metadata.Semaphore{toThird.semaphores[0]}, subs[2][0].WaitSemaphores)
	assert.Empty(t, subs[1][0].SignalSemaphores)

	// two shadow frames before third waits again: third waits on both
	require.NoError(t, shadow.Begin())
	require.NoError(t, shadow.SubmitToQueue())
	require.NoError(t, shadow.Swap())
	require.NoError(t, shadow.Begin())
	require.NoError(t, shadow.SubmitToQueue())
	require.NoError(t, third.Swap())
	require.NoError(t, third.Begin())
	require.NoError(t, third.SubmitToQueue())

	subs = dev.Submissions()
	require.Len(t, subs, 6)
	assert.Equal(t, []metadata.Semaphore{toThird.semaphores[1], toThird.semaphores[0]}, subs[5][0].WaitSemaphores)
}

func TestDestroyReleasesDependencySemaphores(t *testing.T) {
	dev := fakegpu.New()
	shadow := newContext(t, dev, 2)
	main := newContext(t, dev, 2)
	require.NoError(t, main.AddContextDependency(shadow))

	before := dev.Destroyed("semaphore")
	shadow.Destroy()
	assert.Equal(t, before+2+4, dev.Destroyed("semaphore"))
	assert.Empty(t, main.dependencies)

	assert.ErrorIs(t, main.AddContextDependency(shadow), ErrInvalidSettings)
}

func TestStoreBufferDataCmd(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 2)
	static, err := memory.NewBufferAllocator(memory.StaticSettings(dev, 4096))
	require.NoError(t, err)
	defer static.Destroy()

	srcs := []TransferSrcData{
		{Data: make([]byte, 36), NumElements: 3},
		{Data: make([]byte, 12), NumElements: 6},
	}
	_, err = ctx.StoreBufferDataCmd(srcs, static)
	assert.ErrorIs(t, err, ErrFrameNotBegun)

	require.NoError(t, ctx.Begin())
	regions, err := ctx.StoreBufferDataCmd(srcs, static)
	require.NoError(t, err)
	assert.Equal(t, []BufferRegion{
		{Buffer: static.Buffer(), Offset: 0, Range: 36, NumElements: 3},
		{Buffer: static.Buffer(), Offset: static.Alignment(), Range: 12, NumElements: 6},
	}, regions)

	require.NoError(t, ctx.SubmitToQueue())
	subs := dev.Submissions()
	require.Len(t, subs, 1)
	require.Len(t, subs[0][0].CommandBuffers, 1)
	cmd := subs[0][0].CommandBuffers[0]

	copies := dev.RecordedNamed(cmd, "copy-buffer")
	require.Len(t, copies, 1)
	assert.Equal(t, []uint64{uint64(ctx.TransientAllocator().Buffer()), uint64(static.Buffer())}, copies[0].Handles)
	assert.Equal(t, []uint64{0, 0, 36, 256, 256, 12}, copies[0].Values)

	barriers := dev.RecordedNamed(cmd, "buffer-barrier")
	require.Len(t, barriers, 1)
	assert.Equal(t, uint64(metadata.PipelineStageTransfer), barriers[0].Values[0])
	assert.Len(t, barriers[0].Handles, 2)
}

func TestDispatch(t *testing.T) {
	dev := fakegpu.New()
	ctx := newContext(t, dev, 1)
	dir := t.TempDir()
	sh, err := shader.New(dev, shader.Settings{Name: "particles", Sources: map[metadata.ShaderStage]string{
		metadata.ShaderStageCompute: spvtest.Write(t, dir, "particles.comp.spv", spvtest.ComputeModule()),
	}})
	require.NoError(t, err)
	cc, err := draw.NewComputeCommand(pipeline.NewComputePipelineState(sh))
	require.NoError(t, err)
	require.True(t, cc.SetStorageBuffer("Particles", 11, 0, 32))

	assert.ErrorIs(t, ctx.Dispatch(cc, 8, 1, 1), ErrFrameNotBegun)
	require.NoError(t, ctx.Begin())
	require.NoError(t, ctx.Dispatch(cc, 8, 1, 1))
	require.NoError(t, ctx.SubmitToQueue())

	cmd := dev.Submissions()[0][0].CommandBuffers[0]
	bind := dev.RecordedNamed(cmd, "bind-pipeline")
	require.Len(t, bind, 1)
	assert.Equal(t, uint64(metadata.PipelineBindPointCompute), bind[0].Values[0])
	dispatch := dev.RecordedNamed(cmd, "dispatch")
	require.Len(t, dispatch, 1)
	assert.Equal(t, []uint64{8, 1, 1}, dispatch[0].Values)
	assert.Equal(t, 1, dev.DescriptorSetsCreated)
}

func TestNewValidatesSettings(t *testing.T) {
	_, err := New(Settings{Device: fakegpu.New(), FrameCount: 0, TransientMemorySize: 1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = New(Settings{Device: fakegpu.New(), FrameCount: 2})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = New(Settings{FrameCount: 2, TransientMemorySize: 1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestNewRejectsOversizedTransientMemory(t *testing.T) {
	_, err := New(Settings{Device: fakegpu.New(), FrameCount: 2, TransientMemorySize: 1 << 31})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = New(Settings{Device: fakegpu.New(), FrameCount: 2, TransientMemorySize: 1<<31 - 1})
	assert.NoError(t, err)
}
