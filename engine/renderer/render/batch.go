package render

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/draw"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrRenderPassOpen = errors.New("a render pass is already open")
	ErrNoRenderPass   = errors.New("no render pass is open")
	ErrBatchState     = errors.New("operation not allowed in the current batch state")
	ErrNoFramebuffer  = errors.New("context has no framebuffer for the current frame")
)

type batchState int

const (
	batchIdle batchState = iota
	batchRenderPassOpen
	batchRecording
	batchSubmitted
)

func (s batchState) String() string {
	switch s {
	case batchIdle:
		return "idle"
	case batchRenderPassOpen:
		return "render pass open"
	case batchRecording:
		return "recording"
	case batchSubmitted:
		return "submitted"
	}
	return "unknown"
}

type queuedDraw struct {
	cmd     *draw.DrawCommand
	subpass uint32
}

// Batch collects the draws of one render pass and records them into one
// command buffer when the pass ends. Draws can be reordered with Sort before
// End; they never move across subpasses. A submitted batch can Begin again,
// usually in the next frame of its context.
type Batch struct {
	ctx   *Context
	state batchState
	cmd   metadata.CommandBuffer

	subpass uint32
	draws   []queuedDraw
}

func NewBatch(ctx *Context) *Batch {
	return &Batch{ctx: ctx}
}

func (b *Batch) CommandBuffer() metadata.CommandBuffer { return b.cmd }

func (b *Batch) Len() int { return len(b.draws) }

// Begin starts a command buffer from the context's current frame and opens
// the render pass on the current framebuffer.
func (b *Batch) Begin() error {
	switch b.state {
	case batchIdle, batchSubmitted:
	case batchRenderPassOpen:
		return ErrRenderPassOpen
	default:
		return fmt.Errorf("begin while %s: %w", b.state, ErrBatchState)
	}
	c := b.ctx
	fb := c.Framebuffer()
	if fb == 0 {
		return ErrNoFramebuffer
	}
	cmd, err := c.AllocateCommandBuffer()
	if err != nil {
		return err
	}
	if err := c.device.BeginCommandBuffer(cmd, metadata.CommandBufferUsageOneTimeSubmit); err != nil {
		return err
	}
	area := c.RenderArea()
	c.device.CmdBeginRenderPass(cmd, &metadata.RenderPassBeginInfo{
		RenderPass:  c.RenderPass(),
		Framebuffer: fb,
		RenderArea:  area,
		ClearValues: c.ClearValues(),
	})
	c.device.CmdSetViewport(cmd, metadata.Viewport{
		X:        float32(area.Offset.X),
		Y:        float32(area.Offset.Y),
		Width:    float32(area.Extent.Width),
		Height:   float32(area.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	c.device.CmdSetScissor(cmd, area)

	b.cmd = cmd
	b.subpass = 0
	b.draws = b.draws[:0]
	b.state = batchRenderPassOpen
	return nil
}

// Draw commits the uniforms of a copy of dc to transient memory and queues
// the copy. dc itself can be changed and drawn again right away.
func (b *Batch) Draw(dc *draw.DrawCommand) error {
	if b.state != batchRenderPassOpen {
		return ErrNoRenderPass
	}
	if dc.Stale() {
		core.LogWarn("Draw: shader '%s' changed its reflection since the command was created, skipping", dc.Info().Shader().Name())
		return nil
	}
	c := dc.Clone()
	if !c.CommitUniforms(b.ctx.transient, uint32(b.ctx.index)) {
		core.LogError("Draw: out of transient memory, skipping draw of shader '%s'", dc.Info().Shader().Name())
		return ErrOutOfTransientMemory
	}
	b.draws = append(b.draws, queuedDraw{cmd: c, subpass: b.subpass})
	return nil
}

// NextSubpass moves the following draws to the next subpass.
func (b *Batch) NextSubpass() error {
	if b.state != batchRenderPassOpen {
		return ErrNoRenderPass
	}
	b.subpass++
	return nil
}

// Sort orders the queued draws of each subpass by less, keeping the order of
// equal draws.
func (b *Batch) Sort(less func(a, b *draw.DrawCommand) bool) {
	sort.SliceStable(b.draws, func(i, j int) bool {
		if b.draws[i].subpass != b.draws[j].subpass {
			return b.draws[i].subpass < b.draws[j].subpass
		}
		return less(b.draws[i].cmd, b.draws[j].cmd)
	})
}

// End records every queued draw, closes the render pass and ends the
// command buffer.
func (b *Batch) End() error {
	if b.state != batchRenderPassOpen {
		return ErrNoRenderPass
	}
	c := b.ctx
	d := c.device
	var (
		subpass  uint32
		lastPipe metadata.Pipeline
		lastSets boundSets
	)
	for _, q := range b.draws {
		for subpass < q.subpass {
			d.CmdNextSubpass(b.cmd)
			subpass++
			// a new subpass needs its pipelines and sets bound again
			lastPipe, lastSets = 0, boundSets{}
		}
		if err := b.record(q.cmd, subpass, &lastPipe, &lastSets); err != nil {
			core.LogError("End: skipping draw of shader '%s': %s", q.cmd.Info().Shader().Name(), err)
		}
	}
	for subpass < b.subpass {
		d.CmdNextSubpass(b.cmd)
		subpass++
	}
	d.CmdEndRenderPass(b.cmd)
	if err := d.EndCommandBuffer(b.cmd); err != nil {
		return err
	}
	b.draws = b.draws[:0]
	b.state = batchRecording
	return nil
}

func (b *Batch) record(dc *draw.DrawCommand, subpass uint32, lastPipe *metadata.Pipeline, lastSets *boundSets) error {
	c := b.ctx
	d := c.device
	state := c.batchState(dc.Info().Pipeline(), subpass)
	p, err := c.pipelines.Resolve(state)
	if err != nil {
		return err
	}

	vertex := dc.VertexBindings()
	for _, v := range vertex {
		if v.Buffer == 0 {
			return fmt.Errorf("vertex binding %d has no buffer", v.Binding)
		}
	}

	if p != *lastPipe {
		d.CmdBindPipeline(b.cmd, metadata.PipelineBindPointGraphics, p)
		*lastPipe = p
	}
	sh := state.Shader()
	if err := c.bindDescriptorSets(b.cmd, metadata.PipelineBindPointGraphics, sh.PipelineLayout(), sh.SetLayouts(), dc, lastSets); err != nil {
		return err
	}

	// runs of consecutive binding numbers go in one call
	for start := 0; start < len(vertex); {
		end := start + 1
		for end < len(vertex) && vertex[end].Binding == vertex[end-1].Binding+1 {
			end++
		}
		buffers := make([]metadata.Buffer, 0, end-start)
		offsets := make([]uint64, 0, end-start)
		for _, v := range vertex[start:end] {
			buffers = append(buffers, v.Buffer)
			offsets = append(offsets, v.Offset)
		}
		d.CmdBindVertexBuffers(b.cmd, vertex[start].Binding, buffers, offsets)
		start = end
	}

	if buf, off, indexType, ok := dc.Indices(); ok {
		d.CmdBindIndexBuffer(b.cmd, buf, off, indexType)
		d.CmdDrawIndexed(b.cmd, dc.NumIndices(), dc.InstanceCount(), 0, 0, 0)
	} else {
		d.CmdDraw(b.cmd, dc.NumVertices(), dc.InstanceCount(), 0, 0)
	}
	return nil
}

// Submit hands the recorded command buffer to the context.
func (b *Batch) Submit() error {
	if b.state != batchRecording {
		return fmt.Errorf("submit while %s: %w", b.state, ErrBatchState)
	}
	if err := b.ctx.Submit(b.cmd); err != nil {
		return err
	}
	b.state = batchSubmitted
	return nil
}
