package fakegpu

import (
	"fmt"

	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) op(cmd metadata.CommandBuffer, o Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.commands[cmd]; ok {
		cb.ops = append(cb.ops, o)
	}
}

func (d *Device) BeginCommandBuffer(cmd metadata.CommandBuffer, _ metadata.CommandBufferUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commands[cmd]
	if !ok {
		return fmt.Errorf("command buffer %d: %w", cmd, ErrUnknownHandle)
	}
	cb.ops, cb.recording = nil, true
	d.record("begin-command-buffer", uint64(cmd))
	return nil
}

func (d *Device) EndCommandBuffer(cmd metadata.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commands[cmd]
	if !ok || !cb.recording {
		return fmt.Errorf("command buffer %d not recording", cmd)
	}
	cb.recording = false
	d.record("end-command-buffer", uint64(cmd))
	return nil
}

func (d *Device) CmdBeginRenderPass(cmd metadata.CommandBuffer, info *metadata.RenderPassBeginInfo) {
	d.op(cmd, Op{
		Name:    "begin-render-pass",
		Handles: []uint64{uint64(info.RenderPass), uint64(info.Framebuffer)},
		Values:  []uint64{uint64(info.RenderArea.Extent.Width), uint64(info.RenderArea.Extent.Height), uint64(len(info.ClearValues))},
	})
}

func (d *Device) CmdNextSubpass(cmd metadata.CommandBuffer) {
	d.op(cmd, Op{Name: "next-subpass"})
}

func (d *Device) CmdEndRenderPass(cmd metadata.CommandBuffer) {
	d.op(cmd, Op{Name: "end-render-pass"})
}

func (d *Device) CmdSetViewport(cmd metadata.CommandBuffer, v metadata.Viewport) {
	d.op(cmd, Op{Name: "set-viewport", Values: []uint64{uint64(v.Width), uint64(v.Height)}})
}

func (d *Device) CmdSetScissor(cmd metadata.CommandBuffer, s metadata.Rect2D) {
	d.op(cmd, Op{Name: "set-scissor", Values: []uint64{uint64(s.Extent.Width), uint64(s.Extent.Height)}})
}

func (d *Device) CmdBindPipeline(cmd metadata.CommandBuffer, bp metadata.PipelineBindPoint, p metadata.Pipeline) {
	d.op(cmd, Op{Name: "bind-pipeline", Handles: []uint64{uint64(p)}, Values: []uint64{uint64(bp)}})
}

func (d *Device) CmdBindDescriptorSets(cmd metadata.CommandBuffer, bp metadata.PipelineBindPoint, layout metadata.PipelineLayout, firstSet uint32, sets []metadata.DescriptorSet, dynamicOffsets []uint32) {
	o := Op{Name: "bind-descriptor-sets", Values: []uint64{uint64(bp), uint64(layout), uint64(firstSet)}}
	for _, s := range sets {
		o.Handles = append(o.Handles, uint64(s))
	}
	for _, off := range dynamicOffsets {
		o.Values = append(o.Values, uint64(off))
	}
	d.op(cmd, o)
}

func (d *Device) CmdBindVertexBuffers(cmd metadata.CommandBuffer, first uint32, buffers []metadata.Buffer, offsets []uint64) {
	o := Op{Name: "bind-vertex-buffers", Values: []uint64{uint64(first)}}
	for _, b := range buffers {
		o.Handles = append(o.Handles, uint64(b))
	}
	o.Values = append(o.Values, offsets...)
	d.op(cmd, o)
}

func (d *Device) CmdBindIndexBuffer(cmd metadata.CommandBuffer, b metadata.Buffer, offset uint64, t metadata.IndexType) {
	d.op(cmd, Op{Name: "bind-index-buffer", Handles: []uint64{uint64(b)}, Values: []uint64{offset, uint64(t)}})
}

func (d *Device) CmdDraw(cmd metadata.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.op(cmd, Op{Name: "draw", Values: []uint64{uint64(vertexCount), uint64(instanceCount), uint64(firstVertex), uint64(firstInstance)}})
}

func (d *Device) CmdDrawIndexed(cmd metadata.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.op(cmd, Op{Name: "draw-indexed", Values: []uint64{uint64(indexCount), uint64(instanceCount), uint64(firstIndex), uint64(vertexOffset), uint64(firstInstance)}})
}

func (d *Device) CmdDispatch(cmd metadata.CommandBuffer, x, y, z uint32) {
	d.op(cmd, Op{Name: "dispatch", Values: []uint64{uint64(x), uint64(y), uint64(z)}})
}

func (d *Device) CmdCopyBuffer(cmd metadata.CommandBuffer, src, dst metadata.Buffer, regions []metadata.BufferCopy) {
	o := Op{Name: "copy-buffer", Handles: []uint64{uint64(src), uint64(dst)}}
	for _, r := range regions {
		o.Values = append(o.Values, r.SrcOffset, r.DstOffset, r.Size)
	}
	d.op(cmd, o)
}

func (d *Device) CmdBufferBarrier(cmd metadata.CommandBuffer, srcStage, dstStage metadata.PipelineStage, barriers []metadata.BufferMemoryBarrier) {
	o := Op{Name: "buffer-barrier", Values: []uint64{uint64(srcStage), uint64(dstStage)}}
	for _, b := range barriers {
		o.Handles = append(o.Handles, uint64(b.Buffer))
	}
	d.op(cmd, o)
}

var _ metadata.Device = (*Device)(nil)
