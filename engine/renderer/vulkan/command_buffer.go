package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

// CreateCommandPool makes a transient pool. Buffers are recycled by resetting
// the whole pool once per frame.
func (d *Device) CreateCommandPool(queueFamilyIndex uint32) (metadata.CommandPool, error) {
	var pool vk.CommandPool
	res := vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}, nil, &pool)
	if err := check("vkCreateCommandPool", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.CommandPool(d.commandPools.put(pool)), nil
}

func (d *Device) ResetCommandPool(pool metadata.CommandPool) error {
	return check("vkResetCommandPool", vk.ResetCommandPool(d.handle, d.commandPools.get(uint64(pool)), 0))
}

// DestroyCommandPool frees every buffer allocated from the pool.
func (d *Device) DestroyCommandPool(pool metadata.CommandPool) {
	p, ok := d.commandPools.take(uint64(pool))
	if !ok {
		return
	}
	d.commandBuffers.sweep(func(e commandBufferEntry) bool { return e.pool == uint64(pool) })
	vk.DestroyCommandPool(d.handle, p, nil)
}

func (d *Device) AllocateCommandBuffer(pool metadata.CommandPool, level metadata.CommandBufferLevel) (metadata.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(d.handle, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPools.get(uint64(pool)),
		Level:              vk.CommandBufferLevel(level),
		CommandBufferCount: 1,
	}, buffers)
	if err := check("vkAllocateCommandBuffers", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.CommandBuffer(d.commandBuffers.put(commandBufferEntry{handle: buffers[0], pool: uint64(pool)})), nil
}

func (d *Device) cmd(c metadata.CommandBuffer) vk.CommandBuffer {
	return d.commandBuffers.get(uint64(c)).handle
}

func (d *Device) BeginCommandBuffer(cmd metadata.CommandBuffer, usage metadata.CommandBufferUsage) error {
	res := vk.BeginCommandBuffer(d.cmd(cmd), &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(usage),
	})
	return check("vkBeginCommandBuffer", res)
}

func (d *Device) EndCommandBuffer(cmd metadata.CommandBuffer) error {
	return check("vkEndCommandBuffer", vk.EndCommandBuffer(d.cmd(cmd)))
}

func (d *Device) CmdBeginRenderPass(cmd metadata.CommandBuffer, info *metadata.RenderPassBeginInfo) {
	clears := make([]vk.ClearValue, len(info.ClearValues))
	for i, cv := range info.ClearValues {
		if cv.DepthStencil {
			clears[i].SetDepthStencil(cv.Depth, cv.Stencil)
		} else {
			clears[i].SetColor(cv.Color[:])
		}
	}
	begin := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      d.renderPasses.get(uint64(info.RenderPass)),
		Framebuffer:     d.framebuffers.get(uint64(info.Framebuffer)),
		RenderArea:      rect(info.RenderArea),
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(d.cmd(cmd), &begin, vk.SubpassContentsInline)
}

func (d *Device) CmdNextSubpass(cmd metadata.CommandBuffer) {
	vk.CmdNextSubpass(d.cmd(cmd), vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(cmd metadata.CommandBuffer) {
	vk.CmdEndRenderPass(d.cmd(cmd))
}

func (d *Device) CmdSetViewport(cmd metadata.CommandBuffer, v metadata.Viewport) {
	vk.CmdSetViewport(d.cmd(cmd), 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (d *Device) CmdSetScissor(cmd metadata.CommandBuffer, scissor metadata.Rect2D) {
	vk.CmdSetScissor(d.cmd(cmd), 0, 1, []vk.Rect2D{rect(scissor)})
}

func (d *Device) CmdBindPipeline(cmd metadata.CommandBuffer, bindPoint metadata.PipelineBindPoint, pipeline metadata.Pipeline) {
	vk.CmdBindPipeline(d.cmd(cmd), vk.PipelineBindPoint(bindPoint), d.pipelines.get(uint64(pipeline)))
}

func (d *Device) CmdBindDescriptorSets(cmd metadata.CommandBuffer, bindPoint metadata.PipelineBindPoint, layout metadata.PipelineLayout, firstSet uint32, sets []metadata.DescriptorSet, dynamicOffsets []uint32) {
	vs := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		vs[i] = d.descriptorSets.get(uint64(s)).handle
	}
	vk.CmdBindDescriptorSets(d.cmd(cmd), vk.PipelineBindPoint(bindPoint), d.pipelineLayouts.get(uint64(layout)),
		firstSet, uint32(len(vs)), vs, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (d *Device) CmdBindVertexBuffers(cmd metadata.CommandBuffer, firstBinding uint32, buffers []metadata.Buffer, offsets []uint64) {
	vo := make([]vk.DeviceSize, len(offsets))
	for i, o := range offsets {
		vo[i] = vk.DeviceSize(o)
	}
	vk.CmdBindVertexBuffers(d.cmd(cmd), firstBinding, uint32(len(buffers)), resolve(d.buffers, buffers), vo)
}

func (d *Device) CmdBindIndexBuffer(cmd metadata.CommandBuffer, buffer metadata.Buffer, offset uint64, indexType metadata.IndexType) {
	vk.CmdBindIndexBuffer(d.cmd(cmd), d.buffers.get(uint64(buffer)), vk.DeviceSize(offset), vk.IndexType(indexType))
}

func (d *Device) CmdDraw(cmd metadata.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.cmd(cmd), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cmd metadata.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.cmd(cmd), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *Device) CmdDispatch(cmd metadata.CommandBuffer, x, y, z uint32) {
	vk.CmdDispatch(d.cmd(cmd), x, y, z)
}

func (d *Device) CmdCopyBuffer(cmd metadata.CommandBuffer, src, dst metadata.Buffer, regions []metadata.BufferCopy) {
	vr := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		vr[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.cmd(cmd), d.buffers.get(uint64(src)), d.buffers.get(uint64(dst)), uint32(len(vr)), vr)
}

func (d *Device) CmdBufferBarrier(cmd metadata.CommandBuffer, srcStage, dstStage metadata.PipelineStage, barriers []metadata.BufferMemoryBarrier) {
	vb := make([]vk.BufferMemoryBarrier, len(barriers))
	for i, b := range barriers {
		vb[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              d.buffers.get(uint64(b.Buffer)),
			Offset:              vk.DeviceSize(b.Offset),
			Size:                vk.DeviceSize(b.Size),
		}
	}
	vk.CmdPipelineBarrier(d.cmd(cmd), vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0,
		0, nil, uint32(len(vb)), vb, 0, nil)
}

func rect(r metadata.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}
}
