package render

import (
	"fmt"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/memory"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

// TransferSrcData is host data to upload into a device-local buffer.
type TransferSrcData struct {
	Data        []byte
	NumElements uint32
}

// BufferRegion is where uploaded data ended up.
type BufferRegion struct {
	Buffer      metadata.Buffer
	Offset      uint64
	Range       uint64
	NumElements uint32
}

// StageBufferData copies src into transient memory of the current frame and
// reserves room for it in target. The returned copy moves it across.
func (c *Context) StageBufferData(src TransferSrcData, target *memory.BufferAllocator) (metadata.BufferCopy, bool) {
	size := uint64(len(src.Data))
	mem, srcOffset, ok := c.transient.Allocate(size, uint32(c.index))
	if !ok {
		core.LogError("Context '%s': no transient memory left to stage %d bytes", c.settings.Name, size)
		return metadata.BufferCopy{}, false
	}
	_, dstOffset, ok := target.Allocate(size, target.Frame())
	if !ok {
		core.LogError("Context '%s': target buffer cannot hold %d more bytes", c.settings.Name, size)
		return metadata.BufferCopy{}, false
	}
	copy(mem, src.Data)
	return metadata.BufferCopy{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}, true
}

// StoreBufferDataCmd uploads every source into target with one command
// buffer submitted to the current frame. A barrier makes the data visible to
// vertex input and shaders of everything submitted afterwards.
func (c *Context) StoreBufferDataCmd(srcs []TransferSrcData, target *memory.BufferAllocator) ([]BufferRegion, error) {
	if !c.begun {
		return nil, ErrFrameNotBegun
	}
	regions := make([]BufferRegion, 0, len(srcs))
	copies := make([]metadata.BufferCopy, 0, len(srcs))
	for i, src := range srcs {
		cp, ok := c.StageBufferData(src, target)
		if !ok {
			return nil, fmt.Errorf("context '%s': staging upload %d: %w", c.settings.Name, i, ErrOutOfTransientMemory)
		}
		copies = append(copies, cp)
		regions = append(regions, BufferRegion{Buffer: target.Buffer(), Offset: cp.DstOffset, Range: cp.Size, NumElements: src.NumElements})
	}

	cmd, err := c.AllocateCommandBuffer()
	if err != nil {
		return nil, err
	}
	if err := c.device.BeginCommandBuffer(cmd, metadata.CommandBufferUsageOneTimeSubmit); err != nil {
		return nil, err
	}
	c.device.CmdCopyBuffer(cmd, c.transient.Buffer(), target.Buffer(), copies)
	barriers := make([]metadata.BufferMemoryBarrier, len(copies))
	for i, cp := range copies {
		barriers[i] = metadata.BufferMemoryBarrier{
			SrcAccess: metadata.AccessTransferWrite,
			DstAccess: metadata.AccessVertexAttributeRead | metadata.AccessIndexRead | metadata.AccessUniformRead | metadata.AccessShaderRead,
			Buffer:    target.Buffer(),
			Offset:    cp.DstOffset,
			Size:      cp.Size,
		}
	}
	c.device.CmdBufferBarrier(cmd, metadata.PipelineStageTransfer,
		metadata.PipelineStageVertexInput|metadata.PipelineStageVertexShader|metadata.PipelineStageFragmentShader, barriers)
	if err := c.device.EndCommandBuffer(cmd); err != nil {
		return nil, err
	}
	if err := c.Submit(cmd); err != nil {
		return nil, err
	}
	return regions, nil
}
