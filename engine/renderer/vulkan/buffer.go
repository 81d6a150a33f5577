package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) CreateBuffer(size uint64, usage metadata.BufferUsage) (metadata.Buffer, metadata.MemoryRequirements, error) {
	var buf vk.Buffer
	res := vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if err := check("vkCreateBuffer", res); err != nil {
		core.LogError(err.Error())
		return 0, metadata.MemoryRequirements{}, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, buf, &req)
	req.Deref()
	return metadata.Buffer(d.buffers.put(buf)), metadata.MemoryRequirements{
		Size:           uint64(req.Size),
		Alignment:      uint64(req.Alignment),
		MemoryTypeBits: req.MemoryTypeBits,
	}, nil
}

func (d *Device) DestroyBuffer(buffer metadata.Buffer) {
	if b, ok := d.buffers.take(uint64(buffer)); ok {
		vk.DestroyBuffer(d.handle, b, nil)
	}
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.DeviceMemory, error) {
	if int(memoryTypeIndex) >= len(d.memTypes) {
		return 0, fmt.Errorf("%w: type index %d", ErrNoMemoryType, memoryTypeIndex)
	}
	var mem vk.DeviceMemory
	err := d.locks.SafeCall(MemoryManagement, func() error {
		return check("vkAllocateMemory", vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  vk.DeviceSize(size),
			MemoryTypeIndex: memoryTypeIndex,
		}, nil, &mem))
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.DeviceMemory(d.memories.put(memoryEntry{handle: mem, size: size})), nil
}

func (d *Device) FreeMemory(memory metadata.DeviceMemory) {
	if m, ok := d.memories.take(uint64(memory)); ok {
		_ = d.locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(d.handle, m.handle, nil)
			return nil
		})
	}
}

func (d *Device) BindBufferMemory(buffer metadata.Buffer, memory metadata.DeviceMemory, offset uint64) error {
	res := vk.BindBufferMemory(d.handle, d.buffers.get(uint64(buffer)), d.memories.get(uint64(memory)).handle, vk.DeviceSize(offset))
	return check("vkBindBufferMemory", res)
}

// MapMemory maps [offset, offset+size). WholeSize maps to the end of the
// allocation.
func (d *Device) MapMemory(memory metadata.DeviceMemory, offset, size uint64) ([]byte, error) {
	m := d.memories.get(uint64(memory))
	if m.handle == nil {
		return nil, fmt.Errorf("map memory: unknown allocation %d", memory)
	}
	length := size
	if size == metadata.WholeSize {
		length = m.size - offset
	}
	var ptr unsafe.Pointer
	if err := check("vkMapMemory", vk.MapMemory(d.handle, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), length), nil
}

func (d *Device) UnmapMemory(memory metadata.DeviceMemory) {
	vk.UnmapMemory(d.handle, d.memories.get(uint64(memory)).handle)
}

// findMemoryType resolves props against typeBits on this device.
func (d *Device) findMemoryType(typeBits uint32, props metadata.MemoryProperty) (uint32, error) {
	idx, ok := metadata.FindMemoryType(d.memTypes, typeBits, props)
	if !ok {
		return 0, fmt.Errorf("%w: bits %#x props %#x", ErrNoMemoryType, typeBits, props)
	}
	return idx, nil
}
