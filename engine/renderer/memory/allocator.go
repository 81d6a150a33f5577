// Package memory provides bump allocators over one large GPU buffer.
package memory

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrMemoryTypeNotFound = errors.New("no memory type with the requested properties")
	ErrInvalidSettings    = errors.New("invalid buffer allocator settings")
)

type Settings struct {
	Device metadata.Device
	// Size is the total size in bytes, split evenly between frames.
	Size       uint64
	FrameCount uint32
	// MemFlags defaults to host visible and coherent memory, which is mapped.
	MemFlags metadata.MemoryProperty
	Usage    metadata.BufferUsage
}

// TransientSettings is a mapped per-frame ring for uniform, vertex and index
// data that lives for one frame.
func TransientSettings(device metadata.Device, sizePerFrame uint64, frames uint32) Settings {
	return Settings{
		Device:     device,
		Size:       sizePerFrame * uint64(frames),
		FrameCount: frames,
		MemFlags:   metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
		Usage: metadata.BufferUsageTransferSrc | metadata.BufferUsageUniformBuffer | metadata.BufferUsageStorageBuffer |
			metadata.BufferUsageIndexBuffer | metadata.BufferUsageVertexBuffer,
	}
}

// StaticSettings is a single device-local arena filled through staging
// copies and never reset per frame.
func StaticSettings(device metadata.Device, size uint64) Settings {
	return Settings{
		Device:     device,
		Size:       size,
		FrameCount: 1,
		MemFlags:   metadata.MemoryPropertyDeviceLocal,
		Usage: metadata.BufferUsageTransferDst | metadata.BufferUsageUniformBuffer | metadata.BufferUsageStorageBuffer |
			metadata.BufferUsageIndexBuffer | metadata.BufferUsageVertexBuffer,
	}
}

// BufferAllocator hands out aligned ranges of one buffer. Each frame has its
// own arena; ranges are never freed individually, an arena is rewound as a
// whole with Reset. Not safe for concurrent use.
type BufferAllocator struct {
	settings  Settings
	alignment uint64
	arenaSize uint64

	buffer metadata.Buffer
	memory metadata.DeviceMemory
	mapped []byte

	used   []uint64
	resets []int
	frame  uint32
}

func alignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

func alignDown[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return v / align * align
}

// NewBufferAllocator creates and, for host visible memory, maps the buffer.
func NewBufferAllocator(settings Settings) (*BufferAllocator, error) {
	if settings.FrameCount == 0 || settings.Size == 0 {
		return nil, fmt.Errorf("%w: size %d over %d frames", ErrInvalidSettings, settings.Size, settings.FrameCount)
	}
	if settings.MemFlags == 0 {
		settings.MemFlags = metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent
	}
	dev := settings.Device
	a := &BufferAllocator{
		settings:  settings,
		alignment: max(dev.Limits().MinUniformBufferOffsetAlignment, 1),
		used:      make([]uint64, settings.FrameCount),
		resets:    make([]int, settings.FrameCount),
	}
	a.arenaSize = alignDown(settings.Size/uint64(settings.FrameCount), a.alignment)
	if a.arenaSize == 0 {
		return nil, fmt.Errorf("%w: %d bytes per frame is below the %d byte alignment",
			ErrInvalidSettings, settings.Size/uint64(settings.FrameCount), a.alignment)
	}

	buffer, req, err := dev.CreateBuffer(a.arenaSize*uint64(settings.FrameCount), settings.Usage)
	if err != nil {
		return nil, fmt.Errorf("creating buffer: %w", err)
	}
	a.buffer = buffer
	typeIndex, ok := metadata.FindMemoryType(dev.MemoryTypes(), req.MemoryTypeBits, settings.MemFlags)
	if !ok {
		dev.DestroyBuffer(buffer)
		err := fmt.Errorf("%w: flags 0x%x, type bits 0b%b", ErrMemoryTypeNotFound, settings.MemFlags, req.MemoryTypeBits)
		core.LogError(err.Error())
		return nil, err
	}
	if a.memory, err = dev.AllocateMemory(req.Size, typeIndex); err != nil {
		dev.DestroyBuffer(buffer)
		return nil, fmt.Errorf("allocating %d bytes: %w", req.Size, err)
	}
	if err := dev.BindBufferMemory(buffer, a.memory, 0); err != nil {
		a.Destroy()
		return nil, fmt.Errorf("binding buffer memory: %w", err)
	}
	if settings.MemFlags&metadata.MemoryPropertyHostVisible != 0 {
		if a.mapped, err = dev.MapMemory(a.memory, 0, metadata.WholeSize); err != nil {
			a.Destroy()
			return nil, fmt.Errorf("mapping buffer memory: %w", err)
		}
	}
	core.LogDebug("Buffer allocator: %d frames of %d bytes, alignment %d", settings.FrameCount, a.arenaSize, a.alignment)
	return a, nil
}

// Allocate reserves size bytes in frame's arena. It returns the mapped bytes
// (nil for device-local memory) and the offset from the start of Buffer.
func (a *BufferAllocator) Allocate(size uint64, frame uint32) ([]byte, uint64, bool) {
	if frame >= a.settings.FrameCount {
		core.LogError("Buffer allocator has %d frames, got frame %d", a.settings.FrameCount, frame)
		return nil, 0, false
	}
	start := alignUp(a.used[frame], a.alignment)
	if size > a.arenaSize || start > a.arenaSize-size {
		return nil, 0, false
	}
	a.used[frame] = start + size
	offset := uint64(frame)*a.arenaSize + start
	if a.mapped == nil {
		return nil, offset, true
	}
	return a.mapped[offset : offset+size : offset+size], offset, true
}

// Reset rewinds frame's arena. Everything allocated from it becomes invalid.
func (a *BufferAllocator) Reset(frame uint32) {
	a.used[frame] = 0
	a.resets[frame]++
}

// Swap advances the current frame.
func (a *BufferAllocator) Swap() {
	a.frame = (a.frame + 1) % a.settings.FrameCount
}

func (a *BufferAllocator) Frame() uint32 { return a.frame }

// ResetCount is the number of times frame was reset.
func (a *BufferAllocator) ResetCount(frame uint32) int { return a.resets[frame] }

// Used is the number of bytes taken from frame's arena, alignment included.
func (a *BufferAllocator) Used(frame uint32) uint64 { return a.used[frame] }

func (a *BufferAllocator) Buffer() metadata.Buffer { return a.buffer }

func (a *BufferAllocator) ArenaSize() uint64 { return a.arenaSize }

func (a *BufferAllocator) Alignment() uint64 { return a.alignment }

func (a *BufferAllocator) FrameCount() uint32 { return a.settings.FrameCount }

// Mapped reports whether Allocate returns writable bytes.
func (a *BufferAllocator) Mapped() bool { return a.mapped != nil }

func (a *BufferAllocator) Destroy() {
	dev := a.settings.Device
	if a.mapped != nil {
		dev.UnmapMemory(a.memory)
		a.mapped = nil
	}
	if a.buffer != 0 {
		dev.DestroyBuffer(a.buffer)
		a.buffer = 0
	}
	if a.memory != 0 {
		dev.FreeMemory(a.memory)
		a.memory = 0
	}
}
