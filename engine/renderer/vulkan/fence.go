package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) CreateSemaphore() (metadata.Semaphore, error) {
	var s vk.Semaphore
	res := vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s)
	if err := check("vkCreateSemaphore", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.Semaphore(d.semaphores.put(s)), nil
}

func (d *Device) DestroySemaphore(semaphore metadata.Semaphore) {
	if s, ok := d.semaphores.take(uint64(semaphore)); ok {
		vk.DestroySemaphore(d.handle, s, nil)
	}
}

// CreateFence optionally starts signaled so the first wait on a fresh frame
// returns at once.
func (d *Device) CreateFence(signaled bool) (metadata.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var f vk.Fence
	if err := check("vkCreateFence", vk.CreateFence(d.handle, &info, nil, &f)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.Fence(d.fences.put(f)), nil
}

func (d *Device) DestroyFence(fence metadata.Fence) {
	if f, ok := d.fences.take(uint64(fence)); ok {
		vk.DestroyFence(d.handle, f, nil)
	}
}

func (d *Device) WaitForFence(fence metadata.Fence, timeout time.Duration) (metadata.FenceStatus, error) {
	f := d.fences.get(uint64(fence))
	if f == nil {
		return metadata.FenceTimeout, fmt.Errorf("wait for fence: unknown fence %d", fence)
	}
	res := vk.WaitForFences(d.handle, 1, []vk.Fence{f}, vk.True, nanoseconds(timeout))
	switch res {
	case vk.Success:
		return metadata.FenceSignaled, nil
	case vk.Timeout:
		return metadata.FenceTimeout, nil
	}
	err := check("vkWaitForFences", res)
	core.LogError(err.Error())
	return metadata.FenceTimeout, err
}

func (d *Device) ResetFence(fence metadata.Fence) error {
	return d.locks.SafeCall(SynchronizationManagement, func() error {
		return check("vkResetFences", vk.ResetFences(d.handle, 1, []vk.Fence{d.fences.get(uint64(fence))}))
	})
}
