package vulkan

import (
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (swapchainSupport, error) {
	var s swapchainSupport
	if err := check("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &s.capabilities)); err != nil {
		return s, err
	}
	s.capabilities.Deref()
	s.capabilities.CurrentExtent.Deref()
	s.capabilities.MinImageExtent.Deref()
	s.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil)); err != nil {
		return s, err
	}
	if count > 0 {
		s.formats = make([]vk.SurfaceFormat, count)
		if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, s.formats)); err != nil {
			return s, err
		}
		for i := range s.formats {
			s.formats[i].Deref()
		}
	}

	count = 0
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil)); err != nil {
		return s, err
	}
	if count > 0 {
		s.presentModes = make([]vk.PresentMode, count)
		if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, s.presentModes)); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Swapchain implements metadata.Swapchain. Every image shares one depth
// attachment; frames in flight never render to two images at once within a
// single queue.
type Swapchain struct {
	device  *Device
	surface vk.Surface
	vsync   bool
	handle  vk.Swapchain
	format  vk.SurfaceFormat
	extent  vk.Extent2D
	images  []vk.Image
	views   []metadata.ImageView
	depth   *image
	width   uint32
	height  uint32
}

var _ metadata.Swapchain = (*Swapchain)(nil)

func NewSwapchain(device *Device, surface vk.Surface, width, height uint32, vsync bool) (*Swapchain, error) {
	sc := &Swapchain{device: device, surface: surface, vsync: vsync}
	if err := sc.create(width, height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Swapchain) create(width, height uint32) error {
	d := sc.device
	sc.width, sc.height = width, height
	support, err := querySwapchainSupport(d.physical, sc.surface)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	d.support = support
	caps := support.capabilities

	sc.format = support.formats[0]
	for _, f := range support.formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.format = f
			break
		}
	}

	presentMode := vk.PresentModeFifo
	if !sc.vsync {
		for _, m := range support.presentModes {
			if m == vk.PresentModeMailbox {
				presentMode = m
				break
			}
		}
	}

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	sc.extent = extent

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	old := sc.handle
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          sc.surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if d.families.graphics != d.families.present {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{uint32(d.families.graphics), uint32(d.families.present)}
	}

	var handle vk.Swapchain
	err = d.locks.SafeCall(SwapchainManagement, func() error {
		return check("vkCreateSwapchain", vk.CreateSwapchain(d.handle, &info, nil, &handle))
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	if old != nil {
		vk.DestroySwapchain(d.handle, old, nil)
	}
	sc.handle = handle

	var count uint32
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, handle, &count, nil)); err != nil {
		core.LogError(err.Error())
		return err
	}
	sc.images = make([]vk.Image, count)
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, handle, &count, sc.images)); err != nil {
		core.LogError(err.Error())
		return err
	}
	sc.views = make([]metadata.ImageView, count)
	for i, img := range sc.images {
		if sc.views[i], err = d.createImageView(img, sc.format.Format, vk.ImageAspectColorBit); err != nil {
			return err
		}
	}

	sc.depth, err = d.createImage(extent.Width, extent.Height, d.depthFmt,
		vk.ImageUsageDepthStencilAttachmentBit, vk.ImageAspectDepthBit)
	if err != nil {
		return err
	}
	core.LogInfo("Swapchain created: %d images, %dx%d.", count, extent.Width, extent.Height)
	return nil
}

func (sc *Swapchain) release() {
	for _, v := range sc.views {
		sc.device.destroyImageView(v)
	}
	sc.views = nil
	sc.images = nil
	sc.device.destroyImage(sc.depth)
	sc.depth = nil
}

func (sc *Swapchain) ImageCount() int { return len(sc.images) }

func (sc *Swapchain) Extent() metadata.Extent2D {
	return metadata.Extent2D{Width: sc.extent.Width, Height: sc.extent.Height}
}

func (sc *Swapchain) ColorFormat() metadata.Format { return metadata.Format(sc.format.Format) }

func (sc *Swapchain) DepthFormat() metadata.Format { return metadata.Format(sc.device.depthFmt) }

func (sc *Swapchain) ColorView(index uint32) metadata.ImageView { return sc.views[index] }

func (sc *Swapchain) DepthView(uint32) metadata.ImageView { return sc.depth.view }

func (sc *Swapchain) AcquireNextImage(signal metadata.Semaphore, timeout time.Duration) (uint32, error) {
	var index uint32
	res := vk.AcquireNextImage(sc.device.handle, sc.handle, nanoseconds(timeout),
		sc.device.semaphores.get(uint64(signal)), vk.NullFence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.ErrorOutOfDate:
		if err := sc.Recreate(sc.width, sc.height); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	}
	err := check("vkAcquireNextImage", res)
	core.LogError(err.Error())
	return 0, err
}

// Present recreates the swapchain when it went out of date or suboptimal.
func (sc *Swapchain) Present(queue metadata.Queue, wait []metadata.Semaphore, index uint32) error {
	q := sc.device.queues.get(uint64(queue))
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    resolve(sc.device.semaphores, wait),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{index},
	}
	var res vk.Result
	_ = sc.device.locks.SafeQueueCall(q.family, func() error {
		res = vk.QueuePresent(q.handle, &info)
		return nil
	})
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		core.LogDebug("swapchain %s on present, recreating", ResultString(res, false))
		return sc.Recreate(sc.width, sc.height)
	}
	err := check("vkQueuePresent", res)
	core.LogError(err.Error())
	return err
}

func (sc *Swapchain) Recreate(width, height uint32) error {
	if err := sc.device.WaitIdle(); err != nil {
		return err
	}
	sc.release()
	return sc.create(width, height)
}

func (sc *Swapchain) Destroy() {
	if sc.handle == nil {
		return
	}
	if err := sc.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before swapchain destroy: %s", err)
	}
	sc.release()
	vk.DestroySwapchain(sc.device.handle, sc.handle, nil)
	sc.handle = nil
}
