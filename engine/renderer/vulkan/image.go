package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

// image is a device image with its own memory and a single 2D view.
type image struct {
	handle metadata.Image
	memory metadata.DeviceMemory
	view   metadata.ImageView
	width  uint32
	height uint32
}

func (d *Device) createImage(width, height uint32, format vk.Format, usage vk.ImageUsageFlagBits, aspect vk.ImageAspectFlagBits) (*image, error) {
	var img vk.Image
	res := vk.CreateImage(d.handle, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if err := check("vkCreateImage", res); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	out := &image{handle: metadata.Image(d.images.put(img)), width: width, height: height}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img, &req)
	req.Deref()
	typeIndex, err := d.findMemoryType(req.MemoryTypeBits, metadata.MemoryPropertyDeviceLocal)
	if err != nil {
		d.destroyImage(out)
		return nil, err
	}
	if out.memory, err = d.AllocateMemory(uint64(req.Size), typeIndex); err != nil {
		d.destroyImage(out)
		return nil, err
	}
	if err := check("vkBindImageMemory", vk.BindImageMemory(d.handle, img, d.memories.get(uint64(out.memory)).handle, 0)); err != nil {
		d.destroyImage(out)
		return nil, err
	}
	if out.view, err = d.createImageView(img, format, aspect); err != nil {
		d.destroyImage(out)
		return nil, err
	}
	return out, nil
}

func (d *Device) createImageView(img vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (metadata.ImageView, error) {
	var view vk.ImageView
	res := vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &view)
	if err := check("vkCreateImageView", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.ImageView(d.imageViews.put(view)), nil
}

func (d *Device) destroyImageView(view metadata.ImageView) {
	if v, ok := d.imageViews.take(uint64(view)); ok {
		vk.DestroyImageView(d.handle, v, nil)
	}
}

func (d *Device) destroyImage(img *image) {
	if img == nil {
		return
	}
	d.destroyImageView(img.view)
	if i, ok := d.images.take(uint64(img.handle)); ok {
		vk.DestroyImage(d.handle, i, nil)
	}
	d.FreeMemory(img.memory)
}

func (d *Device) CreateSampler(linear bool) (metadata.Sampler, error) {
	filter := vk.FilterNearest
	if linear {
		filter = vk.FilterLinear
	}
	var s vk.Sampler
	res := vk.CreateSampler(d.handle, &vk.SamplerCreateInfo{
		SType:         vk.StructureTypeSamplerCreateInfo,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapMode:    vk.SamplerMipmapModeLinear,
		AddressModeU:  vk.SamplerAddressModeRepeat,
		AddressModeV:  vk.SamplerAddressModeRepeat,
		AddressModeW:  vk.SamplerAddressModeRepeat,
		MaxAnisotropy: 1,
		BorderColor:   vk.BorderColorIntOpaqueBlack,
		CompareOp:     vk.CompareOpAlways,
	}, nil, &s)
	if err := check("vkCreateSampler", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.Sampler(d.samplers.put(s)), nil
}

func (d *Device) DestroySampler(sampler metadata.Sampler) {
	if s, ok := d.samplers.take(uint64(sampler)); ok {
		vk.DestroySampler(d.handle, s, nil)
	}
}
