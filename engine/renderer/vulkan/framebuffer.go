package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) CreateFramebuffer(renderPass metadata.RenderPass, attachments []metadata.ImageView, width, height uint32) (metadata.Framebuffer, error) {
	views := resolve(d.imageViews, attachments)
	var fb vk.Framebuffer
	res := vk.CreateFramebuffer(d.handle, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPasses.get(uint64(renderPass)),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}, nil, &fb)
	if err := check("vkCreateFramebuffer", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.Framebuffer(d.framebuffers.put(fb)), nil
}

func (d *Device) DestroyFramebuffer(framebuffer metadata.Framebuffer) {
	if fb, ok := d.framebuffers.take(uint64(framebuffer)); ok {
		vk.DestroyFramebuffer(d.handle, fb, nil)
	}
}
