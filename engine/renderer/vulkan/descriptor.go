package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorSetLayoutBinding) (metadata.DescriptorSetLayout, error) {
	vb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.DescriptorType),
			DescriptorCount: b.DescriptorCount,
			StageFlags:      vk.ShaderStageFlags(b.StageFlags),
		}
	}
	var layout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(d.handle, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    vb,
	}, nil, &layout)
	if err := check("vkCreateDescriptorSetLayout", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.DescriptorSetLayout(d.setLayouts.put(layout)), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayout) {
	if l, ok := d.setLayouts.take(uint64(layout)); ok {
		vk.DestroyDescriptorSetLayout(d.handle, l, nil)
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPool, error) {
	vs := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vs[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(d.handle, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vs)),
		PPoolSizes:    vs,
	}, nil, &pool)
	if err := check("vkCreateDescriptorPool", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.DescriptorPool(d.descriptorPools.put(pool)), nil
}

// DestroyDescriptorPool also forgets every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(pool metadata.DescriptorPool) {
	p, ok := d.descriptorPools.take(uint64(pool))
	if !ok {
		return
	}
	d.descriptorSets.sweep(func(e descriptorSetEntry) bool { return e.pool == uint64(pool) })
	vk.DestroyDescriptorPool(d.handle, p, nil)
}

func (d *Device) AllocateDescriptorSet(pool metadata.DescriptorPool, layout metadata.DescriptorSetLayout) (metadata.DescriptorSet, error) {
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(d.handle, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descriptorPools.get(uint64(pool)),
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.setLayouts.get(uint64(layout))},
	}, &set)
	if err := check("vkAllocateDescriptorSets", res); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return metadata.DescriptorSet(d.descriptorSets.put(descriptorSetEntry{handle: set, pool: uint64(pool)})), nil
}

func (d *Device) UpdateDescriptorSets(writes []metadata.WriteDescriptorSet) {
	if len(writes) == 0 {
		return
	}
	vw := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vw[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          d.descriptorSets.get(uint64(w.DstSet)).handle,
			DstBinding:      w.DstBinding,
			DstArrayElement: w.DstArrayElement,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorType(w.DescriptorType),
		}
		if w.ImageInfo != nil {
			vw[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     d.samplers.get(uint64(w.ImageInfo.Sampler)),
				ImageView:   d.imageViews.get(uint64(w.ImageInfo.ImageView)),
				ImageLayout: vk.ImageLayout(w.ImageInfo.ImageLayout),
			}}
		}
		if w.BufferInfo != nil {
			vw[i].PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: d.buffers.get(uint64(w.BufferInfo.Buffer)),
				Offset: vk.DeviceSize(w.BufferInfo.Offset),
				Range:  vk.DeviceSize(w.BufferInfo.Range),
			}}
		}
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.handle, uint32(len(vw)), vw, 0, nil)
		return nil
	})
}
