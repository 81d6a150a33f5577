package render

import (
	"fmt"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/draw"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

type descriptorCounts [metadata.DescriptorTypeCount]uint32

func (c *descriptorCounts) covers(need *descriptorCounts) bool {
	for t := range c {
		if c[t] < need[t] {
			return false
		}
	}
	return true
}

func (c *descriptorCounts) poolSizes() []metadata.DescriptorPoolSize {
	var sizes []metadata.DescriptorPoolSize
	for t, n := range c {
		if n != 0 {
			sizes = append(sizes, metadata.DescriptorPoolSize{Type: metadata.DescriptorType(t), Count: n})
		}
	}
	return sizes
}

type descriptorFrame struct {
	pools []metadata.DescriptorPool
	cache map[uint64]metadata.DescriptorSet
	// capacity left in the newest pool
	available descriptorCounts
	setsLeft  uint32
}

// DescriptorAllocator hands out descriptor sets per virtual frame, cached by
// content. Pools grow on demand; every growth marks all frames dirty, and a
// dirty frame replaces its pools with one pool sized for everything seen so
// far when it begins again.
type DescriptorAllocator struct {
	device  metadata.Device
	frames  []descriptorFrame
	current int

	totals  descriptorCounts
	maxSets uint32
	// one bit per frame
	dirty uint64
}

func NewDescriptorAllocator(device metadata.Device, frameCount int) *DescriptorAllocator {
	a := &DescriptorAllocator{device: device, frames: make([]descriptorFrame, frameCount)}
	for i := range a.frames {
		a.frames[i].cache = make(map[uint64]metadata.DescriptorSet)
	}
	return a
}

// Update makes frame current and consolidates its pools if they are dirty.
// Sets handed out for frame before are invalid afterwards.
func (a *DescriptorAllocator) Update(frame int) error {
	a.current = frame
	if a.dirty&(1<<uint(frame)) == 0 {
		return nil
	}
	f := &a.frames[frame]
	for _, p := range f.pools {
		a.device.DestroyDescriptorPool(p)
	}
	f.pools = f.pools[:0]
	clear(f.cache)
	f.available, f.setsLeft = descriptorCounts{}, 0

	if sizes := a.totals.poolSizes(); len(sizes) > 0 {
		pool, err := a.device.CreateDescriptorPool(a.maxSets, sizes)
		if err != nil {
			err = fmt.Errorf("consolidating descriptor pools of frame %d: %w", frame, err)
			core.LogError(err.Error())
			return err
		}
		f.pools = append(f.pools, pool)
		f.available, f.setsLeft = a.totals, a.maxSets
		core.LogDebug("Frame %d descriptor pool consolidated: %d sets, %v", frame, a.maxSets, sizes)
	}
	a.dirty &^= 1 << uint(frame)
	return nil
}

// GetDescriptorSet returns the set of the current frame with the given
// content hash, allocating and writing it from slots on a miss.
func (a *DescriptorAllocator) GetDescriptorSet(contentHash uint64, setIndex int, layout metadata.DescriptorSetLayout, slots []draw.Slot) (metadata.DescriptorSet, error) {
	f := &a.frames[a.current]
	// sets are only compatible with the layout they were allocated with
	key := metadata.NewKeyHasher(1).Uint64(contentHash).Uint64(uint64(layout)).Sum64()
	if set, ok := f.cache[key]; ok {
		return set, nil
	}

	var need descriptorCounts
	for _, s := range slots {
		need[s.Type]++
	}
	if f.setsLeft == 0 || !f.available.covers(&need) {
		pool, err := a.device.CreateDescriptorPool(1, need.poolSizes())
		if err != nil {
			err = fmt.Errorf("growing descriptor pool of frame %d: %w", a.current, err)
			core.LogError(err.Error())
			return 0, err
		}
		f.pools = append(f.pools, pool)
		f.available, f.setsLeft = need, 1
		for t := range need {
			a.totals[t] += need[t]
		}
		a.maxSets++
		a.dirty = ^uint64(0)
		core.LogDebug("Frame %d descriptor pool grown for set %d, %d sets in total", a.current, setIndex, a.maxSets)
	}

	set, err := a.device.AllocateDescriptorSet(f.pools[len(f.pools)-1], layout)
	if err != nil {
		err = fmt.Errorf("allocating descriptor set %d: %w", setIndex, err)
		core.LogError(err.Error())
		return 0, err
	}
	for t := range need {
		f.available[t] -= need[t]
	}
	f.setsLeft--

	writes := make([]metadata.WriteDescriptorSet, 0, len(slots))
	for _, s := range slots {
		w := metadata.WriteDescriptorSet{
			DstSet:          set,
			DstBinding:      s.BindingNumber,
			DstArrayElement: s.ArrayIndex,
			DescriptorType:  s.Type,
		}
		if s.Type.IsImage() {
			if s.ImageView == 0 && s.Sampler == 0 {
				core.LogWarn("Descriptor set %d binding %d[%d] has no image", setIndex, s.BindingNumber, s.ArrayIndex)
				continue
			}
			w.ImageInfo = &metadata.DescriptorImageInfo{Sampler: s.Sampler, ImageView: s.ImageView, ImageLayout: s.ImageLayout}
		} else {
			if s.Buffer == 0 {
				core.LogWarn("Descriptor set %d binding %d[%d] has no buffer", setIndex, s.BindingNumber, s.ArrayIndex)
				continue
			}
			w.BufferInfo = &metadata.DescriptorBufferInfo{Buffer: s.Buffer, Offset: s.Offset, Range: s.Range}
		}
		writes = append(writes, w)
	}
	if len(writes) > 0 {
		a.device.UpdateDescriptorSets(writes)
	}
	f.cache[key] = set
	return set, nil
}

// Destroy destroys every pool, which frees every set.
func (a *DescriptorAllocator) Destroy() {
	for i := range a.frames {
		for _, p := range a.frames[i].pools {
			a.device.DestroyDescriptorPool(p)
		}
		a.frames[i].pools = nil
		clear(a.frames[i].cache)
	}
}
