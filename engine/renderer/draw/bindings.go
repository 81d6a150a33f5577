package draw

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
)

var ErrBindingOrder = errors.New("descriptor slots are not in binding order")

// setHashVersion prefixes every descriptor set content hash.
const setHashVersion = 1

// reflectionHashVersion prefixes the reflection fingerprint of a layout.
const reflectionHashVersion = 1

// Allocator hands out transient buffer memory for one frame.
type Allocator interface {
	Allocate(size uint64, frame uint32) ([]byte, uint64, bool)
	Buffer() metadata.Buffer
}

// Texture is what a combined image sampler slot points at.
type Texture struct {
	Sampler   metadata.Sampler
	ImageView metadata.ImageView
	// Layout defaults to shader read only optimal.
	Layout metadata.ImageLayout
}

// Slot is one array element of one descriptor binding. The descriptor type
// decides which fields are used.
type Slot struct {
	Type          metadata.DescriptorType
	BindingNumber uint32
	ArrayIndex    uint32

	Sampler     metadata.Sampler
	ImageView   metadata.ImageView
	ImageLayout metadata.ImageLayout

	Buffer metadata.Buffer
	Offset uint64
	Range  uint64
}

// SetData holds the slots of one descriptor set and the local storage of
// its dynamic uniform buffers.
type SetData struct {
	Slots []Slot
	// dynamic holds binding numbers of dynamic uniform buffers, ascending
	dynamic        []uint32
	dynamicOffsets map[uint32]uint32
	uboData        map[uint32][]byte
}

func (d *SetData) clone() SetData {
	c := SetData{
		Slots:          slices.Clone(d.Slots),
		dynamic:        d.dynamic,
		dynamicOffsets: make(map[uint32]uint32, len(d.dynamicOffsets)),
		uboData:        make(map[uint32][]byte, len(d.uboData)),
	}
	for b, off := range d.dynamicOffsets {
		c.dynamicOffsets[b] = off
	}
	for b, data := range d.uboData {
		c.uboData[b] = slices.Clone(data)
	}
	return c
}

// DynamicOffsets returns the offsets of the set's dynamic uniform buffers in
// binding order, as expected when binding the set.
func (d *SetData) DynamicOffsets() []uint32 {
	out := make([]uint32, len(d.dynamic))
	for i, b := range d.dynamic {
		out[i] = d.dynamicOffsets[b]
	}
	return out
}

// Hash is the content hash of the slots. Dynamic offsets are not part of it,
// so sets differing only in uniform values share one descriptor set.
func (d *SetData) Hash() uint64 {
	k := metadata.NewKeyHasher(setHashVersion).Uint32(uint32(len(d.Slots)))
	for _, s := range d.Slots {
		k.Uint32(uint32(s.Type)).Uint32(s.BindingNumber).Uint32(s.ArrayIndex).
			Uint64(uint64(s.Sampler)).Uint64(uint64(s.ImageView)).Uint32(uint32(s.ImageLayout)).
			Uint64(uint64(s.Buffer)).Uint64(s.Offset).Uint64(s.Range)
	}
	return k.Sum64()
}

// checkBindingOrder verifies that binding numbers never decrease and only
// repeat for consecutive array elements.
func checkBindingOrder(slots []Slot) error {
	for i := 1; i < len(slots); i++ {
		prev, cur := slots[i-1], slots[i]
		switch {
		case cur.BindingNumber > prev.BindingNumber:
			if cur.ArrayIndex != 0 {
				return fmt.Errorf("%w: binding %d starts at array element %d", ErrBindingOrder, cur.BindingNumber, cur.ArrayIndex)
			}
		case cur.BindingNumber == prev.BindingNumber:
			if cur.ArrayIndex != prev.ArrayIndex+1 {
				return fmt.Errorf("%w: binding %d element %d follows element %d",
					ErrBindingOrder, cur.BindingNumber, cur.ArrayIndex, prev.ArrayIndex)
			}
		default:
			return fmt.Errorf("%w: binding %d follows binding %d", ErrBindingOrder, cur.BindingNumber, prev.BindingNumber)
		}
	}
	return nil
}

type memberRef struct {
	set, binding  uint32
	offset, size  uint32
	qualifiedName string
}

// layout is the part of a command derived from shader reflection. It is
// shared between clones and never modified.
type layout struct {
	shader      *shader.Shader
	codeHash    uint64
	fingerprint uint64
	firstSlot   []map[uint32]int
	members     map[string]memberRef
	initialSets []SetData
}

func newLayout(sh *shader.Shader) (*layout, error) {
	infos := sh.SetLayoutInfos()
	l := &layout{
		shader:      sh,
		codeHash:    sh.CodeHash(),
		fingerprint: reflectionFingerprint(sh),
		firstSlot:   make([]map[uint32]int, len(infos)),
		members:     make(map[string]memberRef),
	}
	for i, info := range infos {
		l.firstSlot[i] = make(map[uint32]int)
		d := SetData{dynamicOffsets: make(map[uint32]uint32), uboData: make(map[uint32][]byte)}
		for _, b := range info.Bindings {
			l.firstSlot[i][b.Binding] = len(d.Slots)
			if b.DescriptorType == metadata.DescriptorTypeUniformBufferDynamic {
				d.dynamic = append(d.dynamic, b.Binding)
				d.dynamicOffsets[b.Binding] = 0
			}
			for e := uint32(0); e < b.DescriptorCount; e++ {
				d.Slots = append(d.Slots, Slot{Type: b.DescriptorType, BindingNumber: b.Binding, ArrayIndex: e})
			}
		}
		if err := checkBindingOrder(d.Slots); err != nil {
			err = fmt.Errorf("shader '%s' set %d: %w", sh.Name(), i, err)
			core.LogError(err.Error())
			return nil, err
		}
		l.initialSets = append(l.initialSets, d)
	}

	uniforms := sh.Uniforms()
	names := make([]string, 0, len(uniforms))
	for name := range uniforms {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		u := uniforms[name]
		if u.Binding.DescriptorType != metadata.DescriptorTypeUniformBufferDynamic {
			continue
		}
		l.initialSets[u.Set].uboData[u.Binding.Binding] = make([]byte, u.StorageSize)
		memberNames := make([]string, 0, len(u.Members))
		for m := range u.Members {
			memberNames = append(memberNames, m)
		}
		slices.Sort(memberNames)
		for _, m := range memberNames {
			r := u.Members[m]
			ref := memberRef{set: u.Set, binding: u.Binding.Binding, offset: r.Offset, size: r.Range, qualifiedName: name + "." + m}
			l.members[ref.qualifiedName] = ref
			if prev, ok := l.members[m]; ok && prev.qualifiedName != ref.qualifiedName {
				core.LogWarn("Uniform member '%s' exists in '%s' and '%s', the bare name refers to '%s'",
					m, prev.qualifiedName, ref.qualifiedName, ref.qualifiedName)
			}
			l.members[m] = ref
		}
	}
	return l, nil
}

// bindings is the descriptor state shared by draw and compute commands.
type bindings struct {
	layout *layout
	sets   []SetData
}

func newBindings(l *layout) bindings {
	b := bindings{layout: l, sets: make([]SetData, len(l.initialSets))}
	for i := range l.initialSets {
		b.sets[i] = l.initialSets[i].clone()
	}
	return b
}

func (b *bindings) clone() bindings {
	c := bindings{layout: b.layout, sets: make([]SetData, len(b.sets))}
	for i := range b.sets {
		c.sets[i] = b.sets[i].clone()
	}
	return c
}

func (b *bindings) SetCount() int { return len(b.sets) }

// Set returns the descriptor data of set i.
func (b *bindings) Set(i int) *SetData { return &b.sets[i] }

// DescriptorSetHash is the content hash of set i.
func (b *bindings) DescriptorSetHash(i int) uint64 { return b.sets[i].Hash() }

// reflectionFingerprint hashes everything a command derives from the shader:
// set layouts, uniform block sizes and member ranges, vertex inputs.
func reflectionFingerprint(sh *shader.Shader) uint64 {
	infos := sh.SetLayoutInfos()
	k := metadata.NewKeyHasher(reflectionHashVersion).Uint32(uint32(len(infos)))
	for _, info := range infos {
		k.Uint64(info.Hash)
	}

	uniforms := sh.Uniforms()
	names := make([]string, 0, len(uniforms))
	for name := range uniforms {
		names = append(names, name)
	}
	slices.Sort(names)
	k.Uint32(uint32(len(names)))
	for _, name := range names {
		u := uniforms[name]
		k.String(name).Uint32(u.Set).Uint32(u.Binding.Binding).Uint32(u.StorageSize).Uint32(uint32(len(u.Members)))
		members := make([]string, 0, len(u.Members))
		for m := range u.Members {
			members = append(members, m)
		}
		slices.Sort(members)
		for _, m := range members {
			r := u.Members[m]
			k.String(m).Uint32(r.Offset).Uint32(r.Range)
		}
	}

	vi := sh.VertexInput()
	k.Uint32(uint32(len(vi.Attributes)))
	for _, a := range vi.Attributes {
		k.String(a.Name).Uint32(a.Location).Uint32(uint32(a.Format)).Uint32(a.Stride)
	}
	return k.Sum64()
}

// Stale reports whether the shader was recompiled with different reflection
// since the command was created. A stale command must be rebuilt.
func (b *bindings) Stale() bool {
	if b.layout.shader.CodeHash() == b.layout.codeHash {
		return false
	}
	return reflectionFingerprint(b.layout.shader) != b.layout.fingerprint
}

// SetUniformBytes stores data for a uniform block member, named either
// "Block.member" or "member". The size must match the member exactly.
func (b *bindings) SetUniformBytes(name string, data []byte) bool {
	ref, ok := b.layout.members[name]
	if !ok {
		core.LogWarn("Could not set uniform '%s': no such uniform member", name)
		return false
	}
	if uint32(len(data)) != ref.size {
		core.LogWarn("Could not set uniform '%s': expected %d bytes, received %d", name, ref.size, len(data))
		return false
	}
	buf := b.sets[ref.set].uboData[ref.binding]
	if uint64(ref.offset)+uint64(ref.size) > uint64(len(buf)) {
		core.LogError("Not enough local storage for uniform '%s'", name)
		return false
	}
	copy(buf[ref.offset:ref.offset+ref.size], data)
	return true
}

// UniformBytes returns a copy of the bytes stored for a member.
func (b *bindings) UniformBytes(name string) ([]byte, bool) {
	ref, ok := b.layout.members[name]
	if !ok {
		return nil, false
	}
	buf := b.sets[ref.set].uboData[ref.binding]
	return slices.Clone(buf[ref.offset : ref.offset+ref.size]), true
}

func (b *bindings) slot(name string, arrayIndex uint32, want func(metadata.DescriptorType) bool) (*Slot, bool) {
	u, ok := b.layout.shader.Uniform(name)
	if !ok || int(u.Set) >= len(b.sets) {
		core.LogWarn("No uniform '%s' in shader '%s'", name, b.layout.shader.Name())
		return nil, false
	}
	if !want(u.Binding.DescriptorType) {
		core.LogWarn("Uniform '%s' is a %s binding", name, u.Binding.DescriptorType)
		return nil, false
	}
	if arrayIndex >= u.Binding.DescriptorCount {
		core.LogWarn("Uniform '%s' has %d elements, index %d is out of range", name, u.Binding.DescriptorCount, arrayIndex)
		return nil, false
	}
	first, ok := b.layout.firstSlot[u.Set][u.Binding.Binding]
	if !ok {
		core.LogWarn("Uniform '%s' was added after this command was created", name)
		return nil, false
	}
	return &b.sets[u.Set].Slots[first+int(arrayIndex)], true
}

func (b *bindings) SetTexture(name string, tex Texture) bool {
	return b.SetTextureAt(name, 0, tex)
}

// SetTextureAt sets one element of an array of samplers.
func (b *bindings) SetTextureAt(name string, arrayIndex uint32, tex Texture) bool {
	s, ok := b.slot(name, arrayIndex, metadata.DescriptorType.IsImage)
	if !ok {
		return false
	}
	if tex.Layout == metadata.ImageLayoutUndefined {
		tex.Layout = metadata.ImageLayoutShaderReadOnlyOptimal
	}
	s.Sampler, s.ImageView, s.ImageLayout = tex.Sampler, tex.ImageView, tex.Layout
	return true
}

// SetStorageBuffer points a storage buffer binding at a buffer range.
func (b *bindings) SetStorageBuffer(name string, buffer metadata.Buffer, offset, size uint64) bool {
	s, ok := b.slot(name, 0, func(t metadata.DescriptorType) bool {
		return t == metadata.DescriptorTypeStorageBuffer || t == metadata.DescriptorTypeStorageBufferDynamic
	})
	if !ok {
		return false
	}
	s.Buffer, s.Offset, s.Range = buffer, offset, size
	return true
}

// CommitUniforms copies every dynamic uniform buffer into transient memory
// of frame and points its slot at it. It returns false if memory ran out.
func (b *bindings) CommitUniforms(alloc Allocator, frame uint32) bool {
	for i := range b.sets {
		d := &b.sets[i]
		for _, binding := range d.dynamic {
			data := d.uboData[binding]
			if len(data) == 0 {
				continue
			}
			mem, offset, ok := alloc.Allocate(uint64(len(data)), frame)
			if !ok {
				core.LogError("CommitUniforms: could not allocate %d bytes of transient memory for set %d binding %d",
					len(data), i, binding)
				return false
			}
			if offset > math.MaxUint32 {
				core.LogError("CommitUniforms: offset %d of set %d binding %d does not fit a dynamic offset", offset, i, binding)
				return false
			}
			copy(mem, data)
			d.dynamicOffsets[binding] = uint32(offset)
			s := &d.Slots[b.layout.firstSlot[i][binding]]
			s.Buffer, s.Offset, s.Range = alloc.Buffer(), 0, uint64(len(data))
		}
	}
	return true
}

type uniformSetter interface {
	SetUniformBytes(name string, data []byte) bool
}
