// Package spvtest assembles small SPIR-V modules for tests that need real
// shaders without a GLSL compiler.
package spvtest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const magic = 0x07230203

const (
	opName             = 5
	opMemberName       = 6
	opEntryPoint       = 15
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeMatrix       = 24
	opTypeImage        = 25
	opTypeSampledImage = 27
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opAccessChain      = 65
	opDecorate         = 71
	opMemberDecorate   = 72
)

const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationMatrixStride  = 7
	decorationBuiltIn       = 11
	decorationLocation      = 30
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35
)

const (
	storageUniformConstant = 0
	storageInput           = 1
	storageUniform         = 2
)

// Execution models.
const (
	Vertex   = 0
	Fragment = 4
	Compute  = 5
)

// Builder appends instructions to a module with a single "main" entry point.
type Builder struct {
	words []uint32
	next  uint32
}

func New(model uint32) *Builder {
	b := &Builder{next: 1}
	fn := b.ID()
	b.Inst(opEntryPoint, append([]uint32{model, fn}, String("main")...)...)
	return b
}

func (b *Builder) ID() uint32 {
	id := b.next
	b.next++
	return id
}

func (b *Builder) Inst(op uint32, operands ...uint32) {
	b.words = append(b.words, uint32(len(operands)+1)<<16|op)
	b.words = append(b.words, operands...)
}

// Code returns the module with its header.
func (b *Builder) Code() []uint32 {
	return append([]uint32{magic, 0x00010000, 0, b.next, 0}, b.words...)
}

// String encodes a nul terminated literal string.
func String(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func (b *Builder) Name(id uint32, s string) {
	b.Inst(opName, append([]uint32{id}, String(s)...)...)
}

func (b *Builder) MemberName(id, member uint32, s string) {
	b.Inst(opMemberName, append([]uint32{id, member}, String(s)...)...)
}

func (b *Builder) Decorate(id, deco uint32, lits ...uint32) {
	b.Inst(opDecorate, append([]uint32{id, deco}, lits...)...)
}

func (b *Builder) MemberDecorate(id, member, deco uint32, lits ...uint32) {
	b.Inst(opMemberDecorate, append([]uint32{id, member, deco}, lits...)...)
}

func (b *Builder) typed(op uint32, operands ...uint32) uint32 {
	id := b.ID()
	b.Inst(op, append([]uint32{id}, operands...)...)
	return id
}

func (b *Builder) Float() uint32 { return b.typed(opTypeFloat, 32) }

func (b *Builder) Int() uint32 { return b.typed(opTypeInt, 32, 1) }

func (b *Builder) Vector(elem, n uint32) uint32 { return b.typed(opTypeVector, elem, n) }

func (b *Builder) Matrix(col, n uint32) uint32 { return b.typed(opTypeMatrix, col, n) }

func (b *Builder) Struct(members ...uint32) uint32 { return b.typed(opTypeStruct, members...) }

func (b *Builder) Pointer(storage, elem uint32) uint32 {
	return b.typed(opTypePointer, storage, elem)
}

func (b *Builder) Constant(typ, value uint32) uint32 {
	id := b.ID()
	b.Inst(opConstant, typ, id, value)
	return id
}

func (b *Builder) Variable(ptr, storage uint32) uint32 {
	id := b.ID()
	b.Inst(opVariable, ptr, id, storage)
	return id
}

func (b *Builder) AccessChain(resultType, base uint32, indexes ...uint32) uint32 {
	id := b.ID()
	b.Inst(opAccessChain, append([]uint32{resultType, id, base}, indexes...)...)
	return id
}

type BlockOptions struct {
	Set, Binding uint32
	NoSet        bool
	// Extra appends a third vec4 member "tint", growing the block to 96 bytes.
	Extra bool
	// Members lists the accessed member indices.
	Members []uint32
}

// Globals declares
//
//	uniform Globals { mat4 modelViewProjection; vec4 color; } globals;
//
// 80 bytes, with the members in opt.Members accessed through constant indices.
func (b *Builder) Globals(opt BlockOptions) uint32 {
	f := b.Float()
	v4 := b.Vector(f, 4)
	m4 := b.Matrix(v4, 4)
	members := []uint32{m4, v4}
	if opt.Extra {
		members = append(members, v4)
	}
	st := b.Struct(members...)
	b.Name(st, "Globals")
	b.MemberName(st, 0, "modelViewProjection")
	b.MemberName(st, 1, "color")
	b.Decorate(st, decorationBlock)
	b.MemberDecorate(st, 0, decorationOffset, 0)
	b.MemberDecorate(st, 0, decorationMatrixStride, 16)
	b.MemberDecorate(st, 1, decorationOffset, 64)
	if opt.Extra {
		b.MemberName(st, 2, "tint")
		b.MemberDecorate(st, 2, decorationOffset, 80)
	}
	v := b.Variable(b.Pointer(storageUniform, st), storageUniform)
	b.Name(v, "globals")
	if !opt.NoSet {
		b.Decorate(v, decorationDescriptorSet, opt.Set)
	}
	b.Decorate(v, decorationBinding, opt.Binding)

	i32 := b.Int()
	for _, m := range opt.Members {
		elem := v4
		if m == 0 {
			elem = m4
		}
		b.AccessChain(b.Pointer(storageUniform, elem), v, b.Constant(i32, m))
	}
	return v
}

// Particles declares a 32 byte buffer block { vec4 position; vec4 velocity; }.
func (b *Builder) Particles(set, binding uint32) uint32 {
	f := b.Float()
	v4 := b.Vector(f, 4)
	st := b.Struct(v4, v4)
	b.Name(st, "Particles")
	b.MemberName(st, 0, "position")
	b.MemberName(st, 1, "velocity")
	b.Decorate(st, decorationBufferBlock)
	b.MemberDecorate(st, 0, decorationOffset, 0)
	b.MemberDecorate(st, 1, decorationOffset, 16)
	v := b.Variable(b.Pointer(storageUniform, st), storageUniform)
	b.Name(v, "particles")
	b.Decorate(v, decorationDescriptorSet, set)
	b.Decorate(v, decorationBinding, binding)
	return v
}

// Sampler declares a combined image sampler.
func (b *Builder) Sampler(name string, set, binding uint32) uint32 {
	f := b.Float()
	img := b.typed(opTypeImage, f, 1, 0, 0, 0, 1, 0)
	si := b.typed(opTypeSampledImage, img)
	v := b.Variable(b.Pointer(storageUniformConstant, si), storageUniformConstant)
	b.Name(v, name)
	b.Decorate(v, decorationDescriptorSet, set)
	b.Decorate(v, decorationBinding, binding)
	return v
}

// Input declares a float or vecN input at location.
func (b *Builder) Input(name string, components, location uint32) uint32 {
	f := b.Float()
	t := f
	if components > 1 {
		t = b.Vector(f, components)
	}
	v := b.Variable(b.Pointer(storageInput, t), storageInput)
	b.Name(v, name)
	b.Decorate(v, decorationLocation, location)
	return v
}

// VertexIndex declares gl_VertexIndex.
func (b *Builder) VertexIndex() {
	i32 := b.Int()
	v := b.Variable(b.Pointer(storageInput, i32), storageInput)
	b.Name(v, "gl_VertexIndex")
	b.Decorate(v, decorationBuiltIn, 42)
}

// VertexModule uses globals.modelViewProjection and reads position (vec3,
// location 0) and texCoord (vec2, location 1).
func VertexModule() []uint32 {
	b := New(Vertex)
	b.Globals(BlockOptions{Members: []uint32{0}})
	b.Input("position", 3, 0)
	b.Input("texCoord", 2, 1)
	b.VertexIndex()
	return b.Code()
}

// FragmentModule uses the Globals block, globals.color unless opt.Members is
// set, and samples "tex" at (samplerSet, 0).
func FragmentModule(opt BlockOptions, samplerSet uint32) []uint32 {
	b := New(Fragment)
	if opt.Members == nil {
		opt.Members = []uint32{1}
	}
	b.Globals(opt)
	b.Sampler("tex", samplerSet, 0)
	return b.Code()
}

// ComputeModule reads and writes the Particles buffer at (0, 0).
func ComputeModule() []uint32 {
	b := New(Compute)
	b.Particles(0, 0)
	return b.Code()
}

// Write stores code as a little endian .spv file and returns its path.
func Write(t testing.TB, dir, name string, code []uint32) string {
	t.Helper()
	raw := make([]byte, len(code)*4)
	for i, w := range code {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}
