package shader

import (
	"errors"
	"fmt"
)

const spirvMagic = 0x07230203

var ErrInvalidSpirv = errors.New("invalid SPIR-V module")

// SPIR-V opcodes read by the reflector.
const (
	opName                = 5
	opMemberName          = 6
	opEntryPoint          = 15
	opTypeBool            = 20
	opTypeInt             = 21
	opTypeFloat           = 22
	opTypeVector          = 23
	opTypeMatrix          = 24
	opTypeImage           = 25
	opTypeSampler         = 26
	opTypeSampledImage    = 27
	opTypeArray           = 28
	opTypeRuntimeArray    = 29
	opTypeStruct          = 30
	opTypePointer         = 32
	opConstant            = 43
	opSpecConstant        = 50
	opVariable            = 59
	opLoad                = 61
	opCopyMemory          = 63
	opAccessChain         = 65
	opInBoundsAccessChain = 66
	opDecorate            = 71
	opMemberDecorate      = 72
)

const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationRowMajor      = 4
	decorationArrayStride   = 6
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
	storageStorageBuffer   = 12
)

const (
	modelVertex = iota
	modelTessControl
	modelTessEvaluation
	modelGeometry
	modelFragment
	modelGLCompute
)

type decorations struct {
	set, binding, location, offset uint32
	arrayStride, matrixStride      uint32

	hasSet, hasBinding, hasLocation, hasOffset bool

	block, bufferBlock, builtIn, rowMajor bool
}

func (d *decorations) apply(kind uint32, literals []uint32) {
	lit := func() uint32 {
		if len(literals) > 0 {
			return literals[0]
		}
		return 0
	}
	switch kind {
	case decorationBlock:
		d.block = true
	case decorationBufferBlock:
		d.bufferBlock = true
	case decorationRowMajor:
		d.rowMajor = true
	case decorationArrayStride:
		d.arrayStride = lit()
	case decorationMatrixStride:
		d.matrixStride = lit()
	case decorationBuiltIn:
		d.builtIn = true
	case decorationLocation:
		d.location, d.hasLocation = lit(), true
	case decorationBinding:
		d.binding, d.hasBinding = lit(), true
	case decorationDescriptorSet:
		d.set, d.hasSet = lit(), true
	case decorationOffset:
		d.offset, d.hasOffset = lit(), true
	}
}

type spvType struct {
	op uint32
	// int and float
	width  uint32
	signed bool
	// vector, matrix, array, runtime array, sampled image and pointer element
	elem uint32
	// vector size or matrix column count
	count    uint32
	lengthID uint32
	members  []uint32
	storage  uint32
}

type variable struct {
	id      uint32
	typeID  uint32
	storage uint32
}

// spirvModule is the subset of a SPIR-V binary needed for reflection.
type spirvModule struct {
	model      uint32
	hasModel   bool
	entryPoint string

	names       map[uint32]string
	memberNames map[uint32]map[uint32]string
	decos       map[uint32]*decorations
	memberDecos map[uint32]map[uint32]*decorations
	types       map[uint32]*spvType
	constants   map[uint32]uint32
	variables   []variable
	varIndex    map[uint32]int

	// accessed members per variable, and variables loaded as a whole
	accessed map[uint32]map[uint32]bool
	whole    map[uint32]bool
}

func parseSpirv(code []uint32) (*spirvModule, error) {
	if len(code) < 5 {
		return nil, fmt.Errorf("%w: %d words is shorter than the header", ErrInvalidSpirv, len(code))
	}
	if code[0] != spirvMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidSpirv, code[0])
	}
	m := &spirvModule{
		names:       make(map[uint32]string),
		memberNames: make(map[uint32]map[uint32]string),
		decos:       make(map[uint32]*decorations),
		memberDecos: make(map[uint32]map[uint32]*decorations),
		types:       make(map[uint32]*spvType),
		constants:   make(map[uint32]uint32),
		varIndex:    make(map[uint32]int),
		accessed:    make(map[uint32]map[uint32]bool),
		whole:       make(map[uint32]bool),
	}
	// uses are resolved once every variable is known
	type chain struct{ base, index uint32 }
	var chains []chain
	var loads []uint32

	for i := 5; i < len(code); {
		wordCount := int(code[i] >> 16)
		opcode := code[i] & 0xffff
		if wordCount == 0 || i+wordCount > len(code) {
			return nil, fmt.Errorf("%w: truncated instruction at word %d", ErrInvalidSpirv, i)
		}
		ops := code[i+1 : i+wordCount]
		i += wordCount

		need := func(n int) error {
			if len(ops) < n {
				return fmt.Errorf("%w: opcode %d needs %d operands, has %d", ErrInvalidSpirv, opcode, n, len(ops))
			}
			return nil
		}

		switch opcode {
		case opName:
			if err := need(1); err != nil {
				return nil, err
			}
			m.names[ops[0]] = decodeString(ops[1:])
		case opMemberName:
			if err := need(2); err != nil {
				return nil, err
			}
			if m.memberNames[ops[0]] == nil {
				m.memberNames[ops[0]] = make(map[uint32]string)
			}
			m.memberNames[ops[0]][ops[1]] = decodeString(ops[2:])
		case opEntryPoint:
			if err := need(2); err != nil {
				return nil, err
			}
			if !m.hasModel {
				m.model, m.hasModel = ops[0], true
				m.entryPoint = decodeString(ops[2:])
			}
		case opDecorate:
			if err := need(2); err != nil {
				return nil, err
			}
			m.deco(ops[0]).apply(ops[1], ops[2:])
		case opMemberDecorate:
			if err := need(3); err != nil {
				return nil, err
			}
			m.memberDeco(ops[0], ops[1]).apply(ops[2], ops[3:])
		case opTypeBool, opTypeSampler, opTypeImage:
			if err := need(1); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode}
		case opTypeInt:
			if err := need(3); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, width: ops[1], signed: ops[2] != 0}
		case opTypeFloat:
			if err := need(2); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, width: ops[1]}
		case opTypeVector, opTypeMatrix:
			if err := need(3); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, elem: ops[1], count: ops[2]}
		case opTypeSampledImage, opTypeRuntimeArray:
			if err := need(2); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, elem: ops[1]}
		case opTypeArray:
			if err := need(3); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, elem: ops[1], lengthID: ops[2]}
		case opTypeStruct:
			if err := need(1); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, members: append([]uint32(nil), ops[1:]...)}
		case opTypePointer:
			if err := need(3); err != nil {
				return nil, err
			}
			m.types[ops[0]] = &spvType{op: opcode, storage: ops[1], elem: ops[2]}
		case opConstant, opSpecConstant:
			if err := need(3); err != nil {
				return nil, err
			}
			m.constants[ops[1]] = ops[2]
		case opVariable:
			if err := need(3); err != nil {
				return nil, err
			}
			m.varIndex[ops[1]] = len(m.variables)
			m.variables = append(m.variables, variable{id: ops[1], typeID: ops[0], storage: ops[2]})
		case opLoad:
			if err := need(3); err != nil {
				return nil, err
			}
			loads = append(loads, ops[2])
		case opCopyMemory:
			if err := need(2); err != nil {
				return nil, err
			}
			loads = append(loads, ops[1])
		case opAccessChain, opInBoundsAccessChain:
			if err := need(3); err != nil {
				return nil, err
			}
			if len(ops) > 3 {
				chains = append(chains, chain{base: ops[2], index: ops[3]})
			} else {
				loads = append(loads, ops[2])
			}
		}
	}

	for _, id := range loads {
		if _, ok := m.varIndex[id]; ok {
			m.whole[id] = true
		}
	}
	for _, c := range chains {
		if _, ok := m.varIndex[c.base]; !ok {
			continue
		}
		idx, ok := m.constants[c.index]
		if !ok {
			// dynamic index into the block
			m.whole[c.base] = true
			continue
		}
		if m.accessed[c.base] == nil {
			m.accessed[c.base] = make(map[uint32]bool)
		}
		m.accessed[c.base][idx] = true
	}
	return m, nil
}

func (m *spirvModule) deco(id uint32) *decorations {
	d, ok := m.decos[id]
	if !ok {
		d = &decorations{}
		m.decos[id] = d
	}
	return d
}

func (m *spirvModule) memberDeco(id, member uint32) *decorations {
	if m.memberDecos[id] == nil {
		m.memberDecos[id] = make(map[uint32]*decorations)
	}
	d, ok := m.memberDecos[id][member]
	if !ok {
		d = &decorations{}
		m.memberDecos[id][member] = d
	}
	return d
}

// pointee strips one pointer level from typeID.
func (m *spirvModule) pointee(typeID uint32) (uint32, *spvType) {
	t := m.types[typeID]
	if t != nil && t.op == opTypePointer {
		return t.elem, m.types[t.elem]
	}
	return typeID, t
}

func (m *spirvModule) arrayLength(t *spvType) uint32 {
	if t.op != opTypeArray {
		return 1
	}
	return m.constants[t.lengthID]
}

// declaredSize is the byte size of typeID as laid out in a buffer block.
// member carries the decorations of the struct member using the type.
func (m *spirvModule) declaredSize(typeID uint32, member *decorations) uint32 {
	t := m.types[typeID]
	if t == nil {
		return 0
	}
	switch t.op {
	case opTypeBool:
		return 4
	case opTypeInt, opTypeFloat:
		return t.width / 8
	case opTypeVector:
		return t.count * m.declaredSize(t.elem, nil)
	case opTypeMatrix:
		col := m.types[t.elem]
		if member != nil && member.matrixStride != 0 {
			if member.rowMajor && col != nil {
				return member.matrixStride * col.count
			}
			return member.matrixStride * t.count
		}
		return t.count * m.declaredSize(t.elem, nil)
	case opTypeArray:
		n := m.arrayLength(t)
		if d := m.decos[typeID]; d != nil && d.arrayStride != 0 {
			return n * d.arrayStride
		}
		return n * m.declaredSize(t.elem, member)
	case opTypeRuntimeArray:
		return 0
	case opTypeStruct:
		if len(t.members) == 0 {
			return 0
		}
		last := uint32(len(t.members) - 1)
		d := m.memberDecos[typeID][last]
		var offset uint32
		if d != nil {
			offset = d.offset
		}
		return offset + m.declaredSize(t.members[last], d)
	}
	return 0
}

func decodeString(words []uint32) string {
	b := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for s := 0; s < 32; s += 8 {
			c := byte(w >> s)
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}
