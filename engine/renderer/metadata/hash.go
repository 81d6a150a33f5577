package metadata

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// KeyHasher serializes cache key fields explicitly, little endian, into a
// 64-bit FNV-1a digest. The version byte is written first so a change in the
// field layout changes every key.
type KeyHasher struct {
	h   hash.Hash64
	buf [8]byte
}

func NewKeyHasher(version byte) *KeyHasher {
	k := &KeyHasher{h: fnv.New64a()}
	k.h.Write([]byte{version})
	return k
}

func (k *KeyHasher) Uint32(v uint32) *KeyHasher {
	binary.LittleEndian.PutUint32(k.buf[:4], v)
	k.h.Write(k.buf[:4])
	return k
}

func (k *KeyHasher) Uint64(v uint64) *KeyHasher {
	binary.LittleEndian.PutUint64(k.buf[:], v)
	k.h.Write(k.buf[:])
	return k
}

func (k *KeyHasher) Int32(v int32) *KeyHasher {
	return k.Uint32(uint32(v))
}

func (k *KeyHasher) Float32(v float32) *KeyHasher {
	return k.Uint32(math.Float32bits(v))
}

func (k *KeyHasher) Bool(v bool) *KeyHasher {
	if v {
		k.buf[0] = 1
	} else {
		k.buf[0] = 0
	}
	k.h.Write(k.buf[:1])
	return k
}

func (k *KeyHasher) Bytes(b []byte) *KeyHasher {
	k.Uint64(uint64(len(b)))
	k.h.Write(b)
	return k
}

func (k *KeyHasher) String(s string) *KeyHasher {
	return k.Bytes([]byte(s))
}

func (k *KeyHasher) Sum64() uint64 {
	return k.h.Sum64()
}

// HashSetLayoutBindings is the content hash of a descriptor set layout.
func HashSetLayoutBindings(bindings []DescriptorSetLayoutBinding) uint64 {
	k := NewKeyHasher(1).Uint32(uint32(len(bindings)))
	for _, b := range bindings {
		k.Uint32(b.Binding).Uint32(uint32(b.DescriptorType)).Uint32(b.DescriptorCount).Uint32(uint32(b.StageFlags))
	}
	return k.Sum64()
}
