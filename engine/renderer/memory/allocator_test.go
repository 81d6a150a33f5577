package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/renderer/fakegpu"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		v, align, up, down uint64
	}{
		{0, 256, 0, 0},
		{1, 256, 256, 0},
		{256, 256, 256, 256},
		{300, 256, 512, 256},
		{10, 3, 12, 9},
		{7, 0, 7, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.up, alignUp(tt.v, tt.align), "alignUp(%d, %d)", tt.v, tt.align)
		assert.Equal(t, tt.down, alignDown(tt.v, tt.align), "alignDown(%d, %d)", tt.v, tt.align)
	}
}

func TestAllocateWithinFrameArena(t *testing.T) {
	dev := fakegpu.New()
	a, err := NewBufferAllocator(TransientSettings(dev, 1024, 3))
	require.NoError(t, err)
	defer a.Destroy()

	assert.Equal(t, uint64(1024), a.ArenaSize())
	assert.True(t, a.Mapped())

	b, off, ok := a.Allocate(64, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1024), off)
	assert.Len(t, b, 64)
	copy(b, []byte{1, 2, 3})

	_, off, ok = a.Allocate(10, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1024+256), off, "allocations are aligned to the uniform offset alignment")

	_, _, ok = a.Allocate(600, 1)
	assert.False(t, ok, "arena exhausted")
	_, off, ok = a.Allocate(512, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1024+512), off)

	_, off, ok = a.Allocate(1024, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(2048), off)
	_, _, ok = a.Allocate(1025, 0)
	assert.False(t, ok)
	_, _, ok = a.Allocate(1, 3)
	assert.False(t, ok)
}

func TestResetRewindsOneFrame(t *testing.T) {
	a, err := NewBufferAllocator(TransientSettings(fakegpu.New(), 512, 2))
	require.NoError(t, err)

	_, _, ok := a.Allocate(512, 0)
	require.True(t, ok)
	_, _, ok = a.Allocate(100, 1)
	require.True(t, ok)

	a.Reset(0)
	assert.Equal(t, 1, a.ResetCount(0))
	assert.Zero(t, a.ResetCount(1))
	assert.Zero(t, a.Used(0))
	assert.Equal(t, uint64(100), a.Used(1))

	_, off, ok := a.Allocate(512, 0)
	require.True(t, ok)
	assert.Zero(t, off)

	a.Swap()
	assert.Equal(t, uint32(1), a.Frame())
	a.Swap()
	assert.Equal(t, uint32(0), a.Frame())
}

func TestStaticAllocatorIsUnmapped(t *testing.T) {
	dev := fakegpu.New()
	a, err := NewBufferAllocator(StaticSettings(dev, 4096))
	require.NoError(t, err)

	b, off, ok := a.Allocate(100, 0)
	require.True(t, ok)
	assert.Nil(t, b)
	assert.Zero(t, off)
	assert.False(t, a.Mapped())

	a.Destroy()
	assert.Equal(t, 1, dev.Destroyed("buffer"))
	assert.Equal(t, 1, dev.Destroyed("memory"))
}

func TestMemoryTypeNotFound(t *testing.T) {
	s := TransientSettings(fakegpu.New(), 1024, 1)
	s.MemFlags = metadata.MemoryPropertyHostCached
	_, err := NewBufferAllocator(s)
	assert.ErrorIs(t, err, ErrMemoryTypeNotFound)
}

func TestInvalidSettings(t *testing.T) {
	_, err := NewBufferAllocator(TransientSettings(fakegpu.New(), 100, 2))
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = NewBufferAllocator(Settings{Device: fakegpu.New(), Size: 1024})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}
