package vulkan

import (
	"sync"
	"sync/atomic"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableIssuesUniqueHandles(t *testing.T) {
	var next atomic.Uint64
	a := newHandleTable[int](&next)
	b := newHandleTable[string](&next)

	h1 := a.put(10)
	h2 := b.put("x")
	h3 := a.put(20)
	assert.NotZero(t, h1)
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h2, h3)

	assert.Equal(t, 20, a.get(h3))
	assert.Zero(t, a.get(h2), "a handle from another table resolves to the zero value")

	v, ok := a.take(h1)
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = a.take(h1)
	assert.False(t, ok)
	assert.Equal(t, 1, a.len())
}

func TestHandleTableSweepAndResolve(t *testing.T) {
	var next atomic.Uint64
	tbl := newHandleTable[descriptorSetEntry](&next)
	keep := tbl.put(descriptorSetEntry{pool: 1})
	tbl.put(descriptorSetEntry{pool: 2})
	tbl.put(descriptorSetEntry{pool: 2})

	assert.Equal(t, 2, tbl.sweep(func(e descriptorSetEntry) bool { return e.pool == 2 }))
	assert.Equal(t, 1, tbl.len())

	type setHandle uint64
	got := resolve(tbl, []setHandle{setHandle(keep), 999})
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].pool)
	assert.Equal(t, descriptorSetEntry{}, got[1])
}

func TestSafeQueueCallSerializesPerFamily(t *testing.T) {
	lp := NewLockPool()
	lp.SetQueueFamily(0)

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lp.SafeQueueCall(0, func() error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSafeQueueCallDoesNotBlockOtherFamilies(t *testing.T) {
	lp := NewLockPool()
	lp.SetQueueFamily(0)
	lp.SetQueueFamily(1)

	err := lp.SafeQueueCall(0, func() error {
		// A nested call on another family would deadlock if the pool mutex
		// were held for the duration of fn.
		return lp.SafeQueueCall(1, func() error { return nil })
	})
	assert.NoError(t, err)
	assert.NoError(t, lp.SafeCall(PipelineManagement, func() error {
		return lp.SafeCall(MemoryManagement, func() error { return nil })
	}))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", ResultString(vk.ErrorOutOfDate, false))
	assert.Contains(t, ResultString(vk.ErrorDeviceLost, true), "device has been lost")
	assert.True(t, IsSuccess(vk.Suboptimal))
	assert.False(t, IsSuccess(vk.ErrorOutOfPoolMemory))

	assert.NoError(t, check("vkQueueSubmit", vk.Success))
	err := check("vkQueueSubmit", vk.ErrorDeviceLost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkQueueSubmit failed with VK_ERROR_DEVICE_LOST")
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "abc\x00", safeString("abc"))
	assert.Equal(t, "abc\x00", safeString("abc\x00"))
	assert.Equal(t, "\x00", safeString(""))
	in := []string{"a", "b"}
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings(in))
	assert.Equal(t, []string{"a", "b"}, in)

	assert.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 'x'}))
	assert.Equal(t, uint32(5), clamp(1, 5, 9))
	assert.Equal(t, uint32(9), clamp(12, 5, 9))
}
