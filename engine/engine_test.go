package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/platform"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Renderer.VirtualFrames = 0
	_, err := New(&Game{Config: cfg})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg = core.DefaultConfig()
	cfg.Application.LogLevel = "loud"
	_, err = New(&Game{Config: cfg})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEscapeQuits(t *testing.T) {
	e, err := New(&Game{})
	require.NoError(t, err)
	assert.Equal(t, EngineStageUninitialized, e.Stage())
	assert.True(t, e.isRunning.Load())

	var key core.EventContext
	key.Data.U16[0] = 'A'
	assert.False(t, e.Events().Fire(core.EVENT_CODE_KEY_PRESSED, nil, key))
	assert.True(t, e.isRunning.Load())

	key.Data.U16[0] = platform.KeyEscape
	assert.True(t, e.Events().Fire(core.EVENT_CODE_KEY_PRESSED, nil, key))
	assert.False(t, e.isRunning.Load())
}

func TestResizeSuspendsWhenMinimized(t *testing.T) {
	var sizes [][2]uint32
	e, err := New(&Game{FnOnResize: func(w, h uint32) error {
		sizes = append(sizes, [2]uint32{w, h})
		return nil
	}})
	require.NoError(t, err)

	resize := func(w, h uint32) bool {
		var data core.EventContext
		data.Data.U32[0], data.Data.U32[1] = w, h
		return e.Events().Fire(core.EVENT_CODE_RESIZED, nil, data)
	}

	assert.False(t, resize(1280, 720), "same size is not a resize")
	assert.True(t, resize(0, 0))
	assert.True(t, e.isSuspended)
	assert.True(t, resize(800, 600))
	assert.False(t, e.isSuspended)

	w, h := e.GetFramebufferSize()
	assert.Equal(t, [2]uint32{800, 600}, [2]uint32{w, h})
	assert.Equal(t, [][2]uint32{{800, 600}}, sizes)
}

func TestFrameBudget(t *testing.T) {
	assert.Zero(t, frameBudget(0))
	assert.Equal(t, 16666666*time.Nanosecond, frameBudget(60))
	assert.Equal(t, time.Second, frameBudget(1))
}
