package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/vkcore/engine/core"
)

func TestEventContexts(t *testing.T) {
	assert.Equal(t, uint16(glfw.KeyEscape), keyContext(glfw.KeyEscape).Data.U16[0])

	r := resizeContext(1920, 1080)
	assert.Equal(t, [4]uint32{1920, 1080, 0, 0}, r.Data.U32)

	assert.Equal(t, int32(1), wheelDelta(0.25))
	assert.Equal(t, int32(-1), wheelDelta(-3))
	assert.Zero(t, wheelDelta(0))
}

func TestResizeFiresEvent(t *testing.T) {
	events := core.NewEvents()
	p := New(events)

	var got core.EventContext
	events.Register(core.EVENT_CODE_RESIZED, t, func(_ core.SystemEventCode, sender, _ interface{}, data core.EventContext) bool {
		assert.Same(t, p, sender)
		got = data
		return true
	})
	p.framebufferSizeCallback(nil, 800, 600)

	w, h := p.FramebufferSize()
	assert.Equal(t, uint32(800), w)
	assert.Equal(t, uint32(600), h)
	assert.Equal(t, uint32(800), got.Data.U32[0])
	assert.Equal(t, uint32(600), got.Data.U32[1])
}
