package platform

import (
	"errors"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/vkcore/engine/core"
)

var ErrNoVulkan = errors.New("vulkan is not supported on this host")

// KeyEscape is the key code carried by key events for the escape key.
const KeyEscape = uint16(glfw.KeyEscape)

func keyContext(key glfw.Key) core.EventContext {
	var data core.EventContext
	data.Data.U16[0] = uint16(key)
	return data
}

func resizeContext(width, height uint32) core.EventContext {
	var data core.EventContext
	data.Data.U32[0] = width
	data.Data.U32[1] = height
	return data
}

// wheelDelta flattens a scroll offset to a direction.
func wheelDelta(offset float64) int32 {
	switch {
	case offset > 0:
		return 1
	case offset < 0:
		return -1
	}
	return 0
}
