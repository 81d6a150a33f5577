package platform

import (
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/vkcore/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the window and turns its input into core events.
type Platform struct {
	window *glfw.Window
	events *core.Events

	startTime float64
	width     uint32
	height    uint32
}

func New(events *core.Events) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		core.LogError("glfw reports no Vulkan loader")
		return ErrNoVulkan
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.window = window

	p.window.SetKeyCallback(p.keyCallback)
	p.window.SetMouseButtonCallback(p.mouseButtonCallback)
	p.window.SetCursorPosCallback(p.cursorPosCallback)
	p.window.SetScrollCallback(p.scrollCallback)
	p.window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.window.SetCloseCallback(p.closeCallback)
	p.window.SetPos(int(x), int(y))
	p.window.Show()

	fw, fh := p.window.GetFramebufferSize()
	p.width, p.height = uint32(fw), uint32(fh)
	p.startTime = glfw.GetTime()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.window != nil {
		p.window.Destroy()
		p.window = nil
	}
	glfw.Terminate()
	return nil
}

// Window is the surface owner handed to the renderer backend.
func (p *Platform) Window() *glfw.Window { return p.window }

// FramebufferSize is the drawable size in pixels, which differs from the
// window size on high density displays.
func (p *Platform) FramebufferSize() (uint32, uint32) { return p.width, p.height }

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.window.ShouldClose()
}

// GetAbsoluteTime is the time since Startup.
func (p *Platform) GetAbsoluteTime() time.Duration {
	return time.Duration((glfw.GetTime() - p.startTime) * float64(time.Second))
}

func (p *Platform) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func (p *Platform) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	switch action {
	case glfw.Press, glfw.Repeat:
		p.events.Fire(core.EVENT_CODE_KEY_PRESSED, p, keyContext(key))
	case glfw.Release:
		p.events.Fire(core.EVENT_CODE_KEY_RELEASED, p, keyContext(key))
	}
}

func (p *Platform) mouseButtonCallback(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	var data core.EventContext
	data.Data.U16[0] = uint16(button)
	if action == glfw.Press {
		p.events.Fire(core.EVENT_CODE_BUTTON_PRESSED, p, data)
	} else {
		p.events.Fire(core.EVENT_CODE_BUTTON_RELEASED, p, data)
	}
}

func (p *Platform) cursorPosCallback(_ *glfw.Window, xpos, ypos float64) {
	var data core.EventContext
	data.Data.U16[0] = uint16(xpos)
	data.Data.U16[1] = uint16(ypos)
	p.events.Fire(core.EVENT_CODE_MOUSE_MOVED, p, data)
}

func (p *Platform) scrollCallback(_ *glfw.Window, _, yoff float64) {
	if yoff == 0 {
		return
	}
	var data core.EventContext
	data.Data.I32[0] = wheelDelta(yoff)
	p.events.Fire(core.EVENT_CODE_MOUSE_WHEEL, p, data)
}

func (p *Platform) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	p.width, p.height = uint32(width), uint32(height)
	p.events.Fire(core.EVENT_CODE_RESIZED, p, resizeContext(p.width, p.height))
}

func (p *Platform) closeCallback(*glfw.Window) {
	p.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}
