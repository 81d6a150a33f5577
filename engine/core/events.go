package core

import "sync"

// EventContext carries the payload of a fired event.
type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		I32 [4]int32
		U32 [4]uint32
		F32 [4]float32

		U16 [8]uint16

		S string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed. Data.U16[0] holds the key code.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Keyboard key released. Data.U16[0] holds the key code.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Mouse button pressed. Data.U16[0] holds the button.
	EVENT_CODE_BUTTON_PRESSED SystemEventCode = 0x04

	EVENT_CODE_BUTTON_RELEASED SystemEventCode = 0x05

	// Data.U16[0] is x, Data.U16[1] is y.
	EVENT_CODE_MOUSE_MOVED SystemEventCode = 0x06

	// Data.I32[0] is the wheel delta.
	EVENT_CODE_MOUSE_WHEEL SystemEventCode = 0x07

	// Resized/resolution changed from the OS. Data.U32[0] is width, Data.U32[1] is height.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// A watched asset changed on disk. Data.S holds the path.
	EVENT_CODE_ASSET_CHANGED SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

const maxMessageCodes = 16384

// FnOnEvent should return true if the event was handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// Events is a code indexed listener table. Safe for concurrent use.
type Events struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEvents() *Events {
	return &Events{registered: make(map[SystemEventCode][]registeredEvent)}
}

// Register adds a listener for code. A listener can only register once per code.
func (e *Events) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= maxMessageCodes || onEvent == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.registered[code] {
		if r.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	e.registered[code] = append(e.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

func (e *Events) Unregister(code SystemEventCode, listener interface{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.registered[code]
	for i, r := range events {
		if r.listener == listener {
			e.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire calls listeners in registration order until one reports the event as handled.
func (e *Events) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	e.mu.RLock()
	events := append([]registeredEvent(nil), e.registered[code]...)
	e.mu.RUnlock()
	for _, r := range events {
		if r.callback(code, sender, r.listener, data) {
			return true
		}
	}
	return false
}
