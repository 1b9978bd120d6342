package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode int

const (
	// The active device was lost. The render system has already discarded its
	// in-flight frames and cached native objects.
	/* Context usage:
	 * Data: error describing the loss.
	 */
	EVENT_CODE_DEVICE_LOST EventCode = 0x01

	// The device stopped making progress and was drained.
	EVENT_CODE_DEVICE_STALLED EventCode = 0x02

	// A new device is active. Pipeline and sampler owners must re-issue their
	// creation notifications.
	/* Context usage:
	 * Data: string with the device name.
	 */
	EVENT_CODE_DEVICE_RESTORED EventCode = 0x03

	// A render target was resized. Framebuffers referencing it are invalid.
	/* Context usage:
	 * Data: the *metadata.Texture that changed.
	 */
	EVENT_CODE_TARGET_RESIZED EventCode = 0x04

	// A render target was destroyed.
	/* Context usage:
	 * Data: the *metadata.Texture that is gone.
	 */
	EVENT_CODE_TARGET_DESTROYED EventCode = 0x05

	// Configuration file was reloaded.
	EVENT_CODE_CONFIG_CHANGED EventCode = 0x06

	MAX_EVENT_CODE EventCode = 0xFF
)

type EventContext struct {
	Code   EventCode
	Sender interface{}
	Data   interface{}
}

// Should return true if handled.
type FnOnEvent func(context EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventSystem dispatches device and target notifications to listeners. One
// instance is shared by everything attached to the same device context.
type EventSystem struct {
	mu         sync.RWMutex
	registered map[EventCode][]*registeredEvent
}

func NewEventSystem() *EventSystem {
	return &EventSystem{
		registered: make(map[EventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listener/callback combos will not be registered again and will cause this to return FALSE.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Can be nil.
 * @param onEvent The callback function to be invoked when the event code is fired.
 * @returns TRUE if the event is successfully registered; otherwise false.
 */
func (es *EventSystem) Register(code EventCode, listener interface{}, onEvent FnOnEvent) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	for _, e := range es.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	es.registered[code] = append(es.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns FALSE.
 */
func (es *EventSystem) Unregister(code EventCode, listener interface{}) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	events := es.registered[code]
	for i, e := range events {
		if e.listener == listener {
			es.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * TRUE, the event is considered handled and is not passed on to any more listeners.
 * @returns TRUE if handled, otherwise FALSE.
 */
func (es *EventSystem) Fire(context EventContext) bool {
	es.mu.RLock()
	events := make([]*registeredEvent, len(es.registered[context.Code]))
	copy(events, es.registered[context.Code])
	es.mu.RUnlock()

	for _, e := range events {
		if e.callback(context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

func (es *EventSystem) Shutdown() {
	es.mu.Lock()
	defer es.mu.Unlock()
	// Objects pointed to should be destroyed on their own.
	es.registered = make(map[EventCode][]*registeredEvent)
}
