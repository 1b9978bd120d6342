package core

import "testing"

func TestEventSystemDispatch(t *testing.T) {
	es := NewEventSystem()
	var order []string
	first, second := "first", "second"

	if !es.Register(EVENT_CODE_DEVICE_LOST, first, func(EventContext) bool {
		order = append(order, first)
		return false
	}) {
		t.Fatalf("Register(first) failed")
	}
	es.Register(EVENT_CODE_DEVICE_LOST, second, func(EventContext) bool {
		order = append(order, second)
		return true
	})
	if es.Register(EVENT_CODE_DEVICE_LOST, first, func(EventContext) bool { return false }) {
		t.Fatalf("duplicate listener registered")
	}

	if !es.Fire(EventContext{Code: EVENT_CODE_DEVICE_LOST}) {
		t.Fatalf("Fire: event not handled")
	}
	if len(order) != 2 || order[0] != first || order[1] != second {
		t.Fatalf("dispatch order: %v", order)
	}
	if es.Fire(EventContext{Code: EVENT_CODE_DEVICE_RESTORED}) {
		t.Fatalf("event without listeners reported handled")
	}

	if !es.Unregister(EVENT_CODE_DEVICE_LOST, second) {
		t.Fatalf("Unregister failed")
	}
	if es.Unregister(EVENT_CODE_DEVICE_LOST, second) {
		t.Fatalf("Unregister of a missing listener succeeded")
	}
	order = nil
	if es.Fire(EventContext{Code: EVENT_CODE_DEVICE_LOST}) {
		t.Fatalf("remaining listener does not handle the event")
	}
	if len(order) != 1 {
		t.Fatalf("listeners called: %v", order)
	}
}

func TestEventSystemListenerUnregistersItself(t *testing.T) {
	es := NewEventSystem()
	calls := 0
	es.Register(EVENT_CODE_CONFIG_CHANGED, &calls, func(EventContext) bool {
		calls++
		es.Unregister(EVENT_CODE_CONFIG_CHANGED, &calls)
		return false
	})
	es.Fire(EventContext{Code: EVENT_CODE_CONFIG_CHANGED})
	es.Fire(EventContext{Code: EVENT_CODE_CONFIG_CHANGED})
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}

	es.Register(EVENT_CODE_CONFIG_CHANGED, &calls, func(EventContext) bool { return true })
	es.Shutdown()
	if es.Fire(EventContext{Code: EVENT_CODE_CONFIG_CHANGED}) {
		t.Fatalf("listener survived Shutdown")
	}
}
