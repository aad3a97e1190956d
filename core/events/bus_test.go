package events

import "testing"

type testEvent struct {
	kind string
}

func (e testEvent) EventType() string { return e.kind }

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	first, cancelFirst := bus.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe(4)
	defer cancelSecond()

	bus.Emit(testEvent{kind: "a"})
	bus.Emit(testEvent{kind: "b"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		for _, want := range []string{"a", "b"} {
			evt := <-ch
			if evt.EventType() != want {
				t.Fatalf("%s subscriber: expected %q, got %q", name, want, evt.EventType())
			}
		}
	}
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Emit(testEvent{kind: "kept"})
	bus.Emit(testEvent{kind: "dropped"})

	if evt := <-ch; evt.EventType() != "kept" {
		t.Fatalf("expected first event, got %q", evt.EventType())
	}
	select {
	case evt := <-ch:
		t.Fatalf("overflow event should have been dropped, got %q", evt.EventType())
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // cancelling twice is harmless

	if _, open := <-ch; open {
		t.Fatal("cancelled subscription channel should be closed")
	}

	// Emitting after cancellation must not panic on the closed channel.
	bus.Emit(testEvent{kind: "late"})
}

func TestNoopEmitter(t *testing.T) {
	var emitter Emitter = NoopEmitter{}
	emitter.Emit(testEvent{kind: "ignored"})
}
