package core

import (
	"testing"
)

type recordingDispatcher struct {
	seen     []Event
	deferSet map[EventKind]int
}

func (d *recordingDispatcher) Dispatch(event Event) bool {
	d.seen = append(d.seen, event)

	if d.deferSet == nil {
		return false
	}
	if remaining, ok := d.deferSet[event.Kind]; ok && remaining > 0 {
		d.deferSet[event.Kind] = remaining - 1
		return true
	}
	return false
}

func TestEmitCoalescesIdenticalEvents(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	loop := NewEventLoop(dispatcher)

	loop.Emit(Event{Kind: EventSyncTick})
	loop.Emit(Event{Kind: EventSyncTick})
	loop.Emit(Event{Kind: EventContainerReady})

	if got := loop.Pending(); got != 2 {
		t.Fatalf("expected 2 pending events, got %d", got)
	}

	loop.drain()

	if len(dispatcher.seen) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(dispatcher.seen))
	}
	if dispatcher.seen[0].Kind != EventSyncTick || dispatcher.seen[1].Kind != EventContainerReady {
		t.Fatalf("unexpected dispatch order: %+v", dispatcher.seen)
	}
}

func TestPayloadEventsDoNotCoalesceAcrossContent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	loop := NewEventLoop(dispatcher)

	loop.Emit(Event{Kind: EventCertificateAvailable, Certificate: "cert-a", CSR: "csr-a"})
	loop.Emit(Event{Kind: EventCertificateAvailable, Certificate: "cert-b", CSR: "csr-b"})

	if got := loop.Pending(); got != 2 {
		t.Fatalf("expected both payload events pending, got %d", got)
	}
}

func TestDeferredEventsReplayBeforeNewOnes(t *testing.T) {
	dispatcher := &recordingDispatcher{deferSet: map[EventKind]int{EventContainerReady: 1}}
	loop := NewEventLoop(dispatcher)

	loop.Emit(Event{Kind: EventContainerReady})
	loop.drain()

	if loop.Pending() != 1 {
		t.Fatalf("expected the deferred event to remain pending")
	}

	loop.Emit(Event{Kind: EventSyncTick})
	loop.drain()

	if len(dispatcher.seen) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(dispatcher.seen))
	}
	// Second drain retries the deferred event first, then the new tick.
	if dispatcher.seen[1].Kind != EventContainerReady || dispatcher.seen[2].Kind != EventSyncTick {
		t.Fatalf("unexpected replay order: %+v", dispatcher.seen)
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected an empty loop after successful replay")
	}
}

func TestDeferredEventsAreNotRetriedWithinTheSameDrain(t *testing.T) {
	dispatcher := &recordingDispatcher{deferSet: map[EventKind]int{EventSyncTick: 10}}
	loop := NewEventLoop(dispatcher)

	loop.Emit(Event{Kind: EventSyncTick})
	loop.drain()

	if len(dispatcher.seen) != 1 {
		t.Fatalf("expected a single dispatch per drain, got %d", len(dispatcher.seen))
	}
}
