package core

import (
	"context"
	"sync"
)

// Dispatcher consumes one event at a time. Dispatch reports true when the
// event could not be handled yet and must be redelivered on the next wake-up.
type Dispatcher interface {
	Dispatch(event Event) (deferred bool)
}

// EventLoop serializes event delivery: exactly one Dispatch call runs at a
// time, in arrival order, with deferred events replayed ahead of newer ones.
// This single consumer is the entire concurrency discipline of the operator;
// the reconciliation code below it never needs a lock.
type EventLoop struct {
	mutex    sync.Mutex
	pending  []Event
	queued   map[Event]struct{}
	deferred []Event

	wake       chan struct{}
	dispatcher Dispatcher
}

// NewEventLoop builds a loop that delivers to the given dispatcher.
func NewEventLoop(dispatcher Dispatcher) *EventLoop {
	return &EventLoop{
		queued:     make(map[Event]struct{}),
		wake:       make(chan struct{}, 1),
		dispatcher: dispatcher,
	}
}

// Emit enqueues an event for delivery. An event identical to one already
// pending coalesces with it; delivery order is otherwise FIFO. Safe to call
// from any goroutine.
func (loop *EventLoop) Emit(event Event) {
	loop.mutex.Lock()

	if _, exists := loop.queued[event]; exists {
		loop.mutex.Unlock()
		return
	}

	loop.queued[event] = struct{}{}
	loop.pending = append(loop.pending, event)

	loop.mutex.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
}

// Run delivers events until the context is cancelled. Deferred events are
// kept aside and retried at the start of the next wake-up, never in a tight
// loop within the same one.
func (loop *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loop.wake:
		}

		loop.drain()
	}
}

// Pending reports the number of events waiting for delivery, deferred ones
// included.
func (loop *EventLoop) Pending() int {
	loop.mutex.Lock()
	defer loop.mutex.Unlock()

	return len(loop.pending) + len(loop.deferred)
}

func (loop *EventLoop) drain() {
	loop.mutex.Lock()

	batch := make([]Event, 0, len(loop.deferred)+len(loop.pending))
	batch = append(batch, loop.deferred...)
	batch = append(batch, loop.pending...)

	loop.deferred = nil
	loop.pending = nil
	loop.queued = make(map[Event]struct{})

	loop.mutex.Unlock()

	var redeliver []Event

	for _, event := range batch {
		if loop.dispatcher.Dispatch(event) {
			redeliver = append(redeliver, event)
		}
	}

	loop.mutex.Lock()
	loop.deferred = append(loop.deferred, redeliver...)
	loop.mutex.Unlock()
}
