package processor

import "sync/atomic"

// EventQueue is a bounded ncp.EventSource. Events posted while it's full
// are dropped.
type EventQueue struct {
	// Wake is called after an event is posted, usually Engine.TriggerNext.
	Wake func()

	ch      chan []byte
	dropped atomic.Uint64
}

// NewEventQueue creates an EventQueue holding up to size events.
func NewEventQueue(size int) *EventQueue {
	return &EventQueue{ch: make(chan []byte, size)}
}

// Post queues an event frame, returns false if it's dropped.
func (q *EventQueue) Post(evt []byte) bool {
	select {
	case q.ch <- evt:
	default:
		q.dropped.Add(1)
		return false
	}
	if q.Wake != nil {
		q.Wake()
	}
	return true
}

// PollEvent implements ncp.EventSource.
func (q *EventQueue) PollEvent() ([]byte, bool) {
	select {
	case evt := <-q.ch:
		return evt, true
	default:
		return nil, false
	}
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Dropped returns the number of events dropped.
func (q *EventQueue) Dropped() uint64 {
	return q.dropped.Load()
}
