package ncp

import "time"

// Observer receives notifications about engine activity.
type Observer interface {
	CommandProcessed(id MessageID, dur time.Duration)
	EventQueued(size int)
	EventDropped(size int)
	ReceiveTimeout()
	QueueDepth(pending, used int)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

// CommandProcessed implements Observer.
func (NopObserver) CommandProcessed(MessageID, time.Duration) {}

// EventQueued implements Observer.
func (NopObserver) EventQueued(int) {}

// EventDropped implements Observer.
func (NopObserver) EventDropped(int) {}

// ReceiveTimeout implements Observer.
func (NopObserver) ReceiveTimeout() {}

// QueueDepth implements Observer.
func (NopObserver) QueueDepth(int, int) {}
