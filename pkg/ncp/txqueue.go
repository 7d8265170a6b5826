package ncp

import "sync"

// TxQueue is a ring of fixed-size segments buffering outbound frames.
//
// A segment goes through three stages: queued (not handed to the
// transport), sent (accepted by the transport but not confirmed on the
// wire) and retired. Only retired segments are reused, so the data handed
// to the transport stays valid until it confirms transmission.
//
// Reserved segments are kept for responses: events can only use
// capacity - reserved segments.
type TxQueue struct {
	segSize  int
	capacity int
	reserved int
	data     []byte
	lens     []int

	write  int // next free segment
	read   int // next segment to send
	retire int // oldest segment awaiting confirmation
	queued int // segments between read and write
	used   int // segments between retire and write
	early  int // confirmations received before ConfirmSent

	lock sync.Mutex
}

// NewTxQueue creates a TxQueue with capacity segments of segSize bytes.
func NewTxQueue(capacity, segSize, reserved int) *TxQueue {
	return &TxQueue{
		segSize:  segSize,
		capacity: capacity,
		reserved: reserved,
		data:     make([]byte, capacity*segSize),
		lens:     make([]int, capacity),
	}
}

// Segments returns the number of segments needed by a frame of n bytes.
func (q *TxQueue) Segments(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + q.segSize - 1) / q.segSize
}

// Reset drops everything queued.
func (q *TxQueue) Reset() {
	q.lock.Lock()
	q.write, q.read, q.retire, q.queued, q.used, q.early = 0, 0, 0, 0, 0, 0
	for n := range q.lens {
		q.lens[n] = 0
	}
	q.lock.Unlock()
}

// Enqueue appends a frame. Responses may use the full capacity, events
// only the unreserved part. Nothing is written unless the whole frame fits.
func (q *TxQueue) Enqueue(frame []byte, response bool) bool {
	available := q.capacity
	if !response {
		available -= q.reserved
	}
	need := q.Segments(len(frame))

	q.lock.Lock()
	defer q.lock.Unlock()
	if q.used+need > available {
		return false
	}
	for left := frame; ; {
		n := len(left)
		if n > q.segSize {
			n = q.segSize
		}
		off := q.write * q.segSize
		copy(q.data[off:off+n], left[:n])
		q.lens[q.write] = n
		q.write = (q.write + 1) % q.capacity
		q.queued++
		q.used++
		if left = left[n:]; len(left) == 0 {
			break
		}
	}
	return true
}

// Peek returns the next segment to send without removing it.
func (q *TxQueue) Peek() ([]byte, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.queued == 0 {
		return nil, false
	}
	off := q.read * q.segSize
	return q.data[off : off+q.lens[q.read]], true
}

// ConfirmSent moves the peeked segment to the sent stage. It is called
// once the transport accepted the segment.
func (q *TxQueue) ConfirmSent() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.queued == 0 {
		return
	}
	q.read = (q.read + 1) % q.capacity
	q.queued--
	if q.early > 0 {
		q.early--
		q.retireOne()
	}
}

// ConfirmTransmitted retires the oldest sent segment, releasing its space.
// It is called once the transport confirms the bytes left the wire.
// A transport may confirm a segment before ConfirmSent is called for it,
// in which case the segment is retired by ConfirmSent.
func (q *TxQueue) ConfirmTransmitted() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.used > q.queued {
		q.retireOne()
	} else if q.queued > q.early {
		q.early++
	}
}

func (q *TxQueue) retireOne() {
	q.lens[q.retire] = 0
	q.retire = (q.retire + 1) % q.capacity
	q.used--
}

// Pending returns the number of segments not yet handed to the transport.
func (q *TxQueue) Pending() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.queued
}

// Used returns the number of segments not yet retired.
func (q *TxQueue) Used() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.used
}

// Capacity returns the total number of segments.
func (q *TxQueue) Capacity() int {
	return q.capacity
}

// Reserved returns the number of segments reserved for responses.
func (q *TxQueue) Reserved() int {
	return q.reserved
}

// SegmentSize returns the size of a segment.
func (q *TxQueue) SegmentSize() int {
	return q.segSize
}
