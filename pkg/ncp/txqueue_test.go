package ncp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func fill(n int, start byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

// drain sends and retires everything queued, returning the bytes.
func drain(q *TxQueue) []byte {
	var out bytes.Buffer
	for {
		seg, ok := q.Peek()
		if !ok {
			return out.Bytes()
		}
		out.Write(seg)
		q.ConfirmSent()
		q.ConfirmTransmitted()
	}
}

func TestTxQueueReservedForResponses(t *testing.T) {
	q := NewTxQueue(3, 30, 1)
	require.True(t, q.Enqueue(fill(10, 0), false))
	require.True(t, q.Enqueue(fill(10, 0), false))
	require.False(t, q.Enqueue(fill(10, 0), false))
	require.Equal(t, 2, q.Used())
	require.True(t, q.Enqueue(fill(10, 0), true))
	require.Equal(t, 3, q.Used())
	require.False(t, q.Enqueue(fill(1, 0), true))
}

func TestTxQueueMultiSegment(t *testing.T) {
	q := NewTxQueue(4, 30, 0)
	frame := fill(65, 1)
	require.Equal(t, 3, q.Segments(len(frame)))
	require.True(t, q.Enqueue(frame, false))
	require.Equal(t, 3, q.Pending())

	var lens []int
	var out []byte
	for {
		seg, ok := q.Peek()
		if !ok {
			break
		}
		require.True(t, len(seg) <= 30)
		lens = append(lens, len(seg))
		out = append(out, seg...)
		q.ConfirmSent()
	}
	require.Equal(t, []int{30, 30, 5}, lens)
	require.Equal(t, frame, out)
	require.Equal(t, 3, q.Used())
}

func TestTxQueueAtomicEnqueue(t *testing.T) {
	q := NewTxQueue(5, 10, 2)
	require.True(t, q.Enqueue(fill(15, 0), false))
	// 2 segments needed, 1 left in the event tier.
	require.False(t, q.Enqueue(fill(11, 0), false))
	require.Equal(t, 2, q.Pending())
	require.Equal(t, 2, q.Used())
	// 4 segments needed, 3 left in total.
	require.False(t, q.Enqueue(fill(31, 0), true))
	require.Equal(t, 2, q.Pending())
	require.Equal(t, 2, q.Used())
	require.Equal(t, fill(15, 0), drain(q))
}

func TestTxQueueEventsNeverUseReserved(t *testing.T) {
	q := NewTxQueue(8, 4, 3)
	for i := 0; i < 20; i++ {
		q.Enqueue(fill(i%9+1, byte(i)), false)
		require.True(t, q.Capacity()-q.Used() >= q.Reserved())
		if i%4 == 3 {
			drain(q)
		}
	}
}

func TestTxQueueRoundTrip(t *testing.T) {
	q := NewTxQueue(6, 7, 2)
	var expected, out []byte
	for n, size := range []int{1, 7, 8, 20, 0, 13, 27} {
		frame := fill(size, byte(n*16))
		if !q.Enqueue(frame, n%2 == 0) {
			out = append(out, drain(q)...)
			require.True(t, q.Enqueue(frame, n%2 == 0))
		}
		expected = append(expected, frame...)
	}
	out = append(out, drain(q)...)
	require.Equal(t, expected, out)
	require.Zero(t, q.Used())
	require.Zero(t, q.Pending())
}

func TestTxQueueSegmentStages(t *testing.T) {
	q := NewTxQueue(2, 4, 0)
	require.True(t, q.Enqueue(fill(8, 0), true))
	require.False(t, q.Enqueue(fill(1, 0), true))

	seg, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, fill(4, 0), seg)
	// peeking again without confirming returns the same segment.
	seg2, _ := q.Peek()
	require.Equal(t, seg, seg2)

	q.ConfirmSent()
	require.Equal(t, 1, q.Pending())
	require.Equal(t, 2, q.Used())
	// sent but unconfirmed segments still hold space.
	require.False(t, q.Enqueue(fill(1, 0), true))

	q.ConfirmTransmitted()
	require.Equal(t, 1, q.Used())
	require.True(t, q.Enqueue(fill(1, 9), true))

	// a confirmation without any sent segment is ignored.
	q.Reset()
	q.ConfirmTransmitted()
	require.Zero(t, q.Used())
}

func TestTxQueueEarlyConfirmation(t *testing.T) {
	q := NewTxQueue(2, 4, 0)
	require.True(t, q.Enqueue(fill(4, 0), true))
	_, ok := q.Peek()
	require.True(t, ok)
	// transport confirms before ConfirmSent is called.
	q.ConfirmTransmitted()
	require.Equal(t, 1, q.Used())
	q.ConfirmSent()
	require.Zero(t, q.Used())
	require.Zero(t, q.Pending())
}
