package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

type testLink struct {
	lock        sync.Mutex
	frames      [][]byte
	pending     bool
	transmitted int
}

func (l *testLink) Ingest(b []byte) int { return 0 }
func (l *testLink) BytesExpected() int  { return ncp.HeaderSize }
func (l *testLink) ReceiveTimeout()     {}
func (l *testLink) TriggerNext()        {}
func (l *testLink) InjectFrame(frame []byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(frame) < ncp.HeaderSize {
		return ncp.ErrMalformedFrame
	}
	if l.pending {
		return ncp.ErrCommandPending
	}
	l.pending = true
	l.frames = append(l.frames, frame)
	return nil
}

func (l *testLink) Transmitted() {
	l.lock.Lock()
	l.transmitted++
	l.lock.Unlock()
}

func (l *testLink) release() {
	l.lock.Lock()
	l.pending = false
	l.lock.Unlock()
}

func (l *testLink) count() (int, int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.frames), l.transmitted
}

func TestSenderSingleFlight(t *testing.T) {
	link := &testLink{}
	unblock := make(chan struct{})
	written := make(chan []byte, 2)
	s := NewSender(link, func(seg []byte) error {
		<-unblock
		written <- seg
		return nil
	})

	require.True(t, s.Transmit([]byte{1}))
	require.True(t, s.Busy())
	require.False(t, s.Transmit([]byte{2}))
	close(unblock)
	require.Equal(t, []byte{1}, <-written)
	require.Eventually(t, func() bool {
		_, n := link.count()
		return n == 1 && !s.Busy()
	}, time.Second, time.Millisecond)
	require.True(t, s.Transmit([]byte{3}))
	require.Equal(t, []byte{3}, <-written)
	require.NoError(t, s.Err())
}

func TestSenderWait(t *testing.T) {
	link := &testLink{}
	unblock := make(chan struct{})
	s := NewSender(link, func(seg []byte) error {
		<-unblock
		return errors.New("closed")
	})
	s.Wait()
	require.True(t, s.Transmit([]byte{1}))

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned with a write in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(unblock)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait not returned")
	}
	_, n := link.count()
	require.Equal(t, 1, n)
}

func TestSenderError(t *testing.T) {
	link := &testLink{}
	errWrite := errors.New("write failed")
	s := NewSender(link, func([]byte) error { return errWrite })
	require.True(t, s.Transmit([]byte{1}))
	require.Eventually(t, func() bool {
		_, n := link.count()
		return n == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, errWrite, s.Err())
	require.NoError(t, s.Err())
}

func TestFeederWaitsForReceiveReady(t *testing.T) {
	link := &testLink{}
	f := NewFeeder(link)
	ctx := context.TODO()
	require.NoError(t, f.Feed(ctx, []byte{0, 0, 1, 0}))

	done := make(chan error, 1)
	go func() {
		done <- f.Feed(ctx, []byte{0, 0, 1, 1})
	}()
	select {
	case <-done:
		t.Fatal("frame injected while a command is pending")
	case <-time.After(20 * time.Millisecond):
	}
	link.release()
	f.ReceiveReady()
	require.NoError(t, <-done)
	n, _ := link.count()
	require.Equal(t, 2, n)
}

func TestFeederDropsMalformed(t *testing.T) {
	f := NewFeeder(&testLink{})
	require.Equal(t, ncp.ErrMalformedFrame, f.Feed(context.TODO(), []byte{1}))
}

func TestFeederCanceled(t *testing.T) {
	link := &testLink{pending: true}
	f := NewFeeder(link)
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	require.Equal(t, context.Canceled, f.Feed(ctx, []byte{0, 0, 1, 0}))
}

func TestDatagramWithEngine(t *testing.T) {
	engine, err := ncp.New(ncp.DefaultConfig(), ncp.ProcessFunc(func(ctx context.Context, cmd ncp.Command) []byte {
		return ncp.Response(ncp.LittleEndian, cmd.Header, ncp.ResultOK, cmd.Payload)
	}))
	require.NoError(t, err)
	out := make(chan []byte, 4)
	d := NewDatagram(engine, func(seg []byte) error {
		out <- append([]byte{}, seg...)
		return nil
	})
	engine.SetTransmitter(d)
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()
	go engine.Run(ctx)

	for n := byte(0); n < 3; n++ {
		require.NoError(t, d.Feed(ctx, ncp.EncodeFrame(ncp.LittleEndian, ncp.Header{Class: 2, Method: n}, []byte{n})))
	}
	for n := byte(0); n < 3; n++ {
		select {
		case rsp := <-out:
			require.Equal(t, ncp.Response(ncp.LittleEndian, ncp.Header{Class: 2, Method: n}, ncp.ResultOK, []byte{n}), rsp)
		case <-time.After(time.Second):
			t.Fatal("response timeout")
		}
	}
}
