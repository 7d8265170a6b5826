package host

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/any"
	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/processor"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/stream"
)

func startTarget(t *testing.T, conn net.Conn) *processor.EventQueue {
	mux := processor.NewMux(ncp.LittleEndian)
	users := processor.NewUserMessages()
	users.HandleMessage(&wrappers.StringValue{}, func(ctx context.Context, msg *any.Any) (proto.Message, error) {
		var s wrappers.StringValue
		if err := ptypes.UnmarshalAny(msg, &s); err != nil {
			return nil, err
		}
		return &wrappers.StringValue{Value: s.Value + "!"}, nil
	})
	users.AddToMux(mux)
	events := processor.NewEventQueue(8)
	engine, err := ncp.New(ncp.DefaultConfig(), mux, ncp.WithEventSource(events))
	require.NoError(t, err)
	events.Wake = engine.TriggerNext
	tr := stream.New(engine, conn)
	engine.SetTransmitter(tr)
	ctx, cancel := context.WithCancel(context.TODO())
	t.Cleanup(cancel)
	go engine.Run(ctx)
	go tr.Run(ctx)
	return events
}

func startClient(t *testing.T, conn net.Conn) *Client {
	c := NewClient(conn, ncp.LittleEndian)
	ctx, cancel := context.WithCancel(context.TODO())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestClientWithTarget(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	events := startTarget(t, targetConn)
	c := startClient(t, hostConn)
	ctx := context.TODO()

	require.NoError(t, c.Hello(ctx))

	reply, err := c.SendUser(ctx, &wrappers.StringValue{Value: "ping"})
	require.NoError(t, err)
	var s wrappers.StringValue
	require.NoError(t, ptypes.UnmarshalAny(reply, &s))
	require.Equal(t, "ping!", s.Value)

	_, err = c.SendUser(ctx, &wrappers.BoolValue{Value: true})
	require.Equal(t, &ncp.ResultError{Result: ncp.ResultNotImplemented}, err)

	rsp, err := c.Do(ctx, ncp.MessageID{Class: 0x40, Method: 1}, []byte{1})
	require.NoError(t, err)
	require.Equal(t, ncp.ResultNotImplemented, rsp.Result)

	require.True(t, events.Post(ncp.BootEvent(ncp.LittleEndian, 1, 0, 0, 0)))
	select {
	case evt := <-c.Events():
		require.Equal(t, ncp.SystemBootEvent, evt.Header.ID())
		require.True(t, evt.Header.Event)
		require.Len(t, evt.Payload, 8)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

// fakeTarget reads a frame header and replies with the given bytes.
func fakeTarget(t *testing.T, conn net.Conn, replies ...[]byte) {
	go func() {
		hdr := make([]byte, ncp.HeaderSize)
		for _, reply := range replies {
			if _, err := io.ReadFull(conn, hdr); err != nil {
				return
			}
			body := make([]byte, ncp.LittleEndian.Decode(hdr).Length)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}()
}

func TestClientCommandIncomplete(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	fakeTarget(t, targetConn, ncp.ErrorEvent(ncp.LittleEndian, ncp.ResultCommandIncomplete, nil))
	c := startClient(t, hostConn)
	_, err := c.Do(context.TODO(), ncp.SystemHello, nil)
	require.Equal(t, &ncp.ResultError{Result: ncp.ResultCommandIncomplete}, err)
	evt := <-c.Events()
	require.Equal(t, ncp.SystemErrorEvent, evt.Header.ID())
}

func TestClientResponseMismatch(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	fakeTarget(t, targetConn, ncp.ErrorResponse(ncp.LittleEndian, ncp.Header{Class: 9, Method: 9}, ncp.ResultOK))
	c := startClient(t, hostConn)
	_, err := c.Do(context.TODO(), ncp.SystemHello, nil)
	require.Equal(t, &ResponseMismatchError{Expected: ncp.SystemHello, Actual: ncp.MessageID{Class: 9, Method: 9}}, err)
}

func TestClientTimeout(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	fakeTarget(t, targetConn, nil, ncp.ErrorResponse(ncp.LittleEndian, ncp.Header{Class: 1}, ncp.ResultOK))
	c := startClient(t, hostConn)
	c.Timeout = 20 * time.Millisecond
	_, err := c.Do(context.TODO(), ncp.SystemHello, nil)
	require.Equal(t, context.DeadlineExceeded, err)
	c.Timeout = time.Second
	require.NoError(t, c.Hello(context.TODO()))
}

func TestClientClosed(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	c := NewClient(hostConn, ncp.LittleEndian)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.TODO())
	}()
	targetConn.Close()
	require.Equal(t, io.EOF, <-done)
	_, ok := <-c.Events()
	require.False(t, ok)
	_, err := c.Do(context.TODO(), ncp.SystemHello, nil)
	require.Equal(t, ErrClosed, err)
}
