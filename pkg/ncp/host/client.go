// Package host is the host side of the protocol: it sends commands to a
// target and receives responses and events.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/any"

	fx "github.com/robotalks/ncp.go/pkg/framework"
	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/processor"
)

var (
	// ErrClosed indicates the connection is closed.
	ErrClosed = errors.New("connection closed")
)

// ResponseMismatchError indicates a response doesn't match the command.
type ResponseMismatchError struct {
	Expected ncp.MessageID
	Actual   ncp.MessageID
}

// Error implements error.
func (e *ResponseMismatchError) Error() string {
	return fmt.Sprintf("response %s doesn't match command %s", e.Actual, e.Expected)
}

// Response is a decoded response.
type Response struct {
	Header ncp.Header
	Result ncp.Result
	Data   []byte
}

// Err returns a *ncp.ResultError if the result is not OK.
func (r *Response) Err() error {
	if r.Result == ncp.ResultOK {
		return nil
	}
	return &ncp.ResultError{Result: r.Result}
}

// Event is a received event.
type Event struct {
	Header  ncp.Header
	Payload []byte
}

// DefaultTimeout is the default time waiting for a response.
const DefaultTimeout = time.Second

// DefaultEventBacklog is the default number of events buffered.
const DefaultEventBacklog = 64

type inflight struct {
	id     ncp.MessageID
	result chan inflightResult
}

type inflightResult struct {
	rsp *Response
	err error
}

// Client talks to a target over a byte stream.
// Only one command is in flight at a time.
type Client struct {
	Codec   ncp.HeaderCodec
	Timeout time.Duration

	conn    io.ReadWriter
	events  chan Event
	cmdLock sync.Mutex

	lock    sync.Mutex
	current *inflight
	closed  bool
}

// NewClient creates a Client.
func NewClient(conn io.ReadWriter, codec ncp.HeaderCodec) *Client {
	return &Client{
		Codec:   codec,
		Timeout: DefaultTimeout,
		conn:    conn,
		events:  make(chan Event, DefaultEventBacklog),
	}
}

// Events returns the channel of events, closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run implements framework.Runnable. It reads frames until ctx is done or
// the connection fails.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()
	if closer, ok := c.conn.(io.Closer); ok {
		return fx.RunWithContextCloser(ctx, closer, c.readLoop)
	}
	return fx.RunWithContext(ctx, c.readLoop)
}

func (c *Client) readLoop() error {
	hdrBuf := make([]byte, c.Codec.Size())
	for {
		if _, err := io.ReadFull(c.conn, hdrBuf); err != nil {
			return err
		}
		hdr := c.Codec.Decode(hdrBuf)
		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return err
		}
		if hdr.Event {
			c.handleEvent(hdr, payload)
		} else {
			c.handleResponse(hdr, payload)
		}
	}
}

func (c *Client) shutdown() {
	c.lock.Lock()
	c.closed = true
	if f := c.current; f != nil {
		c.current = nil
		f.result <- inflightResult{err: ErrClosed}
	}
	c.lock.Unlock()
	close(c.events)
}

func (c *Client) complete(res inflightResult) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	f := c.current
	if f == nil {
		return false
	}
	c.current = nil
	if res.rsp != nil && res.rsp.Header.ID() != f.id {
		res = inflightResult{err: &ResponseMismatchError{Expected: f.id, Actual: res.rsp.Header.ID()}}
	}
	f.result <- res
	return true
}

func (c *Client) handleResponse(hdr ncp.Header, payload []byte) {
	result, data, err := ncp.ParseResult(payload)
	var res inflightResult
	if err != nil {
		res.err = err
	} else {
		res.rsp = &Response{Header: hdr, Result: result, Data: data}
	}
	if !c.complete(res) {
		glog.Warningf("unexpected response %s", hdr.ID())
	}
}

func (c *Client) handleEvent(hdr ncp.Header, payload []byte) {
	if hdr.ID() == ncp.SystemErrorEvent {
		result, _, err := ncp.ParseErrorEvent(payload)
		if err == nil && result == ncp.ResultCommandIncomplete {
			// the target discarded the partial command in flight.
			c.complete(inflightResult{err: &ncp.ResultError{Result: result}})
		}
	}
	select {
	case c.events <- Event{Header: hdr, Payload: payload}:
	default:
		glog.Warningf("event %s dropped, backlog full", hdr.ID())
	}
}

// Do sends a command and waits for the response. Concurrent calls are
// serialized.
func (c *Client) Do(ctx context.Context, id ncp.MessageID, payload []byte) (*Response, error) {
	c.cmdLock.Lock()
	defer c.cmdLock.Unlock()

	f := &inflight{id: id, result: make(chan inflightResult, 1)}
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, ErrClosed
	}
	c.current = f
	c.lock.Unlock()

	frame := ncp.EncodeFrame(c.Codec, ncp.Header{Class: id.Class, Method: id.Method}, payload)
	if _, err := c.conn.Write(frame); err != nil {
		c.abandon(f)
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-f.result:
		return res.rsp, res.err
	case <-ctx.Done():
		c.abandon(f)
		return nil, ctx.Err()
	case <-timer.C:
		c.abandon(f)
		return nil, context.DeadlineExceeded
	}
}

func (c *Client) abandon(f *inflight) {
	c.lock.Lock()
	if c.current == f {
		c.current = nil
	}
	c.lock.Unlock()
}

// Hello sends system hello.
func (c *Client) Hello(ctx context.Context) error {
	rsp, err := c.Do(ctx, ncp.SystemHello, nil)
	if err != nil {
		return err
	}
	return rsp.Err()
}

// SendUser sends a user message to target and returns the reply, which is
// nil if the target replies nothing.
func (c *Client) SendUser(ctx context.Context, msg proto.Message) (*any.Any, error) {
	payload, err := processor.EncodeUserPayload(msg)
	if err != nil {
		return nil, err
	}
	rsp, err := c.Do(ctx, ncp.UserMessageToTarget, payload)
	if err != nil {
		return nil, err
	}
	if err = rsp.Err(); err != nil || len(rsp.Data) == 0 {
		return nil, err
	}
	return processor.DecodeUserPayload(rsp.Data)
}
