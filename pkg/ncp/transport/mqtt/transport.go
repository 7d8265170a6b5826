package mqtt

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/transport"
)

// Topic suffixes
const (
	CmdTopic = "cmd"
	MsgTopic = "msg"
)

// DefaultBacklog is the number of command frames buffered between the
// MQTT client and the engine.
const DefaultBacklog = 16

// CmdTopicOf returns the command topic of a device.
func CmdTopicOf(device string) string {
	return device + "/" + CmdTopic
}

// MsgTopicOf returns the message topic of a device.
func MsgTopicOf(device string) string {
	return device + "/" + MsgTopic
}

// Transport is the target side: command frames are received from the
// command topic and transmit segments are published to the message topic.
type Transport struct {
	*transport.Datagram

	Queue   *Queue
	Device  string
	Backlog int
	// OnFrame is called after a command frame is delivered or dropped.
	OnFrame func(size int, err error)
}

// NewTransport creates a Transport.
func NewTransport(link ncp.Link, q *Queue, device string) *Transport {
	t := &Transport{Queue: q, Device: device, Backlog: DefaultBacklog}
	t.Datagram = transport.NewDatagram(link, t.publish)
	return t
}

func (t *Transport) publish(seg []byte) error {
	token := t.Queue.Pub(MsgTopicOf(t.Device), seg)
	token.Wait()
	return token.Error()
}

// Run implements framework.Runnable.
func (t *Transport) Run(ctx context.Context) error {
	backlog := t.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	frameCh := make(chan []byte, backlog)
	sub := t.Queue.Sub(CmdTopicOf(t.Device), func(_ string, payload []byte) {
		// paho callbacks must not block.
		select {
		case frameCh <- payload:
		default:
			glog.Warningf("command backlog full, drop frame of %d bytes", len(payload))
		}
	})
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-frameCh:
			err := t.Feed(ctx, frame)
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			if h := t.OnFrame; h != nil {
				h(len(frame), err)
			}
		}
	}
}

// HostConn is the host side as an io.ReadWriteCloser: each Write publishes a
// command frame and Read returns the target's byte stream.
type HostConn struct {
	queue  *Queue
	device string
	sub    *Subscription

	lock   sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// NewHostConn subscribes the message topic of device.
func NewHostConn(q *Queue, device string) (*HostConn, error) {
	c := &HostConn{queue: q, device: device}
	c.cond = sync.NewCond(&c.lock)
	c.sub = q.Sub(MsgTopicOf(device), c.handleMsg)
	c.sub.Token.Wait()
	if err := c.sub.Token.Error(); err != nil {
		c.sub.Close()
		return nil, err
	}
	return c, nil
}

func (c *HostConn) handleMsg(_ string, payload []byte) {
	c.lock.Lock()
	c.buf = append(c.buf, payload...)
	c.lock.Unlock()
	c.cond.Broadcast()
}

// Read implements io.Reader.
func (c *HostConn) Read(p []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for len(c.buf) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write implements io.Writer. p must be a whole command frame.
func (c *HostConn) Write(p []byte) (int, error) {
	token := c.queue.Pub(CmdTopicOf(c.device), p)
	token.Wait()
	if err := token.Error(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (c *HostConn) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.lock.Unlock()
	c.cond.Broadcast()
	return c.sub.Close()
}
