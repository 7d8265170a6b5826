// Package stream attaches an engine to a byte stream, like a serial device
// or a TCP connection.
package stream

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/transport"
)

// Defaults
const (
	DefaultRxTimeout  = 50 * time.Millisecond
	DefaultReadBuffer = 256
)

// Transport implements ncp.Transmitter over an io.ReadWriter.
type Transport struct {
	// RxTimeout is the idle time after which a partially received command
	// is discarded.
	RxTimeout time.Duration
	// ReadBuffer is the size of a single read.
	ReadBuffer int

	link    ncp.Link
	conn    io.ReadWriter
	sender  *transport.Sender
	readyCh chan struct{}
}

// New creates a Transport.
func New(link ncp.Link, conn io.ReadWriter) *Transport {
	t := &Transport{
		RxTimeout:  DefaultRxTimeout,
		ReadBuffer: DefaultReadBuffer,
		link:       link,
		conn:       conn,
		readyCh:    make(chan struct{}, 1),
	}
	t.sender = transport.NewSender(link, t.write)
	return t
}

func (t *Transport) write(seg []byte) error {
	_, err := t.conn.Write(seg)
	return err
}

// Transmit implements ncp.Transmitter.
func (t *Transport) Transmit(seg []byte) bool {
	return t.sender.Transmit(seg)
}

// ReceiveReady implements ncp.ReceiveReadyNotifier.
func (t *Transport) ReceiveReady() {
	select {
	case t.readyCh <- struct{}{}:
	default:
	}
}

// Wait implements ncp.TransmitWaiter.
func (t *Transport) Wait() {
	t.sender.Wait()
}

// Err returns the last write error.
func (t *Transport) Err() error {
	return t.sender.Err()
}

// Run reads from the stream and feeds the engine until ctx is done or the
// stream fails. Bytes the engine doesn't accept are held until it's ready
// for the next command, meanwhile nothing is read from the stream.
func (t *Transport) Run(ctx context.Context) error {
	dataCh := make(chan []byte)
	errCh := make(chan error, 1)
	go t.readLoop(ctx, dataCh, errCh)

	var held []byte
	var timeout <-chan time.Time
	for {
		if len(held) > 0 {
			n := t.link.Ingest(held)
			held = held[n:]
			if n > 0 && t.RxTimeout > 0 {
				timeout = time.After(t.RxTimeout)
			}
		}
		recvCh := dataCh
		if len(held) > 0 {
			recvCh = nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case held = <-recvCh:
			glog.V(4).Infof("RCV %d bytes", len(held))
		case <-t.readyCh:
		case <-timeout:
			timeout = nil
			t.link.ReceiveTimeout()
		}
	}
}

// readSize returns the number of bytes the engine expects next, limited
// by ReadBuffer.
func (t *Transport) readSize() int {
	size := t.ReadBuffer
	if size <= 0 {
		size = DefaultReadBuffer
	}
	if n := t.link.BytesExpected(); n > 0 && n < size {
		return n
	}
	return size
}

func (t *Transport) readLoop(ctx context.Context, dataCh chan<- []byte, errCh chan<- error) {
	for {
		buf := make([]byte, t.readSize())
		n, err := t.conn.Read(buf)
		if n > 0 {
			select {
			case dataCh <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				glog.Errorf("read error: %v", err)
			}
			errCh <- err
			return
		}
	}
}
