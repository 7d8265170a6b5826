package transport

import (
	"context"

	"github.com/golang/glog"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

// Feeder delivers whole command frames from a datagram transport, one
// message per frame. A frame arriving while a command is pending waits
// until the engine releases the receive slot.
type Feeder struct {
	link    ncp.Link
	readyCh chan struct{}
}

// NewFeeder creates a Feeder.
func NewFeeder(link ncp.Link) *Feeder {
	return &Feeder{link: link, readyCh: make(chan struct{}, 1)}
}

// ReceiveReady implements ncp.ReceiveReadyNotifier.
func (f *Feeder) ReceiveReady() {
	select {
	case f.readyCh <- struct{}{}:
	default:
	}
}

// Feed injects a frame. Malformed and oversized frames are dropped and the
// error is returned.
func (f *Feeder) Feed(ctx context.Context, frame []byte) error {
	for {
		err := f.link.InjectFrame(frame)
		switch err {
		case nil:
			return nil
		case ncp.ErrCommandPending:
		default:
			glog.Warningf("drop frame of %d bytes: %v", len(frame), err)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.readyCh:
		}
	}
}

// Datagram is the transmitter of datagram transports.
type Datagram struct {
	*Sender
	*Feeder
}

// NewDatagram creates a Datagram.
func NewDatagram(link ncp.Link, write WriteFunc) *Datagram {
	return &Datagram{Sender: NewSender(link, write), Feeder: NewFeeder(link)}
}
