package transport

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

// WriteFunc writes one segment to the wire, it may block.
type WriteFunc func(segment []byte) error

// Sender is an asynchronous single-flight writer implementing
// ncp.Transmitter. Only one segment is written at a time, Transmit
// reports busy while a write is in flight.
type Sender struct {
	link  ncp.Link
	write WriteFunc
	busy  atomic.Bool
	wg    sync.WaitGroup

	errLock sync.Mutex
	err     error
}

// NewSender creates a Sender.
func NewSender(link ncp.Link, write WriteFunc) *Sender {
	return &Sender{link: link, write: write}
}

// Transmit implements ncp.Transmitter.
func (s *Sender) Transmit(segment []byte) bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go s.run(segment)
	return true
}

func (s *Sender) run(segment []byte) {
	if err := s.write(segment); err != nil {
		glog.Errorf("write segment of %d bytes error: %v", len(segment), err)
		s.errLock.Lock()
		s.err = err
		s.errLock.Unlock()
	}
	s.busy.Store(false)
	// the segment is released even on errors, otherwise the queue stalls.
	s.link.Transmitted()
	s.wg.Done()
}

// Wait implements ncp.TransmitWaiter. It blocks until the write in flight
// is confirmed to the link.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Busy indicates a write is in flight.
func (s *Sender) Busy() bool {
	return s.busy.Load()
}

// Err returns the last write error and clears it.
func (s *Sender) Err() error {
	s.errLock.Lock()
	defer s.errLock.Unlock()
	err := s.err
	s.err = nil
	return err
}
