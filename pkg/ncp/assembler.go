package ncp

import "sync"

// Assembler accumulates inbound bytes into a single command frame.
// It only holds one command as the protocol allows a single command
// in flight: once a frame is complete, further input is refused until
// the frame is consumed and the assembler is reset.
type Assembler struct {
	codec HeaderCodec
	buf   []byte

	filled         int
	awaitingHeader bool
	remaining      int
	fault          error

	lock sync.Mutex
}

// NewAssembler creates an Assembler holding frames up to maxFrameSize bytes.
func NewAssembler(codec HeaderCodec, maxFrameSize int) *Assembler {
	if maxFrameSize < codec.Size() {
		maxFrameSize = codec.Size()
	}
	a := &Assembler{codec: codec, buf: make([]byte, maxFrameSize)}
	a.reset()
	return a
}

// Reset discards any received data and waits for a new header.
func (a *Assembler) Reset() {
	a.lock.Lock()
	a.reset()
	a.lock.Unlock()
}

func (a *Assembler) reset() {
	a.filled = 0
	a.awaitingHeader = true
	a.remaining = a.codec.Size()
	a.fault = nil
}

// Ingest consumes bytes from a stream and returns the number of bytes
// accepted. At most the bytes needed to complete the current frame are
// accepted; the caller resubmits the rest after the frame is consumed.
// Nothing is accepted while a complete frame is pending.
func (a *Assembler) Ingest(data []byte) int {
	a.lock.Lock()
	defer a.lock.Unlock()
	if len(data) == 0 || a.complete() || a.fault != nil {
		return 0
	}
	var accepted int
	for len(data) > 0 && a.remaining > 0 {
		n := a.remaining
		if n > len(data) {
			n = len(data)
		}
		copy(a.buf[a.filled:], data[:n])
		a.filled += n
		accepted += n
		data = data[n:]
		if err := a.update(); err != nil {
			a.fault = err
			break
		}
	}
	return accepted
}

func (a *Assembler) update() error {
	size := a.codec.Size()
	if a.filled < size {
		a.awaitingHeader, a.remaining = true, size-a.filled
		return nil
	}
	a.awaitingHeader = false
	total := size + a.codec.Decode(a.buf[:size]).Length
	if total > len(a.buf) {
		a.remaining = 0
		return ErrOversizedFrame
	}
	a.remaining = total - a.filled
	return nil
}

// InjectFrame stores a whole frame delivered by a datagram transport and
// marks it complete.
func (a *Assembler) InjectFrame(frame []byte) error {
	size := a.codec.Size()
	if len(frame) > len(a.buf) {
		return ErrOversizedFrame
	}
	if len(frame) < size || FrameLen(a.codec, frame[:size]) != len(frame) {
		return ErrMalformedFrame
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.complete() {
		return ErrCommandPending
	}
	copy(a.buf, frame)
	a.filled = len(frame)
	a.awaitingHeader = false
	a.remaining = 0
	a.fault = nil
	return nil
}

// Complete indicates a full frame has been received.
func (a *Assembler) Complete() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.complete()
}

func (a *Assembler) complete() bool {
	return !a.awaitingHeader && a.remaining == 0 && a.fault == nil
}

// BytesExpected returns how many bytes move the assembler forward:
// the bytes remaining in the current phase, or a header when nothing
// is remaining.
func (a *Assembler) BytesExpected() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.remaining > 0 {
		return a.remaining
	}
	return a.codec.Size()
}

// Buffered returns the number of bytes held.
func (a *Assembler) Buffered() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.filled
}

// Fault returns the protocol error which stopped the assembler, if any.
func (a *Assembler) Fault() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.fault
}

// Claim returns the complete command. The payload references the receive
// buffer which stays untouched until Reset.
func (a *Assembler) Claim() (Command, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.complete() {
		return Command{}, false
	}
	size := a.codec.Size()
	return Command{
		Header:  a.codec.Decode(a.buf[:size]),
		Payload: a.buf[size:a.filled],
	}, true
}

// Abort discards a partially received frame. It returns false if there is
// nothing to discard; a complete frame is never discarded.
func (a *Assembler) Abort() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.filled == 0 || a.complete() || a.fault != nil {
		return false
	}
	a.reset()
	return true
}
