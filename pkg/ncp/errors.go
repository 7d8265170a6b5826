package ncp

import (
	"errors"
	"fmt"
)

var (
	// ErrOversizedFrame indicates a header declared a body which can't fit
	// into the receive buffer.
	ErrOversizedFrame = errors.New("oversized frame")
	// ErrResponseQueueFull indicates a response can't be queued. The reserved
	// capacity of the transmit queue makes this unreachable when the engine is
	// sized correctly, so it is reported as fatal.
	ErrResponseQueueFull = errors.New("transmit queue full for response")
	// ErrCommandPending indicates a previously received command has not been
	// consumed yet.
	ErrCommandPending = errors.New("command pending")
	// ErrMalformedFrame indicates a frame whose length disagrees with its header.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNoTransmitter indicates the engine runs without a transmitter.
	ErrNoTransmitter = errors.New("no transmitter")
)

// FatalError is an unrecoverable invariant violation which stops the engine.
type FatalError struct {
	Err error
}

// Error implements error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("ncp fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// ResultError carries a protocol result code.
type ResultError struct {
	Result Result
}

// Error implements error.
func (e *ResultError) Error() string {
	return fmt.Sprintf("result 0x%04x (%s)", uint16(e.Result), e.Result)
}

// ResultFrom extracts the result code from an error.
// Errors not carrying a result map to ResultUnspecified.
func ResultFrom(err error) Result {
	if err == nil {
		return ResultOK
	}
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result
	}
	return ResultUnspecified
}
