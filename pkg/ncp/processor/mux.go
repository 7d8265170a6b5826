// Package processor provides command processors for the engine.
package processor

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

// HandlerFunc handles a command and returns the response data.
// A returned error is converted to the result code of the response,
// see ncp.ResultFrom.
type HandlerFunc func(ctx context.Context, cmd ncp.Command) ([]byte, error)

// Mux dispatches commands to handlers by message ID.
// Commands without a handler get a NotImplemented response.
type Mux struct {
	// MaxFrameSize limits the size of a response, 0 for no limit.
	MaxFrameSize int

	codec    ncp.HeaderCodec
	handlers map[ncp.MessageID]HandlerFunc
	lock     sync.RWMutex
}

// NewMux creates a Mux with the system hello handler.
func NewMux(codec ncp.HeaderCodec) *Mux {
	m := &Mux{codec: codec, handlers: make(map[ncp.MessageID]HandlerFunc)}
	m.Handle(ncp.SystemHello, Hello)
	return m
}

// Hello handles system hello, it only responds OK.
func Hello(context.Context, ncp.Command) ([]byte, error) {
	return nil, nil
}

// Handle registers a handler, replacing the existing one.
func (m *Mux) Handle(id ncp.MessageID, h HandlerFunc) *Mux {
	m.lock.Lock()
	m.handlers[id] = h
	m.lock.Unlock()
	return m
}

// Process implements ncp.Processor.
func (m *Mux) Process(ctx context.Context, cmd ncp.Command) []byte {
	m.lock.RLock()
	h := m.handlers[cmd.Header.ID()]
	m.lock.RUnlock()
	if h == nil {
		glog.V(2).Infof("command %s not implemented", cmd.Header.ID())
		return ncp.ErrorResponse(m.codec, cmd.Header, ncp.ResultNotImplemented)
	}
	data, err := h(ctx, cmd)
	if err != nil {
		result := ncp.ResultFrom(err)
		glog.V(2).Infof("command %s error %s: %v", cmd.Header.ID(), result, err)
		return ncp.ErrorResponse(m.codec, cmd.Header, result)
	}
	rsp := ncp.Response(m.codec, cmd.Header, ncp.ResultOK, data)
	if m.MaxFrameSize > 0 && len(rsp) > m.MaxFrameSize {
		glog.Errorf("command %s: response of %d bytes exceeds %d", cmd.Header.ID(), len(rsp), m.MaxFrameSize)
		return ncp.ErrorResponse(m.codec, cmd.Header, ncp.ResultUnspecified)
	}
	return rsp
}
