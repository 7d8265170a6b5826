// Package websocket serves the engine to a host over a WebSocket.
package websocket

import (
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/transport"
)

// Engine is the engine surface used by Transport. Each host connection is
// a session with its own transmitter.
type Engine interface {
	ncp.Link
	SetTransmitter(ncp.Transmitter)
}

// Transport implements ncp.Transmitter and http.Handler.
// One host is served at a time, each binary message it sends is a command
// frame and each transmit segment goes out as a binary message.
// Transport itself is the transmitter while no host is connected, and it
// discards segments.
type Transport struct {
	*transport.Datagram

	// OnConnect is called after a host session starts and before its
	// first command is received.
	OnConnect func()

	engine Engine
	lock   sync.Mutex
	conn   *websocket.Conn
}

// New creates a Transport.
func New(engine Engine) *Transport {
	return &Transport{
		Datagram: transport.NewDatagram(engine, discard),
		engine:   engine,
	}
}

func discard([]byte) error {
	return nil
}

// Connected indicates a host is connected.
func (t *Transport) Connected() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.conn != nil
}

// ServeHTTP implements http.Handler.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.Connected() {
		http.Error(w, "host already connected", http.StatusConflict)
		return
	}
	websocket.Server{Handler: t.serve}.ServeHTTP(w, r)
}

func (t *Transport) serve(conn *websocket.Conn) {
	t.lock.Lock()
	if t.conn != nil {
		t.lock.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.lock.Unlock()
	glog.Infof("host connected: %s", conn.Request().RemoteAddr)

	session := transport.NewDatagram(t.engine, func(seg []byte) error {
		return websocket.Message.Send(conn, seg)
	})
	t.engine.SetTransmitter(session)
	if t.OnConnect != nil {
		t.OnConnect()
	}

	defer func() {
		conn.Close()
		// back to discarding, nothing of this session reaches the next host.
		t.engine.SetTransmitter(t)
		t.lock.Lock()
		t.conn = nil
		t.lock.Unlock()
		glog.Infof("host disconnected: %s", conn.Request().RemoteAddr)
	}()

	ctx := conn.Request().Context()
	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			glog.V(2).Infof("receive error: %v", err)
			return
		}
		if err := session.Feed(ctx, frame); err != nil && ctx.Err() != nil {
			return
		}
	}
}
