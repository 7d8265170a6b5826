package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/any"
	"github.com/golang/protobuf/ptypes/empty"
	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fx "github.com/robotalks/ncp.go/pkg/framework"
	"github.com/robotalks/ncp.go/pkg/env"
	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/metrics"
	"github.com/robotalks/ncp.go/pkg/ncp/processor"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/mqtt"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/stream"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/websocket"
)

// EventBacklog is the number of events buffered before the engine polls them.
const EventBacklog = 32

// Env is the runtime of the target daemon.
type Env struct {
	Config   *Config
	Engine   *ncp.Engine
	Mux      *processor.Mux
	Users    *processor.UserMessages
	Events   *processor.EventQueue
	Registry *prometheus.Registry

	version [4]uint16
	started time.Time
	// hostConnected is set by transports which know whether a host is
	// listening.
	hostConnected func() bool
}

// NewEnv creates Env from config.
func (c *Config) NewEnv() (*Env, error) {
	version, err := c.ParseVersion()
	if err != nil {
		return nil, err
	}
	codec := c.Engine.Codec
	if codec == nil {
		codec = ncp.LittleEndian
	}
	e := &Env{
		Config:   c,
		Mux:      processor.NewMux(codec),
		Users:    processor.NewUserMessages(),
		Events:   processor.NewEventQueue(EventBacklog),
		Registry: prometheus.NewRegistry(),
		version:  version,
		started:  time.Now(),
	}
	e.Mux.MaxFrameSize = c.Engine.MaxFrameSize
	e.Users.
		HandleMessage(&wrappers.StringValue{}, e.echo).
		HandleMessage(&empty.Empty{}, e.uptime).
		AddToMux(e.Mux)

	e.Registry.MustRegister(collectors.NewGoCollector())
	observer := metrics.New(
		metrics.WithRegistry(e.Registry),
		metrics.WithConstLabels(prometheus.Labels{"transport": c.Transport}))
	if e.Engine, err = ncp.New(c.Engine, e.Mux,
		ncp.WithEventSource(e.Events),
		ncp.WithLocalHandler(e.handleLocal),
		ncp.WithObserver(observer)); err != nil {
		return nil, err
	}
	e.Events.Wake = e.Engine.TriggerNext
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	e, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return e
}

func (e *Env) echo(ctx context.Context, msg *any.Any) (proto.Message, error) {
	var str wrappers.StringValue
	if err := ptypes.UnmarshalAny(msg, &str); err != nil {
		return nil, &ncp.ResultError{Result: ncp.ResultInvalidCommand}
	}
	return &str, nil
}

func (e *Env) uptime(ctx context.Context, msg *any.Any) (proto.Message, error) {
	return ptypes.DurationProto(time.Since(e.started)), nil
}

// handleLocal consumes events while no host is connected, so they don't
// take transmit queue space.
func (e *Env) handleLocal(evt []byte) bool {
	if e.hostConnected == nil || e.hostConnected() {
		return false
	}
	glog.V(2).Infof("no host, event %s consumed locally", e.Engine.Codec().Decode(evt).ID())
	return true
}

// Boot posts the boot event.
func (e *Env) Boot() {
	v := e.version
	e.Events.Post(ncp.BootEvent(e.Engine.Codec(), v[0], v[1], v[2], v[3]))
}

// Notify sends msg to the host as a user event.
func (e *Env) Notify(msg proto.Message) error {
	evt, err := processor.UserEvent(e.Engine.Codec(), msg)
	if err != nil {
		return err
	}
	if !e.Events.Post(evt) {
		return fmt.Errorf("event backlog full")
	}
	return nil
}

// Run implements framework.Runnable.
func (e *Env) Run(ctx context.Context) error {
	runners := []fx.Runnable{fx.RunFunc(e.runTransport)}
	if e.Config.MetricsAddr != "" {
		runners = append(runners, fx.RunFunc(e.serveMetrics))
	}
	return fx.RunAny(ctx, runners...)
}

func (e *Env) runTransport(ctx context.Context) error {
	switch e.Config.Transport {
	case TransportSerial:
		port, err := env.OpenSerial(e.Config.SerialPort, e.Config.BaudRate)
		if err != nil {
			return err
		}
		glog.Infof("serving on %s", e.Config.SerialPort)
		return e.RunStream(ctx, port)
	case TransportTCP:
		ln, err := net.Listen("tcp", e.Config.ListenAddr)
		if err != nil {
			return err
		}
		return e.ServeTCP(ctx, ln)
	case TransportWebSocket:
		ln, err := net.Listen("tcp", e.Config.ListenAddr)
		if err != nil {
			return err
		}
		return e.ServeWebSocket(ctx, ln)
	case TransportMQTT:
		q, err := mqtt.NewQueueFromURL(e.Config.MQTTBrokerURL)
		if err != nil {
			return err
		}
		if err = q.Connect(); err != nil {
			return fmt.Errorf("connect MQTT broker: %w", err)
		}
		defer q.Close()
		return e.RunMQTT(ctx, q)
	}
	return fmt.Errorf("unknown transport %q", e.Config.Transport)
}

// RunStream serves the host over a byte stream until either the stream or
// the engine stops. conn is closed on return.
func (e *Env) RunStream(ctx context.Context, conn io.ReadWriteCloser) error {
	t := stream.New(e.Engine, conn)
	t.RxTimeout = e.Config.RxTimeout
	e.Engine.SetTransmitter(t)
	e.Boot()
	return fx.RunWithContextCloser(ctx, conn, func() error {
		return fx.RunAny(ctx, e.Engine, t)
	})
}

// ServeTCP accepts one host connection at a time from ln. A session ends
// when the host disconnects or the engine fails, then the next host is
// accepted.
func (e *Env) ServeTCP(ctx context.Context, ln net.Listener) error {
	glog.Infof("listening on %s", ln.Addr())
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			glog.Infof("host connected: %s", conn.RemoteAddr())
			err = e.RunStream(ctx, conn)
			var fatal *ncp.FatalError
			switch {
			case errors.As(err, &fatal):
				glog.Errorf("session reset: %v", err)
			case err != nil && err != io.EOF && ctx.Err() == nil:
				glog.Warningf("session error: %v", err)
			}
			glog.Infof("host disconnected: %s", conn.RemoteAddr())
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})
}

// ServeWebSocket serves hosts over WebSocket on ln.
func (e *Env) ServeWebSocket(ctx context.Context, ln net.Listener) error {
	t := websocket.New(e.Engine)
	t.OnConnect = e.Boot
	e.hostConnected = t.Connected
	e.Engine.SetTransmitter(t)
	srv := &http.Server{Handler: t}
	glog.Infof("websocket listening on %s", ln.Addr())
	return fx.RunAny(ctx, e.Engine, fx.RunFunc(func(ctx context.Context) error {
		return fx.RunWithContextCancel(ctx, func() { srv.Close() }, func() error {
			return srv.Serve(ln)
		})
	}))
}

// RunMQTT serves hosts over the MQTT queue.
func (e *Env) RunMQTT(ctx context.Context, q *mqtt.Queue) error {
	t := mqtt.NewTransport(e.Engine, q, e.Config.DeviceID)
	t.OnFrame = func(size int, err error) {
		if err != nil {
			glog.Warningf("command frame of %d bytes dropped: %v", size, err)
		}
	}
	e.Engine.SetTransmitter(t)
	e.Boot()
	glog.Infof("serving device %s on %s", e.Config.DeviceID, e.Config.MQTTBrokerURL)
	return fx.RunAny(ctx, e.Engine, t)
}

func (e *Env) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: e.Config.MetricsAddr, Handler: mux}
	glog.Infof("metrics on %s", e.Config.MetricsAddr)
	return fx.RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
}
