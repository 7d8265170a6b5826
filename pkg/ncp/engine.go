package ncp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Processor handles a command and returns exactly one response frame.
type Processor interface {
	Process(context.Context, Command) []byte
}

// ProcessFunc is func form of Processor.
type ProcessFunc func(context.Context, Command) []byte

// Process implements Processor.
func (f ProcessFunc) Process(ctx context.Context, cmd Command) []byte {
	return f(ctx, cmd)
}

// EventSource produces outbound event frames.
type EventSource interface {
	// PollEvent returns the next event, false if there's none.
	PollEvent() ([]byte, bool)
}

// LocalHandler handles events on the target. Events it handles are not
// forwarded to the host.
type LocalHandler func(evt []byte) bool

// Transmitter is the outbound side of a transport.
type Transmitter interface {
	// Transmit starts sending a segment, returns false if the transport is
	// busy. The segment stays valid until the transport calls
	// Link.Transmitted for it.
	Transmit(segment []byte) bool
}

// ReceiveReadyNotifier is implemented by transmitters which want to know
// when the engine accepts the next command.
type ReceiveReadyNotifier interface {
	ReceiveReady()
}

// TransmitWaiter is implemented by transmitters which confirm segments
// asynchronously. Wait blocks until every segment handed to the transmitter
// is confirmed.
type TransmitWaiter interface {
	Wait()
}

// Link is the engine surface exposed to transports.
type Link interface {
	// Ingest feeds stream bytes, returns the number of bytes accepted.
	Ingest([]byte) int
	// InjectFrame delivers a whole command frame.
	InjectFrame([]byte) error
	// BytesExpected is the number of bytes to read next.
	BytesExpected() int
	// ReceiveTimeout reports the link went idle in the middle of a frame.
	ReceiveTimeout()
	// Transmitted confirms a segment left the wire.
	Transmitted()
	// TriggerNext wakes up the dispatch loop.
	TriggerNext()
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventSource sets the source of outbound events.
func WithEventSource(src EventSource) Option {
	return func(e *Engine) { e.events = src }
}

// WithLocalHandler sets the handler for events consumed on the target.
func WithLocalHandler(h LocalHandler) Option {
	return func(e *Engine) { e.local = h }
}

// WithObserver sets the Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine is the protocol engine. It owns the receive assembler and the
// transmit queue of one transport and runs the dispatch loop.
type Engine struct {
	config   Config
	codec    HeaderCodec
	rx       *Assembler
	tx       *TxQueue
	proc     Processor
	events   EventSource
	local    LocalHandler
	observer Observer

	transmitter Transmitter
	lock        sync.RWMutex
	stepLock    sync.Mutex

	incomplete atomic.Bool
	dropped    atomic.Uint64
	wakeUpCh   chan struct{}
}

// New creates an Engine.
func New(config Config, proc Processor, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	e := &Engine{
		config:   config,
		codec:    config.codec(),
		proc:     proc,
		observer: NopObserver{},
		wakeUpCh: make(chan struct{}, 1),
	}
	e.rx = NewAssembler(e.codec, config.MaxFrameSize)
	e.tx = NewTxQueue(config.QueueLen, config.SegmentSize, config.QueueReserved)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Codec returns the header codec.
func (e *Engine) Codec() HeaderCodec {
	return e.codec
}

// Config returns the configuration.
func (e *Engine) Config() Config {
	return e.config
}

// SetTransmitter attaches the transport and resets both queues. It starts
// a new session: a detached transmitter implementing TransmitWaiter is
// waited for, so its confirmations never land on the new session.
// The dispatch loop doesn't step during the switch.
func (e *Engine) SetTransmitter(t Transmitter) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()
	if w, ok := e.getTransmitter().(TransmitWaiter); ok {
		w.Wait()
	}
	e.lock.Lock()
	e.transmitter = t
	e.lock.Unlock()
	e.rx.Reset()
	e.tx.Reset()
}

func (e *Engine) getTransmitter() Transmitter {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.transmitter
}

// Ingest implements Link.
func (e *Engine) Ingest(data []byte) int {
	n := e.rx.Ingest(data)
	if n > 0 && (e.rx.Complete() || e.rx.Fault() != nil) {
		e.TriggerNext()
	}
	return n
}

// InjectFrame implements Link.
func (e *Engine) InjectFrame(frame []byte) error {
	if err := e.rx.InjectFrame(frame); err != nil {
		return err
	}
	e.TriggerNext()
	return nil
}

// BytesExpected implements Link.
func (e *Engine) BytesExpected() int {
	return e.rx.BytesExpected()
}

// ReceiveTimeout implements Link.
func (e *Engine) ReceiveTimeout() {
	if e.rx.Abort() {
		e.incomplete.Store(true)
		e.TriggerNext()
	}
}

// Transmitted implements Link.
func (e *Engine) Transmitted() {
	e.tx.ConfirmTransmitted()
	e.TriggerNext()
}

// TriggerNext implements Link.
func (e *Engine) TriggerNext() {
	select {
	case e.wakeUpCh <- struct{}{}:
	default:
	}
}

// CommandPending indicates a complete command waits for processing.
func (e *Engine) CommandPending() bool {
	return e.rx.Complete()
}

// PendingOutbound returns the number of segments not yet sent.
func (e *Engine) PendingOutbound() int {
	return e.tx.Pending()
}

// DroppedEvents returns the number of events dropped for lack of space.
func (e *Engine) DroppedEvents() uint64 {
	return e.dropped.Load()
}

// Enqueue queues an event frame. It returns false if the event tier of
// the transmit queue is full and the event is dropped.
func (e *Engine) Enqueue(evt []byte) bool {
	if !e.tx.Enqueue(evt, false) {
		e.dropped.Add(1)
		e.observer.EventDropped(len(evt))
		glog.V(2).Infof("event dropped: %d bytes", len(evt))
		return false
	}
	e.observer.EventQueued(len(evt))
	return true
}

// Step runs one iteration of the dispatch loop: handle the pending
// command, collect events, and transmit.
func (e *Engine) Step(ctx context.Context) error {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()
	if err := e.rx.Fault(); err != nil {
		glog.Errorf("receive fault: %v", err)
		return &FatalError{Err: err}
	}
	if e.incomplete.Swap(false) {
		glog.Warning("command receive timeout")
		e.observer.ReceiveTimeout()
		e.Enqueue(ErrorEvent(e.codec, ResultCommandIncomplete, nil))
	}
	if err := e.handleCommand(ctx); err != nil {
		return err
	}
	e.pollEvents()
	e.transmit()
	e.observer.QueueDepth(e.tx.Pending(), e.tx.Used())
	return nil
}

// Run runs the dispatch loop until ctx is done or a fatal error happens.
// The loop only waits when no command is pending.
func (e *Engine) Run(ctx context.Context) error {
	if e.getTransmitter() == nil {
		return ErrNoTransmitter
	}
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()
	for {
		if err := e.Step(ctx); err != nil {
			return err
		}
		if e.rx.Complete() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wakeUpCh:
		case <-ticker.C:
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context) error {
	cmd, ok := e.rx.Claim()
	if !ok {
		return nil
	}
	start := time.Now()
	rsp := e.proc.Process(ctx, cmd)
	if rsp == nil {
		glog.Errorf("command %s: no response from processor", cmd.Header.ID())
		rsp = ErrorResponse(e.codec, cmd.Header, ResultNotImplemented)
	}
	if !e.tx.Enqueue(rsp, true) {
		glog.Errorf("command %s: response of %d bytes can't be queued", cmd.Header.ID(), len(rsp))
		return &FatalError{Err: ErrResponseQueueFull}
	}
	e.observer.CommandProcessed(cmd.Header.ID(), time.Since(start))
	glog.V(3).Infof("command %s processed in %s", cmd.Header.ID(), time.Since(start))
	e.rx.Reset()
	if n, ok := e.getTransmitter().(ReceiveReadyNotifier); ok {
		n.ReceiveReady()
	}
	return nil
}

func (e *Engine) pollEvents() {
	if e.events == nil {
		return
	}
	// stop as soon as a command arrives, it is handled first.
	for !e.rx.Complete() {
		evt, ok := e.events.PollEvent()
		if !ok {
			break
		}
		if h := e.local; h != nil && h(evt) {
			continue
		}
		e.Enqueue(evt)
	}
}

func (e *Engine) transmit() {
	t := e.getTransmitter()
	if t == nil {
		return
	}
	for {
		seg, ok := e.tx.Peek()
		if !ok || !t.Transmit(seg) {
			return
		}
		e.tx.ConfirmSent()
	}
}
