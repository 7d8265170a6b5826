package processor

import (
	"context"
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/any"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

// UserHandler handles a user message and returns the reply, which may be nil.
type UserHandler func(ctx context.Context, msg *any.Any) (proto.Message, error)

// UserMessages routes user messages to target by the full name of the
// protobuf message packed in the any.Any payload.
type UserMessages struct {
	handlers map[string]UserHandler
	lock     sync.RWMutex
}

// NewUserMessages creates UserMessages.
func NewUserMessages() *UserMessages {
	return &UserMessages{handlers: make(map[string]UserHandler)}
}

// Handle registers the handler of a message, e.g. "google.protobuf.StringValue".
func (u *UserMessages) Handle(name string, h UserHandler) *UserMessages {
	u.lock.Lock()
	u.handlers[name] = h
	u.lock.Unlock()
	return u
}

// HandleMessage registers the handler for the type of msg.
func (u *UserMessages) HandleMessage(msg proto.Message, h UserHandler) *UserMessages {
	return u.Handle(proto.MessageName(msg), h)
}

// AddToMux registers UserMessages as the handler of user messages to target.
func (u *UserMessages) AddToMux(m *Mux) {
	m.Handle(ncp.UserMessageToTarget, u.HandleCommand)
}

// HandleCommand is the HandlerFunc of user messages to target.
func (u *UserMessages) HandleCommand(ctx context.Context, cmd ncp.Command) ([]byte, error) {
	msg, err := DecodeUserPayload(cmd.Payload)
	if err != nil {
		return nil, &ncp.ResultError{Result: ncp.ResultInvalidCommand}
	}
	name, err := ptypes.AnyMessageName(msg)
	if err != nil {
		return nil, &ncp.ResultError{Result: ncp.ResultInvalidCommand}
	}
	u.lock.RLock()
	h := u.handlers[name]
	u.lock.RUnlock()
	if h == nil {
		return nil, &ncp.ResultError{Result: ncp.ResultNotImplemented}
	}
	reply, err := h(ctx, msg)
	if err != nil || reply == nil {
		return nil, err
	}
	return EncodeUserPayload(reply)
}

// EncodeUserPayload packs msg into the payload of a user message.
func EncodeUserPayload(msg proto.Message) ([]byte, error) {
	packed, err := ptypes.MarshalAny(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(packed)
}

// DecodeUserPayload unpacks the payload of a user message.
func DecodeUserPayload(payload []byte) (*any.Any, error) {
	var msg any.Any
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UserEvent builds a user message to host event carrying msg.
func UserEvent(codec ncp.HeaderCodec, msg proto.Message) ([]byte, error) {
	payload, err := EncodeUserPayload(msg)
	if err != nil {
		return nil, err
	}
	return ncp.Event(codec, ncp.UserMessageToHostEvt, payload), nil
}
