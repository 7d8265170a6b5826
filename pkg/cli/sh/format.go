package sh

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/any"
	"github.com/golang/protobuf/ptypes/empty"
	"github.com/golang/protobuf/ptypes/wrappers"

	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/host"
	"github.com/robotalks/ncp.go/pkg/ncp/processor"
)

// UserMessageKinds lists the kinds accepted by NewUserMessage.
var UserMessageKinds = []string{"string", "int", "uint", "bool", "bytes", "empty"}

// NewUserMessage builds a well-known message from the command line.
func NewUserMessage(kind string, args ...string) (proto.Message, error) {
	value := strings.Join(args, " ")
	switch kind {
	case "string":
		return &wrappers.StringValue{Value: value}, nil
	case "int":
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return nil, err
		}
		return &wrappers.Int64Value{Value: v}, nil
	case "uint":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return nil, err
		}
		return &wrappers.UInt64Value{Value: v}, nil
	case "bool":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		return &wrappers.BoolValue{Value: v}, nil
	case "bytes":
		v, err := ParseHex(args...)
		if err != nil {
			return nil, err
		}
		return &wrappers.BytesValue{Value: v}, nil
	case "empty", "uptime":
		return &empty.Empty{}, nil
	}
	return nil, fmt.Errorf("unknown message kind %q, expect one of %s", kind, strings.Join(UserMessageKinds, ", "))
}

// ParseHex decodes hex bytes, optionally separated by spaces.
func ParseHex(args ...string) ([]byte, error) {
	return hex.DecodeString(strings.Join(args, ""))
}

// ParseMessageID parses class and method, in decimal or 0x prefixed hex.
func ParseMessageID(class, method string) (id ncp.MessageID, err error) {
	c, err := strconv.ParseUint(class, 0, 8)
	if err != nil {
		return id, fmt.Errorf("invalid class %q", class)
	}
	m, err := strconv.ParseUint(method, 0, 8)
	if err != nil {
		return id, fmt.Errorf("invalid method %q", method)
	}
	return ncp.MessageID{Class: byte(c), Method: byte(m)}, nil
}

// FormatAny prints a user message as "name text".
func FormatAny(msg *any.Any) string {
	var dyn ptypes.DynamicAny
	if err := ptypes.UnmarshalAny(msg, &dyn); err != nil {
		return fmt.Sprintf("%s %s", msg.GetTypeUrl(), hex.EncodeToString(msg.GetValue()))
	}
	return fmt.Sprintf("%s {%s}", proto.MessageName(dyn.Message), strings.TrimSpace(proto.CompactTextString(dyn.Message)))
}

// AnyJSON prints a user message in JSON.
func AnyJSON(msg *any.Any) (string, error) {
	return (&jsonpb.Marshaler{}).MarshalToString(msg)
}

// EventInfo is the displayable form of an event.
type EventInfo struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// String implements fmt.Stringer.
func (e EventInfo) String() string {
	s := e.ID + " " + e.Kind
	if e.Detail != "" {
		s += " " + e.Detail
	}
	if e.Payload != "" {
		s += " [" + e.Payload + "]"
	}
	return s
}

// DescribeEvent decodes the well-known events.
func DescribeEvent(evt host.Event) EventInfo {
	id := evt.Header.ID()
	info := EventInfo{ID: id.String(), Kind: "event"}
	switch id {
	case ncp.SystemBootEvent:
		if v, err := ncp.ParseBootEvent(evt.Payload); err == nil {
			info.Kind = "boot"
			info.Detail = fmt.Sprintf("v%d.%d.%d.%d", v[0], v[1], v[2], v[3])
			return info
		}
	case ncp.SystemErrorEvent:
		if result, data, err := ncp.ParseErrorEvent(evt.Payload); err == nil {
			info.Kind = "error"
			info.Detail = result.String()
			info.Payload = hex.EncodeToString(data)
			return info
		}
	case ncp.UserMessageToHostEvt:
		if msg, err := processor.DecodeUserPayload(evt.Payload); err == nil {
			info.Kind = "user"
			info.Detail = FormatAny(msg)
			return info
		}
	}
	info.Payload = hex.EncodeToString(evt.Payload)
	return info
}
