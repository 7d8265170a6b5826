package ncp

import "encoding/binary"

// Result is the 16-bit result code carried by responses and error events.
type Result uint16

// Result codes
const (
	ResultOK                Result = 0x0000
	ResultNotImplemented    Result = 0x0183
	ResultInvalidCommand    Result = 0x0184
	ResultCommandTooLong    Result = 0x018a
	ResultUnspecified       Result = 0x018c
	ResultCommandIncomplete Result = 0x0195
)

var resultNames = map[Result]string{
	ResultOK:                "ok",
	ResultNotImplemented:    "not implemented",
	ResultInvalidCommand:    "invalid command",
	ResultCommandTooLong:    "command too long",
	ResultUnspecified:       "unspecified",
	ResultCommandIncomplete: "command incomplete",
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown"
}

// Message classes
const (
	ClassSystem byte = 0x01
	ClassUser   byte = 0xff
)

// Well-known messages
var (
	SystemHello          = MessageID{Class: ClassSystem, Method: 0x00}
	SystemBootEvent      = MessageID{Class: ClassSystem, Method: 0x00}
	SystemErrorEvent     = MessageID{Class: ClassSystem, Method: 0x06}
	UserMessageToTarget  = MessageID{Class: ClassUser, Method: 0x00}
	UserMessageToHostEvt = MessageID{Class: ClassUser, Method: 0x00}
)

// Response builds a response frame for cmd: [result uint16][data].
func Response(codec HeaderCodec, cmd Header, result Result, data []byte) []byte {
	payload := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(payload, uint16(result))
	copy(payload[2:], data)
	return EncodeFrame(codec, Header{Tech: cmd.Tech, Class: cmd.Class, Method: cmd.Method}, payload)
}

// ErrorResponse builds a response frame carrying only a result code.
func ErrorResponse(codec HeaderCodec, cmd Header, result Result) []byte {
	return Response(codec, cmd, result, nil)
}

// Event builds an event frame.
func Event(codec HeaderCodec, id MessageID, payload []byte) []byte {
	return EncodeFrame(codec, Header{Event: true, Class: id.Class, Method: id.Method}, payload)
}

// ErrorEvent builds a system error event: [result uint16][len uint8][data].
func ErrorEvent(codec HeaderCodec, result Result, data []byte) []byte {
	if len(data) > 0xff {
		data = data[:0xff]
	}
	payload := make([]byte, 3+len(data))
	binary.LittleEndian.PutUint16(payload, uint16(result))
	payload[2] = byte(len(data))
	copy(payload[3:], data)
	return Event(codec, SystemErrorEvent, payload)
}

// BootEvent builds a system boot event announcing the firmware version.
func BootEvent(codec HeaderCodec, major, minor, patch, build uint16) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:], major)
	binary.LittleEndian.PutUint16(payload[2:], minor)
	binary.LittleEndian.PutUint16(payload[4:], patch)
	binary.LittleEndian.PutUint16(payload[6:], build)
	return Event(codec, SystemBootEvent, payload)
}

// ParseResult splits a response payload into result and data.
func ParseResult(payload []byte) (Result, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, ErrMalformedFrame
	}
	return Result(binary.LittleEndian.Uint16(payload)), payload[2:], nil
}

// ParseErrorEvent decodes the payload of a system error event.
func ParseErrorEvent(payload []byte) (Result, []byte, error) {
	if len(payload) < 3 || len(payload) < 3+int(payload[2]) {
		return 0, nil, ErrMalformedFrame
	}
	return Result(binary.LittleEndian.Uint16(payload)), payload[3 : 3+int(payload[2])], nil
}

// ParseBootEvent decodes the version in the payload of a system boot event.
func ParseBootEvent(payload []byte) (version [4]uint16, err error) {
	if len(payload) < 8 {
		return version, ErrMalformedFrame
	}
	for n := range version {
		version[n] = binary.LittleEndian.Uint16(payload[n*2:])
	}
	return version, nil
}
