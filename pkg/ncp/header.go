package ncp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the headers of the built-in codecs.
const HeaderSize = 4

// MessageID identifies a message by class and method.
type MessageID struct {
	Class  byte
	Method byte
}

// String implements fmt.Stringer.
func (id MessageID) String() string {
	return fmt.Sprintf("%02x.%02x", id.Class, id.Method)
}

// Header is the decoded frame header.
type Header struct {
	// Event is set for asynchronous events, cleared for commands and responses.
	Event bool
	// Tech is the technology type, only carried by BGAPI.
	Tech byte
	// Length is the length of the body following the header.
	Length int
	Class  byte
	Method byte
}

// ID returns the message ID.
func (h Header) ID() MessageID {
	return MessageID{Class: h.Class, Method: h.Method}
}

// HeaderCodec defines how frame headers are laid out on the wire.
type HeaderCodec interface {
	// Size is the fixed size of the header.
	Size() int
	// MaxLength is the largest body length the header can express.
	MaxLength() int
	// Decode decodes the header from the first Size() bytes.
	Decode(b []byte) Header
	// Encode writes the header into the first Size() bytes.
	Encode(b []byte, h Header)
}

// LittleEndian is the default header layout:
//
//	bytes 0-1: uint16 little-endian, bits 0-14 body length, bit 15 event
//	byte  2:   class
//	byte  3:   method
var LittleEndian HeaderCodec = littleEndian{}

// BGAPI is the header layout of BGAPI targets:
//
//	byte 0: event<<7 | tech<<3 | length bits 8-10
//	byte 1: length bits 0-7
//	byte 2: class
//	byte 3: method
var BGAPI HeaderCodec = bgapi{}

// CodecByName returns the codec named "le" or "bgapi".
func CodecByName(name string) (HeaderCodec, error) {
	switch name {
	case "", "le", "little-endian":
		return LittleEndian, nil
	case "bgapi":
		return BGAPI, nil
	}
	return nil, fmt.Errorf("unknown header codec %q", name)
}

type littleEndian struct{}

func (littleEndian) Size() int      { return HeaderSize }
func (littleEndian) MaxLength() int { return 0x7fff }

func (littleEndian) Decode(b []byte) Header {
	v := binary.LittleEndian.Uint16(b[0:2])
	return Header{
		Event:  v&0x8000 != 0,
		Length: int(v & 0x7fff),
		Class:  b[2],
		Method: b[3],
	}
}

func (littleEndian) Encode(b []byte, h Header) {
	v := uint16(h.Length) & 0x7fff
	if h.Event {
		v |= 0x8000
	}
	binary.LittleEndian.PutUint16(b[0:2], v)
	b[2], b[3] = h.Class, h.Method
}

type bgapi struct{}

func (bgapi) Size() int      { return HeaderSize }
func (bgapi) MaxLength() int { return 0x7ff }

func (bgapi) Decode(b []byte) Header {
	return Header{
		Event:  b[0]&0x80 != 0,
		Tech:   (b[0] >> 3) & 0x0f,
		Length: int(b[0]&0x07)<<8 | int(b[1]),
		Class:  b[2],
		Method: b[3],
	}
}

func (bgapi) Encode(b []byte, h Header) {
	b[0] = (h.Tech&0x0f)<<3 | byte(h.Length>>8)&0x07
	if h.Event {
		b[0] |= 0x80
	}
	b[1] = byte(h.Length)
	b[2], b[3] = h.Class, h.Method
}

// Command is a received command frame.
// Payload references the receive buffer and is only valid during processing.
type Command struct {
	Header  Header
	Payload []byte
}

// EncodeFrame builds a frame from header and payload.
// The header length is taken from the payload.
func EncodeFrame(codec HeaderCodec, h Header, payload []byte) []byte {
	size := codec.Size()
	frame := make([]byte, size+len(payload))
	h.Length = len(payload)
	codec.Encode(frame, h)
	copy(frame[size:], payload)
	return frame
}

// FrameLen returns the total frame length declared by a header.
func FrameLen(codec HeaderCodec, header []byte) int {
	return codec.Size() + codec.Decode(header).Length
}
