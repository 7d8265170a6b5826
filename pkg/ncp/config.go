package ncp

import (
	"fmt"
	"time"
)

// Defaults sized for a BGAPI target.
const (
	DefaultMaxFrameSize  = 360
	DefaultQueueLen      = 42
	DefaultQueueReserved = 12
	DefaultSegmentSize   = 30
	DefaultInterval      = 100 * time.Millisecond
)

// Config defines the sizing of an Engine.
type Config struct {
	// MaxFrameSize is the largest command frame, header included.
	MaxFrameSize int
	// QueueLen is the number of segments in the transmit queue.
	QueueLen int
	// QueueReserved is the number of segments reserved for responses.
	QueueReserved int
	// SegmentSize is the size of a transmit queue segment.
	SegmentSize int
	// Codec defines the header layout, LittleEndian if nil.
	Codec HeaderCodec
	// Interval is the period the idle loop polls the event source.
	Interval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:  DefaultMaxFrameSize,
		QueueLen:      DefaultQueueLen,
		QueueReserved: DefaultQueueReserved,
		SegmentSize:   DefaultSegmentSize,
		Codec:         LittleEndian,
		Interval:      DefaultInterval,
	}
}

// Validate checks the configuration is consistent.
// The reserved segments must hold a maximum-sized response.
func (c Config) Validate() error {
	codec := c.codec()
	if c.MaxFrameSize < codec.Size() {
		return fmt.Errorf("max frame size %d smaller than header", c.MaxFrameSize)
	}
	if c.MaxFrameSize-codec.Size() > codec.MaxLength() {
		return fmt.Errorf("max frame size %d exceeds header limit %d", c.MaxFrameSize, codec.MaxLength())
	}
	if c.SegmentSize <= 0 {
		return fmt.Errorf("invalid segment size %d", c.SegmentSize)
	}
	if c.QueueLen <= 0 {
		return fmt.Errorf("invalid queue length %d", c.QueueLen)
	}
	if c.QueueReserved >= c.QueueLen {
		return fmt.Errorf("reserved segments %d must be less than queue length %d", c.QueueReserved, c.QueueLen)
	}
	if need := (c.MaxFrameSize + c.SegmentSize - 1) / c.SegmentSize; c.QueueReserved < need {
		return fmt.Errorf("reserved segments %d can't hold a %d bytes response (%d segments)",
			c.QueueReserved, c.MaxFrameSize, need)
	}
	return nil
}

func (c Config) codec() HeaderCodec {
	if c.Codec == nil {
		return LittleEndian
	}
	return c.Codec
}
