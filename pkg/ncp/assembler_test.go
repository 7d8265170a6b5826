package ncp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func frameOf(codec HeaderCodec, class, method byte, payload ...byte) []byte {
	return EncodeFrame(codec, Header{Class: class, Method: method}, payload)
}

func TestAssemblerTwoChunks(t *testing.T) {
	a := NewAssembler(LittleEndian, 10)
	require.Equal(t, 4, a.BytesExpected())

	require.Equal(t, 3, a.Ingest([]byte{0x02, 0x00, 0x00}))
	require.False(t, a.Complete())
	require.Equal(t, 1, a.BytesExpected())

	require.Equal(t, 3, a.Ingest([]byte{0x00, 0xaa, 0xbb}))
	require.True(t, a.Complete())
	require.Equal(t, 4, a.BytesExpected())

	cmd, ok := a.Claim()
	require.True(t, ok)
	require.Equal(t, []byte{0xaa, 0xbb}, cmd.Payload)
	require.Equal(t, 2, cmd.Header.Length)
	require.False(t, cmd.Header.Event)
}

func TestAssemblerChunkSizeIndependence(t *testing.T) {
	payload := make([]byte, 50)
	for n := range payload {
		payload[n] = byte(n * 7)
	}
	for _, codec := range []HeaderCodec{LittleEndian, BGAPI} {
		frame := frameOf(codec, 3, 4, payload...)
		whole := NewAssembler(codec, 64)
		require.Equal(t, len(frame), whole.Ingest(frame))
		expected, ok := whole.Claim()
		require.True(t, ok)

		for chunk := 1; chunk <= len(frame); chunk++ {
			t.Run(fmt.Sprintf("%T/%d", codec, chunk), func(t *testing.T) {
				a := NewAssembler(codec, 64)
				for off := 0; off < len(frame); off += chunk {
					end := off + chunk
					if end > len(frame) {
						end = len(frame)
					}
					require.Equal(t, end-off, a.Ingest(frame[off:end]))
				}
				cmd, ok := a.Claim()
				require.True(t, ok)
				require.Equal(t, expected, cmd)
			})
		}
	}
}

func TestAssemblerAcceptsOnlyCurrentFrame(t *testing.T) {
	a := NewAssembler(LittleEndian, 16)
	first := frameOf(LittleEndian, 1, 1, 0x11, 0x22)
	second := frameOf(LittleEndian, 1, 2, 0x33)
	stream := append(append([]byte{}, first...), second...)

	n := a.Ingest(stream)
	require.Equal(t, len(first), n)
	require.True(t, a.Complete())

	// the pending frame is untouched by further input.
	require.Zero(t, a.Ingest(stream[n:]))
	cmd, ok := a.Claim()
	require.True(t, ok)
	require.Equal(t, byte(1), cmd.Header.Method)
	require.Equal(t, []byte{0x11, 0x22}, cmd.Payload)

	a.Reset()
	require.Equal(t, len(second), a.Ingest(stream[n:]))
	cmd, ok = a.Claim()
	require.True(t, ok)
	require.Equal(t, byte(2), cmd.Header.Method)
	require.Equal(t, []byte{0x33}, cmd.Payload)
}

func TestAssemblerEmptyBody(t *testing.T) {
	a := NewAssembler(LittleEndian, 8)
	require.Equal(t, 4, a.Ingest([]byte{0, 0, 1, 0, 9, 9}))
	require.True(t, a.Complete())
	cmd, ok := a.Claim()
	require.True(t, ok)
	require.Empty(t, cmd.Payload)
}

func TestAssemblerEmptyIngest(t *testing.T) {
	a := NewAssembler(LittleEndian, 8)
	require.Zero(t, a.Ingest(nil))
	require.Zero(t, a.Ingest([]byte{}))
	require.Zero(t, a.Buffered())
	require.Equal(t, 4, a.BytesExpected())
}

func TestAssemblerOversizedFrame(t *testing.T) {
	a := NewAssembler(LittleEndian, 10)
	// declares 7 bytes body, 11 bytes in total.
	require.Equal(t, 4, a.Ingest([]byte{7, 0, 1, 1, 1, 2, 3}))
	require.Equal(t, ErrOversizedFrame, a.Fault())
	require.False(t, a.Complete())
	require.Zero(t, a.Ingest([]byte{1, 2, 3}))
	require.Equal(t, 4, a.Buffered())
	_, ok := a.Claim()
	require.False(t, ok)

	a.Reset()
	require.NoError(t, a.Fault())
}

func TestAssemblerInjectFrame(t *testing.T) {
	a := NewAssembler(LittleEndian, 8)
	require.NoError(t, a.InjectFrame(frameOf(LittleEndian, 1, 0, 5)))
	require.True(t, a.Complete())
	require.Equal(t, ErrCommandPending, a.InjectFrame(frameOf(LittleEndian, 1, 1)))
	cmd, ok := a.Claim()
	require.True(t, ok)
	require.Equal(t, []byte{5}, cmd.Payload)

	a.Reset()
	require.Equal(t, ErrOversizedFrame, a.InjectFrame(frameOf(LittleEndian, 1, 0, 1, 2, 3, 4, 5)))
	require.Equal(t, ErrMalformedFrame, a.InjectFrame([]byte{1, 0}))
	require.Equal(t, ErrMalformedFrame, a.InjectFrame([]byte{3, 0, 1, 1, 1}))
	require.False(t, a.Complete())
}

func TestAssemblerAbort(t *testing.T) {
	a := NewAssembler(LittleEndian, 8)
	require.False(t, a.Abort())

	a.Ingest([]byte{2, 0, 1})
	require.True(t, a.Abort())
	require.Zero(t, a.Buffered())
	require.Equal(t, 4, a.BytesExpected())

	a.Ingest(frameOf(LittleEndian, 1, 0))
	require.True(t, a.Complete())
	require.False(t, a.Abort())
	require.True(t, a.Complete())
}
