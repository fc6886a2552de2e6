package oap

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameTypeWireValues(t *testing.T) {
	require.Equal(t, FrameType(1), FrameHello)
	require.Equal(t, FrameType(2), FrameStart)
	require.Equal(t, FrameType(3), FrameData)
	require.Equal(t, FrameType(4), FrameEnd)
	require.Equal(t, FrameType(5), FrameAck)
	require.Equal(t, FrameType(6), FrameError)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fr := Frame{Type: FrameHello, Payload: []byte(`{"v":1}`)}
	require.NoError(t, WriteFrame(&buf, fr))

	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, fr.Type, got.Type)
	require.Equal(t, fr.Payload, got.Payload)
}

func TestReadFrameRejectsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, WriteFrame(&buf, Frame{Type: FrameData, Payload: nil}), ErrEmptyFrame)

	buf.Write([]byte{byte(FrameData), 0, 0, 0, 0})
	_, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(FrameData))
	var lenBytes [4]byte
	oversized := uint32(MaxFrameLen + 1)
	lenBytes[0] = byte(oversized >> 24)
	lenBytes[1] = byte(oversized >> 16)
	lenBytes[2] = byte(oversized >> 8)
	lenBytes[3] = byte(oversized)
	buf.Write(lenBytes[:])

	_, err := ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)
	var tooLarge *ErrPayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, oversized, tooLarge.Len)
}

func TestAckFrameCarriesCreditCeiling(t *testing.T) {
	fr := NewAckFrame(131072)
	require.Equal(t, FrameAck, fr.Type)
	require.Len(t, fr.Payload, 8)
	require.Equal(t, uint64(131072), binary.BigEndian.Uint64(fr.Payload))
}
