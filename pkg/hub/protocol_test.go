package hub

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`{"event":"ping","id":"req-1"}`)
	require.NoError(t, WriteFrame(&buf, FrameJSON, payload))

	frame, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, FrameJSON, frame.Type)
	assert.Equal(t, payload, frame.Payload)
}

func TestFrameReassemblesPartialReads(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("x"), 4096)
	require.NoError(t, WriteFrame(&buf, FrameBlob, payload))

	// One byte per read forces the codec to buffer across short reads.
	reader := bufio.NewReader(iotest.OneByteReader(&buf))

	frame, err := ReadFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, FrameBlob, frame.Type)
	assert.Equal(t, payload, frame.Payload)
}

func TestHeartbeatFrameHasEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameHeartbeat, nil))

	frame, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, FrameHeartbeat, frame.Type)
	assert.Empty(t, frame.Payload)
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(header[:])))
	assert.Error(t, err)
}

func TestReadFrameRejectsEmptyFrame(t *testing.T) {
	var header [4]byte

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(header[:])))
	assert.Error(t, err)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, FrameBlob, make([]byte, MaxFrameSize))
	assert.Error(t, err)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameJSON, []byte(`{"event":"ping"}`)))
	require.NoError(t, WriteFrame(&buf, FrameHeartbeat, nil))
	require.NoError(t, WriteFrame(&buf, FrameJSON, []byte(`{"event":"ping","id":"2"}`)))

	reader := bufio.NewReader(&buf)
	types := []byte{}
	for i := 0; i < 3; i++ {
		frame, err := ReadFrame(reader)
		require.NoError(t, err)
		types = append(types, frame.Type)
	}
	assert.Equal(t, []byte{FrameJSON, FrameHeartbeat, FrameJSON}, types)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"event":"send_signal","id":"req-7","pid":1234,"signal":9}`))
	require.NoError(t, err)
	assert.Equal(t, "send_signal", msg.Event)
	assert.Equal(t, "req-7", msg.Id)
	assert.Equal(t, 1234, msg.PID)
	assert.Equal(t, 9, msg.Signal)
}

func TestDecodeMessageRequiresEvent(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"id":"req-7"}`))
	assert.Error(t, err)
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}
