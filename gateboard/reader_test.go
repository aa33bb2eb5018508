package gateboard

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/errors"
)

// helloFrame is a hello captured from real board firmware. Its checksum
// does not verify, which is why lenient mode is the default.
var helloFrame = []byte(Prefix + "\x01\x00\x04\x00\x01\x02\x03\x00\x3f\x29\r\n")

func TestReadCapturedHelloFrame(t *testing.T) {
	r := NewReader(bytes.NewReader(helloFrame))

	msg, err := r.GetNextMessage()
	require.NoError(t, err)
	hello, ok := msg.(*HelloMessage)
	require.True(t, ok)
	assert.Equal(t, uint16(3), hello.FirmwareVersion)
}

func TestReadResyncsPastLeadingNoise(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("line noise \x00\xff G GB GBSP garbage ")
	stream.Write(helloFrame)

	r := NewReader(&stream)
	msg, err := r.GetNextMessage()
	require.NoError(t, err)
	assert.IsType(t, &HelloMessage{}, msg)
}

func TestReadSequenceOfFrames(t *testing.T) {
	var stream bytes.Buffer
	for _, m := range []Message{
		&HelloMessage{FirmwareVersion: 4},
		&OutputStatusMessage{OutputName: "flow0", Reading: 100},
		&OnewirePresenceMessage{DeviceID: 0xc0ffee, Status: 1},
	} {
		frame, err := Encode(m)
		require.NoError(t, err)
		stream.Write(frame)
	}

	r := NewReader(&stream)
	for _, want := range []interface{}{
		&HelloMessage{}, &OutputStatusMessage{}, &OnewirePresenceMessage{},
	} {
		msg, err := r.GetNextMessage()
		require.NoError(t, err)
		assert.IsType(t, want, msg)
	}

	_, err := r.GetNextMessage()
	assert.Error(t, err, "stream exhausted")
}

func TestStrictModeAcceptsOwnEncoding(t *testing.T) {
	frame, err := Encode(&OutputStatusMessage{OutputName: "flow0", Reading: 42})
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(frame))
	r.SetStrictCRC(true)
	_, err = r.GetNextMessage()
	assert.NoError(t, err)
}

func TestStrictModeRejectsCorruptedFrame(t *testing.T) {
	frame, err := Encode(&OutputStatusMessage{OutputName: "flow0", Reading: 42})
	require.NoError(t, err)
	frame[len(Prefix)+5] ^= 0xff // flip a payload byte

	r := NewReader(bytes.NewReader(frame))
	r.SetStrictCRC(true)
	_, err = r.GetNextMessage()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBadChecksum)
}

func TestLenientModeAcceptsCorruptedChecksum(t *testing.T) {
	frame, err := Encode(&OutputStatusMessage{OutputName: "flow0", Reading: 42})
	require.NoError(t, err)
	frame[len(frame)-3] ^= 0xff // corrupt the checksum itself

	r := NewReader(bytes.NewReader(frame))
	msg, err := r.GetNextMessage()
	require.NoError(t, err)
	status, ok := msg.(*OutputStatusMessage)
	require.True(t, ok)
	assert.Equal(t, uint32(42), status.Reading)
}

func TestDesyncOnAbsurdPayloadLength(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString(Prefix)
	stream.Write([]byte{0x01, 0x00, 0xff, 0xff}) // claims a 65535-byte payload
	hello, err := Encode(&HelloMessage{FirmwareVersion: 4})
	require.NoError(t, err)
	stream.Write(hello)

	r := NewReader(&stream)
	_, err = r.GetNextMessage()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFramingDesync)

	// The reader recovers on the next real frame.
	msg, err := r.GetNextMessage()
	require.NoError(t, err)
	assert.IsType(t, &HelloMessage{}, msg)
}

func TestUnknownFrameLeavesReaderSynchronized(t *testing.T) {
	var stream bytes.Buffer
	// An id the decoder does not know, with an empty payload. Checksum
	// is irrelevant in lenient mode.
	stream.WriteString(Prefix)
	stream.Write([]byte{0x7f, 0x00, 0x00, 0x00, 0x00, 0x00})
	stream.WriteString(Trailer)
	hello, err := Encode(&HelloMessage{FirmwareVersion: 4})
	require.NoError(t, err)
	stream.Write(hello)

	r := NewReader(&stream)
	_, err = r.GetNextMessage()
	assert.ErrorIs(t, err, errors.ErrUnknownFrame)

	msg, err := r.GetNextMessage()
	require.NoError(t, err)
	assert.IsType(t, &HelloMessage{}, msg)
}

func TestReadFromEmptyStream(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.GetNextMessage()
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
}
