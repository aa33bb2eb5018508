package gateboard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliathdrakken/gatebot/errors"
)

func TestEncodeFrameShape(t *testing.T) {
	frame, err := Encode(&HelloMessage{FirmwareVersion: 3})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(frame, []byte(Prefix)))
	assert.True(t, bytes.HasSuffix(frame, []byte(Trailer)))

	body := frame[len(Prefix):]
	// Little-endian id, little-endian payload length, TLV payload.
	assert.Equal(t, []byte{0x01, 0x00}, body[0:2])
	assert.Equal(t, []byte{0x04, 0x00}, body[2:4])
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x00}, body[4:8])
}

func TestEncodePingHasEmptyPayload(t *testing.T) {
	frame, err := Encode(&PingCommand{})
	require.NoError(t, err)
	// prefix + 4 header + 0 payload + 2 crc + 2 trailer
	assert.Len(t, frame, len(Prefix)+8)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		&HelloMessage{FirmwareVersion: 4},
		&OutputStatusMessage{OutputName: "flow0", Reading: 2200},
		&OnewirePresenceMessage{DeviceID: 0xdeadbeef00112233, Status: 1},
		&AuthTokenMessage{Device: "onewire", Token: []byte{0x01, 0x02, 0x03}, Status: 1},
		&PingCommand{},
		&SetOutputCommand{OutputID: 0, Mode: OutputEnabled},
	}

	for _, m := range cases {
		frame, err := Encode(m)
		require.NoError(t, err, "%s", m)

		r := NewReader(bytes.NewReader(frame))
		r.SetStrictCRC(true)
		decoded, err := r.GetNextMessage()
		require.NoError(t, err, "%s", m)
		assert.Equal(t, m, decoded)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	long := make([]byte, maxPayloadLen)
	_, err := Encode(&AuthTokenMessage{Device: "onewire", Token: long})
	require.Error(t, err)
}

func TestDecodeBodyUnknownID(t *testing.T) {
	_, err := decodeBody(0x7f, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownFrame)
}

func TestTLVFieldLookup(t *testing.T) {
	payload := encodeTLV(nil, 0x01, []byte("abc"))
	payload = encodeTLV(payload, 0x02, []byte{0x07})

	assert.Equal(t, []byte("abc"), tlvField(payload, 0x01))
	assert.Equal(t, []byte{0x07}, tlvField(payload, 0x02))
	assert.Nil(t, tlvField(payload, 0x03))

	// A field whose declared length runs past the payload is ignored.
	truncated := []byte{0x01, 0x10, 0xaa}
	assert.Nil(t, tlvField(truncated, 0x01))
}

func TestMessageStrings(t *testing.T) {
	assert.Equal(t, "<Hello: firmware_version=3>",
		(&HelloMessage{FirmwareVersion: 3}).String())
	assert.Equal(t, "<OutputStatus: output_name=flow0 reading=10>",
		(&OutputStatusMessage{OutputName: "flow0", Reading: 10}).String())
	assert.Equal(t, "<Ping>", (&PingCommand{}).String())
}
