package gateboard

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/goliathdrakken/gatebot/errors"
)

// Protocol framing constants.
const (
	Prefix    = "GBSP v1:"
	PrefixCRC = 0xe3af
	Trailer   = "\r\n"

	maxPayloadLen = 112
)

// Message ids.
const (
	IDHello           uint16 = 0x01
	IDOutputStatus    uint16 = 0x12
	IDOnewirePresence uint16 = 0x13
	IDAuthToken       uint16 = 0x14
	IDPing            uint16 = 0x81
	IDSetOutput       uint16 = 0x83
)

// Output modes for SetOutputCommand.
const (
	OutputDisabled byte = 0
	OutputEnabled  byte = 1
)

// Message is one GBSP frame body.
type Message interface {
	MessageID() uint16
	payload() []byte
}

// HelloMessage announces the board and its firmware version.
type HelloMessage struct {
	FirmwareVersion uint16
}

// MessageID implements Message.
func (*HelloMessage) MessageID() uint16 { return IDHello }

func (m *HelloMessage) payload() []byte {
	var value [2]byte
	binary.LittleEndian.PutUint16(value[:], m.FirmwareVersion)
	return encodeTLV(nil, 0x01, value[:])
}

func (m *HelloMessage) String() string {
	return fmt.Sprintf("<Hello: firmware_version=%d>", m.FirmwareVersion)
}

// OutputStatusMessage is a raw reading from one of the board's outputs.
type OutputStatusMessage struct {
	OutputName string
	Reading    uint32
}

// MessageID implements Message.
func (*OutputStatusMessage) MessageID() uint16 { return IDOutputStatus }

func (m *OutputStatusMessage) payload() []byte {
	var reading [4]byte
	binary.LittleEndian.PutUint32(reading[:], m.Reading)
	p := encodeTLV(nil, 0x01, []byte(m.OutputName))
	return encodeTLV(p, 0x02, reading[:])
}

func (m *OutputStatusMessage) String() string {
	return fmt.Sprintf("<OutputStatus: output_name=%s reading=%d>", m.OutputName, m.Reading)
}

// OnewirePresenceMessage reports a onewire device appearing (status 1)
// or leaving (status 0) the board's bus.
type OnewirePresenceMessage struct {
	DeviceID uint64
	Status   byte
}

// MessageID implements Message.
func (*OnewirePresenceMessage) MessageID() uint16 { return IDOnewirePresence }

func (m *OnewirePresenceMessage) payload() []byte {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], m.DeviceID)
	p := encodeTLV(nil, 0x01, id[:])
	return encodeTLV(p, 0x02, []byte{m.Status})
}

func (m *OnewirePresenceMessage) String() string {
	return fmt.Sprintf("<OnewirePresence: device_id=%016x status=%d>", m.DeviceID, m.Status)
}

// AuthTokenMessage reports a credential read by an attached auth
// device. Token bytes are big-endian as scanned by the board.
type AuthTokenMessage struct {
	Device string
	Token  []byte
	Status byte
}

// MessageID implements Message.
func (*AuthTokenMessage) MessageID() uint16 { return IDAuthToken }

func (m *AuthTokenMessage) payload() []byte {
	p := encodeTLV(nil, 0x01, []byte(m.Device))
	p = encodeTLV(p, 0x02, m.Token)
	return encodeTLV(p, 0x03, []byte{m.Status})
}

func (m *AuthTokenMessage) String() string {
	return fmt.Sprintf("<AuthToken: device=%s token=%x status=%d>", m.Device, m.Token, m.Status)
}

// PingCommand asks the board to introduce itself with a Hello.
type PingCommand struct{}

// MessageID implements Message.
func (*PingCommand) MessageID() uint16 { return IDPing }

func (*PingCommand) payload() []byte { return nil }

func (*PingCommand) String() string { return "<Ping>" }

// SetOutputCommand enables or disables one of the board's outputs.
type SetOutputCommand struct {
	OutputID byte
	Mode     byte
}

// MessageID implements Message.
func (*SetOutputCommand) MessageID() uint16 { return IDSetOutput }

func (m *SetOutputCommand) payload() []byte {
	p := encodeTLV(nil, 0x01, []byte{m.OutputID})
	return encodeTLV(p, 0x02, []byte{m.Mode})
}

func (m *SetOutputCommand) String() string {
	return fmt.Sprintf("<SetOutput: output_id=%d mode=%d>", m.OutputID, m.Mode)
}

func encodeTLV(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag, byte(len(value)))
	return append(dst, value...)
}

// tlvField returns the value of the first field with the given tag, or
// nil if absent.
func tlvField(payload []byte, tag byte) []byte {
	pos := 0
	for pos+2 <= len(payload) {
		fieldTag := payload[pos]
		fieldLen := int(payload[pos+1])
		if pos+2+fieldLen > len(payload) {
			return nil
		}
		if fieldTag == tag {
			return payload[pos+2 : pos+2+fieldLen]
		}
		pos += 2 + fieldLen
	}
	return nil
}

// Encode serializes a message into a complete GBSP frame, checksummed
// the way the board firmware does it.
func Encode(m Message) ([]byte, error) {
	payload := m.payload()
	if len(payload) > maxPayloadLen {
		return nil, errors.WrapInvalid(
			fmt.Errorf("payload %d bytes exceeds %d", len(payload), maxPayloadLen),
			"gateboard", "Encode", "payload length check")
	}

	var buf bytes.Buffer
	buf.WriteString(Prefix)

	var header [4]byte
	binary.LittleEndian.PutUint16(header[0:2], m.MessageID())
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	crc := crcBytes(PrefixCRC, header[:])
	crc = crcBytes(crc, payload)
	var footer [2]byte
	binary.LittleEndian.PutUint16(footer[:], crc)
	buf.Write(footer[:])
	buf.WriteString(Trailer)

	return buf.Bytes(), nil
}

// decodeBody builds the typed message for a frame's id and payload.
// Unknown ids fail with ErrUnknownFrame so readers can skip them.
func decodeBody(id uint16, payload []byte) (Message, error) {
	switch id {
	case IDHello:
		m := &HelloMessage{}
		if v := tlvField(payload, 0x01); len(v) == 2 {
			m.FirmwareVersion = binary.LittleEndian.Uint16(v)
		}
		return m, nil

	case IDOutputStatus:
		m := &OutputStatusMessage{}
		if v := tlvField(payload, 0x01); v != nil {
			m.OutputName = string(v)
		}
		if v := tlvField(payload, 0x02); len(v) == 4 {
			m.Reading = binary.LittleEndian.Uint32(v)
		}
		return m, nil

	case IDOnewirePresence:
		m := &OnewirePresenceMessage{}
		if v := tlvField(payload, 0x01); len(v) == 8 {
			m.DeviceID = binary.LittleEndian.Uint64(v)
		}
		if v := tlvField(payload, 0x02); len(v) == 1 {
			m.Status = v[0]
		}
		return m, nil

	case IDAuthToken:
		m := &AuthTokenMessage{}
		if v := tlvField(payload, 0x01); v != nil {
			m.Device = string(v)
		}
		if v := tlvField(payload, 0x02); v != nil {
			m.Token = append([]byte(nil), v...)
		}
		if v := tlvField(payload, 0x03); len(v) == 1 {
			m.Status = v[0]
		}
		return m, nil

	case IDPing:
		return &PingCommand{}, nil

	case IDSetOutput:
		m := &SetOutputCommand{}
		if v := tlvField(payload, 0x01); len(v) == 1 {
			m.OutputID = v[0]
		}
		if v := tlvField(payload, 0x02); len(v) == 1 {
			m.Mode = v[0]
		}
		return m, nil

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: id 0x%02x", errors.ErrUnknownFrame, id),
			"gateboard", "decodeBody", "message id lookup")
	}
}
