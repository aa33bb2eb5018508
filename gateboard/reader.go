package gateboard

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goliathdrakken/gatebot/errors"
)

// Reader decodes GBSP frames from a byte stream. Line noise before a
// frame is skipped by scanning forward to the next prefix, so a reader
// that attaches mid-stream still synchronizes on the following frame.
//
// Checksums are not verified by default; deployed board firmware
// predates CRC enforcement and some revisions emit incorrect values.
// SetStrictCRC enables verification for hardware known to be good.
type Reader struct {
	r      *bufio.Reader
	strict bool
}

// NewReader wraps a stream in a GBSP frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// SetStrictCRC toggles checksum verification.
func (r *Reader) SetStrictCRC(strict bool) {
	r.strict = strict
}

// GetNextMessage returns the next decodable frame. Unknown message ids
// fail with ErrUnknownFrame and bad checksums (in strict mode) with
// ErrBadChecksum; both leave the reader synchronized so the caller can
// simply try again.
func (r *Reader) GetNextMessage() (Message, error) {
	if err := r.scanToPrefix(); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, errors.WrapTransient(err, "gateboard-reader", "GetNextMessage", "header read")
	}
	id := binary.LittleEndian.Uint16(header[0:2])
	payloadLen := int(binary.LittleEndian.Uint16(header[2:4]))
	if payloadLen > maxPayloadLen {
		// A length this large means we latched onto garbage that
		// happened to contain the prefix. Resync on the next frame.
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: claimed payload %d bytes", errors.ErrFramingDesync, payloadLen),
			"gateboard-reader", "GetNextMessage", "payload length check")
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, errors.WrapTransient(err, "gateboard-reader", "GetNextMessage", "payload read")
	}

	var footer [4]byte // crc + trailer
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		return nil, errors.WrapTransient(err, "gateboard-reader", "GetNextMessage", "footer read")
	}

	if r.strict {
		want := binary.LittleEndian.Uint16(footer[0:2])
		got := crcBytes(crcBytes(PrefixCRC, header[:]), payload)
		if got != want {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: computed 0x%04x, frame carries 0x%04x",
					errors.ErrBadChecksum, got, want),
				"gateboard-reader", "GetNextMessage", "checksum verification")
		}
	}

	return decodeBody(id, payload)
}

// scanToPrefix consumes bytes until the full prefix has been seen.
func (r *Reader) scanToPrefix() error {
	matched := 0
	for matched < len(Prefix) {
		b, err := r.r.ReadByte()
		if err != nil {
			return errors.WrapTransient(err, "gateboard-reader", "scanToPrefix", "stream read")
		}
		switch {
		case b == Prefix[matched]:
			matched++
		case b == Prefix[0]:
			matched = 1
		default:
			matched = 0
		}
	}
	return nil
}
