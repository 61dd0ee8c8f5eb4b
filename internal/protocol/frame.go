// Package protocol implements the Samil Power inverter wire format: a
// checksummed binary envelope carried over UDP (discovery) and TCP
// (request/response). Every message is
//
//	55 aa | type id (3) | payload length (2, big-endian) | payload | checksum (2, big-endian)
//
// where the checksum is the 16-bit sum of all preceding bytes. The format
// is reverse-engineered and known to be incomplete, so decoding fails open
// on unrecognized type ids.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame marker and size constants.
const (
	headerLen   = 7 // marker (2) + type id (3) + length (2)
	checksumLen = 2

	// MaxPayloadLen bounds the declared payload length. The protocol
	// never carries payloads near this size; a larger value indicates a
	// desynchronized stream.
	MaxPayloadLen = 4096
)

var marker = []byte{0x55, 0xaa}

// Codec errors.
var (
	// ErrTruncated signals that more bytes are needed before the frame
	// can be decoded. Not fatal: the caller keeps buffering.
	ErrTruncated = errors.New("incomplete frame, need more bytes")

	// ErrBadMarker signals that the buffer does not start with the frame
	// marker. The caller should resynchronize.
	ErrBadMarker = errors.New("missing frame marker")

	// ErrMalformedLength signals an implausible declared payload length,
	// which indicates a desynchronized stream. Fatal for the connection.
	ErrMalformedLength = errors.New("malformed payload length")

	// ErrChecksumMismatch signals that the trailing checksum disagrees
	// with the frame content. The frame is dropped, the connection may
	// continue.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// TypeID is the 3-byte message type identifier of a frame.
type TypeID [3]byte

// String returns the type id in hex.
func (t TypeID) String() string {
	return fmt.Sprintf("%02x %02x %02x", t[0], t[1], t[2])
}

// Frame is one complete protocol message. Frames are transient: one is
// constructed per message and not retained.
type Frame struct {
	TypeID  TypeID
	Payload []byte
}

// checksum computes the 16-bit sum of all bytes in msg.
func checksum(msg []byte) uint16 {
	var sum uint16
	for _, b := range msg {
		sum += uint16(b)
	}
	return sum
}

// Encode constructs the wire representation of a message.
func Encode(typeID TypeID, payload []byte) []byte {
	msg := make([]byte, 0, headerLen+len(payload)+checksumLen)
	msg = append(msg, marker...)
	msg = append(msg, typeID[:]...)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(payload)))
	msg = append(msg, payload...)
	return binary.BigEndian.AppendUint16(msg, checksum(msg))
}

// Decode extracts the first frame from buf. It supports incremental reads:
// while the buffer does not yet hold a complete frame it returns
// ErrTruncated and the caller accumulates more bytes. On success, and on
// ErrChecksumMismatch, consumed reports how many bytes belong to the frame
// so the caller can advance its buffer past it.
func Decode(buf []byte) (frame Frame, consumed int, err error) {
	if len(buf) < len(marker) {
		return Frame{}, 0, ErrTruncated
	}
	if !bytes.HasPrefix(buf, marker) {
		return Frame{}, 0, ErrBadMarker
	}
	if len(buf) < headerLen {
		return Frame{}, 0, ErrTruncated
	}

	payloadLen := int(binary.BigEndian.Uint16(buf[5:7]))
	if payloadLen > MaxPayloadLen {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrMalformedLength, payloadLen)
	}

	total := headerLen + payloadLen + checksumLen
	if len(buf) < total {
		return Frame{}, 0, ErrTruncated
	}

	want := binary.BigEndian.Uint16(buf[headerLen+payloadLen:])
	if got := checksum(buf[:headerLen+payloadLen]); got != want {
		return Frame{}, total, fmt.Errorf("%w: computed %#04x, frame carries %#04x", ErrChecksumMismatch, got, want)
	}

	frame.TypeID = TypeID(buf[2:5])
	frame.Payload = make([]byte, payloadLen)
	copy(frame.Payload, buf[headerLen:headerLen+payloadLen])
	return frame, total, nil
}

// Resync returns the offset of the next plausible frame marker at or after
// position 1, for recovering from a desynchronized stream. When no marker
// is found it returns len(buf) so the caller discards everything buffered.
func Resync(buf []byte) int {
	if len(buf) < 2 {
		return len(buf)
	}
	idx := bytes.Index(buf[1:], marker)
	if idx < 0 {
		// The last byte could be the start of a marker split across reads.
		if buf[len(buf)-1] == marker[0] {
			return len(buf) - 1
		}
		return len(buf)
	}
	return idx + 1
}
