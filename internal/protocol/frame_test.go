package protocol

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromHex(t *testing.T, s string) []byte {
	t.Helper()
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return data
}

func TestChecksum(t *testing.T) {
	// Captured response frame content with a known checksum.
	msg := fromHex(t, "55 aa 01 89 00 00 04 55 0c 00 00")
	assert.Equal(t, uint16(0x01ee), checksum(msg))
}

func TestEncode(t *testing.T) {
	got := Encode(TypeHistoryRequest, []byte{0x10, 0x10})
	assert.Equal(t, fromHex(t, "55 aa 06 01 02 00 02 10 10 01 2a"), got)
}

func TestEncodeEmptyPayload(t *testing.T) {
	got := Encode(TypeStatusDataRequest, nil)
	assert.Equal(t, fromHex(t, "55 aa 01 02 02 00 00 01 04"), got)
}

func TestDecode(t *testing.T) {
	frame, consumed, err := Decode(fromHex(t, "55 aa 06 01 02 00 02 10 10 01 2a"))
	require.NoError(t, err)
	assert.Equal(t, 11, consumed)
	assert.Equal(t, TypeHistoryRequest, frame.TypeID)
	assert.Equal(t, []byte{0x10, 0x10}, frame.Payload)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typeID  TypeID
		payload []byte
	}{
		{name: "empty payload", typeID: TypeStatusDataRequest, payload: []byte{}},
		{name: "discovery", typeID: TypeDiscovery, payload: []byte("I AM SERVER")},
		{name: "binary payload", typeID: TypeStatusDataResponse, payload: []byte{0x00, 0xff, 0x55, 0xaa, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.typeID, tt.payload)
			frame, consumed, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), consumed)
			assert.Equal(t, tt.typeID, frame.TypeID)
			assert.Equal(t, tt.payload, frame.Payload)
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	encoded := Encode(TypeModelInfoRequest, []byte{0x01, 0x02, 0x03})

	// Every strict prefix must report ErrTruncated, never a hard error.
	for i := 0; i < len(encoded); i++ {
		_, consumed, err := Decode(encoded[:i])
		assert.ErrorIs(t, err, ErrTruncated, "prefix of %d bytes", i)
		assert.Zero(t, consumed)
	}
}

func TestDecodeMultipleFrames(t *testing.T) {
	// TCP reads may hold more than one frame; Decode consumes exactly one.
	first := Encode(TypeStatusDataRequest, nil)
	second := Encode(TypeModelInfoRequest, nil)
	buf := append(append([]byte{}, first...), second...)

	frame, consumed, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeStatusDataRequest, frame.TypeID)
	assert.Equal(t, len(first), consumed)

	frame, consumed, err = Decode(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, TypeModelInfoRequest, frame.TypeID)
	assert.Equal(t, len(second), consumed)
}

func TestDecodeChecksumMismatch(t *testing.T) {
	valid := Encode(TypeStatusDataResponse, []byte{0x01, 0x77, 0x0b, 0x9f})

	// Flipping any payload or checksum byte must be caught. A flip in the
	// length field changes the framing instead, so start past the header.
	for i := headerLen; i < len(valid); i++ {
		corrupted := append([]byte{}, valid...)
		corrupted[i] ^= 0x01

		_, consumed, err := Decode(corrupted)
		assert.ErrorIs(t, err, ErrChecksumMismatch, "flipped byte %d", i)
		// The frame is consumed so the session can skip past it.
		assert.Equal(t, len(valid), consumed, "flipped byte %d", i)
	}
}

func TestChecksumNotAdversarial(t *testing.T) {
	// The checksum is a plain sum: swapping two payload bytes preserves
	// it. It only protects against accidental corruption.
	valid := Encode(TypeStatusDataResponse, []byte{0x01, 0x02})
	swapped := append([]byte{}, valid...)
	swapped[headerLen], swapped[headerLen+1] = swapped[headerLen+1], swapped[headerLen]

	_, _, err := Decode(swapped)
	assert.NoError(t, err)
}

func TestDecodeBadMarker(t *testing.T) {
	_, _, err := Decode([]byte{0x00, 0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrBadMarker)
}

func TestDecodeMalformedLength(t *testing.T) {
	buf := fromHex(t, "55 aa 01 82 00 ff ff")
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestResync(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{name: "marker mid-buffer", buf: []byte{0x00, 0x01, 0x55, 0xaa, 0x01}, want: 2},
		{name: "no marker", buf: []byte{0x00, 0x01, 0x02}, want: 3},
		{name: "split marker at end", buf: []byte{0x00, 0x01, 0x55}, want: 2},
		{name: "marker at start is skipped", buf: []byte{0x55, 0xaa, 0x55, 0xaa}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resync(tt.buf))
		})
	}
}
