package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhvis/solar/internal/protocol"
)

func packet(year, month, day int, expected, seq uint16, fragment string) *protocol.HistoryPacket {
	return &protocol.HistoryPacket{
		Year:          year,
		Month:         month,
		Day:           day,
		ExpectedCount: expected,
		Sequence:      seq,
		Fragment:      []byte(fragment),
	}
}

func TestSinglePacketDay(t *testing.T) {
	r := NewReassembler()

	day, err := r.Add(packet(2016, 5, 12, 1, 0, "06:00,0\r\n06:05,12\r\n"))
	require.NoError(t, err)
	require.NotNil(t, day)

	assert.Equal(t, 2016, day.Year)
	assert.Equal(t, 5, day.Month)
	assert.Equal(t, 12, day.Day)
	assert.Equal(t, [][]string{{"06:00", "0"}, {"06:05", "12"}}, day.Records)
	assert.NoError(t, r.Close())
}

func TestOutOfOrderFragments(t *testing.T) {
	r := NewReassembler()

	// Records may straddle a fragment boundary.
	day, err := r.Add(packet(2016, 5, 12, 3, 2, "30\r\n"))
	require.NoError(t, err)
	assert.Nil(t, day)

	day, err = r.Add(packet(2016, 5, 12, 3, 0, "06:00,0\r\n06:"))
	require.NoError(t, err)
	assert.Nil(t, day)

	day, err = r.Add(packet(2016, 5, 12, 3, 1, "05,"))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, [][]string{{"06:00", "0"}, {"06:05", "30"}}, day.Records)
}

func TestDuplicatesIgnored(t *testing.T) {
	r := NewReassembler()

	day, err := r.Add(packet(2016, 5, 12, 2, 0, "06:00,0\r\n"))
	require.NoError(t, err)
	assert.Nil(t, day)

	// A retransmit of the same sequence must not complete the day.
	day, err = r.Add(packet(2016, 5, 12, 2, 0, "06:00,0\r\n"))
	require.NoError(t, err)
	assert.Nil(t, day)

	day, err = r.Add(packet(2016, 5, 12, 2, 1, "06:05,5\r\n"))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Len(t, day.Records, 2)
}

func TestInterleavedDays(t *testing.T) {
	r := NewReassembler()

	day, err := r.Add(packet(2016, 5, 12, 2, 0, "a,1\r\n"))
	require.NoError(t, err)
	assert.Nil(t, day)

	day, err = r.Add(packet(2016, 5, 13, 1, 0, "b,2\r\n"))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, 13, day.Day)

	day, err = r.Add(packet(2016, 5, 12, 2, 1, "c,3\r\n"))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, 12, day.Day)
	assert.NoError(t, r.Close())
}

func TestCloseReportsIncompleteDays(t *testing.T) {
	r := NewReassembler()

	_, err := r.Add(packet(2016, 5, 13, 2, 0, "a\r\n"))
	require.NoError(t, err)
	_, err = r.Add(packet(2016, 5, 12, 2, 0, "b\r\n"))
	require.NoError(t, err)

	err = r.Close()
	var truncated *TruncatedHistoryError
	require.ErrorAs(t, err, &truncated)
	// Sorted chronologically.
	require.Len(t, truncated.Incomplete, 2)
	assert.Equal(t, Day{2016, 5, 12}, truncated.Incomplete[0])
	assert.Equal(t, Day{2016, 5, 13}, truncated.Incomplete[1])
	assert.Contains(t, err.Error(), "2016-05-12")
}

func TestAddAfterClose(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, r.Close())

	_, err := r.Add(packet(2016, 5, 12, 1, 0, "a\r\n"))
	assert.ErrorIs(t, err, ErrFinished)
}

func TestInvalidPackets(t *testing.T) {
	tests := []struct {
		name string
		pkt  *protocol.HistoryPacket
	}{
		{name: "zero expected count", pkt: packet(2016, 5, 12, 0, 0, "a")},
		{name: "sequence out of range", pkt: packet(2016, 5, 12, 2, 2, "a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler()
			_, err := r.Add(tt.pkt)
			assert.Error(t, err)
		})
	}
}

func TestChangedExpectedCount(t *testing.T) {
	r := NewReassembler()

	_, err := r.Add(packet(2016, 5, 12, 3, 0, "a"))
	require.NoError(t, err)
	_, err = r.Add(packet(2016, 5, 12, 2, 1, "b"))
	assert.Error(t, err)
}
