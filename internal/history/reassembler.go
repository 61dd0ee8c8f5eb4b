// Package history reassembles multi-packet historical data transfers.
// The inverter splits each day's telemetry log over several packets that
// may arrive out of order or duplicated; only the close frame marks the
// end of the whole transfer.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mhvis/solar/internal/domain"
	"github.com/mhvis/solar/internal/protocol"
)

// ErrFinished is returned when packets arrive after Close.
var ErrFinished = errors.New("history transfer already finished")

// Day identifies one calendar day of a transfer.
type Day struct {
	Year  int
	Month int
	Day   int
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// TruncatedHistoryError reports a transfer that was closed while some
// days were still missing packets.
type TruncatedHistoryError struct {
	Incomplete []Day
}

func (e *TruncatedHistoryError) Error() string {
	days := make([]string, len(e.Incomplete))
	for i, d := range e.Incomplete {
		days[i] = d.String()
	}
	return fmt.Sprintf("history transfer truncated, incomplete days: %s", strings.Join(days, ", "))
}

// dayBuffer accumulates the fragments of one day.
type dayBuffer struct {
	expected  uint16
	fragments map[uint16][]byte
}

func (b *dayBuffer) complete() bool {
	return len(b.fragments) == int(b.expected)
}

// Reassembler accumulates history packets into per-day record sets. It is
// not safe for concurrent use; the session feeds it from a single
// goroutine.
type Reassembler struct {
	buffers  map[Day]*dayBuffer
	finished bool
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{buffers: make(map[Day]*dayBuffer)}
}

// Add feeds one packet into the reassembler. When the packet completes a
// day, that day's records are returned and its buffer is dropped; until
// then the result is nil. Duplicate sequence numbers are ignored.
func (r *Reassembler) Add(pkt *protocol.HistoryPacket) (*domain.DayRecords, error) {
	if r.finished {
		return nil, ErrFinished
	}
	if pkt.ExpectedCount == 0 {
		return nil, fmt.Errorf("history packet for %v declares zero packets", Day{pkt.Year, pkt.Month, pkt.Day})
	}
	if pkt.Sequence >= pkt.ExpectedCount {
		return nil, fmt.Errorf("history packet sequence %d out of range, day has %d packets", pkt.Sequence, pkt.ExpectedCount)
	}

	day := Day{Year: pkt.Year, Month: pkt.Month, Day: pkt.Day}
	buf, ok := r.buffers[day]
	if !ok {
		buf = &dayBuffer{expected: pkt.ExpectedCount, fragments: make(map[uint16][]byte)}
		r.buffers[day] = buf
	} else if buf.expected != pkt.ExpectedCount {
		return nil, fmt.Errorf("history packet for %v changed packet count from %d to %d", day, buf.expected, pkt.ExpectedCount)
	}

	if _, dup := buf.fragments[pkt.Sequence]; !dup {
		buf.fragments[pkt.Sequence] = pkt.Fragment
	}
	if !buf.complete() {
		return nil, nil
	}

	delete(r.buffers, day)
	return assemble(day, buf)
}

// Close ends the transfer. If any day is still incomplete it returns a
// TruncatedHistoryError naming those days.
func (r *Reassembler) Close() error {
	r.finished = true
	if len(r.buffers) == 0 {
		return nil
	}

	days := make([]Day, 0, len(r.buffers))
	for day := range r.buffers {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Year != days[j].Year {
			return days[i].Year < days[j].Year
		}
		if days[i].Month != days[j].Month {
			return days[i].Month < days[j].Month
		}
		return days[i].Day < days[j].Day
	})
	return &TruncatedHistoryError{Incomplete: days}
}

// assemble concatenates the fragments in sequence order and parses the
// day's CSV record log.
func assemble(day Day, buf *dayBuffer) (*domain.DayRecords, error) {
	var sb strings.Builder
	for seq := uint16(0); seq < buf.expected; seq++ {
		sb.Write(buf.fragments[seq])
	}

	reader := csv.NewReader(strings.NewReader(sb.String()))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing records for %v: %w", day, err)
	}
	return &domain.DayRecords{
		Year:    day.Year,
		Month:   day.Month,
		Day:     day.Day,
		Records: records,
	}, nil
}
