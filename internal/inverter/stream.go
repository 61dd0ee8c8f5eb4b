package inverter

import (
	"context"
	"io"

	"github.com/mhvis/solar/internal/domain"
	"github.com/mhvis/solar/internal/history"
	"github.com/mhvis/solar/internal/protocol"
)

// HistoryStream yields the per-day record sets of one historical data
// transfer. The stream is finite and cannot be restarted; it holds the
// session's operation lock until it ends.
type HistoryStream struct {
	session     *Session
	ctx         context.Context
	reassembler *history.Reassembler
	done        bool
	err         error
}

// Next returns the next completed day. It returns io.EOF when the
// inverter ends the transfer, or a *history.TruncatedHistoryError when
// the transfer ended with days still missing packets.
func (h *HistoryStream) Next() (*domain.DayRecords, error) {
	if h.done {
		return nil, h.err
	}

	for {
		frame, err := h.session.readFrame(h.ctx)
		if err != nil {
			h.finish(err)
			return nil, err
		}

		switch kind := protocol.Classify(frame.TypeID); kind {
		case protocol.KindHistoryData:
			pkt, err := protocol.ParseHistoryPacket(frame.Payload)
			if err != nil {
				h.finish(err)
				return nil, err
			}
			day, err := h.reassembler.Add(pkt)
			if err != nil {
				h.finish(err)
				return nil, err
			}
			if day != nil {
				return day, nil
			}
		case protocol.KindHistoryClose:
			err := h.reassembler.Close()
			if err == nil {
				err = io.EOF
			}
			h.finish(err)
			return nil, err
		default:
			h.session.logger.Debug().
				Stringer("type_id", frame.TypeID).
				Stringer("kind", kind).
				Msg("Skipping unexpected message during history transfer")
		}
	}
}

// Close abandons the stream and releases the session for other
// operations. Further Next calls return io.EOF.
func (h *HistoryStream) Close() error {
	if !h.done {
		h.finish(io.EOF)
	}
	return nil
}

// finish ends the stream and releases the session lock, exactly once.
func (h *HistoryStream) finish(err error) {
	h.done = true
	h.err = err
	h.session.mu.Unlock()
}
