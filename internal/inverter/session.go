// Package inverter implements the request/response session with a single
// inverter over its TCP connection.
package inverter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/domain"
	"github.com/mhvis/solar/internal/history"
	"github.com/mhvis/solar/internal/protocol"
	"github.com/mhvis/solar/internal/status"
)

// ErrClosed is returned for operations on a session whose connection is
// gone.
var ErrClosed = errors.New("inverter session closed")

const (
	// DefaultReadTimeout bounds the wait for a single response frame.
	DefaultReadTimeout = 30 * time.Second
	// DefaultKeepAlive is the idle period after which a background
	// status request keeps the connection from going stale.
	DefaultKeepAlive = 11 * time.Second
)

// Config holds session tuning knobs. Zero values select the defaults; a
// negative KeepAlive disables the keep-alive loop.
type Config struct {
	ReadTimeout time.Duration
	KeepAlive   time.Duration
}

// Session drives the request/response protocol on one inverter
// connection. The protocol is strictly half-duplex, so all operations are
// serialized; concurrent calls block until the running operation
// finishes. Cancelling an operation's context closes the connection and
// ends the session.
type Session struct {
	conn        net.Conn
	logger      zerolog.Logger
	readTimeout time.Duration

	mu           sync.Mutex
	buf          []byte
	schema       status.Schema
	lastActivity time.Time

	// closed is guarded separately from mu so that Close and context
	// cancellation can break a blocked read without waiting for the
	// operation in flight.
	closeMu sync.Mutex
	closed  bool

	stopKeepAlive chan struct{}
	stopOnce      sync.Once
	keepAliveDone chan struct{}
}

// NewSession wraps an established inverter connection.
func NewSession(conn net.Conn, cfg Config) *Session {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	s := &Session{
		conn: conn,
		logger: log.With().
			Str("component", "inverter").
			Str("addr", conn.RemoteAddr().String()).
			Logger(),
		readTimeout:  cfg.ReadTimeout,
		lastActivity: time.Now(),
	}
	if cfg.KeepAlive > 0 {
		s.stopKeepAlive = make(chan struct{})
		s.keepAliveDone = make(chan struct{})
		go s.keepAliveLoop(cfg.KeepAlive)
	}
	return s
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() string {
	return s.conn.RemoteAddr().String()
}

// ModelInfo requests the inverter's identification data. Fields that fail
// to decode are logged and left empty.
func (s *Session) ModelInfo(ctx context.Context) (*domain.ModelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.request(ctx, protocol.ModelInfoRequest(), protocol.KindModelInfoResponse)
	if err != nil {
		return nil, err
	}
	model, fieldErrs := ParseModelInfo(frame.Payload)
	for _, ferr := range fieldErrs {
		s.logger.Warn().Err(ferr).Msg("Undecodable model info field")
	}
	if model == nil {
		return nil, fieldErrs[0]
	}
	return model, nil
}

// Status requests a status reading. The status schema is negotiated on
// the first call and cached for the connection's lifetime.
func (s *Session) Status(ctx context.Context) (*domain.StatusReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(ctx)
}

func (s *Session) statusLocked(ctx context.Context) (*domain.StatusReading, error) {
	if s.schema == nil {
		frame, err := s.request(ctx, protocol.StatusFormatRequest(), protocol.KindStatusFormatResponse)
		if err != nil {
			return nil, err
		}
		s.schema = status.Resolve(frame.Payload)
		s.logger.Debug().Int("fields", len(s.schema)).Msg("Negotiated status schema")
	}

	frame, err := s.request(ctx, protocol.StatusDataRequest(), protocol.KindStatusDataResponse)
	if err != nil {
		return nil, err
	}
	return status.Decode(s.schema, frame.Payload)
}

// History starts a historical data transfer for an inclusive range of
// years. It returns a stream of per-day record sets; the session is
// locked for other operations until the stream is exhausted or closed.
func (s *Session) History(ctx context.Context, startYear, endYear int) (*HistoryStream, error) {
	s.mu.Lock()

	if err := s.send(protocol.HistoryRequest(byte(startYear%100), byte(endYear%100))); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &HistoryStream{session: s, ctx: ctx, reassembler: history.NewReassembler()}, nil
}

// Close shuts the connection down, unblocking any operation in flight.
// It is safe to call more than once.
func (s *Session) Close() error {
	// Deliberately does not take the operation mutex: closing the
	// connection is what unblocks an operation stuck in a read or write.
	s.closeConn()
	if s.stopKeepAlive != nil {
		s.stopOnce.Do(func() { close(s.stopKeepAlive) })
		<-s.keepAliveDone
	}
	return nil
}

// closeConn marks the session closed and closes the connection, once. It
// reports whether this call was the one that closed it.
func (s *Session) closeConn() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.conn.Close()
	return true
}

func (s *Session) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// keepAliveLoop issues a status request whenever the connection has been
// idle for longer than the keep-alive period. Some inverters drop the
// connection without regular traffic.
func (s *Session) keepAliveLoop(period time.Duration) {
	defer close(s.keepAliveDone)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopKeepAlive:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idle := time.Since(s.lastActivity)
		if s.isClosed() {
			s.mu.Unlock()
			return
		}
		if idle < period {
			s.mu.Unlock()
			continue
		}
		_, err := s.statusLocked(context.Background())
		s.mu.Unlock()
		if err != nil {
			s.logger.Debug().Err(err).Msg("Keep-alive status request failed")
			if errors.Is(err, ErrClosed) {
				return
			}
		}
	}
}

// request sends a message and waits for the response of the wanted kind.
// Other valid frames arriving in between are logged and skipped. Must be
// called with the session lock held.
func (s *Session) request(ctx context.Context, message []byte, want protocol.MessageKind) (*protocol.Frame, error) {
	if err := s.send(message); err != nil {
		return nil, err
	}
	for {
		frame, err := s.readFrame(ctx)
		if err != nil {
			return nil, err
		}
		kind := protocol.Classify(frame.TypeID)
		if kind == want {
			return frame, nil
		}
		s.logger.Debug().
			Stringer("type_id", frame.TypeID).
			Stringer("kind", kind).
			Stringer("want", want).
			Msg("Skipping unexpected message")
	}
}

// send writes one encoded message. The write carries a deadline so that
// a stalled peer cannot block the session indefinitely. Must be called
// with the session lock held.
func (s *Session) send(message []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.lastActivity = time.Now()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return s.fail(err)
	}
	if _, err := s.conn.Write(message); err != nil {
		return s.fail(err)
	}
	return nil
}

// readFrame returns the next complete frame from the connection,
// resynchronizing past garbage and checksum failures. Must be called with
// the session lock held.
func (s *Session) readFrame(ctx context.Context) (*protocol.Frame, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(s.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, s.fail(err)
	}

	// A cancellation without a deadline must still unblock a pending
	// read, so a watcher closes the connection when the context ends.
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				s.closeConn()
			case <-stop:
			}
		}()
	}

	chunk := make([]byte, 4096)
	for {
		frame, consumed, err := protocol.Decode(s.buf)
		switch {
		case err == nil:
			s.buf = s.buf[consumed:]
			s.lastActivity = time.Now()
			return &frame, nil
		case errors.Is(err, protocol.ErrChecksumMismatch):
			s.logger.Warn().Msg("Dropping frame with checksum mismatch")
			s.buf = s.buf[consumed:]
			continue
		case errors.Is(err, protocol.ErrBadMarker), errors.Is(err, protocol.ErrMalformedLength):
			skip := protocol.Resync(s.buf)
			s.logger.Warn().Int("bytes", skip).Msg("Resynchronizing input stream")
			s.buf = s.buf[skip:]
			continue
		case errors.Is(err, protocol.ErrTruncated):
			// Need more bytes.
		default:
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil, s.fail(err)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("waiting for response: %w", err)
			}
			return nil, s.fail(err)
		}
	}
}

// fail marks the session terminally broken. The underlying error is
// logged once; callers see ErrClosed from then on.
func (s *Session) fail(err error) error {
	if s.closeConn() {
		s.logger.Info().Err(err).Msg("Inverter connection lost")
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
