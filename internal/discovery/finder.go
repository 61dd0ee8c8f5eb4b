// Package discovery locates inverters on the local network. The server
// binds TCP port 1200 and broadcasts a discovery datagram to UDP port
// 1300; inverters that hear it connect back to the TCP port.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/protocol"
)

const (
	// DefaultListenAddr is the TCP address inverters connect back to.
	DefaultListenAddr = ":1200"
	// DefaultBroadcastAddr is the UDP destination of the discovery
	// datagram.
	DefaultBroadcastAddr = "255.255.255.255:1300"
	// DefaultInterval is the pause between discovery broadcasts while
	// waiting for a connection.
	DefaultInterval = 5 * time.Second
)

// bindRetryDelay is the wait between attempts to bind the listen port.
// The port may linger in TIME_WAIT from a previous run.
const bindRetryDelay = 2 * time.Second

// Config holds discovery settings. Zero values select the defaults.
type Config struct {
	ListenAddr    string
	BroadcastAddr string
	Interval      time.Duration
	// BindRetries is the number of extra bind attempts when the listen
	// port is taken. Negative disables retrying.
	BindRetries int
}

// Finder binds the inverter listen port and hands out connections from
// inverters that respond to the discovery broadcast.
type Finder struct {
	cfg      Config
	logger   zerolog.Logger
	listener *net.TCPListener
}

// NewFinder returns an unbound finder; call Listen before Accept.
func NewFinder(cfg Config) *Finder {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = DefaultBroadcastAddr
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BindRetries == 0 {
		cfg.BindRetries = 5
	}
	return &Finder{
		cfg:    cfg,
		logger: log.With().Str("component", "discovery").Logger(),
	}
}

// Listen binds the TCP listen port, retrying when the address is in use.
func (f *Finder) Listen(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.BindRetries; attempt++ {
		if attempt > 0 {
			f.logger.Warn().
				Err(lastErr).
				Str("addr", f.cfg.ListenAddr).
				Msg("Listen port taken, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bindRetryDelay):
			}
		}

		listener, err := net.Listen("tcp", f.cfg.ListenAddr)
		if err == nil {
			f.listener = listener.(*net.TCPListener)
			f.logger.Info().Str("addr", f.cfg.ListenAddr).Msg("Listening for inverters")
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("binding %s: %w", f.cfg.ListenAddr, lastErr)
}

// Addr returns the bound listen address.
func (f *Finder) Addr() net.Addr {
	return f.listener.Addr()
}

// Accept blocks until an inverter connects, broadcasting the discovery
// datagram every interval while waiting.
func (f *Finder) Accept(ctx context.Context) (net.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.broadcast(); err != nil {
			// Broadcast failures are not fatal: an inverter that already
			// knows the server can still connect.
			f.logger.Warn().Err(err).Msg("Discovery broadcast failed")
		}

		if err := f.listener.SetDeadline(time.Now().Add(f.cfg.Interval)); err != nil {
			return nil, err
		}
		conn, err := f.listener.Accept()
		if err == nil {
			f.logger.Info().
				Str("addr", conn.RemoteAddr().String()).
				Msg("Inverter connected")
			return conn, nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("accepting inverter connection: %w", err)
	}
}

// broadcast sends one discovery datagram.
func (f *Finder) broadcast() error {
	addr, err := net.ResolveUDPAddr("udp4", f.cfg.BroadcastAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Debug().Str("addr", f.cfg.BroadcastAddr).Msg("Broadcasting discovery message")
	_, err = conn.WriteTo(protocol.DiscoveryMessage(), addr)
	return err
}

// Close stops the listener, unblocking a pending Accept.
func (f *Finder) Close() error {
	if f.listener == nil {
		return nil
	}
	return f.listener.Close()
}
