// Package service provides implementation of the core monitoring server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/api"
	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/discovery"
	"github.com/mhvis/solar/internal/domain"
	"github.com/mhvis/solar/internal/inverter"
)

// MonitorServer discovers inverters, polls their status and fans the
// readings out to the configured publishers.
type MonitorServer struct {
	config     *config.Config
	finder     *discovery.Finder
	apiServer  *api.Server
	publisher  domain.StatusPublisher
	monitoring domain.MonitoringService
	writer     domain.TimeSeriesWriter
	registry   domain.Registry

	sessions     map[string]*inverter.Session
	sessionMutex sync.Mutex
	done         chan struct{}
	wg           sync.WaitGroup
	logger       zerolog.Logger
}

// NewMonitorServer creates a new monitoring server instance.
func NewMonitorServer(cfg *config.Config, publisher domain.StatusPublisher,
	monitoring domain.MonitoringService, writer domain.TimeSeriesWriter) (*MonitorServer, error) {
	registry := domain.NewInverterRegistry()

	server := &MonitorServer{
		config: cfg,
		finder: discovery.NewFinder(discovery.Config{
			ListenAddr:    cfg.Discovery.ListenAddr,
			BroadcastAddr: cfg.Discovery.BroadcastAddr,
			Interval:      cfg.Discovery.Interval,
		}),
		publisher:  publisher,
		monitoring: monitoring,
		writer:     writer,
		registry:   registry,
		sessions:   make(map[string]*inverter.Session),
		done:       make(chan struct{}),
		logger:     log.With().Str("component", "server").Logger(),
	}

	// Initialize HTTP API server if enabled.
	if cfg.API.Enabled {
		server.apiServer = api.NewServer(cfg, registry)
	}

	return server, nil
}

// Registry exposes the inverter registry.
func (s *MonitorServer) Registry() domain.Registry {
	return s.registry
}

// DiscoveryAddr returns the bound inverter listen address. Only valid
// after Start.
func (s *MonitorServer) DiscoveryAddr() net.Addr {
	return s.finder.Addr()
}

// Start initializes and starts all server components.
func (s *MonitorServer) Start(ctx context.Context) error {
	if err := s.finder.Listen(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	if err := s.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect publisher: %w", err)
	}

	// Start HTTP API server if enabled.
	if s.apiServer != nil {
		if err := s.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	s.logger.Info().Msg("Server started")

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	return nil
}

// Stop gracefully shuts down all server components.
func (s *MonitorServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping server")

	// Signal shutdown
	close(s.done)

	if err := s.finder.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close discovery listener")
	}

	// Close all inverter sessions
	s.sessionMutex.Lock()
	for serial, session := range s.sessions {
		if err := session.Close(); err != nil {
			s.logger.Error().
				Str("serial", serial).
				Err(err).
				Msg("Failed to close inverter session")
		}
	}
	s.sessionMutex.Unlock()

	// Stop API server
	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	s.wg.Wait()

	// Close publishers
	if err := s.publisher.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close status publisher")
	}
	if err := s.monitoring.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close monitoring service")
	}
	if err := s.writer.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close time-series writer")
	}

	return nil
}

// acceptConnections hands discovered inverters off to their own poll
// loop.
func (s *MonitorServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.finder.Accept(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("Failed to accept inverter connection")
			continue
		}

		if !s.allowedIP(conn) {
			s.logger.Info().
				Str("addr", conn.RemoteAddr().String()).
				Msg("Rejecting inverter, address not in filter")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleInverter(ctx, conn)
		}()
	}
}

// handleInverter performs the handshake and runs the poll loop until the
// session dies or the server stops.
func (s *MonitorServer) handleInverter(ctx context.Context, conn net.Conn) {
	session := inverter.NewSession(conn, inverter.Config{
		ReadTimeout: s.config.ReadTimeout,
		KeepAlive:   s.config.KeepAlive,
	})
	defer session.Close()

	model, err := session.ModelInfo(ctx)
	if err != nil {
		s.logger.Warn().
			Str("addr", session.Addr()).
			Err(err).
			Msg("Handshake with inverter failed")
		return
	}
	serial := model.SerialNumber
	logger := s.logger.With().Str("serial", serial).Str("addr", session.Addr()).Logger()

	if !s.allowedSerial(serial) {
		logger.Info().Msg("Rejecting inverter, serial not in filter")
		return
	}

	s.sessionMutex.Lock()
	if old, exists := s.sessions[serial]; exists {
		// The inverter reconnected; the stale session is replaced.
		old.Close()
	}
	s.sessions[serial] = session
	s.sessionMutex.Unlock()

	s.registry.Register(model, session.Addr())
	logger.Info().
		Str("model", model.ModelName).
		Str("device_type", model.DeviceTypeName).
		Msg("Inverter registered")

	s.pollLoop(ctx, logger, serial, session)

	s.sessionMutex.Lock()
	if s.sessions[serial] == session {
		delete(s.sessions, serial)
		s.registry.Remove(serial)
	}
	s.sessionMutex.Unlock()
}

// pollLoop requests a status reading every poll interval and publishes
// it. It returns when the session is terminally broken or the server
// stops.
func (s *MonitorServer) pollLoop(ctx context.Context, logger zerolog.Logger, serial string, session *inverter.Session) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		reading, err := session.Status(ctx)
		switch {
		case errors.Is(err, inverter.ErrClosed):
			logger.Info().Msg("Inverter disconnected")
			return
		case err != nil:
			logger.Warn().Err(err).Msg("Status request failed")
		default:
			s.registry.UpdateReading(serial, reading)
			s.publish(ctx, logger, serial, reading)
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// publish fans one reading out to all configured sinks.
func (s *MonitorServer) publish(ctx context.Context, logger zerolog.Logger, serial string, reading *domain.StatusReading) {
	if err := s.publisher.Publish(ctx, serial, reading); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish reading")
	}
	if err := s.writer.Write(ctx, serial, reading); err != nil {
		logger.Warn().Err(err).Msg("Failed to write reading to time series")
	}

	// The monitoring service gets the latest reading of every connected
	// inverter so it can aggregate the whole system.
	var readings []*domain.StatusReading
	for _, record := range s.registry.All() {
		if record.LastReading != nil {
			readings = append(readings, record.LastReading)
		}
	}
	if err := s.monitoring.Send(ctx, readings); err != nil {
		logger.Warn().Err(err).Msg("Failed to send readings to monitoring service")
	}
}

// allowedSerial checks the serial filter. An empty filter accepts all.
func (s *MonitorServer) allowedSerial(serial string) bool {
	if len(s.config.Filter.Serials) == 0 {
		return true
	}
	for _, allowed := range s.config.Filter.Serials {
		if allowed == serial {
			return true
		}
	}
	return false
}

// allowedIP checks the IP filter. An empty filter accepts all.
func (s *MonitorServer) allowedIP(conn net.Conn) bool {
	if len(s.config.Filter.IPs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	for _, allowed := range s.config.Filter.IPs {
		if allowed == host {
			return true
		}
	}
	return false
}
