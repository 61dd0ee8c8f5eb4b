// Package api provides the HTTP API of the solar monitor.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/domain"
)

// Server represents the HTTP API server for monitoring connected inverters.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	registry  domain.Registry
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, registry domain.Registry) *Server {
	apiServer := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		registry:  registry,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	apiServer.setupRoutes()
	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/inverters", s.handleListInverters).Methods("GET")
	api.HandleFunc("/inverters/{serial}", s.handleGetInverter).Methods("GET")
}

// Handler returns the HTTP handler (for testing).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}
	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"inverterCount": len(s.registry.All()),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListInverters returns all connected inverters.
func (s *Server) handleListInverters(w http.ResponseWriter, _ *http.Request) {
	inverters := s.registry.All()

	result := make([]map[string]interface{}, 0, len(inverters))
	for _, inv := range inverters {
		result = append(result, map[string]interface{}{
			"serial":      inv.Model.SerialNumber,
			"model":       inv.Model.ModelName,
			"addr":        inv.Addr,
			"connectedAt": inv.ConnectedAt,
			"lastSeen":    inv.LastSeen,
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"inverters": result,
		"count":     len(result),
	}, http.StatusOK)
}

// handleGetInverter returns one inverter with its latest reading.
func (s *Server) handleGetInverter(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]

	record, found := s.registry.Get(serial)
	if !found {
		s.writeError(w, "Inverter not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, record, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
