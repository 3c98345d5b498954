// Package gateway exposes the HTTP surface: health, metrics, agent
// webhooks, run history, and a websocket event feed.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/farid/orbit/pkg/events"
	"github.com/farid/orbit/pkg/scheduler"
)

// RunSource serves run history queries.
type RunSource interface {
	RecentRuns(ctx context.Context, agent string, limit int) ([]scheduler.Run, error)
}

// Server is the HTTP gateway.
type Server struct {
	port        int
	mux         *http.ServeMux
	server      *http.Server
	scheduler   *scheduler.Scheduler
	runs        RunSource
	broadcaster *Broadcaster
	logger      zerolog.Logger
	stopOnce    sync.Once
}

// Config holds server configuration.
type Config struct {
	Port           int
	Scheduler      *scheduler.Scheduler
	Runs           RunSource
	Bus            *events.Bus
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// NewServer creates the gateway with the built-in routes mounted.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	s := &Server{
		port:        cfg.Port,
		mux:         http.NewServeMux(),
		scheduler:   cfg.Scheduler,
		runs:        cfg.Runs,
		broadcaster: NewBroadcaster(cfg.Bus, cfg.Logger),
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/agents", s.handleAgents)
	s.mux.HandleFunc("/runs", s.handleRuns)
	s.mux.HandleFunc("/hooks/", s.handleWebhook)
	s.mux.HandleFunc("/events", s.broadcaster.HandleUpgrade)
	if cfg.MetricsHandler != nil {
		s.mux.Handle("/metrics", cfg.MetricsHandler)
	}

	return s, nil
}

// RegisterRoute mounts an additional handler. Must be called before Start.
func (s *Server) RegisterRoute(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.broadcaster.Start()

	s.logger.Info().Int("port", s.port).Msg("Gateway listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.broadcaster.Stop()
		if s.server != nil {
			err = s.server.Shutdown(ctx)
		}
		s.logger.Info().Msg("Gateway stopped")
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": s.scheduler.Agents(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history not available")
		return
	}

	runs, err := s.runs.RecentRuns(r.Context(), r.URL.Query().Get("agent"), 50)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load runs")
		s.writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleWebhook dispatches POST /hooks/<path> synchronously to the agent
// bound to that webhook path.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]interface{}{}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
	}

	result, err := s.scheduler.DispatchWebhook(r.Context(), r.URL.Path, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Webhook dispatch failed")
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}
