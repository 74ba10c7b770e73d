package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/config"
	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/metrics"
)

// Starter seeds a traversal and returns its job handle.
type Starter interface {
	StartCrawl(ctx context.Context, entityID string, level int) (string, error)
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the trigger and the entity store.
type Server struct {
	router   chi.Router
	starter  Starter
	entities crawler.EntityReader
	ready    ReadinessCheck
	logger   *zap.Logger
}

type crawlRequest struct {
	ChannelID string `json:"channel_id"`
	Level     *int   `json:"level"`
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	starter Starter,
	entities crawler.EntityReader,
	ready ReadinessCheck,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		starter:  starter,
		entities: entities,
		ready:    ready,
		logger:   logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawls", s.startCrawl)
		r.Get("/channels/{id}", s.getChannel)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	level := 1
	if req.Level != nil {
		level = *req.Level
	}

	jobID, err := s.starter.StartCrawl(r.Context(), req.ChannelID, level)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrInvalidArgument):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		case errors.Is(err, crawler.ErrStorageFailure):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entity, err := s.entities.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		s.logger.Error("channel lookup failed", zap.String("entity_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
