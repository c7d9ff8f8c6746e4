// Package server exposes the bardic engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/soullab/bardic-engine/internal/memory"
	"github.com/soullab/bardic-engine/internal/types"
)

// EpisodeStore is the episode surface the handlers need.
type EpisodeStore interface {
	GetEpisode(ctx context.Context, userID, id string) (*types.Episode, error)
	CascadeSacred(ctx context.Context, userID, episodeID string) error
	UnmarkSacred(ctx context.Context, userID, episodeID string) error
}

// CueIndex is the cue surface the handlers need.
type CueIndex interface {
	StrongestCue(ctx context.Context, episodeID string) (*types.Cue, error)
}

// Capturer persists episodes from structured or free-text input.
type Capturer interface {
	CaptureEpisode(ctx context.Context, ep types.Episode, attachments []types.CueAttachment) (*memory.CaptureResult, error)
	CaptureText(ctx context.Context, userID, text string, occurredAt time.Time) (*memory.CaptureResult, error)
}

// Recaller answers recall queries.
type Recaller interface {
	Recall(ctx context.Context, req types.RecallRequest) (*types.MemoryField, error)
}

// Recognizer resolves link neighborhoods for the evidence endpoint.
type Recognizer interface {
	LinkedNeighbors(ctx context.Context, userID, episodeID string, limit int) ([]types.LinkedEpisode, error)
}

// Server is the bardic engine HTTP API server.
type Server struct {
	episodes EpisodeStore
	cues     CueIndex
	capture  Capturer
	recall   Recaller
	engine   Recognizer
	router   chi.Router
	logger   *slog.Logger
	version  string
	started  time.Time
}

// New creates a new Server.
func New(episodes EpisodeStore, cues CueIndex, capture Capturer, recall Recaller, engine Recognizer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		episodes: episodes,
		cues:     cues,
		capture:  capture,
		recall:   recall,
		engine:   engine,
		logger:   logger,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/capture", s.handleCapture)
		r.Post("/recall", s.handleRecall)

		r.Get("/episodes/{episodeID}", s.handleGetEpisode)
		r.Get("/episodes/{episodeID}/evidence", s.handleEvidence)
		r.Post("/episodes/{episodeID}/sacred", s.handleMarkSacred)
		r.Delete("/episodes/{episodeID}/sacred", s.handleUnmarkSacred)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *types.ValidationError
	var depErr *types.DependencyError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Error()})
	case errors.Is(err, types.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &depErr):
		s.logger.Error("dependency failure", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": depErr.Error()})
	default:
		s.logger.Error("request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
