package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soullab/bardic-engine/internal/types"
)

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string                `json:"user_id"`
		Episode     *types.Episode        `json:"episode,omitempty"`
		Attachments []types.CueAttachment `json:"attachments,omitempty"`
		Text        string                `json:"text,omitempty"`
		OccurredAt  time.Time             `json:"occurred_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	switch {
	case req.Episode != nil:
		if req.Episode.UserID == "" {
			req.Episode.UserID = req.UserID
		}
		result, err := s.capture.CaptureEpisode(r.Context(), *req.Episode, req.Attachments)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	case req.Text != "":
		result, err := s.capture.CaptureText(r.Context(), req.UserID, req.Text, req.OccurredAt)
		if err != nil {
			s.writeError(w, err)
			return
		}
		// Moments that do not crystallize are acknowledged, not stored.
		status := http.StatusAccepted
		if result.Captured {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "episode or text required"})
	}
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req types.RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	field, err := s.recall.Recall(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, field)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	ep, err := s.episodes.GetEpisode(r.Context(), userID, episodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// handleEvidence returns an episode with its strongest re-entry cue and its
// one-hop link neighborhood.
func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	ep, err := s.episodes.GetEpisode(r.Context(), userID, episodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	strongest, err := s.cues.StrongestCue(r.Context(), episodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	linked, err := s.engine.LinkedNeighbors(r.Context(), userID, episodeID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"episode":       ep,
		"strongest_cue": strongest,
		"linked":        linked,
	})
}

func (s *Server) handleMarkSacred(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	if err := s.episodes.CascadeSacred(r.Context(), userID, episodeID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sacred"})
}

func (s *Server) handleUnmarkSacred(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	if err := s.episodes.UnmarkSacred(r.Context(), userID, episodeID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "witnessed"})
}
