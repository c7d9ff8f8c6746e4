package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soullab/bardic-engine/internal/types"
)

// CaptureResult reports what happened to a capture request.
type CaptureResult struct {
	Captured     bool   `json:"captured"`
	EpisodeID    string `json:"episode_id,omitempty"`
	LinksCreated int    `json:"links_created"`

	// Degraded lists capture stages that were skipped after a dependency
	// failure. The episode itself is durable whenever Captured is true.
	Degraded []string `json:"degraded,omitempty"`
}

// CaptureService persists episodes, derives their vectors and grows the
// link graph. Embedding and linking are best effort: the episode write is
// the only stage allowed to fail the request.
type CaptureService struct {
	episodes     EpisodeStore
	vectors      VectorIndex
	embedder     Embedder
	linker       *Linker
	crystallizer Crystallizer

	embeddingModel string
	logger         *slog.Logger
}

// NewCaptureService creates a capture service. The crystallizer may be nil,
// which disables the free-text path.
func NewCaptureService(episodes EpisodeStore, vectors VectorIndex, embedder Embedder, linker *Linker, crystallizer Crystallizer, embeddingModel string, logger *slog.Logger) *CaptureService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureService{
		episodes:       episodes,
		vectors:        vectors,
		embedder:       embedder,
		linker:         linker,
		crystallizer:   crystallizer,
		embeddingModel: embeddingModel,
		logger:         logger,
	}
}

// CaptureEpisode stores a structured episode with its cue attachments, then
// embeds and links it.
func (s *CaptureService) CaptureEpisode(ctx context.Context, ep types.Episode, attachments []types.CueAttachment) (*CaptureResult, error) {
	ep.SenseCues = types.DedupTokens(ep.SenseCues)
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if err := att.Validate(); err != nil {
			return nil, err
		}
	}

	id, err := s.episodes.CreateEpisode(ctx, ep, attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to create episode: %w", err)
	}
	result := &CaptureResult{Captured: true, EpisodeID: id}

	if !ep.SacredFlag {
		s.embedAndLink(ctx, ep, id, result)
	}
	return result, nil
}

// CaptureText runs the crystallizer over a raw moment. Moments that do not
// crystallize, and moments arriving while no crystallizer is configured,
// return an uncaptured result without error.
func (s *CaptureService) CaptureText(ctx context.Context, userID, text string, occurredAt time.Time) (*CaptureResult, error) {
	if userID == "" {
		return nil, &types.ValidationError{Field: "user_id", Reason: "required"}
	}
	if s.crystallizer == nil {
		s.logger.Warn("text capture skipped, no crystallizer configured", slog.String("user_id", userID))
		return &CaptureResult{Captured: false, Degraded: []string{"crystallizer"}}, nil
	}

	decision, err := s.crystallizer.Crystallize(ctx, text)
	if err != nil {
		return nil, err
	}
	if !decision.ShouldCapture {
		return &CaptureResult{Captured: false}, nil
	}

	ep := types.Episode{
		UserID:          userID,
		OccurredAt:      occurredAt,
		SceneStanza:     decision.SceneStanza,
		PlaceCue:        decision.PlaceCue,
		SenseCues:       types.DedupTokens(decision.SenseCues),
		People:          decision.People,
		AffectValence:   decision.AffectValence,
		AffectArousal:   decision.AffectArousal,
		AffectKeywords:  decision.AffectKeywords,
		DominantElement: decision.DominantElement,
	}

	var attachments []types.CueAttachment
	if decision.PlaceCue != "" {
		attachments = append(attachments, types.CueAttachment{
			Type:    types.CueTypePlace,
			Words:   decision.PlaceCue,
			Potency: 0.8,
		})
	}
	for _, cue := range ep.SenseCues {
		attachments = append(attachments, types.CueAttachment{
			Type:    types.CueTypeOther,
			Words:   cue,
			Potency: 0.5,
		})
	}
	return s.CaptureEpisode(ctx, ep, attachments)
}

func (s *CaptureService) embedAndLink(ctx context.Context, ep types.Episode, id string, result *CaptureResult) {
	embedding, err := s.embedder.EmbedDocument(ctx, embeddingText(ep))
	if err != nil {
		s.logger.Warn("embedding degraded", slog.String("episode_id", id), slog.Any("error", err))
		result.Degraded = append(result.Degraded, "embedding")
	} else if len(embedding) > 0 {
		if err := s.vectors.UpsertVector(ctx, id, embedding, s.embeddingModel); err != nil {
			s.logger.Warn("vector write degraded", slog.String("episode_id", id), slog.Any("error", err))
			result.Degraded = append(result.Degraded, "embedding")
		}
	}

	created, err := s.linker.GenerateLinks(ctx, ep.UserID, id)
	if err != nil {
		s.logger.Warn("linking degraded", slog.String("episode_id", id), slog.Any("error", err))
		result.Degraded = append(result.Degraded, "linking")
		return
	}
	result.LinksCreated = created
}

// embeddingText concatenates the episode fields worth retrieving by.
func embeddingText(ep types.Episode) string {
	parts := []string{ep.SceneStanza}
	if ep.PlaceCue != "" {
		parts = append(parts, "place: "+ep.PlaceCue)
	}
	if len(ep.SenseCues) > 0 {
		parts = append(parts, "senses: "+strings.Join(ep.SenseCues, " ; "))
	}
	if len(ep.AffectKeywords) > 0 {
		parts = append(parts, "feeling: "+strings.Join(ep.AffectKeywords, " ; "))
	}
	if len(ep.People) > 0 {
		parts = append(parts, "with: "+strings.Join(ep.People, " ; "))
	}
	return strings.Join(parts, "\n")
}
