package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soullab/bardic-engine/internal/types"
)

// Linker materializes link graph edges for a newly captured episode by
// running recognition against it and persisting symmetric edges to every
// candidate above the link threshold.
type Linker struct {
	episodes EpisodeStore
	links    LinkGraph
	vectors  VectorIndex
	engine   *Engine

	threshold float64
	logger    *slog.Logger
}

// NewLinker creates a linking service. Threshold is the minimum recognition
// score a candidate needs before an edge is written.
func NewLinker(episodes EpisodeStore, links LinkGraph, vectors VectorIndex, engine *Engine, threshold float64, logger *slog.Logger) *Linker {
	if threshold <= 0 {
		threshold = 0.35
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		episodes:  episodes,
		links:     links,
		vectors:   vectors,
		engine:    engine,
		threshold: threshold,
		logger:    logger,
	}
}

// GenerateLinks recognizes resonant episodes for the given episode and
// upserts an edge in each direction per candidate. It returns the number of
// edges newly created, so a re-run over an already linked episode reports
// zero. Sacred episodes grow no edges.
func (l *Linker) GenerateLinks(ctx context.Context, userID, episodeID string) (int, error) {
	ep, err := l.episodes.GetEpisode(ctx, userID, episodeID)
	if err != nil {
		return 0, err
	}
	if ep.SacredFlag {
		return 0, nil
	}

	embedding, err := l.vectors.GetEmbedding(ctx, episodeID)
	if err != nil {
		return 0, fmt.Errorf("failed to load embedding: %w", err)
	}

	tokens := append([]string{}, ep.SenseCues...)
	if ep.PlaceCue != "" {
		tokens = append(tokens, ep.PlaceCue)
	}

	candidates, err := l.engine.Recognize(ctx, RecognizeInput{
		UserID:    userID,
		Embedding: embedding,
		CueTokens: tokens,
		ExcludeID: episodeID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recognize resonant episodes: %w", err)
	}

	created := 0
	for _, cand := range candidates {
		if cand.Score < l.threshold {
			continue
		}
		weight := cand.Score
		if weight > 1 {
			weight = 1
		}
		for _, link := range []types.EpisodeLink{
			{SrcEpisodeID: episodeID, DstEpisodeID: cand.Episode.ID, Relation: types.RelationEchoes, Weight: weight},
			{SrcEpisodeID: cand.Episode.ID, DstEpisodeID: episodeID, Relation: types.RelationEchoes, Weight: weight},
		} {
			wasCreated, err := l.links.UpsertLink(ctx, link)
			if err != nil {
				return created, fmt.Errorf("failed to upsert link: %w", err)
			}
			if wasCreated {
				created++
			}
		}
	}

	if created > 0 {
		l.logger.Info("linked episode into graph",
			slog.String("episode_id", episodeID),
			slog.Int("links_created", created))
	}
	return created, nil
}
