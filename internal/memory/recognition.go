package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/soullab/bardic-engine/internal/repository"
	"github.com/soullab/bardic-engine/internal/types"
)

// EpisodeStore is the episode persistence surface the engines depend on.
type EpisodeStore interface {
	CreateEpisode(ctx context.Context, ep types.Episode, attachments []types.CueAttachment) (string, error)
	GetEpisode(ctx context.Context, userID, id string) (*types.Episode, error)
	GetByIDs(ctx context.Context, userID string, ids []string) ([]types.Episode, error)
	ListByFacet(ctx context.Context, userID string, facet types.Facet, limit int) ([]types.Episode, error)
	ListByEmotion(ctx context.Context, userID, emotion string, limit int) ([]types.Episode, error)
	ListByBodyRegion(ctx context.Context, userID, region string, limit int) ([]types.Episode, error)
}

// CueIndex is the cue lookup surface.
type CueIndex interface {
	FindEpisodesByCues(ctx context.Context, userID string, tokens []string, limit int) ([]repository.CueMatch, error)
	StrongestCue(ctx context.Context, episodeID string) (*types.Cue, error)
}

// LinkGraph is the link graph surface.
type LinkGraph interface {
	UpsertLink(ctx context.Context, link types.EpisodeLink) (bool, error)
	Expand(ctx context.Context, userID string, seedIDs []string, limit int) ([]types.EpisodeLink, error)
	LinksAmong(ctx context.Context, ids []string) ([]types.EpisodeLink, error)
}

// VectorIndex is the embedding storage surface.
type VectorIndex interface {
	UpsertVector(ctx context.Context, episodeID string, embedding []float32, model string) error
	SearchSimilar(ctx context.Context, userID string, embedding []float32, topK int, threshold float64) ([]repository.SimilarEpisode, error)
	GetEmbedding(ctx context.Context, episodeID string) ([]float32, error)
}

// RecognizeInput carries the candidate sources for one recognition pass.
// Any combination may be set; empty sources contribute nothing.
type RecognizeInput struct {
	UserID string

	// CandidateIDs are episodes already judged relevant upstream. They enter
	// scoring at full strength.
	CandidateIDs []string

	// Embedding triggers vector similarity search when present.
	Embedding []float32

	// CueTokens triggers sense-cue overlap matching.
	CueTokens []string

	// ExcludeID removes one episode from the results, typically the episode
	// recognition is running on behalf of.
	ExcludeID string

	Limit int
}

const (
	signalExplicit = "explicit"
	signalVector   = "vector"
	signalCue      = "cue"
	signalLink     = "link"
)

// Engine ranks candidate episodes and widens the result set through the
// link graph.
type Engine struct {
	episodes EpisodeStore
	cues     CueIndex
	links    LinkGraph
	vectors  VectorIndex

	topK              int
	simThreshold      float64
	expansionDiscount float64
	expansionSeeds    int
	logger            *slog.Logger
}

// EngineOptions tunes recognition behavior.
type EngineOptions struct {
	TopK                int
	SimilarityThreshold float64
	ExpansionDiscount   float64
	ExpansionSeeds      int
	Logger              *slog.Logger
}

// NewEngine creates a recognition engine.
func NewEngine(episodes EpisodeStore, cues CueIndex, links LinkGraph, vectors VectorIndex, opts EngineOptions) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}
	if opts.ExpansionDiscount <= 0 {
		opts.ExpansionDiscount = 0.5
	}
	if opts.ExpansionSeeds <= 0 {
		opts.ExpansionSeeds = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		episodes:          episodes,
		cues:              cues,
		links:             links,
		vectors:           vectors,
		topK:              opts.TopK,
		simThreshold:      opts.SimilarityThreshold,
		expansionDiscount: opts.ExpansionDiscount,
		expansionSeeds:    opts.ExpansionSeeds,
		logger:            opts.Logger,
	}
}

type candidate struct {
	score   float64
	signals map[string]bool
}

// Recognize merges explicit, vector and cue candidates, keeps the highest
// score per episode, then expands the top seeds one hop through the link
// graph at a discount. Results come back ranked, best first.
func (e *Engine) Recognize(ctx context.Context, in RecognizeInput) ([]types.RankedEpisode, error) {
	if in.UserID == "" {
		return nil, &types.ValidationError{Field: "user_id", Reason: "required"}
	}
	limit := in.Limit
	if limit <= 0 {
		limit = e.topK
	}

	merged := map[string]*candidate{}
	record := func(id string, score float64, signal string) {
		if id == "" || id == in.ExcludeID {
			return
		}
		c, ok := merged[id]
		if !ok {
			c = &candidate{signals: map[string]bool{}}
			merged[id] = c
		}
		if score > c.score {
			c.score = score
		}
		c.signals[signal] = true
	}

	for _, id := range in.CandidateIDs {
		record(id, 1.0, signalExplicit)
	}

	if len(in.Embedding) > 0 {
		similar, err := e.vectors.SearchSimilar(ctx, in.UserID, in.Embedding, e.topK, e.simThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to search similar episodes: %w", err)
		}
		for _, s := range similar {
			record(s.EpisodeID, s.Similarity, signalVector)
		}
	}

	if tokens := types.DedupTokens(in.CueTokens); len(tokens) > 0 {
		matches, err := e.cues.FindEpisodesByCues(ctx, in.UserID, tokens, e.topK)
		if err != nil {
			return nil, fmt.Errorf("failed to match cues: %w", err)
		}
		for _, m := range matches {
			// Overlap ratio grows with every extra shared cue and never
			// exceeds 1.
			record(m.Episode.ID, float64(m.Overlap)/float64(len(tokens)), signalCue)
		}
	}

	// Expand the strongest seeds one hop. Expanded episodes inherit a
	// discounted fraction of their seed's score, scaled by edge weight.
	seeds := topSeeds(merged, e.expansionSeeds)
	if len(seeds) > 0 {
		edges, err := e.links.Expand(ctx, in.UserID, seeds, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to expand link graph: %w", err)
		}
		for _, edge := range edges {
			seedID, otherID := edge.SrcEpisodeID, edge.DstEpisodeID
			if _, ok := merged[seedID]; !ok {
				seedID, otherID = edge.DstEpisodeID, edge.SrcEpisodeID
			}
			seed, ok := merged[seedID]
			if !ok {
				continue
			}
			if _, already := merged[otherID]; already {
				continue
			}
			record(otherID, seed.score*e.expansionDiscount*edge.Weight, signalLink)
		}
	}

	if len(merged) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	episodes, err := e.episodes.GetByIDs(ctx, in.UserID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate episodes: %w", err)
	}

	ranked := make([]types.RankedEpisode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.SacredFlag {
			continue
		}
		c := merged[ep.ID]
		if c == nil {
			continue
		}
		ranked = append(ranked, types.RankedEpisode{
			Episode: ep,
			Score:   c.score,
			Signals: sortedSignals(c.signals),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Episode.OccurredAt.After(ranked[j].Episode.OccurredAt)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// LinkedNeighbors returns the one-hop neighborhood of an episode together
// with the edge that reached each neighbor. Used by the evidence endpoint.
func (e *Engine) LinkedNeighbors(ctx context.Context, userID, episodeID string, limit int) ([]types.LinkedEpisode, error) {
	if limit <= 0 {
		limit = e.topK
	}
	edges, err := e.links.Expand(ctx, userID, []string{episodeID}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expand link graph: %w", err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(edges))
	edgeFor := map[string]types.EpisodeLink{}
	for _, edge := range edges {
		otherID := edge.DstEpisodeID
		if otherID == episodeID {
			otherID = edge.SrcEpisodeID
		}
		if _, seen := edgeFor[otherID]; seen {
			continue
		}
		edgeFor[otherID] = edge
		ids = append(ids, otherID)
	}

	episodes, err := e.episodes.GetByIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked episodes: %w", err)
	}

	linked := make([]types.LinkedEpisode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.SacredFlag {
			continue
		}
		edge := edgeFor[ep.ID]
		linked = append(linked, types.LinkedEpisode{
			Episode:  ep,
			SeedID:   episodeID,
			Relation: edge.Relation,
			Weight:   edge.Weight,
		})
	}
	sort.SliceStable(linked, func(i, j int) bool {
		return linked[i].Weight > linked[j].Weight
	})
	return linked, nil
}

func topSeeds(merged map[string]*candidate, n int) []string {
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if merged[ids[i]].score != merged[ids[j]].score {
			return merged[ids[i]].score > merged[ids[j]].score
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func sortedSignals(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
