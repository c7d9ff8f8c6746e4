package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soullab/bardic-engine/internal/types"
)

// Dimension names reported through MemoryField.Unavailable.
const (
	dimensionSemantic  = "semantic"
	dimensionFacet     = "facet"
	dimensionSomatic   = "somatic"
	dimensionEmotional = "emotional"
)

// RecallEngine answers multi-dimensional recall queries with a MemoryField.
// Each dimension runs independently; one failing or timing out degrades the
// field rather than failing the request.
type RecallEngine struct {
	episodes EpisodeStore
	vectors  VectorIndex
	links    LinkGraph
	embedder Embedder

	simThreshold     float64
	dimensionLimit   int
	nodeCeiling      int
	dimensionTimeout time.Duration
	logger           *slog.Logger
}

// RecallOptions tunes recall behavior.
type RecallOptions struct {
	SimilarityThreshold float64
	DimensionLimit      int
	NodeCeiling         int
	DimensionTimeout    time.Duration
	Logger              *slog.Logger
}

// NewRecallEngine creates a recall engine.
func NewRecallEngine(episodes EpisodeStore, vectors VectorIndex, links LinkGraph, embedder Embedder, opts RecallOptions) *RecallEngine {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}
	if opts.DimensionLimit <= 0 {
		opts.DimensionLimit = 25
	}
	if opts.NodeCeiling <= 0 {
		opts.NodeCeiling = 200
	}
	if opts.DimensionTimeout <= 0 {
		opts.DimensionTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RecallEngine{
		episodes:         episodes,
		vectors:          vectors,
		links:            links,
		embedder:         embedder,
		simThreshold:     opts.SimilarityThreshold,
		dimensionLimit:   opts.DimensionLimit,
		nodeCeiling:      opts.NodeCeiling,
		dimensionTimeout: opts.DimensionTimeout,
		logger:           opts.Logger,
	}
}

type dimensionResult struct {
	name     string
	episodes []types.Episode
	scores   []float64
	err      error
}

// Recall assembles a MemoryField from every dimension present on the
// request. Scores for an episode reached through several dimensions sum, so
// multi-dimensional hits rank above single-dimension ones.
func (r *RecallEngine) Recall(ctx context.Context, req types.RecallRequest) (*types.MemoryField, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	type dimensionFunc func(ctx context.Context) ([]types.Episode, []float64, error)
	dims := map[string]dimensionFunc{}

	if req.Query != "" {
		dims[dimensionSemantic] = func(ctx context.Context) ([]types.Episode, []float64, error) {
			return r.semanticDimension(ctx, req)
		}
	}
	if req.Facet != nil {
		dims[dimensionFacet] = func(ctx context.Context) ([]types.Episode, []float64, error) {
			eps, err := r.episodes.ListByFacet(ctx, req.UserID, *req.Facet, r.dimensionLimit)
			return eps, uniformScores(len(eps)), err
		}
	}
	if req.BodyRegion != "" {
		dims[dimensionSomatic] = func(ctx context.Context) ([]types.Episode, []float64, error) {
			eps, err := r.episodes.ListByBodyRegion(ctx, req.UserID, req.BodyRegion, r.dimensionLimit)
			return eps, uniformScores(len(eps)), err
		}
	}
	if req.Emotion != "" {
		dims[dimensionEmotional] = func(ctx context.Context) ([]types.Episode, []float64, error) {
			eps, err := r.episodes.ListByEmotion(ctx, req.UserID, req.Emotion, r.dimensionLimit)
			return eps, uniformScores(len(eps)), err
		}
	}

	results := make([]dimensionResult, 0, len(dims))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, fn := range dims {
		wg.Add(1)
		go func(name string, fn dimensionFunc) {
			defer wg.Done()
			dimCtx, cancel := context.WithTimeout(ctx, r.dimensionTimeout)
			defer cancel()
			eps, scores, err := fn(dimCtx)
			mu.Lock()
			results = append(results, dimensionResult{name: name, episodes: eps, scores: scores, err: err})
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	field := &types.MemoryField{
		FacetDistribution: map[string]int{},
		ModalityBalance:   map[string]int{},
	}

	type node struct {
		episode types.Episode
		score   float64
		signals map[string]bool
	}
	nodes := map[string]*node{}
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("recall dimension degraded",
				slog.String("dimension", res.name),
				slog.Any("error", res.err))
			field.Unavailable = append(field.Unavailable, res.name)
			continue
		}
		for i, ep := range res.episodes {
			if ep.SacredFlag {
				continue
			}
			n, ok := nodes[ep.ID]
			if !ok {
				n = &node{episode: ep, signals: map[string]bool{}}
				nodes[ep.ID] = n
			}
			n.score += res.scores[i]
			n.signals[res.name] = true
		}
	}
	sort.Strings(field.Unavailable)

	ranked := make([]types.RankedEpisode, 0, len(nodes))
	for _, n := range nodes {
		ranked = append(ranked, types.RankedEpisode{
			Episode: n.episode,
			Score:   n.score,
			Signals: sortedSignals(n.signals),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Episode.OccurredAt.After(ranked[j].Episode.OccurredAt)
	})
	if len(ranked) > r.nodeCeiling {
		ranked = ranked[:r.nodeCeiling]
	}
	field.Nodes = ranked

	r.assemblePatterns(ctx, field)
	return field, nil
}

func (r *RecallEngine) semanticDimension(ctx context.Context, req types.RecallRequest) ([]types.Episode, []float64, error) {
	text := req.Query
	if req.Intention != "" {
		text = strings.TrimSpace(req.Intention + ": " + req.Query)
	}
	embedding, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, nil, err
	}

	similar, err := r.vectors.SearchSimilar(ctx, req.UserID, embedding, r.dimensionLimit, r.simThreshold)
	if err != nil {
		return nil, nil, err
	}
	if len(similar) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, len(similar))
	scoreByID := make(map[string]float64, len(similar))
	for i, s := range similar {
		ids[i] = s.EpisodeID
		scoreByID[s.EpisodeID] = s.Similarity
	}
	episodes, err := r.episodes.GetByIDs(ctx, req.UserID, ids)
	if err != nil {
		return nil, nil, err
	}
	scores := make([]float64, len(episodes))
	for i, ep := range episodes {
		scores[i] = scoreByID[ep.ID]
	}
	return episodes, scores, nil
}

func uniformScores(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0
	}
	return scores
}
