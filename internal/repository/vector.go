package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// vectorModel maps to the episode_vectors table.
type vectorModel struct {
	EpisodeID  string
	Embedding  pgvector.Vector `gorm:"type:vector"`
	Model      string
	Dimensions int
	CreatedAt  time.Time
}

func (vectorModel) TableName() string {
	return "episode_vectors"
}

// VectorRepo owns the derived embedding index. Rows here are purged by the
// sacred cascade and are never required for an episode's primary fields.
type VectorRepo struct {
	db *gorm.DB
}

// NewVectorRepo returns a VectorRepo.
func NewVectorRepo(db *gorm.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

// UpsertVector stores or replaces the embedding for an episode.
func (r *VectorRepo) UpsertVector(ctx context.Context, episodeID string, embedding []float32, model string) error {
	if len(embedding) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO episode_vectors (episode_id, embedding, model, dimensions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (episode_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model,
		              dimensions = EXCLUDED.dimensions, created_at = now()`,
		episodeID, pgvector.NewVector(embedding), model, len(embedding),
	).Error
	if err != nil {
		return fmt.Errorf("failed to upsert episode vector: %w", err)
	}
	return nil
}

// SimilarEpisode is a vector search hit.
type SimilarEpisode struct {
	EpisodeID  string
	Similarity float64
}

// SearchSimilar returns episode ids by cosine similarity against the query
// embedding, scoped to the user. Sacred episodes never match: their vectors
// are deleted by the cascade, and the join filter covers any row racing the
// cascade.
func (r *VectorRepo) SearchSimilar(ctx context.Context, userID string, embedding []float32, topK int, threshold float64) ([]SimilarEpisode, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	vector := pgvector.NewVector(embedding)
	var results []SimilarEpisode
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT v.episode_id, 1 - (v.embedding <=> ?) AS similarity
			FROM episode_vectors v
			JOIN episodes e ON e.id = v.episode_id
			WHERE e.user_id = ?
			  AND e.sacred_flag = FALSE
			  AND 1 - (v.embedding <=> ?) > ?
			ORDER BY similarity DESC
			LIMIT ?`,
			vector, userID, vector, threshold, topK).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search similar episodes: %w", err)
	}
	return results, nil
}

// GetEmbedding returns the stored embedding for an episode, or nil when the
// episode has no vector.
func (r *VectorRepo) GetEmbedding(ctx context.Context, episodeID string) ([]float32, error) {
	var record vectorModel
	err := r.db.WithContext(ctx).
		Raw("SELECT episode_id, embedding, model, dimensions, created_at FROM episode_vectors WHERE episode_id = ?", episodeID).
		Scan(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query episode vector: %w", err)
	}
	if record.EpisodeID == "" {
		return nil, nil
	}
	return record.Embedding.Slice(), nil
}

// DeleteForEpisode removes the episode's vector row.
func (r *VectorRepo) DeleteForEpisode(ctx context.Context, episodeID string) error {
	err := r.db.WithContext(ctx).
		Exec("DELETE FROM episode_vectors WHERE episode_id = ?", episodeID).Error
	if err != nil {
		return fmt.Errorf("failed to delete episode vector: %w", err)
	}
	return nil
}
