package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/soullab/bardic-engine/internal/types"
)

// linkModel maps to the episode_links table.
type linkModel struct {
	SrcEpisodeID string
	DstEpisodeID string
	Relation     string
	Weight       float64
	CreatedAt    time.Time
}

func (linkModel) TableName() string {
	return "episode_links"
}

// LinkRepo accesses the episode link graph.
type LinkRepo struct {
	db *gorm.DB
}

// NewLinkRepo returns a LinkRepo.
func NewLinkRepo(db *gorm.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

// UpsertLink writes a directed edge keyed by (src, dst, relation). An
// existing edge gets its weight refreshed instead of a duplicate row; the
// returned flag reports whether a new edge was actually created, so callers
// can count genuinely new links. Concurrent upserts of the same key are safe
// without application locking.
func (r *LinkRepo) UpsertLink(ctx context.Context, link types.EpisodeLink) (bool, error) {
	if err := link.Validate(); err != nil {
		return false, err
	}

	// xmax = 0 only holds for freshly inserted rows.
	var row struct{ Created bool }
	err := r.db.WithContext(ctx).
		Raw(`
			INSERT INTO episode_links (src_episode_id, dst_episode_id, relation, weight)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (src_episode_id, dst_episode_id, relation)
			DO UPDATE SET weight = EXCLUDED.weight
			RETURNING (xmax = 0) AS created`,
			link.SrcEpisodeID, link.DstEpisodeID, link.Relation, link.Weight).
		Scan(&row).Error
	if err != nil {
		return false, fmt.Errorf("failed to upsert link: %w", err)
	}
	return row.Created, nil
}

// Expand follows outgoing edges from the seed set, strongest first, up to a
// global limit across all seeds. Edges into sacred episodes are invisible.
func (r *LinkRepo) Expand(ctx context.Context, userID string, seedIDs []string, limit int) ([]types.EpisodeLink, error) {
	if len(seedIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	var records []linkModel
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT l.src_episode_id, l.dst_episode_id, l.relation, l.weight, l.created_at
			FROM episode_links l
			JOIN episodes e ON e.id = l.dst_episode_id
			WHERE l.src_episode_id = ANY(?::text[])
			  AND e.user_id = ?
			  AND e.sacred_flag = FALSE
			ORDER BY l.weight DESC
			LIMIT ?`,
			textArray(seedIDs), userID, limit).
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to expand links: %w", err)
	}
	return linksFromModels(records), nil
}

// LinksForEpisode returns every edge touching the episode, both directions.
func (r *LinkRepo) LinksForEpisode(ctx context.Context, episodeID string) ([]types.EpisodeLink, error) {
	var records []linkModel
	err := r.db.WithContext(ctx).
		Where("src_episode_id = ? OR dst_episode_id = ?", episodeID, episodeID).
		Order("weight DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query links for episode: %w", err)
	}
	return linksFromModels(records), nil
}

// LinksAmong returns edges whose endpoints both fall inside the given id
// set. Used to weave integration threads through a recall result.
func (r *LinkRepo) LinksAmong(ctx context.Context, ids []string) ([]types.EpisodeLink, error) {
	if len(ids) < 2 {
		return nil, nil
	}
	var records []linkModel
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT src_episode_id, dst_episode_id, relation, weight, created_at
			FROM episode_links
			WHERE src_episode_id = ANY(?::text[])
			  AND dst_episode_id = ANY(?::text[])
			ORDER BY created_at`,
			textArray(ids), textArray(ids)).
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query links among episodes: %w", err)
	}
	return linksFromModels(records), nil
}

// DeleteLinksForEpisode removes every edge where the episode is either
// endpoint.
func (r *LinkRepo) DeleteLinksForEpisode(ctx context.Context, episodeID string) error {
	err := r.db.WithContext(ctx).
		Exec("DELETE FROM episode_links WHERE src_episode_id = ? OR dst_episode_id = ?",
			episodeID, episodeID).Error
	if err != nil {
		return fmt.Errorf("failed to delete links for episode: %w", err)
	}
	return nil
}

// textArray renders values as a Postgres text[] literal so the set binds as
// one parameter. gorm expands a Go slice bound to ? into one placeholder per
// element, which ANY() and jsonb_exists_any cannot accept.
func textArray(values []string) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		for _, r := range v {
			if r == '\\' || r == '"' {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		}
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func linksFromModels(records []linkModel) []types.EpisodeLink {
	results := make([]types.EpisodeLink, 0, len(records))
	for _, record := range records {
		results = append(results, types.EpisodeLink{
			SrcEpisodeID: record.SrcEpisodeID,
			DstEpisodeID: record.DstEpisodeID,
			Relation:     record.Relation,
			Weight:       record.Weight,
			CreatedAt:    record.CreatedAt,
		})
	}
	return results
}
