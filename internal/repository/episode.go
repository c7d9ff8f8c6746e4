package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soullab/bardic-engine/internal/types"
)

// episodeModel maps to the episodes table.
type episodeModel struct {
	ID          string
	UserID      string
	OccurredAt  time.Time
	SceneStanza string
	PlaceCue    string
	// SenseCues/People/AffectKeywords/ElementalState are stored as JSONB.
	SenseCues       json.RawMessage `gorm:"type:jsonb"`
	People          json.RawMessage `gorm:"type:jsonb"`
	AffectValence   float64
	AffectArousal   float64
	AffectKeywords  json.RawMessage `gorm:"type:jsonb"`
	ElementalState  json.RawMessage `gorm:"type:jsonb"`
	DominantElement string
	FacetCode       string
	SacredFlag      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (episodeModel) TableName() string {
	return "episodes"
}

// EpisodeRepo accesses episode data.
type EpisodeRepo struct {
	db *gorm.DB

	// cascadeFault, when set, fires between the cascade's delete steps.
	// Tests use it to verify the transaction commits or rolls back as a unit.
	cascadeFault func() error
}

// NewEpisodeRepo returns an EpisodeRepo.
func NewEpisodeRepo(db *gorm.DB) *EpisodeRepo {
	return &EpisodeRepo{db: db}
}

// CreateEpisode persists an episode and its inline cues in one transaction.
// Either everything commits or nothing does. The episode id is assigned here
// and returned; attachments reuse existing cue rows when the same token was
// registered before.
func (r *EpisodeRepo) CreateEpisode(ctx context.Context, ep types.Episode, attachments []types.CueAttachment) (string, error) {
	if err := ep.Validate(); err != nil {
		return "", err
	}

	record, err := episodeToModel(ep)
	if err != nil {
		return "", err
	}
	record.ID = uuid.NewString()
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to insert episode: %w", err)
		}
		for _, att := range attachments {
			if err := attachCueTx(tx, ep.UserID, record.ID, att); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// GetEpisode returns the episode scoped to its owner. Reads of another
// user's episode report not-found, never a permission error.
func (r *EpisodeRepo) GetEpisode(ctx context.Context, userID, id string) (*types.Episode, error) {
	var record episodeModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query episode: %w", err)
	}
	ep := episodeFromModel(record)
	return &ep, nil
}

// GetByIDs fetches episodes for the given ids, scoped to the user. Missing
// ids are silently absent from the result.
func (r *EpisodeRepo) GetByIDs(ctx context.Context, userID string, ids []string) ([]types.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []episodeModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query episodes by ids: %w", err)
	}
	return episodesFromModels(records), nil
}

// ListByFacet returns non-sacred episodes filtered by facet code, most
// recent first. When phase is unknown the element alone matches via
// dominant_element.
func (r *EpisodeRepo) ListByFacet(ctx context.Context, userID string, facet types.Facet, limit int) ([]types.Episode, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND sacred_flag = FALSE", userID).
		Order("occurred_at DESC").
		Limit(limit)
	if facet.Phase > 0 {
		query = query.Where("facet_code = ?", facet.Code())
	} else {
		query = query.Where("dominant_element = ?", facet.Element)
	}

	var records []episodeModel
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query episodes by facet: %w", err)
	}
	return episodesFromModels(records), nil
}

// ListByEmotion returns non-sacred episodes whose affect keywords contain
// the given emotion, most recent first.
func (r *EpisodeRepo) ListByEmotion(ctx context.Context, userID, emotion string, limit int) ([]types.Episode, error) {
	var records []episodeModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND sacred_flag = FALSE AND jsonb_exists(affect_keywords, ?)", userID, emotion).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query episodes by emotion: %w", err)
	}
	return episodesFromModels(records), nil
}

// ListByBodyRegion returns non-sacred episodes whose place cue or sense cues
// mention the given body region, most recent first.
func (r *EpisodeRepo) ListByBodyRegion(ctx context.Context, userID, region string, limit int) ([]types.Episode, error) {
	var records []episodeModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND sacred_flag = FALSE AND (place_cue ILIKE '%' || ? || '%' OR jsonb_exists(sense_cues, ?))",
			userID, region, region).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query episodes by body region: %w", err)
	}
	return episodesFromModels(records), nil
}

// CascadeSacred marks the episode sacred and purges its derived vectors and
// links as a single atomic unit. If any step fails, the whole cascade rolls
// back and a CascadeError is reported.
func (r *EpisodeRepo) CascadeSacred(ctx context.Context, userID, episodeID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			"UPDATE episodes SET sacred_flag = TRUE, updated_at = now() WHERE id = ? AND user_id = ?",
			episodeID, userID)
		if res.Error != nil {
			return fmt.Errorf("failed to set sacred flag: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return types.ErrNotFound
		}
		if err := tx.Exec("DELETE FROM episode_vectors WHERE episode_id = ?", episodeID).Error; err != nil {
			return fmt.Errorf("failed to delete episode vectors: %w", err)
		}
		if r.cascadeFault != nil {
			if err := r.cascadeFault(); err != nil {
				return err
			}
		}
		if err := tx.Exec(
			"DELETE FROM episode_links WHERE src_episode_id = ? OR dst_episode_id = ?",
			episodeID, episodeID).Error; err != nil {
			return fmt.Errorf("failed to delete episode links: %w", err)
		}
		return nil
	})
	if err == nil || errors.Is(err, types.ErrNotFound) {
		return err
	}
	return &types.CascadeError{EpisodeID: episodeID, Err: err}
}

// UnmarkSacred clears the flag only. Vectors and links deleted by the
// cascade are gone for good; future linking can rebuild derived state from
// the primary fields.
func (r *EpisodeRepo) UnmarkSacred(ctx context.Context, userID, episodeID string) error {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE episodes SET sacred_flag = FALSE, updated_at = now() WHERE id = ? AND user_id = ?",
		episodeID, userID)
	if res.Error != nil {
		return fmt.Errorf("failed to clear sacred flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func episodeToModel(ep types.Episode) (episodeModel, error) {
	senseCues, err := marshalJSON(types.DedupTokens(ep.SenseCues))
	if err != nil {
		return episodeModel{}, fmt.Errorf("failed to encode sense cues: %w", err)
	}
	people, err := marshalJSON(ep.People)
	if err != nil {
		return episodeModel{}, fmt.Errorf("failed to encode people: %w", err)
	}
	keywords, err := marshalJSON(types.DedupTokens(ep.AffectKeywords))
	if err != nil {
		return episodeModel{}, fmt.Errorf("failed to encode affect keywords: %w", err)
	}
	elemental, err := marshalJSON(ep.ElementalState)
	if err != nil {
		return episodeModel{}, fmt.Errorf("failed to encode elemental state: %w", err)
	}

	facetCode := ""
	if ep.Facet != nil {
		facetCode = ep.Facet.Code()
	}

	return episodeModel{
		ID:              ep.ID,
		UserID:          ep.UserID,
		OccurredAt:      ep.OccurredAt,
		SceneStanza:     ep.SceneStanza,
		PlaceCue:        ep.PlaceCue,
		SenseCues:       senseCues,
		People:          people,
		AffectValence:   ep.AffectValence,
		AffectArousal:   ep.AffectArousal,
		AffectKeywords:  keywords,
		ElementalState:  elemental,
		DominantElement: ep.DominantElement,
		FacetCode:       facetCode,
		SacredFlag:      ep.SacredFlag,
	}, nil
}

func episodeFromModel(model episodeModel) types.Episode {
	var senseCues, people, keywords []string
	var elemental *types.ElementalState
	_ = unmarshalJSON(model.SenseCues, &senseCues)
	_ = unmarshalJSON(model.People, &people)
	_ = unmarshalJSON(model.AffectKeywords, &keywords)
	_ = unmarshalJSON(model.ElementalState, &elemental)

	return types.Episode{
		ID:              model.ID,
		UserID:          model.UserID,
		OccurredAt:      model.OccurredAt,
		SceneStanza:     model.SceneStanza,
		PlaceCue:        model.PlaceCue,
		SenseCues:       senseCues,
		People:          people,
		AffectValence:   model.AffectValence,
		AffectArousal:   model.AffectArousal,
		AffectKeywords:  keywords,
		ElementalState:  elemental,
		DominantElement: model.DominantElement,
		Facet:           types.ParseFacetCode(model.FacetCode),
		SacredFlag:      model.SacredFlag,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func episodesFromModels(records []episodeModel) []types.Episode {
	results := make([]types.Episode, 0, len(records))
	for _, record := range records {
		results = append(results, episodeFromModel(record))
	}
	return results
}

// marshalJSON encodes a value into JSONB, returning nil for empty values.
func marshalJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// unmarshalJSON decodes JSONB into the provided target.
func unmarshalJSON(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
