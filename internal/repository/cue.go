package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soullab/bardic-engine/internal/types"
)

// cueModel maps to the cues table.
type cueModel struct {
	ID        string
	UserID    string
	CueType   string
	UserWords string
	MediaRef  string
	CreatedAt time.Time
}

func (cueModel) TableName() string {
	return "cues"
}

// episodeCueModel maps to the episode_cues join table.
type episodeCueModel struct {
	EpisodeID  string
	CueID      string
	Potency    float64
	AttachedAt time.Time
}

func (episodeCueModel) TableName() string {
	return "episode_cues"
}

// CueRepo accesses cue data and the cue index over episodes.
type CueRepo struct {
	db *gorm.DB
}

// NewCueRepo returns a CueRepo.
func NewCueRepo(db *gorm.DB) *CueRepo {
	return &CueRepo{db: db}
}

// AttachCue registers (or reuses) a cue for the user and joins it to the
// episode with the given potency. Re-attaching the same cue refreshes its
// potency and attach time.
func (r *CueRepo) AttachCue(ctx context.Context, userID, episodeID string, att types.CueAttachment) error {
	if err := att.Validate(); err != nil {
		return err
	}

	var exists int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM episodes WHERE id = ? AND user_id = ?", episodeID, userID).
		Scan(&exists).Error; err != nil {
		return fmt.Errorf("failed to check episode: %w", err)
	}
	if exists == 0 {
		return types.ErrNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return attachCueTx(tx, userID, episodeID, att)
	})
}

// attachCueTx performs the cue find-or-create and join upsert inside the
// caller's transaction, so inline capture cues commit with their episode.
func attachCueTx(tx *gorm.DB, userID, episodeID string, att types.CueAttachment) error {
	if att.Type == "" {
		att.Type = types.CueTypeOther
	}

	var row struct{ ID string }
	err := tx.Raw(`
		INSERT INTO cues (id, user_id, cue_type, user_words, media_ref)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, cue_type, COALESCE(user_words, ''))
		DO UPDATE SET media_ref = COALESCE(NULLIF(EXCLUDED.media_ref, ''), cues.media_ref)
		RETURNING id`,
		uuid.NewString(), userID, att.Type, att.Words, att.MediaRef,
	).Scan(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cue: %w", err)
	}

	err = tx.Exec(`
		INSERT INTO episode_cues (episode_id, cue_id, potency, attached_at)
		VALUES (?, ?, ?, now())
		ON CONFLICT (episode_id, cue_id)
		DO UPDATE SET potency = EXCLUDED.potency, attached_at = now()`,
		episodeID, row.ID, att.Potency,
	).Error
	if err != nil {
		return fmt.Errorf("failed to attach cue: %w", err)
	}
	return nil
}

// StrongestCue returns the cue with the highest potency for the episode, or
// nil when the episode has no cues. Ties break toward the most recently
// attached cue.
func (r *CueRepo) StrongestCue(ctx context.Context, episodeID string) (*types.Cue, error) {
	var record cueModel
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT c.id, c.user_id, c.cue_type, c.user_words, c.media_ref, c.created_at
			FROM episode_cues ec
			JOIN cues c ON c.id = ec.cue_id
			WHERE ec.episode_id = ?
			ORDER BY ec.potency DESC, ec.attached_at DESC
			LIMIT 1`, episodeID).
		Scan(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query strongest cue: %w", err)
	}
	if record.ID == "" {
		return nil, nil
	}
	cue := cueFromModel(record)
	return &cue, nil
}

// CuesForEpisode returns all cues joined to the episode, strongest first.
func (r *CueRepo) CuesForEpisode(ctx context.Context, episodeID string) ([]types.Cue, error) {
	var records []cueModel
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT c.id, c.user_id, c.cue_type, c.user_words, c.media_ref, c.created_at
			FROM episode_cues ec
			JOIN cues c ON c.id = ec.cue_id
			WHERE ec.episode_id = ?
			ORDER BY ec.potency DESC, ec.attached_at DESC`, episodeID).
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query episode cues: %w", err)
	}
	results := make([]types.Cue, 0, len(records))
	for _, record := range records {
		results = append(results, cueFromModel(record))
	}
	return results, nil
}

// CueMatch is a cue-overlap search hit: the episode plus how many of the
// query tokens its sense cues contain.
type CueMatch struct {
	Episode types.Episode
	Overlap int
}

// FindEpisodesByCues returns episodes whose sense cues intersect the given
// token set, ordered by overlap count descending. Sacred episodes never
// appear in the result.
func (r *CueRepo) FindEpisodesByCues(ctx context.Context, userID string, tokens []string, limit int) ([]CueMatch, error) {
	tokens = types.DedupTokens(tokens)
	if len(tokens) == 0 {
		return nil, nil
	}

	type matchRow struct {
		episodeModel `gorm:"embedded"`
		Overlap      int
	}
	var rows []matchRow
	err := r.db.WithContext(ctx).
		Raw(`
			SELECT e.*,
			       (SELECT COUNT(*) FROM jsonb_array_elements_text(e.sense_cues) t
			        WHERE t.value = ANY(?::text[])) AS overlap
			FROM episodes e
			WHERE e.user_id = ?
			  AND e.sacred_flag = FALSE
			  AND e.sense_cues IS NOT NULL
			  AND jsonb_exists_any(e.sense_cues, ?::text[])
			ORDER BY overlap DESC, e.occurred_at DESC
			LIMIT ?`,
			textArray(tokens), userID, textArray(tokens), limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search episodes by cues: %w", err)
	}

	results := make([]CueMatch, 0, len(rows))
	for _, row := range rows {
		results = append(results, CueMatch{
			Episode: episodeFromModel(row.episodeModel),
			Overlap: row.Overlap,
		})
	}
	return results, nil
}

func cueFromModel(model cueModel) types.Cue {
	return types.Cue{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.CueType,
		UserWords: model.UserWords,
		MediaRef:  model.MediaRef,
		CreatedAt: model.CreatedAt,
	}
}
