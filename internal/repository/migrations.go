package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "episodes: captured moments",
		SQL: `
CREATE TABLE episodes (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    occurred_at      TIMESTAMPTZ NOT NULL,
    scene_stanza     TEXT CHECK (char_length(scene_stanza) <= 300),
    place_cue        TEXT,
    sense_cues       JSONB,
    people           JSONB,
    affect_valence   DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (affect_valence BETWEEN -1 AND 1),
    affect_arousal   DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (affect_arousal BETWEEN 0 AND 1),
    affect_keywords  JSONB,
    elemental_state  JSONB,
    dominant_element TEXT,
    facet_code       TEXT,
    sacred_flag      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX idx_episodes_user_time    ON episodes (user_id, occurred_at DESC);
CREATE INDEX idx_episodes_user_facet   ON episodes (user_id, facet_code);
CREATE INDEX idx_episodes_user_element ON episodes (user_id, dominant_element);
`,
	},
	{
		Version:     2,
		Description: "cues and episode_cues: sensory portals",
		SQL: `
CREATE TABLE cues (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    cue_type   TEXT NOT NULL,
    user_words TEXT,
    media_ref  TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX idx_cues_identity ON cues (user_id, cue_type, COALESCE(user_words, ''));

CREATE TABLE episode_cues (
    episode_id  TEXT NOT NULL REFERENCES episodes(id),
    cue_id      TEXT NOT NULL REFERENCES cues(id),
    potency     DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (potency BETWEEN 0 AND 1),
    attached_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (episode_id, cue_id)
);

CREATE INDEX idx_episode_cues_cue ON episode_cues (cue_id);
`,
	},
	{
		Version:     3,
		Description: "episode_links: directed recall graph",
		SQL: `
CREATE TABLE episode_links (
    src_episode_id TEXT NOT NULL REFERENCES episodes(id),
    dst_episode_id TEXT NOT NULL REFERENCES episodes(id),
    relation       TEXT NOT NULL,
    weight         DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (weight BETWEEN 0 AND 1),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (src_episode_id, dst_episode_id, relation),
    CHECK (src_episode_id <> dst_episode_id)
);

CREATE INDEX idx_episode_links_dst ON episode_links (dst_episode_id);
`,
	},
	{
		Version:     4,
		Description: "episode_vectors: embeddings for resonance matching",
		SQL: `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE episode_vectors (
    episode_id TEXT PRIMARY KEY REFERENCES episodes(id),
    embedding  vector(768) NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
	},
}

func migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`).Error
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int64
		if err := db.WithContext(ctx).
			Raw("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).
			Scan(&count).Error; err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.SQL).Error; err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := tx.Exec(
				"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			).Error; err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
