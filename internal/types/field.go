package types

import "time"

// Modality buckets derived from affect quadrants. Valence sign picks the
// tone, arousal (>= 0.5) picks the charge.
const (
	ModalityRadiant   = "radiant"   // positive, charged
	ModalityStill     = "still"     // positive, calm
	ModalityTurbulent = "turbulent" // negative, charged
	ModalityHeavy     = "heavy"     // negative, calm
)

// ModalityOf buckets an episode's affect into one of the four modalities.
func ModalityOf(valence, arousal float64) string {
	charged := arousal >= 0.5
	if valence >= 0 {
		if charged {
			return ModalityRadiant
		}
		return ModalityStill
	}
	if charged {
		return ModalityTurbulent
	}
	return ModalityHeavy
}

// RankedEpisode is a recall/recognition result with its resonance score and
// the dimensions or signals that contributed it.
type RankedEpisode struct {
	Episode Episode  `json:"episode"`
	Score   float64  `json:"score"`
	Signals []string `json:"signals,omitempty"`
}

// TimeSpan is the closed interval covered by a result set.
type TimeSpan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SpiralCycle tracks repeated entrances into the same facet across time.
type SpiralCycle struct {
	Facet      string      `json:"facet"`
	Entrances  []time.Time `json:"entrances"`
	AvgGapDays float64     `json:"avg_gap_days"`
	Evolving   bool        `json:"evolving"`
}

// StuckPattern marks an element the user keeps returning to with worsening
// valence.
type StuckPattern struct {
	Element     string    `json:"element"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	MeanValence float64   `json:"mean_valence"`
}

// BreakthroughMoment is a discrete high-salience event: strongly positive
// valence with elevated arousal.
type BreakthroughMoment struct {
	EpisodeID  string    `json:"episode_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Facet      string    `json:"facet,omitempty"`
	Stanza     string    `json:"stanza,omitempty"`
	Valence    float64   `json:"valence"`
	Arousal    float64   `json:"arousal"`
}

// IntegrationThread is a time-ordered chain of linked episodes inside a
// result set.
type IntegrationThread struct {
	EpisodeIDs []string `json:"episode_ids"`
	Relations  []string `json:"relations"`
}

// MemoryField is the transient aggregate returned by a recall query. It is
// never persisted.
type MemoryField struct {
	Nodes               []RankedEpisode      `json:"nodes"`
	TimeSpan            TimeSpan             `json:"time_span"`
	FacetDistribution   map[string]int       `json:"facet_distribution"`
	ModalityBalance     map[string]int       `json:"modality_balance"`
	SpiralCycles        []SpiralCycle        `json:"spiral_cycles"`
	StuckPatterns       []StuckPattern       `json:"stuck_patterns"`
	BreakthroughMoments []BreakthroughMoment `json:"breakthrough_moments"`
	IntegrationThreads  []IntegrationThread  `json:"integration_threads"`

	// Unavailable names dimensions that failed or timed out. A partial field
	// with this set is preferred to a failed request.
	Unavailable []string `json:"unavailable,omitempty"`
}

// RecallRequest is the multi-dimensional recall input. At least one of
// Query, Facet, BodyRegion or Emotion must be present.
type RecallRequest struct {
	UserID     string `json:"user_id"`
	Query      string `json:"query,omitempty"`
	Facet      *Facet `json:"facet,omitempty"`
	BodyRegion string `json:"body_region,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
	Intention  string `json:"intention,omitempty"`
}

// Validate enforces the no-recall-dimension rule.
func (r *RecallRequest) Validate() error {
	if r.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if r.Query == "" && r.Facet == nil && r.BodyRegion == "" && r.Emotion == "" {
		return &ValidationError{Field: "query", Reason: "no recall dimension"}
	}
	return nil
}
