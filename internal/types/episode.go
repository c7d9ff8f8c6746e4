package types

import (
	"strconv"
	"strings"
	"time"
)

// Cue types. "other" is the catch-all for cues the engine stores but does not
// interpret.
const (
	CueTypePlace   = "place"
	CueTypeSmell   = "smell"
	CueTypeSound   = "sound"
	CueTypeMusic   = "music"
	CueTypeTexture = "texture"
	CueTypeTaste   = "taste"
	CueTypeImage   = "image"
	CueTypeOther   = "other"
)

// CueTypes is the closed set accepted by the cue index.
var CueTypes = map[string]bool{
	CueTypePlace:   true,
	CueTypeSmell:   true,
	CueTypeSound:   true,
	CueTypeMusic:   true,
	CueTypeTexture: true,
	CueTypeTaste:   true,
	CueTypeImage:   true,
	CueTypeOther:   true,
}

// Relation vocabulary for episode links. Links describe how two lived moments
// connect in narrative time.
const (
	RelationRepeats   = "repeats"
	RelationContrasts = "contrasts"
	RelationFulfills  = "fulfills"
	RelationEchoes    = "echoes"
	RelationResolves  = "resolves"
	RelationDeepens   = "deepens"
	RelationDiverges  = "diverges"
)

// Relations is the closed set accepted by the link graph.
var Relations = map[string]bool{
	RelationRepeats:   true,
	RelationContrasts: true,
	RelationFulfills:  true,
	RelationEchoes:    true,
	RelationResolves:  true,
	RelationDeepens:   true,
	RelationDiverges:  true,
}

// ElementalState is the five-element positional snapshot taken when an
// episode was captured. Each component is in [0,1]. The engine itself only
// interprets the dominant element and facet; the rest passes through.
type ElementalState struct {
	Fire   float64 `json:"fire"`
	Air    float64 `json:"air"`
	Water  float64 `json:"water"`
	Earth  float64 `json:"earth"`
	Aether float64 `json:"aether"`
}

// Facet is a developmental position: an element plus a phase from 1 to 3.
type Facet struct {
	Element string `json:"element"`
	Phase   int    `json:"phase"`
}

// Code renders the facet in its stored form, e.g. "water-2".
func (f Facet) Code() string {
	if f.Element == "" {
		return ""
	}
	return f.Element + "-" + strconv.Itoa(f.Phase)
}

// ParseFacetCode parses a stored facet code back into a Facet. Returns nil
// for empty or malformed codes.
func ParseFacetCode(code string) *Facet {
	if code == "" {
		return nil
	}
	idx := strings.LastIndex(code, "-")
	if idx <= 0 {
		return nil
	}
	phase, err := strconv.Atoi(code[idx+1:])
	if err != nil {
		return nil
	}
	return &Facet{Element: code[:idx], Phase: phase}
}

// Episode is a captured moment that can be re-entered through its cues.
type Episode struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`

	// SceneStanza is a short compression of the moment, at most 300 chars.
	SceneStanza string `json:"scene_stanza,omitempty"`

	// PlaceCue is the primary re-entry portal.
	PlaceCue string `json:"place_cue,omitempty"`
	// SenseCues are short sensory tokens, deduplicated, order preserved.
	SenseCues []string `json:"sense_cues,omitempty"`
	People    []string `json:"people,omitempty"`

	// AffectValence is in [-1,1], AffectArousal in [0,1].
	AffectValence  float64  `json:"affect_valence"`
	AffectArousal  float64  `json:"affect_arousal"`
	AffectKeywords []string `json:"affect_keywords,omitempty"`

	ElementalState  *ElementalState `json:"elemental_state,omitempty"`
	DominantElement string          `json:"dominant_element,omitempty"`
	Facet           *Facet          `json:"facet,omitempty"`

	// SacredFlag marks the episode witness-only. Once set, derived vectors
	// and links are purged and stay purged.
	SacredFlag bool `json:"sacred_flag"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the episode invariants enforced on every write.
func (e *Episode) Validate() error {
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if e.AffectValence < -1 || e.AffectValence > 1 {
		return &ValidationError{Field: "affect_valence", Reason: "must be in [-1,1]"}
	}
	if e.AffectArousal < 0 || e.AffectArousal > 1 {
		return &ValidationError{Field: "affect_arousal", Reason: "must be in [0,1]"}
	}
	if len(e.SceneStanza) > 300 {
		return &ValidationError{Field: "scene_stanza", Reason: "must be at most 300 characters"}
	}
	if e.Facet != nil && (e.Facet.Phase < 1 || e.Facet.Phase > 3) {
		return &ValidationError{Field: "facet.phase", Reason: "must be 1, 2 or 3"}
	}
	return nil
}

// DedupTokens removes duplicate tokens while keeping first-seen order.
// Empty tokens are dropped.
func DedupTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Cue is a reusable sensory token shared across episodes.
type Cue struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	UserWords string    `json:"user_words,omitempty"`
	MediaRef  string    `json:"media_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CueAttachment is a capture-time cue: the token and how strongly it evokes
// the episode being written. Attachments ride in the episode's transaction.
type CueAttachment struct {
	Type     string  `json:"type"`
	Words    string  `json:"words"`
	MediaRef string  `json:"media_ref,omitempty"`
	Potency  float64 `json:"potency"`
}

// Validate checks attachment invariants.
func (a *CueAttachment) Validate() error {
	if !CueTypes[a.Type] {
		return &ValidationError{Field: "cue.type", Reason: "unknown cue type " + a.Type}
	}
	if a.Words == "" && a.MediaRef == "" {
		return &ValidationError{Field: "cue.words", Reason: "cue needs words or a media reference"}
	}
	if a.Potency < 0 || a.Potency > 1 {
		return &ValidationError{Field: "cue.potency", Reason: "must be in [0,1]"}
	}
	return nil
}

// EpisodeCue joins a cue to an episode with a potency in [0,1] describing how
// strongly the cue evokes the episode.
type EpisodeCue struct {
	EpisodeID  string    `json:"episode_id"`
	CueID      string    `json:"cue_id"`
	Potency    float64   `json:"potency"`
	AttachedAt time.Time `json:"attached_at"`
}

// EpisodeLink is a directed weighted edge in the recall graph, keyed by
// (src, dst, relation). Weight is in [0,1].
type EpisodeLink struct {
	SrcEpisodeID string    `json:"src_episode_id"`
	DstEpisodeID string    `json:"dst_episode_id"`
	Relation     string    `json:"relation"`
	Weight       float64   `json:"weight"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks link invariants: closed relation vocabulary, weight range,
// no self-loops.
func (l *EpisodeLink) Validate() error {
	if l.SrcEpisodeID == l.DstEpisodeID {
		return &ValidationError{Field: "dst_episode_id", Reason: "self-loop links are not allowed"}
	}
	if !Relations[l.Relation] {
		return &ValidationError{Field: "relation", Reason: "unknown relation " + l.Relation}
	}
	if l.Weight < 0 || l.Weight > 1 {
		return &ValidationError{Field: "weight", Reason: "must be in [0,1]"}
	}
	return nil
}

// LinkedEpisode is an expansion result: an episode reached through an edge,
// annotated with the edge that produced it.
type LinkedEpisode struct {
	Episode  Episode `json:"episode"`
	SeedID   string  `json:"seed_id"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}
