package types

import (
	"reflect"
	"strings"
	"testing"
)

func TestEpisodeValidateAffectRanges(t *testing.T) {
	base := Episode{UserID: "user-1"}

	if err := base.Validate(); err != nil {
		t.Fatalf("baseline episode should validate, got %v", err)
	}

	cases := []struct {
		name  string
		edit  func(*Episode)
		field string
	}{
		{"missing user", func(e *Episode) { e.UserID = "" }, "user_id"},
		{"valence too low", func(e *Episode) { e.AffectValence = -1.1 }, "affect_valence"},
		{"valence too high", func(e *Episode) { e.AffectValence = 1.5 }, "affect_valence"},
		{"arousal negative", func(e *Episode) { e.AffectArousal = -0.1 }, "affect_arousal"},
		{"arousal too high", func(e *Episode) { e.AffectArousal = 2 }, "affect_arousal"},
		{"stanza too long", func(e *Episode) { e.SceneStanza = strings.Repeat("x", 301) }, "scene_stanza"},
		{"phase zero", func(e *Episode) { e.Facet = &Facet{Element: "water", Phase: 0} }, "facet.phase"},
		{"phase four", func(e *Episode) { e.Facet = &Facet{Element: "water", Phase: 4} }, "facet.phase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ep := base
			tc.edit(&ep)
			err := ep.Validate()
			vErr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, vErr.Field)
			}
		})
	}
}

func TestEpisodeValidateBoundaryAffect(t *testing.T) {
	ep := Episode{UserID: "user-1", AffectValence: -1, AffectArousal: 1}
	if err := ep.Validate(); err != nil {
		t.Fatalf("boundary affect values should validate, got %v", err)
	}
}

func TestLinkValidate(t *testing.T) {
	valid := EpisodeLink{SrcEpisodeID: "a", DstEpisodeID: "b", Relation: RelationEchoes, Weight: 0.5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid link should validate, got %v", err)
	}

	selfLoop := valid
	selfLoop.DstEpisodeID = "a"
	if err := selfLoop.Validate(); err == nil {
		t.Fatal("self-loop link should be rejected")
	}

	unknown := valid
	unknown.Relation = "resembles"
	if err := unknown.Validate(); err == nil {
		t.Fatal("unknown relation should be rejected")
	}

	heavy := valid
	heavy.Weight = 1.5
	if err := heavy.Validate(); err == nil {
		t.Fatal("weight above 1 should be rejected")
	}
}

func TestCueAttachmentValidate(t *testing.T) {
	valid := CueAttachment{Type: CueTypeSmell, Words: "woodsmoke", Potency: 0.7}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid attachment should validate, got %v", err)
	}

	badType := valid
	badType.Type = "color"
	if err := badType.Validate(); err == nil {
		t.Fatal("unknown cue type should be rejected")
	}

	badPotency := valid
	badPotency.Potency = -0.2
	if err := badPotency.Validate(); err == nil {
		t.Fatal("negative potency should be rejected")
	}
}

func TestDedupTokens(t *testing.T) {
	got := DedupTokens([]string{"rain", "pine", "rain", "", "pine", "salt"})
	want := []string{"rain", "pine", "salt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFacetCodeRoundTrip(t *testing.T) {
	f := Facet{Element: "water", Phase: 2}
	if f.Code() != "water-2" {
		t.Fatalf("expected water-2, got %q", f.Code())
	}
	parsed := ParseFacetCode("water-2")
	if parsed == nil || *parsed != f {
		t.Fatalf("expected %+v, got %+v", f, parsed)
	}
	if ParseFacetCode("") != nil {
		t.Fatal("empty code should parse to nil")
	}
	if ParseFacetCode("water") != nil {
		t.Fatal("code without phase should parse to nil")
	}
}

func TestModalityOf(t *testing.T) {
	cases := []struct {
		valence, arousal float64
		want             string
	}{
		{0.8, 0.9, ModalityRadiant},
		{0.8, 0.2, ModalityStill},
		{-0.6, 0.9, ModalityTurbulent},
		{-0.6, 0.1, ModalityHeavy},
	}
	for _, tc := range cases {
		if got := ModalityOf(tc.valence, tc.arousal); got != tc.want {
			t.Fatalf("ModalityOf(%v, %v) = %q, want %q", tc.valence, tc.arousal, got, tc.want)
		}
	}
}

func TestRecallRequestValidate(t *testing.T) {
	empty := RecallRequest{UserID: "user-1"}
	if err := empty.Validate(); err == nil {
		t.Fatal("request without any dimension should be rejected")
	}

	noUser := RecallRequest{Query: "the harbor"}
	if err := noUser.Validate(); err == nil {
		t.Fatal("request without user should be rejected")
	}

	ok := RecallRequest{UserID: "user-1", Emotion: "grief"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("single-dimension request should validate, got %v", err)
	}
}
