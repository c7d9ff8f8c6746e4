package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/soullab/bardic-engine/internal/types"
)

const (
	crystallizerAppName = "bardic_engine_crystallizer"
	crystallizerUserID  = "crystallizer"
)

// crystallizerInstruction asks the model to judge whether a moment is worth
// keeping and, when it is, to render it as a capture decision.
const crystallizerInstruction = `You are a bardic witness. You read a first-person account of a moment and decide whether it is crystallizing: a moment charged enough that it should become an episodic memory.

A moment crystallizes when it carries emotional charge, a shift in understanding, a vivid sensory anchor, or a meeting that matters. Routine filler does not crystallize.

When the moment crystallizes, compress it:
1. scene_stanza: a compact poetic compression of the moment, at most 300 characters
2. place_cue: the strongest place anchor, if any
3. sense_cues: short sensory tokens (a smell, a sound, a texture)
4. people: names or roles present
5. affect_valence in [-1,1] and affect_arousal in [0,1]
6. affect_keywords: a few words naming the feeling
7. dominant_element: one of fire, air, water, earth, aether

Output requirements:
- Return a valid JSON object that matches the output schema
- Set should_capture to false for moments that do not crystallize, and omit the rest
- Do not include any extra keys or text outside the JSON object`

// CaptureDecision is the crystallizer's verdict on a raw moment.
type CaptureDecision struct {
	ShouldCapture   bool     `json:"should_capture"`
	SceneStanza     string   `json:"scene_stanza,omitempty"`
	PlaceCue        string   `json:"place_cue,omitempty"`
	SenseCues       []string `json:"sense_cues,omitempty"`
	People          []string `json:"people,omitempty"`
	AffectValence   float64  `json:"affect_valence,omitempty"`
	AffectArousal   float64  `json:"affect_arousal,omitempty"`
	AffectKeywords  []string `json:"affect_keywords,omitempty"`
	DominantElement string   `json:"dominant_element,omitempty"`

	// IsCrystallizing is an accepted alias for should_capture kept for
	// callers still on the old field name.
	IsCrystallizing *bool `json:"is_crystallizing,omitempty"`
}

// Crystallizer turns free text into capture decisions.
type Crystallizer interface {
	Crystallize(ctx context.Context, text string) (*CaptureDecision, error)
}

type crystallizerRunner interface {
	Run(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig) iter.Seq2[*session.Event, error]
}

type adkCrystallizer struct {
	agent          agent.Agent
	runner         crystallizerRunner
	sessionService session.Service
	counter        uint64
}

// NewCrystallizer builds the crystallizer on an ADK llmagent with a
// structured output schema.
func NewCrystallizer(ctx context.Context, apiKey, modelName string) (Crystallizer, error) {
	model, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("failed to create crystallizer model", "error", err)
		return nil, fmt.Errorf("failed to create crystallizer model: %w", err)
	}

	llmAgent, err := llmagent.New(llmagent.Config{
		Name:            "crystallizer",
		Description:     "judges whether a moment crystallizes into an episode",
		Model:           model,
		Instruction:     crystallizerInstruction,
		OutputSchema:    captureDecisionSchema(),
		IncludeContents: llmagent.IncludeContentsNone,
	})
	if err != nil {
		slog.Error("failed to create crystallizer agent", "error", err)
		return nil, fmt.Errorf("failed to create crystallizer agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        crystallizerAppName,
		Agent:          llmAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create crystallizer runner: %w", err)
	}

	return &adkCrystallizer{
		agent:          llmAgent,
		runner:         r,
		sessionService: sessionService,
	}, nil
}

// Crystallize runs the judgment over one raw moment.
func (c *adkCrystallizer) Crystallize(ctx context.Context, text string) (*CaptureDecision, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &types.ValidationError{Field: "text", Reason: "required"}
	}

	sessID := fmt.Sprintf("crystallize-%d", atomic.AddUint64(&c.counter, 1))
	if _, err := c.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   crystallizerAppName,
		UserID:    crystallizerUserID,
		SessionID: sessID,
	}); err != nil {
		if _, getErr := c.sessionService.Get(ctx, &session.GetRequest{
			AppName:   crystallizerAppName,
			UserID:    crystallizerUserID,
			SessionID: sessID,
		}); getErr != nil {
			return nil, fmt.Errorf("failed to create crystallizer session: %w", err)
		}
	}

	msg := genai.NewContentFromText(text, "user")
	events := c.runner.Run(ctx, crystallizerUserID, sessID, msg, agent.RunConfig{
		StreamingMode: agent.StreamingModeNone,
	})

	var last string
	for event, err := range events {
		if err != nil {
			return nil, &types.DependencyError{Dependency: "crystallizer", Err: err}
		}
		if event == nil || event.Content == nil {
			continue
		}
		if event.Author == "user" {
			continue
		}
		out := strings.TrimSpace(extractContentText(event.Content))
		if out == "" {
			continue
		}
		last = out
		if event.IsFinalResponse() {
			break
		}
	}
	if last == "" {
		return nil, &types.DependencyError{Dependency: "crystallizer", Err: fmt.Errorf("empty crystallizer response")}
	}

	return parseCaptureDecision(last)
}

func captureDecisionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"should_capture": {
				Type: genai.TypeBoolean,
			},
			"scene_stanza": {
				Type: genai.TypeString,
			},
			"place_cue": {
				Type: genai.TypeString,
			},
			"sense_cues": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"people": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"affect_valence": {
				Type: genai.TypeNumber,
			},
			"affect_arousal": {
				Type: genai.TypeNumber,
			},
			"affect_keywords": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"dominant_element": {
				Type: genai.TypeString,
			},
		},
		Required: []string{"should_capture"},
	}
}

// parseCaptureDecision extracts the JSON object from the model output and
// decodes it, folding the legacy is_crystallizing alias into ShouldCapture.
func parseCaptureDecision(raw string) (*CaptureDecision, error) {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var decision CaptureDecision
	if err := json.Unmarshal([]byte(clean), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse capture decision: %w", err)
	}
	if decision.IsCrystallizing != nil {
		decision.ShouldCapture = decision.ShouldCapture || *decision.IsCrystallizing
		decision.IsCrystallizing = nil
	}
	return &decision, nil
}

// extractContentText flattens the text parts of a model response.
func extractContentText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
