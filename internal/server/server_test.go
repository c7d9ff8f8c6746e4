package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soullab/bardic-engine/internal/memory"
	"github.com/soullab/bardic-engine/internal/types"
)

func testServer(episodes *fakeEpisodes, cues *fakeCues, capture *fakeCapturer, recall *fakeRecaller, engine *fakeRecognizer) *Server {
	if episodes == nil {
		episodes = &fakeEpisodes{}
	}
	if cues == nil {
		cues = &fakeCues{}
	}
	if capture == nil {
		capture = &fakeCapturer{}
	}
	if recall == nil {
		recall = &fakeRecaller{}
	}
	if engine == nil {
		engine = &fakeRecognizer{}
	}
	return New(episodes, cues, capture, recall, engine, nil, "test")
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestCaptureStructuredEpisode(t *testing.T) {
	capture := &fakeCapturer{result: &memory.CaptureResult{Captured: true, EpisodeID: "ep-1"}}
	srv := testServer(nil, nil, capture, nil, nil)

	body := `{"user_id":"user-1","episode":{"scene_stanza":"salt wind"},"attachments":[{"type":"smell","words":"salt","potency":0.8}]}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if capture.episode == nil || capture.episode.UserID != "user-1" {
		t.Fatalf("expected user id copied onto episode, got %+v", capture.episode)
	}
	if len(capture.attachments) != 1 {
		t.Fatalf("expected attachments forwarded, got %v", capture.attachments)
	}
}

func TestCaptureTextPaths(t *testing.T) {
	capture := &fakeCapturer{result: &memory.CaptureResult{Captured: false}}
	srv := testServer(nil, nil, capture, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture",
		strings.NewReader(`{"user_id":"user-1","text":"had lunch"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for uncaptured moment, got %d", rec.Code)
	}
	var body memory.CaptureResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Captured {
		t.Fatal("expected captured:false in response body")
	}

	capture.result = &memory.CaptureResult{Captured: true, EpisodeID: "ep-2"}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture",
		strings.NewReader(`{"user_id":"user-1","text":"the door finally opened"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for captured moment, got %d", rec.Code)
	}
}

func TestCaptureRequiresEpisodeOrText(t *testing.T) {
	srv := testServer(nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture",
		strings.NewReader(`{"user_id":"user-1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecallValidationMapsTo400(t *testing.T) {
	recall := &fakeRecaller{err: &types.ValidationError{Field: "query", Reason: "no recall dimension"}}
	srv := testServer(nil, nil, nil, recall, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recall",
		strings.NewReader(`{"user_id":"user-1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecallReturnsField(t *testing.T) {
	recall := &fakeRecaller{field: &types.MemoryField{
		Nodes: []types.RankedEpisode{{Episode: types.Episode{ID: "ep-1"}, Score: 1.5}},
	}}
	srv := testServer(nil, nil, nil, recall, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recall",
		strings.NewReader(`{"user_id":"user-1","query":"the river"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var field types.MemoryField
	if err := json.Unmarshal(rec.Body.Bytes(), &field); err != nil {
		t.Fatalf("invalid field body: %v", err)
	}
	if len(field.Nodes) != 1 || field.Nodes[0].Episode.ID != "ep-1" {
		t.Fatalf("unexpected field: %+v", field)
	}
}

func TestGetEpisodeNotFoundMapsTo404(t *testing.T) {
	episodes := &fakeEpisodes{getErr: types.ErrNotFound}
	srv := testServer(episodes, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/episodes/missing?user_id=user-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetEpisodeRequiresUser(t *testing.T) {
	srv := testServer(nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/episodes/ep-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user_id, got %d", rec.Code)
	}
}

func TestEvidenceEndpoint(t *testing.T) {
	episodes := &fakeEpisodes{episode: &types.Episode{ID: "ep-1", UserID: "user-1"}}
	cues := &fakeCues{strongest: &types.Cue{ID: "cue-1", Type: types.CueTypeSmell, UserWords: "woodsmoke"}}
	engine := &fakeRecognizer{linked: []types.LinkedEpisode{
		{Episode: types.Episode{ID: "ep-2"}, SeedID: "ep-1", Relation: types.RelationEchoes, Weight: 0.7},
	}}
	srv := testServer(episodes, cues, nil, nil, engine)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/episodes/ep-1/evidence?user_id=user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Episode      *types.Episode        `json:"episode"`
		StrongestCue *types.Cue            `json:"strongest_cue"`
		Linked       []types.LinkedEpisode `json:"linked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid evidence body: %v", err)
	}
	if body.Episode == nil || body.Episode.ID != "ep-1" {
		t.Fatalf("unexpected episode: %+v", body.Episode)
	}
	if body.StrongestCue == nil || body.StrongestCue.UserWords != "woodsmoke" {
		t.Fatalf("unexpected strongest cue: %+v", body.StrongestCue)
	}
	if len(body.Linked) != 1 || body.Linked[0].Episode.ID != "ep-2" {
		t.Fatalf("unexpected linked episodes: %+v", body.Linked)
	}
}

func TestSacredLifecycle(t *testing.T) {
	episodes := &fakeEpisodes{episode: &types.Episode{ID: "ep-1", UserID: "user-1"}}
	srv := testServer(episodes, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/episodes/ep-1/sacred?user_id=user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 marking sacred, got %d", rec.Code)
	}
	if len(episodes.cascaded) != 1 || episodes.cascaded[0] != "ep-1" {
		t.Fatalf("expected cascade invoked, got %v", episodes.cascaded)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/episodes/ep-1/sacred?user_id=user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 unmarking sacred, got %d", rec.Code)
	}
	if len(episodes.unmarked) != 1 || episodes.unmarked[0] != "ep-1" {
		t.Fatalf("expected unmark invoked, got %v", episodes.unmarked)
	}
}

func TestSacredUnknownEpisodeMapsTo404(t *testing.T) {
	episodes := &fakeEpisodes{cascadeErr: types.ErrNotFound}
	srv := testServer(episodes, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/episodes/missing/sacred?user_id=user-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fakeEpisodes struct {
	episode    *types.Episode
	getErr     error
	cascadeErr error
	cascaded   []string
	unmarked   []string
}

func (f *fakeEpisodes) GetEpisode(_ context.Context, _, id string) (*types.Episode, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.episode == nil {
		return nil, types.ErrNotFound
	}
	return f.episode, nil
}

func (f *fakeEpisodes) CascadeSacred(_ context.Context, _, episodeID string) error {
	if f.cascadeErr != nil {
		return f.cascadeErr
	}
	f.cascaded = append(f.cascaded, episodeID)
	return nil
}

func (f *fakeEpisodes) UnmarkSacred(_ context.Context, _, episodeID string) error {
	f.unmarked = append(f.unmarked, episodeID)
	return nil
}

var _ EpisodeStore = (*fakeEpisodes)(nil)

type fakeCues struct {
	strongest *types.Cue
}

func (f *fakeCues) StrongestCue(context.Context, string) (*types.Cue, error) {
	return f.strongest, nil
}

var _ CueIndex = (*fakeCues)(nil)

type fakeCapturer struct {
	result      *memory.CaptureResult
	err         error
	episode     *types.Episode
	attachments []types.CueAttachment
	text        string
}

func (f *fakeCapturer) CaptureEpisode(_ context.Context, ep types.Episode, attachments []types.CueAttachment) (*memory.CaptureResult, error) {
	f.episode = &ep
	f.attachments = attachments
	return f.result, f.err
}

func (f *fakeCapturer) CaptureText(_ context.Context, _, text string, _ time.Time) (*memory.CaptureResult, error) {
	f.text = text
	return f.result, f.err
}

var _ Capturer = (*fakeCapturer)(nil)

type fakeRecaller struct {
	field *types.MemoryField
	err   error
}

func (f *fakeRecaller) Recall(context.Context, types.RecallRequest) (*types.MemoryField, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.field == nil {
		return &types.MemoryField{}, nil
	}
	return f.field, nil
}

var _ Recaller = (*fakeRecaller)(nil)

type fakeRecognizer struct {
	linked []types.LinkedEpisode
}

func (f *fakeRecognizer) LinkedNeighbors(context.Context, string, string, int) ([]types.LinkedEpisode, error) {
	return f.linked, nil
}

var _ Recognizer = (*fakeRecognizer)(nil)
