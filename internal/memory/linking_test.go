package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soullab/bardic-engine/internal/repository"
	"github.com/soullab/bardic-engine/internal/types"
)

func testLinker(episodes *fakeEpisodeStore, links *fakeLinkGraph, vectors *fakeVectorIndex) *Linker {
	engine := testEngine(episodes, &fakeCueIndex{}, links, vectors)
	return NewLinker(episodes, links, vectors, engine, 0.35, nil)
}

func TestGenerateLinksCreatesSymmetricEdges(t *testing.T) {
	now := time.Now()
	episodes := newFakeEpisodeStore(
		types.Episode{ID: "new", UserID: "user-1", OccurredAt: now},
		types.Episode{ID: "old", UserID: "user-1", OccurredAt: now.Add(-24 * time.Hour)},
	)
	vectors := &fakeVectorIndex{
		embeddings: map[string][]float32{"new": {0.1, 0.2}},
		similar:    []repository.SimilarEpisode{{EpisodeID: "old", Similarity: 0.85}},
	}
	links := &fakeLinkGraph{}
	linker := testLinker(episodes, links, vectors)

	created, err := linker.GenerateLinks(context.Background(), "user-1", "new")
	if err != nil {
		t.Fatalf("GenerateLinks returned error: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 edges created, got %d", created)
	}
	if len(links.edges) != 2 {
		t.Fatalf("expected 2 stored edges, got %d", len(links.edges))
	}
	for _, edge := range links.edges {
		if edge.Relation != types.RelationEchoes {
			t.Fatalf("expected echoes relation, got %q", edge.Relation)
		}
		if edge.Weight != 0.85 {
			t.Fatalf("expected weight 0.85, got %v", edge.Weight)
		}
	}
}

func TestGenerateLinksIsIdempotent(t *testing.T) {
	now := time.Now()
	episodes := newFakeEpisodeStore(
		types.Episode{ID: "new", UserID: "user-1", OccurredAt: now},
		types.Episode{ID: "old", UserID: "user-1", OccurredAt: now.Add(-time.Hour)},
	)
	vectors := &fakeVectorIndex{
		embeddings: map[string][]float32{"new": {0.1}},
		similar:    []repository.SimilarEpisode{{EpisodeID: "old", Similarity: 0.9}},
	}
	links := &fakeLinkGraph{}
	linker := testLinker(episodes, links, vectors)

	if _, err := linker.GenerateLinks(context.Background(), "user-1", "new"); err != nil {
		t.Fatalf("first GenerateLinks returned error: %v", err)
	}
	created, err := linker.GenerateLinks(context.Background(), "user-1", "new")
	if err != nil {
		t.Fatalf("second GenerateLinks returned error: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected rerun to create no edges, got %d", created)
	}
	if len(links.edges) != 2 {
		t.Fatalf("expected edge count unchanged, got %d", len(links.edges))
	}
}

func TestGenerateLinksSkipsWeakCandidates(t *testing.T) {
	now := time.Now()
	episodes := newFakeEpisodeStore(
		types.Episode{ID: "new", UserID: "user-1", OccurredAt: now},
		types.Episode{ID: "faint", UserID: "user-1", OccurredAt: now.Add(-time.Hour)},
	)
	vectors := &fakeVectorIndex{
		embeddings: map[string][]float32{"new": {0.1}},
		similar:    []repository.SimilarEpisode{{EpisodeID: "faint", Similarity: 0.2}},
	}
	links := &fakeLinkGraph{}
	linker := testLinker(episodes, links, vectors)

	created, err := linker.GenerateLinks(context.Background(), "user-1", "new")
	if err != nil {
		t.Fatalf("GenerateLinks returned error: %v", err)
	}
	if created != 0 || len(links.edges) != 0 {
		t.Fatalf("expected no edges below threshold, got %d created", created)
	}
}

func TestGenerateLinksSacredEpisodeGrowsNoEdges(t *testing.T) {
	episodes := newFakeEpisodeStore(
		types.Episode{ID: "held", UserID: "user-1", SacredFlag: true},
	)
	links := &fakeLinkGraph{}
	linker := testLinker(episodes, links, &fakeVectorIndex{})

	created, err := linker.GenerateLinks(context.Background(), "user-1", "held")
	if err != nil {
		t.Fatalf("GenerateLinks returned error: %v", err)
	}
	if created != 0 || len(links.edges) != 0 {
		t.Fatalf("expected sacred episode to grow no edges, got %d", created)
	}
}

func TestGenerateLinksUnknownEpisode(t *testing.T) {
	linker := testLinker(newFakeEpisodeStore(), &fakeLinkGraph{}, &fakeVectorIndex{})

	_, err := linker.GenerateLinks(context.Background(), "user-1", "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
