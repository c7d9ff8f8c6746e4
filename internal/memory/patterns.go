package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/soullab/bardic-engine/internal/types"
)

const (
	breakthroughValence = 0.7
	breakthroughArousal = 0.6
	stuckMinOccurrences = 3
)

// assemblePatterns fills the derived layers of a MemoryField from its node
// set: time span, distributions, spiral cycles, stuck patterns,
// breakthroughs and integration threads. Pattern detection is best effort;
// a failing link lookup degrades the threads layer only.
func (r *RecallEngine) assemblePatterns(ctx context.Context, field *types.MemoryField) {
	if len(field.Nodes) == 0 {
		return
	}

	episodes := make([]types.Episode, len(field.Nodes))
	for i, n := range field.Nodes {
		episodes[i] = n.Episode
	}
	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].OccurredAt.Before(episodes[j].OccurredAt)
	})

	field.TimeSpan = types.TimeSpan{
		Start: episodes[0].OccurredAt,
		End:   episodes[len(episodes)-1].OccurredAt,
	}

	for _, ep := range episodes {
		if ep.Facet != nil {
			field.FacetDistribution[ep.Facet.Code()]++
		} else if ep.DominantElement != "" {
			field.FacetDistribution[ep.DominantElement]++
		}
		field.ModalityBalance[types.ModalityOf(ep.AffectValence, ep.AffectArousal)]++
	}

	field.SpiralCycles = spiralCycles(episodes)
	field.StuckPatterns = stuckPatterns(episodes)
	field.BreakthroughMoments = breakthroughs(episodes)

	threads, err := r.integrationThreads(ctx, episodes)
	if err != nil {
		r.logger.Warn("integration threads degraded", slog.Any("error", err))
		field.Unavailable = append(field.Unavailable, "integration_threads")
		return
	}
	field.IntegrationThreads = threads
}

// spiralCycles finds facets entered at least twice. A cycle is evolving when
// the gaps between entrances shrink over time.
func spiralCycles(episodes []types.Episode) []types.SpiralCycle {
	entrances := map[string][]time.Time{}
	for _, ep := range episodes {
		if ep.Facet == nil {
			continue
		}
		code := ep.Facet.Code()
		entrances[code] = append(entrances[code], ep.OccurredAt)
	}

	codes := make([]string, 0, len(entrances))
	for code, times := range entrances {
		if len(times) >= 2 {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	cycles := make([]types.SpiralCycle, 0, len(codes))
	for _, code := range codes {
		times := entrances[code]
		var totalGap float64
		shrinking := true
		var prevGap float64
		for i := 1; i < len(times); i++ {
			gap := times[i].Sub(times[i-1]).Hours() / 24
			totalGap += gap
			if i > 1 && gap >= prevGap {
				shrinking = false
			}
			prevGap = gap
		}
		cycles = append(cycles, types.SpiralCycle{
			Facet:      code,
			Entrances:  times,
			AvgGapDays: totalGap / float64(len(times)-1),
			Evolving:   len(times) > 2 && shrinking,
		})
	}
	if len(cycles) == 0 {
		return nil
	}
	return cycles
}

// stuckPatterns finds elements revisited repeatedly without the affect
// lifting: at least three occurrences, the latest valence below the first,
// and a negative mean.
func stuckPatterns(episodes []types.Episode) []types.StuckPattern {
	type elementRun struct {
		times    []time.Time
		valences []float64
	}
	runs := map[string]*elementRun{}
	for _, ep := range episodes {
		element := ep.DominantElement
		if element == "" && ep.Facet != nil {
			element = ep.Facet.Element
		}
		if element == "" {
			continue
		}
		run, ok := runs[element]
		if !ok {
			run = &elementRun{}
			runs[element] = run
		}
		run.times = append(run.times, ep.OccurredAt)
		run.valences = append(run.valences, ep.AffectValence)
	}

	elements := make([]string, 0, len(runs))
	for element := range runs {
		elements = append(elements, element)
	}
	sort.Strings(elements)

	var patterns []types.StuckPattern
	for _, element := range elements {
		run := runs[element]
		if len(run.times) < stuckMinOccurrences {
			continue
		}
		var sum float64
		for _, v := range run.valences {
			sum += v
		}
		mean := sum / float64(len(run.valences))
		last := run.valences[len(run.valences)-1]
		if last >= run.valences[0] || mean >= 0 {
			continue
		}
		patterns = append(patterns, types.StuckPattern{
			Element:     element,
			Occurrences: len(run.times),
			FirstSeen:   run.times[0],
			LastSeen:    run.times[len(run.times)-1],
			MeanValence: mean,
		})
	}
	return patterns
}

// breakthroughs finds high-valence, high-arousal episodes.
func breakthroughs(episodes []types.Episode) []types.BreakthroughMoment {
	var moments []types.BreakthroughMoment
	for _, ep := range episodes {
		if ep.AffectValence < breakthroughValence || ep.AffectArousal < breakthroughArousal {
			continue
		}
		moment := types.BreakthroughMoment{
			EpisodeID:  ep.ID,
			OccurredAt: ep.OccurredAt,
			Stanza:     ep.SceneStanza,
			Valence:    ep.AffectValence,
			Arousal:    ep.AffectArousal,
		}
		if ep.Facet != nil {
			moment.Facet = ep.Facet.Code()
		}
		moments = append(moments, moment)
	}
	return moments
}

// integrationThreads groups the node set into connected components of the
// link graph and renders each component as a time-ordered chain.
func (r *RecallEngine) integrationThreads(ctx context.Context, episodes []types.Episode) ([]types.IntegrationThread, error) {
	if len(episodes) < 2 {
		return nil, nil
	}
	ids := make([]string, len(episodes))
	occurredAt := make(map[string]time.Time, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
		occurredAt[ep.ID] = ep.OccurredAt
	}

	edges, err := r.links.LinksAmong(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	// Union-find over the node set.
	parent := map[string]string{}
	var find func(string) string
	find = func(id string) string {
		if parent[id] == "" || parent[id] == id {
			parent[id] = id
			return id
		}
		root := find(parent[id])
		parent[id] = root
		return root
	}
	relationBetween := map[[2]string]string{}
	for _, edge := range edges {
		a, b := find(edge.SrcEpisodeID), find(edge.DstEpisodeID)
		if a != b {
			parent[a] = b
		}
		key := [2]string{edge.SrcEpisodeID, edge.DstEpisodeID}
		if edge.SrcEpisodeID > edge.DstEpisodeID {
			key = [2]string{edge.DstEpisodeID, edge.SrcEpisodeID}
		}
		if _, ok := relationBetween[key]; !ok {
			relationBetween[key] = edge.Relation
		}
	}

	components := map[string][]string{}
	for id := range parent {
		root := find(id)
		components[root] = append(components[root], id)
	}

	roots := make([]string, 0, len(components))
	for root, members := range components {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)

	threads := make([]types.IntegrationThread, 0, len(roots))
	for _, root := range roots {
		members := components[root]
		sort.SliceStable(members, func(i, j int) bool {
			return occurredAt[members[i]].Before(occurredAt[members[j]])
		})
		thread := types.IntegrationThread{EpisodeIDs: members}
		for i := 1; i < len(members); i++ {
			key := [2]string{members[i-1], members[i]}
			if members[i-1] > members[i] {
				key = [2]string{members[i], members[i-1]}
			}
			if rel, ok := relationBetween[key]; ok {
				thread.Relations = append(thread.Relations, rel)
			} else {
				thread.Relations = append(thread.Relations, types.RelationEchoes)
			}
		}
		threads = append(threads, thread)
	}
	return threads, nil
}
