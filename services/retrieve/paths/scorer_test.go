// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package paths

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

func mkPath(files []string, kinds ...graph.EdgeKind) Path {
	var p Path
	for i, f := range files {
		p.Nodes = append(p.Nodes, PathNode{ID: string(rune('a' + i)), FilePath: f})
	}
	for i, k := range kinds {
		p.Edges = append(p.Edges, PathEdge{Source: p.Nodes[i].ID, Target: p.Nodes[i+1].ID, Kind: k})
	}
	return p
}

func TestHeuristicScorer(t *testing.T) {
	s := NewHeuristicScorer(DefaultScorerConfig())

	assert.Zero(t, s.Score(Path{}))

	// short band 2.0 + 2 files * 0.5 + calls 0.3
	p := mkPath([]string{"x.go", "y.go"}, graph.EdgeKindCalls)
	assert.InDelta(t, 3.3, s.Score(p), 1e-6)

	// same file counts once; defines 0.2
	p = mkPath([]string{"x.go", "x.go"}, graph.EdgeKindDefines)
	assert.InDelta(t, 2.7, s.Score(p), 1e-6)

	// imports falls back to the default edge weight
	p = mkPath([]string{"x.go", "y.go"}, graph.EdgeKindImports)
	assert.InDelta(t, 3.1, s.Score(p), 1e-6)

	// five edges leave the short band: 0.5 + 1 file * 0.5 + 5 * 0.3
	p = mkPath([]string{"x.go", "x.go", "x.go", "x.go", "x.go", "x.go"},
		graph.EdgeKindCalls, graph.EdgeKindCalls, graph.EdgeKindCalls, graph.EdgeKindCalls, graph.EdgeKindCalls)
	assert.InDelta(t, 2.5, s.Score(p), 1e-6)
}

func TestHeuristicScorer_BandIsFlat(t *testing.T) {
	s := NewHeuristicScorer(DefaultScorerConfig())
	one := mkPath([]string{"x.go", "x.go"}, graph.EdgeKindContains)
	four := mkPath([]string{"x.go", "x.go", "x.go", "x.go", "x.go"},
		graph.EdgeKindContains, graph.EdgeKindContains, graph.EdgeKindContains, graph.EdgeKindContains)
	// Only the per-edge weights differ.
	assert.InDelta(t, 0.3, s.Score(four)-s.Score(one), 1e-6)
}

func TestScoreSemantic(t *testing.T) {
	cfg := DefaultScorerConfig()
	s := NewHeuristicScorer(cfg)
	p := mkPath([]string{"x.go", "y.go", "z.go"}, graph.EdgeKindCalls, graph.EdgeKindCalls)
	base := s.Score(p)

	t.Run("no embeddings leaves base", func(t *testing.T) {
		assert.Equal(t, base, s.ScoreSemantic(p, nil))
	})

	t.Run("missing pairs are skipped", func(t *testing.T) {
		emb := map[string][]float32{
			"a": {1, 0},
			"b": {1, 0},
			// "c" unknown: the b-c pair is ignored rather than counted as 0.
		}
		assert.InDelta(t, base+cfg.SemanticWeight*1.0, s.ScoreSemantic(p, emb), 1e-5)
	})

	t.Run("average over pairs", func(t *testing.T) {
		emb := map[string][]float32{
			"a": {1, 0},
			"b": {1, 0},
			"c": {0, 1},
		}
		assert.InDelta(t, base+cfg.SemanticWeight*0.5, s.ScoreSemantic(p, emb), 1e-5)
	})

	t.Run("scorer interface", func(t *testing.T) {
		emb := map[string][]float32{"a": {1, 1}, "b": {1, 1}}
		var sc Scorer = NewSemanticScorer(cfg, emb)
		assert.InDelta(t, base+cfg.SemanticWeight, sc.Score(p), 1e-5)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestRankPaths(t *testing.T) {
	long := mkPath([]string{"x.go", "x.go", "x.go", "x.go", "x.go", "x.go"},
		graph.EdgeKindImports, graph.EdgeKindImports, graph.EdgeKindImports, graph.EdgeKindImports, graph.EdgeKindImports)
	short := mkPath([]string{"x.go", "y.go"}, graph.EdgeKindCalls)
	tieA := mkPath([]string{"q.go", "q.go"}, graph.EdgeKindImports)
	tieB := mkPath([]string{"r.go", "r.go"}, graph.EdgeKindImports)
	tieB.Nodes[0].ID = "tieB"

	ranked := RankPaths(context.Background(), []Path{long, tieA, short, tieB}, NewHeuristicScorer(DefaultScorerConfig()))
	require.Len(t, ranked, 4)
	assert.Equal(t, short.Nodes, ranked[0].Nodes)
	assert.Equal(t, "a", ranked[1].Nodes[0].ID, "ties keep discovery order")
	assert.Equal(t, "tieB", ranked[2].Nodes[0].ID)
	assert.Equal(t, long.Nodes, ranked[3].Nodes)
	assert.Greater(t, ranked[0].Score, ranked[3].Score)
}

func TestRankPaths_CustomScorer(t *testing.T) {
	byLen := ScorerFunc(func(p Path) float32 { return float32(p.Len()) })
	a := mkPath([]string{"x", "y"}, graph.EdgeKindCalls)
	b := mkPath([]string{"x", "y", "z"}, graph.EdgeKindCalls, graph.EdgeKindCalls)
	ranked := RankPaths(context.Background(), []Path{a, b}, byLen)
	assert.Equal(t, 2, ranked[0].Len())
}

func TestScorerConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultScorerConfig().Validate())
	cfg := DefaultScorerConfig()
	cfg.SemanticWeight = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = DefaultScorerConfig()
	cfg.ShortMaxEdges = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
