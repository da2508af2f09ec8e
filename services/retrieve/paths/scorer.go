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
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

// ErrInvalidConfig is returned for non-positive path bounds or negative
// scoring weights.
var ErrInvalidConfig = errors.New("invalid paths config")

var (
	tracer = otel.Tracer("aleutian.retrieve.paths")
	meter  = otel.Meter("aleutian.retrieve.paths")

	pathsFound  metric.Int64Histogram
	metricsOnce sync.Once
	metricsErr  error
)

func recordBuild(ctx context.Context, found int) {
	metricsOnce.Do(func() {
		pathsFound, metricsErr = meter.Int64Histogram(
			"retrieve_paths_found",
			metric.WithDescription("Paths emitted per FindPaths call"),
		)
	})
	if metricsErr != nil {
		return
	}
	pathsFound.Record(ctx, int64(found))
}

// Scorer assigns a score to a path. Higher is better.
type Scorer interface {
	Score(p Path) float32
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(p Path) float32

// Score implements Scorer.
func (f ScorerFunc) Score(p Path) float32 { return f(p) }

// ScorerConfig holds the heuristic constants. All terms are additive.
type ScorerConfig struct {
	// ShortMaxEdges is the upper edge count of the "short" band. Paths
	// with 1..ShortMaxEdges edges get ShortBonus, longer ones LongBonus.
	ShortMaxEdges int     `yaml:"short_max_edges" json:"short_max_edges" validate:"gte=1"`
	ShortBonus    float32 `yaml:"short_bonus" json:"short_bonus" validate:"gte=0"`
	LongBonus     float32 `yaml:"long_bonus" json:"long_bonus" validate:"gte=0"`

	// DiversityBonus is added once per distinct file on the path.
	DiversityBonus float32 `yaml:"diversity_bonus" json:"diversity_bonus" validate:"gte=0"`

	// EdgeWeights is added per edge by kind; DefaultEdgeWeight covers the
	// kinds not listed.
	EdgeWeights       map[graph.EdgeKind]float32 `yaml:"edge_weights" json:"edge_weights" validate:"dive,gte=0"`
	DefaultEdgeWeight float32                    `yaml:"default_edge_weight" json:"default_edge_weight" validate:"gte=0"`

	// SemanticWeight multiplies the average embedding coherence.
	SemanticWeight float32 `yaml:"semantic_weight" json:"semantic_weight" validate:"gte=0"`
}

// DefaultScorerConfig returns the default heuristic constants.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		ShortMaxEdges:  4,
		ShortBonus:     2.0,
		LongBonus:      0.5,
		DiversityBonus: 0.5,
		EdgeWeights: map[graph.EdgeKind]float32{
			graph.EdgeKindCalls:   0.3,
			graph.EdgeKindDefines: 0.2,
		},
		DefaultEdgeWeight: 0.1,
		SemanticWeight:    10,
	}
}

// Validate rejects negative weights and an empty short band.
func (c ScorerConfig) Validate() error {
	if c.ShortMaxEdges < 1 {
		return ErrInvalidConfig
	}
	for _, w := range []float32{c.ShortBonus, c.LongBonus, c.DiversityBonus, c.DefaultEdgeWeight, c.SemanticWeight} {
		if w < 0 {
			return ErrInvalidConfig
		}
	}
	for _, w := range c.EdgeWeights {
		if w < 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// HeuristicScorer scores a path from its shape alone: a length band
// bonus, a per-file diversity bonus and per-edge kind weights.
type HeuristicScorer struct {
	cfg ScorerConfig
}

// NewHeuristicScorer creates a scorer from cfg.
func NewHeuristicScorer(cfg ScorerConfig) *HeuristicScorer {
	return &HeuristicScorer{cfg: cfg}
}

// Score implements Scorer. An empty path scores 0.
func (s *HeuristicScorer) Score(p Path) float32 {
	n := p.Len()
	if n == 0 {
		return 0
	}

	var score float32
	if n <= s.cfg.ShortMaxEdges {
		score += s.cfg.ShortBonus
	} else {
		score += s.cfg.LongBonus
	}
	score += s.cfg.DiversityBonus * float32(p.DistinctFiles())
	for _, e := range p.Edges {
		if w, ok := s.cfg.EdgeWeights[e.Kind]; ok {
			score += w
		} else {
			score += s.cfg.DefaultEdgeWeight
		}
	}
	return score
}

// ScoreSemantic returns Score plus the embedding coherence term.
//
// For each adjacent node pair where both embeddings are known, cosine
// similarity is computed; the average over those pairs, times
// SemanticWeight, is added. Pairs with a missing embedding are skipped.
// With no usable pairs the base score is returned unchanged.
func (s *HeuristicScorer) ScoreSemantic(p Path, embeddings map[string][]float32) float32 {
	return s.Score(p) + coherence(p, embeddings)*s.cfg.SemanticWeight
}

// coherence is the mean cosine similarity of adjacent embedded pairs.
func coherence(p Path, embeddings map[string][]float32) float32 {
	if len(embeddings) == 0 {
		return 0
	}
	var sum float32
	pairs := 0
	for i := 0; i+1 < len(p.Nodes); i++ {
		a, okA := embeddings[p.Nodes[i].ID]
		b, okB := embeddings[p.Nodes[i+1].ID]
		if !okA || !okB || len(a) == 0 || len(b) == 0 {
			continue
		}
		sum += CosineSimilarity(a, b)
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return sum / float32(pairs)
}

// SemanticScorer wraps a HeuristicScorer with a fixed embedding table so
// it satisfies Scorer.
type SemanticScorer struct {
	base       *HeuristicScorer
	embeddings map[string][]float32
}

// NewSemanticScorer creates a scorer that adds embedding coherence.
// embeddings maps node id to vector and is not copied.
func NewSemanticScorer(cfg ScorerConfig, embeddings map[string][]float32) *SemanticScorer {
	return &SemanticScorer{base: NewHeuristicScorer(cfg), embeddings: embeddings}
}

// Score implements Scorer.
func (s *SemanticScorer) Score(p Path) float32 {
	return s.base.ScoreSemantic(p, s.embeddings)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or a zero vector yield 0.
func CosineSimilarity(a, b []float32) float32 {
	return chunk.CosineSimilarity(a, b)
}

// RankPaths scores every path with scorer and sorts by descending score.
// Equal scores keep their input (discovery) order. The input slice is
// reordered in place and returned.
func RankPaths(ctx context.Context, paths []Path, scorer Scorer) []Path {
	_, span := tracer.Start(ctx, "paths.RankPaths")
	defer span.End()

	for i := range paths {
		paths[i].Score = scorer.Score(paths[i])
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Score > paths[j].Score
	})
	span.SetAttributes(attribute.Int("paths.count", len(paths)))
	return paths
}
