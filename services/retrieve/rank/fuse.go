// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank fuses independently scored retrieval signals into a single
// ordered result list.
//
// Each provider's scores are max-normalized so signals on different
// scales can be combined by weight. Graph proximity, exact symbol matches
// and summary similarity add boosts on top. Output ordering is
// deterministic: ties keep the order in which chunks were first seen.
package rank

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

// GraphHit states that a candidate chunk's node is reachable from an
// anchor node.
type GraphHit struct {
	Chunk chunk.Chunk `json:"chunk"`

	// AnchorID is the seed node the chunk was reached from.
	AnchorID string `json:"anchor_id"`

	// NodeID is the chunk's own node.
	NodeID string `json:"node_id"`

	// Hops is the edge distance from the anchor, at least 1.
	Hops int `json:"hops"`

	// EdgeKind is the kind of the last edge on the path.
	EdgeKind graph.EdgeKind `json:"edge_kind"`

	// Path lists node ids from anchor to NodeID.
	Path []string `json:"path"`
}

// SymbolHit marks a chunk that contains a symbol whose name matches the
// query exactly.
type SymbolHit struct {
	Chunk  chunk.Chunk `json:"chunk"`
	Symbol string      `json:"symbol"`
}

// Signals are the inputs to Fuse. Any list may be empty; a provider that
// failed contributes an empty list.
type Signals struct {
	Lexical   []chunk.Hit
	Vector    []chunk.Hit
	Graph     []GraphHit
	Symbols   []SymbolHit
	Summaries []chunk.SummaryHit
}

// ScoredChunk is a chunk with its fused score and per-signal breakdown.
type ScoredChunk struct {
	Chunk chunk.Chunk `json:"chunk"`

	// Score is the final fused value.
	Score float32 `json:"score"`

	// LexicalScore and VectorScore are max-normalized, before weighting.
	LexicalScore float32 `json:"lexical_score"`
	VectorScore  float32 `json:"vector_score"`

	GraphBoost    float32  `json:"graph_boost"`
	GraphDistance int      `json:"graph_distance,omitempty"`
	GraphPath     []string `json:"graph_path,omitempty"`

	SymbolBoost float32 `json:"symbol_boost"`
	MatchedName string  `json:"matched_symbol,omitempty"`

	// SummaryScore is the raw similarity of the best covering summary.
	// SummaryBoost is its contribution, zero below the threshold.
	SummaryScore float32 `json:"summary_score"`
	SummaryBoost float32 `json:"summary_boost"`
}

// NormalizeMax divides every score by the maximum score in the list.
//
// An empty list, or one whose maximum is not positive, normalizes to all
// zeros. Negative scores clamp to zero.
func NormalizeMax(scores []float32) []float32 {
	out := make([]float32, len(scores))
	var maxScore float32
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore <= 0 || math.IsInf(float64(maxScore), 0) || math.IsNaN(float64(maxScore)) {
		return out
	}
	for i, s := range scores {
		if s > 0 {
			out[i] = s / maxScore
		}
	}
	return out
}

// candidate accumulates a chunk's signals. order is its first-seen index.
type candidate struct {
	scored ScoredChunk
	order  int
}

type fusion struct {
	byID  map[string]*candidate
	order []*candidate
}

func (f *fusion) get(c chunk.Chunk) *candidate {
	if cand, ok := f.byID[c.ID]; ok {
		return cand
	}
	cand := &candidate{scored: ScoredChunk{Chunk: c}, order: len(f.order)}
	f.byID[c.ID] = cand
	f.order = append(f.order, cand)
	return cand
}

// dedupeMax collapses repeated chunk ids to their highest raw score,
// keeping first-appearance order.
func dedupeMax(hits []chunk.Hit) ([]chunk.Chunk, []float32) {
	idx := make(map[string]int, len(hits))
	chunks := make([]chunk.Chunk, 0, len(hits))
	scores := make([]float32, 0, len(hits))
	for _, h := range hits {
		if h.Chunk.ID == "" {
			continue
		}
		if i, ok := idx[h.Chunk.ID]; ok {
			if h.Score > scores[i] {
				scores[i] = h.Score
			}
			continue
		}
		idx[h.Chunk.ID] = len(chunks)
		chunks = append(chunks, h.Chunk)
		scores = append(scores, h.Score)
	}
	return chunks, scores
}

// GraphBoost returns graph_weight * graph_path_weight * edge_weight *
// decay^hops for a single graph hit. Hits beyond GraphMaxDepth, or with
// no hops, contribute nothing.
func GraphBoost(cfg RankConfig, hops int, kind graph.EdgeKind) float32 {
	if hops < 1 || hops > cfg.GraphMaxDepth {
		return 0
	}
	decay := float32(math.Pow(float64(cfg.GraphDecay), float64(hops)))
	return cfg.GraphWeight * cfg.GraphPathWeight * cfg.EdgeWeight(kind) * decay
}

// Fuse combines the signals into one list sorted by descending score.
//
// Description:
//
//	Lexical and vector scores are max-normalized per list and weighted.
//	A chunk absent from a list gets 0 for that signal. Graph hits add
//	GraphBoost, keeping the best anchor when several reach the same chunk.
//	A symbol hit adds SymbolWeight once. Summaries add
//	SummaryBoostWeight * similarity when the best covering summary's
//	similarity exceeds the threshold; summaries never introduce chunks.
//
// Inputs:
//
//	ctx - Used for tracing only. Fuse is not cancellable.
//	sig - Signal lists. Nil lists are treated as empty.
//	cfg - Should already have passed Validate.
//
// Outputs:
//
//	[]ScoredChunk - Deterministic for identical inputs; ties keep
//	                first-seen order across Lexical, Vector, Graph, Symbols.
//
// Thread Safety: Safe for concurrent use; Fuse does not retain its inputs.
func Fuse(ctx context.Context, sig Signals, cfg RankConfig) []ScoredChunk {
	_, span := tracer.Start(ctx, "rank.Fuse")
	defer span.End()
	start := time.Now()

	f := &fusion{byID: make(map[string]*candidate)}

	lexChunks, lexRaw := dedupeMax(sig.Lexical)
	for i, norm := range NormalizeMax(lexRaw) {
		cand := f.get(lexChunks[i])
		cand.scored.LexicalScore = norm
	}

	vecChunks, vecRaw := dedupeMax(sig.Vector)
	for i, norm := range NormalizeMax(vecRaw) {
		cand := f.get(vecChunks[i])
		cand.scored.VectorScore = norm
	}

	for _, gh := range sig.Graph {
		if gh.Chunk.ID == "" {
			continue
		}
		boost := GraphBoost(cfg, gh.Hops, gh.EdgeKind)
		cand := f.get(gh.Chunk)
		if boost > cand.scored.GraphBoost {
			cand.scored.GraphBoost = boost
			cand.scored.GraphDistance = gh.Hops
			cand.scored.GraphPath = append([]string(nil), gh.Path...)
		}
	}

	for _, sh := range sig.Symbols {
		if sh.Chunk.ID == "" {
			continue
		}
		cand := f.get(sh.Chunk)
		if cand.scored.SymbolBoost == 0 {
			cand.scored.SymbolBoost = cfg.SymbolWeight
			cand.scored.MatchedName = sh.Symbol
		}
	}

	if len(sig.Summaries) > 0 {
		for _, cand := range f.order {
			best, found := float32(0), false
			for _, sh := range sig.Summaries {
				if sh.Summary.Covers(cand.scored.Chunk) && (!found || sh.Score > best) {
					best, found = sh.Score, true
				}
			}
			if !found {
				continue
			}
			cand.scored.SummaryScore = best
			if best > cfg.SummarySimilarityThreshold {
				cand.scored.SummaryBoost = cfg.SummaryBoostWeight * best
			}
		}
	}

	results := make([]ScoredChunk, len(f.order))
	for i, cand := range f.order {
		sc := &cand.scored
		score := cfg.LexicalWeight * sc.LexicalScore
		score += cfg.VectorWeight * sc.VectorScore
		score += sc.GraphBoost
		score += sc.SymbolBoost
		score += sc.SummaryBoost
		sc.Score = score
		results[i] = *sc
	}

	// f.order is first-seen order, so a stable sort keeps ties reproducible.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	span.SetAttributes(
		attribute.Int("rank.lexical_hits", len(sig.Lexical)),
		attribute.Int("rank.vector_hits", len(sig.Vector)),
		attribute.Int("rank.graph_hits", len(sig.Graph)),
		attribute.Int("rank.symbol_hits", len(sig.Symbols)),
		attribute.Int("rank.summary_hits", len(sig.Summaries)),
		attribute.Int("rank.results", len(results)),
	)
	recordFuseMetrics(ctx, time.Since(start), len(results))
	return results
}

// TopK truncates a fused list to k entries. k <= 0 returns the list as is.
func TopK(results []ScoredChunk, k int) []ScoredChunk {
	if k <= 0 || len(results) <= k {
		return results
	}
	return results[:k]
}
