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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
)

// SeedGraph is the subset of graph.Store the seed selector needs.
type SeedGraph interface {
	NodesForFile(filePath string) []graph.GraphNode
}

// SeedConfig tunes seed selection.
type SeedConfig struct {
	// Limit caps how many ranked chunks are considered.
	Limit int `yaml:"limit" json:"limit" validate:"gte=0"`

	// FunctionBonus is added to the overlap of function and method nodes.
	FunctionBonus float64 `yaml:"function_bonus" json:"function_bonus" validate:"gte=0"`

	// ClassBonus is added to the overlap of class and interface nodes.
	ClassBonus float64 `yaml:"class_bonus" json:"class_bonus" validate:"gte=0"`

	// FileFallback seeds the file node when no symbol overlaps a chunk.
	FileFallback bool `yaml:"file_fallback" json:"file_fallback"`
}

// DefaultSeedConfig returns the default seed selection settings. The
// bonuses are below one line of overlap, so they only break ties.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Limit:         5,
		FunctionBonus: 0.5,
		ClassBonus:    0.25,
	}
}

func (c SeedConfig) typeBonus(t graph.SymbolType) float64 {
	switch t {
	case graph.SymbolTypeFunction, graph.SymbolTypeMethod:
		return c.FunctionBonus
	case graph.SymbolTypeClass, graph.SymbolTypeInterface:
		return c.ClassBonus
	default:
		return 0
	}
}

// SelectSeeds maps the top ranked chunks onto graph node ids.
//
// Description:
//
//	For each of the first cfg.Limit chunks (all chunks if Limit is 0), the
//	node in the chunk's file with the largest line overlap wins, after
//	adding the type bonus. Nodes without a line range never win on
//	overlap. A chunk with no overlapping node contributes no seed, unless
//	FileFallback is set and the file node exists. The result has no
//	duplicates and keeps first-seen order.
func SelectSeeds(ctx context.Context, g SeedGraph, ranked []rank.ScoredChunk, cfg SeedConfig) []string {
	_, span := tracer.Start(ctx, "paths.SelectSeeds")
	defer span.End()

	n := len(ranked)
	if cfg.Limit > 0 && cfg.Limit < n {
		n = cfg.Limit
	}

	seen := make(map[string]struct{})
	var seeds []string
	for _, sc := range ranked[:n] {
		id, ok := bestNode(g, sc, cfg)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		seeds = append(seeds, id)
	}

	span.SetAttributes(
		attribute.Int("paths.candidates", n),
		attribute.Int("paths.seeds", len(seeds)),
	)
	return seeds
}

func bestNode(g SeedGraph, sc rank.ScoredChunk, cfg SeedConfig) (string, bool) {
	c := sc.Chunk
	if c.FilePath == "" {
		return "", false
	}

	var (
		bestID    string
		bestScore float64
		fileID    string
	)
	for _, node := range g.NodesForFile(c.FilePath) {
		if node.Kind == graph.NodeKindFile {
			fileID = node.ID
			continue
		}
		if !node.HasLines() {
			continue
		}
		overlap := c.Overlap(node.StartLine, node.EndLine)
		if overlap == 0 {
			continue
		}
		score := float64(overlap) + cfg.typeBonus(node.SymbolType)
		if bestID == "" || score > bestScore {
			bestID, bestScore = node.ID, score
		}
	}

	if bestID != "" {
		return bestID, true
	}
	if cfg.FileFallback && fileID != "" {
		return fileID, true
	}
	return "", false
}
