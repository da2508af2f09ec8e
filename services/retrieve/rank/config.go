// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

// ErrInvalidConfig is returned by Validate for a configuration the ranker
// must never see.
var ErrInvalidConfig = errors.New("invalid rank config")

var rankValidate = validator.New()

// RankConfig holds the fusion weights and graph-boost parameters.
//
// A RankConfig is treated as immutable for the duration of a search.
// K1, B and AvgLen are BM25 parameters consumed by the lexical provider,
// not by Fuse.
type RankConfig struct {
	LexicalWeight      float32 `yaml:"lexical_weight" json:"lexical_weight" validate:"gte=0"`
	VectorWeight       float32 `yaml:"vector_weight" json:"vector_weight" validate:"gte=0"`
	GraphWeight        float32 `yaml:"graph_weight" json:"graph_weight" validate:"gte=0"`
	SymbolWeight       float32 `yaml:"symbol_weight" json:"symbol_weight" validate:"gte=0"`
	SummaryBoostWeight float32 `yaml:"summary_boost_weight" json:"summary_boost_weight" validate:"gte=0"`

	// BM25 term-frequency saturation.
	K1 float32 `yaml:"k1" json:"k1" validate:"gte=0"`

	// BM25 length normalization, 0 (none) to 1 (full).
	B float32 `yaml:"b" json:"b" validate:"gte=0,lte=1"`

	// AvgLen overrides the corpus average document length. 0 uses the
	// observed average.
	AvgLen float32 `yaml:"avg_len" json:"avg_len" validate:"gte=0"`

	// GraphMaxDepth bounds the hop distance at which a chunk can still be
	// boosted by an anchor.
	GraphMaxDepth int `yaml:"graph_max_depth" json:"graph_max_depth" validate:"gte=0,lte=16"`

	// GraphDecay multiplies the boost once per hop.
	GraphDecay float32 `yaml:"graph_decay" json:"graph_decay" validate:"gte=0,lte=1"`

	GraphPathWeight float32 `yaml:"graph_path_weight" json:"graph_path_weight" validate:"gte=0"`

	// EdgeWeights scales the boost by the kind of the edge that reached
	// the chunk. A missing kind weighs 0.
	EdgeWeights map[graph.EdgeKind]float32 `yaml:"edge_weights" json:"edge_weights" validate:"dive,gte=0"`

	// SummarySimilarityThreshold gates the summary boost on raw similarity.
	SummarySimilarityThreshold float32 `yaml:"summary_similarity_threshold" json:"summary_similarity_threshold" validate:"gte=-1,lte=1"`
}

// DefaultRankConfig returns the default weights.
func DefaultRankConfig() RankConfig {
	return RankConfig{
		LexicalWeight:      0.45,
		VectorWeight:       0.45,
		GraphWeight:        0.15,
		SymbolWeight:       0.10,
		SummaryBoostWeight: 0.10,
		K1:                 1.2,
		B:                  0.75,
		AvgLen:             0,
		GraphMaxDepth:      2,
		GraphDecay:         0.5,
		GraphPathWeight:    1.0,
		EdgeWeights: map[graph.EdgeKind]float32{
			graph.EdgeKindCalls:    1.0,
			graph.EdgeKindDefines:  0.8,
			graph.EdgeKindContains: 0.7,
			graph.EdgeKindImports:  0.5,
		},
		SummarySimilarityThreshold: 0.75,
	}
}

// Validate rejects negative weights and out-of-range parameters.
//
// Outputs:
//
//	error - ErrInvalidConfig listing every failing field, or nil.
func (c RankConfig) Validate() error {
	if err := rankValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for kind := range c.EdgeWeights {
		if !kind.Valid() {
			return fmt.Errorf("%w: edge weight for unknown edge kind %d", ErrInvalidConfig, int(kind))
		}
	}
	return nil
}

// EdgeWeight returns the configured weight for kind, or 0.
func (c RankConfig) EdgeWeight(kind graph.EdgeKind) float32 {
	return c.EdgeWeights[kind]
}

// WithWeights returns a copy of c with the five signal weights replaced.
func (c RankConfig) WithWeights(lexical, vector, graphW, symbol, summary float32) RankConfig {
	c.LexicalWeight = lexical
	c.VectorWeight = vector
	c.GraphWeight = graphW
	c.SymbolWeight = symbol
	c.SummaryBoostWeight = summary
	return c
}
