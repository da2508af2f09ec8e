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
	"fmt"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

// GraphReader is the subset of graph.Store the builder needs.
type GraphReader interface {
	GetNode(id string) (graph.GraphNode, bool)
	OutgoingEdges(id string) []graph.GraphEdge
}

// Upper bounds on any enumeration, whatever the configuration asks for.
const (
	MaxPathLength = 16
	MaxPathCount  = 10000
	MaxSeeds      = 64
)

var builderValidate = validator.New()

// viewer is implemented by graph.Store. FindPaths uses it to hold one read
// lock for the whole enumeration.
type viewer interface {
	Read(fn func(v graph.View))
}

// BuilderConfig bounds path enumeration.
type BuilderConfig struct {
	// MaxLength is the maximum number of edges in a path.
	MaxLength int `yaml:"max_length" json:"max_length" validate:"gte=1,lte=16"`

	// MaxPaths is the maximum number of paths returned per start node.
	MaxPaths int `yaml:"max_paths" json:"max_paths" validate:"gte=1,lte=10000"`
}

// DefaultBuilderConfig returns the default bounds.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MaxLength: 4,
		MaxPaths:  50,
	}
}

// Validate checks both bounds against their struct tag ranges.
func (c BuilderConfig) Validate() error {
	if err := builderValidate.Struct(c); err != nil {
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
	return nil
}

// entry is one active traversal state.
type entry struct {
	path   Path
	onPath map[string]struct{}
}

func (e entry) tail() string {
	return e.path.Nodes[len(e.path.Nodes)-1].ID
}

// FindPaths enumerates bounded paths that start at start and follow
// outgoing edges.
//
// Description:
//
//	Breadth-first. Every non-trivial prefix is emitted once, in discovery
//	order. A neighbour already on the current path is skipped, so no path
//	repeats a node even when the graph has cycles. Edges whose target has
//	no node are skipped. A branch stops growing at cfg.MaxLength edges;
//	enumeration stops entirely once cfg.MaxPaths paths have been emitted.
//
// Inputs:
//
//	ctx   - Tracing only; termination is guaranteed by the bounds.
//	g     - Graph to read.
//	start - Start node id. A missing node yields no paths.
//	cfg   - Bounds. Non-positive values fall back to DefaultBuilderConfig;
//	        values above MaxPathLength and MaxPathCount are clamped.
//
// Outputs:
//
//	[]Path - At most cfg.MaxPaths paths, each with 1..cfg.MaxLength edges
//	         and Score 0.
func FindPaths(ctx context.Context, g GraphReader, start string, cfg BuilderConfig) []Path {
	def := DefaultBuilderConfig()
	if cfg.MaxLength < 1 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.MaxPaths < 1 {
		cfg.MaxPaths = def.MaxPaths
	}
	cfg.MaxLength = min(cfg.MaxLength, MaxPathLength)
	cfg.MaxPaths = min(cfg.MaxPaths, MaxPathCount)

	if v, ok := g.(viewer); ok {
		var results []Path
		v.Read(func(view graph.View) {
			results = findPaths(ctx, view, start, cfg)
		})
		return results
	}
	return findPaths(ctx, g, start, cfg)
}

func findPaths(ctx context.Context, g GraphReader, start string, cfg BuilderConfig) []Path {
	_, span := tracer.Start(ctx, "paths.FindPaths", trace.WithAttributes(
		attribute.String("paths.start", start),
		attribute.Int("paths.max_length", cfg.MaxLength),
		attribute.Int("paths.max_paths", cfg.MaxPaths),
	))
	defer span.End()

	root, ok := g.GetNode(start)
	if !ok {
		span.SetAttributes(attribute.Bool("paths.start_found", false))
		return nil
	}

	var results []Path
	queue := []entry{{
		path:   Path{Nodes: []PathNode{pathNodeFrom(root)}},
		onPath: map[string]struct{}{root.ID: {}},
	}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range g.OutgoingEdges(cur.tail()) {
			if _, cyc := cur.onPath[e.Target]; cyc {
				continue
			}
			target, ok := g.GetNode(e.Target)
			if !ok {
				continue
			}

			next := extend(cur, target, e)
			results = append(results, next.path)
			if len(results) >= cfg.MaxPaths {
				span.SetAttributes(
					attribute.Int("paths.found", len(results)),
					attribute.Bool("paths.budget_exhausted", true),
				)
				recordBuild(ctx, len(results))
				return results
			}
			if next.path.Len() < cfg.MaxLength {
				queue = append(queue, next)
			}
		}
	}

	span.SetAttributes(attribute.Int("paths.found", len(results)))
	recordBuild(ctx, len(results))
	return results
}

// extend copies cur and appends one hop. Paths already emitted are never
// aliased by later extensions.
func extend(cur entry, target graph.GraphNode, e graph.GraphEdge) entry {
	n := len(cur.path.Nodes)
	nodes := make([]PathNode, n, n+1)
	copy(nodes, cur.path.Nodes)
	edges := make([]PathEdge, len(cur.path.Edges), len(cur.path.Edges)+1)
	copy(edges, cur.path.Edges)

	onPath := maps.Clone(cur.onPath)
	onPath[target.ID] = struct{}{}

	return entry{
		path: Path{
			Nodes: append(nodes, pathNodeFrom(target)),
			Edges: append(edges, PathEdge{Source: e.Source, Target: e.Target, Kind: e.Kind}),
		},
		onPath: onPath,
	}
}

// FindPathsFrom runs FindPaths for each seed and concatenates the results
// in seed order. The MaxPaths bound applies per seed. Each seed is a
// separate consistent read.
func FindPathsFrom(ctx context.Context, g GraphReader, seeds []string, cfg BuilderConfig) []Path {
	var all []Path
	for _, s := range seeds {
		all = append(all, FindPaths(ctx, g, s, cfg)...)
	}
	return all
}
