// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// queryOptions holds traversal options.
type queryOptions struct {
	direction Direction
	kinds     []EdgeKind
	nodeLimit int
}

// QueryOption configures Neighbors and ShortestPath.
type QueryOption func(*queryOptions)

// WithDirection selects which edges a traversal follows. Neighbors
// defaults to DirectionBoth, ShortestPath to DirectionOutgoing.
func WithDirection(d Direction) QueryOption {
	return func(o *queryOptions) {
		o.direction = d
	}
}

// WithEdgeKinds restricts traversal to the given edge kinds. An empty
// list follows every kind.
func WithEdgeKinds(kinds ...EdgeKind) QueryOption {
	return func(o *queryOptions) {
		o.kinds = kinds
	}
}

// WithNodeLimit stops a Neighbors expansion once n ids have been reached.
// The result is marked Truncated. Zero means unlimited.
func WithNodeLimit(n int) QueryOption {
	return func(o *queryOptions) {
		o.nodeLimit = n
	}
}

func applyQueryOptions(def Direction, opts []QueryOption) queryOptions {
	o := queryOptions{direction: def}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// kindFilter returns a membership test for kinds; nil kinds accept all.
func kindFilter(kinds []EdgeKind) func(EdgeKind) bool {
	if len(kinds) == 0 {
		return func(EdgeKind) bool { return true }
	}
	var allowed [NumEdgeKinds]bool
	for _, k := range kinds {
		if k.Valid() {
			allowed[k] = true
		}
	}
	return func(k EdgeKind) bool {
		return k.Valid() && allowed[k]
	}
}

// stepLocked returns the edges leaving id in the requested direction,
// paired with the id on the far side. Caller must hold the read lock.
func (s *Store) stepLocked(id string, dir Direction, accept func(EdgeKind) bool, visit func(e GraphEdge, next string) bool) {
	if dir == DirectionOutgoing || dir == DirectionBoth {
		for _, e := range s.out[id] {
			if accept(e.Kind) && !visit(e, e.Target) {
				return
			}
		}
	}
	if dir == DirectionIncoming || dir == DirectionBoth {
		for _, e := range s.in[id] {
			if accept(e.Kind) && !visit(e, e.Source) {
				return
			}
		}
	}
}

// Neighbors expands breadth-first from id up to maxHops.
//
// Description:
//
//	Follows edges whose kind is in kinds (all kinds if empty). Traversal
//	passes through ids that have no node yet, since edges may precede
//	their endpoints, but only existing nodes appear in Subgraph.Nodes.
//	Each traversed edge is reported once. The whole expansion runs under
//	one read lock, so it sees a consistent graph.
//
// Inputs:
//
//	ctx     - Checked between BFS levels. Cancellation returns a partial,
//	          Truncated subgraph and ctx.Err().
//	id      - Root node id. An unknown id yields an empty subgraph.
//	kinds   - Edge kinds to follow.
//	maxHops - Maximum hop distance. Zero returns only the root.
//
// Outputs:
//
//	*Subgraph - Never nil.
//	error     - Only context errors.
func (s *Store) Neighbors(ctx context.Context, id string, kinds []EdgeKind, maxHops int, opts ...QueryOption) (*Subgraph, error) {
	ctx, span := startQuerySpan(ctx, "Neighbors", id, maxHops)
	defer span.End()
	start := time.Now()
	defer func() { recordQueryMetrics(ctx, "neighbors", time.Since(start)) }()

	o := applyQueryOptions(DirectionBoth, opts)
	accept := kindFilter(kinds)
	if maxHops < 0 {
		maxHops = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := &Subgraph{
		Root:  id,
		Nodes: []GraphNode{},
		Edges: []GraphEdge{},
		Depth: map[string]int{id: 0},
	}
	if n, ok := s.nodes[id]; ok {
		sub.Nodes = append(sub.Nodes, *n)
	}

	seenEdges := make(map[GraphEdge]struct{})
	frontier := []string{id}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			sub.Truncated = true
			return sub, err
		}

		var next []string
		for _, cur := range frontier {
			s.stepLocked(cur, o.direction, accept, func(e GraphEdge, other string) bool {
				if _, ok := seenEdges[e]; !ok {
					seenEdges[e] = struct{}{}
					sub.Edges = append(sub.Edges, e)
				}
				if _, ok := sub.Depth[other]; ok {
					return true
				}
				if o.nodeLimit > 0 && len(sub.Depth) >= o.nodeLimit {
					sub.Truncated = true
					return false
				}
				sub.Depth[other] = hop
				if n, ok := s.nodes[other]; ok {
					sub.Nodes = append(sub.Nodes, *n)
				}
				next = append(next, other)
				return true
			})
		}
		frontier = next
	}

	span.SetAttributes(
		attribute.Int("graph.result_nodes", len(sub.Nodes)),
		attribute.Int("graph.result_edges", len(sub.Edges)),
		attribute.Bool("graph.truncated", sub.Truncated),
	)
	return sub, nil
}

// ShortestPath finds a minimum edge-count path from one id to another.
//
// Description:
//
//	Standard BFS with a parent map, bounded by maxHops. Follows outgoing
//	edges unless WithDirection says otherwise. Ids without nodes are valid
//	waypoints.
//
// Outputs:
//
//	[]string - Node ids from "from" to "to" inclusive. [from] if from == to.
//	bool     - False if "to" is unreachable within maxHops. Not an error.
//	error    - Only context errors.
func (s *Store) ShortestPath(ctx context.Context, from, to string, maxHops int, opts ...QueryOption) ([]string, bool, error) {
	ctx, span := startQuerySpan(ctx, "ShortestPath", from, maxHops)
	defer span.End()
	span.SetAttributes(attribute.String("graph.to", to))
	start := time.Now()
	defer func() { recordQueryMetrics(ctx, "shortest_path", time.Since(start)) }()

	if from == "" || to == "" {
		return nil, false, nil
	}

	o := applyQueryOptions(DirectionOutgoing, opts)
	accept := kindFilter(o.kinds)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == to {
		if _, ok := s.nodes[from]; ok {
			return []string{from}, true, nil
		}
		if len(s.out[from]) == 0 && len(s.in[from]) == 0 {
			return nil, false, nil
		}
		return []string{from}, true, nil
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}
	found := false

	for hop := 1; hop <= maxHops && len(frontier) > 0 && !found; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		var next []string
		for _, cur := range frontier {
			s.stepLocked(cur, o.direction, accept, func(_ GraphEdge, other string) bool {
				if _, seen := parent[other]; seen {
					return true
				}
				parent[other] = cur
				if other == to {
					found = true
					return false
				}
				next = append(next, other)
				return true
			})
			if found {
				break
			}
		}
		frontier = next
	}

	if !found {
		span.SetAttributes(attribute.Bool("graph.found", false))
		return nil, false, nil
	}

	var path []string
	for cur := to; cur != ""; cur = parent[cur] {
		path = append(path, cur)
		if cur == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	span.SetAttributes(
		attribute.Bool("graph.found", true),
		attribute.Int("graph.path_length", len(path)-1),
	)
	return path, true, nil
}

// OutgoingEdges returns the edges leaving id in insertion order.
func (s *Store) OutgoingEdges(id string) []GraphEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GraphEdge(nil), s.out[id]...)
}

// IncomingEdges returns the edges entering id in insertion order.
func (s *Store) IncomingEdges(id string) []GraphEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GraphEdge(nil), s.in[id]...)
}

// View is a read-only handle used inside Store.Read. Its methods do not
// lock; they rely on the read lock Read holds for the whole callback.
type View struct {
	s *Store
}

// GetNode returns the node with the given id.
func (v View) GetNode(id string) (GraphNode, bool) {
	n, ok := v.s.nodes[id]
	if !ok {
		return GraphNode{}, false
	}
	return *n, true
}

// OutgoingEdges returns the edges leaving id in insertion order.
func (v View) OutgoingEdges(id string) []GraphEdge {
	return append([]GraphEdge(nil), v.s.out[id]...)
}

// IncomingEdges returns the edges entering id in insertion order.
func (v View) IncomingEdges(id string) []GraphEdge {
	return append([]GraphEdge(nil), v.s.in[id]...)
}

// Read runs fn under one shared lock so a multi-step traversal sees a single
// graph state. fn must not call Store methods, which would lock again.
func (s *Store) Read(fn func(v View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(View{s: s})
}
