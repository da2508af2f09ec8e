// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package paths discovers and scores bounded relationship paths in the
// code graph, starting from seed nodes mapped from ranked search results.
//
// The flow is SelectSeeds (ranked chunks to node ids), FindPaths (bounded
// breadth-first enumeration from each seed) and RankPaths (score and
// order with a pluggable Scorer).
package paths

import (
	"strings"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

// PathNode is one node on a path. Label and FilePath are copied from the
// graph at discovery time.
type PathNode struct {
	ID       string         `json:"id"`
	Kind     graph.NodeKind `json:"kind"`
	Label    string         `json:"label"`
	FilePath string         `json:"file_path"`
}

// PathEdge connects consecutive path nodes.
type PathEdge struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Kind   graph.EdgeKind `json:"kind"`
}

// Path is an ordered, cycle-free sequence of nodes joined by edges.
// len(Edges) == len(Nodes)-1 for every non-empty path.
type Path struct {
	Nodes []PathNode `json:"nodes"`
	Edges []PathEdge `json:"edges"`
	Score float32    `json:"score"`
}

// Len returns the number of edges.
func (p Path) Len() int {
	return len(p.Edges)
}

// NodeIDs returns the node ids in order.
func (p Path) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// EdgeKinds returns the edge kinds in order.
func (p Path) EdgeKinds() []graph.EdgeKind {
	kinds := make([]graph.EdgeKind, len(p.Edges))
	for i, e := range p.Edges {
		kinds[i] = e.Kind
	}
	return kinds
}

// DistinctFiles counts the different file paths the path touches.
func (p Path) DistinctFiles() int {
	seen := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.FilePath != "" {
			seen[n.FilePath] = struct{}{}
		}
	}
	return len(seen)
}

// String renders the path as "a -calls-> b -imports-> c".
func (p Path) String() string {
	if len(p.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Nodes[0].ID)
	for i, e := range p.Edges {
		b.WriteString(" -")
		b.WriteString(e.Kind.String())
		b.WriteString("-> ")
		b.WriteString(p.Nodes[i+1].ID)
	}
	return b.String()
}

func pathNodeFrom(n graph.GraphNode) PathNode {
	return PathNode{ID: n.ID, Kind: n.Kind, Label: n.Label, FilePath: n.FilePath}
}
