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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Document is the JSON interchange form of a graph, produced by symbol
// extractors and by Export. Kinds are encoded by name.
type Document struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ImportResult reports what Import changed.
type ImportResult struct {
	Files        int `json:"files"`
	NodesAdded   int `json:"nodes_added"`
	EdgesAdded   int `json:"edges_added"`
	NodesRemoved int `json:"nodes_removed"`
}

// Import reads a Document from r and applies it in one write lock.
//
// Description:
//
//	Every file that owns a node in the document is replaced: its existing
//	nodes and their incident edges are removed before the document's nodes
//	and edges are added. Files not mentioned are untouched. The document
//	is validated and checked against the store limits as a whole before
//	anything changes.
//
// Outputs:
//
//	ImportResult - Counts of the applied change.
//	error        - Decode errors, ErrInvalidNode/ErrInvalidEdge, or the
//	               store limits.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	_, span := tracer.Start(ctx, "graph.Import")
	defer span.End()

	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("decode graph document: %w", err)
	}
	if err := validateBatch(doc.Nodes, doc.Edges); err != nil {
		return ImportResult{}, err
	}

	files := make(map[string]struct{})
	for _, n := range doc.Nodes {
		if n.FilePath != "" {
			files[normalizePath(n.FilePath)] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]string, 0, len(files))
	for f := range files {
		replaced = append(replaced, f)
	}
	if err := s.checkCapacityLocked(replaced, doc.Nodes, doc.Edges); err != nil {
		return ImportResult{}, err
	}

	res := ImportResult{Files: len(files)}
	for _, f := range replaced {
		removed, _ := s.removeFileLocked(f)
		res.NodesRemoved += removed
	}
	nodesBefore, edgesBefore := len(s.nodes), len(s.edgeSet)
	if err := s.addBatchLocked(doc.Nodes, doc.Edges); err != nil {
		return res, err
	}
	res.NodesAdded = len(s.nodes) - nodesBefore
	res.EdgesAdded = len(s.edgeSet) - edgesBefore

	recordMutation(ctx, "import")
	s.logger.Info("graph document imported",
		slog.Int("files", res.Files),
		slog.Int("nodes_added", res.NodesAdded),
		slog.Int("edges_added", res.EdgesAdded),
		slog.Int("nodes_removed", res.NodesRemoved))
	return res, nil
}

// Export writes the whole graph to w as an indented Document with nodes
// and edges in sorted order.
func (s *Store) Export(w io.Writer) error {
	s.mu.RLock()
	doc := Document{Nodes: s.nodesLocked(), Edges: s.edgesLocked()}
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graph document: %w", err)
	}
	return nil
}
