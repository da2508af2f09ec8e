// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the persistent code relationship graph used by the
// retrieval engine.
//
// Nodes are files and symbols; edges are Defines, Calls, Imports and Contains
// relationships between them. The Store keeps the whole graph in memory,
// guarded by a reader-writer lock, and persists it as a single snapshot file
// (graph.bin).
//
// # Identity
//
// Node ids are derived from the relative file path so that re-indexing an
// unchanged file produces the same ids:
//
//	"<relative_file_path>"                       File nodes
//	"<relative_file_path>#<local-disambiguator>" Symbol nodes
//
// # Thread Safety
//
// Store is safe for concurrent use. Reads (GetNode, Neighbors, ShortestPath,
// ListSymbols, ...) share the lock; mutations (AddNode, AddEdge,
// DeleteNodesForFile, Reload) take it exclusively, so readers never observe a
// partially applied mutation.
//
// # Edges and missing nodes
//
// An edge may reference a node id that has not been added yet. Deleting a
// node always deletes every edge incident to it.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrInvalidNode is returned when a node fails validation
	// (empty id, unknown kind, inverted line range).
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge is returned when an edge has an empty endpoint or an
	// unknown kind.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrMaxNodesExceeded is returned when the store is at node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the store is at edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrIntegrity marks a snapshot that exists but cannot be decoded
	// (bad magic, checksum mismatch, truncated payload). Load recovers from
	// it with an empty graph unless the caller requires a non-empty graph.
	ErrIntegrity = errors.New("graph snapshot integrity check failed")

	// ErrStorage marks an I/O failure reading or writing a snapshot
	// (permission denied, disk full). Always propagated to the caller.
	ErrStorage = errors.New("graph snapshot storage failure")

	// ErrEmptyGraph is returned by Load when WithRequireNonEmpty is set and
	// the loaded graph has no nodes.
	ErrEmptyGraph = errors.New("graph is empty")

	// ErrNoSnapshotPath is returned by Save when the store was created
	// without a snapshot path.
	ErrNoSnapshotPath = errors.New("no snapshot path configured")
)
