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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Default capacity limits. Zero disables a limit.
const (
	DefaultMaxNodes = 2_000_000
	DefaultMaxEdges = 10_000_000
)

// Store is the in-memory code relationship graph backed by a snapshot file.
//
// Description:
//
//	Store holds nodes keyed by id plus outgoing and incoming adjacency lists.
//	Adjacency is keyed by id rather than by node, so an edge may be added
//	before either endpoint exists. Deleting a node removes every edge
//	incident to it. A file_path index keeps DeleteNodesForFile proportional
//	to the size of the file's neighbourhood, not the whole graph.
//
// Thread Safety:
//
//	Safe for concurrent use. Reads take a shared lock; mutations, including
//	Reload, take the exclusive lock and are atomic to readers.
type Store struct {
	mu sync.RWMutex

	nodes   map[string]*GraphNode
	out     map[string][]GraphEdge
	in      map[string][]GraphEdge
	edgeSet map[GraphEdge]struct{}

	// byFile maps file_path to the ids of nodes owned by that file.
	byFile map[string]map[string]struct{}

	// byName maps a lower-cased symbol label to symbol node ids.
	byName map[string]map[string]struct{}

	path            string
	maxNodes        int
	maxEdges        int
	requireNonEmpty bool
	logger          *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshotPath sets the file used by Save and Reload.
func WithSnapshotPath(path string) StoreOption {
	return func(s *Store) {
		s.path = path
	}
}

// WithMaxNodes caps the number of nodes. Zero means unlimited.
func WithMaxNodes(n int) StoreOption {
	return func(s *Store) {
		s.maxNodes = n
	}
}

// WithMaxEdges caps the number of edges. Zero means unlimited.
func WithMaxEdges(n int) StoreOption {
	return func(s *Store) {
		s.maxEdges = n
	}
}

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty graph.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxNodes: DefaultMaxNodes,
		maxEdges: DefaultMaxEdges,
		logger:   slog.Default(),
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "graph"))
	return s
}

// reset clears all contents. Caller must hold the write lock or own s.
func (s *Store) reset() {
	s.nodes = make(map[string]*GraphNode)
	s.out = make(map[string][]GraphEdge)
	s.in = make(map[string][]GraphEdge)
	s.edgeSet = make(map[GraphEdge]struct{})
	s.byFile = make(map[string]map[string]struct{})
	s.byName = make(map[string]map[string]struct{})
}

// SnapshotPath returns the configured snapshot file, or "".
func (s *Store) SnapshotPath() string {
	return s.path
}

// AddNode inserts or overwrites a node by id.
//
// Description:
//
//	Overwriting keeps all edges attached to the id and re-indexes the node
//	under its (possibly changed) file path and label. Adding an identical
//	node twice is a no-op. FilePath is stored cleaned, with forward slashes,
//	the form every file lookup uses.
//
// Outputs:
//
//	error - ErrInvalidNode if the node fails validation,
//	        ErrMaxNodesExceeded if the node is new and the graph is full.
func (s *Store) AddNode(node GraphNode) error {
	if err := node.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.addNodeLocked(node); err != nil {
		return err
	}
	recordMutation(context.Background(), "add_node")
	return nil
}

func (s *Store) addNodeLocked(node GraphNode) error {
	if existing, ok := s.nodes[node.ID]; ok {
		s.unindexLocked(existing)
	} else if s.maxNodes > 0 && len(s.nodes) >= s.maxNodes {
		return fmt.Errorf("%w: limit %d", ErrMaxNodesExceeded, s.maxNodes)
	}

	n := node
	n.FilePath = normalizePath(n.FilePath)
	s.nodes[n.ID] = &n
	s.indexLocked(&n)
	return nil
}

func (s *Store) indexLocked(n *GraphNode) {
	if n.FilePath != "" {
		ids, ok := s.byFile[n.FilePath]
		if !ok {
			ids = make(map[string]struct{})
			s.byFile[n.FilePath] = ids
		}
		ids[n.ID] = struct{}{}
	}
	if n.Kind == NodeKindSymbol && n.Label != "" {
		key := strings.ToLower(n.Label)
		ids, ok := s.byName[key]
		if !ok {
			ids = make(map[string]struct{})
			s.byName[key] = ids
		}
		ids[n.ID] = struct{}{}
	}
}

func (s *Store) unindexLocked(n *GraphNode) {
	if ids, ok := s.byFile[n.FilePath]; ok {
		delete(ids, n.ID)
		if len(ids) == 0 {
			delete(s.byFile, n.FilePath)
		}
	}
	key := strings.ToLower(n.Label)
	if ids, ok := s.byName[key]; ok {
		delete(ids, n.ID)
		if len(ids) == 0 {
			delete(s.byName, key)
		}
	}
}

// AddEdge records a directed edge. Neither endpoint needs to exist yet.
// Adding an edge that is already present is a no-op.
func (s *Store) AddEdge(source, target string, kind EdgeKind) error {
	edge := GraphEdge{Source: source, Target: target, Kind: kind}
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.addEdgeLocked(edge); err != nil {
		return err
	}
	recordMutation(context.Background(), "add_edge")
	return nil
}

func (s *Store) addEdgeLocked(edge GraphEdge) error {
	if _, dup := s.edgeSet[edge]; dup {
		return nil
	}
	if s.maxEdges > 0 && len(s.edgeSet) >= s.maxEdges {
		return fmt.Errorf("%w: limit %d", ErrMaxEdgesExceeded, s.maxEdges)
	}
	s.edgeSet[edge] = struct{}{}
	s.out[edge.Source] = append(s.out[edge.Source], edge)
	s.in[edge.Target] = append(s.in[edge.Target], edge)
	return nil
}

// GetNode returns the node with the given id. A missing node is reported
// through the boolean, never as an error.
func (s *Store) GetNode(id string) (GraphNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return GraphNode{}, false
	}
	return *n, true
}

// HasNode reports whether id exists.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// DeleteNodesForFile removes the file node and every node whose file path
// matches, together with every edge incident to any removed node.
//
// Description:
//
//	Runs under the exclusive lock, so readers observe either the whole file
//	or none of it. Cost is proportional to the removed nodes and their
//	neighbours' adjacency lists.
//
// Outputs:
//
//	nodes - number of nodes removed.
//	edges - number of edges removed.
func (s *Store) DeleteNodesForFile(filePath string) (nodes, edges int) {
	filePath = normalizePath(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, edges = s.removeFileLocked(filePath)
	if nodes > 0 {
		recordMutation(context.Background(), "delete_file")
		s.logger.Debug("deleted file from graph",
			slog.String("file_path", filePath),
			slog.Int("nodes", nodes),
			slog.Int("edges", edges),
		)
	}
	return nodes, edges
}

// DeleteNodesUnder removes dir as a file and every file below it, as
// DeleteNodesForFile does for each one. A directory renamed or removed as
// a whole produces a single event for dir itself.
func (s *Store) DeleteNodesUnder(dir string) (nodes, edges int) {
	dir = normalizePath(dir)
	if dir == "" {
		return 0, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.filesUnderLocked(dir) {
		n, e := s.removeFileLocked(f)
		nodes += n
		edges += e
	}
	if nodes > 0 {
		recordMutation(context.Background(), "delete_dir")
		s.logger.Debug("deleted directory from graph",
			slog.String("dir", dir),
			slog.Int("nodes", nodes),
			slog.Int("edges", edges),
		)
	}
	return nodes, edges
}

// filesUnderLocked lists dir itself and every file path below it, counting
// both indexed file paths and file nodes without one.
func (s *Store) filesUnderLocked(dir string) []string {
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if p != dir && !strings.HasPrefix(p, prefix) {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	for p := range s.byFile {
		add(p)
	}
	for id, n := range s.nodes {
		if n.Kind == NodeKindFile && n.FilePath == "" {
			add(id)
		}
	}
	sort.Strings(files)
	return files
}

// fileNodeIDsLocked returns the ids removed with filePath: the nodes
// indexed under it plus its file node.
func (s *Store) fileNodeIDsLocked(filePath string) []string {
	ids := make([]string, 0, len(s.byFile[filePath])+1)
	for id := range s.byFile[filePath] {
		ids = append(ids, id)
	}
	fileID := FileNodeID(filePath)
	if _, ok := s.nodes[fileID]; ok {
		if _, dup := s.byFile[filePath][fileID]; !dup {
			ids = append(ids, fileID)
		}
	}
	return ids
}

// removeFileLocked removes the file node and every node of filePath with
// their incident edges. filePath must already be normalized.
func (s *Store) removeFileLocked(filePath string) (nodes, edges int) {
	for _, id := range s.fileNodeIDsLocked(filePath) {
		edges += s.removeIncidentEdgesLocked(id)
		if n, ok := s.nodes[id]; ok {
			s.unindexLocked(n)
			delete(s.nodes, id)
			nodes++
		}
	}
	return nodes, edges
}

// checkCapacityLocked reports whether removing files and then adding nodes
// and edges stays within the store limits. The graph is not modified, so
// a failed replace leaves the old contents in place.
func (s *Store) checkCapacityLocked(files []string, nodes []GraphNode, edges []GraphEdge) error {
	if s.maxNodes <= 0 && s.maxEdges <= 0 {
		return nil
	}

	doomed := make(map[string]struct{})
	for _, f := range files {
		for _, id := range s.fileNodeIDsLocked(f) {
			doomed[id] = struct{}{}
		}
	}
	cut := make(map[GraphEdge]struct{})
	for id := range doomed {
		for _, list := range [][]GraphEdge{s.out[id], s.in[id]} {
			for _, e := range list {
				if _, ok := s.edgeSet[e]; ok {
					cut[e] = struct{}{}
				}
			}
		}
	}

	nodeCount := len(s.nodes) - len(doomed)
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		_, exists := s.nodes[n.ID]
		_, gone := doomed[n.ID]
		if !exists || gone {
			nodeCount++
		}
	}
	if s.maxNodes > 0 && nodeCount > s.maxNodes {
		return fmt.Errorf("%w: limit %d", ErrMaxNodesExceeded, s.maxNodes)
	}

	edgeCount := len(s.edgeSet) - len(cut)
	seenEdges := make(map[GraphEdge]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seenEdges[e]; dup {
			continue
		}
		seenEdges[e] = struct{}{}
		_, exists := s.edgeSet[e]
		_, gone := cut[e]
		if !exists || gone {
			edgeCount++
		}
	}
	if s.maxEdges > 0 && edgeCount > s.maxEdges {
		return fmt.Errorf("%w: limit %d", ErrMaxEdgesExceeded, s.maxEdges)
	}
	return nil
}

// removeIncidentEdgesLocked drops every edge with id as source or target.
func (s *Store) removeIncidentEdgesLocked(id string) int {
	removed := 0
	for _, e := range s.out[id] {
		if _, ok := s.edgeSet[e]; !ok {
			continue
		}
		delete(s.edgeSet, e)
		s.in[e.Target] = removeEdge(s.in[e.Target], e)
		if len(s.in[e.Target]) == 0 {
			delete(s.in, e.Target)
		}
		removed++
	}
	delete(s.out, id)

	for _, e := range s.in[id] {
		if _, ok := s.edgeSet[e]; !ok {
			continue
		}
		delete(s.edgeSet, e)
		s.out[e.Source] = removeEdge(s.out[e.Source], e)
		if len(s.out[e.Source]) == 0 {
			delete(s.out, e.Source)
		}
		removed++
	}
	delete(s.in, id)
	return removed
}

// removeEdge filters e out of list in place.
func removeEdge(list []GraphEdge, e GraphEdge) []GraphEdge {
	kept := list[:0]
	for _, x := range list {
		if x != e {
			kept = append(kept, x)
		}
	}
	return kept
}

// ListSymbols returns every Symbol node ordered by id.
func (s *Store) ListSymbols() []GraphNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]GraphNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.Kind == NodeKindSymbol {
			result = append(result, *n)
		}
	}
	sortNodes(result)
	return result
}

// NodesForFile returns the nodes owned by filePath, file node first, then
// symbols ordered by start line and id.
func (s *Store) NodesForFile(filePath string) []GraphNode {
	filePath = normalizePath(filePath)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byFile[filePath]
	result := make([]GraphNode, 0, len(ids))
	for id := range ids {
		result = append(result, *s.nodes[id])
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Kind != b.Kind {
			return a.Kind == NodeKindFile
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.ID < b.ID
	})
	return result
}

// FindSymbolsByName returns Symbol nodes whose label equals name,
// case-insensitively, ordered by id.
func (s *Store) FindSymbolsByName(name string) []GraphNode {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byName[key]
	result := make([]GraphNode, 0, len(ids))
	for id := range ids {
		result = append(result, *s.nodes[id])
	}
	sortNodes(result)
	return result
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edgeSet)
}

// Nodes returns every node ordered by id.
func (s *Store) Nodes() []GraphNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodesLocked()
}

func (s *Store) nodesLocked() []GraphNode {
	result := make([]GraphNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		result = append(result, *n)
	}
	sortNodes(result)
	return result
}

// Edges returns every edge ordered by source, target and kind.
func (s *Store) Edges() []GraphEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked()
}

func (s *Store) edgesLocked() []GraphEdge {
	result := make([]GraphEdge, 0, len(s.edgeSet))
	for e := range s.edgeSet {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
	return result
}

// Stats summarises the graph.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		NodeCount:     len(s.nodes),
		EdgeCount:     len(s.edgeSet),
		FileCount:     len(s.byFile),
		NodesByKind:   make(map[string]int),
		EdgesByKind:   make(map[string]int),
		SymbolsByType: make(map[string]int),
		SnapshotPath:  s.path,
	}
	for _, n := range s.nodes {
		st.NodesByKind[n.Kind.String()]++
		if n.Kind == NodeKindSymbol {
			st.SymbolsByType[n.SymbolType.String()]++
		}
	}
	for e := range s.edgeSet {
		st.EdgesByKind[e.Kind.String()]++
		_, srcOK := s.nodes[e.Source]
		_, dstOK := s.nodes[e.Target]
		if !srcOK || !dstOK {
			st.DanglingEdges++
		}
	}

	for path, ids := range s.byFile {
		st.LargestFiles = append(st.LargestFiles, FileNodeCount{FilePath: path, Nodes: len(ids)})
	}
	sort.Slice(st.LargestFiles, func(i, j int) bool {
		a, b := st.LargestFiles[i], st.LargestFiles[j]
		if a.Nodes != b.Nodes {
			return a.Nodes > b.Nodes
		}
		return a.FilePath < b.FilePath
	})
	if len(st.LargestFiles) > 10 {
		st.LargestFiles = st.LargestFiles[:10]
	}
	return st
}

func sortNodes(nodes []GraphNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// AddBatch inserts nodes then edges under a single exclusive lock, so
// readers see all of them or none. Validation and the capacity limits are
// checked before the graph is touched.
func (s *Store) AddBatch(nodes []GraphNode, edges []GraphEdge) error {
	if err := validateBatch(nodes, edges); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCapacityLocked(nil, nodes, edges); err != nil {
		return err
	}
	return s.addBatchLocked(nodes, edges)
}

// ReplaceFile atomically swaps a file's nodes for a new set. It is the
// re-index counterpart of DeleteNodesForFile: edges incident to the old
// nodes are dropped and the given edges are added. If the new set would
// exceed a capacity limit nothing changes.
func (s *Store) ReplaceFile(filePath string, nodes []GraphNode, edges []GraphEdge) error {
	if err := validateBatch(nodes, edges); err != nil {
		return err
	}

	filePath = normalizePath(filePath)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCapacityLocked([]string{filePath}, nodes, edges); err != nil {
		return err
	}
	s.removeFileLocked(filePath)
	if err := s.addBatchLocked(nodes, edges); err != nil {
		return err
	}
	recordMutation(context.Background(), "replace_file")
	return nil
}

func (s *Store) addBatchLocked(nodes []GraphNode, edges []GraphEdge) error {
	for _, n := range nodes {
		if err := s.addNodeLocked(n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := s.addEdgeLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func validateBatch(nodes []GraphNode, edges []GraphEdge) error {
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}
