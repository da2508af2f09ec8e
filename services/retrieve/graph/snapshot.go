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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Snapshot file layout:
//
//	[4]  magic "AGRS"
//	[2]  format version (big endian)
//	[2]  reserved
//	[4]  CRC32 (IEEE) of payload
//	[8]  payload length
//	[..] gob-encoded snapshotPayload
const (
	snapshotVersion    uint16 = 1
	snapshotHeaderSize        = 20

	// DefaultSnapshotName is the file name used inside a data directory.
	DefaultSnapshotName = "graph.bin"
)

var snapshotMagic = [4]byte{'A', 'G', 'R', 'S'}

// Records use plain ints for enums so an out-of-range value is caught by
// validation and skipped instead of failing the whole decode.
type nodeRecord struct {
	ID          string
	Kind        int
	Label       string
	FilePath    string
	StartLine   int
	EndLine     int
	SymbolType  int
	CanonicalID string
}

type edgeRecord struct {
	Source string
	Target string
	Kind   int
}

type snapshotPayload struct {
	SavedAt int64
	Nodes   []nodeRecord
	Edges   []edgeRecord
}

// WithRequireNonEmpty makes Load and Reload return ErrEmptyGraph instead
// of an empty graph when the snapshot is missing, corrupt or empty.
func WithRequireNonEmpty() StoreOption {
	return func(s *Store) {
		s.requireNonEmpty = true
	}
}

// Save writes the graph to its configured snapshot path.
func (s *Store) Save(ctx context.Context) error {
	if s.path == "" {
		return ErrNoSnapshotPath
	}
	return s.SaveTo(ctx, s.path)
}

// SaveTo writes a whole-graph snapshot to path.
//
// Description:
//
//	The snapshot is encoded under the read lock, written to a temporary
//	file in the same directory, synced, and renamed over path. A crash at
//	any point leaves the previous snapshot intact.
//
// Outputs:
//
//	error - ErrStorage wrapping the underlying I/O error.
func (s *Store) SaveTo(ctx context.Context, path string) (err error) {
	ctx, span := tracer.Start(ctx, "graph.Store.Save")
	defer span.End()
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
		}
		recordSnapshotMetrics(ctx, "save", outcome, time.Since(start), 0)
	}()

	s.mu.RLock()
	payload := snapshotPayload{SavedAt: time.Now().Unix()}
	for _, n := range s.nodesLocked() {
		payload.Nodes = append(payload.Nodes, nodeRecord{
			ID:          n.ID,
			Kind:        int(n.Kind),
			Label:       n.Label,
			FilePath:    n.FilePath,
			StartLine:   n.StartLine,
			EndLine:     n.EndLine,
			SymbolType:  int(n.SymbolType),
			CanonicalID: n.CanonicalID,
		})
	}
	for _, e := range s.edgesLocked() {
		payload.Edges = append(payload.Edges, edgeRecord{Source: e.Source, Target: e.Target, Kind: int(e.Kind)})
	}
	s.mu.RUnlock()

	data, err := encodeSnapshot(payload)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", ErrStorage, err)
	}
	span.SetAttributes(
		attribute.Int("graph.node_count", len(payload.Nodes)),
		attribute.Int("graph.edge_count", len(payload.Edges)),
		attribute.Int("graph.snapshot_bytes", len(data)),
	)

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	s.logger.Debug("graph snapshot saved",
		slog.String("path", path),
		slog.Int("nodes", len(payload.Nodes)),
		slog.Int("edges", len(payload.Edges)),
	)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func encodeSnapshot(payload snapshotPayload) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(&payload); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	out := make([]byte, snapshotHeaderSize+body.Len())
	copy(out[0:4], snapshotMagic[:])
	binary.BigEndian.PutUint16(out[4:6], snapshotVersion)
	binary.BigEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(body.Bytes()))
	binary.BigEndian.PutUint64(out[12:20], uint64(body.Len()))
	copy(out[snapshotHeaderSize:], body.Bytes())
	return out, nil
}

func decodeSnapshot(data []byte) (snapshotPayload, error) {
	var payload snapshotPayload
	if len(data) < snapshotHeaderSize {
		return payload, fmt.Errorf("%w: snapshot too short (%d bytes)", ErrIntegrity, len(data))
	}
	if !bytes.Equal(data[0:4], snapshotMagic[:]) {
		return payload, fmt.Errorf("%w: bad magic %q", ErrIntegrity, data[0:4])
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != snapshotVersion {
		return payload, fmt.Errorf("%w: unsupported snapshot version %d", ErrIntegrity, v)
	}
	storedCRC := binary.BigEndian.Uint32(data[8:12])
	length := binary.BigEndian.Uint64(data[12:20])
	body := data[snapshotHeaderSize:]
	if uint64(len(body)) != length {
		return payload, fmt.Errorf("%w: payload length %d, header says %d", ErrIntegrity, len(body), length)
	}
	if computed := crc32.ChecksumIEEE(body); computed != storedCRC {
		return payload, fmt.Errorf("%w: stored=%08x computed=%08x", ErrIntegrity, storedCRC, computed)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return payload, fmt.Errorf("%w: gob decode: %w", ErrIntegrity, err)
	}
	return payload, nil
}

// Load creates a Store from the snapshot at path.
//
// Description:
//
//	A missing or corrupt snapshot yields an empty graph and a logged
//	warning. Malformed individual records are skipped with a warning.
//	The returned Store saves back to path.
//
// Outputs:
//
//	*Store - Always non-nil unless error is ErrStorage.
//	error  - ErrStorage for I/O failures other than a missing file (for
//	         example permission denied). ErrEmptyGraph if the result is
//	         empty and WithRequireNonEmpty was given; the empty Store is
//	         still returned in that case.
func Load(ctx context.Context, path string, opts ...StoreOption) (*Store, error) {
	s := NewStore(append([]StoreOption{WithSnapshotPath(path)}, opts...)...)
	if err := s.Reload(ctx); err != nil {
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return s, err
	}
	return s, nil
}

// Reload replaces the graph's contents with the snapshot at its path.
//
// On ErrStorage the in-memory graph is left unchanged. A missing or
// corrupt snapshot resets the graph to empty.
func (s *Store) Reload(ctx context.Context) (err error) {
	if s.path == "" {
		return ErrNoSnapshotPath
	}

	ctx, span := tracer.Start(ctx, "graph.Store.Load")
	defer span.End()
	span.SetAttributes(attribute.String("graph.snapshot_path", s.path))
	start := time.Now()
	outcome := "ok"
	skipped := 0
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		recordSnapshotMetrics(ctx, "load", outcome, time.Since(start), skipped)
	}()

	var payload snapshotPayload
	data, readErr := os.ReadFile(s.path)
	switch {
	case errors.Is(readErr, fs.ErrNotExist):
		outcome = "missing"
		s.logger.Warn("graph snapshot not found, starting with empty graph",
			slog.String("path", s.path))
	case readErr != nil:
		outcome = "error"
		return fmt.Errorf("%w: read snapshot: %w", ErrStorage, readErr)
	default:
		payload, err = decodeSnapshot(data)
		if err != nil {
			outcome = "corrupt"
			s.logger.Warn("graph snapshot unreadable, starting with empty graph",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
			payload = snapshotPayload{}
		}
	}

	s.mu.Lock()
	s.reset()
	skipped = s.restoreLocked(payload)
	nodeCount, edgeCount := len(s.nodes), len(s.edgeSet)
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn("skipped malformed snapshot records",
			slog.String("path", s.path),
			slog.Int("skipped", skipped))
	}
	span.SetAttributes(
		attribute.Int("graph.node_count", nodeCount),
		attribute.Int("graph.edge_count", edgeCount),
		attribute.String("graph.load_outcome", outcome),
	)
	s.logger.Info("graph loaded",
		slog.String("path", s.path),
		slog.Int("nodes", nodeCount),
		slog.Int("edges", edgeCount),
	)

	if s.requireNonEmpty && nodeCount == 0 && edgeCount == 0 {
		if outcome == "corrupt" {
			return fmt.Errorf("%w: %w", ErrEmptyGraph, ErrIntegrity)
		}
		return ErrEmptyGraph
	}
	return nil
}

// restoreLocked inserts snapshot records, returning how many were skipped.
func (s *Store) restoreLocked(payload snapshotPayload) int {
	skipped := 0
	for _, r := range payload.Nodes {
		node := GraphNode{
			ID:          r.ID,
			Kind:        NodeKind(r.Kind),
			Label:       r.Label,
			FilePath:    r.FilePath,
			StartLine:   r.StartLine,
			EndLine:     r.EndLine,
			SymbolType:  SymbolType(r.SymbolType),
			CanonicalID: r.CanonicalID,
		}
		if err := node.Validate(); err != nil {
			s.logger.Warn("skipping malformed node", slog.String("error", err.Error()))
			skipped++
			continue
		}
		if err := s.addNodeLocked(node); err != nil {
			skipped++
		}
	}
	for _, r := range payload.Edges {
		edge := GraphEdge{Source: r.Source, Target: r.Target, Kind: EdgeKind(r.Kind)}
		if err := edge.Validate(); err != nil {
			s.logger.Warn("skipping malformed edge", slog.String("error", err.Error()))
			skipped++
			continue
		}
		if err := s.addEdgeLocked(edge); err != nil {
			skipped++
		}
	}
	return skipped
}
