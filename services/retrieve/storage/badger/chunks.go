// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
)

// Key layout:
//
//	c/<chunk id>                  -> JSON chunk
//	f/<file path>\x00<chunk id>   -> empty (file membership)
//	s/<summary id>                -> JSON summary
//	sf/<file path>\x00<summary id> -> empty
var (
	chunkPrefix       = []byte("c/")
	fileIndexPrefix   = []byte("f/")
	summaryPrefix     = []byte("s/")
	summaryFilePrefix = []byte("sf/")
)

const keySep = 0

func chunkKey(id string) []byte {
	return append(append([]byte(nil), chunkPrefix...), id...)
}

func summaryKey(id string) []byte {
	return append(append([]byte(nil), summaryPrefix...), id...)
}

func memberPrefix(prefix []byte, filePath string) []byte {
	k := append(append([]byte(nil), prefix...), filePath...)
	return append(k, keySep)
}

func memberKey(prefix []byte, filePath, id string) []byte {
	return append(memberPrefix(prefix, filePath), id...)
}

// ChunkStore persists chunks and summaries grouped by file.
//
// Re-indexing a file replaces its whole chunk set in one transaction, so
// readers never see a mix of old and new chunks for the same file.
type ChunkStore struct {
	db *DB
}

// NewChunkStore wraps an open database.
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// PutFile replaces every chunk of filePath with chunks.
//
// Outputs:
//
//	added   - number of chunk ids that did not exist before.
//	removed - number of previous chunk ids no longer present.
//	error   - chunk.ErrInvalidChunk for a chunk that fails validation or
//	          belongs to another file; BadgerDB errors otherwise.
func (s *ChunkStore) PutFile(ctx context.Context, filePath string, chunks []chunk.Chunk) (added, removed int, err error) {
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return 0, 0, err
		}
		if c.FilePath != filePath {
			return 0, 0, fmt.Errorf("%w: %s belongs to %s, not %s", chunk.ErrInvalidChunk, c.ID, c.FilePath, filePath)
		}
	}

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		old, err := memberIDs(txn, fileIndexPrefix, filePath)
		if err != nil {
			return err
		}
		keep := make(map[string]struct{}, len(chunks))
		for _, c := range chunks {
			keep[c.ID] = struct{}{}
		}
		oldSet := make(map[string]struct{}, len(old))
		for _, id := range old {
			oldSet[id] = struct{}{}
			if _, ok := keep[id]; ok {
				continue
			}
			if err := txn.Delete(chunkKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(memberKey(fileIndexPrefix, filePath, id)); err != nil {
				return err
			}
			removed++
		}
		for _, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode chunk %s: %w", c.ID, err)
			}
			if err := txn.Set(chunkKey(c.ID), data); err != nil {
				return err
			}
			if err := txn.Set(memberKey(fileIndexPrefix, filePath, c.ID), nil); err != nil {
				return err
			}
			if _, ok := oldSet[c.ID]; !ok {
				added++
				oldSet[c.ID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("put file %s: %w", filePath, err)
	}
	return added, removed, nil
}

// DeleteFile removes every chunk and summary of filePath.
func (s *ChunkStore) DeleteFile(ctx context.Context, filePath string) (removed int, err error) {
	err = s.db.update(ctx, func(txn *badger.Txn) error {
		ids, err := memberIDs(txn, fileIndexPrefix, filePath)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := txn.Delete(chunkKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(memberKey(fileIndexPrefix, filePath, id)); err != nil {
				return err
			}
		}
		removed = len(ids)

		sids, err := memberIDs(txn, summaryFilePrefix, filePath)
		if err != nil {
			return err
		}
		for _, id := range sids {
			if err := txn.Delete(summaryKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(memberKey(summaryFilePrefix, filePath, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete file %s: %w", filePath, err)
	}
	return removed, nil
}

// Get returns the chunk with id. A missing chunk is reported through the
// boolean.
func (s *ChunkStore) Get(ctx context.Context, id string) (chunk.Chunk, bool, error) {
	var c chunk.Chunk
	found := false
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return c, found, nil
}

// FileChunkIDs returns the chunk ids stored for filePath in key order.
func (s *ChunkStore) FileChunkIDs(ctx context.Context, filePath string) ([]string, error) {
	var ids []string
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		var err error
		ids, err = memberIDs(txn, fileIndexPrefix, filePath)
		return err
	})
	return ids, err
}

// ForEach calls fn for every stored chunk in key order. Iteration stops at
// the first error from fn, or when ctx is cancelled.
func (s *ChunkStore) ForEach(ctx context.Context, fn func(chunk.Chunk) error) error {
	return s.db.view(ctx, func(txn *badger.Txn) error {
		return iteratePrefix(ctx, txn, chunkPrefix, func(val []byte) error {
			var c chunk.Chunk
			if err := json.Unmarshal(val, &c); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			return fn(c)
		})
	})
}

// PutSummaries stores summaries, replacing any with the same id.
func (s *ChunkStore) PutSummaries(ctx context.Context, summaries []chunk.Summary) error {
	return s.db.update(ctx, func(txn *badger.Txn) error {
		for _, sm := range summaries {
			if sm.ID == "" || sm.FilePath == "" {
				return fmt.Errorf("%w: summary needs id and file path", chunk.ErrInvalidChunk)
			}
			data, err := json.Marshal(sm)
			if err != nil {
				return err
			}
			if err := txn.Set(summaryKey(sm.ID), data); err != nil {
				return err
			}
			if err := txn.Set(memberKey(summaryFilePrefix, sm.FilePath, sm.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachSummary calls fn for every stored summary.
func (s *ChunkStore) ForEachSummary(ctx context.Context, fn func(chunk.Summary) error) error {
	return s.db.view(ctx, func(txn *badger.Txn) error {
		return iteratePrefix(ctx, txn, summaryPrefix, func(val []byte) error {
			var sm chunk.Summary
			if err := json.Unmarshal(val, &sm); err != nil {
				return fmt.Errorf("decode summary: %w", err)
			}
			return fn(sm)
		})
	})
}

func iteratePrefix(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func memberIDs(txn *badger.Txn, prefix []byte, filePath string) ([]string, error) {
	p := memberPrefix(prefix, filePath)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		key := it.Item().KeyCopy(nil)
		ids = append(ids, string(bytes.TrimPrefix(key, p)))
	}
	return ids, nil
}
