// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index is the local signal provider: BM25 keyword search and
// brute-force cosine vector search over chunks persisted in BadgerDB.
//
// The inverted index and vectors live in memory and are rebuilt from the
// chunk store on Open. ReplaceFile and DeleteFile write through to the
// store before touching memory.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/storage/badger"
)

var tracer = otel.Tracer("aleutian.retrieve.index")

// BM25Params are the lexical scoring parameters.
type BM25Params struct {
	K1 float64
	B  float64

	// AvgLen overrides the corpus average document length when positive.
	AvgLen float64
}

// DefaultBM25Params returns k1=1.2, b=0.75 and the observed average length.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.2, B: 0.75}
}

type document struct {
	chunk  chunk.Chunk
	length int
}

// ChunkIndex serves LexicalSearch and VectorSearch over stored chunks.
//
// Thread Safety: Safe for concurrent use. Searches share a read lock;
// ReplaceFile and DeleteFile take the write lock after the store commit.
type ChunkIndex struct {
	store  *badger.ChunkStore
	params BM25Params
	logger *slog.Logger

	mu        sync.RWMutex
	docs      map[string]*document
	postings  map[string]map[string]int
	byFile    map[string][]string
	totalLen  int
	summaries map[string]chunk.Summary
}

// Option configures a ChunkIndex.
type Option func(*ChunkIndex)

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *ChunkIndex) {
		if l != nil {
			ix.logger = l
		}
	}
}

// Open builds the in-memory index from every chunk and summary in store.
func Open(ctx context.Context, store *badger.ChunkStore, params BM25Params, opts ...Option) (*ChunkIndex, error) {
	ix := &ChunkIndex{
		store:     store,
		params:    params,
		logger:    slog.Default(),
		docs:      make(map[string]*document),
		postings:  make(map[string]map[string]int),
		byFile:    make(map[string][]string),
		summaries: make(map[string]chunk.Summary),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(slog.String("component", "index"))

	if err := store.ForEach(ctx, func(c chunk.Chunk) error {
		ix.addLocked(c)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if err := store.ForEachSummary(ctx, func(s chunk.Summary) error {
		ix.summaries[s.ID] = s
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}

	ix.logger.Info("chunk index loaded",
		slog.Int("chunks", len(ix.docs)),
		slog.Int("files", len(ix.byFile)),
		slog.Int("terms", len(ix.postings)),
		slog.Int("summaries", len(ix.summaries)))
	return ix, nil
}

func documentTerms(c chunk.Chunk) []string {
	terms := Tokenize(c.Content)
	terms = append(terms, Tokenize(c.FilePath)...)
	terms = append(terms, Tokenize(strings.Join(c.ScopePath, " "))...)
	return terms
}

func (ix *ChunkIndex) addLocked(c chunk.Chunk) {
	if _, ok := ix.docs[c.ID]; ok {
		ix.removeLocked(c.ID)
	}
	terms := documentTerms(c)
	for _, t := range terms {
		p, ok := ix.postings[t]
		if !ok {
			p = make(map[string]int)
			ix.postings[t] = p
		}
		p[c.ID]++
	}
	ix.docs[c.ID] = &document{chunk: c, length: len(terms)}
	ix.byFile[c.FilePath] = append(ix.byFile[c.FilePath], c.ID)
	ix.totalLen += len(terms)
}

func (ix *ChunkIndex) removeLocked(id string) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for _, t := range documentTerms(doc.chunk) {
		if p, ok := ix.postings[t]; ok {
			delete(p, id)
			if len(p) == 0 {
				delete(ix.postings, t)
			}
		}
	}
	ix.totalLen -= doc.length
	delete(ix.docs, id)

	ids := ix.byFile[doc.chunk.FilePath]
	kept := ids[:0]
	for _, x := range ids {
		if x != id {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		delete(ix.byFile, doc.chunk.FilePath)
	} else {
		ix.byFile[doc.chunk.FilePath] = kept
	}
}

// ReplaceFile supersedes every chunk of filePath with chunks.
func (ix *ChunkIndex) ReplaceFile(ctx context.Context, filePath string, chunks []chunk.Chunk) error {
	filePath = chunk.CleanPath(filePath)
	added, removed, err := ix.store.PutFile(ctx, filePath, chunks)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	for _, id := range append([]string(nil), ix.byFile[filePath]...) {
		ix.removeLocked(id)
	}
	for _, c := range chunks {
		ix.addLocked(c)
	}
	ix.mu.Unlock()

	ix.logger.Debug("file indexed",
		slog.String("file_path", filePath),
		slog.Int("added", added),
		slog.Int("removed", removed))
	return nil
}

// DeleteFile removes every chunk and summary of filePath.
func (ix *ChunkIndex) DeleteFile(ctx context.Context, filePath string) error {
	filePath = chunk.CleanPath(filePath)
	if _, err := ix.store.DeleteFile(ctx, filePath); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range append([]string(nil), ix.byFile[filePath]...) {
		ix.removeLocked(id)
	}
	for id, s := range ix.summaries {
		if s.FilePath == filePath {
			delete(ix.summaries, id)
		}
	}
	return nil
}

// PutSummaries stores and indexes summaries.
func (ix *ChunkIndex) PutSummaries(ctx context.Context, summaries []chunk.Summary) error {
	if err := ix.store.PutSummaries(ctx, summaries); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range summaries {
		ix.summaries[s.ID] = s
	}
	return nil
}

// Len returns the number of indexed chunks.
func (ix *ChunkIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Chunk returns an indexed chunk by id.
func (ix *ChunkIndex) Chunk(id string) (chunk.Chunk, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.docs[id]
	if !ok {
		return chunk.Chunk{}, false
	}
	return doc.chunk, true
}

// ChunksForFile returns the chunks of filePath ordered by start line.
func (ix *ChunkIndex) ChunksForFile(filePath string) []chunk.Chunk {
	filePath = chunk.CleanPath(filePath)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]chunk.Chunk, 0, len(ix.byFile[filePath]))
	for _, id := range ix.byFile[filePath] {
		out = append(out, ix.docs[id].chunk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FilesUnder returns the indexed file paths equal to dir or below it,
// sorted.
func (ix *ChunkIndex) FilesUnder(dir string) []string {
	dir = chunk.CleanPath(dir)
	if dir == "" {
		return nil
	}
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[string]struct{})
	for p := range ix.byFile {
		if p == dir || strings.HasPrefix(p, prefix) {
			seen[p] = struct{}{}
		}
	}
	for _, s := range ix.summaries {
		if s.FilePath == dir || strings.HasPrefix(s.FilePath, prefix) {
			seen[s.FilePath] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}

// LexicalSearch scores chunks against query with BM25.
//
// Scores are raw BM25 values; chunks matching no query term are omitted.
// Ties are ordered by chunk id.
func (ix *ChunkIndex) LexicalSearch(ctx context.Context, query string, limit int) ([]chunk.Hit, error) {
	_, span := tracer.Start(ctx, "index.LexicalSearch")
	defer span.End()

	terms := uniqueTerms(Tokenize(query))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := float64(len(ix.docs))
	if n == 0 || len(terms) == 0 {
		return nil, nil
	}
	avgLen := ix.params.AvgLen
	if avgLen <= 0 {
		avgLen = float64(ix.totalLen) / n
	}
	if avgLen <= 0 {
		avgLen = 1
	}
	k1, b := ix.params.K1, ix.params.B

	scores := make(map[string]float64)
	for _, t := range terms {
		posting := ix.postings[t]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id, tf := range posting {
			dl := float64(ix.docs[id].length)
			f := float64(tf)
			scores[id] += idf * f * (k1 + 1) / (f + k1*(1-b+b*dl/avgLen))
		}
	}

	hits := make([]chunk.Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, chunk.Hit{Score: float32(s), Chunk: ix.docs[id].chunk})
	}
	hits = topHits(hits, limit)
	span.SetAttributes(attribute.Int("index.hits", len(hits)))
	return hits, nil
}

// VectorSearch returns the chunks whose embeddings are most similar to
// embedding by cosine similarity. Chunks without an embedding of the same
// dimension are skipped.
func (ix *ChunkIndex) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error) {
	_, span := tracer.Start(ctx, "index.VectorSearch")
	defer span.End()

	if len(embedding) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]chunk.Hit, 0, len(ix.docs))
	for _, doc := range ix.docs {
		if len(doc.chunk.Embedding) != len(embedding) {
			continue
		}
		hits = append(hits, chunk.Hit{
			Score: chunk.CosineSimilarity(embedding, doc.chunk.Embedding),
			Chunk: doc.chunk,
		})
	}
	hits = topHits(hits, limit)
	span.SetAttributes(attribute.Int("index.hits", len(hits)))
	return hits, nil
}

// SummarySearcher returns a SummaryIndex that embeds the query with e and
// ranks stored summaries by cosine similarity.
func (ix *ChunkIndex) SummarySearcher(e signals.Embedder) signals.SummaryIndex {
	return signals.SummaryFunc(func(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error) {
		vec, err := e.Embed(ctx, query)
		if err != nil {
			return nil, err
		}

		ix.mu.RLock()
		hits := make([]chunk.SummaryHit, 0, len(ix.summaries))
		for _, s := range ix.summaries {
			if len(s.Embedding) != len(vec) {
				continue
			}
			hits = append(hits, chunk.SummaryHit{Score: chunk.CosineSimilarity(vec, s.Embedding), Summary: s})
		}
		ix.mu.RUnlock()

		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].Summary.ID < hits[j].Summary.ID
		})
		if limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}
		return hits, nil
	})
}

func topHits(hits []chunk.Hit, limit int) []chunk.Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
