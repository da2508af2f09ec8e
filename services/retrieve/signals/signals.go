// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signals defines the retrieval collaborators the engine consumes
// (lexical search, vector search, embedding, summary search) and wraps
// them in circuit breakers so a failing provider degrades a query instead
// of stalling it.
package signals

import (
	"context"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
)

// LexicalSearcher returns BM25-style keyword matches.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]chunk.Hit, error)
}

// VectorSearcher returns nearest neighbours of an embedding.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error)
}

// Embedder turns text into an embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SummaryIndex searches natural-language summaries of chunks and files.
type SummaryIndex interface {
	SearchSummaries(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error)
}

// LexicalFunc adapts a function to LexicalSearcher.
type LexicalFunc func(ctx context.Context, query string, limit int) ([]chunk.Hit, error)

// LexicalSearch implements LexicalSearcher.
func (f LexicalFunc) LexicalSearch(ctx context.Context, query string, limit int) ([]chunk.Hit, error) {
	return f(ctx, query, limit)
}

// VectorFunc adapts a function to VectorSearcher.
type VectorFunc func(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error)

// VectorSearch implements VectorSearcher.
func (f VectorFunc) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error) {
	return f(ctx, embedding, limit)
}

// EmbedFunc adapts a function to Embedder.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// SummaryFunc adapts a function to SummaryIndex.
type SummaryFunc func(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error)

// SearchSummaries implements SummaryIndex.
func (f SummaryFunc) SearchSummaries(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error) {
	return f(ctx, query, limit)
}
