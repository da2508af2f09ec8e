// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weaviate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate/entities/models"
)

const (
	// ChunkClass is the Weaviate class holding code chunks.
	ChunkClass = "CodeChunk"

	// SummaryClass is the Weaviate class holding chunk and file summaries.
	SummaryClass = "CodeSummary"
)

func filterable() *bool {
	b := true
	return &b
}

// ChunkSchema returns the CodeChunk class. Vectors are supplied by the
// caller, so the class has no vectorizer.
func ChunkSchema() *models.Class {
	return &models.Class{
		Class:       ChunkClass,
		Description: "Source code chunks for hybrid retrieval",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			Bm25: &models.BM25Config{K1: 1.2, B: 0.75},
		},
		Properties: []*models.Property{
			{Name: "chunkId", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "filePath", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "language", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "startLine", DataType: []string{"int"}},
			{Name: "endLine", DataType: []string{"int"}},
			{Name: "contentHash", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "content", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "scopePath", DataType: []string{"text[]"}, Tokenization: "word"},
		},
	}
}

// SummarySchema returns the CodeSummary class.
func SummarySchema() *models.Class {
	return &models.Class{
		Class:       SummaryClass,
		Description: "Natural-language summaries of code chunks and files",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "summaryId", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "filePath", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "chunkId", DataType: []string{"text"}, IndexFilterable: filterable(), Tokenization: "field"},
			{Name: "text", DataType: []string{"text"}, Tokenization: "word"},
		},
	}
}

// EnsureSchema creates the CodeChunk and CodeSummary classes if missing.
// The operation is idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, class := range []*models.Class{ChunkSchema(), SummarySchema()} {
		class := class
		err := c.Execute(ctx, "ensure_schema", func(ctx context.Context) error {
			if _, err := c.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
				return nil
			}
			return c.client.Schema().ClassCreator().WithClass(class).Do(ctx)
		})
		if err != nil {
			return fmt.Errorf("ensure class %s: %w", class.Class, err)
		}
		c.logger.Debug("weaviate class ready", slog.String("class", class.Class))
	}
	return nil
}
