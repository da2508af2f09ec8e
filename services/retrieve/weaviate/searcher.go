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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
)

// BatchSize is the number of objects sent per batch import.
const BatchSize = 100

// objectNamespace derives stable Weaviate object ids from chunk and summary ids.
var objectNamespace = uuid.MustParse("6f1c2f4e-4b1d-4f0e-9a57-2b8c0f7d9e31")

func objectID(class, id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(class+"/"+id)).String())
}

type additional struct {
	Score    string   `json:"score"`
	Distance *float64 `json:"distance"`
}

type chunkResult struct {
	ChunkID     string     `json:"chunkId"`
	FilePath    string     `json:"filePath"`
	Language    string     `json:"language"`
	StartLine   int        `json:"startLine"`
	EndLine     int        `json:"endLine"`
	ContentHash string     `json:"contentHash"`
	Content     string     `json:"content"`
	ScopePath   []string   `json:"scopePath"`
	Additional  additional `json:"_additional"`
}

type summaryResult struct {
	SummaryID  string     `json:"summaryId"`
	FilePath   string     `json:"filePath"`
	ChunkID    string     `json:"chunkId"`
	Text       string     `json:"text"`
	Additional additional `json:"_additional"`
}

// score returns the BM25 score when present, otherwise the cosine
// similarity derived from the vector distance.
func (a additional) score() float32 {
	if a.Score != "" {
		if f, err := strconv.ParseFloat(a.Score, 64); err == nil {
			return float32(f)
		}
	}
	if a.Distance != nil {
		return float32(1 - *a.Distance)
	}
	return 0
}

func (r chunkResult) toChunk() chunk.Chunk {
	return chunk.Chunk{
		ID:          r.ChunkID,
		Language:    r.Language,
		FilePath:    r.FilePath,
		StartLine:   r.StartLine,
		EndLine:     r.EndLine,
		ContentHash: r.ContentHash,
		Content:     r.Content,
		ScopePath:   r.ScopePath,
	}
}

// parseGetResponse decodes the objects of class from a GraphQL Get response.
func parseGetResponse[T any](resp *models.GraphQLResponse, class string) ([]T, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrQuery)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrQuery, resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal response data: %w", err)
	}
	var body struct {
		Get map[string][]T `json:"Get"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrQuery, err)
	}
	return body.Get[class], nil
}

func chunkFields(extra string) []graphql.Field {
	return []graphql.Field{
		{Name: "chunkId"},
		{Name: "filePath"},
		{Name: "language"},
		{Name: "startLine"},
		{Name: "endLine"},
		{Name: "contentHash"},
		{Name: "content"},
		{Name: "scopePath"},
		{Name: "_additional", Fields: []graphql.Field{{Name: extra}}},
	}
}

func filePathFilter(filePath string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"filePath"}).
		WithOperator(filters.Equal).
		WithValueString(filePath)
}

// Searcher serves the lexical, vector and summary signals from Weaviate
// and mirrors chunk writes into it.
//
// Thread Safety: Safe for concurrent use.
type Searcher struct {
	client *Client
}

// NewSearcher wraps a Client.
func NewSearcher(client *Client) *Searcher {
	return &Searcher{client: client}
}

// LexicalSearch runs a BM25 query over chunk content.
func (s *Searcher) LexicalSearch(ctx context.Context, query string, limit int) ([]chunk.Hit, error) {
	ctx, span := tracer.Start(ctx, "weaviate.LexicalSearch")
	defer span.End()

	wc := s.client.client
	var hits []chunk.Hit
	err := s.client.Execute(ctx, "bm25", func(ctx context.Context) error {
		resp, err := wc.GraphQL().Get().
			WithClassName(ChunkClass).
			WithFields(chunkFields("score")...).
			WithBM25(wc.GraphQL().Bm25ArgBuilder().WithQuery(query).WithProperties("content", "filePath", "scopePath")).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		results, err := parseGetResponse[chunkResult](resp, ChunkClass)
		if err != nil {
			return err
		}
		hits = toHits(results)
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("weaviate.hits", len(hits)))
	return hits, nil
}

// VectorSearch runs a near-vector query over chunk embeddings. Scores are
// cosine similarities.
func (s *Searcher) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error) {
	ctx, span := tracer.Start(ctx, "weaviate.VectorSearch")
	defer span.End()

	if len(embedding) == 0 {
		return nil, nil
	}
	wc := s.client.client
	var hits []chunk.Hit
	err := s.client.Execute(ctx, "near_vector", func(ctx context.Context) error {
		resp, err := wc.GraphQL().Get().
			WithClassName(ChunkClass).
			WithFields(chunkFields("distance")...).
			WithNearVector(wc.GraphQL().NearVectorArgBuilder().WithVector(embedding)).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		results, err := parseGetResponse[chunkResult](resp, ChunkClass)
		if err != nil {
			return err
		}
		hits = toHits(results)
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("weaviate.hits", len(hits)))
	return hits, nil
}

// SummarySearcher returns a SummaryIndex that embeds queries with e and
// runs a near-vector query over summaries.
func (s *Searcher) SummarySearcher(e signals.Embedder) signals.SummaryIndex {
	return signals.SummaryFunc(func(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error) {
		vec, err := e.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		wc := s.client.client
		var hits []chunk.SummaryHit
		err = s.client.Execute(ctx, "summary_near_vector", func(ctx context.Context) error {
			resp, err := wc.GraphQL().Get().
				WithClassName(SummaryClass).
				WithFields(
					graphql.Field{Name: "summaryId"},
					graphql.Field{Name: "filePath"},
					graphql.Field{Name: "chunkId"},
					graphql.Field{Name: "text"},
					graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
				).
				WithNearVector(wc.GraphQL().NearVectorArgBuilder().WithVector(vec)).
				WithLimit(limit).
				Do(ctx)
			if err != nil {
				return err
			}
			results, err := parseGetResponse[summaryResult](resp, SummaryClass)
			if err != nil {
				return err
			}
			hits = make([]chunk.SummaryHit, 0, len(results))
			for _, r := range results {
				hits = append(hits, chunk.SummaryHit{
					Score: r.Additional.score(),
					Summary: chunk.Summary{
						ID:       r.SummaryID,
						FilePath: r.FilePath,
						ChunkID:  r.ChunkID,
						Text:     r.Text,
					},
				})
			}
			return nil
		})
		return hits, err
	})
}

func toHits(results []chunkResult) []chunk.Hit {
	hits := make([]chunk.Hit, 0, len(results))
	for _, r := range results {
		if r.ChunkID == "" {
			continue
		}
		hits = append(hits, chunk.Hit{Score: r.Additional.score(), Chunk: r.toChunk()})
	}
	return hits
}

// ReplaceFile deletes every chunk object of filePath and imports chunks.
func (s *Searcher) ReplaceFile(ctx context.Context, filePath string, chunks []chunk.Chunk) error {
	if err := s.deleteWhere(ctx, ChunkClass, filePath); err != nil {
		return err
	}
	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: ChunkClass,
			ID:    objectID(ChunkClass, c.ID),
			Properties: map[string]interface{}{
				"chunkId":     c.ID,
				"filePath":    c.FilePath,
				"language":    c.Language,
				"startLine":   c.StartLine,
				"endLine":     c.EndLine,
				"contentHash": c.ContentHash,
				"content":     c.Content,
				"scopePath":   c.ScopePath,
			},
			Vector: c.Embedding,
		})
	}
	return s.importObjects(ctx, objects)
}

// DeleteFile deletes every chunk and summary object of filePath.
func (s *Searcher) DeleteFile(ctx context.Context, filePath string) error {
	if err := s.deleteWhere(ctx, ChunkClass, filePath); err != nil {
		return err
	}
	return s.deleteWhere(ctx, SummaryClass, filePath)
}

// PutSummaries imports summaries, replacing objects with the same id.
func (s *Searcher) PutSummaries(ctx context.Context, summaries []chunk.Summary) error {
	objects := make([]*models.Object, 0, len(summaries))
	for _, sum := range summaries {
		objects = append(objects, &models.Object{
			Class: SummaryClass,
			ID:    objectID(SummaryClass, sum.ID),
			Properties: map[string]interface{}{
				"summaryId": sum.ID,
				"filePath":  sum.FilePath,
				"chunkId":   sum.ChunkID,
				"text":      sum.Text,
			},
			Vector: sum.Embedding,
		})
	}
	return s.importObjects(ctx, objects)
}

func (s *Searcher) deleteWhere(ctx context.Context, class, filePath string) error {
	wc := s.client.client
	return s.client.Execute(ctx, "batch_delete", func(ctx context.Context) error {
		_, err := wc.Batch().ObjectsBatchDeleter().
			WithClassName(class).
			WithOutput("minimal").
			WithWhere(filePathFilter(filePath)).
			Do(ctx)
		return err
	})
}

func (s *Searcher) importObjects(ctx context.Context, objects []*models.Object) error {
	wc := s.client.client
	for i := 0; i < len(objects); i += BatchSize {
		end := min(i+BatchSize, len(objects))
		batch := objects[i:end]
		err := s.client.Execute(ctx, "batch_import", func(ctx context.Context) error {
			results, err := wc.Batch().ObjectsBatcher().WithObjects(batch...).Do(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
					return fmt.Errorf("%w: %s", ErrQuery, r.Result.Errors.Error[0].Message)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
