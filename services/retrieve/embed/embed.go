// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed provides Embedder implementations: an HTTP embedding
// service client, an OpenAI client, and a caching, rate-limited wrapper.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.retrieve.embed")

var (
	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrService is returned when the embedding backend answers with an
	// error or a malformed response.
	ErrService = errors.New("embed: service error")
)

// BatchEmbedder embeds several texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	// URL is the batch embedding endpoint, e.g. "http://embedder:8000/batch_embed".
	URL string

	// Timeout bounds a single request. Default: 30s
	Timeout time.Duration

	// Client overrides the HTTP client.
	Client *http.Client
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// HTTPEmbedder calls an embedding service that accepts {"texts": [...]}
// and answers {"vectors": [[...], ...]} in input order.
//
// Thread Safety: Safe for concurrent use.
type HTTPEmbedder struct {
	url    string
	client *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.URL == "" {
		return nil, errors.New("embed: url must not be empty")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPEmbedder{url: cfg.URL, client: client}, nil
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	ctx, span := tracer.Start(ctx, "embed.HTTP")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.texts", len(texts)))

	body, err := json.Marshal(batchRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("call embedding service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrService, resp.StatusCode, string(raw))
	}

	var out batchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	if len(out.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrService, len(out.Vectors), len(texts))
	}
	return out.Vectors, nil
}
