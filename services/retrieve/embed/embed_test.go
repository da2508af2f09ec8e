// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
)

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vecs := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vecs[i] = []float32{float32(len(text)), 1}
		}
		_ = json.NewEncoder(w).Encode(batchResponse{Vectors: vecs})
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}}, vecs)

	_, err = e.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHTTPEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/short" {
			_ = json.NewEncoder(w).Encode(batchResponse{})
			return
		}
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(HTTPConfig{})
	assert.Error(t, err)

	e, err := NewHTTPEmbedder(HTTPConfig{URL: srv.URL + "/embed"})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrService)

	e, err = NewHTTPEmbedder(HTTPConfig{URL: srv.URL + "/short"})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrService)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOpenAIModel, req.Model)

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0.5}, {1, 0.5}}, vecs, "vectors are returned in input order")

	vec, err := e.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5}, vec)
}

func TestCachedEmbedder_Memoizes(t *testing.T) {
	var calls atomic.Int32
	inner := signals.EmbedFunc(func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{float32(len(text))}, nil
	})
	c, err := NewCachedEmbedder(inner, DefaultCacheConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := c.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{5}, v)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())

	_, err = c.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCachedEmbedder_ConcurrentSameText(t *testing.T) {
	var calls atomic.Int32
	inner := signals.EmbedFunc(func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{1, 2}, nil
	})
	c, err := NewCachedEmbedder(inner, DefaultCacheConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Embed(context.Background(), "same")
			assert.NoError(t, err)
			assert.Equal(t, []float32{1, 2}, v)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(16))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	fail := true
	inner := signals.EmbedFunc(func(context.Context, string) ([]float32, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []float32{1}, nil
	})
	c, err := NewCachedEmbedder(inner, CacheConfig{Size: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "q")
	require.Error(t, err)
	fail = false
	v, err := c.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
}

func TestCachedEmbedder_RateLimitHonoursContext(t *testing.T) {
	inner := signals.EmbedFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1}, nil
	})
	c, err := NewCachedEmbedder(inner, CacheConfig{Size: 8, RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "first")
	require.NoError(t, err, "burst admits the first call")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Embed(ctx, "second")
	assert.Error(t, err)

	_, err = c.Embed(ctx, "first")
	assert.NoError(t, err, "cached entries bypass the limiter")
}
