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
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestClientConfig_Validate(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		cfg := DefaultClientConfig()
		assert.Error(t, cfg.Validate())
	})
	t.Run("negative retries", func(t *testing.T) {
		cfg := DefaultClientConfig()
		cfg.URL = "http://localhost:8080"
		cfg.RetryAttempts = -1
		assert.Error(t, cfg.Validate())
	})
	t.Run("jitter out of range", func(t *testing.T) {
		cfg := DefaultClientConfig()
		cfg.URL = "http://localhost:8080"
		cfg.RetryJitter = 1.5
		assert.Error(t, cfg.Validate())
	})
	t.Run("valid", func(t *testing.T) {
		cfg := DefaultClientConfig()
		cfg.URL = "http://localhost:8080"
		assert.NoError(t, cfg.Validate())
	})
}

func TestSplitURL(t *testing.T) {
	tests := []struct{ in, scheme, host string }{
		{"http://localhost:8080", "http", "localhost:8080"},
		{"https://w.example.com/", "https", "w.example.com"},
		{"weaviate:8080", "http", "weaviate:8080"},
	}
	for _, tt := range tests {
		scheme, host := splitURL(tt.in)
		assert.Equal(t, tt.scheme, scheme, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestNewClient_StrictModeFailsWhenUnreachable(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.URL = "http://127.0.0.1:1"
	cfg.ReadyTimeout = 500 * time.Millisecond
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestNewClient_AllowStartDegraded(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.URL = "http://127.0.0.1:1"
	cfg.ReadyTimeout = 500 * time.Millisecond
	cfg.AllowStartDegraded = true
	c, err := NewClient(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.Weaviate())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Execute(context.Background(), "noop", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{config: ClientConfig{
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
		RetryJitter:     0.25,
	}}
	for i := 0; i < 10; i++ {
		b := c.calculateBackoff(1)
		assert.GreaterOrEqual(t, b, 150*time.Millisecond)
		assert.LessOrEqual(t, b, 250*time.Millisecond)
	}

	c.config.RetryJitter = 0
	assert.Equal(t, time.Second, c.calculateBackoff(10))
}

func TestExecute_RetriesRetryableErrors(t *testing.T) {
	c := &Client{config: ClientConfig{RetryAttempts: 2, RetryBackoff: time.Millisecond, MaxRetryBackoff: time.Millisecond}, logger: DefaultClientConfig().Logger}

	calls := 0
	err := c.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = c.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "application errors are not retried")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(ErrQuery))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.True(t, isRetryable(&net.OpError{Op: "dial", Err: errors.New("x")}))
	assert.False(t, isRetryable(errors.New("x")))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(context.DeadlineExceeded), ErrConnectionTimeout)
	base := errors.New("boom")
	assert.ErrorIs(t, wrapError(base), base)
}

func TestParseGetResponse(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			ChunkClass: []interface{}{
				map[string]interface{}{
					"chunkId":   "c1",
					"filePath":  "a.go",
					"startLine": float64(3),
					"endLine":   float64(9),
					"content":   "func A() {}",
					"scopePath": []interface{}{"A"},
					"_additional": map[string]interface{}{
						"score": "2.5",
					},
				},
				map[string]interface{}{
					"chunkId":     "c2",
					"_additional": map[string]interface{}{"distance": 0.25},
				},
			},
		},
	}}

	results, err := parseGetResponse[chunkResult](resp, ChunkClass)
	require.NoError(t, err)
	require.Len(t, results, 2)

	hits := toHits(results)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, 3, hits[0].Chunk.StartLine)
	assert.Equal(t, []string{"A"}, hits[0].Chunk.ScopePath)
	assert.InDelta(t, 2.5, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.75, hits[1].Score, 1e-6)

	_, err = parseGetResponse[chunkResult](&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "no such class"}},
	}, ChunkClass)
	assert.ErrorIs(t, err, ErrQuery)

	empty, err := parseGetResponse[chunkResult](&models.GraphQLResponse{}, ChunkClass)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestObjectID_Stable(t *testing.T) {
	assert.Equal(t, objectID(ChunkClass, "x"), objectID(ChunkClass, "x"))
	assert.NotEqual(t, objectID(ChunkClass, "x"), objectID(SummaryClass, "x"))
}

func TestSearcher_LexicalSearchAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/.well-known/ready":
			w.WriteHeader(http.StatusOK)
		case "/v1/meta":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.35.2"})
		case "/v1/graphql":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"Get": map[string]interface{}{
						ChunkClass: []interface{}{
							map[string]interface{}{
								"chunkId":     "c1",
								"filePath":    "auth.go",
								"content":     "func Login() {}",
								"_additional": map[string]interface{}{"score": "1.5"},
							},
						},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.URL = srv.URL
	cfg.RetryAttempts = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)

	hits, err := NewSearcher(c).LexicalSearch(context.Background(), "login", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, "auth.go", hits[0].Chunk.FilePath)
	assert.InDelta(t, 1.5, hits[0].Score, 1e-6)
}
