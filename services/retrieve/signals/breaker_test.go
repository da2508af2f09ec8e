// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
)

var errBackend = errors.New("backend down")

func TestGuardLexical_PassesThrough(t *testing.T) {
	want := []chunk.Hit{{Score: 1, Chunk: chunk.Chunk{ID: "a"}}}
	s := GuardLexical("test-lex-pass", LexicalFunc(func(_ context.Context, q string, limit int) ([]chunk.Hit, error) {
		assert.Equal(t, "login", q)
		assert.Equal(t, 5, limit)
		return want, nil
	}), DefaultBreakerConfig())

	got, err := s.LexicalSearch(context.Background(), "login", 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGuardVector_OpensAfterFailures(t *testing.T) {
	calls := 0
	s := GuardVector("test-vec-open", VectorFunc(func(context.Context, []float32, int) ([]chunk.Hit, error) {
		calls++
		return nil, errBackend
	}), BreakerConfig{MaxRequests: 1, Timeout: time.Hour, MinRequests: 3, FailureRatio: 0.5})

	for i := 0; i < 3; i++ {
		_, err := s.VectorSearch(context.Background(), []float32{1}, 3)
		assert.ErrorIs(t, err, errBackend)
	}
	_, err := s.VectorSearch(context.Background(), []float32{1}, 3)
	assert.True(t, IsOpen(err))
	assert.Equal(t, 3, calls, "open breaker short-circuits the backend")
}

func TestGuard_CancellationDoesNotTrip(t *testing.T) {
	e := GuardEmbedder("test-embed-cancel", EmbedFunc(func(ctx context.Context, _ string) ([]float32, error) {
		return nil, context.Canceled
	}), BreakerConfig{MaxRequests: 1, Timeout: time.Hour, MinRequests: 1, FailureRatio: 0.1})

	for i := 0; i < 5; i++ {
		_, err := e.Embed(context.Background(), "q")
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestGuardSummaries(t *testing.T) {
	s := GuardSummaries("test-sum", SummaryFunc(func(context.Context, string, int) ([]chunk.SummaryHit, error) {
		return []chunk.SummaryHit{{Score: 0.9}}, nil
	}), DefaultBreakerConfig())
	got, err := s.SearchSummaries(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
