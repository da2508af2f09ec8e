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
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
)

// CacheConfig configures a CachedEmbedder.
type CacheConfig struct {
	// Size is the number of cached embeddings. Default: 4096
	Size int

	// RatePerSecond limits calls to the wrapped embedder. 0 disables limiting.
	RatePerSecond float64

	// Burst is the limiter burst. Default: 1
	Burst int

	Logger *slog.Logger
}

// DefaultCacheConfig returns a 4096-entry cache without rate limiting.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: 4096, Burst: 1}
}

// CachedEmbedder memoizes embeddings by text, collapses concurrent
// requests for the same text into one backend call, and rate limits the
// backend.
//
// Thread Safety: Safe for concurrent use.
type CachedEmbedder struct {
	inner   signals.Embedder
	cache   *lru.Cache[string, []float32]
	flight  singleflight.Group
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCachedEmbedder wraps inner.
func NewCachedEmbedder(inner signals.Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheConfig().Size
	}
	cache, err := lru.New[string, []float32](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:   inner,
		cache:   cache,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "embed_cache")),
	}, nil
}

// Embed returns the cached embedding for text or computes it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}

	v, err, shared := c.flight.Do(text, func() (interface{}, error) {
		if v, ok := c.cache.Get(text); ok {
			return v, nil
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("embedding request coalesced")
	}
	return v.([]float32), nil
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
