// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianRetrieve/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/config"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/embed"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/index"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/ingest"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/search"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/storage/badger"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/weaviate"
)

// app is the wired service: storage, indexes, graph and engine.
type app struct {
	cfg    config.ServiceConfig
	logger *logging.Logger

	db     *badger.DB
	index  *index.ChunkIndex
	graph  *graph.Store
	engine *search.Engine

	// embedder is the unwrapped backend, used for batch embedding at
	// index time. Nil when no embedder is configured.
	embedder signals.Embedder

	// weaviate and remote are nil unless weaviate.enabled is set.
	weaviate *weaviate.Client
	remote   *weaviate.Searcher
}

// openApp opens every store named by cfg and builds the search engine.
//
// Description:
//
//	The local chunk index always backs chunk lookup for graph nodes. When
//	Weaviate is enabled it serves lexical, vector and summary search and
//	mirrors every indexed file; remote providers sit behind circuit
//	breakers. The query embedder is cached and rate limited.
func openApp(ctx context.Context, cfg config.ServiceConfig, logger *logging.Logger) (_ *app, err error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	storage := cfg.StorageConfig()
	storage.Logger = logger.Slog()
	if a.db, err = badger.Open(storage); err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	params := index.BM25Params{K1: float64(cfg.Search.Rank.K1), B: float64(cfg.Search.Rank.B), AvgLen: float64(cfg.Search.Rank.AvgLen)}
	if a.index, err = index.Open(ctx, badger.NewChunkStore(a.db), params, index.WithLogger(logger.Slog())); err != nil {
		return nil, fmt.Errorf("open chunk index: %w", err)
	}

	if a.graph, err = graph.Load(ctx, cfg.SnapshotPath(), graph.WithLogger(logger.Slog())); err != nil {
		if a.graph == nil {
			return nil, fmt.Errorf("load graph: %w", err)
		}
		logger.Warn("Graph snapshot unusable, starting empty", "path", cfg.SnapshotPath(), "error", err)
		err = nil
	}

	if a.embedder, err = newEmbedder(cfg.Embedder); err != nil {
		return nil, err
	}

	if cfg.Weaviate.Enabled {
		wc := cfg.Weaviate.ClientConfig()
		wc.Logger = logger.Slog()
		if a.weaviate, err = weaviate.NewClient(wc); err != nil {
			return nil, fmt.Errorf("connect weaviate: %w", err)
		}
		if schemaErr := a.weaviate.EnsureSchema(ctx); schemaErr != nil {
			if !cfg.Weaviate.AllowStartDegraded {
				return nil, fmt.Errorf("weaviate schema: %w", schemaErr)
			}
			wc.Logger.Warn("Weaviate schema not ensured, continuing degraded", "error", schemaErr)
		}
		a.remote = weaviate.NewSearcher(a.weaviate)
	}

	if a.engine, err = search.NewEngine(a.graph, a.engineOptions()...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) engineOptions() []search.Option {
	breaker := a.cfg.Breaker
	breaker.Logger = a.logger.Slog()

	opts := []search.Option{
		search.WithConfig(a.cfg.Search),
		search.WithChunkSource(a.index),
		search.WithLogger(a.logger.Slog()),
	}

	var queryEmbedder signals.Embedder
	if a.embedder != nil {
		cached, err := embed.NewCachedEmbedder(a.embedder, embed.CacheConfig{
			Size:          a.cfg.Embedder.CacheSize,
			RatePerSecond: a.cfg.Embedder.RatePerSecond,
			Burst:         a.cfg.Embedder.Burst,
			Logger:        a.logger.Slog(),
		})
		if err != nil {
			a.logger.Warn("Embedding cache disabled", "error", err)
			queryEmbedder = signals.GuardEmbedder("embedder", a.embedder, breaker)
		} else {
			queryEmbedder = signals.GuardEmbedder("embedder", cached, breaker)
		}
		opts = append(opts, search.WithEmbedder(queryEmbedder))
	}

	if a.remote != nil {
		opts = append(opts,
			search.WithLexical(signals.GuardLexical("weaviate_lexical", a.remote, breaker)),
			search.WithVector(signals.GuardVector("weaviate_vector", a.remote, breaker)),
		)
		if queryEmbedder != nil {
			opts = append(opts, search.WithSummaries(
				signals.GuardSummaries("weaviate_summaries", a.remote.SummarySearcher(queryEmbedder), breaker)))
		}
		return opts
	}

	opts = append(opts, search.WithLexical(a.index), search.WithVector(a.index))
	if queryEmbedder != nil {
		opts = append(opts, search.WithSummaries(a.index.SummarySearcher(queryEmbedder)))
	}
	return opts
}

// newEmbedder builds the configured backend, or nil for "none".
func newEmbedder(cfg config.EmbedderConfig) (signals.Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderNone, "":
		return nil, nil
	case config.EmbedderHTTP:
		return embed.NewHTTPEmbedder(embed.HTTPConfig{URL: cfg.URL, Timeout: cfg.Timeout})
	case config.EmbedderOpenAI:
		return embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.URL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// sinks are the stores every indexed file is written to.
func (a *app) sinks() []ingest.Sink {
	sinks := []ingest.Sink{a.index}
	if a.remote != nil {
		sinks = append(sinks, a.remote)
	}
	return sinks
}

// indexer returns an ingest.Indexer rooted at root, or at ingest.root when
// root is empty.
func (a *app) indexer(root string) (*ingest.Indexer, error) {
	cfg := a.cfg.Ingest
	if root != "" {
		cfg.Root = root
	}
	opts := []ingest.Option{ingest.WithLogger(a.logger.Slog())}
	if a.embedder != nil {
		opts = append(opts, ingest.WithEmbedder(a.embedder))
	}
	return ingest.NewIndexer(cfg, a.sinks(), opts...)
}

// deleteFile removes a file from the graph and every chunk sink, then
// saves the snapshot.
func (a *app) deleteFile(ctx context.Context, filePath string) (nodes, edges int, err error) {
	nodes, edges = a.graph.DeleteNodesForFile(filePath)
	var errs []error
	for _, s := range a.sinks() {
		if err := s.DeleteFile(ctx, filePath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.graph.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	return nodes, edges, errors.Join(errs...)
}

// Close releases the remote client and the database. The graph is not
// saved here; commands that mutate it save explicitly.
func (a *app) Close() error {
	var errs []error
	if a.weaviate != nil {
		errs = append(errs, a.weaviate.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
