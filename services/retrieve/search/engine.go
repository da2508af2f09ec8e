// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search is the retrieval engine exposed to the CLI and agent
// tools. It queries the signal providers in parallel, fuses their results
// with the graph signal, and explains results with relationship paths.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/paths"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
)

var tracer = otel.Tracer("aleutian.retrieve.search")

var (
	// ErrInvalidRequest is returned for empty queries and unknown modes.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrInvalidConfig is returned when the engine configuration fails validation.
	ErrInvalidConfig = errors.New("invalid search configuration")
)

var engineValidate = validator.New()

// Config tunes the engine.
type Config struct {
	Rank    rank.RankConfig     `yaml:"rank" json:"rank"`
	Seeds   paths.SeedConfig    `yaml:"seeds" json:"seeds"`
	Builder paths.BuilderConfig `yaml:"paths" json:"paths"`
	Scorer  paths.ScorerConfig  `yaml:"scorer" json:"scorer"`

	// CandidateLimit is the per-provider result limit.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit" validate:"gte=1"`

	// SummaryLimit is the summary search result limit.
	SummaryLimit int `yaml:"summary_limit" json:"summary_limit" validate:"gte=0"`

	// AnchorCount is how many top preliminary results anchor the graph signal.
	AnchorCount int `yaml:"anchor_count" json:"anchor_count" validate:"gte=0"`

	// DefaultTopK applies when a request does not set TopK.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k" validate:"gte=1"`

	// ProviderTimeout bounds each provider call. Zero means no bound.
	ProviderTimeout time.Duration `yaml:"provider_timeout" json:"provider_timeout" validate:"gte=0"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Rank:            rank.DefaultRankConfig(),
		Seeds:           paths.DefaultSeedConfig(),
		Builder:         paths.DefaultBuilderConfig(),
		Scorer:          paths.DefaultScorerConfig(),
		CandidateLimit:  50,
		SummaryLimit:    20,
		AnchorCount:     3,
		DefaultTopK:     10,
		ProviderTimeout: 5 * time.Second,
	}
}

// Validate checks every section.
//
// Rank errors wrap rank.ErrInvalidConfig; everything else wraps
// ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.Rank.Validate(); err != nil {
		return err
	}
	if err := c.Builder.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Scorer.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := engineValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ChunkSource looks up the chunks of a file, used to map graph nodes to
// retrievable chunks.
type ChunkSource interface {
	ChunksForFile(filePath string) []chunk.Chunk
}

// Option configures an Engine.
type Option func(*Engine)

// WithLexical sets the lexical provider.
func WithLexical(s signals.LexicalSearcher) Option { return func(e *Engine) { e.lexical = s } }

// WithVector sets the vector provider. It needs an embedder to be used.
func WithVector(s signals.VectorSearcher) Option { return func(e *Engine) { e.vector = s } }

// WithEmbedder sets the query embedder.
func WithEmbedder(em signals.Embedder) Option { return func(e *Engine) { e.embedder = em } }

// WithSummaries sets the summary index.
func WithSummaries(s signals.SummaryIndex) Option { return func(e *Engine) { e.summaries = s } }

// WithChunkSource sets the chunk lookup used for graph and symbol hits.
func WithChunkSource(s ChunkSource) Option { return func(e *Engine) { e.chunks = s } }

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs searches against a graph and a set of signal providers.
//
// Thread Safety: Safe for concurrent use. The engine holds no mutable
// state of its own; the graph store synchronizes itself.
type Engine struct {
	graph     *graph.Store
	lexical   signals.LexicalSearcher
	vector    signals.VectorSearcher
	embedder  signals.Embedder
	summaries signals.SummaryIndex
	chunks    ChunkSource
	cfg       Config
	logger    *slog.Logger
}

// NewEngine creates an Engine over g.
//
// Outputs:
//
//	*Engine - Ready to serve.
//	error   - ErrInvalidConfig or rank.ErrInvalidConfig if the
//	          configuration fails validation.
func NewEngine(g *graph.Store, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("search: graph store must not be nil")
	}
	e := &Engine{graph: g, cfg: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.logger = e.logger.With(slog.String("component", "search"))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Graph returns the underlying graph store.
func (e *Engine) Graph() *graph.Store {
	return e.graph
}

// Request is one search.
type Request struct {
	Query string `json:"query" binding:"required"`
	Mode  Mode   `json:"mode"`
	TopK  int    `json:"top_k" binding:"gte=0"`

	// Rank overrides the engine's ranking configuration for this call.
	Rank *rank.RankConfig `json:"rank,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Query  string             `json:"query"`
	Mode   Mode               `json:"mode"`
	Chunks []rank.ScoredChunk `json:"chunks"`

	// Degraded names the providers that failed and contributed nothing.
	Degraded []string `json:"degraded,omitempty"`

	// Seeds and Paths are set in graph mode.
	Seeds []string     `json:"seeds,omitempty"`
	Paths []paths.Path `json:"paths,omitempty"`
}

// Search runs a query.
//
// Description:
//
//	Lexical, vector and summary providers run in parallel. A provider
//	that fails or is missing contributes an empty list and is named in
//	Result.Degraded. In hybrid and graph mode a preliminary fusion picks
//	anchor nodes, and chunks near the anchors receive the graph boost in
//	the final fusion. Graph mode additionally selects seeds from the
//	final ranking and returns scored relationship paths.
//
// Outputs:
//
//	*Result - Chunks sorted by descending score, at most TopK.
//	error   - ErrInvalidRequest, rank.ErrInvalidConfig for a bad
//	          override, or the context error if ctx ends.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.mode", req.Mode.String()),
		attribute.Int("search.top_k", req.TopK),
	)
	start := time.Now()

	res, err := e.search(ctx, req)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(res.Degraded) > 0:
		outcome = "degraded"
		span.SetAttributes(attribute.StringSlice("search.degraded", res.Degraded))
	}
	searchRequests.WithLabelValues(req.Mode.String(), outcome).Inc()
	searchDuration.WithLabelValues(req.Mode.String()).Observe(time.Since(start).Seconds())
	return res, err
}

func (e *Engine) search(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if req.Mode < ModeHybrid || req.Mode > ModeGraph {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidRequest, int(req.Mode))
	}
	cfg := e.cfg.Rank
	if req.Rank != nil {
		if err := req.Rank.Validate(); err != nil {
			return nil, err
		}
		cfg = *req.Rank
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	sig, degraded := e.collect(ctx, query, req.Mode)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Mode.useGraph() {
		sig.Symbols = e.symbolHits(query)
		if cfg.GraphWeight > 0 && e.graph.NodeCount() > 0 {
			prelim := rank.Fuse(ctx, sig, cfg)
			sig.Graph = e.graphHits(ctx, prelim, cfg)
		}
	}

	ranked := rank.Fuse(ctx, sig, cfg)
	res := &Result{
		Query:    query,
		Mode:     req.Mode,
		Chunks:   rank.TopK(ranked, topK),
		Degraded: degraded,
	}

	if req.Mode == ModeGraph {
		res.Seeds, res.Paths = e.explainPaths(ctx, res.Chunks)
		pathsFound.Observe(float64(len(res.Paths)))
	}

	e.logger.Debug("search complete",
		slog.String("mode", req.Mode.String()),
		slog.Int("results", len(res.Chunks)),
		slog.Int("paths", len(res.Paths)),
		slog.Any("degraded", degraded))
	return res, nil
}

// collect queries the providers the mode needs in parallel. Failures are
// absorbed as empty lists.
func (e *Engine) collect(ctx context.Context, query string, mode Mode) (rank.Signals, []string) {
	var (
		sig      rank.Signals
		mu       sync.Mutex
		degraded []string
	)
	fail := func(provider string, err error) {
		providerFailures.WithLabelValues(provider).Inc()
		e.logger.Warn("signal provider failed, continuing without it",
			slog.String("provider", provider),
			slog.Bool("circuit_open", signals.IsOpen(err)),
			slog.String("error", err.Error()))
		mu.Lock()
		degraded = append(degraded, provider)
		mu.Unlock()
	}

	var g errgroup.Group

	if mode.useLexical() && e.lexical != nil {
		g.Go(func() error {
			pctx, cancel := e.providerContext(ctx)
			defer cancel()
			hits, err := e.lexical.LexicalSearch(pctx, query, e.cfg.CandidateLimit)
			if err != nil {
				fail("lexical", err)
				return nil
			}
			sig.Lexical = hits
			return nil
		})
	}

	if mode.useVector() && e.vector != nil && e.embedder != nil {
		g.Go(func() error {
			pctx, cancel := e.providerContext(ctx)
			defer cancel()
			vec, err := e.embedder.Embed(pctx, query)
			if err != nil {
				fail("embedder", err)
				return nil
			}
			hits, err := e.vector.VectorSearch(pctx, vec, e.cfg.CandidateLimit)
			if err != nil {
				fail("vector", err)
				return nil
			}
			sig.Vector = hits
			return nil
		})
	}

	if mode.useGraph() && e.summaries != nil && e.cfg.SummaryLimit > 0 {
		g.Go(func() error {
			pctx, cancel := e.providerContext(ctx)
			defer cancel()
			hits, err := e.summaries.SearchSummaries(pctx, query, e.cfg.SummaryLimit)
			if err != nil {
				fail("summaries", err)
				return nil
			}
			sig.Summaries = hits
			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(degraded)
	return sig, degraded
}

func (e *Engine) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

// queryTerms splits a query into identifier-like words.
func queryTerms(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// symbolHits returns a hit for each chunk containing a symbol whose name
// equals a query word.
func (e *Engine) symbolHits(query string) []rank.SymbolHit {
	if e.chunks == nil {
		return nil
	}
	var hits []rank.SymbolHit
	seen := make(map[string]struct{})
	for _, term := range queryTerms(query) {
		for _, node := range e.graph.FindSymbolsByName(term) {
			c, ok := e.chunkForNode(node)
			if !ok {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			hits = append(hits, rank.SymbolHit{Chunk: c, Symbol: node.Label})
		}
	}
	return hits
}

// chunkForNode returns the chunk of node's file with the largest line
// overlap with the node, ties going to the earlier chunk.
func (e *Engine) chunkForNode(node graph.GraphNode) (chunk.Chunk, bool) {
	if e.chunks == nil || node.Kind != graph.NodeKindSymbol || !node.HasLines() {
		return chunk.Chunk{}, false
	}
	var (
		best     chunk.Chunk
		bestOver int
	)
	for _, c := range e.chunks.ChunksForFile(node.FilePath) {
		if over := c.Overlap(node.StartLine, node.EndLine); over > bestOver {
			best, bestOver = c, over
		}
	}
	return best, bestOver > 0
}

// graphHits anchors on the top preliminary results and returns a hit for
// every chunk whose node lies within GraphMaxDepth hops of an anchor.
func (e *Engine) graphHits(ctx context.Context, prelim []rank.ScoredChunk, cfg rank.RankConfig) []rank.GraphHit {
	if e.chunks == nil || e.cfg.AnchorCount == 0 || cfg.GraphMaxDepth == 0 {
		return nil
	}
	seedCfg := e.cfg.Seeds
	seedCfg.Limit = e.cfg.AnchorCount
	anchors := paths.SelectSeeds(ctx, e.graph, rank.TopK(prelim, e.cfg.AnchorCount), seedCfg)

	var hits []rank.GraphHit
	for _, anchor := range anchors {
		sub, err := e.graph.Neighbors(ctx, anchor, nil, cfg.GraphMaxDepth)
		if err != nil {
			e.logger.Warn("graph expansion interrupted", slog.String("anchor", anchor), slog.String("error", err.Error()))
			break
		}
		parents := bfsParents(sub)
		for _, node := range sub.Nodes {
			hops := sub.Depth[node.ID]
			if hops == 0 {
				continue
			}
			c, ok := e.chunkForNode(node)
			if !ok {
				continue
			}
			path, last := pathTo(parents, anchor, node.ID)
			hits = append(hits, rank.GraphHit{
				Chunk:    c,
				AnchorID: anchor,
				NodeID:   node.ID,
				Hops:     hops,
				EdgeKind: last,
				Path:     path,
			})
		}
	}
	return hits
}

type parentLink struct {
	id   string
	kind graph.EdgeKind
}

// bfsParents recovers a breadth-first parent for every reached id from
// the subgraph's edges, which are recorded in discovery order.
func bfsParents(sub *graph.Subgraph) map[string]parentLink {
	parents := make(map[string]parentLink, len(sub.Depth))
	for _, edge := range sub.Edges {
		ds, okS := sub.Depth[edge.Source]
		dt, okT := sub.Depth[edge.Target]
		if !okS || !okT {
			continue
		}
		switch {
		case dt == ds+1:
			if _, ok := parents[edge.Target]; !ok {
				parents[edge.Target] = parentLink{id: edge.Source, kind: edge.Kind}
			}
		case ds == dt+1:
			if _, ok := parents[edge.Source]; !ok {
				parents[edge.Source] = parentLink{id: edge.Target, kind: edge.Kind}
			}
		}
	}
	return parents
}

// pathTo returns the node ids from root to id and the kind of the last edge.
func pathTo(parents map[string]parentLink, root, id string) ([]string, graph.EdgeKind) {
	var (
		rev  []string
		last graph.EdgeKind
	)
	for cur := id; ; {
		rev = append(rev, cur)
		if cur == root {
			break
		}
		p, ok := parents[cur]
		if !ok {
			break
		}
		if cur == id {
			last = p.kind
		}
		cur = p.id
	}
	out := make([]string, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out, last
}

// explainPaths selects seeds from ranked chunks and returns scored paths.
func (e *Engine) explainPaths(ctx context.Context, ranked []rank.ScoredChunk) ([]string, []paths.Path) {
	seeds := paths.SelectSeeds(ctx, e.graph, ranked, e.cfg.Seeds)
	found := paths.FindPathsFrom(ctx, e.graph, seeds, e.cfg.Builder)
	return seeds, paths.RankPaths(ctx, found, e.scorerFor(found))
}

// scorerFor returns a semantic scorer when the chunks behind the paths'
// nodes carry embeddings, and the heuristic scorer otherwise.
func (e *Engine) scorerFor(found []paths.Path) paths.Scorer {
	embeddings := make(map[string][]float32)
	for _, p := range found {
		for _, pn := range p.Nodes {
			if _, ok := embeddings[pn.ID]; ok {
				continue
			}
			node, ok := e.graph.GetNode(pn.ID)
			if !ok {
				continue
			}
			if c, ok := e.chunkForNode(node); ok && len(c.Embedding) > 0 {
				embeddings[pn.ID] = c.Embedding
			}
		}
	}
	if len(embeddings) == 0 {
		return paths.NewHeuristicScorer(e.cfg.Scorer)
	}
	return paths.NewSemanticScorer(e.cfg.Scorer, embeddings)
}

// Explanation is a graph-mode search laid out stage by stage.
type Explanation struct {
	Query  string             `json:"query"`
	Chunks []rank.ScoredChunk `json:"chunks"`
	Seeds  []string           `json:"seeds"`
	Paths  []paths.Path       `json:"paths"`

	Degraded []string `json:"degraded,omitempty"`
}

// Explain runs a graph-mode search and returns the ranked chunks, the
// seeds selected from them, and the scored paths from those seeds.
func (e *Engine) Explain(ctx context.Context, query string, topK int) (*Explanation, error) {
	res, err := e.Search(ctx, Request{Query: query, Mode: ModeGraph, TopK: topK})
	if err != nil {
		return nil, err
	}
	ex := &Explanation{
		Query:    res.Query,
		Chunks:   res.Chunks,
		Seeds:    res.Seeds,
		Paths:    res.Paths,
		Degraded: res.Degraded,
	}
	if ex.Seeds == nil {
		ex.Seeds = []string{}
	}
	if ex.Paths == nil {
		ex.Paths = []paths.Path{}
	}
	return ex, nil
}

// Neighbors expands id up to maxHops over kinds (all kinds when empty).
// A negative maxHops uses the ranking's GraphMaxDepth.
func (e *Engine) Neighbors(ctx context.Context, id string, kinds []graph.EdgeKind, maxHops int, opts ...graph.QueryOption) (*graph.Subgraph, error) {
	if maxHops < 0 {
		maxHops = e.cfg.Rank.GraphMaxDepth
	}
	return e.graph.Neighbors(ctx, id, kinds, maxHops, opts...)
}

// ShortestPath returns the shortest path from one node to another within
// maxHops. A non-positive maxHops uses the path builder's MaxLength.
func (e *Engine) ShortestPath(ctx context.Context, from, to string, maxHops int, opts ...graph.QueryOption) ([]string, bool, error) {
	if maxHops <= 0 {
		maxHops = e.cfg.Builder.MaxLength
	}
	return e.graph.ShortestPath(ctx, from, to, maxHops, opts...)
}

// FindPaths enumerates and scores paths from seed. A zero cfg uses the
// engine's builder configuration.
func (e *Engine) FindPaths(ctx context.Context, seed string, cfg paths.BuilderConfig) ([]paths.Path, error) {
	return e.FindPathsFrom(ctx, []string{seed}, cfg)
}

// FindPathsFrom is FindPaths over several seeds, ranked together. MaxPaths
// bounds each seed separately. More than paths.MaxSeeds seeds is
// ErrInvalidRequest.
func (e *Engine) FindPathsFrom(ctx context.Context, seeds []string, cfg paths.BuilderConfig) ([]paths.Path, error) {
	if len(seeds) > paths.MaxSeeds {
		return nil, fmt.Errorf("%w: %d seeds, at most %d allowed", ErrInvalidRequest, len(seeds), paths.MaxSeeds)
	}
	if cfg == (paths.BuilderConfig{}) {
		cfg = e.cfg.Builder
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	found := paths.FindPathsFrom(ctx, e.graph, seeds, cfg)
	return paths.RankPaths(ctx, found, e.scorerFor(found)), nil
}
