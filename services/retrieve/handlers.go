// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package retrieve exposes the retrieval engine to agent tools over HTTP.
//
// Routes live under /v1/retrieve: hybrid search, explanations, and
// read-only graph queries. Every response carries an X-Request-ID header.
package retrieve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/paths"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/search"
)

// Counter reports a collection size, such as the number of indexed chunks.
type Counter interface {
	Len() int
}

// ReadyFunc probes an external dependency.
type ReadyFunc func(ctx context.Context) error

// Handlers holds the HTTP handlers for the retrieval API.
//
// Thread Safety: safe for concurrent use once configured.
type Handlers struct {
	engine *search.Engine
	chunks Counter
	probes map[string]ReadyFunc
	logger *slog.Logger
}

// NewHandlers creates handlers over engine.
func NewHandlers(engine *search.Engine) *Handlers {
	return &Handlers{engine: engine, probes: map[string]ReadyFunc{}, logger: slog.Default()}
}

// WithChunks reports the chunk count on the health endpoint.
func (h *Handlers) WithChunks(c Counter) *Handlers {
	h.chunks = c
	return h
}

// WithProbe adds a named dependency to the health endpoint. A failing
// probe reports the service as degraded, never down.
func (h *Handlers) WithProbe(name string, probe ReadyFunc) *Handlers {
	h.probes[name] = probe
	return h
}

// WithLogger sets the logger.
func (h *Handlers) WithLogger(l *slog.Logger) *Handlers {
	if l != nil {
		h.logger = l
	}
	return h
}

// HandleSearch handles POST /v1/retrieve/search.
//
// Description:
//
//	Runs a hybrid, lexical, vector or graph search. The body is a
//	search.Request; "rank" optionally overrides the ranking weights for
//	this request only.
//
// Responses:
//
//	200 - search.Result
//	400 - INVALID_REQUEST or INVALID_CONFIG
//	504 - TIMEOUT
func (h *Handlers) HandleSearch(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSearch")

	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, err)
		return
	}

	res, err := h.engine.Search(c.Request.Context(), req)
	if err != nil {
		h.fail(c, logger, "Search failed", err)
		return
	}
	if len(res.Degraded) > 0 {
		logger.Warn("Search degraded", "providers", res.Degraded)
	}
	logger.Info("Search completed", "mode", res.Mode.String(), "results", len(res.Chunks))
	c.JSON(http.StatusOK, res)
}

// HandleExplain handles POST /v1/retrieve/explain.
//
// Responses:
//
//	200 - search.Explanation with ranked chunks, seeds and scored paths
//	400 - INVALID_REQUEST
func (h *Handlers) HandleExplain(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExplain")

	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, err)
		return
	}

	ex, err := h.engine.Explain(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		h.fail(c, logger, "Explain failed", err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// HandleNode handles GET /v1/retrieve/graph/node/*id.
//
// Node ids contain slashes and '#', so the id is a catch-all segment and
// must be percent-encoded where needed.
func (h *Handlers) HandleNode(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "node id is required", Code: "INVALID_REQUEST"})
		return
	}

	g := h.engine.Graph()
	node, ok := g.GetNode(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "node not found", Code: "NODE_NOT_FOUND", Details: id})
		return
	}
	c.JSON(http.StatusOK, NodeResponse{
		Node:     node,
		Outgoing: nonNilEdges(g.OutgoingEdges(id)),
		Incoming: nonNilEdges(g.IncomingEdges(id)),
	})
}

// HandleNeighbors handles GET /v1/retrieve/graph/neighbors.
//
// Query Parameters:
//
//	id        - Root node id (required).
//	depth     - Hop limit. Default: the ranking's graph_max_depth.
//	kinds     - Comma separated edge kinds. Default: all.
//	direction - outgoing, incoming or both. Default: both.
//	limit     - Maximum nodes returned. Default: unbounded.
func (h *Handlers) HandleNeighbors(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNeighbors")

	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "id is required", Code: "INVALID_REQUEST"})
		return
	}
	depth, err := intQuery(c, "depth", -1)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	kinds, err := parseKinds(c.Query("kinds"))
	if err != nil {
		badRequest(c, err)
		return
	}
	dir, err := graph.ParseDirection(c.DefaultQuery("direction", "both"))
	if err != nil {
		badRequest(c, err)
		return
	}

	sub, err := h.engine.Neighbors(c.Request.Context(), id, kinds, depth,
		graph.WithDirection(dir), graph.WithNodeLimit(limit))
	if err != nil {
		h.fail(c, logger, "Neighbors failed", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// HandleShortestPath handles GET /v1/retrieve/graph/shortest_path.
//
// Query Parameters:
//
//	from, to  - Endpoint ids (required).
//	max_hops  - Default: the path builder's max_length.
//	direction - Default: outgoing.
func (h *Handlers) HandleShortestPath(c *gin.Context) {
	logger := h.requestLogger(c, "HandleShortestPath")

	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "from and to are required", Code: "INVALID_REQUEST"})
		return
	}
	maxHops, err := intQuery(c, "max_hops", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	dir, err := graph.ParseDirection(c.DefaultQuery("direction", "outgoing"))
	if err != nil {
		badRequest(c, err)
		return
	}

	path, found, err := h.engine.ShortestPath(c.Request.Context(), from, to, maxHops, graph.WithDirection(dir))
	if err != nil {
		h.fail(c, logger, "ShortestPath failed", err)
		return
	}
	resp := ShortestPathResponse{From: from, To: to, Found: found, Path: []string{}}
	if found {
		resp.Path = path
		resp.Hops = len(path) - 1
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePaths handles POST /v1/retrieve/graph/paths.
func (h *Handlers) HandlePaths(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePaths")

	var req PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, err)
		return
	}

	cfg := h.engine.Config().Builder
	if req.MaxLength > 0 {
		cfg.MaxLength = req.MaxLength
	}
	if req.MaxPaths > 0 {
		cfg.MaxPaths = req.MaxPaths
	}
	found, err := h.engine.FindPathsFrom(c.Request.Context(), req.Seeds, cfg)
	if err != nil {
		h.fail(c, logger, "FindPaths failed", err)
		return
	}
	if found == nil {
		found = []paths.Path{}
	}
	c.JSON(http.StatusOK, PathsResponse{Paths: found, Count: len(found)})
}

// HandleStats handles GET /v1/retrieve/graph/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Graph().Stats())
}

// HandleHealth handles GET /v1/retrieve/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	g := h.engine.Graph()
	resp := HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Nodes:   g.NodeCount(),
		Edges:   g.EdgeCount(),
		Rank:    h.engine.Config().Rank,
	}
	if h.chunks != nil {
		resp.Chunks = h.chunks.Len()
	}
	if len(h.probes) > 0 {
		resp.Services = make(map[string]string, len(h.probes))
		for name, probe := range h.probes {
			if err := probe(c.Request.Context()); err != nil {
				resp.Services[name] = "unavailable: " + err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Services[name] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// fail maps engine errors onto status codes.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, search.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, rank.ErrInvalidConfig), errors.Is(err, paths.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		// Client went away.
		status, code = 499, "CANCELED"
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func parseKinds(raw string) ([]graph.EdgeKind, error) {
	if raw == "" {
		return nil, nil
	}
	var kinds []graph.EdgeKind
	for _, part := range strings.Split(raw, ",") {
		k, err := graph.ParseEdgeKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func nonNilEdges(edges []graph.GraphEdge) []graph.GraphEdge {
	if edges == nil {
		return []graph.GraphEdge{}
	}
	return edges
}
