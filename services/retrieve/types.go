// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package retrieve

import (
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/paths"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// ExplainRequest is the body of POST /v1/retrieve/explain.
type ExplainRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k" binding:"gte=0"`
}

// NodeResponse is returned by GET /v1/retrieve/graph/node/*id.
type NodeResponse struct {
	Node     graph.GraphNode   `json:"node"`
	Outgoing []graph.GraphEdge `json:"outgoing"`
	Incoming []graph.GraphEdge `json:"incoming"`
}

// ShortestPathResponse is returned by GET /v1/retrieve/graph/shortest_path.
type ShortestPathResponse struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Found bool     `json:"found"`
	Path  []string `json:"path"`
	Hops  int      `json:"hops"`
}

// PathsRequest is the body of POST /v1/retrieve/graph/paths.
//
// MaxLength and MaxPaths fall back to the service configuration when zero.
type PathsRequest struct {
	Seeds     []string `json:"seeds" binding:"required,min=1,max=64,dive,required"`
	MaxLength int      `json:"max_length" binding:"gte=0,lte=16"`
	MaxPaths  int      `json:"max_paths" binding:"gte=0,lte=10000"`
}

// PathsResponse lists scored paths in descending score order.
type PathsResponse struct {
	Paths []paths.Path `json:"paths"`
	Count int          `json:"count"`
}

// HealthResponse is returned by GET /v1/retrieve/health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Nodes    int               `json:"nodes"`
	Edges    int               `json:"edges"`
	Chunks   int               `json:"chunks"`
	Rank     rank.RankConfig   `json:"rank"`
	Services map[string]string `json:"services,omitempty"`
}
