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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/telemetry"
)

const requestIDKey = "request_id"

// RegisterRoutes mounts the retrieval API under rg (normally /v1).
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	retrieve := rg.Group("/retrieve")
	{
		// Retrieval
		retrieve.POST("/search", handlers.HandleSearch)
		retrieve.POST("/explain", handlers.HandleExplain)

		// Graph queries
		g := retrieve.Group("/graph")
		{
			g.GET("/node/*id", handlers.HandleNode)
			g.GET("/neighbors", handlers.HandleNeighbors)
			g.GET("/shortest_path", handlers.HandleShortestPath)
			g.POST("/paths", handlers.HandlePaths)
			g.GET("/stats", handlers.HandleStats)
		}

		retrieve.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the service router: recovery, tracing, request ids and
// access logging, the /v1 API and /metrics.
func NewRouter(serviceName string, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handlers.accessLog())

	RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// accessLog assigns the request id and logs each request at debug level,
// or warn for server errors.
func (h *Handlers) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := getOrCreateRequestID(c)
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= 500 {
			h.logger.Warn("Request failed", args...)
			return
		}
		h.logger.Debug("Request served", args...)
	}
}
