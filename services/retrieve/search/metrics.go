// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieve_search_requests_total",
			Help: "Search requests by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieve_search_duration_seconds",
			Help:    "End-to-end search latency by mode",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"mode"},
	)

	providerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieve_search_provider_failures_total",
			Help: "Signal provider failures absorbed as empty result lists",
		},
		[]string{"provider"},
	)

	pathsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retrieve_search_paths_found",
			Help:    "Relationship paths returned per graph-mode search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)
)
