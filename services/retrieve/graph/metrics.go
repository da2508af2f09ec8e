// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.retrieve.graph")
	meter  = otel.Meter("aleutian.retrieve.graph")
)

var (
	queryLatency     metric.Float64Histogram
	mutationTotal    metric.Int64Counter
	snapshotLatency  metric.Float64Histogram
	snapshotFailures metric.Int64Counter
	skippedRecords   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"retrieve_graph_query_duration_seconds",
			metric.WithDescription("Duration of graph query operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationTotal, err = meter.Int64Counter(
			"retrieve_graph_mutations_total",
			metric.WithDescription("Total number of graph mutations by operation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotLatency, err = meter.Float64Histogram(
			"retrieve_graph_snapshot_duration_seconds",
			metric.WithDescription("Duration of snapshot save and load"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotFailures, err = meter.Int64Counter(
			"retrieve_graph_snapshot_failures_total",
			metric.WithDescription("Snapshot operations that failed or fell back to an empty graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedRecords, err = meter.Int64Counter(
			"retrieve_graph_snapshot_skipped_records_total",
			metric.WithDescription("Malformed snapshot records skipped during load"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("query_type", queryType)),
	)
}

func recordMutation(ctx context.Context, op string) {
	if err := initMetrics(); err != nil {
		return
	}
	mutationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// recordSnapshotMetrics records a save or load. outcome is one of
// "ok", "missing", "corrupt" or "error".
func recordSnapshotMetrics(ctx context.Context, op, outcome string, duration time.Duration, skipped int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	snapshotLatency.Record(ctx, duration.Seconds(), attrs)
	if outcome != "ok" {
		snapshotFailures.Add(ctx, 1, attrs)
	}
	if skipped > 0 {
		skippedRecords.Add(ctx, int64(skipped))
	}
}

func startQuerySpan(ctx context.Context, name, nodeID string, maxHops int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Store."+name,
		trace.WithAttributes(
			attribute.String("graph.node_id", nodeID),
			attribute.Int("graph.max_hops", maxHops),
		),
	)
}
