// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.retrieve.rank")
	meter  = otel.Meter("aleutian.retrieve.rank")
)

var (
	fuseLatency metric.Float64Histogram
	fuseResults metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		fuseLatency, err = meter.Float64Histogram(
			"retrieve_rank_fuse_duration_seconds",
			metric.WithDescription("Duration of signal fusion"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		fuseResults, err = meter.Int64Histogram(
			"retrieve_rank_fuse_results",
			metric.WithDescription("Number of distinct chunks fused per query"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFuseMetrics(ctx context.Context, d time.Duration, results int) {
	if err := initMetrics(); err != nil {
		return
	}
	fuseLatency.Record(ctx, d.Seconds())
	fuseResults.Record(ctx, int64(results))
}
