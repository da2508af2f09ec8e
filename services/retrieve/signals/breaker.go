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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
)

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "retrieve_signal_breaker_state",
		Help: "Circuit breaker state per signal provider (0=closed, 1=half-open, 2=open)",
	},
	[]string{"provider"},
)

// BreakerConfig configures the circuit breaker around one provider.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state after which
	// counts are cleared. Zero never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`

	// MinRequests and FailureRatio decide when to trip.
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minReq := cfg.MinRequests
	if minReq == 0 {
		minReq = 1
	}
	breakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minReq {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("signal provider circuit breaker changed state",
				slog.String("component", "signals"),
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// A caller giving up is not the provider's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// IsOpen reports whether err came from an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type guardedLexical struct {
	next LexicalSearcher
	cb   *gobreaker.CircuitBreaker
}

// GuardLexical wraps s in a circuit breaker named name.
func GuardLexical(name string, s LexicalSearcher, cfg BreakerConfig) LexicalSearcher {
	return &guardedLexical{next: s, cb: newBreaker(name, cfg)}
}

func (g *guardedLexical) LexicalSearch(ctx context.Context, query string, limit int) ([]chunk.Hit, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.LexicalSearch(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]chunk.Hit), nil
}

type guardedVector struct {
	next VectorSearcher
	cb   *gobreaker.CircuitBreaker
}

// GuardVector wraps s in a circuit breaker named name.
func GuardVector(name string, s VectorSearcher, cfg BreakerConfig) VectorSearcher {
	return &guardedVector{next: s, cb: newBreaker(name, cfg)}
}

func (g *guardedVector) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]chunk.Hit, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.VectorSearch(ctx, embedding, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]chunk.Hit), nil
}

type guardedSummaries struct {
	next SummaryIndex
	cb   *gobreaker.CircuitBreaker
}

// GuardSummaries wraps s in a circuit breaker named name.
func GuardSummaries(name string, s SummaryIndex, cfg BreakerConfig) SummaryIndex {
	return &guardedSummaries{next: s, cb: newBreaker(name, cfg)}
}

func (g *guardedSummaries) SearchSummaries(ctx context.Context, query string, limit int) ([]chunk.SummaryHit, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.SearchSummaries(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]chunk.SummaryHit), nil
}

type guardedEmbedder struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker
}

// GuardEmbedder wraps e in a circuit breaker named name.
func GuardEmbedder(name string, e Embedder, cfg BreakerConfig) Embedder {
	return &guardedEmbedder{next: e, cb: newBreaker(name, cfg)}
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return res.([]float32), nil
}
