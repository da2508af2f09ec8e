// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviate is the remote signal provider: BM25 and near-vector
// search over code chunks and summaries stored in a Weaviate instance.
//
// The Client adds retry with exponential backoff and jitter around the
// Weaviate Go client; circuit breaking is layered on top by the signals
// package so local and remote providers share one policy.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.retrieve.weaviate")

var (
	// ErrUnavailable is returned when Weaviate is not reachable or not ready.
	ErrUnavailable = errors.New("weaviate is not available")

	// ErrConnectionTimeout is returned when a request times out.
	ErrConnectionTimeout = errors.New("weaviate connection timeout")

	// ErrClientClosed is returned when operations are called on a closed client.
	ErrClientClosed = errors.New("weaviate client is closed")

	// ErrQuery is returned when Weaviate answers a query with GraphQL errors.
	ErrQuery = errors.New("weaviate query error")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the Weaviate server URL (e.g., "http://localhost:8080").
	URL string

	// RetryAttempts is the number of retries after the first attempt.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff between retries.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 5s
	MaxRetryBackoff time.Duration

	// RetryJitter adds randomness to backoff (0.0-1.0).
	// Default: 0.25
	RetryJitter float64

	// ReadyTimeout bounds the readiness probe in NewClient and Ready.
	// Default: 5s
	ReadyTimeout time.Duration

	// AllowStartDegraded returns a usable client even when the readiness
	// probe fails at construction.
	AllowStartDegraded bool

	// Logger for client operations.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultClientConfig returns the default client configuration without a URL.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		RetryJitter:     0.25,
		ReadyTimeout:    5 * time.Second,
		Logger:          slog.Default(),
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.RetryBackoff < 0 {
		return errors.New("retry_backoff must be non-negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("retry_jitter must be between 0 and 1")
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	defaults := DefaultClientConfig()
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = defaults.ReadyTimeout
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// splitURL returns the scheme and host of a Weaviate URL. A bare host
// defaults to http.
func splitURL(raw string) (scheme, host string) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "https", strings.TrimSuffix(raw[len("https://"):], "/")
	case strings.HasPrefix(raw, "http://"):
		return "http", strings.TrimSuffix(raw[len("http://"):], "/")
	default:
		return "http", strings.TrimSuffix(raw, "/")
	}
}

// Client wraps the Weaviate client with retries.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Client struct {
	client *weaviate.Client
	config ClientConfig
	logger *slog.Logger
	closed atomic.Bool
}

// NewClient creates a Client and probes readiness.
//
// Inputs:
//
//	config - Client configuration. URL is required.
//
// Outputs:
//
//	*Client - Ready-to-use client.
//	error - Non-nil if the configuration is invalid, or the probe fails
//	        and AllowStartDegraded is false.
func NewClient(config ClientConfig) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	scheme, host := splitURL(config.URL)
	wc, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	c := &Client{
		client: wc,
		config: config,
		logger: config.Logger.With(slog.String("component", "weaviate_client")),
	}

	if err := c.Ready(context.Background()); err != nil {
		if !config.AllowStartDegraded {
			return nil, fmt.Errorf("weaviate not available: %w", err)
		}
		c.logger.Warn("Weaviate unavailable at startup, continuing degraded",
			slog.String("url", config.URL),
			slog.String("error", err.Error()))
		return c, nil
	}

	c.logger.Info("Weaviate client initialized", slog.String("url", config.URL))
	return c, nil
}

// Weaviate returns the underlying client.
func (c *Client) Weaviate() *weaviate.Client {
	return c.client
}

// Ready probes the Weaviate readiness endpoint.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReadyTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "weaviate.Ready")
	defer span.End()

	ok, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ready check failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		span.SetStatus(codes.Error, "not ready")
		return ErrUnavailable
	}
	return nil
}

// Execute runs fn, retrying retryable failures with backoff.
//
// Outputs:
//
//	error - nil on success, ctx.Err() if cancelled while backing off,
//	        otherwise the last error wrapped by wrapError.
func (c *Client) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	ctx, span := tracer.Start(ctx, "weaviate.Execute",
		trace.WithAttributes(attribute.String("weaviate.op", op)))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", backoff.Milliseconds()),
			))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		c.logger.Debug("weaviate request failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "request failed")
	return wrapError(lastErr)
}

// Close marks the client closed. Safe to call multiple times.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// calculateBackoff returns base*2^attempt capped at MaxRetryBackoff, with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > c.config.MaxRetryBackoff || backoff <= 0 {
		backoff = c.config.MaxRetryBackoff
	}

	jitterRange := float64(backoff) * c.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = c.config.RetryBackoff
	}
	return backoff
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrQuery) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	}
	return fmt.Errorf("weaviate error: %w", err)
}
