// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads the retrieval service configuration file.
//
// A configuration starts from DefaultServiceConfig, is overlaid with the
// YAML file (when one is given), then with environment variables, and is
// validated before any component sees it:
//
//	cfg, err := config.Load("retrieve.yaml")
//	if errors.Is(err, config.ErrInvalidConfig) { ... }
//
// Ranking, seed and path settings sit at the top level of the file
// (rank:, seeds:, paths:, scorer:) next to the engine limits.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRetrieve/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/ingest"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/search"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/storage/badger"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/telemetry"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/weaviate"
)

// ErrInvalidConfig wraps every validation failure. Ranking errors also
// match rank.ErrInvalidConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Environment variables that override file values.
const (
	EnvDataDir     = "RETRIEVE_DATA_DIR"
	EnvWeaviateURL = "RETRIEVE_WEAVIATE_URL"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvOTLP        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName = "OTEL_SERVICE_NAME"
	EnvLogLevel    = "RETRIEVE_LOG_LEVEL"
)

// Embedder providers.
const (
	EmbedderNone   = "none"
	EmbedderHTTP   = "http"
	EmbedderOpenAI = "openai"
)

// ServiceConfig is the whole configuration file.
type ServiceConfig struct {
	// DataDir holds the graph snapshot and the chunk database.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Search carries rank, seeds, paths, scorer and the engine limits.
	Search search.Config `yaml:",inline"`

	Storage   badger.Config         `yaml:"storage"`
	Weaviate  WeaviateConfig        `yaml:"weaviate"`
	Embedder  EmbedderConfig        `yaml:"embedder"`
	Telemetry telemetry.Config      `yaml:"telemetry"`
	Logging   logging.Config        `yaml:"logging"`
	Server    ServerConfig          `yaml:"server"`
	Ingest    ingest.Config         `yaml:"ingest"`
	Watcher   graph.WatcherConfig   `yaml:"watcher"`
	Breaker   signals.BreakerConfig `yaml:"breaker"`
}

// WeaviateConfig enables the remote signal provider.
type WeaviateConfig struct {
	Enabled            bool          `yaml:"enabled"`
	URL                string        `yaml:"url" validate:"required_if=Enabled true"`
	RetryAttempts      int           `yaml:"retry_attempts" validate:"gte=0"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	MaxRetryBackoff    time.Duration `yaml:"max_retry_backoff" validate:"gte=0"`
	ReadyTimeout       time.Duration `yaml:"ready_timeout" validate:"gte=0"`
	AllowStartDegraded bool          `yaml:"allow_start_degraded"`
}

// ClientConfig converts to the weaviate client settings.
func (w WeaviateConfig) ClientConfig() weaviate.ClientConfig {
	cfg := weaviate.DefaultClientConfig()
	cfg.URL = w.URL
	cfg.RetryAttempts = w.RetryAttempts
	cfg.RetryBackoff = w.RetryBackoff
	cfg.MaxRetryBackoff = w.MaxRetryBackoff
	cfg.ReadyTimeout = w.ReadyTimeout
	cfg.AllowStartDegraded = w.AllowStartDegraded
	return cfg
}

// EmbedderConfig selects the query and chunk embedder.
type EmbedderConfig struct {
	// Provider is "none", "http" or "openai". Without an embedder the
	// vector signal is disabled.
	Provider string `yaml:"provider" validate:"oneof=none http openai"`

	// URL is the batch endpoint for "http" and an optional base URL for "openai".
	URL     string        `yaml:"url" validate:"required_if=Provider http"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions" validate:"gte=0"`

	// APIKey is normally taken from OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`

	CacheSize     int     `yaml:"cache_size" validate:"gte=0"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// DefaultServiceConfig returns a configuration that runs entirely on the
// local index with no remote services.
func DefaultServiceConfig() ServiceConfig {
	dataDir := ".aleutian-retrieve"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".aleutian", "retrieve")
	}
	wc := weaviate.DefaultClientConfig()
	return ServiceConfig{
		DataDir: dataDir,
		Search:  search.DefaultConfig(),
		Storage: badger.DefaultConfig(""),
		Weaviate: WeaviateConfig{
			URL:             "http://localhost:8080",
			RetryAttempts:   wc.RetryAttempts,
			RetryBackoff:    wc.RetryBackoff,
			MaxRetryBackoff: wc.MaxRetryBackoff,
			ReadyTimeout:    wc.ReadyTimeout,
		},
		Embedder: EmbedderConfig{
			Provider:  EmbedderNone,
			Timeout:   30 * time.Second,
			CacheSize: 4096,
			Burst:     1,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging:   logging.Config{Level: logging.LevelInfo, Service: "retrieve"},
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ingest:  ingest.DefaultConfig("."),
		Watcher: graph.DefaultWatcherConfig(),
		Breaker: signals.DefaultBreakerConfig(),
	}
}

// SnapshotPath is where the graph snapshot lives.
func (c ServiceConfig) SnapshotPath() string {
	return filepath.Join(c.DataDir, graph.DefaultSnapshotName)
}

// StorageConfig returns the chunk database settings with the path resolved
// under DataDir when unset.
func (c ServiceConfig) StorageConfig() badger.Config {
	s := c.Storage
	if s.Path == "" && !s.InMemory {
		s.Path = filepath.Join(c.DataDir, "chunks")
	}
	return s
}

// Load reads path (may be empty), applies environment overrides and
// validates the result.
//
// Outputs:
//
//	ServiceConfig - The effective configuration.
//	error         - File or YAML errors, or ErrInvalidConfig.
func Load(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func decode(data []byte, cfg *ServiceConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *ServiceConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := lookup(EnvWeaviateURL); ok && v != "" {
		cfg.Weaviate.URL = v
		cfg.Weaviate.Enabled = true
	}
	if v, ok := lookup(EnvOpenAIKey); ok && v != "" {
		cfg.Embedder.APIKey = v
	}
	if v, ok := lookup(EnvOTLP); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		if cfg.Telemetry.TraceExporter == telemetry.ExporterNone {
			cfg.Telemetry.TraceExporter = telemetry.ExporterOTLP
		}
	}
	if v, ok := lookup(EnvServiceName); ok && v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvLogLevel, err)
		}
		cfg.Logging.Level = level
	}
	return nil
}

// Validate checks every section. The first failure is returned.
func (c ServiceConfig) Validate() error {
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	sections := []struct {
		name string
		v    any
	}{
		{"service", struct {
			DataDir string `validate:"required"`
		}{c.DataDir}},
		{"weaviate", c.Weaviate},
		{"embedder", c.Embedder},
		{"telemetry", c.Telemetry},
		{"server", c.Server},
	}
	for _, s := range sections {
		if err := validate.Struct(s.v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
	}
	if c.Storage.GCDiscardRatio < 0 || c.Storage.GCDiscardRatio > 1 {
		return fmt.Errorf("%w: storage: gc_discard_ratio %s out of [0,1]",
			ErrInvalidConfig, strconv.FormatFloat(c.Storage.GCDiscardRatio, 'g', -1, 64))
	}
	switch c.Logging.Format {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: logging: unknown format %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: ingest: chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("%w: breaker: failure_ratio out of [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Write marshals cfg as YAML to path, creating parent directories. The
// API key is never written.
func Write(path string, cfg ServiceConfig) error {
	cfg.Embedder.APIKey = ""
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
