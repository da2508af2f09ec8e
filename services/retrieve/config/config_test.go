// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/telemetry"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrieve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDataDir, EnvWeaviateURL, EnvOpenAIKey, EnvOTLP, EnvServiceName, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestDefaultServiceConfig_IsValid(t *testing.T) {
	cfg := DefaultServiceConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EmbedderNone, cfg.Embedder.Provider)
	assert.False(t, cfg.Weaviate.Enabled)
	assert.Equal(t, 3, cfg.Search.AnchorCount)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceConfig().Search.Rank.LexicalWeight, cfg.Search.Rank.LexicalWeight)
}

func TestLoad_OverlaysFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
data_dir: /var/lib/retrieve
rank:
  lexical_weight: 0.6
  graph_max_depth: 3
  edge_weights:
    imports: 0.9
paths:
  max_length: 4
seeds:
  limit: 2
candidate_limit: 25
provider_timeout: 2s
server:
  addr: ":9000"
logging:
  level: debug
  format: json
weaviate:
  enabled: true
  url: http://weaviate:8080
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/retrieve", cfg.DataDir)
	assert.Equal(t, float32(0.6), cfg.Search.Rank.LexicalWeight)
	assert.Equal(t, float32(0.45), cfg.Search.Rank.VectorWeight, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Search.Rank.GraphMaxDepth)
	assert.Equal(t, float32(0.9), cfg.Search.Rank.EdgeWeights[graph.EdgeKindImports])
	assert.Equal(t, 4, cfg.Search.Builder.MaxLength)
	assert.Equal(t, 2, cfg.Search.Seeds.Limit)
	assert.Equal(t, 25, cfg.Search.CandidateLimit)
	assert.Equal(t, 2*time.Second, cfg.Search.ProviderTimeout)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, logging.FormatJSON, cfg.Logging.Format)
	assert.True(t, cfg.Weaviate.Enabled)
	assert.Equal(t, "http://weaviate:8080", cfg.Weaviate.ClientConfig().URL)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "rank:\n  lexical_wieght: 0.3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lexical_wieght")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidRankIsConfigurationError(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "rank:\n  lexical_weight: -1\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, rank.ErrInvalidConfig)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, "/tmp/retrieve-data")
	t.Setenv(EnvWeaviateURL, "http://remote:8080")
	t.Setenv(EnvOpenAIKey, "sk-test")
	t.Setenv(EnvOTLP, "collector:4317")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/retrieve-data", cfg.DataDir)
	assert.True(t, cfg.Weaviate.Enabled)
	assert.Equal(t, "http://remote:8080", cfg.Weaviate.URL)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, telemetry.ExporterOTLP, cfg.Telemetry.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
}

func TestLoad_BadEnvLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "chatty")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"empty data dir", func(c *ServiceConfig) { c.DataDir = "" }},
		{"weaviate enabled without url", func(c *ServiceConfig) { c.Weaviate.Enabled = true; c.Weaviate.URL = "" }},
		{"unknown embedder", func(c *ServiceConfig) { c.Embedder.Provider = "cohere" }},
		{"http embedder without url", func(c *ServiceConfig) { c.Embedder.Provider = EmbedderHTTP }},
		{"unknown trace exporter", func(c *ServiceConfig) { c.Telemetry.TraceExporter = "zipkin" }},
		{"sample ratio above one", func(c *ServiceConfig) { c.Telemetry.SampleRatio = 2 }},
		{"empty server addr", func(c *ServiceConfig) { c.Server.Addr = "" }},
		{"bad log format", func(c *ServiceConfig) { c.Logging.Format = "xml" }},
		{"overlap not below size", func(c *ServiceConfig) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"gc ratio", func(c *ServiceConfig) { c.Storage.GCDiscardRatio = 1.5 }},
		{"breaker ratio", func(c *ServiceConfig) { c.Breaker.FailureRatio = -0.1 }},
		{"zero top k", func(c *ServiceConfig) { c.Search.DefaultTopK = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.DataDir = "/data"
	assert.Equal(t, "/data/graph.bin", cfg.SnapshotPath())
	assert.Equal(t, "/data/chunks", cfg.StorageConfig().Path)

	cfg.Storage.Path = "/elsewhere"
	assert.Equal(t, "/elsewhere", cfg.StorageConfig().Path)
}

func TestWrite_RoundTripsWithoutAPIKey(t *testing.T) {
	clearEnv(t)
	cfg := DefaultServiceConfig()
	cfg.DataDir = "/srv/retrieve"
	cfg.Embedder.APIKey = "sk-secret"
	cfg.Search.Rank.GraphDecay = 0.25

	path := filepath.Join(t.TempDir(), "nested", "retrieve.yaml")
	require.NoError(t, Write(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/retrieve", loaded.DataDir)
	assert.Equal(t, float32(0.25), loaded.Search.Rank.GraphDecay)
	assert.Equal(t, cfg.Search.Rank.EdgeWeights, loaded.Search.Rank.EdgeWeights)
}
