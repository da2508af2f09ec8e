// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/config"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/search"
)

const graphDoc = `{
  "nodes": [
    {"id": "auth/login.go", "kind": "file", "label": "login.go", "file_path": "auth/login.go"},
    {"id": "auth/login.go#Login", "kind": "symbol", "label": "Login", "file_path": "auth/login.go",
     "start_line": 3, "end_line": 5, "symbol_type": "function"},
    {"id": "auth/validate.go#Validate", "kind": "symbol", "label": "Validate", "file_path": "auth/validate.go",
     "start_line": 3, "end_line": 5, "symbol_type": "function"}
  ],
  "edges": [
    {"source": "auth/login.go", "target": "auth/login.go#Login", "kind": "defines"},
    {"source": "auth/login.go#Login", "target": "auth/validate.go#Validate", "kind": "calls"}
  ]
}`

type cliEnv struct {
	configPath string
	repo       string
	dir        string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	for _, k := range []string{config.EnvDataDir, config.EnvWeaviateURL, config.EnvOpenAIKey,
		config.EnvOTLP, config.EnvServiceName, config.EnvLogLevel} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "auth"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "auth", "login.go"),
		[]byte("package auth\n\nfunc Login(user string) error {\n\treturn Validate(user)\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "auth", "validate.go"),
		[]byte("package auth\n\nfunc Validate(user string) error {\n\treturn nil\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.json"), []byte(graphDoc), 0o644))

	configPath := filepath.Join(dir, "retrieve.yaml")
	body := fmt.Sprintf(`data_dir: %s
logging:
  quiet: true
telemetry:
  metric_exporter: none
storage:
  gc_interval: 0s
ingest:
  root: %s
`, filepath.Join(dir, "data"), repo)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return cliEnv{configPath: configPath, repo: repo, dir: dir}
}

func (e cliEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCLI_IndexImportSearch(t *testing.T) {
	env := newCLIEnv(t)

	var indexed struct {
		Stats struct {
			Files  int `json:"files"`
			Chunks int `json:"chunks"`
		} `json:"stats"`
		ChunksTotal int `json:"chunks_total"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "index")), &indexed))
	assert.Equal(t, 2, indexed.Stats.Files)
	assert.Equal(t, 2, indexed.ChunksTotal)

	var imported graph.ImportResult
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "graph", "import", filepath.Join(env.dir, "graph.json"))), &imported))
	assert.Equal(t, 3, imported.NodesAdded)
	assert.Equal(t, 2, imported.EdgesAdded)

	var stats graph.Stats
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "graph", "stats")), &stats))
	assert.Equal(t, 3, stats.NodeCount, "snapshot persisted between invocations")

	var res search.Result
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "search", "login", "--json")), &res))
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "auth/login.go", res.Chunks[0].Chunk.FilePath)

	text := env.run(t, "search", "login", "--mode", "graph")
	assert.Contains(t, text, "auth/login.go")
	assert.Contains(t, text, "Seeds:")

	path := env.run(t, "graph", "path", "auth/login.go", "auth/validate.go#Validate")
	assert.Equal(t, "auth/login.go -> auth/login.go#Login -> auth/validate.go#Validate", strings.TrimSpace(path))

	var sub graph.Subgraph
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "graph", "neighbors", "auth/login.go#Login", "--kinds", "calls")), &sub))
	assert.Equal(t, 1, sub.Depth["auth/validate.go#Validate"])
}

func TestCLI_DeleteFile(t *testing.T) {
	env := newCLIEnv(t)
	env.run(t, "index")
	env.run(t, "graph", "import", filepath.Join(env.dir, "graph.json"))

	var deleted struct {
		Nodes int `json:"nodes_removed"`
		Edges int `json:"edges_removed"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "graph", "delete-file", "auth/validate.go")), &deleted))
	assert.Equal(t, 1, deleted.Nodes)
	assert.Equal(t, 1, deleted.Edges)

	var stats graph.Stats
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "graph", "stats")), &stats))
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)

	var res search.Result
	require.NoError(t, json.Unmarshal([]byte(env.run(t, "search", "validate", "--mode", "lexical", "--json")), &res))
	for _, c := range res.Chunks {
		assert.NotEqual(t, "auth/validate.go", c.Chunk.FilePath)
	}
}

func TestCLI_ExportRoundTrip(t *testing.T) {
	env := newCLIEnv(t)
	env.run(t, "graph", "import", filepath.Join(env.dir, "graph.json"))

	exported := filepath.Join(env.dir, "export.json")
	env.run(t, "graph", "export", exported)

	var doc graph.Document
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Nodes, 3)
	assert.Len(t, doc.Edges, 2)
}

func TestCLI_ConfigInit(t *testing.T) {
	env := newCLIEnv(t)
	target := filepath.Join(env.dir, "generated", "retrieve.yaml")
	assert.Contains(t, env.run(t, "config", "init", target), "Wrote")

	cfg, err := config.Load(target)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServiceConfig().Server.Addr, cfg.Server.Addr)
}

func TestCLI_InvalidMode(t *testing.T) {
	env := newCLIEnv(t)
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", env.configPath, "search", "x", "--mode", "fuzzy"})
	assert.ErrorIs(t, cmd.Execute(), search.ErrInvalidRequest)
}
