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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/embed"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var summariesPath string
	cmd := &cobra.Command{
		Use:   "index [ROOT]",
		Short: "Chunk, embed and store every source file under ROOT",
		Long: `Walk ROOT (default ingest.root), split each text file into chunks, embed
them when an embedder is configured, and write them to the chunk store and
to Weaviate when enabled. Re-indexing a file supersedes its old chunks.

--summaries loads a JSON array of summaries ({"id", "file_path",
"chunk_id", "text"}) into the summary index after the walk.

Examples:
  retrieve index ./repo
  retrieve index ./repo --summaries summaries.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			ix, err := a.indexer(root)
			if err != nil {
				return err
			}
			stats, err := ix.IndexTree(cmd.Context())
			if err != nil {
				return err
			}

			result := map[string]any{"stats": stats, "chunks_total": a.index.Len()}
			if summariesPath != "" {
				n, err := loadSummaries(cmd.Context(), a, summariesPath)
				if err != nil {
					return err
				}
				result["summaries"] = n
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&summariesPath, "summaries", "", "JSON file of summaries to load")
	return cmd
}

// loadSummaries reads, embeds and stores the summaries in path.
func loadSummaries(ctx context.Context, a *app, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var summaries []chunk.Summary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return 0, fmt.Errorf("parse summaries: %w", err)
	}
	if err := embedSummaries(ctx, a, summaries); err != nil {
		return 0, err
	}
	if err := a.index.PutSummaries(ctx, summaries); err != nil {
		return 0, err
	}
	if a.remote != nil {
		if err := a.remote.PutSummaries(ctx, summaries); err != nil {
			return 0, err
		}
	}
	return len(summaries), nil
}

func embedSummaries(ctx context.Context, a *app, summaries []chunk.Summary) error {
	var (
		texts []string
		idx   []int
	)
	for i, s := range summaries {
		if len(s.Embedding) == 0 {
			texts = append(texts, s.Text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if a.embedder == nil {
		return errors.New("summaries without embeddings need an embedder")
	}

	var vectors [][]float32
	if b, ok := a.embedder.(embed.BatchEmbedder); ok {
		var err error
		if vectors, err = b.EmbedBatch(ctx, texts); err != nil {
			return fmt.Errorf("embed summaries: %w", err)
		}
	} else {
		for _, t := range texts {
			v, err := a.embedder.Embed(ctx, t)
			if err != nil {
				return fmt.Errorf("embed summaries: %w", err)
			}
			vectors = append(vectors, v)
		}
	}
	for j, i := range idx {
		summaries[i].Embedding = vectors[j]
	}
	return nil
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [ROOT]",
		Short: "Keep the index and graph in step with file changes",
		Long: `Watch ROOT (default ingest.root). Modified files are re-chunked; removed
files lose their chunks, graph nodes and incident edges, and the graph
snapshot is saved after each batch. Runs until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			w, err := a.watcher(root)
			if err != nil {
				return err
			}
			a.logger.Info("Watching for changes", "root", w.Root())
			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// watcher builds a FileWatcher whose batches re-index modified files and
// purge removed ones.
func (a *app) watcher(root string) (*graph.FileWatcher, error) {
	ix, err := a.indexer(root)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg.Watcher
	cfg.Logger = a.logger.Slog()
	hooks := graph.SyncHooks{
		DeleteChunks: ix.RemoveFile,
		Reindex:      ix.IndexFile,
	}
	return graph.NewFileWatcher(ix.Root(), graph.RemovalSync(a.graph, hooks, cfg.Logger), cfg)
}
