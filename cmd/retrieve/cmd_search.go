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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/search"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		mode string
		topK int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Rank indexed chunks for a query",
		Long: `Rank indexed chunks by lexical, vector, symbol, summary and graph relevance.

Modes:
  hybrid  - every signal (default)
  lexical - BM25 only
  vector  - embedding similarity only
  graph   - hybrid plus seeds and scored relationship paths

Examples:
  retrieve search "validate token"
  retrieve search ValidateToken --mode graph --top-k 5
  retrieve search "parse config" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := search.ParseMode(mode)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Search(cmd.Context(), search.Request{
				Query: strings.Join(args, " "),
				Mode:  m,
				TopK:  topK,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, res)
			}
			printDegraded(out, res.Degraded)
			if err := printChunks(out, res.Chunks); err != nil {
				return err
			}
			if m == search.ModeGraph {
				fmt.Fprintf(out, "\nSeeds: %s\n", strings.Join(res.Seeds, ", "))
				return printPaths(out, res.Paths)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Search mode: hybrid, lexical, vector, graph")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (0 = configured default)")
	return cmd
}

func newExplainCmd(opts *rootOptions) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "explain QUERY...",
		Short: "Show ranked chunks, seeds and scored relationship paths",
		Long: `Run a graph search and show how the results connect: the ranked chunks,
the graph nodes chosen as seeds, and the scored paths leaving them.

Examples:
  retrieve explain "login flow"
  retrieve explain HandleRequest --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ex, err := a.engine.Explain(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, ex)
			}
			printDegraded(out, ex.Degraded)
			fmt.Fprintln(out, "Chunks:")
			if err := printChunks(out, ex.Chunks); err != nil {
				return err
			}
			fmt.Fprintln(out, "\nSeeds:")
			for _, s := range ex.Seeds {
				fmt.Fprintf(out, "  %s\n", s)
			}
			fmt.Fprintln(out, "\nPaths:")
			return printPaths(out, ex.Paths)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks (0 = configured default)")
	return cmd
}
