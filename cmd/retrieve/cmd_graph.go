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
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/paths"
)

func newGraphCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query and maintain the code graph",
		Long: `Commands for inspecting the code graph and keeping it in step with the
repository.

Node ids are the repository-relative file path for files and
"path#Name" for symbols, e.g. "auth/token.go#ValidateToken".

Examples:
  retrieve graph import graph.json
  retrieve graph neighbors "auth/token.go#ValidateToken" --depth 2
  retrieve graph path "main.go#main" "db/conn.go#Close"
  retrieve graph paths "api/handler.go#Serve" --max-length 3`,
	}
	cmd.AddCommand(
		newGraphNodeCmd(opts),
		newGraphNeighborsCmd(opts),
		newGraphPathCmd(opts),
		newGraphPathsCmd(opts),
		newGraphStatsCmd(opts),
		newGraphImportCmd(opts),
		newGraphExportCmd(opts),
		newGraphDeleteFileCmd(opts),
	)
	return cmd
}

func newGraphNodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "node ID",
		Short: "Show a node and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			node, ok := a.graph.GetNode(args[0])
			if !ok {
				return fmt.Errorf("node %q not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"node":     node,
				"outgoing": a.graph.OutgoingEdges(node.ID),
				"incoming": a.graph.IncomingEdges(node.ID),
			})
		},
	}
}

func newGraphNeighborsCmd(opts *rootOptions) *cobra.Command {
	var (
		depth     int
		kinds     string
		direction string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "neighbors ID",
		Short: "Expand a node's neighborhood",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edgeKinds, err := parseEdgeKinds(kinds)
			if err != nil {
				return err
			}
			dir, err := graph.ParseDirection(direction)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.engine.Neighbors(cmd.Context(), args[0], edgeKinds, depth,
				graph.WithDirection(dir), graph.WithNodeLimit(limit))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", -1, "Maximum hops (-1 = rank.graph_max_depth)")
	cmd.Flags().StringVar(&kinds, "kinds", "", "Comma separated edge kinds (default all)")
	cmd.Flags().StringVar(&direction, "direction", "both", "outgoing, incoming or both")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum nodes (0 = unbounded)")
	return cmd
}

func newGraphPathCmd(opts *rootOptions) *cobra.Command {
	var (
		maxHops   int
		direction string
	)
	cmd := &cobra.Command{
		Use:   "path FROM TO",
		Short: "Find the shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := graph.ParseDirection(direction)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			path, found, err := a.engine.ShortestPath(cmd.Context(), args[0], args[1], maxHops, graph.WithDirection(dir))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{"found": found, "path": path})
			}
			if !found {
				_, err := fmt.Fprintln(out, "No path found.")
				return err
			}
			_, err = fmt.Fprintln(out, strings.Join(path, " -> "))
			return err
		},
	}
	cmd.Flags().IntVar(&maxHops, "max-hops", 0, "Maximum hops (0 = paths.max_length)")
	cmd.Flags().StringVar(&direction, "direction", "outgoing", "outgoing, incoming or both")
	return cmd
}

func newGraphPathsCmd(opts *rootOptions) *cobra.Command {
	var maxLength, maxPaths int
	cmd := &cobra.Command{
		Use:   "paths SEED...",
		Short: "Enumerate and score paths leaving the seeds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := opts.cfg.Search.Builder
			if maxLength > 0 {
				cfg.MaxLength = maxLength
			}
			if maxPaths > 0 {
				cfg.MaxPaths = maxPaths
			}
			found, err := a.engine.FindPathsFrom(cmd.Context(), args, cfg)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				if found == nil {
					found = []paths.Path{}
				}
				return printJSON(cmd.OutOrStdout(), found)
			}
			return printPaths(cmd.OutOrStdout(), found)
		},
	}
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "Maximum edges per path (0 = configured)")
	cmd.Flags().IntVar(&maxPaths, "max-paths", 0, "Maximum paths per seed (0 = configured)")
	return cmd
}

func newGraphStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.graph.Stats())
		},
	}
}

func newGraphImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import nodes and edges from a JSON document (- for stdin)",
		Long: `Import a JSON document of the form {"nodes": [...], "edges": [...]}.

Every file that owns a node in the document is replaced; other files are
left alone. The snapshot is saved afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.graph.Import(cmd.Context(), r)
			if err != nil {
				return err
			}
			if err := a.graph.Save(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newGraphExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export the graph as a JSON document (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 || args[0] == "-" {
				return a.graph.Export(cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := a.graph.Export(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func newGraphDeleteFileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-file PATH",
		Short: "Remove a file's nodes, edges and chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			nodes, edges, err := a.deleteFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"file":          args[0],
				"nodes_removed": nodes,
				"edges_removed": edges,
			})
		},
	}
}

func parseEdgeKinds(raw string) ([]graph.EdgeKind, error) {
	if raw == "" {
		return nil, nil
	}
	var kinds []graph.EdgeKind
	for _, part := range strings.Split(raw, ",") {
		k, err := graph.ParseEdgeKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
