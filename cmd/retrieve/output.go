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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/paths"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/rank"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printChunks(w io.Writer, chunks []rank.ScoredChunk) error {
	if len(chunks) == 0 {
		_, err := fmt.Fprintln(w, "No results.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tLOCATION\tLEX\tVEC\tGRAPH\tSYMBOL\tSUMMARY")
	for i, c := range chunks {
		fmt.Fprintf(tw, "%d\t%.4f\t%s:%d-%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			i+1, c.Score, c.Chunk.FilePath, c.Chunk.StartLine, c.Chunk.EndLine,
			c.LexicalScore, c.VectorScore, c.GraphBoost, c.SymbolBoost, c.SummaryBoost)
	}
	return tw.Flush()
}

func printPaths(w io.Writer, found []paths.Path) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "No paths.")
		return err
	}
	for i, p := range found {
		if _, err := fmt.Fprintf(w, "%2d. %.4f  %s\n", i+1, p.Score, p.String()); err != nil {
			return err
		}
	}
	return nil
}

func printDegraded(w io.Writer, degraded []string) {
	if len(degraded) > 0 {
		fmt.Fprintf(w, "Degraded providers: %s\n", strings.Join(degraded, ", "))
	}
}
