// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunk defines the retrievable units of source code and the
// scored hits that signal providers return for them.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
)

// ErrInvalidChunk is returned when a chunk fails validation.
var ErrInvalidChunk = errors.New("invalid chunk")

// Chunk is a retrievable unit of source code (a function, class or other
// span) with its metadata.
//
// Lifecycle: created when a file is indexed, superseded when the file is
// re-indexed (old ids removed, new ids added), deleted with its file.
type Chunk struct {
	// ID is derived from the content; see NewID.
	ID string `json:"id"`

	Language string `json:"language,omitempty"`

	// FilePath is repository-relative with forward slashes.
	FilePath string `json:"file_path"`

	// StartLine and EndLine are 1-based, inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// ContentHash is the hex SHA-256 of Content.
	ContentHash string `json:"content_hash"`

	Content string `json:"content,omitempty"`

	// Embedding is optional; nil when the chunk has not been embedded.
	Embedding []float32 `json:"embedding,omitempty"`

	// ScopePath lists enclosing symbol names, outermost first.
	ScopePath []string `json:"scope_path,omitempty"`
}

// HashContent returns the hex SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewID derives a chunk id from its location and content hash. Re-indexing
// an unchanged span yields the same id.
func NewID(filePath string, startLine, endLine int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", filePath, startLine, endLine, contentHash)))
	return hex.EncodeToString(sum[:16])
}

// CleanPath puts a repository-relative path in the form chunk and graph
// file paths are keyed by: forward slashes, no "." or ".." elements.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// New builds a chunk, filling ContentHash and ID from the content. The file
// path is cleaned with CleanPath.
func New(filePath, language string, startLine, endLine int, content string, scope ...string) Chunk {
	filePath = CleanPath(filePath)
	hash := HashContent(content)
	return Chunk{
		ID:          NewID(filePath, startLine, endLine, hash),
		Language:    language,
		FilePath:    filePath,
		StartLine:   startLine,
		EndLine:     endLine,
		ContentHash: hash,
		Content:     content,
		ScopePath:   scope,
	}
}

// Validate checks the chunk's structural invariants.
func (c Chunk) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidChunk)
	case c.FilePath == "":
		return fmt.Errorf("%w: %s has empty file path", ErrInvalidChunk, c.ID)
	case c.StartLine < 0 || c.EndLine < c.StartLine:
		return fmt.Errorf("%w: %s has bad line range %d-%d", ErrInvalidChunk, c.ID, c.StartLine, c.EndLine)
	}
	return nil
}

// Overlap returns the number of lines shared by the chunk and [start, end].
func (c Chunk) Overlap(start, end int) int {
	lo := max(c.StartLine, start)
	hi := min(c.EndLine, end)
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

// Scope returns the scope path joined with ".".
func (c Chunk) Scope() string {
	return strings.Join(c.ScopePath, ".")
}

// Hit is a chunk with a raw score from one signal provider. Scores are on
// the provider's own scale; the ranker normalizes them.
type Hit struct {
	Score float32 `json:"score"`
	Chunk Chunk   `json:"chunk"`
}

// Summary is a natural-language description of a chunk or a whole file,
// indexed separately so queries can match intent rather than tokens.
type Summary struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`

	// ChunkID is set for chunk-level summaries and empty for file-level ones.
	ChunkID string `json:"chunk_id,omitempty"`

	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Covers reports whether the summary applies to c: a chunk summary covers
// exactly its chunk, a file summary covers every chunk in the file.
func (s Summary) Covers(c Chunk) bool {
	if s.ChunkID != "" {
		return s.ChunkID == c.ID
	}
	return s.FilePath != "" && s.FilePath == c.FilePath
}

// SummaryHit is a summary with its similarity to the query.
type SummaryHit struct {
	Score   float32 `json:"score"`
	Summary Summary `json:"summary"`
}

// CosineSimilarity returns the cosine of the angle between two embeddings.
// Mismatched lengths, empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
