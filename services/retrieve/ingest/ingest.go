// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns source files into chunks and hands them to chunk
// sinks (the local index, the Weaviate mirror). It is the indexing side
// of the chunk lifecycle: create on first index, supersede on re-index,
// delete when the file goes away.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/chunk"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/embed"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/signals"
)

var tracer = otel.Tracer("aleutian.retrieve.ingest")

// Sink receives the chunks of one file.
type Sink interface {
	ReplaceFile(ctx context.Context, filePath string, chunks []chunk.Chunk) error
	DeleteFile(ctx context.Context, filePath string) error
}

// FileLister is implemented by sinks that can enumerate their files. It
// lets RemoveFile expand a removed directory into the files it held.
type FileLister interface {
	FilesUnder(dir string) []string
}

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	pythonSeparators   = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
	cStyleSeparators = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	rustSeparators = []string{"\nfn ", "\npub fn ", "\nimpl ", "\nstruct ", "\nenum ", "\ntrait ", "\nmod ", "\n\n", "\n", " ", ""}
)

var languages = map[string]string{
	".go": "go", ".rs": "rust", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".tsx": "typescript", ".jsx": "javascript", ".java": "java", ".c": "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".cs": "csharp", ".rb": "ruby",
	".kt": "kotlin", ".swift": "swift", ".md": "markdown",
}

// Language returns the language of a file by extension, or "" if unknown.
func Language(filePath string) string {
	return languages[strings.ToLower(path.Ext(filePath))]
}

func separatorsFor(language string) []string {
	switch language {
	case "markdown":
		return markdownSeparators
	case "python":
		return pythonSeparators
	case "rust":
		return rustSeparators
	case "go", "javascript", "typescript", "java", "c", "cpp", "csharp", "kotlin", "swift":
		return cStyleSeparators
	default:
		return defaultSeparators
	}
}

// Config configures an Indexer.
type Config struct {
	// Root is the repository directory. Chunk file paths are relative to it.
	Root string `yaml:"root"`

	// ChunkSize and ChunkOverlap are in characters. Defaults: 1000 and 100.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MaxFileBytes skips larger files. Default: 1 MiB
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// Ignore lists base-name globs for files and directories to skip.
	Ignore []string `yaml:"ignore"`
}

// DefaultConfig returns the default indexing settings for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:         root,
		ChunkSize:    1000,
		ChunkOverlap: 100,
		MaxFileBytes: 1 << 20,
		Ignore:       []string{".git", "node_modules", "vendor", ".idea", ".venv", "__pycache__", "target", "dist"},
	}
}

// Stats summarizes an IndexTree run.
type Stats struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithEmbedder embeds every chunk before it reaches the sinks. An
// embedder that also implements embed.BatchEmbedder is called once per file.
func WithEmbedder(e signals.Embedder) Option { return func(ix *Indexer) { ix.embedder = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// Indexer chunks files and writes them to its sinks.
//
// Thread Safety: Safe for concurrent use when the sinks are.
type Indexer struct {
	cfg      Config
	sinks    []Sink
	embedder signals.Embedder
	logger   *slog.Logger
}

// NewIndexer creates an Indexer writing to sinks.
func NewIndexer(cfg Config, sinks []Sink, opts ...Option) (*Indexer, error) {
	if cfg.Root == "" {
		return nil, errors.New("ingest: root must not be empty")
	}
	if len(sinks) == 0 {
		return nil, errors.New("ingest: at least one sink is required")
	}
	def := DefaultConfig(cfg.Root)
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("ingest: chunk_overlap %d must be in [0, chunk_size)", cfg.ChunkOverlap)
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}
	if cfg.Ignore == nil {
		cfg.Ignore = def.Ignore
	}
	ix := &Indexer{cfg: cfg, sinks: sinks, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(slog.String("component", "ingest"))
	return ix, nil
}

// Root is the repository directory chunk paths are relative to.
func (ix *Indexer) Root() string {
	return ix.cfg.Root
}

// ChunkFile splits content into chunks with line ranges. Blank pieces are
// dropped. Chunk ids are derived from path, lines and content, so
// re-chunking unchanged content yields the same ids.
func (ix *Indexer) ChunkFile(filePath, content string) ([]chunk.Chunk, error) {
	language := Language(filePath)
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ix.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(ix.cfg.ChunkOverlap),
		textsplitter.WithSeparators(separatorsFor(language)),
	)
	pieces, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filePath, err)
	}

	chunks := make([]chunk.Chunk, 0, len(pieces))
	cursor := 0
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		offset := locate(content, piece, cursor)
		start := 1 + strings.Count(content[:offset], "\n")
		end := start + strings.Count(strings.TrimRight(piece, "\n"), "\n")
		chunks = append(chunks, chunk.New(filePath, language, start, end, piece))
		cursor = offset + 1
	}
	return chunks, nil
}

// locate finds piece in content at or after from, falling back to the
// first occurrence and finally to from itself.
func locate(content, piece string, from int) int {
	if from > len(content) {
		from = len(content)
	}
	if i := strings.Index(content[from:], piece); i >= 0 {
		return from + i
	}
	if i := strings.Index(content, piece); i >= 0 {
		return i
	}
	return from
}

// IndexFile chunks rel (relative to Root, slash-separated) and replaces
// its chunks in every sink. A file that no longer exists is removed.
func (ix *Indexer) IndexFile(ctx context.Context, rel string) error {
	_, err := ix.indexFile(ctx, rel)
	return err
}

func (ix *Indexer) indexFile(ctx context.Context, rel string) (int, error) {
	rel = chunk.CleanPath(rel)
	ctx, span := tracer.Start(ctx, "ingest.IndexFile")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.file", rel))

	abs := filepath.Join(ix.cfg.Root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ix.RemoveFile(ctx, rel)
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() || info.Size() > ix.cfg.MaxFileBytes {
		return 0, nil
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rel, err)
	}
	if isBinary(raw) {
		return 0, nil
	}

	chunks, err := ix.ChunkFile(rel, string(raw))
	if err != nil {
		return 0, err
	}
	ix.embedChunks(ctx, rel, chunks)

	for _, s := range ix.sinks {
		if err := s.ReplaceFile(ctx, rel, chunks); err != nil {
			return 0, fmt.Errorf("write chunks of %s: %w", rel, err)
		}
	}
	span.SetAttributes(attribute.Int("ingest.chunks", len(chunks)))
	return len(chunks), nil
}

// embedChunks fills in embeddings. Failures leave the chunks without
// embeddings; lexical search still covers them.
func (ix *Indexer) embedChunks(ctx context.Context, rel string, chunks []chunk.Chunk) {
	if ix.embedder == nil || len(chunks) == 0 {
		return
	}
	if be, ok := ix.embedder.(embed.BatchEmbedder); ok {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := be.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(chunks) {
			for i := range chunks {
				chunks[i].Embedding = vecs[i]
			}
			return
		}
		if err != nil {
			ix.logger.Warn("batch embedding failed, indexing without embeddings",
				slog.String("file_path", rel), slog.String("error", err.Error()))
		}
		return
	}
	for i := range chunks {
		vec, err := ix.embedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			ix.logger.Warn("embedding failed, indexing without embeddings",
				slog.String("file_path", rel), slog.String("error", err.Error()))
			return
		}
		chunks[i].Embedding = vec
	}
}

// RemoveFile deletes rel's chunks from every sink, continuing past
// failures and returning them joined. When rel is a directory known to a
// FileLister sink, every file below it is deleted.
func (ix *Indexer) RemoveFile(ctx context.Context, rel string) error {
	rel = chunk.CleanPath(rel)
	targets := []string{rel}
	seen := map[string]struct{}{rel: {}}
	for _, s := range ix.sinks {
		lister, ok := s.(FileLister)
		if !ok {
			continue
		}
		for _, f := range lister.FilesUnder(rel) {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				targets = append(targets, f)
			}
		}
	}

	var errs []error
	for _, target := range targets {
		for _, s := range ix.sinks {
			if err := s.DeleteFile(ctx, target); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(targets) > 1 {
		ix.logger.Debug("removed directory chunks",
			slog.String("dir", rel), slog.Int("files", len(targets)-1))
	}
	return errors.Join(errs...)
}

func (ix *Indexer) ignored(name string) bool {
	for _, pattern := range ix.cfg.Ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// IndexTree indexes every file under Root with a known language.
// Per-file failures are logged and counted; only context cancellation
// and walk errors abort the run.
func (ix *Indexer) IndexTree(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "ingest.IndexTree")
	defer span.End()

	var stats Stats
	err := filepath.WalkDir(ix.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != ix.cfg.Root && ix.ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ix.cfg.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if Language(rel) == "" {
			stats.Skipped++
			return nil
		}
		n, err := ix.indexFile(ctx, rel)
		if err != nil {
			stats.Failed++
			ix.logger.Warn("failed to index file", slog.String("file_path", rel), slog.String("error", err.Error()))
			return nil
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", ix.cfg.Root, err)
	}

	ix.logger.Info("index build complete",
		slog.Int("files", stats.Files),
		slog.Int("chunks", stats.Chunks),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	span.SetAttributes(attribute.Int("ingest.files", stats.Files))
	return stats, nil
}

func isBinary(b []byte) bool {
	n := min(len(b), 8000)
	for _, c := range b[:n] {
		if c == 0 {
			return true
		}
	}
	return false
}
