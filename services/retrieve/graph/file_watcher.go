// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeOp is the kind of filesystem change observed for a file.
type ChangeOp int

const (
	// ChangeModified covers creates and writes. The file needs re-indexing.
	ChangeModified ChangeOp = iota

	// ChangeRemoved covers removes and renames away. The file's graph
	// nodes and chunks must be deleted. The path may be a directory.
	ChangeRemoved
)

// String returns the string representation of the ChangeOp.
func (op ChangeOp) String() string {
	if op == ChangeRemoved {
		return "removed"
	}
	return "modified"
}

// FileChange is one debounced change, with a path relative to the
// watched root using forward slashes (the same form as GraphNode.FilePath).
type FileChange struct {
	Path string
	Op   ChangeOp
	Time time.Time
}

// ChangeHandler receives a debounced batch. Each path appears at most once,
// carrying its latest operation.
type ChangeHandler func(ctx context.Context, changes []FileChange)

// WatcherConfig configures a FileWatcher.
type WatcherConfig struct {
	// Debounce is the quiet period before a batch is delivered.
	Debounce time.Duration `yaml:"debounce"`

	// Ignore lists base-name globs for files and directories to skip.
	Ignore []string `yaml:"ignore"`

	// BufferSize bounds the pending change queue. Overflowing events are
	// dropped and counted.
	BufferSize int `yaml:"buffer_size"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultWatcherConfig returns the default watcher settings.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce:   250 * time.Millisecond,
		Ignore:     []string{".git", "node_modules", ".idea", ".venv", "__pycache__", "*.swp", "*.tmp", "*~"},
		BufferSize: 1024,
	}
}

// FileWatcher watches a repository tree and delivers debounced batches of
// file changes.
//
// Thread Safety: Run must be called once. The handler is invoked from a
// single goroutine, never concurrently with itself.
type FileWatcher struct {
	root    string
	cfg     WatcherConfig
	handler ChangeHandler
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	events  chan FileChange

	mu      sync.Mutex
	dropped int
}

// NewFileWatcher creates a watcher rooted at root.
func NewFileWatcher(root string, handler ChangeHandler, cfg WatcherConfig) (*FileWatcher, error) {
	if handler == nil {
		return nil, errors.New("graph: nil change handler")
	}
	def := DefaultWatcherConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Ignore == nil {
		cfg.Ignore = def.Ignore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		root:    abs,
		cfg:     cfg,
		handler: handler,
		watcher: w,
		logger:  logger.With(slog.String("component", "file_watcher"), slog.String("root", abs)),
		events:  make(chan FileChange, cfg.BufferSize),
	}, nil
}

// Root is the absolute watched directory.
func (w *FileWatcher) Root() string {
	return w.root
}

// Run watches until ctx is cancelled, then flushes any pending batch and
// closes the underlying watcher.
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watchTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", slog.Duration("debounce", w.cfg.Debounce))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.batchLoop(ctx)
	}()

	w.readLoop(ctx)
	<-done
	return nil
}

// Dropped returns the number of events discarded because the queue was full.
func (w *FileWatcher) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *FileWatcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// relative converts an absolute event path into the graph's file path form.
func (w *FileWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return normalizePath(filepath.ToSlash(rel)), true
}

func (w *FileWatcher) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *FileWatcher) handleEvent(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}

	op := ChangeModified
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		op = ChangeRemoved
	} else if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("dir", ev.Name), slog.String("error", err.Error()))
			}
			return
		}
	} else if !ev.Has(fsnotify.Write) {
		return
	}

	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}
	select {
	case w.events <- FileChange{Path: rel, Op: op, Time: time.Now()}:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

func (w *FileWatcher) batchLoop(ctx context.Context) {
	pending := make(map[string]FileChange)
	var order []string
	timer := time.NewTimer(w.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func(ctx context.Context) {
		if len(order) == 0 {
			return
		}
		batch := make([]FileChange, 0, len(order))
		for _, p := range order {
			batch = append(batch, pending[p])
		}
		pending = make(map[string]FileChange)
		order = order[:0]
		w.handler(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return
		case ch := <-w.events:
			if _, ok := pending[ch.Path]; !ok {
				order = append(order, ch.Path)
			}
			pending[ch.Path] = ch
			timer.Reset(w.cfg.Debounce)
		case <-timer.C:
			flush(ctx)
		}
	}
}

// SyncHooks are the side effects a RemovalSync performs besides updating
// the graph.
type SyncHooks struct {
	// DeleteChunks removes the chunks of a removed path from the chunk
	// index. The path may name a directory that was renamed away.
	DeleteChunks func(ctx context.Context, filePath string) error

	// Reindex is called for modified files. Parsing is done elsewhere; nil
	// means modified files are only logged.
	Reindex func(ctx context.Context, filePath string) error
}

// RemovalSync returns a ChangeHandler that keeps the graph in step with
// the filesystem: removed files lose their nodes and incident edges, the
// chunk hook runs, and the snapshot is saved once per batch. A removed
// directory removes every file below it.
func RemovalSync(store *Store, hooks SyncHooks, logger *slog.Logger) ChangeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, changes []FileChange) {
		changed := false
		for _, ch := range changes {
			switch ch.Op {
			case ChangeRemoved:
				nodes, edges := store.DeleteNodesUnder(ch.Path)
				if nodes > 0 {
					changed = true
				}
				if hooks.DeleteChunks != nil {
					if err := hooks.DeleteChunks(ctx, ch.Path); err != nil {
						logger.Warn("failed to delete chunks",
							slog.String("file_path", ch.Path), slog.String("error", err.Error()))
					}
				}
				logger.Info("file removed",
					slog.String("file_path", ch.Path),
					slog.Int("nodes", nodes),
					slog.Int("edges", edges))
			case ChangeModified:
				if hooks.Reindex == nil {
					logger.Debug("file modified", slog.String("file_path", ch.Path))
					continue
				}
				if err := hooks.Reindex(ctx, ch.Path); err != nil {
					logger.Warn("reindex failed",
						slog.String("file_path", ch.Path), slog.String("error", err.Error()))
					continue
				}
				changed = true
			}
		}
		if !changed || store.SnapshotPath() == "" {
			return
		}
		if err := store.Save(ctx); err != nil {
			logger.Error("failed to save graph snapshot", slog.String("error", err.Error()))
		}
	}
}
