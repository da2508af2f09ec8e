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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemovalSync_DeletesAndSaves(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.bin")
	s := scenarioStore(t)
	s.path = path

	var deleted, reindexed []string
	handler := RemovalSync(s, SyncHooks{
		DeleteChunks: func(_ context.Context, p string) error {
			deleted = append(deleted, p)
			return nil
		},
		Reindex: func(_ context.Context, p string) error {
			reindexed = append(reindexed, p)
			return nil
		},
	}, nil)

	handler(ctx, []FileChange{
		{Path: "a.rs", Op: ChangeRemoved},
		{Path: "c.rs", Op: ChangeModified},
	})

	assert.Equal(t, []string{"a.rs"}, deleted)
	assert.Equal(t, []string{"c.rs"}, reindexed)
	assert.Equal(t, 1, s.NodeCount())

	loaded, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.NodeCount())
	assert.Zero(t, loaded.EdgeCount())
}

func TestRemovalSync_NoChangeNoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.bin")
	s := scenarioStore(t)
	s.path = path

	RemovalSync(s, SyncHooks{}, nil)(context.Background(), []FileChange{
		{Path: "unknown.rs", Op: ChangeRemoved},
		{Path: "a.rs", Op: ChangeModified},
	})

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 3, s.NodeCount())
}

func TestFileWatcher_DeliversDebouncedRemovals(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	target := filepath.Join(root, "pkg", "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package pkg\n"), 0o644))

	var mu sync.Mutex
	var got []FileChange
	w, err := NewFileWatcher(root, func(_ context.Context, changes []FileChange) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, changes...)
	}, WatcherConfig{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Remove(target))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range got {
			if c.Path == "pkg/a.go" && c.Op == ChangeRemoved {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewFileWatcher_NilHandler(t *testing.T) {
	_, err := NewFileWatcher(t.TempDir(), nil, DefaultWatcherConfig())
	assert.Error(t, err)
}

func TestRemovalSync_RemovedDirectory(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(funcNode("pkg/a.go", "A", 1, 3)))
	require.NoError(t, s.AddNode(funcNode("pkg/sub/b.go", "B", 1, 3)))
	require.NoError(t, s.AddNode(funcNode("other.go", "O", 1, 3)))
	require.NoError(t, s.AddEdge("other.go#O", "pkg/sub/b.go#B", EdgeKindCalls))

	var deleted []string
	RemovalSync(s, SyncHooks{
		DeleteChunks: func(_ context.Context, p string) error {
			deleted = append(deleted, p)
			return nil
		},
	}, nil)(context.Background(), []FileChange{{Path: "pkg", Op: ChangeRemoved}})

	assert.Equal(t, []string{"pkg"}, deleted)
	assert.Equal(t, []string{"other.go#O"}, nodeIDs(s.Nodes()))
	assert.Zero(t, s.EdgeCount())
}

func TestFileWatcher_DirectoryRenamedAway(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "b.go"), []byte("package sub\n"), 0o644))

	s := NewStore()
	require.NoError(t, s.AddNode(funcNode("pkg/a.go", "A", 1, 1)))
	require.NoError(t, s.AddNode(funcNode("pkg/sub/b.go", "B", 1, 1)))
	require.NoError(t, s.AddNode(funcNode("main.go", "main", 1, 1)))

	w, err := NewFileWatcher(root, RemovalSync(s, SyncHooks{}, nil), WatcherConfig{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Rename(filepath.Join(root, "pkg"), filepath.Join(t.TempDir(), "moved")))

	require.Eventually(t, func() bool {
		return !s.HasNode("pkg/a.go#A") && !s.HasNode("pkg/sub/b.go#B")
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.HasNode("main.go#main"))

	cancel()
	require.NoError(t, <-done)
}
