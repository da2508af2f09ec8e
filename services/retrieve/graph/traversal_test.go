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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainStore builds a -> b -> c -> d (calls) plus a -> d (imports).
func chainStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AddNode(funcNode(name+".go", name, 1, 2)))
	}
	require.NoError(t, s.AddEdge("a.go#a", "b.go#b", EdgeKindCalls))
	require.NoError(t, s.AddEdge("b.go#b", "c.go#c", EdgeKindCalls))
	require.NoError(t, s.AddEdge("c.go#c", "d.go#d", EdgeKindCalls))
	require.NoError(t, s.AddEdge("a.go#a", "d.go#d", EdgeKindImports))
	return s
}

func ids(nodes []GraphNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestNeighbors_HopsAndKinds(t *testing.T) {
	s := chainStore(t)
	ctx := context.Background()

	sub, err := s.Neighbors(ctx, "a.go#a", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go#a", "b.go#b", "d.go#d"}, ids(sub.Nodes))
	assert.Len(t, sub.Edges, 2)
	assert.Equal(t, 1, sub.Depth["d.go#d"])

	sub, err = s.Neighbors(ctx, "a.go#a", []EdgeKind{EdgeKindCalls}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go#a", "b.go#b", "c.go#c"}, ids(sub.Nodes))
	assert.Equal(t, 2, sub.Depth["c.go#c"])

	sub, err = s.Neighbors(ctx, "a.go#a", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go#a"}, ids(sub.Nodes))
	assert.Empty(t, sub.Edges)
}

func TestNeighbors_Direction(t *testing.T) {
	s := chainStore(t)
	ctx := context.Background()

	sub, err := s.Neighbors(ctx, "c.go#c", nil, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c.go#c", "d.go#d", "b.go#b"}, ids(sub.Nodes))

	sub, err = s.Neighbors(ctx, "c.go#c", nil, 1, WithDirection(DirectionIncoming))
	require.NoError(t, err)
	assert.Equal(t, []string{"c.go#c", "b.go#b"}, ids(sub.Nodes))

	sub, err = s.Neighbors(ctx, "c.go#c", nil, 1, WithDirection(DirectionOutgoing))
	require.NoError(t, err)
	assert.Equal(t, []string{"c.go#c", "d.go#d"}, ids(sub.Nodes))
}

func TestNeighbors_UnknownRootAndDanglingIDs(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddEdge("ghost#a", "real.go#b", EdgeKindCalls))
	require.NoError(t, s.AddNode(funcNode("real.go", "b", 1, 3)))

	sub, err := s.Neighbors(context.Background(), "ghost#a", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.go#b"}, ids(sub.Nodes))
	assert.Len(t, sub.Edges, 1)

	sub, err = s.Neighbors(context.Background(), "nothing", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, sub.Nodes)
	assert.Empty(t, sub.Edges)
}

func TestNeighbors_Cancelled(t *testing.T) {
	s := chainStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub, err := s.Neighbors(ctx, "a.go#a", nil, 3)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sub)
	assert.True(t, sub.Truncated)
}

func TestNeighbors_NodeLimit(t *testing.T) {
	s := chainStore(t)
	sub, err := s.Neighbors(context.Background(), "a.go#a", nil, 3, WithNodeLimit(2))
	require.NoError(t, err)
	assert.True(t, sub.Truncated)
	assert.Len(t, sub.Depth, 2)
}

func TestShortestPath(t *testing.T) {
	s := chainStore(t)
	ctx := context.Background()

	path, ok, err := s.ShortestPath(ctx, "a.go#a", "d.go#d", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a.go#a", "d.go#d"}, path)

	path, ok, err = s.ShortestPath(ctx, "a.go#a", "d.go#d", 5, WithEdgeKinds(EdgeKindCalls))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a.go#a", "b.go#b", "c.go#c", "d.go#d"}, path)

	_, ok, err = s.ShortestPath(ctx, "a.go#a", "d.go#d", 2, WithEdgeKinds(EdgeKindCalls))
	require.NoError(t, err)
	assert.False(t, ok, "three hops needed, two allowed")

	_, ok, err = s.ShortestPath(ctx, "d.go#d", "a.go#a", 5)
	require.NoError(t, err)
	assert.False(t, ok, "edges are followed forward by default")

	path, ok, err = s.ShortestPath(ctx, "d.go#d", "a.go#a", 5, WithDirection(DirectionBoth))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"d.go#d", "a.go#a"}, path)

	path, ok, err = s.ShortestPath(ctx, "b.go#b", "b.go#b", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b.go#b"}, path)

	_, ok, err = s.ShortestPath(ctx, "a.go#a", "zzz", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShortestPath_Cycle(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddEdge("x", "y", EdgeKindCalls))
	require.NoError(t, s.AddEdge("y", "x", EdgeKindCalls))
	require.NoError(t, s.AddEdge("y", "z", EdgeKindCalls))

	path, ok, err := s.ShortestPath(context.Background(), "x", "z", 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y", "z"}, path)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionBoth, d)

	d, err = ParseDirection("in")
	require.NoError(t, err)
	assert.Equal(t, DirectionIncoming, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
