// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package paths

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/graph"
)

func symbol(path, name string, st graph.SymbolType, start, end int) graph.GraphNode {
	return graph.GraphNode{
		ID:         graph.SymbolNodeID(path, name),
		Kind:       graph.NodeKindSymbol,
		Label:      name,
		FilePath:   path,
		StartLine:  start,
		EndLine:    end,
		SymbolType: st,
	}
}

func TestFindPaths_DefinesThenCalls(t *testing.T) {
	g := graph.NewStore()
	a := graph.GraphNode{ID: "a.rs", Kind: graph.NodeKindFile, Label: "a.rs", FilePath: "a.rs"}
	b := symbol("a.rs", "foo", graph.SymbolTypeFunction, 1, 10)
	c := symbol("b.rs", "bar", graph.SymbolTypeFunction, 1, 5)
	require.NoError(t, g.AddBatch(
		[]graph.GraphNode{a, b, c},
		[]graph.GraphEdge{
			{Source: a.ID, Target: b.ID, Kind: graph.EdgeKindDefines},
			{Source: b.ID, Target: c.ID, Kind: graph.EdgeKindCalls},
		},
	))

	paths := FindPaths(context.Background(), g, b.ID, BuilderConfig{MaxLength: 2, MaxPaths: 10})
	require.Len(t, paths, 1)
	assert.Equal(t, []string{b.ID, c.ID}, paths[0].NodeIDs())
	assert.Equal(t, []graph.EdgeKind{graph.EdgeKindCalls}, paths[0].EdgeKinds())
	assert.Equal(t, "a.rs#foo -calls-> b.rs#bar", paths[0].String())
}

func TestFindPaths_EmitsPrefixesInBFSOrder(t *testing.T) {
	g := graph.NewStore()
	for _, n := range []string{"s", "x", "y", "z"} {
		require.NoError(t, g.AddNode(symbol(n+".go", n, graph.SymbolTypeFunction, 1, 2)))
	}
	require.NoError(t, g.AddEdge("s.go#s", "x.go#x", graph.EdgeKindCalls))
	require.NoError(t, g.AddEdge("s.go#s", "y.go#y", graph.EdgeKindCalls))
	require.NoError(t, g.AddEdge("x.go#x", "z.go#z", graph.EdgeKindCalls))

	paths := FindPaths(context.Background(), g, "s.go#s", DefaultBuilderConfig())
	require.Len(t, paths, 3)
	assert.Equal(t, []string{"s.go#s", "x.go#x"}, paths[0].NodeIDs())
	assert.Equal(t, []string{"s.go#s", "y.go#y"}, paths[1].NodeIDs())
	assert.Equal(t, []string{"s.go#s", "x.go#x", "z.go#z"}, paths[2].NodeIDs())
}

func TestFindPaths_SkipsMissingTargetsAndStart(t *testing.T) {
	g := graph.NewStore()
	require.NoError(t, g.AddNode(symbol("a.go", "a", graph.SymbolTypeFunction, 1, 2)))
	require.NoError(t, g.AddEdge("a.go#a", "ghost.go#g", graph.EdgeKindCalls))

	assert.Empty(t, FindPaths(context.Background(), g, "a.go#a", DefaultBuilderConfig()))
	assert.Nil(t, FindPaths(context.Background(), g, "nope", DefaultBuilderConfig()))
}

func TestFindPaths_CycleFreeAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	kinds := graph.AllEdgeKinds()

	for iter := 0; iter < 40; iter++ {
		g := graph.NewStore()
		const n = 12
		for i := 0; i < n; i++ {
			require.NoError(t, g.AddNode(symbol(fmt.Sprintf("f%d.go", i%4), fmt.Sprintf("n%d", i), graph.SymbolTypeFunction, i+1, i+1)))
		}
		for e := 0; e < 40; e++ {
			src := graph.SymbolNodeID(fmt.Sprintf("f%d.go", 0), "n0")
			if e > 0 {
				i := rng.Intn(n)
				src = graph.SymbolNodeID(fmt.Sprintf("f%d.go", i%4), fmt.Sprintf("n%d", i))
			}
			j := rng.Intn(n)
			dst := graph.SymbolNodeID(fmt.Sprintf("f%d.go", j%4), fmt.Sprintf("n%d", j))
			require.NoError(t, g.AddEdge(src, dst, kinds[rng.Intn(len(kinds))]))
		}

		cfg := BuilderConfig{MaxLength: 1 + rng.Intn(5), MaxPaths: 1 + rng.Intn(60)}
		paths := FindPaths(context.Background(), g, "f0.go#n0", cfg)

		require.LessOrEqual(t, len(paths), cfg.MaxPaths)
		for _, p := range paths {
			require.GreaterOrEqual(t, p.Len(), 1)
			require.LessOrEqual(t, p.Len(), cfg.MaxLength)
			require.Len(t, p.Nodes, p.Len()+1)

			seen := make(map[string]struct{})
			for _, id := range p.NodeIDs() {
				_, dup := seen[id]
				require.False(t, dup, "repeated node %s in %s", id, p)
				seen[id] = struct{}{}
			}
			for i, e := range p.Edges {
				assert.Equal(t, p.Nodes[i].ID, e.Source)
				assert.Equal(t, p.Nodes[i+1].ID, e.Target)
			}
		}
	}
}

func TestFindPaths_BudgetStopsGlobally(t *testing.T) {
	g := graph.NewStore()
	require.NoError(t, g.AddNode(symbol("hub.go", "hub", graph.SymbolTypeFunction, 1, 2)))
	for i := 0; i < 10; i++ {
		leaf := symbol(fmt.Sprintf("l%d.go", i), "leaf", graph.SymbolTypeFunction, 1, 2)
		require.NoError(t, g.AddNode(leaf))
		require.NoError(t, g.AddEdge("hub.go#hub", leaf.ID, graph.EdgeKindCalls))
	}
	paths := FindPaths(context.Background(), g, "hub.go#hub", BuilderConfig{MaxLength: 3, MaxPaths: 4})
	assert.Len(t, paths, 4)
}

func TestFindPaths_EmittedPathsAreNotAliased(t *testing.T) {
	g := graph.NewStore()
	for _, n := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(symbol(n+".go", n, graph.SymbolTypeFunction, 1, 2)))
	}
	require.NoError(t, g.AddEdge("a.go#a", "b.go#b", graph.EdgeKindCalls))
	require.NoError(t, g.AddEdge("b.go#b", "c.go#c", graph.EdgeKindCalls))
	require.NoError(t, g.AddEdge("b.go#b", "d.go#d", graph.EdgeKindCalls))

	paths := FindPaths(context.Background(), g, "a.go#a", DefaultBuilderConfig())
	require.Len(t, paths, 3)
	assert.Equal(t, []string{"a.go#a", "b.go#b"}, paths[0].NodeIDs())
	assert.Equal(t, []string{"a.go#a", "b.go#b", "c.go#c"}, paths[1].NodeIDs())
	assert.Equal(t, []string{"a.go#a", "b.go#b", "d.go#d"}, paths[2].NodeIDs())
}

func TestFindPathsFrom(t *testing.T) {
	g := graph.NewStore()
	for _, n := range []string{"a", "b"} {
		require.NoError(t, g.AddNode(symbol(n+".go", n, graph.SymbolTypeFunction, 1, 2)))
	}
	require.NoError(t, g.AddEdge("a.go#a", "b.go#b", graph.EdgeKindCalls))
	require.NoError(t, g.AddEdge("b.go#b", "a.go#a", graph.EdgeKindCalls))

	paths := FindPathsFrom(context.Background(), g, []string{"a.go#a", "b.go#b"}, BuilderConfig{MaxLength: 1, MaxPaths: 5})
	require.Len(t, paths, 2)
	assert.Equal(t, "a.go#a", paths[0].Nodes[0].ID)
	assert.Equal(t, "b.go#b", paths[1].Nodes[0].ID)
}

func TestBuilderConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultBuilderConfig().Validate())
	assert.ErrorIs(t, BuilderConfig{MaxLength: 0, MaxPaths: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, BuilderConfig{MaxLength: 1, MaxPaths: 0}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, BuilderConfig{MaxLength: 1000, MaxPaths: 1e9}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, BuilderConfig{MaxLength: MaxPathLength + 1, MaxPaths: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, BuilderConfig{MaxLength: 1, MaxPaths: MaxPathCount + 1}.Validate(), ErrInvalidConfig)
	require.NoError(t, BuilderConfig{MaxLength: MaxPathLength, MaxPaths: MaxPathCount}.Validate())
}

// readerOnly hides graph.Store's Read so FindPaths takes the per-call path.
type readerOnly struct{ GraphReader }

func TestFindPaths_ClampsOversizedBounds(t *testing.T) {
	g := graph.NewStore()
	const n = MaxPathLength + 4
	for i := 0; i < n; i++ {
		require.NoError(t, g.AddNode(symbol(fmt.Sprintf("f%d.go", i), "s", graph.SymbolTypeFunction, 1, 2)))
		if i > 0 {
			require.NoError(t, g.AddEdge(fmt.Sprintf("f%d.go#s", i-1), fmt.Sprintf("f%d.go#s", i), graph.EdgeKindCalls))
		}
	}

	for name, reader := range map[string]GraphReader{"store": g, "reader": readerOnly{g}} {
		t.Run(name, func(t *testing.T) {
			found := FindPaths(context.Background(), reader, "f0.go#s", BuilderConfig{MaxLength: 1000, MaxPaths: 1e9})
			require.Len(t, found, MaxPathLength)
			assert.Equal(t, MaxPathLength, found[len(found)-1].Len())
		})
	}
}
