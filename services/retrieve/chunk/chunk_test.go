// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StableIDs(t *testing.T) {
	a := New("pkg/a.go", "go", 3, 9, "func A() {}", "pkg", "A")
	b := New("pkg/a.go", "go", 3, 9, "func A() {}", "pkg", "A")
	c := New("pkg/a.go", "go", 3, 9, "func A() { return }")

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, a.ID, 32)
	assert.Equal(t, HashContent("func A() {}"), a.ContentHash)
	assert.Equal(t, "pkg.A", a.Scope())
	require.NoError(t, a.Validate())
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Chunk{}.Validate(), ErrInvalidChunk)
	assert.ErrorIs(t, Chunk{ID: "x"}.Validate(), ErrInvalidChunk)
	assert.ErrorIs(t, Chunk{ID: "x", FilePath: "a", StartLine: 5, EndLine: 2}.Validate(), ErrInvalidChunk)
}

func TestOverlap(t *testing.T) {
	c := Chunk{StartLine: 10, EndLine: 20}
	assert.Equal(t, 11, c.Overlap(1, 100))
	assert.Equal(t, 1, c.Overlap(20, 30))
	assert.Equal(t, 0, c.Overlap(21, 30))
	assert.Equal(t, 3, c.Overlap(12, 14))
}

func TestSummaryCovers(t *testing.T) {
	c := Chunk{ID: "c1", FilePath: "a.go"}
	assert.True(t, Summary{ChunkID: "c1"}.Covers(c))
	assert.False(t, Summary{ChunkID: "c2", FilePath: "a.go"}.Covers(c))
	assert.True(t, Summary{FilePath: "a.go"}.Covers(c))
	assert.False(t, Summary{FilePath: "b.go"}.Covers(c))
	assert.False(t, Summary{}.Covers(c))
}

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "a.go", CleanPath("./a.go"))
	assert.Equal(t, "pkg/a.go", CleanPath(`pkg\a.go`))
	assert.Equal(t, "pkg/a.go", CleanPath("pkg//sub/../a.go"))
	assert.Equal(t, "", CleanPath(""))

	c := New("./pkg/a.go", "go", 1, 1, "x")
	assert.Equal(t, "pkg/a.go", c.FilePath)
	assert.Equal(t, New("pkg/a.go", "go", 1, 1, "x").ID, c.ID)
}
