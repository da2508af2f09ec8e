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
	"fmt"
	"strings"
)

// NodeKind identifies what a node represents.
type NodeKind int

const (
	// NodeKindUnknown is the zero value and never valid on a stored node.
	NodeKindUnknown NodeKind = iota

	// NodeKindFile is a source file.
	NodeKindFile

	// NodeKindSymbol is a named code entity (function, class, method, ...).
	NodeKindSymbol
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindFile:
		return "file"
	case NodeKindSymbol:
		return "symbol"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "file":
		*k = NodeKindFile
	case "symbol":
		*k = NodeKindSymbol
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidNode, string(text))
	}
	return nil
}

// EdgeKind defines the type of relationship between two nodes.
type EdgeKind int

const (
	// EdgeKindUnknown is the zero value and never valid on a stored edge.
	EdgeKindUnknown EdgeKind = iota

	// EdgeKindDefines indicates a file (or enclosing symbol) defines a symbol.
	EdgeKindDefines

	// EdgeKindCalls indicates a function or method calls another.
	EdgeKindCalls

	// EdgeKindImports indicates a file imports another file or module.
	EdgeKindImports

	// EdgeKindContains indicates structural containment (class contains method).
	EdgeKindContains

	// NumEdgeKinds is the number of edge kinds, for array sizing.
	NumEdgeKinds
)

var edgeKindNames = [NumEdgeKinds]string{
	EdgeKindUnknown:  "unknown",
	EdgeKindDefines:  "defines",
	EdgeKindCalls:    "calls",
	EdgeKindImports:  "imports",
	EdgeKindContains: "contains",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if k < 0 || k >= NumEdgeKinds {
		return "unknown"
	}
	return edgeKindNames[k]
}

// Valid reports whether k is one of the concrete edge kinds.
func (k EdgeKind) Valid() bool {
	return k > EdgeKindUnknown && k < NumEdgeKinds
}

// ParseEdgeKind converts a name such as "calls" into an EdgeKind.
//
// Matching is case-insensitive. Returns ErrInvalidEdge for unknown names.
func ParseEdgeKind(s string) (EdgeKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k := EdgeKindDefines; k < NumEdgeKinds; k++ {
		if edgeKindNames[k] == name {
			return k, nil
		}
	}
	return EdgeKindUnknown, fmt.Errorf("%w: unknown edge kind %q", ErrInvalidEdge, s)
}

// AllEdgeKinds returns every concrete edge kind in declaration order.
func AllEdgeKinds() []EdgeKind {
	kinds := make([]EdgeKind, 0, NumEdgeKinds-1)
	for k := EdgeKindDefines; k < NumEdgeKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// MarshalText implements encoding.TextMarshaler so edge kinds can be used
// as map keys in YAML and JSON configuration.
func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EdgeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEdgeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SymbolType refines a Symbol node. It drives the seed selector's type
// preference (functions over classes over everything else).
type SymbolType int

const (
	// SymbolTypeNone is used for File nodes and symbols of unreported type.
	SymbolTypeNone SymbolType = iota
	SymbolTypeFunction
	SymbolTypeMethod
	SymbolTypeClass
	SymbolTypeInterface
	SymbolTypeVariable
	SymbolTypeModule
	SymbolTypeOther
)

var symbolTypeNames = map[SymbolType]string{
	SymbolTypeNone:      "none",
	SymbolTypeFunction:  "function",
	SymbolTypeMethod:    "method",
	SymbolTypeClass:     "class",
	SymbolTypeInterface: "interface",
	SymbolTypeVariable:  "variable",
	SymbolTypeModule:    "module",
	SymbolTypeOther:     "other",
}

// String returns the string representation of the SymbolType.
func (t SymbolType) String() string {
	if name, ok := symbolTypeNames[t]; ok {
		return name
	}
	return "other"
}

// MarshalText implements encoding.TextMarshaler.
func (t SymbolType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognised names
// map to SymbolTypeOther rather than failing, since extractors report a
// wide vocabulary of kinds ("struct", "trait", "enum", ...).
func (t *SymbolType) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	switch name {
	case "", "none":
		*t = SymbolTypeNone
	case "function", "fn", "func":
		*t = SymbolTypeFunction
	case "method":
		*t = SymbolTypeMethod
	case "class", "struct":
		*t = SymbolTypeClass
	case "interface", "trait":
		*t = SymbolTypeInterface
	case "variable", "const", "constant", "field":
		*t = SymbolTypeVariable
	case "module", "package", "namespace":
		*t = SymbolTypeModule
	default:
		*t = SymbolTypeOther
	}
	return nil
}

// GraphNode is a file or symbol in the code graph.
//
// StartLine and EndLine are 1-based and inclusive. Zero means "not set";
// File nodes never carry a line range.
type GraphNode struct {
	// ID is the stable, unique node key. See FileNodeID and SymbolNodeID.
	ID string `json:"id" yaml:"id"`

	// Kind is File or Symbol.
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Label is the display name (file base name or symbol name).
	Label string `json:"label" yaml:"label"`

	// FilePath is the repository-relative path of the owning file.
	FilePath string `json:"file_path" yaml:"file_path"`

	// StartLine is the first line of a symbol's span (0 if unset).
	StartLine int `json:"start_line,omitempty" yaml:"start_line,omitempty"`

	// EndLine is the last line of a symbol's span (0 if unset).
	EndLine int `json:"end_line,omitempty" yaml:"end_line,omitempty"`

	// SymbolType refines Symbol nodes. SymbolTypeNone for files.
	SymbolType SymbolType `json:"symbol_type,omitempty" yaml:"symbol_type,omitempty"`

	// CanonicalID deduplicates the same logical entity across rebuilds.
	CanonicalID string `json:"canonical_id,omitempty" yaml:"canonical_id,omitempty"`
}

// HasLines reports whether the node carries a line range.
func (n GraphNode) HasLines() bool {
	return n.StartLine > 0 && n.EndLine >= n.StartLine
}

// Validate checks the node's structural invariants.
func (n GraphNode) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if n.Kind != NodeKindFile && n.Kind != NodeKindSymbol {
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidNode, n.ID, int(n.Kind))
	}
	if n.StartLine < 0 || n.EndLine < 0 {
		return fmt.Errorf("%w: %s has negative line numbers", ErrInvalidNode, n.ID)
	}
	if n.StartLine > 0 && n.EndLine > 0 && n.EndLine < n.StartLine {
		return fmt.Errorf("%w: %s has end line %d before start line %d",
			ErrInvalidNode, n.ID, n.EndLine, n.StartLine)
	}
	return nil
}

// GraphEdge is a directed relationship between two node ids.
//
// GraphEdge is comparable; the store treats (Source, Target, Kind) as the
// edge's identity, so adding the same edge twice is a no-op.
type GraphEdge struct {
	Source string   `json:"source" yaml:"source"`
	Target string   `json:"target" yaml:"target"`
	Kind   EdgeKind `json:"kind" yaml:"kind"`
}

// Validate checks the edge's structural invariants.
func (e GraphEdge) Validate() error {
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("%w: empty endpoint (%q -> %q)", ErrInvalidEdge, e.Source, e.Target)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %s -> %s has unknown kind %d", ErrInvalidEdge, e.Source, e.Target, int(e.Kind))
	}
	return nil
}

// Other returns the endpoint of e that is not id. If id is neither
// endpoint, Target is returned.
func (e GraphEdge) Other(id string) string {
	if e.Target == id {
		return e.Source
	}
	return e.Target
}

// Subgraph is the result of a neighborhood expansion.
type Subgraph struct {
	// Root is the id the expansion started from.
	Root string `json:"root"`

	// Nodes contains every existing node reached, including Root if it
	// exists, in breadth-first discovery order.
	Nodes []GraphNode `json:"nodes"`

	// Edges contains every edge traversed, in discovery order.
	Edges []GraphEdge `json:"edges"`

	// Depth maps each reached node id to its hop distance from Root.
	Depth map[string]int `json:"depth"`

	// Truncated is true if the context was cancelled before the expansion
	// finished.
	Truncated bool `json:"truncated,omitempty"`
}

// Direction selects which edges a traversal follows.
type Direction int

const (
	// DirectionOutgoing follows edges from source to target.
	DirectionOutgoing Direction = iota

	// DirectionIncoming follows edges from target to source.
	DirectionIncoming

	// DirectionBoth follows edges either way.
	DirectionBoth
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	case DirectionBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseDirection converts "outgoing", "incoming" or "both" into a Direction.
// The empty string maps to DirectionBoth.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "out", "outgoing":
		return DirectionOutgoing, nil
	case "in", "incoming":
		return DirectionIncoming, nil
	case "", "both":
		return DirectionBoth, nil
	default:
		return DirectionBoth, fmt.Errorf("unknown direction %q", s)
	}
}

// Stats summarises the contents of a Store.
type Stats struct {
	NodeCount     int             `json:"node_count"`
	EdgeCount     int             `json:"edge_count"`
	FileCount     int             `json:"file_count"`
	NodesByKind   map[string]int  `json:"nodes_by_kind"`
	EdgesByKind   map[string]int  `json:"edges_by_kind"`
	SymbolsByType map[string]int  `json:"symbols_by_type"`
	DanglingEdges int             `json:"dangling_edges"`
	SnapshotPath  string          `json:"snapshot_path,omitempty"`
	LargestFiles  []FileNodeCount `json:"largest_files,omitempty"`
}

// FileNodeCount pairs a file path with the number of nodes it owns.
type FileNodeCount struct {
	FilePath string `json:"file_path"`
	Nodes    int    `json:"nodes"`
}
