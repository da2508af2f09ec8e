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
	"path"
	"strings"
)

// symbolSeparator splits a symbol id into file path and local name.
const symbolSeparator = "#"

// FileNodeID returns the node id for a file. The path is cleaned and uses
// forward slashes so ids are stable across platforms.
func FileNodeID(filePath string) string {
	return normalizePath(filePath)
}

// SymbolNodeID returns the node id for a symbol within a file.
//
// Example:
//
//	SymbolNodeID("pkg/auth/login.go", "Login") == "pkg/auth/login.go#Login"
func SymbolNodeID(filePath, localName string) string {
	return normalizePath(filePath) + symbolSeparator + localName
}

// SymbolNodeIDWithRange disambiguates overloaded or repeated local names
// by appending the line span.
func SymbolNodeIDWithRange(filePath, localName string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d-%d", SymbolNodeID(filePath, localName), startLine, endLine)
}

// SplitNodeID splits an id into its file path and local symbol name. For
// file ids local is empty and ok is false.
func SplitNodeID(id string) (filePath, local string, ok bool) {
	idx := strings.Index(id, symbolSeparator)
	if idx < 0 {
		return id, "", false
	}
	return id[:idx], id[idx+len(symbolSeparator):], true
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
