// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases text and splits it into identifier-aware terms.
//
// Runs of letters and digits form words; camelCase and snake_case words
// are also split into their parts, and both the whole word and the parts
// are emitted: "parseHTTPRequest" yields parsehttprequest, parse, http,
// request. Terms shorter than two characters are dropped.
func Tokenize(text string) []string {
	var terms []string
	emit := func(t string) {
		if len(t) >= 2 {
			terms = append(terms, strings.ToLower(t))
		}
	}

	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		parts := splitIdentifier(word)
		whole := strings.Trim(word, "_")
		emit(whole)
		if len(parts) > 1 {
			for _, p := range parts {
				emit(p)
			}
		}
	}
	return terms
}

// splitIdentifier breaks snake_case and camelCase (including acronyms
// such as "HTTPServer" -> HTTP, Server) into parts.
func splitIdentifier(word string) []string {
	var parts []string
	for _, seg := range strings.Split(word, "_") {
		if seg == "" {
			continue
		}
		runes := []rune(seg)
		start := 0
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			boundary := false
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(cur):
				boundary = true
			case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				boundary = true
			case unicode.IsLetter(prev) != unicode.IsLetter(cur):
				boundary = true
			}
			if boundary {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}
