// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"fmt"
	"strings"
)

// Mode selects which signals a search uses.
type Mode int

const (
	// ModeHybrid fuses every available signal. It is the default.
	ModeHybrid Mode = iota

	// ModeLexical uses keyword search only.
	ModeLexical

	// ModeVector uses embedding search only.
	ModeVector

	// ModeGraph is hybrid search followed by seed selection and
	// relationship path discovery.
	ModeGraph
)

var modeNames = [...]string{
	ModeHybrid:  "hybrid",
	ModeLexical: "lexical",
	ModeVector:  "vector",
	ModeGraph:   "graph",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name case-insensitively. The empty string is hybrid.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeHybrid, nil
	}
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return ModeHybrid, fmt.Errorf("%w: unknown search mode %q", ErrInvalidRequest, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) useLexical() bool { return m != ModeVector }
func (m Mode) useVector() bool  { return m != ModeLexical }
func (m Mode) useGraph() bool   { return m == ModeHybrid || m == ModeGraph }
