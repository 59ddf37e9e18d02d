// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunking splits extracted text into overlapping windows.
//
// All sizes are in runes so a window never cuts a UTF-8 sequence in half.
// The functions are pure: the same input always yields the same windows.
package chunking

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSize is the default window length in runes.
	DefaultSize = 1000

	// DefaultOverlap is the default number of runes shared by consecutive windows.
	DefaultOverlap = 200
)

// Window is one chunk of text with its position in the source.
type Window struct {
	Ordinal int
	Text    string
	// Page is the 1-based page the window came from, 0 for unpaged text.
	Page int
	// Offset is the rune offset of the window's first rune within its page.
	Offset int
}

// Page is a unit of extracted text carrying its page number.
type Page struct {
	Number int
	Text   string
}

// Params normalizes size and overlap: a non-positive size becomes
// DefaultSize, a negative overlap becomes 0 and an overlap at or above size
// is clamped to size-1 so every window advances by at least one rune.
func Params(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return size, overlap
}

// Split cuts text into windows of at most size runes, each starting
// size-overlap runes after the previous one. With overlap 0, concatenating
// the windows in ordinal order reproduces text exactly.
func Split(text string, size, overlap int) []Window {
	return splitFrom(text, size, overlap, 0, 0)
}

func splitFrom(text string, size, overlap, page, firstOrdinal int) []Window {
	if text == "" {
		return nil
	}
	size, overlap = Params(size, overlap)
	step := size - overlap

	r := []rune(text)
	out := make([]Window, 0, len(r)/step+1)
	for start := 0; start < len(r); start += step {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, Window{
			Ordinal: firstOrdinal + len(out),
			Text:    string(r[start:end]),
			Page:    page,
			Offset:  start,
		})
		if end == len(r) {
			break
		}
	}
	return out
}

// SplitPages splits each page independently so no window spans a page
// break. Ordinals run continuously across pages. Blank windows are dropped.
func SplitPages(pages []Page, size, overlap int) []Window {
	var out []Window
	for _, p := range pages {
		for _, w := range splitFrom(p.Text, size, overlap, p.Number, 0) {
			if strings.TrimSpace(w.Text) == "" {
				continue
			}
			w.Ordinal = len(out)
			out = append(out, w)
		}
	}
	return out
}

// Join reassembles windows produced by Split with the given overlap.
func Join(windows []Window, overlap int) string {
	var b strings.Builder
	for i, w := range windows {
		if i == 0 || overlap <= 0 {
			b.WriteString(w.Text)
			continue
		}
		// Skip the runes already written by the previous window.
		skip := overlap
		text := w.Text
		for skip > 0 && text != "" {
			_, n := utf8.DecodeRuneInString(text)
			text = text[n:]
			skip--
		}
		b.WriteString(text)
	}
	return b.String()
}
