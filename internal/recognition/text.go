// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ManuGH/tvscribe/internal/dedup"
)

const (
	minWords   = 2
	minLetters = 5
)

// Readable applies the readability floor: once every character that is not a
// letter or whitespace is removed, at least two words and five letters remain.
func Readable(text string) bool {
	var b strings.Builder
	letters := 0
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
			letters++
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return letters >= minLetters && len(strings.Fields(b.String())) >= minWords
}

// MatchKeywords returns the keywords present in text, sorted. Single-word
// keywords match whole tokens; multi-word keywords match a token sequence.
// Matching is case-insensitive.
func MatchKeywords(text string, keywords map[string]struct{}) []string {
	if len(keywords) == 0 {
		return nil
	}
	norm := dedup.Normalize(text)
	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(norm) {
		tokens[tok] = struct{}{}
	}
	padded := " " + norm + " "

	var hits []string
	for kw := range keywords {
		k := dedup.Normalize(kw)
		if k == "" {
			continue
		}
		if strings.Contains(k, " ") {
			if strings.Contains(padded, " "+k+" ") {
				hits = append(hits, kw)
			}
			continue
		}
		if _, ok := tokens[k]; ok {
			hits = append(hits, kw)
		}
	}
	sort.Strings(hits)
	return hits
}
