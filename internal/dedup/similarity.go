// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package dedup decides whether recognized text has already been accepted
// today, within this run or a previous one.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds case and compatibility forms, replaces everything that is not
// a letter or digit with a space and collapses runs of whitespace.
func Normalize(s string) string {
	// Casers are stateful and not safe for concurrent use.
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Hash returns a stable content hash of the normalized text.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Similarity compares two strings and returns a ratio in [0,1].
type Similarity func(a, b string) float64

// NormalizedRatio is Ratio applied to the normalized forms of a and b.
func NormalizedRatio(a, b string) float64 {
	return Ratio(Normalize(a), Normalize(b))
}

// Ratio returns 2*M/T where M is the number of runes in matching blocks found
// by recursive longest-common-substring matching and T the total rune count.
// Identical strings score 1.0 and strings without common runes 0.0. The pair is
// ordered before matching so Ratio(a, b) == Ratio(b, a).
func Ratio(a, b string) float64 {
	if a > b {
		a, b = b, a
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingRunes(ra, rb)) / float64(total)
}

func matchingRunes(a, b []rune) int {
	index := make(map[rune][]int, len(b))
	for j, r := range b {
		index[r] = append(index[r], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	matched := 0
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, index, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] inside the given
// bounds, preferring the earliest block in a, then in b.
func longestMatch(a []rune, index map[rune][]int, alo, ahi, blo, bhi int) (int, int, int) {
	bestI, bestJ, bestK := alo, blo, 0
	lengths := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range index[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := lengths[j-1] + 1
			next[j] = k
			if k > bestK {
				bestI, bestJ, bestK = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return bestI, bestJ, bestK
}
