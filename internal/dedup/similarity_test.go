// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Открытие завода в Москве.", "открытие завода в москве"},
		{"  BREAKING:   news!!  ", "breaking news"},
		{"ＡＢＣ 123", "abc 123"},
		{"...", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestRatio_Bounds(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("abc", "abc"))
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))
	assert.Equal(t, 0.0, Ratio("abc", ""))
	// difflib reference: SequenceMatcher(None, "abcd", "bcde").ratio() == 0.75
	assert.InDelta(t, 0.75, Ratio("abcd", "bcde"), 1e-9)
}

func TestRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"открытие завода", "закрытие завода в москве"},
		{"abxcd", "abcd"},
		{"tide", "diet"},
		{"ticker repeats every", "every ticker repeats"},
	}
	for _, p := range pairs {
		assert.Equal(t, Ratio(p[0], p[1]), Ratio(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestNormalizedRatio_TrailingPunctuation(t *testing.T) {
	r := NormalizedRatio("Открытие завода в Москве", "Открытие завода в Москве.")
	assert.Equal(t, 1.0, r)
}

func TestHash_StableAcrossPunctuation(t *testing.T) {
	assert.Equal(t, Hash("Hello, World"), Hash("hello world!"))
	assert.NotEqual(t, Hash("hello"), Hash("world"))
}
