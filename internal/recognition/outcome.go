// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recognition turns captured artifacts into accepted texts or typed
// rejections. Deciding and disposing are separate: Pipeline.Process never
// touches the filesystem, Disposer does.
package recognition

import (
	"context"
	"errors"
	"image"
	"time"
)

// Kind is the decision taken for one artifact.
type Kind int

const (
	Accepted Kind = iota
	RejectedUnreadable
	RejectedDuplicate
	RejectedNoKeyword
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case RejectedUnreadable:
		return "unreadable"
	case RejectedDuplicate:
		return "duplicate"
	case RejectedNoKeyword:
		return "no_keyword"
	}
	return "unknown"
}

// Artifact is a captured image or clip waiting for a decision.
type Artifact struct {
	Path    string
	Channel string
	// Source is "frame", "clip" or "segment".
	Source string
	At     time.Time
	// Image is the decoded frame when available; it enables the frame-hash gate.
	Image image.Image
}

// Outcome is the result of Process.
type Outcome struct {
	Kind Kind
	// Text is the corrected text; Raw the recognizer output.
	Text     string
	Raw      string
	Keywords []string
	Reason   string
}

// Recognition is a recognizer answer.
type Recognition struct {
	Text       string
	Confidence float64
}

// Segment is a transcribed time window in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ErrUnsupported is returned by backends without transcription.
var ErrUnsupported = errors.New("operation not supported by recognizer")

// Recognizer is the OCR/transcription collaborator.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (Recognition, error)
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}

// Verdict is an external readability judgement.
type Verdict struct {
	Readable  bool   `json:"readable"`
	Corrected string `json:"corrected"`
}

// Judge optionally confirms readability and corrects the text.
type Judge interface {
	Judge(ctx context.Context, text string) (Verdict, error)
}

// DuplicateIndex is the duplicate text index.
type DuplicateIndex interface {
	IsDuplicate(ctx context.Context, text, channel string) bool
	Admit(ctx context.Context, text, channel string) error
}

// KeywordSource returns the current lowercase keyword set.
type KeywordSource interface {
	Keywords() map[string]struct{}
}
