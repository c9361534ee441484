// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"image"
	"image/draw"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/channels"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Preprocess crops img to rect. A zero rect returns img. A rect that does not
// fit inside the frame returns the unmodified frame and logs one warning.
func Preprocess(img image.Image, rect channels.Rect, logger zerolog.Logger) image.Image {
	if img == nil || rect.IsZero() {
		return img
	}
	bounds := img.Bounds()
	r := rect.Image().Add(bounds.Min)
	if rect.Width <= 0 || rect.Height <= 0 || rect.X < 0 || rect.Y < 0 || !r.In(bounds) {
		logger.Warn().
			Str("event", "capture.crop_clamped").
			Str("crop", rect.String()).
			Int("frame_width", bounds.Dx()).
			Int("frame_height", bounds.Dy()).
			Msg("crop rectangle exceeds frame, using full frame")
		return img
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
