// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvscribe/internal/capture"
)

func encodePNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(0, 0, color.Gray{Y: shade})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeLoop_KeepsLatestFrame(t *testing.T) {
	var stream bytes.Buffer
	for _, shade := range []uint8{10, 20, 30} {
		stream.Write(encodePNG(t, shade))
	}
	s := newFrameSlot(time.Second)
	decodeLoop(&stream, s)

	img, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(30), img.(*image.Gray).GrayAt(0, 0).Y)

	// No newer frame: the read times out instead of returning the same frame.
	s.timeout = 50 * time.Millisecond
	_, err = s.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestFrameSlot_WakesOnNewFrameAndFailure(t *testing.T) {
	s := newFrameSlot(time.Second)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.put(image.NewGray(image.Rect(0, 0, 1, 1)))
	}()
	img, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, img)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.fail(errors.New("decoder exited"))
	}()
	_, err = s.ReadFrame(context.Background())
	assert.EqualError(t, err, "decoder exited")
}

func TestFrameSlot_Cancel(t *testing.T) {
	s := newFrameSlot(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpener_FakeDecoder(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(framePath, encodePNG(t, 99), 0o644))
	bin := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\ncat "+framePath+"\nsleep 30\n"), 0o755))

	o := &Opener{Bin: bin, ReadTimeout: 2 * time.Second, KillTimeout: time.Second}
	s, err := o.Open(context.Background(), "http://example/live")
	require.NoError(t, err)

	img, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(99), img.(*image.Gray).GrayAt(0, 0).Y)

	require.NoError(t, s.Close())
	_, err = s.ReadFrame(context.Background())
	assert.ErrorIs(t, err, capture.ErrStreamClosed)
	require.NoError(t, s.Close())
}

func TestDecoderArgs(t *testing.T) {
	args := decoderArgs("http://x", 0)
	assert.Contains(t, args, "fps=1")
	assert.Equal(t, "-", args[len(args)-1])
}
