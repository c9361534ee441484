// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/tvscribe/internal/resilience"
)

// HTTPRecognizer talks to a remote inference service:
//
//	POST {base}/recognize   multipart "file" -> {"text","confidence"}
//	POST {base}/transcribe  multipart "file" -> {"segments":[{"start","end","text"}]}
//	POST {base}/judge       {"text"}         -> {"readable","corrected"}
//
// Calls go through a circuit breaker so an unavailable service fails fast.
type HTTPRecognizer struct {
	base    string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPRecognizer creates a client for base with a per-request timeout.
func NewHTTPRecognizer(base string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRecognizer{
		base: strings.TrimRight(base, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: resilience.NewCircuitBreaker("recognizer", 5, 30*time.Second),
	}
}

var (
	_ Recognizer = (*HTTPRecognizer)(nil)
	_ Judge      = (*HTTPRecognizer)(nil)
)

func (h *HTTPRecognizer) Recognize(ctx context.Context, imagePath string) (Recognition, error) {
	var out Recognition
	var body struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.upload(ctx, "/recognize", imagePath, &body)
	})
	if err != nil {
		return out, err
	}
	return Recognition{Text: body.Text, Confidence: body.Confidence}, nil
}

func (h *HTTPRecognizer) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	var body struct {
		Segments []Segment `json:"segments"`
	}
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.upload(ctx, "/transcribe", audioPath, &body)
	})
	return body.Segments, err
}

func (h *HTTPRecognizer) Judge(ctx context.Context, text string) (Verdict, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Verdict{}, err
	}
	return resilience.Call(ctx, h.breaker, func(ctx context.Context) (Verdict, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/judge", bytes.NewReader(payload))
		if err != nil {
			return Verdict{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		var v Verdict
		return v, h.do(req, &v)
	})
}

func (h *HTTPRecognizer) upload(ctx context.Context, endpoint, path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req, out)
}

func (h *HTTPRecognizer) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
