// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/resilience"
)

// maxCaption is the caption limit of the bot API.
const maxCaption = 1024

// TelegramConfig configures a Telegram sender.
type TelegramConfig struct {
	BaseURL       string
	Token         string
	ChatID        string
	RatePerMinute int
	Timeout       time.Duration
}

// Telegram posts files to a chat through the bot API. Requests are rate
// limited and guarded by a circuit breaker.
type Telegram struct {
	base    string
	chatID  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

var _ Distributor = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram: token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Telegram{
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token,
		chatID: cfg.ChatID,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
		breaker: resilience.NewCircuitBreaker("telegram", 3, time.Minute),
		logger:  xglog.WithComponent("distribution.telegram"),
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Deliver sends each file as its own message. The caption goes with the first.
func (t *Telegram) Deliver(ctx context.Context, paths []string, caption string) bool {
	if len(paths) == 0 {
		return false
	}
	for i, p := range paths {
		c := ""
		if i == 0 {
			c = truncateCaption(caption)
		}
		err := t.breaker.Execute(ctx, func(ctx context.Context) error {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
			return t.send(ctx, p, c)
		})
		if err != nil {
			t.logger.Warn().Err(err).Str("event", "telegram.send_failed").Str(xglog.FieldArtifact, p).Msg("delivery failed")
			return false
		}
	}
	return true
}

func (t *Telegram) send(ctx context.Context, path, caption string) error {
	method, field := "sendDocument", "document"
	switch kindOf(path) {
	case mediaPhoto:
		method, field = "sendPhoto", "photo"
	case mediaVideo:
		method, field = "sendVideo", "video"
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", t.chatID)
	if caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/"+method, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return fmt.Errorf("%s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, body.Description)
	}
	return nil
}

func truncateCaption(s string) string {
	if utf8.RuneCountInString(s) <= maxCaption {
		return s
	}
	r := []rune(s)
	return string(r[:maxCaption-1]) + "…"
}
