// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package log holds the zerolog base logger and the field names every
// component logs with.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	channelKey
)

// ContextWithJobID tags ctx with a recording job id.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(orBackground(ctx), jobIDKey, id)
}

// ContextWithChannel tags ctx with a channel name.
func ContextWithChannel(ctx context.Context, name string) context.Context {
	return context.WithValue(orBackground(ctx), channelKey, name)
}

func JobIDFromContext(ctx context.Context) string   { return stringValue(ctx, jobIDKey) }
func ChannelFromContext(ctx context.Context) string { return stringValue(ctx, channelKey) }

// WithContext adds the job id and channel carried by ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	jid, ch := JobIDFromContext(ctx), ChannelFromContext(ctx)
	if jid == "" && ch == "" {
		return logger
	}
	b := logger.With()
	if jid != "" {
		b = b.Str(FieldJobID, jid)
	}
	if ch != "" {
		b = b.Str(FieldChannel, ch)
	}
	return b.Logger()
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
