// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// AccessLog logs one line per request.
func AccessLog() func(http.Handler) http.Handler {
	logger := xglog.WithComponent("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			evt := logger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				evt = logger.Warn()
			}
			evt.Str("event", "api.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", chimw.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}
